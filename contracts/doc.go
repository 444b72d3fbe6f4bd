// Package contracts provides the shared vocabulary of the mmate-jms messaging layer.
//
// This package defines:
//   - Destination: Topic and TemporaryTopic (queues are not supported)
//   - DeliveryMode: Persistent and NonPersistent publication paths
//   - AckMode: session acknowledgment policies
//   - The error taxonomy returned by every other package (ErrNotReadable, ErrNotWritable,
//     ErrFormatMismatch, ErrUnexpectedEnd, ErrInvalidArgument, ErrUnsupportedOperation,
//     ErrIllegalState, ErrInvalidDestination)
//
// Errors are always wrapped, so callers test them with errors.Is.
package contracts
