// Package memory implements transport.Participant as an in-process data space.
//
// Every Participant created from the same Domain sees the same topics. Readers keep their
// samples in a local cache until they are taken; TransientLocal writers additionally append to a
// bounded per-topic history that is replayed to TransientLocal readers created later.
//
// The bridges in transport/rabbitmq and transport/nats use a private Domain as the reader cache
// and feed it through Domain.Deliver.
package memory
