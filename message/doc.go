// Package message implements the message envelope and its five body kinds.
//
// Every message carries a Header, a typed Properties bag and exactly one body:
//   - BytesMessage: a big-endian stream of primitive values
//   - MapMessage: named, typed entries
//   - StreamMessage: an ordered sequence of typed values read back sequentially
//   - TextMessage: a string
//   - ObjectMessage: a value serialized when it is set
//
// A BodyState attached to each envelope decides whether the body can currently be read or
// written. Freshly created bytes and stream bodies start WriteOnly and become ReadOnly after
// Reset; text, map and object bodies start Writable. Messages rebuilt by Decode start
// ReadOnly (bytes, stream) or NonWritable (text, map, object). ClearBody always returns the
// body to its fresh state.
//
// Typed getters apply the usual coercion rules: every scalar converts to string, strings
// parse into any scalar, integers widen, float widens to double. Anything else fails with
// contracts.ErrFormatMismatch.
package message
