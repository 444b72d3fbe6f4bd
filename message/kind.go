package message

import "fmt"

// Kind selects which typed accessor surface a message body exposes
type Kind int

const (
	KindBytes Kind = iota + 1
	KindMap
	KindStream
	KindText
	KindObject
)

// String implements fmt.Stringer
func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindMap:
		return "map"
	case KindStream:
		return "stream"
	case KindText:
		return "text"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Char is a 16-bit character value. It is its own type so that it is never confused with
// int32 during coercion.
type Char uint16

// String returns the character as a one-rune string
func (c Char) String() string {
	return string(rune(c))
}
