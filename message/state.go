package message

import (
	"fmt"

	"github.com/glimte/mmate-jms/contracts"
)

// BodyState governs whether a message body may currently be read or written
type BodyState int

const (
	// Writable bodies can be read and written
	Writable BodyState = iota
	// ReadOnly bodies can be read; MakeWritable moves them to WriteOnly
	ReadOnly
	// WriteOnly bodies can be written; MakeReadable moves them to ReadOnly
	WriteOnly
	// NonWritable bodies are readable but sealed; MakeWritable moves them to Writable
	NonWritable
)

// String implements fmt.Stringer
func (s BodyState) String() string {
	switch s {
	case Writable:
		return "writable"
	case ReadOnly:
		return "read_only"
	case WriteOnly:
		return "write_only"
	case NonWritable:
		return "non_writable"
	default:
		return fmt.Sprintf("BodyState(%d)", int(s))
	}
}

// StateOp is an operation applied to a BodyState
type StateOp int

const (
	MakeReadable StateOp = iota
	MakeWritable
	CheckReadable
	CheckWritable
)

// String implements fmt.Stringer
func (op StateOp) String() string {
	switch op {
	case MakeReadable:
		return "make_readable"
	case MakeWritable:
		return "make_writable"
	case CheckReadable:
		return "check_readable"
	case CheckWritable:
		return "check_writable"
	default:
		return fmt.Sprintf("StateOp(%d)", int(op))
	}
}

type transition struct {
	next BodyState
	err  error
}

// stateTable is the complete transition table. Checks never change the state.
var stateTable = map[BodyState]map[StateOp]transition{
	Writable: {
		MakeReadable:  {next: Writable},
		MakeWritable:  {next: Writable},
		CheckReadable: {next: Writable},
		CheckWritable: {next: Writable},
	},
	WriteOnly: {
		MakeReadable:  {next: ReadOnly},
		MakeWritable:  {next: WriteOnly},
		CheckReadable: {next: WriteOnly, err: contracts.ErrNotReadable},
		CheckWritable: {next: WriteOnly},
	},
	ReadOnly: {
		MakeReadable:  {next: ReadOnly},
		MakeWritable:  {next: WriteOnly},
		CheckReadable: {next: ReadOnly},
		CheckWritable: {next: ReadOnly, err: contracts.ErrNotWritable},
	},
	NonWritable: {
		MakeReadable:  {next: NonWritable},
		MakeWritable:  {next: Writable},
		CheckReadable: {next: NonWritable},
		CheckWritable: {next: NonWritable, err: contracts.ErrNotWritable},
	},
}

// Transition applies op to s and returns the resulting state. A failed check returns the
// unchanged state together with ErrNotReadable or ErrNotWritable.
func Transition(s BodyState, op StateOp) (BodyState, error) {
	row, ok := stateTable[s]
	if !ok {
		return s, fmt.Errorf("%w: unknown body state %v", contracts.ErrIllegalState, s)
	}
	t, ok := row[op]
	if !ok {
		return s, fmt.Errorf("%w: unknown state operation %v", contracts.ErrIllegalState, op)
	}
	if t.err != nil {
		return t.next, fmt.Errorf("%w (state %v)", t.err, s)
	}
	return t.next, nil
}

// freshState is the state of a newly created body of the given kind
func freshState(k Kind) BodyState {
	switch k {
	case KindBytes, KindStream:
		return WriteOnly
	default:
		return Writable
	}
}

// receivedState is the state of a body rehydrated from a transport sample
func receivedState(k Kind) BodyState {
	switch k {
	case KindBytes, KindStream:
		return ReadOnly
	default:
		return NonWritable
	}
}
