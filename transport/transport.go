package transport

import (
	"context"
	"time"
)

// Durability selects whether a topic retains samples for late-joining readers
type Durability int

const (
	// Volatile samples are only seen by readers that exist when they are written
	Volatile Durability = iota
	// TransientLocal samples are kept in the topic history and replayed to new durable readers
	TransientLocal
)

func (d Durability) String() string {
	switch d {
	case Volatile:
		return "volatile"
	case TransientLocal:
		return "transient_local"
	default:
		return "unknown"
	}
}

// DefaultHistoryDepth bounds the TransientLocal history when QoS.HistoryDepth is zero
const DefaultHistoryDepth = 1000

// QoS is the quality-of-service policy for a writer or reader
type QoS struct {
	Durability   Durability
	Reliable     bool
	HistoryDepth int

	// SubscriptionName identifies a durable reader across restarts. Bridges use it to name
	// broker-side queues.
	SubscriptionName string
}

// Depth returns the effective history depth
func (q QoS) Depth() int {
	if q.HistoryDepth <= 0 {
		return DefaultHistoryDepth
	}
	return q.HistoryDepth
}

// InstanceHandle locates one sample in a reader cache or one registered instance of a writer
type InstanceHandle uint64

// NilHandle is never assigned to a sample
const NilHandle InstanceHandle = 0

// Sample is one unit of data on a topic
type Sample struct {
	Key      string // instance key
	Priority int
	Data     []byte
}

// SampleInfo describes a sample handed out by a Reader
type SampleInfo struct {
	Handle          InstanceHandle
	Read            bool // the sample had been read before this access
	SourceTimestamp time.Time
}

// SampleStateMask selects samples by whether they have been read
type SampleStateMask int

const (
	NotRead SampleStateMask = 1 << iota
	AlreadyRead

	AnySampleState = NotRead | AlreadyRead
)

// Matches reports whether a sample with the given read flag is selected by the mask
func (m SampleStateMask) Matches(read bool) bool {
	if read {
		return m&AlreadyRead != 0
	}
	return m&NotRead != 0
}

// Ordering is the order in which a ReadCondition hands out samples
type Ordering int

const (
	// ByArrival returns samples in the order the reader received them
	ByArrival Ordering = iota
	// ByPriority returns the highest priority first, ties in arrival order
	ByPriority
)

// Participant is an entry point into the data space
type Participant interface {
	CreateWriter(ctx context.Context, topic string, qos QoS) (Writer, error)
	CreateReader(ctx context.Context, topic string, qos QoS) (Reader, error)
	Close() error
}

// SubscriptionRemover is implemented by participants that keep state for durable
// subscriptions outside the process
type SubscriptionRemover interface {
	RemoveSubscription(ctx context.Context, topic, name string) error
}

// Writer publishes samples to one topic
type Writer interface {
	// Write publishes s and registers its instance
	Write(ctx context.Context, s Sample) (InstanceHandle, error)
	// Unregister releases the writer-side state of an instance
	Unregister(h InstanceHandle) error
	Close() error
}

// Reader receives samples from one topic into a local cache
type Reader interface {
	CreateReadCondition(mask SampleStateMask, ordering Ordering) *ReadCondition
	DeleteReadCondition(c *ReadCondition)

	// ReadNext returns the first sample selected by c and marks it read. The sample stays in
	// the cache until it is taken.
	ReadNext(c *ReadCondition) (Sample, SampleInfo, bool)
	// ReadInstance returns the sample with handle h without removing it
	ReadInstance(h InstanceHandle) (Sample, SampleInfo, bool)
	// TakeInstance removes and returns the sample with handle h
	TakeInstance(h InstanceHandle) (Sample, SampleInfo, bool)

	// SetListener installs fn to be called after new samples arrive. A nil fn removes it.
	SetListener(fn func())
	Close() error
}
