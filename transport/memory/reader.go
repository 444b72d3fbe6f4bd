package memory

import (
	"slices"
	"sync"
	"time"

	"github.com/glimte/mmate-jms/transport"
)

type cached struct {
	sample  transport.Sample
	handle  transport.InstanceHandle
	seq     uint64
	read    bool
	written time.Time
}

type reader struct {
	participant *Participant
	topic       string
	qos         transport.QoS

	mu       sync.Mutex
	samples  []*cached // arrival order
	conds    []*transport.ReadCondition
	listener func()
	closed   bool
}

func newReader(p *Participant, topicName string, qos transport.QoS) *reader {
	return &reader{participant: p, topic: topicName, qos: qos}
}

func (r *reader) deliver(s transport.Sample, written time.Time) {
	d := r.participant.domain
	c := &cached{
		sample:  s,
		handle:  d.nextHandle(),
		seq:     d.arrival.Add(1),
		written: written,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.samples = append(r.samples, c)
	conds := slices.Clone(r.conds)
	listener := r.listener
	r.mu.Unlock()

	for _, cond := range conds {
		cond.Notify()
	}
	if listener != nil {
		listener()
	}
}

func (r *reader) CreateReadCondition(mask transport.SampleStateMask, ordering transport.Ordering) *transport.ReadCondition {
	c := transport.NewReadCondition(mask, ordering, r.pending)
	r.mu.Lock()
	r.conds = append(r.conds, c)
	r.mu.Unlock()
	return c
}

func (r *reader) DeleteReadCondition(c *transport.ReadCondition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conds = slices.DeleteFunc(r.conds, func(x *transport.ReadCondition) bool { return x == c })
}

func (r *reader) pending(mask transport.SampleStateMask) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.samples {
		if mask.Matches(c.read) {
			return true
		}
	}
	return false
}

// selectLocked returns the index of the sample c hands out next, or -1
func (r *reader) selectLocked(cond *transport.ReadCondition) int {
	best := -1
	for i, c := range r.samples {
		if !cond.Mask().Matches(c.read) {
			continue
		}
		if best < 0 {
			best = i
			if cond.Ordering() == transport.ByArrival {
				break
			}
			continue
		}
		// samples are in arrival order, so a strictly higher priority is needed to win a tie
		if c.sample.Priority > r.samples[best].sample.Priority {
			best = i
		}
	}
	return best
}

func (r *reader) ReadNext(cond *transport.ReadCondition) (transport.Sample, transport.SampleInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return transport.Sample{}, transport.SampleInfo{}, false
	}
	i := r.selectLocked(cond)
	if i < 0 {
		return transport.Sample{}, transport.SampleInfo{}, false
	}
	c := r.samples[i]
	info := c.info()
	c.read = true
	return c.sample, info, true
}

func (r *reader) ReadInstance(h transport.InstanceHandle) (transport.Sample, transport.SampleInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(h)
	if i < 0 {
		return transport.Sample{}, transport.SampleInfo{}, false
	}
	c := r.samples[i]
	info := c.info()
	c.read = true
	return c.sample, info, true
}

func (r *reader) TakeInstance(h transport.InstanceHandle) (transport.Sample, transport.SampleInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(h)
	if i < 0 {
		return transport.Sample{}, transport.SampleInfo{}, false
	}
	c := r.samples[i]
	r.samples = slices.Delete(r.samples, i, i+1)
	return c.sample, c.info(), true
}

func (r *reader) indexLocked(h transport.InstanceHandle) int {
	return slices.IndexFunc(r.samples, func(c *cached) bool { return c.handle == h })
}

func (r *reader) SetListener(fn func()) {
	r.mu.Lock()
	r.listener = fn
	hasData := len(r.samples) > 0
	r.mu.Unlock()

	if fn != nil && hasData {
		fn()
	}
}

func (r *reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.samples = nil
	r.listener = nil
	r.mu.Unlock()

	r.participant.domain.removeReader(r.topic, r)
	r.participant.forgetReader(r)
	return nil
}

func (c *cached) info() transport.SampleInfo {
	return transport.SampleInfo{
		Handle:          c.handle,
		Read:            c.read,
		SourceTimestamp: c.written,
	}
}
