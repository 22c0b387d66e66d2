package memory

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/kbukum/brokerpool/kafka"
)

// Topic is a partitioned append-only log with consumer groups.
type Topic struct {
	Name string

	mu          sync.Mutex
	partitions  [][]*kafka.Message
	groups      map[string]*group
	pendingErrs []error
	notify      chan struct{}
	nextPart    int
}

type group struct {
	id      string
	offsets []int64
	members []*subscriber
}

type subscriber struct {
	topic  *Topic
	group  *group
	parts  []int
	cursor int
	closed bool
}

func newTopic(name string, partitions int) *Topic {
	if partitions <= 0 {
		partitions = 1
	}
	return &Topic{
		Name:       name,
		partitions: make([][]*kafka.Message, partitions),
		groups:     make(map[string]*group),
		notify:     make(chan struct{}),
	}
}

// Partitions returns the partition count.
func (t *Topic) Partitions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.partitions)
}

// signal wakes every waiting consumer. Caller holds t.mu.
func (t *Topic) signal() {
	close(t.notify)
	t.notify = make(chan struct{})
}

func (t *Topic) append(key, payload []byte, ts time.Time) (int, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var p int
	if len(key) == 0 {
		p = t.nextPart % len(t.partitions)
		t.nextPart++
	} else {
		h := fnv.New32a()
		_, _ = h.Write(key)
		p = int(h.Sum32() % uint32(len(t.partitions)))
	}

	offset := int64(len(t.partitions[p]))
	t.partitions[p] = append(t.partitions[p], &kafka.Message{
		Key:       key,
		Payload:   payload,
		Topic:     t.Name,
		Partition: p,
		Offset:    offset,
		Timestamp: ts,
	})
	t.signal()
	return p, offset
}

func (t *Topic) injectError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingErrs = append(t.pendingErrs, err)
	t.signal()
}

func (t *Topic) subscribe(groupID string, reset kafka.OffsetReset) *subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.groups[groupID]
	if !ok {
		g = &group{id: groupID, offsets: make([]int64, len(t.partitions))}
		if reset == kafka.OffsetLatest {
			for i, log := range t.partitions {
				g.offsets[i] = int64(len(log))
			}
		}
		t.groups[groupID] = g
	}
	s := &subscriber{topic: t, group: g}
	g.members = append(g.members, s)
	g.rebalance(len(t.partitions))
	return s
}

func (t *Topic) unsubscribe(s *subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	g := s.group
	kept := g.members[:0]
	for _, m := range g.members {
		if m != s {
			kept = append(kept, m)
		}
	}
	g.members = kept
	g.rebalance(len(t.partitions))
	t.signal()
}

// rebalance assigns partitions round-robin. Members beyond the partition
// count stay idle, as in a real group.
func (g *group) rebalance(partitions int) {
	for _, m := range g.members {
		m.parts = m.parts[:0]
		m.cursor = 0
	}
	if len(g.members) == 0 {
		return
	}
	for p := 0; p < partitions; p++ {
		m := g.members[p%len(g.members)]
		m.parts = append(m.parts, p)
	}
}

// next returns the next message for s, a queued delivery error, or nil
// after timeout.
func (s *subscriber) next(timeout time.Duration) (*kafka.Message, error) {
	t := s.topic
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		t.mu.Lock()
		if s.closed {
			t.mu.Unlock()
			return nil, kafka.ErrClientClosed
		}
		if len(t.pendingErrs) > 0 {
			err := t.pendingErrs[0]
			t.pendingErrs = t.pendingErrs[1:]
			t.mu.Unlock()
			return &kafka.Message{Topic: t.Name, Partition: -1, Offset: -1, Err: err}, nil
		}
		for i := 0; i < len(s.parts); i++ {
			p := s.parts[(s.cursor+i)%len(s.parts)]
			off := s.group.offsets[p]
			if off < int64(len(t.partitions[p])) {
				s.group.offsets[p]++
				s.cursor = (s.cursor + i + 1) % len(s.parts)
				msg := *t.partitions[p][off]
				t.mu.Unlock()
				return &msg, nil
			}
		}
		wait := t.notify
		t.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			return nil, nil
		}
	}
}

func (t *Topic) snapshot() []*kafka.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*kafka.Message
	for _, log := range t.partitions {
		for _, m := range log {
			c := *m
			out = append(out, &c)
		}
	}
	return out
}

// Committed returns the sum of groupID's offsets across partitions.
func (t *Topic) Committed(groupID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.groups[groupID]
	if !ok {
		return 0
	}
	var total int64
	for _, off := range g.offsets {
		total += off
	}
	return total
}
