// Package eventbus is the append-only per-run event stream: every state
// transition (node started, node finished, run completed, ...) is recorded
// with a monotonic sequence number and can be replayed from any since_seq.
// Fan-out/subscription mechanics are grounded on
// runtime/agent/hooks/bus.go's synchronous-delivery, snapshot-before-iterate
// Bus; the append-only sequence log itself has no teacher analogue and is
// designed by extending that Bus with a stored, replayable record slice.
package eventbus

import (
	"context"
	"sync"

	"github.com/iceos/core/ice"
)

// Record is one entry in a run's event log.
type Record struct {
	Seq       uint64         `json:"seq"`
	RunID     ice.RunID      `json:"run_id"`
	Kind      string         `json:"kind"`
	NodeID    ice.NodeID     `json:"node_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Subscriber receives records as they are appended. Bus delivery is
// synchronous and fails fast on the first subscriber error, exactly as
// runtime/agent/hooks.Bus does — a slow/broken subscriber must not be
// allowed to silently drop events.
type Subscriber interface {
	Handle(ctx context.Context, r Record) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, r Record) error

func (f SubscriberFunc) Handle(ctx context.Context, r Record) error { return f(ctx, r) }

// Subscription can be cancelled to stop receiving records.
type Subscription interface {
	Unsubscribe()
}

// Bus is a single run's append-only event log plus live fan-out.
type Bus struct {
	mu          sync.Mutex
	records     []Record
	subscribers map[int]Subscriber
	nextSubID   int
	nextSeq     uint64
	closed      bool
	closeOnce   sync.Once
	clock       ice.Clock
}

func New(clock ice.Clock) *Bus {
	if clock == nil {
		clock = ice.SystemClock
	}
	return &Bus{subscribers: make(map[int]Subscriber), clock: clock}
}

// Append assigns the next sequence number to r, stores it, and delivers it
// synchronously to every current subscriber (a snapshot taken under lock,
// delivered without holding it — same discipline as hooks.Bus.Publish).
func (b *Bus) Append(ctx context.Context, kind string, runID ice.RunID, nodeID ice.NodeID, data map[string]any) (Record, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Record{}, ice.New(ice.KindInternal, "eventbus: append on closed bus")
	}
	b.nextSeq++
	r := Record{
		Seq:       b.nextSeq,
		RunID:     runID,
		Kind:      kind,
		NodeID:    nodeID,
		Data:      data,
		Timestamp: b.clock.Now().UnixMilli(),
	}
	b.records = append(b.records, r)
	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if err := s.Handle(ctx, r); err != nil {
			return r, err
		}
	}
	return r, nil
}

// Since returns every record with Seq > sinceSeq, in order — used both for
// the SSE endpoint's initial replay and for reconnect resumption.
func (b *Bus) Since(sinceSeq uint64) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Record
	for _, r := range b.records {
		if r.Seq > sinceSeq {
			out = append(out, r)
		}
	}
	return out
}

// Subscribe registers s for live delivery of future Append calls.
func (b *Bus) Subscribe(s Subscriber) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = s
	return &subscription{bus: b, id: id}
}

type subscription struct {
	bus *Bus
	id  int
}

func (s *subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subscribers, s.id)
}

// Close marks the bus closed; further Append calls fail. Idempotent.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
	})
}
