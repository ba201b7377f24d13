package agentworld

import "sync"

// subscriberSoftCap is the queue depth beyond which droppable events
// (sse chunk and tool-progress phases) are discarded for a slow subscriber.
// Message and system events, and sse end/error phases, are never dropped.
const subscriberSoftCap = 1024

// historyLimit bounds the per-topic diagnostic history.
const historyLimit = 64

// CancelFunc removes a subscription. Idempotent.
type CancelFunc func()

// Bus is the per-world event bus. It carries three topics — message, sse,
// and system — each an independent multi-subscriber broadcast. Events
// published on one topic reach every subscriber registered at publish time,
// in publish order per subscriber. Handlers run on a dedicated goroutine per
// subscription and never block the publisher.
type Bus struct {
	worldID string

	message *topic[MessageEvent]
	sse     *topic[SSEEvent]
	system  *topic[SystemEvent]
}

// NewBus creates a bus for one world. Buses must not be shared across
// worlds; the registry enforces one per worldID.
func NewBus(worldID string) *Bus {
	return &Bus{
		worldID: worldID,
		message: newTopic[MessageEvent](nil),
		sse: newTopic[SSEEvent](func(ev SSEEvent) bool {
			return ev.Phase == PhaseChunk || ev.Phase == PhaseToolProgress
		}),
		system: newTopic[SystemEvent](nil),
	}
}

// WorldID returns the owning world's identifier.
func (b *Bus) WorldID() string { return b.worldID }

// PublishMessage broadcasts a message event. Never dropped.
func (b *Bus) PublishMessage(ev MessageEvent) { b.message.publish(ev) }

// PublishSSE broadcasts a streaming event. Chunk and tool-progress phases
// may be dropped for saturated subscribers; end and error never are.
func (b *Bus) PublishSSE(ev SSEEvent) { b.sse.publish(ev) }

// PublishSystem broadcasts a system event. Never dropped.
func (b *Bus) PublishSystem(ev SystemEvent) { b.system.publish(ev) }

// SubscribeMessages registers a handler on the message topic.
func (b *Bus) SubscribeMessages(fn func(MessageEvent)) CancelFunc {
	return b.message.subscribe(fn)
}

// SubscribeSSE registers a handler on the sse topic.
func (b *Bus) SubscribeSSE(fn func(SSEEvent)) CancelFunc {
	return b.sse.subscribe(fn)
}

// SubscribeSystem registers a handler on the system topic.
func (b *Bus) SubscribeSystem(fn func(SystemEvent)) CancelFunc {
	return b.system.subscribe(fn)
}

// MessageHistory returns the bounded diagnostic history of the message topic,
// oldest first.
func (b *Bus) MessageHistory() []MessageEvent { return b.message.snapshot() }

// SystemHistory returns the bounded diagnostic history of the system topic.
func (b *Bus) SystemHistory() []SystemEvent { return b.system.snapshot() }

// Close cancels every subscription on every topic. Events published after
// Close are discarded. Idempotent.
func (b *Bus) Close() {
	b.message.close()
	b.sse.close()
	b.system.close()
}

// --- topic ---

// topic is a single multi-subscriber broadcast. Each subscriber owns an
// unbounded FIFO queue drained by its own goroutine, so a slow handler
// delays only itself. droppable, when non-nil, marks events that may be
// discarded once a subscriber's queue exceeds the soft cap.
type topic[T any] struct {
	mu        sync.Mutex
	subs      map[int]*subscriber[T]
	nextID    int
	closed    bool
	droppable func(T) bool
	history   []T
}

func newTopic[T any](droppable func(T) bool) *topic[T] {
	return &topic[T]{subs: make(map[int]*subscriber[T]), droppable: droppable}
}

func (t *topic[T]) publish(ev T) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.history = append(t.history, ev)
	if len(t.history) > historyLimit {
		t.history = t.history[len(t.history)-historyLimit:]
	}
	subs := make([]*subscriber[T], 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	drop := t.droppable != nil && t.droppable(ev)
	for _, s := range subs {
		s.enqueue(ev, drop)
	}
}

func (t *topic[T]) subscribe(fn func(T)) CancelFunc {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return func() {}
	}
	id := t.nextID
	t.nextID++
	s := newSubscriber(fn)
	t.subs[id] = s

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			s.stop()
		})
	}
}

func (t *topic[T]) snapshot() []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]T, len(t.history))
	copy(out, t.history)
	return out
}

func (t *topic[T]) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	subs := t.subs
	t.subs = make(map[int]*subscriber[T])
	t.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

// --- subscriber ---

// subscriber drains its queue on a dedicated goroutine, preserving publish
// order for its handler.
type subscriber[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []T
	stopped bool
	fn      func(T)
}

func newSubscriber[T any](fn func(T)) *subscriber[T] {
	s := &subscriber[T]{fn: fn}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

func (s *subscriber[T]) enqueue(ev T, droppable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if droppable && len(s.queue) >= subscriberSoftCap {
		return
	}
	s.queue = append(s.queue, ev)
	s.cond.Signal()
}

func (s *subscriber[T]) stop() {
	s.mu.Lock()
	s.stopped = true
	s.queue = nil
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscriber[T]) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.fn(ev)
	}
}
