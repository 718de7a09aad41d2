package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one entry on a task's activity stream.
type Event struct {
	Sequence  int64
	Type      string
	TaskID    string
	Payload   any
	Timestamp time.Time
}

// Archiver persists an Event as the durable tail a late subscriber replays
// from. Implemented by pkg/store.
type Archiver interface {
	AppendActivity(ctx context.Context, taskID string, seq int64, eventType string, payload any, at time.Time) error
}

// subscriber is one room member's delivery channel.
type subscriber struct {
	id string
	ch chan Event
}

// throttled event types are rate-limited per task: the newest payload
// within the window wins and is flushed once the window elapses, instead
// of fanning out every single high-frequency update.
var throttledTypes = map[string]bool{
	EventTypeAgentOutputChunk: true,
	EventTypeLogLine:          true,
}

type pendingFlush struct {
	timer *time.Timer
	event Event
}

// Manager is the in-process activity bus: one room per task, a bounded
// ring buffer for late-subscriber replay, and throttling for chatty event
// types. Each Go process (pod) owns one Manager; it does not span pods —
// a task's room only has subscribers on the pod currently executing it.
type Manager struct {
	mu   sync.RWMutex
	subs map[string]map[string]*subscriber // room → subscriber id → subscriber
	ring map[string][]Event                // room → bounded recent history
	seq  map[string]int64                  // room → next sequence number

	bufferSize       int
	subscriberBuffer int
	throttleInterval time.Duration

	pendingMu sync.Mutex
	pending   map[string]*pendingFlush // room+type → in-flight throttle timer

	archiver Archiver
}

// Config controls buffer sizing and throttling.
type Config struct {
	// BufferSize is how many recent events each task's ring buffer retains.
	BufferSize int
	// SubscriberChannelSize is the per-subscriber channel capacity; a
	// subscriber that falls this far behind has its oldest unread event
	// dropped rather than blocking the publisher.
	SubscriberChannelSize int
	// ThrottleInterval bounds how often a throttled event type is
	// delivered per task.
	ThrottleInterval time.Duration
}

// NewManager creates a Manager. archiver may be nil, in which case events
// still fan out live but are not durably archived for replay.
func NewManager(cfg Config, archiver Archiver) *Manager {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 200
	}
	if cfg.SubscriberChannelSize <= 0 {
		cfg.SubscriberChannelSize = 64
	}
	return &Manager{
		subs:             make(map[string]map[string]*subscriber),
		ring:             make(map[string][]Event),
		seq:              make(map[string]int64),
		bufferSize:       cfg.BufferSize,
		subscriberBuffer: cfg.SubscriberChannelSize,
		throttleInterval: cfg.ThrottleInterval,
		pending:          make(map[string]*pendingFlush),
		archiver:         archiver,
	}
}

// Subscribe joins a task's room and returns the backlog currently in the
// ring buffer plus a channel for events published from now on. Call the
// returned cancel func to leave the room.
func (m *Manager) Subscribe(taskID string) (backlog []Event, events <-chan Event, cancel func()) {
	room := RoomForTask(taskID)
	sub := &subscriber{id: uuid.New().String(), ch: make(chan Event, m.subscriberBuffer)}

	m.mu.Lock()
	if m.subs[room] == nil {
		m.subs[room] = make(map[string]*subscriber)
	}
	m.subs[room][sub.id] = sub
	backlog = append(backlog, m.ring[room]...)
	m.mu.Unlock()

	return backlog, sub.ch, func() { m.unsubscribe(room, sub.id) }
}

func (m *Manager) unsubscribe(room, subID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subs[room]; ok {
		if sub, ok := subs[subID]; ok {
			close(sub.ch)
			delete(subs, subID)
		}
		if len(subs) == 0 {
			delete(m.subs, room)
		}
	}
}

// Publish archives and fans out an event to every subscriber of the task's
// room. Throttled event types are coalesced: only the most recent payload
// within ThrottleInterval is delivered.
func (m *Manager) Publish(ctx context.Context, taskID, eventType string, payload any) {
	room := RoomForTask(taskID)

	m.mu.Lock()
	m.seq[room]++
	seq := m.seq[room]
	m.mu.Unlock()

	evt := Event{Sequence: seq, Type: eventType, TaskID: taskID, Payload: payload, Timestamp: time.Now()}

	if m.archiver != nil {
		if err := m.archiver.AppendActivity(ctx, taskID, seq, eventType, payload, evt.Timestamp); err != nil {
			slog.Warn("failed to archive activity event", "task_id", taskID, "type", eventType, "error", err)
		}
	}

	if throttledTypes[eventType] && m.throttleInterval > 0 {
		m.scheduleThrottled(room, eventType, evt)
		return
	}

	m.deliver(room, evt)
}

// scheduleThrottled replaces any pending flush for (room, type) with the
// newest event and, if no timer is running, starts one for ThrottleInterval.
func (m *Manager) scheduleThrottled(room, eventType string, evt Event) {
	key := room + "|" + eventType

	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	if pf, ok := m.pending[key]; ok {
		pf.event = evt
		return
	}

	pf := &pendingFlush{event: evt}
	pf.timer = time.AfterFunc(m.throttleInterval, func() {
		m.pendingMu.Lock()
		final := pf.event
		delete(m.pending, key)
		m.pendingMu.Unlock()
		m.deliver(room, final)
	})
	m.pending[key] = pf
}

// deliver appends to the ring buffer and fans out to current subscribers.
// A slow subscriber drops its oldest unread event rather than blocking the
// publisher — real-time delivery beats completeness for a live channel;
// Subscribe's backlog plus the durable archive cover anything missed.
func (m *Manager) deliver(room string, evt Event) {
	m.mu.Lock()
	buf := append(m.ring[room], evt)
	if len(buf) > m.bufferSize {
		buf = buf[len(buf)-m.bufferSize:]
	}
	m.ring[room] = buf

	subs := make([]*subscriber, 0, len(m.subs[room]))
	for _, sub := range m.subs[room] {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- evt:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of live subscribers for a task, used
// by health checks and tests.
func (m *Manager) SubscriberCount(taskID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[RoomForTask(taskID)])
}
