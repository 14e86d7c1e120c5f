package assistant

import (
	"container/list"
	"log/slog"
	"sync"

	"github.com/ashureev/zerocode/internal/domain"
)

// EventType names a panel event on the realtime channels.
type EventType string

const (
	EventMessage        EventType = "message"
	EventLoading        EventType = "loading"
	EventCodeGenerated  EventType = "code_generated"
	EventImageGenerated EventType = "image_generated"
	EventReset          EventType = "reset"
)

// Event is one panel state change. ID is assigned by the Hub and increases
// monotonically across all panels.
type Event struct {
	ID      int64           `json:"id"`
	Type    EventType       `json:"type"`
	Message *domain.Message `json:"message,omitempty"`
	Loading *bool           `json:"loading,omitempty"`
	Code    string          `json:"code,omitempty"`
	URL     string          `json:"url,omitempty"`
}

func messageEvent(m domain.Message) Event {
	return Event{Type: EventMessage, Message: &m}
}

func loadingEvent(loading bool) Event {
	return Event{Type: EventLoading, Loading: &loading}
}

func panelKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// EventQueue buffers recent events per panel for Last-Event-ID replay. Each
// panel gets its own bounded list so one panel's burst cannot evict another's.
type EventQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List
	maxSize int
}

// NewEventQueue creates a per-panel replay queue.
func NewEventQueue(maxSize int) *EventQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &EventQueue{
		queues:  make(map[string]*list.List),
		maxSize: maxSize,
	}
}

// Enqueue adds an event to the panel's queue, evicting the oldest beyond maxSize.
func (q *EventQueue) Enqueue(key string, ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[key]
	if !ok {
		l = list.New()
		q.queues[key] = l
	}
	l.PushBack(ev)
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

// After returns the queued events of a panel with an ID above afterID.
func (q *EventQueue) After(key string, afterID int64) []Event {
	q.mu.RLock()
	defer q.mu.RUnlock()

	l, ok := q.queues[key]
	if !ok {
		return nil
	}
	var missed []Event
	for e := l.Front(); e != nil; e = e.Next() {
		ev := e.Value.(Event)
		if ev.ID > afterID {
			missed = append(missed, ev)
		}
	}
	return missed
}

// Prune drops the queue of a panel.
func (q *EventQueue) Prune(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, key)
}

type keyedEvent struct {
	key string
	ev  Event
}

// Subscription delivers the live events of one panel.
type Subscription struct {
	C <-chan Event

	hub *Hub
	key string
	id  int64
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.key, s.id)
}

const subscriberBuffer = 64

// Hub fans panel events out to SSE and websocket subscribers.
type Hub struct {
	in    chan keyedEvent
	done  chan struct{}
	wg    sync.WaitGroup
	queue *EventQueue

	mu       sync.RWMutex
	subs     map[string]map[int64]chan Event
	nextSub  int64
	eventID  int64
	closed   bool
	logger   *slog.Logger
	shutdown sync.Once
}

// NewHub starts a hub keeping replaySize events per panel.
func NewHub(replaySize int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		in:     make(chan keyedEvent, 256),
		done:   make(chan struct{}),
		queue:  NewEventQueue(replaySize),
		subs:   make(map[string]map[int64]chan Event),
		logger: logger,
	}
	h.wg.Add(1)
	go h.broadcastLoop()
	return h
}

// Publish queues ev for the panel. It is dropped once the hub is closed.
func (h *Hub) Publish(userID, sessionID string, ev Event) {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.in <- keyedEvent{key: panelKey(userID, sessionID), ev: ev}:
	case <-h.done:
	}
}

// Subscribe registers a live subscriber and returns the queued events after
// lastEventID. Events published after Subscribe returns arrive on sub.C.
func (h *Hub) Subscribe(userID, sessionID string, lastEventID int64) (*Subscription, []Event) {
	key := panelKey(userID, sessionID)
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.nextSub++
	id := h.nextSub
	if h.closed {
		close(ch)
	} else {
		if _, ok := h.subs[key]; !ok {
			h.subs[key] = make(map[int64]chan Event)
		}
		h.subs[key][id] = ch
	}
	// Replay is read under the same lock the loop holds while fanning out, so
	// no event is both replayed and delivered live.
	var missed []Event
	if lastEventID > 0 {
		missed = h.queue.After(key, lastEventID)
	}
	h.mu.Unlock()

	return &Subscription{C: ch, hub: h, key: key, id: id}, missed
}

func (h *Hub) unsubscribe(key string, id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subs[key]
	if !ok {
		return
	}
	if ch, ok := subs[id]; ok {
		delete(subs, id)
		close(ch)
	}
	if len(subs) == 0 {
		delete(h.subs, key)
	}
}

// Prune drops the replay buffer of a panel.
func (h *Hub) Prune(userID, sessionID string) {
	h.queue.Prune(panelKey(userID, sessionID))
}

// Close stops the broadcast loop and closes every subscription.
func (h *Hub) Close() {
	h.shutdown.Do(func() {
		close(h.done)
		h.wg.Wait()

		h.mu.Lock()
		defer h.mu.Unlock()
		h.closed = true
		for key, subs := range h.subs {
			for id, ch := range subs {
				close(ch)
				delete(subs, id)
			}
			delete(h.subs, key)
		}
	})
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()
	h.logger.Debug("Event hub started")
	for {
		select {
		case <-h.done:
			h.logger.Debug("Event hub shutting down")
			return
		case ke := <-h.in:
			h.dispatch(ke)
		}
	}
}

func (h *Hub) dispatch(ke keyedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.eventID++
	ev := ke.ev
	ev.ID = h.eventID
	h.queue.Enqueue(ke.key, ev)

	for id, ch := range h.subs[ke.key] {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("Dropping event for slow subscriber",
				"panel", ke.key,
				"subscriber", id,
				"event_id", ev.ID,
				"type", ev.Type,
			)
		}
	}
}
