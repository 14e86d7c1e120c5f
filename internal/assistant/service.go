package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/zerocode/internal/config"
	"github.com/ashureev/zerocode/internal/domain"
	"github.com/ashureev/zerocode/internal/store"
)

// ErrClosed is returned by Submit once the service has been closed.
var ErrClosed = errors.New("assistant: service closed")

const persistTimeout = 5 * time.Second

type panelEntry struct {
	panel     *Panel
	userID    string
	sessionID string
	lastUsed  time.Time
}

// Service keeps one Panel per (user, tab session). Panels are restored from
// the repository on first use and persisted after every settled submission.
type Service struct {
	repo    store.Repository
	orch    *Orchestrator
	hub     *Hub
	convLog ConversationLogger
	cfg     config.AssistantConfig
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	panels map[string]*panelEntry
	closed bool
	wg     sync.WaitGroup
}

// NewService creates the panel registry.
func NewService(repo store.Repository, orch *Orchestrator, hub *Hub, convLog ConversationLogger, cfg config.AssistantConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if convLog == nil {
		convLog = noopConversationLogger{}
	}
	return &Service{
		repo:    repo,
		orch:    orch,
		hub:     hub,
		convLog: convLog,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		panels:  make(map[string]*panelEntry),
	}
}

// Panel returns the panel of a tab session, restoring it from the repository
// when it is not in memory.
func (s *Service) Panel(ctx context.Context, userID, sessionID string) (*Panel, error) {
	key := panelKey(userID, sessionID)

	s.mu.Lock()
	if e, ok := s.panels[key]; ok {
		e.lastUsed = s.now()
		s.mu.Unlock()
		return e.panel, nil
	}
	s.mu.Unlock()

	transcript, err := s.restore(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.panels[key]; ok {
		e.lastUsed = s.now()
		return e.panel, nil
	}

	e := &panelEntry{userID: userID, sessionID: sessionID, lastUsed: s.now()}
	e.panel = NewPanel(s.orch, PanelOptions{
		Greeting:     s.cfg.Greeting,
		HistoryLimit: s.cfg.HistoryLimit,
		Transcript:   transcript,
		Observer: func(ev Event) {
			s.observe(e, ev)
		},
	}, s.logger)
	s.panels[key] = e
	return e.panel, nil
}

func (s *Service) restore(ctx context.Context, userID, sessionID string) (*Transcript, error) {
	t := NewTranscript()
	if s.repo == nil {
		return t, nil
	}
	stored, err := s.repo.GetAssistantSession(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load assistant session: %w", err)
	}
	if stored == nil || stored.MessagesJSON == "" {
		return t, nil
	}

	var msgs []domain.Message
	if err := json.Unmarshal([]byte(stored.MessagesJSON), &msgs); err != nil {
		s.logger.Warn("Discarding unreadable assistant transcript",
			"user_id", userID,
			"session_id", sessionID,
			"error", err,
		)
		return t, nil
	}
	t.Restore(msgs)
	return t, nil
}

// Submit runs text through the panel of a tab session and returns the
// appended user message. With wait set the call returns after the
// submission settled; otherwise orchestration continues in the background.
// The submission outlives ctx cancellation.
func (s *Service) Submit(ctx context.Context, userID, sessionID, text string, wait bool) (domain.Message, error) {
	p, err := s.Panel(ctx, userID, sessionID)
	if err != nil {
		return domain.Message{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Message{}, ErrClosed
	}
	pending, err := p.Begin(text)
	if err != nil {
		s.mu.Unlock()
		return domain.Message{}, err
	}
	s.wg.Add(1)
	s.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	if wait {
		defer s.wg.Done()
		pending.Run(runCtx)
		return pending.User, nil
	}
	go func() {
		defer s.wg.Done()
		pending.Run(runCtx)
	}()
	return pending.User, nil
}

// Reset clears the transcript of a tab session and deletes its stored row.
func (s *Service) Reset(ctx context.Context, userID, sessionID string) error {
	s.mu.Lock()
	e, ok := s.panels[panelKey(userID, sessionID)]
	s.mu.Unlock()

	if ok {
		if err := e.panel.Reset(); err != nil {
			return err
		}
	} else if s.hub != nil {
		s.hub.Publish(userID, sessionID, Event{Type: EventReset})
	}

	if s.repo == nil {
		return nil
	}
	if err := s.repo.DeleteAssistantSession(ctx, userID, sessionID); err != nil {
		return fmt.Errorf("delete assistant session: %w", err)
	}
	s.logger.Info("Assistant transcript reset", "user_id", userID, "session_id", sessionID)
	return nil
}

// observe forwards panel events to the hub and the conversation log, and
// persists the transcript whenever a submission settles.
func (s *Service) observe(e *panelEntry, ev Event) {
	if s.hub != nil {
		s.hub.Publish(e.userID, e.sessionID, ev)
	}

	switch ev.Type {
	case EventMessage:
		s.logMessage(e, ev.Message)
	case EventLoading:
		if ev.Loading != nil && !*ev.Loading {
			s.persist(e)
		}
	}
}

func (s *Service) logMessage(e *panelEntry, m *domain.Message) {
	if m == nil {
		return
	}
	direction, eventType := "inbound", "assistant_message"
	if m.Role == domain.RoleUser {
		direction, eventType = "outbound", "user_message"
	}
	s.convLog.Log(ConversationLogEvent{
		UserID:    e.userID,
		SessionID: e.sessionID,
		Channel:   "assistant",
		Direction: direction,
		EventType: eventType,
		Intent:    string(m.Intent),
		Content:   m.Text,
		Meta: map[string]any{
			"message_id": m.ID,
		},
	})
}

func (s *Service) persist(e *panelEntry) {
	if s.repo == nil {
		return
	}
	data, err := json.Marshal(e.panel.Messages())
	if err != nil {
		s.logger.Error("Failed to encode assistant transcript", "user_id", e.userID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.repo.UpsertAssistantSession(ctx, &domain.AssistantSession{
		UserID:       e.userID,
		SessionID:    e.sessionID,
		MessagesJSON: string(data),
		UpdatedAt:    s.now(),
	}); err != nil {
		s.logger.Error("Failed to persist assistant transcript",
			"user_id", e.userID,
			"session_id", e.sessionID,
			"error", err,
		)
	}
}

// EvictIdle drops in-memory panels unused for longer than ttl. Loading panels
// are kept. It returns the number of evicted panels.
func (s *Service) EvictIdle(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	var evicted []*panelEntry
	for key, e := range s.panels {
		if e.lastUsed.After(cutoff) || e.panel.IsLoading() {
			continue
		}
		delete(s.panels, key)
		evicted = append(evicted, e)
	}
	s.mu.Unlock()

	if s.hub != nil {
		for _, e := range evicted {
			s.hub.Prune(e.userID, e.sessionID)
		}
	}
	return len(evicted)
}

// RunTTLWorker evicts idle panels and purges stale stored transcripts every
// interval until ctx is done.
func (s *Service) RunTTLWorker(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 || ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Assistant TTL worker started", "interval", interval, "ttl", ttl)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Assistant TTL worker stopped")
			return
		case <-ticker.C:
			evicted := s.EvictIdle(ttl)
			var purged int64
			if s.repo != nil {
				n, err := s.repo.CleanupExpiredSessions(ctx, ttl)
				if err != nil {
					s.logger.Warn("Failed to purge expired assistant sessions", "error", err)
				}
				purged = n
			}
			if evicted > 0 || purged > 0 {
				s.logger.Info("Assistant TTL sweep", "evicted_panels", evicted, "purged_sessions", purged)
			}
		}
	}
}

// Close rejects new submissions and waits for in-flight ones to settle.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}
