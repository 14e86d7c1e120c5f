package assistant

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// ConversationLogEvent is one NDJSON line of the conversation log.
type ConversationLogEvent struct {
	Timestamp string         `json:"ts"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	Channel   string         `json:"channel"`
	Direction string         `json:"direction"`
	EventType string         `json:"event_type"`
	Intent    string         `json:"intent,omitempty"`
	Content   string         `json:"content"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// ConversationLogger records user and assistant messages.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

// ConversationLogConfig controls where conversation logs are written.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// fileConversationLogger appends events to <dir>/<user>/<session>.ndjson from
// a single writer goroutine.
type fileConversationLogger struct {
	dir    string
	queue  chan ConversationLogEvent
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	files  map[string]*os.File
	logger *slog.Logger
}

// NewConversationLogger returns a logger for cfg. A disabled config yields a no-op logger.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1000
	}

	l := &fileConversationLogger{
		dir:    cfg.Dir,
		queue:  make(chan ConversationLogEvent, size),
		done:   make(chan struct{}),
		files:  make(map[string]*os.File),
		logger: logger,
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log enqueues event, dropping it when the queue is full.
func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("Conversation log queue full, dropping event",
			"user_id", event.UserID,
			"session_id", event.SessionID,
			"event_type", event.EventType,
		)
	}
}

// Close drains the queue and closes all files.
func (l *fileConversationLogger) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
	return nil
}

func (l *fileConversationLogger) run() {
	defer l.wg.Done()
	defer l.closeFiles()

	for {
		select {
		case ev := <-l.queue:
			l.write(ev)
		case <-l.done:
			for {
				select {
				case ev := <-l.queue:
					l.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (l *fileConversationLogger) write(ev ConversationLogEvent) {
	f, err := l.file(ev.UserID, ev.SessionID)
	if err != nil {
		l.logger.Warn("Failed to open conversation log", "user_id", ev.UserID, "error", err)
		return
	}
	line, err := json.Marshal(ev)
	if err != nil {
		l.logger.Warn("Failed to marshal conversation log event", "error", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		l.logger.Warn("Failed to write conversation log", "user_id", ev.UserID, "error", err)
	}
}

func (l *fileConversationLogger) file(userID, sessionID string) (*os.File, error) {
	user := safePathSegment(userID)
	session := safePathSegment(sessionID)
	key := user + "/" + session
	if f, ok := l.files[key]; ok {
		return f, nil
	}

	dir := filepath.Join(l.dir, user)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, session+".ndjson"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	l.files[key] = f
	return f, nil
}

func (l *fileConversationLogger) closeFiles() {
	for key, f := range l.files {
		if err := f.Close(); err != nil {
			l.logger.Warn("Failed to close conversation log", "file", key, "error", err)
		}
		delete(l.files, key)
	}
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func safePathSegment(s string) string {
	s = unsafePathChars.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	return s
}
