package webhook

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LogStatus is the lifecycle state of a WebhookLog row.
type LogStatus string

const (
	LogReceived  LogStatus = "received"
	LogProcessed LogStatus = "processed"
	LogFailed    LogStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s LogStatus) Valid() bool {
	switch s {
	case LogReceived, LogProcessed, LogFailed:
		return true
	}
	return false
}

var (
	ErrLogNotFound  = errors.New("webhook log not found")
	ErrLogCompleted = errors.New("webhook log already completed")
)

// Log is the audit record of one webhook invocation. Payload holds the body
// exactly as received.
type Log struct {
	ID           uuid.UUID  `json:"id"`
	Source       string     `json:"source"`
	ContentType  string     `json:"content_type"`
	Payload      string     `json:"payload"`
	Status       LogStatus  `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	OrderID      *uuid.UUID `json:"order_id,omitempty"`
	ReceivedAt   time.Time  `json:"received_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}

// LogFilter narrows List results. Empty fields match everything.
type LogFilter struct {
	Status LogStatus
	Source string
	Limit  int
	Offset int
}

// LogStore persists audit records. Received is called before any validation
// and Complete exactly once afterwards.
type LogStore interface {
	Received(ctx context.Context, l *Log) error
	Complete(ctx context.Context, id uuid.UUID, status LogStatus, errMsg string, orderID *uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*Log, error)
	List(ctx context.Context, f LogFilter) ([]*Log, int, error)
}

// InMemoryLogStore is a thread-safe LogStore used by tests and local runs
// without a database.
type InMemoryLogStore struct {
	mu    sync.RWMutex
	logs  map[uuid.UUID]*Log
	order []uuid.UUID
	now   func() time.Time
}

func NewInMemoryLogStore() *InMemoryLogStore {
	return &InMemoryLogStore{
		logs: make(map[uuid.UUID]*Log),
		now:  time.Now,
	}
}

func (s *InMemoryLogStore) Received(_ context.Context, l *Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.Status = LogReceived
	if l.ReceivedAt.IsZero() {
		l.ReceivedAt = s.now().UTC()
	}
	cp := *l
	s.logs[l.ID] = &cp
	s.order = append(s.order, l.ID)
	return nil
}

func (s *InMemoryLogStore) Complete(_ context.Context, id uuid.UUID, status LogStatus, errMsg string, orderID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[id]
	if !ok {
		return ErrLogNotFound
	}
	if l.Status != LogReceived {
		return ErrLogCompleted
	}
	now := s.now().UTC()
	l.Status = status
	l.ProcessedAt = &now
	if errMsg != "" {
		l.ErrorMessage = &errMsg
	}
	l.OrderID = orderID
	return nil
}

func (s *InMemoryLogStore) Get(_ context.Context, id uuid.UUID) (*Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[id]
	if !ok {
		return nil, ErrLogNotFound
	}
	cp := *l
	return &cp, nil
}

// List returns newest first, matching the PostgreSQL store.
func (s *InMemoryLogStore) List(_ context.Context, f LogFilter) ([]*Log, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []*Log
	for _, id := range s.order {
		l := s.logs[id]
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		if f.Source != "" && l.Source != f.Source {
			continue
		}
		cp := *l
		filtered = append(filtered, &cp)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].ReceivedAt.After(filtered[j].ReceivedAt)
	})

	total := len(filtered)
	if f.Offset >= total {
		return []*Log{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return filtered[f.Offset:end], total, nil
}

// TextSafe replaces NUL bytes and invalid UTF-8 with U+FFFD. PostgreSQL text
// columns accept neither.
func TextSafe(s string) string {
	return strings.ToValidUTF8(strings.ReplaceAll(s, "\x00", "\uFFFD"), "\uFFFD")
}
