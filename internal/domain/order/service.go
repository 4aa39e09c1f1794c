package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/labflow/intake/internal/platform/metrics"
)

type Service struct {
	repo    Repository
	metrics *metrics.IntakeMetrics
	now     func() time.Time
}

func NewService(repo Repository, m *metrics.IntakeMetrics) *Service {
	return &Service{repo: repo, metrics: m, now: time.Now}
}

// Ingest fills the defaults for a webhook order and upserts it. The total is
// always the rounded sum of the item snapshot prices.
func (s *Service) Ingest(ctx context.Context, o *Order, items []*OrderItem) (*IngestResult, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if strings.TrimSpace(o.PatientName) == "" {
		o.PatientName = PlaceholderPatientName
	}
	if o.DateOfOrder == nil {
		d := s.now().UTC().Truncate(24 * time.Hour)
		o.DateOfOrder = &d
	}
	o.Status = StatusPending
	o.TotalAmount = Total(items)

	res, err := s.repo.Ingest(ctx, o, items)
	if err != nil {
		return nil, err
	}
	s.metrics.IncOrder(res.Created)
	s.metrics.AddOrderNumberRetries(res.OrderNumberAttempts - 1)
	return res, nil
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*Detail, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Order: o, Items: items, History: history}, nil
}

func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, actor, comment string) (*Order, *StatusHistory, error) {
	if actor == "" {
		return nil, nil, fmt.Errorf("actor is required")
	}
	var c *string
	if comment = strings.TrimSpace(comment); comment != "" {
		c = &comment
	}
	o, h, err := s.repo.TransitionStatus(ctx, id, to, actor, c)
	if err != nil {
		return nil, nil, err
	}
	from := ""
	if h.PreviousStatus != nil {
		from = string(*h.PreviousStatus)
	}
	s.metrics.IncStatusChange(from, string(h.NewStatus))
	return o, h, nil
}
