package order

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepo is a Repository backed by maps. It follows the PostgreSQL
// upsert rules so services can be tested without a database.
type InMemoryRepo struct {
	mu         sync.Mutex
	orders     map[uuid.UUID]*Order
	byExternal map[string]uuid.UUID
	byNumber   map[string]uuid.UUID
	items      map[uuid.UUID][]*OrderItem
	history    map[uuid.UUID][]*StatusHistory
	now        func() time.Time
	number     func(time.Time) string
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		orders:     make(map[uuid.UUID]*Order),
		byExternal: make(map[string]uuid.UUID),
		byNumber:   make(map[string]uuid.UUID),
		items:      make(map[uuid.UUID][]*OrderItem),
		history:    make(map[uuid.UUID][]*StatusHistory),
		now:        time.Now,
		number:     NewOrderNumber,
	}
}

func (r *InMemoryRepo) Ingest(_ context.Context, o *Order, items []*OrderItem) (*IngestResult, error) {
	if o.ExternalID == nil || *o.ExternalID == "" {
		return nil, fmt.Errorf("ingest order: external id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()

	if id, ok := r.byExternal[*o.ExternalID]; ok {
		stored := r.orders[id]
		if o.PatientName != PlaceholderPatientName {
			stored.PatientName = o.PatientName
		}
		keep(&stored.DateOfBirth, o.DateOfBirth)
		keep(&stored.Phone, o.Phone)
		keep(&stored.SecondaryPhone, o.SecondaryPhone)
		keep(&stored.Address, o.Address)
		keep(&stored.PhysicianName, o.PhysicianName)
		keep(&stored.ClinicAddress, o.ClinicAddress)
		stored.RawPayload = o.RawPayload
		stored.UpdatedAt = now
		cp := *stored
		return &IngestResult{Order: &cp, Items: r.copyItems(id), OrderNumberAttempts: 1}, nil
	}

	attempts := 0
	for {
		attempts++
		if attempts > maxOrderNumberAttempts {
			return nil, ErrOrderNumberExhausted
		}
		o.OrderNumber = r.number(now)
		if _, taken := r.byNumber[o.OrderNumber]; !taken {
			break
		}
	}

	stored := *o
	stored.CreatedAt, stored.UpdatedAt = now, now
	r.orders[stored.ID] = &stored
	r.byExternal[*o.ExternalID] = stored.ID
	r.byNumber[stored.OrderNumber] = stored.ID

	for _, it := range items {
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		it.OrderID = stored.ID
		it.CreatedAt = now
		cp := *it
		r.items[stored.ID] = append(r.items[stored.ID], &cp)
	}
	r.history[stored.ID] = append(r.history[stored.ID], &StatusHistory{
		ID: uuid.New(), OrderID: stored.ID, NewStatus: StatusPending,
		Actor: "webhook:" + stored.Source, CreatedAt: now,
	})

	cp := stored
	return &IngestResult{Order: &cp, Items: r.copyItems(stored.ID), Created: true, OrderNumberAttempts: attempts}, nil
}

func keep[T any](dst **T, v *T) {
	if v != nil {
		*dst = v
	}
}

func (r *InMemoryRepo) copyItems(orderID uuid.UUID) []*OrderItem {
	out := make([]*OrderItem, 0, len(r.items[orderID]))
	for _, it := range r.items[orderID] {
		cp := *it
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TestName < out[j].TestName })
	return out
}

func (r *InMemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *InMemoryRepo) ListItems(_ context.Context, orderID uuid.UUID) ([]*OrderItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyItems(orderID), nil
}

func (r *InMemoryRepo) ListHistory(_ context.Context, orderID uuid.UUID) ([]*StatusHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*StatusHistory, 0, len(r.history[orderID]))
	for _, h := range r.history[orderID] {
		cp := *h
		out = append(out, &cp)
	}
	return out, nil
}

func (r *InMemoryRepo) TransitionStatus(_ context.Context, id uuid.UUID, to Status, actor string, comment *string) (*Order, *StatusHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if err := ValidateTransition(o.Status, to); err != nil {
		return nil, nil, err
	}
	from := o.Status
	now := r.now().UTC()
	o.Status = to
	o.UpdatedAt = now
	h := &StatusHistory{
		ID: uuid.New(), OrderID: id, PreviousStatus: &from, NewStatus: to,
		Actor: actor, Comment: comment, CreatedAt: now,
	}
	r.history[id] = append(r.history[id], h)
	cp, hcp := *o, *h
	return &cp, &hcp, nil
}
