package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the order workflow state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// PlaceholderPatientName is stored when a submission carries no patient name.
const PlaceholderPatientName = "Unknown Patient"

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusCompleted, StatusCancelled},
	StatusCompleted: {StatusCancelled},
}

// ValidateTransition reports whether an order may move from one status to
// another. Staying in the same status is rejected.
func ValidateTransition(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}

type Order struct {
	ID              uuid.UUID       `json:"id"`
	ExternalID      *string         `json:"external_id,omitempty"`
	OrderNumber     string          `json:"order_number"`
	PatientName     string          `json:"patient_name"`
	DateOfBirth     *time.Time      `json:"date_of_birth,omitempty"`
	Phone           *string         `json:"phone,omitempty"`
	SecondaryPhone  *string         `json:"secondary_phone,omitempty"`
	Address         *string         `json:"address,omitempty"`
	PhysicianName   *string         `json:"physician_name,omitempty"`
	ClinicAddress   *string         `json:"clinic_address,omitempty"`
	ScheduleDate    *time.Time      `json:"schedule_date,omitempty"`
	ScheduleTime    *string         `json:"schedule_time,omitempty"`
	DateOfOrder     *time.Time      `json:"date_of_order,omitempty"`
	Source          string          `json:"source"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Status          Status          `json:"status"`
	AssignedStaffID *uuid.UUID      `json:"assigned_staff_id,omitempty"`
	Notes           *string         `json:"notes,omitempty"`
	RawPayload      json.RawMessage `json:"raw_payload,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// MarshalJSON renders money with two decimals and calendar dates without a
// time component.
func (o Order) MarshalJSON() ([]byte, error) {
	type alias Order
	return json.Marshal(struct {
		alias
		TotalAmount  string  `json:"total_amount"`
		DateOfBirth  *string `json:"date_of_birth,omitempty"`
		ScheduleDate *string `json:"schedule_date,omitempty"`
		DateOfOrder  *string `json:"date_of_order,omitempty"`
	}{
		alias:        alias(o),
		TotalAmount:  FormatAmount(o.TotalAmount),
		DateOfBirth:  formatDate(o.DateOfBirth),
		ScheduleDate: formatDate(o.ScheduleDate),
		DateOfOrder:  formatDate(o.DateOfOrder),
	})
}

type OrderItem struct {
	ID             uuid.UUID       `json:"id"`
	OrderID        uuid.UUID       `json:"order_id"`
	CatalogEntryID uuid.UUID       `json:"catalog_entry_id"`
	TestName       string          `json:"test_name"`
	Category       string          `json:"category"`
	Price          decimal.Decimal `json:"price"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (i OrderItem) MarshalJSON() ([]byte, error) {
	type alias OrderItem
	return json.Marshal(struct {
		alias
		Price string `json:"price"`
	}{alias(i), FormatAmount(i.Price)})
}

type StatusHistory struct {
	ID             uuid.UUID `json:"id"`
	OrderID        uuid.UUID `json:"order_id"`
	PreviousStatus *Status   `json:"previous_status"`
	NewStatus      Status    `json:"new_status"`
	Actor          string    `json:"actor"`
	Comment        *string   `json:"comment,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// IngestResult describes the order row after an idempotent ingest. Items are
// the order's stored line items, which a redelivery never changes.
type IngestResult struct {
	Order               *Order
	Items               []*OrderItem
	Created             bool
	OrderNumberAttempts int
}

// Detail is an order with its line items and status trail.
type Detail struct {
	*Order
	Items   []*OrderItem     `json:"items"`
	History []*StatusHistory `json:"history"`
}

func (d Detail) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(d.Order)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	if m["items"], err = json.Marshal(nonNil(d.Items)); err != nil {
		return nil, err
	}
	if m["history"], err = json.Marshal(nonNilHistory(d.History)); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Total sums snapshot prices and rounds to cents.
func Total(items []*OrderItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Price)
	}
	return sum.Round(2)
}

// FormatAmount renders an amount with exactly two decimals.
func FormatAmount(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format("2006-01-02")
	return &s
}

func nonNil(items []*OrderItem) []*OrderItem {
	if items == nil {
		return []*OrderItem{}
	}
	return items
}

func nonNilHistory(h []*StatusHistory) []*StatusHistory {
	if h == nil {
		return []*StatusHistory{}
	}
	return h
}
