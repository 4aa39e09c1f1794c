// Package intake turns webhook submissions into lab orders. Every submission
// is written to the audit log before it is examined and receives exactly one
// terminal status.
package intake

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/labflow/intake/internal/domain/catalog"
	"github.com/labflow/intake/internal/domain/order"
	"github.com/labflow/intake/internal/platform/metrics"
	"github.com/labflow/intake/internal/platform/webhook"
)

const completeTimeout = 5 * time.Second

var sourcePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// metricSource keeps the source label bounded. Senders choose the path
// segment, so anything unexpected is counted as "other".
func metricSource(source string) string {
	if sourcePattern.MatchString(source) {
		return source
	}
	return "other"
}

// CatalogSource hands out a resolver over the active catalog.
type CatalogSource interface {
	Resolver(ctx context.Context) (*catalog.Resolver, error)
}

// OrderIngester performs the idempotent order upsert.
type OrderIngester interface {
	Ingest(ctx context.Context, o *order.Order, items []*order.OrderItem) (*order.IngestResult, error)
}

type Options struct {
	Secret   string
	FieldMap FieldMap
	Metrics  *metrics.IntakeMetrics
	Logger   zerolog.Logger
}

type Service struct {
	logs     webhook.LogStore
	catalog  CatalogSource
	orders   OrderIngester
	validate *validator.Validate
	secret   string
	fieldMap FieldMap
	metrics  *metrics.IntakeMetrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(logs webhook.LogStore, cat CatalogSource, orders OrderIngester, opts Options) *Service {
	if opts.FieldMap.Tests == nil {
		opts.FieldMap = DefaultFieldMap()
	}
	return &Service{
		logs:     logs,
		catalog:  cat,
		orders:   orders,
		validate: validator.New(),
		secret:   opts.Secret,
		fieldMap: opts.FieldMap,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

// Request is one webhook invocation as received.
type Request struct {
	Source       string
	ContentType  string
	Body         []byte
	HeaderSecret string
	QuerySecret  string
}

// Result describes the order written for a submission.
type Result struct {
	LogID          uuid.UUID
	OrderID        uuid.UUID
	OrderNumber    string
	Created        bool
	TestsSubmitted int
	TestsMatched   int
	TotalAmount    decimal.Decimal
	Unmatched      []string
}

// Message is the human readable summary returned to the sender.
func (r *Result) Message() string {
	msg := "Order created"
	if !r.Created {
		msg = "Order updated"
	}
	if n := len(r.Unmatched); n > 0 {
		msg += fmt.Sprintf("; %d test(s) could not be matched", n)
	}
	return msg
}

// Process runs the pipeline for one submission. Errors are always *Error.
func (s *Service) Process(ctx context.Context, req Request) (*Result, error) {
	start := s.now()

	entry := &webhook.Log{
		Source:      req.Source,
		ContentType: req.ContentType,
		Payload:     string(req.Body),
	}
	if err := s.logs.Received(ctx, entry); err != nil {
		s.metrics.ObserveRequest(metricSource(req.Source), metrics.OutcomeFailed, s.now().Sub(start))
		return nil, newError(KindUnhandledFailure, "could not record webhook", err)
	}

	logger := s.logger.With().
		Str("source", req.Source).
		Str("webhook_log_id", entry.ID.String()).
		Logger()

	res, err := s.run(ctx, req, &logger)
	outcome := s.finish(ctx, entry.ID, res, err, logger)
	s.metrics.ObserveRequest(metricSource(req.Source), outcome, s.now().Sub(start))
	if err != nil {
		return nil, err
	}
	res.LogID = entry.ID
	return res, nil
}

// Reject records a submission refused before the pipeline could run, such as
// a body over the size limit. The stored payload is whatever was read. The
// returned error is always *Error.
func (s *Service) Reject(ctx context.Context, req Request, kind Kind, msg string) error {
	start := s.now()
	ie := newError(kind, msg, nil)

	entry := &webhook.Log{
		Source:      req.Source,
		ContentType: req.ContentType,
		Payload:     string(req.Body),
	}
	outcome := kind.outcome()
	if err := s.logs.Received(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("source", req.Source).Str("kind", string(kind)).Msg("record rejected webhook")
	} else {
		logger := s.logger.With().
			Str("source", req.Source).
			Str("webhook_log_id", entry.ID.String()).
			Logger()
		outcome = s.finish(ctx, entry.ID, nil, ie, logger)
	}
	s.metrics.ObserveRequest(metricSource(req.Source), outcome, s.now().Sub(start))
	return ie
}

func (s *Service) run(ctx context.Context, req Request, logger *zerolog.Logger) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("intake pipeline panicked")
			res, err = nil, newError(KindUnhandledFailure, "internal error", fmt.Errorf("panic: %v", r))
		}
	}()

	if presented := webhook.PresentedSecret(req.HeaderSecret, req.QuerySecret, nil); presented != "" {
		if !webhook.SecretMatches(s.secret, presented) {
			return nil, newError(KindUnauthorized, "invalid webhook secret", nil)
		}
	}

	p, err := webhook.Normalize(req.Body, req.ContentType)
	if err != nil {
		return nil, newError(KindMalformedPayload, "malformed payload", err)
	}
	if !webhook.SecretMatches(s.secret, webhook.PresentedSecret(req.HeaderSecret, req.QuerySecret, p)) {
		return nil, newError(KindUnauthorized, "invalid webhook secret", nil)
	}
	if err := s.validate.Struct(p); err != nil {
		return nil, newError(KindSchemaInvalid, validationMessage(err), err)
	}

	l := logger.With().Str("entry_id", p.EntryID).Logger()
	*logger = l

	ext := Extract(p.Fields, s.fieldMap)

	resolver, err := s.catalog.Resolver(ctx)
	if err != nil {
		return nil, newError(KindUnhandledFailure, "could not load test catalog", err)
	}
	items, unmatched := s.resolve(resolver, ext, logger)

	o := s.buildOrder(req.Source, p, ext, logger)
	ir, err := s.orders.Ingest(ctx, o, items)
	if err != nil {
		return nil, newError(KindUnhandledFailure, "could not save order", err)
	}

	return &Result{
		OrderID:        ir.Order.ID,
		OrderNumber:    ir.Order.OrderNumber,
		Created:        ir.Created,
		TestsSubmitted: len(ext.Tests),
		TestsMatched:   len(ir.Items),
		TotalAmount:    ir.Order.TotalAmount,
		Unmatched:      unmatched,
	}, nil
}

// resolve matches each submitted name. A catalog entry selected twice yields
// one line item.
func (s *Service) resolve(r *catalog.Resolver, ext Extracted, logger *zerolog.Logger) ([]*order.OrderItem, []string) {
	items := make([]*order.OrderItem, 0, len(ext.Tests))
	var unmatched []string
	seen := make(map[uuid.UUID]bool, len(ext.Tests))

	for _, m := range r.ResolveAll(ext.Tests, ext.CategoryHint) {
		s.metrics.IncResolution(string(m.Stage))
		if !m.Matched() {
			logger.Warn().Str("test", m.Raw).Str("category_hint", ext.CategoryHint).Msg("unmatched test")
			unmatched = append(unmatched, m.Raw)
			continue
		}
		logger.Debug().Str("test", m.Raw).Str("stage", string(m.Stage)).Str("entry", m.Entry.Name).Msg("test resolved")
		if seen[m.Entry.ID] {
			continue
		}
		seen[m.Entry.ID] = true
		items = append(items, &order.OrderItem{
			CatalogEntryID: m.Entry.ID,
			TestName:       m.Entry.Name,
			Category:       string(m.Entry.Category),
			Price:          m.Entry.Price,
		})
	}
	return items, unmatched
}

func (s *Service) buildOrder(source string, p *webhook.Payload, ext Extracted, logger *zerolog.Logger) *order.Order {
	entryID := webhook.TextSafe(p.EntryID)
	o := &order.Order{
		ExternalID:     &entryID,
		PatientName:    ext.PatientName,
		Phone:          optional(ext.Phone),
		SecondaryPhone: optional(ext.SecondaryPhone),
		Address:        optional(ext.Address),
		PhysicianName:  optional(ext.PhysicianName),
		ClinicAddress:  optional(ext.ClinicAddress),
		Source:         source,
		RawPayload:     p.Raw(),
	}
	o.DateOfBirth = s.date("date_of_birth", ext.DateOfBirth, logger)
	o.ScheduleDate = s.date("schedule_date", ext.ScheduleDate, logger)
	o.DateOfOrder = s.date("date_of_order", ext.DateOfOrder, logger)
	if o.DateOfOrder == nil {
		d := s.now().UTC()
		d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		o.DateOfOrder = &d
	}
	if ext.ScheduleTime != "" {
		if slot, ok := order.NormalizeSlot(ext.ScheduleTime); ok {
			o.ScheduleTime = &slot
		} else {
			logger.Warn().Str("field", "schedule_time").Str("value", ext.ScheduleTime).Msg("schedule time is not a bookable slot")
		}
	}
	return o
}

func (s *Service) date(field, value string, logger *zerolog.Logger) *time.Time {
	if value == "" {
		return nil
	}
	t, ok := parseDate(value)
	if !ok {
		logger.Warn().Str("field", field).Str("value", value).Msg("unparseable date")
		return nil
	}
	return &t
}

// finish writes the terminal audit status. It runs detached from ctx so a
// cancelled request still leaves a terminal row.
func (s *Service) finish(ctx context.Context, logID uuid.UUID, res *Result, err error, logger zerolog.Logger) string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
	defer cancel()

	if err == nil {
		orderID := res.OrderID
		if cerr := s.logs.Complete(ctx, logID, webhook.LogProcessed, "", &orderID); cerr != nil {
			logger.Error().Err(cerr).Msg("complete webhook log")
		}
		logger.Info().
			Str("order_id", res.OrderID.String()).
			Str("order_number", res.OrderNumber).
			Bool("created", res.Created).
			Int("tests_submitted", res.TestsSubmitted).
			Int("tests_matched", res.TestsMatched).
			Msg("webhook processed")
		return metrics.OutcomeProcessed
	}

	kind := KindUnhandledFailure
	var ie *Error
	if errors.As(err, &ie) {
		kind = ie.Kind
	}
	if cerr := s.logs.Complete(ctx, logID, webhook.LogFailed, err.Error(), nil); cerr != nil {
		logger.Error().Err(cerr).Msg("complete webhook log")
	}
	ev := logger.Warn()
	if kind == KindUnhandledFailure {
		ev = logger.Error()
	}
	ev.Err(err).Str("kind", string(kind)).Msg("webhook rejected")
	return kind.outcome()
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid payload"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fieldName(fe.Field()), fe.Tag()))
	}
	return "invalid payload: " + strings.Join(parts, ", ")
}

func fieldName(f string) string {
	switch f {
	case "EntryID":
		return webhook.KeyEntryID
	case "FormID":
		return webhook.KeyFormID
	case "FormName":
		return webhook.KeyFormName
	}
	return f
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
