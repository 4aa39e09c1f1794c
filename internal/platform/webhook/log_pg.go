package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGLogStore writes audit rows straight to the pool so they survive a rolled
// back ingestion transaction.
type PGLogStore struct {
	pool *pgxpool.Pool
}

func NewPGLogStore(pool *pgxpool.Pool) *PGLogStore {
	return &PGLogStore{pool: pool}
}

const logCols = `id, source, content_type, payload, status, error_message, order_id, received_at, processed_at`

func scanLog(row pgx.Row) (*Log, error) {
	var l Log
	err := row.Scan(&l.ID, &l.Source, &l.ContentType, &l.Payload, &l.Status,
		&l.ErrorMessage, &l.OrderID, &l.ReceivedAt, &l.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLogNotFound
	}
	return &l, err
}

// Received stores the request as text. Every column goes through TextSafe so
// the row is written whatever bytes the sender used.
func (s *PGLogStore) Received(ctx context.Context, l *Log) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.Status = LogReceived
	err := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_logs (id, source, content_type, payload, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING received_at`,
		l.ID, TextSafe(l.Source), TextSafe(l.ContentType), TextSafe(l.Payload), l.Status).Scan(&l.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert webhook log: %w", err)
	}
	return nil
}

func (s *PGLogStore) Complete(ctx context.Context, id uuid.UUID, status LogStatus, errMsg string, orderID *uuid.UUID) error {
	var msg *string
	if errMsg != "" {
		msg = &errMsg
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_logs
		SET status = $2, error_message = $3, order_id = $4, processed_at = now()
		WHERE id = $1 AND status = 'received'`,
		id, status, msg, orderID)
	if err != nil {
		return fmt.Errorf("complete webhook log: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM webhook_logs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check webhook log: %w", err)
	}
	if exists {
		return ErrLogCompleted
	}
	return ErrLogNotFound
}

func (s *PGLogStore) Get(ctx context.Context, id uuid.UUID) (*Log, error) {
	return scanLog(s.pool.QueryRow(ctx, `SELECT `+logCols+` FROM webhook_logs WHERE id = $1`, id))
}

func (s *PGLogStore) List(ctx context.Context, f LogFilter) ([]*Log, int, error) {
	var where []string
	var args []interface{}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Source != "" {
		args = append(args, f.Source)
		where = append(where, fmt.Sprintf("source = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_logs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count webhook logs: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM webhook_logs%s ORDER BY received_at DESC, id LIMIT $%d OFFSET $%d`,
		logCols, clause, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list webhook logs: %w", err)
	}
	defer rows.Close()

	var items []*Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, l)
	}
	return items, total, rows.Err()
}
