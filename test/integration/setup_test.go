//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/labflow/intake/internal/domain/catalog"
	"github.com/labflow/intake/internal/domain/intake"
	"github.com/labflow/intake/internal/domain/order"
	"github.com/labflow/intake/internal/platform/db"
	"github.com/labflow/intake/internal/platform/metrics"
	"github.com/labflow/intake/internal/platform/webhook"
	"github.com/labflow/intake/migrations"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr, cleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		os.Exit(1)
	}

	pool, err = db.NewPool(ctx, db.PoolConfig{URL: connStr, MaxConns: 20})
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}

	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx, db.DefaultSchema); err != nil {
		pool.Close()
		cleanup()
		fmt.Fprintf(os.Stderr, "failed to migrate: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

// resetDB empties every table between tests.
func resetDB(t *testing.T) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`TRUNCATE webhook_logs, status_history, order_items, orders, catalog_entries`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

const seedYAML = `
entries:
  - name: Hemoglobin A1c
    category: blood_work
    price: "35.00"
  - name: Hemoglobin A1c - $35
    category: blood_work
    price: "35.00"
  - name: Comprehensive Drug Screen
    category: drug_testing
    price: "140.00"
  - name: Complete Blood Count (CBC)
    category: blood_work
    price: "25.00"
  - name: Lipid Panel
    category: blood_work
    price: "30.50"
  - name: Retired Panel
    category: other
    price: "10.00"
    active: false
`

func seedCatalog(t *testing.T) *catalog.Service {
	t.Helper()
	svc := catalog.NewService(catalog.NewRepoPG(pool))
	if _, err := svc.Seed(context.Background(), strings.NewReader(seedYAML)); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	return svc
}

type stack struct {
	catalog *catalog.Service
	orders  *order.Service
	logs    *webhook.PGLogStore
	intake  *intake.Service
}

func newStack(t *testing.T, secret string) *stack {
	t.Helper()
	resetDB(t)
	m := metrics.New(prometheus.NewRegistry())
	st := &stack{
		catalog: seedCatalog(t),
		orders:  order.NewService(order.NewRepoPG(pool), m),
		logs:    webhook.NewPGLogStore(pool),
	}
	st.intake = intake.NewService(st.logs, st.catalog, st.orders, intake.Options{
		Secret:  secret,
		Metrics: m,
		Logger:  zerolog.Nop(),
	})
	return st
}

func count(t *testing.T, query string, args ...interface{}) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}
