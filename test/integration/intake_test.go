//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/labflow/intake/internal/domain/intake"
	"github.com/labflow/intake/internal/domain/order"
	"github.com/labflow/intake/internal/platform/webhook"
)

func submit(body string) intake.Request {
	return intake.Request{Source: "wpforms", ContentType: "application/json", Body: []byte(body)}
}

func TestIntake_ScenarioA_CategoryPrice(t *testing.T) {
	st := newStack(t, "")
	ctx := context.Background()

	res, err := st.intake.Process(ctx, submit(
		`{"entry_id":"a-1","entries":{"patient_name":"Jane Roe","tests":["drug-screening-and-confirmation-$140"],"category":"drug-testing"}}`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.TestsMatched != 1 || order.FormatAmount(res.TotalAmount) != "140.00" {
		t.Fatalf("unexpected result: matched=%d total=%s", res.TestsMatched, res.TotalAmount)
	}

	d, err := st.orders.GetOrder(ctx, res.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if len(d.Items) != 1 || d.Items[0].TestName != "Comprehensive Drug Screen" {
		t.Fatalf("unexpected items: %+v", d.Items)
	}
	if d.Items[0].Category != "drug_testing" {
		t.Errorf("expected denormalized category drug_testing, got %q", d.Items[0].Category)
	}
	if len(d.History) != 1 || d.History[0].PreviousStatus != nil || d.History[0].Actor != "webhook:wpforms" {
		t.Errorf("unexpected initial history: %+v", d.History)
	}
}

func TestIntake_ScenarioB_ExactWins(t *testing.T) {
	st := newStack(t, "")

	res, err := st.intake.Process(context.Background(), submit(`{"entry_id":"b-1","entries":{"tests":"Hemoglobin A1c"}}`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	items, err := st.orders.GetOrder(context.Background(), res.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got := items.Items[0].TestName; got != "Hemoglobin A1c" {
		t.Errorf("expected exact entry, got %q", got)
	}
}

func TestIntake_ScenarioC_Redelivery(t *testing.T) {
	st := newStack(t, "")
	ctx := context.Background()

	first, err := st.intake.Process(ctx, submit(
		`{"entry_id":"c-1","entries":{"patient_name":"Jane Roe","phone":"555-0100","tests":["Lipid Panel","Hemoglobin A1c"]}}`))
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	second, err := st.intake.Process(ctx, submit(
		`{"entry_id":"c-1","entries":{"patient_name":"Jane Roe","phone":"555-0200","tests":["Lipid Panel"]}}`))
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if second.Created || second.OrderID != first.OrderID {
		t.Fatalf("redelivery created a new order: %+v", second)
	}
	if n := count(t, `SELECT count(*) FROM orders WHERE external_id = $1`, "c-1"); n != 1 {
		t.Errorf("expected 1 order, got %d", n)
	}
	if n := count(t, `SELECT count(*) FROM order_items WHERE order_id = $1`, first.OrderID); n != 2 {
		t.Errorf("expected items untouched (2), got %d", n)
	}

	d, err := st.orders.GetOrder(ctx, first.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if d.Phone == nil || *d.Phone != "555-0200" {
		t.Errorf("expected phone refreshed to 555-0200, got %v", d.Phone)
	}
	if order.FormatAmount(d.TotalAmount) != "65.50" {
		t.Errorf("expected total to stay 65.50, got %s", order.FormatAmount(d.TotalAmount))
	}
	if len(d.History) != 1 {
		t.Errorf("redelivery must not append history, got %d rows", len(d.History))
	}
}

func TestIntake_ScenarioD_MissingSecret(t *testing.T) {
	st := newStack(t, "s3cret")

	_, err := st.intake.Process(context.Background(), submit(`{"entry_id":"d-1","entries":{"tests":"Lipid Panel"}}`))
	var ie *intake.Error
	if !errors.As(err, &ie) || ie.Kind != intake.KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	if n := count(t, `SELECT count(*) FROM orders`); n != 0 {
		t.Errorf("expected no orders, got %d", n)
	}
	if n := count(t, `SELECT count(*) FROM webhook_logs WHERE status = 'failed' AND error_message IS NOT NULL`); n != 1 {
		t.Errorf("expected one failed audit row, got %d", n)
	}
}

func TestIntake_ZeroMatch(t *testing.T) {
	st := newStack(t, "")

	res, err := st.intake.Process(context.Background(), submit(`{"entry_id":"z-1","entries":{"tests":"Unicorn Panel, Retired Panel"}}`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.TestsMatched != 0 || order.FormatAmount(res.TotalAmount) != "0.00" {
		t.Errorf("expected empty order, got matched=%d total=%s", res.TestsMatched, res.TotalAmount)
	}
	if n := count(t, `SELECT count(*) FROM order_items`); n != 0 {
		t.Errorf("expected no items, got %d", n)
	}

	var status string
	var orderID *string
	err = pool.QueryRow(context.Background(),
		`SELECT status, order_id::text FROM webhook_logs WHERE id = $1`, res.LogID).Scan(&status, &orderID)
	if err != nil {
		t.Fatalf("read audit row: %v", err)
	}
	if status != string(webhook.LogProcessed) || orderID == nil || *orderID != res.OrderID.String() {
		t.Errorf("unexpected audit row: status=%s order=%v", status, orderID)
	}
}

func TestIntake_ConcurrentRedeliveries(t *testing.T) {
	st := newStack(t, "")
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"entry_id":"race-1","entries":{"phone":"555-01%02d","tests":["Lipid Panel"]}}`, i)
			if _, err := st.intake.Process(ctx, submit(body)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent delivery failed: %v", err)
	}

	if got := count(t, `SELECT count(*) FROM orders WHERE external_id = 'race-1'`); got != 1 {
		t.Errorf("expected exactly one order, got %d", got)
	}
	if got := count(t, `SELECT count(*) FROM order_items`); got != 1 {
		t.Errorf("expected exactly one item, got %d", got)
	}
	if got := count(t, `SELECT count(*) FROM webhook_logs WHERE status = 'processed'`); got != n {
		t.Errorf("expected %d processed audit rows, got %d", n, got)
	}
}

func TestIntake_RawPayloadStored(t *testing.T) {
	st := newStack(t, "")
	body := `{"entry_id":"r-1","form_id":"7","entries":{"tests":"Lipid Panel","__meta":{"x":1}}}`

	res, err := st.intake.Process(context.Background(), submit(body))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	var formID string
	err = pool.QueryRow(context.Background(), `SELECT raw_payload->>'form_id' FROM orders WHERE id = $1`, res.OrderID).Scan(&formID)
	if err != nil {
		t.Fatalf("read raw payload: %v", err)
	}
	if formID != "7" {
		t.Errorf("expected raw payload kept verbatim, got form_id=%q", formID)
	}
}

func TestIntake_UnstorableCharactersPersist(t *testing.T) {
	st := newStack(t, "")
	ctx := context.Background()
	body := "{\"entry_id\":\"n-1\\u0000\",\"entries\":{\"patient_name\":\"Jane\\u0000 Roe\",\"note\":\"bad \xff byte\",\"tests\":\"Lipid Panel\"}}"

	res, err := st.intake.Process(ctx, submit(body))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	d, err := st.orders.GetOrder(ctx, res.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if d.Order.PatientName != "Jane Roe" {
		t.Errorf("expected NUL stripped from patient name, got %q", d.Order.PatientName)
	}

	var note string
	if err := pool.QueryRow(ctx, `SELECT raw_payload->'entries'->>'note' FROM orders WHERE id = $1`, res.OrderID).Scan(&note); err != nil {
		t.Fatalf("read raw payload: %v", err)
	}
	if note != "bad � byte" {
		t.Errorf("unexpected stored note %q", note)
	}
	if n := count(t, `SELECT COUNT(*) FROM webhook_logs WHERE status = 'processed'`); n != 1 {
		t.Errorf("expected 1 processed log, got %d", n)
	}
}
