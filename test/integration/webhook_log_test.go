//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/labflow/intake/internal/platform/webhook"
)

func TestWebhookLog_Lifecycle(t *testing.T) {
	resetDB(t)
	store := webhook.NewPGLogStore(pool)
	ctx := context.Background()

	l := &webhook.Log{Source: "wpforms", ContentType: "text/plain", Payload: "a=1\x00\xff"}
	if err := store.Received(ctx, l); err != nil {
		t.Fatalf("received: %v", err)
	}
	if l.ReceivedAt.IsZero() {
		t.Error("expected received_at to be set")
	}

	if err := store.Complete(ctx, l.ID, webhook.LogFailed, "bad", nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.Complete(ctx, l.ID, webhook.LogProcessed, "", nil); !errors.Is(err, webhook.ErrLogCompleted) {
		t.Errorf("expected ErrLogCompleted, got %v", err)
	}
	if err := store.Complete(ctx, uuid.New(), webhook.LogProcessed, "", nil); !errors.Is(err, webhook.ErrLogNotFound) {
		t.Errorf("expected ErrLogNotFound, got %v", err)
	}

	got, err := store.Get(ctx, l.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != webhook.LogFailed || got.ErrorMessage == nil || *got.ErrorMessage != "bad" || got.ProcessedAt == nil {
		t.Errorf("unexpected log: %+v", got)
	}
}

func TestWebhookLog_ListFilters(t *testing.T) {
	resetDB(t)
	store := webhook.NewPGLogStore(pool)
	ctx := context.Background()

	for _, src := range []string{"wpforms", "wpforms", "jotform"} {
		l := &webhook.Log{Source: src, Payload: "{}"}
		if err := store.Received(ctx, l); err != nil {
			t.Fatalf("received: %v", err)
		}
	}

	logs, total, err := store.List(ctx, webhook.LogFilter{Source: "wpforms", Limit: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(logs) != 1 {
		t.Errorf("expected 1 of 2 wpforms logs, got %d of %d", len(logs), total)
	}

	_, total, err = store.List(ctx, webhook.LogFilter{Status: webhook.LogProcessed})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 0 {
		t.Errorf("expected no processed logs, got %d", total)
	}
}

func TestWebhookLog_UnstorableSourceAndContentType(t *testing.T) {
	resetDB(t)
	store := webhook.NewPGLogStore(pool)
	ctx := context.Background()

	l := &webhook.Log{Source: "formul\xc3", ContentType: "text/plain; charset=\xe9", Payload: "{}"}
	if err := store.Received(ctx, l); err != nil {
		t.Fatalf("received: %v", err)
	}

	got, err := store.Get(ctx, l.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Source != "formul�" || got.ContentType != "text/plain; charset=�" {
		t.Errorf("unexpected stored values: source=%q content_type=%q", got.Source, got.ContentType)
	}
}
