package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLastLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	lines := strings.Split(buf.String(), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}

		var payload map[string]any
		if err := json.Unmarshal([]byte(lines[i]), &payload); err != nil {
			t.Fatalf("failed to decode log line: %v", err)
		}
		return payload
	}

	t.Fatal("no log lines found")
	return nil
}

func TestWithContextInjectsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	log := New("payment-saga", &buf)

	ctx := ContextWithCorrelationID(context.Background(), "corr-123")
	log.WithContext(ctx).Info("payment authorized")

	payload := decodeLastLogLine(t, &buf)

	if payload["service"] != "payment-saga" {
		t.Fatalf("expected service to be injected, got %v", payload["service"])
	}
	if payload["correlationId"] != "corr-123" {
		t.Fatalf("expected correlationId to be injected, got %v", payload["correlationId"])
	}
	if payload["timestamp"] == nil {
		t.Fatalf("expected timestamp to be injected")
	}
	if payload["level"] != "info" {
		t.Fatalf("expected level to be info, got %v", payload["level"])
	}
	if payload["message"] != "payment authorized" {
		t.Fatalf("expected message to match, got %v", payload["message"])
	}
}

func TestWithContextWithoutCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	log := New("payment-saga", &buf)

	log.WithContext(context.Background()).Warn("no correlation")

	payload := decodeLastLogLine(t, &buf)

	if _, ok := payload["correlationId"]; ok {
		t.Fatalf("expected no correlationId field, got %v", payload["correlationId"])
	}
	if payload["level"] != "warn" {
		t.Fatalf("expected level to be warn, got %v", payload["level"])
	}
}

func TestInfofFields(t *testing.T) {
	var buf bytes.Buffer
	log := New("settlement", &buf)

	log.Infof("payment settled", map[string]interface{}{
		"paymentId": "pay-1",
		"attempts":  2,
	})

	payload := decodeLastLogLine(t, &buf)

	if payload["paymentId"] != "pay-1" {
		t.Fatalf("expected paymentId field, got %v", payload["paymentId"])
	}
	if payload["attempts"] != float64(2) {
		t.Fatalf("expected attempts field, got %v", payload["attempts"])
	}
}

func TestWithErrorAndField(t *testing.T) {
	var buf bytes.Buffer
	log := New("reconciliation", &buf)

	log.WithError(errors.New("scope unreadable")).WithField("reconciliationId", "rec-1").Error("run failed")

	payload := decodeLastLogLine(t, &buf)

	if payload["error"] != "scope unreadable" {
		t.Fatalf("expected error field, got %v", payload["error"])
	}
	if payload["reconciliationId"] != "rec-1" {
		t.Fatalf("expected reconciliationId field, got %v", payload["reconciliationId"])
	}
	if payload["level"] != "error" {
		t.Fatalf("expected level to be error, got %v", payload["level"])
	}
}

func TestCorrelationIDFromContext(t *testing.T) {
	if got := CorrelationIDFromContext(nil); got != "" {
		t.Fatalf("expected empty for nil context, got %q", got)
	}
	if got := CorrelationIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty for bare context, got %q", got)
	}
	ctx := ContextWithCorrelationID(context.Background(), "corr-9")
	if got := CorrelationIDFromContext(ctx); got != "corr-9" {
		t.Fatalf("expected corr-9, got %q", got)
	}
}
