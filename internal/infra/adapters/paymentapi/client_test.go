//go:build !integration

package paymentapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/payment-status/pay-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pay-1","subjectId":"sub-7","amount":150000,"status":"PAID","createdAt":"2024-01-01T10:00:00Z"}`))
	})
	mux.HandleFunc("/payment-status/pay-1/type", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"exists":true,"type":"subscription"}`))
	})
	mux.HandleFunc("/payment-status/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_FetchStatus(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL+"/", "secret", time.Second)
	ctx := context.Background()

	t.Run("should decode a snapshot", func(t *testing.T) {
		snap, err := c.FetchStatus(ctx, "pay-1")
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if snap.Status != model.PaymentStatusPaid || snap.Amount != 150000 || snap.SubjectID != "sub-7" {
			t.Errorf("unexpected snapshot %+v", snap)
		}
		if snap.Source != model.SourcePoll || snap.ObservedAt.IsZero() {
			t.Errorf("expected poll source and observation time, got %+v", snap)
		}
		if want := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC); !snap.CreatedAt.Equal(want) {
			t.Errorf("expected createdAt %s, got %s", want, snap.CreatedAt)
		}
	})

	t.Run("should fail on non-2xx", func(t *testing.T) {
		if _, err := c.FetchStatus(ctx, "broken"); !errors.Is(err, domain.ErrStatusAPIFailure) {
			t.Errorf("expected ErrStatusAPIFailure, got %v", err)
		}
	})

	t.Run("should map 404 to payment not found", func(t *testing.T) {
		if _, err := c.FetchStatus(ctx, "missing"); !errors.Is(err, domain.ErrPaymentNotFound) {
			t.Errorf("expected ErrPaymentNotFound, got %v", err)
		}
	})

	t.Run("should fail without the token", func(t *testing.T) {
		anon := NewClient(srv.URL, "", time.Second)
		if _, err := anon.FetchStatus(ctx, "pay-1"); err == nil {
			t.Error("expected an error without the bearer token")
		}
	})
}

func TestClient_FetchType(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, "secret", time.Second)
	ctx := context.Background()

	info, err := c.FetchType(ctx, "pay-1")
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if !info.Exists || info.Kind != model.SubjectSubscription {
		t.Errorf("unexpected type info %+v", info)
	}

	info, err = c.FetchType(ctx, "missing")
	if err != nil {
		t.Fatalf("expected 404 to be a normal answer, got %v", err)
	}
	if info.Exists {
		t.Error("expected exists=false for an unknown payment")
	}
}
