package listingstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fenixbot/internal/domain"
)

func listing() domain.Listing {
	return domain.Listing{
		RequestID: "req-1",
		SellerID:  "u1",
		BotID:     "bot-1",
		Price:     decimal.RequireFromString("10.00"),
		Item:      domain.ItemDetails{AssetID: "A1", DisplayName: "Widget Mk2"},
		Status:    "active",
	}
}

func TestCreateListingRetriesAndSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if r.URL.Path != "/listings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Idempotency-Key") != "req-1" {
			t.Errorf("missing idempotency header")
		}
		var got domain.Listing
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil || got.Item.DisplayName != "Widget Mk2" {
			t.Errorf("unexpected body %+v err=%v", got, err)
		}
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream error"))
			return
		}
		_, _ = w.Write([]byte(`{"listing_id":"L-77"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 2*time.Second, 3, 5*time.Millisecond, 20*time.Millisecond)
	id, err := client.CreateListing(context.Background(), listing())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if id != "L-77" {
		t.Fatalf("expected L-77, got %q", id)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestCreateListingFailsAfterMaxRetries(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 2*time.Second, 2, 5*time.Millisecond, 20*time.Millisecond)
	if _, err := client.CreateListing(context.Background(), listing()); err == nil {
		t.Fatalf("expected failure, got nil")
	}
	if atomic.LoadInt32(&attempts) != 3 { // initial + 2 retries
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestCreateListingDoesNotRetryRejection(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 2*time.Second, 3, 5*time.Millisecond, 20*time.Millisecond)
	if _, err := client.CreateListing(context.Background(), listing()); err == nil {
		t.Fatalf("expected failure, got nil")
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestCreateListingConflictReturnsExistingListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"listing_id":"L-1"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 2*time.Second, 0, time.Millisecond, time.Millisecond)
	id, err := client.CreateListing(context.Background(), listing())
	if err != nil || id != "L-1" {
		t.Fatalf("expected existing listing L-1, got %q err=%v", id, err)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	c := NewClient("http://x", time.Second, 5, 10*time.Millisecond, 50*time.Millisecond)
	if c.backoff(0) != 10*time.Millisecond || c.backoff(2) != 40*time.Millisecond || c.backoff(4) != 50*time.Millisecond {
		t.Fatalf("unexpected backoff schedule %v %v %v", c.backoff(0), c.backoff(2), c.backoff(4))
	}
}
