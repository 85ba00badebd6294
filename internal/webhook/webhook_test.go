package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"forensic-pipeline/internal/config"
)

func newTestDispatcher() *Dispatcher {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return New(2, 3, log)
}

func TestEmit_SkipsWhenWebhookURLEmpty(t *testing.T) {
	var hit bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher()
	d.Emit("job-1", "", EventStarted, map[string]any{})
	time.Sleep(50 * time.Millisecond)
	if hit {
		t.Error("expected no delivery attempt with an empty webhook URL")
	}
}

func TestEmit_DeliversEnvelopeShape(t *testing.T) {
	received := make(chan Envelope, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("failed to decode envelope: %v", err)
		}
		received <- env
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher()
	d.Emit("job-42", srv.URL, EventStepCompleted, map[string]any{"stage": "prnu"})

	select {
	case env := <-received:
		if env.Event != EventStepCompleted {
			t.Errorf("expected event %q, got %q", EventStepCompleted, env.Event)
		}
		if env.AnalysisID != "job-42" {
			t.Errorf("expected analysis_id job-42, got %q", env.AnalysisID)
		}
		if _, err := time.Parse(time.RFC3339, env.Timestamp); err != nil {
			t.Errorf("timestamp not RFC3339: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for webhook delivery")
	}
}

func TestEmit_RetriesOnFailureThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher()
	d.Emit("job-flaky", srv.URL, EventCompleted, map[string]any{})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := attempts
		mu.Unlock()
		if n >= 3 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("expected at least 3 attempts, got %d", attempts)
}

func TestEmit_OrdersEventsWithinAJob(t *testing.T) {
	var mu sync.Mutex
	var order []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env Envelope
		json.NewDecoder(r.Body).Decode(&env)
		mu.Lock()
		order = append(order, env.Event)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher()
	events := []string{EventStarted, EventStepStarted, EventStepCompleted, EventCompleted}
	for _, ev := range events {
		d.Emit("job-ordered", srv.URL, ev, map[string]any{})
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == len(events) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(events) {
		t.Fatalf("expected %d deliveries, got %d: %v", len(events), len(order), order)
	}
	for i, ev := range events {
		if order[i] != ev {
			t.Errorf("position %d: expected %s, got %s", i, ev, order[i])
		}
	}
}

func TestWithMutable_LiveRetryBudgetOverridesConstructionValue(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	// Construct with a retry budget of 1, then attach a Mutable snapshot
	// raising it to 4: delivery should honor the live value, not the one
	// baked in at New (spec §6.4's knobs are hot-tunable).
	d := New(2, 1, log)
	mutable := config.NewMutable(&config.Config{WorkerPoolSize: 1, WebhookTimeoutSeconds: 2, WebhookRetryAttempts: 4})
	d.WithMutable(mutable)

	d.Emit("job-live-budget", srv.URL, EventStarted, map[string]any{})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := attempts
		mu.Unlock()
		if n >= 4 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	t.Fatalf("expected at least 4 attempts honoring the live retry budget, got %d", attempts)
}

func TestEmit_DoesNotBlockCallerOnSlowEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher()
	start := time.Now()
	d.Emit("job-slow", srv.URL, EventStarted, map[string]any{})
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Emit should return immediately, took %v", elapsed)
	}
}
