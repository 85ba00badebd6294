// Package webhook implements C5: at-least-once, per-job-ordered HTTP
// POST delivery of pipeline events, grounded on the original
// WebhookService's retry-with-backoff envelope, reimplemented with a
// real backoff/breaker library stack as the idiomatic Go upgrade.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	neturl "net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"forensic-pipeline/internal/config"
	"forensic-pipeline/internal/metrics"
)

// Event names recognized by the dispatcher (spec §4.5).
const (
	EventUploadCompleted = "analysis.upload.completed"
	EventStarted          = "analysis.started"
	EventStepStarted      = "analysis.step.started"
	EventStepCompleted    = "analysis.step.completed"
	EventCompleted        = "analysis.completed"
	EventFailed           = "analysis.failed"
)

// Envelope is the wire shape of every delivered event (spec §4.5).
type Envelope struct {
	Event     string `json:"event"`
	AnalysisID string `json:"analysis_id"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// Dispatcher owns one bounded, drained channel per job so that events
// within a job are never reordered, while jobs deliver independently
// (spec §9 "per-job ordered event stream").
type Dispatcher struct {
	client         *http.Client
	retryAttempts  int
	timeoutSeconds int
	mutable        *config.Mutable
	log            *logrus.Logger

	mu       sync.Mutex
	queues   map[string]chan deliverTask
	breakers map[string]*gobreaker.CircuitBreaker
}

type deliverTask struct {
	url string
	env Envelope
}

// New builds a Dispatcher with the configured per-request timeout and
// retry budget (spec §6.4 webhook_timeout_seconds/webhook_retry_attempts).
func New(timeoutSeconds, retryAttempts int, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		client:         &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		retryAttempts:  retryAttempts,
		timeoutSeconds: timeoutSeconds,
		log:            log,
		queues:         make(map[string]chan deliverTask),
		breakers:       make(map[string]*gobreaker.CircuitBreaker),
	}
}

// WithMutable attaches the hot-reloadable config subset: subsequent
// deliveries read the current timeout/retry budget from mutable instead
// of the values baked in at New (spec §6.4's webhook_timeout_seconds
// and webhook_retry_attempts become live-tunable).
func (d *Dispatcher) WithMutable(mutable *config.Mutable) *Dispatcher {
	d.mutable = mutable
	return d
}

// budget returns the retry attempts and per-request timeout to use for
// the next delivery, preferring the live snapshot when one is attached.
func (d *Dispatcher) budget() (retryAttempts int, timeout time.Duration) {
	if d.mutable == nil {
		return d.retryAttempts, time.Duration(d.timeoutSeconds) * time.Second
	}
	_, webhookTimeout, webhookRetries := d.mutable.Snapshot()
	return webhookRetries, time.Duration(webhookTimeout) * time.Second
}

// Emit enqueues an event for a job. It never blocks the caller on
// network I/O: the send happens on the job's dedicated goroutine.
func (d *Dispatcher) Emit(jobID, webhookURL, event string, data any) {
	if webhookURL == "" {
		return
	}
	env := Envelope{
		Event:      event,
		AnalysisID: jobID,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Data:       data,
	}
	d.queueFor(jobID).queue <- deliverTask{url: webhookURL, env: env}
}

type jobQueue struct {
	queue chan deliverTask
}

func (d *Dispatcher) queueFor(jobID string) jobQueue {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.queues[jobID]
	if !ok {
		ch = make(chan deliverTask, 32)
		d.queues[jobID] = ch
		go d.drain(jobID, ch)
	}
	return jobQueue{queue: ch}
}

func (d *Dispatcher) breakerFor(host string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.breakers[host]
	if !ok {
		b = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "webhook:" + host,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		})
		d.breakers[host] = b
	}
	return b
}

func (d *Dispatcher) drain(jobID string, ch chan deliverTask) {
	for task := range ch {
		d.deliver(jobID, task)
	}
}

// deliver attempts delivery with exponential backoff, making at most
// retryAttempts attempts in total, where retryAttempts is taken from
// budget() at the start of the delivery. Final failure is logged and never propagated —
// webhook failures MUST NOT fail the job (spec §4.5, §7).
func (d *Dispatcher) deliver(jobID string, task deliverTask) {
	body, err := json.Marshal(task.env)
	if err != nil {
		d.log.WithError(err).WithField("job_id", jobID).Error("failed to encode webhook envelope")
		return
	}

	retryAttempts, timeout := d.budget()

	host := task.url
	if u, perr := neturl.Parse(task.url); perr == nil && u.Host != "" {
		host = u.Host
	}
	breaker := d.breakerFor(host)
	operation := func() (struct{}, error) {
		_, err := breaker.Execute(func() (any, error) {
			return nil, d.post(task.url, body, timeout)
		})
		return struct{}{}, err
	}

	expBackoff := backoff.NewExponentialBackOff()
	_, err = backoff.Retry(context.Background(), operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(retryAttempts)),
	)
	if err != nil {
		metrics.WebhookDeliveryFailures.Inc()
		d.log.WithError(err).WithFields(logrus.Fields{
			"job_id": jobID, "event": task.env.Event, "url": task.url,
		}).Warn("webhook delivery exhausted retries, giving up")
	}
}

func (d *Dispatcher) post(url string, body []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
