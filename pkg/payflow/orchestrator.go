// Package payflow drives a cryptocurrency payment session from creation to
// settlement: create the payment, poll its status on a fixed interval, and map
// gateway status onto a bounded progress value.
package payflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/frankchat/tokengate/internal/models"
	"go.uber.org/zap"
)

// DefaultPollInterval matches the original client's five-second cadence.
const DefaultPollInterval = 5 * time.Second

// PaymentAPI is the slice of the server API the orchestrator needs.
type PaymentAPI interface {
	CreatePayment(ctx context.Context, req models.CreatePaymentRequest) (*models.PaymentSession, error)
	PaymentStatus(ctx context.Context, paymentID string) (models.PaymentStatus, error)
}

// Update is one observation of a running session. Terminal is set on the last
// update before the channel closes; Err is non-nil when the session failed.
type Update struct {
	Status   models.PaymentStatus
	Progress int
	Err      error
	Terminal bool
}

// Orchestrator runs at most one payment session at a time. Starting a new
// session cancels the poller of any previous one first.
type Orchestrator struct {
	api      PaymentAPI
	interval time.Duration
	log      *zap.SugaredLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewOrchestrator(api PaymentAPI, interval time.Duration, log *zap.SugaredLogger) *Orchestrator {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Orchestrator{api: api, interval: interval, log: log}
}

// Start creates a payment session and begins polling it. It returns the
// gateway's payment instructions and a channel of progress updates; the
// channel is closed exactly once, when the session reaches a terminal state
// or the context is cancelled. A create failure returns an error and no
// polling begins.
func (o *Orchestrator) Start(ctx context.Context, req models.CreatePaymentRequest) (*models.PaymentSession, <-chan Update, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// Only one live poller. Cancel the previous session and wait for its
	// goroutine to wind down before creating a new payment.
	if o.cancel != nil {
		o.cancel()
		<-o.done
	}

	session, err := o.api.CreatePayment(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("create payment: %w", err)
	}
	o.log.Infow("payment session created",
		"payment_id", session.PaymentID,
		"pay_currency", session.PayCurrency,
		"pay_amount", session.PayAmount,
	)

	pollCtx, cancel := context.WithCancel(ctx)
	updates := make(chan Update, 1)
	done := make(chan struct{})
	o.cancel = cancel
	o.done = done

	go o.poll(pollCtx, session.PaymentID, updates, done)
	return session, updates, nil
}

// Stop cancels the live session, if any, and waits for its poller to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
		<-o.done
		o.cancel = nil
		o.done = nil
	}
}

// poll is the only writer of updates; returning closes the channel, so every
// terminal branch stops the ticker exactly once.
func (o *Orchestrator) poll(ctx context.Context, paymentID string, updates chan<- Update, done chan<- struct{}) {
	defer close(done)
	defer close(updates)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	progress := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := o.api.PaymentStatus(ctx, paymentID)
		if err != nil {
			// A failed poll fails the session; the next session is a
			// fresh start, there is no in-session retry policy.
			o.send(ctx, updates, Update{Progress: progress, Err: err, Terminal: true})
			return
		}

		// Progress never regresses even if the gateway's status does.
		if p := progressFor(status); p > progress {
			progress = p
		}

		switch {
		case status == models.StatusFinished:
			o.log.Infow("payment finished", "payment_id", paymentID)
			o.send(ctx, updates, Update{Status: status, Progress: 100, Terminal: true})
			return
		case status.Terminal():
			o.log.Warnw("payment failed", "payment_id", paymentID, "status", status)
			o.send(ctx, updates, Update{
				Status:   status,
				Progress: progress,
				Err:      fmt.Errorf("payment %s", status),
				Terminal: true,
			})
			return
		default:
			o.send(ctx, updates, Update{Status: status, Progress: progress})
		}
	}
}

func (o *Orchestrator) send(ctx context.Context, updates chan<- Update, u Update) {
	if u.Terminal {
		select {
		case updates <- u:
		case <-ctx.Done():
		}
		return
	}
	// Intermediate updates are droppable; a lagging consumer must not
	// stall the poller.
	select {
	case updates <- u:
	default:
	}
}

// progressFor maps gateway status to the bounded progress indicator.
func progressFor(status models.PaymentStatus) int {
	switch status {
	case models.StatusWaiting:
		return 25
	case models.StatusConfirming:
		return 50
	case models.StatusConfirmed:
		return 75
	case models.StatusFinished:
		return 100
	}
	return 0
}
