package services

import (
	"context"
	"sync"
	"time"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
)

// Notifier delivers staff-facing notifications. Implementations may be slow
// or fail; the services never wait for them inside a transaction and never
// surface their errors to callers.
type Notifier interface {
	NotifyNewOrder(ctx context.Context, order *domain.Order) error
	NotifyTransition(ctx context.Context, order *domain.Order, actor domain.Actor) error
	NotifyRedemption(ctx context.Context, r *domain.Redemption) error
	NotifyRedemptionUsed(ctx context.Context, r *domain.Redemption, actor domain.Actor) error
}

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) NotifyNewOrder(context.Context, *domain.Order) error { return nil }
func (NopNotifier) NotifyTransition(context.Context, *domain.Order, domain.Actor) error {
	return nil
}
func (NopNotifier) NotifyRedemption(context.Context, *domain.Redemption) error { return nil }
func (NopNotifier) NotifyRedemptionUsed(context.Context, *domain.Redemption, domain.Actor) error {
	return nil
}

// Dispatcher runs notifications in the background after a commit. Each run
// gets a context detached from the request, bounded by Timeout.
type Dispatcher struct {
	Timeout time.Duration

	mu       sync.Mutex
	notifier Notifier
	wg       sync.WaitGroup
}

// NewDispatcher returns a Dispatcher. A nil notifier discards everything.
func NewDispatcher(n Notifier, timeout time.Duration) *Dispatcher {
	if n == nil {
		n = NopNotifier{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{notifier: n, Timeout: timeout}
}

// SetNotifier swaps the notifier. Used to break the construction cycle
// between the services and the staff channel.
func (d *Dispatcher) SetNotifier(n Notifier) {
	if n == nil {
		n = NopNotifier{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifier = n
}

func (d *Dispatcher) current() Notifier {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.notifier
}

// Go runs fn in a tracked goroutine. Errors are logged, never returned.
func (d *Dispatcher) Go(ctx context.Context, what string, fn func(ctx context.Context, n Notifier) error) {
	if d == nil {
		return
	}
	n := d.current()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.Timeout)
		defer cancel()
		if err := fn(nctx, n); err != nil {
			logger(ctx).Warn().Err(err).Str("notification", what).Msg("staff notification failed")
		}
	}()
}

// Wait blocks until every dispatched notification has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
