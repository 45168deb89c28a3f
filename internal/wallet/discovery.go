package wallet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/referral-dashboard/internal/logging"
	"github.com/referral-dashboard/internal/retry"
)

// ErrNoProvider is returned when no provider was announced before the deadline
var ErrNoProvider = errors.New("no wallet provider available")

// Discovery holds the wallet provider announced by the environment.
// Waiters block on a single deadline rather than polling.
type Discovery struct {
	mu       sync.Mutex
	provider Provider
	ready    chan struct{}
}

// NewDiscovery creates an empty discovery
func NewDiscovery() *Discovery {
	return &Discovery{ready: make(chan struct{})}
}

// Announce publishes a provider, waking every waiter. A later announcement
// replaces the current provider.
func (d *Discovery) Announce(p Provider) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.provider = p
	select {
	case <-d.ready:
	default:
		close(d.ready)
	}
}

// Current returns the announced provider, if any
func (d *Discovery) Current() (Provider, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.provider, d.provider != nil
}

// Wait blocks until a provider is announced, the timeout elapses or ctx ends
func (d *Discovery) Wait(ctx context.Context, timeout time.Duration) (Provider, error) {
	if p, ok := d.Current(); ok {
		return p, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-d.ready:
		p, _ := d.Current()
		return p, nil
	case <-timer.C:
		return nil, ErrNoProvider
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DialFunc connects to one wallet endpoint
type DialFunc func(ctx context.Context, endpoint string) (Provider, error)

// DialRPC is the DialFunc for JSON-RPC wallets
func DialRPC(ctx context.Context, endpoint string) (Provider, error) {
	return DialRPCProvider(ctx, endpoint)
}

// DialAndAnnounce tries each endpoint in order with backoff and announces the
// first provider that connects.
func DialAndAnnounce(ctx context.Context, d *Discovery, dial DialFunc, endpoints []string, cfg *retry.RetryConfig) error {
	logger := logging.FromContext(ctx)
	var lastErr error = ErrNoProvider

	for _, endpoint := range endpoints {
		var provider Provider
		result := retry.WithExponentialBackoff(ctx, cfg, func(ctx context.Context, attempt int) error {
			p, err := dial(ctx, endpoint)
			if err != nil {
				return err
			}
			provider = p
			return nil
		})
		if result.Success {
			logger.WithField("endpoint", endpoint).Info("Wallet provider announced")
			d.Announce(provider)
			return nil
		}
		lastErr = result.Err()
		logger.WithError(lastErr).WithField("endpoint", endpoint).Warn("Wallet endpoint unreachable")
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}
