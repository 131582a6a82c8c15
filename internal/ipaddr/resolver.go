package ipaddr

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
)

// ChainOptions configures DefaultChain.
type ChainOptions struct {
	// Local short-circuits to LoopbackMarker.
	Local bool

	// Client is used for the lookup services. Nil means http.DefaultClient.
	Client *http.Client

	// Providers overrides DefaultProviders when non-nil.
	Providers []Provider

	// STUNServer is probed after every lookup service failed.
	// Empty means DefaultSTUNServer.
	STUNServer string
}

// DefaultChain builds the discovery chain: loopback on a developer machine,
// otherwise each lookup service in order and finally the STUN probe.
func DefaultChain(opts ChainOptions) Strategy {
	if opts.Local {
		return Loopback()
	}

	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviders
	}

	stunServer := opts.STUNServer
	if stunServer == "" {
		stunServer = DefaultSTUNServer
	}

	steps := make([]Step, 0, len(providers)+1)
	for _, p := range providers {
		steps = append(steps, Step{
			Name:     p.Name,
			Strategy: HTTPLookup(opts.Client, p),
			Timeout:  DefaultHTTPTimeout,
		})
	}
	steps = append(steps, Step{
		Name:     "stun",
		Strategy: STUNProbe(stunServer),
		Timeout:  DefaultSTUNTimeout,
	})
	return Sequential(steps...)
}

// Resolver runs a strategy once in the background and caches the result.
// Get never blocks.
type Resolver struct {
	strategy Strategy
	logger   *slog.Logger

	once   sync.Once
	done   chan struct{}
	cancel context.CancelFunc

	mu   sync.RWMutex
	addr string
}

// NewResolver creates a resolver for the given strategy.
func NewResolver(strategy Strategy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		strategy: strategy,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins resolution. Calls after the first are no-ops.
func (r *Resolver) Start(ctx context.Context) {
	r.once.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		r.mu.Lock()
		r.cancel = cancel
		r.mu.Unlock()

		go func() {
			defer close(r.done)
			defer cancel()

			addr, err := r.strategy(ctx)
			if err != nil || addr == "" {
				if err != nil {
					r.logger.Debug("address discovery failed", slog.String("error", err.Error()))
				}
				addr = Unknown
			}

			r.mu.Lock()
			r.addr = addr
			r.mu.Unlock()
		}()
	})
}

// Get returns the resolved address, "" while resolution is in flight and
// Unknown when it failed.
func (r *Resolver) Get() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.addr
}

// Wait blocks until resolution finished or ctx is done and returns Get.
func (r *Resolver) Wait(ctx context.Context) string {
	select {
	case <-r.done:
	case <-ctx.Done():
	}
	return r.Get()
}

// Stop cancels an in-flight resolution.
func (r *Resolver) Stop() {
	r.mu.RLock()
	cancel := r.cancel
	r.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}
