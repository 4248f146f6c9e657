package scorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ClientLifecycle owns the direct-path client and its readiness.
//
// Initialize may be called repeatedly; each call starts a new attempt and
// the most recent attempt is the only one whose outcome is kept. In-flight
// loads are not cancelled when superseded, their results are discarded.
type ClientLifecycle struct {
	loader       Loader
	discoveryURL string
	observer     func(from, to ClientState)

	mu         sync.RWMutex
	state      ClientState
	client     DirectClient
	lastErr    error
	generation uint64

	// transitions recorded under mu, delivered in order by one goroutine at a time
	pending  []stateTransition
	draining bool
}

type stateTransition struct {
	from, to ClientState
}

// LifecycleOption configures a ClientLifecycle
type LifecycleOption func(*ClientLifecycle)

// WithDiscoveryURL overrides the discovery document location
func WithDiscoveryURL(url string) LifecycleOption {
	return func(l *ClientLifecycle) {
		if url != "" {
			l.discoveryURL = url
		}
	}
}

// WithStateObserver registers a callback invoked on every state transition.
// Transitions are delivered in the order they happened, never concurrently,
// and without the lifecycle's lock held.
func WithStateObserver(fn func(from, to ClientState)) LifecycleOption {
	return func(l *ClientLifecycle) {
		l.observer = fn
	}
}

// NewClientLifecycle creates a lifecycle in StateUninitialized
func NewClientLifecycle(loader Loader, opts ...LifecycleOption) *ClientLifecycle {
	l := &ClientLifecycle{
		loader:       loader,
		discoveryURL: DefaultDiscoveryURL,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Initialize starts loading the direct client with credential. The returned
// channel receives the final state of this attempt once, or the current
// state if a later attempt superseded it. An empty credential makes the direct path
// unavailable without touching the loader.
func (l *ClientLifecycle) Initialize(ctx context.Context, credential string) <-chan ClientState {
	done := make(chan ClientState, 1)

	l.mu.Lock()
	l.generation++
	gen := l.generation
	l.client = nil

	if credential == "" || l.loader == nil {
		l.setStateLocked(StateUnavailable)
		l.lastErr = ErrCredentialMissing
		if credential != "" {
			l.lastErr = fmt.Errorf("%w: no loader configured", ErrClientLoadFailed)
		}
		reason := l.lastErr
		l.mu.Unlock()

		slog.Warn("Direct client disabled", "reason", reason)
		l.deliver()
		done <- StateUnavailable
		return done
	}

	l.setStateLocked(StateLoading)
	l.lastErr = nil
	discoveryURL := l.discoveryURL
	l.mu.Unlock()

	slog.Info("Starting to load direct client", "discovery_url", discoveryURL)
	l.deliver()

	go func() {
		client, err := l.loader(ctx, credential, discoveryURL)
		done <- l.complete(gen, client, err)
	}()

	return done
}

// complete records the outcome of attempt gen unless a newer attempt exists
func (l *ClientLifecycle) complete(gen uint64, client DirectClient, err error) ClientState {
	l.mu.Lock()
	if gen != l.generation {
		current := l.state
		l.mu.Unlock()
		slog.Debug("Discarding superseded direct client load",
			"attempt", gen,
			"error", err)
		return current
	}

	if err == nil && client == nil {
		err = errors.New("loader returned no client")
	}

	to := StateReady
	if err != nil {
		to = StateUnavailable
		l.client = nil
		l.lastErr = fmt.Errorf("%w: %w", ErrClientLoadFailed, err)
	} else {
		l.client = client
	}
	l.setStateLocked(to)
	l.mu.Unlock()

	if err != nil {
		slog.Error("Error loading direct client", "error", err)
	} else {
		slog.Info("Finished loading direct client")
	}
	l.deliver()
	return to
}

// setStateLocked moves to state and queues the transition for the observer
func (l *ClientLifecycle) setStateLocked(to ClientState) {
	from := l.state
	l.state = to
	if l.observer != nil && from != to {
		l.pending = append(l.pending, stateTransition{from: from, to: to})
	}
}

// deliver hands queued transitions to the observer. If another goroutine is
// already delivering, it picks up whatever was queued here.
func (l *ClientLifecycle) deliver() {
	if l.observer == nil {
		return
	}
	l.mu.Lock()
	if l.draining {
		l.mu.Unlock()
		return
	}
	l.draining = true
	for len(l.pending) > 0 {
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()
		for _, t := range batch {
			l.observer(t.from, t.to)
		}
		l.mu.Lock()
	}
	l.draining = false
	l.mu.Unlock()
}

// ClientIfReady returns the loaded client only when the state is StateReady
func (l *ClientLifecycle) ClientIfReady() (DirectClient, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state != StateReady || l.client == nil {
		return nil, false
	}
	return l.client, true
}

// State returns the current lifecycle state
func (l *ClientLifecycle) State() ClientState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// LastError explains why the direct client is unavailable, if it is
func (l *ClientLifecycle) LastError() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastErr
}
