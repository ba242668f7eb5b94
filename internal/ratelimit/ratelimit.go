// Package ratelimit implements a per-API-key adaptive token bucket, ported
// from features/model/middleware/ratelimit.go's AdaptiveRateLimiter:
// identical AIMD backoff/probe strategy and the same optional
// goa.design/pulse/rmap-backed cluster coordination, generalized from a
// single process-wide limiter wrapping a model.Client into a registry of
// per-key limiters wrapping the gateway's own request/response shapes.
package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/pulse/rmap"

	"goa.design/bedrock-gateway/internal/protocol"
	"goa.design/bedrock-gateway/internal/tokencount"
)

// clusterMap is the subset of rmap.Map the cluster-aware limiter needs,
// narrowed the same way features/model/middleware/ratelimit.go does so a
// fake can stand in under test.
type clusterMap interface {
	Get(key string) (string, bool)
	SetIfNotExists(ctx context.Context, key, value string) (bool, error)
	TestAndSet(ctx context.Context, key, test, value string) (string, error)
	Subscribe() <-chan rmap.EventKind
}

type rmapClusterMap struct{ m *rmap.Map }

func (m *rmapClusterMap) Get(key string) (string, bool) { return m.m.Get(key) }
func (m *rmapClusterMap) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	return m.m.SetIfNotExists(ctx, key, value)
}
func (m *rmapClusterMap) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	return m.m.TestAndSet(ctx, key, test, value)
}
func (m *rmapClusterMap) Subscribe() <-chan rmap.EventKind { return m.m.Subscribe() }

// Limiter applies an AIMD-style adaptive token bucket to one API key: it
// estimates the token cost of a request, blocks the caller until capacity is
// available, and adjusts its effective tokens-per-minute budget in response
// to rate-limit signals observed from the backend.
type Limiter struct {
	mu sync.Mutex

	bucket *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64

	onBackoff func(newTPM float64)
	onProbe   func(newTPM float64)
}

func newLimiter(initialTPM, maxTPM float64) *Limiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &Limiter{
		bucket:       rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wait blocks until req's estimated token cost is available in the bucket.
func (l *Limiter) Wait(ctx context.Context, req *protocol.Request) error {
	tokens, err := tokencount.Estimate(req)
	if err != nil {
		tokens = 500
	}
	if err := l.bucket.WaitN(ctx, tokens); err != nil {
		return protocol.NewGatewayError(protocol.ErrorRateLimit, "rate limit wait canceled or exceeds burst capacity", err)
	}
	return nil
}

// Observe adjusts the limiter's budget based on the outcome of the call Wait
// most recently admitted: a rate-limit error from the backend halves the
// budget (AIMD multiplicative decrease); a success (nil error) nudges it back
// up toward maxTPM (additive increase); any other error leaves it unchanged.
func (l *Limiter) Observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	var ge *protocol.GatewayError
	if errors.As(err, &ge) && ge.Kind == protocol.ErrorRateLimit {
		l.backoff()
	}
}

func (l *Limiter) backoff() {
	l.mu.Lock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.bucket.SetLimit(rate.Limit(newTPM / 60.0))
	l.bucket.SetBurst(int(newTPM))
	cb := l.onBackoff
	l.mu.Unlock()
	if cb != nil {
		cb(newTPM)
	}
}

func (l *Limiter) probe() {
	l.mu.Lock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.bucket.SetLimit(rate.Limit(newTPM / 60.0))
	l.bucket.SetBurst(int(newTPM))
	cb := l.onProbe
	l.mu.Unlock()
	if cb != nil {
		cb(newTPM)
	}
}

func (l *Limiter) replaceTPM(tpm float64) {
	l.mu.Lock()
	if tpm < l.minTPM {
		tpm = l.minTPM
	}
	if tpm > l.maxTPM {
		tpm = l.maxTPM
	}
	if tpm == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = tpm
	l.bucket.SetLimit(rate.Limit(tpm / 60.0))
	l.bucket.SetBurst(int(tpm))
	l.mu.Unlock()
}

func (l *Limiter) setClusterCallbacks(onBackoff, onProbe func(newTPM float64)) {
	l.mu.Lock()
	l.onBackoff, l.onProbe = onBackoff, onProbe
	l.mu.Unlock()
}

// Registry hands out one Limiter per API key, optionally coordinating each
// key's shared budget across instances through a Pulse replicated map.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter

	cluster    *rmap.Map
	initialTPM float64
	maxTPM     float64
}

// Options configures a Registry.
type Options struct {
	// Cluster, when non-nil, coordinates each key's budget across gateway
	// instances via Pulse; nil makes every Limiter process-local.
	Cluster    *rmap.Map
	InitialTPM float64
	MaxTPM     float64
}

// NewRegistry constructs a Registry.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		limiters:   make(map[string]*Limiter),
		cluster:    opts.Cluster,
		initialTPM: opts.InitialTPM,
		maxTPM:     opts.MaxTPM,
	}
}

// For returns the Limiter for apiKey, creating and registering it on first
// use.
func (r *Registry) For(ctx context.Context, apiKey string) *Limiter {
	r.mu.Lock()
	if l, ok := r.limiters[apiKey]; ok {
		r.mu.Unlock()
		return l
	}
	r.mu.Unlock()

	var cm clusterMap
	if r.cluster != nil {
		cm = &rmapClusterMap{m: r.cluster}
	}
	l := newClusterLimiter(ctx, cm, "ratelimit:"+apiKey, r.initialTPM, r.maxTPM)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.limiters[apiKey]; ok {
		return existing
	}
	r.limiters[apiKey] = l
	return l
}

func newClusterLimiter(ctx context.Context, m clusterMap, key string, initialTPM, maxTPM float64) *Limiter {
	if m == nil {
		return newLimiter(initialTPM, maxTPM)
	}

	if _, ok := m.Get(key); !ok {
		if _, err := m.SetIfNotExists(ctx, key, strconv.Itoa(int(initialTPM))); err != nil {
			return newLimiter(initialTPM, maxTPM)
		}
	}

	sharedTPM := initialTPM
	if cur, ok := m.Get(key); ok {
		if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
			sharedTPM = v
		}
	}

	l := newLimiter(sharedTPM, maxTPM)
	min, max, step := l.minTPM, l.maxTPM, l.recoveryRate

	l.setClusterCallbacks(
		func(_ float64) { go globalBackoff(context.Background(), m, key, min) },
		func(_ float64) { go globalProbe(context.Background(), m, key, step, max) },
	)

	ch := m.Subscribe()
	go func() {
		for range ch {
			cur, ok := m.Get(key)
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(cur, 64)
			if err != nil || v <= 0 {
				continue
			}
			l.replaceTPM(v)
		}
	}()

	return l
}

func globalBackoff(ctx context.Context, m clusterMap, key string, floor float64) {
	const maxAttempts = 3
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for i := 0; i < maxAttempts; i++ {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		next := cur * 0.5
		if next < floor {
			next = floor
		}
		prev, err := m.TestAndSet(ctx, key, curStr, strconv.Itoa(int(next)))
		if err != nil || prev == curStr {
			return
		}
	}
}

func globalProbe(ctx context.Context, m clusterMap, key string, step, ceiling float64) {
	const maxAttempts = 3
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for i := 0; i < maxAttempts; i++ {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 || cur >= ceiling {
			return
		}
		next := cur + step
		if next > ceiling {
			next = ceiling
		}
		prev, err := m.TestAndSet(ctx, key, curStr, strconv.Itoa(int(next)))
		if err != nil || prev == curStr {
			return
		}
	}
}
