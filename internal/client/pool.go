// Package client is component J (spec §4.10): RobustMQ's pooled inter-
// service RPC fan-out. A Pool keys cached entries by (service, address),
// bounds in-flight calls per address with a semaphore, rotates across a
// service's known addresses round-robin, and retries transient failures
// with capped exponential backoff (see DESIGN.md for the rationale behind
// the pooling design). No meta, journal or broker code in this module
// constructs a Pool: their RPC clients call peer addresses directly, with
// no pooling or retry.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"connectrpc.com/connect"

	"github.com/robustmq/robustmq/pkg/cmap"
)

// Service names the RPC group a pooled connection serves, so the same
// address can hold distinct entries for, say, MetaService and
// JournalInner traffic.
type Service string

const (
	ServiceMeta    Service = "meta"
	ServiceJournal Service = "journal"
	ServiceBroker  Service = "broker"
)

// Config tunes a Pool's concurrency and retry behavior.
type Config struct {
	// MaxConcurrentPerAddr bounds in-flight calls to one address.
	MaxConcurrentPerAddr int
	// RetryTimes bounds retry attempts for retryable errors.
	RetryTimes int
	// MaxIdle is how long an unused connection entry is kept before
	// Sweep evicts it.
	MaxIdle time.Duration
	Logger  *slog.Logger
}

func (c *Config) setDefaults() {
	if c.MaxConcurrentPerAddr <= 0 {
		c.MaxConcurrentPerAddr = 64
	}
	if c.RetryTimes <= 0 {
		c.RetryTimes = 3
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = 2 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type poolKey struct {
	Service Service
	Addr    string
}

// entry is one cached (service, addr) connection slot: a semaphore
// bounding concurrent calls, plus the last-use timestamp Sweep checks.
type entry struct {
	sem      chan struct{}
	mu       sync.Mutex
	lastUsed time.Time
}

func (e *entry) touch() {
	e.mu.Lock()
	e.lastUsed = time.Now()
	e.mu.Unlock()
}

func (e *entry) idleSince() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastUsed
}

// Pool is a per-address semaphore cache for calls out to other nodes.
type Pool struct {
	cfg     Config
	entries *cmap.Map[poolKey, *entry]

	// rrIndex tracks the next address offset per service, for round-robin
	// selection across AddrsForService.
	rrMu    sync.Mutex
	rrIndex map[Service]int
}

// New creates a Pool.
func New(cfg Config) *Pool {
	cfg.setDefaults()
	return &Pool{
		cfg:     cfg,
		entries: cmap.New[poolKey, *entry](),
		rrIndex: make(map[Service]int),
	}
}

func (p *Pool) entryFor(service Service, addr string) *entry {
	key := poolKey{Service: service, Addr: addr}
	if e, ok := p.entries.Get(key); ok {
		return e
	}
	e := &entry{sem: make(chan struct{}, p.cfg.MaxConcurrentPerAddr), lastUsed: time.Now()}
	existing, loaded := p.entries.GetOrSet(key, e)
	if loaded {
		return existing
	}
	return e
}

// acquire blocks until the address has a free concurrency slot or ctx is
// done, returning a release function.
func (p *Pool) acquire(ctx context.Context, service Service, addr string) (func(), error) {
	e := p.entryFor(service, addr)
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	e.touch()
	return func() { <-e.sem }, nil
}

// PickAddr rotates round-robin across addrs for service, so repeated
// calls spread load across every known node instead of pinning to one.
func (p *Pool) PickAddr(service Service, addrs []string) (string, error) {
	if len(addrs) == 0 {
		return "", fmt.Errorf("client: no addresses known for service %q", service)
	}
	p.rrMu.Lock()
	idx := p.rrIndex[service] % len(addrs)
	p.rrIndex[service] = idx + 1
	p.rrMu.Unlock()
	return addrs[idx], nil
}

// retryable reports whether err is worth retrying against a (possibly
// different) address: transport failures and NotLeader hints are, but a
// well-formed application error (bad request, permission denied, malformed
// packet) is not, matching the distinction spec §4.10 draws between
// ReceivedPacketIsEmpty/PacketTypeError and a transient NotLeader/network
// failure.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if connectErr := new(connect.Error); asConnectError(err, connectErr) {
		switch connectErr.Code() {
		case connect.CodeUnavailable, connect.CodeDeadlineExceeded, connect.CodeAborted, connect.CodeResourceExhausted:
			return true
		default:
			return false
		}
	}
	// Non-connect errors (dial failures, context errors surfaced as plain
	// errors) are assumed transient.
	return true
}

func asConnectError(err error, target *connect.Error) bool {
	ce, ok := err.(*connect.Error)
	if !ok {
		return false
	}
	*target = *ce
	return true
}

func backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// Call runs fn against addrs (picking one round-robin, or the given
// single target), retrying on a retryable failure up to RetryTimes with
// capped exponential backoff, rotating to the next address each attempt.
func (p *Pool) Call(ctx context.Context, service Service, addrs []string, fn func(ctx context.Context, addr string) error) error {
	var lastErr error
	attempts := p.cfg.RetryTimes + 1
	for attempt := 0; attempt < attempts; attempt++ {
		addr, err := p.PickAddr(service, addrs)
		if err != nil {
			return err
		}

		release, err := p.acquire(ctx, service, addr)
		if err != nil {
			return err
		}
		err = fn(ctx, addr)
		release()

		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}

		p.cfg.Logger.Warn("client: retryable call failed", "service", service, "addr", addr, "attempt", attempt, "error", err)
		if attempt == attempts-1 {
			break
		}
		select {
		case <-time.After(backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("client: exhausted retries for service %q: %w", service, lastErr)
}

// Sweep evicts idle entries that haven't been touched since MaxIdle ago.
// Call periodically from a background goroutine.
func (p *Pool) Sweep() int {
	cutoff := time.Now().Add(-p.cfg.MaxIdle)
	var evicted int
	for _, item := range p.entries.Items() {
		if item.Value.idleSince().Before(cutoff) {
			p.entries.Delete(item.Key)
			evicted++
		}
	}
	return evicted
}

// Size reports how many (service, addr) entries the pool currently caches.
func (p *Pool) Size() int { return p.entries.Count() }
