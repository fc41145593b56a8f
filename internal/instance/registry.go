// Package instance guards against two agents running for the same operator.
package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyRunning is returned when another instance holds the operator.
var ErrAlreadyRunning = errors.New("an instance is already running for this operator")

const defaultTTL = 30 * time.Second

// LeaseStore persists leases so separate processes see each other.
type LeaseStore interface {
	AcquireLease(ctx context.Context, ownerID, holder string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, ownerID, holder string) error
	ReleaseLease(ctx context.Context, ownerID, holder string) error
}

// Registry hands out one lease per operator id: in-process through a map and
// across processes through the optional LeaseStore.
type Registry struct {
	store  LeaseStore
	holder string
	ttl    time.Duration
	logger *slog.Logger

	mu   sync.Mutex
	held map[string]*Lease
}

type RegistryConfig struct {
	Store  LeaseStore // optional
	TTL    time.Duration
	Logger *slog.Logger
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	host, _ := os.Hostname()
	return &Registry{
		store:  cfg.Store,
		holder: fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()),
		ttl:    cfg.TTL,
		logger: cfg.Logger,
		held:   make(map[string]*Lease),
	}
}

// Holder identifies this registry in the lease store.
func (r *Registry) Holder() string { return r.holder }

// Acquire claims ownerID. The lease is renewed in the background until
// released.
func (r *Registry) Acquire(ctx context.Context, ownerID string) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.held[ownerID]; ok {
		return nil, fmt.Errorf("operator %q: %w", ownerID, ErrAlreadyRunning)
	}
	if r.store != nil {
		ok, err := r.store.AcquireLease(ctx, ownerID, r.holder, r.ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire lease: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("operator %q: %w", ownerID, ErrAlreadyRunning)
		}
	}

	l := &Lease{
		registry: r,
		ownerID:  ownerID,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	r.held[ownerID] = l
	go l.heartbeat()
	r.logger.Debug("instance lease acquired", "owner", ownerID, "holder", r.holder)
	return l, nil
}

// Lease is a held operator claim.
type Lease struct {
	registry *Registry
	ownerID  string
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func (l *Lease) heartbeat() {
	defer close(l.done)
	r := l.registry
	if r.store == nil {
		<-l.stop
		return
	}
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			if err := r.store.RenewLease(ctx, l.ownerID, r.holder); err != nil {
				r.logger.Warn("instance lease renewal failed", "owner", l.ownerID, "err", err)
			}
			cancel()
		}
	}
}

// Release drops the claim. It is safe to call more than once.
func (l *Lease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		<-l.done

		r := l.registry
		r.mu.Lock()
		delete(r.held, l.ownerID)
		r.mu.Unlock()

		if r.store != nil {
			if rerr := r.store.ReleaseLease(ctx, l.ownerID, r.holder); rerr != nil {
				err = fmt.Errorf("release lease: %w", rerr)
			}
		}
	})
	return err
}
