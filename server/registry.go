package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/blumarkets/portfolio"
	"github.com/blumarkets/portfolio/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Registry holds one Engine per portfolio. Engines are loaded from the store
// on first use and write every commit back to it.
type Registry struct {
	mu      sync.Mutex
	store   store.Store
	policy  portfolio.Policy
	log     logrus.FieldLogger
	newID   func() string
	engines map[string]*portfolio.Engine
}

// NewRegistry returns a registry over st. Every engine runs under policy p.
func NewRegistry(st store.Store, p portfolio.Policy, log logrus.FieldLogger) *Registry {
	return &Registry{
		store:   st,
		policy:  p,
		log:     log,
		newID:   uuid.NewString,
		engines: make(map[string]*portfolio.Engine),
	}
}

// Create stores a new empty portfolio and returns its engine.
func (r *Registry) Create(ctx context.Context, id string, target portfolio.TargetLayerPct) (*portfolio.Engine, error) {
	s := portfolio.NewState(target)
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Create(ctx, id, s); err != nil {
		return nil, err
	}
	e := r.engine(id, s, portfolio.NewLedger())
	r.log.WithField("portfolio", id).Info("portfolio created")
	return e, nil
}

// Get returns the engine of portfolio id.
func (r *Registry) Get(ctx context.Context, id string) (*portfolio.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[id]; ok {
		return e, nil
	}
	s, ledger, err := store.Open(ctx, r.store, id)
	if err != nil {
		return nil, err
	}
	return r.engine(id, s, ledger), nil
}

// List returns the stored portfolio IDs.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	return r.store.List(ctx)
}

// engine builds and registers an engine. r.mu must be held.
func (r *Registry) engine(id string, s portfolio.State, ledger *portfolio.Ledger) *portfolio.Engine {
	// commits outlive the request that confirmed them
	e := portfolio.NewEngine(id, s, r.policy,
		portfolio.WithLogger(r.log),
		portfolio.WithIDGenerator(r.newID),
		portfolio.WithLedger(ledger),
		portfolio.WithPersister(store.Persister(context.Background(), r.store, id)),
	)
	r.engines[id] = e
	return e
}
