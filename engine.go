package portfolio

import (
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Phase is the position of an engine in the preview/commit cycle.
type Phase string

const (
	PhaseNone       Phase = "NONE"
	PhasePreviewing Phase = "PREVIEWING"
	PhasePending    Phase = "PENDING"
	PhaseCommitted  Phase = "COMMITTED"
)

// Engine drives the actions of one portfolio.
//
// It holds the canonical state, the current draft and a single pending slot:
// a new preview replaces the previous one. All methods are safe for concurrent
// use; confirmations are serialized.
type Engine struct {
	mu      sync.Mutex
	id      string
	state   State
	policy  Policy
	ledger  *Ledger
	phase   Phase
	draft   Action
	pending *PendingAction
	log     logrus.FieldLogger
	newID   func() string
	persist Persister
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithIDGenerator replaces uuid.NewString for entry, loan and protection IDs.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// Persister saves a commit before the engine installs it. When it fails the
// commit is abandoned and the engine keeps its previous state.
type Persister func(next State, entry LedgerEntry) error

// WithPersister makes every commit durable through p.
func WithPersister(p Persister) Option {
	return func(e *Engine) { e.persist = p }
}

// WithLedger resumes an existing history.
func WithLedger(l *Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// NewEngine returns an engine for portfolio id in state s.
func NewEngine(id string, s State, p Policy, opts ...Option) *Engine {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	e := &Engine{
		id:     id,
		state:  s.Clone(),
		policy: p,
		ledger: NewLedger(),
		phase:  PhaseNone,
		log:    discard,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithField("portfolio", id)
	return e
}

// ID returns the portfolio ID.
func (e *Engine) ID() string { return e.id }

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// State returns a copy of the canonical state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Policy returns the policy in force.
func (e *Engine) Policy() Policy { return e.policy }

// Snapshot values the current state.
func (e *Engine) Snapshot(p Prices) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Snapshot(p)
}

// Entries returns a copy of the history in commit order.
func (e *Engine) Entries() []LedgerEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Collect(e.ledger.Entries())
}

// Draft returns the action being edited, or nil.
func (e *Engine) Draft() Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft
}

// Pending returns the action waiting for confirmation.
func (e *Engine) Pending() (PendingAction, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return PendingAction{}, false
	}
	return *e.pending, true
}

// Start opens an empty draft of kind k, discarding any draft or pending action.
func (e *Engine) Start(k Kind) error {
	d, err := newDraft(k)
	if err != nil {
		return err
	}
	e.StartWith(d)
	return nil
}

// StartWith opens a draft prefilled with a.
func (e *Engine) StartWith(a Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft = cloneAction(a)
	e.pending = nil
	e.phase = PhasePreviewing
}

// Set updates one field of the draft. A pending action goes back to draft.
func (e *Engine) Set(f Field, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draft == nil || (e.phase != PhasePreviewing && e.phase != PhasePending) {
		return ErrWrongPhase
	}
	d, err := e.draft.with(f, value)
	if err != nil {
		return err
	}
	e.draft = d
	e.pending = nil
	e.phase = PhasePreviewing
	return nil
}

// Preview evaluates the draft against inputs. A valid preview becomes the
// pending action; an invalid one leaves the engine previewing.
func (e *Engine) Preview(in Inputs) (PreviewResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draft == nil || (e.phase != PhasePreviewing && e.phase != PhasePending) {
		return PreviewResult{}, ErrWrongPhase
	}
	pa, err := Preview(e.state, e.draft, in, e.policy)
	if err != nil {
		return PreviewResult{}, err
	}
	log := e.log.WithField("kind", pa.Kind)
	if !pa.Validation.OK {
		e.pending = nil
		e.phase = PhasePreviewing
		log.WithField("errors", pa.Validation.Errors).Debug("preview rejected")
		return pa.Result(), nil
	}
	e.pending = &pa
	e.phase = PhasePending
	log.WithFields(logrus.Fields{"boundary": pa.Boundary, "moves_toward_target": pa.MovesTowardTarget}).Debug("preview pending")
	return pa.Result(), nil
}

// Confirm commits the pending action after validating it again against the
// current state and inputs.
//
// If it no longer validates, the pending action is discarded, nothing changes
// and the error matches ErrStalePreview.
func (e *Engine) Confirm(in Inputs) (CommitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhasePending || e.pending == nil {
		return CommitResult{}, ErrNoPendingAction
	}
	pa := *e.pending
	e.pending = nil
	e.draft = nil

	next, entry, err := Commit(e.state, pa, in, e.policy, e.newID)
	if err != nil {
		e.phase = PhaseNone
		e.log.WithField("kind", pa.Kind).WithError(err).Warn("stale preview")
		return CommitResult{}, err
	}
	return e.record(next, entry)
}

// Liquidate closes a loan whose collateral reached its liquidation price. It
// does not touch the draft or the pending action, but a pending action will
// be validated against the new state on confirm.
func (e *Engine) Liquidate(loanID string, in Inputs) (CommitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next, entry, err := Liquidate(e.state, loanID, in, e.policy, e.newID)
	if err != nil {
		return CommitResult{}, err
	}
	phase := e.phase
	res, err := e.record(next, entry)
	e.phase = phase
	return res, err
}

// record appends the entry and installs the new state. e.mu must be held.
func (e *Engine) record(next State, entry LedgerEntry) (CommitResult, error) {
	entry, err := e.ledger.prepare(entry)
	if err != nil {
		// the ledger refused the entry: keep the previous state
		e.phase = PhaseNone
		return CommitResult{}, fmt.Errorf("could not record commit: %w", err)
	}
	if e.persist != nil {
		if err := e.persist(next.Clone(), entry.clone()); err != nil {
			e.phase = PhaseNone
			e.log.WithField("kind", entry.Kind).WithError(err).Error("could not persist commit")
			return CommitResult{}, fmt.Errorf("could not persist commit: %w", err)
		}
	}
	stored, err := e.ledger.Append(entry)
	if err != nil {
		e.phase = PhaseNone
		return CommitResult{}, fmt.Errorf("could not record commit: %w", err)
	}
	e.state = next
	e.phase = PhaseCommitted
	e.log.WithFields(logrus.Fields{
		"kind":     stored.Kind,
		"boundary": stored.Boundary,
		"seq":      stored.Seq,
	}).Info("committed")
	return CommitResult{
		NewCashIRR:      next.Cash,
		UpdatedHoldings: append([]Holding(nil), next.Holdings...),
		LedgerEntry:     stored,
	}, nil
}

// Cancel discards the draft and the pending action.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft = nil
	e.pending = nil
	e.phase = PhaseNone
}
