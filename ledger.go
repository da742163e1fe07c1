package portfolio

import (
	"errors"
	"fmt"
	"iter"
	"time"
)

// LedgerEntry records one committed action. Entries are immutable once appended.
type LedgerEntry struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	Before    Snapshot  `json:"before"`
	After     Snapshot  `json:"after"`
	Boundary  Boundary  `json:"boundary"`
	Payload   Action    `json:"payload"`
}

// Delta returns the change in total value the entry recorded.
func (e LedgerEntry) Delta() Money { return e.After.TotalIRR.Sub(e.Before.TotalIRR) }

func (e LedgerEntry) clone() LedgerEntry {
	e.Before = e.Before.Clone()
	e.After = e.After.Clone()
	e.Payload = cloneAction(e.Payload)
	return e
}

// Ledger is the append-only history of a portfolio.
//
// In a Ledger entries are always in commit order and Seq counts from 1.
type Ledger struct {
	entries []LedgerEntry
	ids     map[string]bool
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{ids: make(map[string]bool)}
}

var (
	ErrDuplicateEntry = errors.New("duplicate ledger entry")
	ErrOutOfSequence  = errors.New("ledger entry out of sequence")
)

// Append adds an entry at the end of the ledger and returns it as stored.
//
// A zero Seq is assigned the next sequence number; any other Seq must be the
// next one. IDs must be unique and non empty.
func (l *Ledger) Append(e LedgerEntry) (LedgerEntry, error) {
	e, err := l.prepare(e)
	if err != nil {
		return LedgerEntry{}, err
	}
	e = e.clone()
	l.entries = append(l.entries, e)
	l.ids[e.ID] = true
	return e.clone(), nil
}

// prepare checks that e can be appended next and returns it with its sequence number.
func (l *Ledger) prepare(e LedgerEntry) (LedgerEntry, error) {
	if e.ID == "" {
		return LedgerEntry{}, fmt.Errorf("%w: missing id", ErrDuplicateEntry)
	}
	if l.ids[e.ID] {
		return LedgerEntry{}, fmt.Errorf("%w: %s", ErrDuplicateEntry, e.ID)
	}
	next := uint64(len(l.entries)) + 1
	switch e.Seq {
	case 0:
		e.Seq = next
	case next:
	default:
		return LedgerEntry{}, fmt.Errorf("%w: got %d, want %d", ErrOutOfSequence, e.Seq, next)
	}
	if e.Payload == nil {
		return LedgerEntry{}, fmt.Errorf("ledger entry %s has no payload", e.ID)
	}
	return e, nil
}

// Len returns the number of entries.
func (l *Ledger) Len() int { return len(l.entries) }

// Entry returns the i-th entry, starting at 0.
func (l *Ledger) Entry(i int) LedgerEntry { return l.entries[i].clone() }

// Last returns the most recent entry.
func (l *Ledger) Last() (LedgerEntry, bool) {
	if len(l.entries) == 0 {
		return LedgerEntry{}, false
	}
	return l.entries[len(l.entries)-1].clone(), true
}

// Entries iterates over the entries in commit order.
func (l *Ledger) Entries() iter.Seq[LedgerEntry] {
	return func(yield func(LedgerEntry) bool) {
		for _, e := range l.entries {
			if !yield(e.clone()) {
				return
			}
		}
	}
}

// Since iterates over the entries with a sequence number greater than seq.
func (l *Ledger) Since(seq uint64) iter.Seq[LedgerEntry] {
	return func(yield func(LedgerEntry) bool) {
		for i := int(min(seq, uint64(len(l.entries)))); i < len(l.entries); i++ {
			if !yield(l.entries[i].clone()) {
				return
			}
		}
	}
}
