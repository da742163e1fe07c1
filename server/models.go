package server

import (
	"time"

	"github.com/blumarkets/portfolio"
	"github.com/blumarkets/portfolio/allocation"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message,omitempty"`
	Details []string `json:"details,omitempty"`
}

// CreatePortfolioRequest is the body of POST /portfolios. The default target
// applies when Target is nil.
type CreatePortfolioRequest struct {
	ID     string         `json:"id" binding:"required"`
	Target *TargetRequest `json:"target"`
}

// TargetRequest is a target allocation.
type TargetRequest struct {
	Foundation float64 `json:"foundation"`
	Growth     float64 `json:"growth"`
	Upside     float64 `json:"upside"`
}

// InputsRequest carries the quotes of a preview or a confirmation. Prices
// and time are always the server's.
type InputsRequest struct {
	ProtectionQuote *portfolio.ProtectionQuote `json:"protectionQuote"`
	LoanQuote       *portfolio.LoanQuote       `json:"loanQuote"`
	Factors         allocation.Factors         `json:"factors"`
	// History maps asset IDs to daily prices, oldest first.
	History map[string][]float64 `json:"history"`
}

// DraftResponse reports the draft being edited.
type DraftResponse struct {
	Portfolio string           `json:"portfolio"`
	Phase     portfolio.Phase  `json:"phase"`
	Kind      portfolio.Kind   `json:"kind,omitempty"`
	Draft     portfolio.Action `json:"draft,omitempty"`
}

// SnapshotResponse is the valuation of a portfolio.
type SnapshotResponse struct {
	Portfolio   string                   `json:"portfolio"`
	Version     uint64                   `json:"version"`
	At          time.Time                `json:"at"`
	Snapshot    portfolio.Snapshot       `json:"snapshot"`
	Target      portfolio.TargetLayerPct `json:"target"`
	MaxDrift    float64                  `json:"maxDrift"`
	Status      portfolio.DriftStatus    `json:"status"`
	Boundary    portfolio.Boundary       `json:"boundary"`
	Loans       []portfolio.Loan         `json:"loans,omitempty"`
	Protections []portfolio.Protection   `json:"protections,omitempty"`
}

// LedgerResponse lists ledger entries.
type LedgerResponse struct {
	Portfolio string                  `json:"portfolio"`
	Entries   []portfolio.LedgerEntry `json:"entries"`
}
