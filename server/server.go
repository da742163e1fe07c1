// Package server exposes portfolio engines over HTTP.
//
// A client drives an action through its lifecycle: start a draft of a kind,
// edit its fields, preview it, then confirm or cancel it. Prices and time are
// taken by the server, quotes come with the request.
package server

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/blumarkets/portfolio"
	"github.com/blumarkets/portfolio/quotes"
	"github.com/blumarkets/portfolio/store"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Server serves the portfolios of a Registry.
type Server struct {
	reg    *Registry
	prices quotes.Source
	target portfolio.TargetLayerPct
	now    func() time.Time
	log    logrus.FieldLogger
}

// Option configures a Server.
type Option func(*Server)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New returns a server. target is used for portfolios created without one.
func New(reg *Registry, prices quotes.Source, target portfolio.TargetLayerPct, log logrus.FieldLogger, opts ...Option) *Server {
	s := &Server{reg: reg, prices: prices, target: target, now: time.Now, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/portfolios", s.create)
	router.GET("/portfolios", s.list)

	p := router.Group("/portfolios/:id")
	p.GET("/state", s.state)
	p.GET("/snapshot", s.snapshot)
	p.GET("/ledger", s.ledger)
	p.POST("/actions/:kind", s.start)
	p.GET("/draft", s.draft)
	p.PATCH("/draft", s.edit)
	p.POST("/preview", s.preview)
	p.POST("/confirm", s.confirm)
	p.POST("/cancel", s.cancel)
	p.POST("/loans/:loan/liquidate", s.liquidate)
	return router
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("request")
	}
}

// writeError maps engine and store errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	var stale *portfolio.StalePreviewError
	var contract *portfolio.ContractError
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, store.ErrDuplicateKey):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conflict", Message: err.Error()})
	case errors.As(err, &stale):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "stale_preview", Message: "preview again", Details: stale.Errors})
	case errors.Is(err, portfolio.ErrNoPendingAction), errors.Is(err, portfolio.ErrWrongPhase):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "wrong_phase", Message: err.Error()})
	case errors.Is(err, portfolio.ErrNotLiquidatable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "not_liquidatable", Message: err.Error()})
	case errors.As(err, &contract), errors.Is(err, portfolio.ErrUnknownKind), errors.Is(err, store.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()})
}

// engine resolves the :id parameter, writing the error response on failure.
func (s *Server) engine(c *gin.Context) (*portfolio.Engine, bool) {
	e, err := s.reg.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return e, true
}

// inputs gathers the current prices and time, and the quotes of the body.
func (s *Server) inputs(c *gin.Context) (portfolio.Inputs, bool) {
	var req InputsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return portfolio.Inputs{}, false
		}
	}
	prices, err := s.prices.Prices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "prices_unavailable", Message: err.Error()})
		return portfolio.Inputs{}, false
	}
	return portfolio.Inputs{
		Prices:          prices,
		Now:             s.now(),
		ProtectionQuote: req.ProtectionQuote,
		LoanQuote:       req.LoanQuote,
		Factors:         req.Factors,
		History:         req.History,
	}, true
}

// create handles POST /portfolios
func (s *Server) create(c *gin.Context) {
	var req CreatePortfolioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	target := s.target
	if req.Target != nil {
		t, err := portfolio.NewTarget(req.Target.Foundation, req.Target.Growth, req.Target.Upside)
		if err != nil {
			badRequest(c, err)
			return
		}
		target = t
	}
	e, err := s.reg.Create(c.Request.Context(), req.ID, target)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e.State())
}

// list handles GET /portfolios
func (s *Server) list(c *gin.Context) {
	ids, err := s.reg.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"portfolios": ids})
}

// state handles GET /portfolios/:id/state
func (s *Server) state(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, e.State())
}

// snapshot handles GET /portfolios/:id/snapshot
func (s *Server) snapshot(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	prices, err := s.prices.Prices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "prices_unavailable", Message: err.Error()})
		return
	}
	st := e.State()
	snap := st.Snapshot(prices)
	drift := snap.MaxDrift(st.Target)
	c.JSON(http.StatusOK, SnapshotResponse{
		Portfolio:   e.ID(),
		Version:     st.Version,
		At:          prices.At,
		Snapshot:    snap,
		Target:      st.Target,
		MaxDrift:    drift,
		Status:      snap.Status(st.Target),
		Boundary:    e.Policy().Boundaries.Band(drift),
		Loans:       st.ActiveLoans(),
		Protections: st.ActiveProtections(s.now()),
	})
}

// ledger handles GET /portfolios/:id/ledger?since=seq
func (s *Server) ledger(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	var since uint64
	if v := c.Query("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			badRequest(c, err)
			return
		}
		since = n
	}
	entries := slices.DeleteFunc(e.Entries(), func(le portfolio.LedgerEntry) bool { return le.Seq <= since })
	if entries == nil {
		entries = []portfolio.LedgerEntry{}
	}
	c.JSON(http.StatusOK, LedgerResponse{Portfolio: e.ID(), Entries: entries})
}

// start handles POST /portfolios/:id/actions/:kind with optional draft fields.
func (s *Server) start(c *gin.Context) {
	kind, err := portfolio.ParseKind(c.Param("kind"))
	if err != nil {
		writeError(c, err)
		return
	}
	fields, ok := bindFields(c)
	if !ok {
		return
	}
	e, ok := s.engine(c)
	if !ok {
		return
	}
	if err := e.Start(kind); err != nil {
		writeError(c, err)
		return
	}
	if err := setFields(e, fields); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, draftResponse(e))
}

// draft handles GET /portfolios/:id/draft
func (s *Server) draft(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, draftResponse(e))
}

// edit handles PATCH /portfolios/:id/draft
func (s *Server) edit(c *gin.Context) {
	fields, ok := bindFields(c)
	if !ok {
		return
	}
	e, ok := s.engine(c)
	if !ok {
		return
	}
	if err := setFields(e, fields); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, draftResponse(e))
}

// preview handles POST /portfolios/:id/preview. An action that does not
// validate is still a 200: the result lists why.
func (s *Server) preview(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	in, ok := s.inputs(c)
	if !ok {
		return
	}
	res, err := e.Preview(in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// confirm handles POST /portfolios/:id/confirm
func (s *Server) confirm(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	in, ok := s.inputs(c)
	if !ok {
		return
	}
	res, err := e.Confirm(in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// cancel handles POST /portfolios/:id/cancel
func (s *Server) cancel(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	e.Cancel()
	c.Status(http.StatusNoContent)
}

// liquidate handles POST /portfolios/:id/loans/:loan/liquidate
func (s *Server) liquidate(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	in, ok := s.inputs(c)
	if !ok {
		return
	}
	res, err := e.Liquidate(c.Param("loan"), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func bindFields(c *gin.Context) (map[string]string, bool) {
	fields := map[string]string{}
	if c.Request.ContentLength == 0 {
		return fields, true
	}
	if err := c.ShouldBindJSON(&fields); err != nil {
		badRequest(c, err)
		return nil, false
	}
	return fields, true
}

// setFields applies fields in name order.
func setFields(e *portfolio.Engine, fields map[string]string) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := e.Set(portfolio.Field(name), fields[name]); err != nil {
			return err
		}
	}
	return nil
}

func draftResponse(e *portfolio.Engine) DraftResponse {
	r := DraftResponse{Portfolio: e.ID(), Phase: e.Phase(), Draft: e.Draft()}
	if r.Draft != nil {
		r.Kind = r.Draft.Kind()
	}
	return r
}
