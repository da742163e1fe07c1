// Package quotes reads market prices out of a JSON document.
//
// The document layout is free: the configuration maps every value the engine
// needs (the USD/IRR rate, one quote per asset, optional direct IRR prices) to
// a JSONPath expression.
package quotes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/blumarkets/portfolio"
	"github.com/blumarkets/portfolio/config"
	"github.com/shopspring/decimal"
)

// Reader extracts portfolio.Prices from documents of one layout.
type Reader struct {
	fxRate string
	quotes map[portfolio.AssetID]string
	direct map[portfolio.AssetID]string
}

// NewReader compiles the paths of cfg.
func NewReader(cfg config.PricesConfig) (*Reader, error) {
	if cfg.FXRate == "" {
		return nil, errors.New("missing fx rate path")
	}
	r := &Reader{fxRate: cfg.FXRate}
	var err error
	if r.quotes, err = assetPaths(cfg.Quotes); err != nil {
		return nil, fmt.Errorf("quotes: %w", err)
	}
	if r.direct, err = assetPaths(cfg.DirectIRR); err != nil {
		return nil, fmt.Errorf("direct_irr: %w", err)
	}
	return r, nil
}

func assetPaths(m map[string]string) (map[portfolio.AssetID]string, error) {
	paths := make(map[portfolio.AssetID]string, len(m))
	for name, path := range m {
		id, err := portfolio.ParseAssetID(name)
		if err != nil {
			return nil, err
		}
		if portfolio.MustAsset(id).FixedIncome {
			return nil, fmt.Errorf("%s is priced by accrual, not by quote", id)
		}
		paths[id] = path
	}
	return paths, nil
}

// Parse reads a document. The FX rate is mandatory; an asset whose path does
// not resolve is left unpriced, and the engine rejects trades in it.
func (r *Reader) Parse(data []byte, at time.Time) (portfolio.Prices, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return portfolio.Prices{}, fmt.Errorf("invalid price document: %w", err)
	}

	fx, err := lookup(doc, r.fxRate)
	if err != nil {
		return portfolio.Prices{}, fmt.Errorf("fx rate: %w", err)
	}
	p := portfolio.Prices{
		FXRate:    fx,
		Quotes:    make(map[portfolio.AssetID]decimal.Decimal, len(r.quotes)),
		DirectIRR: make(map[portfolio.AssetID]decimal.Decimal, len(r.direct)),
		At:        at,
	}
	if err := collect(doc, r.quotes, p.Quotes); err != nil {
		return portfolio.Prices{}, err
	}
	if err := collect(doc, r.direct, p.DirectIRR); err != nil {
		return portfolio.Prices{}, err
	}
	return p, nil
}

func collect(doc any, paths map[portfolio.AssetID]string, dst map[portfolio.AssetID]decimal.Decimal) error {
	for id, path := range paths {
		jval, err := jsonpath.Get(path, doc)
		if err != nil {
			continue
		}
		d, err := number(jval)
		if err != nil {
			return fmt.Errorf("%s at %q: %w", id, path, err)
		}
		dst[id] = d
	}
	return nil
}

func lookup(doc any, path string) (decimal.Decimal, error) {
	jval, err := jsonpath.Get(path, doc)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%q: %w", path, err)
	}
	d, err := number(jval)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%q: %w", path, err)
	}
	return d, nil
}

// number converts a JSON value. Filters return a list: the first match is kept.
func number(jval any) (decimal.Decimal, error) {
	if jlist, ok := jval.([]any); ok {
		if len(jlist) == 0 {
			return decimal.Decimal{}, errors.New("no match")
		}
		jval = jlist[0]
	}
	switch v := jval.(type) {
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("not a number: %v", jval)
	}
}
