package quotes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blumarkets/portfolio"
	"github.com/blumarkets/portfolio/config"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doc = `{
  "fx": {"usd_irr": 500000},
  "quotes": {"BTC": 60000, "ETH": "3000.5", "SOL": 150},
  "irr": [{"id": "PAXG", "price": 1200000000}],
  "bad": {"TON": true}
}`

var at = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func testReader(t *testing.T) *Reader {
	t.Helper()
	r, err := NewReader(config.PricesConfig{
		FXRate:    "$.fx.usd_irr",
		Quotes:    map[string]string{"BTC": "$.quotes.BTC", "eth": "$.quotes.ETH", "SOL": "$.quotes.SOL", "LINK": "$.quotes.LINK"},
		DirectIRR: map[string]string{"PAXG": `$.irr[?(@.id=="PAXG")].price`},
	})
	require.NoError(t, err)
	return r
}

func TestReader_Parse(t *testing.T) {
	p, err := testReader(t).Parse([]byte(doc), at)
	require.NoError(t, err)

	assert.Equal(t, "500000", p.FXRate.String())
	assert.Equal(t, "3000.5", p.Quotes[portfolio.ETH].String())
	assert.Equal(t, at, p.At)
	assert.NotContains(t, p.Quotes, portfolio.LINK, "unresolved paths leave the asset unpriced")
	assert.False(t, p.Priced(portfolio.LINK))

	btc, ok := p.UnitPrice(portfolio.BTC)
	require.True(t, ok)
	assert.True(t, btc.Equal(portfolio.M(30_000_000_000)), "BTC = %s", btc)

	paxg, ok := p.UnitPrice(portfolio.PAXG)
	require.True(t, ok)
	assert.True(t, paxg.Equal(portfolio.M(1_200_000_000)), "PAXG = %s", paxg)
}

func TestReader_ParseErrors(t *testing.T) {
	r := testReader(t)
	_, err := r.Parse([]byte(`{"quotes": {}}`), at)
	assert.Error(t, err, "missing fx rate")
	_, err = r.Parse([]byte(`{"fx": `), at)
	assert.Error(t, err, "truncated document")

	bad, err := NewReader(config.PricesConfig{FXRate: "$.fx.usd_irr", Quotes: map[string]string{"TON": "$.bad.TON"}})
	require.NoError(t, err)
	_, err = bad.Parse([]byte(doc), at)
	assert.Error(t, err, "boolean quote")
}

func TestNewReader_Errors(t *testing.T) {
	_, err := NewReader(config.PricesConfig{})
	assert.Error(t, err)
	_, err = NewReader(config.PricesConfig{FXRate: "$.fx", Quotes: map[string]string{"DOGE": "$.doge"}})
	assert.Error(t, err)
	_, err = NewReader(config.PricesConfig{FXRate: "$.fx", Quotes: map[string]string{"IRR_FIXED_INCOME": "$.fi"}})
	assert.Error(t, err)
}

func TestDocument_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	src := NewDocument(testReader(t), path, WithClock(func() time.Time { return at }))
	p, err := src.Prices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, at, p.At)
	assert.True(t, p.Priced(portfolio.SOL))

	_, err = NewDocument(testReader(t), filepath.Join(t.TempDir(), "none.json")).Prices(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDocument_URLCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(doc))
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	client := Cached(t.TempDir(), time.Hour, logger)
	src := NewDocument(testReader(t), srv.URL+"/prices", WithClient(client))

	for range 3 {
		p, err := src.Prices(context.Background())
		require.NoError(t, err)
		assert.True(t, p.Priced(portfolio.BTC))
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestDocument_URLStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewDocument(testReader(t), srv.URL).Prices(context.Background())
	assert.ErrorContains(t, err, "404")
}

func TestStatic(t *testing.T) {
	want := portfolio.Prices{At: at}
	got, err := Static(want).Prices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
