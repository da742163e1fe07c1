package portfolio

import (
	"fmt"
	"slices"
	"strings"
)

// AssetID identifies one of the fixed assets a portfolio can hold.
type AssetID string

const (
	USDT           AssetID = "USDT"
	PAXG           AssetID = "PAXG"
	IRRFixedIncome AssetID = "IRR_FIXED_INCOME"

	BTC AssetID = "BTC"
	ETH AssetID = "ETH"
	BNB AssetID = "BNB"
	XRP AssetID = "XRP"
	KAG AssetID = "KAG"
	QQQ AssetID = "QQQ"

	SOL   AssetID = "SOL"
	TON   AssetID = "TON"
	LINK  AssetID = "LINK"
	AVAX  AssetID = "AVAX"
	MATIC AssetID = "MATIC"
	ARB   AssetID = "ARB"
)

// Layer is a risk bucket. Every asset belongs to exactly one layer.
type Layer string

const (
	Foundation Layer = "FOUNDATION"
	Growth     Layer = "GROWTH"
	Upside     Layer = "UPSIDE"
)

// Layers lists the layers in display order.
var Layers = [3]Layer{Foundation, Growth, Upside}

// ParseLayer converts a case-insensitive layer name.
func ParseLayer(s string) (Layer, error) {
	l := Layer(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Layers {
		if l == known {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown layer %q", s)
}

// AssetMeta is the static description of an asset.
type AssetMeta struct {
	ID                 AssetID
	Layer              Layer
	ProtectionEligible bool
	Tradeable          bool
	// FixedIncome assets are valued by deterministic accrual instead of a quote.
	FixedIncome bool
	// Liquidity and Volatility seed the intra-layer allocation factors.
	Liquidity  float64
	Volatility float64
}

var assetTable = map[AssetID]AssetMeta{
	USDT:           {ID: USDT, Layer: Foundation, Tradeable: true, Liquidity: 1.1, Volatility: 0.001},
	PAXG:           {ID: PAXG, Layer: Foundation, ProtectionEligible: true, Tradeable: true, Liquidity: 1.0, Volatility: 0.12},
	IRRFixedIncome: {ID: IRRFixedIncome, Layer: Foundation, Tradeable: true, FixedIncome: true, Liquidity: 1.0, Volatility: 0.001},

	BTC: {ID: BTC, Layer: Growth, ProtectionEligible: true, Tradeable: true, Liquidity: 1.1, Volatility: 0.45},
	ETH: {ID: ETH, Layer: Growth, ProtectionEligible: true, Tradeable: true, Liquidity: 1.1, Volatility: 0.55},
	BNB: {ID: BNB, Layer: Growth, ProtectionEligible: true, Tradeable: true, Liquidity: 1.0, Volatility: 0.60},
	XRP: {ID: XRP, Layer: Growth, ProtectionEligible: true, Tradeable: true, Liquidity: 1.0, Volatility: 0.70},
	KAG: {ID: KAG, Layer: Growth, ProtectionEligible: true, Tradeable: true, Liquidity: 1.0, Volatility: 0.25},
	QQQ: {ID: QQQ, Layer: Growth, ProtectionEligible: true, Tradeable: true, Liquidity: 1.0, Volatility: 0.22},

	SOL:   {ID: SOL, Layer: Upside, ProtectionEligible: true, Tradeable: true, Liquidity: 1.0, Volatility: 0.75},
	TON:   {ID: TON, Layer: Upside, ProtectionEligible: true, Tradeable: true, Liquidity: 1.0, Volatility: 0.80},
	LINK:  {ID: LINK, Layer: Upside, ProtectionEligible: true, Tradeable: true, Liquidity: 1.0, Volatility: 0.80},
	AVAX:  {ID: AVAX, Layer: Upside, ProtectionEligible: true, Tradeable: true, Liquidity: 1.0, Volatility: 0.85},
	MATIC: {ID: MATIC, Layer: Upside, ProtectionEligible: true, Tradeable: true, Liquidity: 1.0, Volatility: 0.90},
	ARB:   {ID: ARB, Layer: Upside, ProtectionEligible: true, Tradeable: true, Liquidity: 1.0, Volatility: 0.95},
}

// LookupAsset returns the static metadata of an asset.
func LookupAsset(id AssetID) (AssetMeta, bool) {
	m, ok := assetTable[id]
	return m, ok
}

// MustAsset is like LookupAsset but panics on unknown IDs. Use it only on IDs
// that have already been validated.
func MustAsset(id AssetID) AssetMeta {
	m, ok := assetTable[id]
	if !ok {
		panic(fmt.Sprintf("unknown asset %q", id))
	}
	return m
}

// Layer returns the layer of a known asset.
func (id AssetID) Layer() Layer { return MustAsset(id).Layer }

// Known reports whether id is part of the asset universe.
func (id AssetID) Known() bool {
	_, ok := assetTable[id]
	return ok
}

// ParseAssetID converts a case-insensitive asset name.
func ParseAssetID(s string) (AssetID, error) {
	id := AssetID(strings.ToUpper(strings.TrimSpace(s)))
	if !id.Known() {
		return "", fmt.Errorf("unknown asset %q", s)
	}
	return id, nil
}

// Assets returns every asset ID in sorted order.
func Assets() []AssetID {
	ids := make([]AssetID, 0, len(assetTable))
	for id := range assetTable {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// AssetsInLayer returns the assets of a layer in sorted order.
func AssetsInLayer(l Layer) []AssetID {
	var ids []AssetID
	for _, id := range Assets() {
		if assetTable[id].Layer == l {
			ids = append(ids, id)
		}
	}
	return ids
}
