package models

import "strings"

// AssetClass identifies which market a tracked asset belongs to and which
// feed is responsible for it.
type AssetClass string

const (
	AssetClassCrypto     AssetClass = "crypto"
	AssetClassUSEquity   AssetClass = "us_equity"
	AssetClassIntlEquity AssetClass = "intl_equity"
	AssetClassCommodity  AssetClass = "commodity"
)

// Valid reports whether c is one of the known asset classes.
func (c AssetClass) Valid() bool {
	switch c {
	case AssetClassCrypto, AssetClassUSEquity, AssetClassIntlEquity, AssetClassCommodity:
		return true
	}
	return false
}

// TrackedAsset is one held asset the streaming layer follows. Instances are
// immutable; the registry replaces the whole set on refresh.
type TrackedAsset struct {
	ID       int64      `json:"id"`
	Symbol   string     `json:"symbol"`
	Name     string     `json:"name"`
	Class    AssetClass `json:"class"`
	Currency string     `json:"currency"`

	// FeedSymbol is the provider-facing symbol, normalized per class.
	FeedSymbol string `json:"feed_symbol"`
}

// NormalizeFeedSymbol derives the provider symbol for an asset. Crypto
// symbols gain the quote-currency suffix, everything else is plain upper
// case.
func NormalizeFeedSymbol(symbol string, class AssetClass, quoteSuffix string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if class == AssetClassCrypto {
		return s + strings.ToUpper(quoteSuffix)
	}
	return s
}
