// Package symbol converts between venue symbol spellings and the canonical
// BASE/QUOTE form used everywhere inside the copy trader.
package symbol

import "strings"

// Known quote currencies, tried in order. No listed pair collides, so a
// simple prefix scan is enough.
var quoteCurrencies = []string{"USDT", "USDC", "BUSD", "FDUSD", "TUSD", "DAI", "TRY", "BTC", "ETH"}

// Canonical normalizes a symbol to upper-case BASE/QUOTE. Venue suffixes
// (":USDT") and trailing dashes are stripped; a bare base gets /USDT
// appended. Canonical is idempotent.
func Canonical(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	// Drop venue settlement suffix, e.g. "ETH/USDT:USDT".
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "-")
	s = strings.ToUpper(s)

	if strings.Contains(s, "/") {
		return s
	}

	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s[:len(s)-len(quote)] + "/" + quote
		}
	}

	// Bare base asset.
	return s + "/USDT"
}

// ToVenue renders a canonical symbol in the concatenated form most venues
// use on the wire ("BTC/USDT" -> "BTCUSDT").
func ToVenue(canonical string) string {
	return strings.ReplaceAll(strings.ToUpper(canonical), "/", "")
}

// Base returns the base asset of a canonical symbol.
func Base(canonical string) string {
	if i := strings.Index(canonical, "/"); i >= 0 {
		return canonical[:i]
	}
	return canonical
}

// Quote returns the quote asset of a canonical symbol.
func Quote(canonical string) string {
	if i := strings.Index(canonical, "/"); i >= 0 {
		return canonical[i+1:]
	}
	return ""
}
