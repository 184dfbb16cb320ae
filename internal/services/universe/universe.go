package universe

import (
	"fmt"
	"strings"
)

// MaxSymbols caps how many instruments a single run processes.
const MaxSymbols = 50

const maxTickerLen = 10

var indexAliases = map[string]string{
	"SP500":    "^GSPC",
	"NASDAQ":   "^IXIC",
	"DOW":      "^DJI",
	"FTSE":     "^FTSE",
	"DAX":      "^GDAXI",
	"NIKKEI":   "^N225",
	"HANGSENG": "^HSI",
	"CAC40":    "^FCHI",
	"SENSEX":   "^BSESN",
	"ASX200":   "^AXJO",
}

var supportedCrypto = map[string]struct{}{
	"BTC": {}, "ETH": {}, "BNB": {}, "XRP": {}, "ADA": {}, "SOL": {}, "DOGE": {}, "MATIC": {}, "DOT": {}, "AVAX": {},
	"SHIB": {}, "LTC": {}, "UNI": {}, "LINK": {}, "XLM": {}, "ALGO": {}, "ATOM": {}, "NEAR": {}, "FTM": {}, "APE": {},
}

// Rejected is a symbol that could not be resolved, with the reason.
type Rejected struct {
	Symbol string
	Detail string
}

// Normalize resolves one raw symbol: upper-cases, maps index aliases, expands bare crypto tickers
// to XXX-USD and validates the result.
func Normalize(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("empty symbol")
	}
	if alias, ok := indexAliases[s]; ok {
		s = alias
	}
	if _, ok := supportedCrypto[s]; ok {
		s += "-USD"
	}
	if !ValidTicker(s) {
		return "", fmt.Errorf("invalid ticker format %q", raw)
	}
	return s, nil
}

// ValidTicker reports whether s has at most 10 characters from A-Z, 0-9, '-', '.', '_' and '^'.
func ValidTicker(s string) bool {
	if s == "" || len(s) > maxTickerLen {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '.', r == '_', r == '^':
		default:
			return false
		}
	}
	return true
}

// IsCrypto reports whether a normalized symbol is a supported crypto pair.
func IsCrypto(symbol string) bool {
	base, quote, ok := strings.Cut(symbol, "-")
	if !ok || quote != "USD" {
		return false
	}
	_, supported := supportedCrypto[base]
	return supported
}

// Resolve normalizes, de-duplicates and caps the universe. Order of first appearance is kept.
func Resolve(raw []string) (symbols []string, rejected []Rejected) {
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		s, err := Normalize(r)
		if err != nil {
			rejected = append(rejected, Rejected{Symbol: strings.ToUpper(strings.TrimSpace(r)), Detail: err.Error()})
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if len(symbols) >= MaxSymbols {
			rejected = append(rejected, Rejected{Symbol: s, Detail: fmt.Sprintf("universe capped at %d symbols", MaxSymbols)})
			continue
		}
		symbols = append(symbols, s)
	}
	return symbols, rejected
}
