package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ValidationError reports a malformed submission. It is raised synchronously
// from task creation and never surfaces as a task state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Analyst identifiers accepted in AnalysisRequest.Analysts
const (
	AnalystMarket       = "market"
	AnalystFundamentals = "fundamentals"
	AnalystNews         = "news"
	AnalystSentiment    = "sentiment"
)

var knownAnalysts = map[string]bool{
	AnalystMarket:       true,
	AnalystFundamentals: true,
	AnalystNews:         true,
	AnalystSentiment:    true,
}

var (
	symbolUS = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z])?$`)
	symbolCN = regexp.MustCompile(`^\d{6}$`)
	symbolHK = regexp.MustCompile(`^\d{4,5}(\.HK)?$`)
)

// Validate checks the submission payload against the accepted formats.
// It returns a *ValidationError describing the first violation found.
func (r *AnalysisRequest) Validate() error {
	symbol := strings.TrimSpace(r.StockSymbol)
	if symbol == "" {
		return &ValidationError{Field: "stock_symbol", Reason: "must not be empty"}
	}

	switch r.MarketType {
	case MarketUS:
		if !symbolUS.MatchString(strings.ToUpper(symbol)) {
			return &ValidationError{Field: "stock_symbol", Reason: fmt.Sprintf("%q is not a valid US ticker", symbol)}
		}
	case MarketCN:
		if !symbolCN.MatchString(symbol) {
			return &ValidationError{Field: "stock_symbol", Reason: fmt.Sprintf("%q is not a valid A-share code", symbol)}
		}
	case MarketHK:
		if !symbolHK.MatchString(strings.ToUpper(symbol)) {
			return &ValidationError{Field: "stock_symbol", Reason: fmt.Sprintf("%q is not a valid HK code", symbol)}
		}
	default:
		return &ValidationError{Field: "market_type", Reason: fmt.Sprintf("unknown market %q", r.MarketType)}
	}

	if len(r.Analysts) == 0 {
		return &ValidationError{Field: "analysts", Reason: "at least one analyst is required"}
	}
	seen := make(map[string]bool, len(r.Analysts))
	for _, a := range r.Analysts {
		if !knownAnalysts[a] {
			return &ValidationError{Field: "analysts", Reason: fmt.Sprintf("unknown analyst %q", a)}
		}
		if seen[a] {
			return &ValidationError{Field: "analysts", Reason: fmt.Sprintf("duplicate analyst %q", a)}
		}
		seen[a] = true
	}

	if r.ResearchDepth < 1 || r.ResearchDepth > 5 {
		return &ValidationError{Field: "research_depth", Reason: "must be between 1 and 5"}
	}

	if r.AnalysisDate != "" {
		if _, err := time.Parse("2006-01-02", r.AnalysisDate); err != nil {
			return &ValidationError{Field: "analysis_date", Reason: "must be YYYY-MM-DD"}
		}
	}

	return nil
}

// TradeDate returns the analysis date, defaulting to today (UTC) when unset.
func (r *AnalysisRequest) TradeDate() string {
	if r.AnalysisDate != "" {
		return r.AnalysisDate
	}
	return time.Now().UTC().Format("2006-01-02")
}

// Timeout returns the per-task deadline from extra_config's
// timeout_seconds key, when present and positive.
func (r *AnalysisRequest) Timeout() (time.Duration, bool) {
	v, ok := r.ExtraConfig["timeout_seconds"]
	if !ok {
		return 0, false
	}
	var secs float64
	switch n := v.(type) {
	case float64:
		secs = n
	case int:
		secs = float64(n)
	default:
		return 0, false
	}
	if secs <= 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}
