// Package validate sanitizes and checks candidate domain names before they
// reach the valuation pipeline.
package validate

import (
	"regexp"
	"strings"
)

const (
	// MaxDomainLength is the longest accepted domain, in characters.
	MaxDomainLength = 253
	// MaxBulkDomains caps the number of entries in a single bulk request.
	MaxBulkDomains = 100
)

// Fixed messages reported in Result.Error when a list is rejected outright.
const (
	ErrMsgNotList   = "domains must be provided as a list"
	ErrMsgEmpty     = "no domains provided"
	ErrMsgTooMany   = "too many domains: maximum is 100 per request"
	ErrMsgNoneValid = "no valid domains found"
)

var (
	angleBrackets = regexp.MustCompile(`[<>]`)
	jsScheme      = regexp.MustCompile(`(?i)javascript:`)
	eventHandler  = regexp.MustCompile(`(?i)on\w+=`)
	label         = regexp.MustCompile(`(?i)^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)
)

// Result is the outcome of validating a list of domains.
type Result struct {
	ValidDomains   []string `json:"validDomains"`
	InvalidDomains []string `json:"invalidDomains"`
	TotalValid     int      `json:"totalValid"`
	TotalInvalid   int      `json:"totalInvalid"`
	Valid          bool     `json:"valid"`
	Error          string   `json:"error,omitempty"`
}

// Sanitize strips markup and script fragments from raw user input and
// trims surrounding whitespace.
func Sanitize(raw string) string {
	s := angleBrackets.ReplaceAllString(raw, "")
	s = jsScheme.ReplaceAllString(s, "")
	s = eventHandler.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Domain reports whether domain, once sanitized, is a syntactically valid
// DNS name. Single-label names such as "localhost" are accepted.
func Domain(domain string) bool {
	d := Sanitize(domain)
	if d == "" || len(d) > MaxDomainLength {
		return false
	}

	for _, l := range strings.Split(d, ".") {
		if !label.MatchString(l) {
			return false
		}
	}
	return true
}

// Normalize returns the sanitized, lower-cased form used as a cache and
// request key.
func Normalize(domain string) string {
	return strings.ToLower(Sanitize(domain))
}

// List partitions domains into valid and invalid entries. A nil, empty or
// oversized list is rejected without inspecting its entries. Duplicates
// are preserved.
func List(domains []string) Result {
	switch {
	case domains == nil:
		return Result{Error: ErrMsgNotList}
	case len(domains) == 0:
		return Result{Error: ErrMsgEmpty}
	case len(domains) > MaxBulkDomains:
		return Result{Error: ErrMsgTooMany}
	}

	res := Result{
		ValidDomains:   make([]string, 0, len(domains)),
		InvalidDomains: []string{},
	}
	for _, raw := range domains {
		if Domain(raw) {
			res.ValidDomains = append(res.ValidDomains, Normalize(raw))
		} else {
			res.InvalidDomains = append(res.InvalidDomains, raw)
		}
	}

	res.TotalValid = len(res.ValidDomains)
	res.TotalInvalid = len(res.InvalidDomains)
	res.Valid = res.TotalValid > 0
	if !res.Valid {
		res.Error = ErrMsgNoneValid
	}
	return res
}

// ParseList splits free-form input into one candidate per line, dropping
// blank lines.
func ParseList(input string) []string {
	lines := strings.Split(strings.ReplaceAll(input, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
