package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"strconv"
	"text/template"
	"time"

	"github.com/FranksOps/domval/internal/valuation"
)

// Summary contains aggregated figures about a bulk valuation run.
type Summary struct {
	GeneratedAt    time.Time            `json:"generatedAt"`
	TotalDomains   int                  `json:"totalDomains"`
	Valued         int                  `json:"valued"`
	TotalErrors    int                  `json:"totalErrors"`
	Skipped        []string             `json:"skipped,omitempty"`
	TotalEstimated float64              `json:"totalEstimated"`
	TopDomain      string               `json:"topDomain,omitempty"`
	TopValue       float64              `json:"topValue"`
	Confidence     map[string]int       `json:"confidence,omitempty"`
	Results        []valuation.Response `json:"results"`
}

// GenerateSummary aggregates valuation results. skipped lists inputs that
// failed validation and never reached the service.
func GenerateSummary(results []valuation.Response, skipped []string, now time.Time) Summary {
	s := Summary{
		GeneratedAt: now,
		Skipped:     skipped,
		Confidence:  make(map[string]int),
		Results:     results,
	}

	for _, r := range results {
		s.TotalDomains++
		if r.Error != "" {
			s.TotalErrors++
			continue
		}
		s.Valued++
		v := float64(r.Valuation.EstimatedValue)
		s.TotalEstimated += v
		if s.TopDomain == "" || v > s.TopValue {
			s.TopDomain = r.Domain
			s.TopValue = v
		}
		if r.Confidence != nil {
			s.Confidence[fmt.Sprint(r.Confidence)]++
		}
	}
	return s
}

func money(v any) string {
	var f float64
	switch x := v.(type) {
	case valuation.Amount:
		f = float64(x)
	case float64:
		f = x
	}
	return "$" + strconv.FormatFloat(f, 'f', 0, 64)
}

var funcs = map[string]any{"money": money}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `Domain Valuation Summary
------------------------
Generated:       {{.GeneratedAt.Format "2006-01-02 15:04:05"}}
Domains:         {{.TotalDomains}}
Valued:          {{.Valued}}
Errors:          {{.TotalErrors}}
Skipped:         {{len .Skipped}}
Total Estimate:  {{money .TotalEstimated}}
{{- if .TopDomain}}
Top Domain:      {{.TopDomain}} ({{money .TopValue}})
{{- end}}

Results:
{{- range .Results}}
  {{printf "%-30s" .Domain}} {{if .Error}}error: {{.Error}}{{else}}{{money .Valuation.EstimatedValue}}{{end}}
{{- else}}
  None
{{- end}}
{{- if .Skipped}}

Invalid domains skipped:
{{- range .Skipped}}
  {{.}}
{{- end}}
{{- end}}
`

	t, err := template.New("textReport").Funcs(funcs).Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	return nil
}

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Domain Valuation Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
  .err { color: red; }
</style>
</head>
<body>
  <h1>Domain Valuation Report</h1>
  <p><strong>Generated:</strong> {{.GeneratedAt.Format "2006-01-02 15:04:05"}}</p>

  <div class="stat-card">
    <div>Domains</div>
    <div class="stat-val">{{.TotalDomains}}</div>
  </div>
  <div class="stat-card">
    <div>Errors</div>
    <div class="stat-val" style="color: {{if gt .TotalErrors 0}}red{{else}}green{{end}};">{{.TotalErrors}}</div>
  </div>
  <div class="stat-card">
    <div>Total Estimate</div>
    <div class="stat-val">{{money .TotalEstimated}}</div>
  </div>

  <h3>Results</h3>
  <table>
    <tr><th>Domain</th><th>Estimated</th><th>Auction</th><th>Marketplace</th><th>Brokerage</th><th>Confidence</th></tr>
    {{- range .Results}}
    {{- if .Error}}
    <tr><td>{{.Domain}}</td><td colspan="5" class="err">{{.Error}}</td></tr>
    {{- else}}
    <tr><td>{{.Domain}}</td><td>{{money .Valuation.EstimatedValue}}</td><td>{{money .Valuation.AuctionValue}}</td><td>{{money .Valuation.MarketplaceValue}}</td><td>{{money .Valuation.BrokerageValue}}</td><td>{{.Confidence}}</td></tr>
    {{- end}}
    {{- else}}
    <tr><td colspan="6">None</td></tr>
    {{- end}}
  </table>
  {{- if .Skipped}}

  <h3>Skipped</h3>
  <ul>
    {{- range .Skipped}}
    <li>{{.}}</li>
    {{- end}}
  </ul>
  {{- end}}
</body>
</html>
`
	t, err := htmltemplate.New("htmlReport").Funcs(funcs).Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	return nil
}

// csvHeaders defines the CSV column order.
var csvHeaders = []string{
	"domain",
	"estimated_value",
	"auction_value",
	"marketplace_value",
	"brokerage_value",
	"confidence",
	"last_updated",
	"error",
}

// WriteCSV writes one row per result.
func WriteCSV(w io.Writer, summary Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeaders); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	amount := func(a valuation.Amount) string {
		return strconv.FormatFloat(float64(a), 'f', -1, 64)
	}
	for _, r := range summary.Results {
		confidence := ""
		if r.Confidence != nil {
			confidence = fmt.Sprint(r.Confidence)
		}
		record := []string{
			r.Domain,
			amount(r.Valuation.EstimatedValue),
			amount(r.Valuation.AuctionValue),
			amount(r.Valuation.MarketplaceValue),
			amount(r.Valuation.BrokerageValue),
			confidence,
			r.LastUpdated,
			r.Error,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("report: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// Write renders summary in the named format: text, json, html or csv.
func Write(w io.Writer, format string, summary Summary) error {
	switch format {
	case "", "text":
		return WriteText(w, summary)
	case "json":
		return WriteJSON(w, summary)
	case "html":
		return WriteHTML(w, summary)
	case "csv":
		return WriteCSV(w, summary)
	default:
		return fmt.Errorf("report: unknown format %q", format)
	}
}
