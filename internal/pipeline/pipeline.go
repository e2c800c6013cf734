// Package pipeline runs a valuation request through its stages: input
// validation, the usage tracker, the valuation client and, on failure,
// error classification. The CLI and the proxy server both drive it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/FranksOps/domval/internal/apierror"
	"github.com/FranksOps/domval/internal/tracker"
	"github.com/FranksOps/domval/internal/validate"
	"github.com/FranksOps/domval/internal/valuation"
)

// Valuer is the subset of *valuation.Client the pipeline needs.
type Valuer interface {
	GetSingle(ctx context.Context, domain string) (*valuation.Response, error)
	GetBulk(ctx context.Context, domains []string) (*valuation.BulkResponse, error)
	WarmUp(ctx context.Context) bool
}

// ensure the real client satisfies Valuer
var _ Valuer = (*valuation.Client)(nil)

// ValidationError reports input that never reached the network.
type ValidationError struct {
	Result validate.Result
}

func (e *ValidationError) Error() string {
	if e.Result.Error != "" {
		return "validation failed: " + e.Result.Error
	}
	return fmt.Sprintf("validation failed: %d invalid domains", e.Result.TotalInvalid)
}

// Failure is a classified upstream failure.
type Failure struct {
	Classification apierror.Classification
	Err            error
}

func (e *Failure) Error() string {
	if e.Err == nil {
		return e.Classification.Message
	}
	return fmt.Sprintf("%s: %v", e.Classification.Type, e.Err)
}

func (e *Failure) Unwrap() error { return e.Err }

// ErrRateLimited is wrapped in a Failure when the tracker refuses a search.
var ErrRateLimited = errors.New("search limit reached, wait a minute before searching again")

// Pipeline wires the stages together. Tracker may be nil, in which case
// searches are neither counted nor limited.
type Pipeline struct {
	Valuer  Valuer
	Tracker *tracker.Tracker
	Logger  *slog.Logger
}

// SingleResult is the outcome of one domain lookup.
type SingleResult struct {
	Domain             string              `json:"domain"`
	Response           *valuation.Response `json:"response"`
	ShowDonationPrompt bool                `json:"showDonationPrompt,omitempty"`
}

// BulkResult is the outcome of a bulk lookup.
type BulkResult struct {
	Validation         validate.Result      `json:"validation"`
	Results            []valuation.Response `json:"results"`
	ShowDonationPrompt bool                 `json:"showDonationPrompt,omitempty"`
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// Single validates raw, applies the search limit and values the domain.
// Errors are *ValidationError or *Failure.
func (p *Pipeline) Single(ctx context.Context, raw string) (*SingleResult, error) {
	if p.Valuer == nil {
		return nil, errors.New("pipeline: Valuer is nil")
	}

	res := validate.List([]string{raw})
	if !res.Valid {
		return nil, &ValidationError{Result: res}
	}
	domain := res.ValidDomains[0]

	if err := p.admit(ctx, domain); err != nil {
		return nil, err
	}

	r, err := p.Valuer.GetSingle(ctx, domain)
	if err != nil {
		c := apierror.Classify(err)
		p.logger().Error("valuation failed", "domain", domain, "type", c.Type, "err", err)
		return nil, &Failure{Classification: c, Err: err}
	}

	return &SingleResult{
		Domain:             domain,
		Response:           r,
		ShowDonationPrompt: p.prompt(ctx, tracker.PromptSearch),
	}, nil
}

// Bulk validates raws and values every valid domain in one batch. Invalid
// entries are reported in the result's Validation rather than failing the
// batch, unless none are valid. The batch is limited and recorded by the
// tracker like a single search.
func (p *Pipeline) Bulk(ctx context.Context, raws []string) (*BulkResult, error) {
	if p.Valuer == nil {
		return nil, errors.New("pipeline: Valuer is nil")
	}

	res := validate.List(raws)
	if !res.Valid {
		return nil, &ValidationError{Result: res}
	}
	if res.TotalInvalid > 0 {
		p.logger().Info("skipping invalid domains", "count", res.TotalInvalid)
	}
	// A batch counts as one search against the limit.
	if err := p.admit(ctx, res.ValidDomains[0]); err != nil {
		return nil, err
	}

	resp, err := p.Valuer.GetBulk(ctx, res.ValidDomains)
	if err != nil {
		c := apierror.Classify(err)
		p.logger().Error("bulk valuation failed", "domains", res.TotalValid, "type", c.Type, "err", err)
		return nil, &Failure{Classification: c, Err: err}
	}

	return &BulkResult{
		Validation:         res,
		Results:            resp.Results,
		ShowDonationPrompt: p.prompt(ctx, tracker.PromptBulk),
	}, nil
}

// admit refuses the search when the tracker reports the limit reached and
// records it otherwise. Tracker storage errors are logged, not fatal.
func (p *Pipeline) admit(ctx context.Context, domain string) error {
	if p.Tracker == nil {
		return nil
	}
	limited, err := p.Tracker.IsRateLimited(ctx)
	if err != nil {
		p.logger().Warn("rate limit check failed", "err", err)
	}
	if limited {
		return &Failure{Classification: apierror.Of(apierror.TypeRateLimit), Err: ErrRateLimited}
	}
	if err := p.Tracker.RecordSearch(ctx, domain); err != nil {
		p.logger().Warn("recording search failed", "err", err)
	}
	return nil
}

// WarmUp forwards to the Valuer.
func (p *Pipeline) WarmUp(ctx context.Context) bool {
	if p.Valuer == nil {
		return false
	}
	return p.Valuer.WarmUp(ctx)
}

// prompt reports whether to show the donation prompt and marks it shown.
func (p *Pipeline) prompt(ctx context.Context, c tracker.PromptContext) bool {
	if p.Tracker == nil {
		return false
	}
	show, err := p.Tracker.ShouldShowDonationPrompt(ctx, c)
	if err != nil {
		p.logger().Debug("donation prompt check failed", "err", err)
		return false
	}
	if show {
		p.Tracker.MarkDonationPromptShown(c)
	}
	return show
}
