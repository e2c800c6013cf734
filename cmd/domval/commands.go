package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/domval/internal/pipeline"
	"github.com/FranksOps/domval/internal/report"
	"github.com/FranksOps/domval/internal/server"
	"github.com/FranksOps/domval/internal/validate"
	"github.com/FranksOps/domval/internal/valuation"
	"github.com/FranksOps/domval/pkg/ratelimit"
)

const donationMessage = "Finding this useful? Consider supporting the project so valuations stay free."

func newValueCmd(load loader) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "value <domain>",
		Short: "Value a single domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireClient(); err != nil {
				return err
			}

			res, err := a.pipeline.Single(cmd.Context(), args[0])
			if err != nil {
				return describe(err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res.Response); err != nil {
					return err
				}
			} else {
				printValuation(out, res.Response)
			}
			if res.ShowDonationPrompt {
				fmt.Fprintln(cmd.ErrOrStderr(), donationMessage)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw service response")
	return cmd
}

func printValuation(w io.Writer, r *valuation.Response) {
	fmt.Fprintf(w, "Domain:       %s\n", r.Domain)
	fmt.Fprintf(w, "Estimated:    $%.0f\n", float64(r.Valuation.EstimatedValue))
	fmt.Fprintf(w, "Auction:      $%.0f\n", float64(r.Valuation.AuctionValue))
	fmt.Fprintf(w, "Marketplace:  $%.0f\n", float64(r.Valuation.MarketplaceValue))
	fmt.Fprintf(w, "Brokerage:    $%.0f\n", float64(r.Valuation.BrokerageValue))
	if r.Confidence != nil {
		fmt.Fprintf(w, "Confidence:   %v\n", r.Confidence)
	}
	if r.LastUpdated != "" {
		fmt.Fprintf(w, "Last updated: %s\n", r.LastUpdated)
	}
}

func newBulkCmd(load loader) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "bulk [file|-]",
		Short: "Value up to 100 domains, one per line",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireClient(); err != nil {
				return err
			}

			res, err := a.pipeline.Bulk(cmd.Context(), validate.ParseList(string(input)))
			if err != nil {
				return describe(err)
			}

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			summary := report.GenerateSummary(res.Results, res.Validation.InvalidDomains, time.Now())
			if err := report.Write(out, format, summary); err != nil {
				return err
			}
			if res.ShowDonationPrompt {
				fmt.Fprintln(cmd.ErrOrStderr(), donationMessage)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "report format: text, json, html, csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the report to this file")
	return cmd
}

// readInput reads the named file, or stdin for "-" or no argument.
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}

func newWarmupCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "warmup",
		Short: "Wake the valuation service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireClient(); err != nil {
				return err
			}

			if !a.client.WarmUp(cmd.Context()) {
				return errors.New("valuation service did not answer the warm-up")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valuation service is warm")
			return nil
		},
	}
}

func newUsageCmd(load loader) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show or reset the local search counter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			if reset {
				if err := a.tracker.ClearAllData(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "search history cleared")
				return nil
			}

			count, err := a.tracker.SearchCount(ctx)
			if err != nil {
				return err
			}
			limited, err := a.tracker.IsRateLimited(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Searches:     %d\nRate limited: %t\n", count, limited)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "clear the search counter and history")
	return cmd
}

func newServeCmd(load loader) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the valuation proxy server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireClient(); err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			srv := server.New(server.Config{
				// Usage limits are per user, so the shared proxy does not
				// count searches.
				Pipeline:  &pipeline.Pipeline{Valuer: a.client, Logger: a.logger},
				Logger:    a.logger.With("component", "server"),
				Admission: ratelimit.NewBurstLimiter(a.cfg.Server.AdmitRPS, a.cfg.Server.AdmitBurst, 0),
			})
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	return cmd
}

// describe turns pipeline errors into a message fit for the terminal.
func describe(err error) error {
	var verr *pipeline.ValidationError
	if errors.As(err, &verr) {
		if len(verr.Result.InvalidDomains) > 0 {
			return fmt.Errorf("%w: %v", err, verr.Result.InvalidDomains)
		}
		return err
	}
	var f *pipeline.Failure
	if errors.As(err, &f) {
		return fmt.Errorf("%s (%s): %w", f.Classification.Message, f.Classification.Type, err)
	}
	return err
}
