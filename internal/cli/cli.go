// Package cli implements the statsctl commands for querying the validator
// proxy from a terminal.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/aitprotocol/logicnet-dashboard/internal/aggregator"
	"github.com/aitprotocol/logicnet-dashboard/internal/config"
	"github.com/aitprotocol/logicnet-dashboard/internal/retry"
	"github.com/aitprotocol/logicnet-dashboard/internal/stats"
	"github.com/fatih/color"
	prettyjson "github.com/hokaccha/go-prettyjson"
	"github.com/spf13/cobra"
)

const userAgent = "logicnet-statsctl/0.1"

// Options are the persistent flags shared by every command.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	Attempts  int
	BatchSize int
	NoColor   bool

	// NewFetcher overrides the proxy client (for testing).
	NewFetcher func(o *Options) stats.Fetcher
}

func (o *Options) fetcher() stats.Fetcher {
	if o.NewFetcher != nil {
		return o.NewFetcher(o)
	}
	return stats.NewClient(o.BaseURL,
		stats.WithTimeout(o.Timeout),
		stats.WithRetry(retry.Policy{Attempts: o.Attempts, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}),
		stats.WithUserAgent(userAgent),
	)
}

func (o *Options) aggregator() *aggregator.Aggregator {
	return aggregator.New(aggregator.WithBatchSize(o.BatchSize))
}

// NewRootCmd builds the statsctl command tree.
func NewRootCmd(o *Options) *cobra.Command {
	baseURL := os.Getenv("STATS_BASE_URL")
	if baseURL == "" {
		baseURL = config.DefaultStatsBaseURL
	}

	root := &cobra.Command{
		Use:           "statsctl",
		Short:         "LogicNet statistics CLI",
		Long:          `statsctl fetches miner information and statistics from a LogicNet validator proxy and prints the dashboard aggregates as JSON.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&o.BaseURL, "base-url", baseURL, "Validator proxy base URL")
	root.PersistentFlags().DurationVar(&o.Timeout, "timeout", config.DefaultFetchTimeout, "Per-request timeout")
	root.PersistentFlags().IntVar(&o.Attempts, "attempts", config.DefaultFetchAttempts, "Fetch attempts per endpoint (1 = no retry)")
	root.PersistentFlags().IntVar(&o.BatchSize, "batch-size", config.DefaultScoreBatchSize, "Mean score divisor, 0 divides by the number of scores")
	root.PersistentFlags().BoolVar(&o.NoColor, "no-color", color.NoColor, "Disable colored output")

	root.AddCommand(
		newValidatorsCmd(o),
		newCategoriesCmd(o),
		newScoresCmd(o),
		newBarsCmd(o),
		newTimelineCmd(o),
		newOverviewCmd(o),
	)
	return root
}

func newValidatorsCmd(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "validators",
		Short: "List validators in the information snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := o.fetcher().FetchMinerInformation(cmd.Context())
			if err != nil {
				return err
			}
			ids := info.Validators()
			slices.Sort(ids)
			return logJSONCmd(cmd, o, ids)
		},
	}
}

func newCategoriesCmd(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "categories <validator>",
		Short: "Count miners per category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mi, err := minerInformation(cmd.Context(), o, args[0])
			if err != nil {
				return err
			}
			return logJSONCmd(cmd, o, aggregator.GroupByCategory(mi))
		},
	}
}

func newScoresCmd(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "scores <validator>",
		Short: "Mean score per miner, in snapshot order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mi, err := minerInformation(cmd.Context(), o, args[0])
			if err != nil {
				return err
			}
			return logJSONCmd(cmd, o, o.aggregator().MeanScorePerMiner(mi))
		},
	}
}

func newBarsCmd(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "bars <validator> <category>",
		Short: "Miners of one category ranked by mean score",
		Long: `Miners of one category ranked by mean score, highest first.

Prints an empty list when every miner in the category scores zero.

Examples:
  statsctl bars 3 algebra`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mi, err := minerInformation(cmd.Context(), o, args[0])
			if err != nil {
				return err
			}
			bars := aggregator.RankedCategoryBars(o.aggregator().MeanScorePerMiner(mi), args[1])
			if bars == nil {
				bars = []aggregator.Bar{}
			}
			return logJSONCmd(cmd, o, bars)
		},
	}
}

func newTimelineCmd(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline <validator>",
		Short: "Average top accuracy per minute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := o.fetcher().FetchMinerStatistics(cmd.Context())
			if err != nil {
				return err
			}
			points, ok := aggregator.Timeline(snap, args[0])
			if !ok {
				return fmt.Errorf("%w: %q has no statistics", aggregator.ErrValidatorNotFound, args[0])
			}
			return logJSONCmd(cmd, o, points)
		},
	}
}

func newOverviewCmd(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "overview <validator>",
		Short: "Everything the dashboard shows for one validator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := o.fetcher()
			info, err := f.FetchMinerInformation(cmd.Context())
			if err != nil {
				return err
			}
			st, err := f.FetchMinerStatistics(cmd.Context())
			if err != nil {
				logWarnCmd(cmd, o, fmt.Sprintf("statistics unavailable, timeline skipped: %v", err))
				st = nil
			}
			v, err := o.aggregator().BuildView(info, st, args[0])
			if err != nil {
				return err
			}
			return logJSONCmd(cmd, o, v)
		},
	}
}

func minerInformation(ctx context.Context, o *Options, validator string) (*stats.MinerInformation, error) {
	info, err := o.fetcher().FetchMinerInformation(ctx)
	if err != nil {
		return nil, err
	}
	return aggregator.MinerInformation(info, validator)
}

func logJSONCmd(cmd *cobra.Command, o *Options, v any) error {
	f := prettyjson.NewFormatter()
	f.DisabledColor = o.NoColor
	b, err := f.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", b)
	return err
}

func logWarnCmd(cmd *cobra.Command, o *Options, msg string) {
	fprintColored(cmd.ErrOrStderr(), o.NoColor, color.New(color.FgYellow), "warning: "+msg)
}

// LogErrorCmd prints err in bold red on the command's error stream.
func LogErrorCmd(cmd *cobra.Command, o *Options, err error) {
	fprintColored(cmd.ErrOrStderr(), o.NoColor, color.New(color.FgRed, color.Bold), "error: "+err.Error())
}

func fprintColored(w io.Writer, noColor bool, c *color.Color, msg string) {
	if noColor {
		c.DisableColor()
	} else {
		c.EnableColor()
	}
	_, _ = c.Fprintln(w, msg)
}
