package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pimsync/internal/recurrence"
)

// TranslateOptions holds flags for the translate command.
type TranslateOptions struct {
	*RootOptions
	RRule       string
	Pattern     string // path to a Primary pattern JSON file
	Start       string
	TimeZone    string
	Duration    time.Duration
	AllDay      bool
	Occurrences int
}

// TranslateResult is one recurrence in every representation.
type TranslateResult struct {
	RRule       string                `json:"rrule"`
	Digest      string                `json:"digest"`
	Pattern     recurrence.Pattern    `json:"pattern"`
	Series      recurrence.Series     `json:"series"`
	Instances   []recurrence.Instance `json:"instances,omitempty"`
	Occurrences []time.Time           `json:"occurrences"`
}

// NewTranslateCommand creates the translate command.
func NewTranslateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TranslateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate a recurrence between Primary and Secondary forms",
		Long: `Translate a recurrence between the Primary store's pattern and the
Secondary store's RRULE series, through the canonical rule.

Give either an RRULE with its anchor, or a Primary pattern as JSON. The
command prints the normalized RRULE, the pattern, the series and the first
occurrences. A recurrence one side cannot express is an error.

Examples:
  pimsync translate --rrule "FREQ=WEEKLY;BYDAY=WE;COUNT=4" --start 2020-06-03T15:00:00 --tz Europe/Warsaw --duration 90m
  pimsync translate --rrule "FREQ=YEARLY" --start 2020-12-25 --all-day
  pimsync translate --pattern pattern.json --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RRule, "rrule", "", "RRULE line to translate")
	cmd.Flags().StringVar(&opts.Pattern, "pattern", "", "Primary pattern JSON file to translate")
	cmd.Flags().StringVar(&opts.Start, "start", "", "first occurrence, local time (2006-01-02T15:04:05) or date for all-day")
	cmd.Flags().StringVar(&opts.TimeZone, "tz", "UTC", "IANA time zone of --start")
	cmd.Flags().DurationVar(&opts.Duration, "duration", time.Hour, "occurrence length")
	cmd.Flags().BoolVar(&opts.AllDay, "all-day", false, "all-day occurrences")
	cmd.Flags().IntVarP(&opts.Occurrences, "occurrences", "n", 5, "number of occurrences to list")
	cmd.MarkFlagsMutuallyExclusive("rrule", "pattern")
	cmd.MarkFlagsOneRequired("rrule", "pattern")

	return cmd
}

func runTranslate(opts *TranslateOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	rule, excs, err := canonicalRule(opts)
	if err != nil {
		_ = formatter.Error(ErrCodeTranslate, err.Error(), nil)
		return WrapExitError(ExitFailure, "translate recurrence", err)
	}
	formatter.VerboseLog("Canonical rule: %s anchored %s", recurrence.FormatRRule(rule), rule.Start.Format(time.RFC3339))

	res, err := translateRule(rule, excs, opts.Occurrences)
	if err != nil {
		_ = formatter.Error(ErrCodeTranslate, err.Error(), nil)
		return WrapExitError(ExitFailure, "translate recurrence", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(res)
	}

	w := formatter.Writer
	fmt.Fprintln(w, res.RRule)
	fmt.Fprintf(w, "Primary pattern: %s every %d", res.Pattern.Type, res.Pattern.Interval)
	switch {
	case res.Pattern.Occurrences > 0:
		fmt.Fprintf(w, ", %d occurrence(s)\n", res.Pattern.Occurrences)
	case !res.Pattern.EndDate.IsZero():
		fmt.Fprintf(w, ", until %s\n", res.Pattern.EndDate.Format(time.DateOnly))
	default:
		fmt.Fprintln(w, ", no end")
	}
	fmt.Fprintf(w, "Exceptions: %d\n", len(res.Pattern.Exceptions))
	fmt.Fprintln(w, "Occurrences:")
	for _, o := range res.Occurrences {
		fmt.Fprintf(w, "  %s\n", o.Format(time.RFC3339))
	}
	return nil
}

// canonicalRule builds the canonical rule from whichever input was given.
func canonicalRule(opts *TranslateOptions) (recurrence.Rule, []recurrence.Exception, error) {
	if opts.Pattern != "" {
		data, err := os.ReadFile(opts.Pattern)
		if err != nil {
			return recurrence.Rule{}, nil, fmt.Errorf("read pattern: %w", err)
		}
		var p recurrence.Pattern
		if err := json.Unmarshal(data, &p); err != nil {
			return recurrence.Rule{}, nil, fmt.Errorf("decode pattern %s: %w", opts.Pattern, err)
		}
		return recurrence.NewRuleTranslator().ToCanonical(p)
	}

	if opts.Start == "" {
		return recurrence.Rule{}, nil, fmt.Errorf("--start is required with --rrule")
	}

	var (
		start time.Time
		err   error
	)
	tz := opts.TimeZone
	if opts.AllDay {
		start, err = time.Parse(time.DateOnly, opts.Start)
		tz = ""
	} else {
		var loc *time.Location
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return recurrence.Rule{}, nil, fmt.Errorf("load time zone %q: %w", tz, err)
		}
		start, err = time.ParseInLocation("2006-01-02T15:04:05", opts.Start, loc)
	}
	if err != nil {
		return recurrence.Rule{}, nil, fmt.Errorf("parse --start: %w", err)
	}

	rule, err := recurrence.ParseRRule(opts.RRule, start)
	if err != nil {
		return recurrence.Rule{}, nil, err
	}
	rule.Start = start
	rule.Duration = opts.Duration
	rule.AllDay = opts.AllDay
	rule.TimeZone = tz
	if opts.AllDay && rule.Duration%(24*time.Hour) != 0 {
		rule.Duration = 24 * time.Hour
	}
	return rule, nil, rule.Validate()
}

// translateRule renders rule on both sides and lists its first n
// occurrences after exceptions.
func translateRule(rule recurrence.Rule, excs []recurrence.Exception, n int) (TranslateResult, error) {
	pattern, err := recurrence.NewRuleTranslator().FromCanonical(rule, excs)
	if err != nil {
		return TranslateResult{}, fmt.Errorf("primary pattern: %w", err)
	}
	series, err := recurrence.InstanceTranslator{}.FromCanonical(rule, excs)
	if err != nil {
		return TranslateResult{}, fmt.Errorf("secondary series: %w", err)
	}

	to, ok, err := recurrence.LastEnd(rule)
	if err != nil {
		return TranslateResult{}, err
	}
	if !ok {
		to = rule.Start.AddDate(10, 0, 0)
	}
	occs, err := recurrence.Expand(rule, excs, rule.Start, to.Add(time.Nanosecond))
	if err != nil {
		return TranslateResult{}, err
	}
	starts := make([]time.Time, 0, n)
	for _, o := range occs {
		if len(starts) == n {
			break
		}
		starts = append(starts, o.Start)
	}

	return TranslateResult{
		RRule:       recurrence.FormatRRule(rule),
		Digest:      recurrence.Digest(rule, excs),
		Pattern:     pattern,
		Series:      series,
		Instances:   series.Instances,
		Occurrences: starts,
	}, nil
}
