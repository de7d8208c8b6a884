package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/pimsync/internal/engine"
	"github.com/roach88/pimsync/internal/link"
	"github.com/roach88/pimsync/internal/model"
	"github.com/roach88/pimsync/internal/recurrence"
	"github.com/roach88/pimsync/internal/retry"
	"github.com/roach88/pimsync/internal/store"
	"github.com/roach88/pimsync/internal/testutil"
)

// Harness holds the stores and engine of one scenario execution.
type Harness struct {
	primary   *testutil.MemoryStore
	secondary *testutil.MemoryStore
	clock     *testutil.DeterministicClock
	engine    *engine.Engine
	logger    *slog.Logger
}

// Option configures Run.
type Option func(*runOptions)

type runOptions struct {
	logger   *slog.Logger
	recorder engine.Recorder
}

// WithLogger routes engine logs to l. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) { o.logger = l }
}

// WithRecorder passes r to the engine.
func WithRecorder(r engine.Recorder) Option {
	return func(o *runOptions) { o.recorder = r }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against fresh in-memory stores. Execution flow:
//  1. Seed both stores and inject faults
//  2. Run the requested number of passes, stopping at an aborted pass
//  3. Check the expect clause against the last pass
//  4. Evaluate assertions against the trace and the stores
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := runOptions{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	h, err := newHarness(scenario, o)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	result := NewResult()

	passes := max(scenario.Passes, 1)
	for i := 0; i < passes; i++ {
		sum, err := h.engine.RunPass(ctx)
		result.AddPass(sum)
		if err != nil {
			result.PassError = err.Error()
			h.logger.Info("pass aborted", "pass", i+1, "error", err)
			break
		}
		h.logger.Info("pass completed", "pass", i+1, "matches", sum.Matches, "failures", sum.Failures())
	}

	if scenario.Expect != nil {
		for _, msg := range checkExpect(result, scenario.Expect) {
			result.AddError(msg)
		}
	} else if result.PassError != "" {
		result.AddError(fmt.Sprintf("unexpected pass error: %s", result.PassError))
	}

	actx := &AssertionContext{Primary: h.primary, Secondary: h.secondary}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario, o runOptions) (*Harness, error) {
	now := scenario.Now
	if now.IsZero() {
		now = DefaultNow
	}
	clock := testutil.NewDeterministicClock(now, time.Minute)

	h := &Harness{
		primary:   testutil.NewMemoryStore("p", testutil.WithMemoryClock(clock.Now)),
		secondary: testutil.NewMemoryStore("s", testutil.WithMemoryClock(clock.Now)),
		clock:     clock,
		logger:    o.logger,
	}

	for i, spec := range scenario.Primary {
		it, err := buildItem(spec, model.Primary, now)
		if err != nil {
			return nil, fmt.Errorf("primary[%d]: %w", i, err)
		}
		h.primary.Put(it)
	}
	for i, spec := range scenario.Secondary {
		it, err := buildItem(spec, model.Secondary, now)
		if err != nil {
			return nil, fmt.Errorf("secondary[%d]: %w", i, err)
		}
		h.secondary.Put(it)
	}

	for i, f := range scenario.Faults {
		side, _ := parseStoreName(f.Store)
		op, _ := parseOp(f.Op)
		ferr, err := parseStoreError(f.Error)
		if err != nil {
			return nil, fmt.Errorf("faults[%d]: %w", i, err)
		}
		h.store(side).Inject(testutil.Fault{Op: op, ID: f.ID, Err: ferr, Times: f.Times})
	}

	cfg, err := scenario.Config.apply(engine.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	passIDs := make([]string, max(scenario.Passes, 1))
	for i := range passIDs {
		passIDs[i] = fmt.Sprintf("pass-%d", i+1)
	}

	engOpts := []engine.Option{
		engine.WithNow(clock.Now),
		engine.WithPassIDs(engine.NewFixedGenerator(passIDs...)),
		engine.WithLogger(o.logger),
		engine.WithRetrier(instantRetrier(o.logger)),
	}
	if o.recorder != nil {
		engOpts = append(engOpts, engine.WithRecorder(o.recorder))
	}
	h.engine = engine.New(h.primary, h.secondary, cfg, engOpts...)
	return h, nil
}

func (h *Harness) store(side model.Side) *testutil.MemoryStore {
	if side == model.Primary {
		return h.primary
	}
	return h.secondary
}

// instantRetrier keeps the default attempt counts but never sleeps.
func instantRetrier(logger *slog.Logger) *retry.Retrier {
	rs := store.DefaultRetrySettings()
	return retry.New(logger,
		retry.Fixed("rate-limit", store.IsRateLimited, 0, rs.RateLimitAttempts),
		retry.Fixed("transport", store.IsTransport, 0, rs.TransportAttempts),
	)
}

// buildItem turns a spec into the item a store on side would hold.
func buildItem(spec ItemSpec, side model.Side, now time.Time) (model.Item, error) {
	kind, err := model.ParseKind(spec.Kind)
	if err != nil {
		return model.Item{}, err
	}
	created := spec.Created
	if created.IsZero() {
		created = now.Add(-24 * time.Hour)
	}
	modified := spec.Modified
	if modified.IsZero() {
		modified = created
	}

	it := model.Item{
		ID:       spec.ID,
		Kind:     kind,
		Name:     spec.Name,
		Email:    spec.Email,
		Subject:  spec.Subject,
		AllDay:   spec.AllDay,
		TimeZone: spec.TimeZone,
		Body:     spec.Body + strings.Repeat("x", spec.BodySize),
		Created:  created,
		Modified: modified,
		Version:  "1",
	}

	if kind == model.KindAppointment {
		loc := time.UTC
		if spec.TimeZone != "" {
			if loc, err = time.LoadLocation(spec.TimeZone); err != nil {
				return model.Item{}, fmt.Errorf("time zone: %w", err)
			}
		} else {
			it.TimeZone = "UTC"
		}
		it.Start = spec.Start.In(loc)
		it.End = spec.End.In(loc)
		if spec.End.IsZero() {
			it.End = it.Start.Add(time.Hour)
		}
		if spec.RRule != "" {
			if err := attachRecurrence(&it, spec, side, loc); err != nil {
				return model.Item{}, err
			}
		}
	}

	if spec.Link != "" {
		link.Stamp(side, &it, spec.Link, created)
	}
	return it, nil
}

// attachRecurrence gives it the side's native recurrence for spec.RRule.
func attachRecurrence(it *model.Item, spec ItemSpec, side model.Side, loc *time.Location) error {
	rule, err := recurrence.ParseRRule(spec.RRule, it.Start)
	if err != nil {
		return fmt.Errorf("rrule: %w", err)
	}
	rule.Start = it.Start
	rule.Duration = it.End.Sub(it.Start)
	rule.AllDay = it.AllDay
	rule.TimeZone = it.TimeZone

	var excs []recurrence.Exception
	for _, c := range spec.Cancelled {
		excs = append(excs, recurrence.Deleted{Original: c.In(loc)})
	}

	switch side {
	case model.Primary:
		p, err := recurrence.NewRuleTranslator().FromCanonical(rule, excs)
		if err != nil {
			return err
		}
		it.Pattern = &p
	case model.Secondary:
		s, err := recurrence.InstanceTranslator{}.FromCanonical(rule, excs)
		if err != nil {
			return err
		}
		s.Summary = it.Subject
		it.Series = &s
	}
	return nil
}

func parseStoreError(s string) (error, error) {
	switch s {
	case "rate_limited":
		return store.ErrRateLimited, nil
	case "transport":
		return store.ErrTransport, nil
	case "not_found":
		return store.ErrNotFound, nil
	case "payload_too_large":
		return store.ErrPayloadTooLarge, nil
	case "version_conflict":
		return store.ErrVersionConflict, nil
	case "unauthorized":
		return store.ErrUnauthorized, nil
	}
	return nil, fmt.Errorf("unknown store error %q", s)
}

// checkExpect compares the last pass against the expect clause.
func checkExpect(result *Result, ex *ExpectClause) []string {
	var errs []string
	switch {
	case ex.Error == "" && result.PassError != "":
		errs = append(errs, fmt.Sprintf("unexpected pass error: %s", result.PassError))
	case ex.Error != "" && !strings.Contains(result.PassError, ex.Error):
		errs = append(errs, fmt.Sprintf("expected pass error containing %q, got %q", ex.Error, result.PassError))
	}

	last := result.Last()
	if last == nil {
		return append(errs, "no pass ran")
	}
	counters := summaryCounters(last)
	for _, k := range sortedKeys(ex.Summary) {
		if got := counters[k]; got != ex.Summary[k] {
			errs = append(errs, fmt.Sprintf("summary.%s: expected %d, got %d", k, ex.Summary[k], got))
		}
	}
	return errs
}

func summaryCounters(s *engine.Summary) map[string]int {
	return map[string]int{
		"matches":   s.Matches,
		"created":   s.Created,
		"updated":   s.Updated,
		"deleted":   s.Deleted,
		"unchanged": s.Unchanged,
		"skipped":   s.Skipped,
		"failed":    s.Failed,
		"linked":    s.Linked,
		"unlinked":  s.Unlinked,
		"failures":  s.Failures(),
	}
}
