package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/pimsync/internal/link"
	"github.com/roach88/pimsync/internal/model"
	"github.com/roach88/pimsync/internal/recurrence"
	"github.com/roach88/pimsync/internal/retry"
	"github.com/roach88/pimsync/internal/store"
)

// Config is what one Engine needs to know about the pass it runs.
type Config struct {
	Policy        model.SyncPolicy
	DeleteEnabled bool
	Kinds         []model.Kind
	// PastDays and FutureDays bound appointments around the pass start.
	PastDays   int
	FutureDays int
	TieBreak   TieBreak
	PageSize   int
	// Payload ceilings in bytes; zero means none.
	PrimaryMaxPayload   int
	SecondaryMaxPayload int
}

// DefaultConfig is a primary-authoritative sync of everything within a
// year either side, deletes enabled.
func DefaultConfig() Config {
	return Config{
		Policy:              model.PrimaryAuthoritative,
		DeleteEnabled:       true,
		Kinds:               []model.Kind{model.KindContact, model.KindAppointment},
		PastDays:            365,
		FutureDays:          365,
		TieBreak:            TieBreakEarliestCreated,
		PageSize:            100,
		SecondaryMaxPayload: DefaultSecondaryMaxPayload,
	}
}

// Recorder observes passes. The metrics package implements it.
type Recorder interface {
	ObserveResult(Result)
	ObservePass(s *Summary, elapsed time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveResult(Result) {}

func (nopRecorder) ObservePass(*Summary, time.Duration, error) {}

// Engine runs sync passes between a Primary and a Secondary store.
//
// A pass lists both stores, pairs the items, and applies one decision per
// Match, strictly one Match at a time in Match order. Both stores are used
// from the pass goroutine only. Cancellation is honored between Matches;
// a Match that has started runs to completion, its store calls detached
// from the pass context so a cancel cannot split a pair's writes.
//
// Thread-safety: RunPass may be called from any goroutine, but only one
// pass runs at a time; a concurrent call fails with ErrPassInProgress.
type Engine struct {
	primary   store.Store
	secondary store.Store
	cfg       Config

	matcher  *Matcher
	resolver *Resolver
	executor *Executor

	clock    *Clock
	passIDs  PassIDGenerator
	now      func() time.Time
	logger   *slog.Logger
	recorder Recorder

	retrier    *retry.Retrier
	retrierSet bool

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithNow sets the wall clock used for the window and link stamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithClock sets the logical clock, for continuing a sequence across passes.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithPassIDs sets the pass ID generator.
func WithPassIDs(g PassIDGenerator) Option {
	return func(e *Engine) { e.passIDs = g }
}

// WithRecorder sets the pass observer.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithRetrier replaces the default retry policies. A nil retrier makes
// every store call exactly once.
func WithRetrier(r *retry.Retrier) Option {
	return func(e *Engine) {
		e.retrier = r
		e.retrierSet = true
	}
}

// New creates an Engine. Store calls are wrapped in the standard retry
// policies unless WithRetrier says otherwise.
func New(primary, secondary store.Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		clock:    NewClock(),
		passIDs:  UUIDv7Generator{},
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if !e.retrierSet {
		e.retrier = store.NewRetrier(store.DefaultRetrySettings(), e.logger)
	}

	e.primary = store.WithRetry(primary, e.retrier)
	e.secondary = store.WithRetry(secondary, e.retrier)
	e.matcher = NewMatcher(cfg.TieBreak)
	e.resolver = NewResolver(cfg.Policy, cfg.DeleteEnabled)
	e.executor = NewExecutor(e.primary, e.secondary,
		NewPayloadQuota(cfg.PrimaryMaxPayload, cfg.SecondaryMaxPayload),
		WithExecutorClock(e.now),
		WithExecutorLogger(e.logger))
	return e
}

// Filter returns the listing filter for a pass starting at now.
func (e *Engine) Filter(now time.Time) store.Filter {
	return store.Filter{
		Kinds: e.cfg.Kinds,
		Window: store.TimeRange{
			From: now.AddDate(0, 0, -e.cfg.PastDays),
			To:   now.AddDate(0, 0, e.cfg.FutureDays),
		},
		PageSize: e.cfg.PageSize,
	}
}

func (e *Engine) storeFor(side model.Side) store.Store {
	if side == model.Primary {
		return e.primary
	}
	return e.secondary
}

// RunPass runs one sync pass.
//
// The returned Summary is never nil, even when the pass aborts: it holds
// whatever was applied before the abort. Errors are returned only for
// conditions that end the pass: listing failures, fatal store errors, and
// cancellation.
func (e *Engine) RunPass(ctx context.Context) (*Summary, error) {
	if !e.mu.TryLock() {
		return nil, ErrPassInProgress
	}
	defer e.mu.Unlock()

	started := e.now()
	sum := &Summary{PassID: e.passIDs.Generate(), Policy: e.cfg.Policy, StartedAt: started}
	logger := e.logger.With("pass", sum.PassID)
	logger.Info("sync pass starting", "policy", e.cfg.Policy, "delete_enabled", e.cfg.DeleteEnabled)

	err := e.runPass(ctx, sum, logger)

	elapsed := e.now().Sub(started)
	e.recorder.ObservePass(sum, elapsed, err)
	if err != nil {
		logger.Error("sync pass aborted", "error", err, "applied", len(sum.Entries))
		return sum, err
	}
	logger.Info("sync pass complete",
		"matches", sum.Matches,
		"created", sum.Created,
		"updated", sum.Updated,
		"deleted", sum.Deleted,
		"unchanged", sum.Unchanged,
		"skipped", sum.Skipped,
		"failed", sum.Failed)
	return sum, nil
}

func (e *Engine) runPass(ctx context.Context, sum *Summary, logger *slog.Logger) error {
	filter := e.Filter(sum.StartedAt)

	primaries, err := store.ListAll(ctx, e.primary, filter)
	if err != nil {
		return fmt.Errorf("list primary: %w", err)
	}
	secondaries, err := store.ListAll(ctx, e.secondary, filter)
	if err != nil {
		return fmt.Errorf("list secondary: %w", err)
	}
	logger.Debug("listed stores", "primary", len(primaries), "secondary", len(secondaries))

	matches := e.matcher.Match(primaries, secondaries)
	sum.Matches = len(matches)

	claimed := make(map[model.Side]map[string]bool)
	claimed[model.Primary] = make(map[string]bool)
	claimed[model.Secondary] = make(map[string]bool)
	for _, m := range matches {
		if m.Primary != nil {
			claimed[model.Primary][m.Primary.ID] = true
		}
		if m.Secondary != nil {
			claimed[model.Secondary][m.Secondary.ID] = true
		}
	}

	for i, m := range matches {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pass interrupted after %d of %d matches: %w", i, len(matches), err)
		}
		mctx := context.WithoutCancel(ctx)

		var res Result
		if err := e.load(mctx, m, claimed, filter.Window); err != nil {
			if IsFatal(err) {
				return err
			}
			res = e.heldResult(m, err)
		} else {
			res = e.apply(mctx, m, logger)
		}

		sum.add(res, e.clock.Next())
		e.recorder.ObserveResult(res)
		if res.Err != nil && IsFatal(res.Err) {
			return res.Err
		}
	}
	return nil
}

// apply resolves and applies m. When an item vanished under the write, the
// Match is resolved once more without it.
func (e *Engine) apply(ctx context.Context, m *model.Match, logger *slog.Logger) Result {
	key := m.Key()
	d := e.resolver.Resolve(m)
	logger.Debug("resolved match", "match", key, "action", d.Action, "reason", d.Reason)
	res := e.executor.Apply(ctx, m, d)
	if !res.Vanished {
		return res
	}

	d = e.resolver.Resolve(m)
	logger.Debug("resolved match again", "match", key, "action", d.Action, "reason", d.Reason)
	res = e.executor.Apply(ctx, m, d)
	res.Match = key
	return res
}

// load completes m before it is resolved: dangling links are confirmed and
// a Secondary series gets its instance overrides attached.
func (e *Engine) load(ctx context.Context, m *model.Match, claimed map[model.Side]map[string]bool, window store.TimeRange) error {
	if err := e.confirmDangling(ctx, m, claimed); err != nil {
		return err
	}
	if m.Secondary == nil || m.Secondary.Series == nil {
		return nil
	}
	if err := e.attachOverrides(ctx, m.Secondary, m.Primary, window); err != nil {
		return err
	}
	if _, excs, _, err := model.Canonical(m.Secondary); err == nil {
		m.Exceptions = excs
	}
	return nil
}

// attachOverrides loads a Secondary series' instance overrides into its
// Series, so the item carries its full exception set from here on. They
// are read from the first occurrence on: an override outside the listing
// window still belongs to the series.
func (e *Engine) attachOverrides(ctx context.Context, s, counterpart *model.Item, window store.TimeRange) error {
	to, err := overrideHorizon(s, counterpart, window)
	if err != nil {
		return fmt.Errorf("instances of %s: %w", s.ID, err)
	}
	insts, err := e.secondary.ListInstances(ctx, s.ID, store.TimeRange{To: to}, true)
	if err != nil {
		return fmt.Errorf("instances of %s: %w", s.ID, err)
	}
	overrides, err := store.Overrides(s, insts)
	if err != nil {
		return err
	}
	s.Series.Instances = overrides
	return nil
}

// overrideHorizon is where reading a series' overrides can stop: just past
// its last occurrence when it ends, and otherwise past both the window and
// the last exception its counterpart records.
func overrideHorizon(s, counterpart *model.Item, window store.TimeRange) (time.Time, error) {
	rule, _, _, err := model.Canonical(s)
	if err != nil {
		return time.Time{}, err
	}
	end, bounded, err := recurrence.LastEnd(rule)
	if err != nil {
		return time.Time{}, err
	}
	if bounded {
		return end.Add(time.Second), nil
	}

	horizon := window.To
	if counterpart == nil || !counterpart.IsRecurring() {
		return horizon, nil
	}
	_, excs, _, err := model.Canonical(counterpart)
	if err != nil {
		return horizon, nil
	}
	for _, ex := range excs {
		if t := ex.OriginalStart().Add(24 * time.Hour); t.After(horizon) {
			horizon = t
		}
	}
	return horizon, nil
}

// confirmDangling checks with the other store whether the counterpart of a
// link pointing outside the listing still exists. If it does, the Match
// becomes a pair; otherwise LinkExisted stands and the counterpart is
// treated as deleted.
func (e *Engine) confirmDangling(ctx context.Context, m *model.Match, claimed map[model.Side]map[string]bool) error {
	if !m.LinkExisted {
		return nil
	}
	side := model.Primary
	if m.Primary == nil {
		side = model.Secondary
	}
	other := side.Opposite()
	id, _ := link.Resolve(side, m.Item(side))

	if claimed[other][id] {
		// Another dangling link already took this counterpart.
		m.LinkExisted = false
		m.Demoted = true
		return nil
	}

	found, err := e.storeFor(other).Get(ctx, id)
	if err != nil {
		return fmt.Errorf("confirm %s %s: %w", other, id, err)
	}
	if found == nil {
		return nil
	}
	claimed[other][id] = true

	if other == model.Primary {
		m.Primary = found
	} else {
		m.Secondary = found
	}
	m.LinkExisted = false
	m.NeedsLink = !link.Reciprocal(m.Primary, m.Secondary)
	return nil
}

func (e *Engine) heldResult(m *model.Match, err error) Result {
	me := newMatchError(m, model.NoOp, "", "load", err)
	res := Result{Match: m.Key(), Action: model.NoOp, Reason: "could not load match", Outcome: outcomeFor(me.Code), Err: me}
	e.logger.Warn("match held back", "match", res.Match, "error", err)
	return res
}

// Summary reports one pass.
type Summary struct {
	PassID    string           `json:"pass_id"`
	Policy    model.SyncPolicy `json:"policy"`
	StartedAt time.Time        `json:"started_at"`
	Matches   int              `json:"matches"`

	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Linked    int `json:"linked"`
	Unlinked  int `json:"unlinked"`

	// Entries records every applied Match in order.
	Entries []Entry `json:"entries"`
	// Diagnostics are the skipped and failed entries.
	Diagnostics []Entry `json:"diagnostics"`
}

// Entry is one applied Match, stamped with the pass's logical clock.
type Entry struct {
	Seq      int64          `json:"seq"`
	Match    string         `json:"match"`
	Action   string         `json:"action"`
	Outcome  Outcome        `json:"outcome"`
	Side     model.Side     `json:"side,omitempty"`
	TargetID string         `json:"target_id,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Code     MatchErrorCode `json:"code,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func (s *Summary) add(res Result, seq int64) {
	en := Entry{
		Seq:      seq,
		Match:    res.Match,
		Action:   res.Action.String(),
		Outcome:  res.Outcome,
		Side:     res.Side,
		TargetID: res.TargetID,
		Reason:   res.Reason,
	}
	if res.Err != nil {
		en.Error = res.Err.Error()
		var me *MatchError
		if errors.As(res.Err, &me) {
			en.Code = me.Code
		}
	}
	s.Entries = append(s.Entries, en)

	switch res.Outcome {
	case OutcomeCreated:
		s.Created++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeDeleted:
		s.Deleted++
	case OutcomeUnchanged:
		s.Unchanged++
	case OutcomeSkipped:
		s.Skipped++
		s.Diagnostics = append(s.Diagnostics, en)
	case OutcomeFailed:
		s.Failed++
		s.Diagnostics = append(s.Diagnostics, en)
	case OutcomeLinked:
		s.Linked++
	case OutcomeUnlinked:
		s.Unlinked++
	}
}

// Failures counts Matches that did not apply: skipped plus failed.
func (s *Summary) Failures() int {
	return s.Skipped + s.Failed
}
