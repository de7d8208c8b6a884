package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/pimsync/internal/link"
	"github.com/roach88/pimsync/internal/model"
	"github.com/roach88/pimsync/internal/recurrence"
	"github.com/roach88/pimsync/internal/store"
)

// Outcome is what applying a Decision did.
type Outcome string

const (
	OutcomeNone      Outcome = "none"
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeDeleted   Outcome = "deleted"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomeLinked    Outcome = "linked"
	OutcomeUnlinked  Outcome = "unlinked"
)

// Result reports one applied Match.
type Result struct {
	Match   string
	Action  model.Action
	Reason  string
	Outcome Outcome

	// Side is the store written to, if any.
	Side model.Side
	// TargetID, Version and Modified describe the written item.
	TargetID string
	Version  string
	Modified time.Time

	// LinkPending is set when the target was written but saving the link
	// on the source failed. The next pass repairs it.
	LinkPending bool

	// Vanished is set when an item of the Match was deleted between listing
	// and writing. The Match no longer holds it and must be resolved again.
	Vanished bool

	// Err is a *MatchError when Outcome is Skipped or Failed.
	Err error
}

// Executor applies Decisions to the stores.
//
// The stores it is given are expected to retry on their own (see
// store.WithRetry); the executor makes each call once and classifies what
// comes back. A write to the target always happens before the deferred
// link save on the source, so a failure between the two leaves a one-sided
// link rather than an orphan.
type Executor struct {
	stores map[model.Side]store.Store
	quota  *PayloadQuota
	now    func() time.Time
	logger *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorClock sets the time source for link stamps.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an executor over the two stores.
func NewExecutor(primary, secondary store.Store, quota *PayloadQuota, opts ...ExecutorOption) *Executor {
	e := &Executor{
		stores: map[model.Side]store.Store{model.Primary: primary, model.Secondary: secondary},
		quota:  quota,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply carries out d for m.
func (e *Executor) Apply(ctx context.Context, m *model.Match, d Decision) Result {
	res := Result{Match: m.Key(), Action: d.Action, Reason: d.Reason, Outcome: OutcomeNone}

	if m.Demoted {
		return e.unlink(ctx, m, res)
	}

	target, ok := d.Action.Target()
	if !ok {
		if m.NeedsLink && m.Primary != nil && m.Secondary != nil {
			return e.linkPair(ctx, m, res)
		}
		return res
	}
	res.Side = target

	switch d.Action {
	case model.CreateOnPrimary, model.CreateOnSecondary:
		return e.create(ctx, m, target, res)
	case model.UpdatePrimaryFromSecondary, model.UpdateSecondaryFromPrimary:
		return e.update(ctx, m, target, res)
	case model.DeleteOnPrimary, model.DeleteOnSecondary:
		return e.delete(ctx, m, target, res)
	}
	return res
}

func (e *Executor) create(ctx context.Context, m *model.Match, target model.Side, res Result) Result {
	src := m.Item(target.Opposite())
	if src == nil {
		return e.fail(m, res, "create", fmt.Errorf("no source item"))
	}

	item, err := e.build(m, src, target)
	if err != nil {
		return e.fail(m, res, "translate recurrence", err)
	}
	if err := e.quota.Check(target, item); err != nil {
		return e.skip(m, res, err)
	}

	now := e.now()
	link.Stamp(target, item, src.ID, now)
	if err := link.MarkSynced(item); err != nil {
		return e.fail(m, res, "fingerprint", err)
	}
	created, err := e.stores[target].Create(ctx, *item)
	if err != nil {
		if errors.Is(err, store.ErrPayloadTooLarge) {
			return e.skip(m, res, err)
		}
		return e.fail(m, res, "create", err)
	}
	res = written(res, OutcomeCreated, created)

	e.logger.Info("created item",
		"match", res.Match,
		"side", target,
		"id", created.ID,
		"label", created.Label())

	return e.saveSourceLink(ctx, m, target.Opposite(), created.ID, now, res)
}

func (e *Executor) update(ctx context.Context, m *model.Match, target model.Side, res Result) Result {
	src := m.Item(target.Opposite())
	existing := m.Item(target)
	if src == nil || existing == nil {
		return e.fail(m, res, "update", fmt.Errorf("update needs both items"))
	}

	item, err := e.build(m, src, target)
	if err != nil {
		return e.fail(m, res, "translate recurrence", err)
	}
	item.ID = existing.ID
	item.Version = existing.Version
	item.Created = existing.Created
	item.Metadata = cloneMeta(existing.Metadata)

	same, err := sameContent(item, existing)
	if err != nil {
		return e.fail(m, res, "fingerprint", err)
	}
	if same {
		if m.NeedsLink {
			return e.linkPair(ctx, m, res)
		}
		res.Outcome = OutcomeUnchanged
		res.TargetID = existing.ID
		res.Version = existing.Version
		res.Modified = existing.Modified
		return res
	}

	if err := e.quota.Check(target, item); err != nil {
		return e.skip(m, res, err)
	}

	now := e.now()
	link.Stamp(target, item, src.ID, now)
	if err := link.MarkSynced(item); err != nil {
		return e.fail(m, res, "fingerprint", err)
	}
	updated, err := e.stores[target].Update(ctx, *item, existing.Version)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			id, _ := link.Resolve(target.Opposite(), src)
			return e.vanished(m, target, id == existing.ID, res)
		case errors.Is(err, store.ErrPayloadTooLarge):
			return e.skip(m, res, err)
		}
		return e.fail(m, res, "update", err)
	}
	res = written(res, OutcomeUpdated, updated)

	e.logger.Info("updated item",
		"match", res.Match,
		"side", target,
		"id", updated.ID,
		"version", updated.Version)

	return e.saveSourceLink(ctx, m, target.Opposite(), updated.ID, now, res)
}

func (e *Executor) delete(ctx context.Context, m *model.Match, target model.Side, res Result) Result {
	victim := m.Item(target)
	if victim == nil {
		return e.fail(m, res, "delete", fmt.Errorf("no item to delete"))
	}
	err := e.stores[target].Delete(ctx, victim.ID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		e.logger.Debug("item already gone", "match", res.Match, "side", target, "id", victim.ID)
	default:
		return e.fail(m, res, "delete", err)
	}
	res.Outcome = OutcomeDeleted
	res.TargetID = victim.ID

	e.logger.Info("deleted item", "match", res.Match, "side", target, "id", victim.ID)
	return res
}

// linkPair writes reciprocal links on a pair whose content needs no copy,
// recording both sides' content as synced.
func (e *Executor) linkPair(ctx context.Context, m *model.Match, res Result) Result {
	now := e.now()
	named := make(map[model.Side]string, 2)
	for _, side := range []model.Side{model.Primary, model.Secondary} {
		named[side], _ = link.Resolve(side, m.Item(side))
	}
	for _, side := range []model.Side{model.Primary, model.Secondary} {
		it := m.Item(side)
		counterpart := m.Item(side.Opposite())
		if link.Current(side, it, counterpart.ID) {
			continue
		}
		c := it.Clone()
		link.Stamp(side, c, counterpart.ID, now)
		if err := link.MarkSynced(c); err != nil {
			res.Side = side
			return e.fail(m, res, "fingerprint", err)
		}
		saved, err := e.stores[side].Update(ctx, *c, it.Version)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return e.vanished(m, side, named[side.Opposite()] == it.ID, res)
			}
			res.Side = side
			return e.fail(m, res, "save link", err)
		}
		*it = *mergeSaved(c, saved)
	}
	res.Outcome = OutcomeLinked
	e.logger.Info("linked pair", "match", res.Match)
	return res
}

// unlink clears a demoted item's link.
func (e *Executor) unlink(ctx context.Context, m *model.Match, res Result) Result {
	side := model.Primary
	if m.Primary == nil {
		side = model.Secondary
	}
	it := m.Item(side)
	c := it.Clone()
	if !link.Unlink(side, c) {
		return res
	}
	res.Side = side
	if _, err := e.stores[side].Update(ctx, *c, it.Version); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Debug("item already gone", "match", res.Match, "side", side, "id", it.ID)
			res.Side = ""
			return res
		}
		return e.fail(m, res, "clear link", err)
	}
	res.Outcome = OutcomeUnlinked
	res.TargetID = it.ID

	e.logger.Info("cleared duplicate link", "match", res.Match, "side", side, "id", it.ID)
	return res
}

// saveSourceLink is the deferred half of linking: the target already names
// the source; now the source must name the target and record its content
// as synced. A failure here is not a Match failure unless it is fatal.
func (e *Executor) saveSourceLink(ctx context.Context, m *model.Match, side model.Side, targetID string, now time.Time, res Result) Result {
	src := m.Item(side)
	if link.Current(side, src, targetID) {
		return res
	}
	c := src.Clone()
	link.Stamp(side, c, targetID, now)
	err := link.MarkSynced(c)
	if err == nil {
		_, err = e.stores[side].Update(ctx, *c, src.Version)
	}
	if err != nil {
		if errors.Is(err, store.ErrUnauthorized) {
			return e.fail(m, res, "save link", err)
		}
		res.LinkPending = true
		e.logger.Warn("link left one-sided",
			"match", res.Match,
			"side", side,
			"id", src.ID,
			"error", err)
	}
	return res
}

// build copies src's content into a new item for target, translating the
// recurrence into target's native form.
func (e *Executor) build(m *model.Match, src *model.Item, target model.Side) (*model.Item, error) {
	it := &model.Item{
		Kind:        src.Kind,
		Name:        src.Name,
		Email:       src.Email,
		Addresses:   slices.Clone(src.Addresses),
		Subject:     src.Subject,
		Start:       src.Start,
		End:         src.End,
		AllDay:      src.AllDay,
		TimeZone:    src.TimeZone,
		Sensitivity: src.Sensitivity,
		Body:        src.Body,
	}
	if !src.IsRecurring() {
		return it, nil
	}

	rule, excs, _, err := model.Canonical(src)
	if err != nil {
		return nil, untranslatable(err)
	}
	if target == model.Primary && m.Exceptions != nil {
		excs = m.Exceptions
	}

	switch target {
	case model.Primary:
		p, err := recurrence.NewRuleTranslator().FromCanonical(rule, excs)
		if err != nil {
			return nil, untranslatable(err)
		}
		it.Pattern = &p
	case model.Secondary:
		s, err := recurrence.InstanceTranslator{}.FromCanonical(rule, excs)
		if err != nil {
			return nil, untranslatable(err)
		}
		s.Summary = src.Subject
		it.Series = &s
	}
	return it, nil
}

func (e *Executor) skip(m *model.Match, res Result, err error) Result {
	res.Outcome = OutcomeSkipped
	res.Err = newMatchError(m, res.Action, res.Side, "payload ceiling", err)
	e.logger.Warn("skipped match",
		"match", res.Match,
		"action", res.Action,
		"error", err)
	return res
}

// vanished drops the item on side from m after the store reported it gone.
// linked says whether its counterpart named it before this pass touched the
// pair, which decides whether the next resolve sees a deletion.
func (e *Executor) vanished(m *model.Match, side model.Side, linked bool, res Result) Result {
	gone := m.Item(side)
	if side == model.Primary {
		m.Primary = nil
	} else {
		m.Secondary = nil
		m.Exceptions = nil
	}
	m.LinkExisted = linked
	m.NeedsLink = false

	res.Outcome = OutcomeNone
	res.Vanished = true
	e.logger.Info("item vanished during pass", "match", res.Match, "side", side, "id", gone.ID)
	return res
}

func (e *Executor) fail(m *model.Match, res Result, msg string, err error) Result {
	me := newMatchError(m, res.Action, res.Side, msg, err)
	res.Err = me
	res.Outcome = outcomeFor(me.Code)
	e.logger.Warn("match failed",
		"match", res.Match,
		"action", res.Action,
		"code", me.Code,
		"error", err)
	return res
}

// untranslatable marks a recurrence the executor could not carry across.
func untranslatable(err error) error {
	if errors.Is(err, recurrence.ErrUnsupportedRecurrence) {
		return err
	}
	return fmt.Errorf("%w: %v", recurrence.ErrUnsupportedRecurrence, err)
}

func written(res Result, o Outcome, it model.Item) Result {
	res.Outcome = o
	res.TargetID = it.ID
	res.Version = it.Version
	res.Modified = it.Modified
	return res
}

// mergeSaved returns the locally held item with the store-owned fields of
// the saved copy, keeping attached overrides the store does not echo.
func mergeSaved(local *model.Item, saved model.Item) *model.Item {
	c := local.Clone()
	c.Version = saved.Version
	c.Modified = saved.Modified
	return c
}

func sameContent(a, b *model.Item) (bool, error) {
	fa, err := model.Fingerprint(a)
	if err != nil {
		return false, err
	}
	fb, err := model.Fingerprint(b)
	if err != nil {
		return false, err
	}
	return fa == fb, nil
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
