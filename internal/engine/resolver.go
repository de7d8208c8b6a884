package engine

import (
	"fmt"
	"time"

	"github.com/roach88/pimsync/internal/link"
	"github.com/roach88/pimsync/internal/model"
)

// Decision is the resolver's verdict for one Match.
type Decision struct {
	Action model.Action
	Reason string
}

// Resolver applies the sync policy to Matches.
type Resolver struct {
	Policy        model.SyncPolicy
	DeleteEnabled bool
}

// NewResolver creates a resolver.
func NewResolver(policy model.SyncPolicy, deleteEnabled bool) *Resolver {
	return &Resolver{Policy: policy, DeleteEnabled: deleteEnabled}
}

// Resolve decides what to do with m.
//
// A lone item whose counterpart never existed is created on the other side.
// A lone item whose counterpart was deleted is deleted too when deletes are
// enabled, and recreated otherwise. Pairs follow the policy: authoritative
// policies always copy from the winning side, merge policies copy only when
// the winning side was edited later. A side whose content still matches
// its sync record holds no edit, however recently a link write touched it.
func (r *Resolver) Resolve(m *model.Match) Decision {
	if m.Demoted {
		return Decision{Action: model.NoOp, Reason: "duplicate link demoted"}
	}

	p, s := m.Primary, m.Secondary
	switch {
	case p == nil && s == nil:
		return Decision{Action: model.NoOp, Reason: "empty match"}

	case s == nil && !m.LinkExisted:
		return Decision{Action: model.CreateOnSecondary, Reason: "new on primary"}
	case p == nil && !m.LinkExisted:
		return Decision{Action: model.CreateOnPrimary, Reason: "new on secondary"}

	case s == nil && r.DeleteEnabled:
		return Decision{Action: model.DeleteOnPrimary, Reason: "deleted on secondary"}
	case p == nil && r.DeleteEnabled:
		return Decision{Action: model.DeleteOnSecondary, Reason: "deleted on primary"}
	case s == nil:
		return Decision{Action: model.CreateOnSecondary, Reason: "deleted on secondary, deletes disabled: recreate"}
	case p == nil:
		return Decision{Action: model.CreateOnPrimary, Reason: "deleted on primary, deletes disabled: recreate"}
	}

	switch r.Policy {
	case model.PrimaryAuthoritative:
		return Decision{Action: model.UpdateSecondaryFromPrimary, Reason: "primary is authoritative"}
	case model.SecondaryAuthoritative:
		return Decision{Action: model.UpdatePrimaryFromSecondary, Reason: "secondary is authoritative"}
	case model.MergePrimaryWins:
		if editedAt(p).After(editedAt(s)) {
			return Decision{Action: model.UpdateSecondaryFromPrimary, Reason: "primary modified later"}
		}
		return Decision{Action: model.NoOp, Reason: "primary not newer"}
	case model.MergeSecondaryWins:
		if editedAt(s).After(editedAt(p)) {
			return Decision{Action: model.UpdatePrimaryFromSecondary, Reason: "secondary modified later"}
		}
		return Decision{Action: model.NoOp, Reason: "secondary not newer"}
	}
	return Decision{Action: model.NoOp, Reason: fmt.Sprintf("unknown policy %q", r.Policy)}
}

// editedAt is when the item last changed content the other side has not
// seen, or zero when it has none.
func editedAt(it *model.Item) time.Time {
	if link.Synced(it) {
		return time.Time{}
	}
	return it.Modified
}
