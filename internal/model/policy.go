package model

import "fmt"

// SyncPolicy selects which side wins when both sides hold an item.
type SyncPolicy string

const (
	PrimaryAuthoritative   SyncPolicy = "primary-authoritative"
	SecondaryAuthoritative SyncPolicy = "secondary-authoritative"
	MergePrimaryWins       SyncPolicy = "merge-primary-wins"
	MergeSecondaryWins     SyncPolicy = "merge-secondary-wins"
)

// Policies lists every policy in documentation order.
var Policies = []SyncPolicy{PrimaryAuthoritative, SecondaryAuthoritative, MergePrimaryWins, MergeSecondaryWins}

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (SyncPolicy, error) {
	for _, p := range Policies {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown sync policy %q", s)
}

// Action is what the executor does with one Match.
type Action int

const (
	NoOp Action = iota
	CreateOnPrimary
	CreateOnSecondary
	UpdatePrimaryFromSecondary
	UpdateSecondaryFromPrimary
	DeleteOnPrimary
	DeleteOnSecondary
)

func (a Action) String() string {
	switch a {
	case NoOp:
		return "NoOp"
	case CreateOnPrimary:
		return "CreateOnPrimary"
	case CreateOnSecondary:
		return "CreateOnSecondary"
	case UpdatePrimaryFromSecondary:
		return "UpdatePrimaryFromSecondary"
	case UpdateSecondaryFromPrimary:
		return "UpdateSecondaryFromPrimary"
	case DeleteOnPrimary:
		return "DeleteOnPrimary"
	case DeleteOnSecondary:
		return "DeleteOnSecondary"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Target is the side the action writes to. NoOp has none.
func (a Action) Target() (Side, bool) {
	switch a {
	case CreateOnPrimary, UpdatePrimaryFromSecondary, DeleteOnPrimary:
		return Primary, true
	case CreateOnSecondary, UpdateSecondaryFromPrimary, DeleteOnSecondary:
		return Secondary, true
	}
	return "", false
}
