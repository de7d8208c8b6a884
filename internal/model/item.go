package model

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/roach88/pimsync/internal/recurrence"
)

// Kind is the item type.
type Kind string

const (
	KindContact     Kind = "contact"
	KindAppointment Kind = "appointment"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindContact, KindAppointment:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown item kind %q", s)
}

// Sensitivity mirrors the privacy flag both stores carry.
type Sensitivity string

const (
	SensitivityNormal       Sensitivity = "normal"
	SensitivityPersonal     Sensitivity = "personal"
	SensitivityPrivate      Sensitivity = "private"
	SensitivityConfidential Sensitivity = "confidential"
)

// Side names one of the two stores.
type Side string

const (
	Primary   Side = "primary"
	Secondary Side = "secondary"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Primary {
		return Secondary
	}
	return Primary
}

// Item is a contact or appointment as held by one store.
type Item struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	// Contact fields.
	Name      string   `json:"name,omitempty"`
	Email     string   `json:"email,omitempty"`
	Addresses []string `json:"addresses,omitempty"`

	// Appointment fields.
	Subject  string    `json:"subject,omitempty"`
	Start    time.Time `json:"start,omitzero"`
	End      time.Time `json:"end,omitzero"`
	AllDay   bool      `json:"all_day,omitempty"`
	TimeZone string    `json:"time_zone,omitempty"`

	Sensitivity Sensitivity `json:"sensitivity,omitempty"`
	Body        string      `json:"body,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
	Version  string    `json:"version,omitempty"`
	// Size is the store-reported payload size in bytes, when known.
	Size int `json:"size,omitempty"`

	// Native recurrence. Primary items carry a Pattern, Secondary items a
	// Series; at most one is set.
	Pattern *recurrence.Pattern `json:"pattern,omitempty"`
	Series  *recurrence.Series  `json:"series,omitempty"`

	// Set on expanded occurrences returned by ListInstances.
	RecurringID   string    `json:"recurring_id,omitempty"`
	OriginalStart time.Time `json:"original_start,omitzero"`
	Cancelled     bool      `json:"cancelled,omitempty"`
}

// IsRecurring reports whether the item is a series master.
func (it *Item) IsRecurring() bool {
	return it.Pattern != nil || it.Series != nil
}

// Meta returns the metadata value for key.
func (it *Item) Meta(key string) string {
	if it.Metadata == nil {
		return ""
	}
	return it.Metadata[key]
}

// SetMeta sets a metadata value; an empty value removes the key.
func (it *Item) SetMeta(key, value string) {
	if value == "" {
		delete(it.Metadata, key)
		return
	}
	if it.Metadata == nil {
		it.Metadata = make(map[string]string)
	}
	it.Metadata[key] = value
}

// Clone returns a deep copy.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	c := *it
	c.Addresses = slices.Clone(it.Addresses)
	c.Metadata = maps.Clone(it.Metadata)
	if it.Pattern != nil {
		p := *it.Pattern
		p.Exceptions = slices.Clone(it.Pattern.Exceptions)
		c.Pattern = &p
	}
	if it.Series != nil {
		s := *it.Series
		s.Recurrence = slices.Clone(it.Series.Recurrence)
		s.Instances = slices.Clone(it.Series.Instances)
		c.Series = &s
	}
	return &c
}

// Label is a short human description for logs and diagnostics.
func (it *Item) Label() string {
	switch it.Kind {
	case KindContact:
		if it.Email != "" {
			return fmt.Sprintf("%s <%s>", it.Name, it.Email)
		}
		return it.Name
	default:
		return it.Subject
	}
}
