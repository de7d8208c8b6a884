package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/pimsync/internal/recurrence"
)

// Domain prefixes for content hashing. The version suffix allows the
// algorithm to change without old fingerprints comparing equal.
const (
	DomainContent = "pimsync/content/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint hashes the content an item carries across stores: kind,
// content fields and the canonical form of its recurrence. Store-owned
// fields (ID, Version, timestamps) and metadata are excluded, so a copy
// written to the other store fingerprints equal to its source.
func Fingerprint(it *Item) (string, error) {
	obj, err := contentObject(it)
	if err != nil {
		return "", err
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", it.ID, err)
	}
	return hashWithDomain(DomainContent, canonical), nil
}

func contentObject(it *Item) (map[string]any, error) {
	obj := map[string]any{
		"kind":        string(it.Kind),
		"sensitivity": string(it.Sensitivity),
		"body":        normalizeBody(it.Body),
	}
	switch it.Kind {
	case KindContact:
		addrs := append([]string(nil), it.Addresses...)
		sort.Strings(addrs)
		obj["name"] = it.Name
		obj["email"] = strings.ToLower(it.Email)
		obj["addresses"] = addrs
	default:
		obj["subject"] = it.Subject
		obj["all_day"] = it.AllDay
		obj["start"] = formatInstant(it.Start, it.AllDay)
		obj["end"] = formatInstant(it.End, it.AllDay)
		if !it.AllDay {
			obj["time_zone"] = it.TimeZone
		}
		digest, err := RecurrenceDigest(it)
		if err != nil {
			return nil, err
		}
		if digest != "" {
			obj["recurrence"] = digest
		}
	}
	return obj, nil
}

// RecurrenceDigest returns the canonical digest of the item's recurrence,
// or "" for a single item.
func RecurrenceDigest(it *Item) (string, error) {
	rule, excs, ok, err := Canonical(it)
	if err != nil || !ok {
		return "", err
	}
	return recurrence.Digest(rule, excs), nil
}

// Canonical converts the item's native recurrence to the canonical model.
// ok is false for non-recurring items.
func Canonical(it *Item) (recurrence.Rule, []recurrence.Exception, bool, error) {
	switch {
	case it.Pattern != nil:
		r, e, err := recurrence.NewRuleTranslator().ToCanonical(*it.Pattern)
		return r, e, true, err
	case it.Series != nil:
		r, e, err := recurrence.InstanceTranslator{}.ToCanonical(*it.Series)
		return r, e, true, err
	}
	return recurrence.Rule{}, nil, false, nil
}

func formatInstant(t time.Time, allDay bool) string {
	if t.IsZero() {
		return ""
	}
	if allDay {
		return t.Format("2006-01-02")
	}
	return t.UTC().Format(time.RFC3339)
}

// normalizeBody drops line-ending and trailing-space differences the two
// stores introduce when round-tripping notes.
func normalizeBody(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimRight(s, " \t\n")
}

// PayloadSize is the larger of the store-reported size and the byte length
// of the item's free-text fields.
func PayloadSize(it *Item) int {
	n := len(it.Name) + len(it.Email) + len(it.Subject) + len(it.Body)
	for _, a := range it.Addresses {
		n += len(a)
	}
	if it.Size > n {
		return it.Size
	}
	return n
}
