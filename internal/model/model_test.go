package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pimsync/internal/recurrence"
)

func makeTestContact(id string) *Item {
	return &Item{
		ID:        id,
		Kind:      KindContact,
		Name:      "Ada Lovelace",
		Email:     "ada@example.com",
		Addresses: []string{"12 St James's Square", "Ockham Park"},
		Body:      "met at the society",
		Version:   "v-" + id,
		Created:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Modified:  time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"int", 42, "42"},
		{"bool", true, "true"},
		{"strings", []string{"b", "a"}, `["b","a"]`},
		{"sorted keys", map[string]any{"zebra": 1, "alpha": 2}, `{"alpha":2,"zebra":1}`},
		{"no html escaping", "<a&b>", `"<a&b>"`},
		{"line separator literal", "a\u2028b", "\"a\u2028b\""},
		{"escaped backslash kept", `a\u2028`, `"a\\u2028"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}

	_, err := MarshalCanonical(map[string]any{"f": 1.5})
	assert.Error(t, err)
	_, err = MarshalCanonical(nil)
	assert.Error(t, err)
}

func TestMarshalCanonical_NFC(t *testing.T) {
	composed, err := MarshalCanonical("caf\u00e9")
	require.NoError(t, err)
	decomposed, err := MarshalCanonical("cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestFingerprint_IgnoresStoreOwnedFields(t *testing.T) {
	a := makeTestContact("p-1")
	b := makeTestContact("s-9")
	b.Version = "other"
	b.Modified = time.Now()
	b.SetMeta("pimsync.primaryId", "p-1")
	b.Addresses = []string{"Ockham Park", "12 St James's Square"}
	b.Body = "met at the society\r\n"

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
	assert.Len(t, fa, 64)

	b.Name = "Augusta Ada King"
	fb, err = Fingerprint(b)
	require.NoError(t, err)
	assert.NotEqual(t, fa, fb)
}

func TestFingerprint_RecurrenceAcrossModels(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)
	start := time.Date(2020, 6, 3, 15, 0, 0, 0, loc)

	pattern := &recurrence.Pattern{
		Type:          recurrence.PatternWeekly,
		Interval:      1,
		DayOfWeekMask: recurrence.MaskOf(time.Wednesday),
		Start:         start,
		Duration:      90 * time.Minute,
		TimeZone:      "Europe/Warsaw",
		EndDate:       time.Date(2020, 6, 10, 0, 0, 0, 0, time.UTC),
	}
	rule, excs, err := recurrence.NewRuleTranslator().ToCanonical(*pattern)
	require.NoError(t, err)
	series, err := recurrence.InstanceTranslator{}.FromCanonical(rule, excs)
	require.NoError(t, err)

	p := &Item{ID: "p", Kind: KindAppointment, Subject: "Standup", Start: start, End: start.Add(90 * time.Minute), TimeZone: "Europe/Warsaw", Pattern: pattern}
	s := &Item{ID: "s", Kind: KindAppointment, Subject: "Standup", Start: start, End: start.Add(90 * time.Minute), TimeZone: "Europe/Warsaw", Series: &series}

	fp, err := Fingerprint(p)
	require.NoError(t, err)
	fs, err := Fingerprint(s)
	require.NoError(t, err)
	assert.Equal(t, fp, fs)

	s.Series.Instances = []recurrence.Instance{{
		OriginalStart: recurrence.EventTime{DateTime: start, TimeZone: "Europe/Warsaw"},
		Start:         recurrence.EventTime{DateTime: start, TimeZone: "Europe/Warsaw"},
		End:           recurrence.EventTime{DateTime: start.Add(90 * time.Minute), TimeZone: "Europe/Warsaw"},
		Status:        recurrence.StatusCancelled,
	}}
	fs, err = Fingerprint(s)
	require.NoError(t, err)
	assert.NotEqual(t, fp, fs, "a deleted occurrence changes content")
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, NormalizeKey("  JOS\u00c9   Doe "), NormalizeKey("jose\u0301 doe"))
	assert.Equal(t, "ada@example.com", NormalizeKey("Ada@Example.COM"))
}

func TestIdentityKey(t *testing.T) {
	c := makeTestContact("1")
	assert.Equal(t, "email:ada@example.com", IdentityKey(c))
	c.Email = ""
	assert.Equal(t, "name:ada lovelace", IdentityKey(c))
	c.Name = ""
	assert.Equal(t, "", IdentityKey(c))

	appt := &Item{Kind: KindAppointment, Subject: " Team  Sync", Start: time.Date(2024, 5, 1, 9, 0, 0, 0, time.FixedZone("X", 2*3600))}
	assert.Equal(t, "appt:team sync|2024-05-01T07:00:00Z", IdentityKey(appt))
	assert.Equal(t, "", FallbackKey(appt))
}

func TestFallbackKey(t *testing.T) {
	c := makeTestContact("1")
	assert.Equal(t, "name:ada lovelace", FallbackKey(c))
	c.Name = ""
	assert.Equal(t, "", FallbackKey(c))
}

func TestPayloadSize(t *testing.T) {
	it := &Item{Kind: KindContact, Name: "abc", Body: "12345"}
	assert.Equal(t, 8, PayloadSize(it))
	it.Size = 100
	assert.Equal(t, 100, PayloadSize(it))
}

func TestItemClone_IsDeep(t *testing.T) {
	a := makeTestContact("1")
	a.SetMeta("k", "v")
	b := a.Clone()
	b.SetMeta("k", "changed")
	b.Addresses[0] = "elsewhere"
	assert.Equal(t, "v", a.Meta("k"))
	assert.Equal(t, "12 St James's Square", a.Addresses[0])

	b.SetMeta("k", "")
	assert.Equal(t, "", b.Meta("k"))
	_, present := b.Metadata["k"]
	assert.False(t, present)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("merge-primary-wins")
	require.NoError(t, err)
	assert.Equal(t, MergePrimaryWins, p)
	_, err = ParsePolicy("last-writer-wins")
	assert.Error(t, err)
}

func TestAction_Target(t *testing.T) {
	side, ok := DeleteOnPrimary.Target()
	assert.True(t, ok)
	assert.Equal(t, Primary, side)
	_, ok = NoOp.Target()
	assert.False(t, ok)
	assert.Equal(t, "UpdateSecondaryFromPrimary", UpdateSecondaryFromPrimary.String())
}
