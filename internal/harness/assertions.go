package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/roach88/pimsync/internal/link"
	"github.com/roach88/pimsync/internal/model"
	"github.com/roach88/pimsync/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d/%d] %s %s -> %s\n", ev.Pass, ev.Seq, ev.Match, ev.Action, ev.Outcome)
		}
	}
	return buf.String()
}

// AssertionContext provides the stores for state assertions.
type AssertionContext struct {
	Primary   *testutil.MemoryStore
	Secondary *testutil.MemoryStore
}

func (a *AssertionContext) store(name string) *testutil.MemoryStore {
	if model.Side(name) == model.Primary {
		return a.Primary
	}
	return a.Secondary
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEntry:
			err = assertEntry(result.Trace, assertion, len(result.Summaries))
		case AssertItemCount, AssertItem, AssertLinked, AssertUnlinked, AssertCallCount:
			if actx == nil || actx.Primary == nil || actx.Secondary == nil {
				err = fmt.Errorf("assertion[%d]: %s requires store context", i, assertion.Type)
				break
			}
			err = assertState(actx, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

// assertEntry checks that the selected pass applied the match with the
// expected action, outcome and code. Empty fields are not checked.
func assertEntry(trace []TraceEvent, a Assertion, passes int) error {
	pass := a.Pass
	if pass == 0 {
		pass = passes
	}

	var found *TraceEvent
	for i := range trace {
		if trace[i].Pass == pass && trace[i].Match == a.Match {
			found = &trace[i]
			break
		}
	}
	if found == nil {
		return &AssertionError{
			Type:     AssertEntry,
			Expected: fmt.Sprintf("entry for %s in pass %d", a.Match, pass),
			Actual:   "not found in trace",
			Trace:    trace,
		}
	}

	var diffs []string
	if a.Action != "" && a.Action != found.Action {
		diffs = append(diffs, fmt.Sprintf("action %s, want %s", found.Action, a.Action))
	}
	if a.Outcome != "" && a.Outcome != found.Outcome {
		diffs = append(diffs, fmt.Sprintf("outcome %s, want %s", found.Outcome, a.Outcome))
	}
	if a.Code != "" && a.Code != found.Code {
		diffs = append(diffs, fmt.Sprintf("code %q, want %s", found.Code, a.Code))
	}
	if len(diffs) > 0 {
		return &AssertionError{
			Type:     AssertEntry,
			Expected: fmt.Sprintf("entry for %s in pass %d", a.Match, pass),
			Actual:   strings.Join(diffs, "; "),
			Trace:    trace,
		}
	}
	return nil
}

func assertState(actx *AssertionContext, a Assertion) error {
	switch a.Type {
	case AssertItemCount:
		if got := actx.store(a.Store).Len(); got != a.Count {
			return &AssertionError{
				Type:     AssertItemCount,
				Expected: fmt.Sprintf("%d items in %s", a.Count, a.Store),
				Actual:   fmt.Sprintf("%d items", got),
			}
		}

	case AssertItem:
		it := actx.store(a.Store).Item(a.ID)
		if it == nil {
			return &AssertionError{
				Type:     AssertItem,
				Expected: fmt.Sprintf("item %s in %s", a.ID, a.Store),
				Actual:   "not found",
			}
		}
		actual := itemView(model.Side(a.Store), it)
		for _, key := range sortedKeys(a.Expect) {
			got, ok := actual[key]
			if !ok {
				return &AssertionError{
					Type:     AssertItem,
					Expected: fmt.Sprintf("field %q", key),
					Actual:   fmt.Sprintf("unknown field; known: %v", sortedKeys(actual)),
				}
			}
			if !valuesEqual(a.Expect[key], got) {
				return &AssertionError{
					Type:     AssertItem,
					Expected: fmt.Sprintf("%s.%s = %v (type %T)", a.ID, key, a.Expect[key], a.Expect[key]),
					Actual:   fmt.Sprintf("%s.%s = %v (type %T)", a.ID, key, got, got),
				}
			}
		}

	case AssertLinked:
		p := actx.Primary.Item(a.PrimaryID)
		s := actx.Secondary.Item(a.SecondaryID)
		if p == nil || s == nil || !link.Reciprocal(p, s) {
			state := "missing item"
			if p != nil && s != nil {
				state = link.Classify(p, s).String()
			}
			return &AssertionError{
				Type:     AssertLinked,
				Expected: fmt.Sprintf("%s and %s linked both ways", a.PrimaryID, a.SecondaryID),
				Actual:   state,
			}
		}

	case AssertUnlinked:
		it := actx.store(a.Store).Item(a.ID)
		if it == nil {
			return &AssertionError{
				Type:     AssertUnlinked,
				Expected: fmt.Sprintf("item %s in %s", a.ID, a.Store),
				Actual:   "not found",
			}
		}
		if id, ok := link.Resolve(model.Side(a.Store), it); ok {
			return &AssertionError{
				Type:     AssertUnlinked,
				Expected: fmt.Sprintf("%s without link", a.ID),
				Actual:   fmt.Sprintf("linked to %s", id),
			}
		}

	case AssertCallCount:
		op, _ := parseOp(a.Op)
		if got := actx.store(a.Store).CallCount(op); got != a.Count {
			return &AssertionError{
				Type:     AssertCallCount,
				Expected: fmt.Sprintf("%d %s calls on %s", a.Count, a.Op, a.Store),
				Actual:   fmt.Sprintf("%d calls", got),
			}
		}
	}
	return nil
}

// itemView exposes the fields item assertions may check.
func itemView(side model.Side, it *model.Item) map[string]any {
	v := map[string]any{
		"kind":      string(it.Kind),
		"name":      it.Name,
		"email":     it.Email,
		"subject":   it.Subject,
		"body_size": len(it.Body),
		"version":   it.Version,
		"recurring": it.IsRecurring(),
		"link":      "",
	}
	if id, ok := link.Resolve(side, it); ok {
		v["link"] = id
	}
	if !it.Start.IsZero() {
		v["start"] = it.Start.UTC().Format(time.RFC3339)
	}
	switch {
	case it.Pattern != nil:
		v["exceptions"] = len(it.Pattern.Exceptions)
	case it.Series != nil:
		v["exceptions"] = len(it.Series.Instances)
		if len(it.Series.Recurrence) > 0 {
			v["rrule"] = it.Series.Recurrence[0]
		}
	}
	return v
}

// valuesEqual compares a YAML-decoded expectation with an actual value.
func valuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	switch exp := expected.(type) {
	case int:
		if n, ok := actual.(int); ok {
			return exp == n
		}
		return false
	case string:
		s, ok := actual.(string)
		return ok && exp == s
	case bool:
		b, ok := actual.(bool)
		return ok && exp == b
	case time.Time:
		s, ok := actual.(string)
		return ok && exp.UTC().Format(time.RFC3339) == s
	}
	return reflect.DeepEqual(expected, actual)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
