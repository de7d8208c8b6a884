package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pimsync/internal/engine"
	"github.com/roach88/pimsync/internal/model"
	"github.com/roach88/pimsync/internal/testutil"
)

// DefaultNow is the pass start used when a scenario does not set one.
var DefaultNow = time.Date(2020, 6, 1, 8, 0, 0, 0, time.UTC)

// Scenario defines a sync scenario: seed data, faults, passes and the
// expected outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Now is the store clock's starting instant.
	Now time.Time `yaml:"now,omitempty"`

	Config *ScenarioConfig `yaml:"config,omitempty"`

	Primary   []ItemSpec `yaml:"primary,omitempty"`
	Secondary []ItemSpec `yaml:"secondary,omitempty"`

	Faults []FaultSpec `yaml:"faults,omitempty"`

	// Passes is the number of passes to run. Zero means one.
	Passes int `yaml:"passes,omitempty"`

	// Expect is checked against the last pass.
	Expect *ExpectClause `yaml:"expect,omitempty"`

	Assertions []Assertion `yaml:"assertions"`
}

// ScenarioConfig overrides engine.DefaultConfig. Unset fields keep the
// default.
type ScenarioConfig struct {
	Policy              string   `yaml:"policy,omitempty"`
	DeleteEnabled       *bool    `yaml:"delete_enabled,omitempty"`
	Kinds               []string `yaml:"kinds,omitempty"`
	PastDays            *int     `yaml:"past_days,omitempty"`
	FutureDays          *int     `yaml:"future_days,omitempty"`
	TieBreak            string   `yaml:"dedupe_tie_break,omitempty"`
	PrimaryMaxPayload   *int     `yaml:"primary_max_payload,omitempty"`
	SecondaryMaxPayload *int     `yaml:"secondary_max_payload,omitempty"`
}

// ItemSpec seeds one item.
type ItemSpec struct {
	ID       string    `yaml:"id"`
	Kind     string    `yaml:"kind"`
	Name     string    `yaml:"name,omitempty"`
	Email    string    `yaml:"email,omitempty"`
	Subject  string    `yaml:"subject,omitempty"`
	Start    time.Time `yaml:"start,omitempty"`
	End      time.Time `yaml:"end,omitempty"`
	AllDay   bool      `yaml:"all_day,omitempty"`
	TimeZone string    `yaml:"time_zone,omitempty"`
	Body     string    `yaml:"body,omitempty"`
	// BodySize appends that many 'x' characters to Body.
	BodySize int       `yaml:"body_size,omitempty"`
	Created  time.Time `yaml:"created,omitempty"`
	Modified time.Time `yaml:"modified,omitempty"`

	// Link is the counterpart ID recorded on this item.
	Link string `yaml:"link,omitempty"`

	// RRule makes an appointment a series in the side's native form.
	RRule string `yaml:"rrule,omitempty"`
	// Cancelled lists original occurrence starts removed from the series.
	Cancelled []time.Time `yaml:"cancelled,omitempty"`
}

// FaultSpec injects a store failure.
type FaultSpec struct {
	Store string `yaml:"store"`
	Op    string `yaml:"op"`
	ID    string `yaml:"id,omitempty"`
	Error string `yaml:"error"`
	// Times is how often the fault fires; zero means on every call.
	Times int `yaml:"times,omitempty"`
}

// ExpectClause describes the last pass.
type ExpectClause struct {
	// Summary holds expected counters by their summary field name, plus
	// "failures" for skipped and failed together.
	Summary map[string]int `yaml:"summary,omitempty"`

	// Error is a substring of the error that aborted the pass.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the trace or the final store contents.
type Assertion struct {
	Type string `yaml:"type"`

	// Pass selects the pass for entry assertions; zero means the last.
	Pass int `yaml:"pass,omitempty"`

	// entry
	Match   string `yaml:"match,omitempty"`
	Action  string `yaml:"action,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
	Code    string `yaml:"code,omitempty"`

	// item_count, item, unlinked, call_count
	Store string `yaml:"store,omitempty"`
	ID    string `yaml:"id,omitempty"`
	Op    string `yaml:"op,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// item: subset match over the item's fields
	Expect map[string]any `yaml:"expect,omitempty"`

	// linked
	PrimaryID   string `yaml:"primary,omitempty"`
	SecondaryID string `yaml:"secondary,omitempty"`
}

// Assertion type constants.
const (
	AssertEntry     = "entry"
	AssertItemCount = "item_count"
	AssertItem      = "item"
	AssertLinked    = "linked"
	AssertUnlinked  = "unlinked"
	AssertCallCount = "call_count"
)

var summaryFields = map[string]bool{
	"matches": true, "created": true, "updated": true, "deleted": true,
	"unchanged": true, "skipped": true, "failed": true, "linked": true,
	"unlinked": true, "failures": true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Passes < 0 {
		return fmt.Errorf("passes must be non-negative")
	}
	if s.Expect == nil && len(s.Assertions) == 0 {
		return fmt.Errorf("expect or assertions is required")
	}

	if s.Config != nil {
		if _, err := s.Config.apply(engine.DefaultConfig()); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	for side, items := range map[string][]ItemSpec{"primary": s.Primary, "secondary": s.Secondary} {
		seen := map[string]bool{}
		for i, it := range items {
			if err := validateItem(it); err != nil {
				return fmt.Errorf("%s[%d]: %w", side, i, err)
			}
			if seen[it.ID] {
				return fmt.Errorf("%s[%d]: duplicate id %q", side, i, it.ID)
			}
			seen[it.ID] = true
		}
	}

	for i, f := range s.Faults {
		if _, err := parseStoreName(f.Store); err != nil {
			return fmt.Errorf("faults[%d]: %w", i, err)
		}
		if _, err := parseOp(f.Op); err != nil {
			return fmt.Errorf("faults[%d]: %w", i, err)
		}
		if _, err := parseStoreError(f.Error); err != nil {
			return fmt.Errorf("faults[%d]: %w", i, err)
		}
	}

	if s.Expect != nil {
		for k := range s.Expect.Summary {
			if !summaryFields[k] {
				return fmt.Errorf("expect.summary: unknown counter %q", k)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateItem(it ItemSpec) error {
	if it.ID == "" {
		return fmt.Errorf("id is required")
	}
	kind, err := model.ParseKind(it.Kind)
	if err != nil {
		return err
	}
	if kind == model.KindAppointment && it.Start.IsZero() {
		return fmt.Errorf("start is required for appointments")
	}
	if it.RRule != "" && kind != model.KindAppointment {
		return fmt.Errorf("rrule is only valid on appointments")
	}
	if len(it.Cancelled) > 0 && it.RRule == "" {
		return fmt.Errorf("cancelled requires rrule")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEntry:
		if a.Match == "" {
			return fmt.Errorf("assertions[%d]: match is required for entry", index)
		}
	case AssertItemCount:
		if _, err := parseStoreName(a.Store); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for item_count", index)
		}
	case AssertItem:
		if _, err := parseStoreName(a.Store); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for item", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for item", index)
		}
	case AssertLinked:
		if a.PrimaryID == "" || a.SecondaryID == "" {
			return fmt.Errorf("assertions[%d]: primary and secondary are required for linked", index)
		}
	case AssertUnlinked:
		if _, err := parseStoreName(a.Store); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for unlinked", index)
		}
	case AssertCallCount:
		if _, err := parseStoreName(a.Store); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if _, err := parseOp(a.Op); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// apply overlays the scenario settings on cfg.
func (c *ScenarioConfig) apply(cfg engine.Config) (engine.Config, error) {
	if c == nil {
		return cfg, nil
	}
	if c.Policy != "" {
		p, err := model.ParsePolicy(c.Policy)
		if err != nil {
			return cfg, err
		}
		cfg.Policy = p
	}
	if c.DeleteEnabled != nil {
		cfg.DeleteEnabled = *c.DeleteEnabled
	}
	if len(c.Kinds) > 0 {
		cfg.Kinds = nil
		for _, s := range c.Kinds {
			k, err := model.ParseKind(s)
			if err != nil {
				return cfg, err
			}
			cfg.Kinds = append(cfg.Kinds, k)
		}
	}
	if c.PastDays != nil {
		cfg.PastDays = *c.PastDays
	}
	if c.FutureDays != nil {
		cfg.FutureDays = *c.FutureDays
	}
	if c.TieBreak != "" {
		tb, err := engine.ParseTieBreak(c.TieBreak)
		if err != nil {
			return cfg, err
		}
		cfg.TieBreak = tb
	}
	if c.PrimaryMaxPayload != nil {
		cfg.PrimaryMaxPayload = *c.PrimaryMaxPayload
	}
	if c.SecondaryMaxPayload != nil {
		cfg.SecondaryMaxPayload = *c.SecondaryMaxPayload
	}
	return cfg, nil
}

func parseStoreName(s string) (model.Side, error) {
	switch model.Side(s) {
	case model.Primary, model.Secondary:
		return model.Side(s), nil
	}
	return "", fmt.Errorf("unknown store %q (want primary or secondary)", s)
}

func parseOp(s string) (testutil.Op, error) {
	switch op := testutil.Op(s); op {
	case testutil.OpList, testutil.OpGet, testutil.OpCreate, testutil.OpUpdate, testutil.OpDelete, testutil.OpListInstances:
		return op, nil
	}
	return "", fmt.Errorf("unknown store operation %q", s)
}
