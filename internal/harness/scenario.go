package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/juzibot/wechaty/internal/payload"
	"github.com/juzibot/wechaty/internal/puppet"
)

// Scenario is one reconciliation test case.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Policy is a CUE policy file. LoadScenario resolves it relative to the
	// scenario file.
	Policy string `yaml:"policy,omitempty"`

	Options Options `yaml:"options,omitempty"`

	// Seed payloads are stored in the driver and loaded into the pool, so
	// the first dirty pass has something to diff against.
	Seed []PayloadStep `yaml:"seed,omitempty"`

	// Backend payloads are stored in the driver only.
	Backend []PayloadStep `yaml:"backend,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Options tune the orchestrator for a scenario. Zero values keep the
// defaults.
type Options struct {
	SyncGap            time.Duration `yaml:"sync_gap,omitempty"`
	SyncMaxRetry       int           `yaml:"sync_max_retry,omitempty"`
	ResolveConcurrency int           `yaml:"resolve_concurrency,omitempty"`
	SerializePasses    bool          `yaml:"serialize_passes,omitempty"`
}

// PayloadStep stores a payload in the driver. With Lag > 0 the driver keeps
// serving the previous payload for that many reads.
type PayloadStep struct {
	Kind    payload.Kind   `yaml:"kind"`
	ID      string         `yaml:"id"`
	Payload map[string]any `yaml:"payload"`
	Lag     int            `yaml:"lag,omitempty"`
}

// Ref names one entity.
type Ref struct {
	Kind payload.Kind `yaml:"kind"`
	ID   string       `yaml:"id"`
}

// FailStep makes driver reads of an entity fail. An empty Error clears it.
type FailStep struct {
	Kind  payload.Kind `yaml:"kind"`
	ID    string       `yaml:"id"`
	Error string       `yaml:"error"`
}

// TagStep delivers a tag or tag-group event.
type TagStep struct {
	Type      puppet.TagEventType `yaml:"type"`
	Kind      payload.Kind        `yaml:"kind"`
	IDs       []string            `yaml:"ids"`
	Timestamp time.Time           `yaml:"timestamp,omitempty"`
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	Set    *PayloadStep `yaml:"set,omitempty"`
	Delete *Ref         `yaml:"delete,omitempty"`
	Fail   *FailStep    `yaml:"fail,omitempty"`
	Dirty  *Ref         `yaml:"dirty,omitempty"`
	Tag    *TagStep     `yaml:"tag,omitempty"`
}

// Assertion checks the trace, the reported errors, the pool or the journal.
type Assertion struct {
	Type string `yaml:"type"`

	// Bus restricts event assertions to "global" or "entity".
	Bus  string `yaml:"bus,omitempty"`
	Name string `yaml:"name,omitempty"`

	// Args are compared with the leading described arguments of the event.
	// Entities are written as {kind, id}.
	Args []any `yaml:"args,omitempty"`

	Names []string `yaml:"names,omitempty"`
	Count int      `yaml:"count,omitempty"`

	Code   string `yaml:"code,omitempty"`
	Status string `yaml:"status,omitempty"`

	Kind   payload.Kind   `yaml:"kind,omitempty"`
	ID     string         `yaml:"id,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertEventEmitted  = "event_emitted"
	AssertEventOrder    = "event_order"
	AssertEventCount    = "event_count"
	AssertErrorReported = "error_reported"
	AssertFinalPayload  = "final_payload"
	AssertPassCount     = "pass_count"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos do not silently skip checks.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if s.Policy != "" && !filepath.IsAbs(s.Policy) {
		s.Policy = filepath.Join(filepath.Dir(path), s.Policy)
	}
	if s.Policy != "" {
		if _, err := os.Stat(s.Policy); err != nil {
			return nil, fmt.Errorf("invalid scenario: policy file not found: %s", s.Policy)
		}
	}
	return s, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, p := range s.Seed {
		if p.ID == "" {
			return fmt.Errorf("seed[%d]: id is required", i)
		}
	}
	for i, p := range s.Backend {
		if p.ID == "" {
			return fmt.Errorf("backend[%d]: id is required", i)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	set := 0
	id := ""
	if step.Set != nil {
		set++
		id = step.Set.ID
	}
	if step.Delete != nil {
		set++
		id = step.Delete.ID
	}
	if step.Fail != nil {
		set++
		id = step.Fail.ID
	}
	if step.Dirty != nil {
		set++
		id = step.Dirty.ID
	}
	if step.Tag != nil {
		set++
		if step.Tag.Type == "" {
			return fmt.Errorf("tag: type is required")
		}
		if len(step.Tag.IDs) == 0 {
			return fmt.Errorf("tag: ids are required")
		}
		id = step.Tag.IDs[0]
	}
	switch {
	case set == 0:
		return fmt.Errorf("one of set, delete, fail, dirty or tag is required")
	case set > 1:
		return fmt.Errorf("only one of set, delete, fail, dirty or tag may be given")
	case id == "":
		return fmt.Errorf("id is required")
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Bus {
	case "", "global", "entity":
	default:
		return fmt.Errorf("assertions[%d]: bus must be global or entity, got %q", index, a.Bus)
	}

	switch a.Type {
	case AssertEventEmitted, AssertEventCount:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for %s", index, a.Type)
		}
	case AssertEventOrder:
		if len(a.Names) == 0 {
			return fmt.Errorf("assertions[%d]: names list is required for event_order", index)
		}
	case AssertErrorReported:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for error_reported", index)
		}
	case AssertFinalPayload:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for final_payload", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_payload", index)
		}
	case AssertPassCount:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for pass_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
