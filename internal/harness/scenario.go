package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/txreplay/internal/config"
	"github.com/roach88/txreplay/internal/testutil"
)

// Scenario defines a replay scenario.
// A scenario replays an inline trace against a recording connection and
// asserts on the calls the workers made and how the run ended.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is the run shape.
	Config ScenarioConfig `yaml:"config"`

	// Trace holds the trace lines, in file order.
	Trace []string `yaml:"trace"`

	// Failures injects errors into matching connection calls.
	Failures []Failure `yaml:"failures,omitempty"`

	// Assertions validate the recorded calls and the outcome.
	// Supported types: call_count, call_order, stop_cause, error_code
	Assertions []Assertion `yaml:"assertions"`
}

// ScenarioConfig is the subset of run configuration a scenario controls.
// Zero values get harness defaults: one thread, no rampup or rampdown,
// a one-minute run phase.
type ScenarioConfig struct {
	Threads    int    `yaml:"threads"`
	Seed       int64  `yaml:"seed"`
	Repeat     bool   `yaml:"repeat"`
	AllowWrite bool   `yaml:"allow_write"`
	Staggered  bool   `yaml:"delayed_start"`
	Sleep      string `yaml:"sleep"`

	SleepFixed config.Duration `yaml:"sleep_fixed"`
	Rampup     config.Duration `yaml:"rampup"`
	Run        config.Duration `yaml:"run"`
	Rampdown   config.Duration `yaml:"rampdown"`
}

// Failure makes connection calls matching Op (and Text, if set) fail.
type Failure struct {
	Op   string `yaml:"op"`
	Text string `yaml:"text,omitempty"`
}

// Assertion validates the recorded calls or the outcome.
type Assertion struct {
	// Type specifies the assertion type:
	// - "call_count": op (and text) was called exactly count / at least min times
	// - "call_order": calls first appear in the given order
	// - "stop_cause": the run stopped for the given cause
	// - "error_code": the run failed with the given error code ("none" for success)
	Type string `yaml:"type"`

	// Op and Text select calls (call_count).
	Op   string `yaml:"op,omitempty"`
	Text string `yaml:"text,omitempty"`

	// Count is the exact expected count (call_count).
	Count *int `yaml:"count,omitempty"`

	// Min is the minimum expected count (call_count).
	Min *int `yaml:"min,omitempty"`

	// Calls is the expected order, each "<op>" or "<op> <text>" (call_order).
	Calls []string `yaml:"calls,omitempty"`

	// Cause is the expected stop cause (stop_cause).
	Cause string `yaml:"cause,omitempty"`

	// Code is the expected error code (error_code).
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertCallCount = "call_count"
	AssertCallOrder = "call_order"
	AssertStopCause = "stop_cause"
	AssertErrorCode = "error_code"
)

// ErrorCodeNone asserts that the run finished without an error.
const ErrorCodeNone = "none"

var knownOps = map[string]bool{
	testutil.OpDial:     true,
	testutil.OpBegin:    true,
	testutil.OpCommit:   true,
	testutil.OpRollback: true,
	testutil.OpExec:     true,
	testutil.OpSelect:   true,
	testutil.OpClose:    true,
}

var knownCauses = map[string]bool{
	"none":           true,
	"signal":         true,
	"deadline":       true,
	"trace_complete": true,
	"aborted":        true,
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

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:"
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

	if len(s.Trace) == 0 {
		return fmt.Errorf("trace list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Config.Threads < 0 {
		return fmt.Errorf("config.threads must be non-negative")
	}

	switch s.Config.Sleep {
	case "", config.SleepOff, config.SleepFixed, config.SleepThinkTime:
	default:
		return fmt.Errorf("config.sleep: unknown mode %q", s.Config.Sleep)
	}

	for i, f := range s.Failures {
		if !knownOps[f.Op] {
			return fmt.Errorf("failures[%d]: unknown op %q", i, f.Op)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertCallCount:
		if !knownOps[a.Op] {
			return fmt.Errorf("assertions[%d]: unknown op %q for call_count", index, a.Op)
		}
		if (a.Count == nil) == (a.Min == nil) {
			return fmt.Errorf("assertions[%d]: exactly one of count or min is required for call_count", index)
		}
		if (a.Count != nil && *a.Count < 0) || (a.Min != nil && *a.Min < 0) {
			return fmt.Errorf("assertions[%d]: count must be non-negative for call_count", index)
		}
	case AssertCallOrder:
		if len(a.Calls) < 2 {
			return fmt.Errorf("assertions[%d]: at least two calls are required for call_order", index)
		}
	case AssertStopCause:
		if !knownCauses[a.Cause] {
			return fmt.Errorf("assertions[%d]: unknown cause %q for stop_cause", index, a.Cause)
		}
	case AssertErrorCode:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for error_code", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
