package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/juzibot/wechaty/internal/payload"
)

// TraceSnapshot is the golden form of a run: every pass with its events,
// plus the reported errors.
type TraceSnapshot struct {
	ScenarioName string
	Passes       []PassTrace
	Reported     []ReportedError
}

// Value renders the snapshot as a payload value for canonical encoding.
func (s *TraceSnapshot) Value() payload.Object {
	passes := make(payload.List, len(s.Passes))
	for i, p := range s.Passes {
		events := make(payload.List, len(p.Events))
		for j, ev := range p.Events {
			events[j] = payload.Object{
				"bus":  payload.String(ev.Bus),
				"name": payload.String(ev.Name),
				"args": ev.Args,
			}
		}
		differences := make(payload.List, len(p.Differences))
		for j, d := range p.Differences {
			differences[j] = payload.String(d)
		}
		obj := payload.Object{
			"seq":         payload.Int(p.Seq),
			"trigger":     payload.String(p.Trigger),
			"kind":        payload.String(p.Kind),
			"id":          payload.String(p.ID),
			"status":      payload.String(p.Status),
			"differences": differences,
			"events":      events,
		}
		if p.Error != "" {
			obj["error"] = payload.String(p.Error)
		}
		passes[i] = obj
	}

	reported := make(payload.List, len(s.Reported))
	for i, r := range s.Reported {
		reported[i] = payload.Object{
			"code":    payload.String(r.Code),
			"message": payload.String(r.Message),
		}
	}

	return payload.Object{
		"scenario_name": payload.String(s.ScenarioName),
		"passes":        passes,
		"reported":      reported,
	}
}

// MarshalCanonical encodes the snapshot as canonical JSON.
func (s *TraceSnapshot) MarshalCanonical() ([]byte, error) {
	return payload.MarshalCanonical(s.Value())
}

// RunWithGolden executes a scenario and compares its trace with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Passes:       result.Passes,
		Reported:     result.Reported,
	}
	traceJSON, err := snapshot.MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
