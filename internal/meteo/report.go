package meteo

import (
	"encoding/json"
	"fmt"
	"time"
)

// Report is one fully assembled multi-field reading from the weather station.
// While a report is being assembled its Time is zero; the assembler sets it
// exactly once when the report completes. After that the report is never
// mutated again, so it can be read concurrently by every consumer it is
// handed to.
type Report struct {
	Time   time.Time
	Values map[string]float64
}

// NewReport returns an empty in-progress report.
func NewReport() Report {
	return Report{Values: make(map[string]float64)}
}

// Clone returns a deep copy of the report. The assembler hands out clones so
// that no consumer can reach into its in-progress state.
func (r Report) Clone() Report {
	c := Report{Time: r.Time, Values: make(map[string]float64, len(r.Values))}
	for k, v := range r.Values {
		c.Values[k] = v
	}
	return c
}

// MarshalJSON flattens the report into a single object so that web and MQTT
// consumers see {"time": "...", "temp": 12.5, ...} like the old dashboard did.
func (r Report) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Values)+1)
	for k, v := range r.Values {
		out[k] = v
	}
	out["time"] = r.Time.UTC().Format(time.RFC3339)
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Report) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Values = make(map[string]float64, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case float64:
			r.Values[k] = val
		case string:
			if k != "time" {
				return fmt.Errorf("report: field %q is not numeric", k)
			}
			t, err := time.Parse(time.RFC3339, val)
			if err != nil {
				return fmt.Errorf("report: bad time %q: %w", val, err)
			}
			r.Time = t
		default:
			return fmt.Errorf("report: field %q has unsupported type", k)
		}
	}
	return nil
}
