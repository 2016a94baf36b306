package meteo

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReport_CloneIsIndependent(t *testing.T) {
	r := Report{
		Time:   time.Now(),
		Values: map[string]float64{"temp": 12.5},
	}
	c := r.Clone()
	c.Values["temp"] = 99.9
	require.Equal(t, 12.5, r.Values["temp"])
}

// Web, MQTT and the console all speak this flattened JSON form.
func TestReport_JSONRoundTrip(t *testing.T) {
	r := Report{
		Time:   time.Date(2024, 3, 1, 12, 0, 5, 0, time.UTC),
		Values: map[string]float64{"temp": 12.5, "press": 1013.2},
	}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, "2024-03-01T12:00:05Z", got["time"])

	var back Report
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, r.Time, back.Time)
	require.Equal(t, r.Values, back.Values)
}

func TestReport_UnmarshalRejectsGarbage(t *testing.T) {
	var r Report
	require.Error(t, json.Unmarshal([]byte(`{"time":"not-a-time"}`), &r))
	require.Error(t, json.Unmarshal([]byte(`{"temp":"warm"}`), &r))
}
