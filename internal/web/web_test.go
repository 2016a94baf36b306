package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/thusser/lambrecht/internal/history"
	"github.com/thusser/lambrecht/internal/meteo"
)

func testReport() meteo.Report {
	return meteo.Report{
		Time:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Values: map[string]float64{"temp": 12.5, "press": 1013.2},
	}
}

func TestHolder(t *testing.T) {
	var h Holder
	_, ok := h.Get()
	require.False(t, ok)

	h.Set(testReport())
	r, ok := h.Get()
	require.True(t, ok)
	require.Equal(t, 12.5, r.Values["temp"])
}

func TestServer_CurrentJSON(t *testing.T) {
	s := NewServer(":0", "", nil)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/current.json")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	s.OnReport(testReport())

	resp, err = http.Get(ts.URL + "/current.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, 12.5, got["temp"])
	require.Equal(t, "2024-03-01T12:00:00Z", got["time"])
}

func TestServer_AverageJSON(t *testing.T) {
	hist := history.New(history.Config{Fields: []string{"temp", "press"}})
	s := NewServer(":0", "", hist)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/average.json")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_AverageDisabled(t *testing.T) {
	s := NewServer(":0", "", nil)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/average.json")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_WebsocketPush(t *testing.T) {
	s := NewServer(":0", "", nil)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Registration races with the broadcast; give the handler a moment.
	time.Sleep(50 * time.Millisecond)
	s.OnReport(testReport())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var r meteo.Report
	require.NoError(t, json.Unmarshal(payload, &r))
	require.Equal(t, 12.5, r.Values["temp"])
	require.Equal(t, testReport().Time, r.Time)
}
