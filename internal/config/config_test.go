package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thusser/lambrecht/internal/meteo"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lambrecht.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
# station on the second adapter
SERIAL_PORT=/dev/ttyUSB1
BAUD_RATE=9600
PARITY=E
READ_TIMEOUT_MS=2000

INFLUX_URL=http://localhost:8086
INFLUX_TOKEN=secret
INFLUX_ORG=observatory
INFLUX_BUCKET=weather

LOG_FILE=/var/log/lambrecht.csv
AVERAGE_INTERVAL_MINUTES=10
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyUSB1", cfg.SerialPort)
	require.EqualValues(t, 9600, cfg.BaudRate)
	require.Equal(t, "E", cfg.Parity)
	require.Equal(t, 2000, cfg.ReadTimeoutMS)
	require.Equal(t, "http://localhost:8086", cfg.InfluxURL)
	require.Equal(t, 10, cfg.AverageIntervalMin)

	// Untouched keys keep their defaults.
	require.EqualValues(t, 8, cfg.DataBits)
	require.Equal(t, meteo.DefaultMappings(), cfg.SentenceMappings)
}

func TestLoad_CustomSentenceMappings(t *testing.T) {
	path := writeConfig(t, `
SENTENCE_WIMTA=temp:0
SENTENCE_WIMWV=windspeed:2,winddir:0
REQUIRED_FIELDS=temp,windspeed,winddir
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.SentenceMappings, 2, "custom mappings replace the built-in protocol")
	require.Equal(t, "$WIMTA", cfg.SentenceMappings[0].Tag)
	require.Equal(t, meteo.SentenceMapping{
		Tag: "$WIMWV",
		Fields: []meteo.FieldMapping{
			{Index: 0, Name: "winddir"},
			{Index: 2, Name: "windspeed"},
		},
	}, cfg.SentenceMappings[1])
	require.Equal(t, []string{"temp", "windspeed", "winddir"}, cfg.RequiredFields)
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown key":          "NO_SUCH_KEY=1\n",
		"missing equals":       "SERIAL_PORT /dev/ttyUSB0\n",
		"bad number":           "BAUD_RATE=fast\n",
		"bad parity":           "PARITY=X\n",
		"bad stop bits":        "STOP_BITS=3\n",
		"timeout too small":    "READ_TIMEOUT_MS=50\n",
		"bad completion mode":  "COMPLETION_MODE=sometimes\n",
		"empty required set":   "REQUIRED_FIELDS=\n",
		"bad mapping syntax":   "SENTENCE_WIMTA=temp\n",
		"negative field index": "SENTENCE_WIMTA=temp:-1\n",
	}
	for name, content := range cases {
		_, err := Load(writeConfig(t, content))
		require.Error(t, err, name)
	}
}

func TestLoad_TerminalModeNeedsTerminal(t *testing.T) {
	_, err := Load(writeConfig(t, "COMPLETION_MODE=terminal\nTERMINAL_SENTENCE=\n"))
	require.Error(t, err)

	cfg, err := Load(writeConfig(t, "COMPLETION_MODE=terminal\n"))
	require.NoError(t, err)
	require.Equal(t, "$WIMMB", cfg.TerminalSentence)
}

func TestAssemblerConfig(t *testing.T) {
	cfg := Default()
	cfg.CompletionMode = "terminal"
	cfg.IdleFlushMS = 5000

	ac := cfg.AssemblerConfig()
	require.Equal(t, meteo.CompleteOnTerminal, ac.Mode)
	require.Equal(t, "$WIMMB", ac.Terminal)
	require.Equal(t, 5*time.Second, ac.IdleFlush)
	require.Equal(t, cfg.SentenceMappings, ac.Mappings)

	// The translated config must satisfy the assembler.
	_, err := meteo.NewAssembler(ac)
	require.NoError(t, err)
}
