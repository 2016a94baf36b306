// Package config loads the daemon's KEY=VALUE configuration file.
package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/thusser/lambrecht/internal/meteo"
)

// Config holds all daemon configuration values.
type Config struct {
	// Serial connection
	SerialPort    string
	BaudRate      uint
	DataBits      uint
	Parity        string // "N", "E" or "O"
	StopBits      uint
	RTSCTS        bool
	ReadTimeoutMS int

	// Report assembly. Sentence mappings come from SENTENCE_<TAG> keys,
	// e.g. SENTENCE_WIMWV=winddir:0,windspeed:2. Without any such key the
	// built-in Lambrecht protocol applies.
	SentenceMappings []meteo.SentenceMapping
	RequiredFields   []string
	CompletionMode   string // "fields" or "terminal"
	TerminalSentence string
	IdleFlushMS      int

	// Polling
	PollPauseMS      int
	BackoffInitialMS int
	BackoffMaxMS     int
	FailureStep      int

	// Forwarding. Influx is optional; without full credentials reports
	// are accepted and discarded.
	ForwardRetryMS    int
	InfluxURL         string
	InfluxToken       string
	InfluxOrg         string
	InfluxBucket      string
	InfluxMeasurement string

	// MQTT fan-out, optional.
	MQTTBroker   string
	MQTTClientID string
	MQTTTopic    string

	// Web dashboard
	WebAddr   string
	StaticDir string

	// Averaging history
	LogFile            string
	AverageIntervalMin int
	HistoryKeep        int
}

// Default returns the configuration matching the station's factory settings.
func Default() *Config {
	return &Config{
		SerialPort:    "/dev/ttyUSB0",
		BaudRate:      4800,
		DataBits:      8,
		Parity:        "N",
		StopBits:      1,
		ReadTimeoutMS: 10000,

		SentenceMappings: meteo.DefaultMappings(),
		RequiredFields:   meteo.DefaultRequired(),
		CompletionMode:   "fields",
		TerminalSentence: "$WIMMB",
		IdleFlushMS:      30000,

		BackoffInitialMS: 1000,
		BackoffMaxMS:     900000,
		FailureStep:      10,

		ForwardRetryMS:    10000,
		InfluxMeasurement: "lambrecht",

		MQTTClientID: "lambrecht-meteo",
		MQTTTopic:    "lambrecht/report",

		WebAddr: ":8888",

		AverageIntervalMin: 5,
		HistoryKeep:        10,
	}
}

// Load reads the configuration file on top of the defaults.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0
	sawMapping := false

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if strings.HasPrefix(key, "SENTENCE_") {
			if !sawMapping {
				// The first custom mapping replaces the built-in
				// protocol rather than extending it.
				cfg.SentenceMappings = nil
				sawMapping = true
			}
			m, err := parseMapping(strings.TrimPrefix(key, "SENTENCE_"), value)
			if err != nil {
				return nil, fmt.Errorf("config line %d: %w", lineNum, err)
			}
			cfg.SentenceMappings = append(cfg.SentenceMappings, m)
			continue
		}

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseMapping turns "winddir:0,windspeed:2" for tag "WIMWV" into a sentence
// mapping for "$WIMWV".
func parseMapping(tag, value string) (meteo.SentenceMapping, error) {
	m := meteo.SentenceMapping{Tag: "$" + tag}
	for _, part := range strings.Split(value, ",") {
		nameIdx := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(nameIdx) != 2 {
			return m, fmt.Errorf("invalid field assignment %q (want name:index)", part)
		}
		idx, err := strconv.Atoi(nameIdx[1])
		if err != nil || idx < 0 {
			return m, fmt.Errorf("invalid field index in %q", part)
		}
		m.Fields = append(m.Fields, meteo.FieldMapping{Index: idx, Name: nameIdx[0]})
	}
	if len(m.Fields) == 0 {
		return m, fmt.Errorf("sentence %s maps no fields", m.Tag)
	}
	sort.Slice(m.Fields, func(i, j int) bool { return m.Fields[i].Index < m.Fields[j].Index })
	return m, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// Serial
	case "SERIAL_PORT":
		c.SerialPort = value
	case "BAUD_RATE":
		return setUint(key, value, &c.BaudRate)
	case "DATA_BITS":
		return setUint(key, value, &c.DataBits)
	case "PARITY":
		c.Parity = value
	case "STOP_BITS":
		return setUint(key, value, &c.StopBits)
	case "RTSCTS":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid RTSCTS %q: %w", value, err)
		}
		c.RTSCTS = b
	case "READ_TIMEOUT_MS":
		return setInt(key, value, &c.ReadTimeoutMS)

	// Assembly
	case "REQUIRED_FIELDS":
		c.RequiredFields = splitList(value)
	case "COMPLETION_MODE":
		c.CompletionMode = value
	case "TERMINAL_SENTENCE":
		c.TerminalSentence = value
	case "IDLE_FLUSH_MS":
		return setInt(key, value, &c.IdleFlushMS)

	// Polling
	case "POLL_PAUSE_MS":
		return setInt(key, value, &c.PollPauseMS)
	case "BACKOFF_INITIAL_MS":
		return setInt(key, value, &c.BackoffInitialMS)
	case "BACKOFF_MAX_MS":
		return setInt(key, value, &c.BackoffMaxMS)
	case "FAILURE_STEP":
		return setInt(key, value, &c.FailureStep)

	// Forwarding
	case "FORWARD_RETRY_MS":
		return setInt(key, value, &c.ForwardRetryMS)
	case "INFLUX_URL":
		c.InfluxURL = value
	case "INFLUX_TOKEN":
		c.InfluxToken = value
	case "INFLUX_ORG":
		c.InfluxOrg = value
	case "INFLUX_BUCKET":
		c.InfluxBucket = value
	case "INFLUX_MEASUREMENT":
		c.InfluxMeasurement = value

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "MQTT_TOPIC":
		c.MQTTTopic = value

	// Web
	case "WEB_ADDR":
		c.WebAddr = value
	case "STATIC_DIR":
		c.StaticDir = value

	// History
	case "LOG_FILE":
		c.LogFile = value
	case "AVERAGE_INTERVAL_MINUTES":
		return setInt(key, value, &c.AverageIntervalMin)
	case "HISTORY_KEEP":
		return setInt(key, value, &c.HistoryKeep)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// Validate checks the cross-field constraints.
func (c *Config) Validate() error {
	if c.SerialPort == "" {
		return fmt.Errorf("SERIAL_PORT is required")
	}
	if c.BaudRate == 0 {
		return fmt.Errorf("BAUD_RATE is required")
	}
	switch c.Parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("PARITY must be N, E or O, got %q", c.Parity)
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("STOP_BITS must be 1 or 2, got %d", c.StopBits)
	}
	if c.ReadTimeoutMS < 100 {
		return fmt.Errorf("READ_TIMEOUT_MS must be at least 100, got %d", c.ReadTimeoutMS)
	}

	switch c.CompletionMode {
	case "fields":
		if len(c.RequiredFields) == 0 {
			return fmt.Errorf("REQUIRED_FIELDS must not be empty in fields mode")
		}
	case "terminal":
		if c.TerminalSentence == "" {
			return fmt.Errorf("TERMINAL_SENTENCE is required in terminal mode")
		}
	default:
		return fmt.Errorf("COMPLETION_MODE must be fields or terminal, got %q", c.CompletionMode)
	}

	if len(c.SentenceMappings) == 0 {
		return fmt.Errorf("at least one sentence mapping is required")
	}
	return nil
}

// AssemblerConfig translates the file values into the assembler's config.
func (c *Config) AssemblerConfig() meteo.AssemblerConfig {
	mode := meteo.CompleteOnFields
	if c.CompletionMode == "terminal" {
		mode = meteo.CompleteOnTerminal
	}
	return meteo.AssemblerConfig{
		Mappings:  c.SentenceMappings,
		Required:  c.RequiredFields,
		Mode:      mode,
		Terminal:  c.TerminalSentence,
		IdleFlush: msToDuration(c.IdleFlushMS),
	}
}

// FieldNames returns the report fields in a stable order, for CSV columns
// and the like: the required set when there is one, otherwise every field
// the sentence mappings can produce.
func (c *Config) FieldNames() []string {
	if len(c.RequiredFields) > 0 {
		return c.RequiredFields
	}
	var out []string
	for _, m := range c.SentenceMappings {
		for _, f := range m.Fields {
			out = append(out, f.Name)
		}
	}
	return out
}

func msToDuration(ms int) (d time.Duration) {
	if ms > 0 {
		d = time.Duration(ms) * time.Millisecond
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func setInt(key, value string, dst *int) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = v
	return nil
}

func setUint(key, value string, dst *uint) error {
	v, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = uint(v)
	return nil
}
