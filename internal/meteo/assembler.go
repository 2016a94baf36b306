package meteo

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// CompletionMode selects what finalizes an in-progress report.
type CompletionMode int

const (
	// CompleteOnFields emits the report once every required field has been
	// set at least once since the last emission.
	CompleteOnFields CompletionMode = iota
	// CompleteOnTerminal emits the report whenever the terminal sentence
	// type arrives, whatever fields are present. Older station firmware
	// ends every cycle with $WIMMB, which is the default terminal.
	CompleteOnTerminal
)

// FieldMapping assigns one comma-separated sentence field, by position, to a
// named report field. Index 0 is the first field after the type token.
type FieldMapping struct {
	Index int
	Name  string
}

// SentenceMapping maps one sentence type onto report fields.
type SentenceMapping struct {
	Tag    string
	Fields []FieldMapping
}

// AssemblerConfig describes the station's sentence protocol. The mapping and
// the required field set are configuration so that a different sensor head
// only needs a different config file, not different code.
type AssemblerConfig struct {
	Mappings []SentenceMapping
	Required []string
	Mode     CompletionMode
	Terminal string // terminal sentence tag, CompleteOnTerminal only
	// IdleFlush completes a partial report when no sentence has been
	// accepted for this long. Zero disables idle flushing.
	IdleFlush time.Duration
}

// DefaultMappings returns the sentence protocol of the Lambrecht meteo
// station: temperature, wind, humidity/dew point and pressure sentences.
func DefaultMappings() []SentenceMapping {
	return []SentenceMapping{
		{Tag: "$WIMTA", Fields: []FieldMapping{{Index: 0, Name: "temp"}}},
		{Tag: "$WIMWV", Fields: []FieldMapping{{Index: 0, Name: "winddir"}, {Index: 2, Name: "windspeed"}}},
		{Tag: "$WIMHU", Fields: []FieldMapping{{Index: 0, Name: "humid"}, {Index: 2, Name: "dewpoint"}}},
		{Tag: "$WIMMB", Fields: []FieldMapping{{Index: 2, Name: "press"}}},
	}
}

// DefaultRequired returns the field set of a full Lambrecht reading.
func DefaultRequired() []string {
	return []string{"temp", "windspeed", "winddir", "humid", "dewpoint", "press"}
}

// Stats counts what the assembler skipped. Counters only ever grow; the
// poll loop logs them at a low rate.
type Stats struct {
	UnknownSentences uint64
	BadFields        uint64
	Emitted          uint64
}

// Assembler accumulates decoded sentences into reports. It exclusively owns
// the in-progress report; completed reports are handed out as copies. Not
// safe for concurrent use, by design: exactly one poll loop feeds it.
type Assembler struct {
	cfg      AssemblerConfig
	mappings map[string]SentenceMapping
	values   map[string]float64
	seen     map[string]bool
	last     time.Time // time the last sentence was accepted
	stats    Stats
	now      func() time.Time
}

// NewAssembler validates the config and returns an assembler with an empty
// in-progress report.
func NewAssembler(cfg AssemblerConfig) (*Assembler, error) {
	if len(cfg.Mappings) == 0 {
		return nil, errors.New("assembler: at least one sentence mapping required")
	}
	if cfg.Mode == CompleteOnFields && len(cfg.Required) == 0 {
		return nil, errors.New("assembler: required field set must not be empty")
	}
	if cfg.Mode == CompleteOnTerminal && cfg.Terminal == "" {
		return nil, errors.New("assembler: terminal sentence tag required")
	}

	mappings := make(map[string]SentenceMapping, len(cfg.Mappings))
	for _, m := range cfg.Mappings {
		if m.Tag == "" {
			return nil, errors.New("assembler: sentence mapping without tag")
		}
		if _, dup := mappings[m.Tag]; dup {
			return nil, fmt.Errorf("assembler: duplicate mapping for %s", m.Tag)
		}
		mappings[m.Tag] = m
	}

	return &Assembler{
		cfg:      cfg,
		mappings: mappings,
		values:   make(map[string]float64),
		seen:     make(map[string]bool),
		now:      time.Now,
	}, nil
}

// Feed consumes one sentence. If it completes the report, the finished copy
// is returned with ok=true and a fresh report is started. Unknown sentence
// types and unparsable fields are skipped and counted, never fatal: one bad
// sentence must not abort a whole reading.
func (a *Assembler) Feed(s Sentence) (Report, bool) {
	m, known := a.mappings[s.Type]
	if !known {
		a.stats.UnknownSentences++
		return Report{}, false
	}

	for _, f := range m.Fields {
		if f.Index >= len(s.Fields) {
			a.stats.BadFields++
			continue
		}
		v, err := strconv.ParseFloat(s.Fields[f.Index], 64)
		if err != nil {
			a.stats.BadFields++
			continue
		}
		// Last write wins if the same field shows up again before the
		// report completes.
		a.values[f.Name] = v
		a.seen[f.Name] = true
	}
	a.last = a.now()

	if a.complete(s.Type) {
		return a.emit(), true
	}
	return Report{}, false
}

// FlushIdle completes a partial report if idle flushing is enabled, at least
// one field has been set and no sentence arrived for the configured timeout.
// The poll loop calls this once per read cycle.
func (a *Assembler) FlushIdle(now time.Time) (Report, bool) {
	if a.cfg.IdleFlush <= 0 || len(a.seen) == 0 {
		return Report{}, false
	}
	if now.Sub(a.last) < a.cfg.IdleFlush {
		return Report{}, false
	}
	return a.emit(), true
}

// Stats returns a snapshot of the skip counters.
func (a *Assembler) Stats() Stats {
	return a.stats
}

func (a *Assembler) complete(tag string) bool {
	switch a.cfg.Mode {
	case CompleteOnTerminal:
		return tag == a.cfg.Terminal
	default:
		for _, name := range a.cfg.Required {
			if !a.seen[name] {
				return false
			}
		}
		return true
	}
}

// emit stamps the in-progress report with the completion time, hands out a
// copy and starts a fresh one.
func (a *Assembler) emit() Report {
	r := Report{Time: a.now().UTC(), Values: a.values}
	out := r.Clone()

	a.values = make(map[string]float64)
	a.seen = make(map[string]bool)
	a.stats.Emitted++
	return out
}
