// Package history keeps periodic averages of the station's reports and
// appends them to a CSV log file, the format the old dashboard used.
package history

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/thusser/lambrecht/internal/meteo"
)

const timeLayout = "2006-01-02T15:04:05"

// Average is the per-field mean of one interval's reports.
type Average struct {
	Time   time.Time
	Values map[string]float64
}

// Config tunes the averaging history.
type Config struct {
	// LogFile is the CSV file averages are appended to. Empty disables
	// the file; averages are then kept in memory only.
	LogFile string
	// Fields fixes the CSV column order.
	Fields []string
	// Interval between averages.
	Interval time.Duration
	// Keep is how many averages stay in memory, newest first.
	Keep int
}

// History buffers completed reports and condenses them into one average per
// interval on a background schedule.
type History struct {
	cfg   Config
	sched *gocron.Scheduler

	mu       sync.Mutex
	buffer   []meteo.Report
	averages []Average // newest first
}

// New creates the history and reloads previous averages from the log file.
func New(cfg Config) *History {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 10
	}
	h := &History{cfg: cfg}
	h.load()
	return h
}

// Start schedules the periodic averaging.
func (h *History) Start() error {
	h.sched = gocron.NewScheduler(time.UTC)
	if _, err := h.sched.Every(h.cfg.Interval).Do(h.flush); err != nil {
		return fmt.Errorf("history: schedule: %w", err)
	}
	h.sched.StartAsync()
	return nil
}

// Stop halts the schedule. Buffered reports that never made it into an
// average are discarded.
func (h *History) Stop() {
	if h.sched != nil {
		h.sched.Stop()
	}
}

// Add buffers one completed report. Registered as a poller subscriber.
func (h *History) Add(r meteo.Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buffer = append(h.buffer, r)
}

// Latest returns the newest average.
func (h *History) Latest() (Average, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.averages) == 0 {
		return Average{}, false
	}
	return h.averages[0], true
}

// Averages returns all kept averages, newest first.
func (h *History) Averages() []Average {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Average(nil), h.averages...)
}

// flush averages the buffered reports into one history entry and appends it
// to the log file.
func (h *History) flush() {
	h.mu.Lock()

	if len(h.buffer) == 0 {
		h.mu.Unlock()
		return
	}

	avg := Average{
		Time:   h.buffer[0].Time,
		Values: make(map[string]float64, len(h.cfg.Fields)),
	}
	for _, name := range h.cfg.Fields {
		sum, n := 0.0, 0
		for _, r := range h.buffer {
			if v, ok := r.Values[name]; ok {
				sum += v
				n++
			}
		}
		if n > 0 {
			avg.Values[name] = sum / float64(n)
		}
	}

	h.buffer = h.buffer[:0]
	h.averages = append([]Average{avg}, h.averages...)
	if len(h.averages) > h.cfg.Keep {
		h.averages = h.averages[:h.cfg.Keep]
	}
	h.mu.Unlock()

	if err := h.appendLog(avg); err != nil {
		log.Printf("history: writing log file: %v", err)
	}
}

func (h *History) header() string {
	return "time," + strings.Join(h.cfg.Fields, ",")
}

// load reads previous averages back from the log file. Bad lines are
// skipped; an old file with a different field set is ignored entirely.
func (h *History) load() {
	if h.cfg.LogFile == "" {
		return
	}
	f, err := os.Open(h.cfg.LogFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("history: reading log file: %v", err)
		}
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() || scanner.Text() != h.header() {
		log.Printf("history: log file %s has an unexpected header, ignoring it", h.cfg.LogFile)
		return
	}

	var loaded []Average
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), ",")
		if len(parts) != len(h.cfg.Fields)+1 {
			log.Printf("history: skipping malformed log line")
			continue
		}
		ts, err := time.Parse(timeLayout, parts[0])
		if err != nil {
			log.Printf("history: skipping log line with bad time %q", parts[0])
			continue
		}
		avg := Average{Time: ts, Values: make(map[string]float64, len(h.cfg.Fields))}
		ok := true
		for i, name := range h.cfg.Fields {
			v, err := strconv.ParseFloat(parts[i+1], 64)
			if err != nil {
				ok = false
				break
			}
			avg.Values[name] = v
		}
		if ok {
			loaded = append(loaded, avg)
		}
	}

	// Newest first, cropped like the in-memory history.
	for i, j := 0, len(loaded)-1; i < j; i, j = i+1, j-1 {
		loaded[i], loaded[j] = loaded[j], loaded[i]
	}
	if len(loaded) > h.cfg.Keep {
		loaded = loaded[:h.cfg.Keep]
	}
	h.averages = loaded
}

func (h *History) appendLog(avg Average) error {
	if h.cfg.LogFile == "" {
		return nil
	}

	_, statErr := os.Stat(h.cfg.LogFile)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(h.cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if fresh {
		if _, err := fmt.Fprintln(f, h.header()); err != nil {
			return err
		}
	}

	cols := make([]string, 0, len(h.cfg.Fields)+1)
	cols = append(cols, avg.Time.UTC().Format(timeLayout))
	for _, name := range h.cfg.Fields {
		cols = append(cols, strconv.FormatFloat(avg.Values[name], 'f', 2, 64))
	}
	_, err = fmt.Fprintln(f, strings.Join(cols, ","))
	return err
}
