package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	goserial "github.com/jacobsa/go-serial/serial"
)

// State describes the connection to the station. It is owned by the link and
// only exposed for logging.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackingOff
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackingOff:
		return "backing off"
	default:
		return "disconnected"
	}
}

// ErrReadTimeout is returned by Read when the configured read timeout expires
// without any data. The poll loop treats it as "no news", not as a failure.
var ErrReadTimeout = errors.New("serial: read timed out")

// Config is the connection descriptor for the station's serial port.
type Config struct {
	Port        string
	BaudRate    uint
	DataBits    uint
	Parity      string // "N", "E" or "O"
	StopBits    uint
	RTSCTS      bool
	ReadTimeout time.Duration
}

// Link is the connection surface the poll loop drives. The concrete
// implementation talks to a real port; tests substitute a scripted one.
type Link interface {
	Open() error
	Read(p []byte) (int, error)
	Close() error
	State() State
	// MarkBackoff flags the link as waiting between reconnect attempts,
	// purely for state reporting.
	MarkBackoff()
}

type link struct {
	cfg   Config
	opts  goserial.OpenOptions
	state atomic.Int32

	mu   sync.Mutex
	port io.ReadWriteCloser
}

// NewLink validates the descriptor and returns an unopened link.
func NewLink(cfg Config) (Link, error) {
	parity, err := parityMode(cfg.Parity)
	if err != nil {
		return nil, err
	}
	if cfg.Port == "" {
		return nil, errors.New("serial: port required")
	}
	if cfg.BaudRate == 0 {
		return nil, errors.New("serial: baud rate required")
	}
	if cfg.StopBits != 1 && cfg.StopBits != 2 {
		return nil, fmt.Errorf("serial: stop bits must be 1 or 2, got %d", cfg.StopBits)
	}
	// The port driver needs at least 100ms for a pure timeout read.
	if cfg.ReadTimeout < 100*time.Millisecond {
		return nil, fmt.Errorf("serial: read timeout must be at least 100ms, got %s", cfg.ReadTimeout)
	}

	return &link{
		cfg: cfg,
		opts: goserial.OpenOptions{
			PortName:              cfg.Port,
			BaudRate:              cfg.BaudRate,
			DataBits:              cfg.DataBits,
			StopBits:              cfg.StopBits,
			ParityMode:            parity,
			RTSCTSFlowControl:     cfg.RTSCTS,
			InterCharacterTimeout: uint(cfg.ReadTimeout / time.Millisecond),
			MinimumReadSize:       0,
		},
	}, nil
}

func parityMode(p string) (goserial.ParityMode, error) {
	switch p {
	case "", "N":
		return goserial.PARITY_NONE, nil
	case "E":
		return goserial.PARITY_EVEN, nil
	case "O":
		return goserial.PARITY_ODD, nil
	default:
		return goserial.PARITY_NONE, fmt.Errorf("serial: unknown parity %q", p)
	}
}

// Open connects to the port. An already open port is closed first, so Open
// doubles as a reset after read failures.
func (l *link) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port != nil {
		l.port.Close()
		l.port = nil
	}

	l.state.Store(int32(StateConnecting))
	port, err := goserial.Open(l.opts)
	if err != nil {
		l.state.Store(int32(StateDisconnected))
		return fmt.Errorf("serial: open %s: %w", l.cfg.Port, err)
	}

	l.port = port
	l.state.Store(int32(StateConnected))
	return nil
}

// Read reads whatever the port has within the configured timeout. A timeout
// with no data is reported as ErrReadTimeout.
func (l *link) Read(p []byte) (int, error) {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()

	if port == nil {
		return 0, errors.New("serial: not connected")
	}

	n, err := port.Read(p)
	if n == 0 && (err == nil || errors.Is(err, io.EOF)) {
		// VMIN=0/VTIME reads surface an expired timeout as an empty
		// read, which the os layer may report as EOF.
		return 0, ErrReadTimeout
	}
	return n, err
}

// Close closes the port. Safe to call repeatedly.
func (l *link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.Store(int32(StateDisconnected))
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}

func (l *link) State() State {
	return State(l.state.Load())
}

func (l *link) MarkBackoff() {
	l.state.Store(int32(StateBackingOff))
}
