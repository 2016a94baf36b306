// Package poller drives the serial link: connect, read, decode, assemble,
// fan out. Connection trouble is never fatal; the loop backs off and keeps
// retrying until it is told to stop.
package poller

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/thusser/lambrecht/internal/meteo"
	"github.com/thusser/lambrecht/internal/serial"
)

// Config tunes the poll loop.
type Config struct {
	// InitialBackoff is the first wait after a failed connect. It doubles
	// on every FailureStep-th consecutive failure up to MaxBackoff, then
	// starts over.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	FailureStep    int
	// IdlePause is an optional pause between read cycles. Zero means the
	// read timeout alone paces the loop.
	IdlePause  time.Duration
	ReadBuffer int
}

func (c *Config) applyDefaults() {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 15 * time.Minute
	}
	if c.FailureStep <= 0 {
		c.FailureStep = 10
	}
	if c.ReadBuffer <= 0 {
		c.ReadBuffer = 1024
	}
}

// Subscriber receives each completed report, synchronously, from the poll
// goroutine. Slow subscribers stall polling and must offload themselves.
type Subscriber func(meteo.Report)

// Poller owns the polling goroutine and its lifecycle.
type Poller struct {
	cfg  Config
	link serial.Link
	asm  *meteo.Assembler

	mu   sync.Mutex
	subs []Subscriber

	closing   chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a poller reading from link into asm.
func New(cfg Config, link serial.Link, asm *meteo.Assembler) *Poller {
	cfg.applyDefaults()
	return &Poller{
		cfg:     cfg,
		link:    link,
		asm:     asm,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Subscribe registers fn for completed reports. Subscribers are invoked in
// registration order, once per report.
func (p *Poller) Subscribe(fn Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, fn)
}

// Start launches the polling goroutine.
func (p *Poller) Start() {
	p.startOnce.Do(func() {
		go p.run()
	})
}

// Stop asks the loop to exit and waits for it. The serial connection is
// closed before the goroutine returns. Stop is observed promptly even while
// the loop is waiting out a backoff.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.closing)
	})
	<-p.done
}

func (p *Poller) run() {
	defer close(p.done)
	defer p.link.Close()

	var (
		failures     int
		backoff      = p.cfg.InitialBackoff
		connected    bool
		framingDrops uint64
		rest         []byte
		buf          = make([]byte, p.cfg.ReadBuffer)
	)

	for {
		select {
		case <-p.closing:
			return
		default:
		}

		if !connected {
			if err := p.link.Open(); err != nil {
				failures++
				if failures%p.cfg.FailureStep == 0 {
					if backoff < p.cfg.MaxBackoff {
						backoff *= 2
					} else {
						backoff = p.cfg.InitialBackoff
					}
				}
				// Log every failure at first, then only every
				// step-th so a dead port does not flood the log.
				if failures <= p.cfg.FailureStep || failures%p.cfg.FailureStep == 0 {
					log.Printf("poller: %d failed connections to station: %v, waiting %s",
						failures, err, backoff)
				}
				p.link.MarkBackoff()
				if !p.wait(backoff) {
					return
				}
				continue
			}
			log.Println("poller: connected to station")
			connected = true
			failures = 0
			backoff = p.cfg.InitialBackoff
			rest = rest[:0]
		}

		n, err := p.link.Read(buf)
		if err != nil && !errors.Is(err, serial.ErrReadTimeout) {
			log.Printf("poller: read failed: %v", err)
			p.link.Close()
			connected = false
			continue
		}

		if n > 0 {
			rest = append(rest, buf[:n]...)
			frames, remainder := meteo.ExtractFrames(rest)
			for _, f := range frames {
				s, perr := meteo.ParseSentence(f)
				if perr != nil {
					if !errors.Is(perr, meteo.ErrEmptyFrame) {
						framingDrops++
						if framingDrops == 1 || framingDrops%100 == 0 {
							log.Printf("poller: dropped %d malformed frames, last: %v", framingDrops, perr)
						}
					}
					continue
				}
				if r, ok := p.asm.Feed(s); ok {
					p.emit(r)
				}
			}
			rest = append(rest[:0], remainder...)
		}

		if r, ok := p.asm.FlushIdle(time.Now()); ok {
			p.emit(r)
		}

		if p.cfg.IdlePause > 0 {
			if !p.wait(p.cfg.IdlePause) {
				return
			}
		}
	}
}

// emit hands the report to every subscriber, in order.
func (p *Poller) emit(r meteo.Report) {
	p.mu.Lock()
	subs := p.subs
	p.mu.Unlock()

	for _, fn := range subs {
		fn(r)
	}
}

// wait sleeps for d but returns false immediately when the poller is
// stopping.
func (p *Poller) wait(d time.Duration) bool {
	select {
	case <-p.closing:
		return false
	case <-time.After(d):
		return true
	}
}
