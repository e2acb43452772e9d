package latency

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/1ureka/worldlink/internal/protocol"
)

// DefaultInterval is the probe period.
const DefaultInterval = 5 * time.Second

// ProberParams configures a Prober.
type ProberParams struct {
	Clock    clock.Clock   // defaults to the real clock
	Interval time.Duration // defaults to DefaultInterval
	Window   *Window       // samples land here; a fresh one is made when nil
	PlayerID func() string // id stamped on outgoing probes
	Emit     func(protocol.Ping)
	Logger   *zap.Logger
}

// Prober periodically emits a Ping carrying a monotonic timestamp and turns
// the echoed timestamp into an RTT sample.
type Prober struct {
	clock    clock.Clock
	interval time.Duration
	window   *Window
	playerID func() string
	emit     func(protocol.Ping)
	epoch    time.Time
	log      *zap.Logger

	mu     sync.Mutex
	ticker *clock.Ticker
	stop   chan struct{}
}

// NewProber creates a stopped prober.
func NewProber(params ProberParams) *Prober {
	c := params.Clock
	if c == nil {
		c = clock.New()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	w := params.Window
	if w == nil {
		w = &Window{}
	}
	playerID := params.PlayerID
	if playerID == nil {
		playerID = func() string { return "" }
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Prober{
		clock:    c,
		interval: interval,
		window:   w,
		playerID: playerID,
		emit:     params.Emit,
		epoch:    c.Now(),
		log:      logger.With(zap.String("component", "latency")),
	}
}

// Start begins probing. Starting a running prober resets its interval
// instead of adding a second timer.
func (p *Prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	ticker := p.clock.Ticker(p.interval)
	stop := make(chan struct{})
	p.ticker = ticker
	p.stop = stop

	go func() {
		for {
			select {
			case <-ticker.C:
				p.Probe()
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts probing. Safe to call when not running.
func (p *Prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Running reports whether a probe timer is active.
func (p *Prober) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticker != nil
}

func (p *Prober) stopLocked() {
	if p.ticker == nil {
		return
	}
	p.ticker.Stop()
	close(p.stop)
	p.ticker = nil
	p.stop = nil
}

// Now returns the monotonic probe timestamp in nanoseconds since the prober
// was created.
func (p *Prober) Now() int64 {
	return int64(p.clock.Since(p.epoch))
}

// Probe emits one Ping immediately.
func (p *Prober) Probe() {
	if p.emit == nil {
		return
	}
	p.emit(protocol.Ping{
		PlayerID:  p.playerID(),
		Timestamp: p.Now(),
		Ping:      Millis(p.window.Mean()),
	})
}

// HandleEcho records the RTT for an echoed timestamp and returns the new
// rolling mean. Timestamps from the future are ignored.
func (p *Prober) HandleEcho(timestamp int64) (time.Duration, bool) {
	rtt := time.Duration(p.Now() - timestamp)
	if rtt < 0 {
		p.log.Debug("Ignoring echo with future timestamp", zap.Int64("timestamp", timestamp))
		return p.window.Mean(), false
	}
	return p.window.Push(rtt), true
}

// Ping returns the current rolling mean.
func (p *Prober) Ping() time.Duration {
	return p.window.Mean()
}
