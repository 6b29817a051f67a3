// Package bridge connects the hardware scanner stream to the scan queue and
// exposes the start/stop toggle operators use to manage it.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/logging"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/metrics"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/queue"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/scan"
)

// Config selects the hardware stream.
type Config struct {
	// Port is a serial device path or tcp://host:port.
	Port   string
	Baud   int
	Source scan.Source
}

// Opener opens the stream described by cfg.
type Opener func(ctx context.Context, cfg Config) (io.ReadCloser, error)

// Publisher accepts framed scans.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Result is the reply to every toggle request.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Running bool   `json:"running"`
}

// Open is the default Opener.
func Open(ctx context.Context, cfg Config) (io.ReadCloser, error) {
	if addr, ok := strings.CutPrefix(cfg.Port, "tcp://"); ok {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	baud := cfg.Baud
	if baud <= 0 {
		baud = 9600
	}
	return serial.Open(cfg.Port, &serial.Mode{BaudRate: baud})
}

// Controller owns at most one running stream at a time.
type Controller struct {
	cfg     Config
	open    Opener
	pub     Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	running bool
	stream  io.ReadCloser
	cancel  context.CancelFunc
	done    chan struct{}
	status  string
}

// NewController creates a stopped controller. A nil open uses Open.
func NewController(cfg Config, open Opener, pub Publisher, logger *slog.Logger, m *metrics.Metrics) *Controller {
	if open == nil {
		open = Open
	}
	if cfg.Source == "" {
		cfg.Source = scan.SourceSerial
	}
	return &Controller{
		cfg:     cfg,
		open:    open,
		pub:     pub,
		logger:  logging.OrDiscard(logger),
		metrics: m,
		status:  "Bridge stopped",
	}
}

// Start opens the stream and begins publishing tokens. The stream outlives
// ctx; only Stop or a disconnect ends it.
func (c *Controller) Start(ctx context.Context) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return Result{Success: false, Message: "Bridge already running", Running: true}
	}
	if c.cfg.Port == "" {
		return Result{Success: false, Message: "No bridge port configured"}
	}

	stream, err := c.open(ctx, c.cfg)
	if err != nil {
		c.status = fmt.Sprintf("Could not open %s: %v", c.cfg.Port, err)
		c.logger.WarnContext(ctx, "bridge open failed", "port", c.cfg.Port, "error", err)
		return Result{Success: false, Message: c.status}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.running = true
	c.stream = stream
	c.cancel = cancel
	c.done = make(chan struct{})
	c.status = fmt.Sprintf("Bridge connected to %s", c.cfg.Port)
	go c.run(runCtx, stream, c.done)

	c.logger.InfoContext(ctx, "bridge started", "port", c.cfg.Port, "source", c.cfg.Source)
	return Result{Success: true, Message: c.status, Running: true}
}

// Stop closes the stream and waits for the reader to exit.
func (c *Controller) Stop() Result {
	c.mu.Lock()
	if !c.running {
		msg := c.status
		c.mu.Unlock()
		return Result{Success: false, Message: "Bridge is not running: " + msg}
	}
	c.cancel()
	_ = c.stream.Close()
	done := c.done
	c.mu.Unlock()

	<-done

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = "Bridge stopped"
	return Result{Success: true, Message: c.status}
}

// Status reports the current state.
func (c *Controller) Status() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Result{Success: true, Message: c.status, Running: c.running}
}

// Done is closed when the most recently started stream ends. It is nil
// before the first Start.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Controller) run(ctx context.Context, stream io.ReadCloser, done chan struct{}) {
	defer close(done)

	var f scan.Framer
	err := f.Run(ctx, stream, func(token string) {
		evt := scan.Event{Token: token, Source: c.cfg.Source, ObservedAt: time.Now().UTC()}
		msg, err := queue.ScanMessage(evt)
		if err == nil {
			err = c.pub.Publish(ctx, msg)
		}
		if err != nil {
			c.logger.ErrorContext(ctx, "publish scan failed", "error", err)
			return
		}
		c.metrics.TokenFramed(string(c.cfg.Source))
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	_ = stream.Close()
	if ctx.Err() != nil {
		return
	}
	if errors.Is(err, scan.ErrSourceDisconnected) {
		c.metrics.BridgeDisconnected()
	}
	c.status = fmt.Sprintf("Hardware bridge disconnected: %v. Start the bridge to reconnect", err)
	c.logger.Warn("bridge stream ended", "port", c.cfg.Port, "error", err)
}
