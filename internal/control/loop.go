package control

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/VibeChessCore/internal/dispatch"
	"github.com/KevinKickass/VibeChessCore/internal/machine"
	"github.com/KevinKickass/VibeChessCore/internal/protocol"
	"github.com/KevinKickass/VibeChessCore/internal/servo"
	"go.uber.org/zap"
)

// Config tunes the control loop.
type Config struct {
	HeartbeatInterval time.Duration
	// IdleInterval is the wait per iteration when the inbox is empty.
	IdleInterval time.Duration
}

// Loop is the single goroutine that owns the controller. It handles at most
// one line per iteration and blocks inside the dispatcher for moves.
type Loop struct {
	cfg        Config
	inbox      *Inbox
	abort      *AbortLatch
	dispatcher *dispatch.Dispatcher
	ctrl       *machine.Controller
	clock      servo.Clock
	logger     *zap.Logger

	lastHeartbeat time.Time

	mu       sync.RWMutex
	snapshot machine.MachineStatus
}

func NewLoop(cfg Config, inbox *Inbox, abort *AbortLatch, d *dispatch.Dispatcher, ctrl *machine.Controller, clock servo.Clock, logger *zap.Logger) *Loop {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = 10 * time.Millisecond
	}
	if clock == nil {
		clock = servo.WallClock
	}
	return &Loop{
		cfg:        cfg,
		inbox:      inbox,
		abort:      abort,
		dispatcher: d,
		ctrl:       ctrl,
		clock:      clock,
		logger:     logger,
	}
}

// Run loops until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("Control loop started",
		zap.Duration("heartbeat", l.cfg.HeartbeatInterval))
	l.heartbeat(l.clock.Now())
	l.publish(ctx)

	idle := time.NewTicker(l.cfg.IdleInterval)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Control loop stopped")
			return ctx.Err()
		case line := <-l.inbox.lines:
			l.Step(ctx, line)
		case <-idle.C:
			l.Idle(ctx)
		}
	}
}

// Step handles one input line and then runs the idle work.
func (l *Loop) Step(ctx context.Context, line Line) {
	text := strings.TrimSpace(line.Text)
	if text == "" {
		return
	}

	// A stop observed while idle must not cancel the next move.
	if !protocol.IsStop(text) {
		l.abort.Reset()
	}

	l.logger.Debug("Line received", zap.String("source", string(line.Source)), zap.String("line", text))
	if line.Source == SourceSerial {
		l.dispatcher.HandleDiagnostic(ctx, text)
	} else {
		l.dispatcher.Dispatch(ctx, text)
	}
	l.Idle(ctx)
}

// Idle advances the stage cycle, emits the heartbeat when due and refreshes
// the published status.
func (l *Loop) Idle(ctx context.Context) {
	now := l.clock.Now()
	abort := l.abort.AbortRequested()
	l.dispatcher.Tick(ctx, now, abort)
	if abort && !l.dispatcher.Busy() {
		l.abort.Reset()
	}
	if now.Sub(l.lastHeartbeat) >= l.cfg.HeartbeatInterval {
		l.heartbeat(now)
	}
	l.publish(ctx)
}

func (l *Loop) heartbeat(now time.Time) {
	l.lastHeartbeat = now
	l.dispatcher.Emit(dispatch.Status("ready"))
}

func (l *Loop) publish(ctx context.Context) {
	st := l.ctrl.Status(ctx)
	st.Stage = l.dispatcher.Stage()

	l.mu.Lock()
	l.snapshot = st
	l.mu.Unlock()
}

// Status returns the last published snapshot. Safe for any goroutine.
func (l *Loop) Status() machine.MachineStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot
}
