package serial

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/KevinKickass/VibeChessCore/internal/config"
	"github.com/KevinKickass/VibeChessCore/internal/control"
	"github.com/KevinKickass/VibeChessCore/internal/dispatch"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

// maxLine bounds a single input line. Longer lines are dropped and answered
// with a bad_format error; reading continues with the next line.
const maxLine = 512

var ErrClosed = errors.New("serial port closed")

// Port is the diagnostic line transport. Lines read from the device go to the
// control intake; acknowledgements are written back newline-terminated.
type Port struct {
	name   string
	rw     io.ReadWriteCloser
	intake *control.Intake
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Open opens the configured device.
func Open(cfg config.SerialConfig, intake *control.Intake, logger *zap.Logger) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
	}
	p, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Port, err)
	}
	logger.Info("Serial port opened",
		zap.String("port", cfg.Port),
		zap.Int("baud", cfg.BaudRate))
	return New(cfg.Port, p, intake, logger), nil
}

// New wraps an already open stream.
func New(name string, rw io.ReadWriteCloser, intake *control.Intake, logger *zap.Logger) *Port {
	return &Port{
		name:   name,
		rw:     rw,
		intake: intake,
		logger: logger.With(zap.String("port", name)),
	}
}

// Run reads lines until the stream ends or ctx is cancelled. Cancelling ctx
// closes the port. A clean end of stream returns nil.
func (p *Port) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = p.Close() })
	defer stop()

	r := bufio.NewReaderSize(p.rw, maxLine)
	oversized := false

	for {
		chunk, err := r.ReadSlice('\n')
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			// Rest der Zeile verwerfen
			oversized = true
			continue
		case oversized && err == nil:
			oversized = false
			p.logger.Warn("Line too long, dropped", zap.Int("max", maxLine))
			_ = p.Send(dispatch.BadFormatError().String())
			continue
		}

		if !oversized && (err == nil || errors.Is(err, io.EOF)) {
			p.submit(string(chunk))
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read %s: %w", p.name, err)
		}
	}
}

func (p *Port) submit(raw string) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return
	}
	if !p.intake.Submit(control.Line{Text: line, Source: control.SourceSerial}) {
		p.logger.Warn("Inbox full, line rejected", zap.String("line", line))
		_ = p.Send(dispatch.BusyError().String())
	}
}

// Send implements dispatch.Channel.
func (p *Port) Send(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if _, err := io.WriteString(p.rw, line+"\n"); err != nil {
		return fmt.Errorf("write %s: %w", p.name, err)
	}
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.logger.Info("Serial port closed")
	return p.rw.Close()
}
