package control

import (
	"sync/atomic"

	"github.com/KevinKickass/VibeChessCore/internal/protocol"
)

// Source identifies the transport a line arrived on.
type Source string

const (
	SourceSerial   Source = "serial"
	SourceWireless Source = "wireless"
	SourceREST     Source = "rest"
)

// Line is one raw input line.
type Line struct {
	Text   string
	Source Source
}

// Inbox is the bounded queue between transports and the control loop.
// Transports never block on it.
type Inbox struct {
	lines chan Line
}

func NewInbox(size int) *Inbox {
	if size < 1 {
		size = 1
	}
	return &Inbox{lines: make(chan Line, size)}
}

// TryPush queues a line and reports false when the inbox is full.
func (in *Inbox) TryPush(line Line) bool {
	select {
	case in.lines <- line:
		return true
	default:
		return false
	}
}

// Len returns the number of queued lines.
func (in *Inbox) Len() int { return len(in.lines) }

// AbortLatch is set by transports when an operator stop arrives and polled by
// the servo every tick.
type AbortLatch struct {
	set atomic.Bool
}

func (a *AbortLatch) Trigger()             { a.set.Store(true) }
func (a *AbortLatch) Reset()               { a.set.Store(false) }
func (a *AbortLatch) AbortRequested() bool { return a.set.Load() }

// Intake is the entry point shared by all transports.
type Intake struct {
	inbox *Inbox
	abort *AbortLatch
}

func NewIntake(inbox *Inbox, abort *AbortLatch) *Intake {
	return &Intake{inbox: inbox, abort: abort}
}

// Submit queues a line. A stop on the diagnostic port trips the abort latch
// before queueing, so a move blocking the loop sees it on its next tick.
// Returns false when the inbox is full.
func (i *Intake) Submit(line Line) bool {
	if line.Source == SourceSerial && protocol.IsStop(line.Text) {
		i.abort.Trigger()
	}
	return i.inbox.TryPush(line)
}
