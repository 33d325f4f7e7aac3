// Package console prints notifications as one human readable line each.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/ringchan"
	"golang.org/x/term"
)

// ColorMode selects when output is colorized.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"

	DefaultBuffer = 256
	timeLayout    = "15:04:05.000"
)

// Printer is a dispatch.Observer writing to an io.Writer. Lines are queued in a
// ring so a blocked terminal drops the oldest lines instead of stalling
// delivery.
type Printer struct {
	w      io.Writer
	logger *logrus.Logger
	ring   *ringchan.Ring[button.Notification]
	done   chan struct{}
	once   sync.Once

	event, lifecycle, radio, failure, dim *color.Color
}

// New starts a printer writing to w.
func New(w io.Writer, mode ColorMode, logger *logrus.Logger) *Printer {
	if logger == nil {
		logger = logrus.New()
	}
	p := &Printer{
		w:         w,
		logger:    logger,
		ring:      ringchan.New[button.Notification](DefaultBuffer),
		done:      make(chan struct{}),
		event:     color.New(color.FgGreen, color.Bold),
		lifecycle: color.New(color.FgCyan),
		radio:     color.New(color.FgYellow),
		failure:   color.New(color.FgRed),
		dim:       color.New(color.Faint),
	}
	enable := useColor(w, mode)
	for _, c := range []*color.Color{p.event, p.lifecycle, p.radio, p.failure, p.dim} {
		if enable {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	go p.drain()
	return p
}

func useColor(w io.Writer, mode ColorMode) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	f, ok := w.(*os.File)
	if !ok || color.NoColor {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Notify queues n for printing.
func (p *Printer) Notify(n button.Notification) {
	if p.ring.Push(n) {
		p.logger.Debug("Console lagging, dropped oldest line")
	}
}

// Close flushes queued lines and stops the printer.
func (p *Printer) Close() {
	p.once.Do(p.ring.Close)
	<-p.done
}

func (p *Printer) drain() {
	defer close(p.done)
	for n := range p.ring.C() {
		if _, err := io.WriteString(p.w, p.Format(n)+"\n"); err != nil {
			p.logger.WithError(err).Debug("Console write failed")
		}
	}
}

// Format renders n without a trailing newline.
func (p *Printer) Format(n button.Notification) string {
	ts := p.dim.Sprint(n.At.Format(timeLayout))

	switch n.Kind {
	case button.Interaction:
		line := fmt.Sprintf("%s %s %s", ts, subject(n), p.event.Sprint(n.Event.Kind.String()))
		if n.Event.Queued {
			line += p.dim.Sprintf(" (queued, %ds ago)", n.Event.Age)
		}
		return line
	case button.DidUpdateRSSI:
		if n.Err != nil {
			return fmt.Sprintf("%s %s %s", ts, subject(n), p.failure.Sprintf("rssi failed: %v", n.Err))
		}
		return fmt.Sprintf("%s %s rssi %d dBm", ts, subject(n), n.RSSI)
	case button.RadioStateChanged:
		st := p.radio
		if n.Radio.IsLost() {
			st = p.failure
		}
		return fmt.Sprintf("%s radio %s", ts, st.Sprint(n.Radio.String()))
	case button.DidRestoreState:
		return fmt.Sprintf("%s %s", ts, p.lifecycle.Sprint("state restored"))
	}

	if n.Err != nil {
		return fmt.Sprintf("%s %s %s", ts, subject(n), p.failure.Sprintf("%s: %v", n.Kind, n.Err))
	}
	return fmt.Sprintf("%s %s %s", ts, subject(n), p.lifecycle.Sprint(n.Kind.String()))
}

func subject(n button.Notification) string {
	var zero button.ID
	if n.Button.ID != zero {
		return n.Button.DisplayName()
	}
	return n.ButtonID.String()
}
