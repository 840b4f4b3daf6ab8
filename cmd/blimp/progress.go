package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter keeps one status line on out showing the current startup phase and
// the seconds spent so far:
//
//	Starting peripheral "thermo" (Publishing services 2s)
//
// It is single-use: Start once, then Stop (directly or by reaching a stop phase).
type ProgressPrinter struct {
	out        io.Writer
	prefix     string
	phase      atomic.Value // string
	stopPhases map[string]bool

	started  atomic.Bool
	stopOnce sync.Once
	quit     chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a printer starting in phase; reaching any of stopPhases
// through Callback stops it.
func NewProgressPrinter(out io.Writer, prefix string, phase string, stopPhases ...string) *ProgressPrinter {
	p := &ProgressPrinter{
		out:        out,
		prefix:     prefix,
		stopPhases: make(map[string]bool, len(stopPhases)),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, s := range stopPhases {
		p.stopPhases[s] = true
	}
	p.phase.Store(phase)
	return p
}

// Start draws the line and keeps refreshing it until Stop.
// Panics if called more than once.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	begin := time.Now()
	p.draw(p.currentPhase(), 0)

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.quit:
				return
			case <-ticker.C:
				phase := p.currentPhase()
				if p.stopPhases[phase] {
					return
				}
				p.draw(phase, int(time.Since(begin).Seconds()))
			}
		}
	}()
}

func (p *ProgressPrinter) currentPhase() string {
	return p.phase.Load().(string)
}

func (p *ProgressPrinter) draw(phase string, seconds int) {
	if seconds > 0 {
		_, _ = fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
		return
	}
	_, _ = fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
}

// Callback returns a phase listener for bridge.RunPeripheralBridge. Safe for concurrent use.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if p.stopPhases[phase] {
			p.Stop()
		}
	}
}

// Stop ends the refresh loop and clears the line. Later calls do nothing.
func (p *ProgressPrinter) Stop() {
	if !p.started.Load() {
		return
	}
	p.stopOnce.Do(func() {
		close(p.quit)
		<-p.done
		_, _ = fmt.Fprint(p.out, clearLineSequence)
	})
}
