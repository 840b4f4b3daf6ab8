package main

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// syncBuffer guards a bytes.Buffer shared with the printer goroutine
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressPrinter(t *testing.T) {
	// GOAL: Verify phases are shown with the prefix and a stop phase clears the line
	//
	// TEST SCENARIO: Start → switch phase → stop phase → line cleared, later Stop is a no-op

	out := &syncBuffer{}
	p := NewProgressPrinter(out, "Starting peripheral", "Starting", "Running")
	p.Start()

	cb := p.Callback()
	cb("Publishing services")
	time.Sleep(3 * progressUpdateInterval)
	cb("Running")
	p.Stop()

	got := out.String()
	assert.Contains(t, got, "\rStarting peripheral (Starting...)")
	assert.Contains(t, got, "Publishing services")
	assert.True(t, bytes.HasSuffix([]byte(got), []byte(clearLineSequence)), "stop phase MUST clear the line")
}

func TestProgressPrinter_StartTwicePanics(t *testing.T) {
	p := NewProgressPrinter(&syncBuffer{}, "x", "a")
	p.Start()
	defer p.Stop()

	assert.Panics(t, p.Start)
}
