package transport

import (
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory printer.Transport for tests: Written captures every
// WriteBytes call, lines queued with FeedLine are returned by ReadLine in
// order, and Sleeps records
// every requested delay without actually blocking, so resend-path timing
// can be asserted without a real clock.
type Fake struct {
	mu sync.Mutex

	connected bool
	failOpen  bool

	Written [][]byte
	lines   []string
	lineIdx int
	closed  bool

	Sleeps []time.Duration
}

// NewFake returns a Fake that reports connected once Connect is called.
func NewFake() *Fake {
	return &Fake{}
}

// FeedLine appends a line for a future ReadLine call to return.
func (f *Fake) FeedLine(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, line)
}

// FailNextConnect makes the next Connect call return an error instead of
// succeeding, simulating a port that is plugged in but not yet ready.
func (f *Fake) FailNextConnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOpen = true
}

func (f *Fake) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOpen {
		f.failOpen = false
		return fmt.Errorf("transport: fake connect failed")
	}
	f.connected = true
	f.closed = false
	return nil
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) WriteBytes(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return fmt.Errorf("transport: fake not connected")
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	f.Written = append(f.Written, cp)
	return nil
}

func (f *Fake) ReadLine() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lineIdx >= len(f.lines) {
		return "", fmt.Errorf("transport: fake has no more lines")
	}
	line := f.lines[f.lineIdx]
	f.lineIdx++
	return line, nil
}

func (f *Fake) Sleep(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sleeps = append(f.Sleeps, d)
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closed = true
	return nil
}
