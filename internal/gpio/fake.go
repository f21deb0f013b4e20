package gpio

import (
	"sync"
	"time"
)

// Write is one recorded output write.
type Write struct {
	At   time.Duration // virtual time since the fake was created
	Line Line
	Duty uint8 // MaxDuty for SetLevel(high), 0 for SetLevel(low)
	PWM  bool  // true for SetDuty, false for SetLevel
}

// FakeOutput is a test double that records every write on a virtual clock.
// Sleep advances the virtual clock instead of blocking.
type FakeOutput struct {
	mu     sync.Mutex
	writes []Write
	levels map[Line]uint8
	now    time.Duration

	// Closed tracks if Close was called
	Closed bool

	// WriteError, if set, is returned by SetDuty and SetLevel (the write is still recorded).
	WriteError error
}

// NewFakeOutput creates a FakeOutput with both lines low.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{levels: map[Line]uint8{Out1: 0, Out2: 0}}
}

// SetDuty records a PWM write.
func (f *FakeOutput) SetDuty(line Line, duty uint8) error {
	f.record(Write{Line: line, Duty: duty, PWM: true})
	return f.WriteError
}

// SetLevel records a level write.
func (f *FakeOutput) SetLevel(line Line, high bool) error {
	var duty uint8
	if high {
		duty = MaxDuty
	}
	f.record(Write{Line: line, Duty: duty})
	return f.WriteError
}

func (f *FakeOutput) record(w Write) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.At = f.now
	f.writes = append(f.writes, w)
	f.levels[w.Line] = w.Duty
}

// Sleep advances the virtual clock.
func (f *FakeOutput) Sleep(d time.Duration) {
	f.mu.Lock()
	f.now += d
	f.mu.Unlock()
}

// Elapsed returns the virtual time consumed so far.
func (f *FakeOutput) Elapsed() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Writes returns a copy of all recorded writes.
func (f *FakeOutput) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Write, len(f.writes))
	copy(out, f.writes)
	return out
}

// Level returns the last duty written to the line.
func (f *FakeOutput) Level(line Line) uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[line]
}

// Close drives both lines low and marks the output as closed.
func (f *FakeOutput) Close() error {
	f.record(Write{Line: Out1})
	f.record(Write{Line: Out2})
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Reset forgets recorded writes. Levels and the virtual clock are kept.
func (f *FakeOutput) Reset() {
	f.mu.Lock()
	f.writes = nil
	f.Closed = false
	f.mu.Unlock()
}
