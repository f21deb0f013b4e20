package logic

import "fmt"

// Normalize folds any minute value into [0, MinutesPerDay).
func Normalize(m int) int {
	m %= MinutesPerDay
	if m < 0 {
		m += MinutesPerDay
	}
	return m
}

// FormatMinute renders a minute of day as HH:MM.
func FormatMinute(m int) string {
	m = Normalize(m)
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// Tracker holds the minute of day the physical clock is believed to display.
// The raw position may be negative for the remainder of a day after a rebase;
// Get always returns the normalized minute.
// Not safe for concurrent use: the scheduler owns it.
type Tracker struct {
	pos int
}

// NewTracker creates a Tracker showing the given minute (normalized).
func NewTracker(minute int) *Tracker {
	return &Tracker{pos: Normalize(minute)}
}

// Advance records one successful pulse.
func (t *Tracker) Advance() {
	t.pos++
	if t.pos >= MinutesPerDay {
		t.pos -= MinutesPerDay
	}
}

// Set is the operator override. Out-of-range values are folded, not rejected.
func (t *Tracker) Set(hour, minute int) {
	t.pos = Normalize(hour*60 + minute)
}

// Get returns the displayed minute in [0, MinutesPerDay).
func (t *Tracker) Get() int {
	return Normalize(t.pos)
}

// Position returns the raw position used by the decision table.
func (t *Tracker) Position() int {
	return t.pos
}

// Rebase moves the raw position back by one day without changing the displayed minute.
func (t *Tracker) Rebase() {
	t.pos -= MinutesPerDay
}

// NextParity returns the parity of the minute shown after the next pulse.
func (t *Tracker) NextParity() Parity {
	return Parity(Normalize(t.pos+1) % 2)
}
