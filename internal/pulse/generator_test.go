package pulse

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/nebenuhr/internal/gpio"
	"github.com/sweeney/nebenuhr/internal/logic"
)

func newTestGenerator() (*Generator, *gpio.FakeOutput) {
	out := gpio.NewFakeOutput()
	return NewGenerator(out, DefaultConfig(), out.Sleep, zerolog.Nop()), out
}

func TestEmitOddPulseWaveform(t *testing.T) {
	g, out := newTestGenerator()

	g.Emit(logic.ParityOdd)

	writes := out.Writes()
	// idle high, 9 ramp steps, 2 release writes
	if len(writes) != 12 {
		t.Fatalf("expected 12 writes, got %d: %+v", len(writes), writes)
	}

	if writes[0] != (gpio.Write{At: 0, Line: gpio.Out1, Duty: gpio.MaxDuty}) {
		t.Errorf("idle line write: got %+v", writes[0])
	}

	want := []uint8{255, 251, 247, 239, 223, 191, 127, 63, 0}
	for i, duty := range want {
		w := writes[1+i]
		if w.Line != gpio.Out2 || !w.PWM {
			t.Errorf("step %d: expected PWM on OUT2, got %+v", i, w)
		}
		if w.Duty != duty {
			t.Errorf("step %d: duty %d, want %d", i, w.Duty, duty)
		}
		if w.At != time.Duration(i)*30*time.Millisecond {
			t.Errorf("step %d: at %v, want %v", i, w.At, time.Duration(i)*30*time.Millisecond)
		}
	}

	release := writes[10:]
	for _, w := range release {
		if w.Duty != 0 || w.PWM {
			t.Errorf("release write: got %+v", w)
		}
		if w.At != 470*time.Millisecond {
			t.Errorf("release at %v, want 470ms", w.At)
		}
	}
	if out.Level(gpio.Out1) != 0 || out.Level(gpio.Out2) != 0 {
		t.Error("both lines should be low after the pulse")
	}
	if out.Elapsed() != 470*time.Millisecond {
		t.Errorf("pulse duration: got %v, want 470ms", out.Elapsed())
	}
}

func TestEmitEvenPulseUsesOut1(t *testing.T) {
	g, out := newTestGenerator()

	g.Emit(logic.ParityEven)

	writes := out.Writes()
	if writes[0].Line != gpio.Out2 || writes[0].Duty != gpio.MaxDuty {
		t.Errorf("expected OUT2 held high, got %+v", writes[0])
	}
	for _, w := range writes[1:10] {
		if w.Line != gpio.Out1 {
			t.Errorf("expected ramp on OUT1, got %+v", w)
		}
	}
	if g.LastLine() != gpio.Out1 {
		t.Errorf("last line: got %s, want OUT1", g.LastLine())
	}
}

func TestIdleLineHeldHighThroughoutRamp(t *testing.T) {
	g, out := newTestGenerator()

	g.Emit(logic.ParityOdd)

	for _, w := range out.Writes()[1:10] {
		if w.Line == gpio.Out1 {
			t.Fatalf("idle line written during ramp: %+v", w)
		}
	}
}

func TestConsecutivePulsesAlternate(t *testing.T) {
	g, _ := newTestGenerator()
	tr := logic.NewTracker(600)

	var lines []gpio.Line
	for i := 0; i < 4; i++ {
		g.Emit(tr.NextParity())
		tr.Advance()
		lines = append(lines, g.LastLine())
	}
	for i := 1; i < len(lines); i++ {
		if lines[i] == lines[i-1] {
			t.Errorf("pulse %d reused %s", i, lines[i])
		}
	}
	if g.Count() != 4 {
		t.Errorf("count: got %d, want 4", g.Count())
	}
}

func TestPulsesDoNotOverlap(t *testing.T) {
	g, out := newTestGenerator()

	g.Emit(logic.ParityOdd)
	g.Emit(logic.ParityEven)

	writes := out.Writes()
	second := writes[12]
	if second.At < 470*time.Millisecond {
		t.Errorf("second pulse started at %v, before the first ended", second.At)
	}
}

func TestEmitIgnoresWriteErrors(t *testing.T) {
	g, out := newTestGenerator()
	out.WriteError = errors.New("bus error")

	g.Emit(logic.ParityEven)

	if g.Count() != 1 {
		t.Errorf("pulse should be counted despite write errors, got %d", g.Count())
	}
	if out.Elapsed() != 470*time.Millisecond {
		t.Errorf("waveform timing should be unchanged, got %v", out.Elapsed())
	}
}

func TestConfigDuration(t *testing.T) {
	if got := DefaultConfig().Duration(); got != 470*time.Millisecond {
		t.Errorf("default duration: got %v, want 470ms", got)
	}
	c := Config{Ramp: []uint8{0, 255}, StepDelay: 50 * time.Millisecond, Hold: 500 * time.Millisecond}
	if got := c.Duration(); got != 600*time.Millisecond {
		t.Errorf("custom duration: got %v, want 600ms", got)
	}
}

func TestDefaultConfigCopiesRamp(t *testing.T) {
	c := DefaultConfig()
	c.Ramp[0] = 99
	if DefaultRamp[0] != 0 {
		t.Error("DefaultConfig must not alias DefaultRamp")
	}
}
