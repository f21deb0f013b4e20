package gpio

import "time"

// valueSetter is the subset of a gpiocdev line used by softPWM.
type valueSetter interface {
	SetValue(int) error
}

type pwmMsg struct {
	duty uint8
	stop bool
}

// softPWM toggles a line from a goroutine. The goroutine is the only
// writer of the line; duty 0 and MaxDuty park it on a steady level.
type softPWM struct {
	line   valueSetter
	period time.Duration
	c      chan pwmMsg
	done   chan struct{}
	onErr  func(error)
}

func newSoftPWM(line valueSetter, period time.Duration, onErr func(error)) *softPWM {
	p := &softPWM{
		line:   line,
		period: period,
		c:      make(chan pwmMsg, 1),
		done:   make(chan struct{}),
		onErr:  onErr,
	}
	go p.run()
	return p
}

// Set changes the duty cycle. The change takes place at the end of the current period.
func (p *softPWM) Set(duty uint8) {
	p.c <- pwmMsg{duty: duty}
}

// Close stops the goroutine, leaving the line at its last level.
func (p *softPWM) Close() {
	p.c <- pwmMsg{stop: true}
	<-p.done
}

func (p *softPWM) run() {
	defer close(p.done)

	level := -1
	set := func(v int) {
		if v == level {
			return
		}
		if err := p.line.SetValue(v); err != nil && p.onErr != nil {
			p.onErr(err)
		}
		level = v
	}

	var duty uint8
	for {
		if duty == 0 || duty == MaxDuty {
			if duty == 0 {
				set(0)
			} else {
				set(1)
			}
			m := <-p.c
			if m.stop {
				return
			}
			duty = m.duty
			continue
		}

		on := p.period * time.Duration(duty) / MaxDuty
		set(1)
		time.Sleep(on)
		set(0)
		time.Sleep(p.period - on)

		// Check for new parameters after each cycle.
		select {
		case m := <-p.c:
			if m.stop {
				return
			}
			duty = m.duty
		default:
		}
	}
}
