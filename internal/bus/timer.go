package bus

// TimerTickClocks is the batching interval: timers are advanced once every
// 128 master cycles rather than per cycle.
const TimerTickClocks = 128

// Timer is one of the four 16-bit counters. Fields are exported for the gob
// save-state envelope; everything goes through the Bus.
type Timer struct {
	Count     uint16
	CurCycle  uint16
	PeriodPow uint16
	Reload    uint16
	IRQ       bool
	Cascading bool
	Enabled   bool
}

func (t *Timer) setPeriod(bits byte) {
	switch bits {
	case 0:
		t.PeriodPow = 0
	case 1:
		t.PeriodPow = 6
	case 2:
		t.PeriodPow = 8
	default:
		t.PeriodPow = 10
	}
}

// setEnabled loads the reload value on the rising edge.
func (t *Timer) setEnabled(enable bool) {
	if enable && !t.Enabled {
		t.Count = t.Reload
	}
	t.Enabled = enable
}

// tick advances the timer by one batching interval (or by accumulated cascade
// pulses, which bypass the prescaler) and reports whether it overflowed.
func (t *Timer) tick() bool {
	var inc uint16
	if t.Cascading {
		inc = t.CurCycle
		t.CurCycle = 0
	} else {
		t.CurCycle += TimerTickClocks
		period := uint16(1) << t.PeriodPow
		if t.CurCycle < period {
			return false
		}
		inc = t.CurCycle >> t.PeriodPow
		t.CurCycle &= period - 1
	}
	if inc == 0 {
		return false
	}
	old := t.Count
	t.Count += inc
	if t.Count >= old {
		return false
	}
	t.Count += t.Reload
	return true
}

// cascade delivers one predecessor-overflow pulse.
func (t *Timer) cascade() {
	t.CurCycle++
}

// TickTimers advances all enabled timers by one batching interval, feeding
// FIFO latches and interrupts from overflows and cascading into successors.
func (b *Bus) TickTimers() {
	if !b.anyTimerActive {
		return
	}
	for i := range b.timers {
		t := &b.timers[i]
		if !t.Enabled || !t.tick() {
			continue
		}
		b.apu.TimerOverflow(i)
		if t.IRQ {
			b.RaiseIRQ(1 << (3 + i))
		}
		if i != 3 && b.timers[i+1].Cascading {
			b.timers[i+1].cascade()
		}
	}
}
