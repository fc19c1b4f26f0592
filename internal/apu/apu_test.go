package apu

import (
	"math"
	"testing"
)

// ioRegs is a bare register file for feeding the mixer.
type ioRegs struct {
	mem [0x400]byte
}

func (r *ioRegs) Byte(off uint32) byte { return r.mem[off] }
func (r *ioRegs) Half(off uint32) uint16 {
	return uint16(r.mem[off]) | uint16(r.mem[off+1])<<8
}
func (r *ioRegs) setHalf(off uint32, v uint16) {
	r.mem[off] = byte(v)
	r.mem[off+1] = byte(v >> 8)
}

func newEnabledRegs() *ioRegs {
	r := &ioRegs{}
	r.mem[0x84] = 0x80          // master enable
	r.setHalf(0x88, 0x200)      // centered bias
	return r
}

// with a 65536 Hz output rate the resampler is 1:1 with one frame of latency
const unityRate = 65536

// drainLast returns the most recent stereo frame as (left, right).
func drainLast(a *APU) (l, r float32) {
	out := a.Drain()
	if len(out) < 2 {
		return 0, 0
	}
	return out[len(out)-2], out[len(out)-1]
}

func TestMasterDisableSilence(t *testing.T) {
	a := New(unityRate)
	r := &ioRegs{} // enable bit clear
	for i := 0; i < 8; i++ {
		a.Sample(r)
	}
	for i, v := range a.Drain() {
		if v != 0 {
			t.Fatalf("sample %d is %v with sound disabled", i, v)
		}
	}
}

func TestDrainConcurrentWithSample(t *testing.T) {
	a := New(unityRate)
	r := newEnabledRegs()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			a.Drain()
		}
		close(done)
	}()
	for i := 0; i < 1000; i++ {
		a.Sample(r)
	}
	<-done
}

func TestSquareChannelOutput(t *testing.T) {
	a := New(unityRate)
	r := newEnabledRegs()
	r.setHalf(0x80, 0x1177)      // ch1 both sides, master volume 7/7
	r.setHalf(0x82, 0x0002)      // full DMG ratio
	r.setHalf(0x62, 0xF080)      // volume 15, 50% duty
	r.setHalf(0x64, 0x0000)      // lowest frequency
	a.ResetSquare(0, r)

	a.Sample(r)
	a.Sample(r)
	left, _ := drainLast(a)
	want := float32(15*7) / 512
	if math.Abs(float64(left-want)) > 1e-6 {
		t.Fatalf("left sample %v, want %v", left, want)
	}
}

func TestSquareSilentWhenSideDisabled(t *testing.T) {
	a := New(unityRate)
	r := newEnabledRegs()
	r.setHalf(0x80, 0x0177) // ch1 right side only
	r.setHalf(0x82, 0x0002)
	r.setHalf(0x62, 0xF080)
	a.ResetSquare(0, r)

	a.Sample(r)
	a.Sample(r)
	left, right := drainLast(a)
	if left != 0 {
		t.Fatalf("left side should be silent, got %v", left)
	}
	if right == 0 {
		t.Fatal("right side should carry the channel")
	}
}

func TestSquareLengthExpiry(t *testing.T) {
	a := New(unityRate)
	r := newEnabledRegs()
	r.setHalf(0x80, 0x1177)
	r.setHalf(0x82, 0x0002)
	r.setHalf(0x62, 0xF0BF) // volume 15, length 63
	r.setHalf(0x64, 0x4000) // length-enable
	a.ResetSquare(0, r)

	// (64-63)<<16 cycles of sound, then gated off
	live := (1 << 16) / SampleClocks
	for i := 0; i < live+2; i++ {
		a.Sample(r)
	}
	out := a.Drain()
	if out[len(out)-2] != 0 || out[len(out)-1] != 0 {
		t.Fatal("channel still audible after length expired")
	}
	if out[3] == 0 {
		t.Fatal("channel silent while length counter was running")
	}
}

func TestWaveChannelPlaysDeselectedBankWrites(t *testing.T) {
	a := New(unityRate)
	r := newEnabledRegs()
	r.setHalf(0x80, 0x4477) // ch3 both sides
	r.setHalf(0x82, 0x0002)
	r.setHalf(0x72, 0x2000) // 100% volume
	r.setHalf(0x74, 0x0000)

	// two-bank mode with bank 1 selected for playback: RAM writes land in
	// bank 1 only while bank 0 is selected
	r.mem[0x70] = 0xA0
	for i := uint32(0); i < 16; i++ {
		a.WriteWaveRAM(r.mem[0x70], i, 0xF0)
	}
	r.mem[0x70] = 0xE0
	a.ResetWave(r)

	a.Sample(r)
	a.Sample(r)
	left, _ := drainLast(a)
	want := float32(15*7) / 512
	if math.Abs(float64(left-want)) > 1e-6 {
		t.Fatalf("wave sample %v, want %v", left, want)
	}
}

func TestNoiseChannelRuns(t *testing.T) {
	a := New(unityRate)
	r := newEnabledRegs()
	r.setHalf(0x80, 0x8877) // ch4 both sides
	r.setHalf(0x82, 0x0002)
	r.setHalf(0x78, 0xF000) // volume 15
	r.setHalf(0x7C, 0x0000) // fastest clocking
	a.ResetNoise(r)

	lfsr0 := a.lfsr
	seen := map[float32]bool{}
	for i := 0; i < 64; i++ {
		a.Sample(r)
	}
	for i, v := range a.Drain() {
		if i%2 == 1 {
			seen[v] = true
		}
	}
	if a.lfsr == lfsr0 {
		t.Fatal("LFSR never advanced")
	}
	if len(seen) < 2 {
		t.Fatal("noise output never changed polarity")
	}
}

func TestFIFOOverflowDropsOldest(t *testing.T) {
	a := New(unityRate)
	for i := 0; i < fifoCapacity; i++ {
		a.PushFIFO(0, int8(i))
	}
	a.PushFIFO(0, 100)
	if got := a.FIFOLen(0); got != fifoCapacity {
		t.Fatalf("fifo length %d, want %d", got, fifoCapacity)
	}
	a.fifoTimer[0] = 0
	a.TimerOverflow(0)
	// sample 0 was dropped, sample 1 is the first latched
	if a.fifoCur[0] != 1 {
		t.Fatalf("latched %d, want 1", a.fifoCur[0])
	}
}

func TestFIFOUnderrunRepeatsLatch(t *testing.T) {
	a := New(unityRate)
	a.ConfigureDirectSound(0x0B) // channel A: both sides, timer 0, reset
	a.PushFIFO(0, -42)
	a.TimerOverflow(0)
	if a.fifoCur[0] != -42 {
		t.Fatalf("latched %d, want -42", a.fifoCur[0])
	}
	a.TimerOverflow(0)
	a.TimerOverflow(0)
	if a.fifoCur[0] != -42 {
		t.Fatalf("underrun changed latch to %d", a.fifoCur[0])
	}
}

func TestConfigureDirectSound(t *testing.T) {
	a := New(unityRate)
	a.PushFIFO(0, 1)
	a.ConfigureDirectSound(0x0F) // reset A, both sides, timer 1
	if a.FIFOLen(0) != 0 {
		t.Fatal("reset did not flush the queue")
	}
	if !a.FIFODriven(1) || a.FIFODriven(0) {
		t.Fatalf("timer selection wrong: %v", a.fifoTimer)
	}
	a.ConfigureDirectSound(0x08) // reset A with no sides enabled
	if a.FIFODriven(1) {
		t.Fatal("disabled channel still bound to a timer")
	}
}

func TestDirectSoundMix(t *testing.T) {
	a := New(unityRate)
	r := newEnabledRegs()
	r.setHalf(0x82, 0x0304) // FIFO A both sides, full volume
	a.fifoTimer[0] = 0
	a.PushFIFO(0, 16)
	a.TimerOverflow(0)

	a.Sample(r)
	a.Sample(r)
	left, right := drainLast(a)
	want := float32(16*4) / 512
	if left != want || right != want {
		t.Fatalf("direct sound mix (%v, %v), want %v both", left, right, want)
	}
}

func TestResamplerDownsamplePhase(t *testing.T) {
	// 2:1 downsample: every second source frame produces one output frame
	// and the phase carries across pushes
	rs := resampler{step: 2}
	var out []float32
	for i := 0; i < 8; i++ {
		out = rs.push(1, 1, out)
	}
	if len(out) != 8 { // 4 stereo frames
		t.Fatalf("got %d values, want 8", len(out))
	}
}

func TestResamplerUpsampleInterpolates(t *testing.T) {
	rs := resampler{step: 0.5}
	out := rs.push(0, 0, nil)
	out = rs.push(1, 1, out[:0])
	// two frames per push at half step; the second sits halfway between 0 and 1
	if len(out) != 4 {
		t.Fatalf("got %d values, want 4", len(out))
	}
	if out[2] != 0.5 || out[3] != 0.5 {
		t.Fatalf("midpoint frame (%v, %v), want (0.5, 0.5)", out[2], out[3])
	}
}

func TestAPUSaveLoadRoundTrip(t *testing.T) {
	a := New(unityRate)
	r := newEnabledRegs()
	r.setHalf(0x78, 0xF000)
	a.ResetNoise(r)
	a.PushFIFO(1, 7)
	a.ConfigureDirectSound(0x0B)
	a.WriteWaveRAM(0xA0, 3, 0x5A)
	a.rs.phase = 0.25

	snap, err := a.SaveState()
	if err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	b := New(unityRate)
	if err := b.LoadState(snap); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if b.lfsr != a.lfsr || b.noiseEnv != a.noiseEnv {
		t.Fatal("noise state not restored")
	}
	if b.FIFOLen(1) != a.FIFOLen(1) || b.fifoTimer != a.fifoTimer {
		t.Fatal("fifo state not restored")
	}
	if b.waveBank != a.waveBank {
		t.Fatal("wave RAM not restored")
	}
	if b.rs.phase != 0.25 {
		t.Fatalf("resampler phase %v, want 0.25", b.rs.phase)
	}
}
