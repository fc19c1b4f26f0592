package apu

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"log"
	"sync"
)

const (
	// one output sample every 256 master cycles (2^24 Hz / 256 = 65536 Hz)
	SampleClocks = 256
	sourceHz     = 1 << 24 / SampleClocks

	fifoCapacity   = 32
	fifoRefillMark = 16
)

// Regs gives the APU read access to the IO register file, offsets relative to
// 0x04000000. The APU never writes registers; retriggers and FIFO pushes come
// in through the exported methods below.
type Regs interface {
	Byte(off uint32) byte
	Half(off uint32) uint16
}

// APU synthesizes the four legacy channels (two squares, wave, noise) plus the
// two FIFO-fed direct sound channels. Sample advances everything by one 65536 Hz
// tick and pushes the mixed stereo pair through a linear resampler into the
// output buffer, which the machine drains once per frame.
type APU struct {
	// square channels 1-2; all counters run in master cycles
	squareLength [2]uint32
	squareRate   [2]uint32
	squareEnv    [2]uint32
	squareCnt    [2]uint32 // duty phase, doubles as the sweep interval counter
	squareEnvCnt [2]uint32

	// wave channel
	waveLength uint32
	waveRate   uint32
	waveCnt    uint32
	waveBank   [2][16]byte

	// noise channel
	noiseLength uint32
	noiseEnv    uint32
	noiseEnvCnt uint32
	noiseCnt    uint32
	lfsr        uint16

	// direct sound A/B
	fifo      [2][]int8
	fifoCur   [2]int8
	fifoTimer [2]int // driving timer index, -1 when the channel is off

	rs resampler

	// interleaved L,R at the host rate; the frontend's audio goroutine
	// drains while the machine keeps producing
	outMu sync.Mutex
	out   []float32
}

func New(sampleRate int) *APU {
	a := &APU{
		fifoTimer: [2]int{-1, -1},
		lfsr:      0x7FFF,
	}
	a.rs.step = float64(sourceHz) / float64(sampleRate)
	return a
}

// stereo accumulates one sample tick. Index 0 is the right side, 1 the left,
// matching the register bit layout. A side stays silent (centered zero output)
// until some channel contributes to it; bias and clipping apply only then.
type stereo struct {
	v   [2]int16
	set [2]bool
}

func (s *stereo) add(side int, val int16) {
	s.v[side] += val
	s.set[side] = true
}

// Sample advances all channels by one tick and emits the mixed pair.
func (a *APU) Sample(io Regs) {
	var mix stereo
	if io.Byte(0x84)>>7&1 == 1 {
		a.sampleSquare(0, io, &mix)
		a.sampleSquare(1, io, &mix)
		a.sampleWave(io, &mix)
		a.sampleNoise(io, &mix)
		a.sampleDirect(io, &mix)

		bias := int16(io.Half(0x88) & 0x3FF)
		for side := range mix.v {
			if !mix.set[side] {
				continue
			}
			v := mix.v[side] + bias
			if v < 0 {
				v = 0
			} else if v > 0x3FF {
				v = 0x3FF
			}
			mix.v[side] = v
		}
	}

	toFloat := func(side int) float32 {
		if !mix.set[side] {
			return 0
		}
		return (float32(mix.v[side]) - 512) / 512
	}
	a.outMu.Lock()
	a.out = a.rs.push(toFloat(1), toFloat(0), a.out)
	a.outMu.Unlock()
}

// Drain returns everything produced since the last call. Safe to call from
// another goroutine than Sample's.
func (a *APU) Drain() []float32 {
	a.outMu.Lock()
	out := a.out
	a.out = nil
	a.outMu.Unlock()
	return out
}

// dmgVolumes reads the per-side master volumes from SOUNDCNT_L.
func dmgVolumes(dmgCnt uint16) [2]int16 {
	return [2]int16{int16(dmgCnt & 7), int16(dmgCnt >> 4 & 7)}
}

// dmgRatio applies the SOUNDCNT_H ratio for channels 1-4. The 0b11 setting is
// forbidden on hardware; it passes through at full volume here.
func dmgRatio(v int16, dsCnt uint16) int16 {
	switch dsCnt & 3 {
	case 0:
		return v >> 2
	case 1:
		return v >> 1
	default:
		return v
	}
}

func (a *APU) sampleSquare(i int, io Regs, mix *stereo) {
	dmgCnt := io.Half(0x80)
	enable := [2]bool{dmgCnt>>(8+i)&1 == 1, dmgCnt>>(12+i)&1 == 1}
	if !enable[0] && !enable[1] {
		return
	}
	freq := io.Half(0x64 + 8*uint32(i))
	if freq>>14&1 == 1 && a.squareLength[i] == 0 {
		return
	}
	if i == 0 {
		sweep := io.Byte(0x60)
		hit := uint32(sweep>>4&7) << 17
		shift := sweep & 7
		if hit != 0 && shift != 0 && a.squareCnt[i] >= hit {
			delta := a.squareRate[i] >> shift
			if sweep>>3&1 == 1 {
				a.squareRate[i] -= delta
			} else if 2048-a.squareRate[i] <= delta {
				// sweep overflow silences the channel
				return
			} else {
				a.squareRate[i] += delta
			}
			a.squareCnt[i] = 0
		}
	}
	cnt := io.Half(0x62 + 6*uint32(i))

	envHit := uint32(cnt>>8&7) << 18
	envUp := cnt>>11&1 == 1
	if envHit != 0 && !(envUp && a.squareEnv[i] == 15) && !(!envUp && a.squareEnv[i] == 0) {
		if a.squareEnvCnt[i] >= envHit {
			if envUp {
				a.squareEnv[i]++
			} else {
				a.squareEnv[i]--
			}
			a.squareEnvCnt[i] = 0
		}
		a.squareEnvCnt[i] += SampleClocks
	}

	period := (2048 - a.squareRate[i]) << 7
	var active uint32
	switch cnt >> 6 & 3 {
	case 0:
		active = period >> 3
	case 1:
		active = period >> 2
	case 2:
		active = period >> 1
	case 3:
		active = period >> 2 * 3
	}

	vol := dmgRatio(int16(a.squareEnv[i]), io.Half(0x82))
	dmgVol := dmgVolumes(dmgCnt)
	for side := range enable {
		if !enable[side] {
			continue
		}
		if a.squareCnt[i]%period < active {
			mix.add(side, vol*dmgVol[side])
		} else {
			mix.add(side, -vol*dmgVol[side])
		}
	}

	a.squareCnt[i] += SampleClocks
	if a.squareLength[i] > 0 {
		a.squareLength[i] -= SampleClocks
	}
}

func (a *APU) sampleWave(io Regs, mix *stereo) {
	ctl := io.Byte(0x70)
	if ctl>>7 == 0 {
		return
	}
	dmgCnt := io.Half(0x80)
	enable := [2]bool{dmgCnt>>10&1 == 1, dmgCnt>>14&1 == 1}
	if !enable[0] && !enable[1] {
		return
	}
	freq := io.Half(0x74)
	if freq>>14&1 == 1 && a.waveLength == 0 {
		return
	}
	cntH := io.Half(0x72)
	bank := ctl >> 5 & (ctl >> 6) & 1

	period := (2048 - a.waveRate) << 3
	ind := a.waveCnt / period
	v := int16(a.waveBank[bank][(ind&31)>>1])
	if ind&1 == 1 {
		v &= 0xF
	} else {
		v >>= 4
	}

	v = dmgRatio(v, io.Half(0x82))
	if cntH>>15 == 1 {
		v = v >> 2 * 3 // forced 75%
	} else {
		switch cntH >> 13 & 3 {
		case 0:
			v = 0
		case 2:
			v >>= 1
		case 3:
			v >>= 2
		}
	}

	dmgVol := dmgVolumes(dmgCnt)
	for side := range enable {
		if enable[side] {
			mix.add(side, v*dmgVol[side])
		}
	}

	a.waveCnt += SampleClocks
	if a.waveLength > 0 {
		a.waveLength -= SampleClocks
	}
}

func (a *APU) sampleNoise(io Regs, mix *stereo) {
	dmgCnt := io.Half(0x80)
	enable := [2]bool{dmgCnt>>11&1 == 1, dmgCnt>>15&1 == 1}
	if !enable[0] && !enable[1] {
		return
	}
	cntL := io.Half(0x78)
	cntH := io.Half(0x7C)
	if cntH>>14&1 == 1 && a.noiseLength == 0 {
		return
	}

	envHit := uint32(cntL>>8&7) << 18
	envUp := cntL>>11&1 == 1
	if envHit != 0 && !(envUp && a.noiseEnv == 15) && !(!envUp && a.noiseEnv == 0) {
		if a.noiseEnvCnt >= envHit {
			if envUp {
				a.noiseEnv++
			} else {
				a.noiseEnv--
			}
			a.noiseEnvCnt = 0
		}
		a.noiseEnvCnt += SampleClocks
	}

	// divisor/shift clocking; the legacy unit runs at a quarter of the master
	// clock, hence the extra <<2
	div := uint32(cntH&7) * 16
	if div == 0 {
		div = 8
	}
	period := div << (cntH >> 4 & 0xF) << 2
	a.noiseCnt += SampleClocks
	for a.noiseCnt >= period {
		a.noiseCnt -= period
		a.stepLFSR(cntH>>3&1 == 1)
	}

	vol := dmgRatio(int16(a.noiseEnv), io.Half(0x82))
	dmgVol := dmgVolumes(dmgCnt)
	for side := range enable {
		if !enable[side] {
			continue
		}
		if a.lfsr&1 == 0 {
			mix.add(side, vol*dmgVol[side])
		} else {
			mix.add(side, -vol*dmgVol[side])
		}
	}

	if a.noiseLength > 0 {
		a.noiseLength -= SampleClocks
	}
}

func (a *APU) stepLFSR(width7 bool) {
	bit := (a.lfsr ^ a.lfsr>>1) & 1
	a.lfsr = a.lfsr>>1 | bit<<14
	if width7 {
		a.lfsr = a.lfsr&^(1<<6) | bit<<6
	}
}

func (a *APU) sampleDirect(io Regs, mix *stereo) {
	dsCnt := io.Half(0x82)
	for i := 0; i < 2; i++ {
		enable := [2]bool{dsCnt>>(8+4*i)&1 == 1, dsCnt>>(9+4*i)&1 == 1}
		if !enable[0] && !enable[1] {
			continue
		}
		sample := int16(a.fifoCur[i])
		if dsCnt>>(2+i)&1 == 0 {
			sample >>= 1
		}
		for side := range enable {
			if enable[side] {
				mix.add(side, sample*4)
			}
		}
	}
}

// ResetSquare retriggers a square channel (bit 7 write to SOUNDnCNT_X).
func (a *APU) ResetSquare(i int, io Regs) {
	cnt := io.Half(0x62 + 6*uint32(i))
	freq := io.Half(0x64 + 8*uint32(i))
	a.squareEnv[i] = uint32(cnt >> 12)
	a.squareLength[i] = (64 - uint32(cnt&0x3F)) << 16
	a.squareRate[i] = uint32(freq & 0x7FF)
	a.squareCnt[i] = 0
	a.squareEnvCnt[i] = 0
}

// ResetWave retriggers the wave channel.
func (a *APU) ResetWave(io Regs) {
	a.waveLength = (256 - uint32(io.Byte(0x72))) << 16
	a.waveRate = uint32(io.Half(0x74) & 0x7FF)
	a.waveCnt = 0
}

// ResetNoise retriggers the noise channel.
func (a *APU) ResetNoise(io Regs) {
	cnt := io.Half(0x78)
	a.noiseEnv = uint32(cnt >> 12)
	a.noiseLength = (64 - uint32(cnt&0x3F)) << 16
	a.noiseEnvCnt = 0
	a.noiseCnt = 0
	a.lfsr = 0x7FFF
}

// WaveRestart resets the wave position; called when the bank-enable bit flips.
func (a *APU) WaveRestart() { a.waveCnt = 0 }

// WriteWaveRAM stores into the bank NOT selected for playback, as hardware does.
// ctl is the current SOUND3CNT_L byte.
func (a *APU) WriteWaveRAM(ctl byte, off uint32, v byte) {
	bank := ctl >> 5 &^ (ctl >> 6) & 1
	a.waveBank[bank][off&0xF] = v
}

// PushFIFO queues one signed sample; a full queue drops its oldest entry first.
func (a *APU) PushFIFO(i int, v int8) {
	if len(a.fifo[i]) == fifoCapacity {
		log.Printf("apu: fifo %d overflow, dropping oldest sample", i)
		a.fifo[i] = a.fifo[i][1:]
	}
	a.fifo[i] = append(a.fifo[i], v)
}

func (a *APU) FIFOLen(i int) int { return len(a.fifo[i]) }

// NeedsRefill reports whether a FIFO has drained to the DMA trigger mark.
func (a *APU) NeedsRefill(i int) bool { return len(a.fifo[i]) <= fifoRefillMark }

// ConfigureDirectSound applies a write to the high byte of SOUNDCNT_H: timer
// selection and, per channel, the reset bit that flushes the queue.
func (a *APU) ConfigureDirectSound(v byte) {
	for i := 0; i < 2; i++ {
		if v>>(3+4*i)&1 == 0 {
			continue
		}
		if v>>(4*i)&1 == 0 && v>>(1+4*i)&1 == 0 {
			a.fifoTimer[i] = -1
		} else {
			a.fifoTimer[i] = int(v >> (2 + 4*i) & 1)
		}
		a.fifo[i] = a.fifo[i][:0]
		a.fifoCur[i] = 0
	}
}

// TimerOverflow latches the next sample on every FIFO driven by this timer.
// An empty queue keeps the previous latch (hardware repeats on underrun).
func (a *APU) TimerOverflow(timer int) {
	for i := 0; i < 2; i++ {
		if a.fifoTimer[i] != timer {
			continue
		}
		if len(a.fifo[i]) > 0 {
			a.fifoCur[i] = a.fifo[i][0]
			a.fifo[i] = a.fifo[i][1:]
		}
	}
}

// FIFODriven reports whether any FIFO is clocked by the given timer.
func (a *APU) FIFODriven(timer int) bool {
	return a.fifoTimer[0] == timer || a.fifoTimer[1] == timer
}

type apuState struct {
	SquareLength [2]uint32
	SquareRate   [2]uint32
	SquareEnv    [2]uint32
	SquareCnt    [2]uint32
	SquareEnvCnt [2]uint32

	WaveLength uint32
	WaveRate   uint32
	WaveCnt    uint32
	WaveBank   [2][16]byte

	NoiseLength uint32
	NoiseEnv    uint32
	NoiseEnvCnt uint32
	NoiseCnt    uint32
	LFSR        uint16

	Fifo      [2][]int8
	FifoCur   [2]int8
	FifoTimer [2]int

	Phase        float64
	PrevL, PrevR float32
}

func (a *APU) SaveState() ([]byte, error) {
	st := apuState{
		SquareLength: a.squareLength,
		SquareRate:   a.squareRate,
		SquareEnv:    a.squareEnv,
		SquareCnt:    a.squareCnt,
		SquareEnvCnt: a.squareEnvCnt,
		WaveLength:   a.waveLength,
		WaveRate:     a.waveRate,
		WaveCnt:      a.waveCnt,
		WaveBank:     a.waveBank,
		NoiseLength:  a.noiseLength,
		NoiseEnv:     a.noiseEnv,
		NoiseEnvCnt:  a.noiseEnvCnt,
		NoiseCnt:     a.noiseCnt,
		LFSR:         a.lfsr,
		Fifo:         a.fifo,
		FifoCur:      a.fifoCur,
		FifoTimer:    a.fifoTimer,
		Phase:        a.rs.phase,
		PrevL:        a.rs.prevL,
		PrevR:        a.rs.prevR,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&st); err != nil {
		return nil, fmt.Errorf("encode apu state: %w", err)
	}
	return buf.Bytes(), nil
}

func (a *APU) LoadState(data []byte) error {
	var st apuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return fmt.Errorf("decode apu state: %w", err)
	}
	a.squareLength = st.SquareLength
	a.squareRate = st.SquareRate
	a.squareEnv = st.SquareEnv
	a.squareCnt = st.SquareCnt
	a.squareEnvCnt = st.SquareEnvCnt
	a.waveLength = st.WaveLength
	a.waveRate = st.WaveRate
	a.waveCnt = st.WaveCnt
	a.waveBank = st.WaveBank
	a.noiseLength = st.NoiseLength
	a.noiseEnv = st.NoiseEnv
	a.noiseEnvCnt = st.NoiseEnvCnt
	a.noiseCnt = st.NoiseCnt
	a.lfsr = st.LFSR
	a.fifo = st.Fifo
	a.fifoCur = st.FifoCur
	a.fifoTimer = st.FifoTimer
	a.rs.phase = st.Phase
	a.rs.prevL = st.PrevL
	a.rs.prevR = st.PrevR
	a.outMu.Lock()
	a.out = nil
	a.outMu.Unlock()
	return nil
}
