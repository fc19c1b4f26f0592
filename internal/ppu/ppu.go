package ppu

import (
	"bytes"
	"encoding/gob"

	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/bus"
)

// Screen dimensions in pixels.
const (
	ScreenWidth  = 240
	ScreenHeight = 160
)

// Scanline timing in bus clocks. A full line is the visible draw period plus
// the hblank gap; a frame is 160 visible lines followed by 68 vblank lines.
const (
	drawClocks   = 960
	hblankClocks = 272
	lineClocks   = drawClocks + hblankClocks
)

// Pixel is one screen dot with 5-bit colour channels, matching the native
// 15-bit palette format.
type Pixel struct {
	R, G, B uint8
}

func NewPixel(r, g, b uint8) Pixel {
	return Pixel{min5(r), min5(g), min5(b)}
}

func min5(v uint8) uint8 {
	if v > 31 {
		return 31
	}
	return v
}

// RGB8 expands the 5-bit channels to 8 bits for display.
func (p Pixel) RGB8() (r, g, b uint8) {
	return p.R << 3, p.G << 3, p.B << 3
}

// blend combines two pixels with 1.4 fixed-point weights a and b.
func blend(front, back Pixel, a, b uint16) Pixel {
	return NewPixel(
		uint8((uint16(front.R)*a+uint16(back.R)*b)>>4),
		uint8((uint16(front.G)*a+uint16(back.G)*b)>>4),
		uint8((uint16(front.B)*a+uint16(back.B)*b)>>4),
	)
}

// ScreenBuffer holds one rendered frame.
type ScreenBuffer [ScreenHeight][ScreenWidth]Pixel

// WriteRGBA fills dst with 8-bit RGBA rows, top to bottom. dst must hold
// ScreenWidth*ScreenHeight*4 bytes.
func (s *ScreenBuffer) WriteRGBA(dst []byte) {
	i := 0
	for y := 0; y < ScreenHeight; y++ {
		for x := 0; x < ScreenWidth; x++ {
			r, g, b := s[y][x].RGB8()
			dst[i] = r
			dst[i+1] = g
			dst[i+2] = b
			dst[i+3] = 0xFF
			i += 4
		}
	}
}

// Compositing layers, lowest to highest selection bit in BLDCNT.
const (
	layerBG0 = iota
	layerBG1
	layerBG2
	layerBG3
	layerSprite
	layerBackdrop
	layerSpriteBlend // sprite with the semi-transparent gfx mode
)

// Window slots. winFull stands in when windowing is disabled and every pixel
// passes.
const (
	win0 = iota
	win1
	winObj
	winOut
	winFull
)

type layerPixel struct {
	pix   Pixel
	layer int
	win   int
}

// PPU renders one scanline at a time straight from VRAM, palette RAM and OAM,
// and drives the vertical counter, DISPSTAT status bits and the video
// interrupts and DMA triggers.
type PPU struct {
	bus *bus.Bus

	frame      ScreenBuffer
	frameReady bool

	inHBlank bool
	line     uint8

	scanline [ScreenWidth]Pixel
	front    [ScreenWidth]layerPixel
	back     [ScreenWidth]layerPixel

	winLines  [4][ScreenWidth]bool
	winActive [4]bool
	winFlags  [4]uint8
	windowing bool
	curWindow int

	curPriority uint8

	dispCnt  uint16
	dispStat uint16
	pending  uint16

	frameCount     uint32
	renderInterval uint32
}

func New(b *bus.Bus) *PPU {
	return &PPU{bus: b, renderInterval: 1}
}

// SetRenderInterval makes the PPU render only one frame out of every n.
// Skipped frames still run the full timing loop so interrupts and DMA keep
// their cadence. n=1 renders everything.
func (p *PPU) SetRenderInterval(n uint32) {
	if n == 0 {
		n = 1
	}
	p.renderInterval = n
}

// Frame hands out the last completed frame once, or nil when no new frame
// finished since the previous call.
func (p *PPU) Frame() *ScreenBuffer {
	if !p.frameReady {
		return nil
	}
	p.frameReady = false
	return &p.frame
}

// Line returns the current vertical counter, for tools and tests.
func (p *PPU) Line() uint8 { return p.line }

// Clock advances the PPU by one phase (draw, hblank, or a vblank line) and
// returns how many bus clocks that phase lasts.
func (p *PPU) Clock() uint32 {
	b := p.bus
	p.dispCnt = b.IOHalf(0x00)
	p.dispStat = b.IOHalf(0x04)

	var res uint32
	switch {
	case p.line >= ScreenHeight:
		p.line++
		if p.line == 228 {
			p.inHBlank = false
			p.line = 0
			res = drawClocks
		} else {
			res = lineClocks
		}
	case !p.inHBlank:
		if p.frameCount == 0 {
			p.renderScanline()
			p.frame[p.line] = p.scanline
		}
		p.inHBlank = true
		if p.dispStat>>4&1 > 0 {
			p.pending |= 0b010
		}
		b.HBlankDMA = true
		res = hblankClocks
	default:
		p.inHBlank = false
		p.line++
		if p.line == ScreenHeight {
			if p.frameCount == 0 {
				p.frameReady = true
			}
			p.frameCount++
			if p.frameCount >= p.renderInterval {
				p.frameCount = 0
			}
			res = lineClocks
		} else {
			res = drawClocks
		}
	}
	b.StoreIOHalf(0x06, uint16(p.line))

	p.dispStat &^= 0b111
	if p.line >= ScreenHeight {
		if p.line == ScreenHeight {
			if p.dispStat>>3&1 > 0 {
				p.pending |= 0b001
			}
			b.VBlankDMA = true
		}
		p.dispStat |= 0b001
	}
	if p.inHBlank {
		p.dispStat |= 0b010
	}
	if !p.inHBlank && uint16(p.line) == p.dispStat>>8 {
		if p.dispStat>>5&1 > 0 {
			p.pending |= 0b100
		}
		p.dispStat |= 0b100
	}
	b.StoreIOHalf(0x04, p.dispStat)

	if p.pending > 0 {
		b.RaiseIRQ(p.pending)
		p.pending = 0
	}
	return res
}

type ppuState struct {
	Line       uint8
	InHBlank   bool
	FrameCount uint32
}

// SaveState serializes the timing position. Frame contents are not saved;
// the next rendered frame rebuilds them.
func (p *PPU) SaveState() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(ppuState{
		Line:       p.line,
		InHBlank:   p.inHBlank,
		FrameCount: p.frameCount,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *PPU) LoadState(data []byte) error {
	var s ppuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	p.line = s.Line
	p.inHBlank = s.InHBlank
	p.frameCount = s.FrameCount
	p.frameReady = false
	return nil
}
