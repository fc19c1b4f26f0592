package ppu

import "testing"

const (
	white = 0x7FFF
	red   = 0x001F
	green = 0x03E0
	blue  = 0x7C00
)

func setPalette(b []byte, index int, colour uint16) {
	b[index*2] = byte(colour)
	b[index*2+1] = byte(colour >> 8)
}

func setVRAMHalf(vram []byte, off int, v uint16) {
	vram[off] = byte(v)
	vram[off+1] = byte(v >> 8)
}

func setOAMHalf(oam []byte, off int, v uint16) {
	oam[off] = byte(v)
	oam[off+1] = byte(v >> 8)
}

// renderLineZero runs one draw phase and returns the composed first line.
func renderLineZero(p *PPU) [ScreenWidth]Pixel {
	p.Clock()
	return p.scanline
}

func TestBackdropFillsScanline(t *testing.T) {
	p, b := newTestPPU()
	setPalette(b.Palette(), 0, red)

	line := renderLineZero(p)
	for i, px := range line {
		if px != NewPixel(31, 0, 0) {
			t.Fatalf("pixel %d = %v, want backdrop red", i, px)
		}
	}
}

func TestBitmapMode(t *testing.T) {
	p, b := newTestPPU()
	b.StoreIOHalf(0x00, 3)
	setVRAMHalf(b.VRAM(), 5*2, green)

	line := renderLineZero(p)
	if line[5] != NewPixel(0, 31, 0) {
		t.Fatalf("pixel 5 = %v, want green", line[5])
	}
	if line[6] != NewPixel(0, 0, 0) {
		t.Fatalf("pixel 6 = %v, want black", line[6])
	}
}

func TestPagedBitmapModeFlipsFrames(t *testing.T) {
	p, b := newTestPPU()
	vram := b.VRAM()
	pal := b.Palette()
	setPalette(pal, 1, red)
	setPalette(pal, 2, blue)
	vram[10] = 1
	vram[0x9600+10] = 2

	b.StoreIOHalf(0x00, 4)
	if line := renderLineZero(p); line[10] != NewPixel(31, 0, 0) {
		t.Fatalf("frame 0 pixel = %v, want red", line[10])
	}

	p2 := New(b)
	b.StoreIOHalf(0x00, 4|1<<4)
	if line := renderLineZero(p2); line[10] != NewPixel(0, 0, 31) {
		t.Fatalf("frame 1 pixel = %v, want blue", line[10])
	}
}

func TestSmallBitmapModeClipsToFrame(t *testing.T) {
	p, b := newTestPPU()
	b.StoreIOHalf(0x00, 5)
	setVRAMHalf(b.VRAM(), 7*2, red)

	line := renderLineZero(p)
	if line[7] != NewPixel(31, 0, 0) {
		t.Fatalf("pixel 7 = %v, want red", line[7])
	}
	// columns past 160 are outside the small frame and stay backdrop
	if line[200] != NewPixel(0, 0, 0) {
		t.Fatalf("pixel 200 = %v, want backdrop", line[200])
	}
}

// setupTiledBG0 configures mode 0 with BG0 on screenblock 1 and a single
// 4bpp tile whose first two pixels use palette entries 1 and 2.
func setupTiledBG0(p *PPU, bgCnt uint16) {
	b := p.bus
	b.StoreIOHalf(0x00, 0|1<<8) // mode 0, BG0 on
	b.StoreIOHalf(0x08, bgCnt)
	vram := b.VRAM()
	// screenblock 1, entry (0,0) selects tile 1
	vram[0x800] = 1
	// tile 1: first row pixels 0,1 hold palette indices 1 and 2
	vram[0x20] = 0x21
	pal := b.Palette()
	setPalette(pal, 1, red)
	setPalette(pal, 2, green)
}

func TestTiledBackground(t *testing.T) {
	p, _ := newTestPPU()
	setupTiledBG0(p, 1<<8) // priority 0, charblock 0, screenblock 1

	line := renderLineZero(p)
	if line[0] != NewPixel(31, 0, 0) {
		t.Fatalf("pixel 0 = %v, want red", line[0])
	}
	if line[1] != NewPixel(0, 31, 0) {
		t.Fatalf("pixel 1 = %v, want green", line[1])
	}
	if line[2] != NewPixel(0, 0, 0) {
		t.Fatalf("pixel 2 = %v, want transparent backdrop", line[2])
	}
}

func TestTiledBackgroundScroll(t *testing.T) {
	p, b := newTestPPU()
	setupTiledBG0(p, 1<<8)
	b.StoreIOHalf(0x10, 1) // BG0HOFS

	line := renderLineZero(p)
	if line[0] != NewPixel(0, 31, 0) {
		t.Fatalf("pixel 0 = %v, want green after one-pixel scroll", line[0])
	}
}

func TestTiledBackgroundHorizontalFlip(t *testing.T) {
	p, b := newTestPPU()
	setupTiledBG0(p, 1<<8)
	b.VRAM()[0x801] = 1 << 2 // entry bit 10: flip tile 1 horizontally

	line := renderLineZero(p)
	if line[7] != NewPixel(31, 0, 0) {
		t.Fatalf("pixel 7 = %v, want red after flip", line[7])
	}
	if line[6] != NewPixel(0, 31, 0) {
		t.Fatalf("pixel 6 = %v, want green after flip", line[6])
	}
}

func TestBackgroundDisabledByDispCnt(t *testing.T) {
	p, b := newTestPPU()
	setupTiledBG0(p, 1<<8)
	b.StoreIOHalf(0x00, 0) // BG0 bit cleared

	line := renderLineZero(p)
	if line[0] != NewPixel(0, 0, 0) {
		t.Fatalf("pixel 0 = %v, want backdrop", line[0])
	}
}

func TestBackgroundPriorityOrdering(t *testing.T) {
	p, b := newTestPPU()
	// BG0 at priority 1, BG1 at priority 0; BG1 wins.
	b.StoreIOHalf(0x00, 0|1<<8|1<<9)
	b.StoreIOHalf(0x08, 1|1<<8)  // BG0: priority 1, screenblock 1
	b.StoreIOHalf(0x0A, 0|2<<8)  // BG1: priority 0, screenblock 2
	vram := b.VRAM()
	vram[0x800] = 1
	vram[0x1000] = 2
	vram[0x20] = 0x11 // tile 1 solid palette 1
	vram[0x40] = 0x22 // tile 2 solid palette 2
	pal := b.Palette()
	setPalette(pal, 1, red)
	setPalette(pal, 2, green)

	line := renderLineZero(p)
	if line[0] != NewPixel(0, 31, 0) {
		t.Fatalf("pixel 0 = %v, want the lower-priority-number layer", line[0])
	}
}

func TestSpriteRendering(t *testing.T) {
	p, b := newTestPPU()
	b.StoreIOHalf(0x00, 1<<12|1<<6) // sprites on, 1D mapping
	b.VRAM()[0x10000] = 0x01        // tile 0 pixel (0,0) = palette 1
	setPalette(b.Palette(), 256+1, blue)

	line := renderLineZero(p)
	if line[0] != NewPixel(0, 0, 31) {
		t.Fatalf("pixel 0 = %v, want sprite blue", line[0])
	}
	if line[1] != NewPixel(0, 0, 0) {
		t.Fatalf("pixel 1 = %v, want backdrop", line[1])
	}
}

func TestSpriteLowerIndexWins(t *testing.T) {
	p, b := newTestPPU()
	b.StoreIOHalf(0x00, 1<<12|1<<6)
	vram := b.VRAM()
	vram[0x10000] = 0x01 // tile 0
	vram[0x10020] = 0x02 // tile 1
	oam := b.OAM()
	setOAMHalf(oam, 8+4, 1) // sprite 1 uses tile 1
	pal := b.Palette()
	setPalette(pal, 256+1, red)
	setPalette(pal, 256+2, green)

	line := renderLineZero(p)
	if line[0] != NewPixel(31, 0, 0) {
		t.Fatalf("pixel 0 = %v, want sprite 0's colour", line[0])
	}
}

func TestSpriteHorizontalFlip(t *testing.T) {
	p, b := newTestPPU()
	b.StoreIOHalf(0x00, 1<<12|1<<6)
	b.VRAM()[0x10000] = 0x01
	oam := b.OAM()
	for k := 1; k < 128; k++ {
		setOAMHalf(oam, k*8, 0b10<<8) // only sprite 0 participates
	}
	setOAMHalf(oam, 2, 1<<12) // attr1 hflip
	setPalette(b.Palette(), 256+1, red)

	line := renderLineZero(p)
	if line[7] != NewPixel(31, 0, 0) {
		t.Fatalf("pixel 7 = %v, want flipped sprite pixel", line[7])
	}
	if line[0] != NewPixel(0, 0, 0) {
		t.Fatalf("pixel 0 = %v, want backdrop", line[0])
	}
}

func TestSpriteHiddenMode(t *testing.T) {
	p, b := newTestPPU()
	b.StoreIOHalf(0x00, 1<<12|1<<6)
	b.VRAM()[0x10000] = 0x01
	setPalette(b.Palette(), 256+1, red)
	oam := b.OAM()
	for k := 0; k < 128; k++ {
		setOAMHalf(oam, k*8, 0b10<<8) // hidden
	}

	line := renderLineZero(p)
	if line[0] != NewPixel(0, 0, 0) {
		t.Fatalf("pixel 0 = %v, hidden sprite drew", line[0])
	}
}

func TestWindowClipsBackground(t *testing.T) {
	p, b := newTestPPU()
	b.StoreIOHalf(0x00, 3|1<<13) // mode 3 with window 0
	vram := b.VRAM()
	for i := 0; i < ScreenWidth; i++ {
		setVRAMHalf(vram, i*2, white)
	}
	b.StoreIOHalf(0x40, 8<<8|16)  // WIN0H: x 8..16
	b.StoreIOHalf(0x44, 0<<8|160) // WIN0V: full height
	b.StoreIOHalf(0x48, 0)        // nothing shown inside win0
	b.StoreIOHalf(0x4A, 1)        // BG0 shown outside

	line := renderLineZero(p)
	if line[10] != NewPixel(0, 0, 0) {
		t.Fatalf("pixel 10 = %v, want backdrop inside the window", line[10])
	}
	if line[20] != NewPixel(31, 31, 31) {
		t.Fatalf("pixel 20 = %v, want bitmap outside the window", line[20])
	}
}

func TestWindowVerticalRange(t *testing.T) {
	p, b := newTestPPU()
	b.StoreIOHalf(0x00, 3|1<<13)
	setVRAMHalf(b.VRAM(), 0, white)
	b.StoreIOHalf(0x40, 0<<8|240)
	b.StoreIOHalf(0x44, 5<<8|10) // lines 5..10 only
	b.StoreIOHalf(0x48, 0)
	b.StoreIOHalf(0x4A, 1)

	line := renderLineZero(p)
	if line[0] != NewPixel(31, 31, 31) {
		t.Fatalf("pixel 0 = %v, line 0 is outside the vertical span", line[0])
	}
}

func TestAlphaBlendingAgainstBackdrop(t *testing.T) {
	p, b := newTestPPU()
	b.StoreIOHalf(0x00, 3)
	setVRAMHalf(b.VRAM(), 0, white)
	// alpha blend BG0 over the backdrop at half weight each
	b.StoreIOHalf(0x50, 0b01<<6|1|1<<13)
	b.StoreIOHalf(0x52, 8|8<<8)

	line := renderLineZero(p)
	if line[0] != NewPixel(15, 15, 15) {
		t.Fatalf("pixel 0 = %v, want half-intensity blend", line[0])
	}
}

func TestBrightnessIncrease(t *testing.T) {
	p, b := newTestPPU()
	b.StoreIOHalf(0x00, 3)
	setVRAMHalf(b.VRAM(), 0, red)
	b.StoreIOHalf(0x50, 0b10<<6|1) // fade BG0 towards white
	b.StoreIOHalf(0x54, 16)

	line := renderLineZero(p)
	if line[0] != NewPixel(31, 31, 31) {
		t.Fatalf("pixel 0 = %v, want full white", line[0])
	}
}

func TestSemiTransparentSpriteForcesBlend(t *testing.T) {
	p, b := newTestPPU()
	b.StoreIOHalf(0x00, 1<<12|1<<6)
	b.VRAM()[0x10000] = 0x01
	setPalette(b.Palette(), 256+1, white)
	setOAMHalf(b.OAM(), 0, 0b01<<10) // gfx mode: semi-transparent
	// no blend mode selected, but sprite must still alpha blend
	b.StoreIOHalf(0x50, 1<<4|1<<13)
	b.StoreIOHalf(0x52, 8|8<<8)

	line := renderLineZero(p)
	if line[0] != NewPixel(15, 15, 15) {
		t.Fatalf("pixel 0 = %v, want forced alpha blend", line[0])
	}
}
