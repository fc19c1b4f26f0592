package bus

import (
	"log"

	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/cart"
)

const (
	dmaImmediate = iota
	dmaVBlank
	dmaHBlank
	dmaFIFO
)

// dmaChannel is one of the four transfer engines. Register bits are re-read
// at execution time; the struct latches only what survives across repeat runs.
// Fields are exported for the gob save-state envelope.
type dmaChannel struct {
	No        int
	Src, Dst  uint32
	SrcInc    int32
	DstInc    int32
	Count     uint32
	Word      bool
	Timing    int
	IRQ       bool
	Repeating bool
	ResetDst  bool
	Enabled   bool
}

// enableDMA latches a channel on the 0->1 edge of its enable bit.
func (b *Bus) enableDMA(n int) dmaChannel {
	base := uint32(0xB0 + 12*n)
	cnt := b.rawWord(base + 8)
	c := dmaChannel{
		No:      n,
		Src:     b.rawWord(base),
		Dst:     b.rawWord(base + 4),
		Count:   cnt & 0xFFFF,
		Timing:  int(cnt >> 28 & 3),
		Enabled: true,
	}
	if c.Timing == dmaFIFO && (n == 0 || n == 3) {
		log.Printf("dma: channel %d cannot run in fifo mode", n)
		c.Enabled = false
	}
	return c
}

// active reports whether the channel's trigger condition currently holds.
func (c *dmaChannel) active(b *Bus) bool {
	if !c.Enabled {
		return false
	}
	switch c.Timing {
	case dmaImmediate:
		return true
	case dmaVBlank:
		return b.VBlankDMA
	case dmaHBlank:
		return b.HBlankDMA
	default: // FIFO refill on half-empty
		return b.apu.NeedsRefill(int(c.Dst-0x040000A0) >> 2)
	}
}

// DMAPending reports whether any channel wants the bus right now.
func (b *Bus) DMAPending() bool {
	if !b.anyDMAActive {
		return false
	}
	for i := range b.dma {
		if b.dma[i].active(b) {
			return true
		}
	}
	return false
}

// RunDMA executes every triggered channel and returns the consumed cycles.
// The blanking trigger edges are consumed regardless of who ran.
func (b *Bus) RunDMA() uint32 {
	var cycles uint32
	for i := range b.dma {
		if b.dma[i].active(b) {
			cycles += b.dma[i].execute(b)
		}
	}
	b.HBlankDMA = false
	b.VBlankDMA = false
	b.refreshDMAActive()
	return cycles
}

func (c *dmaChannel) execute(b *Bus) uint32 {
	base := uint32(0xB0 + 12*c.No)
	cnt := b.rawWord(base + 8)

	if c.Repeating {
		c.Count = cnt & 0xFFFF
		if c.ResetDst {
			c.Dst = b.rawWord(base + 4)
		}
	}
	c.ResetDst = false

	if c.Timing == dmaFIFO {
		c.DstInc = 0
	} else {
		switch cnt >> 21 & 3 {
		case 0:
			c.DstInc = 1
		case 1:
			c.DstInc = -1
		case 2:
			c.DstInc = 0
		case 3:
			c.ResetDst = true
			c.DstInc = 1
		}
	}
	switch cnt >> 23 & 3 {
	case 0:
		c.SrcInc = 1
	case 1:
		c.SrcInc = -1
	case 2:
		c.SrcInc = 0
	case 3:
		log.Printf("dma: channel %d uses reserved source increment", c.No)
		c.SrcInc = 0
	}

	c.Word = cnt>>26&1 == 1
	c.IRQ = cnt>>30&1 == 1
	c.Repeating = c.Timing == dmaFIFO ||
		(c.Timing != dmaImmediate && cnt>>25&1 == 1)

	switch {
	case c.Timing == dmaFIFO:
		// hardware shape: four words into a fixed destination
		c.Count = 4
		c.Word = true
	case c.Count == 0:
		if c.No == 3 {
			c.Count = 0x10000
		} else {
			c.Count = 0x4000
		}
	}

	switch {
	case c.eepromTransfer(b):
		// handled bit-serially by the cartridge
	case c.Timing == dmaFIFO:
		fifo := int(c.Dst-0x040000A0) >> 2
		for i := uint32(0); i < c.Count; i++ {
			w := b.ReadWord(c.Src)
			b.apu.PushFIFO(fifo, int8(w))
			b.apu.PushFIFO(fifo, int8(w>>8))
			b.apu.PushFIFO(fifo, int8(w>>16))
			b.apu.PushFIFO(fifo, int8(w>>24))
			c.Src += uint32(c.SrcInc) * 4
		}
	default:
		size := uint32(2)
		if c.Word {
			size = 4
		}
		for i := uint32(0); i < c.Count; i++ {
			if c.Word {
				b.WriteWord(c.Dst, b.ReadWord(c.Src))
			} else {
				b.WriteHalf(c.Dst, b.ReadHalf(c.Src))
			}
			c.Src += uint32(c.SrcInc) * size
			c.Dst += uint32(c.DstInc) * size
		}
	}

	if !c.Repeating {
		c.Enabled = false
		ctl := uint32(0xBB + 12*c.No)
		b.mem[regIO][ctl] &^= 1 << 7
	}
	if c.IRQ {
		b.RaiseIRQ(1 << (8 + c.No))
	}
	return (c.Count-1)*2 + 4
}

// eepromTransfer routes channel 3 halfword streams touching the EEPROM window
// into the cartridge's serial protocol. Returns false when this transfer is
// not an EEPROM one.
func (c *dmaChannel) eepromTransfer(b *Bus) bool {
	e, ok := b.backup.(*cart.EEPROM)
	if !ok || c.No != 3 {
		return false
	}
	inWindow := func(a uint32) bool { return a>>24 == 0xD }
	if !inWindow(c.Src) && !inWindow(c.Dst) {
		return false
	}
	if c.Word || c.SrcInc != 1 || c.DstInc != 1 {
		log.Printf("dma: eeprom transfer with invalid shape (word=%v src=%+d dst=%+d)",
			c.Word, c.SrcInc, c.DstInc)
		return true
	}
	if inWindow(c.Dst) {
		bits := make([]uint16, 0, c.Count)
		for i := uint32(0); i < c.Count; i++ {
			bits = append(bits, b.ReadHalf(c.Src))
			c.Src += 2
			c.Dst += 2
		}
		e.WriteStream(bits)
	} else {
		for _, v := range e.ReadStream(int(c.Count)) {
			b.WriteHalf(c.Dst, v)
			c.Src += 2
			c.Dst += 2
		}
	}
	return true
}
