package cpu

import "log"

// stepThumb fetches, decodes and executes one Thumb instruction. Thumb
// reuses the ARM data-processing helpers; thumbFlags lets the hi-register
// forms suppress flag updates.
func (c *CPU) stepThumb() uint32 {
	c.PC &^= 1
	fetch := c.fetchThumb()
	c.setReg(15, c.PC+4)

	c.incPC = true
	c.thumbFlags = true
	c.shifterCarry = 0

	var cycles uint32
	switch {
	case c.instr>>11&0b11111 == 0b00011:
		cycles = c.thumbAddSubImm3()
	case c.instr>>8 == 0b11011111:
		cycles = c.enterSWI()
	case c.instr>>10&0b111111 == 0b010000:
		cycles = c.thumbALU()
	case c.instr>>10&0b111111 == 0b010001:
		cycles = c.thumbHiRegBX()
	case c.instr>>11&0b11111 == 0b01001:
		cycles = c.thumbPCRelativeLoad()
	case c.instr>>12&0b1111 == 0b0101 && c.instr>>9&1 == 0:
		cycles = c.thumbLoadStoreRegOffset()
	case c.instr>>12&0b1111 == 0b0101:
		cycles = c.thumbLoadStoreSigned()
	case c.instr>>8&0xFF == 0b10110000:
		cycles = c.thumbSPOffset()
	case c.instr>>9&0b11 == 0b10 && c.instr>>12&0b1111 == 0b1011:
		cycles = c.thumbPushPop()
	case c.instr>>11&0b11111 == 0b11100:
		cycles = c.thumbBranch()
	default:
		switch c.instr >> 12 & 0b1111 {
		case 0b0000, 0b0001:
			cycles = c.thumbShiftImm5()
		case 0b0010, 0b0011:
			cycles = c.thumbMovCmpAddSubImm8()
		case 0b0110, 0b0111:
			cycles = c.thumbLoadStoreImm5()
		case 0b1000:
			cycles = c.thumbLoadStoreHalfImm5()
		case 0b1001:
			cycles = c.thumbLoadStoreSP()
		case 0b1010:
			cycles = c.thumbLoadAddress()
		case 0b1100:
			cycles = c.thumbLoadStoreMultiple()
		case 0b1101:
			cycles = c.thumbCondBranch()
		case 0b1111:
			cycles = c.thumbLongBranchLink()
		default:
			log.Printf("cpu: undefined thumb instruction %#06x at pc %#x", c.instr, c.PC)
			cycles = 1
		}
	}

	if c.incPC {
		c.PC += 2
	}
	if cycles == 0 {
		cycles = 1
	}
	return cycles + fetch
}

// fetchThumb mirrors the halfword into both lanes so open-bus reads behave
// like the real prefetch. Returns the wait states of the fetches performed.
func (c *CPU) fetchThumb() uint32 {
	reads := uint32(1)
	if len(c.pipeline) == 0 {
		h := uint32(c.bus.ReadHalf(c.PC))
		c.pipeline = append(c.pipeline, h|h<<16)
		h = uint32(c.bus.ReadHalf(c.PC + 2))
		c.pipeline = append(c.pipeline, h|h<<16)
		reads = 3
	}
	h := uint32(c.bus.ReadHalf(c.PC + 4))
	w := h | h<<16
	c.pipeline = append(c.pipeline, w)
	c.instr = c.popPipeline() & 0xFFFF
	c.bus.NoteFetch(c.PC, w)
	return reads * c.waitStates(c.PC, false)
}

// ---------- shifts

func (c *CPU) thumbShiftImm5() uint32 {
	c.rd = c.instr & 0b111
	c.op1 = c.readReg(c.instr >> 3 & 0b111)
	c.op2 = c.instr >> 6 & 0b11111
	switch c.instr >> 11 & 0b11 {
	case 0b00:
		c.thumbLSL()
	case 0b01:
		c.thumbLSR()
	case 0b10:
		c.thumbASR()
	}
	return 1
}

func (c *CPU) thumbLSL() {
	var res uint32
	switch {
	case c.op2 == 0:
		res = c.op1
	case c.op2 == 32:
		c.setFlag(flagC, c.op1&1 == 1)
	case c.op2 > 32:
		c.setFlag(flagC, false)
	default:
		c.setFlag(flagC, c.op1>>(32-c.op2)&1 == 1)
		res = c.op1 << c.op2
	}
	c.setNZ(res)
	c.setReg(c.rd, res)
}

func (c *CPU) thumbLSR() {
	var res uint32
	switch {
	case c.op2 == 0 || c.op2 == 32:
		c.setFlag(flagC, c.op1>>31 == 1)
	case c.op2 > 32:
		c.setFlag(flagC, false)
	default:
		c.setFlag(flagC, c.op1>>(c.op2-1)&1 == 1)
		res = c.op1 >> c.op2
	}
	c.setNZ(res)
	c.setReg(c.rd, res)
}

func (c *CPU) thumbASR() {
	amount := c.op2
	if amount == 0 || amount > 32 {
		amount = 32
	}
	var res uint32
	if amount < 32 {
		res = c.op1 >> amount
	}
	if c.op1>>31 == 1 {
		res |= ^uint32(0) << (32 - amount)
	}
	c.setReg(c.rd, res)
	c.setFlag(flagC, c.op1>>(amount-1)&1 == 1)
	c.setNZ(res)
}

func (c *CPU) thumbROR() {
	amount := c.op2 & 0b11111
	var res uint32
	switch {
	case c.op2 == 0:
		res = c.readReg(c.rd)
	case amount == 0:
		c.setFlag(flagC, c.op1>>31 == 1)
		res = c.readReg(c.rd)
	default:
		c.setFlag(flagC, c.op1>>(amount-1)&1 == 1)
		res = rotr32(c.op1, uint(amount))
	}
	c.setReg(c.rd, res)
	c.setNZ(res)
}

// ---------- immediate arithmetic

func (c *CPU) thumbAddSubImm3() uint32 {
	c.rd = c.instr & 0b111
	c.op1 = c.readReg(c.instr >> 3 & 0b111)
	if c.instr>>10&1 == 1 {
		c.op2 = c.instr >> 6 & 0b111
	} else {
		c.op2 = c.readReg(c.instr >> 6 & 0b111)
	}

	if c.instr>>9&1 == 0 {
		c.opAdd()
	} else {
		c.opSub()
	}
	return 1
}

func (c *CPU) thumbMovCmpAddSubImm8() uint32 {
	c.op2 = c.instr & 0xFF
	c.rd = c.instr >> 8 & 0b111
	c.op1 = c.readReg(c.rd)

	switch c.instr >> 11 & 0b11 {
	case 0b00:
		c.opMov()
	case 0b01:
		c.opCmp()
	case 0b10:
		c.opAdd()
	case 0b11:
		c.opSub()
	}
	return 1
}

// ---------- register ALU

func (c *CPU) thumbALU() uint32 {
	c.op2 = c.readReg(c.instr >> 3 & 0b111)
	c.rd = c.instr & 0b111
	c.op1 = c.readReg(c.rd)

	switch c.instr >> 6 & 0b1111 {
	case 0b0000:
		c.opAnd()
	case 0b0001:
		c.opEor()
	case 0b0101:
		c.opAdc()
	case 0b0110:
		c.opSbc()
	case 0b1000:
		c.opTst()
	case 0b1001: // NEG
		c.op1 = c.op2
		c.op2 = 0
		c.opRsb()
	case 0b1010:
		c.opCmp()
	case 0b1011:
		c.opCmn()
	case 0b1100:
		c.opOrr()
	case 0b1101: // MUL
		res := c.op1 * c.op2
		c.setNZ(res)
		c.setReg(c.rd, res)
		return 1 + mulTermCycles(c.op2, true)
	case 0b1110:
		c.opBic()
	case 0b1111:
		c.opMvn()
	default:
		// register-amount shifts
		c.op2 &= 0xFF
		if c.op2 > 0 {
			switch c.instr >> 6 & 0b1111 {
			case 0b0010:
				c.thumbLSL()
			case 0b0011:
				c.thumbLSR()
			case 0b0100:
				c.thumbASR()
			case 0b0111:
				c.thumbROR()
			}
		} else {
			c.setNZ(c.readReg(c.rd))
		}
		return 2
	}
	return 1
}

func (c *CPU) thumbHiRegBX() uint32 {
	c.rd = c.instr & 0b111
	if c.instr>>7&1 == 1 {
		c.rd += 8
	}
	src := c.instr >> 3 & 0b111
	if c.instr>>6&1 == 1 {
		src += 8
	}
	c.op1 = c.readReg(c.rd)
	c.op2 = c.readReg(src)

	cycles := uint32(1)
	switch c.instr >> 8 & 0b11 {
	case 0b00:
		c.thumbFlags = false
		cycles += c.opAdd()
	case 0b01:
		cycles += c.opCmp()
	case 0b10:
		c.thumbFlags = false
		cycles += c.opMov()
	case 0b11: // BX
		if c.op2&1 == 0 {
			c.setFlag(flagT, false)
		}
		c.PC = c.op2 &^ 1
		c.flushPipeline()
		cycles += 3
	}

	if c.rd == 15 {
		c.PC &^= 1
	}
	return cycles
}

// ---------- loads and stores

func (c *CPU) thumbPCRelativeLoad() uint32 {
	offset := c.instr & 0xFF << 2
	c.rd = c.instr >> 8 & 0b111
	addr := c.PC + 4 + offset
	c.setReg(c.rd, c.bus.ReadWord(addr&^0b11))
	return 3 + c.waitStates(addr, true)
}

func (c *CPU) thumbLoadStoreRegOffset() uint32 {
	load := c.instr>>11&1 == 1
	byteSized := c.instr>>10&1 == 1

	addr := c.readReg(c.instr>>3&0b111) + c.readReg(c.instr>>6&0b111)
	c.rd = c.instr & 0b111
	ws := c.waitStates(addr, !byteSized)

	switch {
	case !load && !byteSized:
		c.bus.WriteWord(addr&^0b11, c.readReg(c.rd))
		return 2 + ws
	case load && !byteSized:
		res := c.bus.ReadWord(addr &^ 0b11)
		c.setReg(c.rd, rotr32(res, uint(addr&0b11<<3)))
		return 3 + ws
	case !load:
		c.bus.WriteByte(addr, byte(c.readReg(c.rd)))
		return 2 + ws
	default:
		c.setReg(c.rd, uint32(c.bus.ReadByte(addr)))
		return 3 + ws
	}
}

func (c *CPU) thumbLoadStoreSigned() uint32 {
	half := c.instr>>11&1 == 1
	signed := c.instr>>10&1 == 1

	addr := c.readReg(c.instr>>3&0b111) + c.readReg(c.instr>>6&0b111)
	c.rd = c.instr & 0b111
	ws := c.waitStates(addr, false)

	switch {
	case !signed && !half: // STRH
		c.bus.WriteHalf(addr, uint16(c.readReg(c.rd)))
		return 2 + ws
	case !signed: // LDRH
		res := rotr32(uint32(c.bus.ReadHalf(addr&^1)), uint(addr&1*8))
		c.setReg(c.rd, res)
		return 3 + ws
	case !half: // LDRSB
		res := uint32(c.bus.ReadByte(addr))
		if res>>7&1 == 1 {
			res |= 0xFFFFFF00
		}
		c.setReg(c.rd, res)
		return 3 + ws
	default: // LDRSH
		rotate := uint(addr & 1 * 8)
		res := rotr32(uint32(c.bus.ReadHalf(addr&^1)), rotate)
		if rotate == 0 && res>>15&1 == 1 {
			res |= 0xFFFF0000
		} else if rotate == 8 && res>>7&1 == 1 {
			res |= ^uint32(0xFF)
		}
		c.setReg(c.rd, res)
		return 3 + ws
	}
}

func (c *CPU) thumbLoadStoreImm5() uint32 {
	byteSized := c.instr>>12&1 == 1
	load := c.instr>>11&1 == 1
	c.rd = c.instr & 0b111
	addr := c.readReg(c.instr >> 3 & 0b111)
	if byteSized {
		addr += c.instr >> 6 & 0b11111
	} else {
		addr += c.instr >> 6 & 0b11111 << 2
	}

	ws := c.waitStates(addr, !byteSized)
	switch {
	case !load && !byteSized:
		c.bus.WriteWord(addr&^0b11, c.readReg(c.rd))
		return 2 + ws
	case load && !byteSized:
		res := rotr32(c.bus.ReadWord(addr&^0b11), uint(addr&0b11<<3))
		c.setReg(c.rd, res)
		return 3 + ws
	case !load:
		c.bus.WriteByte(addr, byte(c.readReg(c.rd)))
		return 2 + ws
	default:
		c.setReg(c.rd, uint32(c.bus.ReadByte(addr)))
		return 3 + ws
	}
}

func (c *CPU) thumbLoadStoreHalfImm5() uint32 {
	c.rd = c.instr & 0b111
	addr := c.readReg(c.instr>>3&0b111) + c.instr>>6&0b11111<<1
	rotate := uint(addr & 1 * 8)
	addr &^= 1
	ws := c.waitStates(addr, false)

	if c.instr>>11&1 == 0 {
		c.bus.WriteHalf(addr, uint16(c.readReg(c.rd)))
		return 2 + ws
	}
	c.setReg(c.rd, rotr32(uint32(c.bus.ReadHalf(addr)), rotate))
	return 3 + ws
}

func (c *CPU) thumbLoadStoreSP() uint32 {
	load := c.instr>>11&1 == 1
	addr := c.readReg(13) + c.instr&0xFF<<2
	rotate := uint(addr & 0b11 * 8)
	addr &^= 0b11
	c.rd = c.instr >> 8 & 0b111
	ws := c.waitStates(addr, true)

	if !load {
		c.bus.WriteWord(addr, c.readReg(c.rd))
		return 2 + ws
	}
	c.setReg(c.rd, rotr32(c.bus.ReadWord(addr), rotate))
	return 3 + ws
}

func (c *CPU) thumbLoadAddress() uint32 {
	sp := c.instr>>11&1 == 1
	c.rd = c.instr >> 8 & 0b111
	offset := c.instr & 0xFF << 2

	var res uint32
	if sp {
		res = c.readReg(13) + offset
	} else {
		res = (c.PC&^0b11 + 4) + offset
	}
	c.setReg(c.rd, res)
	return 1
}

func (c *CPU) thumbSPOffset() uint32 {
	offset := c.instr & 0b1111111 << 2
	if c.instr>>7&1 == 1 {
		c.setReg(13, c.readReg(13)-offset)
	} else {
		c.setReg(13, c.readReg(13)+offset)
	}
	return 1
}

func (c *CPU) thumbPushPop() uint32 {
	load := c.instr>>11&1 == 1
	pcLR := c.instr>>8&1 == 1
	regList := c.instr & 0xFF

	var cnt uint32
	if pcLR {
		cnt = 1
	}
	for i := 0; i < 8; i++ {
		if regList>>i&1 == 1 {
			cnt++
		}
	}

	startAddr := c.readReg(13)
	if !load {
		startAddr -= 4 * cnt
	}
	addr := startAddr

	var waits uint32
	for i := uint32(0); i < 8; i++ {
		if regList>>i&1 == 0 {
			continue
		}
		waits += c.waitStates(addr, true)
		if load {
			c.setReg(i, c.bus.ReadWord(addr&^0b11))
		} else {
			c.bus.WriteWord(addr&^0b11, c.readReg(i))
		}
		addr += 4
	}
	if pcLR {
		waits += c.waitStates(addr, true)
		if load {
			c.PC = c.bus.ReadWord(addr) &^ 1
			c.flushPipeline()
		} else {
			c.bus.WriteWord(addr, c.readReg(14))
		}
		addr += 4
	}

	if load {
		c.setReg(13, addr)
		return cnt + 2 + waits
	}
	c.setReg(13, startAddr)
	return cnt + 1 + waits
}

func (c *CPU) thumbLoadStoreMultiple() uint32 {
	regList := c.instr & 0xFF
	load := c.instr>>11&1 == 1
	baseReg := c.instr >> 8 & 0b111
	addr := c.readReg(baseReg)

	var n uint32
	for i := 0; i < 8; i++ {
		if regList>>i&1 == 1 {
			n++
		}
	}
	if n == 0 {
		log.Printf("cpu: thumb multiple transfer with empty list at pc %#x", c.PC)
		return 1
	}

	var cnt, waits uint32
	for i := uint32(0); i < 8; i++ {
		if regList>>i&1 == 0 {
			continue
		}
		waits += c.waitStates(addr, true)
		if load {
			c.setReg(i, c.bus.ReadWord(addr&^0b11))
		} else {
			c.bus.WriteWord(addr&^0b11, c.readReg(i))
		}
		if cnt == 0 {
			c.setReg(baseReg, addr+n*4)
		}
		addr += 4
		cnt++
	}

	if load {
		return cnt + 2 + waits
	}
	return cnt + 1 + waits
}

// ---------- branches

func (c *CPU) thumbCondBranch() uint32 {
	if !c.condPassed(c.instr >> 8 & 0b1111) {
		return 1
	}
	offset := c.instr & 0xFF << 1
	if offset>>8&1 == 1 {
		offset |= 0xFFFFFE00
	}
	c.PC = c.PC + 4 + offset
	c.flushPipeline()
	return 3
}

func (c *CPU) thumbBranch() uint32 {
	offset := c.instr & 0b11111111111 << 1
	if offset>>11&1 == 1 {
		offset |= 0xFFFFF000
	}
	c.PC = c.reg[idxPC] + offset
	c.flushPipeline()
	return 3
}

// thumbLongBranchLink is the two-halfword BL pair: the first half stages the
// upper offset in LR, the second jumps and leaves the return address in LR.
func (c *CPU) thumbLongBranchLink() uint32 {
	offset := c.instr & 0b11111111111
	if c.instr>>11&1 == 0 {
		offset <<= 12
		if offset>>22&1 == 1 {
			offset |= 0b111111111 << 23
		}
		c.setReg(14, c.readReg(15)+offset)
	} else {
		target := c.readReg(14) + offset<<1
		c.setReg(14, (c.PC+2)|1)
		c.PC = target
		c.flushPipeline()
	}
	return 4
}
