package ppu

import "log"

func half(mem []byte, addr uint32) uint16 {
	return uint16(mem[addr]) | uint16(mem[addr+1])<<8
}

func colour15(v uint16) Pixel {
	return NewPixel(uint8(v&0b11111), uint8(v>>5&0b11111), uint8(v>>10&0b11111))
}

// paletteColour resolves a palette index to a pixel. Index 0 (or a zero
// nibble in 4bpp tiles) is transparent.
func (p *PPU) paletteColour(pal uint8, is4bpp, sprite bool) (Pixel, bool) {
	if pal == 0 || (is4bpp && pal&0b1111 == 0) {
		return Pixel{}, false
	}
	addr := uint32(pal) * 2
	if sprite {
		addr += 0x200
	}
	return colour15(half(p.bus.Palette(), addr)), true
}

// renderScanline composes the current line into p.scanline. Layers are drawn
// back to front: window regions from least to most specific, priorities 3
// down to 0, and within one priority the backgrounds in reverse index order
// followed by the sprites. The front/back pair per pixel feeds the blending
// pass at the end.
func (p *PPU) renderScanline() {
	backdrop := colour15(half(p.bus.Palette(), 0))
	for i := range p.front {
		p.front[i] = layerPixel{backdrop, layerBackdrop, winFull}
		p.back[i] = layerPixel{backdrop, layerBackdrop, winFull}
	}

	p.initWindows()

	for _, win := range [...]int{winFull, winObj, winOut, win1, win0} {
		if (win == winFull) == p.windowing || (win < winFull && !p.winActive[win]) {
			continue
		}
		p.curWindow = win
		for priority := 3; priority >= 0; priority-- {
			p.curPriority = uint8(priority)
			switch p.dispCnt & 0b111 {
			case 0:
				p.renderTiledBG(layerBG3, false)
				p.renderTiledBG(layerBG2, false)
				p.renderTiledBG(layerBG1, false)
				p.renderTiledBG(layerBG0, false)
			case 1:
				p.renderTiledBG(layerBG2, true)
				p.renderTiledBG(layerBG1, false)
				p.renderTiledBG(layerBG0, false)
			case 2:
				p.renderTiledBG(layerBG3, true)
				p.renderTiledBG(layerBG2, true)
			case 3:
				p.renderBitmap16()
			case 4:
				p.renderBitmapPaged()
			case 5:
				p.renderBitmapSmall()
			}
			p.renderSprites(false)
		}
	}

	p.applyBlending()
}

// applyBlending resolves BLDCNT colour math per pixel. Semi-transparent
// sprites force alpha blending regardless of the selected mode.
func (p *PPU) applyBlending() {
	b := p.bus
	bldCnt := b.IOHalf(0x50)
	bldAlpha := b.IOHalf(0x52)
	fade := b.IOHalf(0x54) & 0b11111
	mode := bldCnt >> 6 & 0b11
	eva := bldAlpha & 0b11111
	evb := bldAlpha >> 8 & 0b11111

	for i := 0; i < ScreenWidth; i++ {
		fp := p.front[i]
		cur := mode
		layer := fp.layer
		if layer == layerSpriteBlend {
			layer = layerSprite
			cur = 0b01
		}
		if cur == 0 || layer == layerBackdrop ||
			bldCnt>>layer&1 == 0 ||
			(p.windowing && p.winFlags[fp.win]>>5&1 == 0) {
			p.scanline[i] = fp.pix
			continue
		}
		switch cur {
		case 0b10:
			p.scanline[i] = blend(fp.pix, NewPixel(31, 31, 31), 16-fade, fade)
			continue
		case 0b11:
			p.scanline[i] = blend(fp.pix, NewPixel(0, 0, 0), 16-fade, fade)
			continue
		}
		bp := p.back[i]
		if bldCnt>>(bp.layer+8)&1 == 0 {
			p.scanline[i] = fp.pix
			continue
		}
		p.scanline[i] = blend(fp.pix, bp.pix, eva, evb)
	}
}

// -------- backgrounds

// renderBitmap16 draws mode 3, one full-screen 15-bit frame at fixed
// priority 3.
func (p *PPU) renderBitmap16() {
	if !p.bgInWindow(layerBG0) || p.curPriority < 3 {
		return
	}
	vram := p.bus.VRAM()
	addr := uint32(p.line) * ScreenWidth * 2
	for i := 0; i < ScreenWidth; i++ {
		p.placeBG(i, colour15(half(vram, addr+uint32(i)*2)), true, layerBG0)
	}
}

// renderBitmapPaged draws mode 4, a paletted frame with two page-flipped
// buffers selected by DISPCNT bit 4.
func (p *PPU) renderBitmapPaged() {
	if p.curPriority < 3 {
		return
	}
	addr := uint32(p.line) * ScreenWidth
	layer := layerBG0
	if p.dispCnt>>4&1 > 0 {
		layer = layerBG1
		addr += 0x9600
	}
	if !p.bgInWindow(layer) {
		return
	}
	vram := p.bus.VRAM()
	for i := 0; i < ScreenWidth; i++ {
		pix, ok := p.paletteColour(vram[addr+uint32(i)], false, false)
		p.placeBG(i, pix, ok, layer)
	}
}

// renderBitmapSmall draws mode 5, a 160x128 15-bit frame with two
// page-flipped buffers. Pixels outside the small frame stay backdrop.
func (p *PPU) renderBitmapSmall() {
	const smallWidth, smallHeight = 160, 128
	if p.curPriority < 3 || p.line >= smallHeight {
		return
	}
	addr := uint32(p.line) * smallWidth * 2
	layer := layerBG0
	if p.dispCnt>>4&1 > 0 {
		layer = layerBG1
		addr += 0xA000
	}
	if !p.bgInWindow(layer) {
		return
	}
	vram := p.bus.VRAM()
	for i := 0; i < smallWidth; i++ {
		p.placeBG(i, colour15(half(vram, addr+uint32(i)*2)), true, layer)
	}
}

func (p *PPU) renderTiledBG(layer int, affine bool) {
	if !p.bgInWindow(layer) {
		return
	}
	b := p.bus
	bgCnt := b.IOHalf(0x08 + 2*uint32(layer))
	if p.curPriority != uint8(bgCnt&0b11) || p.dispCnt>>(8+layer)&1 == 0 {
		return
	}

	w, h := tiledBGSize(bgCnt>>14, affine)
	density8 := affine || bgCnt>>7&1 > 0
	wrapping := !affine || bgCnt>>13&1 > 0
	screenBase := uint32(bgCnt>>8&0b11111) * 2048
	charBase := uint32(bgCnt>>2&0b11) * 0x4000

	x := -b.IOHalf(0x10 + 4*uint32(layer))
	y := -b.IOHalf(0x12 + 4*uint32(layer))
	iRel := uint16(p.line) - y

	var pa, pb, pc, pd, dx, dy int32
	if affine {
		base := 0x20 + 0x10*uint32(layer-2)
		pa = int32(int16(b.IOHalf(base)))
		pb = int32(int16(b.IOHalf(base + 2)))
		pc = int32(int16(b.IOHalf(base + 4)))
		pd = int32(int16(b.IOHalf(base + 6)))
		dx = int32(b.IOWord(0x28 + 0x10*uint32(layer-2)))
		dy = int32(b.IOWord(0x2C + 0x10*uint32(layer-2)))
	}

	vram := b.VRAM()

	for j := uint16(0); j < ScreenWidth; j++ {
		var px, py uint16
		var tileAddr uint32
		var palBank uint8

		if affine {
			cx, cy := int32(j), int32(p.line)
			ox := uint16((dx + pa*cx + pb*cy) >> 8)
			oy := uint16((dy + pc*cx + pd*cy) >> 8)
			if !wrapping && (ox >= w || oy >= h) {
				continue
			}
			ox %= w
			oy %= h
			entry := vram[screenBase+uint32(oy>>3)*uint32(w>>3)+uint32(ox>>3)]
			px, py = ox&0b111, oy&0b111
			tileAddr = charBase + uint32(entry)<<6
		} else {
			ox := (j - x) % w
			oy := iRel % h
			// 512-wide and 512-tall maps split into multiple 256x256
			// screenblocks.
			block := screenBase + (uint32(oy)/256*uint32(w)/256+uint32(ox)/256)*2048
			oxRel, oyRel := ox%256, oy%256
			entryOff := uint32(oyRel>>3)*32 + uint32(oxRel>>3)
			entry := half(vram, block+entryOff<<1)

			px, py = oxRel&0b111, oyRel&0b111
			if entry>>10&1 > 0 {
				px = 7 - px
			}
			if entry>>11&1 > 0 {
				py = 7 - py
			}
			palBank = uint8(entry>>12) << 4

			size := uint32(32)
			if density8 {
				size = 64
			}
			tileAddr = charBase + uint32(entry&0x3FF)*size
		}

		off := uint32(py)*8 + uint32(px)
		var pal uint8
		if density8 {
			pal = vram[tileAddr+off]
		} else {
			v := vram[tileAddr+off>>1]
			if off&1 > 0 {
				v >>= 4
			} else {
				v &= 0b1111
			}
			pal = v + palBank
		}

		pix, ok := p.paletteColour(pal, !density8, false)
		p.placeBG(int(j), pix, ok, layer)
	}
}

// tiledBGSize returns the map dimensions in pixels for a BGxCNT size field.
func tiledBGSize(sz uint16, affine bool) (w, h uint16) {
	if affine {
		switch sz & 0b11 {
		case 0b00:
			return 128, 128
		case 0b01:
			return 256, 256
		case 0b10:
			return 512, 512
		default:
			return 1024, 1024
		}
	}
	switch sz & 0b11 {
	case 0b00:
		return 256, 256
	case 0b01:
		return 512, 256
	case 0b10:
		return 256, 512
	default:
		return 512, 512
	}
}

// -------- sprites

// renderSprites draws the OAM entries matching the current priority, lowest
// OAM index last so it wins ties. With objPass set no pixels are drawn;
// opaque sprite pixels claim the object window instead.
func (p *PPU) renderSprites(objPass bool) {
	if !p.spriteInWindow(objPass) || p.dispCnt>>12&1 == 0 {
		return
	}
	b := p.bus
	oam := b.OAM()
	vram := b.VRAM()
	mapped1D := p.dispCnt>>6&1 > 0

	for k := 127; k >= 0; k-- {
		attr0 := half(oam, uint32(k)*8)
		if attr0>>8&0b11 == 0b10 {
			// not affine and marked hidden
			continue
		}
		attr2 := half(oam, uint32(k)*8+4)
		if !objPass && uint8(attr2>>10&0b11) != p.curPriority {
			continue
		}
		gfx := attr0 >> 10 & 0b11
		if objPass && gfx != 0b10 {
			continue
		}

		density8 := attr0>>13&1 > 0
		palBank := uint8(attr2>>12) << 4
		attr1 := half(oam, uint32(k)*8+2)
		baseTile := uint32(attr2 & 0x3FF)
		if p.dispCnt&0b111 >= 3 && baseTile < 512 {
			// the lower charblock holds bitmap data in modes 3-5
			continue
		}

		y := uint8(attr0)
		x := attr1 & 0x1FF

		affine := attr0>>8&1 > 0
		double := attr0>>9&1 > 0
		paramBase := uint32(attr1>>9&0b11111) * 32
		pa := half(oam, paramBase+6)
		pb := half(oam, paramBase+14)
		pc := half(oam, paramBase+22)
		pd := half(oam, paramBase+30)

		xFlip := attr1>>12&1 > 0
		yFlip := attr1>>13&1 > 0

		w, h := spriteSize(uint8(attr0>>14), uint8(attr1>>14))
		aw, ah := w, h
		if affine && double {
			aw, ah = w*2, h*2
		}

		i := uint16(p.line - y)
		if i >= ah {
			continue
		}
		for j := uint16(0); j < aw; j++ {
			var ox, oy uint16
			visible := true
			if !affine {
				oy, ox = i, j
				if yFlip {
					oy = h - i - 1
				}
				if xFlip {
					ox = w - j - 1
				}
			} else {
				cx := j - aw>>1
				cy := i - ah>>1
				ox = uint16(int16(pa*cx+pb*cy)>>8) + w>>1
				oy = uint16(int16(pc*cx+pd*cy)>>8) + h>>1
				visible = ox < w && oy < h
			}
			if !visible {
				continue
			}

			off := uint32(oy>>3)*uint32(w>>3)*64 + uint32(ox>>3)*64 +
				uint32(oy&0b111)*8 + uint32(ox&0b111)
			var pal uint8
			if density8 {
				cur := baseTile*32 + off
				if !mapped1D {
					cur += uint32(oy>>3) * (128 - uint32(w)) << 3
				}
				pal = vram[0x10000+cur%32768]
			} else {
				cur := baseTile*32 + off>>1
				if !mapped1D {
					cur += uint32(oy>>3) * (128 - uint32(w>>1)) << 3
				}
				v := vram[0x10000+cur%32768]
				if off&1 > 0 {
					v >>= 4
				} else {
					v &= 0b1111
				}
				pal = v + palBank
			}
			pix, ok := p.paletteColour(pal, !density8, true)

			tx := int((j + x) & 0x1FF)
			if tx >= ScreenWidth {
				continue
			}
			if !objPass {
				if gfx == 0b10 {
					continue
				}
				p.placeSprite(tx, pix, ok, gfx == 0b01)
			} else if ok {
				p.claimWindow(winObj, tx)
			}
		}
	}
}

// spriteSize returns width and height in pixels for an OAM shape and size
// field pair.
func spriteSize(shape, size uint8) (uint16, uint16) {
	switch shape & 0b11 {
	case 0b00:
		s := uint16(8) << (size & 0b11)
		return s, s
	case 0b01:
		switch size & 0b11 {
		case 0b00:
			return 16, 8
		case 0b01:
			return 32, 8
		case 0b10:
			return 32, 16
		default:
			return 64, 32
		}
	case 0b10:
		switch size & 0b11 {
		case 0b00:
			return 8, 16
		case 0b01:
			return 8, 32
		case 0b10:
			return 16, 32
		default:
			return 32, 64
		}
	default:
		log.Printf("ppu: invalid sprite shape %d", shape)
		return 8, 8
	}
}

// -------- windows

// initWindows rebuilds the per-pixel window coverage for the current line.
// Every pixel starts in the outside window; win0, win1 and the object window
// claim pixels from it in that precedence order.
func (p *PPU) initWindows() {
	b := p.bus
	p.windowing = p.dispCnt>>13 > 0
	p.winActive = [4]bool{}
	if !p.windowing {
		return
	}

	for i := range p.winLines[winOut] {
		p.winLines[winOut][i] = true
	}
	p.winFlags[winOut] = b.IOByte(0x4A)
	p.winActive[winOut] = true

	if p.dispCnt>>13&1 > 0 {
		p.winLines[win0] = [ScreenWidth]bool{}
		if p.lineInWindow(b.IOByte(0x45), b.IOByte(0x44)) {
			l, r := uint16(b.IOByte(0x41)), uint16(b.IOByte(0x40))
			if l > r {
				r += 1 << 8
			}
			for i := l; i < r; i++ {
				p.claimWindow(win0, int(uint8(i)))
			}
		}
		p.winFlags[win0] = b.IOByte(0x48)
	}
	if p.dispCnt>>14&1 > 0 {
		p.winLines[win1] = [ScreenWidth]bool{}
		if p.lineInWindow(b.IOByte(0x47), b.IOByte(0x46)) {
			l, r := uint16(b.IOByte(0x43)), uint16(b.IOByte(0x42))
			if l > r {
				r += 1 << 8
			}
			for i := l; i < r; i++ {
				p.claimWindow(win1, int(uint8(i)))
			}
		}
		p.winFlags[win1] = b.IOByte(0x49)
	}
	if p.dispCnt>>15&1 > 0 {
		p.winLines[winObj] = [ScreenWidth]bool{}
		p.renderSprites(true)
		p.winFlags[winObj] = b.IOByte(0x4B)
	}
}

// lineInWindow reports whether the current line falls inside a vertical
// window span. top > bottom wraps through the frame edge.
func (p *PPU) lineInWindow(top, bottom uint8) bool {
	if top <= bottom {
		return p.line >= top && p.line < bottom
	}
	return p.line >= top || p.line < bottom
}

func (p *PPU) claimWindow(win, x int) {
	if x < ScreenWidth && p.winLines[winOut][x] {
		p.winLines[win][x] = true
		p.winLines[winOut][x] = false
		p.winActive[win] = true
	}
}

func (p *PPU) bgInWindow(layer int) bool {
	return p.curWindow == winFull || p.winFlags[p.curWindow]>>layer&1 > 0
}

func (p *PPU) spriteInWindow(objPass bool) bool {
	return objPass || p.curWindow == winFull || p.winFlags[p.curWindow]>>4&1 > 0
}

// -------- scanline updates

func (p *PPU) placeBG(x int, pix Pixel, ok bool, layer int) {
	if !ok {
		return
	}
	if p.curWindow != winFull && !p.winLines[p.curWindow][x] {
		return
	}
	p.back[x] = p.front[x]
	p.front[x] = layerPixel{pix, layer, p.curWindow}
}

// placeSprite overwrites the front pixel without demoting an earlier sprite
// into the blend target. Sprites on one line act as a single layer.
func (p *PPU) placeSprite(x int, pix Pixel, ok, semiTransparent bool) {
	if !ok {
		return
	}
	if p.curWindow != winFull && !p.winLines[p.curWindow][x] {
		return
	}
	if p.front[x].layer != layerSprite && p.front[x].layer != layerSpriteBlend {
		p.back[x] = p.front[x]
	}
	layer := layerSprite
	if semiTransparent {
		layer = layerSpriteBlend
	}
	p.front[x] = layerPixel{pix, layer, p.curWindow}
}
