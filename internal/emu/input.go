package emu

// Key is a logical button. The first ten map to the KEYINPUT register; the
// rest drive emulator features.
type Key int

const (
	KeyA Key = iota
	KeyB
	KeySelect
	KeyStart
	KeyRight
	KeyLeft
	KeyUp
	KeyDown
	KeyR
	KeyL

	KeySpeedup
	KeySave0
	KeySave1
	KeySave2
	KeySave3
	KeySave4

	NumKeys
)

// inputState collects key events between frames. The pad image is active-low,
// matching KEYINPUT.
type inputState struct {
	pad uint16

	speedup     bool
	prevSpeedup bool

	saveRequested [NumSaveSlots]bool
}

func newInputState() inputState {
	return inputState{pad: 0b1111111111}
}

func (in *inputState) key(k Key, pressed bool) {
	switch {
	case k == KeySpeedup:
		in.speedup = pressed
	case k >= KeySave0 && k <= KeySave4:
		if pressed {
			in.saveRequested[k-KeySave0] = true
		}
	case k >= KeyA && k <= KeyL:
		if pressed {
			in.pad &^= 1 << uint(k)
		} else {
			in.pad |= 1 << uint(k)
		}
	}
}

// framePreprocess opens a new collection window. Call before feeding the
// frame's key events.
func (in *inputState) framePreprocess() {
	in.prevSpeedup = in.speedup
}
