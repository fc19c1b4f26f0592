package apu

// resampler converts the fixed 65536 Hz synthesis rate to the host output rate
// by linear interpolation. phase is the position between the previous and the
// incoming frame and persists across pushes, so the conversion never restarts
// mid-stream.
type resampler struct {
	step  float64 // source frames consumed per output frame
	phase float64
	prevL float32
	prevR float32
}

// push feeds one source frame and appends zero or more interpolated output
// frames (interleaved L,R) to out.
func (r *resampler) push(l, rv float32, out []float32) []float32 {
	for r.phase < 1 {
		t := float32(r.phase)
		out = append(out,
			r.prevL+(l-r.prevL)*t,
			r.prevR+(rv-r.prevR)*t)
		r.phase += r.step
	}
	r.phase--
	r.prevL, r.prevR = l, rv
	return out
}
