package ui

// Config contains window and audio settings for the desktop frontend.
type Config struct {
	Title    string
	Scale    int    // integer upscaling factor
	Mute     bool   // skip audio output entirely
	SavePath string // battery/snapshot bundle; empty disables persistence

	SampleRate int // host audio rate in Hz, must match the machine's
}

// Defaults fills missing fields.
func (c *Config) Defaults() {
	if c.Title == "" {
		c.Title = "gba"
	}
	if c.Scale <= 0 {
		c.Scale = 3
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
}
