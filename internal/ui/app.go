package ui

import (
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/emu"
	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/ppu"
)

// maxFramesPerUpdate caps the catch-up (and speedup) work done in one ebiten
// tick so the window stays responsive.
const maxFramesPerUpdate = 8

var keymap = map[emu.Key]ebiten.Key{
	emu.KeyA:       ebiten.KeyX,
	emu.KeyB:       ebiten.KeyZ,
	emu.KeySelect:  ebiten.KeyBackspace,
	emu.KeyStart:   ebiten.KeyEnter,
	emu.KeyRight:   ebiten.KeyArrowRight,
	emu.KeyLeft:    ebiten.KeyArrowLeft,
	emu.KeyUp:      ebiten.KeyArrowUp,
	emu.KeyDown:    ebiten.KeyArrowDown,
	emu.KeyR:       ebiten.KeyS,
	emu.KeyL:       ebiten.KeyA,
	emu.KeySpeedup: ebiten.KeySpace,
}

var slotKeys = [emu.NumSaveSlots]ebiten.Key{
	ebiten.KeyF1, ebiten.KeyF2, ebiten.KeyF3, ebiten.KeyF4, ebiten.KeyF5,
}

type App struct {
	cfg Config
	m   *emu.Machine

	tex *ebiten.Image
	fb  []byte

	audioPlayer *audio.Player

	persistPending bool
	lastTitleAt    time.Time
}

func NewApp(cfg Config, m *emu.Machine) *App {
	cfg.Defaults()
	ebiten.SetWindowTitle(cfg.Title)
	ebiten.SetWindowSize(ppu.ScreenWidth*cfg.Scale, ppu.ScreenHeight*cfg.Scale)
	return &App{
		cfg: cfg,
		m:   m,
		fb:  make([]byte, ppu.ScreenWidth*ppu.ScreenHeight*4),
	}
}

func (a *App) Run() error {
	if !a.cfg.Mute {
		ctx := audio.NewContext(a.cfg.SampleRate)
		p, err := ctx.NewPlayer(&machineStream{m: a.m})
		if err != nil {
			return fmt.Errorf("audio player: %w", err)
		}
		p.SetBufferSize(40 * time.Millisecond)
		p.Play()
		a.audioPlayer = p
	}
	a.m.Init(time.Now().UnixMicro())
	return ebiten.RunGame(a)
}

func (a *App) Update() error {
	a.m.InputFramePreprocess()
	for k, key := range keymap {
		a.m.KeyInput(k, ebiten.IsKeyPressed(key))
	}

	shift := ebiten.IsKeyPressed(ebiten.KeyShiftLeft) || ebiten.IsKeyPressed(ebiten.KeyShiftRight)
	for i, key := range slotKeys {
		if !inpututil.IsKeyJustPressed(key) {
			continue
		}
		if shift {
			if err := a.m.RestoreSlot(i); err != nil {
				log.Printf("ui: %v", err)
			}
		} else {
			a.m.KeyInput(emu.KeySave0+emu.Key(i), true)
			a.persistPending = true
		}
	}

	for i := 0; ; i++ {
		due := a.m.ProcessFrame(time.Now().UnixMicro())
		if due > 0 || i >= maxFramesPerUpdate-1 {
			break
		}
	}
	if a.audioPlayer == nil {
		a.m.AudioBuffer()
	}

	if a.persistPending {
		a.persistPending = false
		if a.cfg.SavePath != "" {
			if err := emu.WriteSaveFile(a.cfg.SavePath, a.m.ExportSave()); err != nil {
				log.Printf("ui: writing save file: %v", err)
			}
		}
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyF12) {
		if err := a.saveScreenshot(); err != nil {
			log.Printf("ui: screenshot: %v", err)
		}
	}

	if time.Since(a.lastTitleAt) > time.Second {
		a.lastTitleAt = time.Now()
		if fps, ok := a.m.FPS(); ok {
			ebiten.SetWindowTitle(fmt.Sprintf("%s (%.1f fps)", a.cfg.Title, fps))
		}
	}
	return nil
}

func (a *App) Draw(screen *ebiten.Image) {
	if a.tex == nil {
		a.tex = ebiten.NewImage(ppu.ScreenWidth, ppu.ScreenHeight)
	}
	a.m.DisplayPicture(a.fb)
	a.tex.WritePixels(a.fb)
	screen.DrawImage(a.tex, nil)
}

func (a *App) Layout(outW, outH int) (int, int) {
	return ppu.ScreenWidth, ppu.ScreenHeight
}

func (a *App) saveScreenshot() error {
	a.m.DisplayPicture(a.fb)
	img := &image.RGBA{
		Pix:    append([]byte(nil), a.fb...),
		Stride: 4 * ppu.ScreenWidth,
		Rect:   image.Rect(0, 0, ppu.ScreenWidth, ppu.ScreenHeight),
	}
	name := fmt.Sprintf("screenshot_%s.png", time.Now().Format("20060102_150405"))
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
