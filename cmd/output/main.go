// Package main is the VizMix output window. It connects to the server's
// output relay and shows the latest mixed frame, scaled to fit.
package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/joho/godotenv"

	"github.com/bbernstein/vizmix-go/internal/config"
	"github.com/bbernstein/vizmix-go/internal/services/relay"
)

// doubleClickWindow is the longest gap between two clicks that still
// counts as a double click.
const doubleClickWindow = 400 * time.Millisecond

// frameSource is the part of the relay client the window reads from.
type frameSource interface {
	Frame() (*image.RGBA, uint64)
	Connected() bool
}

type window struct {
	source frameSource
	width  int
	height int

	texture   *ebiten.Image
	lastSeq   uint64
	lastClick time.Time
}

func (w *window) Update() error {
	if ebiten.IsWindowBeingClosed() || inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyF) {
		ebiten.SetFullscreen(!ebiten.IsFullscreen())
	}
	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		now := time.Now()
		if isDoubleClick(w.lastClick, now) {
			ebiten.SetFullscreen(!ebiten.IsFullscreen())
			w.lastClick = time.Time{}
		} else {
			w.lastClick = now
		}
	}
	return nil
}

func (w *window) Draw(screen *ebiten.Image) {
	frame, seq := w.source.Frame()
	if frame != nil && seq != w.lastSeq {
		b := frame.Bounds()
		if w.texture == nil || w.texture.Bounds().Dx() != b.Dx() || w.texture.Bounds().Dy() != b.Dy() {
			if w.texture != nil {
				w.texture.Deallocate()
			}
			w.texture = ebiten.NewImage(b.Dx(), b.Dy())
		}
		w.texture.WritePixels(frame.Pix)
		w.lastSeq = seq
	}

	if w.texture == nil {
		if w.source.Connected() {
			ebitenutil.DebugPrint(screen, "Waiting for frames...")
		} else {
			ebitenutil.DebugPrint(screen, "Connecting to mixer...")
		}
		return
	}

	scale, dx, dy := fit(w.texture.Bounds().Dx(), w.texture.Bounds().Dy(), w.width, w.height)
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(scale, scale)
	op.GeoM.Translate(dx, dy)
	op.Filter = ebiten.FilterLinear
	screen.DrawImage(w.texture, op)
}

func (w *window) Layout(_, _ int) (int, int) {
	return w.width, w.height
}

// isDoubleClick reports whether a click at now follows prev closely enough.
func isDoubleClick(prev, now time.Time) bool {
	if prev.IsZero() {
		return false
	}
	gap := now.Sub(prev)
	return gap >= 0 && gap <= doubleClickWindow
}

// fit returns the scale and offset that letterbox a srcW x srcH image into
// dstW x dstH, preserving aspect ratio.
func fit(srcW, srcH, dstW, dstH int) (scale, dx, dy float64) {
	if srcW <= 0 || srcH <= 0 {
		return 1, 0, 0
	}
	sx := float64(dstW) / float64(srcW)
	sy := float64(dstH) / float64(srcH)
	scale = min(sx, sy)
	dx = (float64(dstW) - float64(srcW)*scale) / 2
	dy = (float64(dstH) - float64(srcH)*scale) / 2
	return scale, dx, dy
}

// describeChannel renders a channel message as one log line.
func describeChannel(msg relay.Message) string {
	st := msg.Status
	if st == nil {
		return ""
	}
	switch {
	case st.LoadingIndex >= 0:
		return fmt.Sprintf("[%s] loading bank %d", msg.Channel, st.LoadingIndex+1)
	case st.ActiveIndex < 0:
		return fmt.Sprintf("[%s] no bank", msg.Channel)
	case !st.HasSignal:
		return fmt.Sprintf("[%s] bank %d (%s) has no signal", msg.Channel, st.ActiveIndex+1, st.ActiveKind)
	}
	return fmt.Sprintf("[%s] bank %d (%s)", msg.Channel, st.ActiveIndex+1, st.ActiveKind)
}

// relayURL returns the relay URL, defaulting to the local server port.
func relayURL(cfg *config.Config) string {
	if cfg.RelayURL != "" {
		return cfg.RelayURL
	}
	return fmt.Sprintf("ws://localhost:%s/output", cfg.Port)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := config.Load()

	client := relay.NewClient(relayURL(cfg))
	client.RetryInterval = cfg.RelayRetryDelay
	client.OnMessage = func(msg relay.Message) {
		switch msg.Type {
		case relay.TypeError:
			log.Printf("❌ Mixer error: %s", msg.Error)
		case relay.TypeChannel:
			if line := describeChannel(msg); line != "" {
				log.Print(line)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Relay client stopped: %v", err)
		}
	}()

	ebiten.SetWindowSize(cfg.OutputWidth, cfg.OutputHeight)
	ebiten.SetWindowTitle("VizMix Output")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetRunnableOnUnfocused(true)
	ebiten.SetWindowClosingHandled(true)

	log.Printf("🖥️ Output window connecting to %s", relayURL(cfg))
	w := &window{source: client, width: cfg.OutputWidth, height: cfg.OutputHeight}
	if err := ebiten.RunGame(w); err != nil && !errors.Is(err, ebiten.Termination) {
		log.Fatalf("Output window error: %v", err)
	}
}
