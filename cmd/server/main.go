// Package main is the entry point for the VizMix control server.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // MIDI driver

	"github.com/bbernstein/vizmix-go/internal/api"
	"github.com/bbernstein/vizmix-go/internal/config"
	"github.com/bbernstein/vizmix-go/internal/database"
	"github.com/bbernstein/vizmix-go/internal/services/effects"
	"github.com/bbernstein/vizmix-go/internal/services/gpu"
	"github.com/bbernstein/vizmix-go/internal/services/media"
	"github.com/bbernstein/vizmix-go/internal/services/midi"
	"github.com/bbernstein/vizmix-go/internal/services/mixer"
	"github.com/bbernstein/vizmix-go/internal/services/network"
	"github.com/bbernstein/vizmix-go/internal/services/pubsub"
	"github.com/bbernstein/vizmix-go/internal/services/relay"
	"github.com/bbernstein/vizmix-go/internal/services/settings"
	"github.com/bbernstein/vizmix-go/internal/services/tempo"
)

// Version information (set at build time)
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func init() {
	// glfw must be initialized from the main thread
	runtime.LockOSThread()
}

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	printBanner(cfg)

	db, err := database.Open(database.Config{
		URL:         cfg.DatabaseURL,
		MaxIdleConn: 1,
		MaxOpenConn: 1,
		Debug:       cfg.IsDevelopment(),
	})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = database.Close(db) }()

	// GPU context for shader banks. Without one, shader banks report
	// compile errors and the rest of the mixer keeps working.
	var device gpu.Device
	if cfg.NonInteractive {
		log.Println("Non-interactive mode: no GPU window, shader banks disabled")
	} else if d, err := gpu.NewDevice(); err != nil {
		log.Printf("⚠️ GPU unavailable, shader banks disabled: %v", err)
	} else {
		device = d
	}

	ps := pubsub.New()
	fx := effects.NewState()

	manager := media.NewManager(media.Dependencies{
		Device: device,
		Videos: &media.FFmpegOpener{
			FFmpegPath:  cfg.FFmpegPath,
			FFprobePath: cfg.FFprobePath,
			MaxWidth:    cfg.MaxVideoWidth,
		},
		Cameras: &media.FFmpegCameraProvider{
			FFmpegPath:  cfg.FFmpegPath,
			InputFormat: cameraFormat(runtime.GOOS),
			Width:       cfg.OutputWidth,
			Height:      cfg.OutputHeight,
		},
		Width:   cfg.OutputWidth,
		Height:  cfg.OutputHeight,
		OnError: mixer.ErrorReporter(ps),
	})

	engine := mixer.NewEngine(mixer.Dependencies{
		Device:     device,
		Media:      manager,
		Tempo:      tempo.NewEngine(),
		Effects:    fx,
		Compositor: mixer.NewCompositor(cfg.OutputWidth, cfg.OutputHeight, fx),
		PubSub:     ps,
		RenderRate: cfg.RenderRateHz,
	})

	settingsService := settings.NewService(db, engine)
	startMixer(context.Background(), engine, settingsService, cfg.DefaultBanksDir)

	hub := relay.NewHub(ps, engine, cfg.RelayJPEGQuality)
	hub.Start()

	if cfg.MIDIInput != "" {
		stopMIDI, err := midi.Listen(cfg.MIDIInput, engine)
		if err != nil {
			log.Printf("Warning: MIDI input unavailable: %v", err)
		} else {
			defer stopMIDI()
		}
	}

	server := api.NewServer(api.Dependencies{
		Engine:   engine,
		Settings: settingsService,
		Relay:    hub,
		Version:  Version,
	})
	router := server.Router(api.Options{
		CORSOrigins: corsOrigins(cfg),
		Debug:       cfg.IsDevelopment(),
		Timeout:     60 * time.Second,
	})

	// WriteTimeout is left unset so the output relay socket is not cut off
	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Server listening on http://localhost:%s\n", cfg.Port)
		logRelayEndpoints(cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.SettingsAutosave {
		if _, err := settingsService.Save(ctx); err != nil {
			log.Printf("Warning: failed to save settings: %v", err)
		}
	}

	// Cleanup services in reverse order
	hub.Stop()
	engine.Close()
	if device != nil {
		_ = device.Close()
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// startMixer starts the render loop, then restores the last session or, on a
// fresh start, seeds and activates the default banks. The loop runs first so
// that shader banks compile on the thread holding the GPU context.
func startMixer(ctx context.Context, engine *mixer.Engine, svc *settings.Service, banksDir string) {
	engine.Start()

	restored, err := svc.Restore(ctx)
	if err != nil {
		log.Printf("Warning: some settings could not be restored: %v", err)
	}
	if restored {
		return
	}

	err = engine.Do(func() error {
		if banksDir != "" {
			if _, err := engine.Media().SeedBanks(banksDir); err != nil {
				log.Printf("Warning: default banks not seeded: %v", err)
			}
		}
		return engine.Media().LoadDefaults()
	})
	if err != nil {
		log.Printf("Warning: default banks failed to load: %v", err)
	}
}

// logRelayEndpoints prints the addresses output windows can connect to.
func logRelayEndpoints(port string) {
	endpoints, err := network.RelayEndpoints(port)
	if err != nil {
		log.Printf("Output relay: %s (%v)", network.RelayURL("localhost", port), err)
		return
	}
	log.Println("Output relay endpoints:")
	for _, e := range endpoints {
		log.Printf("  %s", e.Label())
	}
}

// corsOrigins lists the origins allowed to call the control API.
func corsOrigins(cfg *config.Config) []string {
	origins := []string{cfg.CORSOrigin}
	if cfg.IsDevelopment() {
		origins = append(origins, "http://localhost:3000", "http://localhost:5173")
	}
	return origins
}

// cameraFormat returns ffmpeg's capture input format for goos.
func cameraFormat(goos string) string {
	switch goos {
	case "linux":
		return "v4l2"
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return ""
	}
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println("============================================")
	fmt.Println("  VizMix Go Server")
	fmt.Printf("  Version: %s\n", Version)
	fmt.Printf("  Build:   %s\n", BuildTime)
	fmt.Printf("  Commit:  %s\n", GitCommit)
	fmt.Println("============================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Port:        %s\n", cfg.Port)
	fmt.Printf("  Database:    %s\n", cfg.DatabaseURL)
	fmt.Printf("  Output:      %dx%d @ %d Hz\n", cfg.OutputWidth, cfg.OutputHeight, cfg.RenderRateHz)
	fmt.Println("============================================")
}
