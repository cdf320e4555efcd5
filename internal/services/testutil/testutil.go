// Package testutil provides shared fixtures for service and API tests.
package testutil

import (
	"testing"

	"gorm.io/gorm"

	"github.com/bbernstein/vizmix-go/internal/database"
	"github.com/bbernstein/vizmix-go/internal/database/repositories"
	"github.com/bbernstein/vizmix-go/internal/services/effects"
	"github.com/bbernstein/vizmix-go/internal/services/gpu/gputest"
	"github.com/bbernstein/vizmix-go/internal/services/media"
	"github.com/bbernstein/vizmix-go/internal/services/mixer"
	"github.com/bbernstein/vizmix-go/internal/services/pubsub"
)

// FrameSize is the edge length of frames rendered by test engines.
const FrameSize = 8

// WhiteShader renders a solid white frame.
const WhiteShader = `void mainImage(out vec4 fragColor, in vec2 fragCoord) {
  fragColor = vec4(1.0);
}`

// TestDB holds the test database and repositories.
type TestDB struct {
	DB          *gorm.DB
	SettingRepo *repositories.SettingRepository
	BankRepo    *repositories.BankRepository
}

// SetupTestDB creates a migrated in-memory SQLite database for testing.
// It returns a TestDB with all repositories initialized and a cleanup function.
func SetupTestDB(t *testing.T) (*TestDB, func()) {
	t.Helper()

	db, err := database.Open(database.Config{URL: ":memory:", MaxIdleConn: 1, MaxOpenConn: 1})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	testDB := &TestDB{
		DB:          db,
		SettingRepo: repositories.NewSettingRepository(db),
		BankRepo:    repositories.NewBankRepository(db),
	}

	cleanup := func() {
		_ = database.Close(db)
	}
	return testDB, cleanup
}

// TestEngine is a stopped mixer engine on a fake GPU.
type TestEngine struct {
	Engine *mixer.Engine
	Device *gputest.Device
	PubSub *pubsub.PubSub
	Media  *media.Manager
}

// NewTestEngine creates a stopped engine with small frames and a fake GPU.
// Video and camera banks fail to load unless opener and cameras are given.
func NewTestEngine(t *testing.T, opener media.VideoOpener, cameras media.CameraProvider) *TestEngine {
	t.Helper()

	device := gputest.NewDevice()
	ps := pubsub.New()
	fx := effects.NewState()
	manager := media.NewManager(media.Dependencies{
		Device:  device,
		Videos:  opener,
		Cameras: cameras,
		Width:   FrameSize,
		Height:  FrameSize,
		OnError: mixer.ErrorReporter(ps),
	})
	engine := mixer.NewEngine(mixer.Dependencies{
		Device:     device,
		Media:      manager,
		PubSub:     ps,
		Effects:    fx,
		Compositor: mixer.NewCompositor(FrameSize, FrameSize, fx),
		RenderRate: 200,
	})
	t.Cleanup(engine.Close)

	return &TestEngine{Engine: engine, Device: device, PubSub: ps, Media: manager}
}
