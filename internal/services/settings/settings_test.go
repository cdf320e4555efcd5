package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/vizmix-go/internal/services/effects"
	"github.com/bbernstein/vizmix-go/internal/services/media"
	"github.com/bbernstein/vizmix-go/internal/services/testutil"
)

func configure(t *testing.T, te *testutil.TestEngine) {
	t.Helper()
	e := te.Engine
	e.SetBPM(128)
	e.SetAutoSwitch(true)
	e.SetSwitchInterval(8)
	_, err := e.SetEffect(effects.Blur, 40)
	require.NoError(t, err)
	e.SetCrossfade(0.3)
	_, err = e.SetDimmer(media.ChannelB, 0.5)
	require.NoError(t, err)
	require.NoError(t, e.ReplaceBank(media.ChannelA, 0, media.KindShader, testutil.WhiteShader, "white"))
	require.NoError(t, e.ReplaceBank(media.ChannelB, 3, media.KindVideo, "/clips/loop.mp4", ""))
	require.NoError(t, e.SwitchBank(media.ChannelA, 0))
}

func TestSave_CapturesMixer(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	te := testutil.NewTestEngine(t, nil, nil)
	configure(t, te)

	snap, err := NewService(db.DB, te.Engine).Save(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Version, snap.Version)
	assert.Equal(t, 128, snap.BPM)
	assert.InDelta(t, 30, snap.Crossfade, 1e-9)
	assert.Equal(t, AutoSwitch{Enabled: true, Interval: 8}, snap.AutoSwitch)
	assert.Equal(t, 0.5, snap.Dimmers[media.ChannelB])
	assert.Equal(t, map[string]int{media.ChannelA: 0, media.ChannelB: -1}, snap.ActiveBanks)
	require.Len(t, snap.Banks[media.ChannelA], 1)
	assert.Equal(t, Bank{Index: 0, Kind: media.KindShader, Locator: testutil.WhiteShader, Name: "white"}, snap.Banks[media.ChannelA][0])
	require.Len(t, snap.Banks[media.ChannelB], 1)
	assert.Equal(t, "loop.mp4", snap.Banks[media.ChannelB][0].Name)

	rows, err := db.BankRepo.FindByChannel(context.Background(), media.ChannelB)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].BankIndex)
	assert.Equal(t, "video", rows[0].Kind)

	setting, err := db.SettingRepo.FindByKey(context.Background(), Key)
	require.NoError(t, err)
	require.NotNil(t, setting)
	assert.NotContains(t, setting.Value, `"banks"`)
}

func TestRestore_RoundTrip(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	source := testutil.NewTestEngine(t, nil, nil)
	configure(t, source)
	_, err := NewService(db.DB, source.Engine).Save(ctx)
	require.NoError(t, err)

	target := testutil.NewTestEngine(t, nil, nil)
	restored, err := NewService(db.DB, target.Engine).Restore(ctx)
	require.NoError(t, err)
	assert.True(t, restored)

	e := target.Engine
	tempo := e.Tempo().State()
	assert.Equal(t, 128, tempo.BPM)
	assert.True(t, tempo.AutoSwitch)
	assert.Equal(t, 8, tempo.SwitchInterval)
	assert.InDelta(t, 0.3, e.Compositor().Crossfade(), 1e-9)
	_, dimB := e.Compositor().Dimmers()
	assert.Equal(t, 0.5, dimB)
	assert.Equal(t, 40.0, e.Effects().Values().Blur.Amount)

	a, err := e.ChannelSnapshot(media.ChannelA)
	require.NoError(t, err)
	assert.Equal(t, 0, a.ActiveIndex)
	assert.Equal(t, media.KindShader, a.ActiveKind)
	assert.Equal(t, "white", a.Banks[0].Name)
	assert.Equal(t, 1, target.Device.Compiles)

	b, err := e.ChannelSnapshot(media.ChannelB)
	require.NoError(t, err)
	assert.Equal(t, -1, b.ActiveIndex)
	assert.Equal(t, media.KindVideo, b.Banks[3].Kind)
	assert.Equal(t, "/clips/loop.mp4", b.Banks[3].Locator)
}

func TestRestore_NothingSaved(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	te := testutil.NewTestEngine(t, nil, nil)

	svc := NewService(db.DB, te.Engine)
	snap, err := svc.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)

	restored, err := svc.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Equal(t, 120, te.Engine.Tempo().BPM())
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	te := testutil.NewTestEngine(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, db.SettingRepo.SaveJSON(ctx, Key, map[string]any{"bpm": 90}))

	snap, err := NewService(db.DB, te.Engine).Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 90, snap.BPM)
	assert.Equal(t, 50.0, snap.Crossfade)
	assert.Equal(t, AutoSwitch{Enabled: false, Interval: 4}, snap.AutoSwitch)
	assert.Equal(t, -1, snap.ActiveBanks[media.ChannelA])
}

func TestRestore_ReportsBankErrors(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	source := testutil.NewTestEngine(t, nil, nil)
	require.NoError(t, source.Engine.ReplaceBank(media.ChannelB, 1, media.KindVideo, "/clips/missing.mp4", ""))
	_, err := NewService(db.DB, source.Engine).Save(ctx)
	require.NoError(t, err)

	// Point B at the video bank; there is no video backend to open it
	require.NoError(t, db.SettingRepo.SaveJSON(ctx, Key, map[string]any{
		"bpm":         100,
		"activeBanks": map[string]int{"A": -1, "B": 1},
	}))

	target := testutil.NewTestEngine(t, nil, nil)
	restored, err := NewService(db.DB, target.Engine).Restore(ctx)
	assert.True(t, restored)
	assert.Error(t, err)
	assert.Equal(t, 100, target.Engine.Tempo().BPM())

	b, err := target.Engine.ChannelSnapshot(media.ChannelB)
	require.NoError(t, err)
	assert.Equal(t, media.KindVideo, b.Banks[1].Kind)
}

func TestClear(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	te := testutil.NewTestEngine(t, nil, nil)
	configure(t, te)
	ctx := context.Background()

	svc := NewService(db.DB, te.Engine)
	_, err := svc.Save(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.Clear(ctx))

	snap, err := svc.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)
	for _, ch := range media.ChannelNames {
		rows, err := db.BankRepo.FindByChannel(ctx, ch)
		require.NoError(t, err)
		assert.Empty(t, rows)
	}
}
