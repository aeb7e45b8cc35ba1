// ABOUTME: Tests for the appcli application layer.
// ABOUTME: Covers config loading, offline CRUD through the App and rendering.

package appcli

import (
	"bytes"
	"context"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/tasksync/offline"
)

func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(t.TempDir(), "data", "tasks.db")
	}
	logger, _ := test.NewNullLogger()
	app, err := NewApp(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, app.Close())
	})
	return app
}

func TestLoadConfigDefaultsAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("TASKS_SERVER_URL", "http://example.test")

	cfg, err := LoadConfig(NewViper(path))
	require.NoError(t, err)
	assert.Equal(t, "http://example.test", cfg.ServerURL)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "tasks.db"), cfg.DBPath)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	in := DefaultConfig(path)
	in.ServerURL = "http://localhost:8080"
	in.AuthToken = "tok"
	in.DeviceID = NewDeviceID()
	in.ProbeInterval = 10 * time.Second
	require.NoError(t, SaveConfig(path, in))
	assert.True(t, ConfigExists(path))

	out, err := LoadConfig(NewViper(path))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestConfigKey(t *testing.T) {
	_, ok, err := Config{}.Key()
	require.NoError(t, err)
	assert.False(t, ok)

	want := [32]byte{1, 2, 3}
	key, ok, err := Config{StoreKey: hex.EncodeToString(want[:])}.Key()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, key)

	_, _, err = Config{StoreKey: "abcd"}.Key()
	assert.Error(t, err)
}

func TestAppOfflineCRUD(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t, Config{})
	assert.False(t, app.Monitor().IsOnline(), "no server configured")

	rec, err := app.Add(ctx, "  buy milk ", "2%")
	require.NoError(t, err)
	assert.True(t, rec.ID.IsLocal())
	assert.Equal(t, "buy milk", rec.Fields[FieldTitle])

	second, err := app.Add(ctx, "walk dog", "")
	require.NoError(t, err)

	_, err = app.SetDone(ctx, ShortID(rec.ID), true)
	require.NoError(t, err)

	list := app.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "open tasks first")
	assert.Equal(t, true, list[1].Fields[FieldCompleted])

	edited, err := app.Edit(ctx, string(second.ID), offline.Patch{}.Set(FieldTitle, "walk cat"))
	require.NoError(t, err)
	assert.Equal(t, "walk cat", edited.Fields[FieldTitle])

	require.NoError(t, app.Remove(ctx, string(rec.ID)))
	assert.Len(t, app.List(), 1)

	st := app.Status()
	assert.False(t, st.Online)
	assert.Equal(t, 1, st.Pending.Creates, "the removed local task cancels its own create")
	assert.Equal(t, 1, st.Pending.Updates)

	_, err = app.Sync(ctx)
	assert.ErrorIs(t, err, offline.ErrNotConfigured)
	assert.ErrorIs(t, app.Watch(ctx), offline.ErrNotConfigured)
}

func TestAppFindErrors(t *testing.T) {
	app := newTestApp(t, Config{})
	_, err := app.Find("")
	assert.Error(t, err)
	_, err = app.Find("missing")
	assert.ErrorIs(t, err, offline.ErrUnknownRecord)

	ctx := context.Background()
	_, err = app.Add(ctx, "a", "")
	require.NoError(t, err)
	_, err = app.Add(ctx, "b", "")
	require.NoError(t, err)
	_, err = app.Find(offline.LocalIDPrefix)
	assert.ErrorContains(t, err, "ambiguous")

	_, err = app.Add(ctx, "   ", "")
	assert.Error(t, err)
}

func TestAppSealedStoreReopens(t *testing.T) {
	ctx := context.Background()
	key := [32]byte{42}
	cfg := Config{
		DBPath:   filepath.Join(t.TempDir(), "tasks.db"),
		StoreKey: hex.EncodeToString(key[:]),
	}
	logger, _ := test.NewNullLogger()

	app, err := NewApp(ctx, cfg, logger)
	require.NoError(t, err)
	_, err = app.Add(ctx, "secret", "")
	require.NoError(t, err)
	require.NoError(t, app.Close())

	app, err = NewApp(ctx, cfg, logger)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, app.Close())
	}()
	require.Len(t, app.List(), 1)
	assert.Equal(t, "secret", app.List()[0].Fields[FieldTitle])
}

func TestRenderTasks(t *testing.T) {
	var buf bytes.Buffer
	RenderTasks(&buf, nil)
	assert.Equal(t, "No tasks.\n", buf.String())

	buf.Reset()
	local := offline.NewLocalID()
	RenderTasks(&buf, []offline.Record{
		{ID: "42", Fields: offline.Fields{FieldTitle: "synced", FieldCompleted: true}},
		{ID: local, Fields: offline.Fields{FieldTitle: "fresh"}},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[x]")
	assert.Contains(t, lines[0], "42")
	assert.Contains(t, lines[1], "[ ]")
	assert.Contains(t, lines[1], ShortID(local))
	assert.Contains(t, lines[1], "not synced")
}

func TestRenderStatus(t *testing.T) {
	var buf bytes.Buffer
	now := time.Now()
	RenderStatus(&buf, offline.Status{
		Online:   true,
		Records:  3,
		Pending:  offline.PendingCounts{Creates: 1},
		LastSync: now.Add(-time.Minute),
	}, now)
	out := buf.String()
	assert.Contains(t, out, "online")
	assert.Contains(t, out, "1 create, 0 update, 0 delete")
	assert.Contains(t, out, "1m0s ago")
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "42", ShortID("42"))
	local := offline.NewLocalID()
	short := ShortID(local)
	assert.True(t, strings.HasPrefix(string(local), short))
	assert.Less(t, len(short), len(local))
}
