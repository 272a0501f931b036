package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"medea/internal/core/domain"
	"medea/internal/core/services"
	"medea/internal/infrastructure/repositories/memory"
	"medea/pkg/backup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRoomService(t *testing.T) *services.RoomService {
	t.Helper()
	rooms := services.NewRoomService(
		services.RoomServiceConfig{PublicURL: "ws://medea.test"},
		services.NewRoomRegistry(),
		memory.NewMemoryPeerRepository,
		nil, nil, nil,
		zaptest.NewLogger(t).Sugar(),
	)
	t.Cleanup(func() {
		_ = rooms.Shutdown(context.Background())
	})
	return rooms
}

func callSpec(t *testing.T, id domain.RoomID) *domain.RoomSpec {
	t.Helper()
	spec := domain.NewRoomSpec(id)
	caller := domain.NewMemberSpec("caller", domain.PlainCredential("caller-pass"))
	caller.IdleTimeout = 3 * time.Second
	require.NoError(t, caller.AddPublish(&domain.PublishEndpointSpec{ID: "publish", P2P: domain.P2PAlways}))
	responder := domain.NewMemberSpec("responder", domain.PlainCredential("responder-pass"))
	require.NoError(t, responder.AddPlay(&domain.PlayEndpointSpec{
		ID:  "play",
		Src: domain.EndpointURI(id, "caller", "publish"),
	}))
	require.NoError(t, spec.AddMember(caller))
	require.NoError(t, spec.AddMember(responder))
	return spec
}

func newBackups(t *testing.T) (*backup.BackupService, string) {
	t.Helper()
	dir := t.TempDir()
	storage, err := backup.NewFileStorage(dir)
	require.NoError(t, err)
	return backup.NewBackupService(storage, "test"), dir
}

func roomsOf(t *testing.T, rooms *services.RoomService) map[string]domain.Element {
	t.Helper()
	elements, err := rooms.Get(context.Background(), nil)
	require.NoError(t, err)
	return elements
}

func TestSnapshotAndRestore(t *testing.T) {
	ctx := context.Background()
	backups, _ := newBackups(t)
	logger := zaptest.NewLogger(t).Sugar()

	source := newRoomService(t)
	_, err := source.CreateRoom(ctx, callSpec(t, "first"))
	require.NoError(t, err)
	_, err = source.CreateRoom(ctx, callSpec(t, "second"))
	require.NoError(t, err)

	scheduler := NewScheduler(backups, source, Config{Interval: time.Hour}, logger)
	name, err := scheduler.Snapshot(ctx)
	require.NoError(t, err)

	data, err := backups.RestoreBackup(ctx, name)
	require.NoError(t, err)
	assert.Len(t, data.Rooms, 2)
	assert.EqualValues(t, 2, data.Metadata["room_count"])

	target := newRoomService(t)
	restored, err := NewRestoreService(backups, target, logger).Restore(ctx, RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	assert.Equal(t, roomsOf(t, source), roomsOf(t, target))

	// The restored member still accepts its credential.
	_, err = target.Authorize(ctx, "first", "responder", "responder-pass")
	assert.NoError(t, err)
}

func TestRestore_SkipsOrAppliesRunningRooms(t *testing.T) {
	ctx := context.Background()
	backups, _ := newBackups(t)
	logger := zaptest.NewLogger(t).Sugar()

	source := newRoomService(t)
	_, err := source.CreateRoom(ctx, callSpec(t, "room"))
	require.NoError(t, err)
	name, err := NewScheduler(backups, source, Config{Interval: time.Hour}, logger).Snapshot(ctx)
	require.NoError(t, err)

	target := newRoomService(t)
	solo := domain.NewRoomSpec("room")
	require.NoError(t, solo.AddMember(domain.NewMemberSpec("solo", domain.PlainCredential("solo-pass"))))
	_, err = target.CreateRoom(ctx, solo)
	require.NoError(t, err)

	restore := NewRestoreService(backups, target, logger)

	restored, err := restore.RestoreFromBackup(ctx, name, RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, restored)
	room := roomsOf(t, target)["local://room"].Room
	require.NotNil(t, room)
	assert.Contains(t, room.Pipeline, "solo")

	restored, err = restore.RestoreFromBackup(ctx, name, RestoreOptions{OverwriteExisting: true})
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	room = roomsOf(t, target)["local://room"].Room
	require.NotNil(t, room)
	assert.NotContains(t, room.Pipeline, "solo")
	assert.Contains(t, room.Pipeline, "caller")
}

func TestRestore_NoSnapshot(t *testing.T) {
	backups, _ := newBackups(t)
	restored, err := NewRestoreService(backups, newRoomService(t), zaptest.NewLogger(t).Sugar()).
		Restore(context.Background(), RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, restored)
}

func TestRestore_SkipsBrokenRooms(t *testing.T) {
	ctx := context.Background()
	backups, dir := newBackups(t)

	snapshot := `{"version":"test","timestamp":"2026-03-01T12:00:00Z","rooms":{
		"bad":{"kind":"Room","id":"bad","pipeline":{"m":{"kind":"Member","credentials":{},"pipeline":{}}}},
		"good":{"kind":"Room","id":"good","pipeline":{"m":{"kind":"Member","credentials":{"plain":"x"},"pipeline":{}}}},
		"garbage":"not a room"
	}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup-20260301-120000.000.json"), []byte(snapshot), 0o600))

	target := newRoomService(t)
	restored, err := NewRestoreService(backups, target, zaptest.NewLogger(t).Sugar()).Restore(ctx, RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	assert.Equal(t, []domain.RoomID{"good"}, target.RoomIDs())
}

func TestFindBackupByTime(t *testing.T) {
	backups, dir := newBackups(t)
	for _, name := range []string{
		"backup-20260301-100000.000.json",
		"backup-20260301-110000.000.json",
		"backup-20260301-120000.000.json",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{"version":"test","rooms":{}}`), 0o600))
	}
	restore := NewRestoreService(backups, newRoomService(t), zaptest.NewLogger(t).Sugar())

	name, err := restore.FindBackupByTime(context.Background(), time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "backup-20260301-110000.000.json", name)

	name, err = restore.FindBackupByTime(context.Background(), time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "backup-20260301-110000.000.json", name)

	_, err = restore.FindBackupByTime(context.Background(), time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, backup.ErrNoBackups)
}

func TestScheduler_Retention(t *testing.T) {
	ctx := context.Background()
	backups, dir := newBackups(t)
	for _, name := range []string{
		"backup-20200101-000000.000.json",
		"backup-20200102-000000.000.json",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{"version":"test","rooms":{}}`), 0o600))
	}

	scheduler := NewScheduler(backups, newRoomService(t), Config{Interval: time.Hour, Retention: 24 * time.Hour}, zaptest.NewLogger(t).Sugar())
	scheduler.runBackup(ctx)

	names, err := backups.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.NotContains(t, names[0], "2020")
}

func TestScheduler_KeepsNewestWhenAllExpired(t *testing.T) {
	ctx := context.Background()
	backups, dir := newBackups(t)
	for _, name := range []string{
		"backup-20200101-000000.000.json",
		"backup-20200102-000000.000.json",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{"version":"test","rooms":{}}`), 0o600))
	}

	scheduler := NewScheduler(backups, newRoomService(t), Config{Interval: time.Hour, Retention: time.Hour}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, scheduler.cleanupOldBackups(ctx))

	names, err := backups.ListBackups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"backup-20200102-000000.000.json"}, names)
}

func TestScheduler_StartStop(t *testing.T) {
	backups, _ := newBackups(t)
	rooms := newRoomService(t)
	_, err := rooms.CreateRoom(context.Background(), callSpec(t, "room"))
	require.NoError(t, err)

	scheduler := NewScheduler(backups, rooms, Config{Interval: 10 * time.Millisecond}, zaptest.NewLogger(t).Sugar())
	done := make(chan struct{})
	go func() {
		scheduler.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		names, err := backups.ListBackups(context.Background())
		return err == nil && len(names) > 0
	}, time.Second, 10*time.Millisecond)

	scheduler.Stop()
	scheduler.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
