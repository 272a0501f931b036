package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"medea/internal/core/domain"
	"medea/internal/core/ports"
	"medea/pkg/backup"

	"go.uber.org/zap"
)

// RestoreService starts the rooms of a snapshot.
type RestoreService struct {
	backupService *backup.BackupService
	control       ports.ControlService
	logger        *zap.SugaredLogger
}

// RestoreOptions contains restore options
type RestoreOptions struct {
	// OverwriteExisting applies the snapshot to rooms that already run
	// instead of skipping them.
	OverwriteExisting bool
	// PointInTime picks the newest snapshot taken at or before it.
	PointInTime *time.Time
}

// NewRestoreService creates a new restore service
func NewRestoreService(
	backupService *backup.BackupService,
	control ports.ControlService,
	logger *zap.SugaredLogger,
) *RestoreService {
	return &RestoreService{
		backupService: backupService,
		control:       control,
		logger:        logger,
	}
}

// Restore picks a snapshot per options and restores it. It returns the
// number of rooms started or reconciled; no snapshot at all is not an error.
func (rs *RestoreService) Restore(ctx context.Context, options RestoreOptions) (int, error) {
	var (
		name string
		err  error
	)
	if options.PointInTime != nil {
		name, err = rs.FindBackupByTime(ctx, *options.PointInTime)
	} else {
		name, err = rs.backupService.Latest(ctx)
	}
	if errors.Is(err, backup.ErrNoBackups) {
		rs.logger.Infow("No room snapshot to restore")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rs.RestoreFromBackup(ctx, name, options)
}

// RestoreFromBackup starts every room of the named snapshot. A room that
// fails to parse or start is logged and skipped.
func (rs *RestoreService) RestoreFromBackup(ctx context.Context, backupName string, options RestoreOptions) (int, error) {
	backupData, err := rs.backupService.RestoreBackup(ctx, backupName)
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(backupData.Rooms))
	for id := range backupData.Rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	restored := 0
	for _, id := range ids {
		if err := rs.restoreRoom(ctx, domain.RoomID(id), backupData.Rooms[id], options); err != nil {
			if errors.Is(err, domain.ErrRoomAlreadyExists) {
				rs.logger.Debugw("Skipping running room", "room_id", id)
				continue
			}
			if ctx.Err() != nil {
				return restored, ctx.Err()
			}
			rs.logger.Warnw("Failed to restore room", "room_id", id, "error", err)
			continue
		}
		restored++
	}

	rs.logger.Infow("Rooms restored",
		"backup_name", backupName,
		"taken_at", backupData.Timestamp,
		"restored", restored,
		"total", len(ids),
	)
	return restored, nil
}

func (rs *RestoreService) restoreRoom(ctx context.Context, id domain.RoomID, raw json.RawMessage, options RestoreOptions) error {
	var element domain.RoomElement
	if err := json.Unmarshal(raw, &element); err != nil {
		return fmt.Errorf("failed to unmarshal room: %w", err)
	}
	spec, err := element.ToSpec(id)
	if err != nil {
		return err
	}

	if options.OverwriteExisting {
		_, err = rs.control.Apply(ctx, spec)
	} else {
		_, err = rs.control.CreateRoom(ctx, spec)
	}
	return err
}

// FindBackupByTime finds the newest backup taken at or before targetTime.
func (rs *RestoreService) FindBackupByTime(ctx context.Context, targetTime time.Time) (string, error) {
	backups, err := rs.backupService.ListBackups(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list backups: %w", err)
	}

	var (
		closestBackup string
		closestTime   time.Time
		found         bool
	)
	for _, backupName := range backups {
		timestamp, err := backup.ParseBackupTime(backupName)
		if err != nil {
			continue
		}
		if timestamp.After(targetTime) {
			continue
		}
		if !found || timestamp.After(closestTime) {
			closestBackup = backupName
			closestTime = timestamp
			found = true
		}
	}

	if !found {
		return "", fmt.Errorf("%w before %s", backup.ErrNoBackups, targetTime.Format(time.RFC3339))
	}
	return closestBackup, nil
}
