package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"medea/internal/core/ports"
	"medea/pkg/backup"

	"go.uber.org/zap"
)

// Scheduler snapshots every running room spec on an interval.
type Scheduler struct {
	backupService *backup.BackupService
	control       ports.ControlService
	interval      time.Duration
	retention     time.Duration
	logger        *zap.SugaredLogger
	now           func() time.Time
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// Config contains scheduler configuration
type Config struct {
	Interval time.Duration
	// Retention drops snapshots older than this; zero keeps all of them.
	Retention time.Duration
}

// NewScheduler creates a new backup scheduler
func NewScheduler(
	backupService *backup.BackupService,
	control ports.ControlService,
	cfg Config,
	logger *zap.SugaredLogger,
) *Scheduler {
	return &Scheduler{
		backupService: backupService,
		control:       control,
		interval:      cfg.Interval,
		retention:     cfg.Retention,
		logger:        logger,
		now:           time.Now,
		stopChan:      make(chan struct{}),
	}
}

// Start snapshots on every tick until Stop or ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runBackup(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the backup scheduler
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *Scheduler) runBackup(ctx context.Context) {
	name, err := s.Snapshot(ctx)
	if err != nil {
		s.logger.Errorw("Room snapshot failed", "error", err)
		return
	}
	s.logger.Debugw("Room snapshot created", "backup_name", name)

	if err := s.cleanupOldBackups(ctx); err != nil {
		s.logger.Warnw("Failed to clean up old snapshots", "error", err)
	}
}

// Snapshot stores the current spec of every room and returns the backup name.
func (s *Scheduler) Snapshot(ctx context.Context) (string, error) {
	data, err := s.collectData(ctx)
	if err != nil {
		return "", err
	}
	return s.backupService.CreateBackup(ctx, data)
}

func (s *Scheduler) collectData(ctx context.Context) (*backup.BackupData, error) {
	elements, err := s.control.Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read rooms: %w", err)
	}

	data := &backup.BackupData{
		Rooms:    make(map[string]json.RawMessage, len(elements)),
		Metadata: make(map[string]interface{}),
	}
	members := 0
	for _, el := range elements {
		if el.Room == nil {
			continue
		}
		raw, err := json.Marshal(el.Room)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal room %s: %w", el.Room.ID, err)
		}
		data.Rooms[el.Room.ID] = raw
		members += len(el.Room.Pipeline)
	}

	data.Metadata["room_count"] = len(data.Rooms)
	data.Metadata["member_count"] = members
	return data, nil
}

// cleanupOldBackups removes backups older than the retention period
func (s *Scheduler) cleanupOldBackups(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}
	backups, err := s.backupService.ListBackups(ctx)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	cutoff := s.now().Add(-s.retention)
	// The newest snapshot survives whatever its age.
	for _, backupName := range backups[:max(len(backups)-1, 0)] {
		timestamp, err := backup.ParseBackupTime(backupName)
		if err != nil {
			continue
		}
		if timestamp.Before(cutoff) {
			if err := s.backupService.DeleteBackup(ctx, backupName); err != nil {
				s.logger.Warnw("Failed to delete old snapshot", "backup_name", backupName, "error", err)
				continue
			}
			s.logger.Debugw("Deleted old snapshot", "backup_name", backupName, "age", s.now().Sub(timestamp))
		}
	}
	return nil
}
