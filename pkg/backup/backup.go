package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

const (
	namePrefix = "backup-"
	nameSuffix = ".json"
	// nameLayout keeps milliseconds so two snapshots in one second do not collide.
	nameLayout = "20060102-150405.000"
)

// ErrNoBackups is returned by Latest when the storage holds no backup.
var ErrNoBackups = errors.New("no backups found")

// BackupData is one snapshot of the running rooms. Rooms holds the
// serialized room elements keyed by room id.
type BackupData struct {
	Version   string                     `json:"version"`
	Timestamp time.Time                  `json:"timestamp"`
	Rooms     map[string]json.RawMessage `json:"rooms"`
	Metadata  map[string]interface{}     `json:"metadata,omitempty"`
}

// Storage defines interface for backup storage
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// BackupService handles backup operations
type BackupService struct {
	storage Storage
	version string
	now     func() time.Time
}

// NewBackupService creates a new backup service
func NewBackupService(storage Storage, version string) *BackupService {
	return &BackupService{
		storage: storage,
		version: version,
		now:     time.Now,
	}
}

// CreateBackup stamps data and stores it under a name derived from its timestamp.
func (bs *BackupService) CreateBackup(ctx context.Context, data *BackupData) (string, error) {
	data.Version = bs.version
	data.Timestamp = bs.now().UTC()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal backup data: %w", err)
	}

	backupName := namePrefix + data.Timestamp.Format(nameLayout) + nameSuffix
	if err := bs.storage.Save(ctx, backupName, bytes.NewReader(jsonData)); err != nil {
		return "", fmt.Errorf("failed to save backup: %w", err)
	}
	return backupName, nil
}

// RestoreBackup restores data from a backup
func (bs *BackupService) RestoreBackup(ctx context.Context, name string) (*BackupData, error) {
	reader, err := bs.storage.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load backup: %w", err)
	}
	defer reader.Close()

	var backupData BackupData
	if err := json.NewDecoder(reader).Decode(&backupData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal backup %s: %w", name, err)
	}
	if backupData.Version == "" {
		return nil, fmt.Errorf("invalid backup %s: missing version", name)
	}
	return &backupData, nil
}

// ListBackups returns the backup names, oldest first.
func (bs *BackupService) ListBackups(ctx context.Context) ([]string, error) {
	names, err := bs.storage.List(ctx, namePrefix)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, name := range names {
		if _, err := ParseBackupTime(name); err == nil {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Latest returns the name of the newest backup.
func (bs *BackupService) Latest(ctx context.Context) (string, error) {
	names, err := bs.ListBackups(ctx)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrNoBackups
	}
	return names[len(names)-1], nil
}

// DeleteBackup deletes a backup
func (bs *BackupService) DeleteBackup(ctx context.Context, name string) error {
	return bs.storage.Delete(ctx, name)
}

// ParseBackupTime extracts the creation time from a backup name.
func ParseBackupTime(name string) (time.Time, error) {
	if !strings.HasPrefix(name, namePrefix) || !strings.HasSuffix(name, nameSuffix) {
		return time.Time{}, fmt.Errorf("not a backup name: %q", name)
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, namePrefix), nameSuffix)
	return time.Parse(nameLayout, stamp)
}
