// Package backup takes point-in-time copies of the connection database.
package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	filePrefix   = "reaper-"
	stampLayout  = "20060102-150405"
	fileSuffix   = ".db"
	minRetention = 1
)

var backupPattern = regexp.MustCompile(`^reaper-\d{8}-\d{6}\.db$`)

// Info describes a backup file.
type Info struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service writes backups with VACUUM INTO and keeps the newest Retention
// of them.
type Service struct {
	db        *sql.DB
	dir       string
	retention int
	logger    *slog.Logger
	now       func() time.Time

	// mu serializes Backup and Prune so two snapshots never share a name.
	mu sync.Mutex
}

// NewService creates a backup service writing into dir.
func NewService(db *sql.DB, dir string, retention int, logger *slog.Logger) *Service {
	if retention < minRetention {
		retention = minRetention
	}
	return &Service{
		db:        db,
		dir:       dir,
		retention: retention,
		logger:    logger.With(slog.String("component", "backup")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Backup snapshots the database and prunes old copies.
func (s *Service) Backup(ctx context.Context) (*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	now := s.now()
	filename := filePrefix + now.Format(stampLayout) + fileSuffix
	dest := filepath.Join(s.dir, filename)
	if _, err := os.Stat(dest); err == nil {
		return nil, fmt.Errorf("backup %s already exists", filename)
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return nil, fmt.Errorf("VACUUM INTO: %w", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat backup file: %w", err)
	}
	s.logger.Info("backup complete", slog.String("filename", filename), slog.Int64("size", info.Size()))

	if err := s.prune(); err != nil {
		s.logger.Warn("pruning backups", slog.Any("error", err))
	}
	return &Info{Filename: filename, Size: info.Size(), CreatedAt: now}, nil
}

// List returns backups newest first. A missing directory yields an empty
// list.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []Info{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	backups := []Info{}
	for _, entry := range entries {
		if entry.IsDir() || !backupPattern.MatchString(entry.Name()) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(entry.Name(), filePrefix), fileSuffix)
		ts, err := time.Parse(stampLayout, stamp)
		if err != nil {
			ts = fi.ModTime().UTC()
		}
		backups = append(backups, Info{Filename: entry.Name(), Size: fi.Size(), CreatedAt: ts})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// prune must be called with mu held.
func (s *Service) prune() error {
	backups, err := s.List()
	if err != nil {
		return err
	}
	if len(backups) <= s.retention {
		return nil
	}
	var errs []error
	for _, b := range backups[s.retention:] {
		if err := os.Remove(filepath.Join(s.dir, b.Filename)); err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Info("pruned old backup", slog.String("filename", b.Filename))
	}
	return errors.Join(errs...)
}

// StartScheduler runs backups on a fixed interval until the context is canceled.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	s.logger.Info("backup scheduler started",
		slog.String("interval", interval.String()),
		slog.Int("retention", s.retention))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("backup scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Backup(ctx); err != nil {
				s.logger.Error("scheduled backup failed", slog.Any("error", err))
			}
		}
	}
}
