// Package storage archives failure snapshots (page screenshots and the
// HTML around a failed action) to a local directory or an S3 bucket.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/ignite/outreach/internal/config"
)

// Snapshot is one captured artifact of a failed action.
type Snapshot struct {
	SenderID    string
	ActionID    string
	Name        string // e.g. "screenshot.png"
	ContentType string
	Data        []byte
	TakenAt     time.Time
}

// Store persists snapshots. Save returns the location of the object.
type Store interface {
	Save(ctx context.Context, snap Snapshot) (string, error)
	Ping(ctx context.Context) error
}

// New creates the store selected by cfg.Type.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStore(cfg.LocalPath)
	case "s3":
		return NewS3Store(ctx, cfg)
	}
	return nil, fmt.Errorf("%w: %q", config.ErrInvalidStorageType, cfg.Type)
}

// objectKey lays snapshots out by day and sender:
// <prefix>/2026-03-10/<sender>/<action>-<unix>-<name>
func objectKey(prefix string, snap Snapshot) string {
	at := snap.TakenAt
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	name := snap.Name
	if name == "" {
		name = "snapshot.bin"
	}
	file := fmt.Sprintf("%s-%d-%s", sanitize(snap.ActionID), at.Unix(), sanitize(name))
	return path.Join(strings.Trim(prefix, "/"), at.Format("2006-01-02"), sanitize(snap.SenderID), file)
}

func sanitize(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}
