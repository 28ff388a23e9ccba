// Package persist hands a completed capture session over to durable
// storage: one users row, one captures row and one PNG file per slot, and a
// zip of the session folder.
package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/fingercap/internal/archive"
	"github.com/andresmejia3/fingercap/internal/store"
	"github.com/andresmejia3/fingercap/internal/types"
	"github.com/sirupsen/logrus"
)

// ErrIncomplete is returned when the captures do not cover all 30 slots in
// capture order.
var ErrIncomplete = errors.New("session is incomplete")

// ErrArchivePending is returned alongside a valid handle when the session was
// committed but its zip could not be built. The session is saved; the
// archive can be rebuilt with `fingercap export`.
var ErrArchivePending = errors.New("session saved but archive is pending")

// DB opens the transaction a session is saved in.
type DB interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is the set of inserts a session needs.
type Tx interface {
	InsertUser(ctx context.Context, name, gender, extra string, ts time.Time) (int, error)
	InsertCapture(ctx context.Context, userID int, fingerLabel string, captureIdx int, filePath string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type pgDB struct {
	s *store.Store
}

func (p pgDB) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.s.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// FromStore adapts a Postgres store to DB.
func FromStore(s *store.Store) DB {
	return pgDB{s: s}
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithUploader uploads every archive after it is built.
func WithUploader(u archive.Uploader) Option {
	return func(g *Gateway) { g.uploader = u }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// Gateway persists completed sessions.
type Gateway struct {
	db       DB
	files    *archive.Writer
	uploader archive.Uploader
	log      *logrus.Logger
	now      func() time.Time
}

// New returns a Gateway writing rows to db and files through w.
func New(db DB, w *archive.Writer, log *logrus.Logger, opts ...Option) *Gateway {
	g := &Gateway{db: db, files: w, log: log, now: time.Now}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Persist saves all 30 captures for subject and returns the archive handle.
// Database rows are written in one transaction; if anything fails before the
// commit, nothing is recorded and the partial folder is removed. Once the
// commit succeeds the returned handle is always valid, and the only possible
// error is ErrArchivePending.
func (g *Gateway) Persist(ctx context.Context, subject types.Subject, captures []types.Capture) (archive.Handle, error) {
	if err := checkComplete(captures); err != nil {
		return archive.Handle{}, err
	}

	ts := g.now()
	tx, err := g.db.Begin(ctx)
	if err != nil {
		return archive.Handle{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback(context.Background())
		}
	}()

	userID, err := tx.InsertUser(ctx, subject.Name, string(subject.Gender), subject.Extra, ts)
	if err != nil {
		return archive.Handle{}, fmt.Errorf("failed to insert user: %w", err)
	}

	folder := FolderName(userID, subject.Name, ts)
	h := archive.Handle{UserID: userID, Folder: folder, CreatedAt: ts}

	for _, c := range captures {
		name := c.Slot.Key() + ".png"
		path, err := g.files.SaveImage(folder, name, c.PNG)
		if err != nil {
			g.removeFolder(folder)
			return archive.Handle{}, fmt.Errorf("failed to save %s: %w", name, err)
		}
		if err := tx.InsertCapture(ctx, userID, string(c.Slot.Finger), c.Slot.Pose.Index(), filepath.ToSlash(path)); err != nil {
			g.removeFolder(folder)
			return archive.Handle{}, fmt.Errorf("failed to record %s: %w", name, err)
		}
		h.Files = append(h.Files, name)
	}

	if err := tx.Commit(ctx); err != nil {
		g.removeFolder(folder)
		return archive.Handle{}, fmt.Errorf("failed to commit session: %w", err)
	}
	committed = true

	fields := logrus.Fields{"user_id": userID, "folder": folder, "files": len(h.Files)}
	zipPath, err := g.files.Zip(folder)
	if err != nil {
		g.log.WithFields(fields).WithError(err).Error("session saved without archive")
		return h, fmt.Errorf("%w: %v", ErrArchivePending, err)
	}
	h.ZipPath = zipPath

	if g.uploader != nil {
		if url, err := g.upload(ctx, zipPath); err != nil {
			// The local archive is still there to download
			g.log.WithFields(fields).WithError(err).Warn("archive upload failed")
		} else {
			h.RemoteURL = url
		}
	}
	g.log.WithFields(fields).Info("session persisted")
	return h, nil
}

func (g *Gateway) upload(ctx context.Context, path string) (string, error) {
	key, err := g.uploader.Upload(ctx, path)
	if err != nil {
		return "", err
	}
	return g.uploader.Presign(key)
}

func (g *Gateway) removeFolder(folder string) {
	if err := os.RemoveAll(filepath.Join(g.files.DataDir, folder)); err != nil {
		g.log.WithError(err).WithField("folder", folder).Warn("failed to clean up session folder")
	}
}

func checkComplete(captures []types.Capture) error {
	if len(captures) != types.SlotCount {
		return fmt.Errorf("%w: %d of %d captures", ErrIncomplete, len(captures), types.SlotCount)
	}
	for i, c := range captures {
		if c.Slot != types.CaptureOrder[i] {
			return fmt.Errorf("%w: capture %d is %s, want %s", ErrIncomplete, i, c.Slot, types.CaptureOrder[i])
		}
		if len(c.PNG) == 0 {
			return fmt.Errorf("%w: capture %s is empty", ErrIncomplete, c.Slot)
		}
	}
	return nil
}

// FolderName is the per-session directory, e.g.
// "user_7_Ada_Lovelace_20251210_101500".
func FolderName(userID int, name string, ts time.Time) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	return fmt.Sprintf("user_%d_%s_%s", userID, safe, store.FormatTimestamp(ts))
}
