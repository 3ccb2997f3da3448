// Package backup archives the world directory into timestamped zip files.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	units "github.com/docker/go-units"
	"github.com/klauspost/compress/zip"

	"github.com/loykin/bedrockd/internal/lockfile"
)

// ErrBackupInProgress is returned when another backup holds the lock.
var ErrBackupInProgress = errors.New("backup already in progress")

const (
	DefaultSource = "./minecraft-server/worlds"
	DefaultDir    = "./backups"
	lockName      = ".backup.lock"
	nameLayout    = "2006-01-02_15-04-05"
)

// Config selects what is archived and where archives go.
type Config struct {
	Source string `mapstructure:"source"`
	Dir    string `mapstructure:"dir"`
}

// Result describes a finished archive.
type Result struct {
	Name     string
	Path     string
	Size     int64
	Files    int
	Duration time.Duration
}

// HumanSize renders Size like "12.3MB".
func (r Result) HumanSize() string { return units.HumanSize(float64(r.Size)) }

// Name returns the archive file name for t.
func Name(t time.Time) string { return "backup_" + t.Format(nameLayout) + ".zip" }

// Archiver creates backups. At most one backup runs at a time, including
// across processes sharing the backup directory.
type Archiver struct {
	cfg    Config
	lock   *lockfile.Lock
	now    func() time.Time
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Archiver {
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		cfg:    cfg,
		lock:   lockfile.New(filepath.Join(cfg.Dir, lockName)),
		now:    time.Now,
		logger: logger.With("component", "backup"),
	}
}

// Create writes a zip of the source directory. The archive appears under its
// final name only once complete.
func (a *Archiver) Create(ctx context.Context) (Result, error) {
	info, err := os.Stat(a.cfg.Source)
	if err != nil {
		return Result{}, fmt.Errorf("backup source: %w", err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("backup source %s is not a directory", a.cfg.Source)
	}

	ok, err := a.lock.TryLock()
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, ErrBackupInProgress
	}
	defer func() { _ = a.lock.Unlock() }()

	started := a.now()
	res := Result{Name: Name(started)}
	res.Path = filepath.Join(a.cfg.Dir, res.Name)

	tmp, err := os.CreateTemp(a.cfg.Dir, res.Name+".*.tmp")
	if err != nil {
		return Result{}, fmt.Errorf("create archive: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	files, err := a.write(ctx, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close archive: %w", cerr)
	}
	if err != nil {
		return Result{}, err
	}
	if err := os.Rename(tmpPath, res.Path); err != nil {
		return Result{}, fmt.Errorf("commit archive: %w", err)
	}
	committed = true

	st, err := os.Stat(res.Path)
	if err != nil {
		return Result{}, fmt.Errorf("stat archive: %w", err)
	}
	res.Size = st.Size()
	res.Files = files
	res.Duration = time.Since(started)
	a.logger.Info("backup created", "name", res.Name, "size", res.HumanSize(), "files", files)
	return res, nil
}

// write zips the source tree into f. Entry names are relative to the source's
// parent so the archive unpacks into a "worlds/" directory.
func (a *Archiver) write(ctx context.Context, f *os.File) (int, error) {
	zw := zip.NewWriter(f)
	base := filepath.Dir(filepath.Clean(a.cfg.Source))
	files := 0
	err := filepath.WalkDir(a.cfg.Source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if d.IsDir() {
			_, err := zw.Create(name + "/")
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = name
		hdr.Method = zip.Deflate
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, src)
		_ = src.Close()
		if err != nil {
			return err
		}
		files++
		return nil
	})
	if err != nil {
		_ = zw.Close()
		return 0, fmt.Errorf("write archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("finish archive: %w", err)
	}
	return files, f.Sync()
}
