package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// File modes encode visibility on disk. LocalFileServer only serves files
// that are readable by others.
const (
	publicFileMode  fs.FileMode = 0o644
	privateFileMode fs.FileMode = 0o600
	dirMode         fs.FileMode = 0o755
)

// LocalDriver stores files under a directory on the local disk. Config.RootPath
// is that directory and Config.URL (or the serve route) is the public base URL.
type LocalDriver struct {
	root    string
	baseURL string
}

// NewLocalDriver creates a local driver. baseURL is used when cfg.URL is empty.
func NewLocalDriver(cfg Config, baseURL string) (*LocalDriver, error) {
	if cfg.RootPath == "" {
		return nil, newError(ErrInvalidConfig, "make", DriverLocal, "", errors.New("root_path is required"))
	}
	root, err := filepath.Abs(cfg.RootPath)
	if err != nil {
		return nil, newError(ErrInvalidConfig, "make", DriverLocal, "", err)
	}
	if cfg.URL != "" {
		baseURL = cfg.URL
	}
	return &LocalDriver{root: root, baseURL: baseURL}, nil
}

// Name implements Driver
func (d *LocalDriver) Name() string { return DriverLocal }

// Root returns the absolute directory files are stored under
func (d *LocalDriver) Root() string { return d.root }

// Location implements Locator
func (d *LocalDriver) Location() string {
	return Config{Driver: DriverLocal, RootPath: d.root}.Location()
}

func (d *LocalDriver) fullPath(op, p string) (string, string, error) {
	cleaned, ok := cleanPath(p)
	if !ok {
		return "", "", newError(ErrInvalidPath, op, DriverLocal, p, nil)
	}
	return cleaned, filepath.Join(d.root, filepath.FromSlash(cleaned)), nil
}

// Put writes to a temporary file next to the target and renames it into
// place, so readers never observe a partial file
func (d *LocalDriver) Put(ctx context.Context, p string, contents []byte, visibility Visibility) (*FileDescriptor, error) {
	cleaned, full, err := d.fullPath("put", p)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(ErrWrite, "put", DriverLocal, p, err)
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, newError(ErrWrite, "put", DriverLocal, p, fmt.Errorf("failed to create directory: %w", err))
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, newError(ErrWrite, "put", DriverLocal, p, fmt.Errorf("failed to create temp file: %w", err))
	}
	tmpName := tmp.Name()
	cleanup := func(cause error) (*FileDescriptor, error) {
		tmp.Close()
		os.Remove(tmpName)
		return nil, newError(ErrWrite, "put", DriverLocal, p, cause)
	}

	if _, err := tmp.Write(contents); err != nil {
		return cleanup(fmt.Errorf("failed to write data: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(fmt.Errorf("failed to fsync: %w", err))
	}
	mode := privateFileMode
	if visibility == VisibilityPublic {
		mode = publicFileMode
	}
	if err := tmp.Chmod(mode); err != nil {
		return cleanup(fmt.Errorf("failed to chmod: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, newError(ErrWrite, "put", DriverLocal, p, fmt.Errorf("failed to close temp file: %w", err))
	}
	if err := ctx.Err(); err != nil {
		os.Remove(tmpName)
		return nil, newError(ErrWrite, "put", DriverLocal, p, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return nil, newError(ErrWrite, "put", DriverLocal, p, fmt.Errorf("failed to rename: %w", err))
	}

	return &FileDescriptor{
		Path:     p,
		URL:      joinURL(d.baseURL, cleaned),
		Size:     int64(len(contents)),
		MimeType: mimetype.Detect(contents).String(),
	}, nil
}

// Get implements Driver
func (d *LocalDriver) Get(ctx context.Context, p string) ([]byte, error) {
	_, full, err := d.fullPath("get", p)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(ErrRead, "get", DriverLocal, p, err)
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, newError(ErrNotFound, "get", DriverLocal, p, err)
	}
	if err != nil {
		return nil, newError(ErrRead, "get", DriverLocal, p, err)
	}
	return data, nil
}

// Delete implements Driver. A missing file is not an error.
func (d *LocalDriver) Delete(ctx context.Context, p string) error {
	_, full, err := d.fullPath("delete", p)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return newError(ErrWrite, "delete", DriverLocal, p, err)
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return newError(ErrWrite, "delete", DriverLocal, p, err)
	}
	return nil
}

// Exists implements Driver
func (d *LocalDriver) Exists(ctx context.Context, p string) (bool, error) {
	_, full, err := d.fullPath("exists", p)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, newError(ErrRead, "exists", DriverLocal, p, err)
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, newError(ErrRead, "exists", DriverLocal, p, err)
	}
	return info.Mode().IsRegular(), nil
}

// URL implements Driver
func (d *LocalDriver) URL(_ context.Context, p string) (string, error) {
	cleaned, ok := cleanPath(p)
	if !ok {
		return "", newError(ErrInvalidPath, "url", DriverLocal, p, nil)
	}
	return joinURL(d.baseURL, cleaned), nil
}

// open returns a publicly readable file for LocalFileServer
func (d *LocalDriver) open(p string) (*os.File, fs.FileInfo, error) {
	_, full, err := d.fullPath("serve", p)
	if err != nil {
		return nil, nil, err
	}
	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o004 == 0 {
		return nil, nil, newError(ErrNotFound, "serve", DriverLocal, p, err)
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, nil, newError(ErrNotFound, "serve", DriverLocal, p, err)
	}
	return f, info, nil
}
