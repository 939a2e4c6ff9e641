package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"tilepipe/internal/fileutil"
	"tilepipe/internal/services"
)

const lockRetryDelay = 25 * time.Millisecond

// Local keeps a container as a directory under a root. Writers take an
// exclusive advisory lock per artifact and readers a shared one, so a reader
// never copies a file another process is replacing.
type Local struct {
	container string
	dir       string
}

// NewLocal creates the container directory under root.
func NewLocal(root, container string) (*Local, error) {
	if strings.TrimSpace(container) == "" || strings.ContainsAny(container, `/\`) {
		return nil, services.Wrap(services.ErrConfiguration, "", "local storage", fmt.Sprintf("invalid container %q", container), nil)
	}
	dir, err := filepath.Abs(filepath.Join(root, container))
	if err != nil {
		return nil, services.Wrap(services.ErrStore, container, "resolve container directory", "", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, ".locks"), 0o755); err != nil {
		return nil, services.Wrap(services.ErrStore, container, "create container directory", dir, err)
	}
	return &Local{container: container, dir: dir}, nil
}

func (l *Local) Container() string { return l.container }

// Dir returns the absolute container directory.
func (l *Local) Dir() string { return l.dir }

func (l *Local) lock(name string) *flock.Flock {
	return flock.New(filepath.Join(l.dir, ".locks", name+".lock"))
}

func (l *Local) Store(ctx context.Context, name, localPath string) (string, error) {
	if err := validateName(l.container, name); err != nil {
		return "", err
	}
	lock := l.lock(name)
	if _, err := lock.TryLockContext(ctx, lockRetryDelay); err != nil {
		return "", services.Wrap(services.ErrStore, l.container, "lock artifact", name, err)
	}
	defer func() { _ = lock.Unlock() }()

	dst := filepath.Join(l.dir, name)
	if err := fileutil.CopyFileAtomic(localPath, dst, time.Time{}); err != nil {
		return "", services.Wrap(services.ErrStore, l.container, "store artifact", name, err)
	}
	return dst, nil
}

func (l *Local) GetIfNewer(ctx context.Context, name, outputPath string) (bool, error) {
	if err := validateName(l.container, name); err != nil {
		return false, err
	}
	lock := l.lock(name)
	if _, err := lock.TryRLockContext(ctx, lockRetryDelay); err != nil {
		return false, services.Wrap(services.ErrStore, l.container, "lock artifact", name, err)
	}
	defer func() { _ = lock.Unlock() }()

	src := filepath.Join(l.dir, name)
	srcInfo, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) {
		return false, services.Wrap(services.ErrNotFound, l.container, "get artifact", name, err)
	}
	if err != nil {
		return false, services.Wrap(services.ErrStore, l.container, "stat artifact", name, err)
	}
	if !isStale(outputPath, srcInfo.ModTime()) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return false, services.Wrap(services.ErrStore, l.container, "prepare output", outputPath, err)
	}
	if err := fileutil.CopyFileAtomic(src, outputPath, srcInfo.ModTime()); err != nil {
		return false, services.Wrap(services.ErrStore, l.container, "get artifact", name, err)
	}
	return true, nil
}

func (l *Local) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, services.Wrap(services.ErrStore, l.container, "list artifacts", "", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Owns reports whether location is a file inside this container.
func (l *Local) Owns(location string) bool {
	abs, err := filepath.Abs(location)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == l.dir
}

// Fetch copies the artifact at location into destDir under its stored name.
func (l *Local) Fetch(ctx context.Context, location, destDir string) (string, error) {
	name := filepath.Base(location)
	dest := filepath.Join(destDir, name)
	if _, err := l.GetIfNewer(ctx, name, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// isStale reports whether the file at path is missing or older than remote.
func isStale(path string, remote time.Time) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return remote.After(info.ModTime())
}
