package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"tilepipe/internal/services"
)

const (
	sourceDirName = "source"
	destDirName   = "dest"
	lockFileName  = ".workspace.lock"
)

// Workspace is a per-message scratch directory with source and dest
// subdirectories. It holds an advisory lock until Remove so CleanStale
// leaves it alone while a worker is using it.
type Workspace struct {
	Root   string
	Source string
	Dest   string

	lock *flock.Flock
}

// Allocate creates a uniquely named workspace under root, prefixed with
// stage. An existing directory with the chosen name is an error, never
// reused.
func Allocate(root, stage string) (*Workspace, error) {
	return AllocateNamed(root, stage+"-"+uuid.NewString())
}

// AllocateNamed creates the workspace root/name.
func AllocateNamed(root, name string) (*Workspace, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, services.Wrap(services.ErrWorkspace, "", "allocate workspace", "work directory not configured", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, services.Wrap(services.ErrWorkspace, "", "allocate workspace", root, err)
	}
	dir := filepath.Join(root, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, services.Wrap(services.ErrWorkspace, "", "allocate workspace", fmt.Sprintf("%s already exists", dir), err)
		}
		return nil, services.Wrap(services.ErrWorkspace, "", "allocate workspace", dir, err)
	}
	ws := &Workspace{
		Root:   dir,
		Source: filepath.Join(dir, sourceDirName),
		Dest:   filepath.Join(dir, destDirName),
	}
	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil || !locked {
		_ = os.RemoveAll(dir)
		if err == nil {
			err = errors.New("workspace lock held elsewhere")
		}
		return nil, services.Wrap(services.ErrWorkspace, "", "lock workspace", dir, err)
	}
	ws.lock = lock
	for _, sub := range []string{ws.Source, ws.Dest} {
		if err := os.Mkdir(sub, 0o755); err != nil {
			ws.release()
			_ = os.RemoveAll(dir)
			return nil, services.Wrap(services.ErrWorkspace, "", "allocate workspace", sub, err)
		}
	}
	return ws, nil
}

// Remove deletes the workspace tree.
func (w *Workspace) Remove() error {
	if w == nil || w.Root == "" {
		return nil
	}
	defer w.release()
	if err := os.RemoveAll(w.Root); err != nil {
		return services.Wrap(services.ErrWorkspace, "", "remove workspace", w.Root, err)
	}
	return nil
}

func (w *Workspace) release() {
	if w.lock == nil {
		return
	}
	_ = w.lock.Unlock()
	w.lock = nil
}
