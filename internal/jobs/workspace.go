package jobs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultWorkspaceDir is the directory name used under the OS temp dir when no root is configured.
const DefaultWorkspaceDir = "pdf-compression"

// Workspace owns the per-job working directories.
// Path: root/{id}
type Workspace struct {
	root string
}

// NewWorkspace creates the root directory. An empty root selects os.TempDir()/pdf-compression.
func NewWorkspace(root string) (*Workspace, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), DefaultWorkspaceDir)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root %s: %w", root, err)
	}
	return &Workspace{root: root}, nil
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string {
	return w.root
}

// Prepare creates the working directory for a job.
func (w *Workspace) Prepare(id string) (string, error) {
	dir, err := w.dir(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	return dir, nil
}

// Remove deletes a job's working directory. Missing directories are not an error.
func (w *Workspace) Remove(id string) error {
	dir, err := w.dir(id)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// Path returns the location of name inside a job's working directory.
// Only the base name of name is used.
func (w *Workspace) Path(id, name string) (string, error) {
	dir, err := w.dir(id)
	if err != nil {
		return "", err
	}
	base := filepath.Base(name)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(dir, base), nil
}

func (w *Workspace) dir(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid job id %q", id)
	}
	return filepath.Join(w.root, id), nil
}
