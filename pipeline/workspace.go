package pipeline

import (
	"fmt"
	"os"

	"github.com/hazyhaar/designcheck/safeio"
)

// Workspace is the output directory of a run. File names are deterministic
// per element key and iteration, so elements never overwrite each other.
type Workspace struct {
	Dir       string
	Iteration int
}

// NewWorkspace creates dir if needed.
func NewWorkspace(dir string, iteration int) (*Workspace, error) {
	if iteration <= 0 {
		iteration = 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: workspace: %w", err)
	}
	return &Workspace{Dir: dir, Iteration: iteration}, nil
}

func (w *Workspace) ReferenceName(key string) string {
	return fmt.Sprintf("%s-reference-iter%d.png", key, w.Iteration)
}

func (w *Workspace) ImplementationName(key string) string {
	return fmt.Sprintf("%s-implementation-iter%d.png", key, w.Iteration)
}

func (w *Workspace) DiffName(key string) string {
	return fmt.Sprintf("%s-diff-iter%d.png", key, w.Iteration)
}

// ReferenceCropName and ImplementationCropName hold the area around the
// differing pixels of a failed element.
func (w *Workspace) ReferenceCropName(key string) string {
	return fmt.Sprintf("%s-reference-crop-iter%d.png", key, w.Iteration)
}

func (w *Workspace) ImplementationCropName(key string) string {
	return fmt.Sprintf("%s-implementation-crop-iter%d.png", key, w.Iteration)
}

// Write stores data under name inside the workspace and returns the path.
func (w *Workspace) Write(name string, data []byte) (string, error) {
	path, err := safeio.SafePath(w.Dir, name)
	if err != nil {
		return "", fmt.Errorf("pipeline: %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("pipeline: write %s: %w", name, err)
	}
	return path, nil
}
