package report

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// openCommand returns the host command that opens path in the default viewer.
func openCommand(goos, path string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{path}
	case "windows":
		return "cmd", []string{"/c", "start", "", path}
	default:
		return "xdg-open", []string{path}
	}
}

func openInViewer(path string) error {
	name, args := openCommand(runtime.GOOS, path)
	if err := exec.Command(name, args...).Start(); err != nil {
		return fmt.Errorf("report: open %s: %w", path, err)
	}
	return nil
}

// Open launches the host viewer on path. A failure is logged and otherwise
// ignored; reports stay on disk either way.
func (g *Generator) Open(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	if err := g.opener(path); err != nil {
		g.logger.Warn("report: could not open viewer", "path", path, "error", err)
		return
	}
	g.logger.Debug("report: opened in viewer", "path", path)
}
