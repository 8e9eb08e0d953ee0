package compare

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const (
	WireframeDir  = "wireframes"
	ScreenshotDir = "screenshots"
	DiffDir       = "diffs"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9]`)

// SafeName maps a screen name to a file-name stem: every character outside
// [A-Za-z0-9] becomes an underscore.
func SafeName(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// Layout derives deterministic artifact paths under an output root.
type Layout struct {
	Root string
}

// Ensure creates the artifact directories.
func (l Layout) Ensure() error {
	for _, d := range []string{WireframeDir, ScreenshotDir, DiffDir} {
		if err := os.MkdirAll(filepath.Join(l.Root, d), 0o755); err != nil {
			return fmt.Errorf("compare: create %s: %w", d, err)
		}
	}
	return nil
}

func (l Layout) Wireframe(screen string) string {
	return filepath.Join(l.Root, WireframeDir, SafeName(screen)+"_wireframe.png")
}

func (l Layout) Screenshot(screen string) string {
	return filepath.Join(l.Root, ScreenshotDir, SafeName(screen)+"_webpage.png")
}

func (l Layout) Diff(screen string) string {
	return filepath.Join(l.Root, DiffDir, SafeName(screen)+"_diff.png")
}
