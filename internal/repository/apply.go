package repository

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
)

// ApplyPatches applies the given patch files to the working tree at dir.
// Textual patches go through git apply; executable ".sh" patches are run
// with sh, receiving the tree as their working directory. Only aggregate
// success is reported. With check set, nothing is modified.
func ApplyPatches(ctx context.Context, dir string, patches []string, check bool) bool {
	ok := true
	for _, patch := range patches {
		abs, err := filepath.Abs(patch)
		if err != nil {
			ok = false
			continue
		}
		var cmd *exec.Cmd
		if strings.HasSuffix(abs, ".sh") {
			args := []string{abs}
			if check {
				args = append(args, "--check")
			}
			cmd = exec.CommandContext(ctx, "sh", args...)
			cmd.Dir = dir
		} else {
			args := []string{"-C", dir, "apply"}
			if check {
				args = append(args, "--check")
			}
			cmd = exec.CommandContext(ctx, "git", append(args, abs)...)
		}
		if err := cmd.Run(); err != nil {
			ok = false
		}
	}
	return ok
}
