package builder

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// runToLog executes a command with its combined output going to the build
// log.
func runToLog(ctx context.Context, dir string, log io.Writer, env []string, name string, args ...string) error {
	fmt.Fprintf(log, "+ %s %s\n", name, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = log
	cmd.Stderr = log
	cmd.Env = append(os.Environ(), env...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

// llvmBuildAndInstall builds clang from the worktree and installs it into
// installPrefix.
func llvmBuildAndInstall(ctx context.Context, worktree, installPrefix string, jobs int, configureFlags string, log io.Writer) error {
	buildDir := filepath.Join(worktree, "build")
	if err := os.MkdirAll(buildDir, 0755); err != nil {
		return err
	}

	cmakeArgs := []string{
		"../llvm", "-G", "Ninja",
		"-DCMAKE_BUILD_TYPE=Release",
		"-DLLVM_ENABLE_PROJECTS=clang",
		"-DLLVM_INCLUDE_BENCHMARKS=OFF",
		"-DLLVM_INCLUDE_TESTS=OFF",
		"-DLLVM_TARGETS_TO_BUILD=X86",
		"-DLLVM_LINK_LLVM_DYLIB=ON",
		"-DLLVM_BUILD_LLVM_DYLIB=ON",
		"-DCMAKE_INSTALL_PREFIX=" + installPrefix,
	}
	cmakeArgs = append(cmakeArgs, strings.Fields(configureFlags)...)
	if err := runToLog(ctx, buildDir, log, []string{"CC=clang", "CXX=clang++"}, "cmake", cmakeArgs...); err != nil {
		return err
	}
	return runToLog(ctx, buildDir, log, nil, "ninja", "-j", strconv.Itoa(jobs), "install")
}

// gccBuildAndInstall builds gcc from the worktree and installs it into
// installPrefix.
func gccBuildAndInstall(ctx context.Context, worktree, installPrefix string, jobs int, configureFlags string, log io.Writer) error {
	if err := runToLog(ctx, worktree, log, nil, "./contrib/download_prerequisites"); err != nil {
		return err
	}

	buildDir := filepath.Join(worktree, "build")
	if err := os.MkdirAll(buildDir, 0755); err != nil {
		return err
	}
	configureArgs := []string{
		"--disable-multilib",
		"--disable-bootstrap",
		"--enable-languages=c,c++",
		"--prefix=" + installPrefix,
	}
	configureArgs = append(configureArgs, strings.Fields(configureFlags)...)
	if err := runToLog(ctx, buildDir, log, nil, "../configure", configureArgs...); err != nil {
		return err
	}
	if err := runToLog(ctx, buildDir, log, nil, "make", "-j", strconv.Itoa(jobs)); err != nil {
		return err
	}
	return runToLog(ctx, buildDir, log, nil, "make", "install-strip")
}
