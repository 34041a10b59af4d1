package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/proofbench/proofbench/internal/logging"
)

// Snapshotter mirrors source trees into build contexts. The copy is physical:
// file symlinks are replaced by their target's contents and directory
// symlinks are walked into, so the backend never sees a link.
type Snapshotter struct {
	Logger *slog.Logger
}

// Prepare deletes the snapshot destination and recreates it from the source
// tree. When a clean command is configured it runs in the source directory
// first and its failure aborts the snapshot.
func (s *Snapshotter) Prepare(ctx context.Context, spec SnapshotSpec, baseDir string) error {
	source, err := resolveDir(baseDir, spec.Source)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", spec.Name, err)
	}
	dest := absPath(baseDir, spec.Dest)

	if within(source, dest) {
		return fmt.Errorf("snapshot %s: destination %s is inside the source tree", spec.Name, dest)
	}
	// The destination is deleted before copying; a source inside it would go
	// with it.
	if within(dest, source) {
		return fmt.Errorf("snapshot %s: source %s is inside the destination tree", spec.Name, source)
	}

	logger := logging.Ensure(s.Logger).With("snapshot", spec.Name)

	if len(spec.Clean) > 0 {
		if err := runClean(ctx, source, spec.Clean); err != nil {
			return fmt.Errorf("snapshot %s: %w", spec.Name, err)
		}
		logger.Debug("source cleaned", "argv", strings.Join(spec.Clean, " "))
	}

	size, files, err := measureTree(source)
	if err != nil {
		return fmt.Errorf("snapshot %s: measure source: %w", spec.Name, err)
	}
	if free, err := freeBytes(filepath.Dir(dest)); err == nil && free < size {
		logger.Warn("destination filesystem is low on space", "need_bytes", size, "free_bytes", free)
	}

	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("snapshot %s: clear destination: %w", spec.Name, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("snapshot %s: create destination parent: %w", spec.Name, err)
	}

	visited := map[string]bool{}
	if err := copyTree(ctx, logger, source, dest, visited); err != nil {
		return fmt.Errorf("snapshot %s: %w", spec.Name, err)
	}

	logger.Info("snapshot prepared", "dest", dest, "files", files, "bytes", size)
	return nil
}

func resolveDir(baseDir, path string) (string, error) {
	abs := absPath(baseDir, path)
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("source %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("source %s is not a directory", abs)
	}
	return abs, nil
}

func absPath(baseDir, path string) string {
	if filepath.IsAbs(path) || baseDir == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(baseDir, path)
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}

func runClean(ctx context.Context, dir string, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(output.String())
		if detail != "" {
			return fmt.Errorf("clean command %q: %w: %s", strings.Join(argv, " "), err, detail)
		}
		return fmt.Errorf("clean command %q: %w", strings.Join(argv, " "), err)
	}
	return nil
}

// measureTree sums regular file sizes under root. Directory symlinks are not
// followed here, so the figure is approximate for link-heavy trees; it only
// feeds the free-space warning.
func measureTree(root string) (total uint64, files int, err error) {
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := os.Stat(path)
		if err != nil {
			// Broken links surface as copy errors; the measure just skips them.
			return nil
		}
		if info.Mode().IsRegular() {
			total += uint64(info.Size())
			files++
		}
		return nil
	})
	return total, files, err
}

func freeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

func copyTree(ctx context.Context, logger *slog.Logger, srcDir, dstDir string, visited map[string]bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	real, err := filepath.EvalSymlinks(srcDir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", srcDir, err)
	}
	if visited[real] {
		logger.Warn("skipping directory already copied through a link", "dir", srcDir)
		return nil
	}
	visited[real] = true

	info, err := os.Stat(srcDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dstDir, info.Mode().Perm()); err != nil {
		return err
	}

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		srcPath := filepath.Join(srcDir, entry.Name())
		dstPath := filepath.Join(dstDir, entry.Name())

		// Stat follows links, so a file symlink copies as its target's bytes.
		target, err := os.Stat(srcPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("broken symlink %s", srcPath)
			}
			return err
		}

		switch {
		case target.IsDir():
			if err := copyTree(ctx, logger, srcPath, dstPath, visited); err != nil {
				return err
			}
		case target.Mode().IsRegular():
			if err := copySnapshotFile(srcPath, dstPath, target.Mode().Perm()); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported file type %s at %s", target.Mode(), srcPath)
		}
	}
	return nil
}

func copySnapshotFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
