package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// ErrOutsideRoot is returned for targets that are absolute or escape the root.
var ErrOutsideRoot = errors.New("path is outside the patch root")

// OS is a file system port rooted at a directory on disk.
type OS struct {
	root string
}

// NewOS creates a port rooted at dir.
func NewOS(dir string) (*OS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving root %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("opening root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}
	return &OS{root: abs}, nil
}

// Root returns the absolute root directory.
func (f *OS) Root() string { return f.root }

// Resolve maps a patch target to an absolute path under the root.
func (f *OS) Resolve(target string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideRoot)
	}
	native := filepath.FromSlash(target)
	if filepath.IsAbs(native) || strings.HasPrefix(target, "/") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, target)
	}
	clean := filepath.Clean(native)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, target)
	}
	return securejoin.SecureJoin(f.root, clean)
}

func (f *OS) ReadFile(_ context.Context, path string) (string, error) {
	full, err := f.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (f *OS) WriteFile(_ context.Context, path, content string) error {
	full, err := f.Resolve(path)
	if err != nil {
		return err
	}
	return os.WriteFile(full, []byte(content), 0644)
}

func (f *OS) Exists(_ context.Context, path string) (bool, error) {
	full, err := f.Resolve(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (f *OS) Mkdir(_ context.Context, path string, recursive bool) error {
	full, err := f.Resolve(path)
	if err != nil {
		return err
	}
	if recursive {
		return os.MkdirAll(full, 0755)
	}
	return os.Mkdir(full, 0755)
}

// Delete removes a single file or an empty directory.
func (f *OS) Delete(_ context.Context, path string) error {
	full, err := f.Resolve(path)
	if err != nil {
		return err
	}
	return os.Remove(full)
}
