// Package storage keeps processed images on the local filesystem.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Skryldev/image-storage/core"
	apperrors "github.com/Skryldev/image-storage/errors"
	"github.com/Skryldev/image-storage/utils"
)

// maxSuffixAttempts bounds the search for a free name under ConflictSuffix.
const maxSuffixAttempts = 8

// imageExtensions are the extensions List reports, lower-cased.
var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
}

// LocalConfig configures a Local store.
type LocalConfig struct {
	Root      string
	URLPrefix string
	DirPerm   os.FileMode
	FilePerm  os.FileMode
}

// Local stores images under a single root directory.  The root and prefix
// are fixed at construction; every other path is derived from them.
type Local struct {
	root      string
	urlPrefix string
	dirPerm   os.FileMode
	filePerm  os.FileMode
}

// NewLocal creates the root directory if needed and returns a Local store.
func NewLocal(cfg LocalConfig) (*Local, error) {
	if cfg.DirPerm == 0 {
		cfg.DirPerm = 0o755
	}
	if cfg.FilePerm == 0 {
		cfg.FilePerm = 0o644
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "local.root", err)
	}
	if err := os.MkdirAll(root, cfg.DirPerm); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryIO, "local.root.mkdir", err)
	}
	return &Local{
		root:      root,
		urlPrefix: strings.Trim(cfg.URLPrefix, "/"),
		dirPerm:   cfg.DirPerm,
		filePerm:  cfg.FilePerm,
	}, nil
}

// Root returns the absolute upload root.
func (l *Local) Root() string { return l.root }

// Dir resolves subDir against the root.  An empty subDir is the root
// itself; anything absolute or climbing out of the root is rejected.
func (l *Local) Dir(subDir string) (string, error) {
	if subDir == "" {
		return l.root, nil
	}
	clean := filepath.Clean(filepath.FromSlash(subDir))
	if !filepath.IsLocal(clean) {
		return "", apperrors.New(apperrors.CategoryInput, "local.dir",
			fmt.Errorf("%w: %q", apperrors.ErrInvalidPath, subDir))
	}
	return filepath.Join(l.root, clean), nil
}

// Ensure makes sure the directory for subDir exists with the configured
// permissions and returns its path.  It is safe to call concurrently.
func (l *Local) Ensure(ctx context.Context, subDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.Wrap(apperrors.CategoryIO, "local.ensure", err)
	}
	dir, err := l.Dir(subDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, l.dirPerm); err != nil {
		return "", apperrors.Wrap(apperrors.CategoryIO, "local.ensure.mkdir", err)
	}
	// MkdirAll is subject to the umask.
	if err := os.Chmod(dir, l.dirPerm); err != nil {
		return "", apperrors.Wrap(apperrors.CategoryIO, "local.ensure.chmod", err)
	}
	return dir, nil
}

// WriteAtomic stores data as dir/name.  The bytes go to a temporary file in
// dir first and are moved into place afterwards, so readers never observe a
// partial image.  The returned name differs from name only under
// ConflictSuffix.
func (l *Local) WriteAtomic(ctx context.Context, dir, name string, data []byte, policy core.ConflictPolicy) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.Wrap(apperrors.CategoryIO, "local.write", err)
	}
	if err := checkName(name); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", apperrors.Wrap(apperrors.CategoryIO, "local.write.create", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", apperrors.Wrap(apperrors.CategoryIO, "local.write", err)
	}
	if err := tmp.Chmod(l.filePerm); err != nil {
		tmp.Close()
		return "", apperrors.Wrap(apperrors.CategoryIO, "local.write.chmod", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", apperrors.Wrap(apperrors.CategoryIO, "local.write.sync", err)
	}
	if err := tmp.Close(); err != nil {
		return "", apperrors.Wrap(apperrors.CategoryIO, "local.write.close", err)
	}

	final, err := l.commit(tmpPath, dir, name, policy)
	if err != nil {
		return "", err
	}
	committed = policy == core.ConflictOverwrite || policy == ""
	return final, nil
}

// commit moves tmpPath into place.  Overwrite renames over the target; the
// other policies hard-link so an existing file is detected atomically, and
// leave the temporary file for the caller to remove.
func (l *Local) commit(tmpPath, dir, name string, policy core.ConflictPolicy) (string, error) {
	switch policy {
	case core.ConflictOverwrite, "":
		if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
			return "", apperrors.Wrap(apperrors.CategoryIO, "local.write.rename", err)
		}
		return name, nil

	case core.ConflictFail:
		err := os.Link(tmpPath, filepath.Join(dir, name))
		if errors.Is(err, fs.ErrExist) {
			return "", apperrors.New(apperrors.CategoryConflict, "local.write",
				fmt.Errorf("%w: %s", apperrors.ErrFileExists, name))
		}
		if err != nil {
			return "", apperrors.Wrap(apperrors.CategoryIO, "local.write.link", err)
		}
		return name, nil

	case core.ConflictSuffix:
		candidate := name
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		for i := 0; i < maxSuffixAttempts; i++ {
			err := os.Link(tmpPath, filepath.Join(dir, candidate))
			if err == nil {
				return candidate, nil
			}
			if !errors.Is(err, fs.ErrExist) {
				return "", apperrors.Wrap(apperrors.CategoryIO, "local.write.link", err)
			}
			candidate = stem + "-" + utils.GenerateFilename("") + ext
		}
		return "", apperrors.New(apperrors.CategoryConflict, "local.write",
			fmt.Errorf("%w: no free name for %s", apperrors.ErrFileExists, name))
	}
	return "", apperrors.New(apperrors.CategoryInput, "local.write",
		fmt.Errorf("unknown conflict policy %q", policy))
}

// Stat returns the size of dir/name.
func (l *Local) Stat(dir, name string) (int64, error) {
	fi, err := os.Stat(filepath.Join(dir, name))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryIO, "local.stat", err)
	}
	return fi.Size(), nil
}

// Remove deletes subDir/name.  It reports false, with a nil error, when the
// file does not exist.  Directories are never removed.
func (l *Local) Remove(ctx context.Context, subDir, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryIO, "local.remove", err)
	}
	if err := checkName(name); err != nil {
		return false, err
	}
	dir, err := l.Dir(subDir)
	if err != nil {
		return false, err
	}
	target := filepath.Join(dir, name)

	fi, err := os.Lstat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Wrap(apperrors.CategoryIO, "local.remove.stat", err)
	}
	if fi.IsDir() {
		return false, apperrors.New(apperrors.CategoryInput, "local.remove",
			fmt.Errorf("%s is a directory", name))
	}
	if err := os.Remove(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, apperrors.Wrap(apperrors.CategoryIO, "local.remove", err)
	}
	return true, nil
}

// List returns the image files directly inside subDir, sorted by name.  A
// missing directory yields an empty list.
func (l *Local) List(ctx context.Context, subDir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return []string{}, apperrors.Wrap(apperrors.CategoryIO, "local.list", err)
	}
	dir, err := l.Dir(subDir)
	if err != nil {
		return []string{}, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return []string{}, apperrors.Wrap(apperrors.CategoryIO, "local.list", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// RelativePath returns subDir/name relative to the root, slash-separated.
func (l *Local) RelativePath(subDir, name string) string {
	return path.Join(filepath.ToSlash(subDir), name)
}

// URL returns the public URL of subDir/name: /<prefix>/<subDir>/<name>.
func (l *Local) URL(subDir, name string) string {
	return "/" + path.Join(l.urlPrefix, l.RelativePath(subDir, name))
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return apperrors.New(apperrors.CategoryInput, "local.name",
			fmt.Errorf("%w: %q", apperrors.ErrInvalidPath, name))
	}
	return nil
}
