// Package tree enumerates a build directory and fingerprints its files.
//
// Only regular files are emitted. Symlinks below the root are skipped rather
// than followed, so a link pointing outside the build directory can never be
// published. The root itself may be a symlink and is resolved before walking.
// Hidden files are included: static builds ship paths such as .well-known/.
package tree

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// MaxOpenFiles caps how many files are hashed at once.
const MaxOpenFiles = 16

// Entry is a file under the build root.
type Entry struct {
	RelativeKey string // forward-slash path relative to the root
	Path        string // host path, used for reading during upload
	Size        int64
}

// Files lists every regular file under root, keyed by relative key.
func Files(root string) (map[string]Entry, error) {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("stat build directory %s: %w", root, err)
	}
	info, err := os.Lstat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat build directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("build directory is not a directory: %s", root)
	}
	root = resolved

	entries := make(map[string]Entry)
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		entries[key] = Entry{RelativeKey: key, Path: path, Size: fi.Size()}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking build directory: %w", err)
	}

	return entries, nil
}

// Fingerprint returns the quoted hex MD5 of the file at path. The format
// matches the ETag S3 reports for a single-part upload.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return `"` + hex.EncodeToString(h.Sum(nil)) + `"`, nil
}

// Scan walks root and fingerprints every file, returning relative key -> tag.
// The files map is returned too so callers can reach host paths and sizes.
func Scan(ctx context.Context, root string) (map[string]string, map[string]Entry, error) {
	files, err := Files(root)
	if err != nil {
		return nil, nil, err
	}

	type result struct {
		key, tag string
	}
	results := make(chan result, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxOpenFiles)
	for key, e := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tag, err := Fingerprint(e.Path)
			if err != nil {
				return err
			}
			results <- result{key: key, tag: tag}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("fingerprinting build directory: %w", err)
	}
	close(results)

	tags := make(map[string]string, len(files))
	for r := range results {
		tags[r.key] = r.tag
	}
	return tags, files, nil
}
