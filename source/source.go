// Package source finds node ledger databases beneath a root directory
// and resolves each node's content-store endpoint.
package source

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Layout names the fixed location of a ledger inside a node directory:
// <node>/<Subdir>/<File>.
type Layout struct {
	Subdir string
	File   string
}

// DefaultLayout is <node>/Rubix/rubix.db.
var DefaultLayout = Layout{Subdir: "Rubix", File: "rubix.db"}

// Source is one discovered ledger database.
type Source struct {
	// Path is the absolute path of the database file.
	Path string

	// Node is the base name of NodeDir.
	Node string

	// NodeDir is the directory containing Layout.Subdir.
	NodeDir string

	// ModTime is the file's modification time, truncated to microseconds.
	ModTime time.Time
}

// Enumerate walks root and returns every file matching layout, sorted by path.
// Directories and candidates that cannot be read are logged and left out.
// Only an unreadable root is an error.
func Enumerate(ctx context.Context, root string, layout Layout, logger *zap.Logger) ([]Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving root %s", root)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(err, "reading root %s", root)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("root %s is not a directory", root)
	}

	var result []Source
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return err
			}
			logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || d.Name() != layout.File {
			return nil
		}
		subdir := filepath.Dir(path)
		if filepath.Base(subdir) != layout.Subdir {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			logger.Warn("skipping unreadable candidate", zap.String("path", path), zap.Error(err))
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		nodeDir := filepath.Dir(subdir)
		result = append(result, Source{
			Path:    path,
			Node:    filepath.Base(nodeDir),
			NodeDir: nodeDir,
			ModTime: info.ModTime().Truncate(time.Microsecond),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walking %s", root)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}
