package source

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/bobg/tokensync"
)

// Resolver locates the content-store endpoint for a node directory.
type Resolver struct {
	// EndpointDir is the name of the repository directory, normally ".ipfs".
	EndpointDir string

	// BinaryName is the executable searched for above the node directory.
	BinaryName string

	// DefaultBinary is used when no executable is found.
	DefaultBinary string

	// MaxLevels bounds the upward search for BinaryName.
	MaxLevels int
}

// NewResolver produces a Resolver from the run configuration.
func NewResolver(conf tokensync.Config) *Resolver {
	return &Resolver{
		EndpointDir:   conf.EndpointDir,
		BinaryName:    filepath.Base(conf.Fetcher.Binary),
		DefaultBinary: conf.Fetcher.Binary,
		MaxLevels:     4,
	}
}

// Resolve returns the endpoint for nodeDir.
// It checks <nodeDir>/<EndpointDir> and then <parent>/<EndpointDir>,
// failing with tokensync.ErrEndpointNotFound when neither is a directory.
func (r *Resolver) Resolve(nodeDir string) (tokensync.Endpoint, error) {
	candidates := []string{
		filepath.Join(nodeDir, r.EndpointDir),
		filepath.Join(filepath.Dir(nodeDir), r.EndpointDir),
	}
	for _, c := range candidates {
		if isDir(c) {
			return tokensync.Endpoint{Dir: c, Binary: r.findBinary(nodeDir)}, nil
		}
	}
	return tokensync.Endpoint{}, errors.Wrapf(tokensync.ErrEndpointNotFound, "node %s", nodeDir)
}

func (r *Resolver) findBinary(nodeDir string) string {
	if r.BinaryName == "" {
		return r.DefaultBinary
	}
	dir := nodeDir
	for i := 0; i <= r.MaxLevels; i++ {
		candidate := filepath.Join(dir, r.BinaryName)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0 {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return r.DefaultBinary
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
