package artifact

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FileResolver resolves file locators ("file://" URLs and absolute paths)
// against the local filesystem.
type FileResolver struct{}

// NewFileResolver creates a filesystem-backed resolver.
func NewFileResolver() *FileResolver {
	return &FileResolver{}
}

// Resolve implements Resolver. Locators that are not file paths return
// (nil, nil); stat failures on recognized paths are reported.
func (r *FileResolver) Resolve(ctx context.Context, locator string) (*Metadata, error) {
	path, ok := filePath(locator)
	if !ok {
		return nil, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	return &Metadata{
		Name:       filepath.Base(path),
		Locator:    locator,
		Size:       info.Size(),
		ModifiedAt: info.ModTime(),
	}, nil
}

// filePath extracts a local path from a locator, or reports that the
// locator is not file-like.
func filePath(locator string) (string, bool) {
	if strings.HasPrefix(locator, "file://") {
		u, err := url.Parse(locator)
		if err != nil {
			return "", false
		}
		return u.Path, true
	}
	if filepath.IsAbs(locator) {
		return locator, true
	}
	return "", false
}

// Ensure FileResolver implements Resolver.
var _ Resolver = (*FileResolver)(nil)
