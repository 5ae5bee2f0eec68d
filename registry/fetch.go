package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Fetcher retrieves component binaries by location.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// FileFetcher reads component binaries from the filesystem. Relative
// locations resolve against Root; absolute locations are rejected when
// Root is set, keeping definitions relocatable.
type FileFetcher struct {
	Root string
}

func (f FileFetcher) Fetch(_ context.Context, location string) ([]byte, error) {
	path := location
	if f.Root != "" {
		if filepath.IsAbs(location) || strings.HasPrefix(location, "..") {
			return nil, fmt.Errorf("location %q escapes component root", location)
		}
		path = filepath.Join(f.Root, location)
	}
	return os.ReadFile(path)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, location string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, location string) ([]byte, error) {
	return f(ctx, location)
}
