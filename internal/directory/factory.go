package directory

import (
	"context"
	"strings"
)

// Load picks the directory source: postgres when a database URL is set,
// otherwise the YAML file, otherwise an empty directory.
func Load(ctx context.Context, path, databaseURL string) (*Directory, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return LoadPostgres(ctx, databaseURL)
	}
	if strings.TrimSpace(path) != "" {
		return LoadFile(path)
	}
	return New(nil), nil
}
