package app

import (
	"context"
	"fmt"
	"os"

	"github.com/hyperjump/chikuseki/internal/feed"
	"github.com/hyperjump/chikuseki/internal/models"
)

// LoadPaths loads feed documents from files and directories with the app's loader and patterns.
func (a *App) LoadPaths(ctx context.Context, paths []string) ([]*models.Document, error) {
	return LoadPaths(ctx, a.Loader, a.Config.Feed.Patterns, paths)
}

// LoadPaths loads feed documents from files and directories. Directories are walked with
// patterns; files are loaded regardless of pattern.
func LoadPaths(ctx context.Context, loader *feed.Loader, patterns []string, paths []string) ([]*models.Document, error) {
	var docs []*models.Document
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		var loaded []*models.Document
		if info.IsDir() {
			loaded, err = loader.LoadDir(ctx, p, patterns)
		} else {
			loaded, err = loader.LoadFile(p)
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, loaded...)
	}
	return docs, nil
}
