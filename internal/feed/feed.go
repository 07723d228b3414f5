// Package feed turns the research drop folder written by the daily agents into documents.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hyperjump/chikuseki/internal/models"
	"go.uber.org/zap"
)

// Loader reads feed files into documents.
type Loader struct {
	logger *zap.Logger
}

// NewLoader returns a loader. logger may be nil.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger}
}

// LoadFile returns the documents of one feed file. Markdown files with linked bullet items
// yield one document per item keyed by URL; any other file is one document keyed by its name.
func (l *Loader) LoadFile(path string) ([]*models.Document, error) {
	source, day, err := ParseFileName(path)
	if err != nil {
		return nil, err
	}
	text, err := ExtractText(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	name := filepath.Base(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".md" || ext == ".markdown" {
		if items := ParseItems(text); len(items) > 0 {
			docs := make([]*models.Document, 0, len(items))
			for _, it := range items {
				docs = append(docs, &models.Document{
					Source:     source,
					Date:       day,
					ExternalID: it.URL,
					Title:      it.Title,
					URL:        it.URL,
					RawText:    it.Text(),
				})
			}
			l.logger.Debug("loaded feed items", zap.String("file", name), zap.Int("items", len(docs)))
			return docs, nil
		}
	}
	return []*models.Document{{
		Source:     source,
		Date:       day,
		ExternalID: name,
		Title:      strings.TrimSuffix(name, filepath.Ext(name)),
		RawText:    text,
	}}, nil
}

// Match reports whether rel (slash-separated, relative to a feed directory) matches any pattern.
func Match(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// LoadDir walks dir and loads every file matching patterns, in path order.
// Files that do not follow the naming convention are skipped; other read errors abort.
func (l *Loader) LoadDir(ctx context.Context, dir string, patterns []string) ([]*models.Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("feed directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("feed directory: %s is not a directory", dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if Match(patterns, filepath.ToSlash(rel)) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var docs []*models.Document
	for _, p := range paths {
		fileDocs, err := l.LoadFile(p)
		if err != nil {
			var unrecognized *UnrecognizedFileError
			if errors.As(err, &unrecognized) {
				l.logger.Debug("skipping feed file", zap.String("path", p), zap.Error(err))
				continue
			}
			return nil, err
		}
		docs = append(docs, fileDocs...)
	}
	l.logger.Info("loaded feed directory", zap.String("dir", dir), zap.Int("files", len(paths)), zap.Int("documents", len(docs)))
	return docs, nil
}
