package feed

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hyperjump/chikuseki/internal/models"
)

// filePrefixes maps the drop-folder file name prefix to its source.
var filePrefixes = []struct {
	prefix string
	source models.Source
}{
	{"hn_reddit_", models.SourceHNReddit},
	{"arxiv_", models.SourceArxiv},
	{"daily_report_", models.SourceReport},
}

var dayPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// UnrecognizedFileError is returned for files whose name does not follow the drop-folder convention.
type UnrecognizedFileError struct {
	Name string
}

func (e *UnrecognizedFileError) Error() string {
	return fmt.Sprintf("unrecognized feed file name %q (want hn_reddit_|arxiv_|daily_report_ + YYYY-MM-DD)", e.Name)
}

// ParseFileName returns the source and day encoded in a drop-folder file name,
// e.g. "arxiv_2025-01-06.md" or "daily_report_2025-01-06.pdf".
func ParseFileName(path string) (models.Source, models.Day, error) {
	name := filepath.Base(path)
	lower := strings.ToLower(name)
	for _, p := range filePrefixes {
		if !strings.HasPrefix(lower, p.prefix) {
			continue
		}
		m := dayPattern.FindString(lower[len(p.prefix):])
		if m == "" {
			break
		}
		day, err := models.ParseDay(m)
		if err != nil {
			return "", "", &UnrecognizedFileError{Name: name}
		}
		return p.source, day, nil
	}
	return "", "", &UnrecognizedFileError{Name: name}
}
