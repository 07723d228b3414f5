package feed

import (
	"testing"

	"github.com/hyperjump/chikuseki/internal/models"
)

func TestParseItems(t *testing.T) {
	text := `# HN / Reddit digest 2025-01-06

- [Show HN: tiny vector DB](https://news.ycombinator.com/item?id=1) - A vector store in 500 lines
  with day partitions.
- [Scaling test-time compute](https://arxiv.org/abs/2501.00001): new results
* [No summary](https://example.com/x)
- [Duplicate](https://news.ycombinator.com/item?id=1) - repeated link

Some closing paragraph.
`
	items := ParseItems(text)
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d: %+v", len(items), items)
	}
	if items[0].Title != "Show HN: tiny vector DB" || items[0].URL != "https://news.ycombinator.com/item?id=1" {
		t.Errorf("unexpected first item %+v", items[0])
	}
	if items[0].Summary != "A vector store in 500 lines with day partitions." {
		t.Errorf("continuation not joined: %q", items[0].Summary)
	}
	if items[1].Summary != "new results" {
		t.Errorf("colon separator: %q", items[1].Summary)
	}
	if items[2].Text() != "No summary" {
		t.Errorf("Text() without summary = %q", items[2].Text())
	}
}

func TestParseItems_noLinks(t *testing.T) {
	if items := ParseItems("# Daily report\n\n- [Title] - [Description] - [Link]\n"); len(items) != 0 {
		t.Errorf("expected no linked items, got %+v", items)
	}
}

func TestParseFileName(t *testing.T) {
	tests := []struct {
		name    string
		source  models.Source
		day     models.Day
		wantErr bool
	}{
		{"hn_reddit_2025-01-06.md", models.SourceHNReddit, "2025-01-06", false},
		{"/data/research/arxiv_2025-02-28.md", models.SourceArxiv, "2025-02-28", false},
		{"daily_report_2025-03-01.pdf", models.SourceReport, "2025-03-01", false},
		{"Arxiv_2025-03-01_v2.md", models.SourceArxiv, "2025-03-01", false},
		{"arxiv_2025-02-30.md", "", "", true},
		{"notes.md", "", "", true},
		{"arxiv_latest.md", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, day, err := ParseFileName(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if src != tt.source || day != tt.day {
				t.Errorf("got (%s, %s), want (%s, %s)", src, day, tt.source, tt.day)
			}
		})
	}
}
