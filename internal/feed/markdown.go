package feed

import (
	"bufio"
	"regexp"
	"strings"
)

// Item is one linked entry of a research markdown file.
type Item struct {
	Title   string
	URL     string
	Summary string
}

// linkItem matches "- [Title](URL) - summary" bullets; the summary separator is optional.
var linkItem = regexp.MustCompile(`^\s*[-*+]\s+\[([^\]]+)\]\(([^)\s]+)\)\s*(?:[-–—:]\s*)?(.*)$`)

// ParseItems returns the linked bullet items of a markdown document in file order.
// Indented lines following an item extend its summary. Items repeating an earlier URL are dropped.
func ParseItems(text string) []Item {
	var (
		items []Item
		seen  = make(map[string]bool)
		cur   *Item
	)
	flush := func() {
		if cur != nil && !seen[cur.URL] {
			seen[cur.URL] = true
			cur.Summary = strings.TrimSpace(cur.Summary)
			items = append(items, *cur)
		}
		cur = nil
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := linkItem.FindStringSubmatch(line); m != nil {
			flush()
			cur = &Item{Title: strings.TrimSpace(m[1]), URL: m[2], Summary: m[3]}
			continue
		}
		if cur == nil {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || (line[0] != ' ' && line[0] != '\t') {
			flush()
			continue
		}
		cur.Summary += " " + trimmed
	}
	flush()
	return items
}

// Text returns the indexed text of an item.
func (it Item) Text() string {
	if it.Summary == "" {
		return it.Title
	}
	return it.Title + "\n" + it.Summary
}
