package feed

import (
	"fmt"
	"strings"

	"github.com/lu4p/cat"
)

// extractOpenDocument handles ODT and RTF; cat sniffs the format from the bytes.
func extractOpenDocument(content []byte) (string, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return "", fmt.Errorf("extract document: %w", err)
	}
	return strings.TrimSpace(text), nil
}
