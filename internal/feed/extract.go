package feed

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ExtractText reads the file at path and returns its text content, chosen by extension.
func ExtractText(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return ExtractBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ExtractBytes extracts text from content. ext includes the leading dot (e.g. ".pdf").
// Unknown extensions are read as plain text.
func ExtractBytes(content []byte, ext string) (string, error) {
	switch ext {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".odt", ".rtf":
		return extractOpenDocument(content)
	case ".xlsx":
		return extractExcel(content)
	default:
		return extractPlain(content), nil
	}
}

// extractPlain replaces invalid UTF-8 sequences with the replacement character.
func extractPlain(content []byte) string {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "�")
	}
	return string(content)
}
