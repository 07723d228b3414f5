package feed

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	docxDefaultPart  = "word/document.xml"
	docxContentTypes = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// <w:t>text</w:t>, with or without attributes
	docxText = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// Override elements naming the main part, in either attribute order
	docxMainPart = []*regexp.Regexp{
		regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainType) + `"`),
		regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainType) + `"[^>]+PartName="([^"]+)"`),
	}
)

func readZipPart(zr *zip.Reader, name string) ([]byte, bool, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, false, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		return data, true, err
	}
	return nil, false, nil
}

// mainDocumentPart returns the main part path from [Content_Types].xml, or the default path.
func mainDocumentPart(zr *zip.Reader) string {
	data, ok, err := readZipPart(zr, docxContentTypes)
	if err != nil || !ok {
		return docxDefaultPart
	}
	for _, re := range docxMainPart {
		if m := re.FindSubmatch(data); len(m) > 1 {
			return strings.TrimPrefix(string(m[1]), "/")
		}
	}
	return docxDefaultPart
}

// extractDOCX joins every <w:t> run of the main document part with spaces.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	part := mainDocumentPart(zr)
	data, ok, err := readZipPart(zr, part)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: read %s: %w", part, err)
	}
	if !ok {
		return "", fmt.Errorf("extract DOCX: %s not found", part)
	}
	var runs []string
	for _, m := range docxText.FindAllSubmatch(data, -1) {
		if t := strings.TrimSpace(string(m[1])); t != "" {
			runs = append(runs, t)
		}
	}
	return strings.Join(runs, " "), nil
}
