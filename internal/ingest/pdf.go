package ingest

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractPDF reads a PDF file and returns its text, page texts joined
// with blank lines. Pages that fail to parse are skipped.
func ExtractPDF(path string) (string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	totalPages := reader.NumPage()
	var pages []string
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = normalizeText(text)
		if text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return "", ErrNoText
	}
	return strings.Join(pages, "\n\n"), nil
}
