package pdfextract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Result is the extracted, paginated text. Each page opens with a
// `## Page N` marker; the chunker's separator cascade splits on it.
type Result struct {
	Text      string
	PageCount int
}

// Extract reads the entire content of r and extracts plain text page by
// page. Pages with no extractable text are kept as empty sections so page
// numbering stays aligned with the source document.
func Extract(r io.Reader) (*Result, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf failed: %w", err)
	}
	if len(b) == 0 {
		return &Result{}, nil
	}

	readerAt := bytes.NewReader(b)
	pdfReader, err := pdf.NewReader(readerAt, int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("open pdf failed: %w", err)
	}

	pageCount := pdfReader.NumPage()
	var out strings.Builder
	for i := 1; i <= pageCount; i++ {
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page degrades to an empty section; the
			// document as a whole still ingests.
			text = ""
		}
		fmt.Fprintf(&out, "## Page %d\n%s\n", i, strings.TrimSpace(text))
	}

	return &Result{
		Text:      out.String(),
		PageCount: pageCount,
	}, nil
}
