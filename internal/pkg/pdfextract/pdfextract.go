package pdfextract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extract returns the plain text of a PDF held in memory. A PDF without a
// text layer yields "" and a nil error.
func Extract(data []byte) (text string, err error) {
	if len(data) == 0 {
		return "", fmt.Errorf("pdf is empty")
	}
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("parse pdf failed: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf failed: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text failed: %w", err)
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Extractor adapts Extract to the ingestion pipeline's text extractor port.
type Extractor struct{}

func (Extractor) Extract(data []byte) (string, error) {
	return Extract(data)
}
