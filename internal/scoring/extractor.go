package scoring

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	// MinExtractedTextLength is the shortest text accepted from a PDF.
	MinExtractedTextLength = 50
	binarySampleSize       = 1000
	binaryThreshold        = 0.3
)

var ErrUnsupportedFile = errors.New("unsupported cv file type")

// CommandRunner runs an external program and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Extractor turns an uploaded CV into plain text. PDFs go through pdftotext
// from poppler-utils.
type Extractor struct {
	run     CommandRunner
	timeout time.Duration
}

func NewExtractor(timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Extractor{run: execRunner, timeout: timeout}
}

func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read cv: %w", err)
		}
		text := sanitizeUTF8(string(data))
		if IsBinaryData(text) {
			return "", fmt.Errorf("cv %s is not plain text", filepath.Base(path))
		}
		return strings.TrimSpace(text), nil
	case ".pdf":
		return e.extractPDF(ctx, path)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(path))
	}
}

func (e *Extractor) extractPDF(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	output, err := e.run(ctx, "pdftotext", "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		return "", fmt.Errorf("PDF extraction requires 'pdftotext' (install poppler-utils): %w", err)
	}

	text := strings.TrimSpace(sanitizeUTF8(string(output)))
	if len(text) < MinExtractedTextLength {
		return "", fmt.Errorf("extracted text is too short (likely a scanned PDF): %s", filepath.Base(path))
	}
	return text, nil
}

// IsBinaryData reports content that looks like a PDF, a zip container or
// mostly non-printable bytes.
func IsBinaryData(content string) bool {
	if content == "" {
		return false
	}
	if strings.HasPrefix(content, "%PDF-") || strings.HasPrefix(content, "PK") {
		return true
	}

	sampleSize := min(binarySampleSize, len(content))
	nonPrintable := 0
	for i := 0; i < sampleSize; i++ {
		ch := content[i]
		if ch < 32 && ch != '\n' && ch != '\r' && ch != '\t' {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(sampleSize) > binaryThreshold
}
