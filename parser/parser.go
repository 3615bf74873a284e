package parser

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"code.sajari.com/docconv/v2"
	"github.com/ledongthuc/pdf"
)

// ParseError marks content that could not be turned into text.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var wordMimeTypes = map[string]string{
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

var whitespaceRun = regexp.MustCompile(`[ \t]+`)
var blankLineRun = regexp.MustCompile(`\n{3,}`)

// DocumentParser normalizes raw file bytes into plain text. The format
// is inferred from the file extension; unsupported extensions fall back
// to plain-text reading.
type DocumentParser struct {
	logger *slog.Logger
}

func NewDocumentParser(logger *slog.Logger) *DocumentParser {
	return &DocumentParser{logger: logger}
}

func (p *DocumentParser) Parse(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &ParseError{Path: path, Err: err}
	}

	ext := strings.ToLower(filepath.Ext(path))
	var text string

	switch {
	case ext == ".pdf":
		text, err = p.extractTextFromPDF(data)
	case wordMimeTypes[ext] != "":
		text, err = p.extractTextFromWord(data, wordMimeTypes[ext])
	default:
		text = string(data)
	}

	if err != nil {
		p.logger.Error("Text extraction failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return "", &ParseError{Path: path, Err: err}
	}

	text = normalizeText(text)
	if text == "" {
		return "", &ParseError{Path: path, Err: fmt.Errorf("no text content extracted")}
	}

	return text, nil
}

func (p *DocumentParser) extractTextFromPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to create PDF reader: %v", err)
	}

	totalPage := reader.NumPage()
	p.logger.Debug("Starting PDF text extraction",
		slog.Int("total_pages", totalPage))

	var fullText strings.Builder
	for pageIndex := 1; pageIndex <= totalPage; pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			p.logger.Warn("Null page encountered",
				slog.Int("page_number", pageIndex))
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to extract text from page %d: %v", pageIndex, err)
		}

		fullText.WriteString(text)
		fullText.WriteString("\n")
	}

	if fullText.Len() == 0 {
		return "", fmt.Errorf("no text content extracted from PDF")
	}

	return fullText.String(), nil
}

func (p *DocumentParser) extractTextFromWord(data []byte, mimeType string) (string, error) {
	result, err := docconv.Convert(bytes.NewReader(data), mimeType, false)
	if err != nil {
		return "", fmt.Errorf("failed to convert Word document: %v", err)
	}

	if len(result.Body) == 0 {
		return "", fmt.Errorf("no text content extracted from Word document")
	}

	return result.Body, nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = blankLineRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
