package parser

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestParsePlainText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("Line one.\r\nLine   two.\n\n\n\nLine three.\n"), 0644); err != nil {
		t.Fatal(err)
	}

	p := NewDocumentParser(testLogger())
	text, err := p.Parse(path)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	expected := "Line one.\nLine two.\n\nLine three."
	if text != expected {
		t.Errorf("Parse = %q, want %q", text, expected)
	}
}

func TestParseUnsupportedExtensionFallsBackToPlainText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.xyz")
	if err := os.WriteFile(path, []byte("raw payload content"), 0644); err != nil {
		t.Fatal(err)
	}

	p := NewDocumentParser(testLogger())
	text, err := p.Parse(path)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if text != "raw payload content" {
		t.Errorf("Parse = %q, want fallback plain text", text)
	}
}

func TestParseEmptyFileIsParseError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(path, []byte("   \n  \n"), 0644); err != nil {
		t.Fatal(err)
	}

	p := NewDocumentParser(testLogger())
	_, err := p.Parse(path)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestParseMissingFileIsParseError(t *testing.T) {
	p := NewDocumentParser(testLogger())
	_, err := p.Parse(filepath.Join(t.TempDir(), "missing.txt"))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}
