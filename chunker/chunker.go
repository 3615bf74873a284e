package chunker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/serisow/docgraph/kb_type"
	"github.com/serisow/docgraph/llm_service"
)

const (
	chunkTypeSemantic    = "semantic"
	chunkTypeFixedWindow = "fixed_window"

	fallbackKeywordCount = 5
	summaryPreviewLength = 200
	titlePreviewLength   = 80
)

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)

// Chunker splits normalized text into bounded, metadata-enriched
// chunks. When assisted segmentation is enabled an LLM proposes the
// boundaries and per-chunk title/summary/keywords; any failure of that
// call falls back locally to the deterministic fixed-window splitter.
// A single LLM failure never aborts ingestion.
type Chunker struct {
	minSize   int
	maxSize   int
	overlap   int
	llm       llm_service.LLMService
	llmConfig map[string]interface{}
	logger    *slog.Logger
}

func New(minSize, maxSize, overlap int, llm llm_service.LLMService, llmConfig map[string]interface{}, logger *slog.Logger) *Chunker {
	if maxSize <= 0 {
		maxSize = 1200
	}
	if minSize <= 0 || minSize > maxSize {
		minSize = maxSize / 6
	}
	if overlap < 0 || overlap >= maxSize {
		overlap = 0
	}
	return &Chunker{
		minSize:   minSize,
		maxSize:   maxSize,
		overlap:   overlap,
		llm:       llm,
		llmConfig: llmConfig,
		logger:    logger,
	}
}

func (c *Chunker) ChunkDocument(ctx context.Context, documentID, text string, docType kb_type.DocumentType, assisted bool) []kb_type.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if assisted && c.llm != nil {
		chunks, err := c.assistedChunks(ctx, documentID, text, docType)
		if err == nil {
			return chunks
		}
		c.logger.Warn("Assisted segmentation failed, using fixed-window splitter",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()))
	}

	return c.fallbackChunks(documentID, text, docType)
}

type assistedSegment struct {
	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
	Content  string   `json:"content"`
}

func (c *Chunker) assistedChunks(ctx context.Context, documentID, text string, docType kb_type.DocumentType) ([]kb_type.Chunk, error) {
	prompt := c.segmentationPrompt(text, docType)

	response, err := c.llm.CallLLM(ctx, c.llmConfig, prompt)
	if err != nil {
		return nil, fmt.Errorf("segmentation call failed: %w", err)
	}

	payload, ok := llm_service.RecoverJSON(response)
	if !ok {
		return nil, fmt.Errorf("no JSON payload in segmentation response")
	}

	var segments []assistedSegment
	if err := json.Unmarshal(payload, &segments); err != nil {
		return nil, fmt.Errorf("malformed segmentation payload: %w", err)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("segmentation produced no segments")
	}

	chunks := make([]kb_type.Chunk, 0, len(segments))
	for _, seg := range segments {
		content := strings.TrimSpace(seg.Content)
		if content == "" {
			continue
		}
		if len(content) > c.maxSize {
			return nil, fmt.Errorf("segment of %d chars exceeds max chunk size %d", len(content), c.maxSize)
		}
		keywords := seg.Keywords
		if len(keywords) == 0 {
			keywords = topKeywords(content, fallbackKeywordCount)
		}
		chunks = append(chunks, kb_type.Chunk{
			ID:         uuid.New().String(),
			DocumentID: documentID,
			Index:      len(chunks),
			Content:    content,
			Title:      strings.TrimSpace(seg.Title),
			Summary:    strings.TrimSpace(seg.Summary),
			Keywords:   keywords,
			ChunkType:  chunkTypeSemantic,
		})
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("segmentation produced only empty segments")
	}
	// Only the final chunk may be under the minimum.
	for i, chunk := range chunks[:len(chunks)-1] {
		if len(chunk.Content) < c.minSize {
			return nil, fmt.Errorf("segment %d of %d chars is below min chunk size %d", i, len(chunk.Content), c.minSize)
		}
	}

	return chunks, nil
}

func (c *Chunker) segmentationPrompt(text string, docType kb_type.DocumentType) string {
	kind := "business document"
	if docType == kb_type.DocumentTypeDemoCode {
		kind = "code sample with explanations"
	}
	return fmt.Sprintf(`Split the following %s into coherent segments for retrieval indexing.
Respond with a JSON array only. Each element must have the fields
"title", "summary", "keywords" (array of strings) and "content".
Segment contents must cover the document in order and each must be at
most %d characters.

Document:
%s`, kind, c.maxSize, text)
}

func (c *Chunker) fallbackChunks(documentID, text string, docType kb_type.DocumentType) []kb_type.Chunk {
	contents := c.splitFixedWindow(text)

	chunks := make([]kb_type.Chunk, 0, len(contents))
	for i, content := range contents {
		chunks = append(chunks, kb_type.Chunk{
			ID:         uuid.New().String(),
			DocumentID: documentID,
			Index:      i,
			Content:    content,
			Title:      previewTitle(content),
			Summary:    previewSummary(content),
			Keywords:   topKeywords(content, fallbackKeywordCount),
			ChunkType:  chunkTypeFixedWindow,
		})
	}
	return chunks
}

// splitFixedWindow accumulates words up to maxSize characters per chunk
// and carries a trailing overlap window into the next chunk. Non-final
// chunks also hold the minimum bound: when a near-maxSize word would
// force an early cut, the chunk is filled with a prefix of that word
// instead of being emitted undersized.
func (c *Chunker) splitFixedWindow(text string) []string {
	words := splitLongWords(strings.Fields(text), c.maxSize)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var currentChunk []string
	currentSize := 0

	for i := 0; i < len(words); i++ {
		word := words[i]
		wordSize := len(word)
		if currentSize > 0 {
			wordSize++ // joining space
		}

		if currentSize+wordSize <= c.maxSize || len(currentChunk) == 0 {
			currentChunk = append(currentChunk, word)
			currentSize += wordSize
			continue
		}

		if currentSize < c.minSize {
			// Fill up with a prefix of the word; the remainder
			// continues the text directly, without an overlap.
			head, tail := splitWordAt(word, c.maxSize-currentSize-1)
			if head != "" {
				currentChunk = append(currentChunk, head)
			}
			chunks = append(chunks, strings.Join(currentChunk, " "))
			currentChunk = nil
			currentSize = 0
			if tail != "" {
				words[i] = tail
				i--
			}
			continue
		}

		chunks = append(chunks, strings.Join(currentChunk, " "))
		currentChunk = overlapTail(currentChunk, c.overlap)
		currentSize = len(strings.Join(currentChunk, " "))

		// Drop the overlap when it leaves no room for the word.
		if currentSize+len(word)+1 > c.maxSize {
			currentChunk = nil
			currentSize = 0
		}
		i--
	}

	if len(currentChunk) > 0 {
		chunks = append(chunks, strings.Join(currentChunk, " "))
	}

	return chunks
}

// overlapTail returns the trailing words of a chunk whose joined length
// fits within the overlap window.
func overlapTail(words []string, overlap int) []string {
	if overlap <= 0 {
		return nil
	}
	size := 0
	start := len(words)
	for i := len(words) - 1; i >= 0; i-- {
		size += len(words[i]) + 1
		if size > overlap {
			break
		}
		start = i
	}
	if start >= len(words) {
		return nil
	}
	tail := make([]string, len(words)-start)
	copy(tail, words[start:])
	return tail
}

func splitLongWords(words []string, maxSize int) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		for len(w) > maxSize {
			var head string
			head, w = splitWordAt(w, maxSize)
			out = append(out, head)
		}
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// splitWordAt cuts word after at most n bytes, backing up to a rune
// boundary so multi-byte characters stay intact. A rune wider than n is
// kept whole rather than split.
func splitWordAt(word string, n int) (head, tail string) {
	if n <= 0 {
		return "", word
	}
	if len(word) <= n {
		return word, ""
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(word[cut]) {
		cut--
	}
	if cut == 0 {
		_, size := utf8.DecodeRuneInString(word)
		cut = size
	}
	return word[:cut], word[cut:]
}

func previewTitle(content string) string {
	title := content
	if idx := strings.IndexAny(title, ".!?\n"); idx > 0 {
		title = title[:idx]
	}
	if len(title) > titlePreviewLength {
		title = title[:titlePreviewLength]
	}
	return strings.TrimSpace(title)
}

func previewSummary(content string) string {
	if len(content) <= summaryPreviewLength {
		return content
	}
	return content[:summaryPreviewLength] + "..."
}

// topKeywords ranks non-stopword tokens by frequency.
func topKeywords(content string, limit int) []string {
	freq := map[string]int{}
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(content), -1) {
		if _, ok := stopwords[tok]; ok {
			continue
		}
		if len(tok) < 3 {
			continue
		}
		freq[tok]++
	}

	keywords := make([]string, 0, len(freq))
	for tok := range freq {
		keywords = append(keywords, tok)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if freq[keywords[i]] != freq[keywords[j]] {
			return freq[keywords[i]] > freq[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})

	if len(keywords) > limit {
		keywords = keywords[:limit]
	}
	return keywords
}

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of",
		"in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been",
		"being", "it", "this", "that", "these", "those", "from", "up", "down", "over",
		"under", "again", "further", "than", "so", "such", "into", "about", "between",
		"through", "during", "before", "after", "above", "below", "out", "off", "own",
		"same", "too", "very", "can", "will", "just", "should", "now", "not", "its",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
