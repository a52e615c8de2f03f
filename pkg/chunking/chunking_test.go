package chunking

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLLM struct {
	chunkSplitResp string
	chunkSplitErr  error
}

func (s *stubLLM) ChunkSplit(ctx context.Context, prompt string) (string, error) {
	return s.chunkSplitResp, s.chunkSplitErr
}
func (s *stubLLM) Contextualize(ctx context.Context, prompt string) (string, error) { return "", nil }
func (s *stubLLM) ExtractMetadata(ctx context.Context, prompt string) (string, error) {
	return "", nil
}
func (s *stubLLM) EnhanceQuery(ctx context.Context, prompt string) (string, error)   { return "", nil }
func (s *stubLLM) SelectContext(ctx context.Context, prompt string) (string, error) { return "", nil }
func (s *stubLLM) GenerateAnswer(ctx context.Context, prompt string) (string, error) {
	return "", nil
}

func TestCalculateTextComplexityEmptyText(t *testing.T) {
	assert.Equal(t, 0.0, CalculateTextComplexity("   "))
}

func TestCalculateTextComplexityBounded(t *testing.T) {
	c := CalculateTextComplexity("The (quick); brown: fox jumps over the lazy dog repeatedly, again and again.")
	assert.GreaterOrEqual(t, c, 0.0)
	assert.LessOrEqual(t, c, 1.0)
}

func TestTargetChunkSizeThresholds(t *testing.T) {
	assert.Equal(t, sizeHighComplexity, TargetChunkSize(0.9))
	assert.Equal(t, sizeMediumComplexity, TargetChunkSize(0.5))
	assert.Equal(t, sizeLowComplexity, TargetChunkSize(0.1))
}

func TestSplitIntoSentencesBasic(t *testing.T) {
	sentences := SplitIntoSentences("This is one. This is two! Is this three?")
	require.Len(t, sentences, 3)
	assert.Equal(t, "This is one.", sentences[0])
	assert.Equal(t, "This is two!", sentences[1])
	assert.Equal(t, "Is this three?", sentences[2])
}

func TestSplitIntoSentencesGuardsAbbreviations(t *testing.T) {
	sentences := SplitIntoSentences("Dr. Smith met Mr. Jones. They talked.")
	require.Len(t, sentences, 2)
	assert.Contains(t, sentences[0], "Dr. Smith met Mr. Jones.")
}

func TestPrepareChunkedTextProducesMarkers(t *testing.T) {
	text := strings.Repeat("This is a simple sentence used for testing purposes. ", 5)
	out := PrepareChunkedText(text)
	assert.Contains(t, out, "<|start_chunk_0|>")
	assert.Contains(t, out, "<|end_chunk_0|>")
}

func TestPrepareChunkedTextEmptySentencesFallsBack(t *testing.T) {
	out := PrepareChunkedText("")
	assert.Contains(t, out, "<|start_chunk_0|>")
}

func genSentences(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "This is sentence number %d in the document. ", i)
	}
	return b.String()
}

func TestSplitByLLMSuggestionsHonorsSplitPoints(t *testing.T) {
	chunked := PrepareChunkedText(genSentences(60))
	sections := SplitByLLMSuggestions(chunked, "split_after: 0")
	assert.GreaterOrEqual(t, len(sections), 1)
}

func TestSplitByLLMSuggestionsNoneFallsBackToSizeBased(t *testing.T) {
	chunked := PrepareChunkedText(genSentences(10))
	sections := SplitByLLMSuggestions(chunked, "split_after: none")
	assert.NotEmpty(t, sections)
}

func TestSplitByLLMSuggestionsNoMarkersFallsBack(t *testing.T) {
	sections := SplitByLLMSuggestions("plain text with no markers. more text.", "split_after: none")
	assert.NotEmpty(t, sections)
}

func TestSplitByLLMSuggestionsUnparsableFallsBack(t *testing.T) {
	chunked := PrepareChunkedText(genSentences(10))
	sections := SplitByLLMSuggestions(chunked, "split_after: not-a-number")
	assert.NotEmpty(t, sections)
}

func TestFallbackSizeBasedChunkingNeverEmpty(t *testing.T) {
	sections := FallbackSizeBasedChunking(genSentences(30))
	assert.NotEmpty(t, sections)
}

func TestChunkDocumentUsesLLMSuggestion(t *testing.T) {
	client := &stubLLM{chunkSplitResp: "split_after: 0"}
	chunks := ChunkDocument(context.Background(), client, genSentences(50))
	assert.NotEmpty(t, chunks)
}

func TestChunkDocumentFallsBackOnLLMError(t *testing.T) {
	client := &stubLLM{chunkSplitErr: assert.AnError}
	chunks := ChunkDocument(context.Background(), client, genSentences(20))
	assert.NotEmpty(t, chunks)
}
