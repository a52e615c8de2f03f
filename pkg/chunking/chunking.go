// Package chunking splits a raw document into semantically coherent chunks:
// a complexity-driven size target, a greedy sentence-bucketing first pass,
// an optional LLM re-split over that first pass, and a deterministic
// fallback whenever the LLM's suggestion can't be trusted (spec §3
// "Chunking Service (C6)", §4.6).
package chunking

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/orneryd/tenantsearch/pkg/llmclient"
)

var logger = log.New(log.Writer(), "chunking: ", log.LstdFlags)

// Complexity thresholds and target chunk sizes (spec §4.6), carried over
// from chunking_service.py's COMPLEXITY_THRESHOLDS/SIZE_RANGES tables.
const (
	complexityHigh   = 0.7
	complexityMedium = 0.4

	sizeHighComplexity   = 300
	sizeMediumComplexity = 500
	sizeLowComplexity    = 700

	maxSectionWords = 2000 // oversized-section trigger for the fallback path
)

var (
	wordPattern       = regexp.MustCompile(`\b\w+\b`)
	punctPattern      = regexp.MustCompile(`[;:(){}\[\]]`)
	chunkMarkerRegexp = regexp.MustCompile(`(?s)<\|start_chunk_(\d+)\|?>(.*?)<\|end_chunk_\d+\|>`)
)

// abbreviations that must not be treated as sentence-ending periods, the
// rule-based splitter's stand-in for a trained sentence tokenizer.
var sentenceAbbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sr": {}, "jr": {},
	"vs": {}, "etc": {}, "e.g": {}, "i.e": {}, "inc": {}, "ltd": {}, "co": {},
	"fig": {}, "no": {}, "al": {},
}

// CalculateTextComplexity scores text on [0, 1] from lexical density,
// average sentence length, and punctuation density (spec §4.6), identical
// in shape to calculate_text_complexity's weighted blend (0.4/0.4/0.2).
func CalculateTextComplexity(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}

	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	sentences := SplitIntoSentences(text)
	if len(words) == 0 || len(sentences) == 0 {
		return 0
	}

	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}
	lexicalDensity := float64(len(unique)) / float64(len(words))

	avgSentenceLen := float64(len(words)) / float64(len(sentences))
	sentenceComplexity := min1(avgSentenceLen / 20.0)

	complexPunct := len(punctPattern.FindAllString(text, -1))
	punctDensity := 0.0
	if len(words) > 0 {
		punctDensity = float64(complexPunct) / float64(len(words))
	}
	punctComplexity := min1(punctDensity * 100)

	complexity := lexicalDensity*0.4 + sentenceComplexity*0.4 + punctComplexity*0.2
	return min1(complexity)
}

func min1(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	return v
}

// TargetChunkSize maps a complexity score to a target word count per chunk
// (spec §4.6 "get_target_chunk_size").
func TargetChunkSize(complexity float64) int {
	switch {
	case complexity >= complexityHigh:
		return sizeHighComplexity
	case complexity >= complexityMedium:
		return sizeMediumComplexity
	default:
		return sizeLowComplexity
	}
}

// SplitIntoSentences breaks text on sentence boundaries using a
// deterministic period/question-mark/exclamation-mark rule with a
// common-abbreviation guard. The teacher pack carries no sentence-tokenizer
// dependency (see DESIGN.md), so this stands in for one.
func SplitIntoSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	var buf strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		buf.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Don't split on a period that closes a known abbreviation.
		if r == '.' && endsWithAbbreviation(buf.String()) {
			continue
		}
		// Consume any immediately following closing quotes/parens.
		for i+1 < len(runes) && (runes[i+1] == '"' || runes[i+1] == '\'' || runes[i+1] == ')') {
			i++
			buf.WriteRune(runes[i])
		}
		// Only a boundary if followed by whitespace or end of text.
		if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
			if s := strings.TrimSpace(buf.String()); s != "" {
				sentences = append(sentences, s)
			}
			buf.Reset()
		}
	}
	if s := strings.TrimSpace(buf.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func endsWithAbbreviation(s string) bool {
	s = strings.TrimSuffix(strings.TrimSpace(s), ".")
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return false
	}
	last := strings.ToLower(fields[len(fields)-1])
	_, ok := sentenceAbbreviations[last]
	return ok
}

// CountWords counts word tokens the same way the complexity scorer does.
func CountWords(text string) int {
	return len(wordPattern.FindAllString(text, -1))
}

// PrepareChunkedText buckets document_text's sentences greedily into
// complexity-sized sections and wraps each in <|start_chunk_N|> markers
// (spec §4.6 "prepare_chunked_text"), the text an LLM is later asked to
// suggest split points over.
func PrepareChunkedText(documentText string) string {
	complexity := CalculateTextComplexity(documentText)
	target := TargetChunkSize(complexity)
	logger.Printf("document complexity %.2f, target chunk size %d words", complexity, target)

	sentences := SplitIntoSentences(documentText)
	if len(sentences) == 0 {
		logger.Printf("no sentences found, falling back to whole document")
		return fmt.Sprintf("<|start_chunk_0|>\n%s<|end_chunk_0|>", documentText)
	}

	sections := bucketBySize(sentences, target)
	if len(sections) == 0 {
		sections = []string{documentText}
	}

	var b strings.Builder
	for i, section := range sections {
		fmt.Fprintf(&b, "<|start_chunk_%d|>\n%s<|end_chunk_%d|>", i, strings.TrimSpace(section), i)
	}
	return b.String()
}

// bucketBySize greedily groups sentences so each bucket stays near target
// words, only starting a new bucket once the current one has reached at
// least half of target (spec §4.6's 0.5*target_size guard against tiny
// trailing buckets).
func bucketBySize(sentences []string, target int) []string {
	var chunks []string
	var current []string
	wordCount := 0

	for _, sentence := range sentences {
		sw := CountWords(sentence)
		if wordCount+sw > target && len(current) > 0 && wordCount >= int(float64(target)*0.5) {
			chunks = append(chunks, strings.Join(current, " "))
			current = []string{sentence}
			wordCount = sw
			continue
		}
		current = append(current, sentence)
		wordCount += sw
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// parseSplitAfter extracts the comma-separated chunk indices following
// "split_after:" in an LLM response, or nil if the response says "none" or
// fails to parse (spec §4.6 "split_text_by_llm_suggestions").
func parseSplitAfter(llmResponse string) []int {
	idx := strings.Index(llmResponse, "split_after:")
	if idx < 0 {
		return nil
	}
	rest := strings.TrimSpace(llmResponse[idx+len("split_after:"):])
	if strings.EqualFold(rest, "none") {
		return nil
	}
	// Only take the first line so trailing commentary doesn't poison parsing.
	if nl := strings.IndexAny(rest, "\n"); nl >= 0 {
		rest = rest[:nl]
	}

	var out []int
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			logger.Printf("failed to parse split point %q from llm response", part)
			return nil
		}
		out = append(out, n)
	}
	return out
}

type markedChunk struct {
	index int
	text  string
}

// extractMarkedChunks pulls every <|start_chunk_N|>...<|end_chunk_N|>
// section back out of chunkedText, in document order.
func extractMarkedChunks(chunkedText string) []markedChunk {
	matches := chunkMarkerRegexp.FindAllStringSubmatch(chunkedText, -1)
	out := make([]markedChunk, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, markedChunk{index: n, text: m[2]})
	}
	return out
}

// SplitByLLMSuggestions turns the LLM's split_after response into final
// chunk text sections, falling back to size-based chunking whenever the
// markers are missing, no splits were suggested, or a resulting section
// exceeds maxSectionWords (spec §4.6 "split_text_by_llm_suggestions").
func SplitByLLMSuggestions(chunkedText, llmResponse string) []string {
	splitAfter := parseSplitAfter(llmResponse)
	logger.Printf("split after chunks: %v", splitAfter)

	chunks := extractMarkedChunks(chunkedText)
	if len(chunks) == 0 {
		logger.Printf("no chunk markers found, falling back to size-based chunking")
		return FallbackSizeBasedChunking(chunkedText)
	}

	if len(splitAfter) == 0 {
		logger.Printf("no splits suggested, using fallback size-based chunking")
		return FallbackSizeBasedChunking(joinMarkedChunks(chunks))
	}

	splitSet := make(map[int]struct{}, len(splitAfter))
	for _, s := range splitAfter {
		splitSet[s] = struct{}{}
	}

	var sections []string
	var current []string
	for _, c := range chunks {
		current = append(current, c.text)
		if _, ok := splitSet[c.index]; ok {
			sections = append(sections, strings.TrimSpace(strings.Join(current, "")))
			current = nil
		}
	}
	if len(current) > 0 {
		sections = append(sections, strings.TrimSpace(strings.Join(current, "")))
	}

	for i, section := range sections {
		if wc := CountWords(section); wc > maxSectionWords {
			logger.Printf("section %d has %d words (max %d), falling back to size-based chunking", i, wc, maxSectionWords)
			return FallbackSizeBasedChunking(joinMarkedChunks(chunks))
		}
	}

	logger.Printf("created %d sections with acceptable sizes", len(sections))
	return sections
}

func joinMarkedChunks(chunks []markedChunk) string {
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].index < chunks[j].index })
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = strings.TrimSpace(c.text)
	}
	return strings.Join(parts, "")
}

// FallbackSizeBasedChunking re-derives a complexity-target and greedily
// buckets text's sentences, used whenever the LLM's suggestion can't be
// trusted (spec §4.6 "_fallback_size_based_chunking").
func FallbackSizeBasedChunking(text string) []string {
	complexity := CalculateTextComplexity(text)
	target := TargetChunkSize(complexity)
	logger.Printf("using fallback chunking with target size %d words", target)

	sentences := SplitIntoSentences(text)
	if len(sentences) == 0 {
		return []string{text}
	}

	chunks := bucketBySize(sentences, target)
	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}

// splitPrompt is the instruction template sent to the LLM asking for split
// points over an already size-bucketed, marker-delimited document.
const splitPrompt = `You are an assistant specialized in splitting text into semantically consistent sections.

The text has been divided into chunks, each marked with <|start_chunk_X|> and <|end_chunk_X|> tags.
Identify points where splits should occur, such that consecutive chunks of similar themes stay together.
Each chunk must be between 200 and 1000 words. Respond ONLY with: split_after: X, Y, Z
If no splits are needed, respond with: split_after: none

This is the document text:
<document>
%s
</document>

Respond ONLY with the split_after format. No other text.`

// ChunkDocument runs the full pipeline: bucket by complexity, ask the LLM
// for refinement splits, and fall back to size-based chunking of the
// original document when the LLM call fails (spec §4.6 "chunk_document").
func ChunkDocument(ctx context.Context, client llmclient.Client, documentText string) []string {
	chunkedText := PrepareChunkedText(documentText)

	llmResponse, err := client.ChunkSplit(ctx, fmt.Sprintf(splitPrompt, chunkedText))
	if err != nil {
		logger.Printf("error getting llm chunking suggestions: %v", err)
		return FallbackSizeBasedChunking(documentText)
	}

	return SplitByLLMSuggestions(chunkedText, llmResponse)
}
