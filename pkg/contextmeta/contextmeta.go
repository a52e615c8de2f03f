// Package contextmeta generates a short situating blurb for a chunk within
// its parent document and extracts structured metadata (keywords, topics,
// entities, document type) from chunk text, both via an LLM with resilient
// fallbacks when the LLM response can't be trusted (spec §3
// "Contextualization + Metadata (C7)", §4.7).
package contextmeta

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/orneryd/tenantsearch/pkg/chunking"
	"github.com/orneryd/tenantsearch/pkg/llmclient"
)

var logger = log.New(log.Writer(), "contextmeta: ", log.LstdFlags)

const (
	maxDocumentChars  = 16000 // stand-in token budget, see CountTokens below
	maxContextChars   = 1200
	maxExtractChars   = 4000
	beginningRatio    = 0.6
	elisionMarker     = "\n\n[... middle content omitted ...]\n\n"
)

// CountTokens estimates token count the way token_utils.count_tokens's
// fallback path does (word_count / 0.75), since no tokenizer library is
// available in this module (see DESIGN.md) — used only to decide whether
// truncation is needed, not for exact token accounting.
func CountTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(float64(words) / 0.75)
}

// SmartDocumentTruncation keeps the beginning and end of document and
// elides the middle when document exceeds maxTokens, preserving sentence
// boundaries (spec §4.7 "smart_document_truncation", 60/40 split).
func SmartDocumentTruncation(document string, maxTokens int, beginningRatioOverride ...float64) string {
	if document == "" {
		return document
	}
	if CountTokens(document) <= maxTokens {
		return document
	}

	ratio := beginningRatio
	if len(beginningRatioOverride) > 0 {
		ratio = beginningRatioOverride[0]
	}

	beginningTokens := int(float64(maxTokens) * ratio)
	endTokens := maxTokens - beginningTokens
	separatorTokens := CountTokens(elisionMarker)
	if separatorTokens >= beginningTokens {
		return truncateToTokenLimit(document, maxTokens)
	}
	beginningTokens -= separatorTokens / 2
	endTokens -= separatorTokens / 2

	sentences := chunking.SplitIntoSentences(document)
	if len(sentences) == 0 {
		return truncateToTokenLimit(document, maxTokens)
	}

	beginning := sectionByTokens(sentences, beginningTokens, true)
	end := sectionByTokens(sentences, endTokens, false)

	var truncated string
	switch {
	case beginning != "" && end != "":
		truncated = beginning + elisionMarker + end
	case beginning != "":
		truncated = beginning
	case end != "":
		truncated = end
	default:
		truncated = truncateToTokenLimit(document, maxTokens)
	}

	if CountTokens(truncated) > maxTokens {
		truncated = truncateToTokenLimit(truncated, maxTokens)
	}
	return truncated
}

func sectionByTokens(sentences []string, maxTokens int, fromStart bool) string {
	if len(sentences) == 0 {
		return ""
	}
	ordered := sentences
	if !fromStart {
		ordered = make([]string, len(sentences))
		for i, s := range sentences {
			ordered[len(sentences)-1-i] = s
		}
	}

	var picked []string
	total := 0
	for _, s := range ordered {
		t := CountTokens(s)
		if total+t > maxTokens {
			break
		}
		if fromStart {
			picked = append(picked, s)
		} else {
			picked = append([]string{s}, picked...)
		}
		total += t
	}
	return strings.Join(picked, " ")
}

func truncateToTokenLimit(text string, maxTokens int) string {
	if text == "" {
		return text
	}
	current := CountTokens(text)
	if current <= maxTokens {
		return text
	}
	charsPerToken := float64(len(text)) / float64(current)
	targetChars := int(float64(maxTokens) * charsPerToken)
	if targetChars >= len(text) {
		return text
	}
	if targetChars < 0 {
		targetChars = 0
	}
	return text[:targetChars]
}

const contextPrompt = `You are an assistant specialized in analyzing document chunks and providing relevant context.
Provide 2-3 concise sentences that situate this chunk within the broader document. Directly state the context without
phrases like "This chunk discusses".

Here is the document:
<document>
%s
</document>

Here is the chunk to contextualize:
<chunk>
%s
</chunk>

Respond only with the succinct context for this chunk.`

// GenerateContextForChunk asks the LLM for a short situating blurb,
// truncating document first if it's too large for the prompt budget, and
// falling back to a first-sentence-derived blurb on any failure (spec
// §4.7 "generate_context_for_chunk").
func GenerateContextForChunk(ctx context.Context, client llmclient.Client, chunk, document string) string {
	truncated := SmartDocumentTruncation(document, maxDocumentChars)
	prompt := fmt.Sprintf(contextPrompt, truncated, chunk)

	if CountTokens(prompt) > 6000 {
		truncated = SmartDocumentTruncation(document, 3000)
		prompt = fmt.Sprintf(contextPrompt, truncated, chunk)
	}

	response, err := client.Contextualize(ctx, prompt)
	if err != nil {
		logger.Printf("error generating context for chunk: %v", err)
		return fallbackContext(chunk)
	}

	return validateAndTruncateContext(response)
}

func validateAndTruncateContext(context string) string {
	context = strings.TrimSpace(context)
	if context == "" {
		return ""
	}
	if CountTokens(context) > 300 {
		context = truncateToTokenLimit(context, 300)
	}
	return context
}

func fallbackContext(chunk string) string {
	sentences := strings.SplitN(chunk, ".", 2)
	if len(sentences[0]) > 10 {
		first := strings.ToLower(strings.TrimSpace(sentences[0]))
		if len(first) > 100 {
			first = first[:100]
		}
		return fmt.Sprintf("This content discusses %s.", strings.TrimSpace(first))
	}
	return "This content covers information from the document."
}

// GenerateContextsForChunks contextualizes every chunk against document, in
// order (spec §4.7 "generate_contexts_for_chunks").
func GenerateContextsForChunks(ctx context.Context, client llmclient.Client, chunks []string, document string) []string {
	contexts := make([]string, len(chunks))
	for i, chunk := range chunks {
		contexts[i] = GenerateContextForChunk(ctx, client, chunk, document)
	}
	return contexts
}

var (
	chunkTagPattern   = regexp.MustCompile(`(?s)<chunk>(.*?)</chunk>`)
	contextTagPattern = regexp.MustCompile(`(?s)<chunk_context>(.*?)</chunk_context>`)
)

// WrapContextualizedChunk renders a chunk plus its generated context in the
// tagged form consumed by ExtractChunkContent/ExtractChunkContext (spec
// §4.7 "create_contextualized_chunks").
func WrapContextualizedChunk(chunk, chunkContext string) string {
	if strings.TrimSpace(chunkContext) == "" {
		return fmt.Sprintf("<chunk>%s</chunk>", chunk)
	}
	return fmt.Sprintf("<chunk_context>%s</chunk_context>\n<chunk>%s</chunk>", chunkContext, chunk)
}

// CreateContextualizedChunks generates and wraps context for every chunk.
func CreateContextualizedChunks(ctx context.Context, client llmclient.Client, chunks []string, document string) []string {
	contexts := GenerateContextsForChunks(ctx, client, chunks, document)
	out := make([]string, len(chunks))
	for i, chunk := range chunks {
		out[i] = WrapContextualizedChunk(chunk, contexts[i])
	}
	return out
}

// ExtractChunkContent pulls the <chunk>...</chunk> body back out, or
// returns the whole string if no tag is present.
func ExtractChunkContent(contextualizedChunk string) string {
	if m := chunkTagPattern.FindStringSubmatch(contextualizedChunk); m != nil {
		return strings.TrimSpace(m[1])
	}
	return contextualizedChunk
}

// ExtractChunkContext pulls the <chunk_context>...</chunk_context> body
// back out, or "" if absent.
func ExtractChunkContext(contextualizedChunk string) string {
	if m := contextTagPattern.FindStringSubmatch(contextualizedChunk); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// Metadata is the structured output of ExtractMetadata (spec §4.7).
type Metadata struct {
	Keywords     []string `json:"keywords"`
	Topics       []string `json:"topics"`
	Entities     []string `json:"entities"`
	DocumentType string   `json:"document_type"`
}

func defaultMetadata() Metadata {
	return Metadata{DocumentType: "unknown"}
}

const extractPrompt = `You are a metadata extraction specialist. Extract structured metadata from the given document chunk.
Extract 3-5 keywords, 1-3 topics, any named entities, and the document type. Return ONLY valid JSON, no markdown.

Here is the document chunk to analyze:
<chunk>
%s
</chunk>

Return metadata in this exact JSON format:
{"keywords": ["keyword1", "keyword2"], "topics": ["topic1"], "entities": ["entity1"], "document_type": "type"}`

// ExtractMetadata asks the LLM for keywords/topics/entities/document_type
// and resiliently parses the response (spec §4.7 "extract_metadata").
// chunkContext, if non-empty, is prepended to the chunk text before analysis.
func ExtractMetadata(ctx context.Context, client llmclient.Client, chunk, chunkContext string) Metadata {
	textToAnalyze := chunk
	if chunkContext != "" {
		textToAnalyze = chunkContext + "\n" + chunk
	}
	if len(textToAnalyze) > maxExtractChars {
		textToAnalyze = textToAnalyze[:maxExtractChars] + "..."
	}

	response, err := client.ExtractMetadata(ctx, fmt.Sprintf(extractPrompt, textToAnalyze))
	if err != nil {
		logger.Printf("error extracting metadata from chunk: %v", err)
		return defaultMetadata()
	}

	return parseJSONResponse(response)
}

// parseJSONResponse implements the three-stage resilient parse from spec
// §4.7: strip a ```json fence, else strip a bare ``` fence, else scan for
// the outermost {...} span; if the result still doesn't start with '{',
// fall back to a balanced-brace regex scan; finally fall back to per-key
// regex extraction if json.Unmarshal itself fails.
func parseJSONResponse(response string) Metadata {
	cleaned := extractJSONSpan(strings.TrimSpace(response))

	var raw map[string]any
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		logger.Printf("failed to parse metadata json: %v", err)
		return extractFallbackMetadata(response)
	}
	return validateMetadata(raw)
}

var balancedBraceRegexp = regexp.MustCompile(`(?s)\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)

func extractJSONSpan(cleaned string) string {
	if idx := strings.Index(cleaned, "```json"); idx >= 0 {
		start := idx + len("```json")
		if end := strings.Index(cleaned[start:], "```"); end > 0 {
			return strings.TrimSpace(cleaned[start : start+end])
		}
	} else if idx := strings.Index(cleaned, "```"); idx >= 0 {
		start := idx + len("```")
		if end := strings.Index(cleaned[start:], "```"); end > 0 {
			return strings.TrimSpace(cleaned[start : start+end])
		}
	} else {
		start := strings.Index(cleaned, "{")
		end := strings.LastIndex(cleaned, "}")
		if start >= 0 && end > start {
			cleaned = strings.TrimSpace(cleaned[start : end+1])
		}
	}

	if !strings.HasPrefix(cleaned, "{") {
		if m := balancedBraceRegexp.FindString(cleaned); m != "" {
			cleaned = m
		}
	}
	return cleaned
}

func validateMetadata(raw map[string]any) Metadata {
	m := Metadata{DocumentType: "unknown"}
	m.Keywords = capStrings(asStringSlice(raw["keywords"]), 10)
	m.Topics = capStrings(asStringSlice(raw["topics"]), 5)
	m.Entities = capStrings(asStringSlice(raw["entities"]), 20)
	if dt, ok := raw["document_type"].(string); ok && dt != "" {
		m.DocumentType = strings.ToLower(strings.TrimSpace(dt))
	}
	return m
}

func asStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s := fmt.Sprintf("%v", it)
		if strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func capStrings(items []string, max int) []string {
	if len(items) > max {
		return items[:max]
	}
	return items
}

var (
	keywordsFieldRegexp = regexp.MustCompile(`(?s)"keywords":\s*\[(.*?)\]`)
	topicsFieldRegexp   = regexp.MustCompile(`(?s)"topics":\s*\[(.*?)\]`)
	entitiesFieldRegexp = regexp.MustCompile(`(?s)"entities":\s*\[(.*?)\]`)
	docTypeFieldRegexp  = regexp.MustCompile(`"document_type":\s*"([^"]*)"`)
)

// extractFallbackMetadata recovers partial metadata with per-field regexes
// when the response isn't valid JSON at all (spec §4.7
// "_extract_fallback_metadata").
func extractFallbackMetadata(response string) Metadata {
	m := Metadata{DocumentType: "unknown"}
	if g := keywordsFieldRegexp.FindStringSubmatch(response); g != nil {
		m.Keywords = capStrings(splitQuotedList(g[1]), 10)
	}
	if g := topicsFieldRegexp.FindStringSubmatch(response); g != nil {
		m.Topics = capStrings(splitQuotedList(g[1]), 5)
	}
	if g := entitiesFieldRegexp.FindStringSubmatch(response); g != nil {
		m.Entities = capStrings(splitQuotedList(g[1]), 20)
	}
	if g := docTypeFieldRegexp.FindStringSubmatch(response); g != nil {
		m.DocumentType = g[1]
	}
	return m
}

func splitQuotedList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.Trim(strings.TrimSpace(part), `"`)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
