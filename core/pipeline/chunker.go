package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/graphein/graphein/model"
	"github.com/pkoukk/tiktoken-go"
)

// NewChunker creates the chunking function for a collection configuration.
// The embedder is only used by the semantic strategy.
func NewChunker(config *model.CollectionConfig, embedder Provider) (ChunkFunc, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.ChunkStrategy {
	case model.ChunkStrategyFixedSize:
		return FixedSizeChunker(config.ChunkSize, config.ChunkOverlap), nil
	case model.ChunkStrategySentence:
		return SentenceChunker(config.ChunkSize, config.ChunkOverlap), nil
	case model.ChunkStrategyParagraph:
		return ParagraphChunker(config.ChunkSize), nil
	case model.ChunkStrategySlidingWindow:
		return SlidingWindowChunker(config.ChunkSize, config.ChunkOverlap), nil
	case model.ChunkStrategySemantic:
		return SemanticChunker(embedder, config.ChunkSize, float32(config.SimilarityThreshold)), nil
	default:
		return nil, fmt.Errorf("%w: unknown chunk strategy %q", model.ErrConfig, config.ChunkStrategy)
	}
}

// sentence is a sentence span with its byte offsets in the original text.
type sentence struct {
	text  string
	start int
	end   int
}

// sentenceTerminators end a sentence when followed by whitespace or EOF.
const sentenceTerminators = ".!?"

// splitSentences splits text into sentence spans, keeping byte offsets so
// chunk positions refer back to the original text.
func splitSentences(text string) []sentence {
	var sentences []sentence
	start := 0

	for i := 0; i < len(text); i++ {
		atTerminator := strings.ContainsRune(sentenceTerminators, rune(text[i]))
		atEnd := i == len(text)-1

		if atTerminator && (atEnd || text[i+1] == ' ' || text[i+1] == '\n' || text[i+1] == '\t') || atEnd {
			raw := text[start : i+1]
			trimmed := strings.TrimSpace(raw)
			if trimmed != "" {
				offset := strings.Index(raw, trimmed)
				sentences = append(sentences, sentence{
					text:  trimmed,
					start: start + offset,
					end:   start + offset + len(trimmed),
				})
			}
			start = i + 1
		}
	}

	return sentences
}

var (
	tokenEncoderOnce sync.Once
	tokenEncoder     *tiktoken.Tiktoken
)

// countTokens counts tokens with the cl100k_base encoding. If the encoding
// cannot be loaded the whitespace word count is used instead.
func countTokens(text string) int {
	tokenEncoderOnce.Do(func() {
		encoder, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tokenEncoder = encoder
		}
	})

	if tokenEncoder == nil {
		return len(strings.Fields(text))
	}
	return len(tokenEncoder.Encode(text, nil, nil))
}

// newChunk builds a chunk with advisory quality scores. Coherence is the
// fraction of complete sentences, completeness reflects boundary alignment.
func newChunk(content string, ordinal, start, end int) *model.Chunk {
	sentences := splitSentences(content)

	complete := 0
	for _, s := range sentences {
		if strings.ContainsRune(sentenceTerminators, rune(s.text[len(s.text)-1])) {
			complete++
		}
	}

	coherence := 0.0
	if len(sentences) > 0 {
		coherence = float64(complete) / float64(len(sentences))
	}

	completeness := 0.0
	trimmed := strings.TrimSpace(content)
	if trimmed != "" {
		first := []rune(trimmed)[0]
		if unicode.IsUpper(first) || unicode.IsDigit(first) {
			completeness += 0.5
		}
		if strings.ContainsRune(sentenceTerminators, rune(trimmed[len(trimmed)-1])) {
			completeness += 0.5
		}
	}

	return &model.Chunk{
		Ordinal:      ordinal,
		Content:      content,
		StartPos:     start,
		EndPos:       end,
		Coherence:    coherence,
		Completeness: completeness,
		TokenCount:   countTokens(content),
		Metadata:     model.Metadata{},
	}
}

// FixedSizeChunker splits text into windows of size characters with the given
// overlap carried between consecutive chunks.
func FixedSizeChunker(size, overlap int) ChunkFunc {
	return func(text string) ([]*model.Chunk, error) {
		if strings.TrimSpace(text) == "" {
			return []*model.Chunk{}, nil
		}

		runes := []rune(text)
		step := size - overlap

		// Windows are cut at rune boundaries, positions are stored as byte
		// offsets into the original text.
		byteOffsets := make([]int, 0, len(runes)+1)
		for i := range text {
			byteOffsets = append(byteOffsets, i)
		}
		byteOffsets = append(byteOffsets, len(text))

		var chunks []*model.Chunk
		ordinal := 0
		for start := 0; start < len(runes); start += step {
			end := start + size
			if end > len(runes) {
				end = len(runes)
			}

			content := string(runes[start:end])
			chunks = append(chunks, newChunk(content, ordinal, byteOffsets[start], byteOffsets[end]))
			ordinal++

			if end == len(runes) {
				break
			}
		}

		return chunks, nil
	}
}

// SlidingWindowChunker splits text into overlapping windows aligned to word
// boundaries. The overlap is measured in characters of carried-over words.
func SlidingWindowChunker(size, overlap int) ChunkFunc {
	return func(text string) ([]*model.Chunk, error) {
		if strings.TrimSpace(text) == "" {
			return []*model.Chunk{}, nil
		}

		words := strings.Fields(text)

		var chunks []*model.Chunk
		var window []string
		ordinal := 0
		length := 0
		pos := 0

		flush := func() {
			if len(window) == 0 {
				return
			}
			content := strings.Join(window, " ")
			chunks = append(chunks, newChunk(content, ordinal, pos, pos+len(content)))
			ordinal++

			// Carry trailing words up to the overlap into the next window
			carried := 0
			var next []string
			for i := len(window) - 1; i >= 0 && carried+len(window[i]) <= overlap; i-- {
				next = append([]string{window[i]}, next...)
				carried += len(window[i]) + 1
			}
			pos += len(content) - carried
			window = next
			length = carried
		}

		for _, word := range words {
			if length > 0 && length+len(word)+1 > size {
				flush()
			}
			window = append(window, word)
			length += len(word) + 1
		}
		if len(window) > 0 {
			content := strings.Join(window, " ")
			chunks = append(chunks, newChunk(content, ordinal, pos, pos+len(content)))
		}

		return chunks, nil
	}
}

// SentenceChunker groups whole sentences into chunks of at most size
// characters, carrying trailing sentences up to the overlap into the next
// chunk. A single sentence longer than size becomes its own chunk.
func SentenceChunker(size, overlap int) ChunkFunc {
	return func(text string) ([]*model.Chunk, error) {
		if strings.TrimSpace(text) == "" {
			return []*model.Chunk{}, nil
		}

		sentences := splitSentences(text)

		var chunks []*model.Chunk
		var current []sentence
		ordinal := 0
		length := 0

		flush := func() {
			if len(current) == 0 {
				return
			}
			parts := make([]string, len(current))
			for i, s := range current {
				parts[i] = s.text
			}
			content := strings.Join(parts, " ")
			chunks = append(chunks, newChunk(content, ordinal, current[0].start, current[len(current)-1].end))
			ordinal++

			// Carry trailing sentences up to the overlap into the next chunk
			carried := 0
			var next []sentence
			for i := len(current) - 1; i >= 0 && carried+len(current[i].text) <= overlap; i-- {
				next = append([]sentence{current[i]}, next...)
				carried += len(current[i].text) + 1
			}
			current = next
			length = carried
		}

		for _, s := range sentences {
			if length > 0 && length+len(s.text)+1 > size {
				flush()
			}
			current = append(current, s)
			length += len(s.text) + 1
		}
		if len(current) > 0 {
			parts := make([]string, len(current))
			for i, s := range current {
				parts[i] = s.text
			}
			content := strings.Join(parts, " ")
			chunks = append(chunks, newChunk(content, ordinal, current[0].start, current[len(current)-1].end))
		}

		return chunks, nil
	}
}

// ParagraphChunker splits text on blank lines. Paragraphs longer than size
// are split further by sentences.
func ParagraphChunker(size int) ChunkFunc {
	sentenceFallback := SentenceChunker(size, 0)

	return func(text string) ([]*model.Chunk, error) {
		if strings.TrimSpace(text) == "" {
			return []*model.Chunk{}, nil
		}

		paragraphs := strings.Split(text, "\n\n")

		var chunks []*model.Chunk
		ordinal := 0
		pos := 0

		for _, paragraph := range paragraphs {
			trimmed := strings.TrimSpace(paragraph)
			if trimmed == "" {
				pos += len(paragraph) + 2
				continue
			}

			start := pos + strings.Index(paragraph, trimmed)

			if len(trimmed) <= size {
				chunk := newChunk(trimmed, ordinal, start, start+len(trimmed))
				chunks = append(chunks, chunk)
				ordinal++
			} else {
				subChunks, err := sentenceFallback(trimmed)
				if err != nil {
					return nil, err
				}
				for _, chunk := range subChunks {
					chunk.Ordinal = ordinal
					chunk.StartPos += start
					chunk.EndPos += start
					chunks = append(chunks, chunk)
					ordinal++
				}
			}

			pos += len(paragraph) + 2
		}

		return chunks, nil
	}
}

// SemanticChunker groups sentences by embedding similarity. A chunk boundary
// is placed where the similarity between the running chunk centroid and the
// next sentence drops below the threshold, or where the size limit would be
// exceeded.
func SemanticChunker(embedder Provider, maxChunkSize int, similarityThreshold float32) ChunkFunc {
	return func(text string) ([]*model.Chunk, error) {
		if strings.TrimSpace(text) == "" {
			return []*model.Chunk{}, nil
		}

		sentences := splitSentences(text)
		texts := make([]string, len(sentences))
		for i, s := range sentences {
			texts[i] = s.text
		}

		embeddings, err := embedder.Embed(context.Background(), texts)
		if err != nil {
			return nil, err
		}
		if len(embeddings) != len(sentences) {
			return nil, fmt.Errorf("embedding count mismatch: got %d embeddings for %d sentences", len(embeddings), len(sentences))
		}

		var chunks []*model.Chunk
		var current []sentence
		var currentEmbeddings [][]float32
		ordinal := 0
		length := 0

		flush := func() {
			if len(current) == 0 {
				return
			}
			parts := make([]string, len(current))
			for i, s := range current {
				parts[i] = s.text
			}
			content := strings.Join(parts, " ")
			chunk := newChunk(content, ordinal, current[0].start, current[len(current)-1].end)
			chunk.Metadata["chunking_method"] = "semantic"
			chunk.Metadata["num_sentences"] = len(current)
			chunks = append(chunks, chunk)
			ordinal++
			current = nil
			currentEmbeddings = nil
			length = 0
		}

		for i, s := range sentences {
			if len(current) > 0 {
				centroid := make([]float32, len(currentEmbeddings[0]))
				for _, embedding := range currentEmbeddings {
					for j := range embedding {
						centroid[j] += embedding[j]
					}
				}
				for j := range centroid {
					centroid[j] /= float32(len(currentEmbeddings))
				}

				similarity := CosineSimilarity(centroid, embeddings[i])
				if similarity < similarityThreshold || length+len(s.text) > maxChunkSize {
					flush()
				}
			}

			current = append(current, s)
			currentEmbeddings = append(currentEmbeddings, embeddings[i])
			length += len(s.text) + 1
		}
		flush()

		return chunks, nil
	}
}
