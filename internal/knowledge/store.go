package knowledge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"tiendabot/internal/ai"
	"tiendabot/internal/model"
	"tiendabot/internal/repository"
)

// Document types understood by the store.
const (
	DocTypePDF  = "pdf"
	DocTypeNote = "note"
	DocTypeChat = "chat_history"
)

const (
	defaultPriority    = 3
	embeddingBatchSize = 10 // providers often cap batch size
)

// Embedder turns text into vectors; satisfied by *ai.Client.
type Embedder interface {
	Embed(ctx context.Context, cfg ai.EmbeddingConfig, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, cfg ai.EmbeddingConfig, texts []string) ([][]float32, error)
}

// ChunkDebug is the per-candidate retrieval trace exposed to telemetry and
// the introspection engine.
type ChunkDebug struct {
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	Type       string  `json:"type"`
	Category   string  `json:"category"`
	Priority   int     `json:"priority"`
	ChunkIndex int     `json:"chunk_index"`
	Similarity float64 `json:"similarity"`
	Score      float64 `json:"score"`
}

// Store is the durable text index: nearest-neighbor retrieval over embedded
// chunks plus exact metadata bookkeeping per document.
type Store struct {
	chunks   *repository.ChunkRepository
	embedder Embedder
	embCfg   ai.EmbeddingConfig
}

func NewStore(chunks *repository.ChunkRepository, embedder Embedder, embCfg ai.EmbeddingConfig) *Store {
	return &Store{
		chunks:   chunks,
		embedder: embedder,
		embCfg:   embCfg,
	}
}

// Index chunks and persists a prose document, returning its summary. An input
// that yields no chunks still returns a summary with ChunkCount 0.
func (s *Store) Index(ctx context.Context, text, filename, docType, category string, priority int) (*model.DocumentSummary, error) {
	if category == "" {
		category = docType
	}
	priority = ClampPriority(priority)

	chunks := ChunkText(text, DefaultMaxChars)
	return s.persist(ctx, chunks, nil, filename, docType, category, priority)
}

// IndexChatExport indexes a transcript using the position-based block
// chunker. Block indexes are preserved even when short blocks are skipped.
func (s *Store) IndexChatExport(ctx context.Context, text, filename string) (*model.DocumentSummary, error) {
	blocks := ChunkChatExport(text)

	var texts []string
	var indexes []int
	for i, block := range blocks {
		if runeLen(strings.TrimSpace(block)) < minChunkLen {
			continue
		}
		texts = append(texts, block)
		indexes = append(indexes, i)
	}
	return s.persist(ctx, texts, indexes, filename, DocTypeChat, "ejemplo-conversacion", defaultPriority)
}

func (s *Store) persist(ctx context.Context, texts []string, indexes []int, filename, docType, category string, priority int) (*model.DocumentSummary, error) {
	docID := uuid.NewString()[:8]
	summary := &model.DocumentSummary{
		ID:         docID,
		Filename:   filename,
		DocType:    docType,
		Category:   category,
		Priority:   priority,
		ChunkCount: len(texts),
	}
	if len(texts) == 0 {
		return summary, nil
	}

	var embeddings [][]float32
	for i := 0; i < len(texts); i += embeddingBatchSize {
		end := i + embeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := s.embedder.EmbedBatch(ctx, s.embCfg, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed document chunks failed: %w", err)
		}
		embeddings = append(embeddings, batch...)
	}
	if len(embeddings) != len(texts) {
		return nil, errors.New("embedding count mismatch")
	}

	now := time.Now()
	records := make([]model.KnowledgeChunk, len(texts))
	for i := range texts {
		chunkIndex := i
		if indexes != nil {
			chunkIndex = indexes[i]
		}
		records[i] = model.KnowledgeChunk{
			DocumentID: docID,
			ChunkIndex: chunkIndex,
			Content:    texts[i],
			SourceFile: filename,
			DocType:    docType,
			Category:   category,
			Priority:   priority,
			CreatedAt:  now,
		}
		records[i].SetEmbedding(embeddings[i])
	}
	if err := s.chunks.CreateBatch(records); err != nil {
		return nil, err
	}
	return summary, nil
}

// Search returns up to k chunk texts by plain embedding similarity.
func (s *Store) Search(ctx context.Context, query string, k int) ([]string, error) {
	entries, err := s.nearest(ctx, query, k)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}
	return texts, nil
}

// SearchRanked fetches min(2k, total) nearest candidates and re-ranks them by
// a priority-weighted score. High-priority documents can outrank marginally
// more similar low-priority ones without fully overriding semantic relevance:
// priority 5 gives at most 1.5x the raw similarity.
func (s *Store) SearchRanked(ctx context.Context, query string, k int) ([]ChunkDebug, error) {
	entries, err := s.nearest(ctx, query, 2*k)
	if err != nil {
		return nil, err
	}
	return Rerank(entries, k), nil
}

func (s *Store) nearest(ctx context.Context, query string, n int) ([]ChunkDebug, error) {
	all, err := s.chunks.All()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}

	queryVec, err := s.embedder.Embed(ctx, s.embCfg, query)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}

	entries := make([]ChunkDebug, len(all))
	for i := range all {
		similarity := round4(cosineSimilarity(queryVec, all[i].EmbeddingVector()))
		priority := all[i].Priority
		entries[i] = ChunkDebug{
			Text:       all[i].Content,
			Source:     all[i].SourceFile,
			Type:       all[i].DocType,
			Category:   all[i].Category,
			Priority:   priority,
			ChunkIndex: all[i].ChunkIndex,
			Similarity: similarity,
			Score:      round4(similarity * (1 + float64(priority)*0.1)),
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Similarity > entries[j].Similarity
	})
	if n > len(entries) {
		n = len(entries)
	}
	return entries[:n], nil
}

// Rerank sorts candidates by priority-weighted score descending and keeps the
// top k. The sort is stable so repeated runs over identical state give
// identical order.
func Rerank(entries []ChunkDebug, k int) []ChunkDebug {
	out := make([]ChunkDebug, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if k < 0 {
		k = 0
	}
	if k > len(out) {
		k = len(out)
	}
	return out[:k]
}

// ListDocuments aggregates chunk metadata into per-document summaries,
// ordered by first appearance in the store.
func (s *Store) ListDocuments(ctx context.Context) ([]model.DocumentSummary, error) {
	all, err := s.chunks.All()
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*model.DocumentSummary)
	var order []string
	for i := range all {
		c := &all[i]
		summary, ok := byID[c.DocumentID]
		if !ok {
			summary = &model.DocumentSummary{
				ID:       c.DocumentID,
				Filename: c.SourceFile,
				DocType:  c.DocType,
				Category: c.Category,
				Priority: c.Priority,
			}
			byID[c.DocumentID] = summary
			order = append(order, c.DocumentID)
		}
		summary.ChunkCount++
	}

	docs := make([]model.DocumentSummary, 0, len(order))
	for _, id := range order {
		docs = append(docs, *byID[id])
	}
	return docs, nil
}

// Delete removes every chunk of a document; false when the id is unknown.
func (s *Store) Delete(ctx context.Context, documentID string) (bool, error) {
	affected, err := s.chunks.DeleteByDocumentID(documentID)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// UpdateMetadata changes category and/or priority for all chunks of a
// document together; false when the id is unknown.
func (s *Store) UpdateMetadata(ctx context.Context, documentID string, category *string, priority *int) (bool, error) {
	if priority != nil {
		clamped := ClampPriority(*priority)
		priority = &clamped
	}
	affected, err := s.chunks.UpdateMetadataByDocumentID(documentID, category, priority)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ClampPriority bounds untrusted priority input to [1,5].
func ClampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 5 {
		return 5
	}
	return p
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
