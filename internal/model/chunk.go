package model

import (
	"encoding/json"
	"time"
)

// KnowledgeChunk stores a text chunk and its embedding for retrieval.
// Embedding is stored as a JSON array of float32 for portability. Chunks are
// immutable once written except category/priority, which are updated for all
// chunks of a document together.
type KnowledgeChunk struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DocumentID string    `gorm:"size:16;not null;index" json:"document_id"`
	ChunkIndex int       `gorm:"not null" json:"chunk_index"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	Embedding  string    `gorm:"type:text" json:"-"`
	SourceFile string    `gorm:"size:256;not null" json:"source_filename"`
	DocType    string    `gorm:"size:32;not null" json:"doc_type"`
	Category   string    `gorm:"size:64;not null;default:''" json:"category"`
	Priority   int       `gorm:"not null;default:3" json:"priority"`
	CreatedAt  time.Time `json:"created_at"`
}

// EmbeddingVector returns the parsed embedding slice; empty on parse error.
func (c *KnowledgeChunk) EmbeddingVector() []float32 {
	if c.Embedding == "" {
		return nil
	}
	var v []float32
	_ = json.Unmarshal([]byte(c.Embedding), &v)
	return v
}

// SetEmbedding stores the embedding as JSON.
func (c *KnowledgeChunk) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		c.Embedding = "[]"
		return
	}
	b, _ := json.Marshal(vec)
	c.Embedding = string(b)
}

// DocumentSummary is derived on demand from chunks sharing a document_id.
type DocumentSummary struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	DocType    string `json:"doc_type"`
	Category   string `json:"category"`
	Priority   int    `json:"priority"`
	ChunkCount int    `json:"chunk_count"`
}
