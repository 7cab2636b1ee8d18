package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"tiendabot/internal/knowledge"
	"tiendabot/internal/model"
	"tiendabot/internal/pkg/pdfextract"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrEmptyDocument    = errors.New("document has no usable text")
	ErrUnsupportedFile  = errors.New("unsupported file type")
)

// KnowledgeService ingests uploads into the retrieval store. PDFs are
// extracted first; .txt and .md go in as-is; everything else is rejected.
type KnowledgeService struct {
	store  *knowledge.Store
	logger zerolog.Logger
}

func NewKnowledgeService(store *knowledge.Store, logger zerolog.Logger) *KnowledgeService {
	return &KnowledgeService{
		store:  store,
		logger: logger.With().Str("component", "knowledge_service").Logger(),
	}
}

func (s *KnowledgeService) UploadFile(ctx context.Context, filename string, data []byte, category string, priority int) (*model.DocumentSummary, error) {
	var text string
	var docType string

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		extracted, err := pdfextract.ExtractText(data)
		if err != nil {
			return nil, err
		}
		text = extracted
		docType = knowledge.DocTypePDF
	case ".txt", ".md":
		text = string(data)
		docType = knowledge.DocTypeNote
	default:
		return nil, ErrUnsupportedFile
	}

	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}

	summary, err := s.store.Index(ctx, text, filename, docType, category, priority)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("document_id", summary.ID).Str("filename", filename).
		Int("chunks", summary.ChunkCount).Msg("document indexed")
	return summary, nil
}

// AddNote indexes free text typed by the operator.
func (s *KnowledgeService) AddNote(ctx context.Context, title, text, category string, priority int) (*model.DocumentSummary, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}
	if title == "" {
		title = "nota"
	}
	return s.store.Index(ctx, text, title, knowledge.DocTypeNote, category, priority)
}

// ImportChatExport indexes a raw conversation export so the agent can learn
// the house tone from real exchanges.
func (s *KnowledgeService) ImportChatExport(ctx context.Context, filename string, data []byte) (*model.DocumentSummary, error) {
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}
	summary, err := s.store.IndexChatExport(ctx, text, filename)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("document_id", summary.ID).Str("filename", filename).
		Int("chunks", summary.ChunkCount).Msg("chat export indexed")
	return summary, nil
}

func (s *KnowledgeService) ListDocuments(ctx context.Context) ([]model.DocumentSummary, error) {
	return s.store.ListDocuments(ctx)
}

func (s *KnowledgeService) DeleteDocument(ctx context.Context, documentID string) error {
	ok, err := s.store.Delete(ctx, documentID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *KnowledgeService) UpdateDocument(ctx context.Context, documentID string, category *string, priority *int) error {
	ok, err := s.store.UpdateMetadata(ctx, documentID, category, priority)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDocumentNotFound
	}
	return nil
}
