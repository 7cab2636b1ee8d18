// Package agent assembles the full message sequence for one conversational
// turn, invokes the model and returns the reply together with a debug trail
// complete enough to reconstruct why the model answered the way it did.
package agent

import (
	"context"
	"strings"
	"time"

	"tiendabot/internal/ai"
	"tiendabot/internal/config"
	"tiendabot/internal/knowledge"
	"tiendabot/internal/model"
	"tiendabot/internal/runtimecfg"
)

const (
	chatTimeout = 30 * time.Second
	ragTopK     = 5
)

// Chatter is the remote model capability; satisfied by *ai.Client.
type Chatter interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.Message) (string, *ai.Usage, error)
}

// Searcher is the ranked retrieval capability; satisfied by *knowledge.Store.
type Searcher interface {
	SearchRanked(ctx context.Context, query string, k int) ([]knowledge.ChunkDebug, error)
}

type ChatInput struct {
	History              []model.ChatMessage
	UserMessage          string
	PromptContext        string
	SystemPromptOverride string
	Knowledge            Searcher
}

type RAGDebug struct {
	ChunkCount int                    `json:"chunk_count"`
	Sources    []string               `json:"sources"`
	Chunks     []knowledge.ChunkDebug `json:"chunks"`
}

type Debug struct {
	Model         string       `json:"model"`
	Temperature   float64      `json:"temperature"`
	MaxTokens     int          `json:"max_tokens"`
	LatencyMS     int64        `json:"latency_ms"`
	HistoryLength int          `json:"history_length"`
	RAG           RAGDebug     `json:"rag"`
	TokenUsage    *ai.Usage    `json:"token_usage,omitempty"`
	SystemPrompt  string       `json:"system_prompt"`
	MessagesSent  []ai.Message `json:"messages_sent"`
}

type Result struct {
	Reply string `json:"reply"`
	Debug Debug  `json:"debug"`
}

type Agent struct {
	client Chatter
	llm    config.LLMConfig
	cfg    *runtimecfg.Store
}

func New(client Chatter, llm config.LLMConfig, cfg *runtimecfg.Store) *Agent {
	return &Agent{
		client: client,
		llm:    llm,
		cfg:    cfg,
	}
}

// Chat runs one turn. Transport failures and timeouts are propagated without
// retry; fallback text is the caller's decision.
func (a *Agent) Chat(ctx context.Context, in ChatInput) (*Result, error) {
	cfg := a.cfg.Snapshot()

	systemPrompt := cfg.SystemPrompt
	if in.SystemPromptOverride != "" {
		systemPrompt = in.SystemPromptOverride
	}
	if strings.TrimSpace(in.PromptContext) != "" {
		systemPrompt += "\n\nCONTEXTO ADICIONAL:\n" + in.PromptContext
	}

	messages := []ai.Message{{Role: "system", Content: systemPrompt}}

	var rag RAGDebug
	if in.Knowledge != nil {
		chunks, err := in.Knowledge.SearchRanked(ctx, in.UserMessage, ragTopK)
		if err != nil {
			return nil, err
		}
		if len(chunks) > 0 {
			texts := make([]string, len(chunks))
			for i, c := range chunks {
				texts[i] = c.Text
			}
			messages = append(messages, ai.Message{
				Role:    "system",
				Content: "CONTEXTO RELEVANTE DE LA BASE DE CONOCIMIENTO:\n" + strings.Join(texts, "\n\n"),
			})
			rag = RAGDebug{
				ChunkCount: len(chunks),
				Sources:    distinctSources(chunks),
				Chunks:     chunks,
			}
		}
	}

	for _, msg := range in.History {
		role := msg.Role
		if role == "" {
			role = "user"
		}
		messages = append(messages, ai.Message{Role: role, Content: msg.Content})
	}
	messages = append(messages, ai.Message{Role: "user", Content: in.UserMessage})

	chatCfg := ai.ChatConfig{
		BaseURL:     a.llm.BaseURL,
		APIKey:      a.llm.APIKey,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}

	callCtx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	start := time.Now()
	replyText, usage, err := a.client.Complete(callCtx, chatCfg, messages)
	if err != nil {
		return nil, err
	}

	return &Result{
		Reply: strings.TrimSpace(replyText),
		Debug: Debug{
			Model:         chatCfg.Model,
			Temperature:   chatCfg.Temperature,
			MaxTokens:     chatCfg.MaxTokens,
			LatencyMS:     time.Since(start).Milliseconds(),
			HistoryLength: len(in.History),
			RAG:           rag,
			TokenUsage:    usage,
			SystemPrompt:  systemPrompt,
			MessagesSent:  messages,
		},
	}, nil
}

func distinctSources(chunks []knowledge.ChunkDebug) []string {
	seen := make(map[string]struct{}, len(chunks))
	var sources []string
	for _, c := range chunks {
		if _, ok := seen[c.Source]; ok {
			continue
		}
		seen[c.Source] = struct{}{}
		sources = append(sources, c.Source)
	}
	return sources
}
