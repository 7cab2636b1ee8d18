// Package introspect lets the operator interrogate the agent about its own
// behavior: why it answered the way it did on a given turn, grounded in the
// recorded telemetry rather than the model's imagination. The model may also
// propose corrective actions in a strict line grammar; proposals are validated
// against live state and only applied on explicit operator confirmation.
package introspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tiendabot/internal/agent"
	"tiendabot/internal/ai"
	"tiendabot/internal/config"
	"tiendabot/internal/model"
	"tiendabot/internal/runtimecfg"
)

const (
	askTimeout     = 30 * time.Second
	askTemperature = 0.3
	askMaxTokens   = 1000

	transcriptTail   = 10
	transcriptMaxLen = 300
)

var (
	ErrNoTurnData = errors.New("no recorded turn for this session")
	ErrStaleDoc   = errors.New("document no longer exists")
)

// Completer is the model call surface; satisfied by *ai.Client.
type Completer interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.Message) (string, *ai.Usage, error)
}

// TurnLookup is satisfied by *repository.TurnDebugRepository.
type TurnLookup interface {
	LatestBySessionID(sessionID string) (*model.TurnDebug, error)
}

// DocumentStore is the slice of the knowledge store the engine needs;
// satisfied by *knowledge.Store.
type DocumentStore interface {
	ListDocuments(ctx context.Context) ([]model.DocumentSummary, error)
	Delete(ctx context.Context, documentID string) (bool, error)
	UpdateMetadata(ctx context.Context, documentID string, category *string, priority *int) (bool, error)
}

type Answer struct {
	Text    string   `json:"text"`
	Actions []Action `json:"actions"`
}

type Engine struct {
	client Completer
	llm    config.LLMConfig
	cfg    *runtimecfg.Store
	turns  TurnLookup
	docs   DocumentStore
}

func NewEngine(client Completer, llm config.LLMConfig, cfg *runtimecfg.Store, turns TurnLookup, docs DocumentStore) *Engine {
	return &Engine{
		client: client,
		llm:    llm,
		cfg:    cfg,
		turns:  turns,
		docs:   docs,
	}
}

// Ask answers an operator question about the session's most recent recorded
// turn. history is the introspection conversation so far (operator questions
// and prior answers), so follow-ups keep their context. Proposed actions are
// validated against the live document list; stale or malformed proposals are
// dropped from the answer.
func (e *Engine) Ask(ctx context.Context, sessionID, question string, history []ai.Message) (*Answer, error) {
	turn, err := e.turns.LatestBySessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if turn == nil {
		return nil, ErrNoTurnData
	}

	var debug agent.Debug
	if err := json.Unmarshal([]byte(turn.Snapshot), &debug); err != nil {
		return nil, fmt.Errorf("decode turn snapshot failed: %w", err)
	}

	docs, err := e.docs.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	metaPrompt := e.buildMetaPrompt(turn, &debug, docs)

	messages := make([]ai.Message, 0, len(history)+2)
	messages = append(messages, ai.Message{Role: "system", Content: metaPrompt})
	messages = append(messages, history...)
	messages = append(messages, ai.Message{Role: "user", Content: question})

	callCtx, cancel := context.WithTimeout(ctx, askTimeout)
	defer cancel()

	cfg := e.cfg.Snapshot()
	replyText, _, err := e.client.Complete(callCtx, ai.ChatConfig{
		BaseURL:     e.llm.BaseURL,
		APIKey:      e.llm.APIKey,
		Model:       cfg.Model,
		Temperature: askTemperature,
		MaxTokens:   askMaxTokens,
	}, messages)
	if err != nil {
		return nil, err
	}

	text, actions := parseActions(replyText)
	actions = e.filterStale(actions, docs)
	return &Answer{Text: text, Actions: actions}, nil
}

// Apply executes one confirmed action and describes what it did.
func (e *Engine) Apply(ctx context.Context, action Action) (string, error) {
	switch action.Type {
	case ActionEditPrompt:
		if err := e.cfg.AppendToPrompt(action.Params["append"]); err != nil {
			return "", err
		}
		return "prompt actualizado", nil

	case ActionDeleteRAGDoc:
		ok, err := e.docs.Delete(ctx, action.Params["doc_id"])
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrStaleDoc
		}
		return "documento " + action.Params["doc_id"] + " eliminado", nil

	case ActionUpdateRAGPriority:
		priority, err := strconv.Atoi(action.Params["priority"])
		if err != nil {
			return "", fmt.Errorf("invalid priority: %w", err)
		}
		ok, err := e.docs.UpdateMetadata(ctx, action.Params["doc_id"], nil, &priority)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrStaleDoc
		}
		return fmt.Sprintf("documento %s con prioridad %d", action.Params["doc_id"], priority), nil

	default:
		return "", ErrUnknownAction
	}
}

func (e *Engine) filterStale(actions []Action, docs []model.DocumentSummary) []Action {
	known := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		known[d.ID] = struct{}{}
	}

	kept := actions[:0]
	for _, a := range actions {
		if id, ok := a.Params["doc_id"]; ok {
			if _, exists := known[id]; !exists {
				continue
			}
		}
		kept = append(kept, a)
	}
	return kept
}

func (e *Engine) buildMetaPrompt(turn *model.TurnDebug, debug *agent.Debug, docs []model.DocumentSummary) string {
	var sb strings.Builder

	sb.WriteString("Sos el módulo de auto-análisis de un agente de ventas. ")
	sb.WriteString("Un operador humano te pregunta por qué el agente respondió lo que respondió. ")
	sb.WriteString("Contestá en castellano, con datos concretos del turno registrado, sin inventar.\n\n")

	sb.WriteString("ÚLTIMO TURNO REGISTRADO:\n")
	sb.WriteString("Mensaje del usuario: " + turn.UserMessage + "\n")
	sb.WriteString("Respuesta del agente: " + turn.AgentReply + "\n\n")

	sb.WriteString("PARÁMETROS DEL TURNO:\n")
	sb.WriteString(fmt.Sprintf("Modelo: %s | Temperatura: %.2f | Max tokens: %d | Latencia: %dms\n",
		debug.Model, debug.Temperature, debug.MaxTokens, debug.LatencyMS))
	if debug.TokenUsage != nil {
		sb.WriteString(fmt.Sprintf("Tokens: %d prompt, %d respuesta\n",
			debug.TokenUsage.PromptTokens, debug.TokenUsage.CompletionTokens))
	}
	sb.WriteString("\nSYSTEM PROMPT USADO:\n" + debug.SystemPrompt + "\n\n")

	if len(debug.RAG.Chunks) > 0 {
		sb.WriteString("FRAGMENTOS RECUPERADOS DE LA BASE DE CONOCIMIENTO:\n")
		for i, c := range debug.RAG.Chunks {
			sb.WriteString(fmt.Sprintf("%d. [%s, prioridad %d, score %.4f] %s\n",
				i+1, c.Source, c.Priority, c.Score, c.Text))
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("No se recuperó ningún fragmento de la base de conocimiento en este turno.\n\n")
	}

	if len(docs) > 0 {
		sb.WriteString("DOCUMENTOS DISPONIBLES:\n")
		for _, d := range docs {
			sb.WriteString(fmt.Sprintf("- %s: %s (%s, categoría %s, prioridad %d, %d fragmentos)\n",
				d.ID, d.Filename, d.DocType, d.Category, d.Priority, d.ChunkCount))
		}
		sb.WriteString("\n")
	}

	// The transcript comes from the turn snapshot itself, so the analysis
	// never mixes in messages written after the turn under review.
	var turnMessages []ai.Message
	for _, m := range debug.MessagesSent {
		if m.Role == "user" || m.Role == "assistant" {
			turnMessages = append(turnMessages, m)
		}
	}
	if len(turnMessages) > 0 {
		if len(turnMessages) > transcriptTail {
			turnMessages = turnMessages[len(turnMessages)-transcriptTail:]
		}
		sb.WriteString("ÚLTIMOS MENSAJES DE LA CONVERSACIÓN:\n")
		for _, m := range turnMessages {
			content := m.Content
			if len([]rune(content)) > transcriptMaxLen {
				content = string([]rune(content)[:transcriptMaxLen]) + "..."
			}
			sb.WriteString(m.Role + ": " + content + "\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("REGLAS:\n")
	sb.WriteString("Si detectás un problema corregible, podés proponer acciones. ")
	sb.WriteString("Cada acción va en su propia línea, con este formato exacto:\n")
	sb.WriteString("ACTION:edit_prompt:<etiqueta corta>:append=<texto a agregar al prompt>\n")
	sb.WriteString("ACTION:delete_rag_doc:<etiqueta corta>:doc_id=<id>\n")
	sb.WriteString("ACTION:update_rag_priority:<etiqueta corta>:doc_id=<id>,priority=<1-5>\n")
	sb.WriteString("Solo usá doc_id que aparezcan en DOCUMENTOS DISPONIBLES. ")
	sb.WriteString("No propongas acciones si no hay nada para corregir.")

	return sb.String()
}
