package introspect

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiendabot/internal/agent"
	"tiendabot/internal/ai"
	"tiendabot/internal/config"
	"tiendabot/internal/model"
	"tiendabot/internal/runtimecfg"
)

type fakeCompleter struct {
	reply    string
	messages []ai.Message
	cfg      ai.ChatConfig
}

func (f *fakeCompleter) Complete(_ context.Context, cfg ai.ChatConfig, messages []ai.Message) (string, *ai.Usage, error) {
	f.cfg = cfg
	f.messages = messages
	return f.reply, nil, nil
}

type fakeTurns struct {
	turn *model.TurnDebug
}

func (f *fakeTurns) LatestBySessionID(string) (*model.TurnDebug, error) {
	return f.turn, nil
}

type fakeDocs struct {
	docs    []model.DocumentSummary
	deleted []string
}

func (f *fakeDocs) ListDocuments(context.Context) ([]model.DocumentSummary, error) {
	return f.docs, nil
}

func (f *fakeDocs) Delete(_ context.Context, documentID string) (bool, error) {
	f.deleted = append(f.deleted, documentID)
	return true, nil
}

func (f *fakeDocs) UpdateMetadata(context.Context, string, *string, *int) (bool, error) {
	return true, nil
}

func testRuntimeStore(t *testing.T) *runtimecfg.Store {
	t.Helper()
	store, err := runtimecfg.NewStore(filepath.Join(t.TempDir(), "runtime.yaml"), runtimecfg.Defaults{
		SystemPrompt: "Sos Nico, el asistente de ventas.",
		Model:        "deepseek/deepseek-chat",
		Temperature:  0.7,
		MaxTokens:    500,
	})
	require.NoError(t, err)
	return store
}

func turnWithSnapshot(t *testing.T, debug agent.Debug) *model.TurnDebug {
	t.Helper()
	raw, err := json.Marshal(debug)
	require.NoError(t, err)
	return &model.TurnDebug{
		SessionID:   "sess0001",
		UserMessage: "¿Tienen stock de la campera azul?",
		AgentReply:  "Sí, nos quedan dos.",
		Snapshot:    string(raw),
	}
}

func newTestEngine(t *testing.T, client *fakeCompleter, turn *model.TurnDebug, docs *fakeDocs) *Engine {
	t.Helper()
	return NewEngine(client, config.LLMConfig{BaseURL: "http://localhost", APIKey: "k"}, testRuntimeStore(t), &fakeTurns{turn: turn}, docs)
}

func TestAskThreadsHistoryBetweenSystemPromptAndQuestion(t *testing.T) {
	client := &fakeCompleter{reply: "El agente priorizó el documento de stock."}
	turn := turnWithSnapshot(t, agent.Debug{Model: "deepseek/deepseek-chat"})
	engine := newTestEngine(t, client, turn, &fakeDocs{})

	history := []ai.Message{
		{Role: "user", Content: "¿Por qué respondió eso?"},
		{Role: "assistant", Content: "Porque el fragmento de stock tenía el score más alto."},
	}

	_, err := engine.Ask(context.Background(), "sess0001", "¿Y qué documento era?", history)
	require.NoError(t, err)

	require.Len(t, client.messages, 4)
	assert.Equal(t, "system", client.messages[0].Role)
	assert.Equal(t, history[0], client.messages[1])
	assert.Equal(t, history[1], client.messages[2])
	assert.Equal(t, ai.Message{Role: "user", Content: "¿Y qué documento era?"}, client.messages[3])
}

func TestAskTranscriptUsesTurnSnapshotOnly(t *testing.T) {
	client := &fakeCompleter{reply: "ok"}
	turn := turnWithSnapshot(t, agent.Debug{
		MessagesSent: []ai.Message{
			{Role: "system", Content: "nota interna que no debe verse"},
			{Role: "user", Content: "hola, busco una campera"},
			{Role: "assistant", Content: "tenemos varias, ¿qué talle?"},
		},
	})
	engine := newTestEngine(t, client, turn, &fakeDocs{})

	_, err := engine.Ask(context.Background(), "sess0001", "¿qué pasó?", nil)
	require.NoError(t, err)

	metaPrompt := client.messages[0].Content
	assert.Contains(t, metaPrompt, "user: hola, busco una campera")
	assert.Contains(t, metaPrompt, "assistant: tenemos varias, ¿qué talle?")
	assert.NotContains(t, metaPrompt, "nota interna que no debe verse")
}

func TestAskTranscriptTruncatesAndKeepsTail(t *testing.T) {
	long := strings.Repeat("a", 350)
	var sent []ai.Message
	for i := 0; i < 12; i++ {
		sent = append(sent, ai.Message{Role: "user", Content: "mensaje viejo"})
	}
	sent = append(sent, ai.Message{Role: "assistant", Content: long})

	client := &fakeCompleter{reply: "ok"}
	engine := newTestEngine(t, client, turnWithSnapshot(t, agent.Debug{MessagesSent: sent}), &fakeDocs{})

	_, err := engine.Ask(context.Background(), "sess0001", "¿qué pasó?", nil)
	require.NoError(t, err)

	metaPrompt := client.messages[0].Content
	assert.Contains(t, metaPrompt, strings.Repeat("a", 300)+"...")
	assert.NotContains(t, metaPrompt, strings.Repeat("a", 301))
	assert.Equal(t, transcriptTail-1, strings.Count(metaPrompt, "mensaje viejo"))
}

func TestAskNoRecordedTurn(t *testing.T) {
	engine := newTestEngine(t, &fakeCompleter{}, nil, &fakeDocs{})

	_, err := engine.Ask(context.Background(), "sess0001", "¿qué pasó?", nil)
	assert.ErrorIs(t, err, ErrNoTurnData)
}

func TestAskDropsActionsForUnknownDocs(t *testing.T) {
	client := &fakeCompleter{reply: "Hay un documento desactualizado.\n" +
		"ACTION:delete_rag_doc:sacar viejo:doc_id=alive123\n" +
		"ACTION:delete_rag_doc:sacar fantasma:doc_id=gone9999"}
	docs := &fakeDocs{docs: []model.DocumentSummary{{ID: "alive123"}}}
	engine := newTestEngine(t, client, turnWithSnapshot(t, agent.Debug{}), docs)

	answer, err := engine.Ask(context.Background(), "sess0001", "¿algo para corregir?", nil)
	require.NoError(t, err)

	require.Len(t, answer.Actions, 1)
	assert.Equal(t, "alive123", answer.Actions[0].Params["doc_id"])
	assert.NotContains(t, answer.Text, "ACTION:")
}

func TestApplyEditPromptAppends(t *testing.T) {
	store := testRuntimeStore(t)
	engine := NewEngine(&fakeCompleter{}, config.LLMConfig{}, store, &fakeTurns{}, &fakeDocs{})

	_, err := engine.Apply(context.Background(), Action{
		Type:   ActionEditPrompt,
		Params: map[string]string{"append": "Aclarar siempre los plazos de envío."},
	})
	require.NoError(t, err)
	assert.Contains(t, store.Snapshot().SystemPrompt, "Aclarar siempre los plazos de envío.")
}

func TestApplyUnknownActionType(t *testing.T) {
	engine := NewEngine(&fakeCompleter{}, config.LLMConfig{}, testRuntimeStore(t), &fakeTurns{}, &fakeDocs{})

	_, err := engine.Apply(context.Background(), Action{Type: "reboot_server"})
	assert.ErrorIs(t, err, ErrUnknownAction)
}
