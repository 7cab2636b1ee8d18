package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiendabot/internal/agent"
	"tiendabot/internal/ai"
	"tiendabot/internal/channel"
	"tiendabot/internal/images"
	"tiendabot/internal/model"
	"tiendabot/internal/reply"
	"tiendabot/internal/runtimecfg"
)

type memSessionStore struct {
	sessions map[string]*model.ChatSession
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]*model.ChatSession)}
}

func (m *memSessionStore) Create(s *model.ChatSession) error {
	copied := *s
	m.sessions[s.ID] = &copied
	return nil
}

func (m *memSessionStore) Get(id string) (*model.ChatSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (m *memSessionStore) GetByPhoneAndChannel(phone, channelName string) (*model.ChatSession, error) {
	for _, s := range m.sessions {
		if s.PhoneNumber == phone && s.Channel == channelName {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memSessionStore) Delete(id string) (bool, error) {
	if _, ok := m.sessions[id]; !ok {
		return false, nil
	}
	delete(m.sessions, id)
	return true, nil
}

func (m *memSessionStore) List() ([]model.SessionSummary, error) {
	var out []model.SessionSummary
	for _, s := range m.sessions {
		out = append(out, model.SessionSummary{ID: s.ID, Mode: s.Mode})
	}
	return out, nil
}

func (m *memSessionStore) UpdatePromptContext(id, promptContext string) error {
	if s, ok := m.sessions[id]; ok {
		s.PromptContext = promptContext
	}
	return nil
}

func (m *memSessionStore) UpdateMode(id, mode, reason string, at *time.Time) error {
	if s, ok := m.sessions[id]; ok {
		s.Mode = mode
		s.HandoffReason = reason
		s.HandoffAt = at
	}
	return nil
}

func (m *memSessionStore) TouchActivity(id string, at time.Time) error {
	if s, ok := m.sessions[id]; ok {
		s.LastActivity = at
	}
	return nil
}

type memMessageStore struct {
	messages map[string][]model.ChatMessage
	nextID   uint
}

func newMemMessageStore() *memMessageStore {
	return &memMessageStore{messages: make(map[string][]model.ChatMessage)}
}

func (m *memMessageStore) Create(msg *model.ChatMessage) error {
	m.nextID++
	msg.ID = m.nextID
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], *msg)
	return nil
}

func (m *memMessageStore) ListBySessionID(sessionID string) ([]model.ChatMessage, error) {
	return append([]model.ChatMessage(nil), m.messages[sessionID]...), nil
}

func (m *memMessageStore) DeleteBySessionID(sessionID string) error {
	delete(m.messages, sessionID)
	return nil
}

type scriptedAgent struct {
	reply string
	err   error
	calls int
	last  agent.ChatInput
}

func (a *scriptedAgent) Chat(ctx context.Context, in agent.ChatInput) (*agent.Result, error) {
	a.calls++
	a.last = in
	if a.err != nil {
		return nil, a.err
	}
	return &agent.Result{Reply: a.reply, Debug: agent.Debug{Model: "test-model"}}, nil
}

type testEnv struct {
	svc      *ChatService
	sessions *memSessionStore
	messages *memMessageStore
	agent    *scriptedAgent
	cfg      *runtimecfg.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := runtimecfg.NewStore(filepath.Join(t.TempDir(), "runtime.yaml"), runtimecfg.Defaults{
		SystemPrompt: "Sos Nico.",
		Model:        "test-model",
		Temperature:  0.7,
		MaxTokens:    500,
	})
	require.NoError(t, err)

	sessions := newMemSessionStore()
	messages := newMemMessageStore()
	ag := &scriptedAgent{reply: "Tenemos stock, sale 25 mil."}
	processor := reply.NewProcessor(images.NewRegistry(t.TempDir()))

	svc := NewChatService(
		sessions, messages, ag, nil, processor, store,
		nil, nil, nil, channel.NewManager(), zerolog.Nop(),
	)
	return &testEnv{svc: svc, sessions: sessions, messages: messages, agent: ag, cfg: store}
}

func (e *testEnv) createSession(t *testing.T) *model.ChatSession {
	t.Helper()
	session, err := e.svc.CreateSession("", "Ana", "")
	require.NoError(t, err)
	return session
}

func TestHandleTurnBasicFlow(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t)

	result, err := env.svc.HandleTurn(context.Background(), session.ID, "¿tienen stock de mochilas?")
	require.NoError(t, err)

	assert.Equal(t, "Tenemos stock, sale 25 mil.", result.Reply)
	assert.Equal(t, model.ModeBot, result.Mode)
	assert.False(t, result.Handoff)
	assert.Equal(t, 1, env.agent.calls)

	transcript, _ := env.messages.ListBySessionID(session.ID)
	require.Len(t, transcript, 2)
	assert.Equal(t, "user", transcript[0].Role)
	assert.Equal(t, "assistant", transcript[1].Role)
	assert.Equal(t, model.SourceBot, transcript[1].Source)
}

func TestHandleTurnRejectsEmptyMessage(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t)

	_, err := env.svc.HandleTurn(context.Background(), session.ID, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestHandleTurnUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.HandleTurn(context.Background(), "nope", "hola")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHandleTurnGreetingBypassesModel(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.cfg.SaveGreeting(true, "¡Hola! ¿Qué andás buscando?", []string{"hola", "buenas"}))
	session := env.createSession(t)

	result, err := env.svc.HandleTurn(context.Background(), session.ID, "Hola!!")
	require.NoError(t, err)

	assert.True(t, result.Greeting)
	assert.Equal(t, "¡Hola! ¿Qué andás buscando?", result.Reply)
	assert.Zero(t, env.agent.calls)

	transcript, _ := env.messages.ListBySessionID(session.ID)
	assert.Len(t, transcript, 2)
}

func TestHandleTurnGreetingOnlyOnFirstMessage(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.cfg.SaveGreeting(true, "¡Hola!", []string{"hola"}))
	session := env.createSession(t)

	_, err := env.svc.HandleTurn(context.Background(), session.ID, "hola")
	require.NoError(t, err)

	result, err := env.svc.HandleTurn(context.Background(), session.ID, "hola de nuevo")
	require.NoError(t, err)
	assert.False(t, result.Greeting)
	assert.Equal(t, 1, env.agent.calls)
}

func TestHandleTurnGreetingPatternMismatchGoesToModel(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.cfg.SaveGreeting(true, "¡Hola!", []string{"hola"}))
	session := env.createSession(t)

	result, err := env.svc.HandleTurn(context.Background(), session.ID, "¿cuánto sale la carpa?")
	require.NoError(t, err)
	assert.False(t, result.Greeting)
	assert.Equal(t, 1, env.agent.calls)
	assert.Equal(t, "Tenemos stock, sale 25 mil.", result.Reply)
}

func TestHandleTurnGreetingEmptyPatternsMatchAnything(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.cfg.SaveGreeting(true, "¡Bienvenido!", nil))
	session := env.createSession(t)

	result, err := env.svc.HandleTurn(context.Background(), session.ID, "quiero una carpa")
	require.NoError(t, err)
	assert.True(t, result.Greeting)
	assert.Zero(t, env.agent.calls)
}

func TestHandleTurnIdleTimeoutClearsMemoryKeepsSession(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t)
	require.NoError(t, env.svc.SetPromptContext(session.ID, "cliente mayorista"))

	_, err := env.svc.HandleTurn(context.Background(), session.ID, "primer mensaje")
	require.NoError(t, err)

	// Push the session past the 120 minute default idle window.
	stale := time.Now().Add(-121 * time.Minute)
	require.NoError(t, env.sessions.TouchActivity(session.ID, stale))

	_, err = env.svc.HandleTurn(context.Background(), session.ID, "volví")
	require.NoError(t, err)

	transcript, _ := env.messages.ListBySessionID(session.ID)
	require.Len(t, transcript, 2)
	assert.Equal(t, "volví", transcript[0].Content)

	// The model saw an empty history on the post-reset turn.
	assert.Empty(t, env.agent.last.History)
	assert.Equal(t, "cliente mayorista", env.agent.last.PromptContext)

	after, _ := env.sessions.Get(session.ID)
	assert.Equal(t, session.ID, after.ID)
	assert.Equal(t, model.ModeBot, after.Mode)
}

func TestHandleTurnUnderTimeoutKeepsMemory(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t)

	_, err := env.svc.HandleTurn(context.Background(), session.ID, "primer mensaje")
	require.NoError(t, err)
	require.NoError(t, env.sessions.TouchActivity(session.ID, time.Now().Add(-119*time.Minute)))

	_, err = env.svc.HandleTurn(context.Background(), session.ID, "sigo acá")
	require.NoError(t, err)

	assert.Len(t, env.agent.last.History, 2)
}

func TestHandleTurnHandoffTransition(t *testing.T) {
	env := newTestEnv(t)
	env.agent.reply = "Te paso con un compañero. [HANDOFF] pide factura A"
	session := env.createSession(t)

	result, err := env.svc.HandleTurn(context.Background(), session.ID, "necesito factura A")
	require.NoError(t, err)

	assert.True(t, result.Handoff)
	assert.Equal(t, model.ModeHandoffPending, result.Mode)
	assert.Equal(t, "Te paso con un compañero.", result.Reply)

	after, _ := env.sessions.Get(session.ID)
	assert.Equal(t, model.ModeHandoffPending, after.Mode)
	assert.NotNil(t, after.HandoffAt)

	transcript, _ := env.messages.ListBySessionID(session.ID)
	require.Len(t, transcript, 3)
	assert.Equal(t, model.SourceSystem, transcript[2].Source)
}

func TestHandleTurnNonBotModeShortCircuits(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t)
	require.NoError(t, env.sessions.UpdateMode(session.ID, model.ModeHuman, "", nil))

	result, err := env.svc.HandleTurn(context.Background(), session.ID, "¿hay alguien?")
	require.NoError(t, err)

	assert.Empty(t, result.Reply)
	assert.Equal(t, model.ModeHuman, result.Mode)
	assert.Zero(t, env.agent.calls)

	// The customer message is still recorded for the operator.
	transcript, _ := env.messages.ListBySessionID(session.ID)
	require.Len(t, transcript, 1)
	assert.Equal(t, "¿hay alguien?", transcript[0].Content)
}

func TestHandleTurnModelTimeoutFallback(t *testing.T) {
	env := newTestEnv(t)
	env.agent.err = ai.ErrTimeout
	session := env.createSession(t)

	result, err := env.svc.HandleTurn(context.Background(), session.ID, "hola")
	require.NoError(t, err)
	assert.Equal(t, fallbackTimeoutText, result.Reply)

	transcript, _ := env.messages.ListBySessionID(session.ID)
	require.Len(t, transcript, 2)
	assert.Equal(t, fallbackTimeoutText, transcript[1].Content)
}

func TestHandleTurnModelErrorFallback(t *testing.T) {
	env := newTestEnv(t)
	env.agent.err = context.DeadlineExceeded
	session := env.createSession(t)

	result, err := env.svc.HandleTurn(context.Background(), session.ID, "hola")
	require.NoError(t, err)
	assert.Equal(t, fallbackErrorText, result.Reply)
}

func TestOperatorReplyPromotesToHuman(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t)
	require.NoError(t, env.svc.RequestHandoff(context.Background(), session.ID, "cliente enojado"))

	require.NoError(t, env.svc.OperatorReply(context.Background(), session.ID, "Hola, soy Marcos, ¿en qué te ayudo?"))

	after, _ := env.sessions.Get(session.ID)
	assert.Equal(t, model.ModeHuman, after.Mode)

	transcript, _ := env.messages.ListBySessionID(session.ID)
	require.Len(t, transcript, 1)
	assert.Equal(t, model.SourceHuman, transcript[0].Source)
}

func TestOperatorReplyRequiresHandoffMode(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t)

	err := env.svc.OperatorReply(context.Background(), session.ID, "hola")
	assert.ErrorIs(t, err, ErrNotInHandoff)
}

func TestReturnToBotClearsHandoff(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t)
	require.NoError(t, env.svc.RequestHandoff(context.Background(), session.ID, "razón"))

	require.NoError(t, env.svc.ReturnToBot(context.Background(), session.ID))

	after, _ := env.sessions.Get(session.ID)
	assert.Equal(t, model.ModeBot, after.Mode)
	assert.Empty(t, after.HandoffReason)
	assert.Nil(t, after.HandoffAt)

	// The agent answers again after the handback.
	result, err := env.svc.HandleTurn(context.Background(), session.ID, "¿seguimos?")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Reply)
}

func TestCreateSessionDefaults(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.cfg.SaveDefaultContext("temporada de verano"))

	session, err := env.svc.CreateSession("", "Ana", "")
	require.NoError(t, err)
	assert.Len(t, session.ID, 16)
	assert.Equal(t, model.ChannelSimulator, session.Channel)
	assert.Equal(t, model.ModeBot, session.Mode)
	assert.Equal(t, "temporada de verano", session.PromptContext)
	assert.Contains(t, session.PhoneNumber, "sim-")
}
