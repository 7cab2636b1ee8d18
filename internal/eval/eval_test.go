package eval

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiendabot/internal/agent"
	"tiendabot/internal/ai"
	"tiendabot/internal/config"
	"tiendabot/internal/runtimecfg"
)

type fakeAgent struct {
	reply string
	err   error
	calls int
}

func (f *fakeAgent) Chat(ctx context.Context, in agent.ChatInput) (*agent.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &agent.Result{Reply: f.reply}, nil
}

type fakeJudge struct {
	verdict string
}

func (f *fakeJudge) Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.Message) (string, *ai.Usage, error) {
	return f.verdict, nil, nil
}

func newTestRunner(t *testing.T, ag Conversationalist, judge Completer) *Runner {
	t.Helper()
	store, err := runtimecfg.NewStore(filepath.Join(t.TempDir(), "runtime.yaml"), runtimecfg.Defaults{
		SystemPrompt: "prompt",
		Model:        "test-model",
		Temperature:  0.5,
		MaxTokens:    100,
	})
	require.NoError(t, err)
	return NewRunner(filepath.Join(t.TempDir(), "cases.yaml"), ag, judge, config.LLMConfig{}, store, nil)
}

func TestAddAssignsSequentialIDs(t *testing.T) {
	r := newTestRunner(t, &fakeAgent{}, &fakeJudge{})

	first, err := r.Add(Case{Name: "saludo", UserMessage: "hola"})
	require.NoError(t, err)
	assert.Equal(t, "tc-001", first.ID)

	second, err := r.Add(Case{Name: "precio", UserMessage: "¿cuánto sale?"})
	require.NoError(t, err)
	assert.Equal(t, "tc-002", second.ID)

	require.NoError(t, r.Delete("tc-001"))
	third, err := r.Add(Case{Name: "stock", UserMessage: "¿hay stock?"})
	require.NoError(t, err)
	// IDs never reuse a freed slot.
	assert.Equal(t, "tc-003", third.ID)

	cases, err := r.List()
	require.NoError(t, err)
	assert.Len(t, cases, 2)
}

func TestListOnMissingFileIsEmpty(t *testing.T) {
	r := newTestRunner(t, &fakeAgent{}, &fakeJudge{})
	cases, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, cases)
}

func TestDeleteUnknownCase(t *testing.T) {
	r := newTestRunner(t, &fakeAgent{}, &fakeJudge{})
	assert.ErrorIs(t, r.Delete("tc-999"), ErrCaseNotFound)
}

func TestRunSingleRuleChecks(t *testing.T) {
	ag := &fakeAgent{reply: "Sale 25 mil pesos, con envío gratis."}
	r := newTestRunner(t, ag, &fakeJudge{})

	created, err := r.Add(Case{
		Name:           "precio",
		UserMessage:    "¿cuánto sale la mochila?",
		MustContain:    []string{"25 mil", "ENVÍO"},
		MustNotContain: []string{"dólares"},
	})
	require.NoError(t, err)

	result, err := r.RunSingle(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, result.Passed, "failures: %v", result.Failures)
	assert.Equal(t, 1, ag.calls)
}

func TestRunSingleFailsOnMissingAndForbiddenText(t *testing.T) {
	ag := &fakeAgent{reply: "Sale 30 dólares."}
	r := newTestRunner(t, ag, &fakeJudge{})

	created, err := r.Add(Case{
		Name:           "precio",
		UserMessage:    "precio?",
		MustContain:    []string{"pesos"},
		MustNotContain: []string{"dólares"},
	})
	require.NoError(t, err)

	result, err := r.RunSingle(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Len(t, result.Failures, 2)
}

func TestRunSingleJudgeBelowThresholdFails(t *testing.T) {
	ag := &fakeAgent{reply: "ni idea"}
	r := newTestRunner(t, ag, &fakeJudge{verdict: "SCORE: 2\nREASON: respuesta evasiva"})

	created, err := r.Add(Case{
		Name:          "tono",
		UserMessage:   "¿me recomendás algo?",
		JudgeCriteria: "el agente recomienda un producto concreto",
	})
	require.NoError(t, err)

	result, err := r.RunSingle(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, 2, result.JudgeScore)
	assert.Equal(t, "respuesta evasiva", result.JudgeReason)
}

func TestRunAll(t *testing.T) {
	ag := &fakeAgent{reply: "tenemos stock en todos los talles"}
	r := newTestRunner(t, ag, &fakeJudge{})

	_, err := r.Add(Case{Name: "a", UserMessage: "x", MustContain: []string{"stock"}})
	require.NoError(t, err)
	_, err = r.Add(Case{Name: "b", UserMessage: "y", MustContain: []string{"no existe"}})
	require.NoError(t, err)

	results, err := r.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed)
}

func TestParseJudgeVerdict(t *testing.T) {
	score, reason := ParseJudgeVerdict("SCORE: 4\nREASON: respuesta clara y concreta")
	assert.Equal(t, 4, score)
	assert.Equal(t, "respuesta clara y concreta", reason)

	score, _ = ParseJudgeVerdict("SCORE: 9\nREASON: fuera de rango")
	assert.Equal(t, 5, score)

	score, _ = ParseJudgeVerdict("SCORE: -1")
	assert.Equal(t, 1, score)

	score, reason = ParseJudgeVerdict("no sé qué poner")
	assert.Equal(t, 1, score)
	assert.Empty(t, reason)

	score, _ = ParseJudgeVerdict("  SCORE: 3  \n  REASON: ok")
	assert.Equal(t, 3, score)
}
