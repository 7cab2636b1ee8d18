// Package eval runs regression cases against the live agent configuration.
// A case is one user message with rule checks (substring must/must-not) and
// an optional LLM judge criterion; cases live in a YAML file the operator
// edits through the API.
package eval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"tiendabot/internal/agent"
	"tiendabot/internal/ai"
	"tiendabot/internal/config"
	"tiendabot/internal/runtimecfg"
)

const (
	judgeTemperature = 0.1
	judgeMaxTokens   = 150
	judgePassScore   = 3
)

var ErrCaseNotFound = errors.New("test case not found")

type Case struct {
	ID             string   `yaml:"id" json:"id"`
	Name           string   `yaml:"name" json:"name"`
	UserMessage    string   `yaml:"user_message" json:"user_message"`
	PromptContext  string   `yaml:"prompt_context,omitempty" json:"prompt_context,omitempty"`
	MustContain    []string `yaml:"must_contain,omitempty" json:"must_contain,omitempty"`
	MustNotContain []string `yaml:"must_not_contain,omitempty" json:"must_not_contain,omitempty"`
	JudgeCriteria  string   `yaml:"judge_criteria,omitempty" json:"judge_criteria,omitempty"`
}

type CaseResult struct {
	CaseID      string   `json:"case_id"`
	Name        string   `json:"name"`
	Reply       string   `json:"reply"`
	Passed      bool     `json:"passed"`
	Failures    []string `json:"failures,omitempty"`
	JudgeScore  int      `json:"judge_score,omitempty"`
	JudgeReason string   `json:"judge_reason,omitempty"`
}

type caseFile struct {
	Cases []Case `yaml:"cases"`
}

// Conversationalist runs a case turn; satisfied by *agent.Agent.
type Conversationalist interface {
	Chat(ctx context.Context, in agent.ChatInput) (*agent.Result, error)
}

// Completer is the judge model call; satisfied by *ai.Client.
type Completer interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.Message) (string, *ai.Usage, error)
}

// Runner owns the case file and executes cases against the current agent
// configuration with an empty conversation history.
type Runner struct {
	path      string
	agent     Conversationalist
	judge     Completer
	llm       config.LLMConfig
	cfg       *runtimecfg.Store
	knowledge agent.Searcher

	mu sync.Mutex
}

func NewRunner(path string, ag Conversationalist, judge Completer, llm config.LLMConfig, cfg *runtimecfg.Store, knowledge agent.Searcher) *Runner {
	return &Runner{
		path:      path,
		agent:     ag,
		judge:     judge,
		llm:       llm,
		cfg:       cfg,
		knowledge: knowledge,
	}
}

func (r *Runner) List() ([]Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked()
}

// Add stores a new case, assigning the next sequential tc-NNN id.
func (r *Runner) Add(c Case) (*Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cases, err := r.loadLocked()
	if err != nil {
		return nil, err
	}

	maxSeq := 0
	for _, existing := range cases {
		if n, ok := caseSeq(existing.ID); ok && n > maxSeq {
			maxSeq = n
		}
	}
	c.ID = fmt.Sprintf("tc-%03d", maxSeq+1)

	cases = append(cases, c)
	if err := r.writeLocked(cases); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Runner) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cases, err := r.loadLocked()
	if err != nil {
		return err
	}

	kept := cases[:0]
	found := false
	for _, c := range cases {
		if c.ID == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return ErrCaseNotFound
	}
	return r.writeLocked(kept)
}

// RunSingle executes one stored case.
func (r *Runner) RunSingle(ctx context.Context, id string) (*CaseResult, error) {
	cases, err := r.List()
	if err != nil {
		return nil, err
	}
	for _, c := range cases {
		if c.ID == id {
			result := r.run(ctx, c)
			return &result, nil
		}
	}
	return nil, ErrCaseNotFound
}

// RunAll executes every stored case in order.
func (r *Runner) RunAll(ctx context.Context) ([]CaseResult, error) {
	cases, err := r.List()
	if err != nil {
		return nil, err
	}
	results := make([]CaseResult, 0, len(cases))
	for _, c := range cases {
		results = append(results, r.run(ctx, c))
	}
	return results, nil
}

func (r *Runner) run(ctx context.Context, c Case) CaseResult {
	result := CaseResult{CaseID: c.ID, Name: c.Name, Passed: true}

	turn, err := r.agent.Chat(ctx, agent.ChatInput{
		UserMessage:   c.UserMessage,
		PromptContext: c.PromptContext,
		Knowledge:     r.knowledge,
	})
	if err != nil {
		result.Passed = false
		result.Failures = append(result.Failures, "agent call failed: "+err.Error())
		return result
	}
	result.Reply = turn.Reply

	lowerReply := strings.ToLower(turn.Reply)
	for _, want := range c.MustContain {
		if !strings.Contains(lowerReply, strings.ToLower(want)) {
			result.Passed = false
			result.Failures = append(result.Failures, "missing expected text: "+want)
		}
	}
	for _, banned := range c.MustNotContain {
		if strings.Contains(lowerReply, strings.ToLower(banned)) {
			result.Passed = false
			result.Failures = append(result.Failures, "contains forbidden text: "+banned)
		}
	}

	if c.JudgeCriteria != "" {
		score, reason, err := r.judgeReply(ctx, c, turn.Reply)
		if err != nil {
			result.Passed = false
			result.Failures = append(result.Failures, "judge call failed: "+err.Error())
			return result
		}
		result.JudgeScore = score
		result.JudgeReason = reason
		if score < judgePassScore {
			result.Passed = false
			result.Failures = append(result.Failures, fmt.Sprintf("judge score %d below %d", score, judgePassScore))
		}
	}
	return result
}

func (r *Runner) judgeReply(ctx context.Context, c Case, replyText string) (int, string, error) {
	prompt := "Sos un evaluador de calidad de un agente de ventas. " +
		"Calificá la respuesta del 1 al 5 según este criterio: " + c.JudgeCriteria + "\n\n" +
		"Mensaje del cliente: " + c.UserMessage + "\n" +
		"Respuesta del agente: " + replyText + "\n\n" +
		"Contestá exactamente en dos líneas:\nSCORE: <1-5>\nREASON: <una oración>"

	cfg := r.cfg.Snapshot()
	raw, _, err := r.judge.Complete(ctx, ai.ChatConfig{
		BaseURL:     r.llm.BaseURL,
		APIKey:      r.llm.APIKey,
		Model:       cfg.Model,
		Temperature: judgeTemperature,
		MaxTokens:   judgeMaxTokens,
	}, []ai.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return 0, "", err
	}

	score, reason := ParseJudgeVerdict(raw)
	return score, reason, nil
}

// ParseJudgeVerdict pulls SCORE and REASON out of the judge reply. A missing
// or unparseable score defaults to 1; scores are clamped to [1,5].
func ParseJudgeVerdict(raw string) (int, string) {
	score := 1
	reason := ""
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "SCORE:"); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
				score = n
			}
		} else if rest, ok := strings.CutPrefix(line, "REASON:"); ok {
			reason = strings.TrimSpace(rest)
		}
	}
	if score < 1 {
		score = 1
	}
	if score > 5 {
		score = 5
	}
	return score, reason
}

func (r *Runner) loadLocked() ([]Case, error) {
	raw, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return []Case{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read test cases failed: %w", err)
	}

	var f caseFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse test cases failed: %w", err)
	}
	return f.Cases, nil
}

func (r *Runner) writeLocked(cases []Case) error {
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create test cases dir failed: %w", err)
		}
	}
	payload, err := yaml.Marshal(caseFile{Cases: cases})
	if err != nil {
		return fmt.Errorf("marshal test cases failed: %w", err)
	}
	if err := os.WriteFile(r.path, payload, 0o644); err != nil {
		return fmt.Errorf("write test cases failed: %w", err)
	}
	return nil
}

func caseSeq(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, "tc-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}
