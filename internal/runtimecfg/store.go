// Package runtimecfg owns the mutable working copy of agent behavior. A
// single Store instance is loaded at startup and injected where needed;
// every mutation is validated, applied in memory and written back to the
// YAML file synchronously (last writer wins, single-admin system).
package runtimecfg

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxPromptVersions bounds the prompt history; the oldest entry is evicted.
const MaxPromptVersions = 20

var (
	ErrEmptyPrompt        = fmt.Errorf("system prompt cannot be empty")
	ErrInvalidTemperature = fmt.Errorf("temperature must be between 0 and 2")
	ErrInvalidMaxTokens   = fmt.Errorf("max_tokens must be positive")
	ErrInvalidTimeout     = fmt.Errorf("session timeout minutes must be positive")
	ErrVersionOutOfRange  = fmt.Errorf("prompt version index out of range")
)

type PromptVersion struct {
	Timestamp  string `yaml:"timestamp" json:"timestamp"`
	PromptText string `yaml:"prompt_text" json:"prompt_text"`
}

type Config struct {
	SystemPrompt          string          `yaml:"system_prompt" json:"system_prompt"`
	PromptContextDefault  string          `yaml:"prompt_context_default" json:"prompt_context_default"`
	Model                 string          `yaml:"model" json:"model"`
	Temperature           float64         `yaml:"temperature" json:"temperature"`
	MaxTokens             int             `yaml:"max_tokens" json:"max_tokens"`
	PromptVersions        []PromptVersion `yaml:"prompt_versions" json:"prompt_versions"`
	SessionTimeoutMinutes int             `yaml:"session_timeout_minutes" json:"session_timeout_minutes"`
	GreetingEnabled       bool            `yaml:"greeting_enabled" json:"greeting_enabled"`
	GreetingText          string          `yaml:"greeting_text" json:"greeting_text"`
	GreetingPatterns      []string        `yaml:"greeting_patterns" json:"greeting_patterns"`
}

// Defaults are the factory values used when no runtime file exists yet.
type Defaults struct {
	SystemPrompt string
	Model        string
	Temperature  float64
	MaxTokens    int
}

type Store struct {
	path string
	mu   sync.RWMutex
	data Config
}

// NewStore loads the runtime file, bootstrapping it from the factory
// defaults when absent.
func NewStore(path string, defaults Defaults) (*Store, error) {
	s := &Store{path: path}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("parse runtime config failed: %w", err)
		}
	case os.IsNotExist(err):
		s.data = Config{
			SystemPrompt:          defaults.SystemPrompt,
			PromptContextDefault:  "",
			Model:                 defaults.Model,
			Temperature:           defaults.Temperature,
			MaxTokens:             defaults.MaxTokens,
			PromptVersions:        []PromptVersion{},
			SessionTimeoutMinutes: 120,
			GreetingEnabled:       true,
			GreetingText:          "",
			GreetingPatterns:      []string{},
		}
		if err := s.write(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read runtime config failed: %w", err)
	}
	return s, nil
}

// Snapshot returns a copy of the current config.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.data
	cfg.PromptVersions = append([]PromptVersion(nil), s.data.PromptVersions...)
	cfg.GreetingPatterns = append([]string(nil), s.data.GreetingPatterns...)
	return cfg
}

// SavePrompt replaces the system prompt, recording a version entry when the
// text actually changed.
func (s *Store) SavePrompt(text string) error {
	if text == "" {
		return ErrEmptyPrompt
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if text != s.data.SystemPrompt {
		s.addVersionLocked(text)
	}
	s.data.SystemPrompt = text
	return s.write()
}

// AppendToPrompt adds a line to the system prompt; used by introspection
// edit_prompt actions.
func (s *Store) AppendToPrompt(text string) error {
	if text == "" {
		return ErrEmptyPrompt
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := s.data.SystemPrompt + "\n" + text
	s.addVersionLocked(updated)
	s.data.SystemPrompt = updated
	return s.write()
}

func (s *Store) SaveModelParams(model string, temperature float64, maxTokens int) error {
	if temperature < 0 || temperature > 2 {
		return ErrInvalidTemperature
	}
	if maxTokens <= 0 {
		return ErrInvalidMaxTokens
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Model = model
	s.data.Temperature = temperature
	s.data.MaxTokens = maxTokens
	return s.write()
}

func (s *Store) SaveDefaultContext(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.PromptContextDefault = text
	return s.write()
}

func (s *Store) SaveSessionTimeout(minutes int) error {
	if minutes <= 0 {
		return ErrInvalidTimeout
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.SessionTimeoutMinutes = minutes
	return s.write()
}

func (s *Store) SaveGreeting(enabled bool, text string, patterns []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.GreetingEnabled = enabled
	s.data.GreetingText = text
	s.data.GreetingPatterns = append([]string(nil), patterns...)
	return s.write()
}

// PromptVersions returns the history newest first.
func (s *Store) PromptVersions() []PromptVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PromptVersion, len(s.data.PromptVersions))
	for i, v := range s.data.PromptVersions {
		out[len(out)-1-i] = v
	}
	return out
}

// RestoreVersion sets the system prompt back to a history entry. The index
// addresses the newest-first list (0 = most recent).
func (s *Store) RestoreVersion(index int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.data.PromptVersions)
	if index < 0 || index >= n {
		return "", ErrVersionOutOfRange
	}
	text := s.data.PromptVersions[n-1-index].PromptText
	s.data.SystemPrompt = text
	if err := s.write(); err != nil {
		return "", err
	}
	return text, nil
}

func (s *Store) addVersionLocked(text string) {
	s.data.PromptVersions = append(s.data.PromptVersions, PromptVersion{
		Timestamp:  time.Now().Format("2006-01-02T15:04:05"),
		PromptText: text,
	})
	if len(s.data.PromptVersions) > MaxPromptVersions {
		s.data.PromptVersions = s.data.PromptVersions[len(s.data.PromptVersions)-MaxPromptVersions:]
	}
}

func (s *Store) write() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create runtime config dir failed: %w", err)
		}
	}
	payload, err := yaml.Marshal(&s.data)
	if err != nil {
		return fmt.Errorf("marshal runtime config failed: %w", err)
	}
	if err := os.WriteFile(s.path, payload, 0o644); err != nil {
		return fmt.Errorf("write runtime config failed: %w", err)
	}
	return nil
}
