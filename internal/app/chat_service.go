package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tiendabot/internal/agent"
	"tiendabot/internal/ai"
	"tiendabot/internal/channel"
	"tiendabot/internal/model"
	"tiendabot/internal/reply"
	"tiendabot/internal/runtimecfg"
)

const (
	// inboundTurnTimeout bounds a webhook-triggered turn so the gateway does
	// not retry while we are still talking to the model.
	inboundTurnTimeout = 25 * time.Second

	fallbackTimeoutText = "Disculpá, tardé demasiado en responder. ¿Podés repetir tu consulta?"
	fallbackErrorText   = "Perdón, tuve un error procesando tu mensaje. Intentá de nuevo en un momento."

	handoffReasonAgent = "derivación solicitada por el agente"
	handoffSystemNote  = "[Sistema] El agente pidió derivar esta conversación a un humano."
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotInHandoff    = errors.New("session is not in a handoff mode")
	ErrEmptyMessage    = errors.New("message text cannot be empty")
)

// SessionStore is the session persistence surface the service needs;
// satisfied by *repository.SessionRepository.
type SessionStore interface {
	Create(session *model.ChatSession) error
	Get(id string) (*model.ChatSession, error)
	GetByPhoneAndChannel(phone, channelName string) (*model.ChatSession, error)
	Delete(id string) (bool, error)
	List() ([]model.SessionSummary, error)
	UpdatePromptContext(id, promptContext string) error
	UpdateMode(id, mode, reason string, at *time.Time) error
	TouchActivity(id string, at time.Time) error
}

// MessageStore is satisfied by *repository.MessageRepository.
type MessageStore interface {
	Create(message *model.ChatMessage) error
	ListBySessionID(sessionID string) ([]model.ChatMessage, error)
	DeleteBySessionID(sessionID string) error
}

// Conversationalist runs one model turn; satisfied by *agent.Agent.
type Conversationalist interface {
	Chat(ctx context.Context, in agent.ChatInput) (*agent.Result, error)
}

// TurnTelemetry publishes a turn snapshot for asynchronous persistence;
// satisfied by *rabbitmq.TelemetryPublisher.
type TurnTelemetry interface {
	Publish(ctx context.Context, record model.TurnDebug) error
}

// TranscriptCache is satisfied by *cache.HistoryCache.
type TranscriptCache interface {
	Get(ctx context.Context, sessionID string) ([]model.ChatMessage, bool, error)
	Set(ctx context.Context, sessionID string, messages []model.ChatMessage) error
	Invalidate(ctx context.Context, sessionID string) error
	IsDirty(ctx context.Context, sessionID string) (bool, error)
}

// InboundDedup is satisfied by *cache.WebhookDedup.
type InboundDedup interface {
	MarkProcessed(ctx context.Context, messageID string) (bool, error)
}

// TurnResult is what one user message produced. Reply is empty when the
// session is not in bot mode.
type TurnResult struct {
	SessionID        string           `json:"session_id"`
	Mode             string           `json:"mode"`
	Reply            string           `json:"reply"`
	Images           []reply.ImageRef `json:"images,omitempty"`
	UnresolvedImages []string         `json:"unresolved_images,omitempty"`
	Handoff          bool             `json:"handoff"`
	Greeting         bool             `json:"greeting"`
}

type Transcript struct {
	Session  *model.ChatSession  `json:"session"`
	Messages []model.ChatMessage `json:"messages"`
}

// ChatService owns session lifecycle and turn orchestration. Turns of the
// same session run strictly one at a time.
type ChatService struct {
	sessions  SessionStore
	messages  MessageStore
	agent     Conversationalist
	knowledge agent.Searcher
	processor *reply.Processor
	cfg       *runtimecfg.Store
	telemetry TurnTelemetry
	history   TranscriptCache
	dedup     InboundDedup
	channels  *channel.Manager
	logger    zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewChatService(
	sessions SessionStore,
	messages MessageStore,
	ag Conversationalist,
	knowledge agent.Searcher,
	processor *reply.Processor,
	cfg *runtimecfg.Store,
	telemetry TurnTelemetry,
	history TranscriptCache,
	dedup InboundDedup,
	channels *channel.Manager,
	logger zerolog.Logger,
) *ChatService {
	return &ChatService{
		sessions:  sessions,
		messages:  messages,
		agent:     ag,
		knowledge: knowledge,
		processor: processor,
		cfg:       cfg,
		telemetry: telemetry,
		history:   history,
		dedup:     dedup,
		channels:  channels,
		logger:    logger.With().Str("component", "chat_service").Logger(),
		locks:     make(map[string]*sync.Mutex),
	}
}

// CreateSession opens a simulator conversation. PromptContext falls back to
// the configured default when empty.
func (s *ChatService) CreateSession(phone, senderName, promptContext string) (*model.ChatSession, error) {
	id := newSessionID()
	if phone == "" {
		phone = "sim-" + id[:8]
	}
	if promptContext == "" {
		promptContext = s.cfg.Snapshot().PromptContextDefault
	}

	now := time.Now()
	session := &model.ChatSession{
		ID:            id,
		PhoneNumber:   phone,
		Channel:       model.ChannelSimulator,
		SenderName:    senderName,
		PromptContext: promptContext,
		Mode:          model.ModeBot,
		CreatedAt:     now,
		LastActivity:  now,
	}
	if err := s.sessions.Create(session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *ChatService) ListSessions() ([]model.SessionSummary, error) {
	return s.sessions.List()
}

func (s *ChatService) GetTranscript(sessionID string) (*Transcript, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	messages, err := s.messages.ListBySessionID(sessionID)
	if err != nil {
		return nil, err
	}
	return &Transcript{Session: session, Messages: messages}, nil
}

func (s *ChatService) DeleteSession(ctx context.Context, sessionID string) error {
	ok, err := s.sessions.Delete(sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotFound
	}
	if err := s.messages.DeleteBySessionID(sessionID); err != nil {
		return err
	}
	s.invalidateHistory(ctx, sessionID)
	return nil
}

func (s *ChatService) SetPromptContext(sessionID, promptContext string) error {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	return s.sessions.UpdatePromptContext(sessionID, promptContext)
}

// HandleTurn processes one user message end to end. When the model fails the
// customer still gets an apologetic reply and the turn is recorded.
func (s *ChatService) HandleTurn(ctx context.Context, sessionID, userText string) (*TurnResult, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return nil, ErrEmptyMessage
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	cfg := s.cfg.Snapshot()
	now := time.Now()

	if s.shouldResetIdleSession(session, cfg, now) {
		if err := s.messages.DeleteBySessionID(sessionID); err != nil {
			return nil, err
		}
		s.invalidateHistory(ctx, sessionID)
		s.logger.Info().Str("session_id", sessionID).Msg("idle session reset, memory cleared")
	}

	history, err := s.loadHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.messages.Create(&model.ChatMessage{
		SessionID: sessionID,
		Role:      "user",
		Content:   userText,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}
	s.invalidateHistory(ctx, sessionID)

	if session.Mode != model.ModeBot {
		if err := s.sessions.TouchActivity(sessionID, now); err != nil {
			return nil, err
		}
		return &TurnResult{SessionID: sessionID, Mode: session.Mode}, nil
	}

	if greeting, ok := s.greetingFor(cfg, history, userText); ok {
		if err := s.messages.Create(&model.ChatMessage{
			SessionID: sessionID,
			Role:      "assistant",
			Content:   greeting,
			Source:    model.SourceBot,
			CreatedAt: time.Now(),
		}); err != nil {
			return nil, err
		}
		s.invalidateHistory(ctx, sessionID)
		if err := s.sessions.TouchActivity(sessionID, time.Now()); err != nil {
			return nil, err
		}
		return &TurnResult{
			SessionID: sessionID,
			Mode:      model.ModeBot,
			Reply:     greeting,
			Greeting:  true,
		}, nil
	}

	result, err := s.agent.Chat(ctx, agent.ChatInput{
		History:       history,
		UserMessage:   userText,
		PromptContext: session.PromptContext,
		Knowledge:     s.knowledge,
	})
	if err != nil {
		return s.recordFallback(ctx, sessionID, err)
	}

	outcome, err := s.processor.Process(result.Reply)
	if err != nil {
		return nil, err
	}

	if err := s.messages.Create(&model.ChatMessage{
		SessionID: sessionID,
		Role:      "assistant",
		Content:   outcome.Text,
		Source:    model.SourceBot,
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, err
	}

	mode := model.ModeBot
	if outcome.Handoff {
		mode = model.ModeHandoffPending
		handoffAt := time.Now()
		if err := s.sessions.UpdateMode(sessionID, mode, handoffReasonAgent, &handoffAt); err != nil {
			return nil, err
		}
		if err := s.messages.Create(&model.ChatMessage{
			SessionID: sessionID,
			Role:      "system",
			Content:   handoffSystemNote,
			Source:    model.SourceSystem,
			CreatedAt: handoffAt,
		}); err != nil {
			return nil, err
		}
		s.logger.Info().Str("session_id", sessionID).Msg("agent requested handoff")
	}

	s.invalidateHistory(ctx, sessionID)
	if err := s.sessions.TouchActivity(sessionID, time.Now()); err != nil {
		return nil, err
	}

	s.publishTelemetry(sessionID, userText, outcome.Text, &result.Debug)

	return &TurnResult{
		SessionID:        sessionID,
		Mode:             mode,
		Reply:            outcome.Text,
		Images:           outcome.Images,
		UnresolvedImages: outcome.UnresolvedImages,
		Handoff:          outcome.Handoff,
	}, nil
}

// HandleChannelInbound routes a webhook message: dedup, session lookup or
// creation by (phone, channel), the turn itself, then the outbound send.
func (s *ChatService) HandleChannelInbound(ctx context.Context, in channel.Incoming) error {
	if s.dedup != nil && in.MessageID != "" {
		fresh, err := s.dedup.MarkProcessed(ctx, in.MessageID)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dedup check failed, processing anyway")
		} else if !fresh {
			s.logger.Debug().Str("message_id", in.MessageID).Msg("duplicate webhook delivery skipped")
			return nil
		}
	}

	session, err := s.sessions.GetByPhoneAndChannel(in.PhoneNumber, string(in.Channel))
	if err != nil {
		return err
	}
	if session == nil {
		now := time.Now()
		session = &model.ChatSession{
			ID:            newSessionID(),
			PhoneNumber:   in.PhoneNumber,
			Channel:       string(in.Channel),
			SenderName:    in.SenderName,
			PromptContext: s.cfg.Snapshot().PromptContextDefault,
			Mode:          model.ModeBot,
			CreatedAt:     now,
			LastActivity:  now,
		}
		if err := s.sessions.Create(session); err != nil {
			return err
		}
	}

	turnCtx, cancel := context.WithTimeout(ctx, inboundTurnTimeout)
	defer cancel()

	result, err := s.HandleTurn(turnCtx, session.ID, in.Text)
	if err != nil {
		return err
	}
	if result.Reply == "" {
		return nil
	}

	ch, ok := s.channels.Get(in.Channel)
	if !ok {
		return fmt.Errorf("%w: %s", channel.ErrUnknownChannel, in.Channel)
	}
	if err := ch.Send(ctx, channel.Outgoing{PhoneNumber: in.PhoneNumber, Text: result.Reply}); err != nil {
		return err
	}
	for _, img := range result.Images {
		if err := ch.Send(ctx, channel.Outgoing{PhoneNumber: in.PhoneNumber, Text: img.URL}); err != nil {
			s.logger.Error().Err(err).Str("session_id", session.ID).Msg("send image reference failed")
		}
	}
	return nil
}

// RequestHandoff moves a session to handoff_pending on operator or agent
// initiative.
func (s *ChatService) RequestHandoff(ctx context.Context, sessionID, reason string) error {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if reason == "" {
		reason = "derivación manual"
	}
	at := time.Now()
	if err := s.sessions.UpdateMode(sessionID, model.ModeHandoffPending, reason, &at); err != nil {
		return err
	}
	s.invalidateHistory(ctx, sessionID)
	return nil
}

// OperatorReply sends a human message into a conversation that is waiting
// for, or already under, human attention. The first operator reply moves the
// session from handoff_pending to human.
func (s *ChatService) OperatorReply(ctx context.Context, sessionID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if session.Mode != model.ModeHandoffPending && session.Mode != model.ModeHuman {
		return ErrNotInHandoff
	}

	now := time.Now()
	if session.Mode == model.ModeHandoffPending {
		if err := s.sessions.UpdateMode(sessionID, model.ModeHuman, session.HandoffReason, session.HandoffAt); err != nil {
			return err
		}
	}

	if err := s.messages.Create(&model.ChatMessage{
		SessionID: sessionID,
		Role:      "assistant",
		Content:   text,
		Source:    model.SourceHuman,
		CreatedAt: now,
	}); err != nil {
		return err
	}
	s.invalidateHistory(ctx, sessionID)
	if err := s.sessions.TouchActivity(sessionID, now); err != nil {
		return err
	}

	if session.Channel != model.ChannelSimulator {
		ch, ok := s.channels.Get(channel.Type(session.Channel))
		if !ok {
			return fmt.Errorf("%w: %s", channel.ErrUnknownChannel, session.Channel)
		}
		if err := ch.Send(ctx, channel.Outgoing{PhoneNumber: session.PhoneNumber, Text: text}); err != nil {
			return err
		}
	}
	return nil
}

// ReturnToBot hands the conversation back to the agent and clears the
// handoff bookkeeping.
func (s *ChatService) ReturnToBot(ctx context.Context, sessionID string) error {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if err := s.sessions.UpdateMode(sessionID, model.ModeBot, "", nil); err != nil {
		return err
	}
	s.invalidateHistory(ctx, sessionID)
	return nil
}

func (s *ChatService) recordFallback(ctx context.Context, sessionID string, cause error) (*TurnResult, error) {
	text := fallbackErrorText
	if errors.Is(cause, ai.ErrTimeout) {
		text = fallbackTimeoutText
	}
	s.logger.Error().Err(cause).Str("session_id", sessionID).Msg("model turn failed, sending fallback")

	if err := s.messages.Create(&model.ChatMessage{
		SessionID: sessionID,
		Role:      "assistant",
		Content:   text,
		Source:    model.SourceBot,
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, err
	}
	s.invalidateHistory(ctx, sessionID)
	if err := s.sessions.TouchActivity(sessionID, time.Now()); err != nil {
		return nil, err
	}
	return &TurnResult{SessionID: sessionID, Mode: model.ModeBot, Reply: text}, nil
}

// shouldResetIdleSession reports whether the idle window elapsed. Mode,
// prompt context and the session row itself survive a reset; only the
// message memory goes.
func (s *ChatService) shouldResetIdleSession(session *model.ChatSession, cfg runtimecfg.Config, now time.Time) bool {
	if cfg.SessionTimeoutMinutes <= 0 {
		return false
	}
	if session.LastActivity.IsZero() {
		return false
	}
	return now.Sub(session.LastActivity) > time.Duration(cfg.SessionTimeoutMinutes)*time.Minute
}

// greetingFor returns the canned greeting when this is the opening message of
// a conversation and it looks like a salutation. An empty pattern list matches
// any first message.
func (s *ChatService) greetingFor(cfg runtimecfg.Config, history []model.ChatMessage, userText string) (string, bool) {
	if !cfg.GreetingEnabled || cfg.GreetingText == "" || len(history) > 0 {
		return "", false
	}
	if len(cfg.GreetingPatterns) == 0 {
		return cfg.GreetingText, true
	}
	lower := strings.ToLower(userText)
	for _, p := range cfg.GreetingPatterns {
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			return cfg.GreetingText, true
		}
	}
	return "", false
}

func (s *ChatService) loadHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	if s.history != nil {
		dirty, err := s.history.IsDirty(ctx, sessionID)
		if err == nil && !dirty {
			if cached, hit, err := s.history.Get(ctx, sessionID); err == nil && hit {
				return cached, nil
			}
		}
	}

	messages, err := s.messages.ListBySessionID(sessionID)
	if err != nil {
		return nil, err
	}

	if s.history != nil {
		if dirty, err := s.history.IsDirty(ctx, sessionID); err == nil && !dirty {
			if err := s.history.Set(ctx, sessionID, messages); err != nil {
				s.logger.Warn().Err(err).Msg("populate history cache failed")
			}
		}
	}
	return messages, nil
}

func (s *ChatService) invalidateHistory(ctx context.Context, sessionID string) {
	if s.history == nil {
		return
	}
	if err := s.history.Invalidate(ctx, sessionID); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("invalidate history cache failed")
	}
}

func (s *ChatService) publishTelemetry(sessionID, userText, replyText string, debug *agent.Debug) {
	if s.telemetry == nil {
		return
	}
	snapshot, err := json.Marshal(debug)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal turn snapshot failed")
		return
	}
	record := model.TurnDebug{
		SessionID:   sessionID,
		UserMessage: userText,
		AgentReply:  replyText,
		Snapshot:    string(snapshot),
		CreatedAt:   time.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.telemetry.Publish(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("session_id", sessionID).Msg("publish turn telemetry failed")
		}
	}()
}

func (s *ChatService) lockSession(sessionID string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[sessionID] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
