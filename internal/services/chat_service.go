package services

import (
	"cmp"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/lithammer/shortuuid/v4"

	"github.com/ana-joker/FULLSTUDY/internal/events"
	"github.com/ana-joker/FULLSTUDY/internal/models"
	"github.com/ana-joker/FULLSTUDY/internal/repositories"
	"github.com/ana-joker/FULLSTUDY/internal/validator"
)

const (
	DefaultTokenLimit = 1_000_000
	imageTokenCost    = 258

	chatTitleLength  = 30
	defaultChatTitle = "New Chat"
)

const titlePrompt = "Based on the following user query, create a short, descriptive title (max 5 words) for this conversation. The user's query is: %q. Respond with only the title, nothing else."

// EstimateTokens approximates the prompt size: a quarter token per
// character of text and a flat cost per inline attachment.
func EstimateTokens(parts []models.Part) int {
	total := 0
	for _, p := range parts {
		if p.InlineData != nil {
			total += imageTokenCost
		}
		if p.Text != "" {
			total += (utf8.RuneCountInString(p.Text) + 3) / 4
		}
	}
	return total
}

type ChatConfig struct {
	// TokenLimit rejects turns whose estimate exceeds it. Zero means DefaultTokenLimit.
	TokenLimit int
}

type chatService struct {
	repo      repositories.Repository
	generator GenerationService
	knowledge KnowledgeService
	settings  SettingsService
	publisher events.EventPublisher
	validator *validator.Validator
	config    ChatConfig
	logger    *ServiceLogger
	now       func() time.Time

	mu       sync.Mutex
	sessions []models.ChatSession
	loaded   bool
	inFlight map[string]bool
}

// NewChatService wires the chat controller. knowledge and publisher may be nil.
func NewChatService(
	repo repositories.Repository,
	generator GenerationService,
	knowledge KnowledgeService,
	settings SettingsService,
	publisher events.EventPublisher,
	validator *validator.Validator,
	config ChatConfig,
	logger *slog.Logger,
) ChatService {
	if config.TokenLimit <= 0 {
		config.TokenLimit = DefaultTokenLimit
	}
	return &chatService{
		repo:      repo,
		generator: generator,
		knowledge: knowledge,
		settings:  settings,
		publisher: publisher,
		validator: validator,
		config:    config,
		logger:    NewServiceLogger(logger, LogConfig{Service: "chat", Component: "turns"}),
		now:       time.Now,
		inFlight:  make(map[string]bool),
	}
}

// ===== SESSION STORAGE =====

// ensureLoaded reads sessions on first use. Callers hold s.mu.
func (s *chatService) ensureLoaded(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	sessions, err := s.repo.Chat().LoadSessions(ctx)
	if err != nil {
		return persistenceError("load", repositories.KeyChatSessions, err)
	}
	s.sessions = sessions
	s.loaded = true
	return nil
}

// sortAndSave orders sessions pinned first, then most recently updated, and
// persists them. Callers hold s.mu.
func (s *chatService) sortAndSave(ctx context.Context) error {
	sortSessions(s.sessions)
	if err := s.repo.Chat().SaveSessions(ctx, s.sessions); err != nil {
		return persistenceError("save", repositories.KeyChatSessions, err)
	}
	return nil
}

func sortSessions(sessions []models.ChatSession) {
	slices.SortStableFunc(sessions, func(a, b models.ChatSession) int {
		if a.Pinned != b.Pinned {
			if a.Pinned {
				return -1
			}
			return 1
		}
		return b.LastUpdated.Compare(a.LastUpdated)
	})
}

func (s *chatService) find(id string) int {
	return slices.IndexFunc(s.sessions, func(c models.ChatSession) bool { return c.ID == id })
}

func (s *chatService) Sessions(ctx context.Context) ([]models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	out := make([]models.ChatSession, len(s.sessions))
	for i, c := range s.sessions {
		out[i] = c.Clone()
	}
	return out, nil
}

func (s *chatService) Session(ctx context.Context, id string) (*models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	idx := s.find(id)
	if idx < 0 {
		return nil, ErrChatNotFound
	}
	c := s.sessions[idx].Clone()
	return &c, nil
}

// ===== SENDING =====

func (s *chatService) Send(ctx context.Context, req *SendRequest, handler StreamHandler) (*models.ChatSession, error) {
	op := s.logger.WithOperation(ctx, "send_message")
	session, err := s.send(ctx, req, handler, "")
	op.LogResult(sessionID(session, req), "chat_session", err)
	return session, err
}

func sessionID(session *models.ChatSession, req *SendRequest) string {
	if session != nil {
		return session.ID
	}
	if req != nil {
		return req.SessionID
	}
	return ""
}

// pendingTurn is a user turn that passed every check and is ready to append.
type pendingTurn struct {
	text     string
	files    []models.FileRef
	parts    []models.Part
	settings models.Settings
}

// prepareTurn runs every check that can reject a send. It touches no state.
func (s *chatService) prepareTurn(ctx context.Context, req *SendRequest) (*pendingTurn, error) {
	if req == nil {
		return nil, ErrEmptyMessage
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(req.Text)
	if text == "" && len(req.Files) == 0 {
		return nil, ErrEmptyMessage
	}

	var contextParts []models.Part
	if s.knowledge != nil {
		parts, err := s.knowledge.ContextParts(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to build knowledge context: %w", err)
		}
		contextParts = parts
	}

	turn := &pendingTurn{text: text, settings: models.DefaultSettings()}
	var userParts []models.Part
	if text != "" {
		userParts = append(userParts, models.TextPart(text))
	}
	for _, f := range req.Files {
		if f == nil {
			continue
		}
		userParts = append(userParts, models.InlinePart(f.MimeType, base64.StdEncoding.EncodeToString(f.Data)))
		turn.files = append(turn.files, models.FileRef{Name: f.Name, Type: f.MimeType})
	}
	turn.parts = append(contextParts, userParts...)

	if estimated := EstimateTokens(turn.parts); estimated > s.config.TokenLimit {
		return nil, &TokenLimitError{Estimated: estimated, Limit: s.config.TokenLimit}
	}

	if s.settings != nil {
		loaded, err := s.settings.Load(ctx)
		if err != nil {
			s.logger.Logger().Warn("Falling back to default chat settings", "error", err)
		} else {
			turn.settings = loaded
		}
	}
	return turn, nil
}

// send appends the user turn and streams the answer. A non-empty replaceID
// names a model message to regenerate: it and everything after it, plus the
// user turn before it, are replaced in the same locked section that appends
// the new user turn.
func (s *chatService) send(ctx context.Context, req *SendRequest, handler StreamHandler, replaceID string) (*models.ChatSession, error) {
	turn, err := s.prepareTurn(ctx, req)
	if err != nil {
		return nil, err
	}
	text, allParts, settings := turn.text, turn.parts, turn.settings
	regenerated := replaceID != ""

	// Append the user turn.
	s.mu.Lock()
	if err := s.ensureLoaded(ctx); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	now := s.now()
	isNew := req.SessionID == ""
	var id string
	if isNew {
		id = "chat-" + shortuuid.New()
		s.sessions = append([]models.ChatSession{{
			ID:                id,
			Title:             defaultTitle(text),
			History:           []models.ChatMessage{},
			SystemInstruction: strings.TrimSpace(req.SystemInstruction),
			LastUpdated:       now,
		}}, s.sessions...)
	} else {
		id = req.SessionID
		idx := s.find(id)
		if idx < 0 {
			s.mu.Unlock()
			return nil, ErrChatNotFound
		}
		if s.inFlight[id] {
			s.mu.Unlock()
			return nil, ErrSendInProgress
		}
		keep := len(s.sessions[idx].History)
		if regenerated {
			userIdx, err := regenerateFrom(s.sessions[idx], replaceID)
			if err != nil {
				s.mu.Unlock()
				return nil, err
			}
			keep = userIdx
		}
		s.sessions[idx].History = slices.Clone(s.sessions[idx].History[:keep])
		s.sessions[idx].SystemInstruction = strings.TrimSpace(req.SystemInstruction)
		s.sessions[idx].LastUpdated = now
	}
	s.inFlight[id] = true
	defer s.finishSend(id)

	idx := s.find(id)
	prior := s.sessions[idx].Clone().History
	systemInstruction := s.sessions[idx].SystemInstruction
	userMessage := models.ChatMessage{
		ID:        shortuuid.New(),
		Role:      models.RoleUser,
		Parts:     allParts,
		Text:      text,
		Timestamp: now,
		Files:     turn.files,
	}
	s.sessions[idx].History = append(s.sessions[idx].History, userMessage)
	saveErr := s.sortAndSave(ctx)
	s.mu.Unlock()

	if isNew && settings.AutoCreateTitle && text != "" {
		s.autoTitle(ctx, id, text)
	}

	// Stream the model turn.
	response, streamErr := s.stream(ctx, ChatRequest{
		History:           prior,
		Message:           allParts,
		SystemInstruction: systemInstruction,
		Params:            settings.ChatParams(),
	}, handler)

	if streamErr != nil && ctx.Err() != nil {
		// Cancelled by the caller: the partial answer is dropped.
		session, _ := s.Session(context.WithoutCancel(ctx), id)
		return session, fmt.Errorf("failed to send message: %w", ctx.Err())
	}

	modelMessage := models.ChatMessage{
		ID:        shortuuid.New(),
		Role:      models.RoleModel,
		Parts:     []models.Part{models.TextPart(response)},
		Text:      response,
		Timestamp: s.now(),
	}
	if streamErr != nil {
		modelMessage.Parts = []models.Part{}
		modelMessage.Text = "Sorry, an error occurred: " + streamErr.Error()
	}

	s.mu.Lock()
	var session *models.ChatSession
	if idx := s.find(id); idx >= 0 {
		s.sessions[idx].History = append(s.sessions[idx].History, modelMessage)
		s.sessions[idx].LastUpdated = modelMessage.Timestamp
		if err := s.sortAndSave(ctx); err != nil && saveErr == nil {
			saveErr = err
		}
		c := s.sessions[s.find(id)].Clone()
		session = &c
	}
	s.mu.Unlock()

	if streamErr != nil {
		err := classifyGenerationError("chat", streamErr)
		if handler.OnError != nil {
			handler.OnError(err)
		}
		return session, err
	}

	if handler.OnComplete != nil {
		handler.OnComplete(modelMessage)
	}
	s.publish(ctx, events.NewStudyEvent(events.EventChatMessageSent, events.ChatMessageSentEvent{
		SessionID:       id,
		MessageID:       userMessage.ID,
		EstimatedTokens: EstimateTokens(allParts),
		Regenerated:     regenerated,
	}))
	return session, saveErr
}

func (s *chatService) finishSend(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

// stream collects the response, forwarding chunks until EOF, failure or
// cancellation.
func (s *chatService) stream(ctx context.Context, req ChatRequest, handler StreamHandler) (string, error) {
	stream, err := s.generator.StartChat(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var response strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return response.String(), err
		}
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return response.String(), nil
		}
		if err != nil {
			return response.String(), err
		}
		response.WriteString(chunk)
		if handler.OnChunk != nil {
			handler.OnChunk(chunk)
		}
	}
}

func defaultTitle(text string) string {
	if text == "" {
		return defaultChatTitle
	}
	runes := []rune(text)
	if len(runes) > chatTitleLength {
		runes = runes[:chatTitleLength]
	}
	return string(runes)
}

// autoTitle replaces the provisional title. Failures keep the provisional one.
func (s *chatService) autoTitle(ctx context.Context, id, text string) {
	title, err := s.generator.GenerateText(ctx, fmt.Sprintf(titlePrompt, text))
	if err != nil {
		s.logger.Logger().Warn("Title generation failed", "session_id", id, "error", err)
		return
	}
	title = strings.TrimSpace(strings.ReplaceAll(title, `"`, ""))
	if title == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.find(id); idx >= 0 {
		s.sessions[idx].Title = title
		if err := s.sortAndSave(ctx); err != nil {
			s.logger.Logger().Warn("Failed to save chat title", "session_id", id, "error", err)
		}
	}
}

// regenerateFrom returns the index of the user turn that produced the model
// message messageID.
func regenerateFrom(session models.ChatSession, messageID string) (int, error) {
	msgIdx := session.MessageIndex(messageID)
	if msgIdx < 0 {
		return 0, ErrMessageNotFound
	}
	if msgIdx == 0 || session.History[msgIdx-1].Role != models.RoleUser {
		return 0, ErrCannotRegenerate
	}
	if strings.TrimSpace(session.History[msgIdx-1].Text) == "" {
		return 0, fmt.Errorf("%w: the turn has no text to resend", ErrCannotRegenerate)
	}
	return msgIdx - 1, nil
}

// Regenerate drops a model answer and everything after it, then sends the
// preceding user text again. Attachments of that turn are not resent, so a
// turn made only of files cannot be regenerated. A rejected regenerate leaves
// the history untouched.
func (s *chatService) Regenerate(ctx context.Context, sessionID, messageID string, handler StreamHandler) (*models.ChatSession, error) {
	op := s.logger.WithOperation(ctx, "regenerate_message")

	req, err := s.regenerateRequest(ctx, sessionID, messageID)
	if err != nil {
		op.LogResult(sessionID, "chat_session", err)
		return nil, err
	}

	session, err := s.send(ctx, req, handler, messageID)
	op.LogResult(sessionID, "chat_session", err)
	return session, err
}

func (s *chatService) regenerateRequest(ctx context.Context, sessionID, messageID string) (*SendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	idx := s.find(sessionID)
	if idx < 0 {
		return nil, ErrChatNotFound
	}
	if s.inFlight[sessionID] {
		return nil, ErrSendInProgress
	}
	userIdx, err := regenerateFrom(s.sessions[idx], messageID)
	if err != nil {
		return nil, err
	}
	return &SendRequest{
		SessionID:         sessionID,
		Text:              s.sessions[idx].History[userIdx].Text,
		SystemInstruction: s.sessions[idx].SystemInstruction,
	}, nil
}

// ===== SESSION MANAGEMENT =====

func (s *chatService) mutate(ctx context.Context, operation, id string, fn func(idx int) error) error {
	op := s.logger.WithOperation(ctx, operation)

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.ensureLoaded(ctx)
	if err == nil {
		idx := s.find(id)
		if idx < 0 {
			err = ErrChatNotFound
		} else if err = fn(idx); err == nil {
			err = s.sortAndSave(ctx)
		}
	}
	op.LogResult(id, "chat_session", err)
	return err
}

func (s *chatService) DeleteSession(ctx context.Context, id string) error {
	return s.mutate(ctx, "delete_chat", id, func(idx int) error {
		s.sessions = slices.Delete(s.sessions, idx, idx+1)
		return nil
	})
}

func (s *chatService) PinSession(ctx context.Context, id string, pinned bool) error {
	return s.mutate(ctx, "pin_chat", id, func(idx int) error {
		s.sessions[idx].Pinned = pinned
		return nil
	})
}

func (s *chatService) RenameSession(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	return s.mutate(ctx, "rename_chat", id, func(idx int) error {
		s.sessions[idx].Title = cmp.Or(title, defaultChatTitle)
		return nil
	})
}

func (s *chatService) DeleteMessage(ctx context.Context, sessionID, messageID string) error {
	return s.mutate(ctx, "delete_message", sessionID, func(idx int) error {
		msgIdx := s.sessions[idx].MessageIndex(messageID)
		if msgIdx < 0 {
			return ErrMessageNotFound
		}
		s.sessions[idx].History = slices.Delete(s.sessions[idx].History, msgIdx, msgIdx+1)
		return nil
	})
}

func (s *chatService) publish(ctx context.Context, event *events.StudyEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Logger().Warn("Failed to publish chat event",
			"event_type", event.Type,
			"error", err)
	}
}
