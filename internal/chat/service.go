// Package chat drives generation turns: it pulls a prompt from conversation
// history, resolves and loads the conversation's engine, consumes the token
// stream with throttled persistence, and finalizes on completion,
// cancellation, or error.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatd/internal/engine"
	"chatd/pkg/types"
)

// defaultPersistInterval throttles mid-stream writes: persist at ~4 Hz to
// keep readers fresh without write amplification.
const defaultPersistInterval = 250 * time.Millisecond

// Store is the slice of the durable store a generation turn needs.
type Store interface {
	Conversation(ctx context.Context, id uuid.UUID) (types.Conversation, error)
	Messages(ctx context.Context, convID uuid.UUID) ([]types.Message, error)
	Append(ctx context.Context, convID uuid.UUID, role types.Role, text string) (types.Message, error)
	UpdateText(ctx context.Context, id uuid.UUID, text string) error
	SetModel(ctx context.Context, convID uuid.UUID, modelID *uuid.UUID) error
	Model(ctx context.Context, id uuid.UUID) (types.ModelFile, error)
}

// Engines resolves one cached engine per model id.
type Engines interface {
	EngineFor(modelID uuid.UUID) engine.Engine
	UnloadAll()
}

// Resolver turns a stored model record into a readable weights path.
type Resolver interface {
	Resolve(m types.ModelFile) (string, error)
}

// Config carries the service tunables.
type Config struct {
	// PersistInterval throttles mid-stream writes (0 = default 250ms).
	PersistInterval time.Duration
	// Generation is the sampling config applied to every send.
	Generation types.GenerationConfig
	// Publisher receives lifecycle events (nil = dropped).
	Publisher EventPublisher
}

// Service coordinates at most one active generation per conversation.
type Service struct {
	store     Store
	engines   Engines
	resolver  Resolver
	interval  time.Duration
	genCfg    types.GenerationConfig
	publisher EventPublisher
	log       zerolog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	active  map[uuid.UUID]*session
	lastErr map[uuid.UUID]string
	// sending serializes Send per conversation so cancel, the two appends,
	// and session registration happen as one unit.
	sending map[uuid.UUID]*sync.Mutex
}

// New builds a Service. Zero-value Config fields fall back to defaults.
func New(store Store, engines Engines, resolver Resolver, cfg Config, log zerolog.Logger) *Service {
	if cfg.PersistInterval <= 0 {
		cfg.PersistInterval = defaultPersistInterval
	}
	if cfg.Generation.MaxTokens <= 0 {
		cfg.Generation = types.DefaultGenerationConfig()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Service{
		store:      store,
		engines:    engines,
		resolver:   resolver,
		interval:   cfg.PersistInterval,
		genCfg:     cfg.Generation,
		publisher:  cfg.Publisher,
		log:        log,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		active:     make(map[uuid.UUID]*session),
		lastErr:    make(map[uuid.UUID]string),
		sending:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// sendLock returns the per-conversation mutex that serializes Send.
func (s *Service) sendLock(convID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu := s.sending[convID]
	if mu == nil {
		mu = &sync.Mutex{}
		s.sending[convID] = mu
	}
	return mu
}

// CanSend reports the caller-side send precondition: non-blank text and a
// conversation with a bound model.
func (s *Service) CanSend(ctx context.Context, convID uuid.UUID, text string) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, nil
	}
	conv, err := s.store.Conversation(ctx, convID)
	if err != nil {
		return false, err
	}
	return conv.ModelID != nil, nil
}

// Send starts one generation turn. The user message and the empty assistant
// placeholder are persisted before it returns; token streaming continues in
// the background and is observed through the store's message state. Unmet
// preconditions (blank text, no bound model) are a no-op, not an error.
func (s *Service) Send(ctx context.Context, convID uuid.UUID, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		s.log.Debug().Stringer("conversation_id", convID).Msg("send ignored: empty text")
		return nil
	}
	conv, err := s.store.Conversation(ctx, convID)
	if err != nil {
		return err
	}
	if conv.ModelID == nil {
		s.log.Debug().Stringer("conversation_id", convID).Msg("send ignored: no model selected")
		return nil
	}

	// At most one active generation per conversation. The lock makes
	// cancel, the appends, and session registration atomic against a
	// concurrent Send; without it two sends can both see no active session
	// and stream into the conversation at once.
	mu := s.sendLock(convID)
	mu.Lock()
	defer mu.Unlock()
	s.Cancel(convID)

	if _, err := s.store.Append(ctx, convID, types.RoleUser, trimmed); err != nil {
		return err
	}
	placeholder, err := s.store.Append(ctx, convID, types.RoleAssistant, "")
	if err != nil {
		return err
	}

	genCtx, cancel := context.WithCancel(s.baseCtx)
	sess := newSession(convID, cancel)
	s.mu.Lock()
	s.active[convID] = sess
	delete(s.lastErr, convID)
	s.mu.Unlock()

	s.publisher.Publish(Event{Name: "send_start", ConversationID: convID, Fields: map[string]any{"model_id": conv.ModelID.String()}})
	go s.run(genCtx, sess, conv, placeholder.ID)
	return nil
}

// Cancel stops the in-flight generation for the conversation, if any, and
// waits for its final flush. Reports whether a session was active.
func (s *Service) Cancel(convID uuid.UUID) bool {
	s.mu.Lock()
	sess := s.active[convID]
	s.mu.Unlock()
	if sess == nil {
		return false
	}
	sess.cancel()
	<-sess.done
	return true
}

// SelectModel binds modelID (or clears it, with nil) to the conversation.
// An in-flight generation would race the new binding, so it is cancelled.
func (s *Service) SelectModel(ctx context.Context, convID uuid.UUID, modelID *uuid.UUID) error {
	s.Cancel(convID)
	return s.store.SetModel(ctx, convID, modelID)
}

// Status reports the generation state of one conversation.
func (s *Service) Status(convID uuid.UUID) types.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := StateIdle
	if sess := s.active[convID]; sess != nil {
		st = sess.State()
	}
	return types.SessionStatus{State: string(st), LastError: s.lastErr[convID]}
}

// UnloadAll drops every cached engine; used on memory pressure.
func (s *Service) UnloadAll() { s.engines.UnloadAll() }

// Close cancels all in-flight generations, waits for their final flushes,
// and unloads every engine.
func (s *Service) Close() {
	s.baseCancel()
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.active))
	for _, sess := range s.active {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.cancel()
		<-sess.done
	}
	s.engines.UnloadAll()
}

// run executes one generation turn to completion and settles the session.
func (s *Service) run(ctx context.Context, sess *session, conv types.Conversation, placeholderID uuid.UUID) {
	defer close(sess.done)
	defer func() {
		s.mu.Lock()
		if s.active[conv.ID] == sess {
			delete(s.active, conv.ID)
		}
		s.mu.Unlock()
	}()

	start := time.Now()
	err := s.generate(ctx, sess, conv, placeholderID)
	elapsed := time.Since(start).Seconds()
	switch {
	case err == nil:
		s.publisher.Publish(Event{Name: "send_done", ConversationID: conv.ID, Fields: map[string]any{"dur_seconds": elapsed}})
	case errors.Is(err, context.Canceled):
		s.publisher.Publish(Event{Name: "send_cancelled", ConversationID: conv.ID, Fields: map[string]any{"dur_seconds": elapsed}})
	default:
		s.mu.Lock()
		s.lastErr[conv.ID] = err.Error()
		s.mu.Unlock()
		s.log.Error().Err(err).Stringer("conversation_id", conv.ID).Msg("generation failed")
		s.publisher.Publish(Event{Name: "send_failed", ConversationID: conv.ID, Fields: map[string]any{"error": err.Error()}})
	}
	sess.setState(StateIdle)
}

// generate drives engine resolution, prompt construction, and the token
// consume loop. Whatever was accumulated is always flushed exactly once at
// the end; that flush is the session's last write for this send.
func (s *Service) generate(ctx context.Context, sess *session, conv types.Conversation, placeholderID uuid.UUID) error {
	sess.setState(StateStreaming)
	eng := s.engines.EngineFor(*conv.ModelID)

	model, err := s.store.Model(ctx, *conv.ModelID)
	if err != nil {
		return s.fail(placeholderID, "", err)
	}
	handle, err := s.resolver.Resolve(model)
	if err != nil {
		return s.fail(placeholderID, "", err)
	}
	if err := eng.Load(ctx, handle); err != nil {
		return s.fail(placeholderID, "", err)
	}

	msgs, err := s.store.Messages(ctx, conv.ID)
	if err != nil {
		return s.fail(placeholderID, "", err)
	}
	// The prompt covers everything up to and including the just-appended
	// user message; the empty placeholder itself is not transcript.
	history := msgs[:0:0]
	for _, m := range msgs {
		if m.ID != placeholderID {
			history = append(history, m)
		}
	}
	prompt := BuildPrompt(history)

	stream, err := eng.Generate(ctx, prompt, s.genCfg)
	if err != nil {
		return s.fail(placeholderID, "", err)
	}

	var acc strings.Builder
	lastPersist := time.Now()
	var streamErr error
	tokens := 0
	for {
		tok, ok, rerr := stream.Next(ctx)
		if rerr != nil {
			streamErr = rerr
			break
		}
		if !ok {
			break
		}
		acc.WriteString(tok)
		tokens++
		if time.Since(lastPersist) > s.interval {
			// Best-effort durability mid-stream; only the final flush is
			// allowed to fail the send.
			if perr := s.store.UpdateText(ctx, placeholderID, acc.String()); perr != nil {
				s.log.Warn().Err(perr).Stringer("conversation_id", conv.ID).Msg("throttled persist failed")
			}
			lastPersist = time.Now()
		}
	}
	s.publisher.Publish(Event{Name: "tokens", ConversationID: conv.ID, Fields: map[string]any{"count": tokens}})

	final := acc.String()
	if streamErr == nil {
		sess.setState(StateFinalizing)
		final = strings.TrimRight(final, " \t\r\n")
	}
	if ferr := s.flush(placeholderID, final); ferr != nil {
		if streamErr == nil {
			return ferr
		}
		s.log.Error().Err(ferr).Stringer("conversation_id", conv.ID).Msg("final flush failed after stream error")
	}
	return streamErr
}

// flush performs the mandatory terminal write on a context detached from the
// (possibly cancelled) session.
func (s *Service) flush(placeholderID uuid.UUID, text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.store.UpdateText(ctx, placeholderID, text)
}

// fail flushes partial content before surfacing err, so the placeholder is
// never left without a terminal write.
func (s *Service) fail(placeholderID uuid.UUID, partial string, err error) error {
	if ferr := s.flush(placeholderID, partial); ferr != nil {
		s.log.Error().Err(ferr).Msg("terminal flush failed")
	}
	return err
}
