// Package chat runs one conversational exchange: validate, resolve the
// session, record the user turn, window the history, complete, record the
// reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/antoniostano/janela/internal/completion"
	"github.com/antoniostano/janela/internal/observability"
	"github.com/antoniostano/janela/internal/policy"
	"github.com/antoniostano/janela/internal/reliability"
	"github.com/antoniostano/janela/internal/session"
	"github.com/antoniostano/janela/internal/transcript"
	"github.com/antoniostano/janela/internal/window"
)

// Sessions is the subset of session.Manager the service needs.
type Sessions interface {
	Resolve(id string) (*session.Snapshot, bool)
	Append(id string, turn session.Turn) ([]session.Turn, error)
	Acquire(ctx context.Context, id string) (func(), error)
	Clear(id string)
	History(id string) (*session.Snapshot, error)
}

// Completer produces one assistant turn for a windowed transcript.
type Completer interface {
	Name() string
	Complete(ctx context.Context, system string, turns []session.Turn) (session.Turn, error)
}

const DefaultMaxMessageLength = 2000

type Config struct {
	MaxMessageLength int
	SystemPrompt     string
	Retry            reliability.Policy
}

// Reply is the result of a successful exchange.
type Reply struct {
	SessionID   string
	Text        string
	HistorySize int
	WindowSize  int
	NewSession  bool
}

type Service struct {
	sessions  Sessions
	window    window.Window
	completer Completer
	cfg       Config

	archive transcript.Store
	metrics *observability.Metrics
	now     func() time.Time
}

func NewService(sessions Sessions, win window.Window, completer Completer, cfg Config) (*Service, error) {
	if sessions == nil {
		return nil, errors.New("chat: sessions store is required")
	}
	if completer == nil {
		return nil, errors.New("chat: completer is required")
	}
	if win.Size() <= 0 {
		return nil, window.ErrInvalidSize
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	return &Service{
		sessions:  sessions,
		window:    win,
		completer: completer,
		cfg:       cfg,
		archive:   transcript.Discard{},
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetArchive routes every recorded turn, redacted, to store.
func (s *Service) SetArchive(store transcript.Store) {
	if store == nil {
		store = transcript.Discard{}
	}
	s.archive = store
}

// SetMetrics attaches m and declares the exchange stages on it.
func (s *Service) SetMetrics(m *observability.Metrics) {
	s.metrics = m
	if m == nil {
		return
	}
	for _, st := range stages {
		m.TrackStage(string(st.stage), st.budget)
	}
}

func (s *Service) MaxMessageLength() int { return s.cfg.MaxMessageLength }
func (s *Service) WindowSize() int       { return s.window.Size() }

// Validate trims text and checks it against the length limit. The limit
// applies to the text as received.
func (s *Service) Validate(text string) (string, error) {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return "", &InputError{Reason: ReasonEmpty, Limit: s.cfg.MaxMessageLength}
	}
	if n := utf8.RuneCountInString(text); n > s.cfg.MaxMessageLength {
		return "", &InputError{Reason: ReasonTooLong, Length: n, Limit: s.cfg.MaxMessageLength}
	}
	return clean, nil
}

// Send runs one exchange for sessionID. Failures after the session is known
// are *ExchangeError values; the user turn stays recorded in that case.
func (s *Service) Send(ctx context.Context, sessionID, text string) (Reply, error) {
	started := s.now()
	logger := observability.LoggerFromContext(ctx)

	clean, err := s.Validate(text)
	if err != nil {
		s.countOutcome("invalid_input")
		logger.Info("chat message rejected", "reason", err.(*InputError).Reason, "length", utf8.RuneCountInString(text))
		return Reply{}, err
	}

	snap, created := s.sessions.Resolve(sessionID)
	userTurn := session.NewTurn(session.RoleUser, clean, s.now())

	id, history, release, resolvedNew, err := s.recordUserTurn(ctx, snap.ID, userTurn)
	created = created || resolvedNew
	if created {
		s.countSession("created")
	}
	if err != nil {
		s.countOutcome(string(completion.KindOf(err)))
		return Reply{}, &ExchangeError{SessionID: id, Err: err}
	}
	defer release()

	logger = logger.With("session_id", id)
	s.archiveTurn(ctx, id, userTurn)

	windowStart := s.now()
	windowed := s.window.Apply(history)
	s.observeStage(StageWindow, s.now().Sub(windowStart))
	if s.metrics != nil {
		s.metrics.WindowTurns.Observe(float64(len(windowed)))
	}

	assistant, err := s.complete(ctx, logger, windowed)
	if err != nil {
		kind := completion.KindOf(err)
		s.countOutcome(string(kind))
		logger.Warn("chat exchange failed",
			"kind", kind,
			"history_size", len(history),
			"window_size", len(windowed),
			"duration_ms", s.now().Sub(started).Milliseconds(),
			"error", err,
		)
		return Reply{}, &ExchangeError{SessionID: id, Err: err}
	}

	full, err := s.sessions.Append(id, assistant)
	if err != nil {
		s.countOutcome("session_lost")
		logger.Error("assistant turn not recorded", "error", err)
		return Reply{}, &ExchangeError{SessionID: id, Err: fmt.Errorf("append assistant turn: %w", err)}
	}
	s.archiveTurn(ctx, id, assistant)

	total := s.now().Sub(started)
	s.observeStage(StageExchange, total)
	s.countOutcome("ok")
	logger.Info("chat exchange completed",
		"provider", s.completer.Name(),
		"new_session", created,
		"user_chars", utf8.RuneCountInString(clean),
		"reply_chars", utf8.RuneCountInString(assistant.Text),
		"history_size", len(full),
		"window_size", len(windowed),
		"duration_ms", total.Milliseconds(),
	)

	return Reply{
		SessionID:   id,
		Text:        assistant.Text,
		HistorySize: len(full),
		WindowSize:  len(windowed),
		NewSession:  created,
	}, nil
}

// recordUserTurn takes the exchange gate and appends turn. If the session was
// evicted in between it starts over once in a brand new session.
func (s *Service) recordUserTurn(ctx context.Context, id string, turn session.Turn) (string, []session.Turn, func(), bool, error) {
	created := false
	for attempt := 0; ; attempt++ {
		release, err := s.sessions.Acquire(ctx, id)
		if err == nil {
			var history []session.Turn
			history, err = s.sessions.Append(id, turn)
			if err == nil {
				return id, history, release, created, nil
			}
			release()
		}
		if !errors.Is(err, session.ErrNotFound) || attempt > 0 {
			return id, nil, nil, created, err
		}
		snap, _ := s.sessions.Resolve("")
		id = snap.ID
		created = true
	}
}

func (s *Service) complete(ctx context.Context, logger *slog.Logger, turns []session.Turn) (session.Turn, error) {
	for attempt := 0; ; attempt++ {
		callStart := s.now()
		reply, err := s.completer.Complete(ctx, s.cfg.SystemPrompt, turns)
		elapsed := s.now().Sub(callStart)
		s.observeStage(StageCompletion, elapsed)
		if s.metrics != nil {
			s.metrics.ObserveCompletionLatency(elapsed)
		}
		if err == nil {
			return reply, nil
		}

		kind := completion.KindOf(err)
		if s.metrics != nil {
			s.metrics.ProviderErrors.WithLabelValues(s.completer.Name(), string(kind)).Inc()
		}
		if !kind.Transient() || !s.cfg.Retry.Allow(attempt) {
			return session.Turn{}, err
		}

		delay := s.cfg.Retry.Delay(attempt)
		logger.Warn("completion failed, retrying", "kind", kind, "attempt", attempt+1, "delay_ms", delay.Milliseconds())
		if s.metrics != nil {
			s.metrics.CompletionRetries.Inc()
		}
		if werr := reliability.Wait(ctx, delay); werr != nil {
			return session.Turn{}, &completion.Error{Kind: completion.KindCanceled, Provider: s.completer.Name(), Err: werr}
		}
	}
}

// Clear empties the history of sessionID. Unknown ids are accepted. It waits
// for an in-flight exchange on the same session so the user turn and its reply
// are removed together.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil
	}
	release, err := s.sessions.Acquire(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return &completion.Error{Kind: completion.KindCanceled, Provider: s.completer.Name(), Err: err}
	}
	defer release()

	s.sessions.Clear(id)
	s.countSession("cleared")
	observability.LoggerFromContext(ctx).Info("session cleared", "session_id", id)
	return nil
}

func (s *Service) History(sessionID string) (*session.Snapshot, error) {
	return s.sessions.History(sessionID)
}

// Archived returns up to limit archived turns for sessionID, oldest first.
// Archived turns are redacted and may outlive the live session.
func (s *Service) Archived(ctx context.Context, sessionID string, limit int) ([]transcript.Record, error) {
	return s.archive.Recent(ctx, strings.TrimSpace(sessionID), limit)
}

func (s *Service) archiveTurn(ctx context.Context, sessionID string, turn session.Turn) {
	redacted := policy.Redact(turn.Text)
	rec := transcript.Record{
		SessionID:   sessionID,
		RequestID:   observability.RequestIDFromContext(ctx),
		Role:        string(turn.Role),
		Content:     redacted.Text,
		PIIRedacted: redacted.Changed(),
		CreatedAt:   turn.CreatedAt,
	}
	// The archive write outlives a disconnected caller.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.archive.SaveTurn(writeCtx, rec); err != nil {
		if s.metrics != nil {
			s.metrics.TranscriptErrors.Inc()
		}
		observability.LoggerFromContext(ctx).Warn("transcript write failed", "session_id", sessionID, "error", err)
	}
}

func (s *Service) countOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.ChatRequests.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) countSession(event string) {
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func (s *Service) observeStage(stage Stage, d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveStage(string(stage), d)
	}
}
