// Package wizard connects client event channels to the conversation engine.
// Each connection owns one session and one mailbox goroutine; every job for
// a connection runs to completion before the next one starts.
package wizard

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pitabwire/wizard/internal/config"
	"github.com/pitabwire/wizard/internal/conversation"
	"github.com/pitabwire/wizard/internal/observability"
	"github.com/pitabwire/wizard/internal/session"
	"github.com/pitabwire/wizard/internal/view"
	"github.com/pitabwire/wizard/model"
)

// Reset triggers reported to metrics.
const (
	resetExplicit     = "explicit"
	resetConversation = "conversation"
)

// Deps are the collaborators of a Service.
type Deps struct {
	Store   session.Store
	Catalog conversation.Catalog
	Config  config.ConversationConfig
	Logger  *zap.Logger
	// Metrics is optional.
	Metrics *observability.Metrics
}

// Service runs conversations for connected clients.
type Service struct {
	store   session.Store
	catalog conversation.Catalog
	engine  *conversation.Engine
	views   *view.Builder
	cfg     config.ConversationConfig
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
	jitter  func(time.Duration) time.Duration

	mu    sync.Mutex
	conns map[string]*conn
	wg    sync.WaitGroup
}

type conn struct {
	id      string
	emitter Emitter
	logger  *zap.Logger
	jobs    chan func(context.Context)
	ctx     context.Context
	cancel  context.CancelFunc

	// generation is bumped by every reset. Jobs queued under an older
	// generation are dropped.
	generation atomic.Uint64
}

// NewService creates a Service.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   d.Store,
		catalog: d.Catalog,
		engine:  conversation.NewEngine(d.Catalog),
		views:   view.NewBuilder(d.Catalog),
		cfg:     d.Config,
		logger:  logger,
		metrics: d.Metrics,
		now:     func() time.Time { return time.Now().UTC() },
		jitter: func(limit time.Duration) time.Duration {
			if limit <= 0 {
				return 0
			}
			return time.Duration(rand.Int64N(int64(limit)))
		},
		conns: make(map[string]*conn),
	}
}

// Connect creates the session for id, emits its initial state and schedules
// the greeting. ctx carries the connection's logger and ConnectionContext;
// it is not used for cancellation, Disconnect ends the connection.
func (s *Service) Connect(ctx context.Context, id string, emitter Emitter) error {
	saved, err := s.store.Create(ctx, model.NewSession(id, s.now()))
	if err != nil {
		return err
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &conn{
		id:      id,
		emitter: emitter,
		logger:  connLogger(ctx, s.logger).With(zap.String("session_id", id)),
		jobs:    make(chan func(context.Context), max(s.cfg.MailboxSize, 1)),
		ctx:     jobCtx,
		cancel:  cancel,
	}

	s.mu.Lock()
	s.conns[id] = c
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(c)

	s.setSessionsActive()
	c.logger.Info("session created")

	s.emit(c, EventWorkflowState, s.views.Build(saved))
	return s.enqueue(c, func(ctx context.Context) {
		if sleep(ctx, s.cfg.GreetingDelay) {
			s.emit(c, EventAIMessage, NewAIMessage(s.engine.Greeting(), s.now()))
		}
	})
}

// connLogger prefers a logger the transport already scoped to the
// connection over deriving one from the ConnectionContext.
func connLogger(ctx context.Context, base *zap.Logger) *zap.Logger {
	if model.ConnectionContextFrom(ctx) == nil {
		return observability.LoggerFrom(ctx, base)
	}
	if l := observability.LoggerFrom(ctx, nil); l != nil {
		return l
	}
	return observability.ConnectionLogger(ctx, base)
}

// UserMessage shows the typing indicator and queues one utterance for the
// session. A reset that lands before the reply is emitted drops the reply.
func (s *Service) UserMessage(ctx context.Context, id, content string) error {
	c, err := s.lookup(id)
	if err != nil {
		return err
	}

	if _, err := s.store.Get(ctx, id); err != nil {
		c.logger.Warn("user message without session", zap.Error(err))
		s.emit(c, EventError, ErrorPayload{Message: model.NewSessionNotFoundError().Message})
		return nil
	}

	gen := c.generation.Load()
	s.emit(c, EventAITyping, TypingPayload{IsTyping: true})
	return s.enqueue(c, func(ctx context.Context) {
		s.turn(ctx, c, gen, content)
	})
}

func (s *Service) turn(ctx context.Context, c *conn, gen uint64, content string) {
	ctx, span := observability.StartSpan(ctx, "conversation.turn",
		observability.AttrSessionID.String(c.id),
	)
	var spanErr error
	defer func() { observability.EndSpanWithError(span, spanErr) }()

	if s.superseded(c, span, gen) {
		return
	}
	current, err := s.store.Get(ctx, c.id)
	if err != nil {
		s.emit(c, EventAITyping, TypingPayload{IsTyping: false})
		s.emit(c, EventError, ErrorPayload{Message: model.NewSessionNotFoundError().Message})
		return
	}
	span.SetAttributes(observability.AttrStateFrom.String(string(current.State)))

	if !sleep(ctx, s.cfg.TypingDelayMin+s.jitter(s.cfg.TypingDelayJitter)) {
		return
	}
	if s.superseded(c, span, gen) {
		return
	}

	start := time.Now()
	next, resp := s.engine.Advance(current, content)
	elapsed := time.Since(start)

	saved, err := s.store.Update(ctx, next)
	if err != nil {
		s.emit(c, EventAITyping, TypingPayload{IsTyping: false})
		if model.HasCode(err, model.ErrSessionStale) || model.HasCode(err, model.ErrSessionNotFound) {
			s.dropStale(c, span, err)
			return
		}
		spanErr = err
		c.logger.Error("saving session failed", zap.Error(err))
		return
	}

	span.SetAttributes(
		observability.AttrStateTo.String(string(saved.State)),
		observability.AttrTemplateID.String(saved.SelectedTemplateID),
		observability.AttrStage.String(string(saved.ActiveStage)),
		observability.AttrFieldKey.String(saved.ActiveFieldKey),
	)
	s.observe(c, current, saved, elapsed)

	s.emit(c, EventAITyping, TypingPayload{IsTyping: false})
	// A reset requested after the save has its own job queued behind this
	// one; the reply and view would describe the replaced session.
	if cur := c.generation.Load(); cur != gen {
		s.dropStale(c, span, model.NewSessionStaleError(c.id, int(gen), int(cur)))
		return
	}
	s.emit(c, EventAIMessage, NewAIMessage(resp, s.now()))
	s.emit(c, EventWorkflowState, s.views.Build(saved))
	observability.AddEvent(ctx, EventAIMessage)
}

// superseded clears the typing indicator and reports true when a reset has
// happened since the turn was queued.
func (s *Service) superseded(c *conn, span trace.Span, gen uint64) bool {
	cur := c.generation.Load()
	if cur == gen {
		return false
	}
	s.emit(c, EventAITyping, TypingPayload{IsTyping: false})
	s.dropStale(c, span, model.NewSessionStaleError(c.id, int(gen), int(cur)))
	return true
}

func (s *Service) dropStale(c *conn, span trace.Span, err error) {
	span.SetAttributes(observability.AttrStale.Bool(true))
	if s.metrics != nil {
		s.metrics.RecordStaleTurn()
	}
	c.logger.Warn("dropping stale turn result", zap.Error(err))
}

// observe records metrics and logs for the transition prev -> next.
func (s *Service) observe(c *conn, prev, next model.Session, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordTurn(string(prev.State), elapsed)
	}

	switch {
	case !prev.HasSelection() && next.HasSelection():
		c.logger.Info("template selected", zap.String("template_id", next.SelectedTemplateID))
		if s.metrics != nil {
			s.metrics.RecordTemplateSelected(next.SelectedTemplateID)
		}

	case prev.State == model.StateConfiguring &&
		(next.ActiveStage != prev.ActiveStage || next.State == model.StateReview):
		if s.metrics != nil {
			s.metrics.RecordStageCompleted(prev.SelectedTemplateID, string(prev.ActiveStage))
		}

	case prev.State == model.StateReview && next.State == model.StateComplete:
		c.logger.Info("workflow activated", zap.String("template_id", prev.SelectedTemplateID))
		if s.metrics != nil {
			s.metrics.RecordActivation(prev.SelectedTemplateID)
		}

	case prev.HasSelection() && next.State == model.StateSelectingWorkflow:
		c.logger.Info("session restarted from conversation")
		if s.metrics != nil {
			s.metrics.RecordReset(resetConversation)
		}
	}

	if ce := c.logger.Check(zap.DebugLevel, "turn processed"); ce != nil && prev.State == model.StateConfiguring {
		p := next.StageProgress(prev.ActiveStage)
		ce.Write(
			zap.String("state", string(next.State)),
			zap.String("stage", string(prev.ActiveStage)),
			zap.Any("values", observability.RedactValues(p.Values, s.secretKeys(prev.SelectedTemplateID, prev.ActiveStage))),
		)
	}
}

// secretKeys returns the password-kind field keys of a stage.
func (s *Service) secretKeys(templateID string, k model.StageKey) []string {
	t, ok := s.catalog.Get(templateID)
	if !ok {
		return nil
	}
	st, _ := t.Stage(k)
	var keys []string
	for _, f := range st.Fields {
		if f.Kind == model.FieldPassword {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

// Reset marks every queued turn stale at once, then queues the replacement
// of the session with a fresh record, its view and, after the reset delay,
// the greeting. A later reset supersedes an earlier one still queued.
func (s *Service) Reset(_ context.Context, id string) error {
	c, err := s.lookup(id)
	if err != nil {
		return err
	}

	gen := c.generation.Add(1)
	return s.enqueue(c, func(ctx context.Context) {
		if c.generation.Load() != gen {
			return
		}
		saved, err := s.freshSession(ctx, c.id)
		if err != nil {
			c.logger.Error("resetting session failed", zap.Error(err))
			s.emit(c, EventError, NewErrorPayload(err))
			return
		}

		c.logger.Info("session reset")
		if s.metrics != nil {
			s.metrics.RecordReset(resetExplicit)
		}

		s.emit(c, EventWorkflowState, s.views.Build(saved))
		if sleep(ctx, s.cfg.ResetDelay) && c.generation.Load() == gen {
			s.emit(c, EventAIMessage, NewAIMessage(s.engine.Greeting(), s.now()))
		}
	})
}

// freshSession replaces the stored session, or recreates it if it is gone.
func (s *Service) freshSession(ctx context.Context, id string) (model.Session, error) {
	current, err := s.store.Get(ctx, id)
	if err == nil {
		return s.store.Replace(ctx, s.engine.Fresh(current))
	}
	if model.HasCode(err, model.ErrSessionNotFound) {
		return s.store.Create(ctx, model.NewSession(id, s.now()))
	}
	return model.Session{}, err
}

// State emits the current workflow view without changing the session. It
// emits nothing when the session is gone.
func (s *Service) State(ctx context.Context, id string) error {
	c, err := s.lookup(id)
	if err != nil {
		return err
	}
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil
	}
	s.emit(c, EventWorkflowState, s.views.Build(current))
	return nil
}

// Disconnect stops the connection's mailbox and deletes its session.
// Disconnecting an unknown id is a no-op.
func (s *Service) Disconnect(ctx context.Context, id string) {
	s.mu.Lock()
	c, ok := s.conns[id]
	delete(s.conns, id)
	s.mu.Unlock()
	if !ok {
		return
	}

	c.cancel()
	if err := s.store.Delete(ctx, id); err != nil {
		c.logger.Warn("deleting session failed", zap.Error(err))
	}
	s.setSessionsActive()
	c.logger.Info("session closed")
}

// Close disconnects every client and waits for their mailboxes to drain.
func (s *Service) Close(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Disconnect(ctx, id)
	}
	s.wg.Wait()
}

// Connections returns the number of connected clients.
func (s *Service) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Service) lookup(id string) (*conn, error) {
	s.mu.Lock()
	c, ok := s.conns[id]
	s.mu.Unlock()
	if !ok {
		return nil, model.NewSessionNotFoundError()
	}
	return c, nil
}

// enqueue blocks until the job is accepted or the connection is closed.
func (s *Service) enqueue(c *conn, job func(context.Context)) error {
	select {
	case c.jobs <- job:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func (s *Service) run(c *conn) {
	defer s.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case job := <-c.jobs:
			job(c.ctx)
		}
	}
}

func (s *Service) emit(c *conn, event string, data any) {
	if err := c.emitter.Emit(event, data); err != nil {
		c.logger.Debug("emit failed", zap.String("event", event), zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.RecordEvent("out", event)
	}
}

func (s *Service) setSessionsActive() {
	if s.metrics != nil {
		s.metrics.SetSessionsActive(s.store.Len())
	}
}

// sleep waits for d and reports whether ctx is still live afterwards.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
