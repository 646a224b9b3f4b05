package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/quickmart-labs/voicecart-core/internal/bus"
	"github.com/quickmart-labs/voicecart-core/internal/catalog"
	"github.com/quickmart-labs/voicecart-core/internal/config"
	"github.com/quickmart-labs/voicecart-core/internal/journal"
	"github.com/quickmart-labs/voicecart-core/internal/protocol"
	"github.com/quickmart-labs/voicecart-core/internal/session"
)

const commandTimeout = 10 * time.Second

// Service is the command surface: it owns the live sessions and executes
// tool invocations published by the conversational layer.
type Service struct {
	cfg     config.AgentConfig
	bus     *bus.Client
	catalog *catalog.Index
	writer  session.OrderWriter
	journal *journal.Store
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*liveSession

	subInvoke *nats.Subscription
	subEnd    *nats.Subscription

	commandCounter metric.Int64Counter
	orderCounter   metric.Int64Counter
}

// liveSession serializes commands for one session. Commands within a
// session run sequentially; sessions run independently of each other.
type liveSession struct {
	mu       sync.Mutex
	sess     *session.Session
	lastSeen time.Time
}

func NewService(parent context.Context, cfg config.AgentConfig, busClient *bus.Client, ix *catalog.Index, writer session.OrderWriter, store *journal.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:      cfg,
		bus:      busClient,
		catalog:  ix,
		writer:   writer,
		journal:  store,
		log:      log.With(slog.String("component", "agent-service")),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*liveSession),
	}
	if err := s.initMetrics(); err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	subInvoke, err := s.bus.Conn().Subscribe(protocol.SubjectToolInvoke, s.handleInvoke)
	if err != nil {
		return err
	}
	s.subInvoke = subInvoke

	subEnd, err := s.bus.Conn().Subscribe(protocol.SubjectSessionEnd, s.handleSessionEnd)
	if err != nil {
		_ = s.subInvoke.Drain()
		return err
	}
	s.subEnd = subEnd

	s.wg.Add(1)
	go s.reapIdleSessions()
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.subInvoke != nil {
		_ = s.subInvoke.Drain()
	}
	if s.subEnd != nil {
		_ = s.subEnd.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.subInvoke != nil && s.subEnd != nil)
}

// SessionCount reports the number of live sessions.
func (s *Service) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Service) handleInvoke(msg *nats.Msg) {
	var inv protocol.ToolInvocation
	if err := json.Unmarshal(msg.Data, &inv); err != nil {
		s.log.Warn("failed to decode tool invocation", slogError(err))
		return
	}
	if inv.SessionID == "" || inv.Tool == "" {
		s.log.Warn("tool invocation missing session or tool")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ls := s.sessionFor(inv.SessionID)
		ls.mu.Lock()
		defer ls.mu.Unlock()

		ctx, cancel := context.WithTimeout(s.ctx, commandTimeout)
		defer cancel()

		res := s.execute(ctx, ls.sess, inv)
		s.recordEntry(ctx, ls.sess, inv.Tool, res)

		if s.commandCounter != nil {
			s.commandCounter.Add(ctx, 1,
				metric.WithAttributes(
					attribute.String("tool", inv.Tool),
					attribute.String("status", res.Status)))
		}

		s.publishResult(res)
		if s.cfg.SpeakReplies && res.Text != "" {
			s.publishSpeak(res)
		}
	}()
}

func (s *Service) handleSessionEnd(msg *nats.Msg) {
	var end protocol.SessionEnd
	if err := json.Unmarshal(msg.Data, &end); err != nil {
		s.log.Warn("failed to decode session end", slogError(err))
		return
	}
	if end.SessionID == "" {
		return
	}
	s.endSession(end.SessionID, end.Reason)
}

func (s *Service) sessionFor(sessionID string) *liveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.sessions[sessionID]
	if !ok {
		ls = &liveSession{
			sess: session.New(sessionID, s.catalog, s.writer, s.log),
		}
		s.sessions[sessionID] = ls
		s.log.Info("session started", slog.String("session_id", sessionID))
	}
	ls.lastSeen = time.Now()
	return ls
}

func (s *Service) endSession(sessionID, reason string) {
	s.mu.Lock()
	ls, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	// An order never depends on in-flight synthesis, so nothing else to
	// unwind here; abandoned carts are only logged.
	if !ls.sess.Empty() {
		s.log.Info("session ended with items left in cart",
			slog.String("session_id", sessionID),
			slog.Int("lines", len(ls.sess.Lines())),
			slog.String("reason", reason))
	} else {
		s.log.Info("session ended", slog.String("session_id", sessionID), slog.String("reason", reason))
	}

	if s.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := s.journal.Record(ctx, journal.Entry{
			SessionID: sessionID,
			Tool:      "session_end",
			Status:    "ok",
			Detail:    reason,
		}); err != nil {
			s.log.Warn("failed to journal session end", slogError(err))
		}
	}
}

func (s *Service) reapIdleSessions() {
	defer s.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	idle := time.Duration(s.cfg.SessionIdleTimeoutMS) * time.Millisecond
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			var expired []string
			s.mu.Lock()
			now := time.Now()
			for id, ls := range s.sessions {
				if now.Sub(ls.lastSeen) > idle {
					expired = append(expired, id)
				}
			}
			s.mu.Unlock()
			for _, id := range expired {
				s.endSession(id, "idle_timeout")
			}
		}
	}
}

func (s *Service) recordEntry(ctx context.Context, sess *session.Session, tool string, res protocol.ToolResult) {
	if s.journal == nil {
		return
	}
	if err := s.journal.EnsureSession(ctx, sess.ID(), sess.CustomerName()); err != nil {
		s.log.Warn("failed to journal session", slogError(err))
		return
	}
	if err := s.journal.Record(ctx, journal.Entry{
		SessionID: sess.ID(),
		Tool:      tool,
		Status:    res.Status,
		Detail:    res.Text,
	}); err != nil {
		s.log.Warn("failed to journal command", slogError(err))
	}
}

func (s *Service) publishResult(res protocol.ToolResult) {
	data, err := json.Marshal(res)
	if err != nil {
		s.log.Warn("failed to marshal tool result", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectToolResult, data); err != nil {
		s.log.Warn("failed to publish tool result", slogError(err))
	}
}

func (s *Service) publishSpeak(res protocol.ToolResult) {
	req := protocol.SpeakRequest{
		SessionID: res.SessionID,
		Text:      res.Text,
		Voice:     s.cfg.DefaultVoice,
		Style:     s.cfg.DefaultStyle,
		Target:    s.cfg.Target,
		TraceID:   res.TraceID,
	}
	data, err := json.Marshal(req)
	if err != nil {
		s.log.Warn("failed to marshal speak request", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectSpeakRequest, data); err != nil {
		s.log.Warn("failed to publish speak request", slogError(err))
	}
}

func (s *Service) initMetrics() error {
	meter := otel.Meter("github.com/quickmart-labs/voicecart-core/agent")

	commands, err := meter.Int64Counter("voicecart.agent.commands",
		metric.WithDescription("Commands executed by tool and status"))
	if err != nil {
		return err
	}
	orders, err := meter.Int64Counter("voicecart.agent.orders_placed",
		metric.WithDescription("Orders successfully placed"))
	if err != nil {
		return err
	}
	gauge, err := meter.Int64ObservableGauge("voicecart.agent.sessions",
		metric.WithDescription("Live conversational sessions"))
	if err != nil {
		return err
	}
	s.commandCounter = commands
	s.orderCounter = orders
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(s.SessionCount()))
		return nil
	}, gauge)
	return err
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
