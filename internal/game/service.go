package game

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/victornm/codeclash/internal/checker"
	"github.com/victornm/codeclash/internal/domain"
	"github.com/victornm/codeclash/internal/engine"
	"github.com/victornm/codeclash/internal/errors"
	"github.com/victornm/codeclash/internal/telemetry"
)

const (
	defaultGameDuration = 30 * time.Minute
	timeoutFlowBudget   = 10 * time.Second
)

// Storage is the narrow durable-store interface the service needs: session
// records are written at creation and read back for finished games. Terminal
// snapshots are persisted by the storage package's own bus subscription.
type Storage interface {
	InsertSession(ctx context.Context, s domain.Session) error
	LoadSessionRecord(ctx context.Context, id string) (domain.Session, error)
}

type Config struct {
	Registry   *Registry
	Supervisor *Supervisor
	Timer      *Timer
	Checker    checker.Checker
	Engines    *engine.Set
	Storage    Storage

	// GameDuration is the per-session deadline; the default is used when
	// zero.
	GameDuration time.Duration
}

// Service drives sessions through their lifecycle: it resolves engine
// variants, funnels transitions through the owning session process and runs
// the timeout protocol.
type Service struct {
	registry   *Registry
	supervisor *Supervisor
	timer      *Timer
	checker    checker.Checker
	engines    *engine.Set
	storage    Storage
	duration   time.Duration
}

func NewService(c Config) *Service {
	d := c.GameDuration
	if d == 0 {
		d = defaultGameDuration
	}

	return &Service{
		registry:   c.Registry,
		supervisor: c.Supervisor,
		timer:      c.Timer,
		checker:    c.Checker,
		engines:    c.Engines,
		storage:    c.Storage,
		duration:   d,
	}
}

type CreateSessionRequest struct {
	Type         domain.GameType
	Task         domain.Task
	Players      []domain.Player
	TournamentID string
}

// CreateSession builds a session through its engine variant, persists the
// record, starts the supervised process and arms the session deadline.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (domain.Session, error) {
	eng, err := s.engines.Resolve(req.Type)
	if err != nil {
		return domain.Session{}, err
	}

	sess, err := eng.CreateSession(ctx, engine.CreateRequest{
		Type:         req.Type,
		Task:         req.Task,
		Players:      req.Players,
		TournamentID: req.TournamentID,
	})
	if err != nil {
		return domain.Session{}, err
	}

	if err := s.storage.InsertSession(ctx, sess); err != nil {
		return domain.Session{}, err
	}

	if _, err := s.supervisor.StartSession(sess); err != nil {
		return domain.Session{}, err
	}

	s.timer.Schedule(sess.ID, s.duration, s.fireTimeout)
	return sess, nil
}

type JoinSessionRequest struct {
	GameID string
	Player domain.Player
}

func (s *Service) JoinSession(ctx context.Context, req JoinSessionRequest) (domain.Session, error) {
	sess, err := s.call(ctx, req.GameID, EventJoin, JoinPayload{Player: req.Player})
	if err != nil {
		return domain.Session{}, err
	}

	if sess.State == domain.StatePlaying {
		if eng, ok := s.engineFor(ctx, sess); ok {
			eng.JoinSession(ctx, sess)
		}
	}
	return sess, nil
}

type CancelSessionRequest struct {
	GameID string
	UserID string
}

func (s *Service) CancelSession(ctx context.Context, req CancelSessionRequest) (domain.Session, error) {
	sess, err := s.call(ctx, req.GameID, EventCancel, CancelPayload{User: req.UserID})
	if err != nil {
		return domain.Session{}, err
	}

	if eng, ok := s.engineFor(ctx, sess); ok {
		eng.CancelSession(ctx, sess)
	}

	s.timer.Cancel(req.GameID)
	s.supervisor.TerminateSession(req.GameID)
	return sess, nil
}

type UpdateEditorRequest struct {
	GameID     string
	UserID     string
	EditorText string
	EditorLang string
}

func (s *Service) UpdateEditor(ctx context.Context, req UpdateEditorRequest) (domain.Session, error) {
	return s.call(ctx, req.GameID, EventUpdateEditorData, EditorPayload{
		User: req.UserID,
		Text: req.EditorText,
		Lang: req.EditorLang,
	})
}

type CheckSolutionRequest struct {
	GameID     string
	UserID     string
	EditorText string
	EditorLang string
}

type CheckSolutionResponse struct {
	Session domain.Session
	Result  domain.CheckResult
}

// CheckSolution records the submitted editor state, judges it through the
// checker adapter and applies the verdict. The checker runs outside the
// session process's critical section: only the verdict application is
// serialized.
func (s *Service) CheckSolution(ctx context.Context, req CheckSolutionRequest) (*CheckSolutionResponse, error) {
	sess, err := s.call(ctx, req.GameID, EventUpdateEditorData, EditorPayload{
		User: req.UserID,
		Text: req.EditorText,
		Lang: req.EditorLang,
	})
	if err != nil {
		return nil, err
	}

	// Mark the submission in the playbook before judging, so replays show the
	// attempt even when the checker never comes back.
	if p, err := s.registry.Lookup(req.GameID); err == nil {
		if err := p.AppendPlaybook(ctx, "check_started", req.UserID, map[string]any{"lang": req.EditorLang}); err != nil {
			slog.ErrorContext(ctx, "game: append check marker failed",
				"session", req.GameID,
				"error", err,
			)
		}
	}

	task := domain.Task{ID: sess.TaskID, Level: sess.Level}
	result, err := s.checker.Evaluate(ctx, task, req.EditorText, req.EditorLang)
	if err != nil {
		telemetry.CheckerRuns.WithLabelValues("error").Inc()

		var e *errors.Error
		if stderrors.As(err, &e) {
			return nil, e
		}
		return nil, errors.New(errors.CodeCheckerFailure, errors.WithCause(err))
	}
	telemetry.CheckerRuns.WithLabelValues(outcomeLabel(result)).Inc()

	sess, err = s.call(ctx, req.GameID, EventCheckComplete, CheckPayload{
		User:   req.UserID,
		Result: result,
	})
	if err != nil {
		return nil, err
	}

	if winner, ok := sess.Winner(); ok && winner.ID == req.UserID {
		if eng, ok := s.engineFor(ctx, sess); ok {
			eng.HandleWonGame(ctx, sess)
		}
	}

	return &CheckSolutionResponse{Session: sess, Result: result}, nil
}

type GiveUpRequest struct {
	GameID string
	UserID string
}

func (s *Service) GiveUp(ctx context.Context, req GiveUpRequest) (domain.Session, error) {
	sess, err := s.call(ctx, req.GameID, EventGiveUp, GiveUpPayload{User: req.UserID})
	if err != nil {
		return domain.Session{}, err
	}

	if eng, ok := s.engineFor(ctx, sess); ok {
		eng.HandleGiveUp(ctx, sess)
	}
	return sess, nil
}

type RematchRequest struct {
	GameID string
	UserID string
}

// RematchSendOffer consults the engine variant's authorization predicate and
// records the offer. Bot and training games have no live opponent, so the
// scripted side accepts immediately.
func (s *Service) RematchSendOffer(ctx context.Context, req RematchRequest) (domain.Session, error) {
	p, err := s.registry.Lookup(req.GameID)
	if err != nil {
		return domain.Session{}, err
	}

	snapshot, err := p.State(ctx)
	if err != nil {
		return domain.Session{}, err
	}

	eng, err := s.engines.Resolve(snapshot.Type)
	if err != nil {
		return domain.Session{}, err
	}
	if err := eng.RematchSendOffer(snapshot, req.UserID); err != nil {
		return domain.Session{}, err
	}

	sess, err := s.call(ctx, req.GameID, EventRematchSendOffer, RematchPayload{User: req.UserID})
	if err != nil {
		return domain.Session{}, err
	}

	if sess.Type == domain.GameTypeBot || sess.Type == domain.GameTypeTraining {
		if bot, ok := botPlayer(sess); ok {
			return s.call(ctx, req.GameID, EventRematchAccept, RematchPayload{User: bot.ID})
		}
	}
	return sess, nil
}

func (s *Service) RematchAccept(ctx context.Context, req RematchRequest) (domain.Session, error) {
	return s.call(ctx, req.GameID, EventRematchAccept, RematchPayload{User: req.UserID})
}

func (s *Service) RematchReject(ctx context.Context, req RematchRequest) (domain.Session, error) {
	return s.call(ctx, req.GameID, EventRematchReject, RematchPayload{User: req.UserID})
}

// GetSession returns the live state of an active session, falling back to the
// durable record for sessions that already tore down.
func (s *Service) GetSession(ctx context.Context, id string) (domain.Session, error) {
	p, err := s.registry.Lookup(id)
	if err != nil {
		if errors.IsCode(err, errors.CodeNotFound) {
			return s.storage.LoadSessionRecord(ctx, id)
		}
		return domain.Session{}, err
	}
	return p.State(ctx)
}

// ListActive lists registry metadata of active sessions matching the filter.
func (s *Service) ListActive(f Filter) []Meta {
	return s.registry.List(f)
}

// Timeout runs the deadline protocol for one session. A session already in a
// terminal state is torn down without any further mutation or notification;
// a live one is forced into the timeout state first, which fans out the
// timeout side effects through the event bus.
func (s *Service) Timeout(ctx context.Context, id string) error {
	p, err := s.registry.Lookup(id)
	if err != nil {
		// Already gone, nothing to tear down.
		return nil
	}

	snapshot, err := p.State(ctx)
	if err != nil {
		return err
	}

	if !snapshot.State.Terminal() {
		if _, err := s.call(ctx, id, EventTimeout, TimeoutPayload{}); err != nil {
			// A winning check or give-up may land between the snapshot and
			// the forced transition. The session is terminal then, and the
			// deadline is its only teardown path, so fall through instead of
			// leaking the process.
			if !errors.IsCode(err, errors.CodeInvalidState) {
				return err
			}
		}
	}

	s.timer.Cancel(id)
	s.supervisor.TerminateSession(id)
	return nil
}

// Terminate tears down one session process without transitioning it.
func (s *Service) Terminate(id string) {
	s.timer.Cancel(id)
	s.supervisor.TerminateSession(id)
}

// Stop cancels all session deadlines. Session processes are torn down by the
// supervisor's owner.
func (s *Service) Stop() {
	s.timer.Stop()
}

func (s *Service) fireTimeout(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), timeoutFlowBudget)
	defer cancel()

	if err := s.Timeout(ctx, id); err != nil {
		slog.ErrorContext(ctx, "game: timeout flow failed",
			"session", id,
			"error", err,
		)
	}
}

// engineFor resolves the variant of a live session for its post-transition
// hooks. The transition itself has already been applied, so a resolve failure
// (an unknown type on a session written by an older build) only skips the
// variant side effects; it is logged, never propagated.
func (s *Service) engineFor(ctx context.Context, sess domain.Session) (engine.Engine, bool) {
	eng, err := s.engines.Resolve(sess.Type)
	if err != nil {
		slog.ErrorContext(ctx, "game: resolve engine variant failed",
			"session", sess.ID,
			"type", sess.Type,
			"error", err,
		)
		return nil, false
	}
	return eng, true
}

func (s *Service) call(ctx context.Context, id string, ev Event, payload Payload) (domain.Session, error) {
	p, err := s.registry.Lookup(id)
	if err != nil {
		return domain.Session{}, err
	}

	sess, err := p.Call(ctx, ev, payload)
	telemetry.Transitions.WithLabelValues(string(ev), resultLabel(err)).Inc()
	return sess, err
}

func resultLabel(err error) string {
	if err != nil {
		return "rejected"
	}
	return "applied"
}

func outcomeLabel(r domain.CheckResult) string {
	if r.Success {
		return "passed"
	}
	return "failed"
}

func botPlayer(s domain.Session) (domain.Player, bool) {
	for _, p := range s.Players {
		if p.IsBot {
			return p, true
		}
	}
	return domain.Player{}, false
}
