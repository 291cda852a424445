package game_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victornm/codeclash/internal/checker"
	"github.com/victornm/codeclash/internal/domain"
	"github.com/victornm/codeclash/internal/engine"
	"github.com/victornm/codeclash/internal/errors"
	"github.com/victornm/codeclash/internal/event"
	"github.com/victornm/codeclash/internal/game"
	"github.com/victornm/codeclash/internal/playbook"
)

type fakeStorage struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{sessions: make(map[string]domain.Session)}
}

func (f *fakeStorage) InsertSession(_ context.Context, s domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sessions[s.ID] = s
	return nil
}

func (f *fakeStorage) LoadSessionRecord(_ context.Context, id string) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[id]
	if !ok {
		return domain.Session{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("game %s not found", id))
	}
	return s, nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	events     []string
	tournament []string
}

func (f *fakeNotifier) Emit(_ context.Context, event string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, event)
}

func (f *fakeNotifier) TournamentNotify(_ context.Context, event, _ string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tournament = append(f.tournament, event)
}

func (f *fakeNotifier) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

type fixture struct {
	svc        *game.Service
	eb         *event.Bus
	registry   *game.Registry
	supervisor *game.Supervisor
	checker    *checker.Fake
	notifier   *fakeNotifier
	storage    *fakeStorage
	playbook   *playbook.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		eb:       event.NewBus(),
		registry: game.NewRegistry(),
		checker:  checker.NewFake(),
		notifier: &fakeNotifier{},
		storage:  newFakeStorage(),
	}

	f.playbook = playbook.NewRecorder(playbook.Config{
		EventBus: f.eb,
		Redis:    rdb,
		Prefix:   "test",
	})

	f.supervisor = game.NewSupervisor(game.SupervisorConfig{
		Registry: f.registry,
		Bus:      f.eb,
	})

	f.svc = game.NewService(game.Config{
		Registry:   f.registry,
		Supervisor: f.supervisor,
		Timer:      game.NewTimer(),
		Checker:    checker.NewDispatch(map[string]checker.Checker{"python": f.checker}),
		Engines: engine.NewSet(engine.Config{
			Notifier: f.notifier,
			Bracket:  engine.NopBracket{},
		}),
		Storage:      f.storage,
		GameDuration: time.Hour,
	})
	t.Cleanup(f.svc.Stop)

	return f
}

func (f *fixture) createStandard(t *testing.T) domain.Session {
	t.Helper()

	s, err := f.svc.CreateSession(context.Background(), game.CreateSessionRequest{
		Type:    domain.GameTypeStandard,
		Task:    domain.Task{ID: "t1", Level: "easy"},
		Players: []domain.Player{{ID: "u1"}},
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) join(t *testing.T, gameID, userID string) domain.Session {
	t.Helper()

	s, err := f.svc.JoinSession(context.Background(), game.JoinSessionRequest{
		GameID: gameID,
		Player: domain.Player{ID: userID},
	})
	require.NoError(t, err)
	return s
}

func TestService_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.createStandard(t)
	require.Equal(t, domain.StateWaitingOpponent, created.State)
	require.NotEmpty(t, created.ID)

	s := f.join(t, created.ID, "u2")
	require.Equal(t, domain.StatePlaying, s.State)

	f.checker.Accept("print(42)")
	resp, err := f.svc.CheckSolution(ctx, game.CheckSolutionRequest{
		GameID:     created.ID,
		UserID:     "u1",
		EditorText: "print(42)",
		EditorLang: "python",
	})
	require.NoError(t, err)
	require.True(t, resp.Result.Success)
	require.Equal(t, domain.StateGameOver, resp.Session.State)

	winner, ok := resp.Session.Winner()
	require.True(t, ok)
	require.Equal(t, "u1", winner.ID)

	// The finished session stays queryable through the registry.
	got, err := f.svc.GetSession(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateGameOver, got.State)

	// Every applied transition lands in the playbook.
	f.eb.Stop()
	records, err := f.playbook.List(ctx, created.ID)
	require.NoError(t, err)

	events := make([]string, 0, len(records))
	var terminal bool
	for _, rec := range records {
		events = append(events, rec.Event)
		if rec.Event == string(game.EventCheckComplete) {
			terminal = rec.State == domain.StateGameOver
		}
	}
	require.ElementsMatch(t, []string{
		string(game.EventJoin),
		string(game.EventUpdateEditorData),
		"check_started",
		string(game.EventCheckComplete),
	}, events)
	require.True(t, terminal, "the winning check is recorded with the terminal state")

	require.Equal(t, 1, f.notifier.count(engine.EventFinishActiveGame))
}

func TestService_ConcurrentChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.createStandard(t)
	f.join(t, created.ID, "u2")

	f.checker.Accept("solution")

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.CheckSolution(ctx, game.CheckSolutionRequest{
				GameID:     created.ID,
				UserID:     user,
				EditorText: "solution",
				EditorLang: "python",
			})
		}()
	}
	wg.Wait()

	var applied int
	for _, err := range errs {
		if err == nil {
			applied++
		} else {
			require.True(t, errors.IsCode(err, errors.CodeInvalidState), "got error: %v", err)
		}
	}
	require.Equal(t, 1, applied, "exactly one submission wins")

	s, err := f.svc.GetSession(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateGameOver, s.State)

	f.eb.Stop()
	require.Equal(t, 1, f.notifier.count(engine.EventFinishActiveGame), "the finish broadcast fires once")
}

func TestService_CheckerFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.createStandard(t)
	f.join(t, created.ID, "u2")

	f.checker.Fail(context.DeadlineExceeded)

	_, err := f.svc.CheckSolution(ctx, game.CheckSolutionRequest{
		GameID:     created.ID,
		UserID:     "u1",
		EditorText: "while True: pass",
		EditorLang: "python",
	})
	require.True(t, errors.IsCode(err, errors.CodeCheckerFailure), "got error: %v", err)

	// The game keeps running after a checker outage.
	s, err := f.svc.GetSession(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatePlaying, s.State)
}

func TestService_GiveUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.createStandard(t)
	f.join(t, created.ID, "u2")

	s, err := f.svc.GiveUp(ctx, game.GiveUpRequest{GameID: created.ID, UserID: "u2"})
	require.NoError(t, err)
	require.Equal(t, domain.StateGameOver, s.State)

	winner, ok := s.Winner()
	require.True(t, ok)
	require.Equal(t, "u1", winner.ID)

	f.eb.Stop()
	require.Equal(t, 1, f.notifier.count(engine.EventFinishActiveGame))
}

func TestService_Cancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.createStandard(t)

	_, err := f.svc.CancelSession(ctx, game.CancelSessionRequest{GameID: created.ID, UserID: "u2"})
	require.True(t, errors.IsCode(err, errors.CodeForbidden), "got error: %v", err)

	s, err := f.svc.CancelSession(ctx, game.CancelSessionRequest{GameID: created.ID, UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, domain.StateCanceled, s.State)

	// Canceled sessions tear down immediately.
	_, err = f.registry.Lookup(created.ID)
	require.True(t, errors.IsCode(err, errors.CodeNotFound), "got error: %v", err)

	require.Equal(t, 1, f.notifier.count(engine.EventRemoveActiveGame))
}

func TestService_Timeout(t *testing.T) {
	t.Run("live session is forced into timeout", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		var (
			mu       sync.Mutex
			timedOut []domain.EventSessionTimedOut
		)
		f.eb.Subscribe(domain.EventNameSessionTimedOut, func(_ context.Context, e event.Event) error {
			mu.Lock()
			timedOut = append(timedOut, e.(domain.EventSessionTimedOut))
			mu.Unlock()
			return nil
		})

		created := f.createStandard(t)
		f.join(t, created.ID, "u2")

		require.NoError(t, f.svc.Timeout(ctx, created.ID))

		_, err := f.registry.Lookup(created.ID)
		require.True(t, errors.IsCode(err, errors.CodeNotFound), "got error: %v", err)

		f.eb.Stop()
		mu.Lock()
		defer mu.Unlock()
		require.Len(t, timedOut, 1)
		require.Equal(t, domain.StateTimeout, timedOut[0].Session.State)
	})

	t.Run("finished session is torn down without another notification", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		var (
			mu       sync.Mutex
			timedOut int
		)
		f.eb.Subscribe(domain.EventNameSessionTimedOut, func(_ context.Context, _ event.Event) error {
			mu.Lock()
			timedOut++
			mu.Unlock()
			return nil
		})

		created := f.createStandard(t)
		f.join(t, created.ID, "u2")
		_, err := f.svc.GiveUp(ctx, game.GiveUpRequest{GameID: created.ID, UserID: "u2"})
		require.NoError(t, err)

		require.NoError(t, f.svc.Timeout(ctx, created.ID))

		_, err = f.registry.Lookup(created.ID)
		require.True(t, errors.IsCode(err, errors.CodeNotFound), "got error: %v", err)

		f.eb.Stop()
		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, 0, timedOut)
	})

	t.Run("timeout of an unknown session is a no-op", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.Timeout(context.Background(), "gone"))
	})

	t.Run("timeout racing a concurrent finish still tears down", func(t *testing.T) {
		// A give-up may commit between the timeout flow's snapshot and its
		// forced transition. Teardown must happen either way, the deadline is
		// the only teardown path for a finished game.
		f := newFixture(t)
		ctx := context.Background()

		for i := 0; i < 25; i++ {
			created := f.createStandard(t)
			f.join(t, created.ID, "u2")

			var (
				wg         sync.WaitGroup
				giveUpErr  error
				timeoutErr error
			)
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, giveUpErr = f.svc.GiveUp(ctx, game.GiveUpRequest{GameID: created.ID, UserID: "u2"})
			}()
			go func() {
				defer wg.Done()
				timeoutErr = f.svc.Timeout(ctx, created.ID)
			}()
			wg.Wait()

			require.NoError(t, timeoutErr, "a concurrently finished session must still be torn down")
			if giveUpErr != nil {
				require.True(t,
					errors.IsCode(giveUpErr, errors.CodeInvalidState) || errors.IsCode(giveUpErr, errors.CodeNotFound),
					"got error: %v", giveUpErr)
			}

			_, err := f.registry.Lookup(created.ID)
			require.True(t, errors.IsCode(err, errors.CodeNotFound), "iteration %d leaked the process", i)
		}
	})
}

func TestService_CheckUnknownLanguage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.createStandard(t)
	f.join(t, created.ID, "u2")

	_, err := f.svc.CheckSolution(ctx, game.CheckSolutionRequest{
		GameID:     created.ID,
		UserID:     "u1",
		EditorText: "IDENTIFICATION DIVISION.",
		EditorLang: "cobol",
	})
	require.True(t, errors.IsCode(err, errors.CodeCheckerFailure), "got error: %v", err)
	require.Equal(t, 0, f.checker.Calls(), "an unsupported language never reaches the backend")

	// The game keeps running, the player may resubmit.
	s, err := f.svc.GetSession(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatePlaying, s.State)
}

func TestService_UnknownVariantSkipsSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A session written by an older build may carry a type no current variant
	// governs. Transitions still apply; only the variant hooks are skipped.
	s := playingSession()
	s.Type = domain.GameType("legacy")
	_, err := f.supervisor.StartSession(s)
	require.NoError(t, err)

	sess, err := f.svc.GiveUp(ctx, game.GiveUpRequest{GameID: s.ID, UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, domain.StateGameOver, sess.State)

	require.Equal(t, 0, f.notifier.count(engine.EventFinishActiveGame))
	require.Equal(t, 0, f.notifier.count(engine.EventRemoveActiveGame))
}

func TestService_GetSessionFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.createStandard(t)
	f.svc.Terminate(created.ID)

	// The process is gone, the durable record answers instead.
	s, err := f.svc.GetSession(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, s.ID)

	_, err = f.svc.GetSession(ctx, "never-existed")
	require.True(t, errors.IsCode(err, errors.CodeNotFound), "got error: %v", err)
}

func TestService_ListActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createStandard(t)
	created := f.createStandard(t)
	f.join(t, created.ID, "u2")

	_, err := f.svc.CreateSession(ctx, game.CreateSessionRequest{
		Type:    domain.GameTypeBot,
		Task:    domain.Task{ID: "t2", Level: "hard"},
		Players: []domain.Player{{ID: "u3"}},
	})
	require.NoError(t, err)

	require.Len(t, f.svc.ListActive(game.Filter{}), 3)
	require.Len(t, f.svc.ListActive(game.Filter{Type: domain.GameTypeStandard}), 2)
	require.Len(t, f.svc.ListActive(game.Filter{State: domain.StateWaitingOpponent}), 1)
}

func TestService_RematchBotAutoAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateSession(ctx, game.CreateSessionRequest{
		Type:    domain.GameTypeBot,
		Task:    domain.Task{ID: "t1", Level: "easy"},
		Players: []domain.Player{{ID: "u1"}},
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatePlaying, created.State, "bot games start immediately")
	require.Len(t, created.Players, 2)

	f.checker.Accept("win")
	_, err = f.svc.CheckSolution(ctx, game.CheckSolutionRequest{
		GameID:     created.ID,
		UserID:     "u1",
		EditorText: "win",
		EditorLang: "python",
	})
	require.NoError(t, err)

	s, err := f.svc.RematchSendOffer(ctx, game.RematchRequest{GameID: created.ID, UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, domain.RematchAccepted, s.Rematch.State, "the scripted opponent accepts immediately")
}

func TestService_RematchStandard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.createStandard(t)
	f.join(t, created.ID, "u2")
	_, err := f.svc.GiveUp(ctx, game.GiveUpRequest{GameID: created.ID, UserID: "u2"})
	require.NoError(t, err)

	_, err = f.svc.RematchSendOffer(ctx, game.RematchRequest{GameID: created.ID, UserID: "intruder"})
	require.True(t, errors.IsCode(err, errors.CodeForbidden), "got error: %v", err)

	s, err := f.svc.RematchSendOffer(ctx, game.RematchRequest{GameID: created.ID, UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, domain.RematchOffered, s.Rematch.State)

	s, err = f.svc.RematchAccept(ctx, game.RematchRequest{GameID: created.ID, UserID: "u2"})
	require.NoError(t, err)
	require.Equal(t, domain.RematchAccepted, s.Rematch.State)
}

func TestService_RematchTournamentForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateSession(ctx, game.CreateSessionRequest{
		Type:         domain.GameTypeTournament,
		Task:         domain.Task{ID: "t1", Level: "easy"},
		Players:      []domain.Player{{ID: "u1"}, {ID: "u2"}},
		TournamentID: "tour-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatePlaying, created.State)

	_, err = f.svc.GiveUp(ctx, game.GiveUpRequest{GameID: created.ID, UserID: "u2"})
	require.NoError(t, err)

	_, err = f.svc.RematchSendOffer(ctx, game.RematchRequest{GameID: created.ID, UserID: "u1"})
	require.True(t, errors.IsCode(err, errors.CodeForbidden), "got error: %v", err)
}

func TestService_UnknownGameType(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateSession(context.Background(), game.CreateSessionRequest{
		Type:    domain.GameType("chess"),
		Players: []domain.Player{{ID: "u1"}},
	})
	require.True(t, errors.IsCode(err, errors.CodeInvalidArgument), "got error: %v", err)
}
