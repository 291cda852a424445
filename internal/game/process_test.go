package game_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/codeclash/internal/domain"
	"github.com/victornm/codeclash/internal/errors"
	"github.com/victornm/codeclash/internal/event"
	"github.com/victornm/codeclash/internal/game"
)

func startProcess(t *testing.T, s domain.Session, eb *event.Bus) *game.Process {
	t.Helper()

	p := game.NewProcess(game.ProcessConfig{
		Session: s,
		Bus:     eb,
	})
	t.Cleanup(p.Stop)
	return p
}

func TestProcess_State(t *testing.T) {
	p := startProcess(t, playingSession(), event.NewBus())

	s, err := p.State(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.StatePlaying, s.State)
	require.Len(t, s.Players, 2)
}

func TestProcess_Call(t *testing.T) {
	p := startProcess(t, playingSession(), event.NewBus())

	s, err := p.Call(context.Background(), game.EventGiveUp, game.GiveUpPayload{User: "u1"})
	require.NoError(t, err)
	require.Equal(t, domain.StateGameOver, s.State)

	// A rejected transition leaves the state untouched.
	before, err := p.State(context.Background())
	require.NoError(t, err)

	_, err = p.Call(context.Background(), game.EventGiveUp, game.GiveUpPayload{User: "u2"})
	require.True(t, errors.IsCode(err, errors.CodeInvalidState), "got error: %v", err)

	after, err := p.State(context.Background())
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestProcess_ConcurrentChecks(t *testing.T) {
	// Two winning checks race; serialization through the process loop makes
	// the first applied one the single winner and rejects the other with
	// invalid state, never producing a second winner or a second finish
	// event.
	eb := event.NewBus()

	var (
		mu       sync.Mutex
		finished []domain.EventSessionFinished
	)
	eb.Subscribe(domain.EventNameSessionFinished, func(_ context.Context, e event.Event) error {
		mu.Lock()
		finished = append(finished, e.(domain.EventSessionFinished))
		mu.Unlock()
		return nil
	})

	p := startProcess(t, playingSession(), eb)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = p.Call(context.Background(), game.EventCheckComplete, game.CheckPayload{
				User:   user,
				Result: domain.CheckResult{Success: true, AssertsPassed: 1, AssertsTotal: 1},
			})
		}()
	}
	wg.Wait()
	eb.Stop()

	var applied, rejected int
	for _, err := range errs {
		if err == nil {
			applied++
		} else {
			require.True(t, errors.IsCode(err, errors.CodeInvalidState), "got error: %v", err)
			rejected++
		}
	}
	require.Equal(t, 1, applied, "exactly one check wins")
	require.Equal(t, 1, rejected)

	s, err := p.State(context.Background())
	require.NoError(t, err)

	var winners int
	for _, pl := range s.Players {
		if pl.Status == domain.PlayerWon {
			winners++
		}
	}
	require.Equal(t, 1, winners)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, finished, 1, "the finish event fires exactly once")
}

func TestProcess_Stop(t *testing.T) {
	p := game.NewProcess(game.ProcessConfig{
		Session: playingSession(),
		Bus:     event.NewBus(),
	})

	p.Stop()

	_, err := p.State(context.Background())
	require.True(t, errors.IsCode(err, errors.CodeNotFound), "got error: %v", err)

	_, err = p.Call(context.Background(), game.EventGiveUp, game.GiveUpPayload{User: "u1"})
	require.True(t, errors.IsCode(err, errors.CodeNotFound), "got error: %v", err)
}

func TestProcess_CallCanceledContext(t *testing.T) {
	p := startProcess(t, playingSession(), event.NewBus())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The process stays usable after a caller bails out.
	_, _ = p.Call(ctx, game.EventGiveUp, game.GiveUpPayload{User: "u1"})

	ctx, cancelT := context.WithTimeout(context.Background(), time.Second)
	defer cancelT()
	_, err := p.State(ctx)
	require.NoError(t, err)
}

func TestProcess_AppendPlaybook(t *testing.T) {
	eb := event.NewBus()

	var (
		mu     sync.Mutex
		events []domain.EventSessionTransitioned
	)
	eb.Subscribe(domain.EventNameSessionTransitioned, func(_ context.Context, e event.Event) error {
		mu.Lock()
		events = append(events, e.(domain.EventSessionTransitioned))
		mu.Unlock()
		return nil
	})

	p := startProcess(t, playingSession(), eb)

	err := p.AppendPlaybook(context.Background(), "check_started", "u1", map[string]any{"lang": "python"})
	require.NoError(t, err)
	eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	require.Equal(t, "check_started", events[0].Event)
	require.Equal(t, "u1", events[0].ActorID)
}
