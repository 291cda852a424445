package storage

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/codeclash/internal/domain"
	"github.com/victornm/codeclash/internal/errors"
	"github.com/victornm/codeclash/internal/event"
)

type Config struct {
	DB       *pgxpool.Pool
	EventBus *event.Bus
}

// Service is the durable store for session records. It writes at creation and
// at terminal transitions only; in-progress editor updates are never written
// through. Terminal snapshots arrive through the event bus, best-effort.
type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	s := &Service{db: c.DB}

	terminal := func(ctx context.Context, sess domain.Session) error {
		return s.SaveTerminalState(ctx, sess)
	}

	c.EventBus.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
		return terminal(ctx, e.(domain.EventSessionFinished).Session)
	})
	c.EventBus.Subscribe(domain.EventNameSessionTimedOut, func(ctx context.Context, e event.Event) error {
		return terminal(ctx, e.(domain.EventSessionTimedOut).Session)
	})
	c.EventBus.Subscribe(domain.EventNameSessionCanceled, func(ctx context.Context, e event.Event) error {
		return terminal(ctx, e.(domain.EventSessionCanceled).Session)
	})

	return s
}

// InsertSession writes the initial record of a new session.
func (s *Service) InsertSession(ctx context.Context, sess domain.Session) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insGameStmt = `
INSERT INTO games (game_id, game_type, level, task_id, tournament_id, state, starts_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, 'epoch'::timestamptz));`
		insPlayerStmt = `
INSERT INTO game_players (game_id, user_id, status, rating, is_bot)
VALUES ($1, $2, $3, $4, $5);`
	)

	_, err = tx.Exec(ctx, insGameStmt,
		sess.ID, sess.Type, sess.Level, sess.TaskID, sess.TournamentID, sess.State, sess.StartsAt)
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}

	for _, p := range sess.Players {
		_, err = tx.Exec(ctx, insPlayerStmt, sess.ID, p.ID, p.Status, p.Rating, p.IsBot)
		if err != nil {
			return fmt.Errorf("insert player %s: %w", p.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// SaveTerminalState persists the final snapshot of a session.
func (s *Service) SaveTerminalState(ctx context.Context, sess domain.Session) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		updGameStmt = `
UPDATE games SET state = $2, starts_at = NULLIF($3, 'epoch'::timestamptz), finishs_at = $4
WHERE game_id = $1;`
		updPlayerStmt = `
INSERT INTO game_players (game_id, user_id, status, rating, rating_diff, editor_text, editor_lang, check_passed, is_bot)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (game_id, user_id) DO UPDATE
SET status = EXCLUDED.status,
    rating_diff = EXCLUDED.rating_diff,
    editor_text = EXCLUDED.editor_text,
    editor_lang = EXCLUDED.editor_lang,
    check_passed = EXCLUDED.check_passed;`
	)

	_, err = tx.Exec(ctx, updGameStmt, sess.ID, sess.State, sess.StartsAt, sess.FinishsAt)
	if err != nil {
		return fmt.Errorf("update game: %w", err)
	}

	for _, p := range sess.Players {
		_, err = tx.Exec(ctx, updPlayerStmt,
			sess.ID, p.ID, p.Status, p.Rating, p.RatingDiff, p.EditorText, p.EditorLang, p.Check.Success, p.IsBot)
		if err != nil {
			return fmt.Errorf("upsert player %s: %w", p.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// LoadSessionRecord reads back the durable record of a session.
func (s *Service) LoadSessionRecord(ctx context.Context, id string) (domain.Session, error) {
	const gameStmt = `
SELECT game_id, game_type, level, task_id, COALESCE(tournament_id, ''), state,
       COALESCE(starts_at, 'epoch'::timestamptz), COALESCE(finishs_at, 'epoch'::timestamptz)
FROM games WHERE game_id = $1;`

	var sess domain.Session
	err := s.db.QueryRow(ctx, gameStmt, id).Scan(
		&sess.ID, &sess.Type, &sess.Level, &sess.TaskID, &sess.TournamentID,
		&sess.State, &sess.StartsAt, &sess.FinishsAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session record %s not found", id))
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load game %s: %w", id, err)
	}

	const playerStmt = `
SELECT user_id, status, rating, rating_diff, editor_text, editor_lang, check_passed, is_bot
FROM game_players WHERE game_id = $1 ORDER BY joined_at;`

	rows, err := s.db.Query(ctx, playerStmt, id)
	if err != nil {
		return domain.Session{}, fmt.Errorf("load players of %s: %w", id, err)
	}

	sess.Players, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Player, error) {
		var p domain.Player
		if err := r.Scan(&p.ID, &p.Status, &p.Rating, &p.RatingDiff,
			&p.EditorText, &p.EditorLang, &p.Check.Success, &p.IsBot); err != nil {
			return domain.Player{}, err
		}
		return p, nil
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("collect players of %s: %w", id, err)
	}

	return sess, nil
}
