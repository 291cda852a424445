package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/victornm/codeclash/internal/domain"
	"github.com/victornm/codeclash/internal/errors"
	"github.com/victornm/codeclash/internal/game"
	"github.com/victornm/codeclash/internal/playbook"
)

type Config struct {
	Router   gin.IRouter
	Game     *game.Service
	Playbook *playbook.Recorder
}

// API is the thin HTTP glue over the game service. Routing, authentication
// and client push live in front of / beside it; the handlers only translate
// JSON to service requests and typed errors to HTTP statuses.
type API struct {
	gs *game.Service
	pb *playbook.Recorder
}

func New(c Config) *API {
	a := &API{
		gs: c.Game,
		pb: c.Playbook,
	}

	v1 := c.Router.Group("/v1")
	v1.POST("/games", a.createGame)
	v1.GET("/games", a.listGames)
	v1.GET("/games/:id", a.getGame)
	v1.POST("/games/:id/join", a.joinGame)
	v1.POST("/games/:id/cancel", a.cancelGame)
	v1.POST("/games/:id/editor", a.updateEditor)
	v1.POST("/games/:id/check", a.checkSolution)
	v1.POST("/games/:id/give_up", a.giveUp)
	v1.POST("/games/:id/rematch", a.rematch)
	v1.GET("/games/:id/playbook", a.getPlaybook)

	return a
}

type playerBody struct {
	ID     string          `json:"id" binding:"required"`
	Rating decimal.Decimal `json:"rating"`
	Lang   string          `json:"lang"`
}

func (b playerBody) player() domain.Player {
	return domain.Player{
		ID:         b.ID,
		Rating:     b.Rating,
		EditorLang: b.Lang,
	}
}

func (a *API) createGame(c *gin.Context) {
	var body struct {
		Type         domain.GameType `json:"type" binding:"required"`
		TaskID       string          `json:"task_id" binding:"required"`
		Level        string          `json:"level"`
		TournamentID string          `json:"tournament_id"`
		Players      []playerBody    `json:"players" binding:"required"`
	}
	if !bind(c, &body) {
		return
	}

	players := make([]domain.Player, 0, len(body.Players))
	for _, p := range body.Players {
		players = append(players, p.player())
	}

	sess, err := a.gs.CreateSession(c.Request.Context(), game.CreateSessionRequest{
		Type:         body.Type,
		Task:         domain.Task{ID: body.TaskID, Level: body.Level},
		Players:      players,
		TournamentID: body.TournamentID,
	})
	respond(c, http.StatusCreated, sess, err)
}

func (a *API) listGames(c *gin.Context) {
	metas := a.gs.ListActive(game.Filter{
		Type:  domain.GameType(c.Query("type")),
		Level: c.Query("level"),
		State: domain.State(c.Query("state")),
	})

	c.JSON(http.StatusOK, gin.H{"games": metas})
}

func (a *API) getGame(c *gin.Context) {
	sess, err := a.gs.GetSession(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, sess, err)
}

func (a *API) joinGame(c *gin.Context) {
	var body playerBody
	if !bind(c, &body) {
		return
	}

	sess, err := a.gs.JoinSession(c.Request.Context(), game.JoinSessionRequest{
		GameID: c.Param("id"),
		Player: body.player(),
	})
	respond(c, http.StatusOK, sess, err)
}

func (a *API) cancelGame(c *gin.Context) {
	var body struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if !bind(c, &body) {
		return
	}

	sess, err := a.gs.CancelSession(c.Request.Context(), game.CancelSessionRequest{
		GameID: c.Param("id"),
		UserID: body.UserID,
	})
	respond(c, http.StatusOK, sess, err)
}

type editorBody struct {
	UserID     string `json:"user_id" binding:"required"`
	EditorText string `json:"editor_text"`
	EditorLang string `json:"editor_lang"`
}

func (a *API) updateEditor(c *gin.Context) {
	var body editorBody
	if !bind(c, &body) {
		return
	}

	sess, err := a.gs.UpdateEditor(c.Request.Context(), game.UpdateEditorRequest{
		GameID:     c.Param("id"),
		UserID:     body.UserID,
		EditorText: body.EditorText,
		EditorLang: body.EditorLang,
	})
	respond(c, http.StatusOK, sess, err)
}

func (a *API) checkSolution(c *gin.Context) {
	var body editorBody
	if !bind(c, &body) {
		return
	}

	resp, err := a.gs.CheckSolution(c.Request.Context(), game.CheckSolutionRequest{
		GameID:     c.Param("id"),
		UserID:     body.UserID,
		EditorText: body.EditorText,
		EditorLang: body.EditorLang,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": sessionView(resp.Session),
		"check":   resp.Result,
	})
}

func (a *API) giveUp(c *gin.Context) {
	var body struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if !bind(c, &body) {
		return
	}

	sess, err := a.gs.GiveUp(c.Request.Context(), game.GiveUpRequest{
		GameID: c.Param("id"),
		UserID: body.UserID,
	})
	respond(c, http.StatusOK, sess, err)
}

func (a *API) rematch(c *gin.Context) {
	var body struct {
		UserID string `json:"user_id" binding:"required"`
		Action string `json:"action" binding:"required,oneof=offer accept reject"`
	}
	if !bind(c, &body) {
		return
	}

	req := game.RematchRequest{
		GameID: c.Param("id"),
		UserID: body.UserID,
	}

	var (
		sess domain.Session
		err  error
	)
	switch body.Action {
	case "offer":
		sess, err = a.gs.RematchSendOffer(c.Request.Context(), req)
	case "accept":
		sess, err = a.gs.RematchAccept(c.Request.Context(), req)
	case "reject":
		sess, err = a.gs.RematchReject(c.Request.Context(), req)
	}
	respond(c, http.StatusOK, sess, err)
}

func (a *API) getPlaybook(c *gin.Context) {
	records, err := a.pb.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"playbook": records})
}

func bind(c *gin.Context, body any) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		e := errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request body: %v", err))
		c.JSON(e.HTTPStatusCode(), e)
		return false
	}
	return true
}

func respond(c *gin.Context, status int, sess domain.Session, err error) {
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(status, gin.H{"session": sessionView(sess)})
}

func fail(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.JSON(e.HTTPStatusCode(), e)
}

type playerView struct {
	ID         string              `json:"id"`
	Status     domain.PlayerStatus `json:"status"`
	EditorLang string              `json:"editor_lang,omitempty"`
	Rating     decimal.Decimal     `json:"rating"`
	RatingDiff decimal.Decimal     `json:"rating_diff"`
	Checked    bool                `json:"checked"`
	IsBot      bool                `json:"is_bot,omitempty"`
}

type gameView struct {
	ID           string          `json:"id"`
	State        domain.State    `json:"state"`
	Type         domain.GameType `json:"type"`
	Level        string          `json:"level,omitempty"`
	TaskID       string          `json:"task_id"`
	TournamentID string          `json:"tournament_id,omitempty"`
	Players      []playerView    `json:"players"`
	Rematch      domain.Rematch  `json:"rematch"`
	Winner       string          `json:"winner,omitempty"`
}

func sessionView(s domain.Session) gameView {
	v := gameView{
		ID:           s.ID,
		State:        s.State,
		Type:         s.Type,
		Level:        s.Level,
		TaskID:       s.TaskID,
		TournamentID: s.TournamentID,
		Rematch:      s.Rematch,
	}

	for _, p := range s.Players {
		v.Players = append(v.Players, playerView{
			ID:         p.ID,
			Status:     p.Status,
			EditorLang: p.EditorLang,
			Rating:     p.Rating,
			RatingDiff: p.RatingDiff,
			Checked:    p.Check.Checked,
			IsBot:      p.IsBot,
		})
	}

	if w, ok := s.Winner(); ok {
		v.Winner = w.ID
	}
	return v
}
