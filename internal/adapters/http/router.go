// Package http is the local control API the UI drives the session with.
package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/app/orch"
	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// SessionAPI is the part of orch.Session the router drives.
type SessionAPI interface {
	Join(ctx context.Context, id domain.RoomID) error
	Leave() error
	StartCapture(ctx context.Context) error
	StopCapture() error
	ToggleMute() (bool, error)
	SendChat(text string) (domain.ChatMessage, error)
	Snapshot() orch.State
	Subscribe() (<-chan app.Event, func())
}

type handlers struct {
	session SessionAPI
	rooms   core.RoomsAPI
}

func SetupRouter(cfg *config.Config, session SessionAPI, rooms core.RoomsAPI) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := &handlers{session: session, rooms: rooms}
	api := r.Group("/api")

	api.GET("/rooms", h.listRooms)
	api.POST("/rooms", h.createRoom)
	api.DELETE("/rooms/:id", h.deleteRoom)

	s := api.Group("/session")
	s.GET("", h.state)
	s.POST("/join", h.join)
	s.POST("/leave", h.leave)
	s.POST("/capture/start", h.startCapture)
	s.POST("/capture/stop", h.stopCapture)
	s.POST("/mute", h.toggleMute)
	s.POST("/chat", h.chat)
	s.GET("/events", h.events)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

type createRoomRequest struct {
	Title string `json:"title" binding:"required,max=100"`
}

type joinRequest struct {
	RoomID domain.RoomID `json:"room_id" binding:"required"`
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

func (h *handlers) listRooms(c *gin.Context) {
	rooms, err := h.rooms.ListActive(c.Request.Context())
	if err != nil {
		fail(c, stdhttp.StatusBadGateway, err)
		return
	}
	if rooms == nil {
		rooms = []domain.Room{}
	}
	c.JSON(stdhttp.StatusOK, gin.H{"rooms": rooms})
}

func (h *handlers) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, stdhttp.StatusBadRequest, err)
		return
	}
	room, err := h.rooms.Create(c.Request.Context(), req.Title)
	if err != nil {
		fail(c, stdhttp.StatusBadGateway, err)
		return
	}
	c.JSON(stdhttp.StatusCreated, room)
}

func (h *handlers) deleteRoom(c *gin.Context) {
	id := domain.RoomID(c.Param("id"))
	if err := h.rooms.Delete(c.Request.Context(), id); err != nil {
		fail(c, stdhttp.StatusBadGateway, err)
		return
	}
	// The host leaves right away instead of waiting for the room_deleted echo.
	if room := h.session.Snapshot().Room; room != nil && room.ID == id {
		if err := h.session.Leave(); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Str("room", string(id)).Msg("leave deleted room")
		}
	}
	c.Status(stdhttp.StatusNoContent)
}

func (h *handlers) state(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, h.session.Snapshot())
}

func (h *handlers) join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, stdhttp.StatusBadRequest, err)
		return
	}
	if err := h.session.Join(c.Request.Context(), req.RoomID); err != nil {
		status := stdhttp.StatusBadGateway
		if errors.Is(err, orch.ErrJoinAborted) {
			status = stdhttp.StatusConflict
		}
		fail(c, status, err)
		return
	}
	c.JSON(stdhttp.StatusOK, h.session.Snapshot())
}

func (h *handlers) leave(c *gin.Context) {
	if err := h.session.Leave(); err != nil {
		fail(c, stdhttp.StatusInternalServerError, err)
		return
	}
	c.Status(stdhttp.StatusNoContent)
}

func (h *handlers) startCapture(c *gin.Context) {
	if err := h.session.StartCapture(c.Request.Context()); err != nil {
		// The room stays usable listen-only.
		fail(c, stdhttp.StatusServiceUnavailable, err)
		return
	}
	c.JSON(stdhttp.StatusOK, gin.H{"captureActive": true, "muted": h.session.Snapshot().Muted})
}

func (h *handlers) stopCapture(c *gin.Context) {
	if err := h.session.StopCapture(); err != nil {
		fail(c, stdhttp.StatusInternalServerError, err)
		return
	}
	c.Status(stdhttp.StatusNoContent)
}

func (h *handlers) toggleMute(c *gin.Context) {
	muted, err := h.session.ToggleMute()
	if err != nil {
		status := stdhttp.StatusInternalServerError
		if errors.Is(err, app.ErrCaptureInactive) {
			status = stdhttp.StatusConflict
		}
		fail(c, status, err)
		return
	}
	c.JSON(stdhttp.StatusOK, gin.H{"muted": muted})
}

func (h *handlers) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, stdhttp.StatusBadRequest, err)
		return
	}
	msg, err := h.session.SendChat(req.Message)
	switch {
	case errors.Is(err, app.ErrEmptyMessage):
		fail(c, stdhttp.StatusBadRequest, err)
	case errors.Is(err, app.ErrRateLimited):
		fail(c, stdhttp.StatusTooManyRequests, err)
	case errors.Is(err, core.ErrNotConnected) && msg.CorrelationID == "":
		fail(c, stdhttp.StatusConflict, err)
	default:
		// A transport failure still produced a message, marked failed.
		c.JSON(stdhttp.StatusAccepted, msg)
	}
}

// events streams session change notifications as server-sent events until
// the client goes away.
func (h *handlers) events(c *gin.Context) {
	ch, cancel := h.session.Subscribe()
	defer cancel()

	log.Debug().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("event stream opened")
	c.SSEvent("state", h.session.Snapshot())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		}
	})
	log.Debug().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("event stream closed")
}

func fail(c *gin.Context, status int, err error) {
	log.Warn().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Int("status", status).Msg("request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}
