package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/quizzone/quizzone/internal/domain"
	"github.com/quizzone/quizzone/internal/errors"
	"github.com/quizzone/quizzone/internal/event"
	"github.com/quizzone/quizzone/internal/push"
	"github.com/quizzone/quizzone/internal/zone"
)

type Config struct {
	Engine       *gin.Engine
	EventBus     *event.Bus
	Zone         *zone.Service
	Hub          *push.Hub
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// API is the websocket gateway: it upgrades client connections, maps inbound
// events onto orchestrator operations, and mirrors zone results to redis.
type API struct {
	zone *zone.Service
	hub  *push.Hub

	redis  Redis
	prefix string

	upgrader websocket.Upgrader
}

func New(c Config) *API {
	a := &API{
		zone:   c.Zone,
		hub:    c.Hub,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	c.Engine.GET("/play", a.handlePlay)
	c.Engine.POST("/quiz-zones", a.handleCreateZone)

	// Once a zone has delivered its summary, its remaining connections are
	// torn down and the result is mirrored for external observers.
	c.EventBus.Subscribe(domain.EventNameZoneFinished, func(ctx context.Context, e event.Event) error {
		fin := e.(domain.EventZoneFinished)
		a.hub.CloseZone(ctx, fin.ZoneID)
		return a.PublishZoneFinished(ctx, fin)
	})

	return a
}

type createZoneRequest struct {
	ID string `json:"id"`
}

// handleCreateZone creates a zone for the caller's identity. The identity is
// assumed to be resolved by the authentication layer in front of this
// service and handed over in the X-Session-Id header.
func (a *API) handleCreateZone(ctx *gin.Context) {
	sid := ctx.GetHeader("X-Session-Id")
	if sid == "" {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "missing session identity"})
		return
	}

	var req createZoneRequest
	if err := ctx.ShouldBindJSON(&req); err != nil && err != io.EOF {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if err := a.zone.CreateZone(ctx.Request.Context(), req.ID, sid); err != nil {
		e := errors.Convert(err)
		ctx.JSON(e.HTTPStatusCode(), e)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"id": req.ID})
}

// clientMessage is the tagged inbound frame. Payload shapes are validated
// here, before anything reaches the orchestrator.
type clientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinData struct {
	QuizZoneID string `json:"quizZoneId"`
}

type submitData struct {
	Answer string `json:"answer"`
}

// handlePlay runs one client's persistent connection: one reader loop per
// connection, writes going through the hub's per-connection outbox once the
// client has joined a zone.
func (a *API) handlePlay(ctx *gin.Context) {
	sid := ctx.Query("sid")
	if sid == "" {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "missing session identity"})
		return
	}

	conn, err := a.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		slog.ErrorContext(ctx.Request.Context(), "api: websocket upgrade failed", "error", err)
		return
	}

	a.servePlay(ctx.Request.Context(), sid, conn)
}

func (a *API) servePlay(ctx context.Context, sid string, conn *websocket.Conn) {
	var (
		connID = uuid.NewString()
		wc     = newWSConn(conn)
		bound  = false
		member push.Binding
	)

	defer func() {
		if !bound {
			wc.Close()
			return
		}

		// The hub may have dropped the connection already on a write failure
		// or backpressure; Unbind is idempotent, and the player leaves the
		// zone either way so the round never waits on a ghost.
		a.hub.Unbind(connID)
		a.zone.RemovePlayer(ctx, member.ZoneID, member.PlayerID)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			a.sendError(ctx, connID, bound, wc,
				errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed message")))
			continue
		}

		switch msg.Event {
		case "join":
			zoneID, err := a.handleJoin(ctx, connID, sid, bound, wc, msg.Data)
			if err != nil {
				a.sendError(ctx, connID, bound, wc, err)
				continue
			}
			bound = true
			member = push.Binding{ZoneID: zoneID, PlayerID: sid}

		case "start":
			b, err := a.hub.Resolve(connID)
			if err == nil {
				err = a.zone.Start(ctx, b.ZoneID, b.PlayerID)
			}
			if err != nil {
				a.sendError(ctx, connID, bound, wc, err)
			}

		case "submit":
			var data submitData
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				a.sendError(ctx, connID, bound, wc,
					errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed submit payload")))
				continue
			}

			b, err := a.hub.Resolve(connID)
			if err == nil {
				err = a.zone.Submit(ctx, b.ZoneID, b.PlayerID, data.Answer, time.Now())
			}
			if err != nil {
				a.sendError(ctx, connID, bound, wc, err)
				continue
			}
			if err := a.hub.Send(ctx, connID, "submit", "OK"); err != nil {
				slog.ErrorContext(ctx, "api: submit reply failed", "conn", connID, "error", err)
			}

		default:
			a.sendError(ctx, connID, bound, wc,
				errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown event: %s", msg.Event)))
		}
	}
}

// handleJoin joins the zone first, so the someone_join broadcast reaches only
// the existing audience, then binds this connection and delivers the waiting
// room snapshot as the direct reply. It returns the joined zone's id.
func (a *API) handleJoin(ctx context.Context, connID, sid string, bound bool, wc *wsConn, raw json.RawMessage) (string, error) {
	if bound {
		return "", errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("connection already joined a quiz zone"))
	}

	var data joinData
	if err := json.Unmarshal(raw, &data); err != nil || data.QuizZoneID == "" {
		return "", errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed join payload"))
	}

	room, err := a.zone.Join(ctx, data.QuizZoneID, sid)
	if err != nil {
		return "", err
	}

	if err := a.hub.Bind(connID, data.QuizZoneID, sid, wc); err != nil {
		return "", err
	}

	if err := a.hub.Send(ctx, connID, "join", room); err != nil {
		slog.ErrorContext(ctx, "api: join reply failed", "conn", connID, "error", err)
	}

	return data.QuizZoneID, nil
}

// sendError reports an operation failure back to the originating connection
// as a structured error frame; the connection stays alive.
func (a *API) sendError(ctx context.Context, connID string, bound bool, wc *wsConn, err error) {
	e := errors.Convert(err)

	// Once bound, the hub's pump is the connection's single writer.
	if bound {
		if sendErr := a.hub.Send(ctx, connID, "error", e); sendErr != nil {
			slog.DebugContext(ctx, "api: error reply failed", "conn", connID, "error", sendErr)
		}
		return
	}

	msg, mErr := json.Marshal(push.Notification{Event: "error", Data: e})
	if mErr != nil {
		return
	}
	if wErr := wc.Write(msg); wErr != nil {
		slog.DebugContext(ctx, "api: error reply failed", "conn", connID, "error", wErr)
	}
}
