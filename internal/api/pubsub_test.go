package api_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizzone/quizzone/internal/api"
	"github.com/quizzone/quizzone/internal/domain"
	"github.com/quizzone/quizzone/internal/event"
	"github.com/quizzone/quizzone/internal/push"
	"github.com/quizzone/quizzone/internal/zone"
)

func TestAPI_PublishZoneFinished(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	hub := push.NewHub()
	svc := zone.NewService(zone.Config{
		Store:     zone.NewStore(),
		Broadcast: hub,
		Catalog:   fakeCatalog(nil),
		EventBus:  eb,
	})

	a := api.New(api.Config{
		Engine:       gin.New(),
		EventBus:     eb,
		Zone:         svc,
		Hub:          hub,
		Redis:        rc,
		PubsubPrefix: "test",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := rc.Subscribe(ctx, "test:user:p1")
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	fin := domain.EventZoneFinished{
		ZoneID: "z1",
		Summary: []domain.SummaryEntry{
			{ID: "p1", Score: decimal.RequireFromString("83.33"), Rank: 1},
			{ID: "p2", Score: decimal.Zero, Rank: 2},
		},
	}
	require.NoError(t, a.PublishZoneFinished(ctx, fin))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var n struct {
		Event string      `json:"event"`
		Data  api.Summary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
	assert.Equal(t, domain.EventNameZoneFinished, n.Event)
	assert.Equal(t, "z1", n.Data.ZoneID)
	require.Len(t, n.Data.Entries, 2)
	assert.Equal(t, "83.33", n.Data.Entries[0].Score)
	assert.Equal(t, 1, n.Data.Entries[0].Rank)
}

func TestAPI_PublishZoneFinishedWithoutMirror(t *testing.T) {
	gin.SetMode(gin.TestMode)

	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	hub := push.NewHub()
	svc := zone.NewService(zone.Config{
		Store:     zone.NewStore(),
		Broadcast: hub,
		Catalog:   fakeCatalog(nil),
		EventBus:  eb,
	})

	a := api.New(api.Config{
		Engine:   gin.New(),
		EventBus: eb,
		Zone:     svc,
		Hub:      hub,
	})

	// The mirror is optional; publishing without one is a no-op.
	require.NoError(t, a.PublishZoneFinished(context.Background(), domain.EventZoneFinished{ZoneID: "z1"}))
}
