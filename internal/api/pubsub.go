package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/quizzone/quizzone/internal/domain"
)

const maxConcurrent = 100

type (
	Summary struct {
		ZoneID  string         `json:"zone_id"`
		Entries []SummaryEntry `json:"entries"`
	}

	SummaryEntry struct {
		ID    string `json:"id"`
		Score string `json:"score"`
		Rank  int    `json:"rank"`
	}
)

// PublishZoneFinished mirrors a finished zone's ranked result to each
// player's redis channel, so observers outside the websocket audience can
// follow results. Best-effort: a mirror failure never reaches the zone.
func (a *API) PublishZoneFinished(ctx context.Context, e domain.EventZoneFinished) error {
	if a.redis == nil {
		return nil
	}

	data := Summary{
		ZoneID:  e.ZoneID,
		Entries: make([]SummaryEntry, 0, len(e.Summary)),
	}

	for _, entry := range e.Summary {
		data.Entries = append(data.Entries, SummaryEntry{
			ID:    entry.ID,
			Score: entry.Score.String(),
			Rank:  entry.Rank,
		})
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range data.Entries {
		entry := entry
		eg.Go(func() error {
			return a.publishNotification(ctx, entry.ID, e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	n := struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: event, Data: data}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:user:%s", a.prefix, user), b).Err()
}
