package event_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quizzone/quizzone/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a single subscriber should receive only its event": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("zone.created"),
						eventWithName("zone.finished"),
					},
					subscribers: []subscriber{
						{
							name:        "s1",
							subscribeTo: []string{"zone.created"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("zone.created")}, out.received["s1"])
			},
		},

		"a repeated event should be dispatched once per publish": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("zone.finished"),
						eventWithName("zone.finished"),
					},
					subscribers: []subscriber{
						{
							name:        "s1",
							subscribeTo: []string{"zone.finished"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t,
					[]event.Event{eventWithName("zone.finished"), eventWithName("zone.finished")},
					out.received["s1"])
			},
		},

		"an event should be dispatched to all subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("zone.finished"),
					},
					subscribers: []subscriber{
						{name: "s1", subscribeTo: []string{"zone.finished"}},
						{name: "s2", subscribeTo: []string{"zone.finished"}},
						{name: "s3", subscribeTo: []string{"zone.finished", "zone.created"}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("zone.finished")}, out.received["s1"])
				assert.ElementsMatch(t, []event.Event{eventWithName("zone.finished")}, out.received["s2"])
				assert.ElementsMatch(t, []event.Event{eventWithName("zone.finished")}, out.received["s3"])
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]event.Event)}

			b := event.NewBus()
			for _, s := range in.subscribers {
				s := s
				for _, e := range s.subscribeTo {
					b.Subscribe(e, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

func TestBus_BoundedPoolDeliversAll(t *testing.T) {
	b := event.NewBus(event.WithPoolSize(2))

	var (
		mu    sync.Mutex
		count int
	)
	b.Subscribe("zone.finished", func(ctx context.Context, e event.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	for i := 0; i < 100; i++ {
		b.Publish(context.Background(), eventWithName("zone.finished"))
	}
	b.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 100, count)
}

func TestBus_HandlerPanicDoesNotStopDispatch(t *testing.T) {
	b := event.NewBus()

	var (
		mu       sync.Mutex
		received []string
	)
	b.Subscribe("zone.finished", func(ctx context.Context, e event.Event) error {
		panic("boom")
	})
	b.Subscribe("zone.finished", func(ctx context.Context, e event.Event) error {
		mu.Lock()
		received = append(received, e.Name())
		mu.Unlock()
		return nil
	})

	for i := 0; i < 3; i++ {
		b.Publish(context.Background(), eventWithName("zone.finished"))
	}
	b.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, received, 3)
}

type eventWithName string

func (e eventWithName) Name() string {
	return string(e)
}

type subscriber struct {
	name        string
	subscribeTo []string
}
