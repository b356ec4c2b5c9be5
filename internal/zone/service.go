package zone

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quizzone/quizzone/internal/domain"
	"github.com/quizzone/quizzone/internal/errors"
	"github.com/quizzone/quizzone/internal/event"
	"github.com/quizzone/quizzone/internal/telemetry"
)

// Broadcast event names, as observed by connected clients.
const (
	EventSomeoneJoin = "someone_join"
	EventStart       = "start"
	EventNextQuiz    = "nextQuiz"
	EventQuizTimeOut = "quizTimeOut"
	EventFinish      = "finish"
	EventSummary     = "summary"
)

const (
	defaultTitle        = "Nonsense Quiz"
	defaultDescription  = "A nonsense quiz session"
	defaultMaxPlayers   = 10
	defaultIntervalTime = 5 * time.Second

	// scoreBase is the score of a correct answer submitted at round start;
	// the actual score scales down linearly with the time taken.
	scoreBase = 100
)

// Broadcaster fans an event out to every connection of a zone's audience.
// Delivery is best-effort and must never block the caller on a slow socket.
type Broadcaster interface {
	Broadcast(ctx context.Context, zoneID, event string, data any)
}

// Catalog provides the quiz list for new zones.
type Catalog interface {
	Catalog() []domain.Quiz
}

type Config struct {
	Store     *Store
	Broadcast Broadcaster
	Catalog   Catalog
	EventBus  *event.Bus

	MaxPlayers   int
	IntervalTime time.Duration

	// NewTimerFunc and NowFunc are injection points for deterministic tests.
	NewTimerFunc NewTimerFunc
	NowFunc      func() time.Time
}

// Service is the session orchestrator: it owns every quiz zone's lifecycle
// from lobby through timed rounds to summary and teardown.
//
// Each zone is a unit of mutual exclusion. All operations on one zone,
// including timer-fired timeouts, run under that zone's lock; operations on
// different zones run fully concurrently.
type Service struct {
	store   *Store
	bc      Broadcaster
	catalog Catalog
	eb      *event.Bus

	maxPlayers   int
	intervalTime time.Duration

	timers *roundTimers
	now    func() time.Time

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewService(c Config) *Service {
	s := &Service{
		store:        c.Store,
		bc:           c.Broadcast,
		catalog:      c.Catalog,
		eb:           c.EventBus,
		maxPlayers:   c.MaxPlayers,
		intervalTime: c.IntervalTime,
		timers:       newRoundTimers(c.NewTimerFunc),
		now:          c.NowFunc,
		locks:        make(map[string]*sync.Mutex),
	}

	if s.maxPlayers <= 0 {
		s.maxPlayers = defaultMaxPlayers
	}
	if s.intervalTime <= 0 {
		s.intervalTime = defaultIntervalTime
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// CreateZone creates a new zone in LOBBY with the admin as its sole player.
func (s *Service) CreateZone(ctx context.Context, zoneID, adminID string) error {
	unlock := s.lockZone(zoneID)
	defer unlock()

	z := &domain.QuizZone{
		ID:          zoneID,
		Title:       defaultTitle,
		Description: defaultDescription,
		AdminID:     adminID,
		Players: map[string]*domain.Player{
			adminID: {ID: adminID, State: domain.PlayerStateWait},
		},
		MaxPlayers:       s.maxPlayers,
		Quizzes:          s.catalog.Catalog(),
		Stage:            domain.StageLobby,
		CurrentQuizIndex: -1,
		IntervalTime:     s.intervalTime,
	}

	if err := s.store.Set(zoneID, z); err != nil {
		return err
	}

	telemetry.ZonesCreated.Inc()
	slog.InfoContext(ctx, "zone: created", "zone", zoneID, "admin", adminID)

	s.eb.Publish(ctx, domain.EventZoneCreated{ZoneID: zoneID, AdminID: adminID})
	return nil
}

// Join adds a player to a zone and returns the waiting room snapshot.
// The someone_join broadcast goes to the zone's existing audience; the
// joiner's connection is bound by the gateway only after Join returns, so
// the joiner never receives its own join event.
func (s *Service) Join(ctx context.Context, zoneID, playerID string) (*domain.WaitingRoom, error) {
	unlock := s.lockZone(zoneID)
	defer unlock()

	z, err := s.store.Get(zoneID)
	if err != nil {
		return nil, err
	}

	if _, ok := z.Players[playerID]; !ok {
		if len(z.Players) >= z.MaxPlayers {
			return nil, errors.New(errors.CodeResourceExhausted,
				errors.WithMessagef("quiz zone is full: id=%s max=%d", zoneID, z.MaxPlayers))
		}

		z.Players[playerID] = &domain.Player{
			ID:        playerID,
			State:     domain.PlayerStateWait,
			JoinOrder: len(z.Players),
		}

		s.bc.Broadcast(ctx, zoneID, EventSomeoneJoin, map[string]string{"id": playerID})
	}

	return &domain.WaitingRoom{
		Title:       z.Title,
		Description: z.Description,
		QuizCount:   len(z.Quizzes),
		Stage:       z.Stage,
	}, nil
}

// Start begins round progression. Only the zone's admin may start, and only
// from LOBBY.
func (s *Service) Start(ctx context.Context, zoneID, requesterID string) error {
	unlock := s.lockZone(zoneID)
	defer unlock()

	z, err := s.store.Get(zoneID)
	if err != nil {
		return err
	}

	if requesterID != z.AdminID {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("only the admin can start: id=%s requester=%s", zoneID, requesterID))
	}

	if z.Stage != domain.StageLobby {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("quiz zone already started: id=%s stage=%s", zoneID, z.Stage))
	}

	z.Stage = domain.StageInProgress
	slog.InfoContext(ctx, "zone: started", "zone", zoneID, "players", len(z.Players))

	s.bc.Broadcast(ctx, zoneID, EventStart, "OK")
	s.advanceLocked(ctx, z)
	return nil
}

// Submit records a player's answer for the current round.
//
// A submission arriving after the deadline is accepted but scores zero. A
// stale submission landing after the orchestrator already advanced is judged
// against the new round: its window has not opened yet, so it is rejected.
func (s *Service) Submit(ctx context.Context, zoneID, playerID, answer string, receivedAt time.Time) error {
	unlock := s.lockZone(zoneID)
	defer unlock()

	z, err := s.store.Get(zoneID)
	if err != nil {
		return err
	}

	p, ok := z.Players[playerID]
	if !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("player not found: zone=%s player=%s", zoneID, playerID))
	}

	if z.Stage != domain.StageInProgress || z.CurrentQuizIndex < 0 {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no quiz in progress: zone=%s stage=%s", zoneID, z.Stage))
	}

	if receivedAt.Before(z.CurrentQuizStartTime) {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("quiz not open yet: zone=%s index=%d", zoneID, z.CurrentQuizIndex))
	}

	if p.State == domain.PlayerStateSubmitted {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("already submitted: zone=%s player=%s index=%d", zoneID, playerID, z.CurrentQuizIndex))
	}

	quiz := z.Quizzes[z.CurrentQuizIndex]
	late := receivedAt.After(z.CurrentQuizDeadlineTime)
	correct := !late && answersMatch(answer, quiz.Answer)
	score := decimal.Zero
	if correct {
		score = scoreFor(quiz, z.CurrentQuizDeadlineTime, receivedAt)
	}

	p.Submits = append(p.Submits, domain.Submit{
		QuizIndex:  z.CurrentQuizIndex,
		Answer:     answer,
		Correct:    correct,
		Score:      score,
		ReceivedAt: receivedAt,
	})
	p.State = domain.PlayerStateSubmitted
	p.Score = p.Score.Add(score)

	if s.allSubmitted(z) {
		s.timers.disarm(zoneID)
		s.advanceLocked(ctx, z)
	}

	return nil
}

// TimeOut is the round timer callback. A fire whose generation was already
// disarmed by a completing Submit is a no-op, as is a fire for a zone that
// was torn down in the meantime.
func (s *Service) TimeOut(ctx context.Context, zoneID string, gen uint64) {
	unlock := s.lockZone(zoneID)
	defer unlock()

	if !s.timers.consume(zoneID, gen) {
		return
	}

	z, err := s.store.Get(zoneID)
	if err != nil {
		// Expected race: the zone finished between scheduling and firing.
		return
	}

	now := s.now()
	for _, p := range z.Players {
		if p.State != domain.PlayerStateWait {
			continue
		}
		p.Submits = append(p.Submits, domain.Submit{
			QuizIndex:  z.CurrentQuizIndex,
			Score:      decimal.Zero,
			ReceivedAt: now,
		})
		p.State = domain.PlayerStateSubmitted
	}

	telemetry.RoundTimeouts.Inc()
	slog.InfoContext(ctx, "zone: round timed out", "zone", zoneID, "index", z.CurrentQuizIndex)

	s.bc.Broadcast(ctx, zoneID, EventQuizTimeOut, nil)
	s.advanceLocked(ctx, z)
}

// RemovePlayer drops a disconnected player from the zone. It never triggers
// early advancement: round completeness is only evaluated on Submit.
func (s *Service) RemovePlayer(ctx context.Context, zoneID, playerID string) {
	unlock := s.lockZone(zoneID)
	defer unlock()

	z, err := s.store.Get(zoneID)
	if err != nil {
		return
	}

	delete(z.Players, playerID)
	slog.InfoContext(ctx, "zone: player removed", "zone", zoneID, "player", playerID)
}

// NextQuizData is the nextQuiz broadcast payload. The answer is withheld.
type NextQuizData struct {
	Question     string `json:"question"`
	QuizIndex    int    `json:"currentQuizIndex"`
	StartTime    int64  `json:"startTime"`
	DeadlineTime int64  `json:"deadlineTime"`
	PlayTime     int64  `json:"playTime"`
}

// advanceLocked moves the zone into its next round, or into FINISHED and
// summary when the catalog is exhausted. Callers hold the zone's lock.
func (s *Service) advanceLocked(ctx context.Context, z *domain.QuizZone) {
	next := z.CurrentQuizIndex + 1
	if next == len(z.Quizzes) {
		z.Stage = domain.StageFinished
		s.bc.Broadcast(ctx, z.ID, EventFinish, nil)
		s.summaryLocked(ctx, z)
		return
	}

	z.CurrentQuizIndex = next
	for _, p := range z.Players {
		p.State = domain.PlayerStateWait
	}

	quiz := z.Quizzes[next]
	z.CurrentQuizStartTime = s.now().Add(z.IntervalTime)
	z.CurrentQuizDeadlineTime = z.CurrentQuizStartTime.Add(quiz.PlayTime)

	s.timers.arm(z.ID, z.IntervalTime+quiz.PlayTime, func(gen uint64) {
		s.TimeOut(context.WithoutCancel(ctx), z.ID, gen)
	})

	s.bc.Broadcast(ctx, z.ID, EventNextQuiz, NextQuizData{
		Question:     quiz.Question,
		QuizIndex:    next,
		StartTime:    z.CurrentQuizStartTime.UnixMilli(),
		DeadlineTime: z.CurrentQuizDeadlineTime.UnixMilli(),
		PlayTime:     quiz.PlayTime.Milliseconds(),
	})
}

// summaryLocked broadcasts the ranked result and tears the zone down. This
// is the sole destructor path for a zone.
func (s *Service) summaryLocked(ctx context.Context, z *domain.QuizZone) {
	entries := rankPlayers(z.Players)

	s.bc.Broadcast(ctx, z.ID, EventSummary, entries)

	s.timers.disarm(z.ID)
	if err := s.store.Delete(z.ID); err != nil {
		slog.ErrorContext(ctx, "zone: delete failed", "zone", z.ID, "error", err)
	}
	s.dropLock(z.ID)

	telemetry.ZonesFinished.Inc()
	slog.InfoContext(ctx, "zone: finished", "zone", z.ID, "players", len(entries))

	s.eb.Publish(ctx, domain.EventZoneFinished{ZoneID: z.ID, Summary: entries})
}

func (s *Service) allSubmitted(z *domain.QuizZone) bool {
	for _, p := range z.Players {
		if p.State != domain.PlayerStateSubmitted {
			return false
		}
	}
	return true
}

// lockZone acquires the per-zone mutex, creating it on first use.
//
// Teardown retires a zone's mutex while still holding it, so a waiter can
// wake up owning a mutex the registry no longer maps to. Acquisition is only
// valid while the registry still points at the acquired mutex; otherwise the
// waiter retries, which keeps every operation on one zone id serialized
// across a teardown and re-create of that id.
func (s *Service) lockZone(zoneID string) (unlock func()) {
	for {
		s.lockMu.Lock()
		mu, ok := s.locks[zoneID]
		if !ok {
			mu = new(sync.Mutex)
			s.locks[zoneID] = mu
		}
		s.lockMu.Unlock()

		mu.Lock()

		s.lockMu.Lock()
		current := s.locks[zoneID]
		s.lockMu.Unlock()

		if current == mu {
			return mu.Unlock
		}
		mu.Unlock()
	}
}

func (s *Service) dropLock(zoneID string) {
	s.lockMu.Lock()
	delete(s.locks, zoneID)
	s.lockMu.Unlock()
}

func answersMatch(got, want string) bool {
	return strings.EqualFold(strings.TrimSpace(got), strings.TrimSpace(want))
}

// scoreFor scales the base score linearly with the time remaining in the
// answer window at submission, rounded to 2 decimal places.
func scoreFor(quiz domain.Quiz, deadline, receivedAt time.Time) decimal.Decimal {
	remaining := deadline.Sub(receivedAt)
	if remaining < 0 {
		return decimal.Zero
	}
	if remaining > quiz.PlayTime {
		remaining = quiz.PlayTime
	}

	frac := decimal.NewFromFloat(remaining.Seconds() / quiz.PlayTime.Seconds())
	return decimal.NewFromInt(scoreBase).Mul(frac).Round(2)
}

func rankPlayers(players map[string]*domain.Player) []domain.SummaryEntry {
	ranked := make([]*domain.Player, 0, len(players))
	for _, p := range players {
		ranked = append(ranked, p)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if !ranked[i].Score.Equal(ranked[j].Score) {
			return ranked[i].Score.GreaterThan(ranked[j].Score)
		}
		return ranked[i].JoinOrder < ranked[j].JoinOrder
	})

	entries := make([]domain.SummaryEntry, 0, len(ranked))
	for i, p := range ranked {
		entries = append(entries, domain.SummaryEntry{
			ID:    p.ID,
			Score: p.Score,
			Rank:  i + 1,
		})
	}

	return entries
}
