package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizzone/quizzone/internal/domain"
)

const defaultPlayTime = 30 * time.Second

// defaultQuizzes is the built-in nonsense quiz set, used when no database
// source is configured.
var defaultQuizzes = []domain.Quiz{
	{Question: "What do you call a fake noodle?", Answer: "impasta", PlayTime: defaultPlayTime},
	{Question: "What kind of key opens a banana?", Answer: "monkey", PlayTime: defaultPlayTime},
	{Question: "What gets wetter the more it dries?", Answer: "towel", PlayTime: defaultPlayTime},
	{Question: "What has hands but cannot clap?", Answer: "clock", PlayTime: defaultPlayTime},
	{Question: "What building has the most stories?", Answer: "library", PlayTime: defaultPlayTime},
	{Question: "What kind of room has no doors or windows?", Answer: "mushroom", PlayTime: defaultPlayTime},
}

type Config struct {
	// DB is the optional catalog source. When nil the built-in set is served.
	DB *pgxpool.Pool
}

// Service serves the fixed ordered quiz catalog.
type Service struct {
	db      *pgxpool.Pool
	quizzes []domain.Quiz
}

func NewService(c Config) *Service {
	return &Service{
		db:      c.DB,
		quizzes: defaultQuizzes,
	}
}

// Load reads the catalog from the database once at startup.
// It is a no-op when no database is configured.
func (s *Service) Load(ctx context.Context) error {
	if s.db == nil {
		return nil
	}

	const stmt = `SELECT question, answer, play_time_ms FROM quizzes ORDER BY ord;`

	rows, err := s.db.Query(ctx, stmt)
	if err != nil {
		return fmt.Errorf("catalog: query quizzes: %w", err)
	}

	quizzes, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Quiz, error) {
		var (
			q  domain.Quiz
			ms int64
		)
		if err := r.Scan(&q.Question, &q.Answer, &ms); err != nil {
			return domain.Quiz{}, err
		}
		q.PlayTime = time.Duration(ms) * time.Millisecond
		return q, nil
	})
	if err != nil {
		return fmt.Errorf("catalog: collect quizzes: %w", err)
	}

	if len(quizzes) > 0 {
		s.quizzes = quizzes
	}

	return nil
}

// Catalog returns an independent copy of the quiz list, so a zone advancing
// through its rounds never aliases the shared catalog.
func (s *Service) Catalog() []domain.Quiz {
	quizzes := make([]domain.Quiz, len(s.quizzes))
	copy(quizzes, s.quizzes)
	return quizzes
}
