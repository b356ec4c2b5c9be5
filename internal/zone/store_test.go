package zone_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizzone/quizzone/internal/domain"
	"github.com/quizzone/quizzone/internal/errors"
	"github.com/quizzone/quizzone/internal/zone"
)

func TestStore_SetGetDelete(t *testing.T) {
	s := zone.NewStore()

	_, err := s.Get("z1")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))

	z := &domain.QuizZone{ID: "z1"}
	require.NoError(t, s.Set("z1", z))

	err = s.Set("z1", &domain.QuizZone{ID: "z1"})
	assert.True(t, errors.IsCode(err, errors.CodeAlreadyExists))

	got, err := s.Get("z1")
	require.NoError(t, err)
	assert.Same(t, z, got)

	require.NoError(t, s.Delete("z1"))
	err = s.Delete("z1")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestStore_ConcurrentDistinctKeys(t *testing.T) {
	s := zone.NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			id := fmt.Sprintf("z%d", i)
			require.NoError(t, s.Set(id, &domain.QuizZone{ID: id}))

			_, err := s.Get(id)
			require.NoError(t, err)

			require.NoError(t, s.Delete(id))
		}(i)
	}
	wg.Wait()
}
