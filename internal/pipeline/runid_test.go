package pipeline

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeOrderedIDsAreUUIDv7(t *testing.T) {
	id, err := TimeOrderedIDs{}.Next()
	require.NoError(t, err)

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, id)
}

func TestTimeOrderedIDsSortByIssue(t *testing.T) {
	var ids []string
	for i := 0; i < 200; i++ {
		id, err := TimeOrderedIDs{}.Next()
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestTimeOrderedIDsConcurrent(t *testing.T) {
	const workers = 50
	ids := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := TimeOrderedIDs{}.Next()
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "id %s issued twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers)
}

func TestIDListYieldsEachIDOnce(t *testing.T) {
	l := NewIDList("run-fl", "run-ffx")

	id, err := l.Next()
	require.NoError(t, err)
	assert.Equal(t, "run-fl", id)
	id, err = l.Next()
	require.NoError(t, err)
	assert.Equal(t, "run-ffx", id)

	_, err = l.Next()
	assert.ErrorIs(t, err, ErrRunIDsExhausted)
}

func TestStageFailsWhenRunIDsRunOut(t *testing.T) {
	env := Env{IDs: NewIDList()}
	_, _, err := env.begin(context.Background(), "group", nil)
	assert.ErrorIs(t, err, ErrRunIDsExhausted)
}
