package artifact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/tabforge/internal/config"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	key := ModelKey("job1", "m1")
	require.NoError(t, s.Put(ctx, key, []byte("bundle"), "application/msgpack"))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("bundle"), got)

	size, err := s.Stat(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 6, size)

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Stat(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, key))
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"", "/etc/passwd", "../up.bin"} {
		assert.Error(t, s.Put(context.Background(), key, nil, ""), key)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.Artifacts{Backend: "tape"})
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "models/j/m.msgpack", ModelKey("j", "m"))
	assert.Equal(t, "predictions/p.csv", PredictionKey("p"))
}
