package consumer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoff_DoublesUpToMax(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		require.Equal(t, w, b.Next(), "attempt %d", i)
	}

	b.Reset()
	require.Equal(t, 100*time.Millisecond, b.Next())
}

func TestBackoff_Defaults(t *testing.T) {
	var b Backoff
	require.Equal(t, defaultInitialBackoff, b.Next())

	for i := 0; i < 20; i++ {
		require.LessOrEqual(t, b.Next(), defaultMaxBackoff)
	}
	require.Equal(t, defaultMaxBackoff, b.Next())
}

func TestBackoff_MaxBelowInitial(t *testing.T) {
	b := Backoff{Initial: 2 * time.Second, Max: time.Second}
	require.Equal(t, 2*time.Second, b.Next())
	require.Equal(t, 2*time.Second, b.Next())
}
