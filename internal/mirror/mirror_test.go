package mirror

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type node struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func mirrors(t *testing.T) map[string]Mirror {
	t.Helper()

	b, err := OpenBadger("", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	return map[string]Mirror{
		"memory": NewMemoryMirror(),
		"badger": b,
	}
}

func TestMirror_SetGet(t *testing.T) {
	for name, m := range mirrors(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, m.Set(ctx, "/projects/p1/analysis/", node{Name: "a", Count: 2}))

			var got node
			ok, err := m.Get(ctx, AnalysisPath("p1"), &got)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, node{Name: "a", Count: 2}, got)

			ok, err = m.Get(ctx, AnalysisPath("p2"), &got)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMirror_NilDeletesSubtree(t *testing.T) {
	for name, m := range mirrors(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, m.Set(ctx, "projects/p1/analysisSession", node{Name: "legacy"}))
			require.NoError(t, m.Set(ctx, "projects/p1/analysisSession/child", node{Name: "child"}))
			require.NoError(t, m.Set(ctx, "projects/p1/analysisSessionOther", node{Name: "keep"}))

			require.NoError(t, m.Set(ctx, LegacySessionPath("p1"), nil))

			var got node
			ok, err := m.Get(ctx, "projects/p1/analysisSession", &got)
			require.NoError(t, err)
			assert.False(t, ok)
			ok, err = m.Get(ctx, "projects/p1/analysisSession/child", &got)
			require.NoError(t, err)
			assert.False(t, ok)
			ok, err = m.Get(ctx, "projects/p1/analysisSessionOther", &got)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestMirror_LastWriteWins(t *testing.T) {
	for name, m := range mirrors(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, m.Set(ctx, SessionPath("s1"), node{Count: 1}))
			require.NoError(t, m.Set(ctx, SessionPath("s1"), node{Count: 2}))

			var got node
			_, err := m.Get(ctx, SessionPath("s1"), &got)
			require.NoError(t, err)
			assert.Equal(t, 2, got.Count)
		})
	}
}

func TestMirror_InvalidPath(t *testing.T) {
	for name, m := range mirrors(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, p := range []string{"", "/", "a//b", "a/b.c", "a/$x"} {
				assert.ErrorIs(t, m.Set(ctx, p, node{}), ErrInvalidPath, p)
			}
		})
	}
}
