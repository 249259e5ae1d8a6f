package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/ProximityVoice/internal/core"
	"github.com/dkeye/ProximityVoice/internal/domain"
)

func stores(t *testing.T) map[string]core.AttachmentStore {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "attachments.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]core.AttachmentStore{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func strPtr(s string) *string { return &s }

func TestAttachmentStores(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	scope := domain.NewScope("github.com/acme/app")

	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			a := core.Attachment{ConnID: "c1", Scope: scope, SessionID: "s1", TrackID: "t1", Path: strPtr("/a/x.txt"), Name: "Ada", ConnectedAt: base.Add(time.Second)}
			b := core.Attachment{ConnID: "c2", Scope: scope, SessionID: "s2", ConnectedAt: base}
			other := core.Attachment{ConnID: "c3", Scope: "elsewhere", SessionID: "s3", ConnectedAt: base}

			require.NoError(t, st.Put(ctx, a))
			require.NoError(t, st.Put(ctx, b))
			require.NoError(t, st.Put(ctx, other))

			got, ok, err := st.Get(ctx, scope, "c1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "s1", got.SessionID)
			require.NotNil(t, got.Path)
			require.Equal(t, "/a/x.txt", *got.Path)
			require.True(t, a.ConnectedAt.Equal(got.ConnectedAt))

			list, err := st.List(ctx, scope)
			require.NoError(t, err)
			require.Len(t, list, 2)
			require.Equal(t, "s2", list[0].SessionID)
			require.Nil(t, list[0].Path)

			a.Path = nil
			a.Name = "Grace"
			require.NoError(t, st.Put(ctx, a))
			got, ok, err = st.Get(ctx, scope, "c1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Nil(t, got.Path)
			require.Equal(t, "Grace", got.Name)

			require.NoError(t, st.Delete(ctx, scope, "c2"))
			_, ok, err = st.Get(ctx, scope, "c2")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, st.Purge(ctx))
			list, err = st.List(ctx, "elsewhere")
			require.NoError(t, err)
			require.Empty(t, list)
		})
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	p := "/a"
	require.NoError(t, st.Put(ctx, core.Attachment{ConnID: "c", Scope: "s", Path: &p}))
	p = "/changed"

	got, _, err := st.Get(ctx, "s", "c")
	require.NoError(t, err)
	require.Equal(t, "/a", *got.Path)
}
