package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GabrielHori/horizon-worker/internal/crypto"
	"github.com/GabrielHori/horizon-worker/internal/horizon"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func TestSaveGetUserScope(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save(ScopeUser, "k1", "v1", "", nil))

	v, ok := s.Get(ScopeUser, "k1", "")
	require.True(t, ok)
	require.Equal(t, "v1", v)
}

func TestSaveProjectRequiresProjectID(t *testing.T) {
	s := newStore(t)
	err := s.Save(ScopeProject, "k1", "v1", "", nil)
	require.Error(t, err)
}

func TestSessionMemoryNotPersisted(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Save(ScopeSession, "k1", "v1", "", nil))

	v, ok := s.Get(ScopeSession, "k1", "")
	require.True(t, ok)
	require.Equal(t, "v1", v)

	// A fresh store over the same dir should not see the session entry.
	s2, err := New(dir, nil)
	require.NoError(t, err)
	_, ok = s2.Get(ScopeSession, "k1", "")
	require.False(t, ok)
}

func TestDeleteReportsWhetherSomethingWasRemoved(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save(ScopeUser, "k1", "v1", "", nil))

	removed, err := s.Delete(ScopeUser, "k1", "")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = s.Delete(ScopeUser, "k1", "")
	require.NoError(t, err)
	require.False(t, removed)
}

func TestListOmitsValues(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save(ScopeUser, "k1", "secret-value", "", map[string]any{"note": "x"}))

	list := s.List(ScopeUser, "")
	require.Len(t, list, 1)
	require.Equal(t, "k1", list[0].Key)
}

func TestClearSessionReturnsCount(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save(ScopeSession, "a", 1, "", nil))
	require.NoError(t, s.Save(ScopeSession, "b", 2, "", nil))

	require.Equal(t, 2, s.ClearSession())
	require.Equal(t, 0, len(s.List(ScopeSession, "")))
}

func TestResolveUnionsUserAndProjectScopePreferringProject(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save(ScopeUser, "shared", "user-value", "", nil))
	require.NoError(t, s.Save(ScopeUser, "only-user", "u", "", nil))
	require.NoError(t, s.Save(ScopeProject, "shared", "project-value", "proj-1", nil))

	resolved := s.Resolve("proj-1", []string{"shared", "only-user"})
	require.Equal(t, "project-value", resolved["shared"])
	require.Equal(t, "u", resolved["only-user"])
}

func TestSaveRefusesToDowngradeEncryptedFile(t *testing.T) {
	dir := t.TempDir()
	keys := crypto.NewKeyStore()
	salt, err := crypto.NewSalt()
	require.NoError(t, err)
	require.NoError(t, keys.SetPassword("pw", salt))

	s, err := New(dir, keys)
	require.NoError(t, err)
	require.NoError(t, s.Save(ScopeUser, "k1", "v1", "", nil))

	keys.Clear()
	err = s.Save(ScopeUser, "k1", "v2", "", nil)
	require.ErrorIs(t, err, horizon.ErrWouldDowngrade)
}
