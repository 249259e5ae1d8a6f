package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionActive(t *testing.T) {
	s := &Session{ID: "a"}
	assert.False(t, s.Active())

	p := "/main.go"
	require.NoError(t, s.SetPath(&p, ""))
	assert.False(t, s.Active(), "no track yet")

	s.TrackID = "t1"
	assert.True(t, s.Active())
	assert.Equal(t, "/main.go", s.PrettyPath)

	require.NoError(t, s.SetPath(nil, "ignored"))
	assert.False(t, s.Active())
	assert.Empty(t, s.PrettyPath)
}

func TestSessionSetPathCopies(t *testing.T) {
	s := &Session{}
	p := "/a"
	require.NoError(t, s.SetPath(&p, "/A"))
	p = "/b"
	assert.Equal(t, "/a", *s.Path)
	assert.Equal(t, "/A", s.PrettyPath)
}

func TestSessionSetPathTooLong(t *testing.T) {
	s := &Session{}
	p := strings.Repeat("x", MaxPathLen+1)
	assert.ErrorIs(t, s.SetPath(&p, ""), ErrPathTooLong)
}

func TestNormalizeName(t *testing.T) {
	n, err := NormalizeName("  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultName, n)

	n, err = NormalizeName(" ada ")
	require.NoError(t, err)
	assert.Equal(t, "ada", n)

	_, err = NormalizeName(strings.Repeat("x", MaxNameLen+1))
	assert.ErrorIs(t, err, ErrNameTooLong)
}

func TestNewScope(t *testing.T) {
	assert.Equal(t, Scope("github.com/owner/repo"), NewScope(" GitHub.com/Owner/Repo.git "))
	assert.Equal(t, Scope("gitlab.com/x/y"), NewScope("gitlab.com/x/y/"))
}
