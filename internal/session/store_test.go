package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(filepath.Join(t.TempDir(), "cookies.json"), "www.gumtree.com", zap.NewNop())
	require.NoError(t, err)
	return st
}

func TestApexDerivation(t *testing.T) {
	st := newTestStore(t)
	assert.Equal(t, "gumtree.com", st.Apex())
}

func TestNormalizeDomain(t *testing.T) {
	st := newTestStore(t)

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"gumtree.com", ".gumtree.com", true},
		{".gumtree.com", ".gumtree.com", true},
		{"www.gumtree.com", ".gumtree.com", true},
		{".WWW.Gumtree.Com", ".gumtree.com", true},
		{"my.account.gumtree.com", ".gumtree.com", true},
		{"", ".gumtree.com", true},
		{"tracker.example.com", "", false},
		{"gumtree.com.evil.net", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := st.NormalizeDomain(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	st, err := NewStore(path, "www.gumtree.com", zap.NewNop())
	require.NoError(t, err)

	_, err = st.Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	st := newTestStore(t)

	s := &Session{
		Cookies: []Cookie{
			{Name: "sid", Value: "abc", Domain: "www.gumtree.com", Path: "/"},
			{Name: "pref", Value: "x", Domain: ".gumtree.com"},
		},
		Validity: ValidityValid,
	}
	require.NoError(t, st.Save(s))

	loaded, err := st.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Cookies, 2)
	for _, c := range loaded.Cookies {
		assert.Equal(t, ".gumtree.com", c.Domain)
		assert.NotEmpty(t, c.Path)
	}
	// Persisted validity never survives a load; only a live page check
	// can promote a session.
	assert.Equal(t, ValidityUnknown, loaded.Validity)
}

func TestSaveIsIdempotentAcrossCycles(t *testing.T) {
	st := newTestStore(t)

	s := &Session{Cookies: []Cookie{{Name: "sid", Value: "abc", Domain: "www.gumtree.com"}}}
	require.NoError(t, st.Save(s))

	first, err := st.Load()
	require.NoError(t, err)
	require.NoError(t, st.Save(first))

	second, err := st.Load()
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(first.Cookies, second.Cookies))
}

func TestLoadDropsExpiredAndForeignCookies(t *testing.T) {
	st := newTestStore(t)

	s := &Session{Cookies: []Cookie{
		{Name: "live", Value: "1", Domain: "gumtree.com", Expires: time.Now().Add(time.Hour)},
		{Name: "dead", Value: "2", Domain: "gumtree.com", Expires: time.Now().Add(-time.Hour)},
		{Name: "session", Value: "3", Domain: "gumtree.com"},
	}}
	require.NoError(t, st.Save(s))

	loaded, err := st.Load()
	require.NoError(t, err)
	names := make([]string, 0, len(loaded.Cookies))
	for _, c := range loaded.Cookies {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"live", "session"}, names)
}

func TestLoadAllExpiredIsNotFound(t *testing.T) {
	st := newTestStore(t)

	s := &Session{Cookies: []Cookie{
		{Name: "dead", Value: "2", Domain: "gumtree.com", Expires: time.Now().Add(-time.Minute)},
	}}
	require.NoError(t, st.Save(s))

	_, err := st.Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveDropsForeignDomains(t *testing.T) {
	st := newTestStore(t)

	s := &Session{Cookies: []Cookie{
		{Name: "ours", Value: "1", Domain: "gumtree.com"},
		{Name: "theirs", Value: "2", Domain: "ads.doubleclick.net"},
	}}
	require.NoError(t, st.Save(s))

	loaded, err := st.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Cookies, 1)
	assert.Equal(t, "ours", loaded.Cookies[0].Name)
}

func TestValidate(t *testing.T) {
	st := newTestStore(t)
	s := &Session{}

	assert.True(t, st.Validate(s, PageSignal{AccountMenuVisible: true}))
	assert.Equal(t, ValidityValid, s.Validity)

	assert.False(t, st.Validate(s, PageSignal{LoginPromptVisible: true}))
	assert.Equal(t, ValidityInvalid, s.Validity)

	assert.False(t, st.Validate(s, PageSignal{}))
	assert.Equal(t, ValidityUnknown, s.Validity)
}

func TestClear(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.Clear())

	s := &Session{Cookies: []Cookie{{Name: "sid", Value: "1", Domain: "gumtree.com"}}}
	require.NoError(t, st.Save(s))
	require.NoError(t, st.Clear())

	_, err := st.Load()
	assert.ErrorIs(t, err, ErrNotFound)
}
