package auth

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStore_MemoryOnly(t *testing.T) {
	s, err := NewTokenStore("", zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.Token()
	assert.False(t, ok)

	require.NoError(t, s.Save("  secret-1 \n"))
	tok, ok := s.Token()
	require.True(t, ok)
	assert.Equal(t, "secret-1", tok)

	require.NoError(t, s.Clear())
	_, ok = s.Token()
	assert.False(t, ok)
}

func TestTokenStore_RejectsBlank(t *testing.T) {
	s, err := NewTokenStore("", zerolog.Nop())
	require.NoError(t, err)
	assert.Error(t, s.Save("   "))
}

func TestTokenStore_PersistsAndReloads(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "token")
	s, err := NewTokenStore(p, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Save("abc"))

	fi, err := os.Stat(p)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
	}

	s2, err := NewTokenStore(p, zerolog.Nop())
	require.NoError(t, err)
	tok, ok := s2.Token()
	require.True(t, ok)
	assert.Equal(t, "abc", tok)

	require.NoError(t, s2.Clear())
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
	// clearing twice is fine
	require.NoError(t, s2.Clear())
}

func TestTokenStore_Subscribe(t *testing.T) {
	s, err := NewTokenStore("", zerolog.Nop())
	require.NoError(t, err)
	ch, cancel := s.Subscribe()
	defer cancel()
	assert.False(t, <-ch)
	require.NoError(t, s.Save("x"))
	assert.True(t, <-ch)
	require.NoError(t, s.Clear())
	assert.False(t, <-ch)
}

func TestTokenStore_Watch(t *testing.T) {
	s, err := NewTokenStore("", zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()
	ch, stop := s.Watch()
	defer stop()

	next := func() CurrentToken {
		t.Helper()
		select {
		case v, ok := <-ch:
			require.True(t, ok)
			return v
		case <-time.After(2 * time.Second):
			t.Fatal("no token update")
			return CurrentToken{}
		}
	}
	assert.Equal(t, CurrentToken{}, next())
	require.NoError(t, s.Save(" hf_abc "))
	assert.Equal(t, CurrentToken{Value: "hf_abc", Present: true}, next())
	require.NoError(t, s.Clear())
	assert.Equal(t, CurrentToken{}, next())

	stop()
	stop()
	for range ch {
	}
}
