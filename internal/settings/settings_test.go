package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck
	return NewRedisBackend(client), mr
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	rb, _ := newRedisBackend(t)
	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"file":   NewFileBackend(filepath.Join(t.TempDir(), "nested", "settings.yaml")),
		"redis":  rb,
	}
}

func TestBackends_GetSet(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := b.Get(ctx, "outreach:missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, b.Set(ctx, "outreach:a", []byte(`"one"`)))
			require.NoError(t, b.Set(ctx, "outreach:a", []byte(`"two"`)))

			v, ok, err := b.Get(ctx, "outreach:a")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `"two"`, string(v))
		})
	}
}

func TestStore_Defaults(t *testing.T) {
	s := New(NewMemoryBackend())
	ctx := context.Background()

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), all)
}

func TestStore_RoundTrip(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(b)
			ctx := context.Background()

			want := Settings{
				WebhookURL: "https://flows.n8n.cloud/webhook/abc",
				Enabled:    false,
				Display:    Display{Theme: "dark", Position: "top-left", WelcomeMessage: "Hallo", Language: "German"},
			}
			require.NoError(t, s.Update(ctx, want))

			got, err := s.All(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestStore_MalformedFallsBackToDefaults(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	require.NoError(t, b.Set(ctx, Key(NameEnabled), []byte(`not-json`)))
	require.NoError(t, b.Set(ctx, Key(NameDisplay), []byte(`{"theme":`)))
	require.NoError(t, b.Set(ctx, Key(NameWebhookURL), []byte(`42`)))

	s := New(b)
	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.True(t, all.Enabled)
	assert.Equal(t, DefaultDisplay(), all.Display)
	assert.Empty(t, all.WebhookURL)
}

func TestStore_PartialDisplayKeepsDefaults(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	require.NoError(t, b.Set(ctx, Key(NameDisplay), []byte(`{"theme":"dark"}`)))

	d, err := New(b).Display(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dark", d.Theme)
	assert.Equal(t, DefaultDisplay().Position, d.Position)
}

func TestStore_RedisKeysAreNamespaced(t *testing.T) {
	rb, mr := newRedisBackend(t)
	s := New(rb)

	require.NoError(t, s.SetWebhookURL(context.Background(), " https://x.elestio.app/webhook/1 "))

	raw, err := mr.Get("outreach:webhook_url")
	require.NoError(t, err)
	assert.Equal(t, `"https://x.elestio.app/webhook/1"`, raw)
}

func TestStore_GetSetByName(t *testing.T) {
	s := New(NewMemoryBackend())
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "display.theme", "dark"))
	require.NoError(t, s.Set(ctx, "enabled", "false"))

	v, err := s.Get(ctx, "display.theme")
	require.NoError(t, err)
	assert.Equal(t, "dark", v)

	v, err = s.Get(ctx, "enabled")
	require.NoError(t, err)
	assert.Equal(t, "false", v)

	err = s.Set(ctx, "enabled", "maybe")
	assert.Error(t, err)

	_, err = s.Get(ctx, "colour")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown setting")
}

func TestFileBackend_ReadsHandEditedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("outreach:webhook_url: '\"https://n8n.acme.io/webhook/x\"'\n"), 0o600))

	url, err := New(NewFileBackend(path)).WebhookURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://n8n.acme.io/webhook/x", url)
}

func TestFileBackend_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- [unterminated"), 0o600))

	_, _, err := NewFileBackend(path).Get(context.Background(), "outreach:enabled")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settings: parse")
}

func TestRedisBackend_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close() //nolint:errcheck
	rb := NewRedisBackend(client)
	mr.Close()

	_, _, err = rb.Get(context.Background(), "outreach:enabled")
	assert.Error(t, err)
}

func TestStore_ResolveEndpoint(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend())

	assert.Equal(t, "https://fallback.example/webhook", s.ResolveEndpoint(ctx, "", " https://fallback.example/webhook "))

	require.NoError(t, s.SetWebhookURL(ctx, "https://stored.example/webhook"))
	assert.Equal(t, "https://stored.example/webhook", s.ResolveEndpoint(ctx, "", "https://fallback.example/webhook"))
	assert.Equal(t, "https://flag.example/webhook", s.ResolveEndpoint(ctx, "https://flag.example/webhook", "https://fallback.example/webhook"))

	var none *Store
	assert.Equal(t, "https://fallback.example/webhook", none.ResolveEndpoint(ctx, "", "https://fallback.example/webhook"))
}
