package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	cases := map[string]string{
		"203.0.113.7:51234": "203.0.113.7",
		"203.0.113.7":       "203.0.113.7",
		"[2001:db8::1]:443": "2001:db8::1",
		"2001:db8::1":       "2001:db8::1",
	}
	for remote, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		require.Equal(t, want, ClientIP(req), "remote %q", remote)
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Empty(t, bearerToken(req))

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	require.Empty(t, bearerToken(req))

	req.Header.Set("Authorization", "Bearer  tok-123 ")
	require.Equal(t, "tok-123", bearerToken(req))
}

func newResolver(t *testing.T, ttl time.Duration) (*IdentityResolver, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewIdentityResolver(client, ttl), mini, client
}

func TestResolveKnownToken(t *testing.T) {
	resolver, mini, _ := newResolver(t, time.Hour)
	require.NoError(t, mini.Set(SessionKey("tok-1"), `{"user_id":7,"superuser":true}`))
	mini.SetTTL(SessionKey("tok-1"), time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("Authorization", "Bearer tok-1")
	req.Header.Set("User-Agent", "ops-cli")

	actor, err := resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, int64(7), actor.UserID)
	require.True(t, actor.Superuser)
	require.True(t, actor.Authenticated())
	require.Equal(t, "203.0.113.7", actor.IP)
	require.Equal(t, "ops-cli", actor.UserAgent)

	// Each resolve slides the session expiry forward.
	require.Equal(t, time.Hour, mini.TTL(SessionKey("tok-1")))
}

func TestResolveUnknownTokenIsAnonymous(t *testing.T) {
	resolver, _, _ := newResolver(t, time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.8:51234"
	req.Header.Set("Authorization", "Bearer no-such-token")

	actor, err := resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.False(t, actor.Authenticated())
	require.Equal(t, "203.0.113.8", actor.IP)
}

func TestResolveWithoutTokenSkipsStore(t *testing.T) {
	resolver, mini, _ := newResolver(t, time.Hour)
	mini.Close()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:51234"

	actor, err := resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.False(t, actor.Authenticated())
}

func TestResolveStoreOutageSurfacesError(t *testing.T) {
	resolver, mini, _ := newResolver(t, time.Hour)
	mini.Close()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.10:51234"
	req.Header.Set("Authorization", "Bearer tok-2")

	actor, err := resolver.Resolve(context.Background(), req)
	require.Error(t, err)
	require.False(t, actor.Authenticated())
}

func TestActorContextRoundTrip(t *testing.T) {
	actor := Actor{UserID: 3, IP: "192.0.2.1"}
	ctx := ContextWithActor(context.Background(), actor)
	require.Equal(t, actor, ActorFromContext(ctx))

	require.Equal(t, Actor{}, ActorFromContext(context.Background()))
}
