package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stepgate/stepgate/internal/risk"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, 10*time.Minute, zap.NewNop()), mr
}

func sampleSession(id string) *AuthSession {
	now := time.Now().UTC().Truncate(time.Second)
	return &AuthSession{
		ID:              id,
		UserID:          "user-1",
		Context:         &risk.SignalContext{UserID: "user-1", IPAddress: "192.0.2.1", Timestamp: now},
		RiskScore:       0.45,
		RiskLevel:       risk.LevelMedium,
		PolicyName:      "medium_risk",
		SessionDuration: 4 * time.Hour,
		BlockedActions:  []string{"admin_operations"},
		RequiredMethods: []string{"password", "totp"},
		Status:          StatusInProgress,
		CreatedAt:       now,
		ExpiresAt:       now.Add(10 * time.Minute),
	}
}

func TestRedisStore_SessionRoundTrip(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	sess := sampleSession("sess-1")
	require.NoError(t, store.PutSession(ctx, sess))

	got, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, got.UserID)
	assert.Equal(t, sess.RiskScore, got.RiskScore)
	assert.Equal(t, sess.RequiredMethods, got.RequiredMethods)
	assert.Equal(t, StatusInProgress, got.Status)

	require.NoError(t, store.DeleteSession(ctx, "sess-1"))
	_, err = store.GetSession(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStore_UnknownSession(t *testing.T) {
	store, _ := newRedisStore(t)
	_, err := store.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStore_KeysExpire(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutSession(ctx, sampleSession("sess-ttl")))
	mr.FastForward(11 * time.Minute)

	_, err := store.GetSession(ctx, "sess-ttl")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStore_ChallengeRoundTrip(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	max := 3
	expires := time.Now().UTC().Add(5 * time.Minute).Truncate(time.Second)
	ch := &Challenge{
		ID:          "ch-1",
		SessionID:   "sess-1",
		UserID:      "user-1",
		MethodID:    "sms",
		Kind:        "code",
		Code:        "482913",
		Status:      ChallengePending,
		MaxAttempts: &max,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
		ExpiresAt:   &expires,
	}
	require.NoError(t, store.PutChallenge(ctx, ch))

	got, err := store.GetChallenge(ctx, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, "482913", got.Code)
	require.NotNil(t, got.MaxAttempts)
	assert.Equal(t, 3, *got.MaxAttempts)
	assert.Equal(t, 3, got.AttemptsRemaining())

	_, err = store.GetChallenge(ctx, "missing")
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestMemoryStore_CopySemantics(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess := sampleSession("sess-1")
	require.NoError(t, store.PutSession(ctx, sess))

	// Mutating the returned copy must not leak into the store
	got, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	got.Status = StatusFailed

	again, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, again.Status)
}

func TestMemoryStore_SweepExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	stale := sampleSession("stale")
	stale.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.PutSession(ctx, stale))

	fresh := sampleSession("fresh")
	require.NoError(t, store.PutSession(ctx, fresh))

	swept, err := store.SweepExpired(ctx, time.Now(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, err := store.GetSession(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	got, err = store.GetSession(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
}

func TestChallenge_TimedOut(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, (&Challenge{ExpiresAt: &past}).TimedOut(now))
	assert.False(t, (&Challenge{ExpiresAt: &future}).TimedOut(now))
	// Continuous challenges never expire
	assert.False(t, (&Challenge{}).TimedOut(now))
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusExpired.Terminal())
}

func TestSweeper_RunsAndShutsDown(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	stale := sampleSession("stale")
	stale.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.PutSession(ctx, stale))

	sweeper := NewSweeper(store, 10*time.Millisecond, time.Hour, zap.NewNop())
	sweeper.Start()

	require.Eventually(t, func() bool {
		got, err := store.GetSession(ctx, "stale")
		return err == nil && got.Status == StatusExpired
	}, time.Second, 10*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, sweeper.Shutdown(shutdownCtx))
	assert.Equal(t, "session_sweeper", sweeper.Name())
}
