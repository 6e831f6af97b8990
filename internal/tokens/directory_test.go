package tokens

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nvasko/push-delivery-system/internal/domain"
)

type fakeSource struct {
	tokens      map[string][]string
	lookupCalls int
	deactivated []string
	upserted    []string
}

func (s *fakeSource) ActiveTokensForUsers(_ context.Context, userIDs []string) (map[string][]string, error) {
	s.lookupCalls++
	result := make(map[string][]string)
	for _, id := range userIDs {
		if tokens, ok := s.tokens[id]; ok {
			result[id] = tokens
		}
	}
	return result, nil
}

func (s *fakeSource) UpsertDeviceToken(_ context.Context, userID, token, platform string) (*domain.DeviceToken, error) {
	s.upserted = append(s.upserted, token)
	return &domain.DeviceToken{Token: token, UserID: userID, Platform: platform, IsActive: true}, nil
}

func (s *fakeSource) DeactivateToken(_ context.Context, token string) error {
	s.deactivated = append(s.deactivated, token)
	return nil
}

func setupDirectory(t *testing.T, source *fakeSource) (*Directory, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewDirectory(source, client, 5*time.Minute, logger), mr
}

func TestResolveTokens_CacheMissFetchesAndCaches(t *testing.T) {
	source := &fakeSource{tokens: map[string][]string{
		"user-1": {"tok-a", "tok-b"},
	}}
	d, mr := setupDirectory(t, source)
	ctx := context.Background()

	result, err := d.ResolveTokens(ctx, []string{"user-1"})
	if err != nil {
		t.Fatalf("ResolveTokens returned error: %v", err)
	}

	if len(result["user-1"]) != 2 {
		t.Errorf("got %d tokens, want 2", len(result["user-1"]))
	}
	if source.lookupCalls != 1 {
		t.Errorf("registry lookups = %d, want 1", source.lookupCalls)
	}

	cached, err := mr.Get("tokens:user-1")
	if err != nil {
		t.Fatalf("cache entry missing after resolution: %v", err)
	}
	var tokens []string
	if err := json.Unmarshal([]byte(cached), &tokens); err != nil {
		t.Fatalf("cached value is not a JSON array: %v", err)
	}
	if len(tokens) != 2 {
		t.Errorf("cached %d tokens, want 2", len(tokens))
	}

	// Second resolution must come from cache alone.
	if _, err := d.ResolveTokens(ctx, []string{"user-1"}); err != nil {
		t.Fatalf("second ResolveTokens returned error: %v", err)
	}
	if source.lookupCalls != 1 {
		t.Errorf("registry lookups after cache hit = %d, want still 1", source.lookupCalls)
	}
}

func TestResolveTokens_UserWithoutTokensGetsExplicitEmptyEntry(t *testing.T) {
	source := &fakeSource{tokens: map[string][]string{}}
	d, _ := setupDirectory(t, source)

	result, err := d.ResolveTokens(context.Background(), []string{"ghost-user"})
	if err != nil {
		t.Fatalf("ResolveTokens returned error: %v", err)
	}

	tokens, ok := result["ghost-user"]
	if !ok {
		t.Fatal("user absent from result, want explicit empty entry")
	}
	if len(tokens) != 0 {
		t.Errorf("got %d tokens, want 0", len(tokens))
	}
}

func TestResolveTokens_EmptyEntryIsCachedToo(t *testing.T) {
	source := &fakeSource{tokens: map[string][]string{}}
	d, _ := setupDirectory(t, source)
	ctx := context.Background()

	if _, err := d.ResolveTokens(ctx, []string{"ghost-user"}); err != nil {
		t.Fatalf("ResolveTokens returned error: %v", err)
	}
	if _, err := d.ResolveTokens(ctx, []string{"ghost-user"}); err != nil {
		t.Fatalf("second ResolveTokens returned error: %v", err)
	}

	// The empty result must not be re-fetched every cycle.
	if source.lookupCalls != 1 {
		t.Errorf("registry lookups = %d, want 1", source.lookupCalls)
	}
}

func TestResolveTokens_MixedHitsAndMisses(t *testing.T) {
	source := &fakeSource{tokens: map[string][]string{
		"user-1": {"tok-a"},
		"user-2": {"tok-b"},
	}}
	d, mr := setupDirectory(t, source)
	ctx := context.Background()

	// Pre-warm user-1 only.
	encoded, _ := json.Marshal([]string{"tok-cached"})
	mr.Set("tokens:user-1", string(encoded))

	result, err := d.ResolveTokens(ctx, []string{"user-1", "user-2"})
	if err != nil {
		t.Fatalf("ResolveTokens returned error: %v", err)
	}

	if got := result["user-1"]; len(got) != 1 || got[0] != "tok-cached" {
		t.Errorf("user-1 = %v, want cached value", got)
	}
	if got := result["user-2"]; len(got) != 1 || got[0] != "tok-b" {
		t.Errorf("user-2 = %v, want registry value", got)
	}
	if source.lookupCalls != 1 {
		t.Errorf("registry lookups = %d, want 1 batched call for the misses", source.lookupCalls)
	}
}

func TestRegisterToken_InvalidatesCache(t *testing.T) {
	source := &fakeSource{tokens: map[string][]string{"user-1": {"tok-a"}}}
	d, mr := setupDirectory(t, source)
	ctx := context.Background()

	if _, err := d.ResolveTokens(ctx, []string{"user-1"}); err != nil {
		t.Fatalf("ResolveTokens returned error: %v", err)
	}
	if !mr.Exists("tokens:user-1") {
		t.Fatal("cache entry missing after resolution")
	}

	if _, err := d.RegisterToken(ctx, "user-1", "tok-new", "android"); err != nil {
		t.Fatalf("RegisterToken returned error: %v", err)
	}

	if mr.Exists("tokens:user-1") {
		t.Error("cache entry should be dropped after registration")
	}
	if len(source.upserted) != 1 || source.upserted[0] != "tok-new" {
		t.Errorf("upserted = %v, want [tok-new]", source.upserted)
	}
}

func TestReportInvalidToken(t *testing.T) {
	source := &fakeSource{tokens: map[string][]string{"user-1": {"tok-bad"}}}
	d, mr := setupDirectory(t, source)
	ctx := context.Background()

	if _, err := d.ResolveTokens(ctx, []string{"user-1"}); err != nil {
		t.Fatalf("ResolveTokens returned error: %v", err)
	}

	d.ReportInvalidToken(ctx, "user-1", "tok-bad")

	if len(source.deactivated) != 1 || source.deactivated[0] != "tok-bad" {
		t.Errorf("deactivated = %v, want [tok-bad]", source.deactivated)
	}
	if mr.Exists("tokens:user-1") {
		t.Error("cache entry should be dropped for the reported user")
	}

	raw, err := mr.Lpop(ReportListKey)
	if err != nil {
		t.Fatalf("no report pushed to %s: %v", ReportListKey, err)
	}
	var report struct {
		UserID string `json:"user_id"`
		Token  string `json:"token"`
	}
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if report.UserID != "user-1" || report.Token != "tok-bad" {
		t.Errorf("report = %+v, want user-1/tok-bad", report)
	}
}

func TestResolveTokens_RedisDownFallsBackToRegistry(t *testing.T) {
	source := &fakeSource{tokens: map[string][]string{"user-1": {"tok-a"}}}
	d, mr := setupDirectory(t, source)

	mr.Close()

	result, err := d.ResolveTokens(context.Background(), []string{"user-1"})
	if err != nil {
		t.Fatalf("ResolveTokens returned error: %v, want registry fallback", err)
	}
	if got := result["user-1"]; len(got) != 1 || got[0] != "tok-a" {
		t.Errorf("user-1 = %v, want registry value", got)
	}
}
