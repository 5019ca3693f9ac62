package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/accesso/models"
)

func newLinkService(t *testing.T, now *time.Time) (*LinkService, context.Context) {
	t.Helper()
	geo := func(ctx context.Context, ip string) (string, error) {
		if ip == "203.0.113.7" {
			return "Germany", nil
		}
		return "", errors.New("unknown")
	}
	svc := NewLinkService(newTestDB(t), "https://acc.es/", geo)
	svc.Now = fixedClock(now)
	t.Cleanup(svc.Wait)
	return svc, context.Background()
}

func TestLinkService_CreateRandom(t *testing.T) {
	now := baseTime
	svc, ctx := newLinkService(t, &now)

	res, err := svc.Create(ctx, LinkRequest{URL: "https://example.com/a?b=c"})
	require.NoError(t, err)
	assert.Len(t, res.ShortCode, 6)
	assert.Nil(t, res.CustomAlias)
	assert.Nil(t, res.ExpiresAt)
	assert.Equal(t, "https://acc.es/l/"+res.ShortCode, res.ShortURL)
	assert.Equal(t, "https://example.com/a?b=c", res.OriginalURL)
}

func TestLinkService_CreateRejectsBadURLs(t *testing.T) {
	now := baseTime
	svc, ctx := newLinkService(t, &now)

	for _, u := range []string{"", "example.com", "ftp://example.com/file", "https://", "javascript:alert(1)"} {
		_, err := svc.Create(ctx, LinkRequest{URL: u})
		assert.ErrorIs(t, err, ErrValidation, u)
	}
}

func TestLinkService_CustomAlias(t *testing.T) {
	now := baseTime
	svc, ctx := newLinkService(t, &now)

	res, err := svc.Create(ctx, LinkRequest{URL: "https://example.com", CustomAlias: "My Launch_Page!"})
	require.NoError(t, err)
	assert.Equal(t, "mylaunchpage", res.ShortCode)
	require.NotNil(t, res.CustomAlias)
	assert.Equal(t, "mylaunchpage", *res.CustomAlias)

	_, err = svc.Create(ctx, LinkRequest{URL: "https://example.org", CustomAlias: "MYLAUNCHPAGE"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.Create(ctx, LinkRequest{URL: "https://example.org", CustomAlias: "!!!"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLinkService_AliasCannotShadowShortCode(t *testing.T) {
	now := baseTime
	svc, ctx := newLinkService(t, &now)

	require.NoError(t, svc.db.Create(&models.ShortURL{ShortCode: "abc123", OriginalURL: "https://a.example", IsActive: true}).Error)
	_, err := svc.Create(ctx, LinkRequest{URL: "https://b.example", CustomAlias: "abc123"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestLinkService_AliasStaysReservedAfterExpiry(t *testing.T) {
	now := baseTime
	svc, ctx := newLinkService(t, &now)

	_, err := svc.Create(ctx, LinkRequest{URL: "https://example.com", CustomAlias: "promo", ExpiresIn: 1})
	require.NoError(t, err)

	now = baseTime.Add(2 * time.Hour)
	_, err = svc.Create(ctx, LinkRequest{URL: "https://example.com", CustomAlias: "promo"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestLinkService_ResolveCountsAndLogsClicks(t *testing.T) {
	now := baseTime
	svc, ctx := newLinkService(t, &now)

	res, err := svc.Create(ctx, LinkRequest{URL: "https://example.com/target", Title: "Target"})
	require.NoError(t, err)

	target, err := svc.Resolve(ctx, res.ShortCode, ClickInfo{IP: "203.0.113.7", UserAgent: "curl/8", Referrer: "https://ref.example"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/target", target)
	_, err = svc.Resolve(ctx, res.ShortCode, ClickInfo{IP: "198.51.100.1"})
	require.NoError(t, err)
	svc.Wait()

	stats, err := svc.Stats(ctx, res.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.ClickCount)
	assert.Equal(t, "Target", stats.Title)

	var clicks []models.URLClick
	require.NoError(t, svc.db.Order("id").Find(&clicks).Error)
	require.Len(t, clicks, 2)
	assert.Equal(t, "Germany", clicks[0].Country)
	assert.Equal(t, "curl/8", clicks[0].UserAgent)
	assert.Equal(t, "https://ref.example", clicks[0].Referrer)
	assert.Equal(t, "203.0.113.7", clicks[0].IPAddress)
	assert.Empty(t, clicks[1].Country, "failed lookups leave the country empty")
}

func TestLinkService_ResolveByAlias(t *testing.T) {
	now := baseTime
	svc, ctx := newLinkService(t, &now)

	_, err := svc.Create(ctx, LinkRequest{URL: "https://example.com", CustomAlias: "docs"})
	require.NoError(t, err)
	target, err := svc.Resolve(ctx, "docs", ClickInfo{})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", target)
}

func TestLinkService_ResolveFailures(t *testing.T) {
	now := baseTime
	svc, ctx := newLinkService(t, &now)

	_, err := svc.Resolve(ctx, "missing", ClickInfo{})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.db.Create(&models.ShortURL{ShortCode: "off", OriginalURL: "https://x.example", IsActive: true}).Error)
	require.NoError(t, svc.db.Model(&models.ShortURL{}).Where("short_code = ?", "off").Update("is_active", false).Error)
	_, err = svc.Resolve(ctx, "off", ClickInfo{})
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, "This short URL has been disabled", PublicMessage(err))

	res, err := svc.Create(ctx, LinkRequest{URL: "https://x.example", ExpiresIn: 1})
	require.NoError(t, err)
	now = baseTime.Add(time.Hour)
	_, err = svc.Resolve(ctx, res.ShortCode, ClickInfo{})
	assert.ErrorIs(t, err, ErrExpired)
	_, err = svc.Stats(ctx, res.ShortCode)
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, "This short URL has expired", PublicMessage(err))
}

func TestLinkService_StatsDoesNotCount(t *testing.T) {
	now := baseTime
	svc, ctx := newLinkService(t, &now)

	res, err := svc.Create(ctx, LinkRequest{URL: "https://example.com"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		stats, err := svc.Stats(ctx, res.ShortCode)
		require.NoError(t, err)
		assert.Zero(t, stats.ClickCount)
	}
}
