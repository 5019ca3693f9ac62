package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/accesso/models"
	"github.com/cppla/accesso/utils"
)

func newTextService(t *testing.T, now *time.Time) (*TextService, context.Context) {
	t.Helper()
	svc := NewTextService(newTestDB(t), DefaultLimits())
	svc.Now = fixedClock(now)
	return svc, context.Background()
}

func TestTextService_CreateEmptyGeneratesCode(t *testing.T) {
	now := baseTime
	svc, ctx := newTextService(t, &now)

	res, err := svc.CreateEmpty(ctx, TunnelRequest{})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[1-9A-HJ-NP-Z]{8}$`), res.Code)
	assert.False(t, res.Existing)
	assert.Equal(t, baseTime.Add(24*time.Hour), res.ExpiresAt)

	view, err := svc.Read(ctx, strings.ToLower(res.Code), "")
	require.NoError(t, err)
	assert.Empty(t, view.Entries)
}

func TestTextService_CreateEmptyIsIdempotentWhileLive(t *testing.T) {
	now := baseTime
	svc, ctx := newTextService(t, &now)

	first, err := svc.CreateEmpty(ctx, TunnelRequest{Code: "my-room", Password: "secret", ExpiresIn: 2})
	require.NoError(t, err)
	assert.Equal(t, "MYROOM", first.Code)

	now = baseTime.Add(time.Hour)
	second, err := svc.CreateEmpty(ctx, TunnelRequest{Code: "MYROOM", ExpiresIn: 48})
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.True(t, first.ExpiresAt.Equal(second.ExpiresAt))

	// the original password still applies
	_, err = svc.Read(ctx, "MYROOM", "")
	assert.ErrorIs(t, err, ErrPasswordRequired)
}

func TestTextService_CreateEmptyReplacesExpired(t *testing.T) {
	now := baseTime
	svc, ctx := newTextService(t, &now)

	_, err := svc.CreateEmpty(ctx, TunnelRequest{Code: "ROOM1", Password: "secret", ExpiresIn: 1})
	require.NoError(t, err)

	now = baseTime.Add(time.Hour)
	res, err := svc.CreateEmpty(ctx, TunnelRequest{Code: "ROOM1"})
	require.NoError(t, err)
	assert.False(t, res.Existing)
	assert.Equal(t, now.Add(24*time.Hour), res.ExpiresAt)

	_, err = svc.Read(ctx, "ROOM1", "")
	assert.NoError(t, err)
}

func TestTextService_RejectsShortCodes(t *testing.T) {
	now := baseTime
	svc, ctx := newTextService(t, &now)

	_, err := svc.CreateEmpty(ctx, TunnelRequest{Code: "a-!"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "Tunnel ID must be at least 3 characters", PublicMessage(err))

	_, err = svc.CreateWithEntry(ctx, TunnelRequest{Code: "x"}, EntryInput{Content: "hi"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTextService_LongCodesAreTruncated(t *testing.T) {
	now := baseTime
	svc, ctx := newTextService(t, &now)

	res, err := svc.CreateEmpty(ctx, TunnelRequest{Code: strings.Repeat("ab", 15)})
	require.NoError(t, err)
	assert.Len(t, res.Code, 20)
}

func TestTextService_CreateWithEntryAndReadWithPassword(t *testing.T) {
	now := baseTime
	svc, ctx := newTextService(t, &now)

	res, err := svc.CreateWithEntry(ctx, TunnelRequest{Password: "pw", ExpiresIn: 3},
		EntryInput{Title: "<b>Notes</b>", Content: "ciphertext", Language: "markdown"})
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(3*time.Hour), res.ExpiresAt)

	_, err = svc.Read(ctx, res.Code, "")
	assert.ErrorIs(t, err, ErrPasswordRequired)
	_, err = svc.Read(ctx, res.Code, "wrong")
	assert.ErrorIs(t, err, ErrIncorrectPassword)

	view, err := svc.Read(ctx, res.Code, "pw")
	require.NoError(t, err)
	require.Len(t, view.Entries, 1)
	assert.Equal(t, "Notes", view.Entries[0].Title)
	assert.Equal(t, "ciphertext", view.Entries[0].Content)
	assert.Equal(t, "markdown", view.Entries[0].Language)
	assert.Equal(t, int64(1), view.ViewCount)

	view, err = svc.Read(ctx, res.Code, "pw")
	require.NoError(t, err)
	assert.Equal(t, int64(2), view.ViewCount)
}

func TestTextService_FailedGateDoesNotCountView(t *testing.T) {
	now := baseTime
	svc, ctx := newTextService(t, &now)

	res, err := svc.CreateWithEntry(ctx, TunnelRequest{Password: "pw"}, EntryInput{Content: "x"})
	require.NoError(t, err)
	_, err = svc.Read(ctx, res.Code, "nope")
	require.Error(t, err)

	view, err := svc.Read(ctx, res.Code, "pw")
	require.NoError(t, err)
	assert.Equal(t, int64(1), view.ViewCount)
}

func TestTextService_CreateWithEntryConflictsWithLiveCode(t *testing.T) {
	now := baseTime
	svc, ctx := newTextService(t, &now)

	_, err := svc.CreateEmpty(ctx, TunnelRequest{Code: "TAKEN"})
	require.NoError(t, err)

	_, err = svc.CreateWithEntry(ctx, TunnelRequest{Code: "taken"}, EntryInput{Content: "x"})
	assert.ErrorIs(t, err, ErrConflict)

	now = baseTime.Add(25 * time.Hour)
	res, err := svc.CreateWithEntry(ctx, TunnelRequest{Code: "taken"}, EntryInput{Content: "x"})
	require.NoError(t, err)
	assert.Equal(t, "TAKEN", res.Code)
}

func TestTextService_EntryValidation(t *testing.T) {
	now := baseTime
	svc, ctx := newTextService(t, &now)

	_, err := svc.CreateWithEntry(ctx, TunnelRequest{}, EntryInput{})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "Content is required", PublicMessage(err))

	_, err = svc.CreateWithEntry(ctx, TunnelRequest{}, EntryInput{Content: strings.Repeat("é", 50001)})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "Content exceeds maximum length of 50,000 characters", PublicMessage(err))

	// the cap counts characters, not bytes
	_, err = svc.CreateWithEntry(ctx, TunnelRequest{}, EntryInput{Content: strings.Repeat("é", 50000)})
	assert.NoError(t, err)
}

func TestTextService_AppendEntry(t *testing.T) {
	now := baseTime
	svc, ctx := newTextService(t, &now)

	res, err := svc.CreateEmpty(ctx, TunnelRequest{Code: "APPEND"})
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 3; i++ {
		out, err := svc.AppendEntry(ctx, "append", EntryInput{Content: "entry"})
		require.NoError(t, err)
		assert.Equal(t, i+1, out.TotalEntries)
		ids = append(ids, out.EntryID)
	}
	// clock is frozen, ids must still be distinct and increasing
	assert.Equal(t, []string{"1893499200000", "1893499200001", "1893499200002"}, ids)

	view, err := svc.Read(ctx, res.Code, "")
	require.NoError(t, err)
	require.Len(t, view.Entries, 3)
	assert.Equal(t, "Untitled", view.Entries[0].Title)
	assert.Equal(t, "plaintext", view.Entries[0].Language)
}

func TestTextService_AppendEntryErrors(t *testing.T) {
	now := baseTime
	svc, ctx := newTextService(t, &now)

	_, err := svc.AppendEntry(ctx, "NOPE", EntryInput{Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.CreateEmpty(ctx, TunnelRequest{Code: "SHORT", ExpiresIn: 1})
	require.NoError(t, err)
	_, err = svc.AppendEntry(ctx, "SHORT", EntryInput{})
	assert.ErrorIs(t, err, ErrValidation)

	now = baseTime.Add(time.Hour)
	_, err = svc.AppendEntry(ctx, "SHORT", EntryInput{Content: "x"})
	assert.ErrorIs(t, err, ErrExpired)
}

func TestTextService_AppendEntryCapacity(t *testing.T) {
	now := baseTime
	limits := DefaultLimits()
	limits.MaxTunnelChars = 400
	svc := NewTextService(newTestDB(t), limits)
	svc.Now = fixedClock(&now)
	ctx := context.Background()

	_, err := svc.CreateEmpty(ctx, TunnelRequest{Code: "FULL"})
	require.NoError(t, err)

	_, err = svc.AppendEntry(ctx, "FULL", EntryInput{Content: strings.Repeat("a", 100)})
	require.NoError(t, err)
	_, err = svc.AppendEntry(ctx, "FULL", EntryInput{Content: strings.Repeat("a", 300)})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "Tunnel capacity exceeded", PublicMessage(err))

	view, err := svc.Read(ctx, "FULL", "")
	require.NoError(t, err)
	assert.Len(t, view.Entries, 1)
}

func TestTextService_ReadExpiredDeletesRow(t *testing.T) {
	now := baseTime
	svc, ctx := newTextService(t, &now)

	res, err := svc.CreateWithEntry(ctx, TunnelRequest{ExpiresIn: 1}, EntryInput{Content: "x"})
	require.NoError(t, err)

	// expiry is inclusive: reading exactly at expires_at already fails
	now = res.ExpiresAt
	_, err = svc.Read(ctx, res.Code, "")
	assert.ErrorIs(t, err, ErrExpired)

	var n int64
	require.NoError(t, svc.db.Model(&models.TextShare{}).Where("code = ?", res.Code).Count(&n).Error)
	assert.Zero(t, n)

	_, err = svc.Read(ctx, res.Code, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTextService_LegacyRows(t *testing.T) {
	now := baseTime
	svc, ctx := newTextService(t, &now)

	sum := sha256.Sum256([]byte("legacy-pw"))
	row := models.TextShare{
		Code:         "OLDONE",
		Title:        "Old paste",
		Content:      "written before entries existed",
		Language:     "go",
		PasswordHash: hex.EncodeToString(sum[:]),
		ExpiresAt:    baseTime.Add(time.Hour),
	}
	require.NoError(t, svc.db.Create(&row).Error)

	_, err := svc.Read(ctx, "OLDONE", "bad")
	assert.ErrorIs(t, err, ErrIncorrectPassword)

	view, err := svc.Read(ctx, "OLDONE", "legacy-pw")
	require.NoError(t, err)
	require.Len(t, view.Entries, 1)
	assert.Equal(t, "0", view.Entries[0].ID)
	assert.Equal(t, "Old paste", view.Entries[0].Title)

	out, err := svc.AppendEntry(ctx, "OLDONE", EntryInput{Content: "new"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.TotalEntries)

	view, err = svc.Read(ctx, "OLDONE", "legacy-pw")
	require.NoError(t, err)
	require.Len(t, view.Entries, 2)
	assert.Equal(t, "0", view.Entries[0].ID)
	assert.Equal(t, "written before entries existed", view.Entries[0].Content)
	assert.Equal(t, "new", view.Entries[1].Content)
}

func TestTextService_LongPasswordRoundTrips(t *testing.T) {
	now := baseTime
	svc, ctx := newTextService(t, &now)
	long := strings.Repeat("p", 80)

	_, err := svc.CreateEmpty(ctx, TunnelRequest{Code: "LONGPW", Password: long})
	require.NoError(t, err)

	_, err = svc.Read(ctx, "LONGPW", long[:72])
	assert.ErrorIs(t, err, ErrIncorrectPassword)

	view, err := svc.Read(ctx, "LONGPW", long)
	require.NoError(t, err)
	assert.Equal(t, "LONGPW", view.Code)
}

func TestTextService_HugeExpiryIsClamped(t *testing.T) {
	now := baseTime
	svc, ctx := newTextService(t, &now)

	res, err := svc.CreateEmpty(ctx, TunnelRequest{Code: "FOREVER", ExpiresIn: 3000000})
	require.NoError(t, err)
	assert.True(t, res.ExpiresAt.Equal(baseTime.Add(utils.MaxExpiryHours*time.Hour)))

	_, err = svc.Read(ctx, "FOREVER", "")
	assert.NoError(t, err)
}

func TestTextService_BlankPasswordLeavesTunnelOpen(t *testing.T) {
	now := baseTime
	svc, ctx := newTextService(t, &now)

	_, err := svc.CreateEmpty(ctx, TunnelRequest{Code: "BLANKPW", Password: "   "})
	require.NoError(t, err)

	_, err = svc.Read(ctx, "BLANKPW", "")
	assert.NoError(t, err)
}
