package services

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/accesso/models"
	"github.com/cppla/accesso/utils"
)

func newFileService(t *testing.T, now *time.Time) (*FileService, *fakeStore, context.Context) {
	t.Helper()
	store := newFakeStore()
	svc := NewFileService(newTestDB(t), store, DefaultLimits(), "files")
	svc.Now = fixedClock(now)
	t.Cleanup(svc.Wait)
	return svc, store, context.Background()
}

func upload(name, body string) UploadInput {
	return UploadInput{Filename: name, ContentType: "text/plain", Size: int64(len(body)), Body: strings.NewReader(body)}
}

func TestFileService_CreateTunnel(t *testing.T) {
	now := baseTime
	svc, _, ctx := newFileService(t, &now)

	res, err := svc.CreateTunnel(ctx, TunnelRequest{Code: "vault-1", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "VAULT1", res.Code)
	assert.False(t, res.Existing)
	assert.Nil(t, res.HasPassword)

	again, err := svc.CreateTunnel(ctx, TunnelRequest{Code: "VAULT1"})
	require.NoError(t, err)
	assert.True(t, again.Existing)
	require.NotNil(t, again.HasPassword)
	assert.True(t, *again.HasPassword)

	now = baseTime.Add(24 * time.Hour)
	fresh, err := svc.CreateTunnel(ctx, TunnelRequest{Code: "VAULT1"})
	require.NoError(t, err)
	assert.False(t, fresh.Existing)
}

func TestFileService_UploadCreatesTunnelAndLists(t *testing.T) {
	now := baseTime
	svc, store, ctx := newFileService(t, &now)

	res, err := svc.UploadFile(ctx, TunnelRequest{ExpiresIn: 2}, upload("notes.txt", "hello"))
	require.NoError(t, err)
	assert.Len(t, res.Code, 8)
	assert.Equal(t, "notes.txt", res.Filename)
	assert.Equal(t, baseTime.Add(2*time.Hour), res.ExpiresAt)
	require.Len(t, store.keys(), 1)
	assert.True(t, strings.HasPrefix(store.keys()[0], "files/"))

	list, err := svc.List(ctx, res.Code, "")
	require.NoError(t, err)
	require.Len(t, list.Files, 1)
	f := list.Files[0]
	assert.Equal(t, "notes.txt", f.OriginalFilename)
	assert.Equal(t, int64(5), f.FileSize)
	assert.Equal(t, "https://cdn.test/"+store.keys()[0], f.FileURL)
	assert.NotContains(t, f.DownloadURL, "token=")

	var tunnels int64
	require.NoError(t, svc.db.Model(&models.FileTunnel{}).Where("code = ?", res.Code).Count(&tunnels).Error)
	assert.Equal(t, int64(1), tunnels)
}

func TestFileService_UploadInheritsTunnelSettings(t *testing.T) {
	now := baseTime
	svc, store, ctx := newFileService(t, &now)

	tunnel, err := svc.CreateTunnel(ctx, TunnelRequest{Code: "SAFE", Password: "pw", ExpiresIn: 5})
	require.NoError(t, err)

	_, err = svc.UploadFile(ctx, TunnelRequest{Code: "SAFE"}, upload("a.txt", "a"))
	assert.ErrorIs(t, err, ErrPasswordRequired)
	_, err = svc.UploadFile(ctx, TunnelRequest{Code: "SAFE", Password: "nope"}, upload("a.txt", "a"))
	assert.ErrorIs(t, err, ErrIncorrectPassword)
	assert.Empty(t, store.keys(), "nothing is uploaded before the gate passes")

	res, err := svc.UploadFile(ctx, TunnelRequest{Code: "safe", Password: "pw", ExpiresIn: 72}, upload("a.txt", "a"))
	require.NoError(t, err)
	assert.True(t, tunnel.ExpiresAt.Equal(res.ExpiresAt))

	_, err = svc.List(ctx, "SAFE", "")
	assert.ErrorIs(t, err, ErrPasswordRequired)

	list, err := svc.List(ctx, "SAFE", "pw")
	require.NoError(t, err)
	require.Len(t, list.Files, 1)
	assert.Contains(t, list.Files[0].DownloadURL, "?token=")
}

func TestFileService_UploadValidation(t *testing.T) {
	now := baseTime
	svc, store, ctx := newFileService(t, &now)

	_, err := svc.UploadFile(ctx, TunnelRequest{}, UploadInput{})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "No file provided", PublicMessage(err))

	big := UploadInput{Filename: "big.bin", Size: 10*1024*1024 + 1, Body: bytes.NewReader(nil)}
	_, err = svc.UploadFile(ctx, TunnelRequest{}, big)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "File size exceeds 10MB limit", PublicMessage(err))

	_, err = svc.UploadFile(ctx, TunnelRequest{Code: "ab"}, upload("a.txt", "a"))
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, store.keys())
}

func TestFileService_ListUnknownCodeIsEmpty(t *testing.T) {
	now := baseTime
	svc, _, ctx := newFileService(t, &now)

	list, err := svc.List(ctx, "nothing", "")
	require.NoError(t, err)
	assert.Equal(t, "NOTHING", list.Code)
	assert.NotNil(t, list.Files)
	assert.Empty(t, list.Files)
}

func TestFileService_ListRemovesExpiredFilesInBackground(t *testing.T) {
	now := baseTime
	svc, store, ctx := newFileService(t, &now)

	_, err := svc.UploadFile(ctx, TunnelRequest{Code: "MIXED", ExpiresIn: 1}, upload("keep.txt", "k"))
	require.NoError(t, err)
	stale := models.FileShare{
		Code: "MIXED", Filename: "files/old", OriginalFilename: "old.txt", FileURL: "https://cdn.test/files/old",
		ExternalFileID: "files/old", ExpiresAt: baseTime.Add(-time.Minute),
	}
	require.NoError(t, svc.db.Create(&stale).Error)

	list, err := svc.List(ctx, "MIXED", "")
	require.NoError(t, err)
	require.Len(t, list.Files, 1)
	assert.Equal(t, "keep.txt", list.Files[0].OriginalFilename)

	svc.Wait()
	assert.Equal(t, []string{"files/old"}, store.deletedKeys())
	var n int64
	require.NoError(t, svc.db.Model(&models.FileShare{}).Where("id = ?", stale.ID).Count(&n).Error)
	assert.Zero(t, n)
}

func TestFileService_BackgroundCleanupSurvivesStoreFailure(t *testing.T) {
	now := baseTime
	svc, store, ctx := newFileService(t, &now)

	stale := models.FileShare{
		Code: "BROKEN", Filename: "k", FileURL: "u", ExternalFileID: "k", ExpiresAt: baseTime.Add(-time.Hour),
	}
	require.NoError(t, svc.db.Create(&stale).Error)
	store.failDel["k"] = true

	list, err := svc.List(ctx, "BROKEN", "")
	require.NoError(t, err)
	assert.Empty(t, list.Files)

	svc.Wait()
	var n int64
	require.NoError(t, svc.db.Model(&models.FileShare{}).Count(&n).Error)
	assert.Zero(t, n, "rows are removed even when the blob could not be")
}

func TestFileService_LegacySentinelGatesTunnel(t *testing.T) {
	now := baseTime
	svc, _, ctx := newFileService(t, &now)

	hash, err := utils.HashPassword("pw")
	require.NoError(t, err)
	sentinel := models.FileShare{
		Code: "LEGACY", Filename: models.LegacyTunnelMetaFilename, OriginalFilename: models.LegacyTunnelMetaFilename,
		FileURL: "none", PasswordHash: hash, ExpiresAt: baseTime.Add(time.Hour),
	}
	require.NoError(t, svc.db.Create(&sentinel).Error)

	_, err = svc.List(ctx, "LEGACY", "")
	assert.ErrorIs(t, err, ErrPasswordRequired)

	list, err := svc.List(ctx, "LEGACY", "pw")
	require.NoError(t, err)
	assert.Empty(t, list.Files, "the sentinel is not a file")

	again, err := svc.CreateTunnel(ctx, TunnelRequest{Code: "LEGACY"})
	require.NoError(t, err)
	assert.True(t, again.Existing)
	assert.True(t, *again.HasPassword)
}

func TestFileService_Download(t *testing.T) {
	now := baseTime
	svc, _, ctx := newFileService(t, &now)

	_, err := svc.UploadFile(ctx, TunnelRequest{Code: "DL", Password: "pw"}, upload("a.txt", "abc"))
	require.Error(t, err, "codes shorter than 3 characters are rejected")

	_, err = svc.UploadFile(ctx, TunnelRequest{Code: "DLX", Password: "pw"}, upload("a.txt", "abc"))
	require.NoError(t, err)
	list, err := svc.List(ctx, "DLX", "pw")
	require.NoError(t, err)
	require.Len(t, list.Files, 1)
	f := list.Files[0]

	_, err = svc.Download(ctx, "DLX", f.ID, "", "")
	assert.ErrorIs(t, err, ErrPasswordRequired)

	target, err := svc.Download(ctx, "dlx", f.ID, "pw", "")
	require.NoError(t, err)
	assert.Equal(t, f.FileURL, target)

	u, err := url.Parse(f.DownloadURL)
	require.NoError(t, err)
	_, err = svc.Download(ctx, "DLX", f.ID, "", u.Query().Get("token"))
	require.NoError(t, err)

	// a token only opens the file it was issued for
	other, err := utils.GenerateDownloadToken("DLX", f.ID+1, time.Minute)
	require.NoError(t, err)
	_, err = svc.Download(ctx, "DLX", f.ID, "", other)
	assert.ErrorIs(t, err, ErrPasswordRequired)

	list, err = svc.List(ctx, "DLX", "pw")
	require.NoError(t, err)
	assert.Equal(t, int64(2), list.Files[0].DownloadCount)

	_, err = svc.Download(ctx, "OTHER", f.ID, "pw", "")
	assert.ErrorIs(t, err, ErrNotFound)

	now = baseTime.Add(24 * time.Hour)
	_, err = svc.Download(ctx, "DLX", f.ID, "pw", "")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestFileService_FailedPutDropsNewTunnel(t *testing.T) {
	now := baseTime
	svc, store, ctx := newFileService(t, &now)
	store.failPut = errors.New("bucket unavailable")

	_, err := svc.UploadFile(ctx, TunnelRequest{Code: "GHOST1", Password: "pw"}, upload("a.txt", "data"))
	assert.ErrorIs(t, err, ErrUpstream)

	var count int64
	require.NoError(t, svc.db.Model(&models.FileTunnel{}).Where("code = ?", "GHOST1").Count(&count).Error)
	assert.Zero(t, count)

	// Anyone may now claim the code with their own settings.
	store.failPut = nil
	_, err = svc.UploadFile(ctx, TunnelRequest{Code: "GHOST1"}, upload("b.txt", "data"))
	require.NoError(t, err)
	list, err := svc.List(ctx, "GHOST1", "")
	require.NoError(t, err)
	assert.Len(t, list.Files, 1)
}

func TestFileService_FailedPutKeepsExistingTunnel(t *testing.T) {
	now := baseTime
	svc, store, ctx := newFileService(t, &now)

	_, err := svc.CreateTunnel(ctx, TunnelRequest{Code: "KEEP1", Password: "pw"})
	require.NoError(t, err)
	store.failPut = errors.New("bucket unavailable")

	_, err = svc.UploadFile(ctx, TunnelRequest{Code: "KEEP1", Password: "pw"}, upload("a.txt", "data"))
	assert.ErrorIs(t, err, ErrUpstream)

	again, err := svc.CreateTunnel(ctx, TunnelRequest{Code: "KEEP1"})
	require.NoError(t, err)
	assert.True(t, again.Existing)
}
