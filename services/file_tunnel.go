package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/accesso/models"
	"github.com/cppla/accesso/storage"
	"github.com/cppla/accesso/utils"
)

// backgroundCleanupTimeout bounds the detached removal of expired files found while listing.
const backgroundCleanupTimeout = 2 * time.Minute

// FileTunnelResult is returned when a file tunnel is opened.
type FileTunnelResult struct {
	Code        string    `json:"code"`
	ExpiresAt   time.Time `json:"expires_at"`
	Existing    bool      `json:"existing,omitempty"`
	HasPassword *bool     `json:"hasPassword,omitempty"`
}

// UploadInput is a file received from a client.
type UploadInput struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadResult is returned after a file was stored.
type UploadResult struct {
	Code      string    `json:"code"`
	Filename  string    `json:"filename"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FileView is one listed file.
type FileView struct {
	ID               uint      `json:"id"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename"`
	FileURL          string    `json:"file_url"`
	FileSize         int64     `json:"file_size"`
	MimeType         string    `json:"mime_type"`
	DownloadCount    int64     `json:"download_count"`
	DownloadURL      string    `json:"download_url"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// FileList is the content of a file tunnel.
type FileList struct {
	Code  string     `json:"code"`
	Files []FileView `json:"files"`
}

// FileService manages file tunnels and their blobs.
type FileService struct {
	db        *gorm.DB
	store     storage.ObjectStore
	limits    Limits
	keyPrefix string
	wg        sync.WaitGroup
	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewFileService creates a FileService storing blobs under keyPrefix.
func NewFileService(db *gorm.DB, store storage.ObjectStore, limits Limits, keyPrefix string) *FileService {
	return &FileService{db: db, store: store, limits: limits, keyPrefix: keyPrefix}
}

func (s *FileService) now() time.Time { return clock(s.Now).now() }

// MaxFileSize is the largest accepted upload in bytes.
func (s *FileService) MaxFileSize() int64 { return s.limits.MaxFileSize }

// Wait blocks until background cleanups started by List have finished.
func (s *FileService) Wait() { s.wg.Wait() }

// CreateTunnel opens a file tunnel. A live tunnel under the same code is returned untouched.
func (s *FileService) CreateTunnel(ctx context.Context, req TunnelRequest) (*FileTunnelResult, error) {
	hash, err := utils.HashOptionalPassword(req.Password)
	if err != nil {
		return nil, upstream("Failed to create tunnel. Try a different ID.", err)
	}

	custom := strings.TrimSpace(req.Code) != ""
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := tunnelCode(req.Code)
		if err != nil {
			return nil, err
		}
		now := s.now()

		live, err := s.liveTunnel(ctx, code, now)
		if err != nil {
			return nil, err
		}
		if live != nil {
			if !custom {
				continue
			}
			return existingTunnel(live), nil
		}

		row := models.FileTunnel{
			Code:         code,
			PasswordHash: hash,
			ExpiresAt:    s.limits.expiry(now, req.ExpiresIn),
			UserIP:       req.IP,
		}
		err = s.db.WithContext(ctx).Create(&row).Error
		if err == nil {
			utils.TunnelsCreated.WithLabelValues("file").Inc()
			return &FileTunnelResult{Code: row.Code, ExpiresAt: row.ExpiresAt}, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, upstream("Failed to create tunnel. Try a different ID.", err)
		}
		if custom {
			var winner models.FileTunnel
			if err := s.db.WithContext(ctx).Where("code = ?", code).First(&winner).Error; err != nil {
				return nil, upstream("Failed to create tunnel. Try a different ID.", err)
			}
			return existingTunnel(&winner), nil
		}
	}
	return nil, upstream("Failed to create tunnel. Try a different ID.", errors.New("code space exhausted"))
}

// UploadFile stores a file in the tunnel named by req.Code, creating the tunnel when it does not exist.
// Files in an existing tunnel inherit its password and expiry, and the caller must pass its gate.
func (s *FileService) UploadFile(ctx context.Context, req TunnelRequest, in UploadInput) (*UploadResult, error) {
	if in.Body == nil {
		return nil, invalid("No file provided")
	}
	if in.Size > s.limits.MaxFileSize {
		return nil, invalid(fmt.Sprintf("File size exceeds %dMB limit", s.limits.MaxFileSize/(1024*1024)))
	}
	code, err := tunnelCode(req.Code)
	if err != nil {
		return nil, err
	}
	now := s.now()

	hash, expiresAt, createdID, err := s.ensureTunnel(ctx, code, req, now)
	if err != nil {
		return nil, err
	}

	key := storage.NewKey(s.keyPrefix, in.Filename)
	obj, err := s.store.Put(ctx, key, in.Body, in.Size, in.ContentType)
	if err != nil {
		s.dropTunnel(ctx, createdID)
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, invalid(fmt.Sprintf("File size exceeds %dMB limit", s.limits.MaxFileSize/(1024*1024)))
		}
		return nil, upstream("Failed to upload file", err)
	}

	original := strings.TrimSpace(in.Filename)
	if original == "" {
		original = "file"
	}
	row := models.FileShare{
		Code:             code,
		Filename:         obj.Key,
		OriginalFilename: original,
		FileURL:          obj.URL,
		FileSize:         obj.Size,
		MimeType:         in.ContentType,
		ExternalFileID:   obj.Key,
		PasswordHash:     hash,
		ExpiresAt:        expiresAt,
		UserIP:           req.IP,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if derr := s.store.Delete(context.WithoutCancel(ctx), obj.Key); derr != nil {
			utils.Sugar.Warnf("orphaned blob %s after failed insert: %v", obj.Key, derr)
		}
		s.dropTunnel(ctx, createdID)
		return nil, upstream("Failed to save file metadata", err)
	}
	utils.UploadedBytes.Add(float64(obj.Size))

	return &UploadResult{Code: row.Code, Filename: row.OriginalFilename, ExpiresAt: row.ExpiresAt}, nil
}

// List returns the live files of a tunnel. Expired files are removed in the background.
func (s *FileService) List(ctx context.Context, rawCode, password string) (*FileList, error) {
	code, ok := utils.NormalizeTunnelCode(rawCode)
	if !ok {
		return nil, invalid("Tunnel ID must be at least 3 characters")
	}

	var rows []models.FileShare
	if err := s.db.WithContext(ctx).Where("code = ?", code).Order("id").Find(&rows).Error; err != nil {
		return nil, upstream("Failed to fetch files", err)
	}
	meta, err := s.findTunnel(ctx, code)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 && meta == nil {
		return &FileList{Code: code, Files: []FileView{}}, nil
	}

	hash := passwordSource(meta, rows)
	if err := utils.Gate(hash, password); err != nil {
		return nil, err
	}

	now := s.now()
	files := make([]FileView, 0, len(rows))
	var stale []models.FileShare
	for _, f := range rows {
		if f.IsLegacyTunnelMeta() {
			continue
		}
		if utils.IsExpired(now, f.ExpiresAt) {
			stale = append(stale, f)
			continue
		}
		view := FileView{
			ID:               f.ID,
			Filename:         f.Filename,
			OriginalFilename: f.OriginalFilename,
			FileURL:          f.FileURL,
			FileSize:         f.FileSize,
			MimeType:         f.MimeType,
			DownloadCount:    f.DownloadCount,
			CreatedAt:        f.CreatedAt,
			ExpiresAt:        f.ExpiresAt,
		}
		view.DownloadURL, err = downloadURL(code, f.ID, hash != "")
		if err != nil {
			return nil, upstream("Failed to fetch files", err)
		}
		files = append(files, view)
	}

	if len(stale) > 0 {
		s.removeInBackground(stale)
	}

	return &FileList{Code: code, Files: files}, nil
}

// Download authorizes a download by password or signed token, counts it and returns the file URL.
func (s *FileService) Download(ctx context.Context, rawCode string, fileID uint, password, token string) (string, error) {
	code, ok := utils.NormalizeTunnelCode(rawCode)
	if !ok {
		return "", notFound("File not found")
	}

	var f models.FileShare
	err := s.db.WithContext(ctx).Where("id = ? AND code = ?", fileID, code).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && f.IsLegacyTunnelMeta()) {
		return "", notFound("File not found")
	}
	if err != nil {
		return "", upstream("Internal server error", err)
	}
	if utils.IsExpired(s.now(), f.ExpiresAt) {
		return "", expired("This file has expired")
	}

	meta, err := s.findTunnel(ctx, code)
	if err != nil {
		return "", err
	}
	var siblings []models.FileShare
	if meta == nil {
		if err := s.db.WithContext(ctx).Where("code = ?", code).Find(&siblings).Error; err != nil {
			return "", upstream("Internal server error", err)
		}
	}
	if hash := passwordSource(meta, siblings); hash != "" && !validToken(token, code, fileID) {
		if err := utils.Gate(hash, password); err != nil {
			return "", err
		}
	}

	if err := s.db.WithContext(ctx).Model(&models.FileShare{}).Where("id = ?", f.ID).
		UpdateColumn("download_count", gorm.Expr("download_count + ?", 1)).Error; err != nil {
		return "", upstream("Internal server error", err)
	}
	return f.FileURL, nil
}

// ensureTunnel returns the password hash and expiry new files in code must carry.
// createdID is non-zero when this call inserted the tunnel row.
func (s *FileService) ensureTunnel(ctx context.Context, code string, req TunnelRequest, now time.Time) (hash string, expiresAt time.Time, createdID uint, err error) {
	live, err := s.liveTunnel(ctx, code, now)
	if err != nil {
		return "", time.Time{}, 0, err
	}
	if live == nil {
		// Files uploaded before tunnels had their own row still protect the code.
		var legacy models.FileShare
		err := s.db.WithContext(ctx).Where("code = ? AND password_hash <> ''", code).Order("id").Limit(1).Find(&legacy).Error
		if err != nil {
			return "", time.Time{}, 0, upstream("Internal server error", err)
		}
		if legacy.ID != 0 && !utils.IsExpired(now, legacy.ExpiresAt) {
			if err := utils.Gate(legacy.PasswordHash, req.Password); err != nil {
				return "", time.Time{}, 0, err
			}
		}

		digest, err := utils.HashOptionalPassword(req.Password)
		if err != nil {
			return "", time.Time{}, 0, upstream("Failed to save file metadata", err)
		}
		row := models.FileTunnel{
			Code:         code,
			PasswordHash: digest,
			ExpiresAt:    s.limits.expiry(now, req.ExpiresIn),
			UserIP:       req.IP,
		}
		err = s.db.WithContext(ctx).Create(&row).Error
		if err == nil {
			utils.TunnelsCreated.WithLabelValues("file").Inc()
			return row.PasswordHash, row.ExpiresAt, row.ID, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", time.Time{}, 0, upstream("Failed to save file metadata", err)
		}
		// Lost a race with a concurrent create; fall through to the winner.
		live = &models.FileTunnel{}
		if err := s.db.WithContext(ctx).Where("code = ?", code).First(live).Error; err != nil {
			return "", time.Time{}, 0, upstream("Failed to save file metadata", err)
		}
	}

	if err := utils.Gate(live.PasswordHash, req.Password); err != nil {
		return "", time.Time{}, 0, err
	}
	return live.PasswordHash, live.ExpiresAt, 0, nil
}

// dropTunnel removes a tunnel row created for an upload that did not complete.
func (s *FileService) dropTunnel(ctx context.Context, id uint) {
	if id == 0 {
		return
	}
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Delete(&models.FileTunnel{}, id).Error; err != nil {
		utils.Sugar.Warnf("remove tunnel %d after failed upload: %v", id, err)
	}
}

// liveTunnel returns the unexpired metadata for code. Expired metadata, including legacy
// sentinel rows, is deleted on the way.
func (s *FileService) liveTunnel(ctx context.Context, code string, now time.Time) (*models.FileTunnel, error) {
	meta, err := s.findTunnel(ctx, code)
	if err != nil || meta == nil {
		return nil, err
	}
	if !utils.IsExpired(now, meta.ExpiresAt) {
		return meta, nil
	}
	var del *gorm.DB
	if meta.ID == 0 {
		del = s.db.WithContext(ctx).Where("code = ? AND filename = ?", code, models.LegacyTunnelMetaFilename).Delete(&models.FileShare{})
	} else {
		del = s.db.WithContext(ctx).Delete(&models.FileTunnel{}, meta.ID)
	}
	if del.Error != nil {
		return nil, upstream("Internal server error", del.Error)
	}
	return nil, nil
}

// findTunnel loads tunnel metadata, falling back to a legacy sentinel row.
// A legacy result has ID 0.
func (s *FileService) findTunnel(ctx context.Context, code string) (*models.FileTunnel, error) {
	var meta models.FileTunnel
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&meta).Error
	if err == nil {
		return &meta, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, upstream("Internal server error", err)
	}

	var sentinel []models.FileShare
	if err := s.db.WithContext(ctx).Where("code = ? AND filename = ?", code, models.LegacyTunnelMetaFilename).
		Limit(1).Find(&sentinel).Error; err != nil {
		return nil, upstream("Internal server error", err)
	}
	if len(sentinel) == 0 || !sentinel[0].IsLegacyTunnelMeta() {
		return nil, nil
	}
	return &models.FileTunnel{
		Code:         code,
		PasswordHash: sentinel[0].PasswordHash,
		ExpiresAt:    sentinel[0].ExpiresAt,
		CreatedAt:    sentinel[0].CreatedAt,
	}, nil
}

func (s *FileService) removeInBackground(files []models.FileShare) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				utils.Sugar.Errorf("background file cleanup panicked: %v", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), backgroundCleanupTimeout)
		defer cancel()

		ids := make([]uint, 0, len(files))
		for _, f := range files {
			if f.ExternalFileID != "" {
				if err := s.store.Delete(ctx, f.ExternalFileID); err != nil {
					utils.Sugar.Warnf("delete blob %s: %v", f.ExternalFileID, err)
				}
			}
			ids = append(ids, f.ID)
		}
		if err := s.db.WithContext(ctx).Delete(&models.FileShare{}, ids).Error; err != nil {
			utils.Sugar.Errorf("delete expired file rows: %v", err)
		}
	}()
}

func existingTunnel(t *models.FileTunnel) *FileTunnelResult {
	has := t.PasswordHash != ""
	return &FileTunnelResult{Code: t.Code, ExpiresAt: t.ExpiresAt, Existing: true, HasPassword: &has}
}

// passwordSource picks the digest guarding a tunnel: metadata first, then any file carrying one.
func passwordSource(meta *models.FileTunnel, rows []models.FileShare) string {
	if meta != nil {
		return meta.PasswordHash
	}
	for _, f := range rows {
		if f.PasswordHash != "" {
			return f.PasswordHash
		}
	}
	return ""
}

func downloadURL(code string, id uint, protected bool) (string, error) {
	u := fmt.Sprintf("/api/files/%s/download/%d", code, id)
	if !protected {
		return u, nil
	}
	token, err := utils.GenerateDownloadToken(code, id, utils.DownloadTokenTTL)
	if err != nil {
		return "", err
	}
	return u + "?token=" + url.QueryEscape(token), nil
}

func validToken(token, code string, fileID uint) bool {
	if token == "" {
		return false
	}
	claims, err := utils.ParseDownloadToken(token)
	if err != nil {
		return false
	}
	return claims.Code == code && claims.FileID == fileID
}
