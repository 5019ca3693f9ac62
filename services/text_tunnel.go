package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/cppla/accesso/models"
	"github.com/cppla/accesso/utils"
)

const (
	defaultEntryTitle  = "Untitled"
	defaultLanguage    = "plaintext"
	defaultTunnelTitle = "Text Tunnel"

	appendAttempts = 3
)

// TunnelRequest carries the optional parameters shared by tunnel creation calls.
type TunnelRequest struct {
	Code      string
	Password  string
	ExpiresIn int
	IP        string
}

// EntryInput is one text entry as submitted by a client.
type EntryInput struct {
	Title    string
	Content  string
	Language string
}

// TunnelResult is returned when a tunnel is opened or created.
type TunnelResult struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	Existing  bool      `json:"existing,omitempty"`
}

// AppendResult is returned after an entry was added.
type AppendResult struct {
	Code         string `json:"code"`
	EntryID      string `json:"entryId"`
	TotalEntries int    `json:"totalEntries"`
}

// TextView is the readable form of a text tunnel.
type TextView struct {
	Code      string             `json:"code"`
	Entries   []models.TextEntry `json:"entries"`
	ViewCount int64              `json:"view_count"`
	CreatedAt time.Time          `json:"created_at"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// TextService manages text tunnels.
type TextService struct {
	db     *gorm.DB
	limits Limits
	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewTextService creates a TextService.
func NewTextService(db *gorm.DB, limits Limits) *TextService {
	return &TextService{db: db, limits: limits}
}

func (s *TextService) now() time.Time { return clock(s.Now).now() }

// CreateEmpty opens a tunnel without entries. A live tunnel under the same code is returned untouched.
func (s *TextService) CreateEmpty(ctx context.Context, req TunnelRequest) (*TunnelResult, error) {
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

		live, err := s.clearExpired(ctx, code, now)
		if err != nil {
			return nil, err
		}
		if live != nil {
			if !custom {
				continue
			}
			return &TunnelResult{Code: live.Code, ExpiresAt: live.ExpiresAt, Existing: true}, nil
		}

		row := models.TextShare{
			Code:         code,
			Title:        defaultTunnelTitle,
			Content:      "[]",
			Language:     defaultLanguage,
			PasswordHash: hash,
			ExpiresAt:    s.limits.expiry(now, req.ExpiresIn),
			UserIP:       req.IP,
		}
		err = s.db.WithContext(ctx).Create(&row).Error
		if err == nil {
			utils.TunnelsCreated.WithLabelValues("text").Inc()
			return &TunnelResult{Code: row.Code, ExpiresAt: row.ExpiresAt}, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, upstream("Failed to create tunnel. Try a different ID.", err)
		}
		if custom {
			// A concurrent create won; hand back the winner.
			var winner models.TextShare
			if err := s.db.WithContext(ctx).Where("code = ?", code).First(&winner).Error; err != nil {
				return nil, upstream("Failed to create tunnel. Try a different ID.", err)
			}
			return &TunnelResult{Code: winner.Code, ExpiresAt: winner.ExpiresAt, Existing: true}, nil
		}
	}
	return nil, upstream("Failed to create tunnel. Try a different ID.", errors.New("code space exhausted"))
}

// CreateWithEntry creates a tunnel holding its first entry. The tunnel takes the supplied password and expiry.
func (s *TextService) CreateWithEntry(ctx context.Context, req TunnelRequest, in EntryInput) (*TunnelResult, error) {
	if err := s.validateEntry(in); err != nil {
		return nil, err
	}
	hash, err := utils.HashOptionalPassword(req.Password)
	if err != nil {
		return nil, upstream("Failed to create tunnel. Code may already exist.", err)
	}

	custom := strings.TrimSpace(req.Code) != ""
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := tunnelCode(req.Code)
		if err != nil {
			return nil, err
		}
		now := s.now()

		live, err := s.clearExpired(ctx, code, now)
		if err != nil {
			return nil, err
		}
		if live != nil {
			if !custom {
				continue
			}
			return nil, conflict("This tunnel ID is already in use")
		}

		entry := newEntry(in, now, nil)
		content, err := EncodeEntries([]models.TextEntry{entry})
		if err != nil {
			return nil, upstream("Failed to create tunnel. Code may already exist.", err)
		}
		title := utils.SanitizeTitle(in.Title)
		if title == "" {
			title = defaultTunnelTitle
		}
		row := models.TextShare{
			Code:         code,
			Title:        title,
			Content:      content,
			Language:     entry.Language,
			PasswordHash: hash,
			ExpiresAt:    s.limits.expiry(now, req.ExpiresIn),
			UserIP:       req.IP,
		}
		err = s.db.WithContext(ctx).Create(&row).Error
		if err == nil {
			utils.TunnelsCreated.WithLabelValues("text").Inc()
			return &TunnelResult{Code: row.Code, ExpiresAt: row.ExpiresAt}, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, upstream("Failed to create tunnel. Code may already exist.", err)
		}
		if custom {
			return nil, conflict("This tunnel ID is already in use")
		}
	}
	return nil, upstream("Failed to create tunnel. Code may already exist.", errors.New("code space exhausted"))
}

// AppendEntry adds an entry to a live tunnel. Concurrent appends are serialized with a
// compare-and-swap on updated_at so none is lost.
func (s *TextService) AppendEntry(ctx context.Context, rawCode string, in EntryInput) (*AppendResult, error) {
	if err := s.validateEntry(in); err != nil {
		return nil, err
	}
	code, ok := utils.NormalizeTunnelCode(rawCode)
	if !ok {
		return nil, notFound("Tunnel not found")
	}

	for attempt := 0; attempt < appendAttempts; attempt++ {
		var row models.TextShare
		err := s.db.WithContext(ctx).Where("code = ?", code).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("Tunnel not found")
		}
		if err != nil {
			return nil, upstream("Failed to add text to tunnel", err)
		}
		now := s.now()
		if utils.IsExpired(now, row.ExpiresAt) {
			return nil, expired("This tunnel has expired")
		}

		entries := EntriesFor(&row)
		entry := newEntry(in, now, entries)
		entries = append(entries, entry)
		content, err := EncodeEntries(entries)
		if err != nil {
			return nil, upstream("Failed to add text to tunnel", err)
		}
		if utf8.RuneCountInString(content) > s.limits.MaxTunnelChars {
			return nil, invalid("Tunnel capacity exceeded")
		}

		updatedAt := now
		if !updatedAt.After(row.UpdatedAt) {
			updatedAt = row.UpdatedAt.Add(time.Millisecond)
		}
		res := s.db.WithContext(ctx).Model(&models.TextShare{}).
			Where("id = ? AND updated_at = ?", row.ID, row.UpdatedAt).
			Updates(map[string]interface{}{"content": content, "updated_at": updatedAt})
		if res.Error != nil {
			return nil, upstream("Failed to add text to tunnel", res.Error)
		}
		if res.RowsAffected == 1 {
			return &AppendResult{Code: row.Code, EntryID: entry.ID, TotalEntries: len(entries)}, nil
		}
		utils.Sugar.Debugf("append to %s raced, retrying", code)
	}
	return nil, conflict("Tunnel is busy, please retry")
}

// Read returns all entries of a tunnel and counts the view. Expired tunnels are deleted on sight.
func (s *TextService) Read(ctx context.Context, rawCode, password string) (*TextView, error) {
	code, ok := utils.NormalizeTunnelCode(rawCode)
	if !ok {
		return nil, notFound("Text share not found or expired")
	}

	var row models.TextShare
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("Text share not found or expired")
	}
	if err != nil {
		return nil, upstream("Internal server error", err)
	}

	if utils.IsExpired(s.now(), row.ExpiresAt) {
		if err := s.db.WithContext(ctx).Delete(&models.TextShare{}, row.ID).Error; err != nil {
			utils.Sugar.Warnf("delete expired text %s: %v", row.Code, err)
		}
		return nil, expired("This text share has expired")
	}

	if err := utils.Gate(row.PasswordHash, password); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(&models.TextShare{}).Where("id = ?", row.ID).
		UpdateColumn("view_count", gorm.Expr("view_count + ?", 1)).Error; err != nil {
		return nil, upstream("Internal server error", err)
	}
	viewCount := row.ViewCount + 1
	if err := s.db.WithContext(ctx).Model(&models.TextShare{}).Where("id = ?", row.ID).
		Select("view_count").Scan(&viewCount).Error; err != nil {
		utils.Sugar.Warnf("re-read view count of %s: %v", row.Code, err)
	}

	return &TextView{
		Code:      row.Code,
		Entries:   EntriesFor(&row),
		ViewCount: viewCount,
		CreatedAt: row.CreatedAt,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

func (s *TextService) validateEntry(in EntryInput) error {
	n := utf8.RuneCountInString(in.Content)
	if n == 0 {
		return invalid("Content is required")
	}
	if n > s.limits.MaxEntryChars {
		return invalid(fmt.Sprintf("Content exceeds maximum length of %s characters", groupThousands(s.limits.MaxEntryChars)))
	}
	return nil
}

// clearExpired deletes an expired row under code and returns the live one, if any.
func (s *TextService) clearExpired(ctx context.Context, code string, now time.Time) (*models.TextShare, error) {
	var existing models.TextShare
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, upstream("Internal server error", err)
	}
	if !utils.IsExpired(now, existing.ExpiresAt) {
		return &existing, nil
	}
	if err := s.db.WithContext(ctx).Delete(&models.TextShare{}, existing.ID).Error; err != nil {
		return nil, upstream("Internal server error", err)
	}
	return nil, nil
}

func newEntry(in EntryInput, now time.Time, existing []models.TextEntry) models.TextEntry {
	title := utils.SanitizeTitle(in.Title)
	if title == "" {
		title = defaultEntryTitle
	}
	lang := strings.TrimSpace(in.Language)
	if lang == "" {
		lang = defaultLanguage
	}
	return models.TextEntry{
		ID:        nextEntryID(now, existing),
		Title:     title,
		Content:   in.Content,
		Language:  lang,
		CreatedAt: now,
	}
}

// tunnelCode normalizes a client supplied code or generates one.
func tunnelCode(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return utils.GenerateTunnelCode(), nil
	}
	code, ok := utils.NormalizeTunnelCode(raw)
	if !ok {
		return "", invalid("Tunnel ID must be at least 3 characters")
	}
	return code, nil
}

func groupThousands(n int) string {
	s := fmt.Sprintf("%d", n)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}
