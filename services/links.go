package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/accesso/models"
	"github.com/cppla/accesso/utils"
)

const clickRecordTimeout = 5 * time.Second

// LinkRequest describes a URL to shorten.
type LinkRequest struct {
	URL         string
	CustomAlias string
	Title       string
	ExpiresIn   int // hours; 0 means the link never expires
	IP          string
}

// LinkResult is returned after a short link was created.
type LinkResult struct {
	ShortCode   string     `json:"short_code"`
	CustomAlias *string    `json:"custom_alias"`
	OriginalURL string     `json:"original_url"`
	ShortURL    string     `json:"short_url"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// ClickInfo describes the visitor following a short link.
type ClickInfo struct {
	IP        string
	UserAgent string
	Referrer  string
}

// LinkStats is the public view of a short link.
type LinkStats struct {
	ShortCode   string    `json:"short_code"`
	OriginalURL string    `json:"original_url"`
	Title       string    `json:"title"`
	ClickCount  int64     `json:"click_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// LinkService manages short links and their click log.
type LinkService struct {
	db      *gorm.DB
	baseURL string
	geo     utils.GeoLookup
	wg      sync.WaitGroup
	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewLinkService creates a LinkService. geo may be nil to skip country lookups.
func NewLinkService(db *gorm.DB, baseURL string, geo utils.GeoLookup) *LinkService {
	return &LinkService{db: db, baseURL: strings.TrimRight(baseURL, "/"), geo: geo}
}

func (s *LinkService) now() time.Time { return clock(s.Now).now() }

// Wait blocks until pending click records are written.
func (s *LinkService) Wait() { s.wg.Wait() }

// Create shortens a URL under a custom alias or a random code.
func (s *LinkService) Create(ctx context.Context, req LinkRequest) (*LinkResult, error) {
	target := strings.TrimSpace(req.URL)
	if !isValidURL(target) {
		return nil, invalid("Valid URL is required")
	}

	row := models.ShortURL{
		OriginalURL: target,
		Title:       utils.SanitizeTitle(req.Title),
		UserIP:      req.IP,
		IsActive:    true,
	}
	if req.ExpiresIn > 0 {
		at := utils.CalculateExpiry(s.now(), req.ExpiresIn)
		row.ExpiresAt = &at
	}

	if strings.TrimSpace(req.CustomAlias) != "" {
		alias := utils.NormalizeAlias(req.CustomAlias)
		if alias == "" {
			return nil, invalid("Alias may only contain letters, digits and hyphens")
		}
		taken, err := s.codeTaken(ctx, alias)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, conflict("This alias is already taken")
		}
		row.ShortCode = alias
		row.CustomAlias = &alias
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, conflict("This alias is already taken")
			}
			return nil, upstream("Failed to create short URL", err)
		}
		return s.created(&row), nil
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := utils.GenerateCode(utils.ShortCodeLength)
		taken, err := s.codeTaken(ctx, code)
		if err != nil {
			return nil, err
		}
		if taken {
			continue
		}
		row.ID = 0
		row.ShortCode = code
		err = s.db.WithContext(ctx).Create(&row).Error
		if err == nil {
			return s.created(&row), nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, upstream("Failed to create short URL", err)
		}
	}
	return nil, upstream("Failed to create short URL", errors.New("short code space exhausted"))
}

// Resolve counts a visit and returns the target URL.
func (s *LinkService) Resolve(ctx context.Context, code string, click ClickInfo) (string, error) {
	link, err := s.lookup(ctx, code)
	if err != nil {
		return "", err
	}

	if err := s.db.WithContext(ctx).Model(&models.ShortURL{}).Where("id = ?", link.ID).
		UpdateColumn("click_count", gorm.Expr("click_count + ?", 1)).Error; err != nil {
		return "", upstream("Internal server error", err)
	}
	utils.LinkClicks.Inc()
	s.recordClick(link.ID, click)

	return link.OriginalURL, nil
}

// Stats reports a link without counting a visit.
func (s *LinkService) Stats(ctx context.Context, code string) (*LinkStats, error) {
	link, err := s.lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	return &LinkStats{
		ShortCode:   link.ShortCode,
		OriginalURL: link.OriginalURL,
		Title:       link.Title,
		ClickCount:  link.ClickCount,
		CreatedAt:   link.CreatedAt,
	}, nil
}

func (s *LinkService) lookup(ctx context.Context, code string) (*models.ShortURL, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, notFound("Short URL not found")
	}
	var link models.ShortURL
	err := s.db.WithContext(ctx).Where("short_code = ? OR custom_alias = ?", code, code).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("Short URL not found")
	}
	if err != nil {
		return nil, upstream("Internal server error", err)
	}
	if !link.IsActive {
		return nil, disabled("This short URL has been disabled")
	}
	if link.ExpiresAt != nil && utils.IsExpired(s.now(), *link.ExpiresAt) {
		return nil, expired("This short URL has expired")
	}
	return &link, nil
}

// codeTaken reports whether code is in use as a short code or an alias, expired or not.
func (s *LinkService) codeTaken(ctx context.Context, code string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.ShortURL{}).
		Where("short_code = ? OR custom_alias = ?", code, code).Count(&n).Error; err != nil {
		return false, upstream("Failed to create short URL", err)
	}
	return n > 0, nil
}

// recordClick appends the click log entry off the redirect path.
func (s *LinkService) recordClick(linkID uint, click ClickInfo) {
	clickedAt := s.now()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				utils.Sugar.Errorf("click record panicked: %v", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), clickRecordTimeout)
		defer cancel()

		row := models.URLClick{
			ShortURLID: linkID,
			ClickedAt:  clickedAt,
			UserAgent:  truncate(click.UserAgent, 512),
			Referrer:   truncate(click.Referrer, 1024),
			IPAddress:  truncate(click.IP, 64),
		}
		if s.geo != nil && click.IP != "" {
			if country, err := s.geo(ctx, click.IP); err == nil {
				row.Country = truncate(country, 64)
			} else {
				utils.Sugar.Debugf("geo lookup %s: %v", click.IP, err)
			}
		}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			utils.Sugar.Warnf("record click for link %d: %v", linkID, err)
		}
	}()
}

func (s *LinkService) created(row *models.ShortURL) *LinkResult {
	utils.TunnelsCreated.WithLabelValues("link").Inc()
	return &LinkResult{
		ShortCode:   row.ShortCode,
		CustomAlias: row.CustomAlias,
		OriginalURL: row.OriginalURL,
		ShortURL:    s.baseURL + "/l/" + row.ShortCode,
		ExpiresAt:   row.ExpiresAt,
	}
}

func isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
