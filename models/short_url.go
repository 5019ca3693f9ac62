package models

import "time"

// ShortURL maps a short code (and optional custom alias) to a target URL.
type ShortURL struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ShortCode   string     `gorm:"size:64;not null;uniqueIndex" json:"short_code"`
	OriginalURL string     `gorm:"size:2048;not null" json:"original_url"`
	CustomAlias *string    `gorm:"size:64;uniqueIndex" json:"custom_alias,omitempty"`
	Title       string     `gorm:"size:255" json:"title"`
	ClickCount  int64      `gorm:"not null;default:0" json:"click_count"`
	ExpiresAt   *time.Time `gorm:"index" json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UserIP      string     `gorm:"size:64" json:"-"`
	IsActive    bool       `gorm:"not null;default:true" json:"is_active"`
}

// URLClick is one append-only click record for a short URL.
type URLClick struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ShortURLID uint      `gorm:"index;not null" json:"short_url_id"`
	ClickedAt  time.Time `gorm:"index" json:"clicked_at"`
	UserAgent  string    `gorm:"size:512" json:"user_agent"`
	Referrer   string    `gorm:"size:1024" json:"referrer"`
	IPAddress  string    `gorm:"size:64" json:"ip_address"`
	Country    string    `gorm:"size:64" json:"country"`
}

// All lists every model for migration.
func All() []interface{} {
	return []interface{}{&TextShare{}, &FileTunnel{}, &FileShare{}, &ShortURL{}, &URLClick{}}
}
