package models

import "time"

// LegacyTunnelMetaFilename marks the sentinel rows older deployments used to hold tunnel metadata.
const LegacyTunnelMetaFilename = "__tunnel_meta__"

// FileTunnel holds tunnel-level metadata (password, expiry) for a file tunnel code.
type FileTunnel struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Code         string    `gorm:"size:20;not null;uniqueIndex" json:"code"`
	PasswordHash string    `gorm:"size:128" json:"-"`
	ExpiresAt    time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UserIP       string    `gorm:"size:64" json:"-"`
}

// FileShare records one uploaded file stored in the object store.
type FileShare struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Code             string    `gorm:"size:20;not null;index" json:"code"`
	Filename         string    `gorm:"size:512;not null" json:"filename"` // storage-side name
	OriginalFilename string    `gorm:"size:512" json:"original_filename"`
	FileURL          string    `gorm:"size:1024;not null" json:"file_url"`
	FileSize         int64     `gorm:"not null;default:0" json:"file_size"`
	MimeType         string    `gorm:"size:255" json:"mime_type"`
	ExternalFileID   string    `gorm:"size:512" json:"-"` // object store handle used for deletion
	PasswordHash     string    `gorm:"size:128" json:"-"`
	DownloadCount    int64     `gorm:"not null;default:0" json:"download_count"`
	ExpiresAt        time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt        time.Time `json:"created_at"`
	UserIP           string    `gorm:"size:64" json:"-"`
}

// IsLegacyTunnelMeta reports whether the row is an old-style metadata sentinel.
func (f FileShare) IsLegacyTunnelMeta() bool {
	return f.Filename == LegacyTunnelMetaFilename && f.FileSize == 0 && f.FileURL == "none"
}
