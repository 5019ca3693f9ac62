package models

import "time"

// TextShare is a text tunnel: an ordered list of entries stored as one JSON document.
type TextShare struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Code         string    `gorm:"size:20;not null;uniqueIndex" json:"code"`
	Title        string    `gorm:"size:255" json:"title"`
	Content      string    `gorm:"size:1048576" json:"content"` // JSON array of TextEntry, or a legacy bare string
	Language     string    `gorm:"size:32;default:plaintext" json:"language"`
	PasswordHash string    `gorm:"size:128" json:"-"`
	ViewCount    int64     `gorm:"not null;default:0" json:"view_count"`
	ExpiresAt    time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	UserIP       string    `gorm:"size:64" json:"-"`
}

// TextEntry is one item inside a text tunnel.
type TextEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"createdAt"`
}
