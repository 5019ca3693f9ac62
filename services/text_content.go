package services

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cppla/accesso/models"
)

// ContentKind tells how a text tunnel's stored content is shaped.
type ContentKind int

const (
	// EntryList is a JSON array of entries.
	EntryList ContentKind = iota
	// LegacyString is plain text written before tunnels held several entries.
	LegacyString
)

// TextContent is the decoded form of TextShare.Content.
type TextContent struct {
	Kind    ContentKind
	Entries []models.TextEntry
	Legacy  string
}

// DecodeTextContent inspects raw and decodes it. Only a well-formed JSON array
// of entries counts as an entry list; everything else is legacy text.
func DecodeTextContent(raw string) TextContent {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) > 0 && trimmed[0] == '[' && json.Valid(trimmed) {
		var entries []models.TextEntry
		if err := json.Unmarshal(trimmed, &entries); err == nil {
			if entries == nil {
				entries = []models.TextEntry{}
			}
			return TextContent{Kind: EntryList, Entries: entries}
		}
	}
	return TextContent{Kind: LegacyString, Legacy: raw}
}

// EntriesFor returns the entries of a row, synthesizing one entry for legacy text.
func EntriesFor(row *models.TextShare) []models.TextEntry {
	c := DecodeTextContent(row.Content)
	if c.Kind == EntryList {
		return c.Entries
	}
	if strings.TrimSpace(c.Legacy) == "" {
		return []models.TextEntry{}
	}
	title := row.Title
	if title == "" {
		title = defaultEntryTitle
	}
	lang := row.Language
	if lang == "" {
		lang = defaultLanguage
	}
	return []models.TextEntry{{
		ID:        "0",
		Title:     title,
		Content:   c.Legacy,
		Language:  lang,
		CreatedAt: row.CreatedAt,
	}}
}

// EncodeEntries serializes entries for storage.
func EncodeEntries(entries []models.TextEntry) (string, error) {
	if entries == nil {
		entries = []models.TextEntry{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// nextEntryID uses the millisecond timestamp, bumped past the last numeric id.
func nextEntryID(now time.Time, entries []models.TextEntry) string {
	id := now.UnixMilli()
	for _, e := range entries {
		if prev, err := strconv.ParseInt(e.ID, 10, 64); err == nil && prev >= id {
			id = prev + 1
		}
	}
	return strconv.FormatInt(id, 10)
}
