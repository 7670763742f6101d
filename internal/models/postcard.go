// Package models defines the domain types of the PikaPost client: postcards,
// friends, exchange records, and profiles. Repositories map loosely-typed
// store rows into these types and fail loudly on missing required fields.
package models

import (
	"strings"
	"time"
)

// Documented defaults applied when optional columns are absent.
const (
	DefaultCategory = "探險"
	DefaultColor    = "#3b82f6"
)

// Postcard categories. CategorySpecial is the tag the legacy is_special flag
// is a synonym for.
const (
	CategoryMushroom  = "蘑菇"
	CategoryAdventure = "探險"
	CategoryPetal     = "花瓣"
	CategorySpecial   = "特別"
)

// Postcard is the flattened per-user view of a shared postcard entity joined
// with the caller's collection relationship. Entity fields (title, location,
// country, image, description, color, category) are shared across users;
// CollectedDate, IsFavorite and SentTo belong to the relationship row.
type Postcard struct {
	ID          string
	Title       string
	Location    string
	Country     string
	ImageURL    string
	Description string
	Color       string
	Category    string
	IsSpecial   bool

	CollectedDate time.Time
	IsFavorite    bool
	SentTo        []string
}

// Sent reports whether this postcard has been sent to at least one recipient.
func (p Postcard) Sent() bool { return len(p.SentTo) > 0 }

// recipientDelimiters: sent_to is stored as one delimited string. Historical
// rows use either the ASCII or the ideographic comma.
func isRecipientDelimiter(r rune) bool { return r == ',' || r == '、' }

// ParseRecipients splits a stored sent_to value into trimmed recipient names,
// preserving order and dropping empty tokens.
func ParseRecipients(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, isRecipientDelimiter)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if name := strings.TrimSpace(p); name != "" {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// JoinRecipients is the storage inverse of ParseRecipients.
func JoinRecipients(recipients []string) string {
	return strings.Join(recipients, ", ")
}
