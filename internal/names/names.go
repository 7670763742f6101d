// Package names holds the display-name ordering and avatar helpers shared by
// the friend list, the records view, and the CLI. Every place that lists
// friend or recipient names must order them with Compare so the views agree.
package names

import (
	"net/url"
	"strings"
	"sync"
	"unicode"
	"unicode/utf16"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Palette of high-contrast avatar background colors. Nothing is persisted, so
// order and size must stay stable or every avatar changes color on upgrade.
var palette = []string{
	"#0ea5e9", // sky
	"#f43f5e", // rose
	"#10b981", // emerald
	"#f59e0b", // amber
	"#8b5cf6", // violet
	"#f97316", // orange
	"#14b8a6", // teal
	"#ec4899", // pink
	"#84cc16", // lime
	"#6366f1", // indigo
}

var (
	collatorMu sync.Mutex
	collator   = collate.New(language.MustParse("zh-Hant-u-co-stroke"), collate.IgnoreCase)
)

// charTier classifies the first character of a name: ideographic names sort
// before Latin ones, Latin before everything else.
func charTier(r rune) int {
	switch {
	case unicode.Is(unicode.Han, r):
		return 0
	case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		return 1
	default:
		return 2
	}
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

// Compare is a deterministic total order over display names: tier first
// (ideographic, Latin, other), then locale-aware collation for Traditional
// Chinese within the same tier.
func Compare(a, b string) int {
	ta, tb := charTier(firstRune(a)), charTier(firstRune(b))
	if ta != tb {
		if ta < tb {
			return -1
		}
		return 1
	}
	collatorMu.Lock()
	defer collatorMu.Unlock()
	return collator.CompareString(a, b)
}

// AvatarColor picks one of ten palette colors for a name. When the name is
// known to be duplicated across friend relationships, the relationship id is
// mixed into the hash so the duplicates render with different colors while a
// single friend's color stays stable across renders.
func AvatarColor(name, relationshipID string, duplicated bool) string {
	src := name
	if duplicated {
		src = name + relationshipID
	}
	var h int32
	for _, c := range utf16.Encode([]rune(src)) {
		h = int32(c) + (h << 5) - h
	}
	if h < 0 {
		h = -h
	}
	return palette[int(h)%len(palette)]
}

// DuplicatedNames returns the set of names appearing more than once.
func DuplicatedNames(all []string) map[string]bool {
	count := make(map[string]int, len(all))
	for _, n := range all {
		count[n]++
	}
	dup := make(map[string]bool)
	for n, c := range count {
		if c > 1 {
			dup[n] = true
		}
	}
	return dup
}

// Initials returns the first two characters of a name, uppercased.
func Initials(name string) string {
	r := []rune(name)
	if len(r) > 2 {
		r = r[:2]
	}
	return strings.ToUpper(string(r))
}

// Two domains generate placeholder avatars; anything else counts as custom.
const (
	placeholderHost  = "ui-avatars.com"
	placeholderToken = "placeholder"
)

// IsCustomAvatar reports whether the URL points at a user-uploaded image
// rather than a generated placeholder.
func IsCustomAvatar(avatarURL string) bool {
	if avatarURL == "" {
		return false
	}
	return !strings.Contains(avatarURL, placeholderHost) && !strings.Contains(avatarURL, placeholderToken)
}

// PlaceholderAvatarURL builds the deterministic generated avatar for a name.
func PlaceholderAvatarURL(name string) string {
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(name) + "&background=7dd3fc&color=fff&bold=true"
}
