package models

// Friend is a locally-declared contact. ID identifies the relationship row,
// not any underlying account: two friends may share a display name, and the
// same person added by two users yields two distinct Friend values.
//
// ProfileID is set when the relationship is backed by a real counterpart
// profile; it is empty for purely manual friends, the dominant case today.
type Friend struct {
	ID         string
	Name       string
	AvatarURL  string
	IsFavorite bool
	ProfileID  string

	// RecentSent is derived on read: image URLs of the last few postcards the
	// current user sent to this friend. Never persisted.
	RecentSent []string
}

// Profile is the current user's own single-row record.
type Profile struct {
	ID        string
	Username  string
	AvatarURL string
}
