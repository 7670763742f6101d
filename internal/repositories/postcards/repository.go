package postcards

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/luyichen/pikapost/internal/common"
	"github.com/luyichen/pikapost/internal/events"
	"github.com/luyichen/pikapost/internal/logging"
	"github.com/luyichen/pikapost/internal/models"
	"github.com/luyichen/pikapost/internal/mutate"
	"github.com/luyichen/pikapost/internal/session"
	"github.com/luyichen/pikapost/internal/store"
)

const collectedDateLayout = "2006-01-02"

type repository struct {
	gw       store.Gateway
	sessions *session.Manager
	dir      NameDirectory
	log      logging.Logger

	mu      sync.Mutex
	cards   []models.Postcard
	readErr error
	epoch   int

	unsubSession func()
	unsubBus     func()
}

// New builds the postcard repository. It clears on sign-out, refetches on
// sign-in, and refetches when a friend's display identity changes (recipient
// names are denormalized into this collection's read-projection).
func New(gw store.Gateway, sessions *session.Manager, dir NameDirectory, bus *events.Bus, log logging.Logger) Repository {
	if log == nil {
		log = logging.NewNop()
	}
	r := &repository{gw: gw, sessions: sessions, dir: dir, log: log.With("repo", "postcards")}

	r.unsubSession = sessions.OnChange(func(userID string, signedIn bool) {
		if !signedIn {
			r.clear()
			return
		}
		r.refetchQuietly(context.Background())
	})
	if bus != nil {
		r.unsubBus = bus.Subscribe(func(events.FriendIdentityChanged) {
			r.refetchQuietly(context.Background())
		})
	}
	return r
}

func (r *repository) Close() {
	if r.unsubSession != nil {
		r.unsubSession()
		r.unsubSession = nil
	}
	if r.unsubBus != nil {
		r.unsubBus()
		r.unsubBus = nil
	}
}

func (r *repository) All() []models.Postcard {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Postcard, len(r.cards))
	copy(out, r.cards)
	return out
}

func (r *repository) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readErr
}

func (r *repository) clear() {
	r.mu.Lock()
	r.epoch++
	r.cards = nil
	r.readErr = nil
	r.mu.Unlock()
}

func (r *repository) currentEpoch() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

func (r *repository) setCards(epoch int, cards []models.Postcard) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if epoch != r.epoch {
		return false
	}
	r.cards = cards
	r.readErr = nil
	return true
}

func (r *repository) setReadErr(err error) {
	r.mu.Lock()
	r.readErr = err
	r.mu.Unlock()
}

// mapRow flattens a user_postcards row joined with its postcard entity.
func mapRow(row store.Row) (models.Postcard, error) {
	entity := row.Sub("postcard")
	if entity == nil {
		return models.Postcard{}, fmt.Errorf("%w: relationship without postcard entity", common.ErrBadRow)
	}
	id, err := entity.ReqStr("id")
	if err != nil {
		return models.Postcard{}, err
	}
	title, err := entity.ReqStr("title")
	if err != nil {
		return models.Postcard{}, err
	}
	collected, err := row.Time("collected_date")
	if err != nil {
		return models.Postcard{}, err
	}

	p := models.Postcard{
		ID:            id,
		Title:         title,
		Location:      entity.Str("location"),
		Country:       entity.Str("country"),
		ImageURL:      entity.Str("image_url"),
		Description:   entity.Str("description"),
		Color:         entity.Str("color"),
		Category:      entity.Str("category"),
		IsSpecial:     entity.Bool("is_special"),
		CollectedDate: collected,
		IsFavorite:    row.Bool("is_favorite"),
		SentTo:        models.ParseRecipients(row.Str("sent_to")),
	}
	if p.Color == "" {
		p.Color = models.DefaultColor
	}
	if p.Category == "" {
		p.Category = models.DefaultCategory
	}
	return p, nil
}

func (r *repository) Fetch(ctx context.Context) error {
	uid, ok := r.sessions.UserID()
	if !ok {
		r.clear()
		return nil
	}
	epoch := r.currentEpoch()

	rows, err := r.gw.Query(ctx, store.CollectionUserPostcards, store.Query{
		Columns: []string{"id", "collected_date", "is_favorite", "sent_to"},
		Filter:  store.Where(store.Eq("user_id", uid)),
		Joins: []store.Join{{
			Table:         store.CollectionPostcards,
			As:            "postcard",
			LocalColumn:   "postcard_id",
			ForeignColumn: "id",
			Columns: []string{
				"id", "title", "location", "country", "image_url",
				"description", "color", "is_special", "category",
			},
		}},
		Order: &store.Order{Column: "collected_date", Descending: true},
	})
	if err != nil {
		wrapped := fmt.Errorf("%w: postcards: %v", common.ErrRemoteRead, err)
		r.setReadErr(wrapped)
		return wrapped
	}

	cards := make([]models.Postcard, 0, len(rows))
	for _, row := range rows {
		p, err := mapRow(row)
		if err != nil {
			wrapped := fmt.Errorf("postcards: %w", err)
			r.setReadErr(wrapped)
			return wrapped
		}
		cards = append(cards, p)
	}

	if !r.setCards(epoch, cards) {
		r.log.Debug(ctx, "discarding stale postcard fetch")
	}
	return nil
}

func (r *repository) ToggleFavorite(ctx context.Context, id string) error {
	uid, ok := r.sessions.UserID()
	if !ok {
		return common.ErrNotAuthenticated
	}

	r.mu.Lock()
	var prev bool
	found := false
	for i := range r.cards {
		if r.cards[i].ID == id {
			prev = r.cards[i].IsFavorite
			found = true
			break
		}
	}
	r.mu.Unlock()
	if !found {
		return fmt.Errorf("%w: postcard %s", common.ErrNotFound, id)
	}

	return mutate.Optimistic(ctx,
		func() { r.setFavorite(id, !prev) },
		func(ctx context.Context) error {
			err := r.gw.Update(ctx, store.CollectionUserPostcards,
				store.Where(store.Eq("user_id", uid), store.Eq("postcard_id", id)),
				store.Fields{"is_favorite": !prev})
			if err != nil {
				return fmt.Errorf("%w: toggle favorite: %v", common.ErrRemoteWrite, err)
			}
			return nil
		},
		func(ctx context.Context) { r.setFavorite(id, prev) },
	)
}

func (r *repository) setFavorite(id string, fav bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.cards {
		if r.cards[i].ID == id {
			r.cards[i].IsFavorite = fav
		}
	}
}

func (r *repository) Collect(ctx context.Context, postcardID string) error {
	uid, ok := r.sessions.UserID()
	if !ok {
		return common.ErrNotAuthenticated
	}

	_, err := r.gw.Insert(ctx, store.CollectionUserPostcards, store.Fields{
		"user_id":        uid,
		"postcard_id":    postcardID,
		"collected_date": time.Now().Format(collectedDateLayout),
	})
	if err != nil {
		return fmt.Errorf("%w: collect: %v", common.ErrRemoteWrite, err)
	}
	// Full refetch: consistency over incremental patching.
	return r.Fetch(ctx)
}

func (r *repository) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	uid, ok := r.sessions.UserID()
	if !ok {
		return "", common.ErrNotAuthenticated
	}

	path := fmt.Sprintf("%s/%s%s", uid, uuid.NewString(), filepath.Ext(filename))
	if err := r.gw.UploadBlob(ctx, store.BucketPostcards, path, data); err != nil {
		return "", fmt.Errorf("%w: image upload: %v", common.ErrRemoteWrite, err)
	}
	return r.gw.PublicURL(store.BucketPostcards, path), nil
}

func (r *repository) Add(ctx context.Context, draft models.PostcardDraft) error {
	uid, ok := r.sessions.UserID()
	if !ok {
		return common.ErrNotAuthenticated
	}
	if err := draft.Validate(); err != nil {
		return err
	}
	draft = draft.Normalized()
	if err := r.validateRecipients(ctx, draft.SentTo); err != nil {
		return err
	}

	// Step one: the shared entity. It must exist before the relationship,
	// because relationship-level access rules reference it.
	entity, err := r.gw.Insert(ctx, store.CollectionPostcards, store.Fields{
		"title":       draft.Title,
		"location":    draft.Location,
		"country":     draft.Country,
		"image_url":   draft.ImageURL,
		"description": draft.Description,
		"color":       draft.Color,
		"category":    draft.Category,
		"is_special":  draft.IsSpecial,
	})
	if err != nil {
		return fmt.Errorf("%w: create postcard entity: %v", common.ErrRemoteWrite, err)
	}
	entityID, err := entity.ReqStr("id")
	if err != nil {
		return fmt.Errorf("create postcard entity: %w", err)
	}

	fields := store.Fields{
		"user_id":        uid,
		"postcard_id":    entityID,
		"collected_date": draft.CollectedDate.Format(collectedDateLayout),
	}
	if len(draft.SentTo) > 0 {
		fields["sent_to"] = models.JoinRecipients(draft.SentTo)
	}
	if _, err := r.gw.Insert(ctx, store.CollectionUserPostcards, fields); err != nil {
		// Not rolled back: entity entityID is now orphaned until cleaned up
		// server-side.
		return fmt.Errorf("%w: create collection relationship (entity %s left orphaned): %v",
			common.ErrRemoteWrite, entityID, err)
	}
	return r.Fetch(ctx)
}

func (r *repository) validateRecipients(ctx context.Context, recipients []string) error {
	if r.dir == nil {
		return nil
	}
	for _, name := range recipients {
		ok, err := r.dir.HasName(ctx, name)
		if err != nil {
			return fmt.Errorf("recipient check: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: recipient %q is not in the friend list", common.ErrValidation, name)
		}
	}
	return nil
}

func (r *repository) UpdateSentTo(ctx context.Context, postcardID string, recipients []string) error {
	uid, ok := r.sessions.UserID()
	if !ok {
		return common.ErrNotAuthenticated
	}
	if err := r.validateRecipients(ctx, recipients); err != nil {
		return err
	}

	var stored any
	if len(recipients) > 0 {
		stored = models.JoinRecipients(recipients)
	}

	return mutate.Optimistic(ctx,
		func() { r.setSentTo(postcardID, recipients) },
		func(ctx context.Context) error {
			err := r.gw.Update(ctx, store.CollectionUserPostcards,
				store.Where(store.Eq("user_id", uid), store.Eq("postcard_id", postcardID)),
				store.Fields{"sent_to": stored})
			if err != nil {
				return fmt.Errorf("%w: update recipients: %v", common.ErrRemoteWrite, err)
			}
			return nil
		},
		// The prior list was replaced wholesale; refetch instead of reverting.
		func(ctx context.Context) { r.refetchQuietly(ctx) },
	)
}

func (r *repository) setSentTo(id string, recipients []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.cards {
		if r.cards[i].ID == id {
			r.cards[i].SentTo = append([]string(nil), recipients...)
		}
	}
}

func (r *repository) Update(ctx context.Context, postcardID string, upd Update) error {
	uid, ok := r.sessions.UserID()
	if !ok {
		return common.ErrNotAuthenticated
	}

	entityFields := store.Fields{}
	if upd.Title != nil {
		entityFields["title"] = *upd.Title
	}
	if upd.Location != nil {
		entityFields["location"] = *upd.Location
	}
	if upd.Country != nil {
		entityFields["country"] = *upd.Country
	}
	if upd.Description != nil {
		entityFields["description"] = *upd.Description
	}

	return mutate.Optimistic(ctx,
		func() { r.applyUpdate(postcardID, upd) },
		func(ctx context.Context) error {
			if len(entityFields) > 0 {
				err := r.gw.Update(ctx, store.CollectionPostcards,
					store.Where(store.Eq("id", postcardID)), entityFields)
				if err != nil {
					return fmt.Errorf("%w: update postcard entity: %v", common.ErrRemoteWrite, err)
				}
			}
			if upd.CollectedDate != nil {
				err := r.gw.Update(ctx, store.CollectionUserPostcards,
					store.Where(store.Eq("user_id", uid), store.Eq("postcard_id", postcardID)),
					store.Fields{"collected_date": upd.CollectedDate.Format(collectedDateLayout)})
				if err != nil {
					return fmt.Errorf("%w: update collected date: %v", common.ErrRemoteWrite, err)
				}
			}
			return nil
		},
		func(ctx context.Context) { r.refetchQuietly(ctx) },
	)
}

func (r *repository) applyUpdate(id string, upd Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.cards {
		if r.cards[i].ID != id {
			continue
		}
		if upd.Title != nil {
			r.cards[i].Title = *upd.Title
		}
		if upd.Location != nil {
			r.cards[i].Location = *upd.Location
		}
		if upd.Country != nil {
			r.cards[i].Country = *upd.Country
		}
		if upd.Description != nil {
			r.cards[i].Description = *upd.Description
		}
		if upd.CollectedDate != nil {
			r.cards[i].CollectedDate = *upd.CollectedDate
		}
	}
}

func (r *repository) Delete(ctx context.Context, postcardID string) error {
	_, ok := r.sessions.UserID()
	if !ok {
		return common.ErrNotAuthenticated
	}

	// Entity deletion may be rejected by the ownership check, so the local
	// removal waits for confirmation.
	err := r.gw.Delete(ctx, store.CollectionPostcards,
		store.Where(store.Eq("id", postcardID)))
	if err != nil {
		return fmt.Errorf("%w: delete postcard: %v", common.ErrRemoteWrite, err)
	}

	r.mu.Lock()
	kept := r.cards[:0]
	for _, c := range r.cards {
		if c.ID != postcardID {
			kept = append(kept, c)
		}
	}
	r.cards = kept
	r.mu.Unlock()
	return nil
}

func (r *repository) refetchQuietly(ctx context.Context) {
	if err := r.Fetch(ctx); err != nil {
		r.log.Warn(ctx, "refetch failed", "err", err)
	}
}
