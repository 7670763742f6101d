// Package records produces one consistent, time-ordered sequence of exchange
// events from two disjoint sources (formal sender/receiver rows and manual
// sent_to annotations), plus the grouped-by-recipient projection of it, and
// the merge with the friend list that the records view renders.
package records

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/luyichen/pikapost/internal/common"
	"github.com/luyichen/pikapost/internal/events"
	"github.com/luyichen/pikapost/internal/logging"
	"github.com/luyichen/pikapost/internal/models"
	"github.com/luyichen/pikapost/internal/names"
	"github.com/luyichen/pikapost/internal/session"
	"github.com/luyichen/pikapost/internal/store"
)

// Reconciler fetches and normalizes exchange records for the current user.
// Any query failure aborts the whole reconciliation and keeps the previous
// cache; partial results are never exposed.
type Reconciler struct {
	gw       store.Gateway
	sessions *session.Manager
	log      logging.Logger

	mu      sync.Mutex
	records []models.ExchangeRecord
	readErr error
	epoch   int

	unsubSession func()
	unsubBus     func()
}

func NewReconciler(gw store.Gateway, sessions *session.Manager, bus *events.Bus, log logging.Logger) *Reconciler {
	if log == nil {
		log = logging.NewNop()
	}
	r := &Reconciler{gw: gw, sessions: sessions, log: log.With("repo", "records")}

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

func (r *Reconciler) Close() {
	if r.unsubSession != nil {
		r.unsubSession()
		r.unsubSession = nil
	}
	if r.unsubBus != nil {
		r.unsubBus()
		r.unsubBus = nil
	}
}

// Records returns a snapshot of the merged, date-descending record sequence.
func (r *Reconciler) Records() []models.ExchangeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ExchangeRecord, len(r.records))
	copy(out, r.records)
	return out
}

func (r *Reconciler) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readErr
}

func (r *Reconciler) clear() {
	r.mu.Lock()
	r.epoch++
	r.records = nil
	r.readErr = nil
	r.mu.Unlock()
}

func (r *Reconciler) currentEpoch() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

func (r *Reconciler) setRecords(epoch int, recs []models.ExchangeRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if epoch != r.epoch {
		return false
	}
	r.records = recs
	r.readErr = nil
	return true
}

func (r *Reconciler) setReadErr(err error) {
	r.mu.Lock()
	r.readErr = err
	r.mu.Unlock()
}

// Fetch loads both sources and rebuilds the merged sequence: formal rows
// first, then synthesized manual rows, stably sorted by date descending so
// same-date events keep source-then-original order.
func (r *Reconciler) Fetch(ctx context.Context) error {
	uid, ok := r.sessions.UserID()
	if !ok {
		r.clear()
		return nil
	}
	epoch := r.currentEpoch()

	formal, err := r.fetchFormal(ctx, uid)
	if err != nil {
		r.setReadErr(err)
		return err
	}
	manual, err := r.fetchManual(ctx, uid)
	if err != nil {
		r.setReadErr(err)
		return err
	}

	merged := append(formal, manual...)
	slices.SortStableFunc(merged, func(a, b models.ExchangeRecord) int {
		return b.Date.Compare(a.Date)
	})

	if !r.setRecords(epoch, merged) {
		r.log.Debug(ctx, "discarding stale record fetch")
	}
	return nil
}

func (r *Reconciler) fetchFormal(ctx context.Context, uid string) ([]models.ExchangeRecord, error) {
	rows, err := r.gw.Query(ctx, store.CollectionExchangeRecords, store.Query{
		Columns: []string{"id", "sender_id", "receiver_id", "sent_date", "status"},
		Filter: store.Filter{
			Any: []store.Cond{store.Eq("sender_id", uid), store.Eq("receiver_id", uid)},
		},
		Joins: []store.Join{
			{
				Table: store.CollectionPostcards, As: "postcard",
				LocalColumn: "postcard_id", ForeignColumn: "id",
				Columns: []string{"id", "title", "image_url"},
			},
			{
				Table: store.CollectionProfiles, As: "sender_profile",
				LocalColumn: "sender_id", ForeignColumn: "id",
				Columns: []string{"id", "username", "avatar"},
			},
			{
				Table: store.CollectionProfiles, As: "receiver_profile",
				LocalColumn: "receiver_id", ForeignColumn: "id",
				Columns: []string{"id", "username", "avatar"},
			},
		},
		Order: &store.Order{Column: "sent_date", Descending: true},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: exchange records: %v", common.ErrRemoteRead, err)
	}

	out := make([]models.ExchangeRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := mapFormalRow(row, uid)
		if err != nil {
			return nil, fmt.Errorf("exchange records: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func mapFormalRow(row store.Row, uid string) (models.ExchangeRecord, error) {
	id, err := row.ReqStr("id")
	if err != nil {
		return models.ExchangeRecord{}, err
	}
	date, err := row.Time("sent_date")
	if err != nil {
		return models.ExchangeRecord{}, err
	}

	sent := row.Str("sender_id") == uid
	counterpart := row.Sub("receiver_profile")
	direction := models.DirectionSent
	if !sent {
		counterpart = row.Sub("sender_profile")
		direction = models.DirectionReceived
	}
	if counterpart == nil {
		return models.ExchangeRecord{}, fmt.Errorf("%w: record %s has no counterpart profile", common.ErrBadRow, id)
	}

	rec := models.ExchangeRecord{
		ID:           id,
		FriendKey:    counterpart.Str("id"),
		FriendName:   counterpart.Str("username"),
		FriendAvatar: counterpart.Str("avatar"),
		Date:         date,
		Direction:    direction,
		Status:       models.Status(row.Str("status")),
	}
	if p := row.Sub("postcard"); p != nil {
		rec.PostcardID = p.Str("id")
		rec.PostcardTitle = p.Str("title")
		rec.PostcardImageURL = p.Str("image_url")
	}
	return rec, nil
}

func (r *Reconciler) fetchManual(ctx context.Context, uid string) ([]models.ExchangeRecord, error) {
	rows, err := r.gw.Query(ctx, store.CollectionUserPostcards, store.Query{
		Columns: []string{"id", "sent_to", "collected_date"},
		Filter: store.Filter{
			All: []store.Cond{store.Eq("user_id", uid), store.NotNull("sent_to")},
		},
		Joins: []store.Join{{
			Table: store.CollectionPostcards, As: "postcard",
			LocalColumn: "postcard_id", ForeignColumn: "id",
			Columns: []string{"id", "title", "image_url"},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: manual annotations: %v", common.ErrRemoteRead, err)
	}

	var out []models.ExchangeRecord
	for _, row := range rows {
		relID, err := row.ReqStr("id")
		if err != nil {
			return nil, fmt.Errorf("manual annotations: %w", err)
		}
		date, err := row.Time("collected_date")
		if err != nil {
			return nil, fmt.Errorf("manual annotations: %w", err)
		}

		// One synthesized record per recipient; the composite id keeps them
		// distinct when a single relationship fans out to several names.
		for idx, name := range models.ParseRecipients(row.Str("sent_to")) {
			rec := models.ExchangeRecord{
				ID:           fmt.Sprintf("%s-%d", relID, idx),
				FriendKey:    models.ManualKey(name),
				FriendName:   name,
				FriendAvatar: names.PlaceholderAvatarURL(name),
				Date:         date,
				Direction:    models.DirectionSent,
				Status:       models.StatusDelivered,
				Manual:       true,
			}
			if p := row.Sub("postcard"); p != nil {
				rec.PostcardID = p.Str("id")
				rec.PostcardTitle = p.Str("title")
				rec.PostcardImageURL = p.Str("image_url")
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// Grouped projects the sent records into per-recipient groups, keyed by
// friend id when known and by the manual name key otherwise. Postcards stay
// in encounter order; display-time sorting belongs to the merge view-model.
func (r *Reconciler) Grouped() []models.GroupedRecord {
	recs := r.Records()

	index := make(map[string]int)
	var groups []models.GroupedRecord
	for _, rec := range recs {
		if rec.Direction != models.DirectionSent {
			continue
		}
		i, ok := index[rec.FriendKey]
		if !ok {
			i = len(groups)
			index[rec.FriendKey] = i
			groups = append(groups, models.GroupedRecord{
				FriendKey:    rec.FriendKey,
				FriendName:   rec.FriendName,
				FriendAvatar: rec.FriendAvatar,
			})
		}
		groups[i].Postcards = append(groups[i].Postcards, models.PostcardSummary{
			ID:       rec.ID,
			Title:    rec.PostcardTitle,
			ImageURL: rec.PostcardImageURL,
			Date:     rec.Date,
		})
	}
	return groups
}

// Send records a formal exchange: a pending row from the current user to a
// counterpart profile, then a refetch.
func (r *Reconciler) Send(ctx context.Context, receiverID, postcardID string) error {
	uid, ok := r.sessions.UserID()
	if !ok {
		return common.ErrNotAuthenticated
	}

	_, err := r.gw.Insert(ctx, store.CollectionExchangeRecords, store.Fields{
		"sender_id":   uid,
		"receiver_id": receiverID,
		"postcard_id": postcardID,
		"sent_date":   time.Now().UTC().Format(time.RFC3339),
		"status":      string(models.StatusPending),
	})
	if err != nil {
		return fmt.Errorf("%w: send postcard: %v", common.ErrRemoteWrite, err)
	}
	return r.Fetch(ctx)
}

func (r *Reconciler) refetchQuietly(ctx context.Context) {
	if err := r.Fetch(ctx); err != nil {
		r.log.Warn(ctx, "refetch failed", "err", err)
	}
}
