package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/hold"
)

// HoldRepository はインメモリの仮押さえ永続ストア
type HoldRepository struct {
	db *DB
}

var _ hold.Repository = (*HoldRepository)(nil)

func NewHoldRepository(db *DB) *HoldRepository {
	return &HoldRepository{db: db}
}

func (r *HoldRepository) Create(ctx context.Context, h *hold.Hold) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.holdsByKey[h.IdempotencyKey]; ok {
		return hold.ErrIdempotencyKeyAlreadyExists
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	r.db.holds[h.ID] = h.Clone()
	r.db.holdsByKey[h.IdempotencyKey] = h.ID

	id, key := h.ID, h.IdempotencyKey
	onRollback(ctx, func() {
		delete(r.db.holds, id)
		delete(r.db.holdsByKey, key)
	})
	return nil
}

func (r *HoldRepository) GetByID(ctx context.Context, id string) (*hold.Hold, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	h, ok := r.db.holds[id]
	if !ok {
		return nil, hold.ErrHoldNotFound
	}
	return h.Clone(), nil
}

// GetByIDForUpdate はトランザクションが直列化されているため GetByID と同じ
func (r *HoldRepository) GetByIDForUpdate(ctx context.Context, id string) (*hold.Hold, error) {
	return r.GetByID(ctx, id)
}

func (r *HoldRepository) GetByIdempotencyKey(ctx context.Context, key string) (*hold.Hold, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	id, ok := r.db.holdsByKey[key]
	if !ok {
		return nil, hold.ErrHoldNotFound
	}
	return r.db.holds[id].Clone(), nil
}

func (r *HoldRepository) ListActiveBySeatIDs(ctx context.Context, seatIDs []string) ([]*hold.Hold, error) {
	want := make(map[string]struct{}, len(seatIDs))
	for _, id := range seatIDs {
		want[id] = struct{}{}
	}

	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var out []*hold.Hold
	for _, h := range r.db.holds {
		if !h.IsActive() {
			continue
		}
		for _, id := range h.SeatIDs {
			if _, ok := want[id]; ok {
				out = append(out, h.Clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *HoldRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*hold.Hold, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var out []*hold.Hold
	for _, h := range r.db.holds {
		if h.IsExpirableAt(now) {
			out = append(out, h.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EffectiveDeadline().Before(out[j].EffectiveDeadline())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *HoldRepository) Update(ctx context.Context, h *hold.Hold, from hold.Status) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	prev, ok := r.db.holds[h.ID]
	if !ok {
		return hold.ErrHoldNotFound
	}
	if prev.Status != from {
		return hold.ErrHoldStateConflict
	}
	r.db.holds[h.ID] = h.Clone()

	id := h.ID
	onRollback(ctx, func() { r.db.holds[id] = prev })
	return nil
}
