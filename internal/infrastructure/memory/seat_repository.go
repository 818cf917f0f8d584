package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/seat"
)

// SeatRepository はインメモリの座席在庫
type SeatRepository struct {
	db *DB
}

var _ seat.Repository = (*SeatRepository)(nil)

func NewSeatRepository(db *DB) *SeatRepository {
	return &SeatRepository{db: db}
}

func locationKey(s *seat.Seat) string {
	return fmt.Sprintf("%s/%s/%s/%d", s.PerformanceID, s.SectionID, s.Row, s.Number)
}

func (r *SeatRepository) CreateBulk(ctx context.Context, seats []*seat.Seat) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	taken := make(map[string]struct{}, len(r.db.seats))
	for _, s := range r.db.seats {
		taken[locationKey(s)] = struct{}{}
	}
	for _, s := range seats {
		if err := s.Validate(); err != nil {
			return err
		}
		key := locationKey(s)
		if _, ok := taken[key]; ok {
			return seat.ErrDuplicateSeat
		}
		taken[key] = struct{}{}
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if _, ok := r.db.seats[s.ID]; ok {
			return seat.ErrDuplicateSeat
		}
	}

	for _, s := range seats {
		c := *s
		r.db.seats[s.ID] = &c
		id := s.ID
		onRollback(ctx, func() { delete(r.db.seats, id) })
	}
	return nil
}

func (r *SeatRepository) GetByID(ctx context.Context, id string) (*seat.Seat, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	s, ok := r.db.seats[id]
	if !ok {
		return nil, seat.ErrSeatNotFound
	}
	c := *s
	return &c, nil
}

func (r *SeatRepository) GetSeats(ctx context.Context, performanceID string, seatIDs []string) ([]*seat.Seat, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	out := make([]*seat.Seat, 0, len(seatIDs))
	for _, id := range seatIDs {
		s, ok := r.db.seats[id]
		if !ok || s.PerformanceID != performanceID {
			return nil, fmt.Errorf("%w: %s", seat.ErrSeatNotFound, id)
		}
		c := *s
		out = append(out, &c)
	}
	return out, nil
}

func (r *SeatRepository) ListByPerformance(ctx context.Context, performanceID string) ([]*seat.Seat, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var out []*seat.Seat
	for _, s := range r.db.seats {
		if s.PerformanceID == performanceID {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SectionID != out[j].SectionID {
			return out[i].SectionID < out[j].SectionID
		}
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

func (r *SeatRepository) SetStatus(ctx context.Context, seatIDs []string, from, to seat.Status) error {
	if !seat.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", seat.ErrInvalidTransition, from, to)
	}
	ids := seat.CanonicalIDs(seatIDs)
	if len(ids) == 0 {
		return nil
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var drifted []string
	for _, id := range ids {
		s, ok := r.db.seats[id]
		if !ok {
			return fmt.Errorf("%w: %s", seat.ErrSeatNotFound, id)
		}
		if s.Status != from {
			drifted = append(drifted, id)
		}
	}
	if len(drifted) > 0 {
		return &seat.ConflictError{SeatIDs: drifted}
	}

	now := r.db.clock.Now()
	for _, id := range ids {
		s := r.db.seats[id]
		prevStatus, prevUpdated := s.Status, s.UpdatedAt
		s.Status = to
		s.UpdatedAt = now
		onRollback(ctx, func() {
			s.Status = prevStatus
			s.UpdatedAt = prevUpdated
		})
	}
	return nil
}

func (r *SeatRepository) CountAvailableByPerformance(ctx context.Context, performanceID string) (int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	count := 0
	for _, s := range r.db.seats {
		if s.PerformanceID == performanceID && s.Status == seat.StatusAvailable {
			count++
		}
	}
	return count, nil
}
