package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/hold"
)

// holdDoc は仮押さえのキャッシュ表現
type holdDoc struct {
	ID                 string     `json:"id"`
	PerformanceID      string     `json:"performance_id"`
	IdempotencyKey     string     `json:"idempotency_key"`
	SessionRef         string     `json:"session_ref"`
	SeatIDs            []string   `json:"seat_ids"`
	Status             string     `json:"status"`
	QuotedTotal        int64      `json:"quoted_total"`
	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
	PaymentRef         *string    `json:"payment_ref,omitempty"`
	PaymentAmount      *int64     `json:"payment_amount,omitempty"`
	PaymentStartedAt   *time.Time `json:"payment_started_at,omitempty"`
	PaymentDeadline    *time.Time `json:"payment_deadline,omitempty"`
	ConvertedBookingID *string    `json:"converted_booking_id,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toDoc(h *hold.Hold) holdDoc {
	return holdDoc{
		ID:                 h.ID,
		PerformanceID:      h.PerformanceID,
		IdempotencyKey:     h.IdempotencyKey,
		SessionRef:         h.SessionRef,
		SeatIDs:            h.SeatIDs,
		Status:             string(h.Status),
		QuotedTotal:        h.QuotedTotal,
		CreatedAt:          h.CreatedAt,
		ExpiresAt:          h.ExpiresAt,
		PaymentRef:         h.PaymentRef,
		PaymentAmount:      h.PaymentAmount,
		PaymentStartedAt:   h.PaymentStartedAt,
		PaymentDeadline:    h.PaymentDeadline,
		ConvertedBookingID: h.ConvertedBookingID,
		UpdatedAt:          h.UpdatedAt,
	}
}

func (d *holdDoc) toEntity() *hold.Hold {
	return &hold.Hold{
		ID:                 d.ID,
		PerformanceID:      d.PerformanceID,
		IdempotencyKey:     d.IdempotencyKey,
		SessionRef:         d.SessionRef,
		SeatIDs:            d.SeatIDs,
		Status:             hold.Status(d.Status),
		QuotedTotal:        d.QuotedTotal,
		CreatedAt:          d.CreatedAt,
		ExpiresAt:          d.ExpiresAt,
		PaymentRef:         d.PaymentRef,
		PaymentAmount:      d.PaymentAmount,
		PaymentStartedAt:   d.PaymentStartedAt,
		PaymentDeadline:    d.PaymentDeadline,
		ConvertedBookingID: d.ConvertedBookingID,
		UpdatedAt:          d.UpdatedAt,
	}
}

// HoldCache は仮押さえの一時ストア
// エントリは実効期限で自然に消える
type HoldCache struct {
	client *redis.Client
}

var _ hold.Cache = (*HoldCache)(nil)

func NewHoldCache(client *redis.Client) *HoldCache {
	return &HoldCache{client: client}
}

func (c *HoldCache) Get(ctx context.Context, id string) (*hold.Hold, error) {
	raw, err := c.client.Get(ctx, holdKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, hold.ErrCacheMiss
		}
		return nil, fmt.Errorf("仮押さえキャッシュ取得に失敗: %w", err)
	}
	var doc holdDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("仮押さえキャッシュの復元に失敗: %w", err)
	}
	return doc.toEntity(), nil
}

func (c *HoldCache) Set(ctx context.Context, h *hold.Hold, ttl time.Duration) error {
	if ttl <= 0 {
		return c.Delete(ctx, h.ID)
	}
	raw, err := json.Marshal(toDoc(h))
	if err != nil {
		return fmt.Errorf("仮押さえのシリアライズに失敗: %w", err)
	}
	if err := c.client.Set(ctx, holdKey(h.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("仮押さえキャッシュ保存に失敗: %w", err)
	}
	return nil
}

func (c *HoldCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, holdKey(id)).Err(); err != nil {
		return fmt.Errorf("仮押さえキャッシュ削除に失敗: %w", err)
	}
	return nil
}

func holdKey(id string) string {
	return "hold:" + id
}
