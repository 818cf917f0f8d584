package hold

import (
	"time"
)

// Status は仮押さえの状態を表す
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusConverted Status = "converted"
	StatusCancelled Status = "cancelled"
)

// IsTerminal は終端状態かを返す。終端状態からの遷移は存在しない
func (s Status) IsTerminal() bool {
	return s != StatusActive
}

// Hold は座席集合に対する時間制限付きの排他的な仮押さえ
type Hold struct {
	ID                 string
	PerformanceID      string
	IdempotencyKey     string
	SessionRef         string
	SeatIDs            []string // ソート済み、作成後は不変
	Status             Status
	QuotedTotal        int64
	CreatedAt          time.Time
	ExpiresAt          time.Time
	PaymentRef         *string
	PaymentAmount      *int64
	PaymentStartedAt   *time.Time
	PaymentDeadline    *time.Time // 決済中の猶予期限 (ExpiresAt + 猶予)
	ConvertedBookingID *string
	UpdatedAt          time.Time
}

// NewHold は新しい仮押さえを作成する。seatIDs は正規化済みであること
func NewHold(performanceID, sessionRef, idempotencyKey string, seatIDs []string, quotedTotal int64, ttl time.Duration, now time.Time) *Hold {
	ids := make([]string, len(seatIDs))
	copy(ids, seatIDs)
	return &Hold{
		PerformanceID:  performanceID,
		IdempotencyKey: idempotencyKey,
		SessionRef:     sessionRef,
		SeatIDs:        ids,
		Status:         StatusActive,
		QuotedTotal:    quotedTotal,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		UpdatedAt:      now,
	}
}

// Validate は仮押さえの検証を行う
func (h *Hold) Validate() error {
	if h.PerformanceID == "" {
		return ErrPerformanceIDRequired
	}
	if h.SessionRef == "" {
		return ErrSessionRefRequired
	}
	if h.IdempotencyKey == "" {
		return ErrIdempotencyKeyRequired
	}
	if len(h.SeatIDs) == 0 {
		return ErrSeatIDsRequired
	}
	if !h.ExpiresAt.After(h.CreatedAt) {
		return ErrInvalidTTL
	}
	return nil
}

// IsActive は仮押さえが有効状態かを返す
func (h *Hold) IsActive() bool {
	return h.Status == StatusActive
}

// PaymentInProgress は決済開始済みかを返す
func (h *Hold) PaymentInProgress() bool {
	return h.PaymentRef != nil && h.PaymentDeadline != nil
}

// EffectiveDeadline は実効的な期限を返す
// 決済中は猶予期限、それ以外は ExpiresAt
func (h *Hold) EffectiveDeadline() time.Time {
	if h.PaymentInProgress() {
		return *h.PaymentDeadline
	}
	return h.ExpiresAt
}

// IsExpiredAt は now 時点で実効期限を過ぎているかを返す
func (h *Hold) IsExpiredAt(now time.Time) bool {
	return !now.Before(h.EffectiveDeadline())
}

// IsExpirableAt はスイーパーが失効させてよいかを返す
func (h *Hold) IsExpirableAt(now time.Time) bool {
	return h.IsActive() && h.IsExpiredAt(now)
}

// IsLiveAt は now 時点で座席を占有しているかを返す
func (h *Hold) IsLiveAt(now time.Time) bool {
	return h.IsActive() && !h.IsExpiredAt(now)
}

// OwnedBy は requesterRef が所有者かを返す
func (h *Hold) OwnedBy(requesterRef string) bool {
	return requesterRef != "" && h.SessionRef == requesterRef
}

// SameRequest は冪等性キーの再送が同じ内容かを返す
func (h *Hold) SameRequest(performanceID, sessionRef string, seatIDs []string) bool {
	if h.PerformanceID != performanceID || h.SessionRef != sessionRef {
		return false
	}
	if len(h.SeatIDs) != len(seatIDs) {
		return false
	}
	for i := range seatIDs {
		if h.SeatIDs[i] != seatIDs[i] {
			return false
		}
	}
	return true
}

func (h *Hold) requireLive(now time.Time) error {
	if !h.IsActive() {
		return ErrHoldNotActive
	}
	if h.IsExpiredAt(now) {
		return ErrHoldExpired
	}
	return nil
}

// BeginPayment は決済参照を記録し、猶予期限を設定する
// TTL はリセットせず、猶予期限を別フィールドで明示する
func (h *Hold) BeginPayment(paymentRef string, amount int64, grace time.Duration, now time.Time) error {
	if paymentRef == "" {
		return ErrPaymentRefRequired
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if err := h.requireLive(now); err != nil {
		return err
	}
	if h.PaymentRef != nil {
		if *h.PaymentRef == paymentRef {
			return nil
		}
		return ErrPaymentAlreadyStarted
	}
	deadline := h.ExpiresAt.Add(grace)
	started := now
	h.PaymentRef = &paymentRef
	h.PaymentAmount = &amount
	h.PaymentStartedAt = &started
	h.PaymentDeadline = &deadline
	h.UpdatedAt = now
	return nil
}

// Extend は有効期限を延長する。作成からの総寿命は maxLifetime まで
func (h *Hold) Extend(additional, maxLifetime time.Duration, now time.Time) error {
	if additional <= 0 {
		return ErrInvalidExtension
	}
	if err := h.requireLive(now); err != nil {
		return err
	}
	if h.PaymentInProgress() {
		return ErrPaymentAlreadyStarted
	}
	next := h.ExpiresAt.Add(additional)
	if next.Sub(h.CreatedAt) > maxLifetime {
		return ErrInvalidExtension
	}
	h.ExpiresAt = next
	h.UpdatedAt = now
	return nil
}

// Convert は仮押さえを予約に変換済みにする
func (h *Hold) Convert(bookingID string, now time.Time) error {
	if err := h.requireLive(now); err != nil {
		return err
	}
	h.Status = StatusConverted
	h.ConvertedBookingID = &bookingID
	h.UpdatedAt = now
	return nil
}

// Cancel は仮押さえを取り消す
func (h *Hold) Cancel(now time.Time) error {
	if !h.IsActive() {
		return ErrHoldNotActive
	}
	h.Status = StatusCancelled
	h.UpdatedAt = now
	return nil
}

// Expire は期限切れの仮押さえを失効させる
func (h *Hold) Expire(now time.Time) error {
	if !h.IsActive() {
		return ErrHoldNotActive
	}
	if !h.IsExpiredAt(now) {
		return ErrHoldNotExpired
	}
	h.Status = StatusExpired
	h.UpdatedAt = now
	return nil
}

// Clone はディープコピーを返す
func (h *Hold) Clone() *Hold {
	c := *h
	c.SeatIDs = append([]string(nil), h.SeatIDs...)
	if h.PaymentRef != nil {
		v := *h.PaymentRef
		c.PaymentRef = &v
	}
	if h.PaymentAmount != nil {
		v := *h.PaymentAmount
		c.PaymentAmount = &v
	}
	if h.PaymentStartedAt != nil {
		v := *h.PaymentStartedAt
		c.PaymentStartedAt = &v
	}
	if h.PaymentDeadline != nil {
		v := *h.PaymentDeadline
		c.PaymentDeadline = &v
	}
	if h.ConvertedBookingID != nil {
		v := *h.ConvertedBookingID
		c.ConvertedBookingID = &v
	}
	return &c
}

// Snapshot は監査ログ用の状態
type Snapshot struct {
	ID                 string     `json:"id"`
	Status             Status     `json:"status"`
	SeatIDs            []string   `json:"seat_ids"`
	SessionRef         string     `json:"session_ref"`
	ExpiresAt          time.Time  `json:"expires_at"`
	PaymentRef         *string    `json:"payment_ref,omitempty"`
	PaymentDeadline    *time.Time `json:"payment_deadline,omitempty"`
	ConvertedBookingID *string    `json:"converted_booking_id,omitempty"`
}

// Snapshot は現在の状態のスナップショットを返す
func (h *Hold) Snapshot() Snapshot {
	c := h.Clone()
	return Snapshot{
		ID:                 c.ID,
		Status:             c.Status,
		SeatIDs:            c.SeatIDs,
		SessionRef:         c.SessionRef,
		ExpiresAt:          c.ExpiresAt,
		PaymentRef:         c.PaymentRef,
		PaymentDeadline:    c.PaymentDeadline,
		ConvertedBookingID: c.ConvertedBookingID,
	}
}
