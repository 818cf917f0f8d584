package audit

import (
	"encoding/json"
	"time"
)

// Entity は監査対象
type Entity string

const (
	EntitySeat    Entity = "seat"
	EntityHold    Entity = "hold"
	EntityBooking Entity = "booking"
)

// Action は状態遷移の種類
type Action string

const (
	ActionHold         Action = "hold"
	ActionRelease      Action = "release"
	ActionCancel       Action = "cancel"
	ActionBeginPayment Action = "begin_payment"
	ActionExtend       Action = "extend"
	ActionConvert      Action = "convert"
	ActionExpire       Action = "expire"
	ActionBook         Action = "book"
	ActionBlock        Action = "block"
	ActionUnblock      Action = "unblock"
	ActionProvision    Action = "provision"
)

// システムアクター
const (
	ActorSweeper          = "system:sweeper"
	ActorHoldManager      = "system:hold-manager" // 仮押さえ作成時のインライン失効
	ActorPaymentAuthority = "system:payment-authority"
	ActorOperator         = "system:operator"
	ActorAnonymous        = "anonymous" // セッションなしのクライアント
)

// Record は追記専用の監査レコード。更新・削除はしない
type Record struct {
	ID            string
	Entity        Entity
	EntityID      string
	Action        Action
	Actor         string
	Before        json.RawMessage
	After         json.RawMessage
	CorrelationID string
	CreatedAt     time.Time
}

// Validate は監査レコードの検証を行う
func (r *Record) Validate() error {
	if r.Entity == "" || r.EntityID == "" {
		return ErrSubjectRequired
	}
	if r.Action == "" {
		return ErrActionRequired
	}
	if r.Actor == "" {
		return ErrActorRequired
	}
	return nil
}
