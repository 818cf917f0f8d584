// Package memory は単一インスタンス向けのインメモリ実装を提供する
// 複数インスタンス構成では postgres / redis 実装を使う
package memory

import (
	"context"
	"sync"

	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/audit"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/booking"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/hold"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/seat"
	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/transaction"
	"github.com/sanosuguru/go-theater-seat-booking/internal/pkg/clock"
)

// DB はインメモリの永続ストア
// トランザクションは txMu で直列化し、失敗時は undo ログで巻き戻す
type DB struct {
	clock clock.Clock

	txMu sync.Mutex
	mu   sync.RWMutex

	seats             map[string]*seat.Seat
	holds             map[string]*hold.Hold
	holdsByKey        map[string]string
	bookings          map[string]*booking.Booking
	bookingsByPayment map[string]string
	bookingsByCode    map[string]string
	bookingsByHold    map[string]string
	audit             []*audit.Record
}

var _ transaction.Manager = (*DB)(nil)

func NewDB(clk clock.Clock) *DB {
	if clk == nil {
		clk = clock.Real{}
	}
	return &DB{
		clock:             clk,
		seats:             make(map[string]*seat.Seat),
		holds:             make(map[string]*hold.Hold),
		holdsByKey:        make(map[string]string),
		bookings:          make(map[string]*booking.Booking),
		bookingsByPayment: make(map[string]string),
		bookingsByCode:    make(map[string]string),
		bookingsByHold:    make(map[string]string),
	}
}

type txKey struct{}

type tx struct {
	undo []func()
}

// WithinTx は fn を直列化されたトランザクション内で実行する
// ctx が既にトランザクションを持つ場合はそれに参加する
func (d *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*tx); ok {
		return fn(ctx)
	}
	hooks, err := d.exec(ctx, fn)
	if err != nil {
		return err
	}
	hooks.Run(context.WithoutCancel(ctx))
	return nil
}

func (d *DB) exec(ctx context.Context, fn func(ctx context.Context) error) (*transaction.Hooks, error) {
	d.txMu.Lock()
	defer d.txMu.Unlock()

	t := &tx{}
	txCtx, hooks := transaction.WithHooks(context.WithValue(ctx, txKey{}, t))

	committed := false
	defer func() {
		if !committed {
			d.rollback(t)
		}
	}()

	if err := fn(txCtx); err != nil {
		return nil, err
	}
	committed = true
	return hooks, nil
}

func (d *DB) rollback(t *tx) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

// onRollback は d.mu を保持した状態で呼ぶ
func onRollback(ctx context.Context, undo func()) {
	if t, ok := ctx.Value(txKey{}).(*tx); ok {
		t.undo = append(t.undo, undo)
	}
}
