package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/transaction"
)

type txKey struct{}

// TxManager は sqlx.DB を使用したトランザクションマネージャー
// トランザクションは ctx に載せてリポジトリへ引き継ぐ
type TxManager struct {
	db *sqlx.DB
}

var _ transaction.Manager = (*TxManager)(nil)

// NewTxManager は新しい TxManager を作成する
func NewTxManager(db *sqlx.DB) *TxManager {
	return &TxManager{db: db}
}

// WithinTx は fn をトランザクション内で実行する
// ctx が既にトランザクションを持っていればそれに参加する
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	txCtx, hooks := transaction.WithHooks(context.WithValue(ctx, txKey{}, tx))
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	hooks.Run(context.WithoutCancel(ctx))
	return nil
}

// conn は ctx のトランザクションがあればそれを、なければ DB を返す
func conn(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db
}

// runInTx は ctx のトランザクションに参加し、なければ fn だけのトランザクションを張る
// FOR UPDATE と条件付き UPDATE を同じトランザクションで実行するために使う
func runInTx(ctx context.Context, db *sqlx.DB, fn func(q sqlx.ExtContext) error) error {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(tx)
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
