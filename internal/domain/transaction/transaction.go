package transaction

import (
	"context"
	"sync"
)

// Manager はトランザクションを管理するインターフェース
// ドメイン層がインフラ層（sqlx等）に依存しないようにするための抽象化
type Manager interface {
	// WithinTx は fn をトランザクション内で実行する
	// fn がエラーを返すとロールバックし、成功すればコミットする
	// ctx が既にトランザクションを持つ場合はそれに参加する
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type hooksKey struct{}

// Hooks はコミット後に実行する処理を保持する
type Hooks struct {
	mu  sync.Mutex
	fns []func(ctx context.Context)
}

// WithHooks はコミット後フックを登録できるコンテキストを返す
// Manager 実装がトランザクション開始時に呼び出す
func WithHooks(ctx context.Context) (context.Context, *Hooks) {
	h := &Hooks{}
	return context.WithValue(ctx, hooksKey{}, h), h
}

// Run は登録されたフックを登録順に実行する
func (h *Hooks) Run(ctx context.Context) {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ctx)
	}
}

// AfterCommit はトランザクションのコミット後に fn を実行するよう登録する
// トランザクション外で呼ばれた場合は即座に実行する
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if h, ok := ctx.Value(hooksKey{}).(*Hooks); ok {
		h.mu.Lock()
		h.fns = append(h.fns, fn)
		h.mu.Unlock()
		return
	}
	fn(ctx)
}
