package audit

import "errors"

// Audit ドメインのエラー定義
var (
	ErrAuditWriteFailed = errors.New("監査ログの書き込みに失敗しました")
	ErrSubjectRequired  = errors.New("監査対象は必須です")
	ErrActionRequired   = errors.New("操作種別は必須です")
	ErrActorRequired    = errors.New("実行者は必須です")
)
