package seat

import (
	"sort"
	"time"
)

// Status は座席の状態を表す
type Status string

const (
	StatusAvailable Status = "available"
	StatusHeld      Status = "held"
	StatusBooked    Status = "booked"
	StatusBlocked   Status = "blocked"
)

// IsValid は定義済みの状態かを返す
func (s Status) IsValid() bool {
	switch s {
	case StatusAvailable, StatusHeld, StatusBooked, StatusBlocked:
		return true
	}
	return false
}

// 許可される状態遷移
var transitions = map[Status][]Status{
	StatusAvailable: {StatusHeld, StatusBlocked},
	StatusHeld:      {StatusAvailable, StatusBooked},
	StatusBlocked:   {StatusAvailable},
}

// CanTransition は from から to への遷移が許可されているかを返す
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Seat は公演ごとの座席エンティティを表す
type Seat struct {
	ID            string
	PerformanceID string
	SectionID     string
	Row           string
	Number        int
	Price         int64 // 最小通貨単位
	Status        Status
	Accessible    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewSeat は新しい座席を作成する
func NewSeat(performanceID, sectionID, row string, number int, price int64, now time.Time) *Seat {
	return &Seat{
		PerformanceID: performanceID,
		SectionID:     sectionID,
		Row:           row,
		Number:        number,
		Price:         price,
		Status:        StatusAvailable,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsAvailable は座席が仮押さえ可能かを返す
func (s *Seat) IsAvailable() bool {
	return s.Status == StatusAvailable
}

// Validate は座席の検証を行う
func (s *Seat) Validate() error {
	if s.PerformanceID == "" {
		return ErrPerformanceIDRequired
	}
	if s.SectionID == "" || s.Row == "" || s.Number <= 0 {
		return ErrSeatLocationRequired
	}
	if s.Price < 0 {
		return ErrInvalidPrice
	}
	return nil
}

// Snapshot は監査ログ用の座席状態
type Snapshot struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Price  int64  `json:"price"`
}

// Snapshots は座席一覧のスナップショットを返す
func Snapshots(seats []*Seat) []Snapshot {
	out := make([]Snapshot, len(seats))
	for i, s := range seats {
		out[i] = Snapshot{ID: s.ID, Status: s.Status, Price: s.Price}
	}
	return out
}

// SnapshotsWithStatus は状態を差し替えたスナップショットを返す
func SnapshotsWithStatus(seats []*Seat, status Status) []Snapshot {
	out := Snapshots(seats)
	for i := range out {
		out[i].Status = status
	}
	return out
}

// CanonicalIDs は重複を除いてソートした座席IDを返す
// ロック取得順序と仮押さえの座席集合はこの順序に揃える
func CanonicalIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
