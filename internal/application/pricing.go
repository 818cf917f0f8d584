package application

import (
	"context"

	"github.com/sanosuguru/go-theater-seat-booking/internal/domain/seat"
)

// PriceQuoter は座席の現在価格を返す外部の価格決定
// 仮押さえ作成時と予約確定時にのみ参照する
type PriceQuoter interface {
	QuotePrice(ctx context.Context, s *seat.Seat) (int64, error)
}

// ListPriceQuoter は座席の定価をそのまま返す
type ListPriceQuoter struct{}

func (ListPriceQuoter) QuotePrice(_ context.Context, s *seat.Seat) (int64, error) {
	return s.Price, nil
}

func quoteSeats(ctx context.Context, p PriceQuoter, seats []*seat.Seat) ([]int64, int64, error) {
	prices := make([]int64, len(seats))
	var total int64
	for i, s := range seats {
		price, err := p.QuotePrice(ctx, s)
		if err != nil {
			return nil, 0, err
		}
		prices[i] = price
		total += price
	}
	return prices, total, nil
}
