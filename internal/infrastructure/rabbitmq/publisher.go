// Package rabbitmq はドメインイベントを RabbitMQ のキューへ送信する
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/sanosuguru/go-theater-seat-booking/internal/application"
)

// キュー名
const (
	QueueBookingConfirmed = "booking.confirmed"
	QueueHoldExpired      = "hold.expired"
)

// Publisher は永続キューへ JSON メッセージを送信する
// チャネルは並行利用できないため mu で直列化する
type Publisher struct {
	conn *amqp.Connection

	mu sync.Mutex
	ch *amqp.Channel
}

var _ application.EventPublisher = (*Publisher)(nil)

// NewPublisher はブローカーに接続し、キューを宣言する
func NewPublisher(url string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("RabbitMQ接続に失敗: %w", err)
	}
	p := &Publisher{conn: conn}
	if _, err := p.channel(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// channel は開いているチャネルを返す。閉じていれば開き直してキューを宣言する
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("チャネル作成に失敗: %w", err)
	}
	for _, q := range []string{QueueBookingConfirmed, QueueHoldExpired} {
		// durable, autoDelete=false, exclusive=false, noWait=false
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			ch.Close()
			return nil, fmt.Errorf("キュー宣言に失敗 (%s): %w", q, err)
		}
	}
	p.ch = ch
	return ch, nil
}

func (p *Publisher) PublishBookingConfirmed(ctx context.Context, e application.BookingConfirmedEvent) error {
	return p.publish(ctx, QueueBookingConfirmed, e)
}

func (p *Publisher) PublishHoldExpired(ctx context.Context, e application.HoldExpiredEvent) error {
	return p.publish(ctx, QueueHoldExpired, e)
}

func (p *Publisher) publish(ctx context.Context, queue string, event interface{}) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("イベントのシリアライズに失敗: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	// デフォルトエクスチェンジでキュー名をルーティングキーにする
	if err := ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		return fmt.Errorf("イベント送信に失敗 (%s): %w", queue, err)
	}
	return nil
}

// Close はチャネルと接続を閉じる
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	return p.conn.Close()
}
