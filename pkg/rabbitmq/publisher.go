package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/aidevro/bugatube/config"
	"github.com/aidevro/bugatube/dto"
)

const routingKey = "ingest.job.update"

// Publisher fans job state transitions out to an exchange for external
// consumers. A nil *Publisher is valid and publishes nothing, so the
// service runs without a broker.
type Publisher struct {
	mu  sync.Mutex
	ch  *amqp.Channel
	cfg *config.RabbitMQ
}

func NewPublisher(ctx context.Context, conn *amqp.Connection, cfg *config.RabbitMQ) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	exchangeName := cfg.ExchangeName
	if exchangeName == "" {
		exchangeName = "ingest_events"
	}
	cfg.ExchangeName = exchangeName

	err = ch.ExchangeDeclare(exchangeName, cfg.Kind, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("exchange", exchangeName).Msg("failed to declare exchange")
		ch.Close()
		return nil, err
	}

	return &Publisher{ch: ch, cfg: cfg}, nil
}

func (p *Publisher) PublishJobEvent(ctx context.Context, event dto.JobEvent) error {
	if p == nil {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.cfg.ExchangeName, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.ch.Close()
}
