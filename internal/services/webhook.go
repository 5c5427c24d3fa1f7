package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// WebhookService mirrors domain events to an external webhook and,
// optionally, a RabbitMQ queue. Delivery is best-effort and asynchronous;
// failures are logged, never surfaced to the pipeline.
type WebhookService struct {
	client    *resty.Client
	url       string
	queueName string
	channel   *amqp.Channel
}

func NewWebhookService(url, rabbitURL, queueName string) *WebhookService {
	svc := &WebhookService{
		client: resty.New().
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(2 * time.Second),
		url:       url,
		queueName: queueName,
	}

	if rabbitURL != "" {
		conn, err := amqp.Dial(rabbitURL)
		if err != nil {
			log.Error().Err(err).Msg("RabbitMQ connection failed, events go to webhook only")
			return svc
		}
		ch, err := conn.Channel()
		if err != nil {
			log.Error().Err(err).Msg("RabbitMQ channel failed")
			return svc
		}
		if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
			log.Error().Err(err).Str("queue", queueName).Msg("RabbitMQ queue declare failed")
			return svc
		}
		svc.channel = ch
		log.Info().Str("queue", queueName).Msg("RabbitMQ event publishing enabled")
	}
	return svc
}

type webhookEvent struct {
	Event     string      `json:"event"`
	SectorID  int         `json:"sectorId"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Publish fans the event out to the configured channels in the background.
func (w *WebhookService) Publish(event string, sectorID int, data interface{}) {
	if w == nil || (w.url == "" && w.channel == nil) {
		return
	}
	payload := webhookEvent{
		Event:     event,
		SectorID:  sectorID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	go w.deliver(payload)
}

func (w *WebhookService) deliver(payload webhookEvent) {
	if w.url != "" {
		resp, err := w.client.R().
			SetHeader("Content-Type", "application/json").
			SetBody(payload).
			Post(w.url)
		if err != nil {
			log.Error().Err(err).Str("event", payload.Event).Msg("Webhook delivery failed")
		} else if resp.IsError() {
			log.Warn().Int("status", resp.StatusCode()).Str("event", payload.Event).Msg("Webhook returned error status")
		}
	}

	if w.channel != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Msg("Event marshal failed")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = w.channel.PublishWithContext(ctx, "", w.queueName, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
		if err != nil {
			log.Error().Err(err).Str("event", payload.Event).Msg("RabbitMQ publish failed")
		}
	}
}
