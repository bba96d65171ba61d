package workers

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/meetbot/internal/models"
	"github.com/yoockh/meetbot/internal/notify"
)

// Deliverer sends one event to the owning application.
type Deliverer interface {
	Deliver(ctx context.Context, ev models.Event) error
}

// WebhookWorkerPool consumes the lifecycle event stream with a consumer
// group and delivers each event as a webhook.
type WebhookWorkerPool struct {
	Redis      *redis.Client
	Webhook    Deliverer
	NumWorkers int

	Logger logrus.FieldLogger

	Stream         string
	Group          string
	ConsumerPrefix string

	wg sync.WaitGroup
}

func (p *WebhookWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Webhook == nil {
		return errors.New("WebhookWorkerPool missing dependency: Redis/Webhook must be set")
	}
	if p.Stream == "" {
		p.Stream = notify.DefaultStream
	}
	if p.Group == "" {
		p.Group = "webhook-workers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 4
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		p.wg.Add(1)
		go p.runConsumer(ctx, consumer)
	}
	return nil
}

// Wait blocks until every consumer has exited after ctx was cancelled.
func (p *WebhookWorkerPool) Wait() { p.wg.Wait() }

func (p *WebhookWorkerPool) runConsumer(ctx context.Context, consumer string) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.Logger.WithError(err).WithField("consumer", consumer).Debug("reading event stream")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handleMsg(ctx, msg)
				_ = p.Redis.XAck(context.WithoutCancel(ctx), p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

// handleMsg delivers one stream entry. Failed deliveries are acked too:
// the client already retried and the event id lets the receiver reconcile.
func (p *WebhookWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) {
	ev, ok := notify.DecodeStreamEvent(msg.Values)
	if !ok {
		p.Logger.WithField("redis_id", msg.ID).Warn("skipping malformed event")
		return
	}

	log := p.Logger.WithFields(logrus.Fields{
		"redis_id":   msg.ID,
		"session_id": ev.SessionID,
		"event":      ev.Type,
		"event_id":   ev.EventID,
	})

	dctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := p.Webhook.Deliver(dctx, ev); err != nil {
		log.WithError(err).Error("webhook delivery failed")
		return
	}
	log.Debug("webhook delivered")
}
