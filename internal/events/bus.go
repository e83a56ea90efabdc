// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package events

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultBuffer       = 64
	defaultCloseTimeout = 10 * time.Second
)

// DownloadAddedHandler is called once per event. Events are always acked, a
// handler that wants a retry has to do it itself.
type DownloadAddedHandler func(ctx context.Context, evt DownloadAdded)

// Bus is an in-process pub/sub for inbound notifications.
type Bus struct {
	pubsub *gochannel.GoChannel
	router *message.Router
	logger watermill.LoggerAdapter
}

func NewBus() (*Bus, error) {
	logger := NewLoggerAdapter(log.Logger.With().Str("module", "events").Logger())

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: defaultBuffer,
	}, logger)

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: defaultCloseTimeout,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "create event router")
	}
	router.AddMiddleware(middleware.Recoverer)

	return &Bus{pubsub: pubsub, router: router, logger: logger}, nil
}

// SubscribeDownloadAdded registers handler. Call it before Run.
func (b *Bus) SubscribeDownloadAdded(name string, handler DownloadAddedHandler) {
	b.router.AddConsumerHandler(name, TopicDownloadAdded, b.pubsub, func(msg *message.Message) error {
		evt, err := DecodeDownloadAdded(msg.Payload)
		if err != nil {
			// redelivering a payload we cannot read would loop forever
			log.Warn().Err(err).Str("messageID", msg.UUID).Msg("events: dropping undecodable download-added message")
			return nil
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("messageID", msg.UUID).Str("handler", name).Msg("events: handler panicked")
				}
			}()
			handler(msg.Context(), evt)
		}()
		return nil
	})
}

// PublishDownloadAdded queues evt for every subscriber.
func (b *Bus) PublishDownloadAdded(ctx context.Context, evt DownloadAdded) error {
	payload, err := EncodeDownloadAdded(evt)
	if err != nil {
		return err
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(context.WithoutCancel(ctx))

	if err := b.pubsub.Publish(TopicDownloadAdded, msg); err != nil {
		return errors.Wrap(err, "publish download-added event")
	}

	log.Debug().Str("messageID", msg.UUID).Str("downloader", evt.Downloader).Str("hash", evt.Hash).Msg("events: download-added published")
	return nil
}

// Run blocks until ctx is done or Close is called.
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running is closed once handlers are subscribed.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

func (b *Bus) Close() error {
	routerErr := b.router.Close()
	if err := b.pubsub.Close(); err != nil {
		return errors.Wrap(err, "close event pubsub")
	}
	return routerErr
}
