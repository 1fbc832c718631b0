package service

import (
	"context"
	"errors"
	"time"

	"factory_device/internal/logger"
	"factory_device/internal/models"
	"factory_device/internal/property"
	"factory_device/internal/transport"
)

const defaultReceiveTimeout = 5 * time.Second

// MessageReceiver polls cloud-to-device messages.
type MessageReceiver interface {
	Receive(ctx context.Context, timeout time.Duration) (transport.Message, error)
}

// ReceiverService polls for cloud-to-device messages every ReadIntervalInMs.
type ReceiverService struct {
	recv    MessageReceiver
	store   *property.Store
	events  EventRecorder
	log     *logger.Logger
	timeout time.Duration
	sleep   func(ctx context.Context, d time.Duration) bool
}

func NewReceiverService(recv MessageReceiver, store *property.Store, events EventRecorder, log *logger.Logger, timeout time.Duration) *ReceiverService {
	if events == nil {
		events = nopRecorder{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if timeout <= 0 {
		timeout = defaultReceiveTimeout
	}
	return &ReceiverService{
		recv:    recv,
		store:   store,
		events:  events,
		log:     log,
		timeout: timeout,
		sleep:   sleepCtx,
	}
}

// Run polls until ctx is canceled.
func (s *ReceiverService) Run(ctx context.Context) {
	for ctx.Err() == nil {
		s.poll(ctx)

		interval := time.Duration(s.store.Int(property.ReadIntervalInMs)) * time.Millisecond
		if interval < minSleep {
			interval = minSleep
		}
		if !s.sleep(ctx, interval) {
			return
		}
	}
}

func (s *ReceiverService) poll(ctx context.Context) {
	msg, err := s.recv.Receive(ctx, s.timeout)
	switch {
	case err == nil:
		s.log.Infow("c2d_message_received", "topic", msg.Topic, "bytes", len(msg.Payload))
		s.events.Record(ctx, models.EventC2DMessage, "Cloud-to-device message received", map[string]any{
			"topic":   msg.Topic,
			"payload": string(msg.Payload),
		})
	case errors.Is(err, transport.ErrReceiveTimeout):
		s.log.Debugw("c2d_receive_timeout")
	case ctx.Err() != nil:
		// shutting down
	default:
		s.log.Warnw("c2d_receive_failed", "err", err)
	}
}
