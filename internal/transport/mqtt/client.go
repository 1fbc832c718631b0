package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"factory_device/internal/logger"
	"factory_device/internal/models"
	"factory_device/internal/transport"
)

// Client is a transport.Connection speaking the IoT hub device topics over paho.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Dial subscribes before returning; the connect handler restores subscriptions after a reconnect.
type Client struct {
	client pahomqtt.Client
	cfg    Config
	topics Topics
	log    *logger.Logger

	// pending maps a twin request id to the channel awaiting its response.
	pending   map[string]chan twinResponse
	pendingMu sync.Mutex

	inbox chan transport.Message

	desired   transport.DesiredHandler
	desiredMu sync.RWMutex

	// sessions counts connect handler runs; the first one is covered by connect.
	sessions atomic.Int32

	closed    chan struct{}
	closeOnce sync.Once
}

var _ transport.Connection = (*Client)(nil)

// Dial connects to the hub and subscribes to the device topics.
func Dial(cfg Config, creds Credentials, log *logger.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	opts, err := buildClientOptions(cfg, creds)
	if err != nil {
		return nil, err
	}

	c := newClient(cfg, log)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		// the first session is subscribed by connect
		if c.sessions.Add(1) == 1 {
			return
		}
		if err := c.subscribe(); err != nil {
			c.log.Errorw("mqtt_resubscribe_failed", "err", err)
			return
		}
		c.log.Infow("mqtt_reconnected", "host", cfg.Host, "device_id", cfg.DeviceID)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.log.Warnw("mqtt_connection_lost", "host", cfg.Host, "err", err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.log.Infow("mqtt_reconnecting", "host", cfg.Host)
	})

	c.client = pahomqtt.NewClient(opts)
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// connect opens the session and subscribes before returning. paho runs the
// connect handler on its own goroutine, so a twin request sent right after
// Connect could otherwise miss its response.
func (c *Client) connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", transport.ErrConnectFailed, c.cfg.Host, c.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", transport.ErrConnectFailed, c.cfg.Host, err)
	}
	if err := c.subscribe(); err != nil {
		c.client.Disconnect(defaultDisconnectQuiesce)
		return fmt.Errorf("%w: %s: %w", transport.ErrConnectFailed, c.cfg.Host, err)
	}
	c.log.Infow("mqtt_connected", "host", c.cfg.Host, "device_id", c.cfg.DeviceID)
	return nil
}

// newClient builds an unconnected Client. Dial attaches the paho client.
func newClient(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		cfg:     cfg,
		topics:  Topics{DeviceID: cfg.DeviceID},
		log:     log.With("device_id", cfg.DeviceID, "host", cfg.Host),
		pending: make(map[string]chan twinResponse),
		inbox:   make(chan transport.Message, cfg.InboxSize),
		closed:  make(chan struct{}),
	}
}

// subscribe registers the cloud-to-device, twin response and desired patch filters.
func (c *Client) subscribe() error {
	filters := map[string]byte{
		c.topics.CloudToDevice():  c.cfg.QoS,
		c.topics.TwinResponses():  0,
		c.topics.DesiredPatches(): 0,
	}
	token := c.client.SubscribeMultiple(filters, c.wrapHandler(c.route))
	if !token.WaitTimeout(c.cfg.RequestTimeout) {
		return fmt.Errorf("subscribe: %w", ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// route dispatches an inbound message by topic.
func (c *Client) route(topic string, payload []byte) error {
	switch {
	case strings.HasPrefix(topic, twinResponsePrefix):
		return c.handleTwinResponse(topic, payload)
	case strings.HasPrefix(topic, twinDesiredPrefix):
		return c.handleDesiredPatch(payload)
	default:
		c.handleCloudToDevice(topic, payload)
		return nil
	}
}

func (c *Client) handleCloudToDevice(topic string, payload []byte) {
	msg := transport.Message{Topic: topic, Payload: append([]byte(nil), payload...), ReceivedAt: time.Now().UTC()}
	select {
	case c.inbox <- msg:
	default:
		c.log.Warnw("c2d_inbox_full", "topic", topic)
	}
}

func (c *Client) handleDesiredPatch(payload []byte) error {
	doc, err := models.ParseDesired(payload)
	if err != nil {
		return fmt.Errorf("desired patch: %w", err)
	}
	c.desiredMu.RLock()
	handler := c.desired
	c.desiredMu.RUnlock()
	if handler == nil {
		c.log.Debugw("desired_patch_unhandled", "version", doc.Version)
		return nil
	}
	handler(doc)
	return nil
}

// wrapHandler wraps a handler with panic recovery and logging.
func (c *Client) wrapHandler(handler func(topic string, payload []byte) error) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log.Errorw("mqtt_handler_panic", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.log.Warnw("mqtt_handler_failed", "topic", msg.Topic(), "err", err)
		}
	}
}

// SendTelemetry publishes one telemetry payload.
func (c *Client) SendTelemetry(ctx context.Context, payload []byte) error {
	if err := c.publish(ctx, c.topics.Telemetry(), c.cfg.QoS, payload); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrSendFailed, err)
	}
	return nil
}

// Receive waits up to timeout for a cloud-to-device message.
func (c *Client) Receive(ctx context.Context, timeout time.Duration) (transport.Message, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-t.C:
		return transport.Message{}, transport.ErrReceiveTimeout
	case <-c.closed:
		return transport.Message{}, transport.ErrClosed
	case <-ctx.Done():
		return transport.Message{}, ctx.Err()
	}
}

// OnDesiredChanged registers the callback for desired-property patches.
// A later call replaces the earlier handler.
func (c *Client) OnDesiredChanged(handler transport.DesiredHandler) error {
	c.desiredMu.Lock()
	c.desired = handler
	c.desiredMu.Unlock()
	return nil
}

// Close disconnects from the broker. Pending requests fail with ErrClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.client != nil {
			c.client.Disconnect(defaultDisconnectQuiesce)
		}
	})
	return nil
}

// publish sends payload and waits for the broker acknowledgment.
func (c *Client) publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	if !c.client.IsConnectionOpen() {
		return transport.ErrNotConnected
	}
	return c.wait(ctx, c.client.Publish(topic, qos, false, payload))
}

// wait blocks until token completes, ctx ends or the request timeout passes.
func (c *Client) wait(ctx context.Context, token pahomqtt.Token) error {
	t := time.NewTimer(c.cfg.RequestTimeout)
	defer t.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-t.C:
		return fmt.Errorf("%w after %v", ErrTimeout, c.cfg.RequestTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
