package mqtt

import (
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is an already completed paho token.
type fakeToken struct {
	err  error
	done chan struct{}
}

func completedToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeBroker implements pahomqtt.Client. onPublish may answer a publish by
// delivering messages through deliver.
type fakeBroker struct {
	mu         sync.Mutex
	open       bool
	published  []published
	filters    map[string]byte
	handler    pahomqtt.MessageHandler
	publishErr error
	connectErr error
	subErr     error
	hang       bool
	onPublish  func(b *fakeBroker, p published)
	disconnect int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{open: true}
}

func (b *fakeBroker) IsConnected() bool      { return b.IsConnectionOpen() }
func (b *fakeBroker) IsConnectionOpen() bool { b.mu.Lock(); defer b.mu.Unlock(); return b.open }
func (b *fakeBroker) Connect() pahomqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	return completedToken(b.connectErr)
}
func (b *fakeBroker) Disconnect(uint) {
	b.mu.Lock()
	b.open = false
	b.disconnect++
	b.mu.Unlock()
}

func (b *fakeBroker) Publish(topic string, qos byte, _ bool, payload interface{}) pahomqtt.Token {
	p := published{topic: topic, qos: qos, payload: payload.([]byte)}
	b.mu.Lock()
	b.published = append(b.published, p)
	onPublish, err, hang := b.onPublish, b.publishErr, b.hang
	b.mu.Unlock()

	if hang {
		return pendingToken()
	}
	if err == nil && onPublish != nil {
		go onPublish(b, p)
	}
	return completedToken(err)
}

func (b *fakeBroker) Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	return b.SubscribeMultiple(map[string]byte{topic: qos}, callback)
}

func (b *fakeBroker) SubscribeMultiple(filters map[string]byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subErr != nil {
		return completedToken(b.subErr)
	}
	if b.filters == nil {
		b.filters = map[string]byte{}
	}
	for f, q := range filters {
		b.filters[f] = q
	}
	b.handler = callback
	return completedToken(nil)
}

func (b *fakeBroker) Unsubscribe(...string) pahomqtt.Token { return completedToken(nil) }

func (b *fakeBroker) AddRoute(string, pahomqtt.MessageHandler) {}

func (b *fakeBroker) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

// deliver hands a message to the subscribed handler.
func (b *fakeBroker) deliver(topic string, payload []byte) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h != nil {
		h(b, fakeMessage{topic: topic, payload: payload})
	}
}

func (b *fakeBroker) publishedTo(prefix string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, p := range b.published {
		if strings.HasPrefix(p.topic, prefix) {
			out = append(out, p)
		}
	}
	return out
}

// ridOf extracts the $rid query parameter of a twin request topic.
func ridOf(topic string) string {
	_, rid, _ := strings.Cut(topic, "$rid=")
	return rid
}
