package bus

import (
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"segchain/internal/command"
	"segchain/internal/logging"
	"segchain/internal/slot"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	publishErr error
	published  []published
	subscribed map[string]mqtt.MessageHandler
}

func (f *fakeClient) Connect() mqtt.Token {
	f.connected = true
	return doneToken{}
}

func (f *fakeClient) IsConnected() bool { return f.connected }
func (f *fakeClient) Disconnect(uint)   { f.connected = false }

func (f *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr == nil {
		f.published = append(f.published, published{topic: topic, payload: payload.([]byte)})
	}
	return doneToken{err: f.publishErr}
}

func (f *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	if f.subscribed == nil {
		f.subscribed = map[string]mqtt.MessageHandler{}
	}
	f.subscribed[topic] = cb
	return doneToken{}
}

type fakeMessage struct {
	mqtt.Message
	payload []byte
}

func (m fakeMessage) Payload() []byte { return m.payload }

type fixedStatus command.WatchdogStatusList

func (s fixedStatus) Snapshot() command.WatchdogStatusList { return command.WatchdogStatusList(s) }

func newTestBus(teleop bool) (*Bus, *fakeClient, *slot.Slot[command.Command]) {
	op := slot.New[command.Command]()
	b := New(Config{Broker: "127.0.0.1:1883", NodeID: "seg-1", Teleop: teleop}, op, logging.Discard())
	fc := &fakeClient{connected: true}
	b.client = fc
	return b, fc, op
}

func TestTopics(t *testing.T) {
	b, _, _ := newTestBus(false)
	if got := b.Topic("teleop"); got != "segchain/teleop" {
		t.Fatalf("teleop topic = %s", got)
	}
	if got := b.Topic("pilot"); got != "segchain/seg-1/pilot" {
		t.Fatalf("pilot topic = %s", got)
	}
}

func TestTeleopFeedsOperatorSlot(t *testing.T) {
	b, fc, op := newTestBus(true)
	b.onConnect(nil)
	h, ok := fc.subscribed["segchain/teleop"]
	if !ok {
		t.Fatalf("head should subscribe to teleop")
	}
	h(nil, fakeMessage{payload: []byte(`{"steering":0.4,"throttle":0.1,"time":5}`)})
	c, ok := op.Take()
	if !ok || c.Steering != 0.4 || c.Time != 5 {
		t.Fatalf("operator slot got %+v ok=%v", c, ok)
	}
	h(nil, fakeMessage{payload: []byte(`[1,2]`)})
	if _, ok := op.Take(); ok {
		t.Fatalf("invalid payload should not reach the operator slot")
	}
	if _, recv, rej := b.Stats(); recv != 1 || rej != 1 {
		t.Fatalf("received=%d rejected=%d", recv, rej)
	}
}

func TestNonHeadDoesNotSubscribe(t *testing.T) {
	b, fc, _ := newTestBus(false)
	b.onConnect(nil)
	if len(fc.subscribed) != 0 {
		t.Fatalf("unexpected subscriptions %v", fc.subscribed)
	}
	if !b.Connected() {
		t.Fatalf("onConnect should mark the bus connected")
	}
}

func TestPublishPeriod(t *testing.T) {
	b, fc, _ := newTestBus(false)
	b.Put(command.Command{Steering: 0.5, Time: 9})
	b.Put(command.Command{Steering: 0.6, Time: 10})
	b.publishPeriod(fixedStatus{1, 0})
	if len(fc.published) != 2 {
		t.Fatalf("expected pilot and watchdog, got %d", len(fc.published))
	}
	if fc.published[0].topic != "segchain/seg-1/pilot" {
		t.Fatalf("topic = %s", fc.published[0].topic)
	}
	c, err := command.Decode(fc.published[0].payload)
	if err != nil || c.Steering != 0.6 {
		t.Fatalf("latest pilot command should win, got %+v err=%v", c, err)
	}
	if string(fc.published[1].payload) != "[1,0]" {
		t.Fatalf("watchdog payload = %s", fc.published[1].payload)
	}
	// Nothing new for the pilot: only watchdog goes out.
	b.publishPeriod(fixedStatus{1})
	if len(fc.published) != 3 {
		t.Fatalf("expected one more publish, got %d", len(fc.published))
	}
}

func TestPublishErrors(t *testing.T) {
	b, fc, _ := newTestBus(false)
	fc.connected = false
	if err := b.Publish("pilot", []byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	fc.connected = true
	fc.publishErr = errors.New("broker gone")
	if err := b.Publish("pilot", []byte("{}")); err == nil {
		t.Fatalf("expected publish error")
	}
	if pub, _, _ := b.Stats(); pub != 0 {
		t.Fatalf("published = %d", pub)
	}
}
