package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/nebenuhr/internal/logic"
)

const (
	bufferCapacity = 100
	queueSize      = 32
	publishTimeout = 5 * time.Second
)

// client is the part of paho.Client the publisher uses.
type client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Options configures the broker connection.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// RealPublisher publishes to a broker from a background worker so callers
// never wait on the network. Messages produced while disconnected are kept
// in a bounded buffer and replayed on reconnect.
type RealPublisher struct {
	client client
	topics Topics
	log    zerolog.Logger

	queue     chan bufferedMsg
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu  sync.Mutex
	buf *ringBuffer
}

// NewRealPublisher starts connecting to the broker in the background and
// returns immediately. The broker holds a retained OFFLINE will.
func NewRealPublisher(opt Options, log zerolog.Logger) *RealPublisher {
	topics := TopicsFor(opt.TopicPrefix)
	var p *RealPublisher

	opts := paho.NewClientOptions().
		AddBroker(opt.Broker).
		SetClientID(opt.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(topics.System, string(WillPayload()), 1, true).
		SetOnConnectHandler(func(paho.Client) {
			log.Info().Str("broker", opt.Broker).Msg("mqtt connected")
			p.replay()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("mqtt connection lost")
		})

	c := paho.NewClient(opts)
	p = newPublisher(c, topics, log)
	c.Connect()
	return p
}

func newPublisher(c client, topics Topics, log zerolog.Logger) *RealPublisher {
	p := &RealPublisher{
		client: c,
		topics: topics,
		log:    log,
		queue:  make(chan bufferedMsg, queueSize),
		done:   make(chan struct{}),
		buf:    newRingBuffer(bufferCapacity, log),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Publish queues a clock event (QoS 0, not retained).
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	p.enqueue(bufferedMsg{topic: p.topics.Events, payload: payload})
	return nil
}

// PublishSystem queues a lifecycle event (QoS 1).
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	p.enqueue(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a reconnect.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close sends whatever is queued, then disconnects.
func (p *RealPublisher) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		p.client.Disconnect(1000)
	})
	return nil
}

func (p *RealPublisher) enqueue(msg bufferedMsg) {
	select {
	case p.queue <- msg:
	default:
		p.hold(msg)
	}
}

func (p *RealPublisher) hold(msg bufferedMsg) {
	p.mu.Lock()
	p.buf.push(msg)
	p.mu.Unlock()
}

func (p *RealPublisher) replay() {
	p.mu.Lock()
	msgs := p.buf.drainAll()
	p.mu.Unlock()
	if len(msgs) > 0 {
		p.log.Info().Int("count", len(msgs)).Msg("mqtt replaying buffered messages")
	}
	for _, m := range msgs {
		p.enqueue(m)
	}
}

func (p *RealPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case msg := <-p.queue:
			p.send(msg)
		case <-p.done:
			for {
				select {
				case msg := <-p.queue:
					p.send(msg)
				default:
					return
				}
			}
		}
	}
}

func (p *RealPublisher) send(msg bufferedMsg) {
	if !p.client.IsConnectionOpen() {
		p.hold(msg)
		return
	}
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		p.log.Warn().Str("topic", msg.topic).Msg("mqtt publish timeout")
		p.hold(msg)
		return
	}
	if err := token.Error(); err != nil {
		p.log.Warn().Err(err).Str("topic", msg.topic).Msg("mqtt publish failed")
		p.hold(msg)
	}
}
