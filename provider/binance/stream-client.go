package binance

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/recws-org/recws"
	"go.uber.org/zap"

	"github.com/finwatch/go-orderbook-sync/domain"
)

const (
	DefaultStreamEndpoint = "wss://stream.binance.com:9443/stream"
	// Binance disconnects idle connections after 10 minutes.
	pingDelay = 9 * time.Minute
)

type wsRequest struct {
	ID     int      `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type subscriptionEntry struct {
	ch              chan []byte
	subscriberCount int
}

// StreamClient multiplexes topic subscriptions over one reconnecting
// combined-stream websocket connection.
type StreamClient struct {
	endpoint string
	conn     *recws.RecConn
	log      *zap.Logger

	mu            sync.Mutex
	subscriptions map[string]*subscriptionEntry
	done          chan struct{}
}

func NewStreamClient(endpoint string, log *zap.Logger) *StreamClient {
	if endpoint == "" {
		endpoint = DefaultStreamEndpoint
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &StreamClient{
		endpoint:      endpoint,
		log:           log.Named("binance-stream"),
		subscriptions: make(map[string]*subscriptionEntry),
		done:          make(chan struct{}),
	}
}

func (c *StreamClient) Connect() error {
	conn := &recws.RecConn{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 5 * time.Second,
		KeepAliveTimeout: pingDelay,
	}
	conn.Dial(c.endpoint, nil)

	c.conn = conn
	go c.read()

	c.log.Info("connected", zap.String("endpoint", c.endpoint))
	return nil
}

// Subscribe joins a stream topic, reusing the subscription when the topic is
// already live.
func (c *StreamClient) Subscribe(topic string) (*domain.Subscription[[]byte], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("stream client is not connected")
	}

	entry, ok := c.subscriptions[topic]
	if ok {
		entry.subscriberCount++
	} else {
		entry = &subscriptionEntry{
			ch:              make(chan []byte, 256),
			subscriberCount: 1,
		}
		c.subscriptions[topic] = entry

		c.log.Info("subscribing", zap.String("topic", topic))
		err := c.conn.WriteJSON(wsRequest{
			ID:     requestID(),
			Method: "SUBSCRIBE",
			Params: []string{topic},
		})
		if err != nil {
			delete(c.subscriptions, topic)
			return nil, fmt.Errorf("send subscribe for topic %s: %w", topic, err)
		}
	}

	return &domain.Subscription[[]byte]{
		Stream:      entry.ch,
		Topic:       topic,
		Unsubscribe: func() { c.unsubscribe(topic) },
	}, nil
}

func (c *StreamClient) unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.subscriptions[topic]
	if !ok {
		return
	}

	if entry.subscriberCount > 1 {
		entry.subscriberCount--
		return
	}

	c.log.Info("unsubscribing", zap.String("topic", topic))
	close(entry.ch)
	delete(c.subscriptions, topic)

	err := c.conn.WriteJSON(wsRequest{
		ID:     requestID(),
		Method: "UNSUBSCRIBE",
		Params: []string{topic},
	})
	if err != nil {
		c.log.Warn("failed to send unsubscribe", zap.String("topic", topic), zap.Error(err))
	}
}

func (c *StreamClient) Close() error {
	close(c.done)
	c.conn.Close()
	return nil
}

// envelope is the combined-stream frame: subscription acks carry an id,
// data frames carry the originating stream name.
type envelope struct {
	Stream string `json:"stream"`
	ID     *int   `json:"id"`
}

func (c *StreamClient) read() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			// recws redials behind ReadMessage; just try again.
			c.log.Warn("read failed", zap.Error(err))
			continue
		}

		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.log.Warn("unparsable frame", zap.Error(err))
			continue
		}

		if env.ID != nil {
			c.log.Debug("command ack", zap.Int("id", *env.ID))
			continue
		}
		if env.Stream == "" {
			continue
		}

		c.mu.Lock()
		entry, ok := c.subscriptions[env.Stream]
		c.mu.Unlock()
		if !ok {
			continue
		}

		select {
		case entry.ch <- msg:
		default:
			c.log.Warn("subscriber too slow, dropping frame", zap.String("topic", env.Stream))
		}
	}
}

func requestID() int {
	return 10000 + rand.Intn(9989999)
}
