package kucoin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/recws-org/recws"
	"go.uber.org/zap"

	"github.com/finwatch/go-orderbook-sync/domain"
)

// connOpts is the bullet token handshake payload: the token plus the
// websocket instance servers the client may dial.
type connOpts struct {
	Token           string `json:"token"`
	InstanceServers []struct {
		Endpoint     string `json:"endpoint"`
		Protocol     string `json:"protocol"`
		PingInterval int    `json:"pingInterval"`
		PingTimeout  int    `json:"pingTimeout"`
	} `json:"instanceServers"`
}

type wsMessage struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Topic          string `json:"topic,omitempty"`
	PrivateChannel bool   `json:"privateChannel,omitempty"`
	Response       bool   `json:"response,omitempty"`
}

type wsFrame struct {
	ID    string          `json:"id"`
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

type subscriptionEntry struct {
	ch              chan []byte
	subscriberCount int
}

// StreamClient speaks the KuCoin public websocket protocol: bullet token
// handshake, client-driven ping, topic multiplexing.
type StreamClient struct {
	syncAPI *SyncAPI
	log     *zap.Logger

	conn         *recws.RecConn
	pingInterval time.Duration

	mu            sync.Mutex
	subscriptions map[string]*subscriptionEntry
	done          chan struct{}
}

func NewStreamClient(syncAPI *SyncAPI, log *zap.Logger) *StreamClient {
	if log == nil {
		log = zap.NewNop()
	}

	return &StreamClient{
		syncAPI:       syncAPI,
		log:           log.Named("kucoin-stream"),
		subscriptions: make(map[string]*subscriptionEntry),
		done:          make(chan struct{}),
	}
}

func (c *StreamClient) Connect() error {
	resp, err := c.syncAPI.svc.WebSocketPublicToken()
	if err != nil {
		return fmt.Errorf("request websocket token: %w", err)
	}

	var opts connOpts
	if err := json.Unmarshal(resp.RawData, &opts); err != nil {
		return fmt.Errorf("decode websocket token response: %w", err)
	}
	if len(opts.InstanceServers) == 0 {
		return fmt.Errorf("websocket token response has no instance servers")
	}

	server := opts.InstanceServers[0]
	c.pingInterval = time.Duration(server.PingInterval) * time.Millisecond
	if c.pingInterval <= 0 {
		c.pingInterval = 30 * time.Second
	}

	endpoint := fmt.Sprintf("%s?token=%s&connectId=%s", server.Endpoint, opts.Token, requestID())
	conn := &recws.RecConn{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 5 * time.Second,
	}
	conn.Dial(endpoint, nil)
	c.conn = conn

	go c.read()
	go c.ping()

	c.log.Info("connected", zap.String("endpoint", server.Endpoint))
	return nil
}

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
		err := c.conn.WriteJSON(wsMessage{
			ID:       requestID(),
			Type:     "subscribe",
			Topic:    topic,
			Response: true,
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

	err := c.conn.WriteJSON(wsMessage{
		ID:    requestID(),
		Type:  "unsubscribe",
		Topic: topic,
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

func (c *StreamClient) ping() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			err := c.conn.WriteJSON(wsMessage{ID: requestID(), Type: "ping"})
			if err != nil {
				c.log.Warn("ping failed", zap.Error(err))
			}
		}
	}
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
			c.log.Warn("read failed", zap.Error(err))
			continue
		}

		var frame wsFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			c.log.Warn("unparsable frame", zap.Error(err))
			continue
		}

		switch frame.Type {
		case "welcome", "ack", "pong":
			c.log.Debug("control frame", zap.String("type", frame.Type), zap.String("id", frame.ID))
		case "message":
			c.mu.Lock()
			entry, ok := c.subscriptions[frame.Topic]
			c.mu.Unlock()
			if !ok {
				continue
			}

			select {
			case entry.ch <- frame.Data:
			default:
				c.log.Warn("subscriber too slow, dropping frame", zap.String("topic", frame.Topic))
			}
		case "error":
			c.log.Warn("server error frame", zap.ByteString("frame", msg))
		}
	}
}

func requestID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
