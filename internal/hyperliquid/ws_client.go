package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/logger"
	"github.com/hlindexer/pnl-indexer/internal/ratebudget"

	"github.com/gorilla/websocket"
)

// MaxUserFillsSubscriptions is the upstream's per-connection cap on
// userFills subscriptions (one connection per process).
const MaxUserFillsSubscriptions = 10

const (
	maxSubscribesPerReplayTick = 5
	replayTickInterval         = 200 * time.Millisecond
	pingInterval               = 30 * time.Second
	maxMissedPongs             = 2
)

// subscriptionKey identifies one logical channel so inbound frames can be
// demultiplexed and so reconnect can replay exactly the registered set.
type subscriptionKey struct {
	channel string
	ident   string // coin or user address, empty for allMids
}

func keyFor(sub Subscription) subscriptionKey {
	ident := sub.User
	if ident == "" {
		ident = sub.Coin
	}
	return subscriptionKey{channel: sub.Type, ident: ident}
}

// WSClient maintains a single long-lived connection to the upstream,
// replaying subscriptions on reconnect and fanning inbound frames out to
// per-subscription channels.
type WSClient struct {
	url    string
	budget *ratebudget.Budget

	mu            sync.Mutex
	conn          *websocket.Conn
	subscriptions map[subscriptionKey]Subscription
	queues        map[subscriptionKey]chan []byte
	missedPongs   int
	closed        bool

	sendCh chan []byte
}

// NewWSClient creates a client that will not dial until Run is called.
func NewWSClient(url string, budget *ratebudget.Budget) *WSClient {
	return &WSClient{
		url:           url,
		budget:        budget,
		subscriptions: make(map[subscriptionKey]Subscription),
		queues:        make(map[subscriptionKey]chan []byte),
		sendCh:        make(chan []byte, 256),
	}
}

// Run dials and maintains the connection until ctx is cancelled,
// reconnecting with exponential backoff and jitter on every disconnect.
func (c *WSClient) Run(ctx context.Context) {
	backoff := 1 * time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.connectAndServe(ctx); err != nil {
			logger.Warn("websocket session ended", "error", err.Error())
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		jitter := 0.8 + rand.Float64()*0.4
		wait := time.Duration(float64(backoff) * jitter)
		if wait > maxBackoff {
			wait = maxBackoff
		}
		logger.Info("websocket reconnecting", "delay", wait.String())

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *WSClient) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.missedPongs = 0
	c.mu.Unlock()

	defer func() {
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.missedPongs = 0
		c.mu.Unlock()
		return nil
	})

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		c.readLoop(conn)
	}()

	go c.replaySubscriptions(ctx)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-readerDone:
			return fmt.Errorf("read loop exited")

		case msg := <-c.sendCh:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return fmt.Errorf("write failed: %w", err)
			}

		case <-ticker.C:
			c.mu.Lock()
			c.missedPongs++
			missed := c.missedPongs
			c.mu.Unlock()
			if missed > maxMissedPongs {
				return fmt.Errorf("missed %d pongs", missed)
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
		}
	}
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.dispatch(message)
	}
}

func (c *WSClient) dispatch(message []byte) {
	var envelope struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		logger.Warn("failed to decode websocket frame, skipping", "error", err.Error())
		return
	}
	if envelope.Channel == "subscriptionResponse" || envelope.Channel == "pong" {
		return
	}

	ident := identFromData(envelope.Data)
	key := subscriptionKey{channel: envelope.Channel, ident: ident}

	c.mu.Lock()
	queue, ok := c.queues[key]
	c.mu.Unlock()
	if !ok {
		return
	}

	select {
	case queue <- envelope.Data:
	default:
		logger.Warn("subscription queue full, dropping frame", "channel", envelope.Channel, "ident", ident)
	}
}

// identFromData best-effort extracts a "coin" or "user" field from a raw
// channel payload, used only to route to the right per-subscription queue.
func identFromData(raw json.RawMessage) string {
	var probe struct {
		Coin string `json:"coin"`
		User string `json:"user"`
	}
	_ = json.Unmarshal(raw, &probe)
	if probe.User != "" {
		return probe.User
	}
	return probe.Coin
}

// Subscribe registers sub, returning a channel of raw JSON payloads for
// that channel. Subscribes are queued while disconnected and replayed once
// the connection is (re)established.
func (c *WSClient) Subscribe(sub Subscription) <-chan []byte {
	key := keyFor(sub)

	c.mu.Lock()
	if ch, ok := c.queues[key]; ok {
		c.mu.Unlock()
		return ch
	}
	ch := make(chan []byte, 256)
	c.subscriptions[key] = sub
	c.queues[key] = ch
	connected := c.conn != nil
	c.mu.Unlock()

	if connected {
		c.sendSubscribe(sub)
	}
	return ch
}

// Unsubscribe drops the queue for sub and sends an unsubscribe frame so any
// downstream reader ranging over the channel terminates.
func (c *WSClient) Unsubscribe(sub Subscription) {
	key := keyFor(sub)

	c.mu.Lock()
	ch, ok := c.queues[key]
	delete(c.subscriptions, key)
	delete(c.queues, key)
	c.mu.Unlock()

	if ok {
		close(ch)
	}

	frame, err := json.Marshal(SubscribeMessage{Method: "unsubscribe", Subscription: sub})
	if err != nil {
		return
	}
	select {
	case c.sendCh <- frame:
	default:
		logger.Warn("send queue full, dropped unsubscribe frame", "channel", sub.Type)
	}
}

// ActiveUserFillsCount reports how many userFills subscriptions are
// currently registered, used by the Hybrid Ingestion Stream to enforce the
// 10-address cap.
func (c *WSClient) ActiveUserFillsCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key := range c.subscriptions {
		if key.channel == "userFills" {
			count++
		}
	}
	return count
}

func (c *WSClient) sendSubscribe(sub Subscription) {
	frame, err := json.Marshal(SubscribeMessage{Method: "subscribe", Subscription: sub})
	if err != nil {
		return
	}
	select {
	case c.sendCh <- frame:
	default:
		logger.Warn("send queue full, dropped subscribe frame", "channel", sub.Type)
	}
}

// replaySubscriptions sends every registered subscription after a (re)connect,
// staggered at maxSubscribesPerReplayTick per tick so the reconnect storm
// does not exceed the rate budget.
func (c *WSClient) replaySubscriptions(ctx context.Context) {
	c.mu.Lock()
	subs := make([]Subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	ticker := time.NewTicker(replayTickInterval)
	defer ticker.Stop()

	for i := 0; i < len(subs); i += maxSubscribesPerReplayTick {
		end := i + maxSubscribesPerReplayTick
		if end > len(subs) {
			end = len(subs)
		}
		for _, sub := range subs[i:end] {
			if err := c.budget.Withdraw(ctx, ratebudget.WeightWSSubscribe); err != nil {
				return
			}
			c.sendSubscribe(sub)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
