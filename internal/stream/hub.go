// Package stream fans chart commands out to renderers and other consumers.
package stream

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AllSymbols subscribes to every symbol.
const AllSymbols = ""

// Message is one batch of chart commands produced by a lifecycle call.
type Message struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Commands  []string  `json:"chart_commands"`
	At        time.Time `json:"at"`
}

// HubConfig holds configuration for the Hub.
type HubConfig struct {
	// BufferSize is the size of the internal message channel buffer.
	BufferSize int `mapstructure:"buffer_size"`
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int `mapstructure:"subscriber_buffer_size"`
	// SlowConsumerDropThreshold is the number of consecutive drops before logging.
	SlowConsumerDropThreshold int `mapstructure:"slow_consumer_drop_threshold"`
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:                256,
		SubscriberBufferSize:      64,
		SlowConsumerDropThreshold: 10,
	}
}

// Hub distributes chart command batches to subscribers via channels.
// Publishing never blocks: a full subscriber misses the message.
type Hub struct {
	config      HubConfig
	logger      zerolog.Logger
	mu          sync.RWMutex
	subscribers map[string][]*Subscriber
	msgChan     chan Message
	done        chan struct{}
	started     bool
	consumers   []Consumer
	consumersMu sync.RWMutex
	now         func() time.Time

	// Metrics
	received  uint64
	delivered uint64
	dropped   uint64
	metricsMu sync.RWMutex
}

// Subscriber is a channel subscriber with metadata.
type Subscriber struct {
	ID           string
	Symbol       string
	Channel      chan Message
	DroppedCount int
	CreatedAt    time.Time
}

// NewHub creates a hub with the default configuration.
func NewHub(logger zerolog.Logger) *Hub {
	return NewHubWithConfig(DefaultHubConfig(), logger)
}

// NewHubWithConfig creates a hub with a custom configuration.
func NewHubWithConfig(config HubConfig, logger zerolog.Logger) *Hub {
	defaults := DefaultHubConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = defaults.SubscriberBufferSize
	}
	if config.SlowConsumerDropThreshold <= 0 {
		config.SlowConsumerDropThreshold = defaults.SlowConsumerDropThreshold
	}
	return &Hub{
		config:      config,
		logger:      logger.With().Str("component", "stream_hub").Logger(),
		subscribers: make(map[string][]*Subscriber),
		msgChan:     make(chan Message, config.BufferSize),
		done:        make(chan struct{}),
		now:         time.Now,
	}
}

// Start begins the distribution loop.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	go h.broadcastLoop(ctx)
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case msg := <-h.msgChan:
			h.metricsMu.Lock()
			h.received++
			h.metricsMu.Unlock()

			h.broadcast(msg)
			h.notifyConsumers(msg)
		}
	}
}

// Stop stops the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}
	close(h.done)
	h.started = false

	for symbol, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, symbol)
	}
}

// Subscribe returns a channel receiving the batches for symbol. AllSymbols receives everything.
func (h *Hub) Subscribe(symbol string) <-chan Message {
	return h.SubscribeWithID(symbol, "")
}

// SubscribeWithID adds a named subscriber for symbol.
func (h *Hub) SubscribeWithID(symbol, id string) <-chan Message {
	ch := make(chan Message, h.config.SubscriberBufferSize)
	sub := &Subscriber{
		ID:        id,
		Symbol:    symbol,
		Channel:   ch,
		CreatedAt: h.now(),
	}

	h.mu.Lock()
	h.subscribers[symbol] = append(h.subscribers[symbol], sub)
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (h *Hub) Unsubscribe(symbol string, ch <-chan Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[symbol]
	for i, sub := range subs {
		if sub.Channel == ch {
			close(sub.Channel)
			h.subscribers[symbol] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[symbol]) == 0 {
		delete(h.subscribers, symbol)
	}
}

// Publish queues a command batch for distribution. It implements the lifecycle
// command sink and never blocks; a full hub drops the batch.
func (h *Hub) Publish(symbol, timeframe string, commands []string) {
	if len(commands) == 0 {
		return
	}
	msg := Message{
		Symbol:    symbol,
		Timeframe: timeframe,
		Commands:  append([]string(nil), commands...),
		At:        h.now(),
	}
	select {
	case h.msgChan <- msg:
	default:
		h.metricsMu.Lock()
		h.dropped++
		h.metricsMu.Unlock()
		h.logger.Warn().Str("symbol", symbol).Int("commands", len(commands)).Msg("Hub buffer full, dropping chart commands")
	}
}

// broadcast sends msg to the symbol's subscribers and to wildcard subscribers.
func (h *Hub) broadcast(msg Message) {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subscribers[msg.Symbol])+len(h.subscribers[AllSymbols]))
	targets = append(targets, h.subscribers[msg.Symbol]...)
	if msg.Symbol != AllSymbols {
		targets = append(targets, h.subscribers[AllSymbols]...)
	}

	for _, sub := range targets {
		select {
		case sub.Channel <- msg:
			sub.DroppedCount = 0
			h.metricsMu.Lock()
			h.delivered++
			h.metricsMu.Unlock()
		default:
			sub.DroppedCount++
			h.metricsMu.Lock()
			h.dropped++
			h.metricsMu.Unlock()
			if sub.DroppedCount == h.config.SlowConsumerDropThreshold {
				h.logger.Warn().Str("subscriber", sub.ID).Str("symbol", sub.Symbol).Msg("Slow consumer is dropping chart commands")
			}
		}
	}
	h.mu.RUnlock()
}

// SubscriberCount returns the number of subscribers for a symbol.
func (h *Hub) SubscriberCount(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[symbol])
}

// TotalSubscriberCount returns the number of subscribers across all symbols.
func (h *Hub) TotalSubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, subs := range h.subscribers {
		count += len(subs)
	}
	return count
}

// SubscribedSymbols returns the symbols with active subscribers, sorted.
func (h *Hub) SubscribedSymbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	symbols := make([]string, 0, len(h.subscribers))
	for symbol := range h.subscribers {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	Received    uint64 `json:"received"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
	Symbols     int    `json:"symbols"`
}

// Metrics returns a snapshot of the hub counters.
func (h *Hub) Metrics() HubMetrics {
	h.metricsMu.RLock()
	m := HubMetrics{Received: h.received, Delivered: h.delivered, Dropped: h.dropped}
	h.metricsMu.RUnlock()

	m.Subscribers = h.TotalSubscriberCount()
	m.Symbols = len(h.SubscribedSymbols())
	return m
}

// IsStarted reports whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// Consumer processes command batches outside the channel subscribers.
type Consumer interface {
	// OnMessage is called for each batch.
	OnMessage(msg Message)
	// Symbols returns the symbols this consumer wants; empty means all.
	Symbols() []string
}

// RegisterConsumer adds a consumer. Each delivery runs in its own goroutine.
func (h *Hub) RegisterConsumer(consumer Consumer) {
	h.consumersMu.Lock()
	h.consumers = append(h.consumers, consumer)
	h.consumersMu.Unlock()
}

func (h *Hub) notifyConsumers(msg Message) {
	h.consumersMu.RLock()
	consumers := make([]Consumer, len(h.consumers))
	copy(consumers, h.consumers)
	h.consumersMu.RUnlock()

	for _, consumer := range consumers {
		symbols := consumer.Symbols()
		if len(symbols) == 0 || containsSymbol(symbols, msg.Symbol) {
			go consumer.OnMessage(msg)
		}
	}
}

func containsSymbol(symbols []string, symbol string) bool {
	for _, s := range symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc struct {
	symbols []string
	fn      func(Message)
}

// NewConsumerFunc creates a ConsumerFunc.
func NewConsumerFunc(symbols []string, fn func(Message)) *ConsumerFunc {
	return &ConsumerFunc{symbols: symbols, fn: fn}
}

// OnMessage implements Consumer.
func (c *ConsumerFunc) OnMessage(msg Message) {
	if c.fn != nil {
		c.fn(msg)
	}
}

// Symbols implements Consumer.
func (c *ConsumerFunc) Symbols() []string {
	return c.symbols
}
