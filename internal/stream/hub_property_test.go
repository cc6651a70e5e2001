package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
)

func batch(i int) []string {
	return []string{fmt.Sprintf("ANNOTATE:PATTERN:p_%d:pending", i)}
}

// Property: every fast subscriber of a symbol receives every published batch
// for that symbol, in publish order.
func TestProperty_AllSubscribersReceiveBatches(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)
	symbols := []string{"ACME", "GLOBEX", "INITECH"}

	properties.Property("fast subscribers receive all batches in order", prop.ForAll(
		func(subscriberCount, batchCount, symbolIdx int) bool {
			symbol := symbols[symbolIdx]
			hub := NewHubWithConfig(HubConfig{BufferSize: 100, SubscriberBufferSize: 100}, zerolog.Nop())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			hub.Start(ctx)
			defer hub.Stop()

			channels := make([]<-chan Message, subscriberCount)
			for i := range channels {
				channels[i] = hub.Subscribe(symbol)
			}

			for i := 0; i < batchCount; i++ {
				hub.Publish(symbol, "1d", batch(i))
			}

			for _, ch := range channels {
				for i := 0; i < batchCount; i++ {
					select {
					case msg := <-ch:
						if msg.Symbol != symbol || msg.Commands[0] != batch(i)[0] {
							return false
						}
					case <-time.After(2 * time.Second):
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 5),
		gen.IntRange(1, 20),
		gen.IntRange(0, len(symbols)-1),
	))

	properties.TestingRun(t)
}

// Property: a subscriber that never reads does not stop others from receiving.
func TestProperty_SlowConsumersDoNotBlockOthers(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("slow consumers do not block fast consumers", prop.ForAll(
		func(batchCount int) bool {
			hub := NewHubWithConfig(HubConfig{BufferSize: 100, SubscriberBufferSize: 2}, zerolog.Nop())
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			hub.Start(ctx)
			defer hub.Stop()

			fast := hub.Subscribe("ACME")
			_ = hub.Subscribe("ACME")

			var received int64
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				timeout := time.After(2 * time.Second)
				for {
					select {
					case _, ok := <-fast:
						if !ok {
							return
						}
						if atomic.AddInt64(&received, 1) >= int64(batchCount) {
							return
						}
					case <-timeout:
						return
					}
				}
			}()

			for i := 0; i < batchCount; i++ {
				hub.Publish("ACME", "5m", batch(i))
				time.Sleep(time.Millisecond)
			}
			wg.Wait()
			return atomic.LoadInt64(&received) > 0
		},
		gen.IntRange(5, 20),
	))

	properties.TestingRun(t)
}

// Property: symbol subscribers only see their symbol; wildcard subscribers see everything.
func TestProperty_SubscribersReceiveOwnSymbol(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)
	symbols := []string{"ACME", "GLOBEX", "INITECH", "UMBRELLA"}

	properties.Property("routing by symbol", prop.ForAll(
		func(subscribedIdx, publishedIdx int) bool {
			subscribed, published := symbols[subscribedIdx], symbols[publishedIdx]
			hub := NewHub(zerolog.Nop())
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			hub.Start(ctx)
			defer hub.Stop()

			own := hub.Subscribe(subscribed)
			all := hub.Subscribe(AllSymbols)
			hub.Publish(published, "1H", batch(0))

			select {
			case msg := <-all:
				if msg.Symbol != published {
					return false
				}
			case <-time.After(time.Second):
				return false
			}

			select {
			case msg := <-own:
				return msg.Symbol == subscribed && subscribed == published
			case <-time.After(50 * time.Millisecond):
				return subscribed != published
			}
		},
		gen.IntRange(0, len(symbols)-1),
		gen.IntRange(0, len(symbols)-1),
	))

	properties.TestingRun(t)
}

func TestHub_PublishSkipsEmptyBatches(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Publish("ACME", "1d", nil)
	if m := hub.Metrics(); m.Received != 0 || m.Dropped != 0 {
		t.Errorf("empty batch should not be queued: %+v", m)
	}
}

func TestHub_PublishDropsWhenFull(t *testing.T) {
	hub := NewHubWithConfig(HubConfig{BufferSize: 1}, zerolog.Nop())
	hub.Publish("ACME", "1d", batch(0))
	hub.Publish("ACME", "1d", batch(1))
	if got := hub.Metrics().Dropped; got != 1 {
		t.Errorf("expected one dropped batch, got %d", got)
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ch := hub.Subscribe("ACME")
	if hub.SubscriberCount("ACME") != 1 {
		t.Fatal("expected one subscriber")
	}
	hub.Unsubscribe("ACME", ch)
	if _, ok := <-ch; ok {
		t.Error("expected closed channel")
	}
	if hub.TotalSubscriberCount() != 0 || len(hub.SubscribedSymbols()) != 0 {
		t.Error("subscriber not removed")
	}
}

func TestHub_ConsumersFilterBySymbol(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)
	defer hub.Stop()

	got := make(chan Message, 4)
	hub.RegisterConsumer(NewConsumerFunc([]string{"GLOBEX"}, func(m Message) { got <- m }))

	hub.Publish("ACME", "1d", batch(0))
	hub.Publish("GLOBEX", "1d", batch(1))

	select {
	case m := <-got:
		if m.Symbol != "GLOBEX" {
			t.Errorf("consumer received %s", m.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer received nothing")
	}
	select {
	case m := <-got:
		t.Errorf("unexpected second delivery %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}
