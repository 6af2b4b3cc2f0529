// Package events publishes hotspot session transitions to Redis.
//
// Every transition is sent as JSON on a pub/sub channel, and the latest
// one is kept in a hash (<channel>:state) so a consumer that starts late
// can read the current state without waiting for the next change.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

// DefaultChannel is the pub/sub channel transitions are published on.
const DefaultChannel = "hotspot:events"

const (
	queueSize      = 64
	publishTimeout = 2 * time.Second
)

// Publisher sends transitions to Redis. Notify never blocks the caller;
// Run does the network work.
type Publisher struct {
	client   *redis.Client
	channel  string
	stateKey string
	queue    chan hotspot.Transition
}

// NewPublisher creates a publisher for the Redis server at addr. An empty
// channel uses DefaultChannel.
func NewPublisher(addr, channel string) *Publisher {
	return newPublisher(redis.NewClient(&redis.Options{Addr: addr}), channel, queueSize)
}

func newPublisher(client *redis.Client, channel string, size int) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{
		client:   client,
		channel:  channel,
		stateKey: channel + ":state",
		queue:    make(chan hotspot.Transition, size),
	}
}

// Connect tests the connection
func (p *Publisher) Connect(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("events: redis %s: %w", p.client.Options().Addr, err)
	}
	return nil
}

// Close closes the connection
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Notify queues t for publishing. When the queue is full the transition
// is dropped and logged.
func (p *Publisher) Notify(t hotspot.Transition) {
	select {
	case p.queue <- t:
	default:
		util.WithField("channel", p.channel).Warnf("event queue full, dropped %s -> %s", t.From, t.To)
	}
}

// Run publishes queued transitions in order until ctx is cancelled, then
// flushes what is still queued.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case t := <-p.queue:
			p.publishLogged(t)
		case <-ctx.Done():
			for {
				select {
				case t := <-p.queue:
					p.publishLogged(t)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) publishLogged(t hotspot.Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.Publish(ctx, t); err != nil {
		util.WithField("channel", p.channel).Warnf("publish transition: %v", err)
	}
}

// Publish records t as the latest state and sends it on the channel.
func (p *Publisher) Publish(ctx context.Context, t hotspot.Transition) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}
	_, err = p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.stateKey,
			"state", string(t.To.State),
			"reason", string(t.To.Reason),
			"session", t.SessionID,
			"message", t.Message,
			"at", t.At.UTC().Format(time.RFC3339),
		)
		pipe.Publish(ctx, p.channel, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("events: publish to %s: %w", p.channel, err)
	}
	return nil
}

// Latest returns the most recently published state. It returns
// (nil, nil) if nothing has been published yet.
func (p *Publisher) Latest(ctx context.Context) (*hotspot.Transition, error) {
	vals, err := p.client.HGetAll(ctx, p.stateKey).Result()
	if err != nil {
		return nil, fmt.Errorf("events: read %s: %w", p.stateKey, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	t := &hotspot.Transition{
		SessionID: vals["session"],
		To:        hotspot.SessionState{State: hotspot.State(vals["state"]), Reason: util.Reason(vals["reason"])},
		Message:   vals["message"],
	}
	if ts, ok := vals["at"]; ok {
		t.At, _ = time.Parse(time.RFC3339, ts)
	}
	return t, nil
}

// Subscribe delivers transitions published on the channel until ctx is
// cancelled. Messages that do not decode are skipped.
func (p *Publisher) Subscribe(ctx context.Context) (<-chan hotspot.Transition, error) {
	ps := p.client.Subscribe(ctx, p.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("events: subscribe %s: %w", p.channel, err)
	}

	out := make(chan hotspot.Transition)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var t hotspot.Transition
				if err := json.Unmarshal([]byte(m.Payload), &t); err != nil {
					util.Debugf("events: skip undecodable message: %v", err)
					continue
				}
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
