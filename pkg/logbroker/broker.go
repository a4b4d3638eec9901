// Package logbroker implements the Log Broker (C4): fan-out of a
// Deployment's build/run output lines to every live WebSocket subscriber,
// plus a Redis relay so subscribers on a different control-plane replica
// than the one running the pipeline still receive lines.
package logbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "unideploy:logs:"

// Line is a single emitted log line for a Deployment.
type Line struct {
	DeploymentID int64  `json:"deployment_id"`
	Stream       string `json:"stream"` // "stdout" | "stderr" | "system"
	Text         string `json:"text"`
}

type subscriber struct {
	ch chan Line
}

// Broker holds the in-process subscriber registry and relays lines through
// Redis pub/sub so every replica's local subscribers see every line
// regardless of which replica is running the Deployment's pipeline.
type Broker struct {
	rdb    *redis.Client
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[int64]map[*subscriber]struct{}
}

// New creates a Broker. rdb may be nil, in which case fan-out is local-only
// (fine for a single-replica deployment or tests).
func New(rdb *redis.Client, logger *slog.Logger) *Broker {
	return &Broker{
		rdb:    rdb,
		logger: logger,
		subs:   make(map[int64]map[*subscriber]struct{}),
	}
}

// Publish broadcasts a line to every local subscriber of its deployment and,
// if Redis is configured, relays it so other replicas' subscribers see it
// too. Publish never blocks on a slow subscriber: each subscriber has a
// buffered channel, and a full channel drops the line rather than stalling
// the pipeline goroutine producing it.
func (b *Broker) Publish(ctx context.Context, line Line) {
	b.broadcastLocal(line)

	if b.rdb == nil {
		return
	}
	payload, err := json.Marshal(line)
	if err != nil {
		b.logger.Error("encoding log line for relay", "error", err)
		return
	}
	if err := b.rdb.Publish(ctx, redisChannelPrefix+fmt.Sprint(line.DeploymentID), payload).Err(); err != nil {
		b.logger.Warn("relaying log line", "deployment_id", line.DeploymentID, "error", err)
	}
}

func (b *Broker) broadcastLocal(line Line) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[line.DeploymentID] {
		select {
		case sub.ch <- line:
		default:
			b.logger.Warn("dropping log line for slow subscriber", "deployment_id", line.DeploymentID)
		}
	}
}

// Subscribe registers a new subscriber for deploymentID and, when Redis is
// configured, also subscribes to that deployment's relay channel for the
// lifetime of ctx. When ctx is cancelled the subscriber is removed from the
// registry; the returned channel is never closed, so callers stop reading on
// their own ctx.Done().
func (b *Broker) Subscribe(ctx context.Context, deploymentID int64) <-chan Line {
	sub := &subscriber{ch: make(chan Line, 256)}

	b.mu.Lock()
	if b.subs[deploymentID] == nil {
		b.subs[deploymentID] = make(map[*subscriber]struct{})
	}
	b.subs[deploymentID][sub] = struct{}{}
	b.mu.Unlock()

	var pubsub *redis.PubSub
	if b.rdb != nil {
		pubsub = b.rdb.Subscribe(ctx, redisChannelPrefix+fmt.Sprint(deploymentID))
		go b.relayFromRedis(pubsub, sub)
	}

	go func() {
		<-ctx.Done()
		b.unsubscribe(deploymentID, sub)
		if pubsub != nil {
			pubsub.Close()
		}
	}()

	return sub.ch
}

func (b *Broker) relayFromRedis(pubsub *redis.PubSub, sub *subscriber) {
	for msg := range pubsub.Channel() {
		var line Line
		if err := json.Unmarshal([]byte(msg.Payload), &line); err != nil {
			continue
		}
		select {
		case sub.ch <- line:
		default:
		}
	}
}

// unsubscribe removes sub from the registry. It deliberately does not close
// sub.ch: relayFromRedis may still be mid-send on it, and closing here would
// race a send into a closed channel. The channel becomes unreachable and
// is garbage collected once relayFromRedis (stopped by pubsub.Close) exits.
func (b *Broker) unsubscribe(deploymentID int64, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subs[deploymentID], sub)
	if len(b.subs[deploymentID]) == 0 {
		delete(b.subs, deploymentID)
	}
}

// SubscriberCount returns how many local subscribers a deployment currently
// has, for tests and diagnostics.
func (b *Broker) SubscriberCount(deploymentID int64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[deploymentID])
}
