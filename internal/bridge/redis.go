// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Thermoquad/otgwstat/internal/config"
	"github.com/Thermoquad/otgwstat/pkg/opentherm"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Event types published to Redis
const (
	EventStateUpdate = "state"
	EventSnapshot    = "snapshot"
)

const redisQueueSize = 256

// Event is the JSON message published for every state update and snapshot.
type Event struct {
	Type   string           `json:"type"`
	Source string           `json:"source,omitempty"`
	Fields opentherm.Fields `json:"fields"`
	Time   time.Time        `json:"time"`
}

// Redis publishes events on a Pub/Sub channel and keeps the most recent
// ones in a list. Handler calls only enqueue; Run does the network I/O.
type Redis struct {
	client *redis.Client
	cfg    config.RedisConfig
	events chan Event
	log    logrus.FieldLogger
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg config.RedisConfig, log logrus.FieldLogger) (*Redis, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	r := newRedis(client, cfg, log)
	r.log.Infof("connected to Redis at %s", cfg.Addr)
	return r, nil
}

func newRedis(client *redis.Client, cfg config.RedisConfig, log logrus.FieldLogger) *Redis {
	return &Redis{
		client: client,
		cfg:    cfg,
		events: make(chan Event, redisQueueSize),
		log:    log.WithField("component", "redis"),
	}
}

// Run publishes queued events until ctx is done.
func (r *Redis) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-r.events:
			if err := r.Publish(ctx, e); err != nil {
				r.log.Warn(err)
			}
		}
	}
}

// Publish sends one event and appends it to the bounded history list.
func (r *Redis) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := r.client.Publish(ctx, r.cfg.Channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	if r.cfg.HistoryKey == "" || r.cfg.HistoryLength <= 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.cfg.HistoryKey, data)
	pipe.LTrim(ctx, r.cfg.HistoryKey, 0, r.cfg.HistoryLength-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

// History returns up to n of the most recent events, newest first.
func (r *Redis) History(ctx context.Context, n int64) ([]Event, error) {
	raw, err := r.client.LRange(ctx, r.cfg.HistoryKey, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(raw))
	for _, s := range raw {
		var e Event
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("invalid history entry: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) enqueue(e Event) {
	select {
	case r.events <- e:
	default:
		r.log.Warnf("Redis queue full, dropping %s event", e.Type)
	}
}

// otgw.Handler

func (r *Redis) StateUpdate(source string, fields opentherm.Fields) {
	r.enqueue(Event{Type: EventStateUpdate, Source: source, Fields: fields, Time: time.Now()})
}

func (r *Redis) Snapshot(fields opentherm.Fields) {
	r.enqueue(Event{Type: EventSnapshot, Fields: fields, Time: time.Now()})
}

func (r *Redis) PriorityResult(id byte, fields opentherm.Fields) {}

func (r *Redis) DecodeWarning(err error) {}
