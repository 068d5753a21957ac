// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"

	"github.com/hashicorp/cap-session/cognito"
	"github.com/hashicorp/cap-session/sdk/id"
)

// originSep separates the writer's origin from the key in change messages.
const originSep = "\x00"

// Redis stores tokens in redis.  Every Redis store is its own context; stores
// using the same keys see each other's changes through a pub/sub channel.
type Redis struct {
	client  redis.UniversalClient
	keys    Keys
	channel string
	origin  string
	logger  hclog.Logger
}

var _ Store = (*Redis)(nil)

// NewRedis creates a Redis store using the client.
// Supported options:
//   - WithKeyPrefix
//   - WithChannel
//   - WithLogger
func NewRedis(client redis.UniversalClient, opt ...Option) (*Redis, error) {
	const op = "store.NewRedis"
	if client == nil {
		return nil, fmt.Errorf("%s: client is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	origin, err := id.New("ctx")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	channel := opts.withChannel
	if channel == "" {
		channel = opts.withKeyPrefix + defaultChannel
	}
	return &Redis{
		client:  client,
		keys:    NewKeys(opts.withKeyPrefix),
		channel: channel,
		origin:  origin,
		logger:  opts.withLogger.Named("redis"),
	}, nil
}

// Save implements Store.Save.  The writes are applied in a transaction.
func (r *Redis) Save(ctx context.Context, tokens cognito.Tokens) error {
	const op = "Redis.Save"
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.keys.IdToken)
	for k, v := range r.keys.values(tokens) {
		pipe.Set(ctx, k, v, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := r.publish(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Load implements Store.Load.
func (r *Redis) Load(ctx context.Context) (*cognito.Tokens, error) {
	const op = "Redis.Load"
	keys := r.keys.All()
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m := make(map[string]string, len(keys))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			m[keys[i]] = s
		}
	}
	t, err := r.keys.tokens(func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

// Clear implements Store.Clear.
func (r *Redis) Clear(ctx context.Context) error {
	const op = "Redis.Clear"
	pipe := r.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, 3)
	for _, k := range r.keys.All() {
		cmds = append(cmds, pipe.Del(ctx, k))
	}
	_, _ = pipe.Exec(ctx)

	var result *multierror.Error
	for _, c := range cmds {
		if err := c.Err(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%v: %w", c.Args()[1], err))
		}
	}
	if err := r.publish(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *Redis) publish(ctx context.Context) error {
	if err := r.client.Publish(ctx, r.channel, r.origin+originSep+r.keys.IdToken).Err(); err != nil {
		return fmt.Errorf("unable to publish change: %w", err)
	}
	return nil
}

// OnChange implements Store.OnChange.  It subscribes to the change channel
// and ignores messages published by this store.
func (r *Redis) OnChange(fn func(key string)) (func(), error) {
	const op = "Redis.OnChange"
	if fn == nil {
		return nil, fmt.Errorf("%s: callback is nil: %w", op, ErrNilParameter)
	}
	ctx := context.Background()
	sub := r.client.Subscribe(ctx, r.channel)
	// wait for the subscription to be confirmed so no change is missed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("%s: unable to subscribe: %w", op, err)
	}

	go func() {
		for msg := range sub.Channel() {
			origin, key, ok := strings.Cut(msg.Payload, originSep)
			if !ok {
				r.logger.Warn("ignoring malformed change message", "channel", msg.Channel)
				continue
			}
			if origin == r.origin || key != r.keys.IdToken {
				continue
			}
			fn(key)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := sub.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
				r.logger.Warn("unable to close subscription", "error", err)
			}
		})
	}, nil
}
