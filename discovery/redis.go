package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/zalando/apigw/connector"
	"github.com/zalando/apigw/definition"
)

const (
	DefaultRedisPrefix   = "apigw:endpoints"
	DefaultRedisInterval = 10 * time.Second
	defaultRedisTries    = 3
)

// SetMembersClient is the part of the redis client used by the source.
// Implemented by *redis.Client and *redis.Ring.
type SetMembersClient interface {
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// GroupKey identifies an endpoint group of an API.
type GroupKey struct {
	API   string
	Group string
}

type RedisOptions struct {
	Client SetMembersClient

	// Prefix of the set keys, defaults to DefaultRedisPrefix.
	Prefix string

	// Interval between two polls, defaults to DefaultRedisInterval.
	Interval time.Duration

	// Groups to poll.
	Groups []GroupKey

	// Type is the connector type of the discovered endpoints, defaults
	// to the HTTP proxy.
	Type string

	// BackOff between the retries of a failed poll, defaults to
	// exponential.
	BackOff backoff.BackOff

	// MaxTries of a poll, defaults to 3.
	MaxTries uint
}

// RedisSource polls the members of the endpoint group sets. Every
// member is the target URL of an endpoint, and its name.
type RedisSource struct {
	options RedisOptions
	seen    map[GroupKey]map[string]bool
}

// NewRedisClient creates a client of a single redis server.
func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
}

func NewRedisSource(o RedisOptions) *RedisSource {
	if o.Prefix == "" {
		o.Prefix = DefaultRedisPrefix
	}

	if o.Interval <= 0 {
		o.Interval = DefaultRedisInterval
	}

	if o.Type == "" {
		o.Type = connector.HTTPProxyType
	}

	if o.BackOff == nil {
		o.BackOff = backoff.NewExponentialBackOff()
	}

	if o.MaxTries == 0 {
		o.MaxTries = defaultRedisTries
	}

	return &RedisSource{
		options: o,
		seen:    make(map[GroupKey]map[string]bool),
	}
}

func (s *RedisSource) key(g GroupKey) string {
	return fmt.Sprintf("%s:%s:%s", s.options.Prefix, g.API, g.Group)
}

func (s *RedisSource) members(ctx context.Context, g GroupKey) ([]string, error) {
	return backoff.Retry(ctx, func() ([]string, error) {
		return s.options.Client.SMembers(ctx, s.key(g)).Result()
	}, backoff.WithBackOff(s.options.BackOff), backoff.WithMaxTries(s.options.MaxTries))
}

func (s *RedisSource) endpoint(target string) (definition.Endpoint, error) {
	cfg, err := json.Marshal(map[string]string{"target": target})
	if err != nil {
		return definition.Endpoint{}, err
	}

	return definition.Endpoint{
		Name:          target,
		Type:          s.options.Type,
		Configuration: cfg,
	}, nil
}

// poll diffs the current members of every group with the previous
// ones. A group that could not be read keeps its endpoints.
func (s *RedisSource) poll(ctx context.Context, h Handler) {
	for _, g := range s.options.Groups {
		members, err := s.members(ctx, g)
		if err != nil {
			log.Errorf("Discovery: failed to read %s from redis: %v", s.key(g), err)
			continue
		}

		current := make(map[string]bool, len(members))
		previous := s.seen[g]
		for _, m := range members {
			current[m] = true
			if previous[m] {
				continue
			}

			d, err := s.endpoint(m)
			if err != nil {
				log.Errorf("Discovery: invalid member %s of %s: %v", m, s.key(g), err)
				continue
			}

			if err := h.Dispatch(ctx, Event{Type: Added, API: g.API, Group: g.Group, Endpoint: d}); err != nil {
				log.Errorf("Discovery: %v", err)
			}
		}

		for m := range previous {
			if current[m] {
				continue
			}

			if err := h.Dispatch(ctx, Event{Type: Removed, API: g.API, Group: g.Group, Endpoint: definition.Endpoint{Name: m}}); err != nil {
				log.Errorf("Discovery: %v", err)
			}
		}

		s.seen[g] = current
	}
}

// Run polls the groups immediately, then at every interval.
func (s *RedisSource) Run(ctx context.Context, h Handler) error {
	ticker := time.NewTicker(s.options.Interval)
	defer ticker.Stop()

	for {
		s.poll(ctx, h)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
