package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/zalando/apigw/definition"
)

const DefaultEtcdPrefix = "/apigw/endpoints"

// EtcdClient is the part of the etcd client used by the source.
// Implemented by *clientv3.Client.
type EtcdClient interface {
	clientv3.KV
	clientv3.Watcher
}

type EtcdOptions struct {
	Client EtcdClient

	// Prefix of the endpoint keys, defaults to DefaultEtcdPrefix.
	Prefix string

	// BackOff of the initial load, defaults to exponential.
	BackOff backoff.BackOff

	// MaxElapsedTime of the initial load retries, defaults to the
	// backoff package default.
	MaxElapsedTime time.Duration
}

// EtcdSource loads the endpoints under the prefix, then applies their
// changes from the etcd watch.
type EtcdSource struct {
	options EtcdOptions
	prefix  string
}

// NewEtcdClient creates a client connected to the etcd cluster.
func NewEtcdClient(urls []string, timeout time.Duration) (*clientv3.Client, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   urls,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	return c, nil
}

func NewEtcdSource(o EtcdOptions) *EtcdSource {
	if o.Prefix == "" {
		o.Prefix = DefaultEtcdPrefix
	}

	if o.BackOff == nil {
		o.BackOff = backoff.NewExponentialBackOff()
	}

	return &EtcdSource{
		options: o,
		prefix:  strings.TrimSuffix(o.Prefix, "/") + "/",
	}
}

// parseKey splits <prefix>/<api>/<group>/<endpoint>.
func (s *EtcdSource) parseKey(key string) (api, group, name string, ok bool) {
	rest, found := strings.CutPrefix(key, s.prefix)
	if !found {
		return "", "", "", false
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}

	return parts[0], parts[1], parts[2], true
}

func (s *EtcdSource) event(t EventType, key, value []byte) (Event, error) {
	api, group, name, ok := s.parseKey(string(key))
	if !ok {
		return Event{}, fmt.Errorf("invalid endpoint key: %s", key)
	}

	e := Event{Type: t, API: api, Group: group, Endpoint: definition.Endpoint{Name: name}}
	if t == Removed {
		return e, nil
	}

	d, err := definition.ParseEndpoint(value)
	if err != nil {
		return Event{}, fmt.Errorf("endpoint %s: %w", key, err)
	}

	if d.Name != name {
		return Event{}, fmt.Errorf("endpoint %s: name mismatch: %s", key, d.Name)
	}

	e.Endpoint = d
	return e, nil
}

func (s *EtcdSource) dispatch(ctx context.Context, h Handler, t EventType, key, value []byte) {
	e, err := s.event(t, key, value)
	if err != nil {
		log.Errorf("Discovery: %v", err)
		return
	}

	if err := h.Dispatch(ctx, e); err != nil {
		log.Errorf("Discovery: %v", err)
	}
}

// load dispatches the existing endpoints, and returns the revision to
// watch from.
func (s *EtcdSource) load(ctx context.Context, h Handler) (int64, error) {
	opts := []backoff.RetryOption{backoff.WithBackOff(s.options.BackOff)}
	if s.options.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(s.options.MaxElapsedTime))
	}

	rsp, err := backoff.Retry(ctx, func() (*clientv3.GetResponse, error) {
		rsp, err := s.options.Client.Get(ctx, s.prefix, clientv3.WithPrefix())
		if err != nil {
			log.Warnf("Discovery: failed to load endpoints from etcd, retrying: %v", err)
		}

		return rsp, err
	}, opts...)
	if err != nil {
		return 0, fmt.Errorf("failed to load endpoints from etcd: %w", err)
	}

	for _, kv := range rsp.Kvs {
		s.dispatch(ctx, h, Added, kv.Key, kv.Value)
	}

	log.Infof("Discovery: loaded %d endpoints from etcd", len(rsp.Kvs))
	if rsp.Header == nil {
		return 0, nil
	}

	return rsp.Header.Revision + 1, nil
}

// Run loads the endpoints and watches their changes. When the watch is
// canceled by the server, it is restarted from the last seen revision.
func (s *EtcdSource) Run(ctx context.Context, h Handler) error {
	rev, err := s.load(ctx, h)
	if err != nil {
		return err
	}

	ctx = clientv3.WithRequireLeader(ctx)
	watch := func(rev int64) clientv3.WatchChan {
		opts := []clientv3.OpOption{clientv3.WithPrefix()}
		if rev > 0 {
			opts = append(opts, clientv3.WithRev(rev))
		}

		return s.options.Client.Watch(ctx, s.prefix, opts...)
	}

	wc := watch(rev)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case wr, ok := <-wc:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				log.Warn("Discovery: etcd watch closed, restarting")
				wc = watch(rev)
				continue
			}

			if wr.CompactRevision > rev {
				log.Warnf("Discovery: revision %d compacted, watching from %d", rev, wr.CompactRevision)
				rev = wr.CompactRevision
			}

			if wr.Canceled {
				log.Errorf("Discovery: etcd watch canceled, restarting: %v", wr.Err())
				wc = watch(rev)
				continue
			}

			if err := wr.Err(); err != nil {
				log.Errorf("Discovery: etcd watch error: %v", err)
				continue
			}

			if wr.IsProgressNotify() {
				rev = wr.Header.Revision + 1
				continue
			}

			for _, ev := range wr.Events {
				switch ev.Type {
				case clientv3.EventTypePut:
					s.dispatch(ctx, h, Added, ev.Kv.Key, ev.Kv.Value)
				case clientv3.EventTypeDelete:
					s.dispatch(ctx, h, Removed, ev.Kv.Key, nil)
				}

				rev = ev.Kv.ModRevision + 1
			}
		}
	}
}
