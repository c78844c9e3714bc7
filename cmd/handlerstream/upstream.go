package main

import (
	"github.com/go-go-golems/handlerstream/pkg/config"
	"github.com/go-go-golems/handlerstream/pkg/redisstream"
	"github.com/go-go-golems/handlerstream/pkg/transport"
)

// upstream is the configured way of reaching handler feeds.
type upstream struct {
	client *transport.Client
	redis  *redisstream.Transport
}

func openUpstream(cfg *config.Config) (*upstream, error) {
	u := &upstream{client: &transport.Client{
		BaseURL: cfg.Upstream.BaseURL,
		Framing: cfg.Framing(),
	}}
	if cfg.Framing() == transport.FramingRedis {
		rt, err := redisstream.NewTransport(cfg.Redis)
		if err != nil {
			return nil, err
		}
		u.redis = rt
		u.client.Subscribers = rt.SessionSubscriber
	}
	return u, nil
}

func (u *upstream) Close() error {
	return u.redis.Close()
}
