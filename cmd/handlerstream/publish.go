package main

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/handlerstream/pkg/config"
	"github.com/go-go-golems/handlerstream/pkg/events"
	"github.com/go-go-golems/handlerstream/pkg/redisstream"
	"github.com/go-go-golems/handlerstream/pkg/transport"
)

func newPublishCommand() *cobra.Command {
	var ensureGroup bool
	cmd := &cobra.Command{
		Use:   "publish <handler-id>",
		Short: "Publish newline-delimited events from stdin on a handler's redis stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd.Context(), cmd.InOrStdin(), cfg, args[0], ensureGroup)
		},
	}
	cmd.Flags().BoolVar(&ensureGroup, "ensure-group", true, "Create the session consumer groups at the stream tail before publishing")
	cmd.Flags().String("redis-addr", "", "Redis address")
	bindFlag("redis.addr", cmd, "redis-addr")
	return cmd
}

func runPublish(ctx context.Context, r io.Reader, cfg *config.Config, handlerID string, ensureGroup bool) error {
	if cfg.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer func() { _ = client.Close() }()
	if err := client.Ping(ctx).Err(); err != nil {
		return errors.Wrapf(err, "connect to redis at %s", cfg.Redis.Addr)
	}

	topic := transport.TopicForHandler(handlerID)
	if ensureGroup {
		// a session started after this publish resumes from the group created here
		for _, internal := range []bool{false, true} {
			group := redisstream.SessionGroup(cfg.Redis.Group, events.StreamKey(handlerID, internal))
			if err := redisstream.EnsureGroupAtTail(ctx, client, topic, group); err != nil {
				return err
			}
		}
	}
	pub, err := redisstream.BuildPublisher(client)
	if err != nil {
		return err
	}
	defer func() { _ = pub.Close() }()

	n, err := transport.PublishNDJSON(ctx, pub, topic, r)
	if err != nil {
		return err
	}
	log.Info().Str("topic", topic).Int("events", n).Msg("published handler events")
	return nil
}
