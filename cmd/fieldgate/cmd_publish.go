package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"fieldgate/global/config"
	"fieldgate/module/identity"
	"fieldgate/module/model"
	"fieldgate/service/fanout"
	"fieldgate/service/storage"
	redisx "fieldgate/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// openPublisher returns a producer on the configured bridge transport; the
// worker streams always live in the coordination store.
func openPublisher(ctx context.Context, cfg *config.AppConfig) (*fanout.Publisher, *storage.Coord, func(), error) {
	rdb, err := redisx.NewClient(ctx, redisx.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: 2,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	coord := storage.NewCoord(rdb)
	transport, closeTransport, err := openTransport(cfg, coord, nil)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, nil, err
	}
	return fanout.NewPublisher(transport, coord), coord, func() {
		closeTransport()
		_ = rdb.Close()
	}, nil
}

// readPayload takes the JSON argument, or stdin when it is "-".
func readPayload(cmd *cobra.Command, arg string) ([]byte, error) {
	if arg != "-" {
		return []byte(arg), nil
	}
	return io.ReadAll(cmd.InOrStdin())
}

func newPublishCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Produce alert, dashboard and worker events",
		Long:  "Publish onto the channels and streams the gateway consumes. Used by\nbackground jobs and for poking a running deployment by hand.",
	}

	// run opens a publisher for the duration of one subcommand.
	run := func(cmd *cobra.Command, fn func(ctx context.Context, p *fanout.Publisher, coord *storage.Coord) (string, error)) error {
		cfg, err := load()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		p, coord, closeFn, err := openPublisher(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeFn()
		out, err := fn(ctx, p, coord)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "alert <json|->",
			Short: "Publish an alert event on its site channel or alerts:global",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				raw, err := readPayload(cmd, args[0])
				if err != nil {
					return err
				}
				var ev model.AlertEvent
				if err := json.Unmarshal(raw, &ev); err != nil {
					return errors.Wrap(err, "decode alert event")
				}
				return run(cmd, func(ctx context.Context, p *fanout.Publisher, _ *storage.Coord) (string, error) {
					if err := p.PublishAlert(ctx, &ev); err != nil {
						return "", err
					}
					if site := ev.Site(); site != "" {
						return fanout.SiteChannel(site), nil
					}
					return fanout.ChannelGlobal, nil
				})
			},
		},
		&cobra.Command{
			Use:       "shifts <active|upcoming> <json|->",
			Short:     "Publish a dashboard delta",
			Args:      cobra.ExactArgs(2),
			ValidArgs: []string{"active", "upcoming"},
			RunE: func(cmd *cobra.Command, args []string) error {
				raw, err := readPayload(cmd, args[1])
				if err != nil {
					return err
				}
				if !json.Valid(raw) {
					return errors.New("shifts delta is not valid json")
				}
				delta := json.RawMessage(raw)
				return run(cmd, func(ctx context.Context, p *fanout.Publisher, _ *storage.Coord) (string, error) {
					switch args[0] {
					case "active":
						return fanout.ChannelActiveShifts, p.PublishActiveShifts(ctx, delta)
					case "upcoming":
						return fanout.ChannelUpcomingShifts, p.PublishUpcomingShifts(ctx, delta)
					}
					return "", errors.Errorf("unknown shifts kind %q", args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "revoke <workerId> <newVersion> <clientClass>",
			Short: "Announce a new worker login; other client classes are logged out",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				ver, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return errors.Wrapf(err, "newVersion %q", args[1])
				}
				return run(cmd, func(ctx context.Context, p *fanout.Publisher, coord *storage.Coord) (string, error) {
					id, err := p.SessionRevoked(ctx, args[0], ver, args[2])
					if err != nil {
						return "", err
					}
					// handshakes elsewhere must not accept the old version from cache
					if err := identity.Invalidate(ctx, coord, model.KindWorker, args[0]); err != nil {
						return "", errors.Wrap(err, "drop cached subject")
					}
					return id, nil
				})
			},
		},
		&cobra.Command{
			Use:   "assign <workerId> <assignmentId>",
			Short: "Tell a worker one of their shifts changed",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, func(ctx context.Context, p *fanout.Publisher, _ *storage.Coord) (string, error) {
					return p.AssignmentUpdated(ctx, args[0], args[1])
				})
			},
		},
	)
	return cmd
}
