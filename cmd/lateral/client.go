package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/lateral"
	redisep "github.com/unkn0wn-root/lateral/endpoint/redis"
)

var (
	putCmd = &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Write an entry directly to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			return withPeer(cmd, func(ctx context.Context, ep lateral.Endpoint[string], region string) error {
				e := &lateral.Element[string]{Region: region, Key: args[0], Value: args[1], TTL: ttl}
				return ep.Update(ctx, e, cfg.NodeID)
			})
		},
	}
	getCmd = &cobra.Command{
		Use:   "get <key>",
		Short: "Read an entry from a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPeer(cmd, func(ctx context.Context, ep lateral.Endpoint[string], region string) error {
				e, err := ep.Get(ctx, region, args[0])
				if err != nil {
					return err
				}
				if e == nil {
					return fmt.Errorf("%s/%s: not found", region, args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), e.Value)
				return nil
			})
		},
	}
	keysCmd = &cobra.Command{
		Use:   "keys",
		Short: "List the keys a peer holds for a region",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPeer(cmd, func(ctx context.Context, ep lateral.Endpoint[string], region string) error {
				keys, err := ep.GetKeySet(ctx, region)
				if err != nil {
					return err
				}
				for _, k := range keys {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			})
		},
	}
)

func init() {
	for _, c := range []*cobra.Command{putCmd, getCmd, keysCmd} {
		key := "peer"
		c.Flags().String(key, "localhost:6379", wrap("Peer address to talk to"))
		key = "region"
		c.Flags().StringP(key, "r", "default", wrap("Region the key belongs to"))
		key = "timeout"
		c.Flags().Duration(key, 5*time.Second, wrap("Deadline for the whole operation"))
	}
	putCmd.Flags().Duration("ttl", 0, wrap("Entry expiry, where the peer's store supports one; 0 keeps it forever"))
}

func withPeer(cmd *cobra.Command, f func(ctx context.Context, ep lateral.Endpoint[string], region string) error) error {
	peer, _ := cmd.Flags().GetString("peer")
	region, _ := cmd.Flags().GetString("region")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	c, err := newCodec(cfg.Codec)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	dial := redisep.Dialer[string](c, redisep.Options{Redis: redisOptions(cfg), Publish: cfg.Redis.Publish})
	ep, err := dial(ctx, peer)
	if err != nil {
		return err
	}
	if cl, ok := ep.(io.Closer); ok {
		defer cl.Close()
	}
	return f(ctx, ep, region)
}
