package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lms-gateway/internal/config"
	"lms-gateway/middleware/ratelimit"
	"lms-gateway/middleware/ratelimit/domain"
)

type counterFlags struct {
	policy string
	client string
	path   string
}

func newCountersCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counters",
		Short: "Inspect or clear rate limit counters in the shared store",
		Long: `Read or delete one counter in the configured Redis or PostgreSQL store.
The key is built the same way the gateway builds it: policy, client and the
canonical request path.`,
	}
	cmd.AddCommand(newCountersGetCommand(opts))
	cmd.AddCommand(newCountersResetCommand(opts))
	return cmd
}

func (f *counterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.policy, "policy", "", "policy name, e.g. auth")
	cmd.Flags().StringVar(&f.client, "client", "", "client address or client header value")
	cmd.Flags().StringVar(&f.path, "path", "", "request path, e.g. /api/auth/login")
	_ = cmd.MarkFlagRequired("policy")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("path")
}

func newCountersGetCommand(opts *rootOptions) *cobra.Command {
	f := &counterFlags{}
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show the current counter for a policy, client and path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSharedStore(cmd.Context(), opts, f, func(ctx context.Context, store counterStore, key domain.Key) error {
				c, found, err := store.Get(ctx, key)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !found {
					fmt.Fprintf(out, "%s: no active window\n", key)
					return nil
				}
				fmt.Fprintf(out, "%s: count=%d expires_in=%s\n", key, c.Count, time.Until(c.ExpiresAt).Round(time.Second))
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newCountersResetCommand(opts *rootOptions) *cobra.Command {
	f := &counterFlags{}
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the counter for a policy, client and path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSharedStore(cmd.Context(), opts, f, func(ctx context.Context, store counterStore, key domain.Key) error {
				if err := store.Reset(ctx, key); err != nil {
					return err
				}
				green := color.New(color.FgGreen).SprintFunc()
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green("reset"), key)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

// withSharedStore opens the configured counter store, builds the key for f
// and calls fn. The memory backend lives inside the serving process and
// cannot be reached from here.
func withSharedStore(ctx context.Context, opts *rootOptions, f *counterFlags, fn func(context.Context, counterStore, domain.Key) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if cfg.Store.Backend == "memory" {
		return errors.New("store.backend is memory: counters live in the gateway process, nothing to inspect")
	}

	policies, err := cfg.Policies()
	if err != nil {
		return err
	}
	known := false
	for _, p := range policies {
		if p.Name == f.policy {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown policy %q", f.policy)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	g := &gateway{}
	defer g.Close()
	store, err := newCounterStore(ctx, cfg, zap.NewNop(), g)
	if err != nil {
		return err
	}

	key := ratelimit.BuildKey(f.policy, f.client, ratelimit.CanonicalPath(f.path))
	return fn(ctx, store, key)
}
