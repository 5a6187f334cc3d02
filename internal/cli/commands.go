package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/surrealdb/surrealtodo/pkg/api"
	"github.com/surrealdb/surrealtodo/pkg/models"
	"github.com/surrealdb/surrealtodo/pkg/netstate"
	"github.com/surrealdb/surrealtodo/pkg/syncmgr"
)

// run opens the app for the duration of fn.
func (o *options) run(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	a, err := openApp(ctx, o.cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err = errors.Join(err, a.Close(closeCtx))
	}()
	return fn(ctx, a)
}

func (o *options) print(cmd *cobra.Command, v any) error {
	return render(cmd.OutOrStdout(), o.output, v)
}

func newServeCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Sync in the background and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, a *app) error {
				if err := a.client.Start(ctx); err != nil {
					return err
				}
				return api.New(a.client, a.log).Run(ctx, a.cfg.API.Listen)
			})
		},
	}
	cmd.Flags().String("listen", "", "API listen address")
	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			o.cfg.API.Listen = listen
		}
		return nil
	}
	return cmd
}

type statusOutput struct {
	Online   string              `json:"online"`
	Status   models.StatusReport `json:"status"`
	Pending  int                 `json:"pending"`
	LastSync *time.Time          `json:"last_sync,omitempty"`
}

func newStatusCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show reachability, queue length and pending conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, a *app) error {
				out := statusOutput{
					Online:  a.client.Probe(ctx).String(),
					Status:  a.client.Status(),
					Pending: a.client.PendingCount(),
				}
				if last := a.client.LastSync(); !last.IsZero() {
					out.LastSync = &last
				}
				return o.print(cmd, out)
			})
		},
	}
}

func newSyncCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Apply queued edits to the remote database now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, a *app) error {
				if a.client.Probe(ctx) != netstate.StateOnline {
					return syncmgr.ErrOffline
				}
				report, err := a.client.SyncNow(ctx)
				if err != nil && !errors.Is(err, syncmgr.ErrDrainFailed) {
					return err
				}
				if perr := o.print(cmd, report); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func newTasksCommand(o *options) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List known tasks with queued edits applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, a *app) error {
				if refresh {
					if a.client.Probe(ctx) != netstate.StateOnline {
						return syncmgr.ErrOffline
					}
					if _, err := a.client.Refresh(ctx); err != nil {
						return err
					}
				}
				return o.print(cmd, a.client.Tasks())
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "reload tasks from the remote database first")
	return cmd
}

func newConflictsCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Inspect and resolve sync conflicts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(_ context.Context, a *app) error {
				return o.print(cmd, nonNil(a.client.Conflicts()))
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "resolve <conflict-id> <local|server>",
		Short: "Keep the local edit or the server value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := parseResolution(args[1])
			if err != nil {
				return err
			}
			return o.run(cmd, func(ctx context.Context, a *app) error {
				if res == models.KeepLocal && a.client.Probe(ctx) != netstate.StateOnline {
					return syncmgr.ErrOffline
				}
				resolved, err := a.client.ResolveConflict(ctx, args[0], res)
				if err != nil {
					return err
				}
				return o.print(cmd, resolved)
			})
		},
	})
	return cmd
}

func parseResolution(s string) (models.Resolution, error) {
	switch s {
	case "local", string(models.KeepLocal):
		return models.KeepLocal, nil
	case "server", string(models.KeepServer):
		return models.KeepServer, nil
	}
	return "", fmt.Errorf("resolution must be local or server, got %q", s)
}

func newQueueCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage queued edits",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued edits in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(_ context.Context, a *app) error {
				return o.print(cmd, nonNil(a.client.Mutations()))
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every queued edit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, a *app) error {
				return a.client.ClearQueue(ctx)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "retry <mutation-id>",
		Short: "Retry an edit that needs attention",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, a *app) error {
				found, err := a.client.RetryMutation(ctx, args[0])
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("no queued edit %q", args[0])
				}
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "discard <mutation-id>",
		Short: "Drop one queued edit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, a *app) error {
				return a.client.DiscardMutation(ctx, args[0])
			})
		},
	})
	return cmd
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
