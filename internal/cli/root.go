// Package cli implements the surrealtodo command line.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/surrealdb/surrealtodo/internal/config"
)

type options struct {
	configFile string
	output     string

	v   *viper.Viper
	cfg *config.Config
}

// Main runs the command line with args, writing results to stdout.
func Main(ctx context.Context, args []string, stdout io.Writer) error {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	return root.ExecuteContext(ctx)
}

func NewRootCommand() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "surrealtodo",
		Short: "Offline-first task edits synced to a remote document database",
		Long: `surrealtodo keeps edits to tasks in a durable local queue and applies
them to the remote database when it is reachable. Edits that collide with
changes made on the server become conflicts to resolve.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&o.configFile, "config", "c", "", "config file (default is $HOME/.config/surrealtodo/config.yaml)")
	flags.StringVarP(&o.output, "output", "o", formatYAML, "output format: yaml or json")
	flags.String("remote", "", "remote database URL")
	flags.String("store", "", "store driver: memory, sqlite, postgres or s3")
	flags.String("store-path", "", "sqlite database file")

	root.AddCommand(
		newServeCommand(o),
		newStatusCommand(o),
		newSyncCommand(o),
		newTasksCommand(o),
		newEditCommand(o),
		newConflictsCommand(o),
		newQueueCommand(o),
	)
	return root
}

func (o *options) load(cmd *cobra.Command) error {
	if err := checkFormat(o.output); err != nil {
		return err
	}

	o.v = config.New(o.configFile)
	flags := cmd.Root().PersistentFlags()
	for key, flag := range map[string]string{
		"remote.url":   "remote",
		"store.driver": "store",
		"store.path":   "store-path",
	} {
		if err := o.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("bind --%s: %w", flag, err)
		}
	}

	cfg, err := config.Load(o.v)
	if err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}
