package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Create or update a key's value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				if err := a.store.Set([]byte(args[0]), []byte(args[1])); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "OK")
				return nil
			})
		},
	}
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Look up a key's value",
		Long: `Look up a key's value and print it.

Exits with status 1 when the key does not exist.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				value, found, err := a.store.Get([]byte(args[0]))
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("%w: %q", errNotFound, args[0])
				}
				out := cmd.OutOrStdout()
				if _, err := out.Write(value); err != nil {
					return err
				}
				fmt.Fprintln(out)
				return nil
			})
		},
	}
}

func newDelCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "del <key>",
		Aliases: []string{"delete", "rm"},
		Short:   "Remove a key",
		Long:    "Remove a key. Removing a key that does not exist succeeds.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				if err := a.store.Delete([]byte(args[0])); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "OK")
				return nil
			})
		},
	}
}

func newKeysCmd(opts *options) *cobra.Command {
	var quote bool
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List all keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				keys, err := a.files.Keys()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, k := range keys {
					if quote {
						fmt.Fprintf(out, "%q\n", k)
					} else {
						fmt.Fprintf(out, "%s\n", k)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&quote, "quote", "q", false, "print keys as quoted Go strings")
	return cmd
}

func newSweepCmd(opts *options) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove temporary files left behind by interrupted writes",
		Long: `Remove temporary files left behind by interrupted writes.

Only files older than --older-than are removed so writes in progress in other
processes are not disturbed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				n, err := a.files.Sweep(olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Minute, "minimum age of temporary files to remove")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kvl version %s\n", Version)
		},
	}
}
