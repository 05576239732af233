package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"callkit-bridge/internal/callstate"

	"github.com/spf13/cobra"
)

type opener func(ctx context.Context) (*callstate.Registry, func() error, error)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	Format string // "json" | "text"
	open   opener
}

func newRootCommand(open opener) *cobra.Command {
	opts := &rootOptions{open: open}

	cmd := &cobra.Command{
		Use:           "callctl",
		Short:         "Inspect and repair call state",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(
		newStateCommand(opts),
		newSetStateCommand(opts),
		newDataCommand(opts),
		newClearCommand(opts),
		newLastCommand(opts),
	)
	return cmd
}

// withRegistry opens the registry for one command run. Writes are tagged as
// operator writes for the audit trail.
func (o *rootOptions) withRegistry(cmd *cobra.Command, fn func(ctx context.Context, reg *callstate.Registry) error) error {
	ctx := callstate.WithSource(cmd.Context(), callstate.SourceOperator)
	reg, closeFn, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		reg.Close()
		_ = closeFn()
	}()
	return fn(ctx, reg)
}

func (o *rootOptions) print(w io.Writer, v any, text string) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

func newStateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state <call-id>",
		Short: "Print the state of a call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRegistry(cmd, func(ctx context.Context, reg *callstate.Registry) error {
				st, err := reg.State(ctx, args[0])
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), map[string]string{"call_id": args[0], "state": string(st)}, string(st))
			})
		},
	}
}

func newSetStateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-state <call-id> <state>",
		Short: "Overwrite the state of a call without notifying clients",
		Long: `Overwrite the state of a call without notifying clients.

State is one of pending, accepted, rejected or unknown. Setting unknown
removes the record.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := callstate.ParseState(args[1])
			if err != nil {
				return fmt.Errorf("invalid state %q", args[1])
			}
			return opts.withRegistry(cmd, func(ctx context.Context, reg *callstate.Registry) error {
				if err := reg.SetState(ctx, args[0], st); err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), map[string]string{"call_id": args[0], "state": string(st)}, "ok")
			})
		},
	}
}

func newDataCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "data <call-id>",
		Short: "Print the metadata stored for a call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRegistry(cmd, func(ctx context.Context, reg *callstate.Registry) error {
				md, ok, err := reg.Metadata(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no data for call %q", args[0])
				}
				keys := make([]string, 0, len(md))
				for k := range md {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				var text string
				for i, k := range keys {
					if i > 0 {
						text += "\n"
					}
					text += k + "=" + md[k]
				}
				return opts.print(cmd.OutOrStdout(), md, text)
			})
		},
	}
}

func newClearCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <call-id>",
		Short: "Forget a call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRegistry(cmd, func(ctx context.Context, reg *callstate.Registry) error {
				if err := reg.Clear(ctx, args[0]); err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), map[string]string{"call_id": args[0], "cleared": "true"}, "ok")
			})
		},
	}
}

func newLastCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "last",
		Short: "Print the id of the most recent incoming call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRegistry(cmd, func(ctx context.Context, reg *callstate.Registry) error {
				id, ok, err := reg.LastCallID(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no calls recorded")
				}
				return opts.print(cmd.OutOrStdout(), map[string]string{"call_id": id}, id)
			})
		},
	}
}
