package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/themerig"
	"github.com/loykin/themerig/internal/store"
	"github.com/loykin/themerig/internal/store/factory"
	"github.com/loykin/themerig/pkg/client"
)

func createStatusCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service health from a running HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := apiClient(global)
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func createCreateCommand(global *GlobalFlags) *cobra.Command {
	flags := &TargetFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a target and start the services if needed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := apiClient(global)
			if err != nil {
				return err
			}
			res, err := c.CreateEnvironment(cmd.Context(), flags.Target)
			// the body explains a rejection too
			if res != nil {
				_ = printJSON(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&flags.Target, "target", "", "customer identifier")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func createCaptureCommand(global *GlobalFlags) *cobra.Command {
	flags := &TargetFlags{}
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture the next screenshot round for a target",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := apiClient(global)
			if err != nil {
				return err
			}
			res, err := c.Capture(cmd.Context(), flags.Target)
			if res != nil {
				_ = printJSON(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&flags.Target, "target", "", "customer identifier")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func createDeleteCommand(global *GlobalFlags) *cobra.Command {
	flags := &TargetFlags{}
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a target's theme file (screenshots are kept)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := apiClient(global)
			if err != nil {
				return err
			}
			res, err := c.DeleteTheme(cmd.Context(), flags.Target)
			if res != nil {
				_ = printJSON(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&flags.Target, "target", "", "customer identifier")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func createStopCommand(global *GlobalFlags) *cobra.Command {
	flags := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the backend or frontend service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := apiClient(global)
			if err != nil {
				return err
			}
			if err := c.StopService(cmd.Context(), flags.Name); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s stopped\n", flags.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "backend or frontend")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func createHistoryCommand(global *GlobalFlags) *cobra.Command {
	flags := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded capture runs or service events",
		Long: `Read the history store configured by store.dsn directly; no server
needs to be running.

Examples:
  themerig history --target acme --limit 5
  themerig history --events --service backend
  themerig history --purge-older-than 720h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd.Context(), global, flags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flags.Target, "target", "", "only runs for this target")
	cmd.Flags().StringVar(&flags.Service, "service", "", "only events for this service (with --events)")
	cmd.Flags().IntVar(&flags.Limit, "limit", store.DefaultLimit, "maximum rows")
	cmd.Flags().BoolVar(&flags.Events, "events", false, "list service events instead of capture runs")
	cmd.Flags().StringVar(&flags.PurgeOlderThan, "purge-older-than", "", "delete rows older than this duration, e.g. 720h")
	return cmd
}

func runHistory(ctx context.Context, global *GlobalFlags, flags *HistoryFlags, out io.Writer) error {
	cfg, err := themerig.LoadConfig(global.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	st, err := factory.NewFromDSN(cfg.Store.DSN)
	if errors.Is(err, factory.ErrDisabled) {
		return errors.New("history is disabled: store.dsn is empty")
	}
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	if flags.PurgeOlderThan != "" {
		d, err := time.ParseDuration(flags.PurgeOlderThan)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid --purge-older-than %q", flags.PurgeOlderThan)
		}
		n, err := st.PurgeOlderThan(ctx, time.Now().Add(-d))
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "purged %d rows\n", n)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()
	if flags.Events {
		events, err := st.RecentEvents(ctx, flags.Service, flags.Limit)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(tw, "TIME\tSERVICE\tEVENT\tPID\tDETAIL")
		for _, ev := range events {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
				ev.OccurredAt.Local().Format(time.DateTime), ev.Service, ev.Event, ev.PID, ev.Detail)
		}
		return nil
	}
	runs, err := st.RecentCaptures(ctx, flags.Target, flags.Limit)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(tw, "FINISHED\tTARGET\tROUND\tARTIFACTS\tOK\tRUN")
	for _, r := range runs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%t\t%s\n",
			r.FinishedAt.Local().Format(time.DateTime), r.Target, r.Round, r.Artifacts, r.Success, r.ID)
	}
	return nil
}

// apiClient targets --api-url, or the configured server address.
func apiClient(global *GlobalFlags) (*client.Client, error) {
	base := global.APIUrl
	if base == "" {
		cfg, err := themerig.LoadConfig(global.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
		base = "http://" + cfg.Server.Addr + cfg.Server.BasePath
	}
	return client.New(client.Config{
		BaseURL: strings.TrimRight(base, "/"),
		Timeout: global.APITimeout,
	}), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
