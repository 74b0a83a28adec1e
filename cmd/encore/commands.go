package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	serveradapter "github.com/hylla/encore/internal/adapters/server"
	servercommon "github.com/hylla/encore/internal/adapters/server/common"
	"github.com/hylla/encore/internal/app"
	"github.com/hylla/encore/internal/metrics"
)

func newPathsCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show resolved config and data paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, configPath, dbPath, _, err := state.resolvePaths()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "app: %s\n", paths.AppName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", state.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", configPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", dbPath)
			return nil
		},
	}
}

func newServeCommand(state *cliState) *cobra.Command {
	var (
		inMemory bool
		bind     string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API, MCP tools, and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			collector := metrics.NewPrometheus(reg, "encore")

			env, err := state.open("serve", envOptions{inMemory: inMemory, metrics: collector})
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := env.Close(); closeErr != nil {
					env.logger.Warn("runtime close failed", "err", closeErr)
				}
			}()

			cfg := serveradapter.Config{
				HTTPBind:        env.cfg.Server.HTTPBind,
				APIEndpoint:     env.cfg.Server.APIEndpoint,
				MCPEndpoint:     env.cfg.Server.MCPEndpoint,
				MetricsEndpoint: env.cfg.Server.MetricsEndpoint,
				ServerName:      "encore",
				ServerVersion:   version,
			}
			if strings.TrimSpace(bind) != "" {
				cfg.HTTPBind = bind
			}
			deps := serveradapter.Dependencies{
				Reorder:  servercommon.NewAppServiceAdapter(env.svc),
				Requests: collector,
				Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
				Ready:    env.ready,
			}
			env.logger.Info("serve starting", "bind", cfg.HTTPBind, "api", cfg.APIEndpoint, "mcp", cfg.MCPEndpoint, "in_memory", inMemory)
			if err := serveCommandRunner(cmd.Context(), cfg, deps); err != nil {
				env.logger.Error("serve stopped with error", "err", err)
				return fmt.Errorf("run serve command: %w", err)
			}
			env.logger.Info("serve stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&inMemory, "memory", false, "keep queues in memory instead of sqlite")
	cmd.Flags().StringVar(&bind, "bind", "", "override server.http_bind")
	return cmd
}

func newEventCommand(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Manage karaoke events",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create NAME",
		Short: "Create an event and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.with("event create", func(env *runtimeEnv) error {
				event, err := env.svc.CreateEvent(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("create event: %w", err)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), event.ID)
				return nil
			})
		},
	})
	return cmd
}

func newQueueCommand(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Add, list, and complete queue entries",
	}

	var (
		singer string
		song   string
		mature bool
	)
	add := &cobra.Command{
		Use:   "add EVENT_ID",
		Short: "Append a song request and print its entry id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.with("queue add", func(env *runtimeEnv) error {
				entry, err := env.svc.Enqueue(cmd.Context(), app.EnqueueInput{
					EventID:   args[0],
					Requestor: singer,
					SongTitle: song,
					IsMature:  mature,
				})
				if err != nil {
					return fmt.Errorf("enqueue: %w", err)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), entry.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&singer, "singer", "", "requestor name")
	add.Flags().StringVar(&song, "song", "", "song title")
	add.Flags().BoolVar(&mature, "mature", false, "mark the song as mature content")
	_ = add.MarkFlagRequired("singer")
	_ = add.MarkFlagRequired("song")

	var asJSON bool
	list := &cobra.Command{
		Use:   "list EVENT_ID",
		Short: "Show the pending queue and its version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.with("queue list", func(env *runtimeEnv) error {
				snap, err := env.svc.GetQueue(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("load queue: %w", err)
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, servercommon.ConvertQueue(snap))
				}
				_, _ = fmt.Fprintf(out, "version: %s\n", snap.Version)
				rows := make([][]string, 0, len(snap.Entries))
				for i, entry := range snap.Entries {
					rows = append(rows, []string{strconv.Itoa(i), entry.Requestor, entry.SongTitle, markIf(entry.IsMature, "mature"), entry.ID})
				}
				_, _ = fmt.Fprintln(out, renderTable([]string{"#", "Singer", "Song", "Flags", "ID"}, rows))
				return nil
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	sung := &cobra.Command{
		Use:   "sung EVENT_ID ENTRY_ID",
		Short: "Record that an entry was performed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.with("queue sung", func(env *runtimeEnv) error {
				if err := env.svc.MarkSung(cmd.Context(), args[0], args[1]); err != nil {
					return fmt.Errorf("mark sung: %w", err)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(add, list, sung)
	return cmd
}

func newRebalanceCommand(state *cliState) *cobra.Command {
	var (
		policy      string
		horizon     int
		movementCap int
		actor       string
		apply       bool
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "rebalance EVENT_ID",
		Short: "Preview a fairer queue order and optionally apply it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.with("rebalance", func(env *runtimeEnv) error {
				in := app.PreviewInput{
					EventID:      args[0],
					MaturePolicy: policy,
					Actor:        actor,
				}
				if cmd.Flags().Changed("horizon") {
					in.Horizon = &horizon
				}
				if cmd.Flags().Changed("cap") {
					in.MovementCap = &movementCap
				}
				preview, err := env.svc.Preview(cmd.Context(), in)
				if err != nil {
					return fmt.Errorf("preview reorder: %w", err)
				}
				out := cmd.OutOrStdout()
				if !apply {
					if asJSON {
						return writeJSON(out, preview)
					}
					printPreview(out, preview)
					return nil
				}
				if !preview.IsFeasible {
					printPreview(out, preview)
					return fmt.Errorf("preview for event %s is infeasible; nothing to apply", preview.EventID)
				}
				result, err := env.svc.Apply(cmd.Context(), app.ApplyInput{
					EventID:        preview.EventID,
					PlanID:         preview.PlanID,
					BasedOnVersion: preview.BasedOnVersion,
					IdempotencyKey: uuid.NewString(),
					Actor:          actor,
				})
				if err != nil {
					return fmt.Errorf("apply reorder: %w", err)
				}
				if asJSON {
					return writeJSON(out, result)
				}
				printPreview(out, preview)
				_, _ = fmt.Fprintf(out, "applied %d move(s); version %s\n", result.MoveCount, result.AppliedVersion)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&policy, "policy", "", "mature policy (defer|allow); defaults to reorder.mature_policy")
	cmd.Flags().IntVar(&horizon, "horizon", 0, "optimize only the next N tail entries (0 = all)")
	cmd.Flags().IntVar(&movementCap, "cap", 0, "maximum positions any entry may move")
	cmd.Flags().StringVar(&actor, "actor", "cli", "name recorded in the audit log")
	cmd.Flags().BoolVar(&apply, "apply", false, "apply the previewed plan immediately")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newAuditCommand(state *cliState) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit EVENT_ID",
		Short: "List recent reorder audit records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.with("audit", func(env *runtimeEnv) error {
				audits, err := env.svc.ListAudits(cmd.Context(), args[0], limit)
				if err != nil {
					return fmt.Errorf("list audits: %w", err)
				}
				rows := make([][]string, 0, len(audits))
				for _, audit := range audits {
					rows = append(rows, []string{audit.CreatedAt.Format(time.RFC3339), string(audit.Action), audit.UserName, audit.PlanID})
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"When", "Action", "User", "Plan"}, rows))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records to show")
	return cmd
}

// with opens a sqlite-backed runtime, runs fn, and closes the runtime.
func (s *cliState) with(command string, fn func(*runtimeEnv) error) (err error) {
	env, err := s.open(command, envOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := env.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close runtime: %w", closeErr)
		}
	}()
	env.logger.Debug("command flow start", "command", command)
	if err := fn(env); err != nil {
		env.logger.Debug("command flow failed", "command", command, "err", err)
		return err
	}
	return nil
}

func printPreview(out io.Writer, preview app.PreviewResult) {
	if !preview.IsFeasible {
		_, _ = fmt.Fprintln(out, "no feasible arrangement; queue left unchanged")
	}
	rows := make([][]string, 0, len(preview.Items))
	for _, item := range preview.Items {
		rows = append(rows, []string{
			strconv.Itoa(item.DisplayIndex),
			strconv.Itoa(item.OriginalIndex),
			item.Requestor,
			item.SongTitle,
			strings.Join(item.Reasons, ", "),
		})
	}
	_, _ = fmt.Fprintln(out, renderTable([]string{"New", "Was", "Singer", "Song", "Why"}, rows))
	before, after := preview.Summary.FairnessBefore, preview.Summary.FairnessAfter
	_, _ = fmt.Fprintf(out, "moves: %d  adjacent repeats: %d -> %d  rotation inversions: %d -> %d\n",
		preview.Summary.MoveCount, before.AdjacentRepeats, after.AdjacentRepeats, before.RotationInversions, after.RotationInversions)
	if preview.Summary.RequiresConfirmation {
		_, _ = fmt.Fprintln(out, "large reorder: review before applying")
	}
	for _, warning := range preview.Warnings {
		_, _ = fmt.Fprintf(out, "warning: %s: %s\n", warning.Code, warning.Message)
	}
	if preview.PlanID != "" {
		_, _ = fmt.Fprintf(out, "plan: %s (expires %s)\n", preview.PlanID, preview.ExpiresAt.Format(time.RFC3339))
	}
}

func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("62"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		String()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func markIf(on bool, label string) string {
	if on {
		return label
	}
	return ""
}
