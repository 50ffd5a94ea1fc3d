package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"storepulse/internal/config"
	"storepulse/internal/db"
	"storepulse/internal/engine"
	"storepulse/internal/ingest"
	"storepulse/internal/migrate"
	"storepulse/internal/repo"
	"storepulse/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sp",
	Short: "StorePulse CLI",
	Long: `StorePulse estimates store availability from periodic status polls.
- Workspace: your .storepulse directory holding the database; config lives in storepulse.yml.
- Dataset: three CSV files (status polls, business hours, timezones) imported atomically.
- Reports: trigger one, poll its status, fetch the CSV once Complete.
- Estimation: polls are interpolated across business hours in each store's local timezone.
- Event log: every import and report transition is recorded, view with 'sp log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STOREPULSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(storeCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default storepulse.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func ingestCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Import the dataset from CSV files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if dir == "" {
					dir = e.Config.Ingest.DataDir
				}
				if dir == "" {
					return fmt.Errorf("--dir required (or set ingest.data_dir in storepulse.yml)")
				}
				res, err := ingest.NewLoader(e.DB).ImportDir(ctx, dir)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "dataset directory")
	return cmd
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{
		Use:   "report",
		Short: "Generate and fetch availability reports",
	}
	rep.AddCommand(reportRunCmd())
	rep.AddCommand(reportStatusCmd())
	rep.AddCommand(reportGetCmd())
	rep.AddCommand(reportListCmd())
	return rep
}

func reportRunCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Trigger a report and compute it synchronously",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.Trigger(ctx)
				if err != nil {
					return err
				}
				winStart, winEnd := e.DefaultWindow()
				if date != "" {
					day, perr := time.Parse("2006-01-02", date)
					if perr != nil {
						return fmt.Errorf("invalid --date %q: %w", date, perr)
					}
					winStart = day.UTC()
					winEnd = winStart.AddDate(0, 0, 1)
				}
				if err := e.RunWindow(ctx, rep.ReportID, winStart, winEnd); err != nil {
					return err
				}
				final, err := e.Repo.GetReport(ctx, rep.ReportID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"report_id":    final.ReportID,
					"status":       final.Status,
					"completed_at": final.CompletedAt,
				})
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "UTC day to report on (YYYY-MM-DD, default today)")
	return cmd
}

func reportStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <report-id>",
		Short: "Show report lifecycle state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rep, err := r.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"report_id":    rep.ReportID,
					"status":       rep.Status,
					"error":        rep.Error,
					"created_at":   rep.CreatedAt,
					"completed_at": rep.CompletedAt,
				})
			})
		},
	}
	return cmd
}

func reportGetCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "get <report-id>",
		Short: "Fetch a Complete report's CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				payload, err := e.Payload(ctx, args[0])
				if err != nil {
					return err
				}
				if out == "" {
					_, werr := os.Stdout.Write(payload)
					return werr
				}
				if err := os.WriteFile(out, payload, 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write CSV to file instead of stdout")
	return cmd
}

func reportListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListReports(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Report ID", "Status", "Created", "Completed"})
				for _, rep := range items {
					completed := ""
					if rep.CompletedAt != nil {
						completed = *rep.CompletedAt
					}
					tw.AppendRow(table.Row{rep.ReportID, rep.Status, rep.CreatedAt, completed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max reports")
	return cmd
}

func storeCmd() *cobra.Command {
	st := &cobra.Command{
		Use:   "store",
		Short: "Inspect the imported dataset",
	}
	st.AddCommand(storeListCmd())
	st.AddCommand(storeHoursCmd())
	return st
}

func storeListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				ids, err := e.Repo.ListStoreIDsTx(ctx, tx)
				if err != nil {
					return err
				}
				type row struct {
					StoreID  string `json:"store_id"`
					Timezone string `json:"timezone"`
				}
				rows := make([]row, 0, len(ids))
				for _, id := range ids {
					tz, err := e.Repo.StoreTimezoneTx(ctx, tx, id)
					if errors.Is(err, repo.ErrNotFound) {
						tz = e.Config.Report.DefaultTimezone + " (default)"
					} else if err != nil {
						return err
					}
					rows = append(rows, row{StoreID: id, Timezone: tz})
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Store ID", "Timezone"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.StoreID, r.Timezone})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func storeHoursCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hours <store-id>",
		Short: "Show a store's weekly business hours",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				hours, err := r.ListBusinessHours(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(hours)
				}
				days := []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Day", "Start", "End"})
				for _, h := range hours {
					day := fmt.Sprint(h.DayOfWeek)
					if h.DayOfWeek >= 0 && h.DayOfWeek < len(days) {
						day = days[h.DayOfWeek]
					}
					tw.AppendRow(table.Row{day, h.StartTimeLocal, h.EndTimeLocal})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			e := engine.New(conn, cfg)
			loader := ingest.NewLoader(conn)
			if cfg.Ingest.DataDir != "" {
				refresher := ingest.Refresher{
					Loader:   loader,
					Dir:      cfg.Ingest.DataDir,
					Interval: cfg.RefreshInterval(),
				}
				refresher.Start(cmd.Context())
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				Loader:   loader,
				DataDir:  cfg.Ingest.DataDir,
				BasePath: basePath,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving StorePulse API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
