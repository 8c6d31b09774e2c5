package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"scenecraft/internal/app"
	"scenecraft/internal/config"
	"scenecraft/internal/db"
	"scenecraft/internal/domain"
	"scenecraft/internal/engine"
	"scenecraft/internal/pipeline"
	"scenecraft/internal/repo"
	"scenecraft/internal/server"
	"scenecraft/internal/telemetry"
)

var rootCmd = &cobra.Command{
	Use:   "sc",
	Short: "Scenecraft CLI",
	Long: `Scenecraft runs a line of creative agents over draft scenes.
- Workspace: a .scenecraft directory with the database; scenecraft.yml next to it configures backends and stages.
- Project: owns scenes and a spend budget. A zero cap means unlimited.
- Scenes: draft -> review -> approved; request-revision sends a scene back to draft.
- Pipeline: writer, director, cinematographer, editor, producer and showrunner each propose one change. A run leases the scene and stops at the first stage the budget cannot pay for.
- Proposals: reviewers apply or dismiss them; nothing is folded into the scene automatically.
- Event log: every change, view with 'sc log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		slog.SetDefault(newLogger())
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SCENECRAFT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (defaults to the only project)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(sceneCmd())
	rootCmd.AddCommand(proposalCmd())
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if viper.GetBool("json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace and a default scenecraft.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Printf("%s already exists\n", path)
			} else {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", path)
			}
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing scenecraft.yml")
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectBudgetCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				items, err := svc.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Title", "Cap (USD)", "Spend (USD)")
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Title, formatCap(p.BudgetCapUSD), fmt.Sprintf("%.4f", p.CurrentSpendUSD)})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var id, title, logline, bible string
	var capUSD float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				if bible != "" {
					b, err := os.ReadFile(bible)
					if err != nil {
						return fmt.Errorf("read bible: %w", err)
					}
					bible = string(b)
				}
				p, err := svc.Engine.CreateProject(ctx, engine.ProjectCreateOptions{
					ID:           id,
					Title:        title,
					Logline:      logline,
					Bible:        bible,
					BudgetCapUSD: capUSD,
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&title, "title", "", "project title")
	cmd.Flags().StringVar(&logline, "logline", "", "one-line premise")
	cmd.Flags().StringVar(&bible, "bible", "", "path to a series bible file")
	cmd.Flags().Float64Var(&capUSD, "cap", 0, "budget cap in USD (0 = unlimited)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, svc *app.Services, projectID string) error {
				p, err := svc.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectBudgetCmd() *cobra.Command {
	var set float64
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show the budget, or change the cap with --set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, svc *app.Services, projectID string) error {
				var (
					p   domain.Project
					err error
				)
				if cmd.Flags().Changed("set") {
					p, err = svc.Engine.SetBudgetCap(ctx, projectID, set, viper.GetString("actor-id"))
				} else {
					p, err = svc.Repo.GetProject(ctx, projectID)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project_id": p.ID, "cap_usd": p.BudgetCapUSD, "spend_usd": p.CurrentSpendUSD})
				}
				fmt.Printf("%s: spend $%.4f of %s\n", p.ID, p.CurrentSpendUSD, formatCap(p.BudgetCapUSD))
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&set, "set", 0, "new cap in USD (0 = unlimited)")
	return cmd
}

func sceneCmd() *cobra.Command {
	sc := &cobra.Command{Use: "scene", Short: "Manage scenes"}
	sc.AddCommand(sceneCreateCmd())
	sc.AddCommand(sceneListCmd())
	sc.AddCommand(sceneShowCmd())
	sc.AddCommand(sceneUpdateCmd())
	sc.AddCommand(sceneTransitionCmd("submit", "Submit a draft for review", func(e engine.Engine) func(context.Context, string, string) (domain.Scene, error) {
		return e.SubmitScene
	}))
	sc.AddCommand(sceneTransitionCmd("approve", "Approve a scene under review", func(e engine.Engine) func(context.Context, string, string) (domain.Scene, error) {
		return e.ApproveScene
	}))
	sc.AddCommand(sceneReviseCmd())
	sc.AddCommand(sceneProposalsCmd())
	return sc
}

func sceneCreateCmd() *cobra.Command {
	var id, title, heading, synopsis, script string
	var duration int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft scene",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, svc *app.Services, projectID string) error {
				body, err := readScript(script)
				if err != nil {
					return err
				}
				s, err := svc.Engine.CreateScene(ctx, engine.SceneCreateOptions{
					ID:              id,
					ProjectID:       projectID,
					Title:           title,
					Heading:         heading,
					Synopsis:        synopsis,
					Script:          body,
					DurationSeconds: duration,
					ActorID:         viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "scene id (generated when empty)")
	cmd.Flags().StringVar(&title, "title", "", "scene title")
	cmd.Flags().StringVar(&heading, "heading", "", "slug line, e.g. INT. VAN - NIGHT")
	cmd.Flags().StringVar(&synopsis, "synopsis", "", "synopsis")
	cmd.Flags().StringVar(&script, "script", "", "path to the script text ('-' for stdin)")
	cmd.Flags().IntVar(&duration, "duration", 0, "target duration in seconds")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func sceneListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scenes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, svc *app.Services, projectID string) error {
				items, err := svc.Repo.ListScenes(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				now := time.Now()
				tw := newTable("ID", "Title", "Status", "Version", "Lease")
				for _, s := range items {
					lease := ""
					if s.Lease.Active(now) {
						lease = s.Lease.Holder
					}
					tw.AppendRow(table.Row{s.ID, s.Title, s.Status, s.Version, lease})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func sceneShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <scene-id>",
		Short: "Show a scene",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				s, err := svc.Repo.GetScene(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func sceneUpdateCmd() *cobra.Command {
	var title, heading, synopsis, script string
	var duration int
	cmd := &cobra.Command{
		Use:   "update <scene-id>",
		Short: "Edit a draft scene",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fields domain.SceneFields
			flags := cmd.Flags()
			if flags.Changed("title") {
				fields.Title = &title
			}
			if flags.Changed("heading") {
				fields.Heading = &heading
			}
			if flags.Changed("synopsis") {
				fields.Synopsis = &synopsis
			}
			if flags.Changed("script") {
				body, err := readScript(script)
				if err != nil {
					return err
				}
				fields.Script = &body
			}
			if flags.Changed("duration") {
				fields.DurationSeconds = &duration
			}
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				s, err := svc.Engine.UpdateScene(ctx, args[0], fields, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "scene title")
	cmd.Flags().StringVar(&heading, "heading", "", "slug line")
	cmd.Flags().StringVar(&synopsis, "synopsis", "", "synopsis")
	cmd.Flags().StringVar(&script, "script", "", "path to the script text ('-' for stdin)")
	cmd.Flags().IntVar(&duration, "duration", 0, "target duration in seconds")
	return cmd
}

func sceneTransitionCmd(use, short string, pick func(engine.Engine) func(context.Context, string, string) (domain.Scene, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <scene-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				s, err := pick(svc.Engine)(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func sceneReviseCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "revise <scene-id>",
		Short: "Send a scene under review back to draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				s, err := svc.Engine.RequestSceneRevision(ctx, args[0], feedback, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "what needs to change")
	_ = cmd.MarkFlagRequired("feedback")
	return cmd
}

func sceneProposalsCmd() *cobra.Command {
	var status, runID string
	cmd := &cobra.Command{
		Use:   "proposals <scene-id>",
		Short: "List a scene's proposals in stage order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				items, err := svc.Repo.ListProposals(ctx, repo.ProposalFilters{SceneID: args[0], RunID: runID, Status: domain.ProposalStatus(status)})
				if err != nil {
					return err
				}
				return printProposals(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending, applied or dismissed")
	cmd.Flags().StringVar(&runID, "run", "", "only proposals from this run")
	return cmd
}

func proposalCmd() *cobra.Command {
	p := &cobra.Command{Use: "proposal", Short: "Review proposals"}
	p.AddCommand(&cobra.Command{
		Use:   "apply <proposal-id>",
		Short: "Mark a proposal applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				out, err := svc.Engine.ApplyProposal(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	})
	var reason string
	dismiss := &cobra.Command{
		Use:   "dismiss <proposal-id>",
		Short: "Dismiss a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				out, err := svc.Engine.DismissProposal(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	dismiss.Flags().StringVar(&reason, "reason", "", "why it was dismissed")
	p.AddCommand(dismiss)
	return p
}

func pipelineCmd() *cobra.Command {
	p := &cobra.Command{Use: "pipeline", Short: "Run the agent pipeline"}
	p.AddCommand(&cobra.Command{
		Use:   "run <scene-id>",
		Short: "Run every stage over a draft scene now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTelemetry(cmd.Context(), func(ctx context.Context) error {
				return withServices(ctx, func(ctx context.Context, svc *app.Services) error {
					res, runErr := svc.Orchestrator.Run(ctx, args[0])
					if viper.GetBool("json") {
						if err := printJSON(res); err != nil {
							return err
						}
					} else {
						printResult(res)
					}
					return runErr
				})
			})
		},
	})
	p.AddCommand(&cobra.Command{
		Use:   "enqueue <scene-id>",
		Short: "Queue a run for the worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				job, err := svc.Queue.Enqueue(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(job)
			})
		},
	})
	return p
}

func workerCmd() *cobra.Command {
	var owner string
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				host, _ := os.Hostname()
				owner = fmt.Sprintf("%s:%d", host, os.Getpid())
			}
			return withTelemetry(cmd.Context(), func(ctx context.Context) error {
				return withServices(ctx, func(ctx context.Context, svc *app.Services) error {
					w := svc.Worker(owner)
					if once {
						n, err := w.ProcessDue(ctx)
						slog.Info("processed due jobs", "count", n)
						return err
					}
					return w.Run(ctx)
				})
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "lease owner name (default host:pid)")
	cmd.Flags().BoolVar(&once, "once", false, "process due jobs once and exit")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, svc *app.Services, projectID string) error {
				entries, err := svc.Repo.ListEntries(ctx, repo.EventFilters{ProjectID: projectID, Type: evtType, EntityID: entityID, Limit: n})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					out := make([]map[string]any, 0, len(entries))
					for _, e := range entries {
						out = append(out, map[string]any{
							"seq": e.Seq(), "id": e.ID(), "ts": e.Timestamp(), "type": e.Type(),
							"entity_id": e.EntityID(), "actor_id": e.Actor(), "payload": json.RawMessage(e.Payload()),
						})
					}
					return printJSON(out)
				}
				tw := newTable("Seq", "Time", "Type", "Entity", "Actor")
				for _, e := range entries {
					tw.AppendRow(table.Row{e.Seq(), e.Timestamp().Format(time.RFC3339), e.Type(), e.EntityID(), e.Actor()})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTelemetry(cmd.Context(), func(ctx context.Context) error {
				return withServices(ctx, func(ctx context.Context, svc *app.Services) error {
					scfg := svc.Config.Server
					if !cmd.Flags().Changed("addr") && scfg.Addr != "" {
						addr = scfg.Addr
					}
					if !cmd.Flags().Changed("base-path") && scfg.BasePath != "" {
						basePath = scfg.BasePath
					}
					authCfg := server.AuthConfig{
						JWTSecret:              os.Getenv(scfg.JWTSecretEnv),
						AllowLegacyActorHeader: scfg.AllowActorHeader,
						DevLogin:               devLogin,
						Logger:                 svc.Logger,
					}
					if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
						return fmt.Errorf("%s is required for bearer auth", scfg.JWTSecretEnv)
					}
					handler, err := server.New(server.Config{
						Engine:   svc.Engine,
						Pipeline: svc.Orchestrator,
						Queue:    svc.Queue,
						BasePath: basePath,
						Auth:     authCfg,
						Logger:   svc.Logger,
					})
					if err != nil {
						return err
					}
					srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
					go func() {
						<-ctx.Done()
						shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						defer cancel()
						srv.Shutdown(shutdownCtx)
					}()
					svc.Logger.Info("serving scenecraft api", "addr", addr, "base_path", basePath, "openapi", basePath+"/openapi.json")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login (never in production)")
	return cmd
}

// --- helpers ---

func withServices(ctx context.Context, fn func(context.Context, *app.Services) error) error {
	svc, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Logger:    slog.Default(),
	})
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(ctx, svc)
}

func withProject(ctx context.Context, fn func(context.Context, *app.Services, string) error) error {
	return withServices(ctx, func(ctx context.Context, svc *app.Services) error {
		projectID, err := app.ResolveProject(ctx, svc.Repo, viper.GetString("project"))
		if err != nil {
			return err
		}
		return fn(ctx, svc, projectID)
	})
}

func withTelemetry(ctx context.Context, fn func(context.Context) error) error {
	shutdown, err := telemetry.Setup(ctx, "scenecraft")
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	return fn(ctx)
}

func readScript(path string) (string, error) {
	switch path {
	case "":
		return "", nil
	case "-":
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(b), nil
}

func printResult(res pipeline.Result) {
	fmt.Printf("run %s on %s: %s\n", res.RunID, res.SceneID, res.Outcome)
	if res.FailedAtStage != "" {
		fmt.Printf("stopped at %s: %s\n", res.FailedAtStage, res.ErrorMessage)
	} else if res.ErrorMessage != "" {
		fmt.Println(res.ErrorMessage)
	}
	if res.LockedBy != "" && res.LockedUntil != nil {
		fmt.Printf("locked by %s until %s\n", res.LockedBy, res.LockedUntil.Format(time.RFC3339))
	}
	if len(res.Proposals) > 0 {
		_ = printProposals(res.Proposals)
	}
	if res.ProjectID != "" {
		fmt.Printf("spend $%.4f of %s\n", res.SpendUSD, formatCap(res.CapUSD))
	}
}

func printProposals(items []domain.Proposal) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable("ID", "Role", "Status", "Summary", "Runtime (s)", "Cost (USD)")
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.Role, p.Status, p.Summary, p.RuntimeImpactSeconds, fmt.Sprintf("%.4f", p.CostUSD)})
	}
	fmt.Println(tw.Render())
	return nil
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	if term.IsTerminal(int(os.Stdout.Fd())) {
		tw.SetStyle(table.StyleLight)
	}
	tw.AppendHeader(table.Row(header))
	return tw
}

func formatCap(capUSD float64) string {
	if capUSD <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("$%.4f", capUSD)
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
