package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agentops/internal/app"
	"agentops/internal/config"
	"agentops/internal/db"
	"agentops/internal/domain"
	"agentops/internal/engine"
	"agentops/internal/heartbeat"
	"agentops/internal/llm"
	"agentops/internal/migrate"
	"agentops/internal/repo"
	"agentops/internal/roundtable"
	"agentops/internal/server"
	"agentops/internal/social"
	"agentops/internal/worker"
)

var rootCmd = &cobra.Command{
	Use:   "ao",
	Short: "AgentOps CLI",
	Long: `AgentOps runs a small team of agents under operator control.
Agents submit proposals; the gate engine checks daily quotas and the
auto-approval policy decides whether a proposal becomes a mission right
away or waits for you. Approved missions queue steps that workers claim
and execute. A heartbeat fires trigger rules, drains agent reactions and
recovers stuck work. Roundtables run short agent conversations and
distill them into memories that feed back into later work.`,
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("AGENTOPS")
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
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(heartbeatCmd())
	rootCmd.AddCommand(roundtableCmd())
	rootCmd.AddCommand(proposalCmd())
	rootCmd.AddCommand(missionCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(memoryCmd())
	rootCmd.AddCommand(logCmd())
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, conn *sql.DB, cfg *config.Config) error {
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				secret := os.Getenv("AGENTOPS_JWT_SECRET")
				if secret == "" {
					secret = cfg.Server.JWTSecret
				}
				e := engine.New(conn)
				orchestrator := roundtable.New(conn, llmClient(cfg))
				handler, err := server.New(server.Config{
					Engine:      e,
					Roundtables: orchestrator,
					BasePath:    basePath,
					Auth:        server.AuthConfig{JWTSecret: secret},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving AgentOps API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

var allStepKinds = []string{"analyze", "write_content", "crawl", "post_social", "scan_social"}

func workerCmd() *cobra.Command {
	w := &cobra.Command{Use: "worker", Short: "Run step workers"}
	w.AddCommand(workerRunCmd())
	return w
}

func workerRunCmd() *cobra.Command {
	var kinds []string
	var workerID string
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the step queue and execute steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, conn *sql.DB, cfg *config.Config) error {
				if workerID == "" {
					workerID = cfg.Worker.ID
				}
				loop := worker.NewLoop(conn, workerID)
				loop.Interval = config.Duration(cfg.Worker.PollInterval, 15*time.Second)
				if err := registerHandlers(loop, cfg, kinds); err != nil {
					return err
				}
				if once {
					claimed, err := loop.RunOnce(ctx)
					if err != nil {
						return err
					}
					if !claimed {
						fmt.Println("no queued steps")
					}
					return nil
				}
				err := loop.Run(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().StringSliceVar(&kinds, "kinds", allStepKinds, "step kinds to handle")
	cmd.Flags().StringVar(&workerID, "worker-id", "", "worker identifier (default from config)")
	cmd.Flags().BoolVar(&once, "once", false, "run a single poll and exit")
	return cmd
}

func registerHandlers(loop *worker.Loop, cfg *config.Config, kinds []string) error {
	r := loop.Repo
	completer := llmClient(cfg)
	socialClient := socialClientFrom(cfg)
	for _, kind := range kinds {
		switch kind {
		case "analyze":
			loop.Register(kind, worker.Analyze{LLM: completer})
		case "write_content":
			loop.Register(kind, worker.WriteContent{Repo: r, LLM: completer})
		case "crawl":
			loop.Register(kind, worker.Crawl{Repo: r, MaxLength: cfg.Worker.MaxContentLength})
		case "post_social":
			if !socialClient.Configured() {
				fmt.Println("warning: social credentials missing, skipping post_social")
				continue
			}
			loop.Register(kind, worker.PostSocial{Repo: r, Client: socialClient})
		case "scan_social":
			if !socialClient.Configured() {
				fmt.Println("warning: social credentials missing, skipping scan_social")
				continue
			}
			loop.Register(kind, worker.ScanSocial{Repo: r, Client: socialClient})
		default:
			return fmt.Errorf("unknown step kind: %s", kind)
		}
	}
	return nil
}

func heartbeatCmd() *cobra.Command {
	hb := &cobra.Command{Use: "heartbeat", Short: "Trigger, reaction and recovery sweeps"}
	hb.AddCommand(heartbeatRunCmd())
	return hb
}

func heartbeatRunCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the heartbeat loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, conn *sql.DB, cfg *config.Config) error {
				hb := heartbeat.New(conn)
				hb.Interval = config.Duration(cfg.Heartbeat.Interval, 5*time.Minute)
				hb.StaleAfter = config.Duration(cfg.Worker.StaleAfter, 30*time.Minute)
				if cfg.Heartbeat.ReactionBatch > 0 {
					hb.ReactionBatch = cfg.Heartbeat.ReactionBatch
				}
				if once {
					results := hb.RunOnce(ctx)
					return printJSONOrTable(results)
				}
				err := hb.Run(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")
	return cmd
}

func roundtableCmd() *cobra.Command {
	rt := &cobra.Command{Use: "roundtable", Short: "Agent conversations"}
	rt.AddCommand(roundtableRunCmd())
	rt.AddCommand(roundtableQueueCmd())
	rt.AddCommand(roundtableListCmd())
	return rt
}

func roundtableRunCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the roundtable queue and run sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, conn *sql.DB, cfg *config.Config) error {
				orchestrator := roundtable.New(conn, llmClient(cfg))
				orchestrator.Interval = config.Duration(cfg.Roundtable.PollInterval, 30*time.Second)
				if once {
					claimed, err := orchestrator.RunOnce(ctx)
					if err != nil {
						return err
					}
					if !claimed {
						fmt.Println("no pending roundtables")
					}
					return nil
				}
				err := orchestrator.Run(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single poll and exit")
	return cmd
}

func roundtableQueueCmd() *cobra.Command {
	var format, topic string
	var participants []string
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue a roundtable session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, conn *sql.DB, cfg *config.Config) error {
				orchestrator := roundtable.New(conn, llmClient(cfg))
				session, err := orchestrator.Enqueue(ctx, format, topic, participants)
				if err != nil {
					return err
				}
				return printJSONOrTable(session)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "watercooler", "format (watercooler, standup, debate)")
	cmd.Flags().StringVar(&topic, "topic", "", "conversation topic")
	cmd.Flags().StringSliceVar(&participants, "participants", nil, "agent ids (at least 2)")
	_ = cmd.MarkFlagRequired("participants")
	return cmd
}

func roundtableListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List roundtable sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListRoundtables(ctx, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Format", "Topic", "Status", "Turns"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Format, s.Topic, s.Status, len(s.History)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 20, "max sessions")
	return cmd
}

func proposalCmd() *cobra.Command {
	p := &cobra.Command{Use: "proposal", Short: "Manage proposals"}
	p.AddCommand(proposalCreateCmd())
	p.AddCommand(proposalAcceptCmd())
	p.AddCommand(proposalRejectCmd())
	p.AddCommand(proposalListCmd())
	return p
}

func proposalCreateCmd() *cobra.Command {
	var agentID, title, stepsJSON string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a proposal",
		RunE: func(cmd *cobra.Command, args []string) error {
			var steps []domain.ProposedStep
			if err := json.Unmarshal([]byte(stepsJSON), &steps); err != nil {
				return fmt.Errorf("invalid --steps: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CreateProposal(ctx, agentID, title, steps)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "proposing agent id")
	cmd.Flags().StringVar(&title, "title", "", "proposal title")
	cmd.Flags().StringVar(&stepsJSON, "steps", "", `proposed steps JSON, e.g. [{"kind":"analyze","payload":{"topic":"release"}}]`)
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("steps")
	return cmd
}

func proposalAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <id>",
		Short: "Approve a pending proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.AcceptProposal(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func proposalRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RejectProposal(ctx, args[0], reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func proposalListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProposals(ctx, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Agent", "Title", "Status", "Reason"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.AgentID, p.Title, p.Status, p.RejectionReason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 20, "max proposals")
	return cmd
}

func missionCmd() *cobra.Command {
	m := &cobra.Command{Use: "mission", Short: "Inspect missions"}
	m.AddCommand(missionListCmd())
	m.AddCommand(missionShowCmd())
	return m
}

func missionListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListMissions(ctx, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Created By", "Created At"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, m.Title, m.Status, m.CreatedBy, m.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 20, "max missions")
	return cmd
}

func missionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a mission and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				m, err := r.GetMission(ctx, args[0])
				if err != nil {
					return err
				}
				steps, err := r.ListMissionSteps(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"mission": m, "steps": steps})
			})
		},
	}
}

func policyCmd() *cobra.Command {
	p := &cobra.Command{Use: "policy", Short: "Manage gate and approval policies"}
	p.AddCommand(policyListCmd())
	p.AddCommand(policyGetCmd())
	p.AddCommand(policySetCmd())
	return p
}

func policyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListPolicies(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func policyGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Show a policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetPolicy(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func policySetCmd() *cobra.Command {
	var valueJSON string
	cmd := &cobra.Command{
		Use:   "set <key>",
		Short: "Merge options into a policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value map[string]any
			if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
				return fmt.Errorf("invalid --value: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetPolicy(ctx, args[0], value)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&valueJSON, "value", "", `options JSON, e.g. {"enabled":true,"limit":5}`)
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func agentCmd() *cobra.Command {
	a := &cobra.Command{Use: "agent", Short: "Manage agents"}
	a.AddCommand(agentAddCmd())
	a.AddCommand(agentListCmd())
	return a
}

func agentAddCmd() *cobra.Command {
	var id, name, directive string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create or update an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.UpsertAgent(ctx, id, name, directive)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "agent id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&directive, "directive", "", "system directive for conversations")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func agentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAgents(ctx, nil)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Directive"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.DisplayName, a.SystemDirective})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func memoryCmd() *cobra.Command {
	m := &cobra.Command{Use: "memory", Short: "Inspect agent memories"}
	m.AddCommand(memoryListCmd())
	return m
}

func memoryListCmd() *cobra.Command {
	var agentID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List distilled memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListMemories(ctx, agentID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Agent", "Type", "Confidence", "Content"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.AgentID, m.Type, fmt.Sprintf("%.2f", m.Confidence), m.Content})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent filter")
	cmd.Flags().IntVar(&limit, "limit", 20, "max memories")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Activity event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var agentID, kind string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, agentID, kind)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent filter")
	cmd.Flags().StringVar(&kind, "kind", "", "event kind filter")
	return cmd
}

// --- helpers ---

func llmClient(cfg *config.Config) *llm.Client {
	return llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.Model)
}

func socialClientFrom(cfg *config.Config) *social.Client {
	password := os.Getenv("AGENTOPS_SOCIAL_APP_PASSWORD")
	if password == "" {
		password = cfg.Social.AppPassword
	}
	handle := os.Getenv("AGENTOPS_SOCIAL_HANDLE")
	if handle == "" {
		handle = cfg.Social.Handle
	}
	return social.NewClient(cfg.Social.Service, handle, password)
}

func withApp(ctx context.Context, fn func(context.Context, *sql.DB, *config.Config) error) error {
	conn, cfg, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, conn, cfg)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, conn *sql.DB, _ *config.Config) error {
		return fn(ctx, engine.New(conn))
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withApp(ctx, func(ctx context.Context, conn *sql.DB, _ *config.Config) error {
		return fn(ctx, repo.Repo{DB: conn})
	})
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
