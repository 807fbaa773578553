package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"phaseline/internal/config"
	"phaseline/internal/db"
	"phaseline/internal/domain"
	"phaseline/internal/engine"
	"phaseline/internal/server"
	"phaseline/internal/store"
	"phaseline/internal/tracker"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Phaseline CLI",
	Long: `Phaseline tracks projects through delivery phases with approval gates.
- Projects carry tasks, a deadline, a status, and a phase (DEV, INT, PRE, PROD).
- Progress is derived: task completion weighs 70%, the phase baseline 30%.
- Phase changes go through transition requests; someone other than the
  requester approves or rejects them ('pl transition request/review').
- Overdue projects sort first; finished ones hide unless you filter.
- Event log: diary of changes, view with 'pl log tail'.`,
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
	viper.SetEnvPrefix("PHASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("backend", "", "storage backend (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "postgres connection string")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))
	_ = viper.BindPFlag("dsn", rootCmd.PersistentFlags().Lookup("dsn"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(transitionCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var f engine.Filters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects in priority order",
		Long:  "Overdue projects come first, then the nearest deadlines. Done projects are hidden unless a filter is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				now := time.Now()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Phase", "Progress", "Deadline", "Overdue"})
				for _, p := range items {
					overdue := ""
					if p.Overdue(now) {
						overdue = "yes"
					}
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.Phase,
						fmt.Sprintf("%d%%", p.Progress), p.Deadline.Format("2006-01-02"), overdue})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (To-Do, In-Progress, Done)")
	cmd.Flags().StringVar(&f.Phase, "phase", "", "phase filter (DEV, INT, PRE, PROD)")
	cmd.Flags().BoolVar(&f.Overdue, "overdue", false, "only overdue projects")
	cmd.Flags().StringVar(&f.Search, "search", "", "substring match on name and description")
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var name, desc, deadline, status, phase string
	var noApproval bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, engine.ProjectInput{
					Name:             name,
					Description:      desc,
					Deadline:         deadline,
					Status:           status,
					Phase:            phase,
					RequiresApproval: !noApproval,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&status, "status", "To-Do", "initial status")
	cmd.Flags().StringVar(&phase, "phase", "DEV", "initial phase")
	cmd.Flags().BoolVar(&noApproval, "no-approval", false, "phase transitions apply without review")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("deadline")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var name, desc, deadline, status, phase string
	var requiresApproval bool
	cmd := &cobra.Command{
		Use:   "update <project-id>",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts engine.UpdateProjectOptions
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &desc
			}
			if cmd.Flags().Changed("deadline") {
				opts.Deadline = &deadline
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("phase") {
				opts.Phase = &phase
			}
			if cmd.Flags().Changed("requires-approval") {
				opts.RequiresApproval = &requiresApproval
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdateProject(ctx, args[0], opts, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&status, "status", "", "status (To-Do, In-Progress, Done)")
	cmd.Flags().StringVar(&phase, "phase", "", "phase (DEV, INT, PRE, PROD)")
	cmd.Flags().BoolVar(&requiresApproval, "requires-approval", true, "phase transitions need review")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteProject(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage project tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskImportCmd())
	return task
}

func taskListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p.Tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Done", "Assignee"})
				for _, t := range p.Tasks {
					done := ""
					if t.Completed {
						done = "x"
					}
					assignee := ""
					if t.AssignedTo != nil {
						assignee = *t.AssignedTo
					}
					tw.AppendRow(table.Row{t.ID, t.Name, done, assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func taskAddCmd() *cobra.Command {
	var name, assignee string
	cmd := &cobra.Command{
		Use:   "add <project-id>",
		Short: "Add a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				inputs := taskInputs(p.Tasks)
				inputs = append(inputs, engine.TaskInput{Name: name, AssignedTo: optionalString(assignee)})
				p, err = e.UpdateProject(ctx, args[0], engine.UpdateProjectOptions{Tasks: &inputs}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee user id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <project-id> <task-id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				inputs := taskInputs(p.Tasks)
				var taskName string
				for i := range inputs {
					if inputs[i].ID == args[1] {
						inputs[i].Completed = true
						taskName = inputs[i].Name
					}
				}
				if taskName == "" {
					return fmt.Errorf("task %s not found in project %s", args[1], args[0])
				}
				p, err = e.UpdateProject(ctx, args[0], engine.UpdateProjectOptions{Tasks: &inputs}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if cfg, err := config.LoadOptional(viper.GetString("workspace")); err == nil && cfg != nil && cfg.Tracker.BaseURL != "" {
					a := tracker.Adapter{Client: tracker.NewClient(cfg.Tracker.BaseURL, cfg.Tracker.Token), Engine: e}
					if err := a.NotifyCompleted(ctx, taskName); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "warning: tracker comment failed: %v\n", err)
					}
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func taskImportCmd() *cobra.Command {
	var jql string
	cmd := &cobra.Command{
		Use:   "import <project-id>",
		Short: "Import issues from the configured tracker as tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if jql == "" {
				return fmt.Errorf("--jql required")
			}
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil || cfg.Tracker.BaseURL == "" {
				return fmt.Errorf("tracker not configured; set tracker.base_url in %s", config.Path(workspace))
			}
			client := tracker.NewClient(cfg.Tracker.BaseURL, cfg.Tracker.Token)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a := tracker.Adapter{Client: client, Engine: e}
				res, err := a.Sync(ctx, args[0], jql, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&jql, "jql", "", "JQL query selecting issues to import")
	return cmd
}

func transitionCmd() *cobra.Command {
	tr := &cobra.Command{Use: "transition", Short: "Phase transitions"}
	tr.AddCommand(transitionRequestCmd())
	tr.AddCommand(transitionReviewCmd())
	tr.AddCommand(transitionHistoryCmd())
	return tr
}

func transitionRequestCmd() *cobra.Command {
	var to, comment string
	cmd := &cobra.Command{
		Use:   "request <project-id>",
		Short: "Request a phase transition",
		Long:  "Requests moving the project to its next phase. Applied immediately when the project does not require approval.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				return fmt.Errorf("--to required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.RequestTransition(ctx, args[0], domain.Phase(to), viper.GetString("actor-id"), comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target phase (must be the next phase)")
	cmd.Flags().StringVar(&comment, "comment", "", "request comment")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func transitionReviewCmd() *cobra.Command {
	var approve, reject bool
	var comment string
	cmd := &cobra.Command{
		Use:   "review <transition-id>",
		Short: "Approve or reject a pending transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return fmt.Errorf("exactly one of --approve or --reject required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ReviewTransition(ctx, args[0], approve, viper.GetString("actor-id"), comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the transition")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the transition")
	cmd.Flags().StringVar(&comment, "comment", "", "review comment")
	return cmd
}

func transitionHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <project-id>",
		Short: "Show transition history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.TransitionHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "From", "To", "Status", "Requested By", "Reviewed By"})
				for _, t := range items {
					from := ""
					if t.FromPhase != nil {
						from = string(*t.FromPhase)
					}
					reviewer := ""
					if t.ApprovedBy != nil {
						reviewer = *t.ApprovedBy
					}
					tw.AppendRow(table.Row{t.ID, from, t.ToPhase, t.Status, t.RequestedBy, reviewer})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func memberCmd() *cobra.Command {
	m := &cobra.Command{Use: "member", Short: "Project membership"}
	m.AddCommand(memberAddCmd())
	m.AddCommand(memberListCmd())
	return m
}

func memberAddCmd() *cobra.Command {
	var user, role string
	cmd := &cobra.Command{
		Use:   "add <project-id>",
		Short: "Add a member to a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return fmt.Errorf("--user required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AddMember(ctx, args[0], user, domain.Role(role))
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "member", "role (admin, member, viewer)")
	return cmd
}

func memberListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List project members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListMembers(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func profileCmd() *cobra.Command {
	p := &cobra.Command{Use: "profile", Short: "User profiles"}
	p.AddCommand(profileSetCmd())
	return p
}

func profileSetCmd() *cobra.Command {
	var email, fullName, role string
	cmd := &cobra.Command{
		Use:   "set <user-id>",
		Short: "Create or update a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpsertProfile(ctx, domain.Profile{
					ID:       args[0],
					Email:    email,
					FullName: fullName,
					Role:     domain.Role(role),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&fullName, "name", "", "full name")
	cmd.Flags().StringVar(&role, "role", "member", "global role (admin, member, viewer)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "API keys"}
	k.AddCommand(apikeyCreateCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		Long:  "Prints the raw key once; only its hash is stored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				raw, k, err := e.CreateAPIKey(ctx, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":   k.ID,
					"key":  raw,
					"name": k.Name,
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var projectID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.ListEvents(ctx, projectID, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&projectID, "project", "", "project id filter")
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	c.AddCommand(configInitCmd())
	c.AddCommand(configShowCmd())
	return c
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default phaseline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default()
			}
			if cmd.Flags().Changed("addr") || cfg.Server.Addr == "" {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") || cfg.Server.BasePath == "" {
				cfg.Server.BasePath = basePath
			}
			st, err := openStore(workspace, cfg)
			if err != nil {
				return err
			}
			defer st.DB().Close()
			e := engine.New(st)
			authCfg := server.AuthConfig{
				JWTSecret:              cfg.Auth.JWTSecret,
				AllowLegacyActorHeader: cfg.Auth.AllowActorHeader,
			}
			if secret := os.Getenv("PHASELINE_JWT_SECRET"); secret != "" {
				authCfg.JWTSecret = secret
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: cfg.Server.BasePath,
				Auth:     authCfg,
				Webhooks: cfg.Webhooks,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving phaseline api",
				"addr", cfg.Server.Addr,
				"base_path", cfg.Server.BasePath,
				"backend", backendName(cfg),
				"webhooks", len(cfg.Webhooks))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/api/v1", "API base path")
	return cmd
}

// --- helpers ---

func backendName(cfg *config.Config) string {
	if viper.GetString("backend") != "" {
		return viper.GetString("backend")
	}
	if cfg != nil && cfg.Storage.Backend != "" {
		return cfg.Storage.Backend
	}
	return "sqlite"
}

func openStore(workspace string, cfg *config.Config) (store.Store, error) {
	dbCfg := db.Config{Workspace: workspace}
	if cfg != nil {
		dbCfg.Backend = cfg.Storage.Backend
		dbCfg.DSN = cfg.Storage.DSN
	}
	if b := viper.GetString("backend"); b != "" {
		dbCfg.Backend = b
	}
	if dsn := viper.GetString("dsn"); dsn != "" {
		dbCfg.DSN = dsn
	}
	return db.Open(dbCfg)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	st, err := openStore(workspace, cfg)
	if err != nil {
		return err
	}
	defer st.DB().Close()
	return fn(ctx, engine.New(st))
}

func taskInputs(tasks []domain.Task) []engine.TaskInput {
	inputs := make([]engine.TaskInput, 0, len(tasks))
	for _, t := range tasks {
		inputs = append(inputs, engine.TaskInput{
			ID:         t.ID,
			Name:       t.Name,
			Completed:  t.Completed,
			AssignedTo: t.AssignedTo,
		})
	}
	return inputs
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

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
