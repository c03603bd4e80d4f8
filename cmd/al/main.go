package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"auditline/internal/app"
	"auditline/internal/config"
	"auditline/internal/db"
	"auditline/internal/domain"
	"auditline/internal/engine"
	"auditline/internal/migrate"
	"auditline/internal/phase"
	"auditline/internal/repo"
	"auditline/internal/server"
	"auditline/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "al",
	Short: "Auditline CLI",
	Long: `Auditline manages audit engagements through a five-phase workflow:
planning, execution, findings, reporting, and follow-up. Each phase keeps a
completeness percentage; findings carry action plans; reports become immutable
once published. Everything is tenant-scoped and written to an event log.`,
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
	viper.SetEnvPrefix("AUDITLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	rootCmd.PersistentFlags().String("tenant", "", "tenant id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
	_ = viper.BindPFlag("tenant", rootCmd.PersistentFlags().Lookup("tenant"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(engagementCmd())
	rootCmd.AddCommand(planningCmd())
	rootCmd.AddCommand(executionCmd())
	rootCmd.AddCommand(workItemCmd())
	rootCmd.AddCommand(findingCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default auditline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" {
				return fmt.Errorf("--tenant required")
			}
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(tenantID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func engagementCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "engagement", Short: "Manage audit engagements"}
	cmd.AddCommand(engagementCreateCmd())
	cmd.AddCommand(engagementListCmd())
	cmd.AddCommand(engagementShowCmd())
	cmd.AddCommand(engagementUpdateCmd())
	cmd.AddCommand(engagementDeleteCmd())
	cmd.AddCommand(engagementPhaseCmd())
	cmd.AddCommand(engagementStatusCmd())
	cmd.AddCommand(engagementProgressCmd())
	return cmd
}

func engagementCreateCmd() *cobra.Command {
	var opts engine.EngagementCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an audit engagement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				opts.TenantID = tenantID
				opts.UserID = viper.GetString("user-id")
				eng, err := e.CreateEngagement(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Code, "code", "", "engagement code")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.LeadAuditor, "lead-auditor", "", "lead auditor")
	cmd.Flags().StringVar(&opts.StartDate, "start-date", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.ExpectedEndDate, "expected-end-date", "", "expected end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "low|medium|high|critical")
	cmd.Flags().StringVar(&opts.AuditedArea, "audited-area", "", "audited area")
	cmd.Flags().StringVar(&opts.AuditType, "audit-type", "", "audit type")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func engagementListCmd() *cobra.Command {
	var f repo.EngagementFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List engagements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				items, err := e.ListEngagements(ctx, tenantID, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Code", "Title", "Status", "Phase", "Lead"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Code, it.Title, it.Status, it.CurrentPhase, it.LeadAuditor})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Phase, "phase", "", "current phase filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func engagementShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <engagement-id>",
		Short: "Show engagement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				eng, err := e.GetEngagement(ctx, tenantID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	return cmd
}

func engagementUpdateCmd() *cobra.Command {
	var title, description, leadAuditor, priority string
	cmd := &cobra.Command{
		Use:   "update <engagement-id>",
		Short: "Update engagement header fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				opts := engine.EngagementUpdateOptions{UserID: viper.GetString("user-id")}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				if cmd.Flags().Changed("lead-auditor") {
					opts.LeadAuditor = &leadAuditor
				}
				if cmd.Flags().Changed("priority") {
					opts.Priority = &priority
				}
				eng, err := e.UpdateEngagement(ctx, tenantID, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&leadAuditor, "lead-auditor", "", "lead auditor")
	cmd.Flags().StringVar(&priority, "priority", "", "low|medium|high|critical")
	return cmd
}

func engagementDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <engagement-id>",
		Short: "Delete an engagement and all its children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				if !viper.GetBool("force") {
					return fmt.Errorf("refusing to delete without --force")
				}
				return e.Repo.DeleteEngagement(ctx, tenantID, args[0])
			})
		},
	}
	return cmd
}

func engagementPhaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phase <engagement-id> <phase>",
		Short: "Navigate to a workflow phase",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				target, err := phase.Parse(args[1])
				if err != nil {
					return err
				}
				eng, err := e.ChangePhase(ctx, tenantID, args[0], target, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	return cmd
}

func engagementStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <engagement-id> <status>",
		Short: "Change engagement status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				eng, err := e.SetEngagementStatus(ctx, tenantID, args[0], args[1], viper.GetString("user-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	return cmd
}

func engagementProgressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress <engagement-id>",
		Short: "Effective per-phase completeness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				progress, err := e.PhaseProgress(ctx, tenantID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(progress)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Phase", "Completeness"})
				for _, info := range phase.All() {
					tw.AppendRow(table.Row{info.ID, fmt.Sprintf("%d%%", progress[info.ID])})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

// planningDraft mirrors the planning phase view payload for --from-file.
type planningDraft struct {
	Objectives     []string              `json:"objectives"`
	Scope          string                `json:"scope"`
	Methodology    string                `json:"methodology"`
	Criteria       []string              `json:"criteria"`
	Resources      []domain.Resource     `json:"resources"`
	Schedule       []domain.ScheduleItem `json:"schedule"`
	BudgetEstimate float64               `json:"budget_estimate"`
}

func planningCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "planning", Short: "Planning phase"}
	var objectives, criteria []string
	var scope, methodology, resourcesJSON, scheduleJSON, fromFile string
	var budget float64
	var watch bool
	save := &cobra.Command{
		Use:   "save <engagement-id>",
		Short: "Save the planning draft",
		Long: `Save the planning draft from flags, or from a JSON draft file with
--from-file. With --watch the draft file is re-read and saved on the
configured autosave interval until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				userID := viper.GetString("user-id")
				if fromFile != "" {
					saveDraft := func(ctx context.Context) error {
						b, err := os.ReadFile(fromFile)
						if err != nil {
							return err
						}
						var d planningDraft
						if err := json.Unmarshal(b, &d); err != nil {
							return fmt.Errorf("%s: %w", fromFile, err)
						}
						_, err = e.SavePlanning(ctx, tenantID, args[0], engine.PlanningSaveOptions{
							Objectives:     d.Objectives,
							Scope:          d.Scope,
							Methodology:    d.Methodology,
							Criteria:       d.Criteria,
							Resources:      d.Resources,
							Schedule:       d.Schedule,
							BudgetEstimate: d.BudgetEstimate,
							UserID:         userID,
						})
						return err
					}
					saver := &workflow.Autosaver{
						Interval: e.Config.AutosaveInterval(),
						Save:     saveDraft,
					}
					if err := saver.SaveNow(ctx); err != nil {
						return err
					}
					if !watch {
						eng, err := e.GetEngagement(ctx, tenantID, args[0])
						if err != nil {
							return err
						}
						return printJSONOrTable(eng)
					}
					fmt.Printf("watching %s, autosaving every %s (ctrl-c to stop)\n", fromFile, e.Config.AutosaveInterval())
					wctx, stop := signal.NotifyContext(ctx, os.Interrupt)
					defer stop()
					saver.Run(wctx)
					return nil
				}
				opts := engine.PlanningSaveOptions{
					Objectives:     objectives,
					Scope:          scope,
					Methodology:    methodology,
					Criteria:       criteria,
					BudgetEstimate: budget,
					UserID:         userID,
				}
				if resourcesJSON != "" {
					if err := json.Unmarshal([]byte(resourcesJSON), &opts.Resources); err != nil {
						return fmt.Errorf("resources-json: %w", err)
					}
				}
				if scheduleJSON != "" {
					if err := json.Unmarshal([]byte(scheduleJSON), &opts.Schedule); err != nil {
						return fmt.Errorf("schedule-json: %w", err)
					}
				}
				eng, err := e.SavePlanning(ctx, tenantID, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	save.Flags().StringArrayVar(&objectives, "objective", []string{}, "audit objective (repeatable)")
	save.Flags().StringVar(&scope, "scope", "", "scope text")
	save.Flags().StringVar(&methodology, "methodology", "", "methodology text")
	save.Flags().StringArrayVar(&criteria, "criterion", []string{}, "audit criterion (repeatable)")
	save.Flags().StringVar(&resourcesJSON, "resources-json", "", `resources JSON, e.g. [{"name":"Ana","role":"lead","cost":1200}]`)
	save.Flags().StringVar(&scheduleJSON, "schedule-json", "", `schedule JSON, e.g. [{"activity":"kickoff","start":"2026-02-01"}]`)
	save.Flags().Float64Var(&budget, "budget", 0, "budget estimate")
	save.Flags().StringVar(&fromFile, "from-file", "", "JSON draft file")
	save.Flags().BoolVar(&watch, "watch", false, "keep autosaving the draft file")
	cmd.AddCommand(save)
	return cmd
}

func executionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "execution", Short: "Execution phase"}
	var analysisConcluded, classificationDone bool
	save := &cobra.Command{
		Use:   "save <engagement-id>",
		Short: "Save the execution flags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				eng, err := e.SaveExecution(ctx, tenantID, args[0], engine.ExecutionSaveOptions{
					AnalysisConcluded:  analysisConcluded,
					ClassificationDone: classificationDone,
					UserID:             viper.GetString("user-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	save.Flags().BoolVar(&analysisConcluded, "analysis-concluded", false, "analysis concluded")
	save.Flags().BoolVar(&classificationDone, "classification-done", false, "classification performed")
	cmd.AddCommand(save)
	return cmd
}

func workItemCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "workitem", Short: "Execution work program"}

	var addOpts engine.WorkItemCreateOptions
	add := &cobra.Command{
		Use:   "add <engagement-id>",
		Short: "Add a work-program entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				addOpts.UserID = viper.GetString("user-id")
				w, err := e.AddWorkItem(ctx, tenantID, args[0], addOpts)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	add.Flags().StringVar(&addOpts.Code, "code", "", "work item code")
	add.Flags().StringVar(&addOpts.Title, "title", "", "title")
	add.Flags().StringVar(&addOpts.Owner, "owner", "", "owner")
	_ = add.MarkFlagRequired("title")
	cmd.AddCommand(add)

	list := &cobra.Command{
		Use:   "list <engagement-id>",
		Short: "List work-program entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				items, err := e.ListWorkItems(ctx, tenantID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Code", "Title", "Status", "Owner"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Code, it.Title, it.Status, it.Owner})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.AddCommand(list)

	setStatus := &cobra.Command{
		Use:   "set-status <work-item-id> <status>",
		Short: "Change work-item status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				w, err := e.SetWorkItemStatus(ctx, tenantID, args[0], args[1], viper.GetString("user-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.AddCommand(setStatus)
	return cmd
}

func findingCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "finding", Short: "Audit findings"}

	var addOpts engine.FindingCreateOptions
	add := &cobra.Command{
		Use:   "add <engagement-id>",
		Short: "Record a finding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				addOpts.UserID = viper.GetString("user-id")
				f, err := e.AddFinding(ctx, tenantID, args[0], addOpts)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	add.Flags().StringVar(&addOpts.Code, "code", "", "finding code")
	add.Flags().StringVar(&addOpts.Title, "title", "", "title")
	add.Flags().StringVar(&addOpts.Description, "description", "", "description")
	add.Flags().StringVar(&addOpts.Criticality, "criticality", "", "low|medium|high|critical")
	add.Flags().StringVar(&addOpts.Category, "category", "", "category")
	add.Flags().StringVar(&addOpts.RootCause, "root-cause", "", "root cause")
	add.Flags().StringVar(&addOpts.Impact, "impact", "", "impact")
	add.Flags().StringVar(&addOpts.Recommendation, "recommendation", "", "recommendation")
	add.Flags().StringVar(&addOpts.ResponsibleArea, "responsible-area", "", "responsible area")
	add.Flags().StringVar(&addOpts.IdentificationDate, "identification-date", "", "identification date (YYYY-MM-DD)")
	add.Flags().StringArrayVar(&addOpts.Evidence, "evidence", []string{}, "evidence reference (repeatable)")
	add.Flags().StringVar(&addOpts.WorkItemID, "work-item", "", "originating work item id")
	add.Flags().StringVar(&addOpts.Likelihood, "likelihood", "", "likelihood")
	_ = add.MarkFlagRequired("title")
	cmd.AddCommand(add)

	list := &cobra.Command{
		Use:   "list <engagement-id>",
		Short: "List findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				findings, err := e.ListFindings(ctx, tenantID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(findings)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Code", "Title", "Criticality", "Status"})
				for _, f := range findings {
					tw.AppendRow(table.Row{f.ID, f.Code, f.Title, f.Criticality, f.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.AddCommand(list)

	setStatus := &cobra.Command{
		Use:   "set-status <finding-id> <status>",
		Short: "Change finding status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				f, err := e.SetFindingStatus(ctx, tenantID, args[0], args[1], viper.GetString("user-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.AddCommand(setStatus)
	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "plan", Short: "Remediation action plans"}

	var addOpts engine.PlanCreateOptions
	add := &cobra.Command{
		Use:   "add <finding-id>",
		Short: "Commit an action plan to a finding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				addOpts.UserID = viper.GetString("user-id")
				p, err := e.AddActionPlan(ctx, tenantID, args[0], addOpts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	add.Flags().StringVar(&addOpts.Code, "code", "", "plan code")
	add.Flags().StringVar(&addOpts.Title, "title", "", "title")
	add.Flags().StringVar(&addOpts.Description, "description", "", "description")
	add.Flags().StringVar(&addOpts.Responsible, "responsible", "", "responsible party")
	add.Flags().StringVar(&addOpts.Deadline, "deadline", "", "deadline (YYYY-MM-DD)")
	add.Flags().StringVar(&addOpts.Priority, "priority", "", "low|medium|high|critical")
	_ = add.MarkFlagRequired("title")
	cmd.AddCommand(add)

	var byFinding string
	list := &cobra.Command{
		Use:   "list [engagement-id]",
		Short: "List action plans for an engagement or a finding",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				var plans []domain.ActionPlan
				var err error
				switch {
				case byFinding != "":
					plans, err = e.Repo.ListActionPlansByFinding(ctx, tenantID, byFinding)
				case len(args) == 1:
					plans, err = e.ListActionPlans(ctx, tenantID, args[0])
				default:
					return fmt.Errorf("an engagement id or --finding is required")
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plans)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Progress", "Responsible", "Deadline"})
				for _, p := range plans {
					tw.AppendRow(table.Row{p.ID, p.Title, p.Status, fmt.Sprintf("%d%%", p.Progress), p.Responsible, p.Deadline})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&byFinding, "finding", "", "list plans for this finding instead")
	cmd.AddCommand(list)

	setStatus := &cobra.Command{
		Use:   "set-status <plan-id> <status>",
		Short: "Change action-plan status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				p, err := e.SetPlanStatus(ctx, tenantID, args[0], args[1], viper.GetString("user-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.AddCommand(setStatus)

	var progress int
	setProgress := &cobra.Command{
		Use:   "progress <plan-id>",
		Short: "Record action-plan progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				p, err := e.SetPlanProgress(ctx, tenantID, args[0], progress, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	setProgress.Flags().IntVar(&progress, "value", 0, "progress percentage 0..100")
	_ = setProgress.MarkFlagRequired("value")
	cmd.AddCommand(setProgress)
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "report", Short: "Reporting phase"}

	var createOpts engine.ReportCreateOptions
	create := &cobra.Command{
		Use:   "create <engagement-id>",
		Short: "Generate a report draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				createOpts.UserID = viper.GetString("user-id")
				rep, err := e.CreateReport(ctx, tenantID, args[0], createOpts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	create.Flags().StringVar(&createOpts.Type, "type", "", "executive|technical|compliance|followup")
	create.Flags().StringVar(&createOpts.Title, "title", "", "title")
	create.Flags().StringVar(&createOpts.ExecutiveSummary, "summary", "", "executive summary")
	create.Flags().IntVar(&createOpts.ComplianceScore, "compliance-score", 0, "compliance score 0..100")
	create.Flags().StringArrayVar(&createOpts.Recipients, "recipient", []string{}, "recipient (repeatable)")
	_ = create.MarkFlagRequired("type")
	_ = create.MarkFlagRequired("title")
	cmd.AddCommand(create)

	list := &cobra.Command{
		Use:   "list <engagement-id>",
		Short: "List reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				reports, err := e.ListReports(ctx, tenantID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reports)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Title", "Status", "Version"})
				for _, r := range reports {
					tw.AppendRow(table.Row{r.ID, r.Type, r.Title, r.Status, r.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.AddCommand(list)

	setStatus := &cobra.Command{
		Use:   "set-status <report-id> <status>",
		Short: "Advance report status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				rep, err := e.SetReportStatus(ctx, tenantID, args[0], args[1], viper.GetString("user-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.AddCommand(setStatus)

	newVersion := &cobra.Command{
		Use:   "new-version <report-id>",
		Short: "Clone a published report into a new draft version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				rep, err := e.NewReportVersion(ctx, tenantID, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.AddCommand(newVersion)
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var name, userID string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (prints the raw key once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				if userID == "" {
					userID = viper.GetString("user-id")
				}
				raw := "alk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
				key := domain.APIKey{
					ID:       uuid.NewString(),
					TenantID: tenantID,
					UserID:   userID,
					Name:     name,
					KeyHash:  repo.HashAPIKey(raw),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				fmt.Println("api key (store it now, it is not shown again):", raw)
				return printJSONOrTable(key)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key name")
	create.Flags().StringVar(&userID, "for-user", "", "user the key acts as (defaults to --user-id)")
	cmd.AddCommand(create)

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, tenantID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.AddCommand(list)

	del := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, tenantID, args[0])
			})
		},
	}
	cmd.AddCommand(del)
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	cmd.AddCommand(show)

	var filePath string
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate a config file without loading it into a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filePath
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			cfg, err := config.FromFile(path)
			if err != nil {
				return err
			}
			fmt.Println("ok:", path)
			return printJSONOrTable(cfg)
		},
	}
	check.Flags().StringVar(&filePath, "file", "", "path to YAML config (defaults to the workspace config)")
	cmd.AddCommand(check)
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	var n int
	var engagementID, evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, tenantID, n, engagementID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&engagementID, "engagement", "", "engagement filter")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	cmd.AddCommand(tail)
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
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveTenantAndConfig(cmd.Context(), workspace, viper.GetString("tenant"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:               cfg.Auth.JWTSecret,
				AllowLegacyTenantHeader: cfg.Auth.AllowLegacyTenantHead,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = os.Getenv("AUDITLINE_JWT_SECRET")
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyTenantHeader {
				return fmt.Errorf("auth.jwt_secret (or AUDITLINE_JWT_SECRET) is required for bearer auth")
			}
			if addr == "" {
				addr = cfg.Server.Listen
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Auditline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, string, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	tenantID, cfg, err := app.ResolveTenantAndConfig(ctx, workspace, viper.GetString("tenant"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, tenantID, e)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}
