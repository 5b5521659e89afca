package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/DARIAH-ERIC/dariah-unr/internal/app"
	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
	"github.com/DARIAH-ERIC/dariah-unr/internal/engine"
	"github.com/DARIAH-ERIC/dariah-unr/internal/export"
	"github.com/DARIAH-ERIC/dariah-unr/internal/repo"
	"github.com/DARIAH-ERIC/dariah-unr/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "unr",
	Short: "DARIAH national reporting backend",
	Long: `unr runs the backend of the DARIAH unified national reporting.
- Reference data: countries, institutions, persons, roles, contributions, outreach, services, software.
- Campaigns: a reporting year is opened, national coordinators fill in their report, the office closes it.
- Reports: a wizard collects events, outreach and service KPIs, project funding and comments.
- Operational cost: computed from annual reference values and compared with the country's threshold.
- Event log: every change is recorded and can be pushed to webhooks.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("UNR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/unr.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "cli", "actor recorded in the event log")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(countryCmd())
	rootCmd.AddCommand(campaignCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(logCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				cfg := a.Config
				if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
					return fmt.Errorf("auth.jwt_secret (UNR_AUTH_JWT_SECRET) is required")
				}
				if cmd.Flags().Changed("addr") {
					cfg.Server.Addr = addr
				}
				if cmd.Flags().Changed("base-path") {
					cfg.Server.BasePath = basePath
				}
				handler, err := server.New(server.Config{
					Engine:      a.Engine,
					BasePath:    cfg.Server.BasePath,
					Auth:        server.AuthConfig{JWTSecret: cfg.Auth.JWTSecret, TokenTTL: time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute},
					CORSOrigins: cfg.Server.CORSOrigins,
					Logger:      zap.L(),
				})
				if err != nil {
					return err
				}
				ctx, cancel := context.WithCancel(cmd.Context())
				defer cancel()
				server.StartWebhookDispatcher(ctx, a.Engine)

				srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
					defer stop()
					_ = srv.Shutdown(shutdownCtx)
				}()
				zap.L().Info("serving",
					zap.String("addr", cfg.Server.Addr),
					zap.String("base_path", cfg.Server.BasePath),
					zap.String("docs", cfg.Server.BasePath+"/docs"))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				if viper.GetBool("json") {
					return printJSON(map[string]int{"schema_version": a.SchemaVersion})
				}
				fmt.Printf("Schema version %d (%s)\n", a.SchemaVersion, a.Config.Database.Driver)
				return nil
			})
		},
	}
}

func seedCmd() *cobra.Command {
	var opts app.SeedOptions
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Store default reference values and roles",
		Long:  "Seeds the annual values of event sizes, outreach types, service sizes and the priced roles. Values already present are kept. With --admin-email an admin user is created as well.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				data, err := app.DefaultSeed()
				if err != nil {
					return err
				}
				opts.Data = data
				opts.ActorID = viper.GetString("actor-id")
				if opts.AdminEmail != "" && opts.AdminPassword == "" {
					opts.AdminPassword = os.Getenv("UNR_ADMIN_PASSWORD")
				}
				res, err := app.Seed(cmd.Context(), a.Engine, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Seeded %d reference values and %d roles\n", res.Values, res.Roles)
				if res.Admin != nil {
					fmt.Printf("Created admin %s (%s)\n", res.Admin.Email, res.Admin.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.AdminEmail, "admin-email", "", "create an admin user with this email")
	cmd.Flags().StringVar(&opts.AdminName, "admin-name", "", "admin display name")
	cmd.Flags().StringVar(&opts.AdminPassword, "admin-password", "", "admin password (or UNR_ADMIN_PASSWORD)")
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}
	cmd.AddCommand(userCreateCmd())
	cmd.AddCommand(userListCmd())
	return cmd
}

func userCreateCmd() *cobra.Command {
	var name, email, password, role, country string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.CreateUserOptions{
					Name:     name,
					Email:    email,
					Password: password,
					Role:     role,
					ActorID:  viper.GetString("actor-id"),
				}
				if country != "" {
					c, err := resolveCountry(ctx, e, country)
					if err != nil {
						return err
					}
					opts.CountryID = &c.ID
				}
				u, err := e.CreateUser(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(u)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&password, "password", "", "initial password")
	cmd.Flags().StringVar(&role, "role", domain.UserNationalCoordinator, "admin, national_coordinator or contributor")
	cmd.Flags().StringVar(&country, "country", "", "country code or id")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userListCmd() *cobra.Command {
	var country string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				countryID := ""
				if country != "" {
					c, err := resolveCountry(ctx, e, country)
					if err != nil {
						return err
					}
					countryID = c.ID
				}
				users, err := e.ListUsers(ctx, countryID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable(table.Row{"ID", "Name", "Email", "Role", "Country"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.Role, deref(u.CountryID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&country, "country", "", "only users of this country (code or id)")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apiKeyCreateCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key for a user",
		Long:  "Issues an API key. The key is printed once and only its hash is stored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Repo.GetUserByEmail(ctx, email)
				if err != nil {
					return fmt.Errorf("user %s: %w", email, err)
				}
				key, err := e.CreateAPIKey(ctx, u.ID, name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(key)
				}
				fmt.Println(key.Key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "user", "", "email of the key owner")
	cmd.Flags().StringVar(&name, "name", "cli", "key name")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func countryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "country", Short: "Inspect countries"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List countries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				countries, err := e.Repo.ListCountries(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(countries)
				}
				tw := newTable(table.Row{"Code", "Name", "Type", "Start", "End", "ID"})
				for _, c := range countries {
					tw.AppendRow(table.Row{c.Code, c.Name, c.Type, deref(c.StartDate), deref(c.EndDate), c.ID})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func campaignCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "campaign", Short: "Open or close a reporting year"}
	cmd.AddCommand(campaignStatusCmd("open", domain.CampaignOpen))
	cmd.AddCommand(campaignStatusCmd("close", domain.CampaignClosed))
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				campaigns, err := e.Repo.ListCampaigns(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(campaigns)
				}
				tw := newTable(table.Row{"Year", "Status"})
				for _, c := range campaigns {
					tw.AppendRow(table.Row{c.Year, c.Status})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func campaignStatusCmd(use, status string) *cobra.Command {
	var year int
	var createReports bool
	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Mark a reporting year %s", status),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SetCampaignStatus(ctx, engine.CampaignOptions{
					Year:          year,
					Status:        status,
					CreateReports: createReports,
					ActorID:       viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Campaign %d is %s\n", res.Campaign.Year, res.Campaign.Status)
				for _, rep := range res.Created {
					fmt.Printf("  created report %s for %s\n", rep.ID, rep.CountryID)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", time.Now().Year(), "reporting year")
	if status == domain.CampaignOpen {
		cmd.Flags().BoolVar(&createReports, "create-reports", false, "create draft reports for active member countries")
	}
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "report", Short: "Inspect reports"}
	cmd.AddCommand(reportCalculateCmd())
	cmd.AddCommand(reportSummaryCmd())
	cmd.AddCommand(reportExportCmd())
	return cmd
}

type reportFlags struct {
	country string
	year    int
}

func (f *reportFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.country, "country", "", "country code or id")
	cmd.Flags().IntVar(&f.year, "year", time.Now().Year()-1, "reporting year")
	_ = cmd.MarkFlagRequired("country")
}

func (f *reportFlags) report(ctx context.Context, e engine.Engine) (domain.Report, error) {
	c, err := resolveCountry(ctx, e, f.country)
	if err != nil {
		return domain.Report{}, err
	}
	rep, err := e.Repo.GetReportByCountryYear(ctx, c.ID, f.year)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Report{}, fmt.Errorf("no %d report for %s", f.year, c.Code)
	}
	return rep, err
}

func reportCalculateCmd() *cobra.Command {
	var f reportFlags
	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Calculate the operational cost of a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := f.report(ctx, e)
				if err != nil {
					return err
				}
				result, err := e.ReportCalculation(ctx, "", rep.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(result)
				}
				tw := newTable(table.Row{"Category", "Cost"})
				tw.AppendRow(table.Row{"Roles", engine.FormatEuro(result.Costs.Roles)})
				tw.AppendRow(table.Row{"Events", engine.FormatEuro(result.Costs.Events)})
				tw.AppendRow(table.Row{"Outreach", engine.FormatEuro(result.Costs.Outreach)})
				tw.AppendRow(table.Row{"Services", engine.FormatEuro(result.Costs.Services)})
				tw.AppendFooter(table.Row{"Operational cost", engine.FormatEuro(result.OperationalCost)})
				tw.Render()
				if result.OperationalCostThreshold != nil {
					fmt.Printf("Threshold: %s\n", engine.FormatEuro(*result.OperationalCostThreshold))
				}
				return nil
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func reportSummaryCmd() *cobra.Command {
	var f reportFlags
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the summary of a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := f.report(ctx, e)
				if err != nil {
					return err
				}
				result, err := e.ReportCalculation(ctx, "", rep.ID)
				if err != nil {
					return err
				}
				summary, err := e.CreateReportSummary(ctx, "", rep.ID, result)
				if err != nil {
					return err
				}
				return printJSON(summary)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func reportExportCmd() *cobra.Command {
	var year int
	var country, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the operational cost overview of a year to an xlsx file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				countryID := ""
				if country != "" {
					c, err := resolveCountry(ctx, e, country)
					if err != nil {
						return err
					}
					countryID = c.ID
				}
				rows, err := e.ExportYear(ctx, year, countryID)
				if err != nil {
					return err
				}
				if out == "" {
					out = "operational-cost-" + strconv.Itoa(year) + ".xlsx"
				}
				if err := export.Save(out, rows); err != nil {
					return err
				}
				fmt.Printf("Wrote %d rows to %s\n", len(rows), out)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", time.Now().Year()-1, "reporting year")
	cmd.Flags().StringVar(&country, "country", "", "only this country (code or id)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	return cmd
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ingest", Short: "Import data from external services"}
	var country string
	marketplace := &cobra.Command{
		Use:   "marketplace",
		Short: "Import services and software from the SSH Open Marketplace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				var results []engine.IngestResult
				if country == "" {
					all, err := e.IngestAllMarketplace(ctx, actor)
					if err != nil {
						return err
					}
					results = all
				} else {
					c, err := resolveCountry(ctx, e, country)
					if err != nil {
						return err
					}
					res, err := e.IngestMarketplace(ctx, c.ID, actor)
					if err != nil {
						return err
					}
					results = append(results, res)
				}
				if viper.GetBool("json") {
					return printJSON(results)
				}
				tw := newTable(table.Row{"Country", "New services", "Updated services", "New software", "Updated software", "Skipped"})
				for _, r := range results {
					tw.AppendRow(table.Row{r.CountryCode, r.CreatedServices, r.UpdatedServices, r.CreatedSoftware, r.UpdatedSoftware, r.Skipped})
				}
				tw.Render()
				return nil
			})
		},
	}
	marketplace.Flags().StringVar(&country, "country", "", "only this country (code or id)")
	cmd.AddCommand(marketplace)
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	var f repo.EventFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable(table.Row{"ID", "Time", "Type", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + " " + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.AddCommand(tail)
	return cmd
}

// --- helpers ---

func withApp(fn func(*app.App) error) error {
	a, err := app.Open(app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigFile: viper.GetString("config"),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	defer func() { _ = zap.L().Sync() }()
	return fn(a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(func(a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

// resolveCountry accepts a two-letter code or a country id.
func resolveCountry(ctx context.Context, e engine.Engine, ref string) (domain.Country, error) {
	if len(ref) == 2 {
		c, err := e.Repo.GetCountryByCode(ctx, strings.ToUpper(ref))
		if err == nil || !errors.Is(err, repo.ErrNotFound) {
			return c, err
		}
	}
	c, err := e.Repo.GetCountry(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return c, fmt.Errorf("unknown country %q", ref)
	}
	return c, err
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
