package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/iho/cashledger/internal/adapter/http/dto"
	"github.com/iho/cashledger/internal/domain"
	"github.com/iho/cashledger/internal/infrastructure/auth"
	"github.com/iho/cashledger/internal/infrastructure/config"
	"github.com/iho/cashledger/internal/infrastructure/logger"
	"github.com/iho/cashledger/internal/infrastructure/postgres"
)

// client talks to a running cashledger server.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

// errInconsistent makes the process exit non-zero after the report.
var errInconsistent = errors.New("ledger is inconsistent")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		baseURL string
		token   string
		timeout time.Duration
	)

	c := &client{}

	rootCmd := &cobra.Command{
		Use:           "cashledger-cli",
		Short:         "cashledger CLI tool",
		Long:          `A command line interface for inspecting and operating a cashledger server.`,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.baseURL = baseURL
			c.token = token
			c.http = &http.Client{Timeout: timeout}
		},
	}

	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "http://localhost:8080", "Base URL of the cashledger API")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("CASHLEDGER_TOKEN"), "Bearer token")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	// Ledger commands
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger operations",
	}
	ledgerCmd.AddCommand(consistencyCmd(c))

	rootCmd.AddCommand(ledgerCmd, balanceCmd(c), historyCmd(c), tokenCmd(), migrateCmd())
	return rootCmd
}

func consistencyCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "consistency",
		Short: "Check that the running total matches the movements",
		RunE: func(cmd *cobra.Command, args []string) error {
			var report dto.ConsistencyResponse
			status, err := c.get("/api/v1/ledger/consistency", nil, &report)
			if err != nil && status != http.StatusConflict {
				return err
			}

			out := cmd.OutOrStdout()
			if report.Consistent {
				fmt.Fprintf(out, "Consistency check PASSED\n")
			} else {
				fmt.Fprintf(out, "Consistency check FAILED\n")
			}
			fmt.Fprintf(out, "Recorded balance: %s (%d movements)\n", report.RecordedBalance, report.RecordedCount)
			fmt.Fprintf(out, "Computed balance: %s (%d movements)\n", report.ComputedBalance, report.ComputedCount)

			if !report.Consistent {
				fmt.Fprintf(out, "Difference: %s\n", report.Difference)
				return errInconsistent
			}
			return nil
		},
	}
}

func balanceCmd(c *client) *cobra.Command {
	var (
		asOf   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the current balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if asOf != "" {
				query.Set("as_of", asOf)
			}

			var agg dto.AggregateResponse
			if _, err := c.get("/api/v1/balance", query, &agg); err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), agg)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Balance:  %s\n", agg.Balance)
			fmt.Fprintf(out, "Incoming: %s\n", agg.TotalIncoming)
			fmt.Fprintf(out, "Outgoing: %s\n", agg.TotalOutgoing)
			fmt.Fprintf(out, "Count:    %d\n", agg.Count)
			return nil
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "Balance at a date or RFC 3339 timestamp")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}

func historyCmd(c *client) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history <movement-id>",
		Short: "Show the audit trail of a movement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid movement id %q", args[0])
			}

			var entries []dto.AuditEntryResponse
			if _, err := c.get(fmt.Sprintf("/api/v1/movements/%d/audit", id), nil, &entries); err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tACTION\tBY\tKIND\tAMOUNT\tCHANGES")
			for _, e := range entries {
				by := "-"
				if e.PerformedByName != nil {
					by = *e.PerformedByName
				} else if e.PerformedBy != nil {
					by = *e.PerformedBy
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format(time.RFC3339), e.Action, truncate(by, 24),
					e.Snapshot.Kind, e.Snapshot.Amount, truncate(describeChanges(e.Changes), 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		user   domain.User
		role   string
		secret string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local use",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("--secret or JWT_SECRET is required")
			}
			user.Role = domain.Role(role)

			token, err := auth.NewJWTManager(secret, ttl).Generate(&user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&user.ID, "user-id", "", "User ID (required)")
	cmd.Flags().StringVar(&user.Email, "email", "", "Email")
	cmd.Flags().StringVar(&user.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&user.LastName, "last-name", "", "Last name")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleViewer), "admin, operator or viewer")
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "Signing secret")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func migrateCmd() *cobra.Command {
	var (
		databaseURL string
		path        string
	)

	migrator := func() (*postgres.Migrator, error) {
		if databaseURL == "" || path == "" {
			cfg, err := config.Load()
			if err != nil {
				return nil, err
			}
			if databaseURL == "" {
				databaseURL = cfg.DatabaseURL
			}
			if path == "" {
				path = cfg.MigrationsPath
			}
		}
		l := logger.New(logger.Config{Level: "info", Format: "console", Output: os.Stderr})
		return postgres.NewMigrator(databaseURL, path, l), nil
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Database URL (defaults to DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&path, "path", "", "Migrations directory (defaults to MIGRATIONS_PATH)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := migrator()
				if err != nil {
					return err
				}
				return m.Up()
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := migrator()
				if err != nil {
					return err
				}
				return m.Down()
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := migrator()
				if err != nil {
					return err
				}
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %v)\n", version, dirty)
				return nil
			},
		},
	)
	return cmd
}

// get fetches path into dst and returns the status code. Non-2xx answers
// are still decoded into dst when possible and reported as an error.
func (c *client) get(path string, query url.Values, dst any) (int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}

	decodeErr := json.Unmarshal(body, dst)
	if resp.StatusCode >= 300 {
		var apiErr dto.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
			return resp.StatusCode, fmt.Errorf("%s (%d): %s", apiErr.Code, resp.StatusCode, apiErr.Message)
		}
		return resp.StatusCode, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if decodeErr != nil {
		return resp.StatusCode, fmt.Errorf("failed to parse response: %w", decodeErr)
	}
	return resp.StatusCode, nil
}

func describeChanges(changes domain.Changes) string {
	if len(changes) == 0 {
		return "-"
	}
	out := ""
	for _, field := range []string{
		domain.FieldKind, domain.FieldAmount, domain.FieldDescription,
		domain.FieldReference, domain.FieldCounterparty, domain.FieldCategory,
	} {
		ch, ok := changes[field]
		if !ok {
			continue
		}
		if out != "" {
			out += "; "
		}
		out += fmt.Sprintf("%s: %s -> %s", field, orDash(ch.Old), orDash(ch.New))
	}
	return out
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
