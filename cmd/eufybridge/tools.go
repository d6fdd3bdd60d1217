package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/eufy-bridge/internal/auth"
	"github.com/nerrad567/eufy-bridge/internal/device"
	"github.com/nerrad567/eufy-bridge/internal/infrastructure/config"
	"github.com/nerrad567/eufy-bridge/internal/infrastructure/database"
)

// newDevicesCmd lists the records held in the durable store. It reads the
// store only and never contacts the cloud.
func newDevicesCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the devices in the local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			store, closeStore, err := openStore(cmd.Context(), cfg.Database, false)
			if err != nil {
				return err
			}
			defer closeStore() //nolint:errcheck // Read-only use

			records, err := store.LoadAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("loading devices: %w", err)
			}
			return printDevices(cmd.OutOrStdout(), records)
		},
	}
}

func printDevices(w io.Writer, records []device.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIAL\tNAME\tMODEL\tKIND\tUPDATED\tPROPERTIES")
	for _, rec := range records {
		props := make([]string, 0, len(rec.Properties))
		for _, name := range rec.PropertyNames() {
			props = append(props, name+"="+rec.Properties[name].Value.String())
		}
		updated := "-"
		if !rec.UpdatedAt.IsZero() {
			updated = rec.UpdatedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Serial, rec.Name, rec.Model, rec.Kind, updated, strings.Join(props, " "))
	}
	return tw.Flush()
}

// newMigrateCmd applies or rolls back SQLite migrations.
func newMigrateCmd(configPath func() string) *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQLite migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Database.Backend != "sqlite" {
				return fmt.Errorf("migrations apply to the sqlite backend, configured backend is %q", cfg.Database.Backend)
			}

			db, err := database.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close() //nolint:errcheck // Process exits next

			ctx := cmd.Context()
			if down {
				err = db.MigrateDown(ctx)
			} else {
				err = db.Migrate(ctx)
			}
			if err != nil {
				return err
			}

			applied, pending, err := db.MigrationStatus(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d applied, %d pending\n", len(applied), len(pending))
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	return cmd
}

// newHashPasswordCmd prints an Argon2id hash for
// security.admin_password_hash. The password is read from the argument or
// from the first line of stdin.
func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Hash an API admin password",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("reading password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password must not be empty")
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// newTokenCmd mints an access token offline, for viewer dashboards and
// automation that cannot hold the admin password.
func newTokenCmd(configPath func() string) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Security.JWT.Secret == "" {
				return errors.New("security.jwt.secret is not configured")
			}

			token, expires, err := auth.GenerateAccessToken(subject, r, cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Local().Format(time.DateTime))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "dashboard", "token subject")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "token role (admin or viewer)")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "eufybridge %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
