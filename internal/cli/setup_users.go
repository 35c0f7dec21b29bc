package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/internal/model"
	"ai-tutor-go/internal/service"
	"ai-tutor-go/pkg/log"

	"github.com/spf13/cobra"
)

var (
	setupPassword string
	setupEmail    string
	setupSkipDDL  bool
)

var setupUsersCmd = &cobra.Command{
	Use:   "setup-users",
	Short: "Create the users table and seed the primary admin",
	Long: `Print the users table DDL, migrate the table for the postgres, mysql and sqlite drivers,
and create the primary admin account (auth.primary_admin) if it does not exist.

With the supabase driver the table cannot be created through the API:
run the printed SQL in the Supabase SQL editor first.`,
	RunE: runSetupUsers,
}

func init() {
	setupUsersCmd.Flags().StringVar(&setupPassword, "password", "", "Password for the primary admin (prompted when empty)")
	setupUsersCmd.Flags().StringVar(&setupEmail, "email", "", "Email for the primary admin")
	setupUsersCmd.Flags().BoolVar(&setupSkipDDL, "no-ddl", false, "Do not print the users table DDL")
}

func runSetupUsers(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	out := cmd.OutOrStdout()
	if !setupSkipDDL {
		fmt.Fprintln(out, "-- users table")
		fmt.Fprintln(out, model.UsersTableDDL)
	}

	repo, db, err := openUserRepository(cfg, true)
	if err != nil {
		return err
	}
	if db != nil {
		defer closeGorm(db)
		fmt.Fprintf(out, "users table migrated (%s)\n", cfg.Database.Driver)
	}

	ctx := context.Background()
	username := cfg.Auth.PrimaryAdmin
	if username == "" {
		return apperr.Configuration("auth.primary_admin is empty")
	}

	password := setupPassword
	_, err = repo.FindByUsername(ctx, username)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrNotFound):
		if password == "" {
			if password, err = promptNewPassword(username); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("checking for %s (does the users table exist?): %w", username, err)
	}

	created, err := service.EnsurePrimaryAdmin(ctx, repo, username, password, setupEmail)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(out, "primary admin %q created\n", username)
	} else {
		fmt.Fprintf(out, "primary admin %q already exists\n", username)
	}
	return nil
}

// promptNewPassword 要求输入两次相同的密码。
func promptNewPassword(username string) (string, error) {
	first, err := readSecret(fmt.Sprintf("Password for %s: ", username))
	if errors.Is(err, errNotTerminal) {
		fmt.Fprintln(os.Stderr, "no terminal available, pass --password")
		return "", apperr.Invalid("password is required")
	}
	if err != nil {
		return "", err
	}
	second, err := readSecret("Repeat password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", apperr.Invalid("passwords do not match")
	}
	return first, nil
}
