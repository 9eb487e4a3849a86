package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/render-gate/internal/database"
	"github.com/benvon/render-gate/internal/models"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// NewUsersCmd creates the users command for operator changes to user standing.
func NewUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user standing",
		Long:  "Suspend users, grant or revoke administrator rights, reset usage and inspect audit history.",
	}
	cmd.AddCommand(newUserShowCmd())
	cmd.AddCommand(newUserUpdateCmd("suspend", "Suspend a user", func(ctx context.Context, repo *database.ProfileRepository, id uuid.UUID) error {
		return repo.SetBanned(ctx, id, true)
	}))
	cmd.AddCommand(newUserUpdateCmd("unsuspend", "Lift a suspension", func(ctx context.Context, repo *database.ProfileRepository, id uuid.UUID) error {
		return repo.SetBanned(ctx, id, false)
	}))
	cmd.AddCommand(newUserUpdateCmd("grant-admin", "Grant administrator rights", func(ctx context.Context, repo *database.ProfileRepository, id uuid.UUID) error {
		return repo.SetAdmin(ctx, id, true)
	}))
	cmd.AddCommand(newUserUpdateCmd("revoke-admin", "Revoke administrator rights", func(ctx context.Context, repo *database.ProfileRepository, id uuid.UUID) error {
		return repo.SetAdmin(ctx, id, false)
	}))
	cmd.AddCommand(newUserUpdateCmd("reset-usage", "Reset usage for the current period", func(ctx context.Context, repo *database.ProfileRepository, id uuid.UUID) error {
		return repo.ResetUsage(ctx, id, database.NextPeriodStart(time.Now()))
	}))
	cmd.AddCommand(newUserAuditCmd())
	return cmd
}

func parseUserID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id %q: %w", arg, err)
	}
	return id, nil
}

func newUserUpdateCmd(use, short string, apply func(context.Context, *database.ProfileRepository, uuid.UUID) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <user-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			db, closeDB, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB()

			if err := apply(context.Background(), database.NewProfileRepository(db), id); err != nil {
				if errors.Is(err, models.ErrNotFound) {
					return fmt.Errorf("user %s not found", id)
				}
				return fmt.Errorf("%s: %w", use, err)
			}
			fmt.Printf("User %s: %s applied.\n", id, use)
			return nil
		},
	}
}

func newUserShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user's standing and usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			db, closeDB, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB()

			p, err := database.NewProfileRepository(db).GetByID(context.Background(), id)
			if err != nil {
				return fmt.Errorf("get user: %w", err)
			}
			fmt.Printf("User %s\n", p.ID)
			fmt.Printf("  Provider ID:   %s\n", p.ProviderID)
			fmt.Printf("  Email:         %s\n", p.Email)
			fmt.Printf("  Suspended:     %t\n", p.IsBanned)
			fmt.Printf("  Admin:         %t\n", p.IsAdmin)
			fmt.Printf("  Subscription:  %t\n", p.SubscriptionActive)
			fmt.Printf("  Usage:         %d\n", p.UsageThisPeriod)
			if p.UsageResetAt != nil {
				fmt.Printf("  Usage resets:  %s\n", p.UsageResetAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newUserAuditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit <provider-id>",
		Short: "List recent audited actions for a caller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, closeDB, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB()

			records, err := database.NewAuditRepository(db).ListByIdentity(context.Background(), args[0], limit)
			if err != nil {
				return fmt.Errorf("list audit records: %w", err)
			}
			if len(records) == 0 {
				fmt.Println("No audit records found")
				return nil
			}
			for _, rec := range records {
				target := rec.TargetType
				if rec.TargetID != "" {
					target += "/" + rec.TargetID
				}
				fmt.Printf("  %s  %-26s %s\n", rec.Timestamp.Format(time.RFC3339), rec.Action, target)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of records")
	return cmd
}
