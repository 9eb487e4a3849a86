package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/benvon/render-gate/internal/database"
	"github.com/benvon/render-gate/internal/models"
	"github.com/benvon/render-gate/internal/validation"
	"github.com/spf13/cobra"
)

// NewRatelimitCmd creates the ratelimit configuration command with list and set subcommands.
func NewRatelimitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Manage the edge rate limit",
		Long:  "List or update the per client address edge rate (e.g. 20-S, 600-M). Stored in database and picked up by running servers within a minute.",
	}
	cmd.AddCommand(newRatelimitListCmd())
	cmd.AddCommand(newRatelimitSetCmd())
	return cmd
}

func newRatelimitListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored rate limit configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, closeDB, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB()

			configs, err := database.NewRatelimitConfigRepository(db).List(context.Background())
			if err != nil {
				return fmt.Errorf("list ratelimit config: %w", err)
			}
			if len(configs) == 0 {
				fmt.Println("No rate limit configuration in database. Use 'ratelimit set' to add one.")
				return nil
			}
			fmt.Println("Rate limit configuration:")
			for _, c := range configs {
				fmt.Printf("  %s: %s (updated %s)\n", c.ConfigKey, c.Rate, c.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newRatelimitSetCmd() *cobra.Command {
	var rate string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set the edge rate limit",
		Long:  "Update the edge rate (e.g. 5-S, 100-M, 1000-H). Stored in database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rate = strings.TrimSpace(rate)
			if rate == "" {
				return fmt.Errorf("--rate is required (e.g. 5-S, 100-M)")
			}
			if err := validation.ValidateEdgeRate(rate); err != nil {
				return err
			}

			db, closeDB, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB()

			c := &models.RatelimitConfig{ConfigKey: database.EdgeRateKey, Rate: rate}
			if err := database.NewRatelimitConfigRepository(db).Set(context.Background(), c); err != nil {
				return fmt.Errorf("set ratelimit config: %w", err)
			}
			fmt.Println("Rate limit configuration updated.")
			return nil
		},
	}
	cmd.Flags().StringVar(&rate, "rate", "", "Rate (e.g. 5-S, 100-M, 1000-H) (required)")
	return cmd
}
