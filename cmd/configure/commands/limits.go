package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/benvon/render-gate/internal/config"
	"github.com/benvon/render-gate/internal/ratelimit"
	"github.com/spf13/cobra"
)

// NewLimitsCmd creates the limits command, which prints the effective
// per-class limits after defaults, LIMITS_FILE and environment overrides.
func NewLimitsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Inspect effective limits",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective rate limit classes and quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.LimitsFile != "" {
				fmt.Printf("Limits file: %s\n", cfg.LimitsFile)
			}
			fmt.Printf("Free tier renders per period: %d\n", cfg.FreeTierLimit)
			fmt.Printf("Edge rate (default): %s\n\n", cfg.EdgeRateLimit)

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "CLASS\tMAX REQUESTS\tWINDOW")
			for _, class := range ratelimit.Classes {
				limit := cfg.Limits[class]
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", class, limit.MaxRequests, limit.Window)
			}
			return tw.Flush()
		},
	})
	return cmd
}
