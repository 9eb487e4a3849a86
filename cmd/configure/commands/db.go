package commands

import (
	"fmt"
	"os"

	"github.com/benvon/render-gate/internal/config"
	"github.com/benvon/render-gate/internal/database"
)

// openDB loads configuration and connects to the database. The returned
// close function logs failures to stderr.
func openDB() (*database.DB, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
	}, nil
}
