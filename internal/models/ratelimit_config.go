package models

import "time"

// RatelimitConfig holds the edge (per client IP) rate in ulule format, e.g. "20-S", "600-M".
type RatelimitConfig struct {
	ConfigKey string    `json:"config_key"`
	Rate      string    `json:"rate"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
