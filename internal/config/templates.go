package config

import (
	"fmt"
	"os"
	"path/filepath"

	"pattern-tracker/internal/lifecycle"
)

const configTemplate = `# Pattern Tracker Configuration

[logging]
# trace, debug, info, warn, error
level = "info"
console = true
# Rotated log file
file = false
max_size = 50
max_backups = 5
max_age = 14

[detection]
# Patterns below min_confidence are dropped
min_confidence = 55.0
# Patterns at or above high_confidence form the primary subset
high_confidence = 65.0
max_confidence = 95.0
# Trailing bars scanned for candlestick formations
candle_lookback = 5
volume_lookback = 20
# Volume multiple that confirms a breakout
volume_confirm_ratio = 1.5
# Merge pivots from a coarser resampled series
multi_timeframe = true
coarse_factor = 4
# Analysis result cache lifetime (0 disables)
cache_ttl = "30s"

[lifecycle]
# Confidence that promotes a pending pattern to confirmed
confirm_threshold = 70.0
# Consecutive missed detections before a pattern is invalidated
max_misses = 2
repository_timeout = "3s"
sweep_interval = "15m"
sweep_max_age_hours = 72.0
# Per-pattern rules, relative to this directory
rules_file = "rules.toml"

[library]
# Set to false to run without enrichment. When enabled, a missing or corrupt
# file stops startup.
enabled = true
# Pattern knowledge base (JSON); empty uses data/pattern_library.json
path = ""

[store]
# memory, sqlite or postgres
driver = "memory"
# Defaults to patterns.db in this directory
sqlite_path = ""
postgres_url = ""
max_conns = 10
min_conns = 2

[breaker]
# Consecutive repository failures before calls fail fast
failure_threshold = 5
success_threshold = 1
cooldown = "30s"

[redis]
# Shared analysis result cache
enabled = false
address = "localhost:6379"
password = ""
db = 0
pool_size = 10

[server]
address = "127.0.0.1:8090"
production_mode = false
allow_origins = ["http://localhost:5173"]
shutdown_timeout = "10s"

[stream]
buffer_size = 256
subscriber_buffer_size = 64
slow_consumer_drop_threshold = 10
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	if err := lifecycle.WriteRulesTemplate(filepath.Join(configDir, "rules.toml")); err != nil {
		return fmt.Errorf("writing rules template: %w", err)
	}
	return nil
}
