// Package config provides 12-factor configuration for the runtime
// service.
//
// Configuration is loaded from RUNTIME_-prefixed environment variables
// with sensible defaults. Per-surface budget overrides layer on top of
// an optional TOML profile file, which layers on top of the compiled
// defaults; explicit per-session caller overrides beat all of these and
// are resolved by the session itself.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - Artifacts: dev catalog seeds directory
//   - Budgets: per-surface concurrency and timeout overrides
//   - Bridge: host origin allowlist, visibility threshold
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	budgets := budget.NewRegistry()
//	if err := cfg.ApplyBudgets(budgets); err != nil { ... }
//
// Environment Variables:
//   - RUNTIME_PORT, RUNTIME_HOST
//   - RUNTIME_LOG_LEVEL, RUNTIME_LOG_DEV
//   - RUNTIME_RATE_LIMIT_RPS, RUNTIME_RATE_LIMIT_BURST
//   - RUNTIME_BUDGET_PROFILE_FILE
//   - RUNTIME_FEED_MAX_CONCURRENT, RUNTIME_FEED_BOOT_MS, RUNTIME_FEED_RUN_MS
//     (likewise PLAYER_ and EMBED_)
package config
