// Package server provides HTTP server setup and initialization for the
// capsule runtime service.
//
// This package orchestrates all components:
//   - HTTP routing with Gin framework
//   - Middleware stack (CORS, rate limiting, recovery, metrics)
//   - Budget registry layering (defaults, profile file, env overrides)
//   - Admission registry with slot gauges
//   - Session manager and manifest loader
//   - Dev artifact catalog seeding
//   - WebSocket bridge attachment
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger (production or development)
//  3. Layer budget profiles and create the admission registry
//  4. Seed the dev artifact catalog
//  5. Setup HTTP routes and middleware
//  6. Start HTTP server
//  7. Graceful shutdown disposes all sessions
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg)
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
