// SPDX-License-Identifier: MIT

// Package config loads runtime configuration from the environment.
package config

import (
	"strings"
	"time"
)

// Config is the complete runtime configuration of the daemon.
type Config struct {
	ListenAddr string

	JWTSecret         string
	AccessTokenExpiry time.Duration

	StorageDir string
	BackupDir  string

	BackupInterval  time.Duration // 0 disables the backup loop
	BackupRetention int

	RateLimitCleanupInterval time.Duration // 0 disables the GC loop

	MaxAuditFileSizeMB int

	ServerSideTimer   bool
	ResetBoxesOnStart bool

	AllowedOrigins     []string
	AllowedOriginRegex string

	DefaultAdminPassword string
	ResetAdminPassword   bool

	LogLevel string
}

// FromEnv builds a Config from environment variables, applying defaults
// and logging the source of each value.
func FromEnv() Config {
	cfg := Config{
		ListenAddr:               ParseString("LISTEN_ADDR", ":8000"),
		JWTSecret:                ParseString("JWT_SECRET", ""),
		AccessTokenExpiry:        time.Duration(ParseInt("ACCESS_TOKEN_EXPIRES_MIN", 600)) * time.Minute,
		StorageDir:               ParseString("STORAGE_DIR", "./storage"),
		BackupDir:                ParseString("BACKUP_DIR", "./backups"),
		BackupInterval:           time.Duration(ParseInt("BACKUP_INTERVAL_MIN", 10)) * time.Minute,
		BackupRetention:          ParseInt("BACKUP_RETENTION_FILES", 20),
		RateLimitCleanupInterval: time.Duration(ParseInt("RATE_LIMIT_CLEANUP_INTERVAL_MIN", 5)) * time.Minute,
		MaxAuditFileSizeMB:       ParseInt("MAX_AUDIT_FILE_SIZE_MB", 50),
		ServerSideTimer:          ParseBool("SERVER_SIDE_TIMER", true),
		ResetBoxesOnStart:        ParseBool("RESET_BOXES_ON_START", true),
		AllowedOriginRegex:       ParseString("ALLOWED_ORIGIN_REGEX", ""),
		DefaultAdminPassword:     ParseString("DEFAULT_ADMIN_PASSWORD", "admin"),
		ResetAdminPassword:       ParseBool("RESET_ADMIN_PASSWORD", false),
		LogLevel:                 ParseString("LOG_LEVEL", "info"),
	}
	cfg.AllowedOrigins = splitOrigins(ParseString("ALLOWED_ORIGINS", ""))
	return cfg
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
