package storage

import (
	"fmt"
	"os"
)

// InitStore builds the Postgres-backed store. An empty connStr falls
// back to DATABASE_URL, then to a connection string assembled from the
// DB_* variables with local defaults.
func InitStore(connStr string) (*PostgresStore, error) {
	if connStr == "" {
		connStr = os.Getenv("DATABASE_URL")
	}
	if connStr == "" {
		host := envOr("DB_HOST", "localhost")
		port := envOr("DB_PORT", "5432")
		user := envOr("DB_USER", "postgres")
		password := envOr("DB_PASSWORD", "postgres")
		name := envOr("DB_NAME", "taskengine")
		sslMode := envOr("DB_SSL_MODE", "disable")
		connStr = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			user, password, host, port, name, sslMode)
	}
	return NewPostgresStore(connStr)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
