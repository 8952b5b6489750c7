package config

import "time"

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type StorageConfig interface {
	GetStorageDriver() string
	GetDatabaseDSN() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetJanitorInterval() time.Duration
}

type Storage struct {
	src *source
}

var _ StorageConfig = Storage{}

func (s Storage) GetStorageDriver() string {
	return s.src.get("STORAGE_DRIVER", DriverSQLite)
}

func (s Storage) GetDatabaseDSN() string {
	return s.src.get("DATABASE_DSN", "file:cids.db")
}

// GetRedisAddr enables the Redis refresh-token and revocation store when set.
func (s Storage) GetRedisAddr() string {
	return s.src.get("REDIS_ADDR", "")
}

func (s Storage) GetRedisPassword() string {
	return s.src.get("REDIS_PASSWORD", "")
}

func (s Storage) GetJanitorInterval() time.Duration {
	return s.src.duration("JANITOR_INTERVAL", time.Minute)
}
