package config

import (
	"sync"
)

var (
	dbOnce   sync.Once
	dbConfig *DBConfig
)

type DBConfig struct {
	Path string
}

func GetDBConfig() *DBConfig {
	dbOnce.Do(func() {
		loadEnv()

		dbConfig = &DBConfig{
			Path: getEnv("INGEST_DB_PATH", "data/ingest.db"),
		}
	})
	return dbConfig
}
