package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/etd-pipeline/pkg/config"
)

func TestDSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:             "db.internal",
		Port:             5432,
		User:             "etd",
		Password:         `it's a secret`,
		Name:             "etd",
		SSLMode:          "require",
		StatementTimeout: 30 * time.Second,
	}
	assert.Equal(t,
		`host=db.internal port=5432 user=etd password='it\'s a secret' dbname=etd sslmode=require application_name=etd-pipeline statement_timeout=30000`,
		DSN(cfg))
}

func TestDSNSkipsEmptyValues(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "localhost", Port: 5432, User: "postgres", Name: "etd"})
	assert.Equal(t, "host=localhost port=5432 user=postgres dbname=etd application_name=etd-pipeline", dsn)
}
