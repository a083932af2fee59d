package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/lab-result-api/pkg/config"
)

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(config.DatabaseConfig{
		Host:             "db",
		Port:             5432,
		User:             "lab",
		Password:         "it's secret",
		Name:             "lab_results",
		SSLMode:          "disable",
		ApplicationName:  "lab-result-api",
		StatementTimeout: 5 * time.Second,
		ConnectTimeout:   1500 * time.Millisecond,
	})

	assert.Equal(t, `host=db port=5432 user=lab password='it\'s secret' dbname=lab_results sslmode=disable application_name=lab-result-api connect_timeout=2 statement_timeout=5000`, dsn)
}

func TestPostgresDSNOmitsUnsetOptions(t *testing.T) {
	dsn := postgresDSN(config.DatabaseConfig{Host: "localhost", Port: 5432, User: "postgres", Name: "lab", SSLMode: "disable"})

	assert.Equal(t, "host=localhost port=5432 user=postgres dbname=lab sslmode=disable", dsn)
}
