package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/unisubmit-api/pkg/config"
)

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresDSN(config.DatabaseConfig{
		Host:            "db.internal",
		Port:            5432,
		User:            "reviewer",
		Password:        `p@ss word'\x`,
		Name:            "university_data",
		SSLMode:         "disable",
		ApplicationName: "UniSubmit",
	})

	assert.Equal(t,
		`host='db.internal' port=5432 user='reviewer' password='p@ss word\'\\x' dbname='university_data' sslmode='disable' application_name='UniSubmit'`,
		dsn,
	)
}

func TestPostgresDSNOmitsEmptyApplicationName(t *testing.T) {
	dsn := PostgresDSN(config.DatabaseConfig{Host: "localhost", Port: 5432, User: "postgres", Name: "db", SSLMode: "disable"})
	assert.NotContains(t, dsn, "application_name")
	assert.Contains(t, dsn, "password=''")
}
