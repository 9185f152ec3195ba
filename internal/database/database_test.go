package database

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: "5432", Username: "geo", Password: "pw", Database: "geotrack"}
	assert.Equal(t, "host=db port=5432 user=geo password=pw dbname=geotrack sslmode=disable", cfg.DSN())

	cfg.SSLMode = "require"
	assert.Contains(t, cfg.DSN(), "sslmode=require")
}

func TestConnectSqliteInMemory(t *testing.T) {
	m := NewManager(zerolog.Nop())
	require.NoError(t, m.ConnectSqlite(""))
	defer m.Close()

	require.NotNil(t, m.DB)
	assert.False(t, IsPostgres(m.DB))
	require.NoError(t, m.DB.Exec("CREATE TABLE t (v INTEGER)").Error)
	require.NoError(t, m.DB.Exec("INSERT INTO t VALUES (1)").Error)

	var n int64
	require.NoError(t, m.DB.Table("t").Count(&n).Error)
	assert.Equal(t, int64(1), n)

	require.NoError(t, m.Close())
	assert.Nil(t, m.DB)
	assert.NoError(t, m.Close())
}

func TestOpenSqliteIsolated(t *testing.T) {
	a, err := OpenSqlite("")
	require.NoError(t, err)
	b, err := OpenSqlite("")
	require.NoError(t, err)

	require.NoError(t, a.Exec("CREATE TABLE only_in_a (v INTEGER)").Error)
	assert.True(t, a.Migrator().HasTable("only_in_a"))
	assert.False(t, b.Migrator().HasTable("only_in_a"))
}

func TestConnectPostgresUnreachable(t *testing.T) {
	m := NewManager(zerolog.Nop())
	err := m.ConnectPostgres(Config{Host: "127.0.0.1", Port: "1", Username: "x", Database: "x"})
	assert.Error(t, err)
	assert.Nil(t, m.DB)
}
