package mysql

import (
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whalefall/accountsync/internal/database/dbclient"
)

func TestDSNPreservesSpecialCharacterPasswords(t *testing.T) {
	cfg := dbclient.InstanceConfig{
		Username:       "root",
		Password:       "p@ss/w:rd?&#",
		Host:           "db.internal",
		Port:           3306,
		ConnectTimeout: 10 * time.Second,
		QueryTimeout:   60 * time.Second,
	}

	parsed, err := mysql.ParseDSN(dsnFor(cfg, "mysql"))
	require.NoError(t, err)
	assert.Equal(t, "p@ss/w:rd?&#", parsed.Passwd)
	assert.Equal(t, "root", parsed.User)
	assert.Equal(t, "db.internal:3306", parsed.Addr)
	assert.Equal(t, "mysql", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, 10*time.Second, parsed.Timeout)
	assert.Equal(t, 60*time.Second, parsed.ReadTimeout)
}
