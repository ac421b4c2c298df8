package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whalefall/accountsync/internal/database/dbclient"
)

func TestPoolConfigPreservesSpecialCharacterPasswords(t *testing.T) {
	cfg := dbclient.InstanceConfig{
		Username:       "postgres",
		Password:       "p@ss/w:rd?&#",
		Host:           "db.internal",
		Port:           5432,
		ConnectTimeout: 10 * time.Second,
	}

	poolConfig, err := poolConfigFor(cfg, "postgres")
	require.NoError(t, err)
	assert.Equal(t, "p@ss/w:rd?&#", poolConfig.ConnConfig.Password)
	assert.Equal(t, "postgres", poolConfig.ConnConfig.User)
	assert.Equal(t, "db.internal", poolConfig.ConnConfig.Host)
	assert.Equal(t, uint16(5432), poolConfig.ConnConfig.Port)
	assert.Equal(t, "postgres", poolConfig.ConnConfig.Database)
	assert.Equal(t, int32(1), poolConfig.MaxConns)
}
