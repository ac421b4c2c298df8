package mssql

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whalefall/accountsync/internal/database/dbclient"
)

func TestConnURLPreservesSpecialCharacterPasswords(t *testing.T) {
	cfg := dbclient.InstanceConfig{
		Username:       "sa",
		Password:       "p@ss;w/o:rd?",
		Host:           "db.internal",
		Port:           1433,
		ConnectTimeout: 10 * time.Second,
	}

	parsed, err := url.Parse(connURLFor(cfg, "master"))
	require.NoError(t, err)

	password, ok := parsed.User.Password()
	require.True(t, ok)
	assert.Equal(t, "p@ss;w/o:rd?", password)
	assert.Equal(t, "sa", parsed.User.Username())
	assert.Equal(t, "db.internal:1433", parsed.Host)
	assert.Equal(t, "master", parsed.Query().Get("database"))
	assert.Equal(t, "10", parsed.Query().Get("dial timeout"))
}
