package postgres

import "github.com/whalefall/accountsync/internal/database/adapter"

func init() {
	adapter.Register(NewAdapter())
}
