// Package kvstate supplies the CometBFT node's own block-store/state
// database provider. This is deliberately separate from internal/storage:
// CometBFT owns the consensus-level block store, vote and evidence
// indices, and ABCI-app-opaque state snapshots in its own key-value
// database, while internal/storage is this application's relational
// store of elections, ballots, and commitment trees.
//
// Grounded on the teacher's dbProvider closure in
// pkg/consensus/bft_integration.go's NewRealCometBFTEngine.
package kvstate

import (
	"path/filepath"

	dbm "github.com/cometbft/cometbft-db"
	cmtconfig "github.com/cometbft/cometbft/config"
)

// Backend is the cometbft-db backend used for every node database. goleveldb
// needs no external service, matching the teacher's own default.
const Backend = dbm.GoLevelDBBackend

// Provider builds the config.DBProvider the node constructor uses to open
// its block store, state store, and evidence store under rootDir/data.
func Provider(rootDir string) cmtconfig.DBProvider {
	return func(ctx *cmtconfig.DBContext) (dbm.DB, error) {
		return dbm.NewDB(ctx.ID, Backend, filepath.Join(rootDir, "data"))
	}
}
