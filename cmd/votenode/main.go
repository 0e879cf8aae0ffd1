// Command votenode runs one replica of the ballot-processing application:
// the chain core, its ABCI consensus adapter, an in-process CometBFT node,
// and the read/submit HTTP surface.
//
// Bootstrap is adapted from the teacher's main.go and
// pkg/consensus/bft_integration.go's RealCometBFTEngine: node.NewNode,
// privval/p2p key loading, and RPC/P2P listen-address wiring, trimmed to
// what a single application chain needs (no multi-chain anchor scheduling,
// no hardcoded four-validator genesis).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/cometbft/cometbft/node"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/privval"
	"github.com/cometbft/cometbft/proxy"
	cmthttp "github.com/cometbft/cometbft/rpc/client/http"
	cmtconfig "github.com/cometbft/cometbft/config"
	cmttypes "github.com/cometbft/cometbft/types"

	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"

	"github.com/vote-bft/vote-node/internal/chain"
	"github.com/vote-bft/vote-node/internal/config"
	"github.com/vote-bft/vote-node/internal/consensusadapter"
	"github.com/vote-bft/vote-node/internal/election"
	"github.com/vote-bft/vote-node/internal/httpapi"
	"github.com/vote-bft/vote-node/internal/kvstate"
	"github.com/vote-bft/vote-node/internal/metrics"
	"github.com/vote-bft/vote-node/internal/sigscheme"
	"github.com/vote-bft/vote-node/internal/storage"
	"github.com/vote-bft/vote-node/internal/zkproof"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("votenode: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var (
		home         string
		dataPath     string
		dbPath       string
		cometbftPort int
	)
	flag.StringVar(&home, "home", cfg.NodeHome, "base directory for node identity and consensus state")
	flag.StringVar(&dataPath, "data-path", cfg.ElectionDataPath, "directory of election definition files")
	flag.StringVar(&dbPath, "db-path", "", "cometbft node database/identity directory (defaults under --home)")
	flag.IntVar(&cometbftPort, "cometbft-port", cfg.P2PPort, "cometbft P2P listen port; RPC listens on this port minus one")
	flag.Parse()

	cfg.NodeHome = home
	cfg.ElectionDataPath = dataPath
	cfg.P2PPort = cometbftPort
	cfg.RPCPort = cometbftPort - 1
	if dbPath == "" {
		dbPath = filepath.Join(home, "cometbft")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := log.New(log.Writer(), "[VoteNode] ", log.LstdFlags)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate storage: %w", err)
	}

	registry := election.New()
	if err := registry.LoadAndReconcile(ctx, store, cfg.ElectionDataPath); err != nil {
		return fmt.Errorf("load elections: %w", err)
	}

	sigscheme.Initialize()

	verifier := zkproof.NewVerifier()
	if cfg.ZKCircuitPath != "" && cfg.ZKVerifyingKeyPath != "" {
		csFile, err := os.Open(cfg.ZKCircuitPath)
		if err != nil {
			return fmt.Errorf("open zk circuit file: %w", err)
		}
		defer csFile.Close()
		vkFile, err := os.Open(cfg.ZKVerifyingKeyPath)
		if err != nil {
			return fmt.Errorf("open zk verifying key file: %w", err)
		}
		defer vkFile.Close()
		if err := verifier.LoadKeys(csFile, vkFile); err != nil {
			return fmt.Errorf("load zk keys: %w", err)
		}
	} else {
		logger.Printf("no ZK key material configured, running an insecure development trusted setup")
		if err := verifier.Setup(); err != nil {
			return fmt.Errorf("zk development setup: %w", err)
		}
	}

	registerer := prometheus.NewRegistry()
	m, err := metrics.New(registerer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	core, err := chain.New(store, registry, verifier, m, cfg.CheckCacheSize)
	if err != nil {
		return fmt.Errorf("create chain core: %w", err)
	}
	go core.Run(ctx)
	if _, err := core.Info(ctx); err != nil {
		return fmt.Errorf("load initial app state: %w", err)
	}

	app := consensusadapter.New(core)

	cometCfg, err := buildCometConfig(dbPath, cfg.ChainID, cometbftPort)
	if err != nil {
		return fmt.Errorf("build cometbft config: %w", err)
	}

	pv, err := privval.LoadOrGenFilePV(cometCfg.PrivValidatorKeyFile(), cometCfg.PrivValidatorStateFile())
	if err != nil {
		return fmt.Errorf("load or generate validator key: %w", err)
	}
	nodeKey, err := p2p.LoadOrGenNodeKey(cometCfg.NodeKeyFile())
	if err != nil {
		return fmt.Errorf("load or generate node key: %w", err)
	}
	if err := writeGenesisIfMissing(cometCfg, pv); err != nil {
		return fmt.Errorf("write genesis: %w", err)
	}

	tmLogger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout)).With("module", "cometbft")

	n, err := node.NewNode(
		cometCfg,
		pv,
		nodeKey,
		proxy.NewLocalClientCreator(app),
		node.DefaultGenesisDocProviderFunc(cometCfg),
		kvstate.Provider(cometCfg.RootDir),
		node.DefaultMetricsProvider(cometCfg.Instrumentation),
		tmLogger,
	)
	if err != nil {
		return fmt.Errorf("create cometbft node: %w", err)
	}
	if err := n.Start(); err != nil {
		return fmt.Errorf("start cometbft node: %w", err)
	}
	defer n.Stop()

	time.Sleep(500 * time.Millisecond)

	rpcAddr := fmt.Sprintf("http://127.0.0.1:%d/v1", cfg.RPCPort)
	rpcClient, err := cmthttp.New(rpcAddr, "/websocket")
	if err != nil {
		return fmt.Errorf("create rpc client: %w", err)
	}
	if err := rpcClient.Start(); err != nil {
		return fmt.Errorf("start rpc client: %w", err)
	}
	defer rpcClient.Stop()

	handlers := httpapi.New(store, registry, core, rpcClient)
	mux := httpapi.NewMux(handlers, registerer)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		logger.Printf("http surface listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("http server error: %v", err)
		}
	}()
	defer httpServer.Close()

	logger.Printf("votenode ready: chain_id=%s p2p_port=%d rpc_port=%d", cfg.ChainID, cfg.P2PPort, cfg.RPCPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Printf("shutting down")
	return nil
}

// buildCometConfig mirrors the teacher's minimal CometBFT config.Config
// construction in NewValidatorChainEngine: a single goleveldb-backed node
// listening on the given port for P2P and port-1 for RPC (spec §5.1:
// "RPC port is cometbft_port - 1").
func buildCometConfig(rootDir, chainID string, p2pPort int) (*cmtconfig.Config, error) {
	cfg := cmtconfig.DefaultConfig()
	cfg.RootDir = rootDir
	cfg.Moniker = chainID
	cfg.DBBackend = string(kvstate.Backend)
	cfg.P2P.ListenAddress = fmt.Sprintf("tcp://0.0.0.0:%d", p2pPort)
	cfg.RPC.ListenAddress = fmt.Sprintf("tcp://127.0.0.1:%d", p2pPort-1)
	cfg.TxIndex.Indexer = "kv"

	for _, dir := range []string{cfg.RootDir, filepath.Join(cfg.RootDir, "config"), filepath.Join(cfg.RootDir, "data")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return cfg, nil
}

// writeGenesisIfMissing seeds a single-validator genesis document the
// first time this node's home directory is initialized, using the
// node's own validator key as the sole voting power. Multi-validator
// networks are expected to share a genesis file copied out-of-band,
// matching standard `cometbft init` operational practice.
func writeGenesisIfMissing(cfg *cmtconfig.Config, pv *privval.FilePV) error {
	genFile := cfg.GenesisFile()
	if _, err := os.Stat(genFile); err == nil {
		return nil
	}

	pubKey, err := pv.GetPubKey()
	if err != nil {
		return fmt.Errorf("get validator public key: %w", err)
	}

	genesisDoc := &cmttypes.GenesisDoc{
		ChainID:         cfg.Moniker,
		GenesisTime:     time.Now().UTC(),
		InitialHeight:   1,
		ConsensusParams: cmttypes.DefaultConsensusParams(),
		Validators: []cmttypes.GenesisValidator{
			{Address: pubKey.Address(), PubKey: pubKey, Power: 1, Name: cfg.Moniker},
		},
		AppState: []byte(`{}`),
	}
	return genesisDoc.SaveAs(genFile)
}
