// Command node runs a TOL Market node: the marketplace ledger, its item
// registry and the JSON-RPC front end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/tolelom/tolmarket/archive"
	"github.com/tolelom/tolmarket/config"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/indexer"
	"github.com/tolelom/tolmarket/internal/keylock"
	"github.com/tolelom/tolmarket/logging"
	"github.com/tolelom/tolmarket/market"
	"github.com/tolelom/tolmarket/metrics"
	"github.com/tolelom/tolmarket/publisher"
	"github.com/tolelom/tolmarket/registry"
	"github.com/tolelom/tolmarket/rpc"
	"github.com/tolelom/tolmarket/storage"
	"github.com/tolelom/tolmarket/vm"
	"github.com/tolelom/tolmarket/wallet"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/tolmarket/vm/modules/asset"
	_ "github.com/tolelom/tolmarket/vm/modules/economy"
	_ "github.com/tolelom/tolmarket/vm/modules/market"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	keyPath := flag.String("key", "market.key", "path to the marketplace operator keystore")
	genKey := flag.Bool("genkey", false, "generate a new operator key from a fresh mnemonic and exit")
	flag.Parse()

	// The keystore password comes from the environment; CLI flags show up in ps.
	password := os.Getenv("TOLMARKET_PASSWORD")

	if *genKey {
		if err := generateKey(*keyPath, password); err != nil {
			fmt.Fprintln(os.Stderr, "genkey:", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, *keyPath, password, log); err != nil {
		log.Fatal("node stopped", zap.Error(err))
	}
}

func generateKey(path, password string) error {
	phrase, err := wallet.NewMnemonic()
	if err != nil {
		return err
	}
	priv, err := wallet.KeyFromMnemonic(phrase)
	if err != nil {
		return err
	}
	if err := wallet.SaveKey(path, password, priv); err != nil {
		return err
	}
	fmt.Printf("Marketplace address: %s\n", priv.Public().Hex())
	fmt.Printf("Recovery phrase:     %s\n", phrase)
	fmt.Printf("Saved to: %s\n", path)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return config.Load("")
	}
	return config.Load(path)
}

func run(cfg *config.Config, keyPath, password string, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- marketplace identity ----
	marketAddr := cfg.MarketAddress
	if marketAddr == "" {
		priv, err := wallet.LoadKey(keyPath, password)
		if err != nil {
			return fmt.Errorf("load key: %w", err)
		}
		marketAddr = priv.Public().Hex()
	}
	log = log.With(zap.String("node", cfg.NodeID), zap.String("chain", cfg.ChainID))

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "market"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	store := storage.NewStore(db)

	// ---- events, metrics, indexer ----
	emitter := events.NewEmitter(log)
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)
	idx := indexer.New(db, emitter, log)

	// ---- optional sinks ----
	var arch *archive.MySQL
	if cfg.Redis.Addr != "" {
		client, err := publisher.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		pub := publisher.NewRedis(client, cfg.Redis.Channel, 1024, log)
		pub.Attach(emitter)
		defer pub.Close()
		log.Info("publishing events to redis", zap.String("addr", cfg.Redis.Addr), zap.String("channel", cfg.Redis.Channel))
	}
	if cfg.Archive.DSN != "" {
		sqlDB, err := archive.Open(ctx, cfg.Archive.DSN)
		if err != nil {
			return err
		}
		defer sqlDB.Close()
		arch = archive.NewMySQL(sqlDB, cfg.Archive.Buffer, log)
		if err := arch.Migrate(ctx); err != nil {
			return err
		}
		arch.Attach(emitter, 2)
		defer arch.Close()
		log.Info("archiving sales to mysql")
	}

	// ---- genesis ----
	reg := registry.New()
	genesis, err := config.LoadGenesis(cfg.GenesisFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn("no genesis file, starting with existing state", zap.String("path", cfg.GenesisFile))
	case err != nil:
		return err
	default:
		if genesis.ChainID != cfg.ChainID {
			return fmt.Errorf("genesis chain %q does not match config chain %q", genesis.ChainID, cfg.ChainID)
		}
		applied, err := genesis.Apply(store, reg, emitter, time.Now())
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		if applied {
			log.Info("genesis applied", zap.Int("items", len(genesis.Items)), zap.Int("accounts", len(genesis.Alloc)))
		}
	}

	// ---- marketplace ----
	locks := keylock.New()
	ledger := market.New(store, reg, marketAddr,
		market.WithLocks(locks),
		market.WithEmitter(emitter),
		market.WithMetrics(m),
		market.WithLogger(log))
	items := registry.NewService(store, reg, locks, emitter, log)
	exec := vm.NewExecutor(vm.Deps{
		ChainID: cfg.ChainID,
		Store:   store,
		Market:  ledger,
		Items:   items,
		Locks:   locks,
		Emitter: emitter,
		Metrics: m,
		Log:     log,
	})

	// ---- RPC ----
	handler := rpc.NewHandler(exec, ledger, items, idx, store, cfg.ChainID)
	if arch != nil {
		handler.SetArchive(arch)
	}
	srv := rpc.NewServer(cfg.RPC, handler, promReg, log)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	log.Info("node running",
		zap.String("market", marketAddr),
		zap.String("rpc", cfg.RPC.Addr),
		zap.Bool("auth", cfg.RPC.AuthToken != ""))

	<-ctx.Done()
	log.Info("shutting down")

	// Stop taking requests first; deferred sinks then drain and the DB closes last.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Warn("rpc shutdown", zap.Error(err))
	}
	return nil
}
