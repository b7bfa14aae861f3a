package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ellemouton/lndaddr"
	"github.com/ellemouton/lndaddr/accounts"
	"github.com/ellemouton/lndaddr/zap"
	"github.com/jessevdk/go-flags"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/signal"
)

func main() {
	if err := run(); err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run() error {
	cfg, err := lndaddr.LoadConfig()
	if err != nil {
		return err
	}

	shutdownInterceptor, err := signal.Intercept()
	if err != nil {
		return err
	}

	err = initLogRotator(
		cfg.LogFile(), cfg.MaxLogFileSize, cfg.MaxLogFiles,
	)
	if err != nil {
		return err
	}
	defer closeLogRotator()

	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	persister, err := openPersister(ctx, cfg)
	if err != nil {
		return err
	}

	store, err := accounts.NewStore(ctx, persister)
	if err != nil {
		_ = persister.Close()
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Errorf("Unable to close account store: %v", err)
		}
	}()

	lnd, err := lndclient.NewLndServices(&lndclient.LndServicesConfig{
		LndAddress:  cfg.Lnd.Host,
		Network:     lndclient.Network(cfg.Lnd.Network),
		MacaroonDir: cfg.Lnd.MacaroonDir,
		TLSPath:     cfg.Lnd.TLSPath,
	})
	if err != nil {
		return fmt.Errorf("unable to connect to lnd: %w", err)
	}
	defer lnd.Close()

	info, err := lnd.Client.GetInfo(ctx)
	if err != nil {
		return fmt.Errorf("unable to query lnd: %w", err)
	}
	log.Infof("Connected to node with alias: %s", info.Alias)

	var (
		signer   *zap.Signer
		zapStore *zap.BoltStore
	)
	if cfg.NostrPrivKey != "" {
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return err
		}

		zapStore, err = zap.NewBoltStore(
			filepath.Join(cfg.DataDir, zap.DefaultBoltFileName),
		)
		if err != nil {
			return err
		}
		defer func() {
			if err := zapStore.Close(); err != nil {
				log.Errorf("Unable to close zap store: %v",
					err)
			}
		}()

		signer, err = zap.NewSigner(&zap.Config{
			PrivKey:        cfg.NostrPrivKey,
			Relays:         cfg.Relays,
			Retention:      cfg.ZapRetention,
			PublishRetries: cfg.PublishRetries,
			RetryBackoff:   zap.DefaultRetryBackoff,
			Publisher:      zap.NewRelayPublisher(ctx),
			Store:          zapStore,
		})
		if err != nil {
			return err
		}

		signer.Start()
		defer signer.Stop()

		log.Infof("Nostr zaps enabled, signing receipts with %s",
			signer.PubKey())
	}

	server := lndaddr.NewServer(cfg, store, lnd.Client, signer)
	if err := server.Start(); err != nil {
		return err
	}
	defer func() {
		if err := server.Stop(); err != nil {
			log.Errorf("Unable to stop server: %v", err)
		}
	}()

	// Without a signer there is nothing to do with settled invoices.
	var wg sync.WaitGroup
	if signer != nil {
		watcher := lndaddr.NewWatcher(
			lnd.Client, signer, zapStore, cfg.ReconnectBackoff,
			clock.NewDefaultClock(),
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			watcher.Run(ctx)
		}()
	}

	<-shutdownInterceptor.ShutdownChannel()
	log.Infof("Shutting down")

	cancel()
	wg.Wait()

	return nil
}

// openPersister opens the configured account database.
func openPersister(ctx context.Context,
	cfg *lndaddr.Config) (accounts.Persister, error) {

	switch cfg.DB.Backend {
	case lndaddr.DBBackendPostgres:
		return accounts.NewPostgresPersister(ctx, cfg.DB.DSN)

	default:
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, err
		}

		return accounts.NewBoltPersister(
			filepath.Join(cfg.DataDir, accounts.DefaultBoltFileName),
		)
	}
}
