// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MuhtasimTanmoy/payy/deployer"
	"github.com/MuhtasimTanmoy/payy/rollup"
	"github.com/MuhtasimTanmoy/payy/rollup/record"
	"github.com/ethereum/go-ethereum/crypto"
	flags "github.com/jessevdk/go-flags"
	"golang.org/x/term"
)

func main() {
	if err := mainErr(); err != nil {
		var fe *flags.Error
		if errors.As(err, &fe) && fe.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
		if errors.Is(err, errShowSubsystems) {
			fmt.Println("Supported subsystems", supportedSubsystems())
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

func mainErr() error {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	if cfg.PrintJournal {
		return printJournal(os.Stdout, cfg.Journal)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = run(ctx, cfg)
	if err != nil {
		log.Errorf("Deployment failed: %v", err)
	}
	return err
}

func run(ctx context.Context, cfg *deployConf) error {
	key, err := loadKey(cfg)
	if err != nil {
		return err
	}
	log.Infof("Deployer address %s", crypto.PubkeyToAddress(key.PublicKey))

	genesisRoot, err := deployer.ReadRootHash(cfg.EmptyRoot)
	if err != nil {
		return fmt.Errorf("error reading empty merkle tree root: %w", err)
	}
	artifacts, err := deployer.NewFileArtifacts(cfg.ArtifactsDir)
	if err != nil {
		return err
	}

	closer := rollup.NewErrorCloser()
	defer closer.Done(log)

	be, err := deployer.NewRPCBackend(ctx, cfg.RPC, key, cfg.LogMaker.SubLogger("CHAN", "rpc"))
	if err != nil {
		return err
	}
	closer.Add(be.Close)
	if bal, err := be.Balance(ctx); err == nil {
		log.Infof("Deployer balance %s wei on chain %s", bal, be.ChainID())
	}

	var journal deployer.Journal
	var db *record.DB
	var jrun *record.Run
	if cfg.Journal != "" {
		db, err = record.Open(cfg.Journal, subsystemLoggers["JRNL"])
		if err != nil {
			return fmt.Errorf("error opening journal: %w", err)
		}
		closer.Add(db.Close)
		jrun, err = db.StartRun(be.ChainID().Int64(), cfg.Mode, be.Address().Hex())
		if err != nil {
			return fmt.Errorf("error starting journal run: %w", err)
		}
		journal = jrun
		log.Debugf("Journaling run %d to %s", jrun.ID(), cfg.Journal)
	}
	closer.Success()
	defer be.Close()
	if db != nil {
		defer db.Close()
	}

	rep := deployer.NewReporter(os.Stdout, journal, cfg.NoColor, subsystemLoggers["DPLY"])
	orch := deployer.NewOrchestrator(&deployer.Config{
		Mode:            cfg.Mode,
		ExpectedChainID: cfg.ChainID,
		NoopVerifier:    cfg.NoopVerifier,
		Identities: deployer.IdentityInput{
			Prover:     cfg.Prover,
			Validators: cfg.Validators,
			Owner:      cfg.Owner,
		},
		AcrossSpokePool: cfg.AcrossSpokePool,
		USDC:            cfg.USDC,
		GenesisRoot:     genesisRoot,
	}, be, artifacts, rep, deployer.Loggers{
		Main:     log,
		Chain:    subsystemLoggers["CHAN"],
		Resolver: subsystemLoggers["RSLV"],
	})

	_, runErr := orch.Run(ctx)
	if jrun != nil {
		status := "success"
		if runErr != nil {
			status = "failed: " + runErr.Error()
		}
		if err := jrun.Finish(status); err != nil {
			log.Errorf("Error finishing journal run: %v", err)
		}
	}
	return runErr
}

// loadKey reads the deployer key from the configured hex key or keystore,
// prompting for the keystore password on a terminal if none is configured.
func loadKey(cfg *deployConf) (*ecdsa.PrivateKey, error) {
	if cfg.PrivateKey != "" {
		return deployer.ParsePrivateKey(cfg.PrivateKey)
	}
	pass := []byte(cfg.KeystorePass)
	if len(pass) == 0 {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return nil, rollup.NewError(rollup.ErrConfig, "DEPLOYER_KEYSTORE_PASS is required without a terminal")
		}
		fmt.Fprint(os.Stderr, "Keystore password: ")
		var err error
		pass, err = term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("error reading password: %w", err)
		}
	}
	key, err := deployer.DecryptKeystore(cfg.Keystore, pass)
	for i := range pass {
		pass[i] = 0
	}
	return key, err
}

// printJournal writes the latest journaled run in the KEY=VALUE form of a
// live run.
func printJournal(w io.Writer, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no journal at %s: %w", path, err)
	}
	db, err := record.Open(path, subsystemLoggers["JRNL"])
	if err != nil {
		return err
	}
	defer db.Close()
	info, entries, err := db.LastRun()
	if err != nil {
		return err
	}
	end := "unfinished"
	if !info.End.IsZero() {
		end = info.End.Format(time.RFC3339)
	}
	fmt.Fprintf(w, "# run %d, chain %d, %s mode, deployer %s\n", info.ID, info.ChainID, info.Mode, info.Deployer)
	fmt.Fprintf(w, "# started %s, ended %s, status %s\n", info.Start.Format(time.RFC3339), end, info.Status)
	for _, e := range entries {
		switch e.Kind {
		case record.KindAddress:
			fmt.Fprintf(w, "%s=%s\n", e.Key, e.Value)
		default:
			fmt.Fprintf(w, "# %s %s: %s\n", e.Kind, e.Key, e.Value)
		}
	}
	return nil
}
