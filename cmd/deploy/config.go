// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/MuhtasimTanmoy/payy/rollup"
	"github.com/MuhtasimTanmoy/payy/rollup/config"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultRPC          = "http://127.0.0.1:8545"
	defaultArtifactsDir = "contracts/artifacts"
	defaultEmptyRoot    = "pkg/contracts/src/empty_merkle_tree_root_hash.txt"
	defaultJournal      = "deployments/journal.db"
	defaultLogLevel     = "info"
	defaultMaxLogZips   = 8
)

// flagsData is the command line, environment and config file surface.
type flagsData struct {
	ConfigFile   string `short:"C" long:"configfile" description:"Path to an ini configuration file"`
	EnvFile      string `long:"envfile" description:"Path to a dotenv file. Variables already in the environment take precedence"`
	DebugLevel   string `short:"d" long:"debuglevel" env:"DEBUG_LEVEL" description:"Logging level {trace, debug, info, warn, error, critical}, or SUBSYS=level pairs. Use show to list subsystems"`
	LogFile      string `long:"logfile" description:"Also write logs to this file, rotated"`
	MaxLogZips   int    `long:"maxlogzips" description:"Number of zipped log files to keep"`
	NoColor      bool   `long:"nocolor" env:"NO_COLOR" description:"Disable colored instruction headers"`
	Journal      string `long:"journal" env:"DEPLOY_JOURNAL" description:"Path of the deployment journal database. Set to an empty string to disable"`
	PrintJournal bool   `long:"printjournal" description:"Print the most recent journaled run and exit"`

	RPC          string `long:"rpc" env:"RPC_URL" description:"Ethereum JSON-RPC endpoint"`
	ChainID      int64  `long:"chainid" env:"CHAIN_ID" description:"Expected chain ID. The run is refused if the node reports another"`
	Dev          bool   `long:"dev" env:"DEV" description:"Dev mode: deploy a stand-in USDC if needed and default identities to the deployer"`
	ModeName     string `long:"mode" env:"DEPLOY_MODE" description:"Deployment mode, production or dev. --dev is short for --mode=dev"`
	NoopVerifier bool   `long:"noopverifier" env:"DEV_USE_NOOP_VERIFIER" description:"Use the no-op aggregate verifier. Dev mode only"`

	Prover          string `long:"prover" env:"PROVER_ADDRESS" description:"Prover address"`
	Validators      string `long:"validators" env:"VALIDATORS" description:"Comma-separated validator addresses"`
	Owner           string `long:"owner" env:"OWNER" description:"Rollup owner address"`
	AcrossSpokePool string `long:"acrossspokepool" env:"ACROSS_SPOKE_POOL" description:"Across spoke pool address"`
	USDC            string `long:"usdc" env:"USDC_ADDRESS" description:"USDC address for networks without a known deployment"`

	PrivateKey   string `long:"privkey" env:"DEPLOYER_PRIVATE_KEY" description:"Deployer private key, hex encoded"`
	Keystore     string `long:"keystore" env:"DEPLOYER_KEYSTORE" description:"Encrypted deployer key file, used if no private key is given"`
	KeystorePass string `long:"keystorepass" env:"DEPLOYER_KEYSTORE_PASS" description:"Keystore password. Prompted for if empty"`

	ArtifactsDir string `long:"artifacts" env:"ARTIFACTS_DIR" description:"Directory of compiled contract artifacts"`
	EmptyRoot    string `long:"emptyroot" env:"EMPTY_ROOT_FILE" description:"File holding the empty merkle tree root hash"`
}

// deployConf is the validated configuration.
type deployConf struct {
	*flagsData
	Mode     rollup.Mode
	LogMaker *rollup.LoggerMaker
}

// cleanAndExpandPath expands environment variables and leading ~ in the passed
// path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	path = os.ExpandEnv(path)
	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path)
	}

	// Expand initial ~ to the current user's home directory, or ~otheruser to
	// otheruser's home directory.
	path = path[1:]

	pathSeparators := string(os.PathSeparator)
	if runtime.GOOS == "windows" {
		pathSeparators += "/"
	}

	userName := ""
	if i := strings.IndexAny(path, pathSeparators); i != -1 {
		userName = path[:i]
		path = path[i:]
	}

	homeDir := ""
	var u *user.User
	var err error
	if userName == "" {
		u, err = user.Current()
	} else {
		u, err = user.Lookup(userName)
	}
	if err == nil {
		homeDir = u.HomeDir
	}
	// Fallback to CWD if user lookup fails or user has no home directory.
	if homeDir == "" {
		homeDir = "."
	}

	return filepath.Join(homeDir, path)
}

func defaultFlags() flagsData {
	return flagsData{
		DebugLevel:   defaultLogLevel,
		MaxLogZips:   defaultMaxLogZips,
		Journal:      defaultJournal,
		RPC:          defaultRPC,
		ArtifactsDir: defaultArtifactsDir,
		EmptyRoot:    defaultEmptyRoot,
	}
}

// errShowSubsystems is returned by parseFlags for --debuglevel=show.
var errShowSubsystems = errors.New("show subsystems")

// parseFlags reads the command line, the optional dotenv file, the optional
// config file, and the environment. Command line options take precedence over
// the config file, which takes precedence over the environment.
func parseFlags(args []string) (*flagsData, error) {
	// Pre-parse the command line for the dotenv and config file paths. Other
	// errors are caught by the final parse.
	var preCfg flagsData
	preParser := flags.NewParser(&preCfg, flags.HelpFlag|flags.IgnoreUnknown)
	if _, err := preParser.ParseArgs(args); err != nil {
		var fe *flags.Error
		if errors.As(err, &fe) && fe.Type == flags.ErrHelp {
			return nil, err
		}
	}
	if preCfg.DebugLevel == "show" {
		return nil, errShowSubsystems
	}

	if preCfg.EnvFile != "" {
		if _, err := config.ApplyEnvFile(cleanAndExpandPath(preCfg.EnvFile)); err != nil {
			return nil, err
		}
	}

	cfg := defaultFlags()
	parser := flags.NewParser(&cfg, flags.HelpFlag)
	if preCfg.ConfigFile != "" {
		if err := flags.NewIniParser(parser).ParseFile(cleanAndExpandPath(preCfg.ConfigFile)); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadConfig parses and validates the configuration and sets up logging.
func loadConfig(args []string) (*deployConf, error) {
	fd, err := parseFlags(args)
	if err != nil {
		return nil, err
	}

	fd.ArtifactsDir = cleanAndExpandPath(fd.ArtifactsDir)
	fd.EmptyRoot = cleanAndExpandPath(fd.EmptyRoot)
	fd.Journal = cleanAndExpandPath(fd.Journal)
	fd.Keystore = cleanAndExpandPath(fd.Keystore)
	fd.LogFile = cleanAndExpandPath(fd.LogFile)

	if fd.LogFile != "" {
		if err := initLogRotator(fd.LogFile, fd.MaxLogZips); err != nil {
			return nil, err
		}
	}
	lm, err := parseAndSetDebugLevels(fd.DebugLevel)
	if err != nil {
		return nil, err
	}

	cfg := &deployConf{flagsData: fd, LogMaker: lm, Mode: rollup.Production}
	if fd.ModeName != "" {
		if cfg.Mode, err = rollup.ModeFromString(fd.ModeName); err != nil {
			return nil, rollup.NewError(rollup.ErrConfig, err.Error())
		}
		if fd.Dev && cfg.Mode != rollup.Dev {
			return nil, rollup.NewError(rollup.ErrConfig, fmt.Sprintf("--dev conflicts with --mode=%s", fd.ModeName))
		}
	}
	if fd.Dev {
		cfg.Mode = rollup.Dev
	}
	fd.Dev = cfg.Mode == rollup.Dev
	if fd.PrintJournal {
		if fd.Journal == "" {
			return nil, rollup.NewError(rollup.ErrConfig, "--printjournal needs a journal path")
		}
		return cfg, nil
	}

	if fd.RPC == "" {
		return nil, rollup.NewError(rollup.ErrConfig, "RPC_URL is required")
	}
	if fd.PrivateKey == "" && fd.Keystore == "" {
		return nil, rollup.NewError(rollup.ErrConfig, "one of DEPLOYER_PRIVATE_KEY or DEPLOYER_KEYSTORE is required")
	}
	if fd.PrivateKey != "" && fd.Keystore != "" {
		return nil, rollup.NewError(rollup.ErrConfig, "DEPLOYER_PRIVATE_KEY and DEPLOYER_KEYSTORE are mutually exclusive")
	}
	if fd.NoopVerifier && !fd.Dev {
		return nil, rollup.NewError(rollup.ErrConfig, "DEV_USE_NOOP_VERIFIER can only be used in dev mode")
	}
	return cfg, nil
}
