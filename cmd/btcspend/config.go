// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcspend/address"
	"github.com/btcsuite/btcspend/chain"
	"github.com/btcsuite/btcspend/pkg/btcunit"
	"github.com/btcsuite/btcspend/spend"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "btcspend.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "btcspend.log"
	defaultBoltFilename   = "btcspend.db"
	defaultLockFilename   = "locks.db"
	defaultSQLiteFilename = "btcspend.sqlite"
	defaultDBTimeout      = 10 * time.Second
	defaultLookahead      = 20

	dbBackendBolt     = "bolt"
	dbBackendSQLite   = "sqlite"
	dbBackendPostgres = "postgres"
)

var (
	defaultAppDataDir = btcutil.AppDataDir("btcspend", false)
	defaultRPCCert    = filepath.Join(
		btcutil.AppDataDir("btcd", false), "rpc.cert",
	)
)

// config defines the configuration options for btcspend.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	AppDataDir string `short:"A" long:"appdata" description:"Application data directory for wallet records, locks and logs"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`

	TestNet3 bool `long:"testnet" description:"Use the test network"`
	RegTest  bool `long:"regtest" description:"Use the regression test network"`
	SigNet   bool `long:"signet" description:"Use the signet test network"`
	SimNet   bool `long:"simnet" description:"Use the simulation test network"`

	RPCConnect string `short:"c" long:"rpcconnect" description:"Hostname:port of the node RPC server"`
	RPCUser    string `short:"u" long:"rpcuser" description:"Username for RPC connections"`
	RPCPass    string `short:"P" long:"rpcpass" default-mask:"-" description:"Password for RPC connections"`
	RPCCert    string `long:"rpccert" description:"File containing the node's certificate"`
	NoTLS      bool   `long:"notls" description:"Disable TLS for the RPC connection"`
	MinConf    int    `long:"minconf" description:"Confirmations an output needs to be spent"`

	DBBackend   string `long:"dbbackend" choice:"bolt" choice:"sqlite" choice:"postgres" description:"Backend for wallet and transaction records"`
	PostgresDSN string `long:"postgresdsn" description:"Postgres connection string, required with --dbbackend=postgres"`

	DustLimit       int64         `long:"dustlimit" description:"Smallest output value in satoshis"`
	MinParticipants int           `long:"minparticipants" description:"Smallest CoinJoin round"`
	CoordinatorFee  int64         `long:"coordinatorfee" description:"CoinJoin coordinator fee per participant in satoshis"`
	ChainTimeout    time.Duration `long:"chaintimeout" description:"Deadline of every node query"`
	LockDuration    time.Duration `long:"lockduration" description:"How long selected outputs stay leased"`
	MaxFeeRate      int64         `long:"maxfeerate" description:"Highest accepted fee rate in sat/vB"`
	NoShuffleChange bool          `long:"noshufflechange" description:"Always append the change output last"`

	Lookahead uint32 `long:"lookahead" description:"Number of receive and change addresses scanned for outputs"`

	params *chaincfg.Params
}

// defaultConfig returns the configuration with every default applied.
func defaultConfig() *config {
	policy := spend.DefaultConfig()

	return &config{
		ConfigFile: filepath.Join(
			defaultAppDataDir, defaultConfigFilename,
		),
		AppDataDir:      defaultAppDataDir,
		DebugLevel:      defaultLogLevel,
		RPCConnect:      "localhost:8334",
		RPCCert:         defaultRPCCert,
		MinConf:         1,
		DBBackend:       dbBackendBolt,
		DustLimit:       int64(policy.DustLimit),
		MinParticipants: policy.MinParticipants,
		CoordinatorFee:  int64(policy.CoordinatorFee),
		ChainTimeout:    policy.ChainTimeout,
		LockDuration:    policy.LockDuration,
		MaxFeeRate:      int64(spend.DefaultMaxFeeRate),
		Lookahead:       defaultLookahead,
	}
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultAppDataDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	return filepath.Clean(os.ExpandEnv(path))
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func loadConfig(cfg *config, parser *flags.Parser, args []string) ([]string,
	error) {

	// Pre-parse the command line options to see if an alternative config
	// file was specified.
	preCfg := *cfg
	preParser := flags.NewParser(
		&preCfg, flags.HelpFlag|flags.IgnoreUnknown,
	)
	if _, err := preParser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) &&
			flagsErr.Type == flags.ErrHelp {

			// The full parser prints the help with commands.
			return parser.ParseArgs(args)
		}

		return nil, err
	}

	configFile := cleanAndExpandPath(preCfg.ConfigFile)
	err := flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("parse config file %s: %w", configFile,
			err)
	}

	// Parse command line options again to ensure they take precedence.
	return parser.ParseArgs(args)
}

// validate checks the parsed options and resolves the network.
func (c *config) validate() error {
	numNets := 0
	c.params = &chaincfg.MainNetParams
	if c.TestNet3 {
		numNets++
		c.params = &chaincfg.TestNet3Params
	}
	if c.RegTest {
		numNets++
		c.params = &chaincfg.RegressionNetParams
	}
	if c.SigNet {
		numNets++
		c.params = &chaincfg.SigNetParams
	}
	if c.SimNet {
		numNets++
		c.params = &chaincfg.SimNetParams
	}
	if numNets > 1 {
		return errors.New("the testnet, regtest, signet and simnet " +
			"params can't be used together -- choose one")
	}

	c.AppDataDir = cleanAndExpandPath(c.AppDataDir)
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.AppDataDir, defaultLogDirname)
	}
	c.LogDir = filepath.Join(cleanAndExpandPath(c.LogDir), c.params.Name)
	c.RPCCert = cleanAndExpandPath(c.RPCCert)

	if c.DBBackend == dbBackendPostgres && c.PostgresDSN == "" {
		return errors.New("--postgresdsn is required with " +
			"--dbbackend=postgres")
	}
	if c.DustLimit <= 0 {
		return fmt.Errorf("dust limit must be positive, got %d",
			c.DustLimit)
	}
	if c.MaxFeeRate <= 0 {
		return fmt.Errorf("max fee rate must be positive, got %d",
			c.MaxFeeRate)
	}
	if c.MinConf < 0 {
		return errors.New("minconf must be non-negative")
	}

	return nil
}

// netDir returns the per network data directory.
func (c *config) netDir() string {
	return filepath.Join(c.AppDataDir, c.params.Name)
}

// spendConfig returns the engine policy.
func (c *config) spendConfig(typ address.Type) spend.Config {
	cfg := spend.DefaultConfig()
	cfg.DustLimit = btcutil.Amount(c.DustLimit)
	cfg.MinParticipants = c.MinParticipants
	cfg.CoordinatorFee = btcutil.Amount(c.CoordinatorFee)
	cfg.ChainTimeout = c.ChainTimeout
	cfg.LockDuration = c.LockDuration
	cfg.MaxFeeRate = btcunit.NewSatPerVByte(btcutil.Amount(c.MaxFeeRate))
	cfg.RandomizeChange = !c.NoShuffleChange
	cfg.Estimator.InputType = typ
	cfg.Estimator.OutputType = typ

	return cfg
}

// rpcConfig returns the node connection options, reading the certificate
// when TLS is on.
func (c *config) rpcConfig() (*chain.RPCConfig, error) {
	cfg := &chain.RPCConfig{
		Host:       c.RPCConnect,
		User:       c.RPCUser,
		Pass:       c.RPCPass,
		DisableTLS: c.NoTLS,
	}

	if !c.NoTLS {
		certs, err := os.ReadFile(c.RPCCert)
		if err != nil {
			return nil, fmt.Errorf("read rpc certificate: %w", err)
		}
		cfg.Certificates = certs
	}

	return cfg, nil
}
