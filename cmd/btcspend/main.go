// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command btcspend creates wallets and builds, signs and relays payments
// through a node's RPC interface.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}

		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run parses the configuration and executes the selected command.
func run(args []string) error {
	cfg := defaultConfig()
	parser := flags.NewParser(cfg, flags.Default)

	if err := registerCommands(parser, cfg); err != nil {
		return err
	}

	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if cmd == nil {
			return nil
		}

		if err := cfg.validate(); err != nil {
			return err
		}
		if err := initLogRotator(filepath.Join(
			cfg.LogDir, defaultLogFilename,
		)); err != nil {

			return err
		}
		defer logRotator.Close()

		if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
			return err
		}

		log.Debugf("Using %s network, data in %s", cfg.params.Name,
			cfg.netDir())

		return cmd.Execute(args)
	}

	_, err := loadConfig(cfg, parser, args)

	return err
}

// registerCommands adds every subcommand to parser.
func registerCommands(parser *flags.Parser, cfg *config) error {
	commands := []struct {
		name  string
		short string
		long  string
		data  any
	}{
		{
			name:  "newwallet",
			short: "Create a wallet",
			long: "Generate a mnemonic, encrypt it with a " +
				"passphrase and store the wallet record.",
			data: &newWalletCmd{cfg: cfg},
		},
		{
			name:  "wallets",
			short: "List wallets",
			long:  "List the stored wallet records.",
			data:  &walletsCmd{cfg: cfg},
		},
		{
			name:  "address",
			short: "Derive an address",
			long:  "Derive and print a receive or change address.",
			data:  &addressCmd{cfg: cfg},
		},
		{
			name:  "balance",
			short: "Show the spendable balance",
			long: "Query the node for the unspent outputs of the " +
				"scanned address range.",
			data: &balanceCmd{cfg: cfg},
		},
		{
			name:  "send",
			short: "Send a payment",
			long: "Select, lock and sign outputs paying the " +
				"recipient, then relay the transaction.",
			data: &sendCmd{cfg: cfg},
		},
		{
			name:  "history",
			short: "List recorded transactions",
			long:  "List the transactions recorded for a wallet.",
			data:  &historyCmd{cfg: cfg},
		},
	}

	for _, c := range commands {
		_, err := parser.AddCommand(c.name, c.short, c.long, c.data)
		if err != nil {
			return fmt.Errorf("add command %s: %w", c.name, err)
		}
	}

	return nil
}

// commandContext returns a context cancelled on interrupt.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}
