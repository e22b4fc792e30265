// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/address"
	"github.com/btcsuite/btcspend/assembler"
	"github.com/btcsuite/btcspend/chain"
	"github.com/btcsuite/btcspend/coinselect"
	"github.com/btcsuite/btcspend/keychain"
	"github.com/btcsuite/btcspend/pkg/btcunit"
	"github.com/btcsuite/btcspend/spend"
	"github.com/btcsuite/btcspend/store"
	"github.com/btcsuite/btcspend/utxopool"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
)

// sweepInterval is how often expired leases are deleted while a command
// runs.
const sweepInterval = time.Minute

type newWalletCmd struct {
	Name  string `long:"name" required:"true" description:"Wallet name"`
	Type  string `long:"type" default:"native-segwit" description:"Address type {legacy, nested-segwit, native-segwit, taproot}"`
	Words int    `long:"words" default:"24" choice:"12" choice:"24" description:"Number of mnemonic words"`

	cfg *config
}

func (c *newWalletCmd) Execute(_ []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	typ, err := address.ParseType(c.Type)
	if err != nil {
		return err
	}
	purpose, err := keychain.PurposeForType(typ)
	if err != nil {
		return err
	}

	bits := 256
	if c.Words == 12 {
		bits = 128
	}
	mnemonic, err := keychain.NewMnemonic(bits)
	if err != nil {
		return err
	}

	params := c.cfg.params
	master, err := keychain.DeriveMaster(mnemonic, "", params)
	if err != nil {
		return err
	}
	defer master.Zero()

	pair, err := master.Derive(keychain.StandardPath(
		purpose, params, 0, keychain.ExternalBranch, 0,
	))
	if err != nil {
		return err
	}
	defer pair.Zero()

	addr, err := address.Encode(pair.PubKey, typ, params)
	if err != nil {
		return err
	}

	fingerprint, err := master.Fingerprint()
	if err != nil {
		return err
	}

	pass, err := readNewPassphrase()
	if err != nil {
		return err
	}

	sealed, err := store.NewSealer(0).Seal(pass, []byte(mnemonic))
	if err != nil {
		return err
	}

	e, err := openEnv(c.cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	rec := &store.WalletRecord{
		ID:                   fmt.Sprintf("%08x", fingerprint),
		Name:                 c.Name,
		Address:              addr.EncodeAddress(),
		EncryptedPrivateData: sealed,
		Metadata: map[string]string{
			metaAddressType: typ.String(),
			metaNetwork:     params.Name,
			metaFingerprint: fmt.Sprintf("%08x", fingerprint),
		},
	}
	if err := e.store.PutWallet(ctx, rec); err != nil {
		return err
	}

	log.Infof("Created wallet %s (%s)", rec.ID, typ)

	fmt.Printf("Wallet ID: %s\nFirst address: %s\n\n", rec.ID,
		rec.Address)
	fmt.Println("Write down the following mnemonic. It is the only " +
		"way to restore the wallet:")
	fmt.Printf("\n%s\n", mnemonic)

	return nil
}

type walletsCmd struct {
	cfg *config
}

func (c *walletsCmd) Execute(_ []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	e, err := openEnv(c.cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	wallets, err := e.store.ListWallets(ctx)
	if err != nil {
		return err
	}

	for _, w := range wallets {
		fmt.Printf("%s\t%s\t%s\t%s\n", w.ID, w.Name,
			w.Metadata[metaAddressType], w.Address)
	}

	return nil
}

type addressCmd struct {
	WalletID string `long:"wallet" required:"true" description:"Wallet ID"`
	Index    uint32 `long:"index" description:"Address index"`
	Change   bool   `long:"change" description:"Derive a change address"`

	cfg *config
}

func (c *addressCmd) Execute(_ []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	e, err := openEnv(c.cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	w, err := unlockWallet(ctx, e, c.WalletID)
	if err != nil {
		return err
	}
	defer w.Zero()

	purpose, err := keychain.PurposeForType(w.typ)
	if err != nil {
		return err
	}

	branch := keychain.ExternalBranch
	if c.Change {
		branch = keychain.InternalBranch
	}

	path := keychain.StandardPath(
		purpose, c.cfg.params, 0, branch, c.Index,
	)
	pair, err := w.master.Derive(path)
	if err != nil {
		return err
	}
	defer pair.Zero()

	addr, err := address.Encode(pair.PubKey, w.typ, c.cfg.params)
	if err != nil {
		return err
	}

	fmt.Printf("%s\t%s\n", path, addr.EncodeAddress())

	return nil
}

// session is an unlocked wallet connected to the node.
type session struct {
	env    *env
	wallet *unlockedWallet
	keys   *keySet
	engine *spend.Engine

	sweeper  *utxopool.Sweeper
	shutdown func()
}

// openSession unlocks walletID, connects to the node and refreshes the
// pool.
func openSession(ctx context.Context, cfg *config,
	walletID string) (*session, error) {

	e, err := openEnv(cfg)
	if err != nil {
		return nil, err
	}

	s := &session{env: e, shutdown: func() {}}
	fail := func(err error) (*session, error) {
		s.Close()
		return nil, err
	}

	s.wallet, err = unlockWallet(ctx, e, walletID)
	if err != nil {
		return fail(err)
	}

	s.keys, err = s.wallet.deriveKeys(cfg.Lookahead)
	if err != nil {
		return fail(err)
	}

	rpcCfg, err := cfg.rpcConfig()
	if err != nil {
		return fail(err)
	}
	src, client, err := chain.NewRPCSource(rpcCfg, cfg.params)
	if err != nil {
		return fail(err)
	}
	src.MinConf = cfg.MinConf
	s.shutdown = client.Shutdown

	clk := clock.NewDefaultClock()
	locks, err := utxopool.NewKVLockTable(e.lockDB, clk)
	if err != nil {
		return fail(err)
	}

	s.sweeper = utxopool.NewSweeper(locks, ticker.New(sweepInterval))
	s.sweeper.Start()

	s.engine = spend.NewEngine(
		cfg.spendConfig(s.wallet.typ), s.wallet.record.ID, src,
		utxopool.New(locks, clk), e.store, clk,
	)

	if err := s.engine.Refresh(ctx, s.keys.all()); err != nil {
		return fail(err)
	}

	return s, nil
}

// Close stops the sweeper, disconnects and wipes the keys.
func (s *session) Close() {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.keys != nil {
		s.keys.ring.Zero()
	}
	if s.wallet != nil {
		s.wallet.Zero()
	}
	s.shutdown()
	s.env.Close()
}

type balanceCmd struct {
	WalletID string `long:"wallet" required:"true" description:"Wallet ID"`

	cfg *config
}

func (c *balanceCmd) Execute(_ []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(ctx, c.cfg, c.WalletID)
	if err != nil {
		return err
	}
	defer s.Close()

	pool := s.engine.Pool()
	available, err := pool.Available(ctx)
	if err != nil {
		return err
	}

	total := coinselect.Sum(pool.Snapshot())
	spendable := coinselect.Sum(available)

	fmt.Printf("Outputs:   %d\n", pool.Len())
	fmt.Printf("Total:     %v\n", total)
	fmt.Printf("Spendable: %v\n", spendable)
	fmt.Printf("Leased:    %v\n", total-spendable)

	return nil
}

type sendCmd struct {
	WalletID string `long:"wallet" required:"true" description:"Wallet ID"`
	To       string `long:"to" required:"true" description:"Recipient address"`
	Amount   int64  `long:"amount" required:"true" description:"Amount in satoshis"`
	FeeRate  string `long:"feerate" default:"5" description:"Fee rate in sat/vB"`
	Strategy string `long:"strategy" default:"minimize-inputs" description:"Selection strategy {minimize-inputs, maximize-privacy, oldest-first, closest-amount}"`
	DryRun   bool   `long:"dryrun" description:"Print the signed transaction instead of relaying it"`

	cfg *config
}

func (c *sendCmd) Execute(_ []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	params := c.cfg.params
	recipient, _, err := address.Decode(c.To, params)
	if err != nil {
		return err
	}
	payScript, err := txscript.PayToAddrScript(recipient)
	if err != nil {
		return err
	}

	rate, err := btcunit.ParseSatPerVByte(c.FeeRate)
	if err != nil {
		return err
	}
	strategy, err := coinselect.ParseStrategy(c.Strategy)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, c.cfg, c.WalletID)
	if err != nil {
		return err
	}
	defer s.Close()

	changeScript, err := txscript.PayToAddrScript(s.keys.change[0])
	if err != nil {
		return err
	}

	sp, err := s.engine.NewSpend()
	if err != nil {
		return err
	}

	req := &spend.Request{
		Outputs: []*wire.TxOut{
			wire.NewTxOut(c.Amount, payScript),
		},
		FeeRate:      rate,
		Strategy:     strategy,
		ChangeScript: changeScript,
	}
	if err := s.engine.Fund(ctx, sp, req); err != nil {
		return err
	}

	if err := s.engine.Sign(sp, s.keys.ring, nil); err != nil {
		return abortWith(ctx, s.engine, sp, err)
	}

	if c.DryRun {
		tx := sp.Tx().UnwrapOr(nil)
		txHex, err := assembler.SerializeHex(tx)
		if err != nil {
			return abortWith(ctx, s.engine, sp, err)
		}
		fmt.Println(txHex)

		return s.engine.Abort(ctx, sp)
	}

	txid, err := s.engine.Broadcast(ctx, sp)
	switch {
	case chain.IsStatusUnknown(err):
		fmt.Printf("Relay outcome unknown, outputs stay locked until "+
			"%v. Check the node before retrying.\n",
			time.Now().Add(c.cfg.LockDuration).Format(time.RFC3339))

		return err

	case err != nil:
		return abortWith(ctx, s.engine, sp, err)
	}

	sel := sp.Selection()
	sel.WhenSome(func(sel coinselect.Selection) {
		fmt.Printf("Paid %v with %d inputs, fee %v\n",
			btcutil.Amount(c.Amount), len(sel.Inputs), sel.Fee)
	})
	fmt.Println(txid)

	return nil
}

// abortWith aborts sp after err and returns err.
func abortWith(ctx context.Context, engine *spend.Engine, sp *spend.Spend,
	err error) error {

	if aerr := engine.Abort(ctx, sp); aerr != nil {
		log.Errorf("Unable to abort spend: %v", aerr)
	}

	return err
}

type historyCmd struct {
	WalletID string `long:"wallet" required:"true" description:"Wallet ID"`

	cfg *config
}

func (c *historyCmd) Execute(_ []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	e, err := openEnv(c.cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	txs, err := e.store.ListTxs(ctx, c.WalletID)
	if err != nil {
		return err
	}

	for _, tx := range txs {
		fmt.Printf("%s\t%v\t%s\t%d bytes\n",
			tx.Timestamp.Format(time.RFC3339), tx.Txid, tx.Status,
			hex.DecodedLen(len(tx.Hex)))
	}

	return nil
}
