// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcspend/address"
	"github.com/btcsuite/btcspend/keychain"
	"github.com/btcsuite/btcspend/store"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"golang.org/x/term"
)

const (
	metaAddressType = "address-type"
	metaNetwork     = "network"
	metaFingerprint = "fingerprint"
)

// errPassphraseMismatch is returned when the confirmation of a new
// passphrase differs.
var errPassphraseMismatch = errors.New("passphrases do not match")

// env holds the databases a command works on.
type env struct {
	cfg    *config
	store  store.Store
	lockDB walletdb.DB
}

// openBolt opens the bolt database at path, creating it if needed.
func openBolt(path string) (walletdb.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return walletdb.Create(
			"bdb", path, true, defaultDBTimeout, false,
		)
	}

	return walletdb.Open("bdb", path, true, defaultDBTimeout, false)
}

// openEnv opens the record store of the configured backend and the lease
// database.
func openEnv(cfg *config) (*env, error) {
	dir := cfg.netDir()

	var (
		st  store.Store
		err error
	)
	switch cfg.DBBackend {
	case dbBackendSQLite:
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
		st, err = store.OpenSQLite(
			filepath.Join(dir, defaultSQLiteFilename),
		)

	case dbBackendPostgres:
		st, err = store.OpenPostgres(cfg.PostgresDSN)

	default:
		var db walletdb.DB
		db, err = openBolt(filepath.Join(dir, defaultBoltFilename))
		if err == nil {
			st, err = store.NewKVStore(db)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.DBBackend, err)
	}

	lockDB, err := openBolt(filepath.Join(dir, defaultLockFilename))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open lock database: %w", err)
	}

	log.Debugf("Opened %s store in %s", cfg.DBBackend, dir)

	return &env{cfg: cfg, store: st, lockDB: lockDB}, nil
}

// Close releases the databases.
func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		log.Errorf("Unable to close store: %v", err)
	}
	if err := e.lockDB.Close(); err != nil {
		log.Errorf("Unable to close lock database: %v", err)
	}
}

// readPassphrase prompts for a passphrase on the terminal without echo.
func readPassphrase(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}

	return bytes.TrimSpace(pass), nil
}

// readNewPassphrase prompts for a passphrase twice.
func readNewPassphrase() ([]byte, error) {
	pass, err := readPassphrase("Enter a passphrase to encrypt the seed: ")
	if err != nil {
		return nil, err
	}

	confirm, err := readPassphrase("Confirm passphrase: ")
	if err != nil {
		return nil, err
	}

	if !bytes.Equal(pass, confirm) {
		return nil, errPassphraseMismatch
	}

	return pass, nil
}

// unlockedWallet is a wallet record with its master key.
type unlockedWallet struct {
	record *store.WalletRecord
	typ    address.Type
	master *keychain.MasterKey
}

// Zero wipes the master key.
func (u *unlockedWallet) Zero() {
	u.master.Zero()
}

// unlockWallet loads the wallet id and decrypts its seed with a passphrase
// read from the terminal.
func unlockWallet(ctx context.Context, e *env,
	id string) (*unlockedWallet, error) {

	rec, err := e.store.GetWallet(ctx, id)
	if err != nil {
		return nil, err
	}

	if net := rec.Metadata[metaNetwork]; net != e.cfg.params.Name {
		return nil, fmt.Errorf("wallet %s belongs to %s, not %s", id,
			net, e.cfg.params.Name)
	}

	typ, err := address.ParseType(rec.Metadata[metaAddressType])
	if err != nil {
		return nil, err
	}

	pass, err := readPassphrase("Passphrase: ")
	if err != nil {
		return nil, err
	}

	mnemonic, err := store.NewSealer(0).Open(pass, rec.EncryptedPrivateData)
	if err != nil {
		return nil, err
	}
	defer clear(mnemonic)

	master, err := keychain.DeriveMaster(
		string(mnemonic), "", e.cfg.params,
	)
	if err != nil {
		return nil, err
	}

	return &unlockedWallet{record: rec, typ: typ, master: master}, nil
}

// keySet is the key ring and addresses of the scanned range of a wallet.
type keySet struct {
	ring    *keychain.KeyRing
	receive []btcutil.Address
	change  []btcutil.Address
}

// all returns the receive and change addresses.
func (k *keySet) all() []btcutil.Address {
	return append(append([]btcutil.Address(nil), k.receive...), k.change...)
}

// deriveKeys derives count receive and change keys of the first account.
func (u *unlockedWallet) deriveKeys(count uint32) (*keySet, error) {
	purpose, err := keychain.PurposeForType(u.typ)
	if err != nil {
		return nil, err
	}

	params := u.master.Params()
	keys := &keySet{ring: keychain.NewKeyRing(params)}
	for _, branch := range []uint32{
		keychain.ExternalBranch, keychain.InternalBranch,
	} {
		for i := range count {
			pair, err := u.master.Derive(keychain.StandardPath(
				purpose, params, 0, branch, i,
			))
			if err != nil {
				return nil, err
			}

			addrs, err := keys.ring.Add(pair, u.typ)
			if err != nil {
				return nil, err
			}

			if branch == keychain.ExternalBranch {
				keys.receive = append(keys.receive, addrs[0])
			} else {
				keys.change = append(keys.change, addrs[0])
			}
		}
	}

	return keys, nil
}
