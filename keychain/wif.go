// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// ErrWrongNetwork is returned when a WIF string belongs to another network.
var ErrWrongNetwork = errors.New("key is for a different network")

// ExportWIF encodes priv in wallet import format.
func ExportWIF(priv *btcec.PrivateKey, params *chaincfg.Params,
	compressed bool) (string, error) {

	if priv == nil {
		return "", ErrKeyZeroed
	}

	wif, err := btcutil.NewWIF(priv, params, compressed)
	if err != nil {
		return "", err
	}

	return wif.String(), nil
}

// ImportWIF decodes a wallet import format string for params. It reports
// whether the key is meant to be used with its compressed public key.
func ImportWIF(s string, params *chaincfg.Params) (*btcec.PrivateKey, bool,
	error) {

	wif, err := btcutil.DecodeWIF(s)
	if err != nil {
		return nil, false, fmt.Errorf("decode wif: %w", err)
	}

	if !wif.IsForNet(params) {
		return nil, false, ErrWrongNetwork
	}

	return wif.PrivKey, wif.CompressPubKey, nil
}
