// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

package database

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"

	"github.com/stratachain/strata/pkg/core/data/block"
)

var (
	prefixHeader    = []byte("H")
	prefixHeight    = []byte("h")
	prefixCandidate = []byte("C")
	prefixTx        = []byte("T")
	prefixSpendID   = []byte("S")
	keyLastFinal    = []byte("last-final")
)

// ldb is a goleveldb-backed DB, mirroring the teacher's ldb type in
// pkg/core/chain/database.go.
type ldb struct {
	storage *leveldb.DB
	path    string
}

// Open creates or recovers a leveldb store at path.
func Open(path string) (DB, error) {
	storage, err := leveldb.OpenFile(path, nil)

	if _, corrupted := err.(*ldberrors.ErrCorrupted); corrupted {
		storage, err = leveldb.RecoverFile(path, nil)
	}

	if _, accessDenied := err.(*os.PathError); accessDenied {
		return nil, err
	}

	if err != nil {
		return nil, err
	}

	return &ldb{storage: storage, path: path}, nil
}

func (l *ldb) View(fn func(Transaction) error) error {
	snap, err := l.storage.GetSnapshot()
	if err != nil {
		return err
	}
	defer snap.Release()

	return fn(&ldbTx{snap: snap, readOnly: true})
}

func (l *ldb) Update(fn func(Transaction) error) error {
	batch := new(leveldb.Batch)
	tx := &ldbTx{storage: l.storage, batch: batch}

	if err := fn(tx); err != nil {
		return err
	}

	return l.storage.Write(batch, nil)
}

func (l *ldb) Close() error {
	return l.storage.Close()
}

type ldbTx struct {
	storage  *leveldb.DB
	snap     *leveldb.Snapshot
	batch    *leveldb.Batch
	readOnly bool
}

func (t *ldbTx) get(key []byte) ([]byte, error) {
	if t.snap != nil {
		return t.snap.Get(key, nil)
	}
	return t.storage.Get(key, nil)
}

func (t *ldbTx) has(key []byte) (bool, error) {
	if t.snap != nil {
		return t.snap.Has(key, nil)
	}
	return t.storage.Has(key, nil)
}

func encodeGob(v interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := gob.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func heightKey(height uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return append(append([]byte{}, prefixHeight...), buf[:]...)
}

func (t *ldbTx) Commit() error {
	return nil
}

func (t *ldbTx) Rollback() error {
	t.batch = new(leveldb.Batch)
	return nil
}

func (t *ldbTx) put(key, val []byte) {
	if t.batch != nil {
		t.batch.Put(key, val)
		return
	}
	_ = t.storage.Put(key, val, nil)
}

func headerKey(hash []byte) []byte {
	return append(append([]byte{}, prefixHeader...), hash...)
}

func candidateKey(hash []byte) []byte {
	return append(append([]byte{}, prefixCandidate...), hash...)
}

func txKey(txID []byte) []byte {
	return append(append([]byte{}, prefixTx...), txID...)
}

func spendIDKey(spendID []byte) []byte {
	return append(append([]byte{}, prefixSpendID...), spendID...)
}

func (t *ldbTx) FetchBlockHeaderByHash(hash []byte) (*block.Header, error) {
	data, err := t.get(headerKey(hash))
	if err != nil {
		return nil, err
	}

	hdr := &block.Header{}
	if err := decodeGob(data, hdr); err != nil {
		return nil, err
	}
	return hdr, nil
}

func (t *ldbTx) FetchBlockHeaderByHeight(height uint64) (*block.Header, error) {
	hash, err := t.get(heightKey(height))
	if err != nil {
		return nil, err
	}
	return t.FetchBlockHeaderByHash(hash)
}

func (t *ldbTx) HasBlock(hash []byte) (bool, error) {
	return t.has(headerKey(hash))
}

func (t *ldbTx) StoreBlock(blk block.Block) error {
	data, err := encodeGob(blk.Header)
	if err != nil {
		return err
	}

	t.put(headerKey(blk.Header.Hash), data)
	t.put(heightKey(blk.Header.Height), blk.Header.Hash)

	for _, tx := range blk.Txs {
		txID, err := tx.CalculateHash()
		if err != nil {
			return err
		}

		txData, err := encodeGob(&tx)
		if err != nil {
			return err
		}

		t.put(txKey(txID), txData)
	}

	return nil
}

func (t *ldbTx) FetchCandidate(hash []byte) (*block.Block, error) {
	data, err := t.get(candidateKey(hash))
	if err != nil {
		return nil, err
	}

	blk := &block.Block{Header: &block.Header{}}
	if err := decodeGob(data, blk.Header); err != nil {
		return nil, err
	}
	return blk, nil
}

func (t *ldbTx) StoreCandidate(blk block.Block) error {
	data, err := encodeGob(blk.Header)
	if err != nil {
		return err
	}
	t.put(candidateKey(blk.Header.Hash), data)
	return nil
}

func (t *ldbTx) DeleteAllCandidates() error {
	iter := t.storage.NewIterator(nil, nil)
	defer iter.Release()

	for iter.Next() {
		key := iter.Key()
		if len(key) > 0 && bytes.HasPrefix(key, prefixCandidate) {
			k := append([]byte{}, key...)
			if t.batch != nil {
				t.batch.Delete(k)
			} else {
				_ = t.storage.Delete(k, nil)
			}
		}
	}

	return iter.Error()
}

func (t *ldbTx) FetchTx(txID []byte) (block.Transaction, error) {
	data, err := t.get(txKey(txID))
	if err != nil {
		return nil, err
	}

	var tx block.Transaction
	if err := decodeGob(data, &tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (t *ldbTx) StoreTx(tx block.Transaction, spendIDs [][]byte) error {
	txID, err := tx.CalculateHash()
	if err != nil {
		return err
	}

	data, err := encodeGob(&tx)
	if err != nil {
		return err
	}

	t.put(txKey(txID), data)

	for _, s := range spendIDs {
		t.put(spendIDKey(s), txID)
	}

	return nil
}

func (t *ldbTx) FetchTxBySpendID(spendID []byte) (block.Transaction, error) {
	txID, err := t.get(spendIDKey(spendID))
	if err != nil {
		return nil, err
	}
	return t.FetchTx(txID)
}

func (t *ldbTx) FetchLastFinalizedHash() ([]byte, error) {
	return t.get(keyLastFinal)
}

func (t *ldbTx) StoreLastFinalizedHash(hash []byte) error {
	t.put(keyLastFinal, hash)
	return nil
}
