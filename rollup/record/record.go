// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package record is a bbolt journal of deployment runs. Every address and
// every deferred instruction printed by a run is mirrored here so an operator
// can recover the output of an interrupted or scrolled-away run.
package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/MuhtasimTanmoy/payy/rollup"
	"go.etcd.io/bbolt"
)

var (
	runsBucket    = []byte("runs")
	entriesBucket = []byte("entries")
	chainIDKey    = []byte("chainid")
	modeKey       = []byte("mode")
	deployerKey   = []byte("deployer")
	startKey      = []byte("start")
	endKey        = []byte("end")
	statusKey     = []byte("status")

	fieldSep = []byte{0}
)

// ErrNoRuns is returned by LastRun for an empty journal.
const ErrNoRuns = rollup.ErrorKind("no runs recorded")

// Kind categorizes a journal entry.
type Kind byte

const (
	KindAddress Kind = iota + 1
	KindInstruction
	KindNote
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindAddress:
		return "address"
	case KindInstruction:
		return "instruction"
	case KindNote:
		return "note"
	}
	return "unknown"
}

// Entry is one journaled line.
type Entry struct {
	Kind  Kind
	Key   string
	Value string
}

// RunInfo describes a recorded run.
type RunInfo struct {
	ID       uint64
	ChainID  int64
	Mode     string
	Deployer string
	Start    time.Time
	End      time.Time
	Status   string
}

// DB is the run journal.
type DB struct {
	*bbolt.DB
	log rollup.Logger
}

// Open opens or creates the journal at path.
func Open(path string, log rollup.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("error creating journal directory: %w", err)
	}
	bdb, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("error creating top level bucket: %w", err)
	}
	log.Debugf("Opened run journal at %s", path)
	return &DB{DB: bdb, log: log}, nil
}

// Run is a handle on an open run.
type Run struct {
	db *DB
	id uint64
}

// ID is the run's sequence number.
func (r *Run) ID() uint64 { return r.id }

// StartRun creates a new run record.
func (db *DB) StartRun(chainID int64, mode rollup.Mode, deployer string) (*Run, error) {
	var id uint64
	err := db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(runsBucket)
		var err error
		if id, err = runs.NextSequence(); err != nil {
			return err
		}
		rb, err := runs.CreateBucket(uint64Bytes(id))
		if err != nil {
			return err
		}
		if _, err = rb.CreateBucket(entriesBucket); err != nil {
			return err
		}
		return putAll(rb, map[string][]byte{
			string(chainIDKey):  []byte(strconv.FormatInt(chainID, 10)),
			string(modeKey):     []byte(mode.String()),
			string(deployerKey): []byte(deployer),
			string(startKey):    uint64Bytes(uint64(time.Now().UnixMilli())),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("error starting run: %w", err)
	}
	return &Run{db: db, id: id}, nil
}

// Record appends an entry to the run.
func (r *Run) Record(kind Kind, key, value string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		entries, err := r.entries(tx)
		if err != nil {
			return err
		}
		seq, err := entries.NextSequence()
		if err != nil {
			return err
		}
		return entries.Put(uint64Bytes(seq), encodeEntry(kind, key, value))
	})
}

// Finish stamps the run with an end time and a status.
func (r *Run) Finish(status string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		rb := tx.Bucket(runsBucket).Bucket(uint64Bytes(r.id))
		if rb == nil {
			return fmt.Errorf("run %d not found", r.id)
		}
		return putAll(rb, map[string][]byte{
			string(endKey):    uint64Bytes(uint64(time.Now().UnixMilli())),
			string(statusKey): []byte(status),
		})
	})
}

func (r *Run) entries(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	rb := tx.Bucket(runsBucket).Bucket(uint64Bytes(r.id))
	if rb == nil {
		return nil, fmt.Errorf("run %d not found", r.id)
	}
	return rb.Bucket(entriesBucket), nil
}

// Runs lists every recorded run, oldest first.
func (db *DB) Runs() ([]*RunInfo, error) {
	var infos []*RunInfo
	err := db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(runsBucket).ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			info, err := decodeRunInfo(k, tx.Bucket(runsBucket).Bucket(k))
			if err != nil {
				return err
			}
			infos = append(infos, info)
			return nil
		})
	})
	return infos, err
}

// LastRun returns the most recent run and its entries.
func (db *DB) LastRun() (*RunInfo, []*Entry, error) {
	var info *RunInfo
	var entries []*Entry
	err := db.View(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(runsBucket)
		k, v := runs.Cursor().Last()
		if k == nil || v != nil {
			return ErrNoRuns
		}
		rb := runs.Bucket(k)
		var err error
		if info, err = decodeRunInfo(k, rb); err != nil {
			return err
		}
		return rb.Bucket(entriesBucket).ForEach(func(_, v []byte) error {
			e, err := decodeEntry(v)
			if err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return info, entries, nil
}

func putAll(b *bbolt.Bucket, kvs map[string][]byte) error {
	for k, v := range kvs {
		if err := b.Put([]byte(k), v); err != nil {
			return fmt.Errorf("error storing %s: %w", k, err)
		}
	}
	return nil
}

func decodeRunInfo(k []byte, rb *bbolt.Bucket) (*RunInfo, error) {
	if len(k) != 8 {
		return nil, fmt.Errorf("invalid run key %x", k)
	}
	info := &RunInfo{
		ID:       binary.BigEndian.Uint64(k),
		Mode:     string(rb.Get(modeKey)),
		Deployer: string(rb.Get(deployerKey)),
		Status:   string(rb.Get(statusKey)),
	}
	var err error
	if info.ChainID, err = strconv.ParseInt(string(rb.Get(chainIDKey)), 10, 64); err != nil {
		return nil, fmt.Errorf("run %d: invalid chain ID: %w", info.ID, err)
	}
	if b := rb.Get(startKey); len(b) == 8 {
		info.Start = time.UnixMilli(int64(binary.BigEndian.Uint64(b)))
	}
	if b := rb.Get(endKey); len(b) == 8 {
		info.End = time.UnixMilli(int64(binary.BigEndian.Uint64(b)))
	}
	return info, nil
}

func encodeEntry(kind Kind, key, value string) []byte {
	return bytes.Join([][]byte{{byte(kind)}, []byte(key), []byte(value)}, fieldSep)
}

func decodeEntry(b []byte) (*Entry, error) {
	parts := bytes.SplitN(b, fieldSep, 3)
	if len(parts) != 3 || len(parts[0]) != 1 {
		return nil, errors.New("malformed journal entry")
	}
	return &Entry{
		Kind:  Kind(parts[0][0]),
		Key:   string(parts[1]),
		Value: string(parts[2]),
	}, nil
}

func uint64Bytes(i uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, i)
	return b
}
