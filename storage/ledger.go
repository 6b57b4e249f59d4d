// Package storage keeps fabctl state that must survive a process: channel
// membership committed by update runs, the signature ledger of in-flight
// updates and the deployment execution status.
package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/ddr4869/fabctl/common/errdefs"
	"github.com/ddr4869/fabctl/common/logger"
)

const (
	signaturePrefix  = "sig/"
	memberPrefix     = "member/"
	consortiumPrefix = "consortium/"
	statusPrefix     = "status/"
)

// SignatureRecord tracks the signatures collected on one update envelope.
type SignatureRecord struct {
	ChannelID string    `json:"channel_id"`
	Subject   string    `json:"subject"`
	Digest    string    `json:"digest"`
	Signers   []string  `json:"signers"`
	Submitted bool      `json:"submitted"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSigner reports whether signer already signed.
func (r *SignatureRecord) HasSigner(signer string) bool {
	for _, s := range r.Signers {
		if s == signer {
			return true
		}
	}
	return false
}

// MembershipChange is applied together with a successful submission.
// Exactly one of Org and Consortium is set.
type MembershipChange struct {
	ChannelID  string
	Org        string
	Consortium string
}

// Ledger is the leveldb backed state store.
type Ledger struct {
	mu sync.Mutex
	db *leveldb.DB
}

// Open opens or creates the ledger at path, recovering a corrupted manifest.
func Open(path string) (*Ledger, error) {
	db, err := leveldb.OpenFile(path, nil)
	if lerrors.IsCorrupted(err) {
		logger.Warnf("[Ledger] state at %s is corrupted, recovering", path)
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open state at %s", path)
	}
	return &Ledger{db: db}, nil
}

// OpenInMemory returns a ledger that is lost on Close.
func OpenInMemory() (*Ledger, error) {
	db, err := leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open in-memory state")
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func signatureKey(channelID, subject string) []byte {
	return []byte(signaturePrefix + channelID + "/" + subject)
}

func memberKey(channelID string) []byte {
	return []byte(memberPrefix + channelID)
}

func consortiumKey(name string) []byte {
	return []byte(consortiumPrefix + strings.ToLower(name))
}

func (l *Ledger) getJSON(key []byte, v any) error {
	data, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return errors.Wrapf(errdefs.ErrNotFound, "%s", key)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", key)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "malformed record %s", key)
	}
	return nil
}

func putJSON(batch *leveldb.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", key)
	}
	batch.Put(key, data)
	return nil
}

func (l *Ledger) write(batch *leveldb.Batch) error {
	if err := l.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return errors.Wrap(err, "failed to write state")
	}
	return nil
}

// Signatures returns the record for (channel, subject).
func (l *Ledger) Signatures(channelID, subject string) (*SignatureRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.signatures(channelID, subject)
}

func (l *Ledger) signatures(channelID, subject string) (*SignatureRecord, error) {
	rec := &SignatureRecord{}
	if err := l.getJSON(signatureKey(channelID, subject), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// BeginSigning returns the record for the envelope with digest. A record
// for another envelope is replaced by an empty one.
func (l *Ledger) BeginSigning(channelID, subject, digest string) (*SignatureRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.signatures(channelID, subject)
	switch {
	case err == nil && rec.Digest == digest:
		return rec, nil
	case err == nil:
		logger.Infof("[Ledger] envelope of %s/%s changed, discarding %d signature(s)", channelID, subject, len(rec.Signers))
	case !errdefs.IsNotFound(err):
		return nil, err
	}

	return l.reset(channelID, subject, digest)
}

// RestartSigning discards the signers recorded for (channel, subject).
func (l *Ledger) RestartSigning(channelID, subject, digest string) (*SignatureRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reset(channelID, subject, digest)
}

func (l *Ledger) reset(channelID, subject, digest string) (*SignatureRecord, error) {
	rec := &SignatureRecord{ChannelID: channelID, Subject: subject, Digest: digest, UpdatedAt: time.Now().UTC()}
	batch := new(leveldb.Batch)
	if err := putJSON(batch, signatureKey(channelID, subject), rec); err != nil {
		return nil, err
	}
	return rec, l.write(batch)
}

// RecordSignature appends signer to the record of the envelope with digest.
func (l *Ledger) RecordSignature(channelID, subject, digest, signer string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.signatures(channelID, subject)
	if err != nil {
		return err
	}
	if rec.Digest != digest {
		return errors.Errorf("signature ledger of %s/%s tracks another envelope", channelID, subject)
	}
	if rec.HasSigner(signer) {
		return nil
	}
	rec.Signers = append(rec.Signers, signer)
	rec.UpdatedAt = time.Now().UTC()

	batch := new(leveldb.Batch)
	if err := putJSON(batch, signatureKey(channelID, subject), rec); err != nil {
		return err
	}
	return l.write(batch)
}

// CommitSubmission marks the envelope submitted and applies change in one
// atomic write.
func (l *Ledger) CommitSubmission(channelID, subject string, change MembershipChange) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.signatures(channelID, subject)
	if err != nil {
		return err
	}
	rec.Submitted = true
	rec.UpdatedAt = time.Now().UTC()

	batch := new(leveldb.Batch)
	if err := putJSON(batch, signatureKey(channelID, subject), rec); err != nil {
		return err
	}

	switch {
	case change.Org != "":
		members, err := l.members(change.ChannelID)
		if err != nil {
			return err
		}
		if !contains(members, change.Org) {
			members = append(members, change.Org)
		}
		if err := putJSON(batch, memberKey(change.ChannelID), members); err != nil {
			return err
		}
	case change.Consortium != "":
		batch.Put(consortiumKey(change.Consortium), []byte(change.Consortium))
	}
	return l.write(batch)
}

// DeleteSignatures drops every signature record of channelID.
func (l *Ledger) DeleteSignatures(channelID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := new(leveldb.Batch)
	iter := l.db.NewIterator(util.BytesPrefix([]byte(signaturePrefix+channelID+"/")), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return errors.Wrap(err, "failed to scan signature records")
	}
	if batch.Len() == 0 {
		return nil
	}
	return l.write(batch)
}

// Members returns the organizations committed to channelID, in join order.
func (l *Ledger) Members(channelID string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.members(channelID)
}

func (l *Ledger) members(channelID string) ([]string, error) {
	var members []string
	err := l.getJSON(memberKey(channelID), &members)
	if errdefs.IsNotFound(err) {
		return nil, nil
	}
	return members, err
}

// Consortiums returns the consortiums committed by update runs.
func (l *Ledger) Consortiums() ([]string, error) {
	var out []string
	iter := l.db.NewIterator(util.BytesPrefix([]byte(consortiumPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		out = append(out, string(iter.Value()))
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "failed to scan consortiums")
	}
	sort.Strings(out)
	return out, nil
}

// SetStatus records whether a deployment step such as
// "crypto-config_generated" has completed.
func (l *Ledger) SetStatus(key string, done bool) error {
	batch := new(leveldb.Batch)
	batch.Put([]byte(statusPrefix+key), []byte(fmt.Sprint(done)))
	return l.write(batch)
}

// Status reports whether step key has completed; unknown steps have not.
func (l *Ledger) Status(key string) (bool, error) {
	data, err := l.db.Get([]byte(statusPrefix+key), nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to read status %s", key)
	}
	return string(data) == "true", nil
}

// Statuses returns every recorded step.
func (l *Ledger) Statuses() (map[string]bool, error) {
	out := make(map[string]bool)
	iter := l.db.NewIterator(util.BytesPrefix([]byte(statusPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		out[strings.TrimPrefix(string(iter.Key()), statusPrefix)] = string(iter.Value()) == "true"
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "failed to scan status")
	}
	return out, nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
