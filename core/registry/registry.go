package registry

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"

	"consentchain/core/lederr"
	"consentchain/core/storage"
	"consentchain/types/ids"
)

// Kind partitions interned strings so the UI listing endpoints can
// enumerate data types and purposes separately.
type Kind string

const (
	KindDataType Kind = "dataType"
	KindPurpose  Kind = "purpose"
)

// HashEntry is the stored reverse mapping for one interned string.
// Write-once: the first writer wins and identical re-interns are no-ops.
type HashEntry struct {
	Hash      ids.ID    `json:"hash"`
	Text      string    `json:"text"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

// Registry interns free-text labels into fixed-width content hashes and
// resolves them back for display. Storing hashes in consent records
// keeps record size bounded no matter how long the labels are.
type Registry struct {
	store storage.Backend
	now   func() time.Time
}

func New(store storage.Backend) *Registry {
	return &Registry{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func entryKey(hash ids.ID) string {
	return "hash:" + hash.String()
}

func kindKey(kind Kind, hash ids.ID) string {
	return "hashkind:" + string(kind) + ":" + hash.String()
}

// Intern maps text to its content hash, persisting the reverse mapping
// on first sight. Re-interning identical text is a cheap existence
// check, not a duplicate write.
func (r *Registry) Intern(text string, kind Kind) (ids.ID, error) {
	hash := ids.NewID([]byte(text))
	exists, err := r.store.Has(entryKey(hash))
	if err != nil {
		return ids.Empty, errors.Wrap(err, "registry existence check")
	}
	if exists {
		return hash, nil
	}
	entry := HashEntry{Hash: hash, Text: text, Kind: kind, CreatedAt: r.now()}
	data, err := json.Marshal(entry)
	if err != nil {
		return ids.Empty, err
	}
	batch := &storage.Batch{}
	batch.Put(entryKey(hash), data)
	batch.Put(kindKey(kind, hash), []byte(hash.String()))
	if err := r.store.WriteBatch(batch); err != nil {
		return ids.Empty, errors.Wrap(err, "registry write")
	}
	return hash, nil
}

// InternAll interns every string in order and returns their hashes.
func (r *Registry) InternAll(texts []string, kind Kind) ([]ids.ID, error) {
	hashes := make([]ids.ID, 0, len(texts))
	for _, text := range texts {
		hash, err := r.Intern(text, kind)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

// Resolve returns the text behind a hash. An unknown hash is a
// recoverable NotFoundError; callers holding a hash that came out of a
// stored record must escalate that to an integrity signal themselves.
func (r *Registry) Resolve(hash ids.ID) (string, error) {
	data, err := r.store.Get(entryKey(hash))
	if err == storage.ErrNotFound {
		return "", &lederr.NotFoundError{Kind: "hash", ID: hash.String()}
	}
	if err != nil {
		return "", errors.Wrap(err, "registry read")
	}
	var entry HashEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return "", errors.Wrap(err, "registry entry corrupt")
	}
	return entry.Text, nil
}

// ResolveAll resolves every hash, failing on the first unknown one.
func (r *Registry) ResolveAll(hashes []ids.ID) ([]string, error) {
	texts := make([]string, 0, len(hashes))
	for _, hash := range hashes {
		text, err := r.Resolve(hash)
		if err != nil {
			return nil, err
		}
		texts = append(texts, text)
	}
	return texts, nil
}

// ListKind returns every interned string of a kind, sorted by text, for
// the getDataTypes/getPurposes listing endpoints.
func (r *Registry) ListKind(kind Kind) ([]HashEntry, error) {
	iter := r.store.ScanPrefix("hashkind:" + string(kind) + ":")
	defer iter.Release()

	var entries []HashEntry
	for iter.Next() {
		hash, err := ids.FromString(string(iter.Value()))
		if err != nil {
			continue
		}
		data, err := r.store.Get(entryKey(hash))
		if err != nil {
			continue
		}
		var entry HashEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "registry scan")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Text < entries[j].Text })
	return entries, nil
}
