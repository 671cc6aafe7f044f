// Package symbolindex implements the Symbol Index (spec.md §4.6,
// component C6): a persistent, prefix-searchable store of symbols, file
// metadata, and resolved dependencies, backed by an embedded key/value
// store so the index survives restarts without a network dependency.
//
// Grounded on the teacher's storage-free design (the teacher keeps
// everything in-memory) but built the way the rest of the retrieved pack
// solves "I need a small embedded persistent store with ordered key
// scans": go.etcd.io/bbolt, whose lexicographically-ordered buckets give
// prefix search for free via Cursor.Seek. A github.com/hashicorp/golang-lru/v2
// cache sits in front of bbolt reads, following the same
// cache-in-front-of-slow-backend shape the teacher uses for JDTLS
// workspace state.
package symbolindex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/groovy-lsp/glsp/internal/groovyast"
)

var (
	bucketSymbols      = []byte("symbols")
	bucketFiles        = []byte("files")
	bucketDependencies = []byte("dependencies")
)

// ErrNotInitialized is returned by every Store method except Close when
// called before Open (spec.md §4.6, item 6); Close on an unopened Store
// returns nil.
var ErrNotInitialized = fmt.Errorf("symbol index not initialized")

// searchCacheSize bounds the front-cache of recent prefix searches.
const searchCacheSize = 256

// FileRecord is the persisted metadata for one indexed source file
// (spec.md §4.6, item 2).
type FileRecord struct {
	URI      string
	Version  int
	ModTime  int64
	ByteSize int
}

// DependencyRecord is the persisted metadata for one resolved build
// dependency coordinate (spec.md §4.6, item 3).
type DependencyRecord struct {
	Coordinate string
	GroupID    string
	ArtifactID string
	Version    string
}

// symbolRecord is the on-disk representation of a groovyast.Symbol; Span
// and Kind are flattened to plain fields so the JSON encoding is stable
// across groovyast's own internal layout changes.
type symbolRecord struct {
	Name                string
	Kind                int
	URI                 string
	StartLine, StartCol int
	EndLine, EndCol     int
	StartByte, EndByte  int
}

func toSymbolRecord(s groovyast.Symbol) symbolRecord {
	return symbolRecord{
		Name: s.Name, Kind: int(s.Kind), URI: s.URI,
		StartLine: s.Span.StartLine, StartCol: s.Span.StartCol,
		EndLine: s.Span.EndLine, EndCol: s.Span.EndCol,
		StartByte: s.Span.StartByte, EndByte: s.Span.EndByte,
	}
}

func (r symbolRecord) toSymbol() groovyast.Symbol {
	return groovyast.Symbol{
		Name: r.Name, Kind: groovyast.NodeKind(r.Kind), URI: r.URI,
		Span: groovyast.Span{
			StartLine: r.StartLine, StartCol: r.StartCol,
			EndLine: r.EndLine, EndCol: r.EndCol,
			StartByte: r.StartByte, EndByte: r.EndByte,
		},
	}
}

// Store is the persistent symbol index. A Store must be Open'd before
// use and Close'd when done.
type Store struct {
	mu sync.Mutex
	db *bolt.DB

	searchCache *lru.Cache[string, []groovyast.Symbol]
}

// Open opens (creating if necessary) the bbolt database at path and
// ensures its buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open symbol index at %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSymbols, bucketFiles, bucketDependencies} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init symbol index buckets: %w", err)
	}

	cache, err := lru.New[string, []groovyast.Symbol](searchCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init search cache: %w", err)
	}

	return &Store{db: db, searchCache: cache}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// IndexFile replaces every symbol previously recorded for uri with
// symbols, and updates the file's metadata record. This is the unit of
// update the LSP server and the Workspace Indexer apply after compiling
// a file (spec.md §4.6, item 1 and §4.7).
func (s *Store) IndexFile(uri string, version int, byteSize int, symbols []groovyast.Symbol) error {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return ErrNotInitialized
	}

	err := db.Update(func(tx *bolt.Tx) error {
		symBucket := tx.Bucket(bucketSymbols)
		if err := deleteSymbolsForURI(symBucket, uri); err != nil {
			return err
		}
		for _, sym := range symbols {
			rec := toSymbolRecord(sym)
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal symbol %s: %w", sym.Name, err)
			}
			key := symbolKey(sym.Name, uri)
			if err := symBucket.Put(key, data); err != nil {
				return err
			}
		}

		fileBucket := tx.Bucket(bucketFiles)
		frec := FileRecord{URI: uri, Version: version, ByteSize: byteSize}
		data, err := json.Marshal(frec)
		if err != nil {
			return fmt.Errorf("marshal file record: %w", err)
		}
		return fileBucket.Put([]byte(uri), data)
	})
	if err != nil {
		return err
	}

	s.searchCache.Purge()
	return nil
}

// symbolKey builds the lexicographic key "name\x00uri" so that
// PrefixSearch can Seek by name prefix while still disambiguating
// multiple files declaring the same name (spec.md §4.6, item 4).
func symbolKey(name, uri string) []byte {
	return append([]byte(name+"\x00"), []byte(uri)...)
}

func deleteSymbolsForURI(b *bolt.Bucket, uri string) error {
	var stale [][]byte
	c := b.Cursor()
	suffix := []byte("\x00" + uri)
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		if bytes.HasSuffix(k, suffix) {
			stale = append(stale, append([]byte(nil), k...))
		}
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// FileSymbols returns every symbol currently recorded for uri, i.e. the
// same set IndexFile last wrote for it (spec.md §4.6: "fileSymbols(p)
// equals the set of symbols produced for p's current content"). Returns
// an empty slice, not an error, once uri has been removed or was never
// indexed.
func (s *Store) FileSymbols(uri string) ([]groovyast.Symbol, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, ErrNotInitialized
	}

	var out []groovyast.Symbol
	err := db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSymbols).Cursor()
		suffix := []byte("\x00" + uri)
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if !bytes.HasSuffix(k, suffix) {
				continue
			}
			var rec symbolRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			out = append(out, rec.toSymbol())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveFile deletes every symbol and the file record for uri, used by
// the Workspace Indexer's watcher when a file is deleted from the
// workspace (spec.md §4.6, item 5).
func (s *Store) RemoveFile(uri string) error {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return ErrNotInitialized
	}

	err := db.Update(func(tx *bolt.Tx) error {
		if err := deleteSymbolsForURI(tx.Bucket(bucketSymbols), uri); err != nil {
			return err
		}
		return tx.Bucket(bucketFiles).Delete([]byte(uri))
	})
	if err != nil {
		return err
	}
	s.searchCache.Purge()
	return nil
}

// PrefixSearch returns every symbol whose name starts with prefix, in
// lexicographic order, with results drawn from the front-cache when
// available (spec.md §4.6, item 4). A self-healing read: a record that
// fails to unmarshal (e.g. written by an older on-disk schema) is
// skipped rather than failing the whole search (spec.md §4.6, item 7).
func (s *Store) PrefixSearch(prefix string) ([]groovyast.Symbol, error) {
	s.mu.Lock()
	db := s.db
	cache := s.searchCache
	s.mu.Unlock()
	if db == nil {
		return nil, ErrNotInitialized
	}

	if cached, ok := cache.Get(prefix); ok {
		return cached, nil
	}

	var results []groovyast.Symbol
	err := db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSymbols).Cursor()
		prefixBytes := []byte(prefix)
		for k, v := c.Seek(prefixBytes); k != nil && bytes.HasPrefix(k, prefixBytes); k, v = c.Next() {
			var rec symbolRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			results = append(results, rec.toSymbol())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.searchCache.Add(prefix, results)
	return results, nil
}

// PutDependency persists a resolved dependency record keyed by its
// coordinate, overwriting any record already stored under the same
// coordinate (spec.md §4.6, item 3). Versions are not compared: records
// for other versions of the same group and artifact are kept alongside.
func (s *Store) PutDependency(rec DependencyRecord) error {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return ErrNotInitialized
	}

	return db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal dependency %s: %w", rec.Coordinate, err)
		}
		return tx.Bucket(bucketDependencies).Put([]byte(rec.Coordinate), data)
	})
}

// Dependencies returns every persisted dependency record.
func (s *Store) Dependencies() ([]DependencyRecord, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, ErrNotInitialized
	}

	var out []DependencyRecord
	err := db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDependencies).ForEach(func(k, v []byte) error {
			var rec DependencyRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// Files returns every indexed file's FileRecord, used by ReferenceFinder
// to enumerate candidate files to compile and walk when resolving usages
// (spec.md §4.9, item 2).
func (s *Store) Files() ([]FileRecord, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, ErrNotInitialized
	}

	var out []FileRecord
	err := db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(k, v []byte) error {
			var rec FileRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// FileRecordFor returns the stored FileRecord for uri, or
// (FileRecord{}, false) if uri has never been indexed.
func (s *Store) FileRecordFor(uri string) (FileRecord, bool, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return FileRecord{}, false, ErrNotInitialized
	}

	var rec FileRecord
	found := false
	err := db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFiles).Get([]byte(uri))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}
