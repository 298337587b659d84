// Package store implements persistent storage of bot configuration and
// operational data as two JSON documents in Pebble.
package store

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/go-faster/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	keyConfig     = []byte("config")
	keyOperations = []byte("operations")
)

// ErrNotFound is returned when requested record does not exist.
var ErrNotFound = errors.New("not found")

// document is a write-through JSON value under single key.
//
// All mutations are serialized by mux, failed writes roll back the in-memory copy.
type document[T any] struct {
	db   *pebble.DB
	key  []byte
	init func(v *T)

	mux sync.Mutex
	val T
}

func (d *document[T]) load() (rerr error) {
	data, closer, err := d.db.Get(d.key)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		d.init(&d.val)
		return nil
	case err != nil:
		return errors.Wrapf(err, "get %s", d.key)
	}
	defer func() {
		multierr.AppendInto(&rerr, closer.Close())
	}()

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.Wrapf(err, "decode %s", d.key)
	}
	d.init(&v)
	d.val = v
	return nil
}

func (d *document[T]) restore(prev []byte) {
	var v T
	if err := json.Unmarshal(prev, &v); err != nil {
		return
	}
	d.init(&v)
	d.val = v
}

// update applies f to the document and persists the result.
func (d *document[T]) update(f func(v *T) error) error {
	d.mux.Lock()
	defer d.mux.Unlock()

	prev, err := json.Marshal(d.val)
	if err != nil {
		return errors.Wrapf(err, "encode %s", d.key)
	}
	if err := f(&d.val); err != nil {
		d.restore(prev)
		return err
	}
	data, err := json.Marshal(d.val)
	if err != nil {
		d.restore(prev)
		return errors.Wrapf(err, "encode %s", d.key)
	}
	if err := d.db.Set(d.key, data, pebble.Sync); err != nil {
		d.restore(prev)
		return errors.Wrapf(err, "set %s", d.key)
	}
	return nil
}

func (d *document[T]) view(f func(v *T)) {
	d.mux.Lock()
	defer d.mux.Unlock()
	f(&d.val)
}

// Store is the persistent store.
type Store struct {
	db  *pebble.DB
	log *zap.Logger
	now func() time.Time

	config     *document[configDoc]
	operations *document[operationsDoc]
}

// New loads documents from given database.
func New(db *pebble.DB) (*Store, error) {
	s := &Store{
		db:  db,
		log: zap.NewNop(),
		now: time.Now,
		config: &document[configDoc]{
			db:   db,
			key:  keyConfig,
			init: (*configDoc).init,
		},
		operations: &document[operationsDoc]{
			db:   db,
			key:  keyOperations,
			init: (*operationsDoc).init,
		},
	}
	if err := s.config.load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := s.operations.load(); err != nil {
		return nil, errors.Wrap(err, "load operations")
	}
	return s, nil
}

// Open opens Pebble database at given path and loads documents.
func Open(path string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, errors.Wrap(err, "open pebble")
	}
	s, err := New(db)
	if err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return s, nil
}

// WithLogger sets logger.
func (s *Store) WithLogger(log *zap.Logger) *Store {
	s.log = log
	return s
}

// WithClock sets time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Close closes underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
