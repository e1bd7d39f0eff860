package lstore

import (
	"errors"
	"io"

	"github.com/ValentinKolb/dLog/lib/db"
	"github.com/ValentinKolb/dLog/lib/db/engines/seglog"
	"github.com/ValentinKolb/dLog/lib/store"
)

type storeImpl struct {
	db db.KVLog[[]byte]
}

// NewLocalStore creates a new local store instance on the log returned by factory.
// This store implementation is not distributed and only works in a single process.
func NewLocalStore(factory store.DBFactory) (store.IStore, error) {
	log, err := factory()
	if err != nil {
		return nil, toStoreError(err)
	}
	return &storeImpl{db: log}, nil
}

// toStoreError maps the errors of the log onto *store.Error
func toStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, seglog.ErrClosed):
		return store.NewError(store.RetCClosed, err.Error())
	case errors.Is(err, seglog.ErrRecordTooLarge):
		return store.NewError(store.RetCInvalidOperation, err.Error())
	case errors.Is(err, seglog.ErrCompactionInProgress):
		return store.NewError(store.RetCBusy, err.Error())
	default:
		return store.NewError(store.RetCInternalError, err.Error())
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	if !s.db.SupportsFeature(db.FeatureAppend) {
		return store.NewError(store.RetCUnsupportedOperation, "Set operation is not supported")
	}
	if value == nil {
		value = []byte{}
	}
	return toStoreError(s.db.Put(key, value))
}

func (s *storeImpl) Delete(key string) error {
	if !s.db.SupportsFeature(db.FeatureDelete) {
		return store.NewError(store.RetCUnsupportedOperation, "Delete operation is not supported")
	}
	return toStoreError(s.db.Delete(key))
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	if !s.db.SupportsFeature(db.FeatureGet) {
		return nil, false, store.NewError(store.RetCUnsupportedOperation, "Get operation is not supported")
	}
	record, found, err := s.db.Get(key)
	if err != nil || !found {
		return nil, false, toStoreError(err)
	}
	return *record.Value, true, nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	_, found, err := s.Get(key)
	return found, err
}

func (s *storeImpl) Compact() error {
	if !s.db.SupportsFeature(db.FeatureCompact) {
		return store.NewError(store.RetCUnsupportedOperation, "Compact operation is not supported")
	}
	return toStoreError(s.db.Compact())
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return s.db.GetInfo(), nil
}

func (s *storeImpl) WriteMetrics(w io.Writer) error {
	if !s.db.SupportsFeature(db.FeatureMetrics) {
		return store.NewError(store.RetCUnsupportedOperation, "WriteMetrics operation is not supported")
	}
	s.db.WriteMetrics(w)
	return nil
}

func (s *storeImpl) Close() error {
	return toStoreError(s.db.Close())
}
