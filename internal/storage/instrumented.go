// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/chainpass/chainpass/internal/metrics"
)

// instrumentedStore decorates a backend with latency and error metrics.
// Contract outcomes (not-found, already-exists, precondition-failed) are not
// counted as errors; they are results the engine depends on.
type instrumentedStore struct {
	inner   Store
	backend string
}

// Instrument wraps a store for metrics. The factory applies it to every
// backend it opens.
func Instrument(inner Store, backend string) Store {
	return &instrumentedStore{inner: inner, backend: backend}
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	metrics.ObserveStorageOp(s.backend, op, time.Since(start))
	if err != nil &&
		!errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrAlreadyExists) &&
		!errors.Is(err, ErrPreconditionFailed) {
		metrics.IncStorageOpError(s.backend, op)
	}
}

func (s *instrumentedStore) Insert(ctx context.Context, table string, e Entity) (string, error) {
	start := time.Now()
	ver, err := s.inner.Insert(ctx, table, e)
	s.observe("insert", start, err)
	return ver, err
}

func (s *instrumentedStore) Get(ctx context.Context, table, pk, rk string) (*Entity, error) {
	start := time.Now()
	ent, err := s.inner.Get(ctx, table, pk, rk)
	s.observe("get", start, err)
	return ent, err
}

func (s *instrumentedStore) Put(ctx context.Context, table string, e Entity) (string, error) {
	start := time.Now()
	ver, err := s.inner.Put(ctx, table, e)
	s.observe("put", start, err)
	return ver, err
}

func (s *instrumentedStore) Update(ctx context.Context, table string, e Entity) (string, error) {
	start := time.Now()
	ver, err := s.inner.Update(ctx, table, e)
	s.observe("update", start, err)
	return ver, err
}

func (s *instrumentedStore) Delete(ctx context.Context, table, pk, rk string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, table, pk, rk)
	s.observe("delete", start, err)
	return err
}

func (s *instrumentedStore) DeletePartition(ctx context.Context, table, pk string) (int, error) {
	start := time.Now()
	n, err := s.inner.DeletePartition(ctx, table, pk)
	s.observe("delete_partition", start, err)
	return n, err
}

func (s *instrumentedStore) Scan(ctx context.Context, table, pk string) ([]Entity, error) {
	start := time.Now()
	rows, err := s.inner.Scan(ctx, table, pk)
	s.observe("scan", start, err)
	return rows, err
}

func (s *instrumentedStore) Ping(ctx context.Context) error {
	return s.inner.Ping(ctx)
}

func (s *instrumentedStore) Close() error {
	return s.inner.Close()
}
