// SPDX-License-Identifier: MIT

// Package storage provides the versioned key-value contract the protocol
// engine runs on: create-if-absent, versioned reads, unconditional puts,
// conditional puts predicated on a version tag, and partition scans. Four
// backends implement it (memory, badger, redis, sqlite); the token consume
// path depends on the conditional put being a true compare-and-swap.
package storage

import (
	"context"
	"errors"
)

// Logical tables. Every backend keeps them disjoint.
const (
	TableSessions   = "Sessions"
	TableTokens     = "Tokens"
	TableChains     = "Chains"
	TableAttendance = "Attendance"
	TableScanLogs   = "ScanLogs"
)

// Tables lists every logical table, for checks and cascade deletes.
var Tables = []string{TableSessions, TableTokens, TableChains, TableAttendance, TableScanLogs}

// SessionsPartition is the single partition key of the Sessions table.
const SessionsPartition = "SESSION"

var (
	// ErrNotFound is returned by Get and Update when no row exists.
	ErrNotFound = errors.New("storage: entity not found")

	// ErrAlreadyExists is returned by Insert when the row is present.
	ErrAlreadyExists = errors.New("storage: entity already exists")

	// ErrPreconditionFailed is returned by Update when the supplied version
	// tag no longer matches the stored row. Callers must treat it as losing
	// the race, never as a reason to retry the same write.
	ErrPreconditionFailed = errors.New("storage: precondition failed")
)

// Entity is one stored row. Value is an opaque serialized record; Version is
// the opaque CAS cookie issued on every write and checked by Update.
type Entity struct {
	PartitionKey string
	RowKey       string
	Value        []byte
	Version      string
}

// Store is the backend contract. All writes return the new version tag.
// Scan returns the partition's rows in ascending row-key order, which makes
// time-prefixed row keys come out chronologically.
type Store interface {
	// Insert creates the row if absent. ErrAlreadyExists otherwise.
	Insert(ctx context.Context, table string, e Entity) (string, error)

	// Get returns the row with its current version tag, or ErrNotFound.
	Get(ctx context.Context, table, partitionKey, rowKey string) (*Entity, error)

	// Put writes the row unconditionally, creating it if needed.
	Put(ctx context.Context, table string, e Entity) (string, error)

	// Update writes the row only if the stored version equals e.Version.
	// ErrPreconditionFailed on mismatch, ErrNotFound if the row is gone.
	Update(ctx context.Context, table string, e Entity) (string, error)

	// Delete removes the row. Deleting a missing row is not an error.
	Delete(ctx context.Context, table, partitionKey, rowKey string) error

	// DeletePartition removes every row in the partition and reports how
	// many rows were removed.
	DeletePartition(ctx context.Context, table, partitionKey string) (int, error)

	// Scan returns all rows of a partition ordered by row key.
	Scan(ctx context.Context, table, partitionKey string) ([]Entity, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}
