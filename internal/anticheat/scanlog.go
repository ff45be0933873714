// SPDX-License-Identifier: MIT

package anticheat

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/log"
	"github.com/chainpass/chainpass/internal/metrics"
	"github.com/chainpass/chainpass/internal/storage"
)

// Recorder appends scan outcomes to the audit log. Rows are immutable after
// write and sort in scan order within a session.
type Recorder struct {
	store  storage.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewRecorder builds a scan log recorder.
func NewRecorder(store storage.Store) *Recorder {
	return &Recorder{
		store:  store,
		logger: log.WithComponent("scanlog"),
		now:    time.Now,
	}
}

// NewRowKey returns a monotonically sortable row key: zero-padded seconds
// plus a random suffix to keep concurrent writers in the same second from
// colliding.
func NewRowKey(at time.Time) string {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Entropy exhaustion never blocks the audit trail; nanoseconds
		// still disambiguate within the second.
		return fmt.Sprintf("%020d_%09d", at.Unix(), at.Nanosecond())
	}
	return fmt.Sprintf("%020d_%s", at.Unix(), base64.RawURLEncoding.EncodeToString(buf[:]))
}

// Append writes one scan log row. Failures are logged and counted but never
// propagated: the scan outcome the row describes has already happened.
func (r *Recorder) Append(ctx context.Context, entry domain.ScanLog) {
	if entry.ScannedAt == 0 {
		entry.ScannedAt = r.now().Unix()
	}
	if entry.RowKey == "" {
		entry.RowKey = NewRowKey(time.Unix(entry.ScannedAt, 0))
	}

	value, err := json.Marshal(&entry)
	if err == nil {
		_, err = r.store.Insert(ctx, storage.TableScanLogs, storage.Entity{
			PartitionKey: entry.SessionID,
			RowKey:       entry.RowKey,
			Value:        value,
		})
	}
	if err != nil {
		metrics.IncScanLogAppendFailure()
		r.logger.Error().
			Err(err).
			Str(log.FieldSessionID, entry.SessionID).
			Str(log.FieldFlow, string(entry.Flow)).
			Str(log.FieldResult, string(entry.Result)).
			Str("event", "scanlog.append_failed").
			Msg("scan log append failed")
	}
}

// List returns the session's audit rows in scan order.
func (r *Recorder) List(ctx context.Context, sessionID string) ([]domain.ScanLog, error) {
	ents, err := r.store.Scan(ctx, storage.TableScanLogs, sessionID)
	if err != nil {
		return nil, domain.Wrap(domain.CodeStorageError, "scan log read failed", err)
	}
	entries := make([]domain.ScanLog, 0, len(ents))
	for _, ent := range ents {
		var entry domain.ScanLog
		if err := json.Unmarshal(ent.Value, &entry); err != nil {
			return nil, domain.Wrap(domain.CodeInternalError, "scan log decode failed", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
