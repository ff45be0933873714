// SPDX-License-Identifier: MIT

package attendance

import (
	"context"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/google/renameio/v2"

	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/log"
)

// WriteReport exports the finalized records of a session as CSV under dir,
// named <sessionId>.csv. The write is atomic and durable: fsync before
// rename, temp file cleaned up on error.
func WriteReport(ctx context.Context, dir, sessionID string, recs []domain.AttendanceRecord) (string, error) {
	logger := log.WithComponentFromContext(ctx, "attendance")
	path := filepath.Join(dir, sessionID+".csv")

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return "", fmt.Errorf("create pending report file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending report file")
		}
	}()

	w := csv.NewWriter(pending)
	header := []string{"studentId", "entryStatus", "entryAt", "exitVerified", "exitVerifiedAt", "earlyLeaveAt", "finalStatus"}
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("write report header: %w", err)
	}
	for _, rec := range recs {
		row := []string{
			rec.StudentID,
			string(rec.EntryStatus),
			unixField(rec.EntryAt),
			strconv.FormatBool(rec.ExitVerified),
			unixField(rec.ExitVerifiedAt),
			unixField(rec.EarlyLeaveAt),
			string(rec.FinalStatus),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write report row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush report: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("atomically replace report file: %w", err)
	}

	logger.Info().
		Str(log.FieldSessionID, sessionID).
		Str("path", path).
		Int("records", len(recs)).
		Str("event", "attendance.report_written").
		Msg("attendance report written")
	return path, nil
}

func unixField(ts int64) string {
	if ts == 0 {
		return ""
	}
	return strconv.FormatInt(ts, 10)
}
