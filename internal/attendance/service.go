// SPDX-License-Identifier: MIT

// Package attendance owns per-student records and the final-status
// computation. Entry, exit-verified, and early-leave are field-disjoint
// merges on the same record so concurrent updates commute.
package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/log"
	"github.com/chainpass/chainpass/internal/metrics"
	"github.com/chainpass/chainpass/internal/realtime"
	"github.com/chainpass/chainpass/internal/storage"
)

// maxMergeAttempts bounds the re-read+merge loop under contention. Each
// attempt is a fresh merge against the latest row, not a retry of a lost
// conditional write.
const maxMergeAttempts = 5

// Service implements the attendance record store.
type Service struct {
	store  storage.Store
	sink   realtime.Sink
	logger zerolog.Logger
	now    func() time.Time
}

// NewService builds the attendance service. A nil sink disables realtime
// emission.
func NewService(store storage.Store, sink realtime.Sink) *Service {
	if sink == nil {
		sink = realtime.NoopSink{}
	}
	return &Service{
		store:  store,
		sink:   sink,
		logger: log.WithComponent("attendance"),
		now:    time.Now,
	}
}

// EnsureJoined creates the student's record if absent. Joining an already
// joined session is a no-op. The record starts with no entry status; joining
// alone never attests presence.
func (s *Service) EnsureJoined(ctx context.Context, sessionID, studentID string) (*domain.AttendanceRecord, error) {
	ent, err := s.store.Get(ctx, storage.TableAttendance, sessionID, studentID)
	if err == nil {
		var rec domain.AttendanceRecord
		if err := json.Unmarshal(ent.Value, &rec); err != nil {
			return nil, domain.Wrap(domain.CodeInternalError, "attendance decode failed", err)
		}
		return &rec, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, domain.Wrap(domain.CodeStorageError, "attendance read failed", err)
	}

	rec := &domain.AttendanceRecord{SessionID: sessionID, StudentID: studentID}
	value, err := json.Marshal(rec)
	if err != nil {
		return nil, domain.Wrap(domain.CodeInternalError, "attendance encode failed", err)
	}
	_, err = s.store.Insert(ctx, storage.TableAttendance, storage.Entity{
		PartitionKey: sessionID,
		RowKey:       studentID,
		Value:        value,
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		// Lost the create race; the other writer's record stands.
		return s.mustGet(ctx, sessionID, studentID)
	}
	if err != nil {
		return nil, domain.Wrap(domain.CodeStorageError, "attendance insert failed", err)
	}

	metrics.IncAttendanceMark("join")
	s.logger.Info().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldStudentID, studentID).
		Str("event", "attendance.joined").
		Msg("student joined session")
	s.sink.Emit(ctx, realtime.AttendanceUpdate(sessionID, realtime.AttendancePayload{
		StudentID: studentID,
	}))
	return rec, nil
}

// MarkEntry merges {entryStatus, entryAt=now} into the record.
func (s *Service) MarkEntry(ctx context.Context, sessionID, studentID string, status domain.EntryStatus) (*domain.AttendanceRecord, error) {
	if status != domain.EntryPresent && status != domain.EntryLate {
		return nil, domain.Ef(domain.CodeInvalidRequest, "invalid entry status %q", status)
	}
	rec, err := s.upsert(ctx, sessionID, studentID, func(r *domain.AttendanceRecord) {
		r.EntryStatus = status
		r.EntryAt = s.now().Unix()
	})
	if err != nil {
		return nil, err
	}

	kind := "entry"
	if status == domain.EntryLate {
		kind = "late_entry"
	}
	metrics.IncAttendanceMark(kind)
	s.logger.Info().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldStudentID, studentID).
		Str(log.FieldResult, string(status)).
		Str("event", "attendance.entry_marked").
		Msg("entry marked")
	s.sink.Emit(ctx, realtime.AttendanceUpdate(sessionID, realtime.AttendancePayload{
		StudentID:   studentID,
		EntryStatus: status,
	}))
	return rec, nil
}

// MarkExitVerified merges {exitVerified=true, exitVerifiedAt=now}.
func (s *Service) MarkExitVerified(ctx context.Context, sessionID, studentID string) (*domain.AttendanceRecord, error) {
	rec, err := s.upsert(ctx, sessionID, studentID, func(r *domain.AttendanceRecord) {
		r.ExitVerified = true
		r.ExitVerifiedAt = s.now().Unix()
	})
	if err != nil {
		return nil, err
	}

	metrics.IncAttendanceMark("exit")
	s.logger.Info().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldStudentID, studentID).
		Str("event", "attendance.exit_verified").
		Msg("exit verified")
	verified := true
	s.sink.Emit(ctx, realtime.AttendanceUpdate(sessionID, realtime.AttendancePayload{
		StudentID:    studentID,
		ExitVerified: &verified,
	}))
	return rec, nil
}

// MarkEarlyLeave merges {earlyLeaveAt=now}.
func (s *Service) MarkEarlyLeave(ctx context.Context, sessionID, studentID string) (*domain.AttendanceRecord, error) {
	var leftAt int64
	rec, err := s.upsert(ctx, sessionID, studentID, func(r *domain.AttendanceRecord) {
		leftAt = s.now().Unix()
		r.EarlyLeaveAt = leftAt
	})
	if err != nil {
		return nil, err
	}

	metrics.IncAttendanceMark("early_leave")
	s.logger.Info().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldStudentID, studentID).
		Str("event", "attendance.early_leave").
		Msg("early leave marked")
	s.sink.Emit(ctx, realtime.AttendanceUpdate(sessionID, realtime.AttendancePayload{
		StudentID:    studentID,
		EarlyLeaveAt: leftAt,
	}))
	return rec, nil
}

// Get reads one record. Missing is a normal result: (nil, nil).
func (s *Service) Get(ctx context.Context, sessionID, studentID string) (*domain.AttendanceRecord, error) {
	ent, err := s.store.Get(ctx, storage.TableAttendance, sessionID, studentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Wrap(domain.CodeStorageError, "attendance read failed", err)
	}
	var rec domain.AttendanceRecord
	if err := json.Unmarshal(ent.Value, &rec); err != nil {
		return nil, domain.Wrap(domain.CodeInternalError, "attendance decode failed", err)
	}
	return &rec, nil
}

// List returns every record for the session, ordered by student id.
func (s *Service) List(ctx context.Context, sessionID string) ([]domain.AttendanceRecord, error) {
	ents, err := s.store.Scan(ctx, storage.TableAttendance, sessionID)
	if err != nil {
		return nil, domain.Wrap(domain.CodeStorageError, "attendance scan failed", err)
	}
	recs := make([]domain.AttendanceRecord, 0, len(ents))
	for _, ent := range ents {
		var rec domain.AttendanceRecord
		if err := json.Unmarshal(ent.Value, &rec); err != nil {
			return nil, domain.Wrap(domain.CodeInternalError, "attendance decode failed", err)
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].StudentID < recs[j].StudentID })
	return recs, nil
}

// Finalize computes finalStatus once for every record in the session and
// returns the finalized set. Records already finalized are left untouched,
// so a re-run after a partial failure completes the remainder.
func (s *Service) Finalize(ctx context.Context, sessionID string) ([]domain.AttendanceRecord, error) {
	recs, err := s.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	for i := range recs {
		rec := &recs[i]
		if rec.FinalStatus != "" {
			continue
		}
		rec.FinalStatus = domain.FinalStatusFor(rec)

		value, err := json.Marshal(rec)
		if err != nil {
			return nil, domain.Wrap(domain.CodeInternalError, "attendance encode failed", err)
		}
		if _, err := s.store.Put(ctx, storage.TableAttendance, storage.Entity{
			PartitionKey: sessionID,
			RowKey:       rec.StudentID,
			Value:        value,
		}); err != nil {
			return nil, domain.Wrap(domain.CodeStorageError, "attendance finalize write failed", err)
		}
		metrics.IncFinalizedRecord(string(rec.FinalStatus))
	}

	s.logger.Info().
		Str(log.FieldSessionID, sessionID).
		Int("records", len(recs)).
		Str("event", "attendance.finalized").
		Msg("attendance finalized")
	return recs, nil
}

func (s *Service) mustGet(ctx context.Context, sessionID, studentID string) (*domain.AttendanceRecord, error) {
	rec, err := s.Get(ctx, sessionID, studentID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.E(domain.CodeStorageError, "attendance record vanished")
	}
	return rec, nil
}

// upsert applies merge to the latest version of the record, creating it on
// first write. Conditional-write misses re-read and re-merge, bounded by
// maxMergeAttempts.
func (s *Service) upsert(ctx context.Context, sessionID, studentID string, merge func(*domain.AttendanceRecord)) (*domain.AttendanceRecord, error) {
	for attempt := 0; attempt < maxMergeAttempts; attempt++ {
		ent, err := s.store.Get(ctx, storage.TableAttendance, sessionID, studentID)
		if errors.Is(err, storage.ErrNotFound) {
			rec := &domain.AttendanceRecord{SessionID: sessionID, StudentID: studentID}
			merge(rec)
			value, err := json.Marshal(rec)
			if err != nil {
				return nil, domain.Wrap(domain.CodeInternalError, "attendance encode failed", err)
			}
			_, err = s.store.Insert(ctx, storage.TableAttendance, storage.Entity{
				PartitionKey: sessionID,
				RowKey:       studentID,
				Value:        value,
			})
			if errors.Is(err, storage.ErrAlreadyExists) {
				continue
			}
			if err != nil {
				return nil, domain.Wrap(domain.CodeStorageError, "attendance insert failed", err)
			}
			return rec, nil
		}
		if err != nil {
			return nil, domain.Wrap(domain.CodeStorageError, "attendance read failed", err)
		}

		var rec domain.AttendanceRecord
		if err := json.Unmarshal(ent.Value, &rec); err != nil {
			return nil, domain.Wrap(domain.CodeInternalError, "attendance decode failed", err)
		}
		merge(&rec)
		value, err := json.Marshal(&rec)
		if err != nil {
			return nil, domain.Wrap(domain.CodeInternalError, "attendance encode failed", err)
		}
		_, err = s.store.Update(ctx, storage.TableAttendance, storage.Entity{
			PartitionKey: sessionID,
			RowKey:       studentID,
			Value:        value,
			Version:      ent.Version,
		})
		if errors.Is(err, storage.ErrPreconditionFailed) {
			continue
		}
		if err != nil {
			return nil, domain.Wrap(domain.CodeStorageError, "attendance update failed", err)
		}
		return &rec, nil
	}
	return nil, domain.E(domain.CodeConflict, "attendance record contention")
}
