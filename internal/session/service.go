// SPDX-License-Identifier: MIT

// Package session owns the session record, its lifecycle, and the rotating
// QR token bookkeeping.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chainpass/chainpass/internal/attendance"
	"github.com/chainpass/chainpass/internal/cache"
	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/log"
	"github.com/chainpass/chainpass/internal/metrics"
	"github.com/chainpass/chainpass/internal/storage"
	"github.com/chainpass/chainpass/internal/token"
)

// maxUpdateAttempts bounds the read-merge-write loop on the session row.
const maxUpdateAttempts = 5

// Config carries the session service knobs.
type Config struct {
	// CacheTTL is the in-process session read cache TTL.
	CacheTTL time.Duration
	// RotatingTTL is the lifetime of late-entry / early-leave tokens.
	RotatingTTL time.Duration
	// DefaultOwnerTransfer seeds new sessions that do not override it.
	DefaultOwnerTransfer bool
	// ReportDir, when set, receives a CSV attendance report on end().
	ReportDir string
}

// Service implements session lifecycle and rotation controls.
type Service struct {
	store  storage.Store
	cache  cache.Cache
	conf   Config
	tokens *token.Service
	recs   *attendance.Service
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// NewService builds the session service.
func NewService(store storage.Store, c cache.Cache, conf Config, tokens *token.Service, recs *attendance.Service) *Service {
	if c == nil {
		c = cache.NewNoOpCache()
	}
	return &Service{
		store:  store,
		cache:  c,
		conf:   conf,
		tokens: tokens,
		recs:   recs,
		logger: log.WithComponent("session"),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

func cacheKey(sessionID string) string { return "sess:" + sessionID }

// CreateInput carries the teacher-supplied session parameters.
type CreateInput struct {
	TeacherID          string
	ClassID            string
	StartAt            int64
	EndAt              int64
	LateCutoffMinutes  int
	ExitWindowMinutes  int
	Constraints        *domain.Constraints
	// OwnerTransfer overrides the configured default when non-nil.
	OwnerTransfer *bool
}

// Create validates the input, persists a new ACTIVE session, and returns it
// with the session QR payload students scan to join.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Session, string, error) {
	switch {
	case in.TeacherID == "":
		return nil, "", domain.E(domain.CodeInvalidRequest, "teacherId is required")
	case in.ClassID == "":
		return nil, "", domain.E(domain.CodeInvalidRequest, "classId is required")
	case in.StartAt <= 0 || in.EndAt <= 0:
		return nil, "", domain.E(domain.CodeInvalidRequest, "startAt and endAt are required")
	case in.EndAt <= in.StartAt:
		return nil, "", domain.E(domain.CodeInvalidRequest, "endAt must be after startAt")
	case in.LateCutoffMinutes < 0 || in.ExitWindowMinutes < 0:
		return nil, "", domain.E(domain.CodeInvalidRequest, "cutoff minutes must not be negative")
	}
	if in.Constraints != nil && in.Constraints.Geofence != nil {
		g := in.Constraints.Geofence
		if g.RadiusMeters <= 0 {
			return nil, "", domain.E(domain.CodeInvalidRequest, "geofence radius must be positive")
		}
	}

	ownerTransfer := s.conf.DefaultOwnerTransfer
	if in.OwnerTransfer != nil {
		ownerTransfer = *in.OwnerTransfer
	}

	sess := &domain.Session{
		SessionID:         s.newID(),
		ClassID:           in.ClassID,
		TeacherID:         in.TeacherID,
		StartAt:           in.StartAt,
		EndAt:             in.EndAt,
		LateCutoffMinutes: in.LateCutoffMinutes,
		ExitWindowMinutes: in.ExitWindowMinutes,
		Status:            domain.SessionActive,
		OwnerTransfer:     ownerTransfer,
		Constraints:       in.Constraints,
		CreatedAt:         s.now().Unix(),
	}

	value, err := json.Marshal(sess)
	if err != nil {
		return nil, "", domain.Wrap(domain.CodeInternalError, "session encode failed", err)
	}
	if _, err := s.store.Insert(ctx, storage.TableSessions, storage.Entity{
		PartitionKey: storage.SessionsPartition,
		RowKey:       sess.SessionID,
		Value:        value,
	}); err != nil {
		return nil, "", domain.Wrap(domain.CodeStorageError, "session insert failed", err)
	}

	qr := domain.EncodeSessionQR(sess.SessionID, sess.ClassID)

	metrics.IncSessionEvent("created")
	metrics.IncSessionsActive()
	s.logger.Info().
		Str(log.FieldSessionID, sess.SessionID).
		Str(log.FieldClassID, sess.ClassID).
		Str(log.FieldTeacherID, sess.TeacherID).
		Str("event", "session.created").
		Msg("session created")
	return sess, qr, nil
}

// Get reads a session through the cache. Missing sessions are NOT_FOUND.
func (s *Service) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	if v, ok := s.cache.Get(cacheKey(sessionID)); ok {
		if sess, ok := v.(domain.Session); ok {
			out := sess
			return &out, nil
		}
	}

	sess, _, err := s.read(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(cacheKey(sessionID), *sess, s.conf.CacheTTL)
	return sess, nil
}

// ListByTeacher returns the teacher's sessions, newest first.
func (s *Service) ListByTeacher(ctx context.Context, teacherID string) ([]domain.Session, error) {
	ents, err := s.store.Scan(ctx, storage.TableSessions, storage.SessionsPartition)
	if err != nil {
		return nil, domain.Wrap(domain.CodeStorageError, "session scan failed", err)
	}
	var out []domain.Session
	for _, ent := range ents {
		var sess domain.Session
		if err := json.Unmarshal(ent.Value, &sess); err != nil {
			return nil, domain.Wrap(domain.CodeInternalError, "session decode failed", err)
		}
		if sess.TeacherID == teacherID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// ListActive returns every ACTIVE session. The stall sweeper walks this set
// on each tick.
func (s *Service) ListActive(ctx context.Context) ([]domain.Session, error) {
	ents, err := s.store.Scan(ctx, storage.TableSessions, storage.SessionsPartition)
	if err != nil {
		return nil, domain.Wrap(domain.CodeStorageError, "session scan failed", err)
	}
	var out []domain.Session
	for _, ent := range ents {
		var sess domain.Session
		if err := json.Unmarshal(ent.Value, &sess); err != nil {
			return nil, domain.Wrap(domain.CodeInternalError, "session decode failed", err)
		}
		if sess.Status == domain.SessionActive {
			out = append(out, sess)
		}
	}
	return out, nil
}

// End transitions ACTIVE -> ENDED, clears rotation flags, and finalizes
// attendance. Only the owning teacher may end a session; a concurrent end
// loses the conditional write and reports CONFLICT.
func (s *Service) End(ctx context.Context, sessionID, teacherID string) (*domain.Session, error) {
	sess, ver, err := s.read(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.TeacherID != teacherID {
		return nil, domain.E(domain.CodeForbidden, "only the owning teacher may end the session")
	}
	if sess.Status != domain.SessionActive {
		return nil, domain.E(domain.CodeSessionEnded, "session already ended")
	}

	sess.Status = domain.SessionEnded
	sess.EndedAt = s.now().Unix()
	sess.LateEntryActive = false
	sess.CurrentLateTokenID = ""
	sess.EarlyLeaveActive = false
	sess.CurrentEarlyTokenID = ""

	value, err := json.Marshal(sess)
	if err != nil {
		return nil, domain.Wrap(domain.CodeInternalError, "session encode failed", err)
	}
	_, err = s.store.Update(ctx, storage.TableSessions, storage.Entity{
		PartitionKey: storage.SessionsPartition,
		RowKey:       sessionID,
		Value:        value,
		Version:      ver,
	})
	if errors.Is(err, storage.ErrPreconditionFailed) {
		return nil, domain.E(domain.CodeConflict, "session changed concurrently")
	}
	if err != nil {
		return nil, domain.Wrap(domain.CodeStorageError, "session end write failed", err)
	}

	s.cache.Delete(cacheKey(sessionID))
	metrics.IncSessionEvent("ended")
	metrics.DecSessionsActive()
	s.logger.Info().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldTeacherID, teacherID).
		Str(log.FieldOldState, string(domain.SessionActive)).
		Str(log.FieldNewState, string(domain.SessionEnded)).
		Str("event", "session.ended").
		Msg("session ended")

	recs, err := s.recs.Finalize(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.conf.ReportDir != "" {
		if _, err := attendance.WriteReport(ctx, s.conf.ReportDir, sessionID, recs); err != nil {
			s.logger.Error().
				Err(err).
				Str(log.FieldSessionID, sessionID).
				Str("event", "session.report_failed").
				Msg("attendance report export failed")
		}
	}
	return sess, nil
}

// Delete removes the session and cascades over every per-session table.
func (s *Service) Delete(ctx context.Context, sessionID, teacherID string) error {
	sess, _, err := s.read(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.TeacherID != teacherID {
		return domain.E(domain.CodeForbidden, "only the owning teacher may delete the session")
	}

	if err := s.store.Delete(ctx, storage.TableSessions, storage.SessionsPartition, sessionID); err != nil {
		return domain.Wrap(domain.CodeStorageError, "session delete failed", err)
	}
	removed := 0
	for _, table := range []string{storage.TableTokens, storage.TableChains, storage.TableAttendance, storage.TableScanLogs} {
		n, err := s.store.DeletePartition(ctx, table, sessionID)
		if err != nil {
			return domain.Wrap(domain.CodeStorageError, "session cascade delete failed", err)
		}
		removed += n
	}

	s.cache.Delete(cacheKey(sessionID))
	if sess.Status == domain.SessionActive {
		metrics.DecSessionsActive()
	}
	metrics.IncSessionEvent("deleted")
	s.logger.Info().
		Str(log.FieldSessionID, sessionID).
		Int("rows", removed).
		Str("event", "session.deleted").
		Msg("session deleted")
	return nil
}

// read fetches the session row uncached, returning its version tag.
func (s *Service) read(ctx context.Context, sessionID string) (*domain.Session, string, error) {
	if sessionID == "" {
		return nil, "", domain.E(domain.CodeInvalidRequest, "sessionId is required")
	}
	ent, err := s.store.Get(ctx, storage.TableSessions, storage.SessionsPartition, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "", domain.E(domain.CodeNotFound, "session not found")
	}
	if err != nil {
		return nil, "", domain.Wrap(domain.CodeStorageError, "session read failed", err)
	}
	var sess domain.Session
	if err := json.Unmarshal(ent.Value, &sess); err != nil {
		return nil, "", domain.Wrap(domain.CodeInternalError, "session decode failed", err)
	}
	return &sess, ent.Version, nil
}

// update applies merge to the latest session row with bounded retries.
func (s *Service) update(ctx context.Context, sessionID string, merge func(*domain.Session) error) (*domain.Session, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		sess, ver, err := s.read(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if err := merge(sess); err != nil {
			return nil, err
		}
		value, err := json.Marshal(sess)
		if err != nil {
			return nil, domain.Wrap(domain.CodeInternalError, "session encode failed", err)
		}
		_, err = s.store.Update(ctx, storage.TableSessions, storage.Entity{
			PartitionKey: storage.SessionsPartition,
			RowKey:       sessionID,
			Value:        value,
			Version:      ver,
		})
		if errors.Is(err, storage.ErrPreconditionFailed) {
			continue
		}
		if err != nil {
			return nil, domain.Wrap(domain.CodeStorageError, "session update failed", err)
		}
		s.cache.Delete(cacheKey(sessionID))
		return sess, nil
	}
	return nil, domain.E(domain.CodeConflict, "session row contention")
}
