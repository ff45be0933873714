// SPDX-License-Identifier: MIT

// Package chain runs the baton-passing protocol: seeding chains on random
// holders, turning consumed batons into attendance marks and successor
// batons, and detecting chains that have gone quiet.
package chain

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chainpass/chainpass/internal/attendance"
	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/log"
	"github.com/chainpass/chainpass/internal/metrics"
	"github.com/chainpass/chainpass/internal/realtime"
	"github.com/chainpass/chainpass/internal/storage"
	"github.com/chainpass/chainpass/internal/token"
)

// Config carries the chain protocol knobs.
type Config struct {
	// BatonTTL is the lifetime of each chain token.
	BatonTTL time.Duration
	// StallThreshold is the quiet period after which an ACTIVE chain is
	// considered stalled.
	StallThreshold time.Duration
}

// Service implements chain seeding, scan processing, and stall detection.
type Service struct {
	store  storage.Store
	tokens *token.Service
	recs   *attendance.Service
	sink   realtime.Sink
	conf   Config
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string

	// mu guards rnd and the live-tunable stall threshold.
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewService builds the chain service.
func NewService(store storage.Store, tokens *token.Service, recs *attendance.Service, sink realtime.Sink, conf Config) *Service {
	if sink == nil {
		sink = realtime.NoopSink{}
	}
	return &Service{
		store:  store,
		tokens: tokens,
		recs:   recs,
		sink:   sink,
		conf:   conf,
		logger: log.WithComponent("chain"),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- holder selection fairness, not secrecy
	}
}

// SetStallThreshold updates the quiet period live; config reload applies it
// without a restart.
func (s *Service) SetStallThreshold(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.conf.StallThreshold = d
	s.mu.Unlock()
}

func (s *Service) stallThreshold() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conf.StallThreshold
}

// SeededChain pairs a new chain with its first baton.
type SeededChain struct {
	Chain domain.Chain `json:"chain"`
	Baton domain.Token `json:"baton"`
}

// Seed creates k chains for the phase on uniformly random eligible holders,
// each with a fresh seq-0 baton.
func (s *Service) Seed(ctx context.Context, sess *domain.Session, phase domain.ChainPhase, k int) ([]SeededChain, error) {
	return s.seed(ctx, sess, phase, k, 0)
}

// Reseed creates k replacement chains at the next index for the phase.
// Stalled chains stay in place for audit.
func (s *Service) Reseed(ctx context.Context, sess *domain.Session, phase domain.ChainPhase, k int) ([]SeededChain, error) {
	chains, err := s.list(ctx, sess.SessionID)
	if err != nil {
		return nil, err
	}
	index := 0
	for _, c := range chains {
		if c.Phase == phase && c.Index >= index {
			index = c.Index + 1
		}
	}
	return s.seed(ctx, sess, phase, k, index)
}

func (s *Service) seed(ctx context.Context, sess *domain.Session, phase domain.ChainPhase, k, index int) ([]SeededChain, error) {
	if k <= 0 {
		return nil, domain.E(domain.CodeInvalidRequest, "k must be positive")
	}
	if phase != domain.PhaseEntry && phase != domain.PhaseExit {
		return nil, domain.Ef(domain.CodeInvalidRequest, "invalid phase %q", phase)
	}
	if sess.Status != domain.SessionActive {
		return nil, domain.E(domain.CodeSessionEnded, "session is not active")
	}

	eligible, err := s.eligibleStudents(ctx, sess.SessionID, phase)
	if err != nil {
		return nil, err
	}
	if len(eligible) < k {
		return nil, domain.Ef(domain.CodeInsufficientStudents, "need %d eligible students, have %d", k, len(eligible))
	}

	s.mu.Lock()
	s.rnd.Shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})
	s.mu.Unlock()
	selected := eligible[:k]

	tokenType := domain.TokenChain
	if phase == domain.PhaseExit {
		tokenType = domain.TokenExitChain
	}

	now := s.now().Unix()
	out := make([]SeededChain, 0, k)
	for _, studentID := range selected {
		baton, _, err := s.tokens.Create(ctx, token.CreateInput{
			SessionID: sess.SessionID,
			Type:      tokenType,
			TTL:       s.conf.BatonTTL,
			SingleUse: true,
			ChainID:   s.newID(),
			IssuedTo:  studentID,
			Seq:       0,
		})
		if err != nil {
			return nil, err
		}

		c := domain.Chain{
			SessionID:  sess.SessionID,
			ChainID:    baton.ChainID,
			Phase:      phase,
			Index:      index,
			State:      domain.ChainStateActive,
			LastHolder: studentID,
			LastSeq:    0,
			LastAt:     now,
			CreatedAt:  now,
		}
		value, err := json.Marshal(&c)
		if err != nil {
			return nil, domain.Wrap(domain.CodeInternalError, "chain encode failed", err)
		}
		if _, err := s.store.Insert(ctx, storage.TableChains, storage.Entity{
			PartitionKey: sess.SessionID,
			RowKey:       c.ChainID,
			Value:        value,
		}); err != nil {
			return nil, domain.Wrap(domain.CodeStorageError, "chain insert failed", err)
		}

		s.sink.Emit(ctx, realtime.ChainUpdate(sess.SessionID, &c))
		out = append(out, SeededChain{Chain: c, Baton: *baton})
	}

	metrics.AddChainsSeeded(string(phase), k)
	s.logger.Info().
		Str(log.FieldSessionID, sess.SessionID).
		Str("phase", string(phase)).
		Int("k", k).
		Int("index", index).
		Str("event", "chain.seeded").
		Msg("chains seeded")
	return out, nil
}

// eligibleStudents returns the holder pool for a phase. ENTRY admits every
// joined student; EXIT admits entered students who have not left early.
func (s *Service) eligibleStudents(ctx context.Context, sessionID string, phase domain.ChainPhase) ([]string, error) {
	recs, err := s.recs.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rec := range recs {
		if phase == domain.PhaseExit {
			entered := rec.EntryStatus == domain.EntryPresent || rec.EntryStatus == domain.EntryLate
			if !entered || rec.EarlyLeaveAt != 0 {
				continue
			}
		}
		out = append(out, rec.StudentID)
	}
	return out, nil
}

// ProcessResult is the outcome of a successful baton scan.
type ProcessResult struct {
	Consumed  *domain.Token
	Successor *domain.Token
	Chain     *domain.Chain
}

// ProcessScan spends the presented baton and advances its chain: the holder
// is marked (entry or exit), a successor baton is minted, and the chain row
// moves forward. With ownerTransfer disabled the baton stays issued to the
// original holder and the scanner is marked alongside.
func (s *Service) ProcessScan(ctx context.Context, sess *domain.Session, tokenID, versionTag, scannerID string) (*ProcessResult, error) {
	sessionID := sess.SessionID

	// Self-attestation never counts: the holder cannot spend their own
	// baton. Checked before consume so the baton survives the attempt.
	peek, peekVer, err := s.tokens.Get(ctx, sessionID, tokenID)
	if err != nil {
		return nil, err
	}
	if peek == nil {
		return nil, domain.E(domain.CodeNotFound, "token not found")
	}
	if peek.IssuedTo != "" && peek.IssuedTo == scannerID {
		return nil, domain.E(domain.CodeIneligibleStudent, "holder cannot scan own baton")
	}
	if versionTag == "" {
		versionTag = peekVer
	}

	consumed, err := s.tokens.Consume(ctx, sessionID, tokenID, versionTag)
	if err != nil {
		return nil, err
	}
	if consumed.ChainID == "" || consumed.IssuedTo == "" {
		return nil, domain.E(domain.CodeInvalidRequest, "token is not bound to a chain")
	}

	holderID := consumed.IssuedTo
	switch consumed.Type {
	case domain.TokenChain:
		if _, err := s.recs.MarkEntry(ctx, sessionID, holderID, domain.EntryPresent); err != nil {
			return nil, err
		}
		if !sess.OwnerTransfer {
			if _, err := s.recs.MarkEntry(ctx, sessionID, scannerID, domain.EntryPresent); err != nil {
				return nil, err
			}
		}
	case domain.TokenExitChain:
		if _, err := s.recs.MarkExitVerified(ctx, sessionID, holderID); err != nil {
			return nil, err
		}
		if !sess.OwnerTransfer {
			if _, err := s.recs.MarkExitVerified(ctx, sessionID, scannerID); err != nil {
				return nil, err
			}
		}
	default:
		return nil, domain.Ef(domain.CodeInvalidRequest, "token type %s cannot drive a chain", consumed.Type)
	}

	nextHolder := scannerID
	if !sess.OwnerTransfer {
		nextHolder = holderID
	}
	successor, _, err := s.tokens.Create(ctx, token.CreateInput{
		SessionID: sessionID,
		Type:      consumed.Type,
		TTL:       s.conf.BatonTTL,
		SingleUse: true,
		ChainID:   consumed.ChainID,
		IssuedTo:  nextHolder,
		Seq:       consumed.Seq + 1,
	})
	if err != nil {
		return nil, err
	}

	c := s.advanceChain(ctx, sessionID, consumed.ChainID, nextHolder, successor.Seq)

	phase := domain.PhaseEntry
	if consumed.Type == domain.TokenExitChain {
		phase = domain.PhaseExit
	}
	metrics.IncChainTransfer(string(phase))
	s.logger.Info().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldChainID, consumed.ChainID).
		Str(log.FieldStudentID, scannerID).
		Int64("seq", successor.Seq).
		Str("event", "chain.transfer").
		Msg("baton passed")

	if c != nil {
		s.sink.Emit(ctx, realtime.ChainUpdate(sessionID, c))
	}
	return &ProcessResult{Consumed: consumed, Successor: successor, Chain: c}, nil
}

// advanceChain moves the chain row forward. A missing or unreadable chain is
// a soft failure: the baton is already spent, so the scan must stand.
func (s *Service) advanceChain(ctx context.Context, sessionID, chainID, lastHolder string, lastSeq int64) *domain.Chain {
	ent, err := s.store.Get(ctx, storage.TableChains, sessionID, chainID)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str(log.FieldSessionID, sessionID).
			Str(log.FieldChainID, chainID).
			Str("event", "chain.advance_orphan").
			Msg("chain record missing after consume")
		return nil
	}

	var c domain.Chain
	if err := json.Unmarshal(ent.Value, &c); err != nil {
		s.logger.Warn().
			Err(err).
			Str(log.FieldSessionID, sessionID).
			Str(log.FieldChainID, chainID).
			Str("event", "chain.advance_orphan").
			Msg("chain record unreadable after consume")
		return nil
	}

	c.LastHolder = lastHolder
	c.LastSeq = lastSeq
	c.LastAt = s.now().Unix()
	value, err := json.Marshal(&c)
	if err == nil {
		_, err = s.store.Put(ctx, storage.TableChains, storage.Entity{
			PartitionKey: sessionID,
			RowKey:       chainID,
			Value:        value,
		})
	}
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str(log.FieldSessionID, sessionID).
			Str(log.FieldChainID, chainID).
			Str("event", "chain.advance_failed").
			Msg("chain update failed after consume")
		return nil
	}
	return &c
}

// DetectStalled transitions quiet ACTIVE chains of the phase to STALLED and
// returns their ids. Repeat passes ignore already stalled chains.
func (s *Service) DetectStalled(ctx context.Context, sessionID string, phase domain.ChainPhase) ([]string, error) {
	chains, err := s.list(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now().Unix()
	cutoff := int64(s.stallThreshold() / time.Second)
	var stalled []string
	for _, c := range chains {
		if c.Phase != phase || c.State != domain.ChainStateActive {
			continue
		}
		if now-c.LastAt <= cutoff {
			continue
		}
		c.State = domain.ChainStateStalled
		value, err := json.Marshal(&c)
		if err != nil {
			return nil, domain.Wrap(domain.CodeInternalError, "chain encode failed", err)
		}
		if _, err := s.store.Put(ctx, storage.TableChains, storage.Entity{
			PartitionKey: sessionID,
			RowKey:       c.ChainID,
			Value:        value,
		}); err != nil {
			return nil, domain.Wrap(domain.CodeStorageError, "chain stall write failed", err)
		}
		stalled = append(stalled, c.ChainID)
	}

	if len(stalled) > 0 {
		metrics.AddChainsStalled(string(phase), len(stalled))
		s.logger.Warn().
			Str(log.FieldSessionID, sessionID).
			Str("phase", string(phase)).
			Strs("chains", stalled).
			Str("event", "chain.stalled").
			Msg("chains stalled")
		s.sink.Emit(ctx, realtime.StallAlert(sessionID, stalled))
	}
	return stalled, nil
}

// List returns every chain for the session, seeding order within phase.
func (s *Service) List(ctx context.Context, sessionID string) ([]domain.Chain, error) {
	return s.list(ctx, sessionID)
}

func (s *Service) list(ctx context.Context, sessionID string) ([]domain.Chain, error) {
	ents, err := s.store.Scan(ctx, storage.TableChains, sessionID)
	if err != nil {
		return nil, domain.Wrap(domain.CodeStorageError, "chain scan failed", err)
	}
	chains := make([]domain.Chain, 0, len(ents))
	for _, ent := range ents {
		var c domain.Chain
		if err := json.Unmarshal(ent.Value, &c); err != nil {
			return nil, domain.Wrap(domain.CodeInternalError, "chain decode failed", err)
		}
		chains = append(chains, c)
	}
	return chains, nil
}
