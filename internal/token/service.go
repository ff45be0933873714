// SPDX-License-Identifier: MIT

// Package token owns the token lifecycle: mint, read, validate, atomically
// consume, revoke. It carries no business rules beyond the lifecycle; chains
// and attendance live above it.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainpass/chainpass/internal/cache"
	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/log"
	"github.com/chainpass/chainpass/internal/metrics"
	"github.com/chainpass/chainpass/internal/storage"
)

// Verdict is the validate outcome.
type Verdict string

const (
	VerdictValid    Verdict = "VALID"
	VerdictExpired  Verdict = "EXPIRED"
	VerdictUsed     Verdict = "USED"
	VerdictRevoked  Verdict = "REVOKED"
	VerdictNotFound Verdict = "NOT_FOUND"
)

// CreateInput parameterizes a mint.
type CreateInput struct {
	SessionID string
	Type      domain.TokenType
	TTL       time.Duration
	SingleUse bool
	ChainID   string
	IssuedTo  string
	Seq       int64
}

// Service implements the token lifecycle on the versioned store. Rotating
// tokens (late-entry, early-leave) are additionally cached in-process with a
// TTL strictly below the rotation period; batons never touch the cache.
type Service struct {
	store    storage.Store
	cache    cache.Cache
	cacheTTL time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// cachedToken keeps the version tag next to the record so cached reads stay
// usable as CAS inputs.
type cachedToken struct {
	Token   domain.Token
	Version string
}

// NewService builds the token service.
func NewService(store storage.Store, c cache.Cache, cacheTTL time.Duration) *Service {
	if c == nil {
		c = cache.NewNoOpCache()
	}
	return &Service{
		store:    store,
		cache:    c,
		cacheTTL: cacheTTL,
		logger:   log.WithComponent("token"),
		now:      time.Now,
	}
}

func cacheKey(sessionID, tokenID string) string {
	return "tok:" + sessionID + ":" + tokenID
}

// newTokenID draws 256 bits from the CSPRNG, URL-safe without padding.
func newTokenID() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

// Create mints a token and returns it with its version tag.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Token, string, error) {
	id, err := newTokenID()
	if err != nil {
		return nil, "", domain.Wrap(domain.CodeInternalError, "token id generation failed", err)
	}

	now := s.now().Unix()
	tok := &domain.Token{
		TokenID:   id,
		SessionID: in.SessionID,
		Type:      in.Type,
		ChainID:   in.ChainID,
		IssuedTo:  in.IssuedTo,
		Seq:       in.Seq,
		Exp:       s.now().Add(in.TTL).Unix(),
		Status:    domain.TokenStatusActive,
		SingleUse: in.SingleUse,
		CreatedAt: now,
	}

	value, err := json.Marshal(tok)
	if err != nil {
		return nil, "", domain.Wrap(domain.CodeInternalError, "token encode failed", err)
	}
	ver, err := s.store.Insert(ctx, storage.TableTokens, storage.Entity{
		PartitionKey: in.SessionID,
		RowKey:       tok.TokenID,
		Value:        value,
	})
	if err != nil {
		return nil, "", domain.Wrap(domain.CodeStorageError, "token insert failed", err)
	}

	if tok.Type.IsRotating() {
		s.cache.Set(cacheKey(in.SessionID, tok.TokenID), cachedToken{Token: *tok, Version: ver}, s.cacheTTL)
	}

	metrics.IncTokenMinted(string(tok.Type))
	s.logger.Debug().
		Str(log.FieldSessionID, in.SessionID).
		Str(log.FieldTokenID, tok.TokenID).
		Str(log.FieldTokenType, string(tok.Type)).
		Int64("seq", tok.Seq).
		Str("event", "token.minted").
		Msg("token minted")
	return tok, ver, nil
}

// Get reads a token with its version tag. A missing token is a normal
// result: (nil, "", nil).
func (s *Service) Get(ctx context.Context, sessionID, tokenID string) (*domain.Token, string, error) {
	if v, ok := s.cache.Get(cacheKey(sessionID, tokenID)); ok {
		if ct, ok := v.(cachedToken); ok {
			tok := ct.Token
			return &tok, ct.Version, nil
		}
	}

	ent, err := s.store.Get(ctx, storage.TableTokens, sessionID, tokenID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", domain.Wrap(domain.CodeStorageError, "token read failed", err)
	}

	var tok domain.Token
	if err := json.Unmarshal(ent.Value, &tok); err != nil {
		return nil, "", domain.Wrap(domain.CodeInternalError, "token decode failed", err)
	}
	if tok.Type.IsRotating() {
		s.cache.Set(cacheKey(sessionID, tokenID), cachedToken{Token: tok, Version: ent.Version}, s.cacheTTL)
	}
	return &tok, ent.Version, nil
}

// Validate classifies a token without mutating it. The expiry boundary is
// inclusive: exp == now is already expired.
func (s *Service) Validate(ctx context.Context, sessionID, tokenID string) (Verdict, error) {
	tok, _, err := s.Get(ctx, sessionID, tokenID)
	if err != nil {
		return "", err
	}
	return s.classify(tok), nil
}

func (s *Service) classify(tok *domain.Token) Verdict {
	switch {
	case tok == nil:
		return VerdictNotFound
	case tok.Status == domain.TokenStatusRevoked:
		return VerdictRevoked
	case tok.Status == domain.TokenStatusUsed:
		return VerdictUsed
	case tok.ExpiredAt(s.now().Unix()):
		return VerdictExpired
	default:
		return VerdictValid
	}
}

// Consume atomically spends a token: fresh read, lifecycle check, then a
// conditional write of {USED, usedAt} predicated on the version tag. An
// empty versionTag means "the tag from this read"; a non-empty one extends
// the CAS back to the caller's earlier read. A conditional-write miss is
// ALREADY_USED and is never retried.
func (s *Service) Consume(ctx context.Context, sessionID, tokenID, versionTag string) (*domain.Token, error) {
	ent, err := s.store.Get(ctx, storage.TableTokens, sessionID, tokenID)
	if errors.Is(err, storage.ErrNotFound) {
		metrics.IncTokenConsume("not_found")
		return nil, domain.E(domain.CodeNotFound, "token not found")
	}
	if err != nil {
		metrics.IncTokenConsume("error")
		return nil, domain.Wrap(domain.CodeStorageError, "token read failed", err)
	}

	var tok domain.Token
	if err := json.Unmarshal(ent.Value, &tok); err != nil {
		metrics.IncTokenConsume("error")
		return nil, domain.Wrap(domain.CodeInternalError, "token decode failed", err)
	}

	switch s.classify(&tok) {
	case VerdictRevoked:
		metrics.IncTokenConsume("revoked")
		return nil, domain.E(domain.CodeExpiredToken, "token revoked")
	case VerdictUsed:
		metrics.IncTokenConsume("already_used")
		return nil, domain.E(domain.CodeTokenAlreadyUsed, "token already used")
	case VerdictExpired:
		metrics.IncTokenConsume("expired")
		return nil, domain.E(domain.CodeExpiredToken, "token expired")
	}

	if versionTag == "" {
		versionTag = ent.Version
	} else if versionTag != ent.Version {
		// The row moved since the caller read it; same outcome as losing
		// the conditional write.
		metrics.IncTokenConsume("already_used")
		return nil, domain.E(domain.CodeTokenAlreadyUsed, "token already used")
	}

	tok.Status = domain.TokenStatusUsed
	tok.UsedAt = s.now().Unix()
	value, err := json.Marshal(&tok)
	if err != nil {
		metrics.IncTokenConsume("error")
		return nil, domain.Wrap(domain.CodeInternalError, "token encode failed", err)
	}

	_, err = s.store.Update(ctx, storage.TableTokens, storage.Entity{
		PartitionKey: sessionID,
		RowKey:       tokenID,
		Value:        value,
		Version:      versionTag,
	})
	switch {
	case errors.Is(err, storage.ErrPreconditionFailed):
		metrics.IncTokenConsume("already_used")
		s.logger.Warn().
			Str(log.FieldSessionID, sessionID).
			Str(log.FieldTokenID, tokenID).
			Str("event", "token.consume_conflict").
			Msg("lost consume race")
		return nil, domain.E(domain.CodeTokenAlreadyUsed, "token already used")
	case errors.Is(err, storage.ErrNotFound):
		metrics.IncTokenConsume("not_found")
		return nil, domain.E(domain.CodeNotFound, "token not found")
	case err != nil:
		metrics.IncTokenConsume("error")
		return nil, domain.Wrap(domain.CodeStorageError, "token consume write failed", err)
	}

	s.cache.Delete(cacheKey(sessionID, tokenID))
	metrics.IncTokenConsume("success")
	s.logger.Debug().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldTokenID, tokenID).
		Str(log.FieldTokenType, string(tok.Type)).
		Str("event", "token.consumed").
		Msg("token consumed")
	return &tok, nil
}

// Revoke invalidates a token unconditionally. Missing tokens are success;
// USED and REVOKED rows converge on REVOKED.
func (s *Service) Revoke(ctx context.Context, sessionID, tokenID string) error {
	ent, err := s.store.Get(ctx, storage.TableTokens, sessionID, tokenID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return domain.Wrap(domain.CodeStorageError, "token read failed", err)
	}

	var tok domain.Token
	if err := json.Unmarshal(ent.Value, &tok); err != nil {
		return domain.Wrap(domain.CodeInternalError, "token decode failed", err)
	}
	if tok.Status == domain.TokenStatusRevoked {
		s.cache.Delete(cacheKey(sessionID, tokenID))
		return nil
	}

	tok.Status = domain.TokenStatusRevoked
	value, err := json.Marshal(&tok)
	if err != nil {
		return domain.Wrap(domain.CodeInternalError, "token encode failed", err)
	}
	if _, err := s.store.Put(ctx, storage.TableTokens, storage.Entity{
		PartitionKey: sessionID,
		RowKey:       tokenID,
		Value:        value,
	}); err != nil {
		return domain.Wrap(domain.CodeStorageError, "token revoke failed", err)
	}

	s.cache.Delete(cacheKey(sessionID, tokenID))
	s.logger.Debug().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldTokenID, tokenID).
		Str("event", "token.revoked").
		Msg("token revoked")
	return nil
}
