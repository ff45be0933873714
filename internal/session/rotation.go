// SPDX-License-Identifier: MIT

package session

import (
	"context"

	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/log"
	"github.com/chainpass/chainpass/internal/metrics"
	"github.com/chainpass/chainpass/internal/token"
)

// StartLateEntry activates the late-entry flow and mints its first rotating
// token. Starting an already active flow rotates the token.
func (s *Service) StartLateEntry(ctx context.Context, sessionID, teacherID string) (*domain.Token, error) {
	return s.startRotating(ctx, sessionID, teacherID, domain.TokenLateEntry)
}

// RotateLateEntry replaces the live late-entry token. The previous token is
// revoked once the session points at the new one.
func (s *Service) RotateLateEntry(ctx context.Context, sessionID, teacherID string) (*domain.Token, error) {
	return s.rotateRotating(ctx, sessionID, teacherID, domain.TokenLateEntry)
}

// StopLateEntry deactivates the flow and revokes the live token.
func (s *Service) StopLateEntry(ctx context.Context, sessionID, teacherID string) error {
	return s.stopRotating(ctx, sessionID, teacherID, domain.TokenLateEntry)
}

// StartEarlyLeave activates the early-leave flow; otherwise identical to
// StartLateEntry.
func (s *Service) StartEarlyLeave(ctx context.Context, sessionID, teacherID string) (*domain.Token, error) {
	return s.startRotating(ctx, sessionID, teacherID, domain.TokenEarlyLeave)
}

// RotateEarlyLeave replaces the live early-leave token.
func (s *Service) RotateEarlyLeave(ctx context.Context, sessionID, teacherID string) (*domain.Token, error) {
	return s.rotateRotating(ctx, sessionID, teacherID, domain.TokenEarlyLeave)
}

// StopEarlyLeave deactivates the flow and revokes the live token.
func (s *Service) StopEarlyLeave(ctx context.Context, sessionID, teacherID string) error {
	return s.stopRotating(ctx, sessionID, teacherID, domain.TokenEarlyLeave)
}

// CurrentRotatingToken returns the live token id for the flow, or empty when
// the flow is inactive.
func CurrentRotatingToken(sess *domain.Session, typ domain.TokenType) string {
	switch typ {
	case domain.TokenLateEntry:
		if sess.LateEntryActive {
			return sess.CurrentLateTokenID
		}
	case domain.TokenEarlyLeave:
		if sess.EarlyLeaveActive {
			return sess.CurrentEarlyTokenID
		}
	}
	return ""
}

func (s *Service) startRotating(ctx context.Context, sessionID, teacherID string, typ domain.TokenType) (*domain.Token, error) {
	return s.swapRotating(ctx, sessionID, teacherID, typ, true, false)
}

func (s *Service) rotateRotating(ctx context.Context, sessionID, teacherID string, typ domain.TokenType) (*domain.Token, error) {
	tok, err := s.swapRotating(ctx, sessionID, teacherID, typ, true, true)
	if err != nil {
		return nil, err
	}
	metrics.IncTokenRotation(string(typ))
	return tok, nil
}

func (s *Service) stopRotating(ctx context.Context, sessionID, teacherID string, typ domain.TokenType) error {
	_, err := s.swapRotating(ctx, sessionID, teacherID, typ, false, false)
	return err
}

// swapRotating is the single write path for rotation bookkeeping. It mints
// the replacement token first, then moves the session pointer, then revokes
// the displaced token, so the session never points at a dead token.
func (s *Service) swapRotating(ctx context.Context, sessionID, teacherID string, typ domain.TokenType, activate, requireActive bool) (*domain.Token, error) {
	if !typ.IsRotating() {
		return nil, domain.Ef(domain.CodeInvalidRequest, "%s is not a rotating token type", typ)
	}

	// Pre-flight on a fresh read so guard failures do not mint orphan
	// tokens. The update loop re-checks against the row it writes.
	cur, _, err := s.read(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := checkRotationGuards(cur, teacherID, typ, requireActive); err != nil {
		return nil, err
	}

	var newTok *domain.Token
	if activate {
		tok, _, err := s.tokens.Create(ctx, token.CreateInput{
			SessionID: sessionID,
			Type:      typ,
			TTL:       s.conf.RotatingTTL,
			SingleUse: true,
		})
		if err != nil {
			return nil, err
		}
		newTok = tok
	}

	var displaced string
	_, err = s.update(ctx, sessionID, func(sess *domain.Session) error {
		if err := checkRotationGuards(sess, teacherID, typ, requireActive); err != nil {
			return err
		}

		switch typ {
		case domain.TokenLateEntry:
			displaced = sess.CurrentLateTokenID
			sess.LateEntryActive = activate
			if newTok != nil {
				sess.CurrentLateTokenID = newTok.TokenID
			} else {
				sess.CurrentLateTokenID = ""
			}
		case domain.TokenEarlyLeave:
			displaced = sess.CurrentEarlyTokenID
			sess.EarlyLeaveActive = activate
			if newTok != nil {
				sess.CurrentEarlyTokenID = newTok.TokenID
			} else {
				sess.CurrentEarlyTokenID = ""
			}
		}
		return nil
	})
	if err != nil {
		// The freshly minted token is unreachable; retire it.
		if newTok != nil {
			if rerr := s.tokens.Revoke(ctx, sessionID, newTok.TokenID); rerr != nil {
				s.logger.Warn().
					Err(rerr).
					Str(log.FieldSessionID, sessionID).
					Str(log.FieldTokenID, newTok.TokenID).
					Str("event", "session.rotation_orphan").
					Msg("failed to revoke orphaned rotating token")
			}
		}
		return nil, err
	}

	if displaced != "" && (newTok == nil || displaced != newTok.TokenID) {
		if err := s.tokens.Revoke(ctx, sessionID, displaced); err != nil {
			s.logger.Warn().
				Err(err).
				Str(log.FieldSessionID, sessionID).
				Str(log.FieldTokenID, displaced).
				Str("event", "session.rotation_revoke_failed").
				Msg("failed to revoke displaced rotating token")
		}
	}

	s.logger.Info().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldTokenType, string(typ)).
		Bool("active", activate).
		Str("event", "session.rotation_updated").
		Msg("rotation state updated")
	return newTok, nil
}

func checkRotationGuards(sess *domain.Session, teacherID string, typ domain.TokenType, requireActive bool) error {
	if sess.TeacherID != teacherID {
		return domain.E(domain.CodeForbidden, "only the owning teacher controls rotation")
	}
	if sess.Status != domain.SessionActive {
		return domain.E(domain.CodeSessionEnded, "session is not active")
	}
	if requireActive {
		switch typ {
		case domain.TokenLateEntry:
			if !sess.LateEntryActive {
				return domain.E(domain.CodeInvalidRequest, "late entry is not active")
			}
		case domain.TokenEarlyLeave:
			if !sess.EarlyLeaveActive {
				return domain.E(domain.CodeInvalidRequest, "early leave is not active")
			}
		}
	}
	return nil
}
