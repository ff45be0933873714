// SPDX-License-Identifier: MIT

// Package scan is the glue layer every scanning flow passes through. One
// request runs the same gate sequence regardless of flow: principal, role,
// session state, rate limit, location, then the flow itself. Every outcome,
// accepted or rejected, leaves a scan-log row.
package scan

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainpass/chainpass/internal/anticheat"
	"github.com/chainpass/chainpass/internal/attendance"
	"github.com/chainpass/chainpass/internal/auth"
	"github.com/chainpass/chainpass/internal/chain"
	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/log"
	"github.com/chainpass/chainpass/internal/metrics"
	"github.com/chainpass/chainpass/internal/session"
	"github.com/chainpass/chainpass/internal/token"
)

// Request is one scan attempt. TokenID is unused for the join flow; IP and
// UserAgent come from the transport, never from the body.
type Request struct {
	SessionID         string      `json:"sessionId"`
	TokenID           string      `json:"tokenId,omitempty"`
	VersionTag        string      `json:"versionTag,omitempty"`
	DeviceFingerprint string      `json:"deviceFingerprint"`
	GPS               *domain.GPS `json:"gps,omitempty"`
	BSSID             string      `json:"bssid,omitempty"`

	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// Result is the success payload of a scan. Baton and Chain are set on chain
// flows; Record on the others.
type Result struct {
	Flow   domain.ScanFlow   `json:"flow"`
	Result domain.ScanResult `json:"result"`

	Record *domain.AttendanceRecord `json:"record,omitempty"`
	Baton  *domain.Token            `json:"baton,omitempty"`
	Chain  *domain.Chain            `json:"chain,omitempty"`
}

// Pipeline wires the gate sequence to the domain services.
type Pipeline struct {
	sessions *session.Service
	tokens   *token.Service
	chains   *chain.Service
	recs     *attendance.Service
	limiter  *anticheat.Limiter
	audit    *anticheat.Recorder
	now      func() time.Time
}

// NewPipeline builds the scan pipeline.
func NewPipeline(sessions *session.Service, tokens *token.Service, chains *chain.Service, recs *attendance.Service, limiter *anticheat.Limiter, audit *anticheat.Recorder) *Pipeline {
	return &Pipeline{
		sessions: sessions,
		tokens:   tokens,
		chains:   chains,
		recs:     recs,
		limiter:  limiter,
		audit:    audit,
		now:      time.Now,
	}
}

// Join registers the student on the session roster without attesting entry.
func (p *Pipeline) Join(ctx context.Context, principal *auth.Principal, req Request) (*Result, error) {
	return p.run(ctx, domain.FlowJoin, principal, req)
}

// ScanChain processes an entry baton scan.
func (p *Pipeline) ScanChain(ctx context.Context, principal *auth.Principal, req Request) (*Result, error) {
	return p.run(ctx, domain.FlowEntryChain, principal, req)
}

// ScanExitChain processes an exit baton scan.
func (p *Pipeline) ScanExitChain(ctx context.Context, principal *auth.Principal, req Request) (*Result, error) {
	return p.run(ctx, domain.FlowExitChain, principal, req)
}

// ScanLateEntry consumes the live late-entry code for the scanning student.
func (p *Pipeline) ScanLateEntry(ctx context.Context, principal *auth.Principal, req Request) (*Result, error) {
	return p.run(ctx, domain.FlowLateEntry, principal, req)
}

// ScanEarlyLeave consumes the live early-leave code for the scanning student.
func (p *Pipeline) ScanEarlyLeave(ctx context.Context, principal *auth.Principal, req Request) (*Result, error) {
	return p.run(ctx, domain.FlowEarlyLeave, principal, req)
}

// run executes the gate sequence, exiting on the first failure. The scan-log
// row is appended on every path, including the gates before the flow body.
func (p *Pipeline) run(ctx context.Context, flow domain.ScanFlow, principal *auth.Principal, req Request) (res *Result, err error) {
	entry := domain.ScanLog{
		SessionID:         req.SessionID,
		Flow:              flow,
		TokenID:           req.TokenID,
		DeviceFingerprint: req.DeviceFingerprint,
		IP:                req.IP,
		BSSID:             req.BSSID,
		GPS:               req.GPS,
		UserAgent:         req.UserAgent,
		ScannedAt:         p.now().Unix(),
	}
	if principal != nil {
		entry.ScannerID = principal.UserID
	}

	defer func() {
		entry.Result = domain.ScanResultFor(err)
		if err != nil {
			entry.Error = errorMessage(err)
		}
		p.audit.Append(ctx, entry)
		metrics.IncScan(string(flow), string(entry.Result))
		p.logScan(ctx, &entry, err)
	}()

	if principal == nil {
		return nil, domain.E(domain.CodeUnauthorized, "missing principal")
	}
	if !principal.IsStudent() {
		return nil, domain.E(domain.CodeForbidden, "scanning requires the student role")
	}
	if req.SessionID == "" {
		return nil, domain.E(domain.CodeInvalidRequest, "sessionId is required")
	}
	if req.DeviceFingerprint == "" {
		return nil, domain.E(domain.CodeInvalidRequest, "deviceFingerprint is required")
	}
	if flow != domain.FlowJoin && req.TokenID == "" {
		return nil, domain.E(domain.CodeInvalidRequest, "tokenId is required")
	}

	sess, err := p.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != domain.SessionActive {
		return nil, domain.E(domain.CodeSessionEnded, "session is not active")
	}

	if err = p.limiter.Check(req.DeviceFingerprint, req.IP); err != nil {
		return nil, err
	}
	if err = anticheat.CheckLocation(sess.Constraints, req.GPS, req.BSSID); err != nil {
		return nil, err
	}

	switch flow {
	case domain.FlowJoin:
		res, err = p.join(ctx, sess, principal.UserID)
	case domain.FlowEntryChain:
		res, err = p.chainScan(ctx, sess, flow, domain.TokenChain, principal.UserID, req, &entry)
	case domain.FlowExitChain:
		res, err = p.chainScan(ctx, sess, flow, domain.TokenExitChain, principal.UserID, req, &entry)
	case domain.FlowLateEntry:
		res, err = p.rotatingScan(ctx, sess, flow, domain.TokenLateEntry, principal.UserID, req)
	case domain.FlowEarlyLeave:
		res, err = p.rotatingScan(ctx, sess, flow, domain.TokenEarlyLeave, principal.UserID, req)
	default:
		err = domain.Ef(domain.CodeInvalidRequest, "unknown flow %q", flow)
	}
	return res, err
}

func (p *Pipeline) join(ctx context.Context, sess *domain.Session, studentID string) (*Result, error) {
	rec, err := p.recs.EnsureJoined(ctx, sess.SessionID, studentID)
	if err != nil {
		return nil, err
	}
	return &Result{Flow: domain.FlowJoin, Result: domain.ScanSuccess, Record: rec}, nil
}

// chainScan verifies the presented baton belongs to this flow before handing
// it to the chain service, so a mismatched endpoint cannot burn the token.
func (p *Pipeline) chainScan(ctx context.Context, sess *domain.Session, flow domain.ScanFlow, want domain.TokenType, scannerID string, req Request, entry *domain.ScanLog) (*Result, error) {
	peek, peekVer, err := p.tokens.Get(ctx, sess.SessionID, req.TokenID)
	if err != nil {
		return nil, err
	}
	if peek == nil {
		return nil, domain.E(domain.CodeNotFound, "token not found")
	}
	if peek.Type != want {
		return nil, domain.Ef(domain.CodeInvalidRequest, "token type %s does not belong to flow %s", peek.Type, flow)
	}
	entry.HolderID = peek.IssuedTo

	versionTag := req.VersionTag
	if versionTag == "" {
		versionTag = peekVer
	}
	out, err := p.chains.ProcessScan(ctx, sess, req.TokenID, versionTag, scannerID)
	if err != nil {
		return nil, err
	}
	return &Result{
		Flow:   flow,
		Result: domain.ScanSuccess,
		Baton:  out.Successor,
		Chain:  out.Chain,
	}, nil
}

// rotatingScan consumes the session's live rotating code. The presented token
// id must match the live one; a stale id from a rotated-out QR reads as an
// expired code without touching storage.
func (p *Pipeline) rotatingScan(ctx context.Context, sess *domain.Session, flow domain.ScanFlow, typ domain.TokenType, studentID string, req Request) (*Result, error) {
	current := session.CurrentRotatingToken(sess, typ)
	if current == "" {
		return nil, domain.Ef(domain.CodeInvalidRequest, "%s flow is not active", flow)
	}
	if req.TokenID != current {
		return nil, domain.E(domain.CodeExpiredToken, "code has been replaced")
	}

	if _, err := p.tokens.Consume(ctx, sess.SessionID, current, req.VersionTag); err != nil {
		return nil, err
	}

	var rec *domain.AttendanceRecord
	var err error
	switch typ {
	case domain.TokenLateEntry:
		rec, err = p.recs.MarkEntry(ctx, sess.SessionID, studentID, domain.EntryLate)
	case domain.TokenEarlyLeave:
		rec, err = p.recs.MarkEarlyLeave(ctx, sess.SessionID, studentID)
	}
	if err != nil {
		return nil, err
	}
	return &Result{Flow: flow, Result: domain.ScanSuccess, Record: rec}, nil
}

// logScan writes the structured outcome line. Operational rejections are
// expected traffic and log at warn; internal failures at error.
func (p *Pipeline) logScan(ctx context.Context, entry *domain.ScanLog, err error) {
	logger := log.WithComponentFromContext(ctx, "scan")
	var ev *zerolog.Event
	switch {
	case err == nil:
		ev = logger.Info()
	case isOperational(err):
		ev = logger.Warn()
	default:
		ev = logger.Error().Err(err)
	}
	ev.
		Str(log.FieldSessionID, entry.SessionID).
		Str(log.FieldFlow, string(entry.Flow)).
		Str(log.FieldStudentID, entry.ScannerID).
		Str(log.FieldResult, string(entry.Result)).
		Str("event", "scan.processed").
		Msg("scan processed")
}

func isOperational(err error) bool {
	var de *domain.Error
	return errors.As(err, &de) && de.Operational()
}

func errorMessage(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return string(de.Code) + ": " + de.Message
	}
	return err.Error()
}
