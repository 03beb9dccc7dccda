package presence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"presence/internal/geofence"
	"presence/internal/joinlink"
	"presence/internal/queue"
	"presence/internal/token"
)

// Actor identifies the authenticated caller. Admin corresponds to the
// superuser role; instructor status is per lecture and resolved via Roster.
type Actor struct {
	UserID string
	Admin  bool
}

// Policy carries the geofence tunables.
type Policy struct {
	CenterLat *float64
	CenterLon *float64
	RadiusM   float64
	// EnforceRadius turns the soft GPS check into a blocking one. Off by
	// default: GPS is supporting evidence, the IP fence is the hard gate.
	EnforceRadius bool
	// JoinBaseURL, when set, is prepended to issued credentials to form a
	// full deep link.
	JoinBaseURL string
}

// Rotation is the result of issuing a fresh token.
type Rotation struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	JoinLink  string    `json:"join_link"`
}

// Result is the outcome of a redemption. Transitioned is false when the
// record was already present (idempotent success).
type Result struct {
	Present      bool       `json:"present"`
	Transitioned bool       `json:"transitioned"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
}

// RedeemRequest is a token-path redemption.
type RedeemRequest struct {
	Actor       Actor
	SessionID   string
	StudentID   string
	Token       string
	IP          string
	Lat         *float64
	Lon         *float64
	Fingerprint string
	UserAgent   string
}

// JoinRequest is a deep-link redemption. Checks mirror the token path; the
// credential replaces the live token.
type JoinRequest struct {
	Actor       Actor
	SessionID   string
	Credential  string
	IP          string
	Lat         *float64
	Lon         *float64
	Fingerprint string
	UserAgent   string
}

// RedemptionEvent is published to the queue after every committed transition,
// feeding the fingerprint anomaly worker.
type RedemptionEvent struct {
	SessionID       string `json:"session_id"`
	StudentID       string `json:"student_id"`
	FingerprintHash string `json:"fingerprint_hash,omitempty"`
	IP              string `json:"ip,omitempty"`
}

// Service composes the token store, signer, geofence, and ledger to answer
// "is this redemption valid, and if so, commit it".
type Service struct {
	roster Roster
	ledger Ledger
	tokens token.Store
	signer *joinlink.Signer
	fence  *geofence.Validator
	events queue.Queue
	policy Policy
	nowF   func() time.Time
}

// NewService wires the orchestrator. events may be nil when no worker is
// deployed.
func NewService(roster Roster, ledger Ledger, tokens token.Store, signer *joinlink.Signer, fence *geofence.Validator, events queue.Queue, policy Policy) *Service {
	return &Service{
		roster: roster,
		ledger: ledger,
		tokens: tokens,
		signer: signer,
		fence:  fence,
		events: events,
		policy: policy,
		nowF:   func() time.Time { return time.Now().UTC() },
	}
}

// Rotate issues a fresh token plus a signed join credential for the session.
// Caller must be the lecture's instructor or an admin.
func (s *Service) Rotate(ctx context.Context, actor Actor, sessionID string) (Rotation, error) {
	sess, err := s.roster.Session(ctx, sessionID)
	if err != nil {
		return Rotation{}, err
	}
	if err := s.requireInstructor(ctx, actor, sess.LectureID); err != nil {
		return Rotation{}, err
	}

	tok, err := s.tokens.Rotate(ctx, sessionID)
	if err != nil {
		return Rotation{}, err
	}
	rotationsTotal.Inc()

	cred := s.signer.Sign(sessionID, uuid.NewString(), tok.ExpiresAt)
	link := cred
	if s.policy.JoinBaseURL != "" {
		link = fmt.Sprintf("%s?attendance_id=%s&credential=%s", s.policy.JoinBaseURL, sessionID, cred)
	}
	return Rotation{Token: tok.Value, ExpiresAt: tok.ExpiresAt, JoinLink: link}, nil
}

// RedeemToken validates a token-path redemption and commits the presence
// transition at most once.
func (s *Service) RedeemToken(ctx context.Context, req RedeemRequest) (Result, error) {
	res, err := s.redeem(ctx, "token", req.Actor, req.SessionID, req.StudentID, req.IP, req.Lat, req.Lon, req.Fingerprint, req.UserAgent, func(ctx context.Context) (bool, error) {
		if req.Token == "" {
			return false, nil
		}
		return s.tokens.IsValid(ctx, req.SessionID, req.Token)
	})
	return res, err
}

// RedeemJoinLink validates a deep-link redemption. Same authorization,
// geofence, and idempotency rules as the token path; the signed credential
// stands in for the live token.
func (s *Service) RedeemJoinLink(ctx context.Context, req JoinRequest) (Result, error) {
	return s.redeem(ctx, "join", req.Actor, req.SessionID, req.Actor.UserID, req.IP, req.Lat, req.Lon, req.Fingerprint, req.UserAgent, func(ctx context.Context) (bool, error) {
		return s.signer.Verify(req.SessionID, req.Credential), nil
	})
}

func (s *Service) redeem(ctx context.Context, path string, actor Actor, sessionID, studentID, ip string, lat, lon *float64, fingerprint, userAgent string, credentialOK func(context.Context) (bool, error)) (Result, error) {
	outcome := func(o string) { redemptionsTotal.WithLabelValues(path, o).Inc() }

	sess, err := s.roster.Session(ctx, sessionID)
	if err != nil {
		outcome("not_found")
		return Result{}, err
	}

	// A student can only mark their own record.
	if actor.UserID == "" || actor.UserID != studentID {
		outcome("unauthorized")
		return Result{}, ErrUnauthorized
	}
	enrolled, err := s.roster.IsEnrolled(ctx, sess.LectureID, studentID)
	if err != nil {
		outcome("error")
		return Result{}, err
	}
	if !enrolled {
		outcome("unauthorized")
		return Result{}, ErrUnauthorized
	}

	if !s.fence.IPPermitted(ip) {
		outcome("origin_denied")
		return Result{}, ErrOriginDenied
	}

	ok, err := credentialOK(ctx)
	if err != nil {
		outcome("error")
		return Result{}, err
	}
	if !ok {
		outcome("invalid_token")
		return Result{}, ErrInvalidToken
	}

	if !geofence.WithinRadius(lat, lon, s.policy.CenterLat, s.policy.CenterLon, s.policy.RadiusM) {
		radiusViolationsTotal.Inc()
		if s.policy.EnforceRadius {
			outcome("origin_denied")
			return Result{}, ErrOriginDenied
		}
		log.Printf("radius violation (not enforced): session=%s student=%s", sessionID, studentID)
	}

	ev := Evidence{
		IP:        ip,
		UserAgent: userAgent,
		Lat:       lat,
		Lon:       lon,
		At:        s.nowF(),
	}
	if fingerprint != "" {
		ev.FingerprintHash = HashFingerprint(fingerprint)
	}

	rec, transitioned, err := s.ledger.MarkPresent(ctx, sessionID, studentID, ev)
	if err != nil {
		outcome("error")
		return Result{}, err
	}
	if transitioned {
		outcome("ok")
		s.publish(ctx, RedemptionEvent{
			SessionID:       sessionID,
			StudentID:       studentID,
			FingerprintHash: ev.FingerprintHash,
			IP:              ip,
		})
	} else {
		outcome("already_present")
	}
	return Result{Present: rec.Present, Transitioned: transitioned, Timestamp: rec.ScanTime}, nil
}

// Override sets a student's presence directly. Caller must be the lecture's
// instructor or an admin; the at-most-once rule does not apply here.
func (s *Service) Override(ctx context.Context, actor Actor, sessionID, studentID string, present bool) (Record, error) {
	sess, err := s.roster.Session(ctx, sessionID)
	if err != nil {
		return Record{}, err
	}
	if err := s.requireInstructor(ctx, actor, sess.LectureID); err != nil {
		return Record{}, err
	}
	return s.ledger.Override(ctx, sessionID, studentID, present, s.nowF())
}

// MyRecord returns the caller's record for the session, creating an absent
// one on first access.
func (s *Service) MyRecord(ctx context.Context, actor Actor, sessionID string) (Record, error) {
	sess, err := s.roster.Session(ctx, sessionID)
	if err != nil {
		return Record{}, err
	}
	enrolled, err := s.roster.IsEnrolled(ctx, sess.LectureID, actor.UserID)
	if err != nil {
		return Record{}, err
	}
	if !enrolled {
		return Record{}, ErrUnauthorized
	}
	return s.ledger.Get(ctx, sessionID, actor.UserID)
}

// SessionRecords lists all records for the session. Instructor or admin only.
func (s *Service) SessionRecords(ctx context.Context, actor Actor, sessionID string) ([]Record, error) {
	sess, err := s.roster.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.requireInstructor(ctx, actor, sess.LectureID); err != nil {
		return nil, err
	}
	return s.ledger.List(ctx, sessionID)
}

// ActiveSession resolves the lecture's open session, creating one on first
// access. Available to enrolled students and the instructor.
func (s *Service) ActiveSession(ctx context.Context, actor Actor, lectureID string) (Session, error) {
	if !actor.Admin {
		enrolled, err := s.roster.IsEnrolled(ctx, lectureID, actor.UserID)
		if err != nil {
			return Session{}, err
		}
		if !enrolled {
			instructor, err := s.roster.IsInstructor(ctx, lectureID, actor.UserID)
			if err != nil {
				return Session{}, err
			}
			if !instructor {
				return Session{}, ErrUnauthorized
			}
		}
	}
	return s.roster.ActiveSession(ctx, lectureID)
}

func (s *Service) requireInstructor(ctx context.Context, actor Actor, lectureID string) error {
	if actor.Admin {
		return nil
	}
	instructor, err := s.roster.IsInstructor(ctx, lectureID, actor.UserID)
	if err != nil {
		return err
	}
	if !instructor {
		return ErrUnauthorized
	}
	return nil
}

func (s *Service) publish(ctx context.Context, ev RedemptionEvent) {
	if s.events == nil {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.events.Publish(ctx, queue.Message{Type: "redemption", Body: body}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}

// HashFingerprint maps a raw device fingerprint to its stored form. One-way
// and deterministic: identical devices hash identically, which is what the
// anomaly worker keys on.
func HashFingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
