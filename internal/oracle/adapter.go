// Package oracle is the trust boundary for match results. It authenticates
// reports from game servers, normalizes them into verdicts and hands them
// to the settlement coordinator.
package oracle

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/wager-lobby/internal/domain"
	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/ayo6706/wager-lobby/internal/observability"
	"github.com/ayo6706/wager-lobby/internal/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const signaturePrefix = "sha256="

// Settler applies verdicts.
type Settler interface {
	SettleVerdict(ctx context.Context, v service.Verdict) (*service.SettlementResult, error)
}

// MatchBoard is the read side of the match registry plus live scoring.
type MatchBoard interface {
	GetMatch(ctx context.Context, matchID uuid.UUID) (*models.Match, error)
	ListMatches(ctx context.Context, status models.MatchStatus, limit int) ([]models.Match, error)
	RecordScore(ctx context.Context, matchID uuid.UUID, teamA, teamB int) (*models.Match, error)
}

// IdentityResolver maps an external game identity to a platform user.
type IdentityResolver interface {
	Resolve(ctx context.Context, provider, externalID string) (string, error)
}

type Config struct {
	// HMACKey signs explicit reports and stream messages.
	HMACKey string
	// ServerSecret is the shared game-server token.
	ServerSecret string
}

// Credentials are the authentication material that came with a report.
type Credentials struct {
	Signature   string
	ServerToken string
}

type Adapter struct {
	settler    Settler
	matches    MatchBoard
	identities IdentityResolver
	hmacKey    []byte
	secret     string
}

func NewAdapter(settler Settler, matches MatchBoard, identities IdentityResolver, cfg Config) *Adapter {
	return &Adapter{
		settler:    settler,
		matches:    matches,
		identities: identities,
		hmacKey:    []byte(cfg.HMACKey),
		secret:     cfg.ServerSecret,
	}
}

// Report is an explicit "match X concluded, winner Y" message.
type Report struct {
	MatchID    string     `json:"match_id"`
	WinnerID   string     `json:"winner_id"`
	Evidence   string     `json:"evidence"`
	ReportedAt *time.Time `json:"reported_at,omitempty"`

	// camelCase field names used by older game-server plugins
	LegacyMatchID  string `json:"matchId,omitempty"`
	LegacyWinnerID string `json:"winnerId,omitempty"`
}

// HandleReport authenticates and applies an explicit result report.
func (a *Adapter) HandleReport(ctx context.Context, payload []byte, creds Credentials) (*service.SettlementResult, error) {
	return a.handleReport(ctx, payload, creds, domain.SourceReport)
}

func (a *Adapter) handleReport(ctx context.Context, payload []byte, creds Credentials, source string) (*service.SettlementResult, error) {
	if err := a.authenticate(payload, creds); err != nil {
		observability.IncrementOracleReport(source, "unauthorized")
		zap.L().Warn("result report rejected", zap.String("source", source), zap.Error(err))
		return nil, err
	}

	v, err := parseReport(payload)
	if err != nil {
		observability.IncrementOracleReport(source, "invalid")
		return nil, err
	}
	v.Source = source

	res, err := a.settler.SettleVerdict(ctx, v)
	observability.IncrementOracleReport(source, reportOutcome(err))
	if err != nil {
		return nil, err
	}
	return res, nil
}

func parseReport(payload []byte) (service.Verdict, error) {
	var r Report
	if err := json.Unmarshal(payload, &r); err != nil {
		return service.Verdict{}, fmt.Errorf("%w: %v", models.ErrInvalidReport, err)
	}
	matchRef := firstNonEmpty(r.MatchID, r.LegacyMatchID)
	winner := firstNonEmpty(r.WinnerID, r.LegacyWinnerID)
	if matchRef == "" || winner == "" {
		return service.Verdict{}, fmt.Errorf("%w: match_id and winner_id are required", models.ErrInvalidReport)
	}
	matchID, err := uuid.Parse(matchRef)
	if err != nil {
		return service.Verdict{}, fmt.Errorf("%w: match_id %q is not a uuid", models.ErrInvalidReport, matchRef)
	}
	return service.Verdict{MatchID: matchID, WinnerID: winner, Evidence: strings.TrimSpace(r.Evidence)}, nil
}

// authenticate accepts either an HMAC-SHA256 signature of the raw body or the
// shared game-server token.
func (a *Adapter) authenticate(payload []byte, creds Credentials) error {
	if sig := strings.TrimSpace(creds.Signature); sig != "" && len(a.hmacKey) > 0 {
		if a.validSignature(payload, sig) {
			return nil
		}
		return fmt.Errorf("%w: signature mismatch", models.ErrUnauthorizedReport)
	}
	if creds.ServerToken != "" && a.validToken(creds.ServerToken) {
		return nil
	}
	return models.ErrUnauthorizedReport
}

func (a *Adapter) validSignature(payload []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(signature), signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, a.hmacKey)
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

func (a *Adapter) validToken(token string) bool {
	if a.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) == 1
}

// Sign returns the signature header value for payload under key.
func Sign(key, payload []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Permanent reports whether redelivering the same report can never succeed.
// A verdict for a match that has not gone LIVE yet may simply have overtaken
// the start, so it is retried.
func Permanent(err error) bool {
	if errors.Is(err, models.ErrMatchNotStarted) {
		return false
	}
	for _, target := range []error{
		models.ErrUnauthorizedReport,
		models.ErrInvalidReport,
		models.ErrMatchNotFound,
		models.ErrNotSettleable,
		models.ErrConflictingSettlement,
		models.ErrWinnerNotAMember,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func reportOutcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, models.ErrMatchNotFound):
		return "not_found"
	case errors.Is(err, models.ErrNotSettleable):
		return "not_settleable"
	case errors.Is(err, models.ErrConflictingSettlement):
		return "conflict"
	case errors.Is(err, models.ErrWinnerNotAMember):
		return "winner_not_member"
	default:
		return "error"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
