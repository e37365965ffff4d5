package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ayo6706/wager-lobby/internal/domain"
	"github.com/ayo6706/wager-lobby/internal/identity"
	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/ayo6706/wager-lobby/internal/observability"
	"github.com/ayo6706/wager-lobby/internal/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	TelemetryProcessed        = "processed"
	TelemetryNoActiveMatch    = "no_active_match"
	TelemetryGameConcluded    = "game_concluded"
	TelemetryWinnerUnresolved = "winner_unresolved"

	phaseGameOver = "gameover"
	teamCT        = "CT"
	teamT         = "T"
)

// Telemetry is the subset of a CS2 game-state integration payload the lobby reads.
type Telemetry struct {
	Auth *struct {
		Token string `json:"token"`
	} `json:"auth"`
	MatchID  string `json:"match_id"`
	Provider *struct {
		Name      string `json:"name"`
		AppID     int    `json:"appid"`
		SteamID   string `json:"steamid"`
		MatchID   string `json:"match_id"`
		Timestamp int64  `json:"timestamp"`
	} `json:"provider"`
	Map        *telemetryMap              `json:"map"`
	AllPlayers map[string]telemetryPlayer `json:"allplayers"`
}

type telemetryMap struct {
	Name        string         `json:"name"`
	Mode        string         `json:"mode"`
	Phase       string         `json:"phase"`
	Round       int            `json:"round"`
	TeamCT      *telemetryTeam `json:"team_ct"`
	TeamT       *telemetryTeam `json:"team_t"`
	WinningTeam string         `json:"winning_team"`
}

type telemetryTeam struct {
	Score int `json:"score"`
}

type telemetryPlayer struct {
	Name string `json:"name"`
	Team string `json:"team"`
}

// TelemetryResult tells the game server what happened to its frame.
type TelemetryResult struct {
	Status     string                    `json:"status"`
	MatchID    *uuid.UUID                `json:"match_id,omitempty"`
	WinnerID   string                    `json:"winner,omitempty"`
	Settlement *service.SettlementResult `json:"settlement,omitempty"`
}

// HandleTelemetry ingests one game-state frame. Live frames update the score;
// a gameover frame resolves the winning side to a lobby member and settles.
func (a *Adapter) HandleTelemetry(ctx context.Context, payload []byte) (*TelemetryResult, error) {
	var t Telemetry
	if err := json.Unmarshal(payload, &t); err != nil {
		observability.IncrementOracleReport(domain.SourceTelemetry, "invalid")
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidReport, err)
	}
	if t.Auth == nil || !a.validToken(t.Auth.Token) {
		observability.IncrementOracleReport(domain.SourceTelemetry, "unauthorized")
		return nil, models.ErrUnauthorizedReport
	}

	m, err := a.telemetryMatch(ctx, &t)
	if err != nil {
		observability.IncrementOracleReport(domain.SourceTelemetry, reportOutcome(err))
		return nil, err
	}
	if m == nil {
		return &TelemetryResult{Status: TelemetryNoActiveMatch}, nil
	}
	log := zap.L().With(zap.String("match_id", m.ID.String()))
	result := &TelemetryResult{Status: TelemetryProcessed, MatchID: &m.ID}

	if t.Map == nil {
		return result, nil
	}
	if t.Map.TeamCT != nil && t.Map.TeamT != nil && m.Status == models.MatchStatusLive {
		if _, err := a.matches.RecordScore(ctx, m.ID, t.Map.TeamCT.Score, t.Map.TeamT.Score); err != nil && !errors.Is(err, models.ErrWrongState) {
			return nil, err
		}
	}
	if !strings.EqualFold(t.Map.Phase, phaseGameOver) {
		return result, nil
	}

	winner, err := a.resolveWinner(ctx, m, &t)
	if err != nil {
		return nil, err
	}
	if winner == "" {
		observability.IncrementOracleReport(domain.SourceTelemetry, "winner_unresolved")
		log.Warn("gameover frame without a resolvable winner", zap.String("winning_team", t.Map.WinningTeam))
		result.Status = TelemetryWinnerUnresolved
		return result, nil
	}

	res, err := a.settler.SettleVerdict(ctx, service.Verdict{
		MatchID:  m.ID,
		WinnerID: winner,
		Evidence: telemetryEvidence(&t),
		Source:   domain.SourceTelemetry,
	})
	observability.IncrementOracleReport(domain.SourceTelemetry, reportOutcome(err))
	if err != nil {
		return nil, err
	}
	result.Status = TelemetryGameConcluded
	result.WinnerID = winner
	result.Settlement = res
	return result, nil
}

// telemetryMatch finds the match a frame belongs to: an explicit match_id, then
// provider.match_id, then the most recent LIVE match. A nil match means no
// match is in play.
func (a *Adapter) telemetryMatch(ctx context.Context, t *Telemetry) (*models.Match, error) {
	ref := strings.TrimSpace(t.MatchID)
	if ref == "" && t.Provider != nil {
		ref = strings.TrimSpace(t.Provider.MatchID)
	}
	if ref != "" {
		id, err := uuid.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("%w: match_id %q is not a uuid", models.ErrInvalidReport, ref)
		}
		return a.matches.GetMatch(ctx, id)
	}

	live, err := a.matches.ListMatches(ctx, models.MatchStatusLive, 1)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return nil, nil
	}
	return &live[0], nil
}

// resolveWinner returns the first lobby member on the winning side, trying
// external ids in sorted order so retries pick the same user.
func (a *Adapter) resolveWinner(ctx context.Context, m *models.Match, t *Telemetry) (string, error) {
	side := winningSide(t.Map)
	if side == "" || a.identities == nil {
		return "", nil
	}

	var externalIDs []string
	for id, p := range t.AllPlayers {
		if strings.EqualFold(p.Team, side) {
			externalIDs = append(externalIDs, id)
		}
	}
	sort.Strings(externalIDs)

	for _, ext := range externalIDs {
		userID, err := a.identities.Resolve(ctx, identity.ProviderSteam, ext)
		if errors.Is(err, identity.ErrNotLinked) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", ext, err)
		}
		if m.Player(userID) != nil {
			return userID, nil
		}
	}
	return "", nil
}

// winningSide prefers the reported winning team and falls back to the score.
func winningSide(m *telemetryMap) string {
	if w := strings.ToUpper(strings.TrimSpace(m.WinningTeam)); w == teamCT || w == teamT {
		return w
	}
	if m.TeamCT == nil || m.TeamT == nil {
		return ""
	}
	switch {
	case m.TeamCT.Score > m.TeamT.Score:
		return teamCT
	case m.TeamT.Score > m.TeamCT.Score:
		return teamT
	}
	return ""
}

func telemetryEvidence(t *Telemetry) string {
	var ct, tt int
	if t.Map.TeamCT != nil {
		ct = t.Map.TeamCT.Score
	}
	if t.Map.TeamT != nil {
		tt = t.Map.TeamT.Score
	}
	evidence := fmt.Sprintf("gsi map=%s winner=%s score=%d-%d", t.Map.Name, winningSide(t.Map), ct, tt)
	if t.Provider != nil && t.Provider.Timestamp > 0 {
		evidence += fmt.Sprintf(" ts=%d", t.Provider.Timestamp)
	}
	return evidence
}
