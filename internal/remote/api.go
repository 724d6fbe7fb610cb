package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/herohde/chessbot/internal/chessboterr"
)

// Paths are referenced by role (§6); the literal endpoint templates live
// here as the single place that would change if the upstream service's
// actual routes differed from these placeholders.
const (
	pathProfile         = "/api/account"
	pathEventsStream    = "/api/stream/event"
	pathGameStreamFmt   = "/api/bot/game/stream/%s"
	pathAcceptChallenge = "/api/challenge/%s/accept"
	pathDeclineChallenge = "/api/challenge/%s/decline"
	pathAbortGame       = "/api/bot/game/%s/abort"
	pathResignGame      = "/api/bot/game/%s/resign"
	pathMakeMove        = "/api/bot/game/%s/move/%s"
	pathChat            = "/api/bot/game/%s/chat"
	pathCreateChallenge = "/api/challenge/%s"
	pathHandleDraw      = "/api/bot/game/%s/draw/%s"
	pathHandleTakeback  = "/api/bot/game/%s/takeback/%s"
)

// GameURL reports a human-viewable URL for gameID, used only for archive
// metadata (the PGN Site tag); it is never dereferenced by this package.
func (c *Client) GameURL(gameID string) string {
	return fmt.Sprintf("%s/%s", c.baseURL, gameID)
}

// Profile fetches the bot account's own identity (§6).
func (c *Client) Profile(ctx context.Context) (Profile, error) {
	resp, err := c.Request(ctx, http.MethodGet, pathProfile, nil, true)
	if err != nil {
		return Profile{}, err
	}
	defer resp.Body.Close()

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return Profile{}, chessboterr.New(chessboterr.KindProtocol, pathProfile, fmt.Errorf("decode profile: %w", err))
	}
	return profile, nil
}

// StreamEvents opens the account-wide event stream (§4.5, §6).
func (c *Client) StreamEvents(ctx context.Context) (*Stream, error) {
	return c.OpenStream(ctx, pathEventsStream)
}

// StreamGame opens the per-game stream for gameID (§4.4, §6).
func (c *Client) StreamGame(ctx context.Context, gameID string) (*Stream, error) {
	return c.OpenStream(ctx, fmt.Sprintf(pathGameStreamFmt, gameID))
}

// AcceptChallenge accepts a pending challenge (§4.5, §6).
func (c *Client) AcceptChallenge(ctx context.Context, challengeID string) error {
	return c.postDiscard(ctx, fmt.Sprintf(pathAcceptChallenge, challengeID), nil, false)
}

// DeclineChallenge declines a pending challenge with reason code (§4.3, §6).
func (c *Client) DeclineChallenge(ctx context.Context, challengeID string, reason string) error {
	return c.postDiscard(ctx, fmt.Sprintf(pathDeclineChallenge, challengeID), map[string]string{"reason": reason}, false)
}

// AbortGame aborts a game within the service's early-abort window (§4.5, §6).
func (c *Client) AbortGame(ctx context.Context, gameID string) error {
	return c.postDiscard(ctx, fmt.Sprintf(pathAbortGame, gameID), nil, false)
}

// ResignGame resigns an in-progress game (§4.4, §6).
func (c *Client) ResignGame(ctx context.Context, gameID string) error {
	return c.postDiscard(ctx, fmt.Sprintf(pathResignGame, gameID), nil, false)
}

// MakeMove submits a coordinate-notation move, optionally offering a draw (§4.4, §6).
func (c *Client) MakeMove(ctx context.Context, gameID, uciMove string, offeringDraw bool) error {
	path := fmt.Sprintf(pathMakeMove, gameID, uciMove)
	if offeringDraw {
		path += "?offeringDraw=true"
	}
	return c.postDiscard(ctx, path, nil, false)
}

// Chat posts a chat-room message (§4.4, §6).
func (c *Client) Chat(ctx context.Context, gameID, room, text string) error {
	return c.postDiscard(ctx, fmt.Sprintf(pathChat, gameID), map[string]string{"room": room, "text": text}, false)
}

// CreateChallenge issues an outbound challenge for matchmaking (§4.6, §6).
func (c *Client) CreateChallenge(ctx context.Context, opponent string, params map[string]string) (Challenge, error) {
	resp, err := c.Request(ctx, http.MethodPost, fmt.Sprintf(pathCreateChallenge, opponent), params, false)
	if err != nil {
		return Challenge{}, err
	}
	defer resp.Body.Close()

	var created Challenge
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return Challenge{}, chessboterr.New(chessboterr.KindProtocol, pathCreateChallenge, fmt.Errorf("decode challenge: %w", err))
	}
	return created, nil
}

// HandleDrawOffer accepts or declines the opponent's last draw offer (§4.4).
func (c *Client) HandleDrawOffer(ctx context.Context, gameID string, accept bool) error {
	return c.postDiscard(ctx, fmt.Sprintf(pathHandleDraw, gameID, acceptReject(accept)), nil, false)
}

// HandleTakeback accepts or declines the opponent's last takeback offer (§4.4).
func (c *Client) HandleTakeback(ctx context.Context, gameID string, accept bool) error {
	return c.postDiscard(ctx, fmt.Sprintf(pathHandleTakeback, gameID, acceptReject(accept)), nil, false)
}

func acceptReject(accept bool) string {
	if accept {
		return "yes"
	}
	return "no"
}

func (c *Client) postDiscard(ctx context.Context, path string, body any, idempotent bool) error {
	resp, err := c.Request(ctx, http.MethodPost, path, body, idempotent)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
