// Package enginepool implements the internal-engine dialect named in §4.2
// ("An implementation MAY embed an internal-engine dialect ... without a
// subprocess, selected by configuration; externally identical"). Rather than
// spawning a subprocess, it proxies Dialect operations to a remote engine
// farm over gRPC, authenticating each call with a shared-secret metadata
// entry checked by a stream interceptor on the server side.
package enginepool

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/herohde/chessbot/internal/chessboterr"
	"github.com/herohde/chessbot/internal/engine"
	"github.com/herohde/chessbot/internal/enginepool/enginepoolpb"
)

const sharedSecretMetadataKey = "x-chessbot-pool-secret"

// opEnvelope is the JSON payload carried inside the BytesValue request (see
// enginepoolpb for why this sidesteps per-operation protobuf messages).
type opEnvelope struct {
	Op         string            `json:"op"`
	SessionID  string            `json:"session_id"`
	Options    map[string]string `json:"options,omitempty"`
	InitialFEN string            `json:"initial_fen,omitempty"`
	Moves      []string          `json:"moves,omitempty"`
	Limits     *limitsPayload    `json:"limits,omitempty"`
}

type limitsPayload struct {
	Mode          string `json:"mode"`
	WhiteTimeMS   int64  `json:"white_time_ms"`
	BlackTimeMS   int64  `json:"black_time_ms"`
	WhiteIncMS    int64  `json:"white_inc_ms"`
	BlackIncMS    int64  `json:"black_inc_ms"`
	MovesToGo     int    `json:"moves_to_go"`
	FixedDepth    int    `json:"fixed_depth,omitempty"`
	FixedNodes    int    `json:"fixed_nodes,omitempty"`
	FixedMoveTime int64  `json:"fixed_move_time_ms,omitempty"`
}

type resultEnvelope struct {
	BestMove string `json:"best_move,omitempty"`
	ScoreCP  *int   `json:"score_cp,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Dialect implements engine.Dialect against a remote engine-pool session.
type Dialect struct {
	client    enginepoolpb.EnginePoolClient
	conn      *grpc.ClientConn
	sessionID string
	secret    string
}

// Dial connects to addr and allocates a pool-side session identified by
// sessionID (typically the game id).
func Dial(ctx context.Context, addr, sharedSecret, sessionID string) (*Dialect, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, chessboterr.New(chessboterr.KindEngineSpawn, addr, fmt.Errorf("dial engine pool: %w", err))
	}
	return &Dialect{
		client:    enginepoolpb.NewEnginePoolClient(conn),
		conn:      conn,
		sessionID: sessionID,
		secret:    sharedSecret,
	}, nil
}

func (d *Dialect) call(ctx context.Context, env opEnvelope) (resultEnvelope, error) {
	env.SessionID = d.sessionID
	payload, err := json.Marshal(env)
	if err != nil {
		return resultEnvelope{}, chessboterr.New(chessboterr.KindInternal, env.Op, err)
	}
	if d.secret != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, sharedSecretMetadataKey, d.secret)
	}
	resp, err := d.client.Execute(ctx, wrapperspb.Bytes(payload))
	if err != nil {
		return resultEnvelope{}, chessboterr.New(chessboterr.KindEngineDead, env.Op, fmt.Errorf("pool rpc: %w", err))
	}
	var result resultEnvelope
	if err := json.Unmarshal(resp.GetValue(), &result); err != nil {
		return resultEnvelope{}, chessboterr.New(chessboterr.KindEngineProto, env.Op, err)
	}
	if result.Error != "" {
		return resultEnvelope{}, chessboterr.New(chessboterr.KindEngineProto, env.Op, fmt.Errorf("%s", result.Error))
	}
	return result, nil
}

// Handshake allocates the pool-side session with the requested options.
func (d *Dialect) Handshake(ctx context.Context, options map[string]string) error {
	_, err := d.call(ctx, opEnvelope{Op: "handshake", Options: options})
	return err
}

// SetPosition updates the pool session's current position.
func (d *Dialect) SetPosition(ctx context.Context, pos engine.Position) error {
	_, err := d.call(ctx, opEnvelope{Op: "set_position", InitialFEN: pos.InitialFEN, Moves: pos.Moves})
	return err
}

// Search requests a move from the pool session.
func (d *Dialect) Search(ctx context.Context, limits engine.Limits) (string, *int, error) {
	result, err := d.call(ctx, opEnvelope{Op: "search", Limits: &limitsPayload{
		Mode:          string(limits.Mode),
		WhiteTimeMS:   limits.WhiteTimeLeft.Milliseconds(),
		BlackTimeMS:   limits.BlackTimeLeft.Milliseconds(),
		WhiteIncMS:    limits.WhiteInc.Milliseconds(),
		BlackIncMS:    limits.BlackInc.Milliseconds(),
		MovesToGo:     limits.MovesToGo,
		FixedDepth:    limits.FixedDepth,
		FixedNodes:    limits.FixedNodes,
		FixedMoveTime: limits.FixedMoveTime.Milliseconds(),
	}})
	if err != nil {
		return "", nil, err
	}
	return result.BestMove, result.ScoreCP, nil
}

// PonderHit and StopPonder are no-ops: the pool dialect does not support
// pondering (only UCI subprocess sessions do, per §4.2).
func (d *Dialect) PonderHit(ctx context.Context) error  { return nil }
func (d *Dialect) StopPonder(ctx context.Context) error { return nil }

// Quit releases the pool-side session and closes the connection.
func (d *Dialect) Quit(ctx context.Context) error {
	_, err := d.call(ctx, opEnvelope{Op: "quit"})
	_ = d.conn.Close()
	return err
}

var _ engine.Dialect = (*Dialect)(nil)
