package enginepool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/herohde/chessbot/internal/engine"
)

// Farm is the capability a pool server needs from whatever actually runs
// engine sessions — in-process uciDialect/xboardDialect instances, or a
// further remote hop. Session is keyed by the caller-supplied session id.
type Farm interface {
	Open(ctx context.Context, sessionID string, options map[string]string) error
	SetPosition(ctx context.Context, sessionID string, pos engine.Position) error
	Search(ctx context.Context, sessionID string, limits engine.Limits) (string, *int, error)
	Close(ctx context.Context, sessionID string) error
}

// Server implements enginepoolpb.EnginePoolServer by dispatching decoded
// opEnvelopes onto a Farm. One Server instance backs many concurrent
// sessions; beyond the set of session ids opened through it, per-session
// state lives in the Farm.
type Server struct {
	farm   Farm
	secret string

	mu       sync.Mutex
	sessions map[string]struct{}
}

// NewServer wires srv to farm. When secret is non-empty, every RPC must carry
// a matching x-chessbot-pool-secret metadata entry.
func NewServer(farm Farm, secret string) *Server {
	return &Server{farm: farm, secret: secret, sessions: make(map[string]struct{})}
}

// Execute decodes the JSON operation envelope from in and dispatches it onto
// the farm, returning the JSON result envelope wrapped back in a BytesValue.
func (s *Server) Execute(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}

	var env opEnvelope
	if err := json.Unmarshal(in.GetValue(), &env); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode operation: %v", err)
	}

	result := s.dispatch(ctx, env)
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return wrapperspb.Bytes(payload), nil
}

func (s *Server) authorize(ctx context.Context) error {
	if s.secret == "" {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	values := md.Get(sharedSecretMetadataKey)
	if len(values) == 0 || values[0] != s.secret {
		return status.Error(codes.Unauthenticated, "invalid pool secret")
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, env opEnvelope) resultEnvelope {
	switch env.Op {
	case "handshake":
		//1.- Record the session as opened; set_position and search do not consult this set.
		s.mu.Lock()
		s.sessions[env.SessionID] = struct{}{}
		s.mu.Unlock()
		if err := s.farm.Open(ctx, env.SessionID, env.Options); err != nil {
			return resultEnvelope{Error: err.Error()}
		}
		return resultEnvelope{}
	case "set_position":
		pos := engine.Position{InitialFEN: env.InitialFEN, Moves: env.Moves}
		if err := s.farm.SetPosition(ctx, env.SessionID, pos); err != nil {
			return resultEnvelope{Error: err.Error()}
		}
		return resultEnvelope{}
	case "search":
		limits, err := toLimits(env.Limits)
		if err != nil {
			return resultEnvelope{Error: err.Error()}
		}
		move, score, err := s.farm.Search(ctx, env.SessionID, limits)
		if err != nil {
			return resultEnvelope{Error: err.Error()}
		}
		return resultEnvelope{BestMove: move, ScoreCP: score}
	case "quit":
		//2.- Release the farm-side session whether or not it was ever opened.
		s.mu.Lock()
		delete(s.sessions, env.SessionID)
		s.mu.Unlock()
		if err := s.farm.Close(ctx, env.SessionID); err != nil {
			return resultEnvelope{Error: err.Error()}
		}
		return resultEnvelope{}
	default:
		return resultEnvelope{Error: fmt.Sprintf("unknown operation %q", env.Op)}
	}
}

func toLimits(p *limitsPayload) (engine.Limits, error) {
	if p == nil {
		return engine.Limits{}, fmt.Errorf("search requires limits")
	}
	return engine.Limits{
		Mode:          engine.TimeMode(p.Mode),
		WhiteTimeLeft: msToDuration(p.WhiteTimeMS),
		BlackTimeLeft: msToDuration(p.BlackTimeMS),
		WhiteInc:      msToDuration(p.WhiteIncMS),
		BlackInc:      msToDuration(p.BlackIncMS),
		MovesToGo:     p.MovesToGo,
		FixedDepth:    p.FixedDepth,
		FixedNodes:    p.FixedNodes,
		FixedMoveTime: msToDuration(p.FixedMoveTime),
	}, nil
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
