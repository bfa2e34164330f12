package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/nudge-engine/internal/features"
	"github.com/danielpatrickdp/nudge-engine/internal/ledger"
	"github.com/danielpatrickdp/nudge-engine/internal/orchestrator"
)

// #region protocol
// request is one JSON line on stdin.
type request struct {
	Op         string                 `json:"op"`
	SubjectID  string                 `json:"subject_id,omitempty"`
	Attributes features.RawAttributes `json:"attributes,omitempty"`
	Arm        *int                   `json:"arm,omitempty"`
	Reward     *float64               `json:"reward,omitempty"`
}

// response is one JSON line on stdout.
type response struct {
	OK       bool                   `json:"ok"`
	Error    string                 `json:"error,omitempty"`
	Decision *orchestrator.Decision `json:"decision,omitempty"`
	Resolved *decisionView          `json:"resolved,omitempty"`
	History  []decisionView         `json:"history,omitempty"`
}

type decisionView struct {
	DecisionID string     `json:"decision_id"`
	SubjectID  string     `json:"subject_id"`
	Arm        int        `json:"arm"`
	CreatedAt  time.Time  `json:"created_at"`
	Reward     *float64   `json:"reward,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func viewOf(rec ledger.DecisionRecord) decisionView {
	return decisionView{
		DecisionID: rec.ID,
		SubjectID:  rec.SubjectID,
		Arm:        rec.Arm,
		CreatedAt:  rec.Timestamp,
		Reward:     rec.Reward,
		ResolvedAt: rec.ResolvedAt,
	}
}
// #endregion protocol

// #region session
type session struct {
	svc *orchestrator.Service
	log *zap.Logger
}

var errQuit = errors.New("quit")

// serve answers one response line per request line until in is exhausted,
// a quit request arrives or ctx is cancelled.
func (s *session) serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	enc := json.NewEncoder(out)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			resp, err := s.handle(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err := enc.Encode(resp); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
		}
	}
}

func (s *session) handle(ctx context.Context, line string) (response, error) {
	var req request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return s.failure("", fmt.Errorf("parse request: %w", err)), nil
	}

	switch strings.ToLower(req.Op) {
	case "decide":
		d, err := s.svc.Decide(ctx, req.SubjectID, req.Attributes)
		if err != nil {
			return s.failure(req.Op, err), nil
		}
		return response{OK: true, Decision: &d}, nil

	case "feedback":
		if req.Arm == nil || req.Reward == nil {
			return s.failure(req.Op, errors.New("feedback needs arm and reward")), nil
		}
		rec, err := s.svc.Feedback(ctx, req.SubjectID, *req.Arm, *req.Reward)
		if err != nil {
			return s.failure(req.Op, err), nil
		}
		v := viewOf(rec)
		return response{OK: true, Resolved: &v}, nil

	case "history":
		if req.SubjectID == "" {
			return s.failure(req.Op, orchestrator.ErrEmptySubject), nil
		}
		recs := s.svc.Ledger().History(req.SubjectID)
		views := make([]decisionView, len(recs))
		for i, rec := range recs {
			views[i] = viewOf(rec)
		}
		return response{OK: true, History: views}, nil

	case "save":
		if err := s.svc.Save(ctx); err != nil {
			return s.failure(req.Op, err), nil
		}
		return response{OK: true}, nil

	case "quit", "exit":
		return response{OK: true}, errQuit

	default:
		return s.failure(req.Op, fmt.Errorf("unknown op %q", req.Op)), nil
	}
}

func (s *session) failure(op string, err error) response {
	s.log.Debug("request failed", zap.String("op", op), zap.Error(err))
	return response{Error: err.Error()}
}
// #endregion session
