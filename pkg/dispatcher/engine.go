package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/enginepool"
)

// leaseIO is the subset of *enginepool.Lease runSearch needs; letting
// tests substitute a fake avoids spawning a real child process.
type leaseIO interface {
	Send(line string) error
	ReadLine(ctx context.Context) (string, error)
}

// executeUCI checks out an engine handle and drives one UCI search:
// `position fen ...` then `go depth N`, reading `info` lines for the
// latest evaluation until the distinguished `bestmove` terminator line
// (spec.md §9 "only the terminator matters for request completion").
func executeUCI(ctx context.Context, pool EnginePool, req clustertypes.Request) (clustertypes.AnalysisResult, error) {
	lease, err := pool.Checkout(ctx, 2*time.Second)
	if err != nil {
		return clustertypes.AnalysisResult{}, fmt.Errorf("checkout engine: %w", err)
	}

	res, outcome, err := runSearch(ctx, lease, req)
	pool.Release(lease, outcome)
	return res, err
}

func runSearch(ctx context.Context, lease leaseIO, req clustertypes.Request) (clustertypes.AnalysisResult, enginepool.Outcome, error) {
	if err := lease.Send(fmt.Sprintf("position fen %s", req.Position)); err != nil {
		return clustertypes.AnalysisResult{}, enginepool.Crashed, fmt.Errorf("%w: %v", clustertypes.ErrEngineCrashed, err)
	}
	if err := lease.Send(fmt.Sprintf("go depth %d", req.Depth)); err != nil {
		return clustertypes.AnalysisResult{}, enginepool.Crashed, fmt.Errorf("%w: %v", clustertypes.ErrEngineCrashed, err)
	}

	res := clustertypes.AnalysisResult{RequestID: req.RequestID}
	for {
		line, err := lease.ReadLine(ctx)
		if err != nil {
			return clustertypes.AnalysisResult{}, enginepool.Crashed, fmt.Errorf("%w: %v", clustertypes.ErrEngineCrashed, err)
		}

		if strings.HasPrefix(line, "info ") {
			applyInfoLine(&res, line)
			continue
		}
		if strings.HasPrefix(line, "bestmove") {
			if !parseBestMove(&res, line) {
				return clustertypes.AnalysisResult{}, enginepool.ProtocolError, fmt.Errorf("%w: malformed bestmove line", clustertypes.ErrProtocolError)
			}
			return res, enginepool.Ok, nil
		}
		// Any other line is framing noise per spec.md §9: ignored.
	}
}

func parseBestMove(res *clustertypes.AnalysisResult, line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return false
	}
	res.BestMove = fields[1]
	for i := 2; i+1 < len(fields); i += 2 {
		if fields[i] == "ponder" {
			res.PonderMove = fields[i+1]
		}
	}
	return true
}

// applyInfoLine extracts depth/score/nodes/nps/pv from one `info` line,
// overwriting whatever was parsed from an earlier line: only the most
// recent info before bestmove matters.
func applyInfoLine(res *clustertypes.AnalysisResult, line string) {
	fields := strings.Fields(line)
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "depth":
			if i+1 < len(fields) {
				if v, err := strconv.Atoi(fields[i+1]); err == nil {
					res.DepthReached = v
				}
			}
		case "nodes":
			if i+1 < len(fields) {
				if v, err := strconv.ParseInt(fields[i+1], 10, 64); err == nil {
					res.Nodes = v
				}
			}
		case "nps":
			if i+1 < len(fields) {
				if v, err := strconv.ParseInt(fields[i+1], 10, 64); err == nil {
					res.NPS = v
				}
			}
		case "score":
			if i+2 < len(fields) {
				switch fields[i+1] {
				case "cp":
					if v, err := strconv.Atoi(fields[i+2]); err == nil {
						res.ScoreCP = &v
						res.ScoreMate = nil
					}
				case "mate":
					if v, err := strconv.Atoi(fields[i+2]); err == nil {
						res.ScoreMate = &v
						res.ScoreCP = nil
					}
				}
			}
		case "pv":
			if i+1 < len(fields) {
				res.PV = append([]string(nil), fields[i+1:]...)
			}
			return // pv always trails the line
		}
	}
}
