package dispatcher

import (
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/transport"
)

func encodeForward(req clustertypes.Request, hopCount int) []byte {
	enc := transport.NewEncoder().
		PutString(req.RequestID).
		PutString(req.Position).
		PutUint32(uint32(req.Depth)).
		PutInt64(req.Deadline.UnixNano()).
		PutString(req.ClientTokenID.String()).
		PutUint32(uint32(hopCount))
	return enc.Bytes()
}

func decodeForward(body []byte) (clustertypes.Request, error) {
	dec := transport.NewDecoder(body)
	requestID := dec.GetString()
	position := dec.GetString()
	depth := dec.GetUint32()
	deadlineNano := dec.GetInt64()
	_ = dec.GetString() // token id string form, not re-parsed: forwarding trusts the originating node's own auth check
	hopCount := dec.GetUint32()
	if err := dec.Err(); err != nil {
		return clustertypes.Request{}, err
	}
	return clustertypes.Request{
		RequestID: requestID,
		Position:  position,
		Depth:     int(depth),
		Deadline:  time.Unix(0, deadlineNano),
		HopCount:  int(hopCount),
	}, nil
}

func encodeForwardReply(requestID string, res clustertypes.AnalysisResult, errMsg string) []byte {
	enc := transport.NewEncoder().
		PutString(requestID).
		PutString(errMsg).
		PutString(res.BestMove).
		PutString(res.PonderMove).
		PutInt64(scoreCPOrSentinel(res.ScoreCP)).
		PutInt64(scoreMateOrSentinel(res.ScoreMate)).
		PutUint32(uint32(res.DepthReached)).
		PutInt64(res.Nodes).
		PutInt64(res.NPS)

	enc.PutUint32(uint32(len(res.PV)))
	for _, mv := range res.PV {
		enc.PutString(mv)
	}
	return enc.Bytes()
}

func decodeForwardReply(body []byte) (requestID string, res clustertypes.AnalysisResult, errMsg string, err error) {
	dec := transport.NewDecoder(body)
	requestID = dec.GetString()
	errMsg = dec.GetString()
	res.BestMove = dec.GetString()
	res.PonderMove = dec.GetString()
	scoreCP := dec.GetInt64()
	scoreMate := dec.GetInt64()
	res.DepthReached = int(dec.GetUint32())
	res.Nodes = dec.GetInt64()
	res.NPS = dec.GetInt64()
	pvLen := dec.GetUint32()
	for i := uint32(0); i < pvLen; i++ {
		res.PV = append(res.PV, dec.GetString())
	}
	if err = dec.Err(); err != nil {
		return
	}
	res.RequestID = requestID
	if scoreCP != sentinelNil {
		v := int(scoreCP)
		res.ScoreCP = &v
	}
	if scoreMate != sentinelNil {
		v := int(scoreMate)
		res.ScoreMate = &v
	}
	return
}

const sentinelNil = int64(-1) << 62

func scoreCPOrSentinel(v *int) int64 {
	if v == nil {
		return sentinelNil
	}
	return int64(*v)
}

func scoreMateOrSentinel(v *int) int64 {
	if v == nil {
		return sentinelNil
	}
	return int64(*v)
}
