package discovery

import "context"

// StaticSource re-announces a fixed, config-supplied candidate list once
// per Run, for clusters bootstrapped with a known seed list.
type StaticSource struct {
	Candidates []Candidate
}

func (s StaticSource) Run(ctx context.Context, emit func(Candidate)) {
	for _, c := range s.Candidates {
		select {
		case <-ctx.Done():
			return
		default:
			emit(c)
		}
	}
}
