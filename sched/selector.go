package sched

import (
	"github.com/pkg/errors"
)

// Algorithm names the selection policy, as given on the command line.
type Algorithm string

const (
	RR  Algorithm = "RR"
	WRR Algorithm = "WRR"
	LC  Algorithm = "LC"
	WLC Algorithm = "WLC"
	DH  Algorithm = "DH"
	SH  Algorithm = "SH"
)

// Algorithms lists every supported policy.
var Algorithms = []Algorithm{RR, WRR, LC, WLC, DH, SH}

// ParseAlgorithm validates a policy name from the command line.
func ParseAlgorithm(s string) (Algorithm, error) {
	for _, a := range Algorithms {
		if s == string(a) {
			return a, nil
		}
	}
	return "", errors.Errorf("unsupported scheduling algorithm %q", s)
}

// Selector instantiates the configured policy and rebinds its snapshot
// before every selection, so the balancer never touches a concrete policy.
type Selector struct {
	algo   Algorithm
	policy Policy
}

// NewSelector returns a selector driving the named policy.
func NewSelector(algo Algorithm) (*Selector, error) {
	var p Policy
	switch algo {
	case RR:
		p = NewRoundRobin()
	case WRR:
		p = NewWeightedRoundRobin()
	case LC:
		p = NewLeastConnection()
	case WLC:
		p = NewWeightedLeastConnection()
	case DH:
		p = NewDestinationHashing()
	case SH:
		p = NewSourceHashing()
	default:
		return nil, errors.Errorf("unsupported scheduling algorithm %q", algo)
	}
	return &Selector{algo: algo, policy: p}, nil
}

// Algorithm returns the name of the policy the selector drives.
func (s *Selector) Algorithm() Algorithm {
	return s.algo
}

// Select rebinds the snapshot and runs the policy. The handle address in
// the state is forwarded to hashing policies and ignored by the rest.
func (s *Selector) Select(state State) int {
	s.policy.SetState(state)
	if hp, ok := s.policy.(HashingPolicy); ok {
		hp.SetHandleIP(state.HandleIP)
	}
	return s.policy.Select()
}
