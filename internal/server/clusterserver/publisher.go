package clusterserver

import (
	"context"
	"fmt"
	"time"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/cseg"
)

// DefaultApplyTimeout bounds how long a proposal may wait to commit.
const DefaultApplyTimeout = 5 * time.Second

// RaftPublisher publishes transitions through the raft log. Every replica's
// FSM applies them, so all CSEG nodes converge on the same tree.
type RaftPublisher struct {
	node    *RaftNode
	timeout time.Duration
}

// NewRaftPublisher creates a publisher proposing to node.
func NewRaftPublisher(node *RaftNode, timeout time.Duration) *RaftPublisher {
	if timeout <= 0 {
		timeout = DefaultApplyTimeout
	}
	return &RaftPublisher{node: node, timeout: timeout}
}

// Publish implements cseg.Publisher.
func (p *RaftPublisher) Publish(ctx context.Context, t cseg.Transition) (*cseg.Snapshot, error) {
	if !p.node.IsLeader() {
		return nil, domain.ErrNotLeader.WithDetails("leader is %q", p.node.LeaderID())
	}

	data, err := EncodeTransition(t)
	if err != nil {
		return nil, err
	}

	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	resp, err := p.node.Apply(data, timeout)
	if err != nil {
		return nil, err
	}
	snap, ok := resp.(*cseg.Snapshot)
	if !ok {
		return nil, fmt.Errorf("unexpected fsm response %T", resp)
	}
	return snap, nil
}

var _ cseg.Publisher = (*RaftPublisher)(nil)
