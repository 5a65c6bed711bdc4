// Package query implements the A2S protocol querier used by the status
// poller and the A2S health probe. Each query opens a short-lived UDP client
// against the server's query endpoint, so no connection state is held between
// calls.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/rumblefrog/go-a2s"

	"github.com/supporttools/gameserver-doctor/pkg/types"
)

// DefaultTimeout bounds a single query when the caller passes none.
const DefaultTimeout = 5 * time.Second

// A2SQuerier issues A2S_INFO and A2S_PLAYER queries over UDP.
type A2SQuerier struct{}

// NewA2SQuerier creates an A2SQuerier.
func NewA2SQuerier() *A2SQuerier {
	return &A2SQuerier{}
}

// QueryInfo issues an A2S_INFO query against host:port.
func (q *A2SQuerier) QueryInfo(ctx context.Context, host string, port int, timeout time.Duration) (*types.ServerInfo, error) {
	client, err := newClient(ctx, host, port, timeout)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	info, err := client.QueryInfo()
	if err != nil {
		return nil, fmt.Errorf("a2s info query to %s:%d failed: %w", host, port, err)
	}

	return &types.ServerInfo{
		Name:       info.Name,
		Map:        info.Map,
		Game:       info.Game,
		Players:    int(info.Players),
		MaxPlayers: int(info.MaxPlayers),
	}, nil
}

// QueryPlayers issues an A2S_PLAYER query against host:port.
func (q *A2SQuerier) QueryPlayers(ctx context.Context, host string, port int, timeout time.Duration) ([]types.Player, error) {
	client, err := newClient(ctx, host, port, timeout)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	resp, err := client.QueryPlayer()
	if err != nil {
		return nil, fmt.Errorf("a2s player query to %s:%d failed: %w", host, port, err)
	}

	players := make([]types.Player, 0, len(resp.Players))
	for _, p := range resp.Players {
		players = append(players, types.Player{
			Name:     p.Name,
			Score:    int(p.Score),
			Duration: time.Duration(float64(p.Duration) * float64(time.Second)),
		})
	}
	return players, nil
}

// newClient builds a one-shot A2S client. The effective timeout is the
// caller's timeout clamped to the context deadline, so a query never outlives
// the operation that issued it.
func newClient(ctx context.Context, host string, port int, timeout time.Duration) (*a2s.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	client, err := a2s.NewClient(fmt.Sprintf("%s:%d", host, port), a2s.TimeoutOption(timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to create a2s client for %s:%d: %w", host, port, err)
	}
	return client, nil
}

var _ types.GameQuerier = (*A2SQuerier)(nil)
