package subscribe

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// SolanaDialer connects to Solana websocket endpoints and subscribes to the
// log stream for all transactions at confirmed commitment.
type SolanaDialer struct {
	// Commitment defaults to confirmed when empty.
	Commitment rpc.CommitmentType
}

// Dial opens a websocket connection and establishes the logs subscription.
// A refused subscription on a live connection is permanent and is surfaced
// as ErrSubscriptionRejected.
func (d *SolanaDialer) Dial(ctx context.Context, url string) (Stream, error) {
	commitment := d.Commitment
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	client, err := ws.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	sub, err := client.LogsSubscribe(ws.LogsSubscribeFilterAll, commitment)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrSubscriptionRejected, url, err)
	}
	return &solanaStream{client: client, sub: sub}, nil
}

type solanaStream struct {
	client *ws.Client
	sub    *ws.LogSubscription
}

func (s *solanaStream) Recv(ctx context.Context) (Event, error) {
	res, err := s.sub.Recv(ctx)
	if err != nil {
		return Event{}, err
	}
	if res == nil {
		return Event{}, fmt.Errorf("log subscription closed")
	}
	return Event{
		Signature: res.Value.Signature.String(),
		Slot:      uint64(res.Context.Slot),
	}, nil
}

func (s *solanaStream) Close() error {
	s.sub.Unsubscribe()
	s.client.Close()
	return nil
}
