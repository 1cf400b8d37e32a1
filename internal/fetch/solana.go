package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// SolanaClient fetches transactions over JSON-RPC. RPC clients are cached
// per endpoint URL so connection reuse survives across batches.
type SolanaClient struct {
	// Commitment defaults to confirmed when empty.
	Commitment rpc.CommitmentType

	mu      sync.Mutex
	clients map[string]*rpc.Client
}

// NewSolanaClient builds a client cache.
func NewSolanaClient() *SolanaClient {
	return &SolanaClient{clients: make(map[string]*rpc.Client)}
}

func (c *SolanaClient) rpcFor(url string) *rpc.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[url]; ok {
		return cl
	}
	cl := rpc.New(url)
	c.clients[url] = cl
	return cl
}

// GetTransaction fetches the base64-encoded transaction for a signature.
// An upstream not-found is mapped to ErrNotFound.
func (c *SolanaClient) GetTransaction(ctx context.Context, url, signature string) (Detail, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		// A malformed signature can never be fetched from anywhere.
		return Detail{}, fmt.Errorf("%w: bad signature %q: %v", ErrNotFound, signature, err)
	}
	commitment := c.Commitment
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	maxVersion := uint64(0)
	out, err := c.rpcFor(url).GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return Detail{}, ErrNotFound
		}
		return Detail{}, fmt.Errorf("get transaction %s: %w", url, err)
	}
	if out == nil || out.Transaction == nil {
		return Detail{}, ErrNotFound
	}

	d := Detail{
		Payload: out.Transaction.GetBinary(),
		Slot:    out.Slot,
	}
	if out.BlockTime != nil {
		d.BlockTime = time.Unix(int64(*out.BlockTime), 0).UTC()
	}
	return d, nil
}
