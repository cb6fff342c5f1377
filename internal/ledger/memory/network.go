// Package memory is an in-process ledger. It keeps rounds, verifies
// signatures, enforces balances and can withhold confirmations, which makes
// it the network double for tests and the "memory" backend.
package memory

import (
	"context"
	"crypto/sha512"
	"fmt"
	"iter"
	"sync"
	"time"

	"campuschain/internal/ledger"

	"github.com/algorand/go-algorand-sdk/v2/types"
)

// GenesisID identifies the in-process network in transaction headers.
const GenesisID = "campus-memory-v1"

// validityWindow is how many rounds a transaction built against the current
// parameters stays valid, the same span algod suggests.
const validityWindow = 1000

var genesisHash = sha512.Sum512_256([]byte(GenesisID))

type holdingKey struct {
	address string
	asset   uint64
}

// Network is the shared ledger state. Use Client to talk to it.
type Network struct {
	mu          sync.Mutex
	round       uint64
	now         func() time.Time
	balances    map[holdingKey]int64
	committed   []ledger.RawTransfer
	seen        map[string]bool
	held        []ledger.SignedTransfer
	hold        bool
	unavailable bool
	pageSize    int
}

func NewNetwork() *Network {
	return &Network{
		round:    1,
		now:      time.Now,
		balances: make(map[holdingKey]int64),
		seen:     make(map[string]bool),
		pageSize: 100,
	}
}

// SetClock replaces the source of confirmation timestamps.
func (n *Network) SetClock(now func() time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.now = now
}

// SetPageSize changes how many entries each history page holds.
func (n *Network) SetPageSize(size int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if size > 0 {
		n.pageSize = size
	}
}

// Mint credits amount of asset to address outside of any transfer.
func (n *Network) Mint(address string, asset uint64, amount int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances[holdingKey{address, asset}] += amount
}

// HoldConfirmations makes Submit accept transfers without confirming them.
// Held transfers wait for Release or Drop.
func (n *Network) HoldConfirmations(on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hold = on
}

// SetUnavailable makes every call fail with ledger.ErrUnavailable.
func (n *Network) SetUnavailable(on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unavailable = on
}

// Release commits all held transfers in submission order. Transfers that no
// longer fit the sender's balance are dropped. It returns the committed ids.
func (n *Network) Release() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	held := n.held
	n.held = nil
	var ids []string
	for _, st := range held {
		if _, err := n.commitLocked(st); err == nil {
			ids = append(ids, st.ID())
		}
	}
	return ids
}

// Drop discards held transfers; they never reach the ledger.
func (n *Network) Drop() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	dropped := len(n.held)
	for _, st := range n.held {
		delete(n.seen, st.ID())
	}
	n.held = nil
	return dropped
}

// Round returns the last committed round.
func (n *Network) Round() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.round
}

// Inject appends a confirmed transfer to history without signature or balance
// checks, e.g. activity made by another wallet.
func (n *Network) Inject(raw ledger.RawTransfer) ledger.RawTransfer {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.round++
	raw.Round = n.round
	if raw.ConfirmedAt.IsZero() {
		raw.ConfirmedAt = n.now().UTC()
	}
	if raw.TransferID == "" {
		raw.TransferID = fmt.Sprintf("INJECTED%06d", n.round)
	}
	n.committed = append(n.committed, raw)
	n.seen[raw.TransferID] = true
	return raw
}

func (n *Network) params() (types.SuggestedParams, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.unavailable {
		return types.SuggestedParams{}, ledger.ErrUnavailable
	}
	return types.SuggestedParams{
		GenesisID:       GenesisID,
		GenesisHash:     append([]byte(nil), genesisHash[:]...),
		FirstRoundValid: types.Round(n.round),
		LastRoundValid:  types.Round(n.round + validityWindow),
		MinFee:          1000,
	}, nil
}

func (n *Network) balance(address string, asset uint64) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.unavailable {
		return 0, ledger.ErrUnavailable
	}
	return n.balances[holdingKey{address, asset}], nil
}

func (n *Network) submit(st ledger.SignedTransfer) (ledger.Confirmation, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.unavailable {
		return ledger.Confirmation{}, ledger.ErrUnavailable
	}
	txn := st.Txn
	switch {
	case txn.Type != types.AssetTransferTx:
		return ledger.Confirmation{}, fmt.Errorf("%w: unsupported transaction type %q", ledger.ErrRejected, txn.Type)
	case txn.GenesisID != GenesisID || txn.GenesisHash != types.Digest(genesisHash):
		return ledger.Confirmation{}, fmt.Errorf("%w: wrong network %q", ledger.ErrRejected, txn.GenesisID)
	case uint64(txn.FirstValid) > n.round+1 || uint64(txn.LastValid) < n.round+1:
		return ledger.Confirmation{}, fmt.Errorf("%w: outside validity window", ledger.ErrRejected)
	}
	if err := ledger.Verify(st); err != nil {
		return ledger.Confirmation{}, fmt.Errorf("%w: %v", ledger.ErrRejected, err)
	}
	id := st.ID()
	if n.seen[id] {
		return ledger.Confirmation{}, fmt.Errorf("%w: transfer %s already submitted", ledger.ErrRejected, id)
	}
	if n.balances[holdingKey{st.Sender(), st.AssetID()}] < st.Amount() {
		return ledger.Confirmation{}, fmt.Errorf("%w: overspend", ledger.ErrRejected)
	}
	n.seen[id] = true
	if n.hold {
		n.held = append(n.held, st)
		return ledger.Confirmation{}, ledger.ErrUnconfirmed
	}
	return n.commitLocked(st)
}

func (n *Network) commitLocked(st ledger.SignedTransfer) (ledger.Confirmation, error) {
	amount := st.Amount()
	from := holdingKey{st.Sender(), st.AssetID()}
	if n.balances[from] < amount {
		delete(n.seen, st.ID())
		return ledger.Confirmation{}, fmt.Errorf("%w: overspend", ledger.ErrRejected)
	}
	n.balances[from] -= amount
	n.balances[holdingKey{st.Receiver(), st.AssetID()}] += amount
	n.round++
	conf := ledger.Confirmation{
		TransferID:  st.ID(),
		Round:       n.round,
		ConfirmedAt: n.now().UTC(),
	}
	n.committed = append(n.committed, ledger.RawTransfer{
		TransferID:  conf.TransferID,
		Sender:      st.Sender(),
		Receiver:    st.Receiver(),
		AssetID:     st.AssetID(),
		Amount:      amount,
		Note:        append([]byte(nil), st.Note()...),
		Round:       conf.Round,
		ConfirmedAt: conf.ConfirmedAt,
	})
	return conf, nil
}

// page copies up to pageSize matching entries starting at committed index
// from. It returns the next index to resume at, or -1 when exhausted.
func (n *Network) page(address string, asset uint64, from int) ([]ledger.RawTransfer, int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.unavailable {
		return nil, -1, ledger.ErrUnavailable
	}
	var out []ledger.RawTransfer
	i := from
	for ; i < len(n.committed) && len(out) < n.pageSize; i++ {
		raw := n.committed[i]
		if raw.Sender == address && raw.AssetID == asset {
			raw.Note = append([]byte(nil), raw.Note...)
			out = append(out, raw)
		}
	}
	if i >= len(n.committed) {
		return out, -1, nil
	}
	return out, i, nil
}

// Client is a ledger.Client bound to a Network.
type Client struct {
	net *Network
}

var _ ledger.Client = (*Client)(nil)

func NewClient(net *Network) *Client {
	return &Client{net: net}
}

func (c *Client) Params(ctx context.Context) (types.SuggestedParams, error) {
	if err := ctx.Err(); err != nil {
		return types.SuggestedParams{}, fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
	}
	return c.net.params()
}

func (c *Client) Balance(ctx context.Context, address string, asset uint64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
	}
	return c.net.balance(address, asset)
}

func (c *Client) Submit(ctx context.Context, st ledger.SignedTransfer) (ledger.Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Confirmation{}, fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
	}
	return c.net.submit(st)
}

func (c *Client) HistoryFrom(ctx context.Context, address string, asset uint64) iter.Seq2[ledger.RawTransfer, error] {
	return func(yield func(ledger.RawTransfer, error) bool) {
		next := 0
		for next >= 0 {
			if err := ctx.Err(); err != nil {
				yield(ledger.RawTransfer{}, err)
				return
			}
			page, resume, err := c.net.page(address, asset, next)
			if err != nil {
				yield(ledger.RawTransfer{}, err)
				return
			}
			for _, raw := range page {
				if !yield(raw, nil) {
					return
				}
			}
			next = resume
		}
	}
}
