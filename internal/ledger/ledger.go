// Package ledger defines the boundary to the external token ledger: balance
// queries, submission of signed asset transfers and replay of an account's
// outgoing history. Transfers are Algorand asset transfer transactions built
// and encoded with the Algorand SDK. Adapters live in the algod and memory
// subpackages.
package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/sha512"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

var (
	// ErrUnconfirmed means the transfer was handed to the network but no
	// confirmation was observed in time. It may still confirm.
	ErrUnconfirmed = errors.New("ledger: transfer not confirmed in time")
	// ErrRejected means the network refused the transfer; it will never apply.
	ErrRejected = errors.New("ledger: transfer rejected")
	// ErrUnavailable means the ledger could not be reached and nothing was sent.
	ErrUnavailable = errors.New("ledger: unavailable")
	// ErrInvalidTransfer means a transfer could not be built, e.g. because an
	// address is malformed. Nothing was signed.
	ErrInvalidTransfer = errors.New("ledger: invalid transfer")
)

// Client is the ledger port used by the executor, funding and reconciler.
type Client interface {
	// Params returns the network parameters new transfers are built against.
	Params(ctx context.Context) (types.SuggestedParams, error)
	// Balance returns the holding of asset at address, 0 when there is none.
	Balance(ctx context.Context, address string, asset uint64) (int64, error)
	// Submit sends st and waits for confirmation.
	Submit(ctx context.Context, st SignedTransfer) (Confirmation, error)
	// HistoryFrom yields the confirmed asset transfers sent by address in
	// ledger order. The sequence is lazy and finite and may be restarted.
	HistoryFrom(ctx context.Context, address string, asset uint64) iter.Seq2[RawTransfer, error]
}

// Transfer describes an asset transfer before it is bound to network
// parameters.
type Transfer struct {
	Sender   string
	Receiver string
	AssetID  uint64
	Amount   int64
	Note     []byte
	// Lease is hashed into the transaction lease, which keeps two otherwise
	// identical transfers apart and stops replays within the validity window.
	Lease string
}

// leaseFeeBytes is the encoded size of the "lx" field, which
// MakeAssetTransferTxn does not know about when it estimates the fee.
const leaseFeeBytes = 37

// Build binds t to params as an Algorand asset transfer transaction.
func (t Transfer) Build(params types.SuggestedParams) (types.Transaction, error) {
	if t.Amount < 0 {
		return types.Transaction{}, fmt.Errorf("%w: negative amount", ErrInvalidTransfer)
	}
	txn, err := transaction.MakeAssetTransferTxn(t.Sender, t.Receiver, uint64(t.Amount), t.Note, params, "", t.AssetID)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("%w: %v", ErrInvalidTransfer, err)
	}
	if t.Lease != "" {
		txn.Lease = sha512.Sum512_256([]byte(t.Lease))
		if !params.FlatFee {
			txn.Fee += leaseFeeBytes * params.Fee
		}
	}
	return txn, nil
}

// Prepare fetches the current parameters from c and builds t against them.
func Prepare(ctx context.Context, c Client, t Transfer) (types.Transaction, error) {
	params, err := c.Params(ctx)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return types.Transaction{}, err
		}
		return types.Transaction{}, fmt.Errorf("%w: suggested params: %v", ErrUnavailable, err)
	}
	return t.Build(params)
}

// BytesToSign is what an Algorand transaction signature covers: the "TX"
// domain prefix followed by the canonical msgpack encoding of txn.
func BytesToSign(txn types.Transaction) []byte {
	return append([]byte("TX"), msgpack.Encode(txn)...)
}

// SignedTransfer is a transaction with its single ed25519 signature.
type SignedTransfer struct {
	Txn types.Transaction
	Sig types.Signature
}

// Sign signs txn through sign, which receives BytesToSign(txn). Keys stay
// with the caller; the vault passes its own signing function.
func Sign(txn types.Transaction, sign func(payload []byte) ([]byte, error)) (SignedTransfer, error) {
	sig, err := sign(BytesToSign(txn))
	if err != nil {
		return SignedTransfer{}, err
	}
	if len(sig) != ed25519.SignatureSize {
		return SignedTransfer{}, ErrInvalidSignature
	}
	st := SignedTransfer{Txn: txn}
	copy(st.Sig[:], sig)
	return st, nil
}

// ID is the Algorand transaction id, known before submission.
func (st SignedTransfer) ID() string { return crypto.GetTxID(st.Txn) }

// Encode returns the msgpack form accepted by POST /v2/transactions.
func (st SignedTransfer) Encode() []byte {
	return msgpack.Encode(types.SignedTxn{Sig: st.Sig, Txn: st.Txn})
}

func (st SignedTransfer) Sender() string   { return st.Txn.Sender.String() }
func (st SignedTransfer) Receiver() string { return st.Txn.AssetReceiver.String() }
func (st SignedTransfer) AssetID() uint64  { return uint64(st.Txn.XferAsset) }
func (st SignedTransfer) Amount() int64    { return int64(st.Txn.AssetAmount) }
func (st SignedTransfer) Note() []byte     { return st.Txn.Note }

// Confirmation reports where and when a transfer was committed.
type Confirmation struct {
	TransferID  string
	Round       uint64
	ConfirmedAt time.Time
}

// RawTransfer is a confirmed transfer as read back from history.
type RawTransfer struct {
	TransferID  string
	Sender      string
	Receiver    string
	AssetID     uint64
	Amount      int64
	Note        []byte
	Round       uint64
	ConfirmedAt time.Time
}
