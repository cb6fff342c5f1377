package memory

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"campuschain/internal/ledger"

	"github.com/algorand/go-algorand-sdk/v2/types"
)

type wallet struct {
	addr string
	priv ed25519.PrivateKey
}

func newWallet(t *testing.T, b byte) wallet {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = b
	priv := ed25519.NewKeyFromSeed(seed)
	addr, err := ledger.AddressFromPublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	return wallet{addr: addr, priv: priv}
}

func (w wallet) build(t *testing.T, net *Network, to string, amount int64, lease string) types.Transaction {
	t.Helper()
	params, err := net.params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	tr := ledger.Transfer{Sender: w.addr, Receiver: to, AssetID: 9, Amount: amount, Note: ledger.CategoryNote("food"), Lease: lease}
	txn, err := tr.Build(params)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return txn
}

func (w wallet) sign(t *testing.T, txn types.Transaction) ledger.SignedTransfer {
	t.Helper()
	st, err := ledger.Sign(txn, func(p []byte) ([]byte, error) { return ed25519.Sign(w.priv, p), nil })
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return st
}

func (w wallet) pay(t *testing.T, net *Network, to string, amount int64, lease string) ledger.SignedTransfer {
	t.Helper()
	return w.sign(t, w.build(t, net, to, amount, lease))
}

func TestSubmitMovesBalance(t *testing.T) {
	ctx := context.Background()
	net := NewNetwork()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	net.SetClock(func() time.Time { return fixed })
	c := NewClient(net)
	alice, bob := newWallet(t, 1), newWallet(t, 2)
	net.Mint(alice.addr, 9, 100)

	conf, err := c.Submit(ctx, alice.pay(t, net, bob.addr, 40, "a"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if conf.Round != 2 || !conf.ConfirmedAt.Equal(fixed) {
		t.Fatalf("unexpected confirmation %+v", conf)
	}
	if got, _ := c.Balance(ctx, alice.addr, 9); got != 60 {
		t.Fatalf("alice balance = %d, want 60", got)
	}
	if got, _ := c.Balance(ctx, bob.addr, 9); got != 40 {
		t.Fatalf("bob balance = %d, want 40", got)
	}
	if got, _ := c.Balance(ctx, bob.addr, 10); got != 0 {
		t.Fatalf("no holding should read as zero, got %d", got)
	}
}

func TestSubmitRejections(t *testing.T) {
	ctx := context.Background()
	net := NewNetwork()
	c := NewClient(net)
	alice, bob := newWallet(t, 1), newWallet(t, 2)
	net.Mint(alice.addr, 9, 10)

	if _, err := c.Submit(ctx, alice.pay(t, net, bob.addr, 11, "a")); !errors.Is(err, ledger.ErrRejected) {
		t.Fatalf("expected overspend rejection, got %v", err)
	}

	forged := alice.pay(t, net, bob.addr, 5, "b")
	copy(forged.Sig[:], ed25519.Sign(bob.priv, ledger.BytesToSign(forged.Txn)))
	if _, err := c.Submit(ctx, forged); !errors.Is(err, ledger.ErrRejected) {
		t.Fatalf("expected bad signature rejection, got %v", err)
	}

	st := alice.pay(t, net, bob.addr, 5, "c")
	if _, err := c.Submit(ctx, st); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := c.Submit(ctx, st); !errors.Is(err, ledger.ErrRejected) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestSubmitChecksHeader(t *testing.T) {
	ctx := context.Background()
	net := NewNetwork()
	c := NewClient(net)
	alice, bob := newWallet(t, 1), newWallet(t, 2)
	net.Mint(alice.addr, 9, 100)

	tests := []struct {
		name   string
		mutate func(*types.Transaction)
	}{
		{"other network", func(txn *types.Transaction) { txn.GenesisID = "mainnet-v1.0" }},
		{"other genesis hash", func(txn *types.Transaction) { txn.GenesisHash[0] ^= 0xff }},
		{"expired", func(txn *types.Transaction) { txn.FirstValid, txn.LastValid = 0, 0 }},
		{"not yet valid", func(txn *types.Transaction) { txn.FirstValid += 10 }},
		{"payment", func(txn *types.Transaction) { txn.Type = types.PaymentTx }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := alice.build(t, net, bob.addr, 1, tt.name)
			tt.mutate(&txn)
			if _, err := c.Submit(ctx, alice.sign(t, txn)); !errors.Is(err, ledger.ErrRejected) {
				t.Fatalf("expected ErrRejected, got %v", err)
			}
		})
	}
	if got, _ := c.Balance(ctx, alice.addr, 9); got != 100 {
		t.Fatalf("rejected transfers moved funds, balance %d", got)
	}
}

func TestHoldReleaseAndDrop(t *testing.T) {
	ctx := context.Background()
	net := NewNetwork()
	c := NewClient(net)
	alice, bob := newWallet(t, 1), newWallet(t, 2)
	net.Mint(alice.addr, 9, 100)

	net.HoldConfirmations(true)
	st := alice.pay(t, net, bob.addr, 30, "h1")
	if _, err := c.Submit(ctx, st); !errors.Is(err, ledger.ErrUnconfirmed) {
		t.Fatalf("expected ErrUnconfirmed, got %v", err)
	}
	if got, _ := c.Balance(ctx, alice.addr, 9); got != 100 {
		t.Fatalf("held transfer must not move funds yet, balance %d", got)
	}
	ids := net.Release()
	if len(ids) != 1 || ids[0] != st.ID() {
		t.Fatalf("unexpected released ids %v", ids)
	}
	if got, _ := c.Balance(ctx, alice.addr, 9); got != 70 {
		t.Fatalf("balance after release = %d, want 70", got)
	}

	if _, err := c.Submit(ctx, alice.pay(t, net, bob.addr, 5, "h2")); !errors.Is(err, ledger.ErrUnconfirmed) {
		t.Fatalf("expected ErrUnconfirmed, got %v", err)
	}
	if n := net.Drop(); n != 1 {
		t.Fatalf("expected one dropped transfer, got %d", n)
	}
	if got, _ := c.Balance(ctx, alice.addr, 9); got != 70 {
		t.Fatalf("dropped transfer must not move funds, balance %d", got)
	}
}

func TestUnavailable(t *testing.T) {
	ctx := context.Background()
	net := NewNetwork()
	c := NewClient(net)
	alice := newWallet(t, 1)
	st := alice.pay(t, net, alice.addr, 1, "u")
	net.SetUnavailable(true)

	if _, err := c.Params(ctx); !errors.Is(err, ledger.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := c.Balance(ctx, alice.addr, 9); !errors.Is(err, ledger.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := c.Submit(ctx, st); !errors.Is(err, ledger.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	for _, err := range c.HistoryFrom(ctx, alice.addr, 9) {
		if !errors.Is(err, ledger.ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable from history, got %v", err)
		}
	}
}

func TestHistoryFromPagesInOrder(t *testing.T) {
	ctx := context.Background()
	net := NewNetwork()
	net.SetPageSize(2)
	c := NewClient(net)
	alice, bob := newWallet(t, 1), newWallet(t, 2)
	net.Mint(alice.addr, 9, 100)
	net.Mint(bob.addr, 9, 100)

	leases := []string{"1", "2", "3", "4", "5"}
	for _, l := range leases {
		if _, err := c.Submit(ctx, alice.pay(t, net, bob.addr, 1, l)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if _, err := c.Submit(ctx, bob.pay(t, net, alice.addr, 1, l)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	var rounds []uint64
	for raw, err := range c.HistoryFrom(ctx, alice.addr, 9) {
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if raw.Sender != alice.addr {
			t.Fatalf("history leaked a transfer from %s", raw.Sender)
		}
		rounds = append(rounds, raw.Round)
	}
	if len(rounds) != len(leases) {
		t.Fatalf("expected %d entries, got %d", len(leases), len(rounds))
	}
	for i := 1; i < len(rounds); i++ {
		if rounds[i] <= rounds[i-1] {
			t.Fatalf("history out of order: %v", rounds)
		}
	}

	// Stopping early and restarting yields the same prefix.
	var first uint64
	for raw := range c.HistoryFrom(ctx, alice.addr, 9) {
		first = raw.Round
		break
	}
	if first != rounds[0] {
		t.Fatalf("restart yielded %d, want %d", first, rounds[0])
	}
}

func TestInject(t *testing.T) {
	net := NewNetwork()
	raw := net.Inject(ledger.RawTransfer{Sender: "S", Receiver: "R", AssetID: 9, Amount: 0})
	if raw.TransferID == "" || raw.Round == 0 || raw.ConfirmedAt.IsZero() {
		t.Fatalf("inject did not fill in ledger fields: %+v", raw)
	}
	var n int
	for _, err := range NewClient(net).HistoryFrom(context.Background(), "S", 9) {
		if err != nil {
			t.Fatal(err)
		}
		n++
	}
	if n != 1 {
		t.Fatalf("expected injected transfer in history, got %d", n)
	}
}
