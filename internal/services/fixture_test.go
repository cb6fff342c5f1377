package services

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"campuschain/internal/core"
	"campuschain/internal/ledger"
	"campuschain/internal/ledger/memory"
	"campuschain/internal/storage"
	"campuschain/internal/vault"

	"github.com/google/uuid"
)

const testAsset uint64 = 7

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

var testMonth = core.MonthOf(testNow)

type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *recordingNotifier) PublishTransferPending(ctx context.Context, transferID, spenderID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, transferID)
	return nil
}

func (n *recordingNotifier) published() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ids...)
}

type testEnv struct {
	t        *testing.T
	ctx      context.Context
	repo     *storage.SQLiteRepository
	vault    *vault.Vault
	net      *memory.Network
	ledger   *memory.Client
	notifier *recordingNotifier

	registration *RegistrationService
	executor     *TransferExecutor
	reconciler   *Reconciler
	gate         *PrivacyGate
	funding      *FundingService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "campus.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	v, err := vault.New(repo, bytes.Repeat([]byte{1}, 32))
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}

	net := memory.NewNetwork()
	net.SetClock(func() time.Time { return testNow })
	client := memory.NewClient(net)
	notifier := &recordingNotifier{}

	env := &testEnv{
		t:        t,
		ctx:      context.Background(),
		repo:     repo,
		vault:    v,
		net:      net,
		ledger:   client,
		notifier: notifier,
	}
	env.registration = NewRegistrationService(repo, v)
	env.executor = env.newExecutor(client)
	env.reconciler = NewReconciler(repo, client, ReconcilerConfig{
		Interval:      time.Hour,
		Concurrency:   2,
		PendingExpiry: time.Hour,
		AssetID:       testAsset,
		TreasuryID:    "treasury",
	})
	env.gate = NewPrivacyGate(repo, client, testAsset)
	env.funding = NewFundingService(repo, v, client, "treasury", testAsset)
	return env
}

func (e *testEnv) newExecutor(client ledger.Client) *TransferExecutor {
	return NewTransferExecutor(ExecutorDeps{
		Principals: e.repo,
		Merchants:  NewMerchantDirectory(e.repo, 16, time.Minute),
		Transfers:  e.repo,
		Signer:     e.vault,
		Ledger:     client,
		Aggregator: NewSyncAggregator(e.repo),
		Notifier:   e.notifier,
		AssetID:    testAsset,
	})
}

func (e *testEnv) spender(id string, balance int64) core.Principal {
	e.t.Helper()
	p, err := e.registration.Register(e.ctx, core.Principal{ID: id, Role: core.RoleSpender, DisplayName: id})
	if err != nil {
		e.t.Fatalf("register spender %s: %v", id, err)
	}
	if balance > 0 {
		e.net.Mint(p.Address, testAsset, balance)
	}
	return p
}

func (e *testEnv) merchant(id string, category core.Category) core.Merchant {
	e.t.Helper()
	m, err := e.registration.RegisterMerchant(e.ctx, id, "Shop "+id, category)
	if err != nil {
		e.t.Fatalf("register merchant %s: %v", id, err)
	}
	return m
}

func (e *testEnv) guardian(id string, spenderIDs ...string) {
	e.t.Helper()
	if _, err := e.registration.Register(e.ctx, core.Principal{ID: id, Role: core.RoleGuardian}); err != nil {
		e.t.Fatalf("register guardian %s: %v", id, err)
	}
	for _, s := range spenderIDs {
		if err := e.registration.LinkGuardian(e.ctx, id, s); err != nil {
			e.t.Fatalf("link %s to %s: %v", id, s, err)
		}
	}
}

func (e *testEnv) spend(spenderID, merchantID string, amount int64, category core.Category) (*core.Transfer, error) {
	return e.executor.Execute(e.ctx, SpendRequest{
		SpenderID:  spenderID,
		MerchantID: merchantID,
		Amount:     core.Money{Units: amount},
		Category:   category,
	})
}

// direct signs and submits a transfer without going through the executor,
// as another wallet holding the same key would.
func (e *testEnv) direct(from core.Principal, to string, amount int64, note []byte) ledger.Confirmation {
	e.t.Helper()
	tr := ledger.Transfer{Sender: from.Address, Receiver: to, AssetID: testAsset, Amount: amount, Note: note, Lease: uuid.NewString()}
	signed, err := signTransfer(e.ctx, e.ledger, e.vault, from.ID, tr)
	if err != nil {
		e.t.Fatalf("sign: %v", err)
	}
	conf, err := e.ledger.Submit(e.ctx, signed)
	if err != nil {
		e.t.Fatalf("submit: %v", err)
	}
	return conf
}

func (e *testEnv) aggregate(callerID, spenderID string) core.AggregateView {
	e.t.Helper()
	view, err := e.gate.ReadAggregate(e.ctx, callerID, spenderID, testMonth)
	if err != nil {
		e.t.Fatalf("ReadAggregate: %v", err)
	}
	return view
}

// assertInvariant checks that category totals and confirmed detail rows agree.
func (e *testEnv) assertInvariant(spenderID string) {
	e.t.Helper()
	totals, err := e.repo.CategoryTotals(e.ctx, spenderID, testMonth)
	if err != nil {
		e.t.Fatalf("CategoryTotals: %v", err)
	}
	var sum int64
	for _, ct := range totals {
		sum += ct.Amount.Units
	}
	detail, err := e.repo.SumConfirmed(e.ctx, spenderID, testMonth)
	if err != nil {
		e.t.Fatalf("SumConfirmed: %v", err)
	}
	if sum != detail {
		e.t.Fatalf("category totals %d != confirmed detail %d for %s", sum, detail, spenderID)
	}
}
