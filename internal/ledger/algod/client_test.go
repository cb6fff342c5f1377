package algod

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"campuschain/internal/ledger"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

const (
	algodTokenHeader   = "X-Algo-API-Token"
	indexerTokenHeader = "X-Indexer-API-Token"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		AlgodURL:      srv.URL,
		AlgodToken:    "algod-token",
		IndexerURL:    srv.URL,
		IndexerToken:  "indexer-token",
		Timeout:       2 * time.Second,
		ConfirmRounds: 3,
		PageSize:      2,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

var genesisHash = make([]byte, 32)

func serveParams(w http.ResponseWriter) {
	fmt.Fprintf(w, `{"consensus-version":"future","fee":0,"genesis-hash":%q,"genesis-id":"testnet-v1.0","last-round":10,"min-fee":1000}`,
		base64.StdEncoding.EncodeToString(genesisHash))
}

// serveStatus answers the status calls made while waiting for confirmation.
// It reports true when it handled the request.
func serveStatus(w http.ResponseWriter, r *http.Request) bool {
	switch {
	case r.URL.Path == "/v2/status":
		fmt.Fprint(w, `{"last-round":10}`)
	case strings.HasPrefix(r.URL.Path, "/v2/status/wait-for-block-after/"):
		var round uint64
		fmt.Sscanf(strings.TrimPrefix(r.URL.Path, "/v2/status/wait-for-block-after/"), "%d", &round)
		fmt.Fprintf(w, `{"last-round":%d}`, round+1)
	default:
		return false
	}
	return true
}

func servePending(w http.ResponseWriter, info models.PendingTransactionInfoResponse) {
	w.Header().Set("Content-Type", "application/msgpack")
	w.Write(msgpack.Encode(info))
}

func sampleTransfer(t *testing.T) ledger.SignedTransfer {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 7
	priv := ed25519.NewKeyFromSeed(seed)
	sender, err := ledger.AddressFromPublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		t.Fatal(err)
	}
	params := types.SuggestedParams{
		GenesisID:       "testnet-v1.0",
		GenesisHash:     genesisHash,
		FirstRoundValid: 10,
		LastRoundValid:  1010,
		MinFee:          1000,
	}
	txn, err := ledger.Transfer{Sender: sender, Receiver: sender, AssetID: 7, Amount: 10, Note: ledger.CategoryNote("food"), Lease: "l"}.Build(params)
	if err != nil {
		t.Fatal(err)
	}
	st, err := ledger.Sign(txn, func(p []byte) ([]byte, error) { return ed25519.Sign(priv, p), nil })
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestParams(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(algodTokenHeader) != "algod-token" || r.URL.Path != "/v2/transactions/params" {
			http.Error(w, "unexpected request", http.StatusUnauthorized)
			return
		}
		serveParams(w)
	})
	params, err := c.Params(context.Background())
	if err != nil {
		t.Fatalf("Params: %v", err)
	}
	if params.GenesisID != "testnet-v1.0" || params.FirstRoundValid != 10 || params.MinFee != 1000 {
		t.Fatalf("unexpected params %+v", params)
	}

	down := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	if _, err := down.Params(context.Background()); !errors.Is(err, ledger.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(algodTokenHeader) != "algod-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/v2/accounts/HAS/assets/7":
			fmt.Fprint(w, `{"round":12,"asset-holding":{"amount":120,"asset-id":7,"is-frozen":false}}`)
		case "/v2/accounts/NONE/assets/7":
			http.Error(w, `{"message":"account asset info not found"}`, http.StatusNotFound)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	})

	ctx := context.Background()
	if got, err := c.Balance(ctx, "HAS", 7); err != nil || got != 120 {
		t.Fatalf("Balance(HAS) = %d, %v", got, err)
	}
	if got, err := c.Balance(ctx, "NONE", 7); err != nil || got != 0 {
		t.Fatalf("Balance(NONE) = %d, %v; want 0, nil", got, err)
	}
	if _, err := c.Balance(ctx, "BROKEN", 7); !errors.Is(err, ledger.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSubmitConfirms(t *testing.T) {
	st := sampleTransfer(t)
	var polls atomic.Int32
	var posted atomic.Value
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if serveStatus(w, r) {
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v2/transactions":
			if ct := r.Header.Get("Content-Type"); ct != "application/x-binary" {
				http.Error(w, "content type "+ct, http.StatusUnsupportedMediaType)
				return
			}
			body, _ := io.ReadAll(r.Body)
			var stxn types.SignedTxn
			if err := msgpack.Decode(body, &stxn); err != nil {
				http.Error(w, "msgpack decode: "+err.Error(), http.StatusBadRequest)
				return
			}
			posted.Store(stxn)
			json.NewEncoder(w).Encode(map[string]string{"txId": crypto.GetTxID(stxn.Txn)})
		case strings.HasPrefix(r.URL.Path, "/v2/transactions/pending/"):
			if polls.Add(1) < 2 {
				servePending(w, models.PendingTransactionInfoResponse{})
				return
			}
			servePending(w, models.PendingTransactionInfoResponse{ConfirmedRound: 12})
		default:
			http.NotFound(w, r)
		}
	})

	before := time.Now().UTC().Add(-time.Second)
	conf, err := c.Submit(context.Background(), st)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if conf.TransferID != st.ID() || conf.Round != 12 {
		t.Fatalf("unexpected confirmation %+v", conf)
	}
	if conf.ConfirmedAt.Before(before) {
		t.Fatalf("ConfirmedAt = %v, want the local clock when the block is missing", conf.ConfirmedAt)
	}
	got, ok := posted.Load().(types.SignedTxn)
	if !ok || got.Sig != st.Sig || got.Txn.AssetAmount != 10 || got.Txn.XferAsset != 7 {
		t.Fatalf("node received %+v", got)
	}
}

func TestSubmitOutcomes(t *testing.T) {
	accept := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"txId":"X"}`)
			return true
		}
		return serveStatus(w, r)
	}
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "rejected on submit",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"message":"TransactionPool.Remember: overspend"}`, http.StatusBadRequest)
			},
			want: ledger.ErrRejected,
		},
		{
			name: "pool error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if accept(w, r) {
					return
				}
				servePending(w, models.PendingTransactionInfoResponse{PoolError: "transaction already in ledger"})
			},
			want: ledger.ErrRejected,
		},
		{
			name: "never confirms",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if accept(w, r) {
					return
				}
				servePending(w, models.PendingTransactionInfoResponse{})
			},
			want: ledger.ErrUnconfirmed,
		},
		{
			name: "server error after send",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
			},
			want: ledger.ErrUnconfirmed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.Submit(context.Background(), sampleTransfer(t))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Submit error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubmitUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, err := New(Config{AlgodURL: addr, IndexerURL: addr, Timeout: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Submit(context.Background(), sampleTransfer(t)); !errors.Is(err, ledger.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for a refused connection, got %v", err)
	}
}

func TestHistoryFromFollowsNextToken(t *testing.T) {
	pages := map[string]string{
		"": `{"current-round":20,"transactions":[
			{"id":"T1","sender":"S","confirmed-round":5,"round-time":1767225600,"note":"eyJjYXQiOiJmb29kIn0=","tx-type":"axfer","fee":1000,"first-valid":1,"last-valid":2,
			 "asset-transfer-transaction":{"asset-id":7,"amount":40,"receiver":"R","close-amount":0}},
			{"id":"T2","sender":"S","confirmed-round":6,"round-time":1767225700,"tx-type":"axfer","fee":1000,"first-valid":1,"last-valid":2,
			 "asset-transfer-transaction":{"asset-id":7,"amount":0,"receiver":"S","close-amount":0}}],
			"next-token":"p2"}`,
		"p2": `{"current-round":20,"transactions":[
			{"id":"T3","sender":"S","confirmed-round":9,"round-time":1767225800,"tx-type":"axfer","fee":1000,"first-valid":1,"last-valid":2,
			 "asset-transfer-transaction":{"asset-id":7,"amount":5,"receiver":"R","close-amount":0}}],
			"next-token":""}`,
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.Header.Get(indexerTokenHeader) != "indexer-token" || q.Get("address-role") != "sender" ||
			q.Get("asset-id") != "7" || q.Get("tx-type") != "axfer" || q.Get("limit") != "2" {
			http.Error(w, "bad query "+r.URL.RawQuery, http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, pages[q.Get("next")])
	})

	var ids []string
	for raw, err := range c.HistoryFrom(context.Background(), "S", 7) {
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		ids = append(ids, raw.TransferID)
		if raw.TransferID == "T1" {
			if cat, ok := ledger.NoteCategory(raw.Note); !ok || cat != "food" {
				t.Fatalf("note not decoded: %q", raw.Note)
			}
			if raw.Amount != 40 || raw.Receiver != "R" || raw.Round != 5 || raw.AssetID != 7 {
				t.Fatalf("unexpected raw transfer %+v", raw)
			}
			if want := time.Unix(1767225600, 0).UTC(); !raw.ConfirmedAt.Equal(want) {
				t.Fatalf("ConfirmedAt = %v, want %v", raw.ConfirmedAt, want)
			}
		}
	}
	if strings.Join(ids, ",") != "T1,T2,T3" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestHistoryFromReportsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	var sawErr bool
	for _, err := range c.HistoryFrom(context.Background(), "S", 7) {
		if !errors.Is(err, ledger.ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
		sawErr = true
	}
	if !sawErr {
		t.Fatal("expected an error to be yielded")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("HTTP 404: not found"), 404},
		{errors.New("HTTP 400: overspend"), 400},
		{errors.New("dial tcp: connection refused"), 0},
	}
	for _, tt := range tests {
		if got := httpStatus(tt.err); got != tt.want {
			t.Errorf("httpStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
