// Package algod adapts the Algorand SDK clients to ledger.Client: algod for
// parameters, balances and submission, the indexer for history.
package algod

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"net"
	"time"

	"campuschain/internal/ledger"
	"campuschain/internal/log"

	sdkalgod "github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/indexer"
	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

// Config configures a Client. Zero values fall back to defaults.
type Config struct {
	AlgodURL      string
	AlgodToken    string
	IndexerURL    string
	IndexerToken  string
	Timeout       time.Duration
	ConfirmRounds int
	PageSize      int
}

type Client struct {
	cfg     Config
	algod   *sdkalgod.Client
	indexer *indexer.Client
	logger  *log.Logger
}

var _ ledger.Client = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ConfirmRounds <= 0 {
		cfg.ConfirmRounds = 4
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	ac, err := sdkalgod.MakeClient(cfg.AlgodURL, cfg.AlgodToken)
	if err != nil {
		return nil, fmt.Errorf("algod client: %w", err)
	}
	ic, err := indexer.MakeClient(cfg.IndexerURL, cfg.IndexerToken)
	if err != nil {
		return nil, fmt.Errorf("indexer client: %w", err)
	}
	return &Client{
		cfg:     cfg,
		algod:   ac,
		indexer: ic,
		logger:  log.WithComponent(log.ComponentLedger),
	}, nil
}

func (c *Client) Params(ctx context.Context) (types.SuggestedParams, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	params, err := c.algod.SuggestedParams().Do(ctx)
	if err != nil {
		return types.SuggestedParams{}, fmt.Errorf("%w: suggested params: %v", ledger.ErrUnavailable, err)
	}
	return params, nil
}

func (c *Client) Balance(ctx context.Context, address string, asset uint64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	resp, err := c.algod.AccountAssetInformation(address, asset).Do(ctx)
	if httpStatus(err) == 404 {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: balance: %v", ledger.ErrUnavailable, err)
	}
	return units(resp.AssetHolding.Amount)
}

// Submit sends st and waits up to ConfirmRounds rounds for it to confirm.
// Connection failures before the request was written are reported as
// unavailable; anything after that is indeterminate and reported as
// unconfirmed.
func (c *Client) Submit(ctx context.Context, st ledger.SignedTransfer) (ledger.Confirmation, error) {
	id := st.ID()

	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	txid, err := c.algod.SendRawTransaction(st.Encode()).Do(sendCtx)
	cancel()
	if err != nil {
		switch code := httpStatus(err); {
		case code >= 400 && code < 500:
			return ledger.Confirmation{}, fmt.Errorf("%w: %v", ledger.ErrRejected, err)
		case isDialError(err):
			return ledger.Confirmation{}, fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
		default:
			return ledger.Confirmation{}, fmt.Errorf("%w: submit: %v", ledger.ErrUnconfirmed, err)
		}
	}
	if txid != id {
		c.logger.WarnContext(ctx, "Node reported a different transfer id",
			log.FieldTransferID, id, "node_id", txid)
	}

	info, err := transaction.WaitForConfirmation(c.algod, id, uint64(c.cfg.ConfirmRounds), ctx)
	if err != nil {
		if info.PoolError != "" {
			return ledger.Confirmation{}, fmt.Errorf("%w: %s", ledger.ErrRejected, info.PoolError)
		}
		return ledger.Confirmation{}, fmt.Errorf("%w: %v", ledger.ErrUnconfirmed, err)
	}
	return ledger.Confirmation{
		TransferID:  id,
		Round:       info.ConfirmedRound,
		ConfirmedAt: c.roundTime(ctx, info.ConfirmedRound),
	}, nil
}

// roundTime reads the block timestamp of round. A node that has pruned the
// block or refuses the request yields the local clock instead.
func (c *Client) roundTime(ctx context.Context, round uint64) time.Time {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	block, err := c.algod.Block(round).Do(ctx)
	if err != nil || block.TimeStamp == 0 {
		c.logger.DebugContext(ctx, "Block timestamp unavailable",
			"round", round, log.FieldError, fmt.Sprint(err))
		return time.Now().UTC()
	}
	return time.Unix(block.TimeStamp, 0).UTC()
}

// HistoryFrom pages through the indexer. Each page is one bounded request.
func (c *Client) HistoryFrom(ctx context.Context, address string, asset uint64) iter.Seq2[ledger.RawTransfer, error] {
	return func(yield func(ledger.RawTransfer, error) bool) {
		next := ""
		for {
			page, err := c.historyPage(ctx, address, asset, next)
			if err != nil {
				yield(ledger.RawTransfer{}, fmt.Errorf("%w: history: %v", ledger.ErrUnavailable, err))
				return
			}
			for _, tx := range page.Transactions {
				raw, err := rawTransfer(tx)
				if !yield(raw, err) || err != nil {
					return
				}
			}
			if page.NextToken == "" || len(page.Transactions) == 0 {
				return
			}
			next = page.NextToken
		}
	}
}

func (c *Client) historyPage(ctx context.Context, address string, asset uint64, next string) (models.TransactionsResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	q := c.indexer.SearchForTransactions().
		AddressString(address).
		AddressRole("sender").
		AssetID(asset).
		TxType("axfer").
		Limit(uint64(c.cfg.PageSize))
	if next != "" {
		q = q.NextToken(next)
	}
	return q.Do(ctx)
}

func rawTransfer(tx models.Transaction) (ledger.RawTransfer, error) {
	amount, err := units(tx.AssetTransferTransaction.Amount)
	if err != nil {
		return ledger.RawTransfer{}, fmt.Errorf("transfer %s: %w", tx.Id, err)
	}
	return ledger.RawTransfer{
		TransferID:  tx.Id,
		Sender:      tx.Sender,
		Receiver:    tx.AssetTransferTransaction.Receiver,
		AssetID:     tx.AssetTransferTransaction.AssetId,
		Amount:      amount,
		Note:        tx.Note,
		Round:       tx.ConfirmedRound,
		ConfirmedAt: time.Unix(int64(tx.RoundTime), 0).UTC(),
	}, nil
}

func units(amount uint64) (int64, error) {
	if amount > math.MaxInt64 {
		return 0, fmt.Errorf("amount %d out of range", amount)
	}
	return int64(amount), nil
}

// httpStatus extracts the status code from an SDK error, which formats it as
// "HTTP <code>: <body>". It returns 0 for anything else.
func httpStatus(err error) int {
	if err == nil {
		return 0
	}
	var code int
	if _, scanErr := fmt.Sscanf(err.Error(), "HTTP %d", &code); scanErr != nil {
		return 0
	}
	return code
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
