// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/proofchain/powchain/business/web/errs"
	"github.com/proofchain/powchain/foundation/blockchain/database"
	"github.com/proofchain/powchain/foundation/blockchain/manager"
	"github.com/proofchain/powchain/foundation/events"
	"github.com/proofchain/powchain/foundation/nameservice"
	"github.com/proofchain/powchain/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public node endpoints.
type Handlers struct {
	Log *zap.SugaredLogger
	Mgr *manager.Manager
	NS  *nameservice.NameService
	WS  websocket.Upgrader
	Evt *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evt.Acquire(v.TraceID)
	defer h.Evt.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}
			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitTransaction adds a new signed transaction to the mempool.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var signedTx database.SignedTx
	if err := web.Decode(r, &signedTx); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	blockTx := database.NewBlockTx(signedTx, 1, 21)

	h.Log.Infow("add tran", "traceid", v.TraceID, "tx", blockTx, "to", blockTx.ToID, "value", blockTx.Value, "tip", blockTx.Tip)

	if err := h.Mgr.SubmitTransaction(blockTx); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "transactions added to mempool",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions, optionally filtered
// down to those touching a single account.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	acct := web.Param(r, "account")

	pending := h.Mgr.Mempool().PickBest(-1)

	trans := make([]tx, 0, len(pending))
	for _, tran := range pending {
		from, _ := tran.FromAccount()

		if acct != "" && acct != string(from) && acct != string(tran.ToID) {
			continue
		}

		trans = append(trans, h.toTx(tran, from))
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}

// Accounts returns the current balances for all accounts, or a single
// account when one is given in the path.
func (h Handlers) Accounts(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	acctParam := web.Param(r, "account")

	var accts map[database.AccountID]database.Account

	switch acctParam {
	case "":
		accts = h.Mgr.Repository().CopyAccounts()

	default:
		acctID, err := database.ToAccountID(acctParam)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		accts = make(map[database.AccountID]database.Account)
		if act, exists := h.Mgr.Repository().AccountState(acctID); exists {
			accts[acctID] = act
		}
	}

	infos := make([]info, 0, len(accts))
	for acctID, act := range accts {
		infos = append(infos, info{
			Account: acctID,
			Name:    h.NS.Lookup(acctID),
			Balance: act.Balance,
			Nonce:   act.Nonce,
		})
	}

	ai := actInfo{
		LastestBlock: h.Mgr.Repository().BestBlock().Hash(),
		Uncommitted:  h.Mgr.Mempool().Count(),
		Accounts:     infos,
	}

	return web.Respond(ctx, w, ai, http.StatusOK)
}

// BlocksByAccount returns every block touching an account. An empty
// account path returns every block on the main chain.
func (h Handlers) BlocksByAccount(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	acctParam := web.Param(r, "account")

	repo := h.Mgr.Repository()
	height := repo.MaxKnownHeight()

	var acctFilter database.AccountID
	if acctParam != "" {
		var err error
		acctFilter, err = database.ToAccountID(acctParam)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
	}

	var blocks []block
	for num := uint64(1); num <= height; num++ {
		blk, exists := repo.BlockByNumber(num)
		if !exists {
			continue
		}

		if acctFilter != "" && !blockTouchesAccount(blk, acctFilter) {
			continue
		}

		blocks = append(blocks, h.toBlock(blk))
	}

	if len(blocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// Genesis returns the genesis configuration this node was started with.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Mgr.Chain(), http.StatusOK)
}

func blockTouchesAccount(blk database.Block, acct database.AccountID) bool {
	if blk.Header.BeneficiaryID == acct {
		return true
	}
	for _, tran := range blk.Trans.Values() {
		from, _ := tran.FromAccount()
		if from == acct || tran.ToID == acct {
			return true
		}
	}
	return false
}

func (h Handlers) toTx(tran database.BlockTx, from database.AccountID) tx {
	return tx{
		FromAccount: from,
		FromName:    h.NS.Lookup(from),
		To:          tran.ToID,
		ToName:      h.NS.Lookup(tran.ToID),
		Nonce:       tran.Nonce,
		Value:       tran.Value,
		Tip:         tran.Tip,
		Data:        tran.Data,
		TimeStamp:   tran.TimeStamp,
		GasPrice:    tran.GasPrice,
		GasUnits:    tran.GasUnits,
		Sig:         tran.SignatureString(),
	}
}

func (h Handlers) toBlock(blk database.Block) block {
	values := blk.Trans.Values()
	trans := make([]tx, 0, len(values))
	for _, tran := range values {
		from, _ := tran.FromAccount()
		trans = append(trans, h.toTx(tran, from))
	}

	return block{
		ParentHash:      blk.Header.ParentHash,
		BeneficiaryID:   blk.Header.BeneficiaryID,
		BeneficiaryName: h.NS.Lookup(blk.Header.BeneficiaryID),
		Difficulty:      blk.Header.Difficulty,
		Number:          blk.Header.Number,
		TotalDifficulty: blk.Header.TotalDifficulty,
		TimeStamp:       blk.Header.TimeStamp,
		Nonce:           blk.Header.Nonce,
		Transactions:    trans,
	}
}
