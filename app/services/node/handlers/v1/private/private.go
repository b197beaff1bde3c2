// Package private maintains the group of handlers reserved for node to
// node access, not exposed to wallet clients.
package private

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/proofchain/powchain/business/web/errs"
	"github.com/proofchain/powchain/foundation/blockchain/database"
	"github.com/proofchain/powchain/foundation/blockchain/manager"
	"github.com/proofchain/powchain/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of private node endpoints.
type Handlers struct {
	Log *zap.SugaredLogger
	Mgr *manager.Manager
}

// Status returns the current STATUS payload of the node, the same
// information exchanged with peers over the wire protocol.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Mgr.Status(), http.StatusOK)
}

// BlocksByNumber returns all blocks on the main chain between the
// specified from/to heights, inclusive. "latest" resolves to the current
// best height.
func (h Handlers) BlocksByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	repo := h.Mgr.Repository()
	latest := repo.BestBlock().Header.Number

	fromStr := web.Param(r, "from")
	if fromStr == "latest" || fromStr == "" {
		fromStr = fmt.Sprintf("%d", latest)
	}

	toStr := web.Param(r, "to")
	if toStr == "latest" || toStr == "" {
		toStr = fmt.Sprintf("%d", latest)
	}

	from, err := strconv.ParseUint(fromStr, 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}
	to, err := strconv.ParseUint(toStr, 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if from > to {
		return errs.NewTrusted(errors.New("from greater than to"), http.StatusBadRequest)
	}

	var blockData []database.BlockData
	for num := from; num <= to; num++ {
		blk, exists := repo.BlockByNumber(num)
		if !exists {
			continue
		}
		blockData = append(blockData, database.NewBlockData(blk))
	}

	if len(blockData) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	return web.Respond(ctx, w, blockData, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions currently held by
// this node.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Mgr.Mempool().PickBest(-1), http.StatusOK)
}
