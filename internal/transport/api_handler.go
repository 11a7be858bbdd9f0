package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/chain"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/config"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/ledger"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/registry"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/storage"
	"github.com/goodnatureofminers/blockinsight7000-bridge/pkg/safe"
)

// APIPrefix is the path every REST route is mounted under.
const APIPrefix = "/api/v1"

const (
	defaultBlocksLimit = 20
	defaultUTXOsLimit  = 100
	maxPageLimit       = 100
	maxDeltaBlocks     = 1000
)

// APIHandler serves stored blocks and chain state over REST.
type APIHandler struct {
	networks Networks
	logger   *zap.Logger
}

// NewAPIHandler returns an APIHandler instance.
func NewAPIHandler(networks Networks, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		networks: networks,
		logger:   logger,
	}
}

// Router returns the routes mounted under APIPrefix.
func (h *APIHandler) Router() *mux.Router {
	router := mux.NewRouter()
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	routes := []struct {
		path    string
		handler networkHandlerFunc
	}{
		{"/status", h.status},
		{"/height", h.height},
		{"/genesis", h.genesis},
		{"/block/{hash}", h.block},
		{"/block-by-height/{height}", h.blockByHeight},
		{"/blocks", h.blocks},
		{"/tx/{txid}", h.tx},
		{"/chain-state", h.chainState},
		{"/chain-state-delta", h.chainStateDelta},
		{"/utxos", h.utxos},
		{"/utxos-delta", h.utxosDelta},
		{"/utxos/{txid}/{vout}", h.utxo},
	}
	for _, route := range routes {
		router.HandleFunc(APIPrefix+"/{network}"+route.path, h.network(route.handler)).Methods(http.MethodGet)
	}
	return router
}

type networkHandlerFunc func(w http.ResponseWriter, r *http.Request, n *registry.Network)

func (h *APIHandler) network(next networkHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["network"]
		if !config.ValidName(name) {
			writeError(w, http.StatusBadRequest, "invalid network name")
			return
		}
		n, ok := h.networks.Get(name)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown network %q", name))
			return
		}
		next(w, r, n)
	}
}

type (
	tipResponse struct {
		Height uint64     `json:"height"`
		Hash   string     `json:"hash"`
		Time   *time.Time `json:"time,omitempty"`
	}
	cacheStatusResponse struct {
		Height  uint64 `json:"height"`
		Hash    string `json:"hash"`
		Version uint64 `json:"version"`
		Updates uint64 `json:"updates"`
	}
	statusResponse struct {
		Network string              `json:"network"`
		Local   tipResponse         `json:"local"`
		Cache   cacheStatusResponse `json:"cache"`
	}
)

func (h *APIHandler) status(w http.ResponseWriter, _ *http.Request, n *registry.Network) {
	resp := statusResponse{Network: n.Name}

	head, err := n.Store.HeadBlock()
	switch {
	case errors.Is(err, storage.ErrNoSuchTag):
	case err != nil:
		h.internalError(w, n, "read head block", err)
		return
	default:
		ts := head.Timestamp()
		resp.Local = tipResponse{Height: head.Height, Hash: head.Hash().String(), Time: &ts}
	}

	if state := n.Cache.Read(); state != nil {
		resp.Cache = cacheStatusResponse{Height: state.Height, Hash: state.LastBlock.String()}
	}
	resp.Cache.Version = n.Cache.Version()
	resp.Cache.Updates = n.Cache.Updates()
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) height(w http.ResponseWriter, _ *http.Request, n *registry.Network) {
	tip, err := n.Store.HeadTip()
	if err != nil && !errors.Is(err, storage.ErrNoSuchTag) {
		h.internalError(w, n, "read head", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"height": tip.Height})
}

func (h *APIHandler) genesis(w http.ResponseWriter, _ *http.Request, n *registry.Network) {
	writeJSON(w, http.StatusOK, map[string]string{
		"network": n.Name,
		"chain":   n.Params.Name,
		"hash":    n.Params.GenesisHash.String(),
	})
}

type blockResponse struct {
	Hash       string    `json:"hash"`
	Height     uint64    `json:"height"`
	PrevHash   string    `json:"prev_hash"`
	MerkleRoot string    `json:"merkle_root"`
	Time       time.Time `json:"time"`
	Version    int32     `json:"version"`
	Bits       uint32    `json:"bits"`
	Nonce      uint32    `json:"nonce"`
	TxCount    int       `json:"tx_count"`
	Txids      []string  `json:"txids,omitempty"`
}

func newBlockResponse(blk *chain.Block, withTxids bool) blockResponse {
	header := blk.MsgBlock.Header
	resp := blockResponse{
		Hash:       blk.Hash().String(),
		Height:     blk.Height,
		PrevHash:   header.PrevBlock.String(),
		MerkleRoot: header.MerkleRoot.String(),
		Time:       header.Timestamp.UTC(),
		Version:    header.Version,
		Bits:       header.Bits,
		Nonce:      header.Nonce,
		TxCount:    len(blk.MsgBlock.Transactions),
	}
	if withTxids {
		resp.Txids = make([]string, 0, len(blk.MsgBlock.Transactions))
		for _, tx := range blk.MsgBlock.Transactions {
			resp.Txids = append(resp.Txids, tx.TxHash().String())
		}
	}
	return resp
}

func (h *APIHandler) block(w http.ResponseWriter, r *http.Request, n *registry.Network) {
	hash, err := chainhash.NewHashFromStr(mux.Vars(r)["hash"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid block hash")
		return
	}
	blk, err := n.Store.ReadBlock(*hash)
	if errors.Is(err, storage.ErrHashNotFound) {
		writeError(w, http.StatusNotFound, "block not found")
		return
	}
	if err != nil {
		h.internalError(w, n, "read block", err)
		return
	}
	writeJSON(w, http.StatusOK, newBlockResponse(blk, true))
}

func (h *APIHandler) blockByHeight(w http.ResponseWriter, r *http.Request, n *registry.Network) {
	height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid block height")
		return
	}
	blk, err := n.Store.BlockByHeight(height)
	if errors.Is(err, storage.ErrHeightNotFound) {
		writeError(w, http.StatusNotFound, "block not found")
		return
	}
	if err != nil {
		h.internalError(w, n, "read block by height", err)
		return
	}
	writeJSON(w, http.StatusOK, newBlockResponse(blk, true))
}

func (h *APIHandler) blocks(w http.ResponseWriter, r *http.Request, n *registry.Network) {
	from, err := queryUint(r, "from", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryLimit(r, defaultBlocksLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	blocks, err := n.Store.Blocks(from, limit)
	if err != nil {
		h.internalError(w, n, "list blocks", err)
		return
	}
	resp := make([]blockResponse, 0, len(blocks))
	for _, blk := range blocks {
		resp = append(resp, newBlockResponse(blk, false))
	}
	writeJSON(w, http.StatusOK, map[string][]blockResponse{"blocks": resp})
}

type (
	inputResponse struct {
		Txid string `json:"txid"`
		Vout uint32 `json:"vout"`
	}
	outputResponse struct {
		Vout        uint32   `json:"vout"`
		Value       int64    `json:"value"`
		ValueBTC    float64  `json:"value_btc"`
		ScriptClass string   `json:"script_class"`
		Addresses   []string `json:"addresses,omitempty"`
		Unspent     *bool    `json:"unspent,omitempty"`
	}
	txResponse struct {
		Txid      string           `json:"txid"`
		BlockHash string           `json:"block_hash"`
		Height    uint64           `json:"height"`
		Index     uint32           `json:"index"`
		Coinbase  bool             `json:"coinbase"`
		Inputs    []inputResponse  `json:"inputs"`
		Outputs   []outputResponse `json:"outputs"`
	}
)

func (h *APIHandler) tx(w http.ResponseWriter, r *http.Request, n *registry.Network) {
	txid, err := chainhash.NewHashFromStr(mux.Vars(r)["txid"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid txid")
		return
	}
	loc, err := n.Store.TxLocation(*txid)
	if errors.Is(err, storage.ErrTxNotFound) {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	if err != nil {
		h.internalError(w, n, "read tx location", err)
		return
	}
	blk, err := n.Store.ReadBlock(loc.BlockHash)
	if err != nil {
		h.internalError(w, n, "read tx block", err)
		return
	}
	if int(loc.Index) >= len(blk.MsgBlock.Transactions) {
		h.internalError(w, n, "read tx", fmt.Errorf("index %d out of range in block %s", loc.Index, loc.BlockHash))
		return
	}
	tx := blk.MsgBlock.Transactions[loc.Index]

	resp := txResponse{
		Txid:      txid.String(),
		BlockHash: loc.BlockHash.String(),
		Height:    loc.Height,
		Index:     loc.Index,
		Coinbase:  loc.Index == 0,
		Inputs:    make([]inputResponse, 0, len(tx.TxIn)),
		Outputs:   make([]outputResponse, 0, len(tx.TxOut)),
	}
	if !resp.Coinbase {
		for _, in := range tx.TxIn {
			resp.Inputs = append(resp.Inputs, inputResponse{
				Txid: in.PreviousOutPoint.Hash.String(),
				Vout: in.PreviousOutPoint.Index,
			})
		}
	}

	state, err := h.activeState(n)
	if err != nil {
		h.internalError(w, n, "check chain state", err)
		return
	}
	for i, out := range tx.TxOut {
		vout, err := safe.Uint32(i)
		if err != nil {
			h.internalError(w, n, "read tx outputs", err)
			return
		}
		o := newOutputResponse(vout, out.Value, out.PkScript, n)
		if state != nil && state.Height >= loc.Height {
			_, unspent := state.UTXO(wire.OutPoint{Hash: *txid, Index: vout})
			o.Unspent = &unspent
		}
		resp.Outputs = append(resp.Outputs, o)
	}
	writeJSON(w, http.StatusOK, resp)
}

// activeState returns the cached state if it sits on the stored active chain,
// so it covers every active block up to its height. Otherwise it returns nil.
func (h *APIHandler) activeState(n *registry.Network) (*ledger.State, error) {
	state := n.Cache.Read()
	if state == nil {
		return nil, nil
	}
	hash, err := n.Store.HashAtHeight(state.Height)
	if errors.Is(err, storage.ErrHeightNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if hash != state.LastBlock {
		return nil, nil
	}
	return state, nil
}

func newOutputResponse(vout uint32, value int64, pkScript []byte, n *registry.Network) outputResponse {
	return outputResponse{
		Vout:        vout,
		Value:       value,
		ValueBTC:    btcutil.Amount(value).ToBTC(),
		ScriptClass: chain.ScriptClass(pkScript),
		Addresses:   chain.DecodeAddresses(pkScript, n.Params),
	}
}

type chainStateResponse struct {
	Height    uint64    `json:"height"`
	Hash      string    `json:"hash"`
	Time      time.Time `json:"time"`
	UTXOCount int       `json:"utxo_count"`
	Supply    int64     `json:"supply"`
	SupplyBTC float64   `json:"supply_btc"`
	TxCount   uint64    `json:"tx_count"`
	Version   uint64    `json:"version"`
}

func (h *APIHandler) chainState(w http.ResponseWriter, _ *http.Request, n *registry.Network) {
	state, version := n.Cache.Load()
	if state == nil {
		writeError(w, http.StatusServiceUnavailable, "chain state not available yet")
		return
	}
	writeJSON(w, http.StatusOK, chainStateResponse{
		Height:    state.Height,
		Hash:      state.LastBlock.String(),
		Time:      state.Timestamp.UTC(),
		UTXOCount: state.UTXOCount(),
		Supply:    state.Supply,
		SupplyBTC: btcutil.Amount(state.Supply).ToBTC(),
		TxCount:   state.TxCount,
		Version:   version,
	})
}

type (
	utxoResponse struct {
		Txid     string `json:"txid"`
		Height   uint64 `json:"height"`
		Coinbase bool   `json:"coinbase"`
		outputResponse
	}
	utxosResponse struct {
		Height uint64         `json:"height"`
		Hash   string         `json:"hash"`
		Total  int            `json:"total"`
		Offset int            `json:"offset"`
		UTXOs  []utxoResponse `json:"utxos"`
	}
)

func newUTXOResponse(u ledger.UTXO, n *registry.Network) utxoResponse {
	return utxoResponse{
		Txid:           u.OutPoint.Hash.String(),
		Height:         u.Height,
		Coinbase:       u.Coinbase,
		outputResponse: newOutputResponse(u.OutPoint.Index, u.Value, u.PkScript, n),
	}
}

func (h *APIHandler) utxos(w http.ResponseWriter, r *http.Request, n *registry.Network) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryLimit(r, defaultUTXOsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state := n.Cache.Read()
	if state == nil {
		writeError(w, http.StatusServiceUnavailable, "chain state not available yet")
		return
	}

	resp := utxosResponse{
		Height: state.Height,
		Hash:   state.LastBlock.String(),
		Total:  state.UTXOCount(),
		Offset: min(offset, state.UTXOCount()),
		UTXOs:  []utxoResponse{},
	}
	for _, u := range state.UTXOs(resp.Offset, limit) {
		resp.UTXOs = append(resp.UTXOs, newUTXOResponse(u, n))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) utxo(w http.ResponseWriter, r *http.Request, n *registry.Network) {
	vars := mux.Vars(r)
	txid, err := chainhash.NewHashFromStr(vars["txid"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid txid")
		return
	}
	vout, err := strconv.ParseUint(vars["vout"], 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid output index")
		return
	}
	state := n.Cache.Read()
	if state == nil {
		writeError(w, http.StatusServiceUnavailable, "chain state not available yet")
		return
	}

	op := wire.OutPoint{Hash: *txid, Index: uint32(vout)}
	out, ok := state.UTXO(op)
	if !ok {
		writeError(w, http.StatusNotFound, "unspent output not found")
		return
	}
	writeJSON(w, http.StatusOK, newUTXOResponse(ledger.UTXO{OutPoint: op, Output: out}, n))
}

type (
	deltaRange struct {
		from     uint64
		fromHash chainhash.Hash
		state    *ledger.State
		version  uint64
		delta    ledger.Delta
	}
	utxosDeltaResponse struct {
		FromHeight uint64          `json:"from_height"`
		FromHash   string          `json:"from_hash"`
		Height     uint64          `json:"height"`
		Hash       string          `json:"hash"`
		Created    []utxoResponse  `json:"created"`
		Spent      []inputResponse `json:"spent"`
	}
	chainStateDeltaResponse struct {
		FromHeight      uint64    `json:"from_height"`
		FromHash        string    `json:"from_hash"`
		Height          uint64    `json:"height"`
		Hash            string    `json:"hash"`
		Time            time.Time `json:"time"`
		Blocks          int       `json:"blocks"`
		TxCount         uint64    `json:"tx_count"`
		UTXOsCreated    int       `json:"utxos_created"`
		UTXOsSpent      int       `json:"utxos_spent"`
		UTXOCount       int       `json:"utxo_count"`
		SupplyChange    int64     `json:"supply_change"`
		SupplyChangeBTC float64   `json:"supply_change_btc"`
		Supply          int64     `json:"supply"`
		Version         uint64    `json:"version"`
	}
)

const outOfSyncMsg = "chain state is out of sync with the stored chain"

// loadDelta resolves the from parameter against the cached state and collects
// the UTXO changes since that height. It writes the error response itself.
func (h *APIHandler) loadDelta(w http.ResponseWriter, r *http.Request, n *registry.Network) (deltaRange, bool) {
	if r.URL.Query().Get("from") == "" {
		writeError(w, http.StatusBadRequest, "missing from")
		return deltaRange{}, false
	}
	from, err := queryUint(r, "from", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return deltaRange{}, false
	}
	state, version := n.Cache.Load()
	if state == nil {
		writeError(w, http.StatusServiceUnavailable, "chain state not available yet")
		return deltaRange{}, false
	}
	if from > state.Height {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("from %d is above the chain state height %d", from, state.Height))
		return deltaRange{}, false
	}
	if state.Height-from > maxDeltaBlocks {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("range exceeds %d blocks", maxDeltaBlocks))
		return deltaRange{}, false
	}

	base, err := n.Store.HashAtHeight(from)
	if errors.Is(err, storage.ErrHeightNotFound) {
		writeError(w, http.StatusServiceUnavailable, outOfSyncMsg)
		return deltaRange{}, false
	}
	if err != nil {
		h.internalError(w, n, "read delta base", err)
		return deltaRange{}, false
	}
	blocks, err := n.Store.Blocks(from+1, int(state.Height-from))
	if err != nil {
		h.internalError(w, n, "read delta blocks", err)
		return deltaRange{}, false
	}
	delta, err := ledger.Changes(state, base, blocks)
	if errors.Is(err, ledger.ErrDetachedRange) {
		writeError(w, http.StatusServiceUnavailable, outOfSyncMsg)
		return deltaRange{}, false
	}
	if err != nil {
		h.internalError(w, n, "compute delta", err)
		return deltaRange{}, false
	}
	return deltaRange{from: from, fromHash: base, state: state, version: version, delta: delta}, true
}

func (h *APIHandler) utxosDelta(w http.ResponseWriter, r *http.Request, n *registry.Network) {
	d, ok := h.loadDelta(w, r, n)
	if !ok {
		return
	}

	resp := utxosDeltaResponse{
		FromHeight: d.from,
		FromHash:   d.fromHash.String(),
		Height:     d.state.Height,
		Hash:       d.state.LastBlock.String(),
		Created:    make([]utxoResponse, 0, len(d.delta.Created)),
		Spent:      make([]inputResponse, 0, len(d.delta.Spent)),
	}
	for _, u := range d.delta.Created {
		resp.Created = append(resp.Created, newUTXOResponse(u, n))
	}
	for _, op := range d.delta.Spent {
		resp.Spent = append(resp.Spent, inputResponse{Txid: op.Hash.String(), Vout: op.Index})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) chainStateDelta(w http.ResponseWriter, r *http.Request, n *registry.Network) {
	d, ok := h.loadDelta(w, r, n)
	if !ok {
		return
	}

	change := d.delta.CreatedValue()
	for _, op := range d.delta.Spent {
		value, err := spentValue(n, op)
		if errors.Is(err, storage.ErrTxNotFound) {
			writeError(w, http.StatusServiceUnavailable, outOfSyncMsg)
			return
		}
		if err != nil {
			h.internalError(w, n, "read spent output", err)
			return
		}
		change -= value
	}

	writeJSON(w, http.StatusOK, chainStateDeltaResponse{
		FromHeight:      d.from,
		FromHash:        d.fromHash.String(),
		Height:          d.state.Height,
		Hash:            d.state.LastBlock.String(),
		Time:            d.state.Timestamp.UTC(),
		Blocks:          d.delta.Blocks,
		TxCount:         d.delta.TxCount,
		UTXOsCreated:    len(d.delta.Created),
		UTXOsSpent:      len(d.delta.Spent),
		UTXOCount:       d.state.UTXOCount(),
		SupplyChange:    change,
		SupplyChangeBTC: btcutil.Amount(change).ToBTC(),
		Supply:          d.state.Supply,
		Version:         d.version,
	})
}

// spentValue reads the value of an output from the block that created it.
func spentValue(n *registry.Network, op wire.OutPoint) (int64, error) {
	loc, err := n.Store.TxLocation(op.Hash)
	if err != nil {
		return 0, err
	}
	blk, err := n.Store.ReadBlock(loc.BlockHash)
	if err != nil {
		return 0, err
	}
	if int(loc.Index) >= len(blk.MsgBlock.Transactions) {
		return 0, fmt.Errorf("index %d out of range in block %s", loc.Index, loc.BlockHash)
	}
	outs := blk.MsgBlock.Transactions[loc.Index].TxOut
	if int(op.Index) >= len(outs) {
		return 0, fmt.Errorf("output %s out of range", op)
	}
	return outs[op.Index].Value, nil
}

func (h *APIHandler) internalError(w http.ResponseWriter, n *registry.Network, op string, err error) {
	h.logger.Error("api request failed", zap.String("network", n.Name), zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func queryUint(r *http.Request, key string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

// queryLimit reads the limit parameter, capped at maxPageLimit.
func queryLimit(r *http.Request, def int) (int, error) {
	v, err := queryInt(r, "limit", def)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, errors.New("invalid limit")
	}
	return min(v, maxPageLimit), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
