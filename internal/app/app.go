package app

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/cometbft/cometbft/crypto/tmhash"
	dbm "github.com/cosmos/cosmos-db"

	"globaltable/internal/codec"
	"globaltable/internal/table"
)

const (
	AppVersion uint64 = 1
	codespace         = "app"
)

var (
	heightKey  = []byte{0x10, 'h'}
	appHashKey = []byte{0x10, 'a'}
	seedPrefix = []byte{0x11}
)

func seedKey(view uint64) []byte {
	return append(append([]byte(nil), seedPrefix...), u64be(view)...)
}

// Router delivers instructions to the table engines.
type Router interface {
	Dispatch(ctx context.Context, signer codec.Player, key string, in codec.Instruction) (<-chan table.Result, error)
	View(ctx context.Context, g codec.GameType) (table.View, error)
}

// SeedPublisher receives one seed per committed block.
type SeedPublisher interface {
	Publish(view uint64, seed []byte) error
	Latest() uint64
}

// ProgressSink is told the consensus progress stamped on outbound envelopes.
type ProgressSink interface {
	SetProgress(codec.Progress)
}

type Options struct {
	// Admin, when set, is the only signer allowed to send Init.
	Admin *codec.Player
	// ResultWait bounds how long FinalizeBlock waits for bet verdicts; bets
	// still pending are reported as queued.
	ResultWait time.Duration
	// SeedRetain is how many committed block seeds are kept on disk and
	// republished on start, so a round committed to a past view can still
	// reveal after a restart.
	SeedRetain uint64
}

// GTableApp is the CometBFT application in front of the table engines. Blocks
// order instructions and supply the randomness beacon.
type GTableApp struct {
	*abci.BaseApplication

	db       dbm.DB
	router   Router
	seeds    SeedPublisher
	progress ProgressSink
	opts     Options
	logger   log.Logger

	mu       sync.Mutex
	height   int64
	lastHash []byte
	seedView uint64
	seed     []byte
}

func New(db dbm.DB, router Router, seeds SeedPublisher, progress ProgressSink, opts Options, logger log.Logger) (*GTableApp, error) {
	if opts.ResultWait <= 0 {
		opts.ResultWait = time.Second
	}
	if opts.SeedRetain == 0 {
		opts.SeedRetain = 1024
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	a := &GTableApp{
		BaseApplication: abci.NewBaseApplication(),
		db:              db,
		router:          router,
		seeds:           seeds,
		progress:        progress,
		opts:            opts,
		logger:          logger.With("module", "app"),
	}
	bz, err := db.Get(heightKey)
	if err != nil {
		return nil, err
	}
	if len(bz) == 8 {
		a.height = int64(binary.BigEndian.Uint64(bz))
	}
	if a.lastHash, err = db.Get(appHashKey); err != nil {
		return nil, err
	}
	if err := a.loadSeeds(); err != nil {
		return nil, err
	}
	return a, nil
}

// loadSeeds republishes the stored seeds newer than what the publisher has
// already seen.
func (a *GTableApp) loadSeeds() error {
	it, err := a.db.Iterator(seedKey(a.seeds.Latest()+1), []byte{seedPrefix[0] + 1})
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()

	n := 0
	for ; it.Valid(); it.Next() {
		k := it.Key()
		if len(k) != len(seedPrefix)+8 {
			return errorsmod.Wrapf(ErrCorruptState, "seed key %x", k)
		}
		view := binary.BigEndian.Uint64(k[len(seedPrefix):])
		if err := a.seeds.Publish(view, it.Value()); err != nil {
			return errorsmod.Wrapf(err, "restore seed for view %d", view)
		}
		n++
	}
	if err := it.Error(); err != nil {
		return err
	}
	if n > 0 {
		a.logger.Info("block seeds restored", "count", n, "latest", a.seeds.Latest())
	}
	return nil
}

func (a *GTableApp) Info(_ context.Context, _ *abci.InfoRequest) (*abci.InfoResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return &abci.InfoResponse{
		Data:             "gtable (v1)",
		Version:          "v1",
		AppVersion:       AppVersion,
		LastBlockHeight:  a.height,
		LastBlockAppHash: a.lastHash,
	}, nil
}

func (a *GTableApp) CheckTx(_ context.Context, req *abci.CheckTxRequest) (*abci.CheckTxResponse, error) {
	if _, _, err := decodeTx(req.Tx); err != nil {
		a.logger.Debug("tx discarded", "err", err)
		space, code, msg := errorsmod.ABCIInfo(err, false)
		return &abci.CheckTxResponse{Code: code, Codespace: space, Log: msg}, nil
	}
	return &abci.CheckTxResponse{Code: 0}, nil
}

// InitChain applies table configs found in genesis app state, given as
// concatenated Init instruction frames.
func (a *GTableApp) InitChain(ctx context.Context, req *abci.InitChainRequest) (*abci.InitChainResponse, error) {
	if len(req.AppStateBytes) == 0 {
		return &abci.InitChainResponse{}, nil
	}
	ins, err := codec.DecodeInstructionFrames(req.AppStateBytes)
	if err != nil {
		return nil, errorsmod.Wrap(err, "genesis app state")
	}
	for _, in := range ins {
		if _, ok := in.(codec.Init); !ok {
			return nil, errorsmod.Wrapf(table.ErrInvalidConfig, "genesis carries %s", in.Tag())
		}
		ch, err := a.router.Dispatch(ctx, codec.Player{}, "genesis", in)
		if err != nil {
			return nil, err
		}
		if res := <-ch; !res.Accepted {
			return nil, errorsmod.Wrapf(res.Err, "genesis %s", in.Game())
		}
	}
	return &abci.InitChainResponse{}, nil
}

func (a *GTableApp) FinalizeBlock(ctx context.Context, req *abci.FinalizeBlockRequest) (*abci.FinalizeBlockResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	view := uint64(req.Height)
	seed := blockSeed(req)
	if err := a.seeds.Publish(view, seed); err != nil {
		a.logger.Error("seed not published", "height", req.Height, "err", err)
	}
	a.seedView, a.seed = view, seed
	a.progress.SetProgress(codec.Progress{Height: view, View: view})

	pending := make([]*txRun, len(req.Txs))
	for i, tx := range req.Txs {
		pending[i] = a.deliverTx(ctx, tx)
	}
	deadline := time.NewTimer(a.opts.ResultWait)
	defer deadline.Stop()

	// Verdicts depend on engine timing (ResultWait), so only the block's
	// txs and their validation outcome go into the app hash.
	h := tmhash.New()
	_, _ = h.Write(a.lastHash)
	_, _ = h.Write(u64be(view))
	txResults := make([]*abci.ExecTxResult, 0, len(req.Txs))
	for i, run := range pending {
		txResults = append(txResults, run.wait(deadline.C))
		_, _ = h.Write(tmhash.Sum(req.Txs[i]))
		_, _ = h.Write(u64be(uint64(run.invalid)))
	}
	a.height = req.Height
	a.lastHash = h.Sum(nil)

	return &abci.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   a.lastHash,
	}, nil
}

// blockSeed is the beacon value for a block: its hash, or a digest of the
// height when the hash is absent.
func blockSeed(req *abci.FinalizeBlockRequest) []byte {
	if len(req.Hash) > 0 {
		return req.Hash
	}
	return tmhash.Sum(u64be(uint64(req.Height)))
}

func (a *GTableApp) Commit(_ context.Context, _ *abci.CommitRequest) (*abci.CommitResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	batch := a.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(heightKey, u64be(uint64(a.height))); err != nil {
		return nil, err
	}
	if len(a.lastHash) > 0 {
		if err := batch.Set(appHashKey, a.lastHash); err != nil {
			return nil, err
		}
	}
	if a.seed != nil {
		if err := batch.Set(seedKey(a.seedView), a.seed); err != nil {
			return nil, err
		}
		if a.seedView > a.opts.SeedRetain {
			if err := batch.Delete(seedKey(a.seedView - a.opts.SeedRetain)); err != nil {
				return nil, err
			}
		}
		a.seed = nil
	}
	// CometBFT expects Commit to not crash; return error so node halts loudly.
	if err := batch.WriteSync(); err != nil {
		return nil, err
	}
	return &abci.CommitResponse{}, nil
}

func (a *GTableApp) Query(ctx context.Context, req *abci.QueryRequest) (*abci.QueryResponse, error) {
	a.mu.Lock()
	height := a.height
	a.mu.Unlock()

	// Paths:
	// - /round/<game>
	// - /health/<game>
	path := strings.TrimSpace(req.Path)
	switch {
	case strings.HasPrefix(path, "/round/"):
		v, resp := a.view(ctx, strings.TrimPrefix(path, "/round/"), height)
		if resp != nil {
			return resp, nil
		}
		bz, err := codec.EncodeRound(v.Round)
		if err != nil {
			return &abci.QueryResponse{Code: 1, Log: err.Error(), Height: height}, nil
		}
		return &abci.QueryResponse{Code: 0, Value: bz, Height: height}, nil
	case strings.HasPrefix(path, "/health/"):
		v, resp := a.view(ctx, strings.TrimPrefix(path, "/health/"), height)
		if resp != nil {
			return resp, nil
		}
		flag := []byte{0}
		if v.Paused {
			flag[0] = 1
		}
		return &abci.QueryResponse{Code: 0, Value: flag, Log: v.Reason, Height: height}, nil
	default:
		return &abci.QueryResponse{Code: 1, Log: "unknown query path", Height: height}, nil
	}
}

func (a *GTableApp) view(ctx context.Context, name string, height int64) (table.View, *abci.QueryResponse) {
	g, err := codec.ParseGameType(name)
	if err != nil {
		return table.View{}, &abci.QueryResponse{Code: 1, Log: "invalid game", Height: height}
	}
	v, err := a.router.View(ctx, g)
	if err != nil {
		space, code, msg := errorsmod.ABCIInfo(err, false)
		return table.View{}, &abci.QueryResponse{Code: code, Codespace: space, Log: msg, Height: height}
	}
	return v, nil
}

// txRun tracks the instructions of one transaction until their verdicts are
// known.
type txRun struct {
	failed  *abci.ExecTxResult
	// invalid is the code of a decode, signature or permission failure; those
	// are decided by the tx bytes alone.
	invalid uint32
	signer  codec.Player
	key     string
	ins     []codec.Instruction
	replies []<-chan table.Result
}

func (a *GTableApp) deliverTx(ctx context.Context, tx []byte) *txRun {
	signer, ins, err := decodeTx(tx)
	if err == nil {
		err = a.authorize(signer, ins)
	}
	if err != nil {
		a.logger.Debug("tx discarded", "err", err)
		res := errResult(err)
		return &txRun{failed: res, invalid: res.Code}
	}
	run := &txRun{signer: signer, key: hex.EncodeToString(tmhash.Sum(tx)), ins: ins}
	for i, in := range ins {
		key := run.key
		if len(ins) > 1 {
			key += "/" + strconv.Itoa(i)
		}
		ch, err := a.router.Dispatch(ctx, signer, key, in)
		if err != nil {
			run.failed = errResult(err)
			return run
		}
		run.replies = append(run.replies, ch)
	}
	return run
}

// authorize checks every instruction of a tx before any is dispatched, so a
// tx is applied whole or not at all as far as permissions go.
func (a *GTableApp) authorize(signer codec.Player, ins []codec.Instruction) error {
	if a.opts.Admin == nil || signer == *a.opts.Admin {
		return nil
	}
	for _, in := range ins {
		if _, ok := in.(codec.Init); ok {
			return errorsmod.Wrapf(ErrNotAdmin, "signer %s", signer)
		}
	}
	return nil
}

func (r *txRun) wait(deadline <-chan time.Time) *abci.ExecTxResult {
	if r.failed != nil && len(r.replies) == 0 {
		return r.failed
	}
	out := &abci.ExecTxResult{}
	for i, ch := range r.replies {
		in := r.ins[i]
		select {
		case res := <-ch:
			out.Events = append(out.Events, verdictEvent(r.signer, in, res))
			if !res.Accepted && out.Code == 0 {
				out.Codespace, out.Code, out.Log = errorsmod.ABCIInfo(res.Err, false)
			}
		case <-deadline:
			out.Events = append(out.Events, instructionEvent("BetQueued", r.signer, in, nil))
		}
	}
	if r.failed != nil && out.Code == 0 {
		out.Code, out.Codespace, out.Log = r.failed.Code, r.failed.Codespace, r.failed.Log
	}
	return out
}

func verdictEvent(signer codec.Player, in codec.Instruction, res table.Result) abci.Event {
	if _, ok := in.(codec.SubmitBets); ok {
		if res.Accepted {
			return instructionEvent("BetAccepted", signer, in, map[string]string{
				"chips": strconv.FormatUint(res.Balance.Chips, 10),
			})
		}
		return instructionEvent("BetRejected", signer, in, map[string]string{
			"code":   res.Code.String(),
			"reason": res.Message,
		})
	}
	if res.Accepted {
		return instructionEvent("InstructionApplied", signer, in, nil)
	}
	return instructionEvent("InstructionFailed", signer, in, map[string]string{"reason": res.Message})
}

func instructionEvent(typ string, signer codec.Player, in codec.Instruction, extra map[string]string) abci.Event {
	attrs := map[string]string{
		"game":        in.Game().String(),
		"instruction": in.Tag().String(),
		"signer":      signer.String(),
	}
	if sb, ok := in.(codec.SubmitBets); ok {
		attrs["roundId"] = strconv.FormatUint(sb.RoundID, 10)
	}
	if rs, ok := in.(codec.RoundStep); ok {
		attrs["roundId"] = strconv.FormatUint(rs.RoundID, 10)
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return newEvent(typ, attrs)
}

func newEvent(typ string, attrs map[string]string) abci.Event {
	ev := abci.Event{Type: typ}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: k, Value: attrs[k], Index: true})
	}
	return ev
}

func errResult(err error) *abci.ExecTxResult {
	space, code, msg := errorsmod.ABCIInfo(err, false)
	return &abci.ExecTxResult{Code: code, Codespace: space, Log: msg}
}

func u64be(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
