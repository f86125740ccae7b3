package wallet

import (
	"encoding/base64"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/rs/zerolog"
)

// ChainView is the slice of the ledger engine the watcher reads. Both
// methods only ever see committed main-chain state.
type ChainView interface {
	Tip() (*block.Block, error)
	GetBlockByHeight(h uint64) (*block.Block, error)
}

// watchedOutput is one output owned by a watched key, as digested from the
// main chain. Heights let the watcher rewind without refetching reversed
// blocks: a reorg past creation deletes the entry, a reorg past the spend
// un-spends it.
type watchedOutput struct {
	value         uint64
	owner         string // base64 public key
	createdHeight uint64
	spent         bool
	spentHeight   uint64
}

// digestedBlock records a block the watcher has folded into its view.
type digestedBlock struct {
	height uint64
	id     types.Hash
}

// Watcher follows the committed tip, digesting each new block into a
// per-key view of owned outputs. On a height/id mismatch with its
// remembered tip it walks back to the fork point, rewinds its view
// transaction-by-transaction, and digests the new branch forward.
type Watcher struct {
	mu    sync.Mutex
	chain ChainView
	log   zerolog.Logger

	keys    map[string]struct{}
	outputs map[types.Hash]*watchedOutput
	blocks  []digestedBlock

	stop chan struct{}
	done chan struct{}
}

// NewWatcher builds a Watcher over view for the given public keys. More
// keys may be added later with Watch; added keys only see blocks digested
// afterwards, so add keys before the first Poll for a full view.
func NewWatcher(view ChainView, logger zerolog.Logger, pubKeys ...[]byte) *Watcher {
	w := &Watcher{
		chain:   view,
		log:     logger,
		keys:    make(map[string]struct{}),
		outputs: make(map[types.Hash]*watchedOutput),
	}
	for _, pk := range pubKeys {
		w.keys[base64.StdEncoding.EncodeToString(pk)] = struct{}{}
	}
	return w
}

// Watch adds a public key to the watched set.
func (w *Watcher) Watch(pubKey []byte) {
	w.mu.Lock()
	w.keys[base64.StdEncoding.EncodeToString(pubKey)] = struct{}{}
	w.mu.Unlock()
}

// Balance returns the confirmed balance of one watched key, as of the last
// Poll.
func (w *Watcher) Balance(pubKey []byte) Balance {
	owner := base64.StdEncoding.EncodeToString(pubKey)
	w.mu.Lock()
	defer w.mu.Unlock()

	var b Balance
	for _, out := range w.outputs {
		if out.owner == owner && !out.spent {
			b.Confirmed += out.value
		}
	}
	return b
}

// Height returns the height of the last digested block.
func (w *Watcher) Height() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.blocks) == 0 {
		return 0
	}
	return w.blocks[len(w.blocks)-1].height
}

// Poll reconciles the watcher's view with the current committed tip. On a
// matching tip it is a no-op; otherwise it rewinds past any reorged blocks
// and digests forward block-by-block.
func (w *Watcher) Poll() error {
	tip, err := w.chain.Tip()
	if err != nil {
		return err
	}
	tipID, err := tip.ID()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.blocks); n > 0 && w.blocks[n-1].id == tipID {
		return nil
	}

	forkIdx, err := w.findForkLocked()
	if err != nil {
		return err
	}
	if forkIdx < len(w.blocks) {
		w.rewindLocked(forkIdx)
	}

	from := uint64(1)
	if len(w.blocks) > 0 {
		from = w.blocks[len(w.blocks)-1].height + 1
	}
	for h := from; h <= tip.Height; h++ {
		blk, err := w.chain.GetBlockByHeight(h)
		if err != nil {
			return err
		}
		if err := w.digestLocked(blk); err != nil {
			return err
		}
	}
	return nil
}

// findForkLocked returns the index of the first digested block no longer
// on the main chain; len(w.blocks) means every digested block survived.
func (w *Watcher) findForkLocked() (int, error) {
	for i := len(w.blocks) - 1; i >= 0; i-- {
		blk, err := w.chain.GetBlockByHeight(w.blocks[i].height)
		if err != nil {
			continue // height shrank below this block; keep walking back
		}
		id, err := blk.ID()
		if err != nil {
			return 0, err
		}
		if id == w.blocks[i].id {
			return i + 1, nil
		}
	}
	return 0, nil
}

// rewindLocked drops every digested block at index forkIdx and above,
// deleting outputs created past the fork and un-spending outputs whose
// spend happened past it.
func (w *Watcher) rewindLocked(forkIdx int) {
	forkHeight := uint64(0)
	if forkIdx > 0 {
		forkHeight = w.blocks[forkIdx-1].height
	}
	w.log.Info().
		Uint64("fork_height", forkHeight).
		Int("blocks", len(w.blocks)-forkIdx).
		Msg("rewinding wallet view after reorg")

	for id, out := range w.outputs {
		if out.createdHeight > forkHeight {
			delete(w.outputs, id)
			continue
		}
		if out.spent && out.spentHeight > forkHeight {
			out.spent = false
			out.spentHeight = 0
		}
	}
	w.blocks = w.blocks[:forkIdx]
}

// digestLocked folds one main-chain block into the view.
func (w *Watcher) digestLocked(blk *block.Block) error {
	id, err := blk.ID()
	if err != nil {
		return err
	}

	for _, t := range blk.AllTransactions() {
		for _, in := range t.Inputs {
			if out, ok := w.outputs[in.OutputID]; ok && !out.spent {
				out.spent = true
				out.spentHeight = blk.Height
			}
		}
		for _, out := range t.Outputs {
			data, err := out.Decode()
			if err != nil {
				continue
			}
			owner := data.PublicKey
			if owner == "" {
				owner = data.SchnorrKey
			}
			if _, watched := w.keys[owner]; !watched {
				continue
			}
			outID, err := out.ID()
			if err != nil {
				return err
			}
			w.outputs[outID] = &watchedOutput{
				value:         out.Value,
				owner:         owner,
				createdHeight: blk.Height,
			}
		}
	}

	w.blocks = append(w.blocks, digestedBlock{height: blk.Height, id: id})
	return nil
}

// Start launches the polling loop on its own goroutine. Stop ends it.
func (w *Watcher) Start(interval time.Duration) {
	w.mu.Lock()
	if w.stop != nil {
		w.mu.Unlock()
		return
	}
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	stop, done := w.stop, w.done
	w.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := w.Poll(); err != nil {
					w.log.Warn().Err(err).Msg("wallet watcher poll")
				}
			}
		}
	}()
}

// Stop ends the polling loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	stop, done := w.stop, w.done
	w.stop, w.done = nil, nil
	w.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}
