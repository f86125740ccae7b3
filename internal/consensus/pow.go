package consensus

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/bignum"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/rs/zerolog"
)

// PoW errors.
var (
	ErrInsufficientWork = errors.New("hash does not meet difficulty target")
	ErrNilConsensusData = errors.New("block has no consensus data")
)

// minDifficultyTarget is 2^236 - 1, the KGW floor target:
// the easiest target the network ever accepts, used for the first 144
// blocks of any chain and as the retargeting clamp thereafter.
var minDifficultyTarget = func() bignum.BigNum {
	v := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 236), big.NewInt(1))
	b, err := bignum.FromHex(v.Text(16))
	if err != nil {
		panic(err)
	}
	return b
}()

// maxUint256 is the ceiling every totalWork accrual is measured against:
// a block contributes (2^256 - 1 - target) work, so a lower target
// (harder block) contributes more.
var maxUint256 = bignum.MustFromHex(
	"ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")

// kgwPastBlocksMin/Max bound the KGW backward scan: retargeting kicks in
// every 12 blocks and never reads more than 4032 ancestors.
const (
	kgwPastBlocksMin = 12
	kgwMinHeight     = 144
)

var kgwPastBlocksMax uint64 = 4032

// HashFunc is the pluggable proof-of-work hash: a consensus-dependent
// function required to be uniform over the 256-bit space given random
// inputs. The reference default is double-SHA-256.
type HashFunc func(data []byte) types.Hash

// DoubleSHA256 is the KGW_SHA256 reference hash.
func DoubleSHA256(data []byte) types.Hash {
	return crypto.DoubleHash(data)
}

// BlockSource resolves a block by id, searching both the main chain and
// the candidate pool — KGW's backward scan must follow whatever branch
// the block being checked actually descends from, not just the committed
// chain. The ledger engine implements this over the same storage
// transaction validating the current block.
type BlockSource interface {
	BlockByID(txn *storage.WriteTxn, id types.Hash) (*block.Block, error)
}

// Data is the JSON shape of a PoW block's ConsensusData field.
type Data struct {
	Target    bignum.BigNum `json:"target"`
	TotalWork bignum.BigNum `json:"totalWork"`
	Nonce     uint64        `json:"nonce"`
}

// DecodeData parses a block's opaque ConsensusData into a PoW Data.
func DecodeData(raw json.RawMessage) (Data, error) {
	if len(raw) == 0 {
		return Data{}, ErrNilConsensusData
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return Data{}, fmt.Errorf("pow: decode consensus data: %w", err)
	}
	return d, nil
}

// PoW is the reference Kimoto-Gravity-Well proof-of-work consensus engine
// engine. TargetBlockTimeSeconds parameterizes the KGW rate
// target; PowHash is the pluggable mining hash (DoubleSHA256 by default).
type PoW struct {
	TargetBlockTimeSeconds int64
	PowHash                HashFunc
	Blocks                 BlockSource
	Log                    zerolog.Logger

	mining int32 // atomic: 1 while a MiningLoop is running
}

// NewPoW builds a PoW/KGW engine. blocks supplies ancestor lookups for
// the retargeting scan; powHash defaults to DoubleSHA256 if nil.
func NewPoW(targetBlockTimeSeconds int64, powHash HashFunc, blocks BlockSource, logger zerolog.Logger) *PoW {
	if powHash == nil {
		powHash = DoubleSHA256
	}
	if targetBlockTimeSeconds <= 0 {
		targetBlockTimeSeconds = 150
	}
	return &PoW{
		TargetBlockTimeSeconds: targetBlockTimeSeconds,
		PowHash:                powHash,
		Blocks:                 blocks,
		Log:                    logger,
	}
}

// calculateTarget implements KGW retargeting: below height
// 144, the minimum-difficulty target; at retargeting boundaries (every
// kgwPastBlocksMin blocks) an exponentially smoothed average of up to
// 4032 ancestor targets, scaled by the ratio of actual to target
// block-production rate, clamped to the minimum-difficulty floor; at
// every other height the previous block's target carries forward.
func (p *PoW) calculateTarget(txn *storage.WriteTxn, prev *block.Block, height uint64) (bignum.BigNum, error) {
	if height < kgwMinHeight || prev == nil {
		return minDifficultyTarget, nil
	}

	// Not at an adjustment boundary: carry forward the previous target.
	if height%kgwPastBlocksMin != 0 {
		d, err := DecodeData(prev.ConsensusData)
		if err != nil {
			return bignum.BigNum{}, fmt.Errorf("kgw: previous block: %w", err)
		}
		return d.Target, nil
	}

	var (
		pastDifficultyAverage     bignum.BigNum
		pastDifficultyAveragePrev bignum.BigNum
		latestBlockTime           uint64
		firstBlockTime            uint64
		i                         uint64
	)

	reading := prev
	for i = 1; i <= kgwPastBlocksMax; i++ {
		d, err := DecodeData(reading.ConsensusData)
		if err != nil {
			return bignum.BigNum{}, fmt.Errorf("kgw: ancestor %s: %w", reading.PreviousBlockID, err)
		}

		if i == 1 {
			pastDifficultyAverage = d.Target
			latestBlockTime = reading.Timestamp
		} else {
			// Exponential moving average: avg += (target - avgPrev) / i.
			delta := d.Target.Sub(pastDifficultyAveragePrev)
			pastDifficultyAverage = pastDifficultyAveragePrev.Add(delta.Div(bignum.FromUint64(i)))
		}
		pastDifficultyAveragePrev = pastDifficultyAverage
		firstBlockTime = reading.Timestamp

		actualTimespan := int64(latestBlockTime) - int64(firstBlockTime)
		targetTimespan := p.TargetBlockTimeSeconds * int64(i)

		rateRatio := 1.0
		if actualTimespan > 0 && targetTimespan > 0 {
			rateRatio = float64(targetTimespan) / float64(actualTimespan)
		}

		if i >= kgwPastBlocksMin {
			eventHorizon := 1 + 0.7084*math.Pow(float64(i)/float64(kgwPastBlocksMin), -1.228)
			fast := eventHorizon
			slow := 1 / eventHorizon
			if rateRatio <= slow || rateRatio >= fast {
				break
			}
		}

		if reading.PreviousBlockID.IsZero() {
			break
		}
		next, err := p.Blocks.BlockByID(txn, reading.PreviousBlockID)
		if err != nil {
			break
		}
		reading = next
	}

	newTarget := pastDifficultyAverage
	actualTimespan := int64(latestBlockTime) - int64(firstBlockTime)
	targetTimespan := p.TargetBlockTimeSeconds * int64(i)
	if actualTimespan > 0 && targetTimespan > 0 {
		newTarget = newTarget.MulFloat(float64(actualTimespan) / float64(targetTimespan))
	}
	if newTarget.GreaterThan(minDifficultyTarget) || newTarget.IsZero() {
		newTarget = minDifficultyTarget
	}
	return newTarget, nil
}

// IsBlockBetter compares accumulated work: strictly more totalWork wins.
func (p *PoW) IsBlockBetter(txn *storage.WriteTxn, candidate, tip *block.Block) (bool, error) {
	if tip == nil {
		return true, nil
	}
	cd, err := DecodeData(candidate.ConsensusData)
	if err != nil {
		return false, err
	}
	td, err := DecodeData(tip.ConsensusData)
	if err != nil {
		return false, err
	}
	return cd.TotalWork.GreaterThan(td.TotalWork), nil
}

// CheckConsensusRules recomputes the expected KGW target, verifies the
// block's proof of work against it, and writes the recomputed
// target/totalWork back into ConsensusData.
func (p *PoW) CheckConsensusRules(txn *storage.WriteTxn, blk, prev *block.Block) error {
	d, err := DecodeData(blk.ConsensusData)
	if err != nil {
		return err
	}

	expectedTarget, err := p.calculateTarget(txn, prev, blk.Height)
	if err != nil {
		return fmt.Errorf("kgw: %w", err)
	}
	d.Target = expectedTarget

	id, err := blk.ID()
	if err != nil {
		return err
	}
	buf := make([]byte, types.HashSize+8)
	copy(buf, id[:])
	binary.BigEndian.PutUint64(buf[types.HashSize:], d.Nonce)
	hash := p.PowHash(buf)
	hashValue, err := bignum.FromHex(hash.String())
	if err != nil {
		return err
	}
	if !hashValue.LessThan(d.Target) {
		return ErrInsufficientWork
	}

	var prevWork bignum.BigNum
	if prev != nil {
		pd, err := DecodeData(prev.ConsensusData)
		if err != nil {
			return err
		}
		prevWork = pd.TotalWork
	}
	d.TotalWork = prevWork.Add(maxUint256.Sub(d.Target))

	encoded, err := json.Marshal(d)
	if err != nil {
		return err
	}
	blk.ConsensusData = encoded
	return nil
}

// GenerateConsensusData builds the initial consensus data for a block
// extending prevID: the recomputed KGW target, zero accumulated work
// (filled in by CheckConsensusRules once mined), and a zero nonce for the
// miner to search from.
func (p *PoW) GenerateConsensusData(txn *storage.WriteTxn, prevID types.Hash, _ []byte) (json.RawMessage, error) {
	var prev *block.Block
	var height uint64 = 1
	if !prevID.IsZero() {
		var err error
		prev, err = p.Blocks.BlockByID(txn, prevID)
		if err != nil {
			return nil, fmt.Errorf("generate consensus data: %w", err)
		}
		height = prev.Height + 1
	}

	target, err := p.calculateTarget(txn, prev, height)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Data{Target: target, TotalWork: bignum.Zero, Nonce: 0})
}

func (p *PoW) VerifyTransaction(*storage.WriteTxn, *tx.Transaction) error  { return nil }
func (p *PoW) ConfirmTransaction(*storage.WriteTxn, *tx.Transaction) error { return nil }
func (p *PoW) SubmitTransaction(*storage.WriteTxn, *tx.Transaction) error  { return nil }
func (p *PoW) SubmitBlock(*storage.WriteTxn, *block.Block) error          { return nil }

// Start is a no-op: mining is driven explicitly by MiningLoop below, which
// the node starts on its own goroutine so it can rebuild the candidate
// from a fresh mempool snapshot between attempts (the 20-second refresh
// loop in MiningLoop).
func (p *PoW) Start() error { return nil }

// Mine searches nonces for blk until its hash satisfies target, or until
// stop is closed. It does not refresh the candidate itself — callers
// rebuild and call Mine again, per MiningLoop below.
func (p *PoW) Mine(blk *block.Block, stop <-chan struct{}) (bool, error) {
	d, err := DecodeData(blk.ConsensusData)
	if err != nil {
		return false, err
	}
	id, err := blk.ID()
	if err != nil {
		return false, err
	}
	buf := make([]byte, types.HashSize+8)
	copy(buf, id[:])

	for nonce := uint64(0); nonce < math.MaxUint64; nonce++ {
		select {
		case <-stop:
			return false, nil
		default:
		}
		binary.BigEndian.PutUint64(buf[types.HashSize:], nonce)
		hash := p.PowHash(buf)
		hashValue, err := bignum.FromHex(hash.String())
		if err != nil {
			return false, err
		}
		if hashValue.LessThan(d.Target) {
			d.Nonce = nonce
			encoded, err := json.Marshal(d)
			if err != nil {
				return false, err
			}
			blk.ConsensusData = encoded
			return true, nil
		}
	}
	return false, fmt.Errorf("pow: nonce space exhausted")
}

// MiningLoop runs the reference miner loop:
// build a candidate, mine it, submit it; every refreshInterval, abandon
// the current attempt and rebuild the candidate to absorb new mempool
// transactions. generate must return a freshly-assembled, unmined
// candidate block each call; submit is called with a successfully mined
// block.
func (p *PoW) MiningLoop(generate func() (*block.Block, error), submit func(*block.Block) error, refreshInterval time.Duration) {
	atomic.StoreInt32(&p.mining, 1)
	defer atomic.StoreInt32(&p.mining, 0)

	for atomic.LoadInt32(&p.mining) == 1 {
		blk, err := generate()
		if err != nil {
			p.Log.Error().Err(err).Msg("miner: generate candidate")
			time.Sleep(time.Second)
			continue
		}

		stop := make(chan struct{})
		timer := time.AfterFunc(refreshInterval, func() { close(stop) })

		found, err := p.Mine(blk, stop)
		timer.Stop()
		if err != nil {
			p.Log.Error().Err(err).Msg("miner: mine")
			continue
		}
		if !found {
			continue // refresh interval elapsed; rebuild and try again
		}
		if err := submit(blk); err != nil {
			p.Log.Warn().Err(err).Msg("miner: submit rejected")
		}
	}
}

// StopMining signals an in-progress MiningLoop to exit after its current
// attempt.
func (p *PoW) StopMining() { atomic.StoreInt32(&p.mining, 0) }
