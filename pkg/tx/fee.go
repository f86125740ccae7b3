package tx

import "fmt"

// baseFeeRate is the per-byte charge applied to every input's and output's
// data object when computing a transaction's minimum required fee.
const baseFeeRate = 100

// BaseFee returns 100 × the total canonical-JSON size of every input's and
// output's data object. The ledger engine compares
// this against the actual surplus of input value over output value; it
// does not itself know input values, since those live in the UTXO set.
func (t *Transaction) BaseFee() (uint64, error) {
	var total uint64
	for i, out := range t.Outputs {
		size, err := out.dataSize()
		if err != nil {
			return 0, fmt.Errorf("output %d: %w", i, err)
		}
		total += uint64(size) * baseFeeRate
	}
	for i, in := range t.Inputs {
		size, err := in.dataSize()
		if err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}
		total += uint64(size) * baseFeeRate
	}
	return total, nil
}

// MinFee is half of BaseFee, rounded down, the minimum surplus required
// of a non-coinbase transaction.
func (t *Transaction) MinFee() (uint64, error) {
	base, err := t.BaseFee()
	if err != nil {
		return 0, err
	}
	return base / 2, nil
}
