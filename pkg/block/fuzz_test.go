package block

import (
	"encoding/json"
	"testing"
)

// FuzzBlockUnmarshal checks that arbitrary JSON neither panics the decoder
// nor the structural validation and hashing paths that follow it.
func FuzzBlockUnmarshal(f *testing.F) {
	f.Add([]byte(`{"transactions":[],"coinbaseTx":{"inputs":[],"outputs":[{"value":1,"nonce":0,"data":null}],"timestamp":1},"previousBlockId":"0000000000000000000000000000000000000000000000000000000000000000","timestamp":1,"consensusData":{},"height":1,"data":null}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"coinbaseTx":null,"height":0}`))
	f.Add([]byte(`{"coinbaseTx":{"outputs":[]},"data":"not an object"}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var blk Block
		if err := json.Unmarshal(data, &blk); err != nil {
			return
		}
		_ = blk.Validate()
		_, _ = blk.ID()
		_ = blk.AllTransactions()
	})
}
