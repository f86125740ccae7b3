package contract

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Evaluation errors.
var (
	ErrInstructionLimit = errors.New("contract: instruction limit exceeded")
	ErrMemoryLimit      = errors.New("contract: memory limit exceeded")
	ErrStackUnderflow   = errors.New("contract: stack underflow")
	ErrTypeMismatch     = errors.New("contract: operand type mismatch")
	ErrUnknownOpcode    = errors.New("contract: unknown opcode")
	ErrTruncatedOperand = errors.New("contract: truncated instruction operand")
	ErrNoHalt           = errors.New("contract: bytecode did not halt")
)

// VerifyTransaction runs bytecode under ctx and reports whether the
// predicate accepted the spend. A non-empty errorMessage is a hard
// failure: the caller must treat the transaction as malformed.
// The evaluator never panics; any internal fault is converted to
// (false, message).
func VerifyTransaction(bytecode []byte, ctx Context) (accepted bool, errorMessage string) {
	e := &evaluator{code: bytecode, ctx: ctx}
	ok, err := e.run()
	if err != nil {
		return false, err.Error()
	}
	return ok, ""
}

type evaluator struct {
	code  []byte
	pc    int
	stack []interface{}
	ctx   Context

	instructions int
	memoryUsed   int
}

func (e *evaluator) run() (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = false
			err = fmt.Errorf("contract: runtime panic: %v", r)
		}
	}()

	for e.pc < len(e.code) {
		e.instructions++
		if e.instructions > MaxInstructions {
			return false, ErrInstructionLimit
		}

		op := Op(e.code[e.pc])
		e.pc++

		switch op {
		case OpPushInt:
			v, err := e.readInt64()
			if err != nil {
				return false, err
			}
			e.push(v)

		case OpPushBytes:
			v, err := e.readBytes()
			if err != nil {
				return false, err
			}
			if err := e.account(len(v)); err != nil {
				return false, err
			}
			e.push(v)

		case OpPushBool:
			v, err := e.readByte()
			if err != nil {
				return false, err
			}
			e.push(v != 0)

		case OpLoadTx:
			if err := e.account(len(e.ctx.TxJSON)); err != nil {
				return false, err
			}
			e.push([]byte(e.ctx.TxJSON))

		case OpLoadThisInput:
			if err := e.account(len(e.ctx.ThisInputJSON)); err != nil {
				return false, err
			}
			e.push([]byte(e.ctx.ThisInputJSON))

		case OpLoadOutputSetID:
			e.push(e.ctx.OutputSetID.Bytes())

		case OpJSONField:
			path, err := e.readBytes()
			if err != nil {
				return false, err
			}
			raw, err := e.popBytes()
			if err != nil {
				return false, err
			}
			val, err := jsonField(raw, string(path))
			if err != nil {
				return false, err
			}
			if err := e.account(len(val)); err != nil {
				return false, err
			}
			e.push(val)

		case OpSHA256:
			b, err := e.popBytes()
			if err != nil {
				return false, err
			}
			h := crypto.Hash(b)
			e.push(h.Bytes())

		case OpVerifyECDSA:
			hash, sig, pub, err := e.popHashSigPub()
			if err != nil {
				return false, err
			}
			e.push(crypto.VerifyECDSA(hash, sig, pub))

		case OpVerifySchnorr:
			hash, sig, pub, err := e.popHashSigPub()
			if err != nil {
				return false, err
			}
			e.push(crypto.VerifySignature(hash, sig, pub))

		case OpGetBlock, OpGetTransaction, OpGetOutput, OpGetInput:
			idBytes, err := e.popBytes()
			if err != nil {
				return false, err
			}
			id, err := types.HexToHash(fmt.Sprintf("%x", idBytes))
			if err != nil {
				return false, err
			}
			raw, found := e.lookup(op, id)
			if err := e.account(len(raw)); err != nil {
				return false, err
			}
			e.push([]byte(raw))
			e.push(found)

		case OpEqual:
			a, b, err := e.pop2()
			if err != nil {
				return false, err
			}
			eq, err := valuesEqual(a, b)
			if err != nil {
				return false, err
			}
			e.push(eq)

		case OpLessThan, OpGreaterThan:
			a, b, err := e.pop2Int()
			if err != nil {
				return false, err
			}
			if op == OpLessThan {
				e.push(a < b)
			} else {
				e.push(a > b)
			}

		case OpAnd, OpOr:
			a, b, err := e.pop2Bool()
			if err != nil {
				return false, err
			}
			if op == OpAnd {
				e.push(a && b)
			} else {
				e.push(a || b)
			}

		case OpNot:
			v, err := e.popBool()
			if err != nil {
				return false, err
			}
			e.push(!v)

		case OpHalt:
			v, err := e.popBool()
			if err != nil {
				return false, err
			}
			return v, nil

		default:
			return false, fmt.Errorf("%w: 0x%02x at pc=%d", ErrUnknownOpcode, byte(op), e.pc-1)
		}
	}
	return false, ErrNoHalt
}

func (e *evaluator) lookup(op Op, id types.Hash) (json.RawMessage, bool) {
	if e.ctx.Chain == nil {
		return nil, false
	}
	switch op {
	case OpGetBlock:
		return e.ctx.Chain.GetBlock(id)
	case OpGetTransaction:
		return e.ctx.Chain.GetTransaction(id)
	case OpGetOutput:
		return e.ctx.Chain.GetOutput(id)
	default:
		return e.ctx.Chain.GetInput(id)
	}
}

func (e *evaluator) account(n int) error {
	e.memoryUsed += n
	if e.memoryUsed > MaxMemoryBytes {
		return ErrMemoryLimit
	}
	return nil
}

func (e *evaluator) push(v interface{}) {
	e.stack = append(e.stack, v)
}

func (e *evaluator) pop() (interface{}, error) {
	if len(e.stack) == 0 {
		return nil, ErrStackUnderflow
	}
	v := e.stack[len(e.stack)-1]
	e.stack = e.stack[:len(e.stack)-1]
	return v, nil
}

func (e *evaluator) popBytes() ([]byte, error) {
	v, err := e.pop()
	if err != nil {
		return nil, err
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, ErrTypeMismatch
	}
	return b, nil
}

func (e *evaluator) popBool() (bool, error) {
	v, err := e.pop()
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, ErrTypeMismatch
	}
	return b, nil
}

func (e *evaluator) popInt() (int64, error) {
	v, err := e.pop()
	if err != nil {
		return 0, err
	}
	i, ok := v.(int64)
	if !ok {
		return 0, ErrTypeMismatch
	}
	return i, nil
}

func (e *evaluator) pop2() (interface{}, interface{}, error) {
	b, err := e.pop()
	if err != nil {
		return nil, nil, err
	}
	a, err := e.pop()
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

func (e *evaluator) pop2Int() (int64, int64, error) {
	b, err := e.popInt()
	if err != nil {
		return 0, 0, err
	}
	a, err := e.popInt()
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func (e *evaluator) pop2Bool() (bool, bool, error) {
	b, err := e.popBool()
	if err != nil {
		return false, false, err
	}
	a, err := e.popBool()
	if err != nil {
		return false, false, err
	}
	return a, b, nil
}

// popHashSigPub pops pubkey, signature, hash in that order (reverse of
// push order: hash pushed first, then signature, then pubkey).
func (e *evaluator) popHashSigPub() (hash, sig, pub []byte, err error) {
	pub, err = e.popBytes()
	if err != nil {
		return nil, nil, nil, err
	}
	sig, err = e.popBytes()
	if err != nil {
		return nil, nil, nil, err
	}
	hash, err = e.popBytes()
	if err != nil {
		return nil, nil, nil, err
	}
	return hash, sig, pub, nil
}

func valuesEqual(a, b interface{}) (bool, error) {
	switch av := a.(type) {
	case int64:
		bv, ok := b.(int64)
		if !ok {
			return false, ErrTypeMismatch
		}
		return av == bv, nil
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return false, ErrTypeMismatch
		}
		return av == bv, nil
	case []byte:
		bv, ok := b.([]byte)
		if !ok {
			return false, ErrTypeMismatch
		}
		if len(av) != len(bv) {
			return false, nil
		}
		for i := range av {
			if av[i] != bv[i] {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, ErrTypeMismatch
	}
}

func (e *evaluator) readByte() (byte, error) {
	if e.pc >= len(e.code) {
		return 0, ErrTruncatedOperand
	}
	b := e.code[e.pc]
	e.pc++
	return b, nil
}

func (e *evaluator) readInt64() (int64, error) {
	if e.pc+8 > len(e.code) {
		return 0, ErrTruncatedOperand
	}
	v := int64(binary.BigEndian.Uint64(e.code[e.pc : e.pc+8]))
	e.pc += 8
	return v, nil
}

func (e *evaluator) readBytes() ([]byte, error) {
	if e.pc+2 > len(e.code) {
		return nil, ErrTruncatedOperand
	}
	n := int(binary.BigEndian.Uint16(e.code[e.pc : e.pc+2]))
	e.pc += 2
	if e.pc+n > len(e.code) {
		return nil, ErrTruncatedOperand
	}
	v := e.code[e.pc : e.pc+n]
	e.pc += n
	return v, nil
}

// jsonField resolves a dotted field path (e.g. "outputs.0.value") against
// raw JSON, returning its value re-encoded as JSON bytes (so callers can
// compare strings/numbers/bools uniformly via OpEqual on []byte).
func jsonField(raw []byte, path string) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("contract: invalid json: %w", err)
	}
	cur := v
	for _, segment := range splitPath(path) {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[segment]
			if !ok {
				return nil, fmt.Errorf("contract: field %q not found", segment)
			}
			cur = next
		case []interface{}:
			idx, err := parseIndex(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("contract: index %q out of range", segment)
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("contract: cannot index into %T with %q", cur, segment)
		}
	}
	return json.Marshal(cur)
}

func splitPath(path string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			if i > start {
				out = append(out, path[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func parseIndex(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, fmt.Errorf("empty index")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a digit: %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
