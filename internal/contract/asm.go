package contract

import "encoding/binary"

// Assembler builds an Op stream incrementally. It exists for tests and
// for whatever off-chain compiler eventually targets this bytecode; the
// evaluator itself never uses it.
type Assembler struct {
	buf []byte
}

func NewAssembler() *Assembler { return &Assembler{} }

func (a *Assembler) op(o Op) *Assembler {
	a.buf = append(a.buf, byte(o))
	return a
}

func (a *Assembler) PushInt(v int64) *Assembler {
	a.op(OpPushInt)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	a.buf = append(a.buf, b[:]...)
	return a
}

func (a *Assembler) PushBytes(v []byte) *Assembler {
	a.op(OpPushBytes)
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(v)))
	a.buf = append(a.buf, l[:]...)
	a.buf = append(a.buf, v...)
	return a
}

func (a *Assembler) PushString(s string) *Assembler { return a.PushBytes([]byte(s)) }

func (a *Assembler) PushBool(v bool) *Assembler {
	a.op(OpPushBool)
	if v {
		a.buf = append(a.buf, 1)
	} else {
		a.buf = append(a.buf, 0)
	}
	return a
}

func (a *Assembler) LoadTx() *Assembler          { return a.op(OpLoadTx) }
func (a *Assembler) LoadThisInput() *Assembler   { return a.op(OpLoadThisInput) }
func (a *Assembler) LoadOutputSetID() *Assembler { return a.op(OpLoadOutputSetID) }
func (a *Assembler) JSONField(path string) *Assembler {
	a.op(OpJSONField)
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(path)))
	a.buf = append(a.buf, l[:]...)
	a.buf = append(a.buf, path...)
	return a
}

func (a *Assembler) SHA256() *Assembler        { return a.op(OpSHA256) }
func (a *Assembler) VerifyECDSA() *Assembler   { return a.op(OpVerifyECDSA) }
func (a *Assembler) VerifySchnorr() *Assembler { return a.op(OpVerifySchnorr) }
func (a *Assembler) GetBlock() *Assembler       { return a.op(OpGetBlock) }
func (a *Assembler) GetTransaction() *Assembler { return a.op(OpGetTransaction) }
func (a *Assembler) GetOutput() *Assembler      { return a.op(OpGetOutput) }
func (a *Assembler) GetInput() *Assembler       { return a.op(OpGetInput) }
func (a *Assembler) Equal() *Assembler          { return a.op(OpEqual) }
func (a *Assembler) LessThan() *Assembler       { return a.op(OpLessThan) }
func (a *Assembler) GreaterThan() *Assembler    { return a.op(OpGreaterThan) }
func (a *Assembler) And() *Assembler            { return a.op(OpAnd) }
func (a *Assembler) Or() *Assembler             { return a.op(OpOr) }
func (a *Assembler) Not() *Assembler            { return a.op(OpNot) }
func (a *Assembler) Halt() *Assembler           { return a.op(OpHalt) }

// Bytes returns the assembled bytecode.
func (a *Assembler) Bytes() []byte { return a.buf }
