package contract

// Op identifies a single bytecode instruction. The encoding is a stream of
// one-byte opcodes, each followed by its operands; operand shapes are
// fixed per opcode so the interpreter never needs a separate length
// prefix beyond what OpPushBytes itself carries.
type Op byte

const (
	// Stack literals.
	OpPushInt   Op = iota // int64, big-endian, 8 bytes
	OpPushBytes           // uint16 length (big-endian, 2 bytes) + that many bytes
	OpPushBool            // 1 byte, 0 or 1

	// Globals.
	OpLoadTx          // push Context.TxJSON
	OpLoadThisInput   // push Context.ThisInputJSON
	OpLoadOutputSetID // push Context.OutputSetID bytes

	// JSON field access: pop JSON bytes, push the value at the dotted field
	// path (carried as an OpPushBytes-style operand) re-encoded as JSON bytes.
	OpJSONField

	// Crypto.
	OpSHA256        // pop bytes, push sha256(bytes)
	OpVerifyECDSA   // pop pubkey, signature, hash (bytes each); push bool
	OpVerifySchnorr // pop pubkey, signature, hash (bytes each); push bool

	// Blockchain reads: pop a 32-byte id, push the record's JSON and then
	// true, or empty bytes and then false if absent.
	OpGetBlock
	OpGetTransaction
	OpGetOutput
	OpGetInput

	// Comparison and boolean logic, all pop two and push one except OpNot.
	OpEqual
	OpLessThan
	OpGreaterThan
	OpAnd
	OpOr
	OpNot

	// Control.
	OpHalt // pop bool, end execution with that as the predicate's result
)
