package core

import (
	"bytes"
	"io"
)

// MaxWireMessageSize bounds any single incoming block/transaction/judgement
// payload. Parsing never evaluates untrusted bytes as code (see the
// doc comments on ParseTransaction, ParseBlock, ParseJudgement) -- this
// bound is the second half of that defense, preventing an oversized
// payload from exhausting memory during decode.
const MaxWireMessageSize = 4 << 20 // 4 MiB

// newLimitedReader wraps data so json.Decoder never reads past
// MaxWireMessageSize bytes, even if data itself is larger.
func newLimitedReader(data []byte) io.Reader {
	return io.LimitReader(bytes.NewReader(data), MaxWireMessageSize)
}
