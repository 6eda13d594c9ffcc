package tx

import "errors"

var (
	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("tx: required parameter is nil")

	// ErrInsufficientFunds indicates the inputs cannot cover the declared
	// output value plus fee. Only returned with strict fees enabled.
	ErrInsufficientFunds = errors.New("tx: insufficient funds")

	// ErrNoInputs indicates the address has no spendable DFI outputs.
	ErrNoInputs = errors.New("tx: no spendable inputs")

	// ErrInvalidPayload indicates a malformed DfTx payload.
	ErrInvalidPayload = errors.New("tx: invalid payload")

	// ErrNotDfTx indicates a script that is not a DfTx OP_RETURN.
	ErrNotDfTx = errors.New("tx: not a DfTx script")

	// ErrInvalidTx indicates undecodable transaction bytes.
	ErrInvalidTx = errors.New("tx: invalid transaction encoding")

	// ErrInvalidTxID indicates a txid that is not 32 hex-encoded bytes.
	ErrInvalidTxID = errors.New("tx: invalid txid")

	// ErrSigningFailed indicates transaction signing failed.
	ErrSigningFailed = errors.New("tx: signing failed")

	// ErrUnsupportedInput indicates a prevout whose script cannot be signed
	// (only P2WPKH outputs of the wallet key are signable).
	ErrUnsupportedInput = errors.New("tx: unsupported input script")

	// ErrSendFailed indicates the broadcast kept failing after all attempts.
	ErrSendFailed = errors.New("tx: send failed after retries")

	// ErrChainStalled indicates no new block appeared while the sender was
	// paused waiting for one.
	ErrChainStalled = errors.New("tx: chain stalled")
)
