package program

import (
	"context"
	"fmt"
	"strconv"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/shopspring/decimal"

	"github.com/defichain-maxi/maxi-go/tx"
	"github.com/defichain-maxi/maxi-go/wallet"
)

// TokenAmount is an amount of one token id in coin units.
type TokenAmount struct {
	Token  uint32
	Amount decimal.Decimal
}

func (p *Program) signingKey() *ec.PrivateKey {
	if p.account == nil {
		return nil
	}
	return p.account.PrivateKey
}

func (p *Program) orOwn(script []byte) []byte {
	if len(script) == 0 {
		return p.script
	}
	return script
}

func balances(amounts []TokenAmount) ([]tx.TokenBalance, error) {
	out := make([]tx.TokenBalance, 0, len(amounts))
	for _, a := range amounts {
		if !a.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: token %d: %s", ErrInvalidAmount, a.Token, a.Amount)
		}
		out = append(out, tx.TokenBalance{TokenID: a.Token, Amount: tx.ToSatoshi(a.Amount)})
	}
	return out, nil
}

func positive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}

// RemoveLiquidity burns amount of pool share token poolID.
func (p *Program) RemoveLiquidity(ctx context.Context, poolID uint32, amount decimal.Decimal, prevout *tx.Prevout) (*tx.Built, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	return p.submit(ctx, tx.RemovePoolLiquidity(p.script, poolID, tx.ToSatoshi(amount)), prevout, 0)
}

// AddLiquidity adds both legs of a pool from the account balance. The
// share tokens go to shareScript, or to the own address when it is nil.
func (p *Program) AddLiquidity(ctx context.Context, amounts []TokenAmount, shareScript []byte, prevout *tx.Prevout) (*tx.Built, error) {
	b, err := balances(amounts)
	if err != nil {
		return nil, err
	}
	payload := tx.AddPoolLiquidity([]tx.ScriptBalances{{Script: p.script, Balances: b}}, p.orOwn(shareScript))
	return p.submit(ctx, payload, prevout, 0)
}

// PaybackLoans repays loan tokens of the configured vault.
func (p *Program) PaybackLoans(ctx context.Context, amounts []TokenAmount, prevout *tx.Prevout) (*tx.Built, error) {
	if err := p.requireVault(); err != nil {
		return nil, err
	}
	b, err := balances(amounts)
	if err != nil {
		return nil, err
	}
	payload, err := tx.PaybackLoan(p.settings.Vault, p.script, b)
	if err != nil {
		return nil, err
	}
	return p.submit(ctx, payload, prevout, 0)
}

// TakeLoans mints loan tokens against the configured vault.
func (p *Program) TakeLoans(ctx context.Context, amounts []TokenAmount, prevout *tx.Prevout) (*tx.Built, error) {
	if err := p.requireVault(); err != nil {
		return nil, err
	}
	b, err := balances(amounts)
	if err != nil {
		return nil, err
	}
	payload, err := tx.TakeLoan(p.settings.Vault, p.script, b)
	if err != nil {
		return nil, err
	}
	return p.submit(ctx, payload, prevout, 0)
}

// DepositToVault moves collateral from the account into the own vault.
func (p *Program) DepositToVault(ctx context.Context, token uint32, amount decimal.Decimal, prevout *tx.Prevout) (*tx.Built, error) {
	if err := p.requireVault(); err != nil {
		return nil, err
	}
	return p.DepositToVaultID(ctx, p.settings.Vault, token, amount, prevout)
}

// DepositToVaultID deposits into any vault; anyone may fund a vault.
func (p *Program) DepositToVaultID(ctx context.Context, vaultID string, token uint32, amount decimal.Decimal, prevout *tx.Prevout) (*tx.Built, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	payload, err := tx.DepositToVault(vaultID, p.script, tx.TokenBalance{TokenID: token, Amount: tx.ToSatoshi(amount)})
	if err != nil {
		return nil, err
	}
	return p.submit(ctx, payload, prevout, 0)
}

// WithdrawFromVault moves collateral from the vault to the account.
func (p *Program) WithdrawFromVault(ctx context.Context, token uint32, amount decimal.Decimal, prevout *tx.Prevout) (*tx.Built, error) {
	if err := p.requireVault(); err != nil {
		return nil, err
	}
	if err := positive(amount); err != nil {
		return nil, err
	}
	payload, err := tx.WithdrawFromVault(p.settings.Vault, p.script, tx.TokenBalance{TokenID: token, Amount: tx.ToSatoshi(amount)})
	if err != nil {
		return nil, err
	}
	return p.submit(ctx, payload, prevout, 0)
}

// UtxoToAccount converts amount DFI of unspent outputs into the account
// balance of the same address.
func (p *Program) UtxoToAccount(ctx context.Context, amount decimal.Decimal, prevout *tx.Prevout) (*tx.Built, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	sat := tx.ToSatoshi(amount)
	payload := tx.UtxosToAccount([]tx.ScriptBalances{{Script: p.script, Balances: []tx.TokenBalance{{TokenID: 0, Amount: sat}}}})
	return p.submit(ctx, payload, prevout, uint64(sat))
}

// SendToAccount transfers amount DFI of account balance to address.
func (p *Program) SendToAccount(ctx context.Context, amount decimal.Decimal, address string, prevout *tx.Prevout) (*tx.Built, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	to, err := wallet.AddressToScript(address, p.net)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidAddress, address, err)
	}
	payload := tx.AccountToAccount(p.script, []tx.ScriptBalances{{Script: to, Balances: []tx.TokenBalance{{TokenID: 0, Amount: tx.ToSatoshi(amount)}}}})
	return p.submit(ctx, payload, prevout, 0)
}

// AccountToUtxos converts amount DFI of account balance into an unspent
// output for toScript (own address when nil), minted as output 2.
func (p *Program) AccountToUtxos(ctx context.Context, amount decimal.Decimal, toScript []byte, prevout *tx.Prevout) (*tx.Built, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	sat := tx.ToSatoshi(amount)
	payload := tx.AccountToUtxos(p.script, []tx.TokenBalance{{TokenID: 0, Amount: sat}}, 2)
	return p.submit(ctx, payload, prevout, 0, tx.Output{Script: p.orOwn(toScript), Amount: uint64(sat)})
}

// Swap trades amount of token from into token to through their direct
// pool. A zero maxPrice means no price limit.
func (p *Program) Swap(ctx context.Context, amount decimal.Decimal, from, to uint32, maxPrice decimal.Decimal, prevout *tx.Prevout) (*tx.Built, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	return p.submit(ctx, tx.PoolSwap(p.swapParams(amount, from, to, maxPrice, nil)), prevout, 0)
}

// CompositeSwap trades along pools and credits toScript (own address
// when nil). With pools empty the node picks the path; BestPathPools
// provides the path the node would choose.
func (p *Program) CompositeSwap(ctx context.Context, amount decimal.Decimal, from, to uint32, pools []uint32, maxPrice decimal.Decimal, toScript []byte, prevout *tx.Prevout) (*tx.Built, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	return p.submit(ctx, tx.CompositeSwap(p.swapParams(amount, from, to, maxPrice, toScript), pools), prevout, 0)
}

// BestPathPools asks the node for the composite swap path from -> to.
func (p *Program) BestPathPools(ctx context.Context, from, to uint32, amount decimal.Decimal) ([]uint32, decimal.Decimal, error) {
	path, err := p.chain.GetBestPath(ctx, strconv.FormatUint(uint64(from), 10), strconv.FormatUint(uint64(to), 10), amount)
	if err != nil {
		return nil, decimal.Zero, err
	}
	ids := make([]uint32, 0, len(path.Pools))
	for _, pool := range path.Pools {
		id, err := strconv.ParseUint(pool.ID, 10, 32)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("program: pool id %q: %w", pool.ID, err)
		}
		ids = append(ids, uint32(id))
	}
	return ids, path.EstimatedReturn, nil
}

func (p *Program) swapParams(amount decimal.Decimal, from, to uint32, maxPrice decimal.Decimal, toScript []byte) tx.PoolSwapParams {
	return tx.PoolSwapParams{
		From:      p.script,
		FromToken: from,
		Amount:    tx.ToSatoshi(amount),
		To:        p.orOwn(toScript),
		ToToken:   to,
		MaxPrice:  maxPrice,
	}
}

// submit builds the payload transaction and, when the program can sign,
// broadcasts it. Unsigned transactions go to the user channel for manual
// signing. Either way the change output joins the virtual prevout chain.
func (p *Program) submit(ctx context.Context, payload tx.Payload, prevout *tx.Prevout, outValue uint64, extra ...tx.Output) (*tx.Built, error) {
	if p.script == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, p.settings.Address)
	}
	built, err := p.builder.Build(ctx, payload, prevout, outValue, extra...)
	if err != nil {
		return nil, fmt.Errorf("program: build %s: %w", payload.Type, err)
	}
	p.metrics.Transaction(payload.Type.String())

	if !built.Signed {
		p.notifier.Send(ctx, "Please sign and send :\n"+built.Hex)
		p.builder.Chain().Push(built)
		p.pendingTx = built.TxID
		return built, nil
	}

	var wait time.Duration
	if prevout != nil {
		wait = p.chainedWait
	}
	txid, err := p.sender.Send(ctx, built, wait)
	if err != nil {
		return nil, err
	}
	if txid != built.TxID {
		p.log.Warn().Str("node_txid", txid).Str("txid", built.TxID).Msg("node reported a different txid")
	}
	p.builder.Chain().Push(built)
	p.pendingTx = built.TxID
	p.log.Info().Str("op", payload.Type.String()).Str("txid", built.TxID).Uint64("fee", built.Fee).Msg("transaction sent")
	return built, nil
}
