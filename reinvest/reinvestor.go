package reinvest

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/defichain-maxi/maxi-go/logger"
	"github.com/defichain-maxi/maxi-go/network"
	"github.com/defichain-maxi/maxi-go/program"
	"github.com/defichain-maxi/maxi-go/state"
	"github.com/defichain-maxi/maxi-go/tx"
)

// Donation receivers and the cap applied to the configured percentage.
const (
	DonationAddress        = "df1qqtlz4uw9w5s4pupwgucv4shl6atqw7xlz2wn07"
	DonationAddressTestnet = "tZ1GuasY57oin5cej1Wp3MA1pAE4y3tmzq"
	MaxDonationPercent     = 50
)

// SwappedSymbol separates the input and output of a swap in messages.
const SwappedSymbol = "➡"

// Request is one reinvest attempt.
type Request struct {
	Threshold       decimal.Decimal
	DonationPercent decimal.Decimal
	Targets         []*Target
	// DFIBalance is the DFI token balance counted towards the threshold.
	DFIBalance decimal.Decimal
	// MaxForDonation disables the donation for amounts at or above it,
	// which are treated as transfers rather than rewards.
	MaxForDonation decimal.Decimal
}

// Result describes what a Run did.
type Result struct {
	// Touched is set when any transaction was sent, successful or not.
	Touched    bool
	Reinvested bool
	Amount     decimal.Decimal
	Donated    decimal.Decimal
	// Unconfirmed names the step whose transaction did not confirm in
	// time, empty otherwise. The stored state still points at it.
	Unconfirmed state.Operation
	TxID        string
}

// Failed reports whether a reinvest transaction did not confirm.
func (r Result) Failed() bool { return r.Unconfirmed != "" }

// Reinvestor executes reinvest requests through a Program.
type Reinvestor struct {
	prog     *program.Program
	resolver Resolver
	log      zerolog.Logger
}

// New returns a Reinvestor. resolver is used for messages only.
func New(p *program.Program, r Resolver) *Reinvestor {
	return &Reinvestor{prog: p, resolver: r, log: logger.GetForComponent("reinvest")}
}

// DonationAddressFor returns the receiver for the network.
func DonationAddressFor(testnet bool) string {
	if testnet {
		return DonationAddressTestnet
	}
	return DonationAddress
}

// CappedDonation limits pct to MaxDonationPercent.
func CappedDonation(pct decimal.Decimal) decimal.Decimal {
	return decimal.Min(pct, decimal.NewFromInt(MaxDonationPercent))
}

type lmTarget struct {
	target *Target
	pool   string
	estA   decimal.Decimal
	estB   decimal.Decimal
}

type deposit struct {
	target   *Target
	token    uint32
	symbol   string
	estimate decimal.Decimal
}

// run carries the prevout chain and the collected messages of one Run.
type run struct {
	prevout *tx.Prevout
	last    *tx.Built
	sent    []string
	sentTo  map[string][]string
	order   []string
}

func (r *run) record(b *tx.Built) {
	r.last = b
	r.prevout = b.Change
}

func (r *run) sentLine(dest, line string) {
	if _, ok := r.sentTo[dest]; !ok {
		r.order = append(r.order, dest)
	}
	r.sentTo[dest] = append(r.sentTo[dest], line)
}

// Run converts rewards above the threshold and distributes them over the
// targets. Swaps and transfers go first; liquidity adds and deposits
// follow once the swaps confirmed, bounded by the balances actually
// received.
func (r *Reinvestor) Run(ctx context.Context, req Request) (Result, error) {
	var res Result
	if !req.Threshold.IsPositive() || len(req.Targets) == 0 {
		return res, nil
	}
	utxos, err := r.prog.UTXOBalance(ctx)
	if err != nil {
		return res, err
	}
	one := decimal.NewFromInt(1)
	fromUtxos := decimal.Zero
	if utxos.GreaterThan(one) {
		fromUtxos = utxos.Sub(one)
	}
	amount := fromUtxos.Add(req.DFIBalance)
	if amount.LessThan(req.Threshold) {
		return res, nil
	}
	r.log.Info().Str("amount", amount.String()).Str("utxos", fromUtxos.String()).Msg("starting reinvest")

	cur := &run{sentTo: map[string][]string{}}
	if fromUtxos.IsPositive() {
		b, err := r.prog.UtxoToAccount(ctx, fromUtxos, nil)
		if err != nil {
			return res, err
		}
		cur.record(b)
		res.Touched = true
	}

	pct := CappedDonation(req.DonationPercent)
	if !amount.LessThan(req.MaxForDonation) {
		pct = decimal.Zero
	}
	plan := Allocate(amount, pct, req.Targets)
	if plan.Donation.IsPositive() {
		b, err := r.prog.SendToAccount(ctx, plan.Donation, DonationAddressFor(r.prog.IsTestnet()), cur.prevout)
		if err != nil {
			return res, err
		}
		cur.record(b)
		res.Touched = true
		res.Donated = plan.Donation
		r.log.Info().Str("donation", plan.Donation.String()).Msg("donated")
	}
	amount = amount.Sub(plan.Donation)
	res.Amount = amount
	// DFI left for the targets; shares are nominal and capped by it.
	ledger := amount

	var (
		collateral []network.CollateralToken
		toLM       []lmTarget
		toDeposit  []deposit
	)
	if hasKind(req.Targets, KindToken) {
		if collateral, err = r.prog.CollateralTokens(ctx); err != nil {
			return res, err
		}
	}

	for _, i := range byKind(req.Targets) {
		t := req.Targets[i]
		input := decimal.Min(plan.Shares[i], ledger)
		if !input.IsPositive() {
			r.log.Warn().Str("token", t.Token).Msg("no DFI left for reinvest target")
			continue
		}
		ledger = ledger.Sub(input)
		switch t.Kind {
		case KindDFI:
			if t.Dest.Kind == DestVault {
				toDeposit = append(toDeposit, deposit{target: t, token: 0, symbol: "DFI", estimate: input})
				continue
			}
			b, err := r.prog.AccountToUtxos(ctx, input, t.Dest.Script, cur.prevout)
			if err != nil {
				return res, err
			}
			cur.record(b)
			res.Touched = true
			cur.sentLine(t.Dest.Address, fmt.Sprintf("%s@DFI", input.StringFixed(2)))

		case KindToken:
			id, err := r.tokenID(ctx, collateral, t.Token)
			if err != nil {
				r.prog.Notifier().Send(ctx, "could not find token "+t.Token+" in reinvest. skipping this target")
				r.log.Warn().Err(err).Str("token", t.Token).Msg("reinvest target skipped")
				continue
			}
			b, estimate, err := r.swap(ctx, cur, input, id, t)
			if err != nil {
				return res, err
			}
			cur.record(b)
			res.Touched = true
			if t.Dest.Kind == DestVault {
				toDeposit = append(toDeposit, deposit{target: t, token: id, symbol: t.Token, estimate: estimate})
			} else {
				cur.sentLine(t.Dest.Address, fmt.Sprintf("%s@DFI %s %s@%s", input.StringFixed(2), SwappedSymbol, estimate.StringFixed(4), t.Token))
			}

		case KindLP:
			pool, err := r.prog.Pool(ctx, t.Token)
			if err != nil {
				r.prog.Notifier().Send(ctx, "could not find pool "+t.Token+" in reinvest. skipping this target")
				r.log.Warn().Err(err).Str("pool", t.Token).Msg("reinvest target skipped")
				continue
			}
			half := input.Div(decimal.NewFromInt(2)).Round(8)
			lm := lmTarget{target: t, pool: pool.Symbol, estA: half, estB: half}
			for i, side := range []network.PoolToken{pool.TokenA, pool.TokenB} {
				id, err := program.ParseTokenID(side.ID)
				if err != nil {
					return res, err
				}
				if id == 0 {
					continue
				}
				b, estimate, err := r.swap(ctx, cur, half, id, &Target{Token: side.Symbol, Dest: Destination{Kind: DestVault}})
				if err != nil {
					return res, err
				}
				cur.record(b)
				res.Touched = true
				if i == 0 {
					lm.estA = estimate
				} else {
					lm.estB = estimate
				}
			}
			toLM = append(toLM, lm)
		}
	}

	var swapTx string
	if cur.last != nil {
		swapTx = cur.last.TxID
		if err := r.prog.UpdateToState(ctx, state.PhaseWaitingForTransaction, state.OpReinvestSwap, swapTx); err != nil {
			r.log.Warn().Err(err).Msg("could not store state")
		}
		if !r.prog.WaitForTx(ctx, swapTx, 0) {
			r.prog.Notifier().Send(ctx, "ERROR: swapping reinvestment failed")
			res.Unconfirmed, res.TxID = state.OpReinvestSwap, swapTx
			return res, nil
		}
	}

	if err := r.addAndDeposit(ctx, cur, toLM, toDeposit); err != nil {
		return res, err
	}
	if cur.last == nil {
		return res, nil
	}
	res.Touched = true

	if cur.last.TxID != swapTx {
		if err := r.prog.UpdateToState(ctx, state.PhaseWaitingForTransaction, state.OpReinvestDepositOrLM, cur.last.TxID); err != nil {
			r.log.Warn().Err(err).Msg("could not store state")
		}
		if !r.prog.WaitForTx(ctx, cur.last.TxID, 0) {
			r.prog.Notifier().Send(ctx, "ERROR: reinvestment tx failed, please check")
			res.Unconfirmed, res.TxID = state.OpReinvestDepositOrLM, cur.last.TxID
			return res, nil
		}
	}
	res.Reinvested = true

	r.prog.Notifier().Send(ctx, r.summary(amount, req, fromUtxos, res.Donated, cur))
	if req.DonationPercent.IsPositive() && res.Donated.IsZero() {
		r.prog.Notifier().Send(ctx, "you activated auto donation, but the reinvested amount was too big to be a reinvest. "+
			"We assume that this was a transfer of funds, so we skipped auto-donation. Feel free to manually donate anyway.")
	}
	return res, nil
}

// addAndDeposit runs the second phase against fresh balances. Every
// amount is capped by what is still available so a worse swap outcome
// never overdraws the account.
func (r *Reinvestor) addAndDeposit(ctx context.Context, cur *run, toLM []lmTarget, toDeposit []deposit) error {
	if len(toLM) == 0 && len(toDeposit) == 0 {
		return nil
	}
	balances, err := r.prog.TokenBalances(ctx)
	if err != nil {
		return err
	}
	available := make(map[string]decimal.Decimal, len(balances))
	for sym, b := range balances {
		available[sym] = b.Amount
	}

	for _, lm := range toLM {
		pool, err := r.prog.Pool(ctx, lm.pool)
		if err != nil {
			return err
		}
		a, b := pool.TokenA, pool.TokenB
		usedA := decimal.Min(lm.estA, available[a.Symbol])
		usedB := decimal.Min(lm.estB, usedA.Mul(pool.RatioBA), available[b.Symbol])
		if usedB.LessThan(usedA.Mul(pool.RatioBA)) {
			usedA = usedB.Mul(pool.RatioAB)
		}
		usedA, usedB = usedA.RoundFloor(8), usedB.RoundFloor(8)
		if !usedA.IsPositive() || !usedB.IsPositive() {
			r.log.Warn().Str("pool", lm.pool).Msg("nothing left to add to pool")
			continue
		}
		available[a.Symbol] = available[a.Symbol].Sub(usedA)
		available[b.Symbol] = available[b.Symbol].Sub(usedB)

		idA, err := program.ParseTokenID(a.ID)
		if err != nil {
			return err
		}
		idB, err := program.ParseTokenID(b.ID)
		if err != nil {
			return err
		}
		built, err := r.prog.AddLiquidity(ctx, []program.TokenAmount{{Token: idA, Amount: usedA}, {Token: idB, Amount: usedB}}, lm.target.Dest.Script, cur.prevout)
		if err != nil {
			return err
		}
		cur.record(built)
		lp := decimal.Zero
		if a.Reserve.IsPositive() {
			lp = usedA.Mul(pool.TotalLiquidity).Div(a.Reserve)
		}
		cur.sentLine(lm.target.Dest.Address, fmt.Sprintf("%s@%s + %s@%s %s %s@%s",
			usedA.StringFixed(4), a.Symbol, usedB.StringFixed(4), b.Symbol, SwappedSymbol, lp.StringFixed(4), lm.pool))
	}

	for _, d := range toDeposit {
		amount := d.estimate
		if d.token != 0 {
			amount = decimal.Min(d.estimate, available[d.symbol])
			if !amount.IsPositive() {
				r.log.Warn().Str("token", d.symbol).Msg("nothing left to deposit")
				continue
			}
			available[d.symbol] = available[d.symbol].Sub(amount)
		}
		built, err := r.prog.DepositToVaultID(ctx, d.target.Dest.VaultID, d.token, amount, cur.prevout)
		if err != nil {
			return err
		}
		cur.record(built)
		dest := "own vault"
		if d.target.Dest.VaultID != r.prog.VaultID() {
			dest = d.target.Dest.VaultID
		}
		cur.sent = append(cur.sent, fmt.Sprintf("deposited %s@%s to %s", amount.StringFixed(4), d.symbol, dest))
	}
	return nil
}

func (r *Reinvestor) swap(ctx context.Context, cur *run, amount decimal.Decimal, to uint32, t *Target) (*tx.Built, decimal.Decimal, error) {
	pools, ret, err := r.prog.BestPathPools(ctx, 0, to, amount)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("reinvest: path to %s: %w", t.Token, err)
	}
	var dest []byte
	if t.Dest.Kind == DestWallet {
		dest = t.Dest.Script
	}
	b, err := r.prog.CompositeSwap(ctx, amount, 0, to, pools, decimal.Zero, dest, cur.prevout)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return b, amount.Mul(ret).Round(8), nil
}

func (r *Reinvestor) tokenID(ctx context.Context, collateral []network.CollateralToken, symbol string) (uint32, error) {
	if c := program.CollateralTokenByKey(collateral, symbol); c != nil {
		return program.ParseTokenID(c.Token.ID)
	}
	tok, err := r.prog.Token(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return program.ParseTokenID(tok.ID)
}

func (r *Reinvestor) summary(amount decimal.Decimal, req Request, fromUtxos, donated decimal.Decimal, cur *run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "reinvested %s@DFI (%s DFI tokens, %s UTXOs, minus %s donation)",
		amount.StringFixed(4), req.DFIBalance.StringFixed(4), fromUtxos.StringFixed(4), donated.StringFixed(4))
	for _, dest := range cur.order {
		verb := "sent to "
		if dest == r.prog.Address() {
			verb = "into "
		}
		label := "wallet"
		if dest != r.prog.Address() {
			label = dest
		}
		fmt.Fprintf(&b, "\n%s%s: %s", verb, label, strings.Join(cur.sentTo[dest], ", "))
	}
	for _, line := range cur.sent {
		b.WriteString("\n" + line)
	}
	return b.String()
}

// Plan is the nominal split of one reinvest amount. Shares are taken from
// the full amount, before the donation is carved off.
type Plan struct {
	Donation decimal.Decimal
	Shares   []decimal.Decimal
}

// Allocate splits amount over targets and computes the donation for
// donationPercent, which the caller caps.
func Allocate(amount, donationPercent decimal.Decimal, targets []*Target) Plan {
	plan := Plan{Donation: decimal.Zero, Shares: make([]decimal.Decimal, len(targets))}
	if donationPercent.IsPositive() {
		plan.Donation = amount.Mul(donationPercent).Div(hundred).Round(8)
	}
	for i, t := range targets {
		plan.Shares[i] = amount.Mul(t.Percent).Div(hundred).Round(8)
	}
	return plan
}

// byKind returns the target indices in execution order: DFI transfers
// first, then token swaps, then pool targets. Pattern order is kept within
// each kind.
func byKind(targets []*Target) []int {
	order := make([]int, 0, len(targets))
	for _, k := range []TokenKind{KindDFI, KindToken, KindLP} {
		for i, t := range targets {
			if t.Kind == k {
				order = append(order, i)
			}
		}
	}
	return order
}

func hasKind(targets []*Target, k TokenKind) bool {
	for _, t := range targets {
		if t.Kind == k {
			return true
		}
	}
	return false
}
