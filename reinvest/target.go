// Package reinvest distributes DFI rewards across a pattern of targets:
// plain DFI, single tokens and liquidity pool shares, each sent to a
// wallet or deposited into a vault.
//
// Pattern syntax, space separated: TOKEN[:PERCENT[:DESTINATION]]. A missing
// percent shares the remainder equally. DESTINATION is an address, a vault
// id, "wallet" or "vault"; without it collateral tokens go to the own vault
// and everything else to the own wallet.
package reinvest

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/defichain-maxi/maxi-go/network"
	"github.com/defichain-maxi/maxi-go/notify"
	"github.com/defichain-maxi/maxi-go/program"
	"github.com/defichain-maxi/maxi-go/wallet"
)

// TokenKind classifies a target by what has to be bought.
type TokenKind int

const (
	KindDFI TokenKind = iota
	KindToken
	KindLP
)

// DestinationKind is where the bought asset ends up.
type DestinationKind int

const (
	DestUnset DestinationKind = iota
	DestWallet
	DestVault
)

// Destination of one target. For wallets Script is nil when the address
// does not decode.
type Destination struct {
	Kind    DestinationKind
	Address string
	Script  []byte
	VaultID string
}

// Target is one parsed pattern entry.
type Target struct {
	Token   string
	Percent decimal.Decimal
	Kind    TokenKind
	Dest    Destination

	rawPercent string
	badPercent bool
}

// Resolver supplies what parsing needs to know about the own wallet.
type Resolver interface {
	Address() string
	Script() []byte
	VaultID() string
	Network() *wallet.NetworkConfig
	IsCollateral(token string) bool
}

type programResolver struct {
	*program.Program
	collateral []network.CollateralToken
}

func (r programResolver) IsCollateral(token string) bool {
	return program.CollateralTokenByKey(r.collateral, token) != nil
}

// NewResolver adapts a program and the node's collateral token list.
func NewResolver(p *program.Program, collateral []network.CollateralToken) Resolver {
	return programResolver{Program: p, collateral: collateral}
}

var hundred = decimal.NewFromInt(100)

func kindOf(token string) TokenKind {
	switch {
	case token == "DFI":
		return KindDFI
	case strings.Index(token, "-") > 0:
		return KindLP
	}
	return KindToken
}

// ParseTargets reads pattern. It never fails; problems are kept on the
// targets for Validate. Targets whose share resolves to zero are dropped.
func ParseTargets(pattern string, r Resolver) []*Target {
	var (
		targets   []*Target
		total     = decimal.Zero
		noPercent int
		scripts   = map[string][]byte{}
	)
	for _, entry := range strings.Fields(pattern) {
		parts := strings.Split(entry, ":")
		t := &Target{Token: parts[0], Kind: kindOf(parts[0])}
		if len(parts) > 1 && parts[1] != "" {
			t.rawPercent = parts[1]
			pct, err := decimal.NewFromString(parts[1])
			if err != nil {
				t.badPercent = true
			} else {
				t.Percent = pct
				total = total.Add(pct)
			}
		} else {
			noPercent++
		}

		collateral := r.IsCollateral(t.Token)
		address := ""
		if len(parts) > 2 {
			address = parts[2]
		}
		switch address {
		case "":
			if collateral {
				t.Dest = Destination{Kind: DestVault, VaultID: r.VaultID()}
			} else {
				t.Dest = Destination{Kind: DestWallet, Address: r.Address(), Script: r.Script()}
			}
		case "wallet":
			address = r.Address()
		case "vault":
			address = r.VaultID()
		}
		if address != "" {
			switch {
			case program.IsVaultID(address):
				if collateral {
					t.Dest = Destination{Kind: DestVault, VaultID: address}
				}
			default:
				s, ok := scripts[address]
				if !ok {
					s, _ = wallet.AddressToScript(address, r.Network())
					scripts[address] = s
				}
				t.Dest = Destination{Kind: DestWallet, Address: address, Script: s}
			}
		}
		targets = append(targets, t)
	}

	remaining := decimal.Zero
	if total.LessThan(hundred) && noPercent > 0 {
		remaining = hundred.Sub(total).Div(decimal.NewFromInt(int64(noPercent)))
	}
	out := targets[:0]
	for _, t := range targets {
		if t.rawPercent == "" {
			t.Percent = remaining
		}
		if t.Percent.IsPositive() || t.badPercent {
			out = append(out, t)
		}
	}
	return out
}

// Validate lists every problem of targets. An empty result means the
// targets may be executed.
func Validate(targets []*Target) []string {
	var problems []string
	sum := decimal.Zero
	for _, t := range targets {
		switch {
		case t.Dest.Kind == DestUnset:
			problems = append(problems, "invalid reinvest target, likely a vault target with non-collateral asset. please check logs")
		case t.Dest.Kind == DestWallet && t.Dest.Script == nil:
			problems = append(problems, "reinvest target address "+t.Dest.Address+" is not valid")
		}
		if t.badPercent || t.Percent.IsNegative() || t.Percent.GreaterThan(hundred) {
			problems = append(problems, fmt.Sprintf("invalid percent (%s) in reinvest target %s", t.percentText(), t.Token))
		}
		sum = sum.Add(t.Percent)
	}
	if rounded := sum.Round(0); !rounded.Equal(hundred) {
		problems = append(problems, "sum of reinvest targets is not 100%. Its "+rounded.String())
	}
	return problems
}

func (t *Target) percentText() string {
	if t.badPercent {
		return t.rawPercent
	}
	return t.Percent.String()
}

// Prepare parses and validates pattern. Any problem is reported to the
// user and yields no targets, so nothing is reinvested this run.
func Prepare(ctx context.Context, pattern string, r Resolver, n notify.Notifier) []*Target {
	targets := ParseTargets(pattern, r)
	problems := Validate(targets)
	if len(problems) == 0 {
		return targets
	}
	for _, p := range problems {
		n.Send(ctx, p)
	}
	n.Send(ctx, "will not do any reinvest until errors are fixed")
	return nil
}

// describe renders the destination for logs and messages.
func (t *Target) describe(r Resolver) string {
	switch t.Dest.Kind {
	case DestWallet:
		if t.Dest.Address == r.Address() {
			return "swapping to wallet"
		}
		return "sending to " + wallet.ShortAddress(t.Dest.Address)
	case DestVault:
		if t.Dest.VaultID == r.VaultID() {
			return "reinvesting"
		}
		return "depositing to " + wallet.ShortAddress(t.Dest.VaultID)
	}
	return "nowhere"
}

// Message summarises the reinvest configuration for setup checks.
func Message(targets []*Target, threshold, donationPercent float64, r Resolver) string {
	var b strings.Builder
	b.WriteString("\n")
	switch {
	case threshold <= 0:
		b.WriteString("not reinvesting")
	case len(targets) == 0:
		b.WriteString("no reinvest targets -> no reinvest")
	default:
		b.WriteString("reinvest Targets:")
		for _, t := range targets {
			fmt.Fprintf(&b, "\n  %s%% %s as %s", t.Percent.StringFixed(1), t.describe(r), t.Token)
		}
	}
	b.WriteString("\n")
	switch {
	case donationPercent <= 0:
		b.WriteString("auto donation is turned off")
	case donationPercent > MaxDonationPercent:
		fmt.Fprintf(&b, "Thank you for donating %d%% of your rewards. You set to donate %s%% which is great but feels like an input error. "+
			"Donation was reduced to %d%% of your reinvest. Feel free to donate more manually",
			MaxDonationPercent, decimal.NewFromFloat(donationPercent).String(), MaxDonationPercent)
	default:
		fmt.Fprintf(&b, "Thank you for donating %s%% of your rewards", decimal.NewFromFloat(donationPercent).String())
	}
	return b.String()
}
