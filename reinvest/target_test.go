package reinvest

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defichain-maxi/maxi-go/notify"
	"github.com/defichain-maxi/maxi-go/wallet"
)

const (
	ownAddress   = "df1qw508d6qejxtdg4y5r3zarvary0c5xw7kyrml82"
	otherAddress = "df1qqtlz4uw9w5s4pupwgucv4shl6atqw7xlz2wn07"
)

var (
	ownVault   = strings.Repeat("0a", 32)
	otherVault = strings.Repeat("bb", 32)
)

type fakeResolver struct {
	collateral map[string]bool
}

func (fakeResolver) Address() string { return ownAddress }
func (fakeResolver) Script() []byte {
	s, _ := wallet.AddressToScript(ownAddress, &wallet.MainNet)
	return s
}
func (fakeResolver) VaultID() string                  { return ownVault }
func (fakeResolver) Network() *wallet.NetworkConfig   { return &wallet.MainNet }
func (r fakeResolver) IsCollateral(token string) bool { return r.collateral[token] }

func resolver() fakeResolver {
	return fakeResolver{collateral: map[string]bool{"DFI": true, "BTC": true, "DUSD": true}}
}

func pct(t *Target) string { return t.Percent.StringFixed(2) }

// --- parsing ---

func TestParseTargetsExplicitPercents(t *testing.T) {
	targets := ParseTargets("DFI:50 BTC:30 DUSD:20", resolver())
	require.Len(t, targets, 3)

	assert.Equal(t, "DFI", targets[0].Token)
	assert.Equal(t, KindDFI, targets[0].Kind)
	assert.Equal(t, "50.00", pct(targets[0]))
	assert.Equal(t, DestVault, targets[0].Dest.Kind)
	assert.Equal(t, ownVault, targets[0].Dest.VaultID)

	assert.Equal(t, KindToken, targets[1].Kind)
	assert.Equal(t, "30.00", pct(targets[1]))
	assert.Equal(t, "20.00", pct(targets[2]))
	assert.Empty(t, Validate(targets))
}

func TestParseTargetsSharesRemainder(t *testing.T) {
	tests := []struct {
		pattern string
		want    []string
	}{
		{"DFI BTC", []string{"50.00", "50.00"}},
		{"DFI:60 BTC DUSD", []string{"60.00", "20.00", "20.00"}},
		{"DFI:40  BTC::wallet", []string{"40.00", "60.00"}},
		{"DFI:100 BTC", []string{"100.00"}},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			targets := ParseTargets(tt.pattern, resolver())
			got := make([]string, 0, len(targets))
			for _, tg := range targets {
				got = append(got, pct(tg))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTargetsKinds(t *testing.T) {
	targets := ParseTargets("DFI:20 GLD-DUSD:40 TSLA:40", resolver())
	require.Len(t, targets, 3)
	assert.Equal(t, KindLP, targets[1].Kind)
	assert.Equal(t, KindToken, targets[2].Kind)

	// non-collateral tokens default to the wallet
	assert.Equal(t, DestWallet, targets[1].Dest.Kind)
	assert.Equal(t, ownAddress, targets[1].Dest.Address)
	assert.NotNil(t, targets[1].Dest.Script)
}

func TestParseTargetsDestinations(t *testing.T) {
	targets := ParseTargets("DFI:25:wallet BTC:25:"+otherVault+" DUSD:25:"+otherAddress+" TSLA:25:vault", resolver())
	require.Len(t, targets, 4)

	assert.Equal(t, DestWallet, targets[0].Dest.Kind)
	assert.Equal(t, ownAddress, targets[0].Dest.Address)

	assert.Equal(t, DestVault, targets[1].Dest.Kind)
	assert.Equal(t, otherVault, targets[1].Dest.VaultID)

	assert.Equal(t, DestWallet, targets[2].Dest.Kind)
	want, err := wallet.AddressToScript(otherAddress, &wallet.MainNet)
	require.NoError(t, err)
	assert.Equal(t, want, targets[2].Dest.Script)

	// a vault is no home for a non-collateral token
	assert.Equal(t, DestUnset, targets[3].Dest.Kind)
}

// --- validation ---

func TestValidateReportsProblems(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    string
	}{
		{"sum", "DFI:50 BTC:40", "sum of reinvest targets is not 100%. Its 90"},
		{"non-collateral vault", "TSLA:100:" + otherVault, "likely a vault target with non-collateral asset"},
		{"bad address", "BTC:100:nope", "reinvest target address nope is not valid"},
		{"bad percent", "DFI:abc BTC:100", "invalid percent (abc) in reinvest target DFI"},
		{"over hundred", "DFI:150", "invalid percent (150) in reinvest target DFI"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problems := Validate(ParseTargets(tt.pattern, resolver()))
			require.NotEmpty(t, problems)
			assert.Contains(t, strings.Join(problems, "\n"), tt.want)
		})
	}
}

func TestValidateRoundsSum(t *testing.T) {
	assert.Empty(t, Validate(ParseTargets("DFI:33.33 BTC:33.33 DUSD:33.34", resolver())))
	assert.Empty(t, Validate(ParseTargets("DFI BTC DUSD", resolver())))
}

func TestPrepareDropsInvalidPattern(t *testing.T) {
	rec := &notify.Recorder{}
	assert.Nil(t, Prepare(context.Background(), "DFI:50 BTC:10", resolver(), rec))
	sent := rec.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "will not do any reinvest until errors are fixed", sent[1])

	rec = &notify.Recorder{}
	assert.Len(t, Prepare(context.Background(), "DFI", resolver(), rec), 1)
	assert.Empty(t, rec.Sent())
}

// --- messages ---

func TestMessage(t *testing.T) {
	targets := ParseTargets("DFI:50 BTC:30:"+otherVault+" DUSD:20:"+otherAddress, resolver())
	msg := Message(targets, 5, 3, resolver())
	assert.Contains(t, msg, "reinvest Targets:")
	assert.Contains(t, msg, "50.0% reinvesting as DFI")
	assert.Contains(t, msg, "30.0% depositing to bbbbbb...bbbbbb as BTC")
	assert.Contains(t, msg, "20.0% sending to df1qqt...z2wn07 as DUSD")
	assert.Contains(t, msg, "Thank you for donating 3% of your rewards")

	assert.Contains(t, Message(targets, 0, 0, resolver()), "not reinvesting")
	assert.Contains(t, Message(nil, 5, 0, resolver()), "no reinvest targets -> no reinvest")
	assert.Contains(t, Message(targets, 5, 0, resolver()), "auto donation is turned off")
	assert.Contains(t, Message(targets, 5, 80, resolver()), "Donation was reduced to 50% of your reinvest")
}

func TestCappedDonation(t *testing.T) {
	assert.Equal(t, "50", CappedDonation(decimal.NewFromInt(80)).String())
	assert.Equal(t, "5", CappedDonation(decimal.NewFromInt(5)).String())
	assert.Equal(t, DonationAddressTestnet, DonationAddressFor(true))
	assert.Equal(t, DonationAddress, DonationAddressFor(false))
}
