// Package programtest provides an in-memory DeFiChain node and a ready
// Program for tests of the bot engines.
package programtest

import (
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/defichain-maxi/maxi-go/config"
	"github.com/defichain-maxi/maxi-go/network"
	"github.com/defichain-maxi/maxi-go/notify"
	"github.com/defichain-maxi/maxi-go/program"
	"github.com/defichain-maxi/maxi-go/store"
	"github.com/defichain-maxi/maxi-go/tx"
	"github.com/defichain-maxi/maxi-go/waiter"
	"github.com/defichain-maxi/maxi-go/wallet"
)

// Words is a fixed 24-word test mnemonic.
const Words = "abandon abandon abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon abandon abandon art"

// VaultID is the vault id used by Settings.
var VaultID = strings.Repeat("0a", 32)

// Account derives the first mainnet account of Words.
func Account(t testing.TB) *wallet.KeyPair {
	t.Helper()
	w, err := wallet.FromWords(wallet.SplitSeed(Words), &wallet.MainNet)
	if err != nil {
		t.Fatalf("programtest: wallet: %v", err)
	}
	kp, err := w.DeriveAccount(0)
	if err != nil {
		t.Fatalf("programtest: derive: %v", err)
	}
	return kp
}

// Settings returns settings of kind for the Account address. With signed
// the seed is included.
func Settings(t testing.TB, kind config.BotKind, signed bool) *config.Settings {
	t.Helper()
	set := &config.Settings{Kind: kind}
	set.Address = Account(t).Address
	set.Vault = VaultID
	if signed {
		set.Seed = wallet.SplitSeed(Words)
	}
	switch kind {
	case config.BotMaxi:
		m := config.DefaultMaxiSettings()
		set.Maxi = &m
	case config.BotReinvest:
		r := config.DefaultReinvestSettings()
		set.Reinvest = &r
	case config.BotBalancer:
		b := config.DefaultBalancerSettings()
		set.Balancer = &b
	}
	return set
}

// Node is a scriptable chain. Broadcast transactions are decoded and
// kept in Sent; every sent transaction confirms unless Unconfirmed is set.
type Node struct {
	mu sync.Mutex

	Height      uint64
	UTXOs       []*network.UTXO
	Balances    []network.TokenAmount
	Tokens      []network.Token
	Pools       []network.Pool
	Vault       *network.Vault
	Prices      map[string]*network.OraclePrice
	LoanTokens  map[string]*network.LoanToken
	Collateral  []network.CollateralToken
	Paths       map[string]*network.BestPath
	Unconfirmed bool
	SendErr     error

	// OnSend runs after a broadcast is recorded, with the node unlocked.
	OnSend func(n *Node, t *tx.Transaction)

	Sent []*tx.Transaction
}

// NewNode returns a node at height 1000 holding one 10 DFI output on the
// Account address.
func NewNode(t testing.TB) *Node {
	t.Helper()
	lock, err := wallet.P2WPKHScript(Account(t).PublicKey)
	if err != nil {
		t.Fatalf("programtest: script: %v", err)
	}
	return &Node{
		Height: 1000,
		UTXOs: []*network.UTXO{{
			TxID:          strings.Repeat("cd", 32),
			Vout:          0,
			Amount:        decimal.NewFromInt(10),
			ScriptPubKey:  hex.EncodeToString(lock),
			Confirmations: 10,
		}},
		Prices:     map[string]*network.OraclePrice{},
		LoanTokens: map[string]*network.LoanToken{},
		Paths:      map[string]*network.BestPath{},
	}
}

// SetBalance sets the account balance of symbol.
func (n *Node) SetBalance(id, symbol string, amount decimal.Decimal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range n.Balances {
		if n.Balances[i].Symbol == symbol {
			n.Balances[i].Amount = amount
			return
		}
	}
	n.Balances = append(n.Balances, network.TokenAmount{ID: id, Symbol: symbol, Amount: amount})
}

// Ops returns the DfTx type of every broadcast, in order.
func (n *Node) Ops() []tx.OpType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]tx.OpType, 0, len(n.Sent))
	for _, t := range n.Sent {
		p, err := tx.ParsePayload(t.Outputs[0].Script)
		if err != nil {
			continue
		}
		out = append(out, p.Type)
	}
	return out
}

// Payloads returns the DfTx payload of every broadcast, in order.
func (n *Node) Payloads() []tx.Payload {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]tx.Payload, 0, len(n.Sent))
	for _, t := range n.Sent {
		if p, err := tx.ParsePayload(t.Outputs[0].Script); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// Service exposes the node as a ChainService.
func (n *Node) Service() *network.MockChainService {
	return &network.MockChainService{
		GetVaultFn: func(_ context.Context, id string) (*network.Vault, error) {
			n.mu.Lock()
			defer n.mu.Unlock()
			if n.Vault == nil || n.Vault.ID != id {
				return nil, fmt.Errorf("%w: vault %s", network.ErrNotFound, id)
			}
			v := *n.Vault
			return &v, nil
		},
		ListUnspentFn: func(_ context.Context, _ string, limit int) ([]*network.UTXO, error) {
			n.mu.Lock()
			defer n.mu.Unlock()
			if limit > len(n.UTXOs) {
				limit = len(n.UTXOs)
			}
			return append([]*network.UTXO(nil), n.UTXOs[:limit]...), nil
		},
		ListTokenBalancesFn: func(context.Context, string) ([]network.TokenAmount, error) {
			n.mu.Lock()
			defer n.mu.Unlock()
			return append([]network.TokenAmount(nil), n.Balances...), nil
		},
		ListTokensFn: func(context.Context) ([]network.Token, error) {
			n.mu.Lock()
			defer n.mu.Unlock()
			return append([]network.Token(nil), n.Tokens...), nil
		},
		ListPoolsFn: func(context.Context, network.PageRequest) (*network.Page[network.Pool], error) {
			n.mu.Lock()
			defer n.mu.Unlock()
			return &network.Page[network.Pool]{Items: append([]network.Pool(nil), n.Pools...)}, nil
		},
		ListCollateralTokensFn: func(context.Context) ([]network.CollateralToken, error) {
			n.mu.Lock()
			defer n.mu.Unlock()
			return append([]network.CollateralToken(nil), n.Collateral...), nil
		},
		GetLoanTokenFn: func(_ context.Context, symbol string) (*network.LoanToken, error) {
			n.mu.Lock()
			defer n.mu.Unlock()
			if lt, ok := n.LoanTokens[symbol]; ok {
				return lt, nil
			}
			return nil, fmt.Errorf("%w: loan token %s", network.ErrNotFound, symbol)
		},
		GetOraclePriceFn: func(_ context.Context, symbol string) (*network.OraclePrice, error) {
			n.mu.Lock()
			defer n.mu.Unlock()
			if symbol == "DUSD" {
				return &network.OraclePrice{Active: decimal.NewFromInt(1), Next: decimal.NewFromInt(1), IsLive: true}, nil
			}
			if p, ok := n.Prices[symbol]; ok {
				return p, nil
			}
			return nil, fmt.Errorf("%w: price %s", network.ErrNotFound, symbol)
		},
		GetBestPathFn: func(_ context.Context, from, to string, amount decimal.Decimal) (*network.BestPath, error) {
			n.mu.Lock()
			defer n.mu.Unlock()
			if p, ok := n.Paths[from+">"+to]; ok {
				return p, nil
			}
			return nil, fmt.Errorf("%w: path %s>%s", network.ErrNotFound, from, to)
		},
		GetBlockHeightFn: func(context.Context) (uint64, error) {
			n.mu.Lock()
			defer n.mu.Unlock()
			return n.Height, nil
		},
		ListBlocksFn: func(_ context.Context, count int) ([]network.Block, error) {
			n.mu.Lock()
			defer n.mu.Unlock()
			now := time.Now()
			out := make([]network.Block, 0, count)
			for i := 0; i < count; i++ {
				at := now.Add(-time.Duration(30*i) * time.Second)
				out = append(out, network.Block{Height: n.Height - uint64(i), Time: at, MedianTime: at})
			}
			return out, nil
		},
		SendRawTxFn: func(_ context.Context, raw string) (string, error) {
			b, err := hex.DecodeString(raw)
			if err != nil {
				return "", err
			}
			t, err := tx.DecodeTransaction(b)
			if err != nil {
				return "", err
			}
			n.mu.Lock()
			if n.SendErr != nil {
				err := n.SendErr
				n.mu.Unlock()
				return "", err
			}
			n.Sent = append(n.Sent, t)
			hook := n.OnSend
			n.mu.Unlock()
			if hook != nil {
				hook(n, t)
			}
			return t.TxID(), nil
		},
		GetTransactionFn: func(_ context.Context, txid string) (*network.TxStatus, error) {
			n.mu.Lock()
			defer n.mu.Unlock()
			if n.Unconfirmed {
				return nil, network.ErrTxNotFound
			}
			return &network.TxStatus{TxID: txid, Confirmed: true, Confirmations: 1}, nil
		},
	}
}

// Env is a Program wired to a Node, a bolt store and a recording notifier.
type Env struct {
	Program  *program.Program
	Node     *Node
	Store    *store.BoltStore
	Notifier *notify.Recorder
}

// New builds an Env with millisecond timings.
func New(t testing.TB, set *config.Settings, node *Node) *Env {
	t.Helper()
	st, err := store.OpenBoltStore(filepath.Join(t.TempDir(), "maxi.db"), store.Options{})
	if err != nil {
		t.Fatalf("programtest: store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	rec := &notify.Recorder{}
	p, err := program.New(Options(set, st, node.Service(), rec))
	if err != nil {
		t.Fatalf("programtest: program: %v", err)
	}
	return &Env{Program: p, Node: node, Store: st, Notifier: rec}
}

// Options returns program options with millisecond waiter and sender
// timings, for tests that build their own programs.
func Options(set *config.Settings, st store.Store, chain network.ChainService, n notify.Notifier) program.Options {
	w := waiter.New(chain)
	w.InitialDelay = time.Millisecond
	w.PollInterval = time.Millisecond
	w.Signing = waiter.Limits{Duration: 50 * time.Millisecond, Blocks: 20}
	w.NonSigning = waiter.Limits{Duration: 50 * time.Millisecond, Blocks: 30}
	return program.Options{
		Settings:    set,
		Store:       st,
		Chain:       chain,
		Notifier:    n,
		Network:     &wallet.MainNet,
		Sender:      tx.SenderConfig{Interval: time.Millisecond, MaxStallWait: 10 * time.Millisecond},
		Waiter:      w,
		ChainedWait: time.Millisecond,
	}
}
