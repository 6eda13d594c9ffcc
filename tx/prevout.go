package tx

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Prevout is a spendable output, confirmed or not. Amount is in satoshi.
type Prevout struct {
	TxID    string
	Vout    uint32
	Amount  uint64
	Script  []byte
	TokenID uint32
}

// Value returns Amount in DFI.
func (p Prevout) Value() decimal.Decimal {
	return decimal.New(int64(p.Amount), -8)
}

func (p Prevout) key() string { return fmt.Sprintf("%s:%d", p.TxID, p.Vout) }

// Output is an additional output appended after the change output, such as
// the minted outputs of an account-to-utxos conversion.
type Output struct {
	Script  []byte
	Amount  uint64
	TokenID uint32
}

// Chain tracks outputs consumed and produced by transactions broadcast in
// this process but not yet confirmed. It only ever grows.
type Chain struct {
	mu    sync.Mutex
	spent map[string]struct{}
	tips  []Prevout
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	return &Chain{spent: make(map[string]struct{})}
}

// Push records a broadcast transaction: its inputs become spent and its
// change output becomes the new tip.
func (c *Chain) Push(b *Built) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, in := range b.Inputs {
		c.spent[in.key()] = struct{}{}
	}
	if b.Change != nil {
		c.tips = append(c.tips, *b.Change)
	}
}

// Tip returns the newest unspent change output, or nil.
func (c *Chain) Tip() *Prevout {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.tips) - 1; i >= 0; i-- {
		if _, spent := c.spent[c.tips[i].key()]; !spent {
			tip := c.tips[i]
			return &tip
		}
	}
	return nil
}

// Spent reports whether txid:vout was consumed by a pushed transaction.
func (c *Chain) Spent(txid string, vout uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.spent[Prevout{TxID: txid, Vout: vout}.key()]
	return ok
}

// Filter drops outputs already consumed by pushed transactions and adds
// unspent change outputs the node does not report yet.
func (c *Chain) Filter(confirmed []Prevout) []Prevout {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]struct{}, len(confirmed))
	out := make([]Prevout, 0, len(confirmed)+len(c.tips))
	for _, p := range confirmed {
		if _, spent := c.spent[p.key()]; spent {
			continue
		}
		seen[p.key()] = struct{}{}
		out = append(out, p)
	}
	for _, tip := range c.tips {
		if _, spent := c.spent[tip.key()]; spent {
			continue
		}
		if _, dup := seen[tip.key()]; dup {
			continue
		}
		out = append(out, tip)
	}
	return out
}
