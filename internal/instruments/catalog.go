// Package instruments loads the session's instrument reference data.
package instruments

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"prop_terminal/internal/models"
)

type entry struct {
	Symbol         string `yaml:"symbol"`
	PipSize        string `yaml:"pip_size"`
	QuotePrecision *int32 `yaml:"quote_precision"`
	ContractSize   string `yaml:"contract_size"`
	LotStep        string `yaml:"lot_step"`
}

type file struct {
	Instruments []entry `yaml:"instruments"`
}

// Catalog is read-only after load.
type Catalog struct {
	mu    sync.RWMutex
	items map[string]models.Instrument
}

func NewCatalog(items ...models.Instrument) *Catalog {
	c := &Catalog{items: make(map[string]models.Instrument, len(items))}
	for _, it := range items {
		c.items[normSymbol(it.Symbol)] = it
	}
	return c
}

// LoadFile reads a YAML catalog from path.
func LoadFile(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instruments %s: %w", path, err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode instruments: %w", err)
	}
	items := make([]models.Instrument, 0, len(f.Instruments))
	for _, e := range f.Instruments {
		inst, err := e.toModel()
		if err != nil {
			return nil, err
		}
		items = append(items, inst)
	}
	return NewCatalog(items...), nil
}

func (e entry) toModel() (models.Instrument, error) {
	sym := normSymbol(e.Symbol)
	if sym == "" {
		return models.Instrument{}, fmt.Errorf("instrument without symbol")
	}
	pip, err := decimal.NewFromString(e.PipSize)
	if err != nil || !pip.IsPositive() {
		return models.Instrument{}, fmt.Errorf("%s: pip_size %q must be a positive decimal", sym, e.PipSize)
	}
	inst := models.Instrument{
		Symbol:       sym,
		PipSize:      pip,
		ContractSize: decimal.NewFromInt(1),
		LotStep:      decimal.RequireFromString("0.01"),
	}
	// display precision is one digit past the pip unless stated
	inst.QuotePrecision = inst.PipDecimals() + 1
	if e.QuotePrecision != nil {
		if *e.QuotePrecision < inst.PipDecimals() {
			return models.Instrument{}, fmt.Errorf("%s: quote_precision %d finer than pip", sym, *e.QuotePrecision)
		}
		inst.QuotePrecision = *e.QuotePrecision
	}
	if e.ContractSize != "" {
		cs, err := decimal.NewFromString(e.ContractSize)
		if err != nil || !cs.IsPositive() {
			return models.Instrument{}, fmt.Errorf("%s: contract_size %q invalid", sym, e.ContractSize)
		}
		inst.ContractSize = cs
	}
	if e.LotStep != "" {
		ls, err := decimal.NewFromString(e.LotStep)
		if err != nil || !ls.IsPositive() {
			return models.Instrument{}, fmt.Errorf("%s: lot_step %q invalid", sym, e.LotStep)
		}
		inst.LotStep = ls
	}
	return inst, nil
}

// Get returns the instrument for symbol.
func (c *Catalog) Get(symbol string) (models.Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[normSymbol(symbol)]
	return it, ok
}

func (c *Catalog) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.items))
	for s := range c.items {
		out = append(out, s)
	}
	return out
}

func normSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
