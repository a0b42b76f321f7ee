// market/instruments.go
package market

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrInvalidInstrument = errors.New("invalid instrument spec")
)

var validate = validator.New()

// InstrumentSpec carries the broker constraints needed to size and manage a
// position. PipValuePerLot is expressed in account currency for one standard lot.
type InstrumentSpec struct {
	Name           string  `json:"name" yaml:"name" validate:"required"`
	BaseCurrency   string  `json:"base_currency" yaml:"base_currency" validate:"required,len=3"`
	QuoteCurrency  string  `json:"quote_currency" yaml:"quote_currency" validate:"required,len=3"`
	PipSize        float64 `json:"pip_size" yaml:"pip_size" validate:"gt=0"`
	PipValuePerLot float64 `json:"pip_value_per_lot" yaml:"pip_value_per_lot" validate:"gt=0"`
	MinLot         float64 `json:"min_lot" yaml:"min_lot" validate:"gt=0"`
	MaxLot         float64 `json:"max_lot" yaml:"max_lot" validate:"gtefield=MinLot"`
	LotStep        float64 `json:"lot_step" yaml:"lot_step" validate:"gt=0"`
}

// Validate reports a malformed spec. A spec that fails here must never be
// used for sizing.
func (s InstrumentSpec) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidInstrument, s.Name, err)
	}
	return nil
}

// Pips converts a price distance to pips, rounded to a tenth of a pip so
// that float noise does not leak into trigger comparisons.
func (s InstrumentSpec) Pips(distance float64) float64 {
	return PriceToPips(distance, s.PipSize)
}

// PipsToPrice converts a pip distance back into a price distance.
func (s InstrumentSpec) PipsToPrice(pips float64) float64 {
	return pips * s.PipSize
}

// RoundPrice rounds a price to a tenth of a pip.
func (s InstrumentSpec) RoundPrice(p float64) float64 {
	places := -decimal.NewFromFloat(s.PipSize).Exponent() + 1
	f, _ := decimal.NewFromFloat(p).Round(places).Float64()
	return f
}

// FloorLots rounds lots down to the lot step and clamps into [MinLot, MaxLot].
func (s InstrumentSpec) FloorLots(lots float64) float64 {
	step := decimal.NewFromFloat(s.LotStep)
	d := decimal.NewFromFloat(lots).Div(step).Floor().Mul(step)
	min := decimal.NewFromFloat(s.MinLot)
	max := decimal.NewFromFloat(s.MaxLot)
	if d.LessThan(min) {
		d = min
	}
	if d.GreaterThan(max) {
		d = max
	}
	f, _ := d.Float64()
	return f
}

// StepDown rounds lots down to the lot step without clamping. Used for
// partial closes where zero is a valid answer.
func (s InstrumentSpec) StepDown(lots float64) float64 {
	if lots <= 0 {
		return 0
	}
	step := decimal.NewFromFloat(s.LotStep)
	f, _ := decimal.NewFromFloat(lots).Div(step).Floor().Mul(step).Float64()
	return f
}

// SubLots subtracts b from a without accumulating float error.
func SubLots(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Float64()
	return f
}

// NormalizeSymbol maps "EURUSD", "eur/usd" and "EUR_USD" to "EUR_USD".
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("/", "_", "-", "_").Replace(s)
	if !strings.Contains(s, "_") && len(s) == 6 {
		s = s[:3] + "_" + s[3:]
	}
	return s
}

// Currencies returns the base and quote currency codes for a symbol.
func Currencies(symbol string) (base, quote string, ok bool) {
	parts := strings.Split(NormalizeSymbol(symbol), "_")
	if len(parts) != 2 || len(parts[0]) != 3 || len(parts[1]) != 3 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// DefaultInstruments are used when the configuration does not override them.
var DefaultInstruments = []InstrumentSpec{
	{Name: "EUR_USD", BaseCurrency: "EUR", QuoteCurrency: "USD", PipSize: 0.0001, PipValuePerLot: 10, MinLot: 0.01, MaxLot: 100, LotStep: 0.01},
	{Name: "GBP_USD", BaseCurrency: "GBP", QuoteCurrency: "USD", PipSize: 0.0001, PipValuePerLot: 10, MinLot: 0.01, MaxLot: 100, LotStep: 0.01},
	{Name: "AUD_USD", BaseCurrency: "AUD", QuoteCurrency: "USD", PipSize: 0.0001, PipValuePerLot: 10, MinLot: 0.01, MaxLot: 100, LotStep: 0.01},
	{Name: "USD_JPY", BaseCurrency: "USD", QuoteCurrency: "JPY", PipSize: 0.01, PipValuePerLot: 6.7, MinLot: 0.01, MaxLot: 100, LotStep: 0.01},
	{Name: "XAU_USD", BaseCurrency: "XAU", QuoteCurrency: "USD", PipSize: 0.1, PipValuePerLot: 10, MinLot: 0.01, MaxLot: 50, LotStep: 0.01},
}

// Registry is a concurrency-safe set of instrument specs keyed by
// normalized symbol.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]InstrumentSpec
}

// NewRegistry validates every spec and fails on the first malformed one.
func NewRegistry(specs ...InstrumentSpec) (*Registry, error) {
	r := &Registry{specs: make(map[string]InstrumentSpec, len(specs))}
	for _, s := range specs {
		if err := r.Add(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustDefaultRegistry returns a registry holding DefaultInstruments.
func MustDefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultInstruments...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Add(s InstrumentSpec) error {
	s.Name = NormalizeSymbol(s.Name)
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[s.Name] = s
	return nil
}

func (r *Registry) Lookup(symbol string) (InstrumentSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[NormalizeSymbol(symbol)]
	if !ok {
		return InstrumentSpec{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}
	return s, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.specs))
	for k := range r.specs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
