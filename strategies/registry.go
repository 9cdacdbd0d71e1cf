package strategies

import (
	"backtester/internal/engine"
	"backtester/strategies/breakout"
	"backtester/strategies/donchian"
	"backtester/strategies/meanreversion"
	"backtester/strategies/multiindicator"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
)

var (
	ErrUnknownStrategy   = errors.New("unknown strategy")
	ErrDuplicateStrategy = errors.New("strategy already registered")
	ErrInvalidParams     = errors.New("invalid strategy params")
)

type Parameter struct {
	Type        string `json:"type"`
	Default     any    `json:"default"`
	Description string `json:"description"`
}

// Metadata describes a strategy for listings.
type Metadata struct {
	Name        string               `json:"name"`
	Label       string               `json:"label"`
	Description string               `json:"description"`
	Category    string               `json:"category"`
	Parameters  map[string]Parameter `json:"parameters"`
}

// Factory builds a new strategy instance from user params. Instances are
// stateful, so every run needs its own.
type Factory func(params map[string]any) (engine.Strategy, error)

type entry struct {
	meta    Metadata
	factory Factory
}

type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func (r *Registry) Register(meta Metadata, factory Factory) error {
	name := strings.ToLower(strings.TrimSpace(meta.Name))
	if name == "" || factory == nil {
		return errors.New("strategy name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, name)
	}
	meta.Name = name
	r.entries[name] = entry{meta: meta, factory: factory}
	return nil
}

func (r *Registry) Create(name string, params map[string]any) (engine.Strategy, error) {
	r.mu.RLock()
	e, ok := r.entries[strings.ToLower(strings.TrimSpace(name))]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	strat, err := e.factory(params)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", e.meta.Name, err)
	}
	return strat, nil
}

func (r *Registry) Metadata(name string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[strings.ToLower(strings.TrimSpace(name))]
	return e.meta, ok
}

// List returns the metadata of every strategy sorted by name.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.meta)
	}
	slices.SortFunc(out, func(a, b Metadata) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// DecodeParams overlays params onto out, a pointer to a config struct tagged
// with mapstructure. Unknown keys are rejected; "20" decodes into an int field.
func DecodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	return nil
}

// Default returns a registry holding the built-in strategies.
func Default() *Registry {
	r := NewRegistry()
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(r.Register(Metadata{
		Name:        donchian.Name,
		Label:       "Donchian Channel Breakout",
		Description: "Trend following: buys a break of the highest high of the preceding bars with an ATR stop.",
		Category:    "trend",
		Parameters: map[string]Parameter{
			"period":         {Type: "int", Default: 20, Description: "Bars forming the channel"},
			"atr_period":     {Type: "int", Default: 20, Description: "ATR period for the stop"},
			"atr_multiplier": {Type: "float", Default: 2.0, Description: "Stop distance in ATRs"},
			"size":           {Type: "float", Default: 1.0, Description: "Fraction of equity per entry"},
			"long_only":      {Type: "bool", Default: true, Description: "Close longs on a downside break instead of shorting"},
		},
	}, func(params map[string]any) (engine.Strategy, error) {
		cfg := donchian.DefaultConfig()
		if err := DecodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return donchian.New(cfg)
	}))
	must(r.Register(Metadata{
		Name:        meanreversion.Name,
		Label:       "Bollinger/RSI Mean Reversion",
		Description: "Buys closes below the lower band with RSI oversold and exits at the middle band.",
		Category:    "mean_reversion",
		Parameters: map[string]Parameter{
			"bb_period":      {Type: "int", Default: 20, Description: "Bollinger band period"},
			"bb_std_dev":     {Type: "float", Default: 2.0, Description: "Band width in standard deviations"},
			"rsi_period":     {Type: "int", Default: 14, Description: "RSI period"},
			"oversold":       {Type: "float", Default: 30.0, Description: "RSI oversold level"},
			"overbought":     {Type: "float", Default: 70.0, Description: "RSI overbought level"},
			"size":           {Type: "float", Default: 1.0, Description: "Fraction of equity per entry"},
			"allow_short":    {Type: "bool", Default: false, Description: "Short closes above the upper band"},
			"exit_at_middle": {Type: "bool", Default: true, Description: "Exit at the middle band"},
		},
	}, func(params map[string]any) (engine.Strategy, error) {
		cfg := meanreversion.DefaultConfig()
		if err := DecodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return meanreversion.New(cfg)
	}))
	must(r.Register(Metadata{
		Name:        multiindicator.Name,
		Label:       "Multi Indicator Score",
		Description: "Scores EMA trend, RSI and MACD histogram from 0 to 100 and trades when the score reaches the minimum.",
		Category:    "composite",
		Parameters: map[string]Parameter{
			"ema_period":  {Type: "int", Default: 50, Description: "Trend EMA period"},
			"rsi_period":  {Type: "int", Default: 14, Description: "RSI period"},
			"macd_fast":   {Type: "int", Default: 12, Description: "MACD fast period"},
			"macd_slow":   {Type: "int", Default: 26, Description: "MACD slow period"},
			"macd_signal": {Type: "int", Default: 9, Description: "MACD signal period"},
			"oversold":    {Type: "float", Default: 30.0, Description: "RSI oversold level"},
			"overbought":  {Type: "float", Default: 70.0, Description: "RSI overbought level"},
			"min_score":   {Type: "float", Default: 60.0, Description: "Minimum score to enter or exit"},
			"size":        {Type: "float", Default: 1.0, Description: "Fraction of equity per entry"},
			"allow_short": {Type: "bool", Default: false, Description: "Trade bearish scores short"},
		},
	}, func(params map[string]any) (engine.Strategy, error) {
		cfg := multiindicator.DefaultConfig()
		if err := DecodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return multiindicator.New(cfg)
	}))
	must(r.Register(Metadata{
		Name:        breakout.Name,
		Label:       "Breakout Scalping",
		Description: "Range breakout with EMA trend filter and a 2:1 risk/reward exit.",
		Category:    "breakout",
		Parameters: map[string]Parameter{
			"ema_period":            {Type: "int", Default: 20, Description: "EMA period for the trend filter"},
			"range_lookback":        {Type: "int", Default: 20, Description: "Bars analysed for range detection"},
			"range_threshold":       {Type: "float", Default: 0.003, Description: "Max range height (0.3%)"},
			"min_range_size":        {Type: "float", Default: 0.0005, Description: "Min range height (0.05%)"},
			"breakout_confirmation": {Type: "int", Default: 1, Description: "Closes beyond the range before entering"},
			"risk_reward_ratio":     {Type: "float", Default: 2.0, Description: "Target distance as a multiple of risk"},
			"risk_per_trade":        {Type: "float", Default: 0.05, Description: "Equity risked per trade"},
			"atr_period":            {Type: "int", Default: 14, Description: "ATR period"},
			"use_atr_stop":          {Type: "bool", Default: false, Description: "Place the stop by ATR instead of the range"},
			"atr_stop_multiplier":   {Type: "float", Default: 1.5, Description: "Stop distance in ATRs"},
		},
	}, func(params map[string]any) (engine.Strategy, error) {
		cfg := breakout.DefaultConfig()
		if err := DecodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return breakout.New(cfg)
	}))
	return r
}
