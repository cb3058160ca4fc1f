package currency

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Unbounded marks a max-balance or pay-max-amount with no upper limit.
var Unbounded = decimal.NewFromInt(-1)

// Config is the raw currency definition consumed from configuration.
// Zero values fall back to the defaults applied in FromConfig.
type Config struct {
	DisplayName      string  `mapstructure:"display-name"`
	Symbol           string  `mapstructure:"symbol"`
	NameSingular     string  `mapstructure:"name-singular"`
	NamePlural       string  `mapstructure:"name-plural"`
	Format           string  `mapstructure:"format"`
	DecimalPlaces    int     `mapstructure:"decimal-places"`
	StarterBalance   float64 `mapstructure:"starter-balance"`
	MinBalance       float64 `mapstructure:"min-balance"`
	MaxBalance       float64 `mapstructure:"max-balance"`
	PayEnabled       *bool   `mapstructure:"pay-enabled"`
	PayMinAmount     float64 `mapstructure:"pay-min-amount"`
	PayMaxAmount     float64 `mapstructure:"pay-max-amount"`
	PayTaxPercentage float64 `mapstructure:"pay-tax-percentage"`
	Default          bool    `mapstructure:"default"`
}

// Currency is an immutable currency definition. Instances are built once per
// registry load and shared read-only.
type Currency struct {
	ID               string
	DisplayName      string
	Symbol           string
	NameSingular     string
	NamePlural       string
	Format           string
	DecimalPlaces    int
	StarterBalance   decimal.Decimal
	MinBalance       decimal.Decimal
	MaxBalance       decimal.Decimal // Unbounded (-1) = no upper limit
	PayEnabled       bool
	PayMinAmount     decimal.Decimal
	PayMaxAmount     decimal.Decimal // Unbounded (-1) = no upper limit
	PayTaxPercentage decimal.Decimal // 0..1
	Default          bool
}

// FromConfig builds a Currency from a raw definition, applying defaults for
// absent fields. The id is normalized to lower case.
func FromConfig(id string, cfg Config) Currency {
	c := Currency{
		ID:               strings.ToLower(id),
		DisplayName:      cfg.DisplayName,
		Symbol:           cfg.Symbol,
		NameSingular:     cfg.NameSingular,
		NamePlural:       cfg.NamePlural,
		Format:           cfg.Format,
		DecimalPlaces:    cfg.DecimalPlaces,
		StarterBalance:   decimal.NewFromFloat(cfg.StarterBalance),
		MinBalance:       decimal.NewFromFloat(cfg.MinBalance),
		MaxBalance:       decimal.NewFromFloat(cfg.MaxBalance),
		PayEnabled:       true,
		PayMinAmount:     decimal.NewFromFloat(cfg.PayMinAmount),
		PayMaxAmount:     decimal.NewFromFloat(cfg.PayMaxAmount),
		PayTaxPercentage: decimal.NewFromFloat(cfg.PayTaxPercentage),
		Default:          cfg.Default,
	}
	if c.DisplayName == "" {
		c.DisplayName = id
	}
	if c.Symbol == "" {
		c.Symbol = "$"
	}
	if c.NameSingular == "" {
		c.NameSingular = c.DisplayName
	}
	if c.NamePlural == "" {
		c.NamePlural = c.NameSingular
	}
	if c.Format == "" {
		c.Format = "%amount% %symbol%"
	}
	if c.DecimalPlaces <= 0 {
		c.DecimalPlaces = 2
	}
	if cfg.PayEnabled != nil {
		c.PayEnabled = *cfg.PayEnabled
	}
	if c.PayMinAmount.IsZero() {
		c.PayMinAmount = decimal.NewFromInt(1)
	}
	if cfg.PayMaxAmount == 0 {
		c.PayMaxAmount = Unbounded
	}
	// max-balance 0 means "not configured"; a zero ceiling would make every
	// currency unusable.
	if cfg.MaxBalance == 0 {
		c.MaxBalance = Unbounded
	}
	return c
}

// FormatAmount renders an amount with this currency's format template.
func (c Currency) FormatAmount(amount decimal.Decimal) string {
	formatted := amount.StringFixed(int32(c.DecimalPlaces))
	out := strings.ReplaceAll(c.Format, "%amount%", formatted)
	return strings.ReplaceAll(out, "%symbol%", c.Symbol)
}

// ValidBalance reports whether a balance satisfies the currency's bounds.
func (c Currency) ValidBalance(amount decimal.Decimal) bool {
	if amount.LessThan(c.MinBalance) {
		return false
	}
	return c.MaxBalance.Equal(Unbounded) || amount.LessThanOrEqual(c.MaxBalance)
}

// WithinPayLimits reports whether an amount satisfies pay min/max.
func (c Currency) WithinPayLimits(amount decimal.Decimal) bool {
	if amount.LessThan(c.PayMinAmount) {
		return false
	}
	return c.PayMaxAmount.Equal(Unbounded) || amount.LessThanOrEqual(c.PayMaxAmount)
}

// Tax computes the transfer tax for an amount, rounded to the currency's
// decimal places.
func (c Currency) Tax(amount decimal.Decimal) decimal.Decimal {
	if c.PayTaxPercentage.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(c.PayTaxPercentage).Round(int32(c.DecimalPlaces))
}
