package types

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// CurrentConfigVersion is the current version of the Config struct.
// Increment this value when adding new fields that require default values.
const CurrentConfigVersion = 2

var (
	ErrUnknownField = errors.New("unknown config field")
	ErrInvalidValue = errors.New("invalid config value")
)

var validate = validator.New()

// Config holds the admin-editable parameters used by the estimator.
// A Config is treated as an immutable snapshot: edits go through Set which
// returns a new value.
type Config struct {
	// Average number of supply points per community
	CUPSPerCommunity float64 `json:"cupsPerCommunity" validate:"gt=0"`

	// Fraction of supply points in band A (2.0TD <10kW) and B (2.0TD >10kW).
	// Band C (3.0TD) gets whatever is left, see ShareC.
	ShareA float64 `json:"shareA" validate:"gte=0,lte=1"`
	ShareB float64 `json:"shareB" validate:"gte=0,lte=1"`

	// Annual consumption per supply point (kWh/year)
	ConsumptionA float64 `json:"consumptionA" validate:"gte=0"`
	ConsumptionB float64 `json:"consumptionB" validate:"gte=0"`
	ConsumptionC float64 `json:"consumptionC" validate:"gte=0"`

	// Proposed price per kWh
	ProposedPrice float64 `json:"proposedPrice" validate:"gte=0"`

	// Honorarium paid per supply point in each band
	FeeA float64 `json:"feeA" validate:"gte=0"`
	FeeB float64 `json:"feeB" validate:"gte=0"`
	FeeC float64 `json:"feeC" validate:"gte=0"`
}

// DefaultConfig returns the seed configuration.
func DefaultConfig() Config {
	return Config{
		CUPSPerCommunity: 2.2,
		ShareA:           0.45,
		ShareB:           0.40,
		ConsumptionA:     4500,
		ConsumptionB:     15000,
		ConsumptionC:     40000,
		ProposedPrice:    0.155,
		FeeA:             24.0,
		FeeB:             73.2,
		FeeC:             186.0,
	}
}

// ShareC returns the implied share of band C. It is negative when ShareA and
// ShareB add up to more than 1.
func (c Config) ShareC() float64 {
	return 1 - c.ShareA - c.ShareB
}

// Validate checks every field against its bounds. The sum of the band shares
// is intentionally not checked.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s must satisfy %s", ErrInvalidValue, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return nil
}

// Field names one of the Config parameters.
type Field string

const (
	FieldCUPSPerCommunity Field = "cups_per_community"
	FieldShareA           Field = "share_a"
	FieldShareB           Field = "share_b"
	FieldConsumptionA     Field = "consumption_a"
	FieldConsumptionB     Field = "consumption_b"
	FieldConsumptionC     Field = "consumption_c"
	FieldProposedPrice    Field = "proposed_price"
	FieldFeeA             Field = "fee_a"
	FieldFeeB             Field = "fee_b"
	FieldFeeC             Field = "fee_c"
)

// Fields lists every editable field in display order.
var Fields = []Field{
	FieldCUPSPerCommunity,
	FieldShareA,
	FieldShareB,
	FieldConsumptionA,
	FieldConsumptionB,
	FieldConsumptionC,
	FieldProposedPrice,
	FieldFeeA,
	FieldFeeB,
	FieldFeeC,
}

// legacyFieldNames maps the parameter names used by the old calculator
// form to the current fields.
var legacyFieldNames = map[string]Field{
	"cups_por_comunidad":        FieldCUPSPerCommunity,
	"pct_20td_menos_10kw":       FieldShareA,
	"pct_20td_mas_10kw":         FieldShareB,
	"consumo_20td_menos_10kw":   FieldConsumptionA,
	"consumo_20td_mas_10kw":     FieldConsumptionB,
	"consumo_30td":              FieldConsumptionC,
	"precio_propuesto":          FieldProposedPrice,
	"honorario_20td_menos_10kw": FieldFeeA,
	"honorario_20td_mas_10kw":   FieldFeeB,
	"honorario_30td":            FieldFeeC,
}

// ParseField returns the Field for the given name. Legacy names are accepted.
func ParseField(name string) (Field, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, f := range Fields {
		if string(f) == name {
			return f, nil
		}
	}
	if f, ok := legacyFieldNames[name]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
}

// LegacyFieldNames returns the accepted legacy names, sorted.
func LegacyFieldNames() []string {
	names := make([]string, 0, len(legacyFieldNames))
	for n := range legacyFieldNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Config) fieldPtr(f Field) *float64 {
	switch f {
	case FieldCUPSPerCommunity:
		return &c.CUPSPerCommunity
	case FieldShareA:
		return &c.ShareA
	case FieldShareB:
		return &c.ShareB
	case FieldConsumptionA:
		return &c.ConsumptionA
	case FieldConsumptionB:
		return &c.ConsumptionB
	case FieldConsumptionC:
		return &c.ConsumptionC
	case FieldProposedPrice:
		return &c.ProposedPrice
	case FieldFeeA:
		return &c.FeeA
	case FieldFeeB:
		return &c.FeeB
	case FieldFeeC:
		return &c.FeeC
	}
	return nil
}

// Get returns the value of the given field.
func (c Config) Get(f Field) (float64, error) {
	p := c.fieldPtr(f)
	if p == nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownField, string(f))
	}
	return *p, nil
}

// Set parses raw as a float and returns a copy of c with the field replaced.
// Empty, non-numeric and non-finite values are rejected, as is any value that
// makes the resulting config fail Validate. c itself is never modified.
func (c Config) Set(f Field, raw string) (Config, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return c, fmt.Errorf("%w: empty value for %s", ErrInvalidValue, f)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return c, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return c, fmt.Errorf("%w: %q is not finite", ErrInvalidValue, raw)
	}

	next := c
	p := next.fieldPtr(f)
	if p == nil {
		return c, fmt.Errorf("%w: %q", ErrUnknownField, string(f))
	}
	*p = v
	if err := next.Validate(); err != nil {
		return c, err
	}
	return next, nil
}

// MigrateConfig migrates the config to the current version.
// It returns the migrated config, a boolean indicating if changes were made, and an error if migration failed.
func MigrateConfig(c Config, currentVersion int) (Config, bool, error) {
	if currentVersion >= CurrentConfigVersion {
		return c, false, nil
	}

	defaults := DefaultConfig()
	migrated := false
	for version := currentVersion + 1; version <= CurrentConfigVersion; version++ {
		switch version {
		case 1:
			// version 1: initial band parameters
			for _, f := range Fields {
				if f == FieldCUPSPerCommunity {
					continue
				}
				p := c.fieldPtr(f)
				if *p == 0 {
					*p = *defaults.fieldPtr(f)
					migrated = true
				}
			}
		case 2:
			// version 2: add CUPSPerCommunity
			// configs stored before this field existed counted one supply
			// point per community
			if c.CUPSPerCommunity == 0 {
				if currentVersion == 0 {
					c.CUPSPerCommunity = defaults.CUPSPerCommunity
				} else {
					c.CUPSPerCommunity = 1
				}
				migrated = true
			}
		default:
			return c, false, fmt.Errorf("unknown config version: %d", version)
		}
	}

	return c, migrated, nil
}
