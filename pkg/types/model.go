package types

import "time"

// Band identifies one of the three tariff bands.
type Band string

const (
	BandA Band = "A"
	BandB Band = "B"
	BandC Band = "C"
)

// Label returns the tariff name shown to users.
func (b Band) Label() string {
	switch b {
	case BandA:
		return "2.0TD <10kW"
	case BandB:
		return "2.0TD >10kW"
	case BandC:
		return "3.0TD"
	}
	return string(b)
}

// Inputs are the two values a user provides for an estimate.
type Inputs struct {
	CommunityCount float64 `json:"communityCount"`
	CurrentPrice   float64 `json:"currentPrice"`
}

// Result is the outcome of a single estimate.
type Result struct {
	CommunityCount float64 `json:"communityCount"`
	CurrentPrice   float64 `json:"currentPrice"`
	ProposedPrice  float64 `json:"proposedPrice"`

	TotalCUPS int64 `json:"totalCUPS"`
	CUPSA     int64 `json:"cupsA"`
	CUPSB     int64 `json:"cupsB"`
	// CUPSC absorbs the rounding remainder and can be negative when the band
	// shares add up to more than 1.
	CUPSC int64 `json:"cupsC"`

	ConsumptionA     float64 `json:"consumptionA"`
	ConsumptionB     float64 `json:"consumptionB"`
	ConsumptionC     float64 `json:"consumptionC"`
	ConsumptionTotal float64 `json:"consumptionTotal"`

	CostCurrent  float64 `json:"costCurrent"`
	CostProposed float64 `json:"costProposed"`
	// Savings is negative when the proposed price is above the current one.
	Savings float64 `json:"savings"`

	FeeA     float64 `json:"feeA"`
	FeeB     float64 `json:"feeB"`
	FeeC     float64 `json:"feeC"`
	FeeTotal float64 `json:"feeTotal"`
}

// CUPS returns the supply point count for the band.
func (r Result) CUPS(b Band) int64 {
	switch b {
	case BandA:
		return r.CUPSA
	case BandB:
		return r.CUPSB
	case BandC:
		return r.CUPSC
	}
	return 0
}

// Fee returns the honorarium total for the band.
func (r Result) Fee(b Band) float64 {
	switch b {
	case BandA:
		return r.FeeA
	case BandB:
		return r.FeeB
	case BandC:
		return r.FeeC
	}
	return 0
}

// ConfigChange records a committed admin edit of a single field.
type ConfigChange struct {
	Field     Field     `json:"field"`
	OldValue  float64   `json:"oldValue"`
	NewValue  float64   `json:"newValue"`
	Actor     string    `json:"actor"`
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// Admin is the identity attached to an authenticated admin session.
type Admin struct {
	// Email is empty when the session was opened with the shared secret.
	Email   string    `json:"email"`
	Expires time.Time `json:"expires"`
}

// Name returns a printable actor name for audit records.
func (a Admin) Name() string {
	if a.Email != "" {
		return a.Email
	}
	return "admin"
}
