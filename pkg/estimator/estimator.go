// Package estimator turns the number of communities and the current energy
// price into supply point counts, costs, savings and honorarium totals.
package estimator

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/raterudder/honorarium/pkg/types"
)

// ErrInvalidInput is returned when either input is missing, not a number or
// not strictly positive.
var ErrInvalidInput = errors.New("invalid input")

// ErrOutOfRange is returned when the inputs are valid on their own but the
// estimate does not fit in a float64 or the supply point counts exceed the
// exactly representable integers. It wraps ErrInvalidInput.
var ErrOutOfRange = fmt.Errorf("%w: estimate out of range", ErrInvalidInput)

// maxExactInt is the largest integer a float64 holds exactly.
const maxExactInt = 1 << 53

// ParseInputs parses user typed values. A single decimal comma is accepted in
// place of the decimal point.
func ParseInputs(communities, currentPrice string) (types.Inputs, error) {
	c, err := parsePositive(communities)
	if err != nil {
		return types.Inputs{}, err
	}
	p, err := parsePositive(currentPrice)
	if err != nil {
		return types.Inputs{}, err
	}
	return types.Inputs{CommunityCount: c, CurrentPrice: p}, nil
}

func parsePositive(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if hasBasePrefix(raw) || strings.Contains(raw, "_") {
		return 0, ErrInvalidInput
	}
	if strings.Count(raw, ",") == 1 && !strings.Contains(raw, ".") {
		raw = strings.Replace(raw, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || !validPositive(v) {
		return 0, ErrInvalidInput
	}
	return v, nil
}

// hasBasePrefix reports whether raw starts with a 0x style prefix, which
// strconv accepts for hexadecimal floats.
func hasBasePrefix(raw string) bool {
	raw = strings.TrimLeft(raw, "+-")
	return len(raw) >= 2 && raw[0] == '0' && (raw[1] == 'x' || raw[1] == 'X')
}

func validPositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// Compute runs the estimate for in against the cfg snapshot.
//
// Bands A and B are rounded independently and band C takes the remainder so
// the three counts always add up to TotalCUPS. With shares summing above 1
// band C goes negative and so does its fee total.
func Compute(in types.Inputs, cfg types.Config) (types.Result, error) {
	if !validPositive(in.CommunityCount) || !validPositive(in.CurrentPrice) {
		return types.Result{}, ErrInvalidInput
	}

	total, ok := round(in.CommunityCount * cfg.CUPSPerCommunity)
	if !ok {
		return types.Result{}, ErrOutOfRange
	}
	cupsA, okA := round(float64(total) * cfg.ShareA)
	cupsB, okB := round(float64(total) * cfg.ShareB)
	if !okA || !okB {
		return types.Result{}, ErrOutOfRange
	}
	cupsC := total - cupsA - cupsB

	res := types.Result{
		CommunityCount: in.CommunityCount,
		CurrentPrice:   in.CurrentPrice,
		ProposedPrice:  cfg.ProposedPrice,
		TotalCUPS:      total,
		CUPSA:          cupsA,
		CUPSB:          cupsB,
		CUPSC:          cupsC,
	}

	res.ConsumptionA = float64(cupsA) * cfg.ConsumptionA
	res.ConsumptionB = float64(cupsB) * cfg.ConsumptionB
	res.ConsumptionC = float64(cupsC) * cfg.ConsumptionC
	res.ConsumptionTotal = res.ConsumptionA + res.ConsumptionB + res.ConsumptionC

	res.CostCurrent = res.ConsumptionTotal * in.CurrentPrice
	res.CostProposed = res.ConsumptionTotal * cfg.ProposedPrice
	res.Savings = res.CostCurrent - res.CostProposed

	res.FeeA = float64(cupsA) * cfg.FeeA
	res.FeeB = float64(cupsB) * cfg.FeeB
	res.FeeC = float64(cupsC) * cfg.FeeC
	res.FeeTotal = res.FeeA + res.FeeB + res.FeeC

	for _, v := range []float64{
		res.ConsumptionA, res.ConsumptionB, res.ConsumptionC, res.ConsumptionTotal,
		res.CostCurrent, res.CostProposed, res.Savings,
		res.FeeA, res.FeeB, res.FeeC, res.FeeTotal,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return types.Result{}, ErrOutOfRange
		}
	}

	return res, nil
}

// round rounds to the nearest integer with ties going towards positive
// infinity, so round(2.5) == 3 and round(-2.5) == -2. It returns false when
// the result is beyond ±2^53 or not a number.
func round(x float64) (int64, bool) {
	f := math.Floor(x)
	if x-f >= 0.5 {
		f++
	}
	if math.IsNaN(f) || math.Abs(f) > maxExactInt {
		return 0, false
	}
	return int64(f), true
}
