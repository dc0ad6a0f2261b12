package pricing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidVendorPrice is returned when a vendor response carries no usable cost.
var ErrInvalidVendorPrice = errors.New("pricing: vendor response has no usable cost")

var (
	dollarPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
	maxCents      = decimal.NewFromInt(math.MaxInt64)
)

// VendorCost is the normalised trade cost of a vendor response. At least one of the
// pointers is set when parsing succeeds.
type VendorCost struct {
	UnitCostCents *int64
	LineCostCents *int64
}

// Resolve fills in the missing side for the given quantity. Line cost wins when both are present.
// A unit cost whose line total does not fit in int64 is rejected with ErrInvalidVendorPrice.
func (c VendorCost) Resolve(qty int) (unit, line int64, err error) {
	if qty < 1 {
		qty = 1
	}
	switch {
	case c.LineCostCents != nil:
		line = *c.LineCostCents
		unit = line / int64(qty)
	case c.UnitCostCents != nil:
		unit = *c.UnitCostCents
		if unit > math.MaxInt64/int64(qty) {
			return 0, 0, fmt.Errorf("unit cost %d x %d overflows: %w", unit, qty, ErrInvalidVendorPrice)
		}
		line = unit * int64(qty)
	}
	return unit, line, nil
}

var (
	lineCentsFields   = []string{"lineCostCents", "linePriceCents", "line_cost_cents", "line_price_cents", "totalCents", "total_cents"}
	unitCentsFields   = []string{"unitCostCents", "unitPriceCents", "unit_cost_cents", "unit_price_cents", "priceCents", "price_cents"}
	lineDollarFields  = []string{"linePrice", "lineTotal", "line_price", "line_total", "total"}
	unitDollarFields  = []string{"unitPrice", "unit_price", "unitCost", "unit_cost", "price"}
	nestedPriceFields = []string{"data", "pricing", "price", "result"}
)

// ParseVendorPrice normalises the heterogeneous vendor price payloads into cents.
// Cents fields are preferred; dollar strings are parsed with a strict two-decimal
// pattern before falling back to a loose decimal parse.
func ParseVendorPrice(raw []byte) (VendorCost, error) {
	var obj map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return VendorCost{}, ErrInvalidVendorPrice
	}
	return parseVendorObject(obj, 0)
}

func parseVendorObject(obj map[string]json.RawMessage, depth int) (VendorCost, error) {
	allowZero := explicitZero(obj)
	var out VendorCost
	if v, ok := firstCents(obj, lineCentsFields, allowZero); ok {
		out.LineCostCents = &v
	}
	if v, ok := firstCents(obj, unitCentsFields, allowZero); ok {
		out.UnitCostCents = &v
	}
	if out.LineCostCents == nil {
		if v, ok := firstDollars(obj, lineDollarFields, allowZero); ok {
			out.LineCostCents = &v
		}
	}
	if out.UnitCostCents == nil {
		if v, ok := firstDollars(obj, unitDollarFields, allowZero); ok {
			out.UnitCostCents = &v
		}
	}
	if out.LineCostCents != nil || out.UnitCostCents != nil {
		return out, nil
	}
	if depth < 2 {
		for _, key := range nestedPriceFields {
			rawNested, ok := obj[key]
			if !ok {
				continue
			}
			var nested map[string]json.RawMessage
			if err := json.Unmarshal(rawNested, &nested); err != nil || nested == nil {
				continue
			}
			if res, err := parseVendorObject(nested, depth+1); err == nil {
				return res, nil
			}
		}
	}
	return VendorCost{}, ErrInvalidVendorPrice
}

func explicitZero(obj map[string]json.RawMessage) bool {
	for _, key := range []string{"zeroCost", "zero_cost"} {
		if raw, ok := obj[key]; ok {
			var flag bool
			if err := json.Unmarshal(raw, &flag); err == nil && flag {
				return true
			}
		}
	}
	return false
}

func firstCents(obj map[string]json.RawMessage, fields []string, allowZero bool) (int64, bool) {
	for _, key := range fields {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		v, ok := centsValue(raw)
		if !ok || v < 0 || (v == 0 && !allowZero) {
			continue
		}
		return v, true
	}
	return 0, false
}

func firstDollars(obj map[string]json.RawMessage, fields []string, allowZero bool) (int64, bool) {
	for _, key := range fields {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		v, ok := dollarValue(raw)
		if !ok || v < 0 || (v == 0 && !allowZero) {
			continue
		}
		return v, true
	}
	return 0, false
}

// centsValue accepts integral JSON numbers or numeric strings, including integral values
// written with a fraction or exponent such as 1299.0 or 1.299e3.
func centsValue(raw json.RawMessage) (int64, bool) {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "" {
		return 0, false
	}
	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		return v, true
	}
	d, err := decimal.NewFromString(text)
	if err != nil || !d.IsInteger() || d.Abs().GreaterThan(maxCents) {
		return 0, false
	}
	return d.IntPart(), true
}

func dollarValue(raw json.RawMessage) (int64, bool) {
	text := strings.TrimSpace(string(raw))
	quoted := strings.HasPrefix(text, `"`)
	text = strings.TrimSpace(strings.Trim(text, `"`))
	text = strings.TrimPrefix(text, "$")
	if text == "" || text == "null" {
		return 0, false
	}
	if quoted && dollarPattern.MatchString(text) {
		whole, frac, _ := strings.Cut(text, ".")
		for len(frac) < 2 {
			frac += "0"
		}
		cents, err := strconv.ParseInt(whole+frac, 10, 64)
		if err != nil {
			return 0, false
		}
		return cents, true
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(text, ",", ""))
	if err != nil {
		return 0, false
	}
	cents := d.Shift(2).Round(0)
	if cents.Abs().GreaterThan(maxCents) {
		return 0, false
	}
	return cents.IntPart(), true
}
