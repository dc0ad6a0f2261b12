package pricing

import "strings"

// Money represents a monetary value stored in minor units.
type Money = int64

// Store identifies the storefront a price is computed for.
type Store string

const (
	StoreUS Store = "US"
	StoreCA Store = "CA"
)

// ParseStore normalises a store code, defaulting to US.
func ParseStore(value string) Store {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "CA", "CAD":
		return StoreCA
	default:
		return StoreUS
	}
}

// Currency returns the settlement currency of the store.
func (s Store) Currency() string {
	if s == StoreCA {
		return "CAD"
	}
	return "USD"
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal Money
	Shipping Money
	Tax      Money
	Credits  Money
	Total    Money
}

// Total is the single checkout formula: max(0, subtotal + shipping + tax - credits).
// Every place that derives a payable amount must go through it.
func Total(subtotal, shipping, tax, credits Money) Money {
	if credits < 0 {
		credits = 0
	}
	total := subtotal + shipping + tax - credits
	if total < 0 {
		return 0
	}
	return total
}

// Compute calculates the cart summary given the provided components.
func Compute(subtotal, shipping, tax, credits Money) Summary {
	if shipping < 0 {
		shipping = 0
	}
	if tax < 0 {
		tax = 0
	}
	if credits < 0 {
		credits = 0
	}
	return Summary{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Credits:  credits,
		Total:    Total(subtotal, shipping, tax, credits),
	}
}
