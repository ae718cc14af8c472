package purchase

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DefaultPackages is the catalog used when COIN_PACKAGES is not set.
const DefaultPackages = "10=1.00,50=4.00,100=7.00,500=30.00"

var ErrInvalidCatalog = errors.New("invalid coin package catalog")

// Package pairs a coin amount with its price in minor currency units.
type Package struct {
	Coins      int64 `json:"coins"`
	PriceCents int64 `json:"priceCents"`
}

// Catalog is the fixed coin-amount to price table. The zero value is empty;
// it is filled once from configuration and never mutated afterwards.
type Catalog struct {
	packages []Package
}

// NewCatalog builds a catalog from entries, rejecting non-positive or
// repeated coin amounts.
func NewCatalog(entries ...Package) (Catalog, error) {
	seen := make(map[int64]struct{}, len(entries))
	out := make([]Package, 0, len(entries))

	for _, p := range entries {
		if p.Coins <= 0 || p.PriceCents <= 0 {
			return Catalog{}, fmt.Errorf("%w: package %d=%d must be positive", ErrInvalidCatalog, p.Coins, p.PriceCents)
		}

		if _, dup := seen[p.Coins]; dup {
			return Catalog{}, fmt.Errorf("%w: duplicate package %d", ErrInvalidCatalog, p.Coins)
		}

		seen[p.Coins] = struct{}{}
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Coins < out[j].Coins })

	return Catalog{packages: out}, nil
}

// UnmarshalText parses "coins=price" pairs separated by commas, for example
// "10=1.00,50=4.00". Prices are decimal with at most two fractional digits.
func (c *Catalog) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCatalog)
	}

	entries := make([]Package, 0)

	for _, item := range strings.Split(raw, ",") {
		coinsStr, priceStr, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok {
			return fmt.Errorf("%w: entry %q needs coins=price", ErrInvalidCatalog, item)
		}

		coins, err := strconv.ParseInt(strings.TrimSpace(coinsStr), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: coins %q: %w", ErrInvalidCatalog, coinsStr, err)
		}

		price, err := parseAmountCents(priceStr)
		if err != nil {
			return fmt.Errorf("%w: price %q: %w", ErrInvalidCatalog, priceStr, err)
		}

		entries = append(entries, Package{Coins: coins, PriceCents: price})
	}

	parsed, err := NewCatalog(entries...)
	if err != nil {
		return err
	}

	*c = parsed

	return nil
}

// Lookup returns the package for an exact coin amount.
func (c Catalog) Lookup(coins int64) (Package, bool) {
	for _, p := range c.packages {
		if p.Coins == coins {
			return p, true
		}
	}

	return Package{}, false
}

// Packages returns a copy of the catalog ordered by coin amount.
func (c Catalog) Packages() []Package {
	out := make([]Package, len(c.packages))
	copy(out, c.packages)

	return out
}

// parseAmountCents converts a decimal string with up to 2 fractional digits into cents.
func parseAmountCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("amount required")
	}
	if s[0] == '+' || s[0] == '-' {
		return 0, fmt.Errorf("amount must be unsigned")
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, fmt.Errorf("invalid amount")
	}
	intPart := parts[0]
	frac := "00"
	if len(parts) == 2 {
		if len(parts[1]) > 2 {
			return 0, fmt.Errorf("amount supports up to 2 decimals")
		}
		frac = parts[1] + strings.Repeat("0", 2-len(parts[1]))
	}
	ip, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount integer")
	}
	fp, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount fractional")
	}
	total := ip*100 + fp
	if total <= 0 {
		return 0, fmt.Errorf("amount must be > 0")
	}
	return total, nil
}
