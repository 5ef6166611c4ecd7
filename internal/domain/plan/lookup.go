package plan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/athwifi/voucher-api/internal/pkg/apperr"
)

// TierForAmount resolves an exact paid amount in naira. An amount that is
// not in the table is a configuration problem or tampering, so it fails
// hard instead of picking a default tier.
func TierForAmount(naira int64) (Tier, error) {
	tier, ok := byAmount[naira]
	if !ok {
		return "", &apperr.ConfigurationError{
			Setting: "plan.amount",
			Message: fmt.Sprintf("no tier is priced at %d naira", naira),
		}
	}
	return tier, nil
}

// TierForAmountKobo resolves an amount reported by the provider in kobo.
func TierForAmountKobo(kobo int64) (Tier, error) {
	if kobo <= 0 || kobo%100 != 0 {
		return "", &apperr.ConfigurationError{
			Setting: "plan.amount",
			Message: fmt.Sprintf("paid amount %d kobo is not a whole plan price", kobo),
		}
	}
	return TierForAmount(kobo / 100)
}

// Lookup returns the plan for a tier.
func Lookup(tier Tier) (Plan, bool) {
	p, ok := catalog[tier]
	return p, ok
}

// MustLookup is Lookup for tiers read back from the store, which are
// constrained to the catalog by the schema.
func MustLookup(tier Tier) Plan {
	p, ok := catalog[tier]
	if !ok {
		panic("plan: unknown tier " + string(tier))
	}
	return p
}

// ParseTier accepts a tier code ("DAILY_ACCESS_II") or a display name
// ("Daily Access II"), case-insensitively.
func ParseTier(s string) (Tier, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	if norm == "" {
		return "", apperr.Validation("plan", "plan is required")
	}
	if _, ok := catalog[Tier(norm)]; ok {
		return Tier(norm), nil
	}
	return "", apperr.Validation("plan", fmt.Sprintf("unknown plan %q", s))
}

// ParseNairaAmount parses storefront prices like "₦1,500", "1500" or
// "N 350" into whole naira.
func ParseNairaAmount(s string) (int64, error) {
	cleaned := strings.NewReplacer("₦", "", ",", "", " ", "").Replace(strings.TrimSpace(s))
	cleaned = strings.TrimPrefix(strings.TrimPrefix(cleaned, "NGN"), "N")
	cleaned = strings.TrimSuffix(cleaned, ".00")
	if cleaned == "" {
		return 0, apperr.Validation("amount", "amount is required")
	}
	v, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil || v <= 0 {
		return 0, apperr.Validation("amount", fmt.Sprintf("invalid amount %q", s))
	}
	return v, nil
}

// FormatNaira renders 1500 as "₦1,500".
func FormatNaira(naira int64) string {
	digits := strconv.FormatInt(naira, 10)
	var b strings.Builder
	b.WriteString("₦")
	for i, c := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}
