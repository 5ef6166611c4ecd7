package plan

import (
	"sort"
	"time"
)

// Tier is the inventory category a credential belongs to.
type Tier string

const (
	TierQuickSurf     Tier = "QUICK_SURF"
	TierDailyAccess   Tier = "DAILY_ACCESS"
	TierDailyAccessII Tier = "DAILY_ACCESS_II"
	TierPowerUser     Tier = "POWER_USER"
	TierWeeklyConnect Tier = "WEEKLY_CONNECT"
	TierMonthlyPro    Tier = "MONTHLY_PRO"
)

// Plan is a sellable tier with its storefront and router attributes.
type Plan struct {
	Tier          Tier          `json:"tier"`
	Name          string        `json:"name"`
	PriceNaira    int64         `json:"price"`
	Validity      time.Duration `json:"-"`
	ValidityLabel string        `json:"duration"`
	Speed         string        `json:"speed"`
	DataCap       string        `json:"data_cap"`
	Devices       int           `json:"devices"`
	RouterProfile string        `json:"-"`
}

// PriceKobo is the price in the provider's minor unit.
func (p Plan) PriceKobo() int64 {
	return p.PriceNaira * 100
}

// ExpiresAt is when a credential sold at soldAt stops being valid.
func (p Plan) ExpiresAt(soldAt time.Time) time.Time {
	return soldAt.Add(p.Validity)
}

var catalog = map[Tier]Plan{
	TierQuickSurf: {
		Tier: TierQuickSurf, Name: "Quick Surf", PriceNaira: 200,
		Validity: 2 * time.Hour, ValidityLabel: "2 Hours",
		Speed: "5 Mbps", DataCap: "Unlimited", Devices: 1,
		RouterProfile: "2hour",
	},
	TierDailyAccess: {
		Tier: TierDailyAccess, Name: "Daily Access", PriceNaira: 350,
		Validity: 24 * time.Hour, ValidityLabel: "24 Hours",
		Speed: "5 Mbps", DataCap: "1.5 GB", Devices: 1,
		RouterProfile: "24hour",
	},
	TierDailyAccessII: {
		Tier: TierDailyAccessII, Name: "Daily Access II", PriceNaira: 500,
		Validity: 24 * time.Hour, ValidityLabel: "24 Hours",
		Speed: "10 Mbps", DataCap: "Unlimited", Devices: 1,
		RouterProfile: "24hour-unlimited",
	},
	TierPowerUser: {
		Tier: TierPowerUser, Name: "Power User", PriceNaira: 1000,
		Validity: 24 * time.Hour, ValidityLabel: "24 Hours",
		Speed: "20 Mbps", DataCap: "Unlimited", Devices: 3,
		RouterProfile: "power-user",
	},
	TierWeeklyConnect: {
		Tier: TierWeeklyConnect, Name: "Weekly Connect", PriceNaira: 1500,
		Validity: 7 * 24 * time.Hour, ValidityLabel: "7 Days",
		Speed: "10 Mbps", DataCap: "10 GB", Devices: 2,
		RouterProfile: "7day",
	},
	TierMonthlyPro: {
		Tier: TierMonthlyPro, Name: "Monthly Pro", PriceNaira: 10000,
		Validity: 30 * 24 * time.Hour, ValidityLabel: "30 Days",
		Speed: "20 Mbps", DataCap: "Unlimited", Devices: 3,
		RouterProfile: "monthly",
	},
}

// byAmount maps an exact paid amount in naira to its tier.
var byAmount = func() map[int64]Tier {
	m := make(map[int64]Tier, len(catalog))
	for tier, p := range catalog {
		m[p.PriceNaira] = tier
	}
	return m
}()

// All returns the catalog ordered by price.
func All() []Plan {
	out := make([]Plan, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceNaira < out[j].PriceNaira })
	return out
}

// Tiers returns every tier ordered by price.
func Tiers() []Tier {
	plans := All()
	out := make([]Tier, len(plans))
	for i, p := range plans {
		out[i] = p.Tier
	}
	return out
}
