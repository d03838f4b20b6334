// Package perdiem computes trip length and the tiered daily allowance.
//
// The first ShortTierDays days of a trip are paid at the short-trip rate and
// every further day at the long-trip rate. Both ends of the trip are inclusive.
package perdiem

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/garyjia/trip-approval/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format accepted for trip dates
const DateLayout = "2006-01-02"

// ShortTierDays is the number of days paid at the short-trip rate
const ShortTierDays = 3

// Rates is a resolved short/long rate pair
type Rates struct {
	Short decimal.Decimal
	Long  decimal.Decimal
}

// ParseDate parses a YYYY-MM-DD date as a UTC calendar day
func ParseDate(v string) (time.Time, error) {
	v = strings.TrimLeft(strings.TrimSpace(v), "'")
	if v == "" {
		return time.Time{}, fmt.Errorf("date is empty")
	}
	t, err := time.ParseInLocation(DateLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", v, err)
	}
	return t, nil
}

// TripDays returns the inclusive number of days between two dates.
// The order of the arguments does not matter.
func TripDays(start, end time.Time) int {
	diff := end.Sub(start)
	if diff < 0 {
		diff = -diff
	}
	return int(math.Ceil(diff.Hours()/24)) + 1
}

// CoercePeople maps non-positive head counts to one traveller
func CoercePeople(people int) int {
	if people < 1 {
		return 1
	}
	return people
}

// TieredTotal computes the daily allowance for the whole party.
//
//	total = (min(days,3)*short + max(days-3,0)*long) * people
func TieredTotal(start, end time.Time, people int, rates Rates) decimal.Decimal {
	days := TripDays(start, end)
	shortDays := days
	if shortDays > ShortTierDays {
		shortDays = ShortTierDays
	}
	longDays := days - ShortTierDays
	if longDays < 0 {
		longDays = 0
	}

	perPerson := rates.Short.Mul(decimal.NewFromInt(int64(shortDays))).
		Add(rates.Long.Mul(decimal.NewFromInt(int64(longDays))))

	return perPerson.Mul(decimal.NewFromInt(int64(CoercePeople(people))))
}

// ResolveRates looks name up in the rate table. When no row matches, both
// tiers fall back to the supplied flat rate.
func ResolveRates(table []entity.PerDiemRate, name string, fallback decimal.Decimal) Rates {
	name = strings.TrimSpace(name)
	if name != "" {
		for _, r := range table {
			if r.Name == name {
				return Rates{Short: r.RateShort, Long: r.RateLong}
			}
		}
	}
	return Rates{Short: fallback, Long: fallback}
}
