/*
compute.go - Pure charge computation over a billing draft

PURPOSE:
  Turns a Draft plus the current deposit total into an exact Breakdown.
  This is a pure function: no store access, no clock, no side effects.
  Callers recompute on every mutation so no stale total survives an edit.

RULES:
  Segment days   = max(1, ceil(end - start in whole days)); missing or
                   unparsable dates default to a 1-day segment (flagged)
  Segment total  = (bed + nursing + attendant + doctor) * days
  Gross total    = admission fee + stay charges + service charges
  Net payable    = max(0, gross - discount + tax)  -- never negative
  Balance due    = net payable - total deposits    -- may be negative

FAIL-SOFT:
  Non-finite inputs (NaN, +-Inf) are treated as zero and unparsable
  dates as one day. Both are recorded as Anomalies in the Breakdown so
  they can be logged for audit, but neither aborts the computation.

SEE ALSO:
  - types.go: Draft and Breakdown shapes
  - bills.go: Persists the computed breakdown
*/
package billing

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Compute reconciles a draft into a full breakdown. totalDeposits must be
// the freshly reloaded ledger total for the draft's admission.
func Compute(d Draft, totalDeposits decimal.Decimal) Breakdown {
	b := Breakdown{
		TotalDeposits: totalDeposits,
	}

	b.AdmissionFee = b.sanitize(d.AdmissionFee, "admission_fee")
	b.Discount = b.sanitize(d.Discount, "discount")
	b.Tax = b.sanitize(d.Tax, "tax")

	// Stay segments
	b.TotalStayCharges = decimal.Zero
	for _, seg := range d.Segments {
		charge := b.segmentCharge(seg)
		b.SegmentCharges = append(b.SegmentCharges, charge)
		b.TotalStayCharges = b.TotalStayCharges.Add(charge.Total)
	}
	b.flagOverlaps(d.Segments)

	// Service line items (already homogenized; package override applied here)
	b.TotalServiceCharges = decimal.Zero
	for _, item := range EffectiveServices(d.Services, d.Package) {
		price := b.sanitize(item.UnitPrice, "service "+item.Name)
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		b.TotalServiceCharges = b.TotalServiceCharges.Add(price.Mul(decimal.NewFromInt(int64(qty))))
	}

	b.GrossTotal = b.AdmissionFee.Add(b.TotalStayCharges).Add(b.TotalServiceCharges)

	// Clamp net payable at zero; oversized discounts never produce a
	// negative invoice.
	net := b.GrossTotal.Sub(b.Discount).Add(b.Tax)
	if net.IsNegative() {
		net = decimal.Zero
	}
	b.NetPayable = net

	// Balance due is NOT clamped: negative means a refund is owed and the
	// exact figure must survive.
	b.BalanceDue = b.NetPayable.Sub(b.TotalDeposits)

	return b
}

// EffectiveServices homogenizes the service list under an optional package
// override: the override replaces every package-sourced item with a single
// fixed-price package line, leaving catalog and custom items untouched.
func EffectiveServices(items []ServiceItem, pkg *PackageOverride) []ServiceItem {
	if pkg == nil {
		return items
	}
	out := make([]ServiceItem, 0, len(items)+1)
	for _, item := range items {
		if item.Source != SourcePackage {
			out = append(out, item)
		}
	}
	out = append(out, ServiceItem{
		Name:      pkg.Name,
		UnitPrice: pkg.Price,
		Quantity:  1,
		Source:    SourcePackage,
	})
	return out
}

// SegmentDays computes the billed day count for a date range. The count is
// never below 1, even when the end date precedes the start date. The
// second return value is false when either date failed to parse and the
// 1-day default was applied.
func SegmentDays(startDate, endDate string) (int64, bool) {
	start, okStart := parseDate(startDate)
	end, okEnd := parseDate(endDate)
	if !okStart || !okEnd {
		return 1, false
	}

	days := int64(math.Ceil(end.Sub(start).Hours() / 24))
	if days < 1 {
		days = 1
	}
	return days, true
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func (b *Breakdown) segmentCharge(seg StaySegment) SegmentCharge {
	days, ok := SegmentDays(seg.StartDate, seg.EndDate)
	if !ok {
		b.flag(AnomalyMalformedDateRange,
			fmt.Sprintf("segment %s: dates %q..%q defaulted to 1 day", seg.ID, seg.StartDate, seg.EndDate))
	}

	perDay := b.sanitize(seg.Rates.Bed, "bed_rate").
		Add(b.sanitize(seg.Rates.Nursing, "nursing_rate")).
		Add(b.sanitize(seg.Rates.Attendant, "attendant_rate")).
		Add(b.sanitize(seg.Rates.Doctor, "doctor_rate"))

	return SegmentCharge{
		Segment: seg,
		Days:    days,
		Total:   perDay.Mul(decimal.NewFromInt(days)),
	}
}

// sanitize converts a wire-boundary float to a decimal. Non-finite values
// become zero and are flagged, never propagated.
func (b *Breakdown) sanitize(f float64, field string) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		b.flag(AnomalyNonFiniteAmount, fmt.Sprintf("%s was non-finite, treated as 0", field))
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

// flagOverlaps records an anomaly when two parseable segment ranges
// overlap. Overlapping segments are summed as-is (day-boundary overlaps
// are legitimate on room changes) but audits want to see them.
func (b *Breakdown) flagOverlaps(segments []StaySegment) {
	type span struct {
		start, end time.Time
		id         string
	}
	var spans []span
	for _, seg := range segments {
		start, okStart := parseDate(seg.StartDate)
		end, okEnd := parseDate(seg.EndDate)
		if !okStart || !okEnd || !end.After(start) {
			continue
		}
		spans = append(spans, span{start: start, end: end, id: seg.ID})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start.Before(spans[j].start) })

	for i := 1; i < len(spans); i++ {
		if spans[i].start.Before(spans[i-1].end) {
			b.flag(AnomalyOverlappingSegments,
				fmt.Sprintf("segments %s and %s overlap", spans[i-1].id, spans[i].id))
		}
	}
}

func (b *Breakdown) flag(code, detail string) {
	b.Anomalies = append(b.Anomalies, Anomaly{Code: code, Detail: detail})
}
