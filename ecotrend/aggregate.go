package ecotrend

import "math"

// Totals holds per-type sums across all retained periods, together with one
// representative unit string per type under the short keys ww/w/h.
type Totals struct {
	Heating   *float64 `json:"heating,omitempty"`
	Warmwater *float64 `json:"warmwater,omitempty"`
	Water     *float64 `json:"water,omitempty"`
	WW        string   `json:"ww,omitempty"`
	W         string   `json:"w,omitempty"`
	H         string   `json:"h,omitempty"`
}

// LastValues holds per-type sums of the most recent retained period.
type LastValues struct {
	Heating   *float64 `json:"heating,omitempty"`
	Warmwater *float64 `json:"warmwater,omitempty"`
	Water     *float64 `json:"water,omitempty"`
	Month     int      `json:"month"`
	Year      int      `json:"year"`
	WW        string   `json:"ww,omitempty"`
	W         string   `json:"w,omitempty"`
	H         string   `json:"h,omitempty"`
}

// SumByYear maps every retained year to the per-type sum of that year.
type SumByYear struct {
	Heating   map[int]float64 `json:"heating,omitempty"`
	Warmwater map[int]float64 `json:"warmwater,omitempty"`
	Water     map[int]float64 `json:"water,omitempty"`
	WW        string          `json:"ww,omitempty"`
	W         string          `json:"w,omitempty"`
	H         string          `json:"h,omitempty"`
}

// LastCosts holds the per-type cost sums of the most recent retained cost
// period. The short keys carry the percentage versus last year, negative when
// the provider's mood code is HAPPY.
type LastCosts struct {
	Heating   *float64 `json:"heating,omitempty"`
	Warmwater *float64 `json:"warmwater,omitempty"`
	Water     *float64 `json:"water,omitempty"`
	Month     int      `json:"month"`
	Year      int      `json:"year"`
	Unit      string   `json:"unit,omitempty"`
	WW        *float64 `json:"ww,omitempty"`
	W         *float64 `json:"w,omitempty"`
	H         *float64 `json:"h,omitempty"`
}

// YearComparison is the prior-year comparison of the most recent period,
// with the period reference stripped and the current year's value attached.
type YearComparison struct {
	LastYearValue      float64 `json:"lastYearValue"`
	Smiley             string  `json:"smiley,omitempty"`
	ComparedPercentage float64 `json:"comparedPercentage"`
	ComparedValue      float64 `json:"comparedValue"`
	NowYearValue       float64 `json:"nowYearValue"`
}

// CustomRaw is the aggregated consumption summary. CombinedData and AllDates
// exist in the shape but are no longer computed.
type CustomRaw struct {
	ConsumTypes                 []string                  `json:"consum_types"`
	CombinedData                any                       `json:"combined_data"`
	TotalAdditionalValues       Totals                    `json:"total_additional_values"`
	TotalAdditionalCustomValues Totals                    `json:"total_additional_custom_values"`
	LastValue                   *LastValues               `json:"last_value"`
	LastCustomValue             *LastValues               `json:"last_custom_value"`
	AllDates                    any                       `json:"all_dates"`
	SumByYear                   SumByYear                 `json:"sum_by_year"`
	LastCosts                   *LastCosts                `json:"last_costs"`
	LastYearComparedConsumption map[string]YearComparison `json:"last_year_compared_consumption"`
}

// ConsumRaw aggregates the raw consumption and cost tree into a CustomRaw
// summary. Readings are retained iff their period's year is in selectYears
// (or selectYears is nil), its month is in selectMonths (or nil), and, when
// filterUnclassified is set, the reading carries a type. The input tree is
// never mutated.
func ConsumRaw(raw *ConsumptionsResponse, selectYears, selectMonths []int, filterUnclassified bool) CustomRaw {
	var result CustomRaw
	if raw == nil || (raw.Consumptions == nil && raw.Costs == nil) {
		return result
	}

	yearSet := toSet(selectYears)
	monthSet := toSet(selectMonths)

	// distinct reading types, recorded before any filtering
	var consumTypes []string
	seen := map[string]bool{}
	for _, period := range raw.Consumptions {
		for _, reading := range period.Readings {
			if reading.Type != "" && (reading.Value != nil || reading.AdditionalValue != nil) && !seen[reading.Type] {
				seen[reading.Type] = true
				consumTypes = append(consumTypes, reading.Type)
			}
		}
	}
	result.ConsumTypes = consumTypes

	consumptions := filterConsumptions(raw.Consumptions, yearSet, monthSet, filterUnclassified)
	costs := filterCosts(raw.Costs, yearSet, monthSet, filterUnclassified)

	result.SumByYear = sumByYear(consumptions, consumTypes)

	totalAdditional := Totals{}
	totalCustom := Totals{}
	for _, typ := range consumTypes {
		var sumAdditional, sumCustom float64
		for _, period := range consumptions {
			for _, reading := range period.Readings {
				if reading.Type != typ {
					continue
				}
				sumAdditional += readingAdditionalValue(reading)
				sumCustom += readingValue(reading)
				recordUnit(&totalAdditional, reading, false)
				recordUnit(&totalCustom, reading, true)
			}
		}
		setTypeValue(&totalAdditional, typ, round1(sumAdditional))
		setTypeValue(&totalCustom, typ, round1(sumCustom))
	}
	result.TotalAdditionalValues = totalAdditional
	result.TotalAdditionalCustomValues = totalCustom

	if len(consumptions) > 0 {
		last := consumptions[0]
		result.LastValue, result.LastCustomValue, result.LastYearComparedConsumption = lastPeriodValues(last, consumTypes)
	}

	if len(costs) > 0 {
		result.LastCosts = lastPeriodCosts(costs[0])
	}

	return result
}

func filterConsumptions(periods []Period, yearSet, monthSet map[int]bool, filterUnclassified bool) []Period {
	var filtered []Period
	for _, period := range periods {
		var kept []Reading
		if selected(yearSet, period.Date.Year) && selected(monthSet, period.Date.Month) {
			for _, reading := range period.Readings {
				if !filterUnclassified || reading.Type != "" {
					kept = append(kept, reading)
				}
			}
		}
		if len(kept) > 0 {
			period.Readings = kept
			filtered = append(filtered, period)
		}
	}
	return filtered
}

func filterCosts(periods []Period, yearSet, monthSet map[int]bool, filterUnclassified bool) []Period {
	var filtered []Period
	for _, period := range periods {
		var kept []CostEntry
		if selected(yearSet, period.Date.Year) && selected(monthSet, period.Date.Month) {
			for _, entry := range period.CostsByEnergyType {
				if !filterUnclassified || entry.Type != "" {
					kept = append(kept, entry)
				}
			}
		}
		if len(kept) > 0 {
			period.CostsByEnergyType = kept
			filtered = append(filtered, period)
		}
	}
	return filtered
}

func sumByYear(consumptions []Period, consumTypes []string) SumByYear {
	result := SumByYear{}

	years := map[int]bool{}
	for _, period := range consumptions {
		years[period.Date.Year] = true
	}

	for _, typ := range consumTypes {
		totals := map[int]float64{}
		for year := range years {
			var sum float64
			for _, period := range consumptions {
				if period.Date.Year != year {
					continue
				}
				for _, reading := range period.Readings {
					if reading.Type != typ {
						continue
					}
					sum += readingValue(reading)

					switch typ {
					case TypeHeating:
						// heating falls back to the additional unit
						if reading.Unit != "" {
							result.H = reading.Unit
						} else {
							result.H = reading.AdditionalUnit
						}
					case TypeWarmwater:
						result.WW = reading.Unit
					case TypeWater:
						result.W = reading.Unit
					}
				}
			}
			totals[year] = round1(sum)
		}

		switch typ {
		case TypeHeating:
			result.Heating = totals
		case TypeWarmwater:
			result.Warmwater = totals
		case TypeWater:
			result.Water = totals
		}
	}

	return result
}

func lastPeriodValues(last Period, consumTypes []string) (*LastValues, *LastValues, map[string]YearComparison) {
	lastValue := &LastValues{Month: last.Date.Month, Year: last.Date.Year}
	lastCustom := &LastValues{Month: last.Date.Month, Year: last.Date.Year}
	var compared map[string]YearComparison

	for _, typ := range consumTypes {
		var sumAdditional, sumCustom float64
		var present bool
		for _, reading := range last.Readings {
			if reading.Type != typ {
				continue
			}
			present = true
			sumAdditional += readingAdditionalValue(reading)
			sumCustom += readingValue(reading)
			recordLastUnit(lastValue, reading, false)
			recordLastUnit(lastCustom, reading, true)

			if cc := reading.ComparedConsumption; cc != nil {
				if compared == nil {
					compared = map[string]YearComparison{}
				}
				compared[typ] = YearComparison{
					LastYearValue:      numeric(cc.LastYearValue),
					Smiley:             cc.Smiley,
					ComparedPercentage: numeric(cc.ComparedPercentage),
					ComparedValue:      numeric(cc.ComparedValue),
					NowYearValue:       readingValue(reading),
				}
			}
		}
		if present {
			setLastValue(lastValue, typ, round1(sumAdditional))
			setLastValue(lastCustom, typ, round1(sumCustom))
		}
	}

	return lastValue, lastCustom, compared
}

func lastPeriodCosts(last Period) *LastCosts {
	costs := &LastCosts{Month: last.Date.Month, Year: last.Date.Year}

	for _, entry := range last.CostsByEnergyType {
		cc := entry.ComparedCost
		if cc == nil || cc.Smiley == "" || cc.ComparedPercentage == nil {
			continue
		}

		percentage := numeric(cc.ComparedPercentage)
		if cc.Smiley == SmileyHappy {
			percentage = -percentage
		}

		value := numeric(entry.Value)
		costs.Unit = entry.Unit

		switch entry.Type {
		case TypeHeating:
			addTo(&costs.Heating, value)
			costs.H = &percentage
		case TypeWarmwater:
			addTo(&costs.Warmwater, value)
			costs.WW = &percentage
		case TypeWater:
			addTo(&costs.Water, value)
			costs.W = &percentage
		}
	}

	return costs
}

// readingValue is the reading's value, falling back to the additional value
// when the value is zero or absent.
func readingValue(r Reading) float64 {
	if r.Value != nil && *r.Value != 0 {
		return float64(*r.Value)
	}
	if r.AdditionalValue != nil {
		return float64(*r.AdditionalValue)
	}
	return 0
}

// readingAdditionalValue is the mirrored fallback for the additional value.
func readingAdditionalValue(r Reading) float64 {
	if r.AdditionalValue != nil && *r.AdditionalValue != 0 {
		return float64(*r.AdditionalValue)
	}
	if r.Value != nil {
		return float64(*r.Value)
	}
	return 0
}

// recordUnit keeps one representative unit per type. Heating falls back to
// the alternate unit, warmwater and water use their primary unit directly.
func recordUnit(t *Totals, r Reading, custom bool) {
	primary, fallback := r.AdditionalUnit, r.Unit
	if custom {
		primary, fallback = r.Unit, r.AdditionalUnit
	}

	switch r.Type {
	case TypeHeating:
		if primary != "" {
			t.H = primary
		} else {
			t.H = fallback
		}
	case TypeWarmwater:
		t.WW = primary
	case TypeWater:
		t.W = primary
	}
}

func recordLastUnit(lv *LastValues, r Reading, custom bool) {
	primary, fallback := r.AdditionalUnit, r.Unit
	if custom {
		primary, fallback = r.Unit, r.AdditionalUnit
	}

	switch r.Type {
	case TypeHeating:
		if primary != "" {
			lv.H = primary
		} else {
			lv.H = fallback
		}
	case TypeWarmwater:
		lv.WW = primary
	case TypeWater:
		lv.W = primary
	}
}

func setTypeValue(t *Totals, typ string, value float64) {
	switch typ {
	case TypeHeating:
		t.Heating = &value
	case TypeWarmwater:
		t.Warmwater = &value
	case TypeWater:
		t.Water = &value
	}
}

func setLastValue(lv *LastValues, typ string, value float64) {
	switch typ {
	case TypeHeating:
		lv.Heating = &value
	case TypeWarmwater:
		lv.Warmwater = &value
	case TypeWater:
		lv.Water = &value
	}
}

func addTo(target **float64, value float64) {
	if *target == nil {
		*target = &value
		return
	}
	**target += value
}

func numeric(n *Numeric) float64 {
	if n == nil {
		return 0
	}
	return float64(*n)
}

func toSet(values []int) map[int]bool {
	if values == nil {
		return nil
	}
	set := make(map[int]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func selected(set map[int]bool, value int) bool {
	return set == nil || set[value]
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
