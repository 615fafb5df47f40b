// Package sales defines the core domain records shared by the ingest
// pipeline, the storage backends, and the HTTP layer.
package sales

import (
	"encoding/json"
	"time"
)

// DateLayout and TimeLayout are the canonical wire formats used for
// order_date and order_time in JSON responses and in the SQLite backend.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// City is a geographic grouping referenced by orders. City rows are only
// ever replaced wholesale by a bulk reload.
type City struct {
	ID           int64  `json:"id"`
	DistrictName string `json:"district_name"`
	CityName     string `json:"city_name"`
}

// Order is one sales transaction record. UniqueOrderNumber is the sole
// identity key for reconciliation.
//
// OrderDate carries a calendar date (time-of-day zero); OrderTime carries a
// time of day on the zero date. Keeping them separate mirrors the stored
// schema and avoids timezone ambiguity for date-only values.
type Order struct {
	UniqueOrderNumber string
	OrderDate         time.Time
	OrderTime         time.Time
	DistrictCityID    int64
	RptgAmt           float64
	CurrencyCd        string
	OrderQty          int64
	Locked            bool
}

// OrderWithCity is an order joined with its city, as served by the read API.
// City is nil when district_city_id does not resolve.
type OrderWithCity struct {
	Order
	City *City
}

// Filter selects orders for list and export queries. Zero values mean
// "no constraint"; all set fields combine with logical AND.
//
// StartDate/EndDate constrain order_date inclusively; StartTime/EndTime
// constrain order_time inclusively. CityNames, when non-empty, is an IN set
// over city_name and supersedes CityName matching semantics only in that it
// accepts several values.
type Filter struct {
	CityName     string
	DistrictName string
	CityNames    []string
	StartDate    time.Time
	EndDate      time.Time
	StartTime    time.Time
	EndTime      time.Time
	QtyThreshold *int64
}

// SeriesGroup selects the grouping dimension of a sales time series.
type SeriesGroup string

const (
	GroupByCity     SeriesGroup = "city"
	GroupByDistrict SeriesGroup = "district"
)

// SeriesFilter selects orders for the time-bucketed aggregation.
// StartDate and EndDate are required (inclusive).
type SeriesFilter struct {
	GroupBy      SeriesGroup
	StartDate    time.Time
	EndDate      time.Time
	CityNames    []string
	QtyThreshold *int64
}

// SeriesPoint is one bucket of the aggregation: total rptg_amt for one
// calendar date and one city or district.
type SeriesPoint struct {
	Group      string  `json:"group"`
	Date       string  `json:"date"`
	TotalSales float64 `json:"total_sales"`
}

// orderJSON is the wire shape of an Order: date and time rendered in their
// canonical layouts rather than RFC3339 timestamps.
type orderJSON struct {
	UniqueOrderNumber string  `json:"unique_order_number"`
	OrderDate         string  `json:"order_date"`
	OrderTime         string  `json:"order_time"`
	DistrictCityID    int64   `json:"district_city_id"`
	RptgAmt           float64 `json:"rptg_amt"`
	CurrencyCd        string  `json:"currency_cd"`
	OrderQty          int64   `json:"order_qty"`
	Locked            bool    `json:"locked"`
	City              *City   `json:"city,omitempty"`
}

// MarshalJSON renders the order with date/time in canonical layouts.
func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{
		UniqueOrderNumber: o.UniqueOrderNumber,
		OrderDate:         o.DateString(),
		OrderTime:         o.TimeString(),
		DistrictCityID:    o.DistrictCityID,
		RptgAmt:           o.RptgAmt,
		CurrencyCd:        o.CurrencyCd,
		OrderQty:          o.OrderQty,
		Locked:            o.Locked,
	})
}

// MarshalJSON renders the joined record, embedding the city when resolved.
func (o OrderWithCity) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{
		UniqueOrderNumber: o.UniqueOrderNumber,
		OrderDate:         o.DateString(),
		OrderTime:         o.TimeString(),
		DistrictCityID:    o.DistrictCityID,
		RptgAmt:           o.RptgAmt,
		CurrencyCd:        o.CurrencyCd,
		OrderQty:          o.OrderQty,
		Locked:            o.Locked,
		City:              o.City,
	})
}

// DateString renders OrderDate in the canonical wire format.
func (o Order) DateString() string { return o.OrderDate.Format(DateLayout) }

// TimeString renders OrderTime in the canonical wire format.
func (o Order) TimeString() string { return o.OrderTime.Format(TimeLayout) }
