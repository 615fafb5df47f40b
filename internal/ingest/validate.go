package ingest

import "sort"

// RequiredColumns is the upload schema contract. Column names are compared
// after header normalization (lowercase, spaces to underscores).
var RequiredColumns = []string{
	"unique_order_number",
	"order_time",
	"order_date",
	"district_city_id",
	"rptg_amt",
	"currency_cd",
	"order_qty",
	"locked",
}

// ValidateColumns checks that every required column is present in the
// normalized header set. On failure it returns a *SchemaError naming the
// missing columns in sorted order.
func ValidateColumns(columns []string) error {
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}

	var missing []string
	for _, c := range RequiredColumns {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &SchemaError{Missing: missing}
}
