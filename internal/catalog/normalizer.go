package catalog

import (
	"encoding/json"
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"
)

// DefaultProductName is the placeholder name of synced products. Feeds are
// not trusted with display names; catalog editors set the real one.
const DefaultProductName = "default"

// NormalizedProduct is a feed record in the internal product shape.
type NormalizedProduct struct {
	CompanyID    string
	PID          string
	Name         string
	Price        int64
	PriceSpecial int64
	URL          string
	Data         map[string]interface{}
	DataOptions  map[string]interface{}
	// Images is ordered as in the feed but treated as a set.
	Images []string
}

// Normalize converts raw feed records of one company. The sequence is lazy
// and can be ranged over any number of times. It stops after the first
// structural error (ErrMissingID or *FieldError).
func Normalize(companyID string, records []RawRecord) iter.Seq2[NormalizedProduct, error] {
	return func(yield func(NormalizedProduct, error) bool) {
		for i, record := range records {
			product, err := normalizeRecord(companyID, i, record)
			if !yield(product, err) || err != nil {
				return
			}
		}
	}
}

// CollectNormalized drains seq, returning the first error.
func CollectNormalized(seq iter.Seq2[NormalizedProduct, error]) ([]NormalizedProduct, error) {
	var products []NormalizedProduct
	for product, err := range seq {
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, nil
}

func normalizeRecord(companyID string, index int, record RawRecord) (NormalizedProduct, error) {
	pid, err := recordID(index, record)
	if err != nil {
		return NormalizedProduct{}, err
	}
	price, err := intField(index, record, "price")
	if err != nil {
		return NormalizedProduct{}, err
	}
	special, err := intField(index, record, "special")
	if err != nil {
		return NormalizedProduct{}, err
	}
	url, err := stringField(index, record, "url")
	if err != nil {
		return NormalizedProduct{}, err
	}
	data, err := objectField(index, record, "data")
	if err != nil {
		return NormalizedProduct{}, err
	}
	options, err := objectField(index, record, "data_options")
	if err != nil {
		return NormalizedProduct{}, err
	}
	images, err := stringListField(index, record, "images")
	if err != nil {
		return NormalizedProduct{}, err
	}

	return NormalizedProduct{
		CompanyID:    companyID,
		PID:          pid,
		Name:         DefaultProductName,
		Price:        price,
		PriceSpecial: special,
		URL:          url,
		Data:         data,
		DataOptions:  options,
		Images:       images,
	}, nil
}

func recordID(index int, record RawRecord) (string, error) {
	value, ok := record["id"]
	if !ok || value == nil {
		return "", fmt.Errorf("feed record %d: %w", index, ErrMissingID)
	}
	var id string
	switch v := value.(type) {
	case string:
		id = strings.TrimSpace(v)
	case json.Number:
		id = v.String()
	case float64:
		id = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		id = strconv.Itoa(v)
	case int64:
		id = strconv.FormatInt(v, 10)
	default:
		return "", &FieldError{Index: index, Field: "id", Value: value}
	}
	if id == "" {
		return "", fmt.Errorf("feed record %d: %w", index, ErrMissingID)
	}
	return id, nil
}

// intField coerces numbers and integer strings; fractions are truncated.
// Absent and null fields are 0.
func intField(index int, record RawRecord, field string) (int64, error) {
	value := record[field]
	switch v := value.(type) {
	case nil:
		return 0, nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		if f, err := v.Float64(); err == nil && fitsInt64(f) {
			return int64(f), nil
		}
	case float64:
		if fitsInt64(v) {
			return int64(v), nil
		}
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, &FieldError{Index: index, Field: field, Value: value}
}

// fitsInt64 reports whether f truncates to an int64 without overflow. It is
// false for NaN and infinities.
func fitsInt64(f float64) bool {
	return f >= math.MinInt64 && f < math.MaxInt64
}

func stringField(index int, record RawRecord, field string) (string, error) {
	switch v := record[field].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", &FieldError{Index: index, Field: field, Value: v}
	}
}

func objectField(index int, record RawRecord, field string) (map[string]interface{}, error) {
	switch v := record[field].(type) {
	case nil:
		return map[string]interface{}{}, nil
	case map[string]interface{}:
		return v, nil
	case RawRecord:
		return v, nil
	default:
		return nil, &FieldError{Index: index, Field: field, Value: v}
	}
}

func stringListField(index int, record RawRecord, field string) ([]string, error) {
	switch v := record[field].(type) {
	case nil:
		return []string{}, nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, &FieldError{Index: index, Field: field, Value: item}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, &FieldError{Index: index, Field: field, Value: v}
	}
}
