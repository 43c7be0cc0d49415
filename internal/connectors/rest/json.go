package rest

import (
	"errors"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

// Time parses an RFC 3339 timestamp. Returns the zero time when absent or invalid.
func Time(v gjson.Result) time.Time {
	if !v.Exists() || v.Str == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v.Str)
	if err != nil {
		return time.Time{}
	}
	return t
}

// TimePtr is Time, returning nil for the zero time.
func TimePtr(v gjson.Result) *time.Time {
	t := Time(v)
	if t.IsZero() {
		return nil
	}
	return &t
}

// ID renders a numeric or string identifier.
func ID(v gjson.Result) string {
	switch v.Type {
	case gjson.Number:
		return strconv.FormatInt(v.Int(), 10)
	case gjson.String:
		return v.Str
	default:
		return ""
	}
}

// Strings collects the non-empty string values at path of each array element.
func Strings(arr gjson.Result, path string) []string {
	var out []string
	arr.ForEach(func(_, item gjson.Result) bool {
		v := item
		if path != "" {
			v = item.Get(path)
		}
		if s := v.String(); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out
}

// NonEmpty returns the non-empty values in order.
func NonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// FirstPage clamps page numbers to 1.
func FirstPage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// EmptyOnNotFound turns a not-found listing into an empty last page.
func EmptyOnNotFound[T any](page int, err error) (*domain.Page[T], error) {
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.Page[T]{Number: page}, nil
	}
	return nil, err
}
