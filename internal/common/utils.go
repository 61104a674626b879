package common

import "math"

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Mean averages the non-nil values, or returns nil when there are none.
func Mean(values []*float64) *float64 {
	sum, n := 0.0, 0
	for _, v := range values {
		if v == nil {
			continue
		}
		sum += *v
		n++
	}
	if n == 0 {
		return nil
	}
	m := sum / float64(n)
	return &m
}

// Sum adds the non-nil values, or returns nil when there are none.
func Sum(values []*float64) *float64 {
	sum, n := 0.0, 0
	for _, v := range values {
		if v == nil {
			continue
		}
		sum += *v
		n++
	}
	if n == 0 {
		return nil
	}
	return &sum
}

// RoundInt rounds a nullable float half away from zero.
func RoundInt(v *float64) *int {
	if v == nil {
		return nil
	}
	r := int(math.Round(*v))
	return &r
}
