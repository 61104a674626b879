package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeanSkipsNil(t *testing.T) {
	m := Mean([]*float64{Ptr(10.0), nil, Ptr(20.0)})
	require.NotNil(t, m)
	assert.InDelta(t, 15.0, *m, 1e-9)

	assert.Nil(t, Mean([]*float64{nil, nil}))
	assert.Nil(t, Mean(nil))
}

func TestSumAndRound(t *testing.T) {
	s := Sum([]*float64{Ptr(0.2), nil, Ptr(0.3)})
	require.NotNil(t, s)
	assert.InDelta(t, 0.5, *s, 1e-9)
	assert.Nil(t, Sum([]*float64{nil}))

	assert.Equal(t, 43, *RoundInt(Ptr(42.5)))
	assert.Nil(t, RoundInt(nil))
}
