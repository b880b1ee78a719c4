package units

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConversion(t *testing.T) {
	require.InDelta(t, 36.0, FromMPS(10, KPH), 1e-9)
	require.InDelta(t, 22.369362920544, FromMPS(10, MPH), 1e-9)
	require.InDelta(t, 10.0, FromMPS(10, MPS), 1e-9)

	// Round trips
	for _, u := range []Unit{MPS, KPH, MPH} {
		require.InDelta(t, 27.5, ToMPS(FromMPS(27.5, u), u), 1e-9)
	}
}

func TestIsValid(t *testing.T) {
	require.True(t, IsValid(MPS))
	require.True(t, IsValid(KPH))
	require.True(t, IsValid(MPH))
	require.False(t, IsValid(Unit("furlongs")))
}
