package geo_test

import (
	"testing"

	"github.com/fieldline/dispatch/pkg/geo"
	"github.com/stretchr/testify/assert"
)

func TestHaversineMiles(t *testing.T) {
	tests := []struct {
		name     string
		lat1     float64
		lon1     float64
		lat2     float64
		lon2     float64
		expected float64
	}{
		{
			name: "same point",
			lat1: 37.7749, lon1: -122.4194,
			lat2: 37.7749, lon2: -122.4194,
			expected: 0,
		},
		{
			name: "one degree of latitude",
			lat1: 0, lon1: 0,
			lat2: 1, lon2: 0,
			expected: 69.09,
		},
		{
			name: "san francisco to oakland",
			lat1: 37.7749, lon1: -122.4194,
			lat2: 37.8044, lon2: -122.2712,
			expected: 8.34,
		},
		{
			name: "san francisco to los angeles",
			lat1: 37.7749, lon1: -122.4194,
			lat2: 34.0522, lon2: -118.2437,
			expected: 347.43,
		},
		{
			name: "a few blocks",
			lat1: 37.7749, lon1: -122.4194,
			lat2: 37.7785, lon2: -122.4194,
			expected: 0.25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := geo.HaversineMiles(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestHaversineMilesIsSymmetric(t *testing.T) {
	forward := geo.HaversineMiles(37.7749, -122.4194, 34.0522, -118.2437)
	reverse := geo.HaversineMiles(34.0522, -118.2437, 37.7749, -122.4194)
	assert.Equal(t, forward, reverse)
}

func TestDriveMinutes(t *testing.T) {
	assert.Equal(t, 30.0, geo.DriveMinutes(15))
	assert.Equal(t, 0.0, geo.DriveMinutes(0))
	assert.InDelta(t, 8.74, geo.DriveMinutes(4.37), 1e-9)
}
