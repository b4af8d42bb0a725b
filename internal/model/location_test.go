package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocationHasCoordinates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		loc  Location
		want bool
	}{
		{"both set", Location{Longitude: -86.78, Latitude: 36.16}, true},
		{"only longitude", Location{Longitude: -86.78}, true},
		{"only latitude", Location{Latitude: 36.16}, true},
		{"blank row parses to zero", Location{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.loc.HasCoordinates())
		})
	}
}

func TestLocationFullAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		loc  Location
		want string
	}{
		{
			name: "all parts",
			loc:  Location{Address: "1211 Medical Center Dr", City: "Nashville", State: "TN", ZIP: "37232"},
			want: "1211 Medical Center Dr, Nashville, TN 37232",
		},
		{
			name: "street only",
			loc:  Location{Address: "1211 Medical Center Dr"},
			want: "1211 Medical Center Dr",
		},
		{
			name: "no zip",
			loc:  Location{Address: "100 Main St", City: "Memphis", State: "TN"},
			want: "100 Main St, Memphis, TN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.loc.FullAddress())
		})
	}
}
