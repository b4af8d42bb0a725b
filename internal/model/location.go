package model

// Location is a service facility, such as a certified stroke center,
// whose drive-time reach is being analyzed.
type Location struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Address   string  `json:"address,omitempty"`
	City      string  `json:"city,omitempty"`
	State     string  `json:"state,omitempty"`
	ZIP       string  `json:"zip,omitempty"`
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`

	// Geocoded is true when the coordinates came from the geocoder
	// rather than the roster file.
	Geocoded  bool   `json:"geocoded,omitempty"`
	StateFIPS string `json:"state_fips,omitempty"`
	Source    string `json:"source,omitempty"`
}

// HasCoordinates reports whether the location carries usable coordinates.
// Roster rows with blank lon/lat parse to zero, which is open ocean and
// never a real facility.
func (l Location) HasCoordinates() bool {
	return l.Longitude != 0 || l.Latitude != 0
}

// FullAddress joins the address parts for geocoding.
func (l Location) FullAddress() string {
	out := l.Address
	if l.City != "" {
		out += ", " + l.City
	}
	if l.State != "" {
		out += ", " + l.State
	}
	if l.ZIP != "" {
		out += " " + l.ZIP
	}
	return out
}
