// Package tiger downloads Census TIGER/Line boundary shapefiles and
// bulk-loads them into PostGIS coverage.* tables for overlap analysis.
package tiger

import (
	"fmt"
	"sort"
)

// Product describes a TIGER/Line boundary product.
type Product struct {
	Name     string   // Census directory name, e.g. "BG"
	File     string   // archive filename component, e.g. "bg"
	Table    string   // target table in the coverage schema
	National bool     // true = single national file, false = per-state
	Columns  []string // DBF columns loaded into the table (without geom)
	GeomType string   // PostGIS geometry type, always polygonal for boundaries
}

// Products lists the boundary layers the engine works with. Block groups are
// the areal units population is apportioned over; tracts are the coarser
// fallback; counties and states provide roster validation and map context.
var Products = []Product{
	{
		Name:     "BG",
		File:     "bg",
		Table:    "block_groups",
		National: false,
		Columns: []string{
			"statefp", "countyfp", "tractce", "blkgrpce", "geoid",
			"namelsad", "mtfcc", "funcstat", "aland", "awater",
			"intptlat", "intptlon",
		},
		GeomType: "MULTIPOLYGON",
	},
	{
		Name:     "TRACT",
		File:     "tract",
		Table:    "tracts",
		National: false,
		Columns: []string{
			"statefp", "countyfp", "tractce", "geoid", "name", "namelsad",
			"mtfcc", "funcstat", "aland", "awater", "intptlat", "intptlon",
		},
		GeomType: "MULTIPOLYGON",
	},
	{
		Name:     "COUNTY",
		File:     "county",
		Table:    "counties",
		National: true,
		Columns: []string{
			"statefp", "countyfp", "countyns", "geoid", "name", "namelsad",
			"lsad", "classfp", "mtfcc", "csafp", "cbsafp", "metdivfp",
			"funcstat", "aland", "awater", "intptlat", "intptlon",
		},
		GeomType: "MULTIPOLYGON",
	},
	{
		Name:     "STATE",
		File:     "state",
		Table:    "states",
		National: true,
		Columns: []string{
			"region", "division", "statefp", "statens", "geoid", "stusps",
			"name", "lsad", "mtfcc", "funcstat", "aland", "awater",
			"intptlat", "intptlon",
		},
		GeomType: "MULTIPOLYGON",
	},
}

// numericColumns are DBF attributes stored as bigint rather than text.
var numericColumns = map[string]bool{
	"aland":  true,
	"awater": true,
}

// FIPSCodes maps state abbreviation to 2-digit FIPS code for all 50 states + DC.
var FIPSCodes = map[string]string{
	"AL": "01", "AK": "02", "AZ": "04", "AR": "05", "CA": "06",
	"CO": "08", "CT": "09", "DE": "10", "DC": "11", "FL": "12",
	"GA": "13", "HI": "15", "ID": "16", "IL": "17", "IN": "18",
	"IA": "19", "KS": "20", "KY": "21", "LA": "22", "ME": "23",
	"MD": "24", "MA": "25", "MI": "26", "MN": "27", "MS": "28",
	"MO": "29", "MT": "30", "NE": "31", "NV": "32", "NH": "33",
	"NJ": "34", "NM": "35", "NY": "36", "NC": "37", "ND": "38",
	"OH": "39", "OK": "40", "OR": "41", "PA": "42", "RI": "44",
	"SC": "45", "SD": "46", "TN": "47", "TX": "48", "UT": "49",
	"VT": "50", "VA": "51", "WA": "53", "WV": "54", "WI": "55",
	"WY": "56",
}

// abbrByFIPS is a reverse lookup from FIPS code to state abbreviation.
var abbrByFIPS map[string]string

func init() {
	abbrByFIPS = make(map[string]string, len(FIPSCodes))
	for abbr, fips := range FIPSCodes {
		abbrByFIPS[fips] = abbr
	}
}

// AbbrFromFIPS returns the state abbreviation for a FIPS code.
func AbbrFromFIPS(fips string) (string, bool) {
	abbr, ok := abbrByFIPS[fips]
	return abbr, ok
}

// AllStateFIPS returns a sorted list of all state FIPS codes.
func AllStateFIPS() []string {
	codes := make([]string, 0, len(FIPSCodes))
	for _, fips := range FIPSCodes {
		codes = append(codes, fips)
	}
	sort.Strings(codes)
	return codes
}

// AllStateAbbrs returns a sorted list of state abbreviations (50 states + DC).
func AllStateAbbrs() []string {
	abbrs := make([]string, 0, len(FIPSCodes))
	for abbr := range FIPSCodes {
		abbrs = append(abbrs, abbr)
	}
	sort.Strings(abbrs)
	return abbrs
}

// ProductByName looks up a product by its name (case-sensitive).
func ProductByName(name string) (Product, bool) {
	for _, p := range Products {
		if p.Name == name {
			return p, true
		}
	}
	return Product{}, false
}

// NationalProducts returns products with National=true.
func NationalProducts() []Product {
	var out []Product
	for _, p := range Products {
		if p.National {
			out = append(out, p)
		}
	}
	return out
}

// PerStateProducts returns products with National=false.
func PerStateProducts() []Product {
	var out []Product
	for _, p := range Products {
		if !p.National {
			out = append(out, p)
		}
	}
	return out
}

// DownloadURL builds the Census Bureau HTTPS URL for a TIGER/Line shapefile.
// National products use tl_{year}_us_{file}.zip; per-state use
// tl_{year}_{fips}_{file}.zip.
func DownloadURL(product Product, year int, stateFIPS string) string {
	return "https://www2.census.gov" + archivePath(product, year, stateFIPS)
}

// FTPURL builds the equivalent URL on the ftp2.census.gov mirror.
func FTPURL(product Product, year int, stateFIPS string) string {
	return "ftp://ftp2.census.gov" + archivePath(product, year, stateFIPS)
}

func archivePath(product Product, year int, stateFIPS string) string {
	region := stateFIPS
	if product.National {
		region = "us"
	}
	return fmt.Sprintf("/geo/tiger/TIGER%d/%s/tl_%d_%s_%s.zip",
		year, product.Name, year, region, product.File)
}
