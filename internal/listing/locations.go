package listing

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Locations is the static place hierarchy the workflow validates against
// before it ever touches the browser. A listing referencing a country or
// county missing from this table fails fast instead of burning a browser run.
//
// Counties were taken from the target site's location browser for England and
// Wales. Third-level areas are not enumerated here; the site renders them
// dynamically and the workflow resolves them by visible text at run time.
var Locations = map[string][]string{
	"England": {
		"Bedfordshire", "Berkshire", "Bristol", "Buckinghamshire",
		"Cambridgeshire", "Cheshire", "Cornwall", "County Durham", "Cumbria",
		"Derbyshire", "Devon", "Dorset", "East Sussex", "East Yorkshire",
		"Essex", "Gloucestershire", "Greater Manchester", "Hampshire",
		"Herefordshire", "Hertfordshire", "Isle of Wight", "Kent",
		"Lancashire", "Leicestershire", "Lincolnshire", "London",
		"Merseyside", "Norfolk", "North Yorkshire", "Northamptonshire",
		"Northumberland", "Nottinghamshire", "Oxfordshire", "Rutland",
		"Shropshire", "Somerset", "South Yorkshire", "Staffordshire",
		"Suffolk", "Surrey", "Tyne and Wear", "Warwickshire",
		"West Midlands", "West Sussex", "West Yorkshire", "Wiltshire",
		"Worcestershire",
	},
	"Wales": {
		"Blaenau Gwent", "Bridgend", "Caerphilly", "Cardiff",
		"Carmarthenshire", "Ceredigion", "Conwy", "Denbighshire",
		"Flintshire", "Gwynedd", "Isle of Anglesey", "Merthyr Tydfil",
		"Monmouthshire", "Neath Port Talbot", "Newport", "Pembrokeshire",
		"Powys", "Rhondda Cynon Taf", "Swansea", "Torfaen",
		"Vale of Glamorgan", "Wrexham",
	},
}

// ValidateLocation checks the first two hierarchy levels against the static
// table. The third level is never validated here; only the live page knows it.
func ValidateLocation(loc Location) error {
	counties, ok := Locations[loc.Country]
	if !ok {
		return fmt.Errorf("unknown country %q", loc.Country)
	}
	for _, c := range counties {
		if strings.EqualFold(c, loc.County) {
			return nil
		}
	}
	return fmt.Errorf("unknown county %q in %s", loc.County, loc.Country)
}

// ParsePrice converts a decimal price string like "12.50" into pence.
func ParsePrice(s string) (int64, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "£"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("price must be non-negative, got %q", s)
	}
	return int64(math.Round(v * 100)), nil
}
