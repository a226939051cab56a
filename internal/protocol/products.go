package protocol

// VendorLIFX is the vendor identifier reported by genuine LIFX devices.
const VendorLIFX = 1

// Features describes what a product is capable of. Flags drive which
// follow-up queries and commands a device accepts.
type Features struct {
	// Color means full HSBK colour; false means white-spectrum only.
	Color bool

	// Infrared means the product has night-vision IR LEDs.
	Infrared bool

	// Multizone means the product is a strip with addressable zones.
	Multizone bool

	// ExtendedMultizone means all zones fit in one extended message.
	ExtendedMultizone bool

	// Matrix means the product has a 2D zone layout (tiles, candles).
	Matrix bool

	// Hev means the product has a germicidal HEV cycle.
	Hev bool

	// Relay means the product is a switch, not a light.
	Relay bool
}

// Product is one entry in the product registry.
type Product struct {
	Name     string
	Features Features

	// extMZMajor/extMZMinor gate extended multizone on firmware version
	// for the early strip products; zero means no gate applies.
	extMZMajor uint16
	extMZMinor uint16
}

// products maps LIFX product identifiers to capabilities. The registry
// covers the common product families; unknown identifiers fall back to
// a plain colour bulb profile.
var products = map[uint32]Product{
	1:   {Name: "LIFX Original 1000", Features: Features{Color: true}},
	3:   {Name: "LIFX Color 650", Features: Features{Color: true}},
	10:  {Name: "LIFX White 800 (Low Voltage)"},
	11:  {Name: "LIFX White 800 (High Voltage)"},
	15:  {Name: "LIFX Color 1000", Features: Features{Color: true}},
	18:  {Name: "LIFX White 900 BR30 (Low Voltage)"},
	20:  {Name: "LIFX Color 1000 BR30", Features: Features{Color: true}},
	22:  {Name: "LIFX Color 1000", Features: Features{Color: true}},
	27:  {Name: "LIFX A19", Features: Features{Color: true}},
	28:  {Name: "LIFX BR30", Features: Features{Color: true}},
	29:  {Name: "LIFX A19 Night Vision", Features: Features{Color: true, Infrared: true}},
	30:  {Name: "LIFX BR30 Night Vision", Features: Features{Color: true, Infrared: true}},
	31:  {Name: "LIFX Z", Features: Features{Color: true, Multizone: true}},
	32:  {Name: "LIFX Z", Features: Features{Color: true, Multizone: true}, extMZMajor: 2, extMZMinor: 77},
	36:  {Name: "LIFX Downlight", Features: Features{Color: true}},
	37:  {Name: "LIFX Downlight", Features: Features{Color: true}},
	38:  {Name: "LIFX Beam", Features: Features{Color: true, Multizone: true}, extMZMajor: 2, extMZMinor: 77},
	43:  {Name: "LIFX A19", Features: Features{Color: true}},
	44:  {Name: "LIFX BR30", Features: Features{Color: true}},
	45:  {Name: "LIFX A19 Night Vision", Features: Features{Color: true, Infrared: true}},
	46:  {Name: "LIFX BR30 Night Vision", Features: Features{Color: true, Infrared: true}},
	49:  {Name: "LIFX Mini Color", Features: Features{Color: true}},
	50:  {Name: "LIFX Mini White to Warm"},
	51:  {Name: "LIFX Mini White"},
	52:  {Name: "LIFX GU10", Features: Features{Color: true}},
	55:  {Name: "LIFX Tile", Features: Features{Color: true, Matrix: true}},
	57:  {Name: "LIFX Candle", Features: Features{Color: true, Matrix: true}},
	59:  {Name: "LIFX Mini Color", Features: Features{Color: true}},
	60:  {Name: "LIFX Mini White to Warm"},
	61:  {Name: "LIFX Mini White"},
	66:  {Name: "LIFX Mini White"},
	68:  {Name: "LIFX Candle", Features: Features{Color: true, Matrix: true}},
	81:  {Name: "LIFX Candle White to Warm"},
	82:  {Name: "LIFX Filament Clear"},
	85:  {Name: "LIFX Filament Amber"},
	87:  {Name: "LIFX Mini White"},
	88:  {Name: "LIFX Mini White"},
	90:  {Name: "LIFX Clean", Features: Features{Color: true, Hev: true}},
	91:  {Name: "LIFX Color", Features: Features{Color: true}},
	92:  {Name: "LIFX Color", Features: Features{Color: true}},
	93:  {Name: "LIFX A19 US", Features: Features{Color: true}},
	94:  {Name: "LIFX BR30", Features: Features{Color: true}},
	96:  {Name: "LIFX Candle White to Warm"},
	97:  {Name: "LIFX A19", Features: Features{Color: true}},
	98:  {Name: "LIFX BR30", Features: Features{Color: true}},
	99:  {Name: "LIFX Clean", Features: Features{Color: true, Hev: true}},
	100: {Name: "LIFX Filament Clear"},
	101: {Name: "LIFX Filament Amber"},
	109: {Name: "LIFX A19 Night Vision", Features: Features{Color: true, Infrared: true}},
	110: {Name: "LIFX BR30 Night Vision", Features: Features{Color: true, Infrared: true}},
	111: {Name: "LIFX A19 Night Vision", Features: Features{Color: true, Infrared: true}},
	112: {Name: "LIFX BR30 Night Vision", Features: Features{Color: true, Infrared: true}},
	113: {Name: "LIFX Mini White to Warm"},
	114: {Name: "LIFX Mini White to Warm"},
	115: {Name: "LIFX Switch", Features: Features{Relay: true}},
	116: {Name: "LIFX Switch", Features: Features{Relay: true}},
	117: {Name: "LIFX Z", Features: Features{Color: true, Multizone: true, ExtendedMultizone: true}},
	118: {Name: "LIFX Z", Features: Features{Color: true, Multizone: true, ExtendedMultizone: true}},
	119: {Name: "LIFX Beam", Features: Features{Color: true, Multizone: true, ExtendedMultizone: true}},
	120: {Name: "LIFX Beam", Features: Features{Color: true, Multizone: true, ExtendedMultizone: true}},
}

// defaultProduct is used for identifiers missing from the registry.
// Treating unknowns as colour bulbs keeps new retail products usable
// before the registry catches up.
var defaultProduct = Product{Name: "LIFX Bulb", Features: Features{Color: true}}

// LookupProduct returns the registry entry for a (vendor, product)
// pair, falling back to a generic colour bulb for unknown identifiers.
func LookupProduct(vendor, product uint32) Product {
	if vendor != VendorLIFX {
		return defaultProduct
	}
	if p, ok := products[product]; ok {
		return p
	}
	return defaultProduct
}

// FeaturesFor resolves the capability set for a product at a given
// firmware version, applying the extended-multizone firmware gate on
// the early strip products.
func FeaturesFor(vendor, product uint32, fwMajor, fwMinor uint16) Features {
	p := LookupProduct(vendor, product)
	f := p.Features

	if f.Multizone && !f.ExtendedMultizone && p.extMZMajor != 0 {
		if fwMajor > p.extMZMajor || (fwMajor == p.extMZMajor && fwMinor >= p.extMZMinor) {
			f.ExtendedMultizone = true
		}
	}

	return f
}
