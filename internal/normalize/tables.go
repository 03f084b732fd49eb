package normalize

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Tables holds the lookup data the Normalizer and the virtual classifier are
// built from. Map keys match case- and accent-insensitively; a trailing "."
// on an input token is ignored.
type Tables struct {
	// Suffixes expands abbreviated road types, e.g. "rd" -> "Road".
	Suffixes map[string]string `yaml:"suffixes"`

	// Towns maps short forms to canonical town names, e.g. "nrb" -> "Nairobi".
	Towns map[string]string `yaml:"towns"`

	// Counties maps short or variant county names to canonical ones.
	Counties map[string]string `yaml:"counties"`

	// Descriptors are building-internal keywords stripped together with the
	// identifier that follows them ("Floor 2", "Suite 4B", "Block C").
	Descriptors []string `yaml:"descriptors"`

	// Relational are phrases that locate an address relative to a landmark.
	Relational []string `yaml:"relational"`

	// VirtualKeywords mark an address as a non-physical provider.
	VirtualKeywords []string `yaml:"virtual_keywords"`
}

// DefaultTables returns the built-in tables for Kenyan provider addresses.
func DefaultTables() Tables {
	return Tables{
		Suffixes: map[string]string{
			"rd":   "Road",
			"st":   "Street",
			"str":  "Street",
			"ave":  "Avenue",
			"av":   "Avenue",
			"blvd": "Boulevard",
			"dr":   "Drive",
			"ln":   "Lane",
			"hwy":  "Highway",
			"cres": "Crescent",
			"cl":   "Close",
			"ct":   "Court",
			"pl":   "Place",
			"sq":   "Square",
			"ter":  "Terrace",
			"gdns": "Gardens",
			"est":  "Estate",
		},
		Towns: map[string]string{
			"nrb":  "Nairobi",
			"nbi":  "Nairobi",
			"nai":  "Nairobi",
			"msa":  "Mombasa",
			"mbsa": "Mombasa",
			"ksm":  "Kisumu",
			"eld":  "Eldoret",
			"nak":  "Nakuru",
			"nkr":  "Nakuru",
			"ktl":  "Kitale",
			"mks":  "Machakos",
			"kak":  "Kakamega",
			"thk":  "Thika",
		},
		Counties: map[string]string{
			"nrb":             "Nairobi",
			"nairobi city":    "Nairobi",
			"msa":             "Mombasa",
			"ksm":             "Kisumu",
			"ug":              "Uasin Gishu",
			"uasin-gishu":     "Uasin Gishu",
			"tharaka nithi":   "Tharaka-Nithi",
			"muranga":         "Murang'a",
			"elgeyo marakwet": "Elgeyo-Marakwet",
			"taita taveta":    "Taita-Taveta",
			"homabay":         "Homa Bay",
			"trans-nzoia":     "Trans Nzoia",
		},
		Descriptors: []string{
			"floor", "flr", "suite", "ste", "room", "rm", "unit", "wing",
			"block", "blk", "flat", "apt", "apartment", "office", "door", "shop",
		},
		Relational: []string{
			"next to", "adjacent to", "opposite", "opp", "behind", "near",
			"nr", "off", "along", "beside", "facing",
		},
		VirtualKeywords: []string{
			"virtual", "online", "telemedicine", "telehealth", "teleconsultation",
		},
	}
}

// LoadTables reads tables from a YAML file. Sections missing from the file
// keep their DefaultTables values.
func LoadTables(path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, eris.Wrapf(err, "normalize: read tables %s", path)
	}

	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tables{}, eris.Wrapf(err, "normalize: parse tables %s", path)
	}
	return t.withDefaults(), nil
}

func (t Tables) withDefaults() Tables {
	def := DefaultTables()
	if t.Suffixes == nil {
		t.Suffixes = def.Suffixes
	}
	if t.Towns == nil {
		t.Towns = def.Towns
	}
	if t.Counties == nil {
		t.Counties = def.Counties
	}
	if t.Descriptors == nil {
		t.Descriptors = def.Descriptors
	}
	if t.Relational == nil {
		t.Relational = def.Relational
	}
	if t.VirtualKeywords == nil {
		t.VirtualKeywords = def.VirtualKeywords
	}
	return t
}
