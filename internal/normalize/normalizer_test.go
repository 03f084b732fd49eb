package normalize

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/medpanel/provider-geocoder/internal/model"
)

func TestNormalize(t *testing.T) {
	n := New(DefaultTables())

	tests := []struct {
		name string
		raw  model.RawAddressRecord
		want model.NormalizedAddress
	}{
		{
			name: "floor descriptor, relative phrase and town short form",
			raw:  model.RawAddressRecord{PhysicalAddress: "123 Moi Avenue, Floor 2, near City Hall, Nrb"},
			want: model.NormalizedAddress{
				Address:  "123 Moi Avenue, City Hall, Nairobi",
				Street:   "123 Moi Avenue, City Hall, Nairobi",
				Town:     "Nairobi",
				Landmark: "City Hall",
			},
		},
		{
			name: "trailing suffix expanded",
			raw:  model.RawAddressRecord{PhysicalAddress: "45 Ngong Rd", Town: "Nairobi", County: "Nairobi County"},
			want: model.NormalizedAddress{
				Address: "45 Ngong Road",
				Street:  "45 Ngong Road",
				Town:    "Nairobi",
				County:  "Nairobi",
			},
		},
		{
			name: "suffix before relational phrase",
			raw:  model.RawAddressRecord{PhysicalAddress: "Kaunda St off Moi Ave", Town: "Nrb"},
			want: model.NormalizedAddress{
				Address:  "Kaunda Street, Moi Avenue",
				Street:   "Kaunda Street, Moi Avenue",
				Town:     "Nairobi",
				Landmark: "Moi Avenue",
			},
		},
		{
			name: "town short form after relational phrase",
			raw:  model.RawAddressRecord{PhysicalAddress: "Hospital Rd off Nrb"},
			want: model.NormalizedAddress{
				Address:  "Hospital Road, Nairobi",
				Street:   "Hospital Road, Nairobi",
				Town:     "Nairobi",
				Landmark: "Nairobi",
			},
		},
		{
			name: "landmark column naming a town short form",
			raw:  model.RawAddressRecord{PhysicalAddress: "Digo Rd", Town: "Mombasa", Landmark: "opposite Msa"},
			want: model.NormalizedAddress{
				Address:  "Digo Road",
				Street:   "Digo Road",
				Town:     "Mombasa",
				Landmark: "Mombasa",
			},
		},
		{
			name: "leading saint is not a street suffix",
			raw:  model.RawAddressRecord{PhysicalAddress: "St Luke's Hospital", Town: "Eldoret"},
			want: model.NormalizedAddress{
				Address: "St Luke's Hospital",
				Street:  "St Luke's Hospital",
				Town:    "Eldoret",
			},
		},
		{
			name: "suite and block descriptors stripped, building names kept",
			raw:  model.RawAddressRecord{PhysicalAddress: "Suite 4B, Kenyatta House, Block C, Moi Ave", Town: "Msa"},
			want: model.NormalizedAddress{
				Address: "Kenyatta House, Moi Avenue",
				Street:  "Kenyatta House, Moi Avenue",
				Town:    "Mombasa",
			},
		},
		{
			name: "ordinal floor and keyword prefix of a name",
			raw:  model.RawAddressRecord{PhysicalAddress: "2nd Floor Unity House, Tom Mboya St", Town: "Nairobi"},
			want: model.NormalizedAddress{
				Address: "Unity House, Tom Mboya Street",
				Street:  "Unity House, Tom Mboya Street",
				Town:    "Nairobi",
			},
		},
		{
			name: "postal box dropped",
			raw:  model.RawAddressRecord{PhysicalAddress: "P.O. Box 1234-00100, Ground Floor, Mama Ngina St", Town: "Nairobi"},
			want: model.NormalizedAddress{
				Address: "Mama Ngina Street",
				Street:  "Mama Ngina Street",
				Town:    "Nairobi",
			},
		},
		{
			name: "abbreviated opposite with period",
			raw:  model.RawAddressRecord{PhysicalAddress: "Opp. Kencom House", Town: "Nairobi"},
			want: model.NormalizedAddress{
				Address:  "Kencom House",
				Street:   "Kencom House",
				Town:     "Nairobi",
				Landmark: "Kencom House",
			},
		},
		{
			name: "dangling relational phrase dropped",
			raw:  model.RawAddressRecord{PhysicalAddress: "Moi Avenue near", Town: "Nairobi"},
			want: model.NormalizedAddress{
				Address: "Moi Avenue",
				Street:  "Moi Avenue",
				Town:    "Nairobi",
			},
		},
		{
			name: "only a relational word falls back to town",
			raw:  model.RawAddressRecord{PhysicalAddress: "near", Town: "Kisumu"},
			want: model.NormalizedAddress{
				Address: "Kisumu",
				Town:    "Kisumu",
			},
		},
		{
			name: "landmark column wins over extracted landmark",
			raw: model.RawAddressRecord{
				PhysicalAddress: "Oginga Odinga St, near Kisumu Museum",
				Town:            "Ksm",
				Landmark:        "next to Kenyatta Market",
			},
			want: model.NormalizedAddress{
				Address:  "Oginga Odinga Street, Kisumu Museum",
				Street:   "Oginga Odinga Street, Kisumu Museum",
				Town:     "Kisumu",
				Landmark: "Kenyatta Market",
			},
		},
		{
			name: "unknown town passes through with accents folded",
			raw:  model.RawAddressRecord{PhysicalAddress: "Kimathi Way", Town: "Nyéri", County: "Nyeri"},
			want: model.NormalizedAddress{
				Address: "Kimathi Way",
				Street:  "Kimathi Way",
				Town:    "Nyeri",
				County:  "Nyeri",
			},
		},
		{
			name: "duplicate segments collapse",
			raw:  model.RawAddressRecord{PhysicalAddress: "Moi Avenue, moi avenue,  , Nairobi", County: "nrb"},
			want: model.NormalizedAddress{
				Address: "Moi Avenue, Nairobi",
				Street:  "Moi Avenue, Nairobi",
				Town:    "Nairobi",
				County:  "Nairobi",
			},
		},
		{
			name: "town only",
			raw:  model.RawAddressRecord{Town: "Eld", County: "UG"},
			want: model.NormalizedAddress{
				Address: "Eldoret",
				Town:    "Eldoret",
				County:  "Uasin Gishu",
			},
		},
		{
			name: "empty",
			raw:  model.RawAddressRecord{},
			want: model.NormalizedAddress{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(tt.raw)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n := New(DefaultTables())
	inputs := []model.RawAddressRecord{
		{PhysicalAddress: "123 Moi Avenue, Floor 2, near City Hall, Nrb"},
		{PhysicalAddress: "Kaunda St off Moi Ave", Town: "Nrb", County: "Nairobi City"},
		{PhysicalAddress: "Suite 4B, Kenyatta House, Block C, Moi Ave", Town: "Msa"},
		{PhysicalAddress: "Eldoret Town Center", Town: "Eldoret", County: "Uasin-Gishu"},
		{PhysicalAddress: "Muranga Rd, Flat 3", County: "Muranga"},
		{PhysicalAddress: "Moi Avenue near Nrb"},
		{PhysicalAddress: "Hospital Rd off Nrb"},
		{PhysicalAddress: "Kenyatta Ave, opp Msa"},
		{PhysicalAddress: "Tom Mboya St behind Ksm"},
	}

	for _, raw := range inputs {
		first := n.Normalize(raw)
		if diff := cmp.Diff(first, n.Normalize(raw)); diff != "" {
			t.Errorf("Normalize(%q) not deterministic:\n%s", raw.PhysicalAddress, diff)
		}

		again := n.Normalize(model.RawAddressRecord{
			PhysicalAddress: first.Street,
			Town:            first.Town,
			County:          first.County,
		})
		assert.Equal(t, first.Street, again.Street, raw.PhysicalAddress)
		assert.Equal(t, first.Town, again.Town, raw.PhysicalAddress)
		assert.Equal(t, first.County, again.County, raw.PhysicalAddress)

		streetOnly := n.Normalize(model.RawAddressRecord{PhysicalAddress: first.Street})
		assert.Equal(t, first.Street, streetOnly.Street, raw.PhysicalAddress)
	}
}

func TestNormalize_Total(t *testing.T) {
	n := New(DefaultTables())
	messy := []string{
		",,,", "   ", "near near near", "Floor", "Floor 2", "#4", "opp.", "next to",
		" Moi Ave ", "P.O. Box", "Room 12 Room 13", "é", "-/.;:",
	}
	for _, s := range messy {
		assert.NotPanics(t, func() {
			got := n.Normalize(model.RawAddressRecord{PhysicalAddress: s, Town: s, County: s, Landmark: s})
			assert.False(t, got.IsVirtual)
		}, s)
	}
}

func TestNormalize_SubstituteTables(t *testing.T) {
	n := New(Tables{
		Suffixes: map[string]string{"rd": "Road"},
		Towns:    map[string]string{"ldn": "London"},
	})

	got := n.Normalize(model.RawAddressRecord{PhysicalAddress: "10 Abbey Rd, near Studio", Town: "LDN"})
	assert.Equal(t, "10 Abbey Road, near Studio", got.Street)
	assert.Equal(t, "London", got.Town)
	assert.Empty(t, got.Landmark)
}
