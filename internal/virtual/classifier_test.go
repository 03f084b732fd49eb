package virtual

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medpanel/provider-geocoder/internal/model"
	"github.com/medpanel/provider-geocoder/internal/normalize"
)

func TestClassify(t *testing.T) {
	c := New(normalize.DefaultTables().VirtualKeywords)

	tests := []struct {
		name string
		raw  model.RawAddressRecord
		n    model.NormalizedAddress
		want bool
	}{
		{"explicit flag", model.RawAddressRecord{VirtualFlag: true}, model.NormalizedAddress{}, true},
		{"keyword in address", model.RawAddressRecord{}, model.NormalizedAddress{Street: "Online consultations only"}, true},
		{"telehealth keyword", model.RawAddressRecord{}, model.NormalizedAddress{Street: "Telehealth, Nairobi"}, true},
		{"physical", model.RawAddressRecord{}, model.NormalizedAddress{Street: "Moi Avenue", Address: "Moi Avenue"}, false},
		{"keyword inside a word", model.RawAddressRecord{}, model.NormalizedAddress{Street: "Onlineplaza Road"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.raw, tt.n))
		})
	}
}

func TestApply(t *testing.T) {
	c := New([]string{"virtual"})

	raw := model.RawAddressRecord{VirtualFlag: true, Website: " https://afyaonline.example ", Country: "Kenya"}
	got := c.Apply(raw, model.NormalizedAddress{Address: "Nairobi", Town: "Nairobi"})
	assert.True(t, got.IsVirtual)
	assert.Equal(t, "https://afyaonline.example", got.Address)
	assert.Equal(t, "Nairobi", got.Town)

	got = c.Apply(model.RawAddressRecord{}, model.NormalizedAddress{Address: "Moi Avenue", Street: "Moi Avenue"})
	assert.False(t, got.IsVirtual)
	assert.Equal(t, "Moi Avenue", got.Address)

	got = c.Apply(model.RawAddressRecord{}, model.NormalizedAddress{Street: "Virtual clinic"})
	assert.True(t, got.IsVirtual)
	assert.Empty(t, got.Address)
}

func TestNoKeywords(t *testing.T) {
	c := New(nil)
	assert.False(t, c.Classify(model.RawAddressRecord{}, model.NormalizedAddress{Street: "virtual"}))
	assert.True(t, c.Classify(model.RawAddressRecord{VirtualFlag: true}, model.NormalizedAddress{}))
}

func TestParseFlag(t *testing.T) {
	for _, s := range []string{"Yes", "y", "TRUE", "1", "Online", " virtual "} {
		assert.True(t, ParseFlag(s), s)
	}
	for _, s := range []string{"", "No", "false", "0", "physical"} {
		assert.False(t, ParseFlag(s), s)
	}
}
