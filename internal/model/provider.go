package model

import "strings"

// ProviderStatus is the operational status column of the provider panel.
type ProviderStatus string

const (
	ProviderActive   ProviderStatus = "active"
	ProviderInactive ProviderStatus = "inactive"
)

// RawAddressRecord is one provider row as read from the panel. It is never
// mutated after parsing; derived values live on NormalizedAddress and
// ResolutionRecord.
type RawAddressRecord struct {
	ProviderID      string            `json:"provider_id"`
	Name            string            `json:"name,omitempty"`
	PhysicalAddress string            `json:"physical_address,omitempty"`
	Town            string            `json:"town,omitempty"`
	County          string            `json:"county,omitempty"`
	Landmark        string            `json:"landmark,omitempty"`
	Specialty       string            `json:"specialty,omitempty"`
	Phone           string            `json:"phone,omitempty"`
	Email           string            `json:"email,omitempty"`
	Status          ProviderStatus    `json:"status,omitempty"`
	VirtualFlag     bool              `json:"virtual_flag"`
	Website         string            `json:"website,omitempty"`
	HeadOffice      string            `json:"head_office,omitempty"`
	Country         string            `json:"country,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"` // Unrecognised columns, re-attached on output
}

// IsActive reports whether the provider is operational. Rows without a
// status are treated as active, matching how the panel is maintained.
func (r RawAddressRecord) IsActive() bool {
	return r.Status != ProviderInactive
}

// ParseProviderStatus maps the free-text Status column.
func ParseProviderStatus(s string) ProviderStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inactive", "closed", "suspended":
		return ProviderInactive
	case "":
		return ""
	default:
		return ProviderActive
	}
}

// NormalizedAddress is the canonical form of a RawAddressRecord.
//
// Address is the canonical address string. For physical providers it is the
// normalised street text, or the canonical town when no street survived
// normalisation; it is empty only for unusable input. For virtual providers
// it holds the website/platform URL, or is empty.
type NormalizedAddress struct {
	Address   string `json:"address"`
	Street    string `json:"street,omitempty"`
	Town      string `json:"town,omitempty"`
	County    string `json:"county,omitempty"`
	Landmark  string `json:"landmark,omitempty"`
	IsVirtual bool   `json:"is_virtual"`
}

// Malformed reports whether a physical record lacks everything a pass could
// be built from.
func (n NormalizedAddress) Malformed() bool {
	return !n.IsVirtual && n.Street == "" && n.Town == ""
}
