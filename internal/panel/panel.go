// Package panel reads the provider spreadsheet and maps its rows into
// RawAddressRecords.
package panel

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medpanel/provider-geocoder/internal/model"
	"github.com/medpanel/provider-geocoder/internal/virtual"
)

// Field is a column the pipeline understands.
type Field string

const (
	FieldID              Field = "id"
	FieldName            Field = "name"
	FieldTown            Field = "town"
	FieldPhysicalAddress Field = "physical_address"
	FieldCounty          Field = "county"
	FieldLandmark        Field = "landmark"
	FieldSpecialty       Field = "specialty"
	FieldPhone           Field = "phone"
	FieldEmail           Field = "email"
	FieldStatus          Field = "status"
	FieldVirtual         Field = "virtual"
	FieldWebsite         Field = "website"
	FieldHeadOffice      Field = "head_office"
	FieldCountry         Field = "country"
)

// headerAliases maps a folded header (lower case, letters and digits only)
// to its field.
var headerAliases = map[string]Field{
	"id":                 FieldID,
	"providerid":         FieldID,
	"providercode":       FieldID,
	"code":               FieldID,
	"name":               FieldName,
	"providername":       FieldName,
	"facilityname":       FieldName,
	"town":               FieldTown,
	"city":               FieldTown,
	"physicaladdress":    FieldPhysicalAddress,
	"address":            FieldPhysicalAddress,
	"location":           FieldPhysicalAddress,
	"county":             FieldCounty,
	"landmark":           FieldLandmark,
	"nearestlandmark":    FieldLandmark,
	"specialty":          FieldSpecialty,
	"speciality":         FieldSpecialty,
	"specialisation":     FieldSpecialty,
	"specialization":     FieldSpecialty,
	"phone":              FieldPhone,
	"phonenumber":        FieldPhone,
	"telephone":          FieldPhone,
	"tel":                FieldPhone,
	"email":              FieldEmail,
	"emailaddress":       FieldEmail,
	"status":             FieldStatus,
	"virtual":            FieldVirtual,
	"online":             FieldVirtual,
	"virtualonline":      FieldVirtual,
	"isvirtual":          FieldVirtual,
	"telehealth":         FieldVirtual,
	"website":            FieldWebsite,
	"url":                FieldWebsite,
	"web":                FieldWebsite,
	"headoffice":         FieldHeadOffice,
	"headquarters":       FieldHeadOffice,
	"hq":                 FieldHeadOffice,
	"country":            FieldCountry,
	"registeredcountry":  FieldCountry,
	"countryofoperation": FieldCountry,
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// FieldFor returns the field a header names, if any.
func FieldFor(header string) (Field, bool) {
	f, ok := headerAliases[nonAlnumRe.ReplaceAllString(strings.ToLower(header), "")]
	return f, ok
}

// Panel is a loaded provider sheet. Rows are kept verbatim so the enrichment
// writer can re-attach every original column.
type Panel struct {
	Headers []string
	Rows    [][]string
	Records []model.RawAddressRecord
}

// Load reads path (.xlsx or .csv) and maps it.
func Load(path string) (*Panel, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = ReadXLSX(path, XLSXOptions{})
	case ".csv":
		rows, err = ReadCSV(path)
	default:
		return nil, eris.Errorf("panel: unsupported input %q (want .xlsx or .csv)", path)
	}
	if err != nil {
		return nil, err
	}
	return Map(rows)
}

// Map turns raw rows (header first) into a Panel. Blank rows are dropped. A
// provider's id is its ID column, or row-NNNN after the 1-based data row when
// the sheet has no ID or the cell is empty.
func Map(rows [][]string) (*Panel, error) {
	if len(rows) == 0 {
		return nil, eris.New("panel: sheet is empty")
	}

	headers := make([]string, len(rows[0]))
	fields := make([]Field, len(rows[0]))
	known := 0
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
		if f, ok := FieldFor(headers[i]); ok {
			fields[i] = f
			known++
		}
	}
	if known == 0 {
		return nil, eris.New("panel: no recognised columns in header row")
	}

	p := &Panel{Headers: headers}
	for n, row := range rows[1:] {
		if blank(row) {
			continue
		}
		rec := mapRow(headers, fields, row)
		if rec.ProviderID == "" {
			rec.ProviderID = fmt.Sprintf("row-%04d", n+1)
		}
		p.Rows = append(p.Rows, row)
		p.Records = append(p.Records, rec)
	}

	zap.L().Debug("panel: mapped sheet",
		zap.Int("columns", len(headers)),
		zap.Int("recognised", known),
		zap.Int("providers", len(p.Records)),
	)
	return p, nil
}

func mapRow(headers []string, fields []Field, row []string) model.RawAddressRecord {
	var rec model.RawAddressRecord
	for i, header := range headers {
		var v string
		if i < len(row) {
			v = strings.TrimSpace(row[i])
		}
		switch fields[i] {
		case FieldID:
			rec.ProviderID = v
		case FieldName:
			rec.Name = v
		case FieldTown:
			rec.Town = v
		case FieldPhysicalAddress:
			rec.PhysicalAddress = v
		case FieldCounty:
			rec.County = v
		case FieldLandmark:
			rec.Landmark = v
		case FieldSpecialty:
			rec.Specialty = v
		case FieldPhone:
			rec.Phone = v
		case FieldEmail:
			rec.Email = v
		case FieldStatus:
			rec.Status = model.ParseProviderStatus(v)
		case FieldVirtual:
			rec.VirtualFlag = virtual.ParseFlag(v)
		case FieldWebsite:
			rec.Website = v
		case FieldHeadOffice:
			rec.HeadOffice = v
		case FieldCountry:
			rec.Country = v
		default:
			if header == "" || v == "" {
				continue
			}
			if rec.Extra == nil {
				rec.Extra = make(map[string]string)
			}
			rec.Extra[header] = v
		}
	}
	return rec
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
