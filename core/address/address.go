// Package address holds the Bangladeshi postal address used by every form and the
// district -> upazila lookup that drives the cascading address dropdowns.
package address

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
	appfs "github.com/trezcool/bhorti/fs"
)

const geoAsset = "assets/geo/bd.json"

var (
	ErrUnknownDistrict = errors.New("unknown district")

	upazilaOfTag  = "upazila_of"
	upazilaOfText = "this upazila does not belong to the selected district"

	districtTag  = "district"
	districtText = "unknown district"

	loadOnce sync.Once
	geo      *table
)

// Address is a postal address as collected by the forms.
type Address struct {
	Village    string `json:"village" validate:"required,notblank,max=150"`
	PostOffice string `json:"post_office" validate:"required,notblank,max=100"`
	PostCode   string `json:"post_code" validate:"required,postcode"`
	Upazila    string `json:"upazila" validate:"required"`
	District   string `json:"district" validate:"required,district"`
}

func (a *Address) Clean() {
	a.Village = core.CollapseSpaces(a.Village)
	a.PostOffice = core.CollapseSpaces(a.PostOffice)
	a.PostCode = core.CleanString(a.PostCode)
	a.Upazila = core.CollapseSpaces(a.Upazila)
	a.District = core.CollapseSpaces(a.District)

	// use the canonical spelling of the lookup table
	if d, ok := lookup().canonicalDistrict(a.District); ok {
		a.District = d
		if u, ok := lookup().canonicalUpazila(d, a.Upazila); ok {
			a.Upazila = u
		}
	}
}

func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) String() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Village, a.PostOffice, a.Upazila, a.District} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	s := strings.Join(parts, ", ")
	if a.PostCode != "" {
		s += " - " + a.PostCode
	}
	return s
}

// Resolve returns the effective permanent address: a copy of `present` when the
// "same as present address" box is checked.
func Resolve(present, permanent Address, same bool) Address {
	if same {
		return present
	}
	return permanent
}

type (
	district struct {
		name     string
		division string
		upazilas []string
	}

	table struct {
		districts map[string]*district // lower name -> district
		names     []string
	}
)

func lookup() *table {
	loadOnce.Do(func() {
		var err error
		if geo, err = loadTable(); err != nil {
			panic(errors.Wrap(err, "loading geo table"))
		}
	})
	return geo
}

func loadTable() (*table, error) {
	raw, err := appfs.FS.ReadFile(geoAsset)
	if err != nil {
		return nil, err
	}
	var divisions map[string]map[string][]string // division -> district -> upazilas
	if err := json.Unmarshal(raw, &divisions); err != nil {
		return nil, err
	}

	t := &table{districts: make(map[string]*district)}
	for div, districts := range divisions {
		for name, upazilas := range districts {
			ups := append([]string(nil), upazilas...)
			sort.Strings(ups)
			t.districts[strings.ToLower(name)] = &district{name: name, division: div, upazilas: ups}
			t.names = append(t.names, name)
		}
	}
	sort.Strings(t.names)
	return t, nil
}

func (t *table) canonicalDistrict(name string) (string, bool) {
	if d, ok := t.districts[strings.ToLower(strings.TrimSpace(name))]; ok {
		return d.name, true
	}
	return "", false
}

func (t *table) canonicalUpazila(districtName, upazila string) (string, bool) {
	d, ok := t.districts[strings.ToLower(strings.TrimSpace(districtName))]
	if !ok {
		return "", false
	}
	upazila = strings.TrimSpace(upazila)
	for _, u := range d.upazilas {
		if strings.EqualFold(u, upazila) {
			return u, true
		}
	}
	return "", false
}

// Districts returns every district name, sorted.
func Districts() []string {
	return append([]string(nil), lookup().names...)
}

// Upazilas returns the sorted upazilas of the given district (case-insensitive).
func Upazilas(districtName string) ([]string, error) {
	d, ok := lookup().districts[strings.ToLower(strings.TrimSpace(districtName))]
	if !ok {
		return nil, ErrUnknownDistrict
	}
	return append([]string(nil), d.upazilas...), nil
}

// Division returns the division the district belongs to.
func Division(districtName string) (string, error) {
	d, ok := lookup().districts[strings.ToLower(strings.TrimSpace(districtName))]
	if !ok {
		return "", ErrUnknownDistrict
	}
	return d.division, nil
}

// Contains reports whether `upazila` belongs to `districtName`.
func Contains(districtName, upazila string) bool {
	_, ok := lookup().canonicalUpazila(districtName, upazila)
	return ok
}

// InitValidators registers the address validations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(districtTag, func(fl validator.FieldLevel) bool {
		_, ok := lookup().canonicalDistrict(fl.Field().String())
		return ok
	})
	core.RegisterCustomTranslation(validate, translator, districtTag, districtText)

	validate.RegisterStructValidation(addressStructValidation, Address{})
	core.RegisterCustomTranslation(validate, translator, upazilaOfTag, upazilaOfText)
}

// addressStructValidation checks the upazila against the district cascade.
func addressStructValidation(sl validator.StructLevel) {
	addr, ok := sl.Current().Interface().(Address)
	if !ok || addr.District == "" || addr.Upazila == "" {
		return
	}
	if _, known := lookup().canonicalDistrict(addr.District); !known {
		return // reported by the field validation
	}
	if !Contains(addr.District, addr.Upazila) {
		sl.ReportError(addr.Upazila, "upazila", "Upazila", upazilaOfTag, addr.District)
	}
}
