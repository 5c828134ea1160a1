package indieauth

import (
	"willnorris.com/go/microformats"
)

// Provider identifies profiles built by this package.
const Provider = "indieauth"

const personalCard = "h-card"

// Profile is a contact record built from the first h-card on an identity page.
type Profile struct {
	Provider     string   `json:"provider"`
	ID           string   `json:"id,omitempty"`
	DisplayName  string   `json:"displayName,omitempty"`
	Name         *Name    `json:"name,omitempty"`
	Address      *Address `json:"address,omitempty"`
	Birthday     string   `json:"birthday,omitempty"`
	Anniversary  string   `json:"anniversary,omitempty"`
	Gender       string   `json:"gender,omitempty"`
	Note         string   `json:"note,omitempty"`
	Emails       []Value  `json:"emails,omitempty"`
	Photos       []Value  `json:"photos,omitempty"`
	PhoneNumbers []Value  `json:"phoneNumbers,omitempty"`
	URLs         []Value  `json:"urls,omitempty"`

	Raw *microformats.Data `json:"_raw,omitempty"`
}

type Name struct {
	Formatted       string `json:"formatted,omitempty"`
	HonorificPrefix string `json:"honorificPrefix,omitempty"`
	GivenName       string `json:"givenName,omitempty"`
	MiddleName      string `json:"middleName,omitempty"`
	FamilyName      string `json:"familyName,omitempty"`
	HonorificSuffix string `json:"honorificSuffix,omitempty"`
}

type Address struct {
	StreetAddress   string `json:"streetAddress,omitempty"`
	ExtendedAddress string `json:"extendedAddress,omitempty"`
	Locality        string `json:"locality,omitempty"`
	Region          string `json:"region,omitempty"`
	PostalCode      string `json:"postalCode,omitempty"`
	Country         string `json:"country,omitempty"`
}

type Value struct {
	Value string `json:"value"`
}

func (p *Profile) name() *Name {
	if p.Name == nil {
		p.Name = &Name{}
	}
	return p.Name
}

func (p *Profile) address() *Address {
	if p.Address == nil {
		p.Address = &Address{}
	}
	return p.Address
}

type singularField struct {
	property string
	set      func(p *Profile, v string)
}

type pluralField struct {
	property string
	list     func(p *Profile) *[]Value
}

var singularFields = []singularField{
	{"identifier", func(p *Profile, v string) { p.ID = v }},
	{"nickname", func(p *Profile, v string) { p.DisplayName = v }},
	{"name", func(p *Profile, v string) { p.name().Formatted = v }},
	{"honorific-prefix", func(p *Profile, v string) { p.name().HonorificPrefix = v }},
	{"given-name", func(p *Profile, v string) { p.name().GivenName = v }},
	{"additional-name", func(p *Profile, v string) { p.name().MiddleName = v }},
	{"family-name", func(p *Profile, v string) { p.name().FamilyName = v }},
	{"honorific-suffix", func(p *Profile, v string) { p.name().HonorificSuffix = v }},
	{"bday", func(p *Profile, v string) { p.Birthday = v }},
	{"anniversary", func(p *Profile, v string) { p.Anniversary = v }},
	{"gender-identity", func(p *Profile, v string) { p.Gender = v }},
	{"note", func(p *Profile, v string) { p.Note = v }},
}

var addressFields = []singularField{
	{"street-address", func(p *Profile, v string) { p.address().StreetAddress = v }},
	{"extended-address", func(p *Profile, v string) { p.address().ExtendedAddress = v }},
	{"locality", func(p *Profile, v string) { p.address().Locality = v }},
	{"region", func(p *Profile, v string) { p.address().Region = v }},
	{"postal-code", func(p *Profile, v string) { p.address().PostalCode = v }},
	{"country-name", func(p *Profile, v string) { p.address().Country = v }},
}

var pluralFields = []pluralField{
	{"email", func(p *Profile) *[]Value { return &p.Emails }},
	{"photo", func(p *Profile) *[]Value { return &p.Photos }},
	{"tel", func(p *Profile) *[]Value { return &p.PhoneNumbers }},
	{"url", func(p *Profile) *[]Value { return &p.URLs }},
}

// ToProfile maps the first h-card in data to a Profile. It never fails: if
// there is no h-card only Provider and Raw are set.
func ToProfile(data *microformats.Data) *Profile {
	profile := &Profile{Provider: Provider, Raw: data}

	card := findCard(data)
	if card == nil {
		return profile
	}

	applySingular(profile, card.Properties, singularFields)
	applySingular(profile, card.Properties, addressFields)

	for _, field := range pluralFields {
		list := field.list(profile)
		for _, raw := range card.Properties[field.property] {
			if v, ok := propertyString(raw); ok {
				*list = append(*list, Value{Value: v})
			}
		}
	}

	return profile
}

func applySingular(p *Profile, properties map[string][]interface{}, fields []singularField) {
	for _, field := range fields {
		values := properties[field.property]
		if len(values) == 0 {
			continue
		}
		if v, ok := propertyString(values[0]); ok {
			field.set(p, v)
		}
	}
}

func findCard(data *microformats.Data) *microformats.Microformat {
	if data == nil {
		return nil
	}

	for _, item := range data.Items {
		if item != nil && hasType(item, personalCard) {
			return item
		}
	}

	return nil
}

func hasType(item *microformats.Microformat, want string) bool {
	for _, t := range item.Type {
		if t == want {
			return true
		}
	}

	return false
}

// propertyString reads a property value as a string. Nested microformats and
// embedded markup are read by their "value".
func propertyString(v interface{}) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case *microformats.Microformat:
		if v == nil {
			return "", false
		}
		return v.Value, v.Value != ""
	case map[string]string:
		s, ok := v["value"]
		return s, ok
	case map[string]interface{}:
		s, ok := v["value"].(string)
		return s, ok
	default:
		return "", false
	}
}
