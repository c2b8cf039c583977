package crm

import (
	"strings"
	"time"
)

// Defaults applied to fields the conversation does not capture.
const (
	DefaultEmail       = "ejemplo@email.com"
	DefaultFirstName   = "Nombre"
	DefaultLastName    = "Apellido"
	DefaultCity        = "Córdoba"
	DefaultPostalCode  = "X5022"
	DefaultProvider    = "Google Adwords"
	DefaultService     = "Campaña Planes Primavera"
	DefaultVendorName  = "vendedor@email.com.ar"
	DefaultVehicleMake = "Marca"
)

// Lead is the contact information captured during a conversation.
type Lead struct {
	Name    string
	Email   string
	Phone   string
	Comment string
}

// Envelope is the ADF-style document accepted by the web connector.
type Envelope struct {
	Prospect Prospect `json:"prospect"`
}

// Prospect describes one sales lead.
type Prospect struct {
	RequestDate string    `json:"requestdate"`
	Customer    Customer  `json:"customer"`
	Vehicles    []Vehicle `json:"vehicles"`
	Provider    Provider  `json:"provider"`
	Vendor      Vendor    `json:"vendor"`
}

// Customer groups comments and contacts.
type Customer struct {
	Comments string    `json:"comments"`
	Contacts []Contact `json:"contacts"`
}

// Contact is a reachable person.
type Contact struct {
	Emails    []Value    `json:"emails"`
	Names     []NamePart `json:"names"`
	Phones    []Phone    `json:"phones"`
	Addresses []Address  `json:"addresses"`
}

// Value wraps a single string value.
type Value struct {
	Value string `json:"value"`
}

// NamePart is one part (first, last) of a name.
type NamePart struct {
	Part  string `json:"part"`
	Value string `json:"value"`
}

// Phone is a typed phone number.
type Phone struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Address is a postal address.
type Address struct {
	City       string `json:"city"`
	PostalCode string `json:"postalcode"`
}

// Vehicle is the vehicle of interest.
type Vehicle struct {
	Make  string `json:"make"`
	Model string `json:"model"`
	Trim  string `json:"trim"`
	Year  int    `json:"year"`
}

// Provider identifies the lead source.
type Provider struct {
	Name    Value  `json:"name"`
	Service string `json:"service"`
}

// Vendor identifies the assigned seller.
type Vendor struct {
	Contacts   []Contact `json:"contacts"`
	VendorName Value     `json:"vendorname"`
}

// NewEnvelope builds the connector payload for a lead, filling defaults.
func NewEnvelope(lead Lead, now time.Time) Envelope {
	email := strings.TrimSpace(lead.Email)
	if email == "" {
		email = DefaultEmail
	}
	first, last := splitName(lead.Name)

	return Envelope{
		Prospect: Prospect{
			RequestDate: now.UTC().Format(time.RFC3339),
			Customer: Customer{
				Comments: lead.Comment,
				Contacts: []Contact{{
					Emails: []Value{{Value: email}},
					Names: []NamePart{
						{Part: "first", Value: first},
						{Part: "last", Value: last},
					},
					Phones:    []Phone{{Type: "cellphone", Value: lead.Phone}},
					Addresses: []Address{{City: DefaultCity, PostalCode: DefaultPostalCode}},
				}},
			},
			Vehicles: []Vehicle{{Make: DefaultVehicleMake, Model: "Modelo", Trim: "Version", Year: 2017}},
			Provider: Provider{
				Name:    Value{Value: DefaultProvider},
				Service: DefaultService,
			},
			Vendor: Vendor{
				Contacts:   []Contact{},
				VendorName: Value{Value: DefaultVendorName},
			},
		},
	}
}

// splitName takes the first two whitespace separated words.
func splitName(name string) (string, string) {
	fields := strings.Fields(name)
	first, last := DefaultFirstName, DefaultLastName
	if len(fields) > 0 {
		first = fields[0]
	}
	if len(fields) > 1 {
		last = fields[1]
	}
	return first, last
}
