package pii

import "strings"

// Kind is the closed set of PII categories the engine can redact.
type Kind string

const (
	KindEmail       Kind = "EMAIL"
	KindPhone       Kind = "PHONE"
	KindCreditCard  Kind = "CREDIT_CARD"
	KindNationalID  Kind = "NATIONAL_ID"
	KindAddress     Kind = "ADDRESS"
	KindIP          Kind = "IP"
	KindName        Kind = "NAME"
	KindDateOfBirth Kind = "DATE_OF_BIRTH"
)

// AllKinds lists every kind in presentation order.
var AllKinds = []Kind{
	KindEmail,
	KindPhone,
	KindCreditCard,
	KindNationalID,
	KindAddress,
	KindIP,
	KindName,
	KindDateOfBirth,
}

// Valid reports whether k is one of AllKinds.
func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Label is the detector-side classification attached to an entity. Labels are
// a superset of kinds: some (URL) exist only to win overlaps and never reach
// the user, others (IPV4, DOB, SSN) are aliases of a kind.
type Label string

const (
	LabelURL        Label = "URL"
	LabelEmail      Label = "EMAIL"
	LabelCreditCard Label = "CREDIT_CARD"
	LabelPhone      Label = "PHONE"
	LabelNRIC       Label = "NRIC"
	LabelIPv4       Label = "IPV4"
	LabelIPv6       Label = "IPV6"
	LabelDOB        Label = "DOB"
	LabelAddress    Label = "ADDRESS"
	LabelName       Label = "NAME"
)

var labelAliases = map[string]Kind{
	"EMAIL":         KindEmail,
	"E-MAIL":        KindEmail,
	"MAIL":          KindEmail,
	"PHONE":         KindPhone,
	"TEL":           KindPhone,
	"MOBILE":        KindPhone,
	"CONTACT":       KindPhone,
	"CREDIT_CARD":   KindCreditCard,
	"CARD":          KindCreditCard,
	"CC":            KindCreditCard,
	"NATIONAL_ID":   KindNationalID,
	"NRIC":          KindNationalID,
	"SSN":           KindNationalID,
	"ID":            KindNationalID,
	"ADDRESS":       KindAddress,
	"ADDR":          KindAddress,
	"LOCATION":      KindAddress,
	"IP":            KindIP,
	"IPV4":          KindIP,
	"IPV6":          KindIP,
	"NAME":          KindName,
	"PERSON":        KindName,
	"PER":           KindName,
	"DOB":           KindDateOfBirth,
	"DATE_OF_BIRTH": KindDateOfBirth,
	"BIRTHDATE":     KindDateOfBirth,
}

// KindForLabel maps a detector label (local or remote, any case) to a Kind.
// Labels with no kind, such as URL, report ok=false.
func KindForLabel(label Label) (Kind, bool) {
	k, ok := labelAliases[strings.ToUpper(strings.TrimSpace(string(label)))]
	return k, ok
}

// ParseKind accepts either a kind name or any label alias.
func ParseKind(s string) (Kind, bool) {
	return KindForLabel(Label(s))
}
