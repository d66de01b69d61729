// Package allowlist holds user-approved exceptions: values that must not be
// offered for redaction again.
package allowlist

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/antoniostano/piiguard/internal/pii"
)

// Normalize folds value into the canonical form used for comparison. Two
// values that normalize identically are the same exception.
func Normalize(kind pii.Kind, value string) string {
	v := norm.NFKC.String(value)
	switch kind {
	case pii.KindEmail:
		return strings.ToLower(strings.TrimSpace(v))
	case pii.KindPhone, pii.KindCreditCard:
		return digitsOnly(v)
	case pii.KindNationalID:
		return strings.ToUpper(strings.TrimSpace(v))
	case pii.KindName:
		return collapseSpace(v)
	case pii.KindAddress:
		return strings.ToLower(collapseSpace(v))
	default:
		return strings.TrimSpace(v)
	}
}

// Key returns the "KIND:normalized" lookup key.
func Key(kind pii.Kind, value string) string {
	return string(kind) + ":" + Normalize(kind, value)
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
