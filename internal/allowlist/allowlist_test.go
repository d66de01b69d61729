package allowlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/piiguard/internal/pii"
)

func TestNormalizeByKind(t *testing.T) {
	cases := []struct {
		kind  pii.Kind
		value string
		want  string
	}{
		{pii.KindEmail, "  John@Example.COM ", "john@example.com"},
		{pii.KindPhone, "+65 9123-4567", "6591234567"},
		{pii.KindCreditCard, "4111 1111-1111 1111", "4111111111111111"},
		{pii.KindNationalID, " s1234567d", "S1234567D"},
		{pii.KindName, "  Alice \t  Smith ", "Alice Smith"},
		{pii.KindAddress, "221  Baker\nStreet", "221 baker street"},
		{pii.KindIP, " 10.0.0.1 ", "10.0.0.1"},
		{pii.KindPhone, "９１２３４５６７", "91234567"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Normalize(tc.kind, tc.value), "%s %q", tc.kind, tc.value)
	}
}

func TestListMatchesNormalizedEquivalents(t *testing.T) {
	l := New()
	require.True(t, l.Add(pii.KindEmail, "John@Example.com"))
	require.False(t, l.Add(pii.KindEmail, " John@Example.com "), "re-adding the same value is a no-op")

	assert.True(t, l.Contains(pii.KindEmail, "JOHN@example.com"))
	assert.False(t, l.Contains(pii.KindEmail, "jane@example.com"))

	l.Add(pii.KindPhone, "9123 4567")
	assert.True(t, l.Contains(pii.KindPhone, "91234567"))
	assert.True(t, l.Contains(pii.KindPhone, "9123-4567"))
}

func TestListMatchesRawValueAcrossKinds(t *testing.T) {
	l := New("91234567")
	assert.True(t, l.Contains(pii.KindCreditCard, " 91234567 "))
}

func TestListFilter(t *testing.T) {
	l := New()
	l.Add(pii.KindEmail, "a@b.co")
	got := l.Filter([]pii.Candidate{
		{Entity: pii.Entity{Label: pii.LabelEmail, Index: 0, Text: "A@B.co"}, Kind: pii.KindEmail},
		{Entity: pii.Entity{Label: pii.LabelPhone, Index: 2, Text: "91234567"}, Kind: pii.KindPhone},
	})
	require.Len(t, got, 1)
	assert.Equal(t, pii.KindPhone, got[0].Kind)
}

func TestEncodeDecode(t *testing.T) {
	payload, err := Encode([]string{"EMAIL:a@b.co", "a@b.co"})
	require.NoError(t, err)
	values, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"EMAIL:a@b.co", "a@b.co"}, values)

	empty, err := Decode("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = Decode("not base64!!")
	assert.Error(t, err)
}

func TestReplaceIsWholesale(t *testing.T) {
	l := New("x", "y")
	l.Replace([]string{"z", " "})
	assert.Equal(t, []string{"z"}, l.Values())
	assert.Equal(t, 1, l.Len())
}
