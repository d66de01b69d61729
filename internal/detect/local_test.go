package detect

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/piiguard/internal/pii"
)

func TestScanEmailAndPhone(t *testing.T) {
	got := Scan("Contact me at john@example.com or 91234567", DefaultOptions())
	require.Equal(t, []pii.Entity{
		{Label: pii.LabelEmail, Index: 3, Text: "john@example.com"},
		{Label: pii.LabelPhone, Index: 5, Text: "91234567"},
	}, got)
}

func TestScanURLWinsOverEmbeddedFragments(t *testing.T) {
	got := Scan("Visit https://mail.google.com today", DefaultOptions())
	require.Len(t, got, 1)
	assert.Equal(t, pii.LabelURL, got[0].Label)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, "https://mail.google.com", got[0].Text)
}

func TestScanIsIdempotent(t *testing.T) {
	text := "Ping Jane Doe at jane@corp.io, 10.0.0.1 or S1234567D before 12/04/1990"
	first := Scan(text, DefaultOptions())
	second := Scan(text, DefaultOptions())
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}

func TestScanOutputSortedWithOneEntityPerIndex(t *testing.T) {
	text := "mail a@b.co from 192.168.1.20 on 1990-01-31 card 4111 1111 1111 1111"
	got := Scan(text, DefaultOptions())
	seen := map[int]bool{}
	for i, e := range got {
		assert.False(t, seen[e.Index], "duplicate index %d", e.Index)
		seen[e.Index] = true
		if i > 0 {
			assert.Less(t, got[i-1].Index, e.Index)
		}
	}

	labels := map[pii.Label]string{}
	for _, e := range got {
		labels[e.Label] = e.Text
	}
	assert.Equal(t, "a@b.co", labels[pii.LabelEmail])
	assert.Equal(t, "192.168.1.20", labels[pii.LabelIPv4])
	assert.Equal(t, "1990-01-31", labels[pii.LabelDOB])
	assert.Equal(t, "4111 1111 1111 1111", labels[pii.LabelCreditCard])
}

func TestScanIgnoresPlaceholderTokens(t *testing.T) {
	got := Scan("reach [PHONE_a1b2c3] or 91234567", DefaultOptions())
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Index)
	assert.Equal(t, "91234567", got[0].Text)
}

func TestScanBlankText(t *testing.T) {
	assert.Empty(t, Scan("", DefaultOptions()))
	assert.Empty(t, Scan("   \n\t", DefaultOptions()))
}

func TestScanLeadingWhitespaceShiftsIndex(t *testing.T) {
	got := Scan("  a@b.co", DefaultOptions())
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Index)
}

func TestScanNameHeuristics(t *testing.T) {
	got := Scan("Hello. I met Alice Smith yesterday", DefaultOptions())
	require.Len(t, got, 1)
	assert.Equal(t, pii.LabelName, got[0].Label)
	assert.Equal(t, "Alice Smith", got[0].Text)

	assert.Empty(t, Scan("Hello. I met Alice Smith yesterday", Options{Heuristics: false}))
}

func TestScanAddress(t *testing.T) {
	got := Scan("ship to 221 baker street please", DefaultOptions())
	require.Len(t, got, 1)
	assert.Equal(t, pii.LabelAddress, got[0].Label)
	assert.Equal(t, 2, got[0].Index)
}

func TestResolveDedupesThenKeepsHighestPriority(t *testing.T) {
	got := Resolve([]pii.Entity{
		{Label: pii.LabelName, Index: 2, Text: "Mail Google"},
		{Label: pii.LabelURL, Index: 2, Text: "https://mail.google.com"},
		{Label: pii.LabelPhone, Index: 0, Text: "1234567"},
		{Label: pii.LabelPhone, Index: 0, Text: "12345678"},
		{Label: pii.LabelEmail, Index: 1, Text: "a@b.co"},
		{Label: pii.LabelEmail, Index: 1, Text: "dup@b.co"},
	})
	require.Equal(t, []pii.Entity{
		{Label: pii.LabelPhone, Index: 0, Text: "1234567"},
		{Label: pii.LabelEmail, Index: 1, Text: "a@b.co"},
		{Label: pii.LabelURL, Index: 2, Text: "https://mail.google.com"},
	}, got)
}

func TestLocalDetectorNeverFails(t *testing.T) {
	d := NewLocal(DefaultOptions())
	got, err := d.Detect(context.Background(), "write to ops@corp.example")
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestOverlapsAny(t *testing.T) {
	spans := [][]int{{2, 5}, {10, 14}, {20, 22}}
	cases := []struct {
		start, end int
		want       bool
	}{
		{0, 2, false},
		{0, 3, true},
		{5, 10, false},
		{13, 30, true},
		{14, 20, false},
		{21, 21, true},
		{22, 40, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, overlapsAny(tc.start, tc.end, spans), "[%d,%d)", tc.start, tc.end)
	}
	assert.False(t, overlapsAny(0, 10, nil))
}

func TestScanLargeBufferStaysLinear(t *testing.T) {
	if testing.Short() {
		t.Skip("large buffer scan")
	}
	unit := "hello Alice and 91234567 [EMAIL_abc123] "
	text := strings.Repeat(unit, (1<<20)/len(unit))

	start := time.Now()
	got := Scan(text, DefaultOptions())
	elapsed := time.Since(start)

	words := pii.SplitWords(text)
	require.NotEmpty(t, got)
	for _, e := range got {
		assert.True(t, strings.HasPrefix(words.Word(e.Index), e.Text), "entity %+v not at its word", e)
		assert.NotContains(t, e.Text, "[EMAIL_")
	}
	assert.Less(t, elapsed, 5*time.Second, "scan of 1 MiB took %v", elapsed)
}
