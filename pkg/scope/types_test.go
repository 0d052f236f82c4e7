package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, []string{"1000", "2000", "US01"},
		Normalize([]string{" us01", "2000", "", "1000", "US01 ", "  "}))
	assert.Empty(t, Normalize(nil))
}

func TestScope_Membership(t *testing.T) {
	s := NewScope(1, []string{"1000", "us01"}, []string{"krw", "USD"})

	assert.True(t, s.HasCompanyCode("US01"))
	assert.True(t, s.HasCompanyCode(" us01 "))
	assert.False(t, s.HasCompanyCode("3000"))
	assert.False(t, s.HasCompanyCode(""))

	assert.True(t, s.HasCurrency("KRW"))
	assert.False(t, s.HasCurrency("EUR"))
}

func TestScope_Intersect(t *testing.T) {
	s := NewScope(1, []string{"1000", "2000"}, []string{"USD"})

	tests := []struct {
		name   string
		filter []string
		want   []string
	}{
		{"no filter uses scope", nil, []string{"1000", "2000"}},
		{"filter narrows", []string{"2000"}, []string{"2000"}},
		{"filter normalized", []string{" 1000 ", "1000"}, []string{"1000"}},
		{"filter outside scope", []string{"9999"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.IntersectCompanyCodes(tt.filter))
		})
	}

	empty := NewScope(1, nil, nil)
	assert.Empty(t, empty.IntersectCompanyCodes(nil))
	assert.Empty(t, empty.IntersectCurrencies([]string{"USD"}))
}

func TestScope_IntersectDoesNotAlias(t *testing.T) {
	s := NewScope(1, []string{"1000"}, nil)
	codes := s.IntersectCompanyCodes(nil)
	codes[0] = "XXXX"
	assert.Equal(t, []string{"1000"}, s.CompanyCodes)
}

func TestDiffCodes(t *testing.T) {
	r := diffCodes(1, KindCurrency, []string{"EUR", "USD"}, []string{"KRW", "USD"})
	assert.Equal(t, []string{"KRW"}, r.Added)
	assert.Equal(t, []string{"EUR"}, r.Removed)
	assert.False(t, r.Empty())

	assert.True(t, diffCodes(1, KindCurrency, []string{"USD"}, []string{"USD"}).Empty())
}

func TestDocFilter_Limit(t *testing.T) {
	assert.Equal(t, DefaultLimit, DocFilter{}.limit())
	assert.Equal(t, 5, DocFilter{Limit: 5}.limit())
	assert.Equal(t, MaxLimit, DocFilter{Limit: MaxLimit + 1}.limit())
}
