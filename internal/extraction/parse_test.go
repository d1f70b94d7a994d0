package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseItemNumber(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"canonical seven digits", "KIRKLAND WATER 1234567 9.99", "1234567"},
		{"prefers seven over six", "123456 then 7654321 appears", "7654321"},
		{"prefers seven over eight", "12345678 9876543", "9876543"},
		{"falls back to first run", "654321 and 87654321", "654321"},
		{"six digits alone", "654321", "654321"},
		{"eight digits alone", "87654321", "87654321"},
		{"too short ignored", "12345 9.99", ""},
		{"too long ignored", "123456789", ""},
		{"no digits", "ORGANIC HONEY", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseItemNumber(tt.text))
		})
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string // "" means nil expected
	}{
		{"dollar sign", "$12.99", "12.99"},
		{"no dollar sign", "12.99", "12.99"},
		{"comma separator", "12,99", "12.99"},
		{"space after dollar", "$ 5.49", "5.49"},
		{"largest integer part wins", "0.42/oz 12.99 1234567", "12.99"},
		{"unit price not primary", "3.97 0.33/lb", "3.97"},
		{"four digit dollars", "1499.97", "1499.97"},
		{"no price", "KIRKLAND 1234567", ""},
		{"bare integer ignored", "1234567", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePrice(tt.text)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestParseUnitPrice(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantAmount  string
		wantMeasure string
	}{
		{"per ounce", "0.42/oz", "0.42", "oz"},
		{"spaces around slash", "0.42 / oz", "0.42", "oz"},
		{"uppercase measure", "1.25/LB", "1.25", "lb"},
		{"four decimals", "0.0525/ct", "0.0525", "ct"},
		{"comma separator", "0,42/oz", "0.42", "oz"},
		{"liters", "2.19/L", "2.19", "l"},
		{"unknown measure", "0.42/pk", "", ""},
		{"absent", "12.99", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, measure := ParseUnitPrice(tt.text)
			if tt.wantAmount == "" {
				assert.Nil(t, amount)
				assert.Empty(t, measure)
				return
			}
			require.NotNil(t, amount)
			assert.Equal(t, tt.wantAmount, amount.String())
			assert.Equal(t, tt.wantMeasure, measure)
		})
	}
}

func TestHasDiscontinuationMarker(t *testing.T) {
	assert.True(t, HasDiscontinuationMarker("9.97 *"))
	assert.True(t, HasDiscontinuationMarker("*KIRKLAND"))
	assert.False(t, HasDiscontinuationMarker("9.97"))
}

func TestParseDescription(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"simple", "KIRKLAND ORGANIC HONEY 1234567 9.99", "KIRKLAND ORGANIC HONEY"},
		{"stoplist removed", "HONEY 24 oz per unit", "HONEY"},
		{"stoplist case insensitive", "HONEY OZ Lb", "HONEY"},
		{"single letters dropped", "A HONEY B", "HONEY"},
		{"truncated to ten tokens", "a1 one two three four five six seven eight nine ten eleven", "one two three four five six seven eight nine ten"},
		{"empty", "1234567 9.99", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDescription(tt.text))
		})
	}
}
