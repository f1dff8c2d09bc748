package service

import (
	"strings"

	"github.com/shopspring/decimal"
)

// currencies without a minor unit
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true, "krw": true,
	"mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true, "vuv": true, "xaf": true,
	"xof": true, "xpf": true,
}

// FormatMinorUnits renders an amount in minor units, e.g. (500, "usd") -> "5.00 USD".
func FormatMinorUnits(amount int64, currency string) string {
	currency = strings.ToLower(currency)
	places := int32(2)
	if zeroDecimalCurrencies[currency] {
		places = 0
	}
	return decimal.New(amount, -places).StringFixed(places) + " " + strings.ToUpper(currency)
}
