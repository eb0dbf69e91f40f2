// Package parser classifies text tokens found in page leaves and validates
// extracted rows before export.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/awtomato/models"
)

// Kind names a primitive leaf type.
type Kind string

const (
	KindInt      Kind = "Int"
	KindFloat    Kind = "Float"
	KindDot      Kind = "Dot"
	KindCurrency Kind = "Currency"
	KindTime     Kind = "Time"
	KindPrice    Kind = "Price"
)

// Currency is an ISO 4217 code.
type Currency string

const (
	GBP Currency = "GBP"
	EUR Currency = "EUR"
	USD Currency = "USD"
)

// Price is an amount in a currency.
type Price struct {
	Value    float64  `json:"value"`
	Currency Currency `json:"currency"`
}

func (p Price) String() string {
	return strconv.FormatFloat(p.Value, 'f', -1, 64) + " " + string(p.Currency)
}

var (
	intPattern   = regexp.MustCompile(`^(?:0|[1-9](?:\d*|\d{0,2}(?:,\d{3})*))$`)
	floatPattern = regexp.MustCompile(`^(?:0|[1-9](?:\d*|\d{0,2}(?:,\d{3})*))?(?:\.\d*)?$`)
	timePattern  = regexp.MustCompile(`^[012]\d:[0-5]\d$`)
	pricePattern = regexp.MustCompile(`^([£€$])(\d+)$`)
)

var currencies = map[string]Currency{
	"GBP": GBP, "£": GBP,
	"EUR": EUR, "€": EUR,
	"USD": USD, "$": USD,
}

// Token is a classified leaf.
type Token struct {
	Kind  Kind
	Value any
	Text  string
}

// Classify matches trimmed text against the leaf rules in order: integer,
// lone dot, float, currency, time, symbol-prefixed price.
func Classify(text string) (Token, bool) {
	val := strings.TrimSpace(text)
	if val == "" {
		return Token{}, false
	}
	tok := Token{Text: val}
	switch {
	case intPattern.MatchString(val):
		n, err := strconv.ParseInt(strings.ReplaceAll(val, ",", ""), 10, 64)
		if err != nil {
			return Token{}, false
		}
		tok.Kind, tok.Value = KindInt, n
	case val == ".":
		tok.Kind, tok.Value = KindDot, val
	case floatPattern.MatchString(val):
		f, err := ParseNumber(val)
		if err != nil {
			return Token{}, false
		}
		tok.Kind, tok.Value = KindFloat, f
	case currencies[val] != "":
		tok.Kind, tok.Value = KindCurrency, currencies[val]
	case timePattern.MatchString(val):
		tok.Kind, tok.Value = KindTime, val
	default:
		m := pricePattern.FindStringSubmatch(val)
		if m == nil {
			return Token{}, false
		}
		amount, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return Token{}, false
		}
		tok.Kind, tok.Value = KindPrice, Price{Value: amount, Currency: currencies[m[1]]}
	}
	return tok, true
}

// ParseNumber parses a possibly comma grouped decimal.
func ParseNumber(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse number %q: %w", s, err)
	}
	return f, nil
}

// NormalizeText collapses runs of whitespace.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ValidateRow ensures an extracted row carries something worth exporting.
func ValidateRow(r *models.Row) error {
	if r == nil {
		return fmt.Errorf("row is nil")
	}
	if strings.TrimSpace(r.SelectionID) == "" {
		return fmt.Errorf("row missing selection id")
	}
	if r.Index < 0 {
		return fmt.Errorf("row %s has negative index %d", r.SelectionID, r.Index)
	}
	if strings.TrimSpace(r.Data) == "" && len(r.Fields) == 0 {
		return fmt.Errorf("row %s/%d has no data", r.SelectionID, r.Index)
	}
	return nil
}
