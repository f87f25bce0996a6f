// Package report renders an estimate as a printable summary, an email draft
// or a spreadsheet.
package report

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/honorarium/pkg/format"
	"github.com/raterudder/honorarium/pkg/types"
)

const (
	defaultCompany = "Multienergía Verde"
	defaultSubject = "Cálculo de honorarios y ahorro para Administradores de Fincas"
)

var defaultSignature = []string{
	"Multienergía Verde, la 1ª comercializadora de los AAFF desde hace más de 10 años.",
	"Un cordial saludo,",
	"Dpto. Ofertas | Multienergía Verde",
	"Móvil 600 36 50 81",
}

// Composer builds the customer-facing documents for an estimate.
type Composer struct {
	Company      string
	EmailSubject string
	Signature    []string
}

// New returns a Composer with the default company details.
func New() *Composer {
	return &Composer{
		Company:      defaultCompany,
		EmailSubject: defaultSubject,
		Signature:    append([]string(nil), defaultSignature...),
	}
}

// Configured returns a Composer whose details can be overridden with flags.
func Configured() *Composer {
	c := New()

	company := lflag.String("report-company", defaultCompany, "Company name used in report titles")
	subject := lflag.String("report-email-subject", defaultSubject, "Subject of the email draft")
	signature := defaultSignature
	lflag.JSON(&signature, "report-signature", signature, "JSON list of lines appended to summaries and emails")

	lflag.Do(func() {
		c.Company = *company
		c.EmailSubject = *subject
		c.Signature = signature
	})

	return c
}

// Line is a single label/value pair of a rendered estimate.
type Line struct {
	Label string
	Value string
	// Amount is the raw value for money lines, used by the spreadsheet.
	Amount float64
	Money  bool
}

// Sections groups the estimate into the three blocks shown to customers:
// supply points, energy and cost, and honorarium.
func Sections(res types.Result) [][]Line {
	money := func(label string, v float64) Line {
		return Line{Label: label, Value: format.Currency(v) + " €", Amount: v, Money: true}
	}
	return [][]Line{
		{
			{Label: "Total de comunidades", Value: format.Number(res.CommunityCount), Amount: res.CommunityCount},
			{Label: "Total de CUPS estimados", Value: format.Count(res.TotalCUPS), Amount: float64(res.TotalCUPS)},
			{Label: "CUPS tarifa " + types.BandA.Label(), Value: format.Count(res.CUPSA), Amount: float64(res.CUPSA)},
			{Label: "CUPS tarifa " + types.BandB.Label(), Value: format.Count(res.CUPSB), Amount: float64(res.CUPSB)},
			{Label: "CUPS tarifa " + types.BandC.Label(), Value: format.Count(res.CUPSC), Amount: float64(res.CUPSC)},
		},
		{
			{Label: "Consumo total estimado", Value: format.Number(res.ConsumptionTotal) + " kWh/año", Amount: res.ConsumptionTotal},
			money("Gasto anual actual", res.CostCurrent),
			money("Gasto anual con propuesta", res.CostProposed),
			money("Ahorro estimado", res.Savings),
		},
		{
			money("Honorarios "+types.BandA.Label(), res.FeeA),
			money("Honorarios "+types.BandB.Label(), res.FeeB),
			money("Honorarios "+types.BandC.Label(), res.FeeC),
			money("Honorarios TOTALES", res.FeeTotal),
		},
	}
}

// Summary renders the printable plain text summary.
func (c *Composer) Summary(res types.Result) string {
	var b strings.Builder
	b.WriteString("Resultados\n")
	for _, section := range Sections(res) {
		b.WriteString("\n")
		for _, l := range section {
			fmt.Fprintf(&b, "%s: %s\n", l.Label, l.Value)
		}
	}
	if len(c.Signature) > 0 {
		b.WriteString("\n")
		for _, l := range c.Signature {
			b.WriteString(l)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Email is a draft ready to be opened in a mail client.
type Email struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Mailto  string `json:"mailto"`
}

// Email composes the email draft for res, optionally addressed to to.
func (c *Composer) Email(res types.Result, to string) Email {
	body := "Buenos días,\n\nLe enviamos el cálculo estimado de honorarios y ahorro:\n\n" + c.Summary(res)
	return Email{
		Subject: c.EmailSubject,
		Body:    body,
		Mailto:  mailto(to, c.EmailSubject, body),
	}
}

// mailto builds a mailto link. Spaces must be %20 since most mail clients do
// not decode + in the body.
func mailto(to, subject, body string) string {
	escape := func(s string) string {
		return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
	}
	return "mailto:" + url.PathEscape(to) + "?subject=" + escape(subject) + "&body=" + escape(body)
}
