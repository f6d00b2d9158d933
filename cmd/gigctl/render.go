package main

import (
	"encoding/json"
	"io"
	"math/big"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"rozgar/native/gig"
)

type gigJSON struct {
	ID           uint64 `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Client       string `json:"client"`
	Freelancer   string `json:"freelancer"`
	PaymentWei   string `json:"paymentWei"`
	PaymentEther string `json:"paymentEther"`
	Status       string `json:"status"`
}

func toJSON(g gig.Gig) gigJSON {
	return gigJSON{
		ID:           g.ID,
		Title:        g.Title,
		Description:  g.Description,
		Client:       g.Client.Hex(),
		Freelancer:   g.Freelancer.Hex(),
		PaymentWei:   wei(g.Payment),
		PaymentEther: gig.FormatEther(g.Payment),
		Status:       g.Status().String(),
	}
}

func wei(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

func renderGigs(w io.Writer, gigs []gig.Gig) {
	tw := newTable(w, table.Row{"ID", "Title", "Client", "Freelancer", "Payment (ETH)", "Status"})
	for _, g := range gigs {
		tw.AppendRow(table.Row{g.ID, g.Title, g.Client.Short(), g.Freelancer.Short(), gig.FormatEther(g.Payment), g.Status()})
	}
	tw.Render()
}

func renderKeyValues(w io.Writer, rows [][2]string) {
	tw := newTable(w, table.Row{"Field", "Value"})
	for _, r := range rows {
		tw.AppendRow(table.Row{r[0], r[1]})
	}
	tw.Render()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }
