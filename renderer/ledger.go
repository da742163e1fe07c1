package renderer

import (
	"bytes"
	"strconv"

	"github.com/blumarkets/portfolio"
	md "github.com/nao1215/markdown"
)

// RenderLedger renders ledger entries, oldest first.
func RenderLedger(id string, entries []portfolio.LedgerEntry) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)

	doc.H1f("Ledger %s", id)
	if len(entries) == 0 {
		doc.PlainText("")
		doc.PlainText("No entries.")
		return doc.String() + "\n"
	}

	table := md.TableSet{
		Alignment: []md.TableAlignment{
			md.AlignRight,
			md.AlignLeft,
			md.AlignLeft,
			md.AlignLeft,
			md.AlignLeft,
			md.AlignRight,
			md.AlignRight,
		},
		Header: []string{"Seq", "Time", "Kind", "Action", "Boundary", "Total after", "Change"},
	}
	var total portfolio.Money
	for _, e := range entries {
		table.Rows = append(table.Rows, []string{
			strconv.FormatUint(e.Seq, 10),
			formatDate(e.Timestamp),
			string(e.Kind),
			Describe(e.Payload),
			string(e.Boundary),
			e.After.TotalIRR.String(),
			e.Delta().SignedString(),
		})
		total = total.Add(e.Delta())
	}
	doc.PlainText("")
	doc.Table(table)
	doc.PlainTextf("Net change over %d entries: %s", len(entries), md.Bold(total.SignedString()))
	return doc.String() + "\n"
}
