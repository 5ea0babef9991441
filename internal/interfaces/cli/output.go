package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"aawallet/internal/domain"
)

// writeOutput renders v as indented JSON, or through text otherwise.
func writeOutput(w io.Writer, format string, v any, text func(io.Writer) error) error {
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	}
	return text(w)
}

func writeTransactions(w io.Writer, txs []domain.Transaction) error {
	if len(txs) == 0 {
		_, err := fmt.Fprintln(w, "no transactions")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HASH\tSTATUS\tKIND\tAMOUNT\tRECIPIENT\tTIME")
	for _, tx := range txs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			tx.Hash, tx.Status, tx.Kind, tx.Amount, orDash(tx.Recipient), formatMillis(tx.Timestamp))
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
