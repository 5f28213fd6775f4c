package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/smart-trolley/checkout-server/internal/receipts"
)

var (
	receiptsLimit int
	receiptsID    string
)

var receiptsCmd = &cobra.Command{
	Use:   "receipts",
	Short: "Show recent checkout receipts",
	Args:  cobra.NoArgs,
	RunE:  runReceipts,
}

func init() {
	receiptsCmd.Flags().IntVarP(&receiptsLimit, "limit", "n", 20, "Number of receipts to show")
	receiptsCmd.Flags().StringVar(&receiptsID, "id", "", "Show the lines of one receipt")
}

func runReceipts(cmd *cobra.Command, args []string) error {
	if cfg.ReceiptsDB == "" {
		return errors.New("receipts_db is not configured")
	}
	store, err := receipts.Open(cfg.ReceiptsDB)
	if err != nil {
		return err
	}
	defer store.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if receiptsID != "" {
		rec, err := store.Get(cmd.Context(), receiptsID)
		if err != nil {
			return err
		}
		fmt.Printf("Receipt %s (%s)\n\n", rec.ID, rec.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintln(tw, "PRODUCT\tQTY\tPRICE\tSUBTOTAL")
		for _, l := range rec.Lines {
			fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.2f\n", l.Name, l.Quantity, l.Price, l.Subtotal())
		}
		fmt.Fprintf(tw, "TOTAL\t%d\t\t%.2f\n", rec.ItemCount, rec.Total)
		return tw.Flush()
	}

	recs, err := store.List(cmd.Context(), receiptsLimit)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "ID\tDATE\tITEMS\tTOTAL")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.ItemCount, r.Total)
	}
	return tw.Flush()
}
