package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/smart-trolley/checkout-server/internal/catalog"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/logger"
)

var (
	generateNames string
	generateOut   string
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect or generate the product catalog",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all catalog products",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			return err
		}
		products := make([]catalog.Product, 0, cat.Len())
		for _, name := range cat.Names() {
			p, _ := cat.Lookup(name)
			products = append(products, p)
		}
		return printProducts(products)
	},
}

var catalogSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search products by name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			return err
		}
		query := strings.Join(args, " ")
		results := cat.Search(query)
		if len(results) == 0 {
			fmt.Printf("No products match '%s'\n", query)
			return nil
		}
		return printProducts(results)
	},
}

var catalogGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Build products.json from dataset class names",
	Long: `Build a products.json table from the class names of a YOLO dataset file.

Class names follow <name>_<weight>_<price>rs[_<view>], for example
maggi_70g_14rs_front becomes "Maggi" priced at 14.

Examples:
  checkout catalog generate --names data.yaml
  checkout catalog generate --names data.yaml --out config/products.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		classes, err := catalog.LoadClassNames(generateNames)
		if err != nil {
			return err
		}
		entries, skipped := catalog.FromClassNames(classes)
		for _, err := range skipped {
			logger.Warn("Catalog", "Skipped %v", err)
		}

		data, err := json.MarshalIndent(entries, "", "    ")
		if err != nil {
			return fmt.Errorf("encode catalog: %w", err)
		}
		data = append(data, '\n')
		if generateOut == "" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(generateOut, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", generateOut, err)
		}
		logger.Info("Catalog", "Wrote %d products to %s", len(entries), generateOut)
		return nil
	},
}

func init() {
	catalogGenerateCmd.Flags().StringVar(&generateNames, "names", "", "Dataset YAML with a names key (required)")
	catalogGenerateCmd.Flags().StringVarP(&generateOut, "out", "o", "", "Output file (default stdout)")
	_ = catalogGenerateCmd.MarkFlagRequired("names")

	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogSearchCmd)
	catalogCmd.AddCommand(catalogGenerateCmd)
}

func printProducts(products []catalog.Product) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPRICE\tDESCRIPTION")
	for _, p := range products {
		fmt.Fprintf(tw, "%s\t%.2f\t%s\n", p.Name, p.Price, p.Description)
	}
	return tw.Flush()
}
