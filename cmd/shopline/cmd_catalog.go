package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/shopline/internal/store"
)

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogImportCmd, catalogListCmd)
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the product catalog",
}

func openStore() (*store.SQLiteStore, error) {
	cfg := loadConfig()
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return store.Open(cfg.CatalogPath())
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import products and variants from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := store.LoadCatalog(args[0])
		if err != nil {
			return err
		}
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.ImportCatalog(context.Background(), catalog)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Imported %d products.\n", n)
		return nil
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog products",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		products, err := db.ListProducts(ctx)
		if err != nil {
			return err
		}
		if len(products) == 0 {
			fmt.Println("Catalog is empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tPRICE\tSTOCK")
		for _, p := range products {
			stock := "?"
			if a, err := db.GetAvailability(ctx, p.ID); err == nil {
				stock = fmt.Sprint(a.Stock)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%.2f %s\t%s\n", p.ID, p.Name, p.Category, p.Price, p.Currency, stock)
		}
		return w.Flush()
	},
}
