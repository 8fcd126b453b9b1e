package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().Bool("strict", false, "Exit non-zero when any discrepancy is found")
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare every account balance with its coin ledger once",
	RunE:  runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	strict, _ := cmd.Flags().GetBool("strict")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	found, err := a.service.Reconcile(cmd.Context())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(found); err != nil {
		return err
	}

	if strict && len(found) > 0 {
		return fmt.Errorf("%d accounts disagree with their ledger", len(found))
	}
	return nil
}
