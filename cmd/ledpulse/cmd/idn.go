package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var idnCmd = &cobra.Command{
	Use:   "idn",
	Short: "Print the instrument identification",
	Long: `Connect, bring the driver to its baseline state and print the *IDN? reply.

Examples:
  ledpulse idn
  ledpulse idn --resource SIM::INSTR`,
	Args: cobra.NoArgs,
	RunE: runIdn,
}

func init() {
	rootCmd.AddCommand(idnCmd)
}

func runIdn(cmd *cobra.Command, args []string) error {
	sess, err := openSession()
	if err != nil {
		return err
	}
	defer sess.Teardown()

	idn, err := sess.Identify()
	if err != nil {
		return fmt.Errorf("identification query failed: %w", err)
	}
	fmt.Println(idn)
	return nil
}
