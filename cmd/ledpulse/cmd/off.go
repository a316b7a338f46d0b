package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var offCmd = &cobra.Command{
	Use:   "off",
	Short: "Turn the LED output off and report its state",
	Long: `Recovery command for a driver left on by a crashed or killed run: connect,
switch the output off and print the STATe? reply.`,
	Args: cobra.NoArgs,
	RunE: runOff,
}

func init() {
	rootCmd.AddCommand(offCmd)
}

func runOff(cmd *cobra.Command, args []string) error {
	sess, err := openSession()
	if err != nil {
		return err
	}
	defer sess.Teardown()

	if err := sess.TurnOff(); err != nil {
		return fmt.Errorf("failed to turn output off: %w", err)
	}
	state, err := sess.QueryOutputState()
	if err != nil {
		return fmt.Errorf("output state query failed: %w", err)
	}
	fmt.Printf("LED OFF (STATe?=%s)\n", state)
	return nil
}
