package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	cfgFile string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "hourglass",
		Short:         "Prepaid AI engineering hours",
		Long:          `Hourglass works tickets from your trackers inside a prepaid hour budget and opens pull requests with the results.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.hourglass/config.yaml)")

	rootCmd.AddCommand(
		newStartCmd(),
		newSessionCmd(),
		newTicketCmd(),
		newDoctorCmd(),
		newDashboardCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show Hourglass version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Hourglass v%s\n", version)
		},
	}
}
