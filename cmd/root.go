package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/smatrix/cmd/matrix"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "smx",
		Short: "disk-backed sparse counter matrix",
		Long: fmt.Sprintf(`smatrix (v%s)

A concurrent sparse matrix of 32-bit counters, persisted lazily to a single
append-only file. Built for item co-occurrence counting in recommenders.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of smatrix",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("smatrix v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	matrix.Setup(RootCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
