package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dLog/cmd/kv"
	"github.com/ValentinKolb/dLog/cmd/shell"
	"github.com/ValentinKolb/dLog/cmd/util"
	"github.com/ValentinKolb/dLog/lib/common"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dlog",
		Short: "log-structured key-value store",
		Long: fmt.Sprintf(`dLog (v%s)

A log-structured, append-only key-value store library written in Go.
Writes are appended to size-bounded segment files, a background
compactor keeps only the newest value of every key.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dLog",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dLog v%s\n", Version)
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(shell.ShellCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupLogFlags(RootCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	defer common.Sync()
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
