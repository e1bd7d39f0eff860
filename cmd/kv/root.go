package kv

import (
	"github.com/ValentinKolb/dLog/cmd/util"
	"github.com/ValentinKolb/dLog/lib/common"
	"github.com/ValentinKolb/dLog/lib/store"
	"github.com/spf13/cobra"
)

var (
	kvStore  store.IStore
	kvConfig *common.Config

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform key-value operations on a log",
		PersistentPreRunE:  openStore,
		PersistentPostRunE: closeStore,
	}
)

func init() {
	// Add subcommands
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(hasCmd)
	KeyValueCommands.AddCommand(compactCmd)
	KeyValueCommands.AddCommand(infoCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// openStore opens the store described by the flags
func openStore(cmd *cobra.Command, _ []string) error {
	var err error
	kvStore, kvConfig, err = util.OpenStore(cmd)
	return err
}

// closeStore closes the store, flushing the active segment
func closeStore(_ *cobra.Command, _ []string) error {
	if kvStore == nil {
		return nil
	}
	return kvStore.Close()
}
