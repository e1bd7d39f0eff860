package kv

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dLog/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Appends a new value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]
			if err := kvStore.Set(key, []byte(value)); err != nil {
				return err
			} else {
				fmt.Println("set successfully")
			}
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the newest value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if resp, ok, err := kvStore.Get(key); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, found=%v, resp=%s\n", key, ok, resp)
			}
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair by appending a tombstone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if err := kvStore.Delete(key); err != nil {
				return err
			} else {
				fmt.Println("delete successfully")
			}
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key has a live value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if found, err := kvStore.Has(key); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, found=%t\n", key, found)
			}
			return nil
		},
	}
	compactCmd = &cobra.Command{
		Use:   "compact",
		Short: "Runs one compaction cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := kvStore.Compact(); err != nil {
				return err
			} else {
				fmt.Println("compacted successfully")
			}
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints information about the log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := kvStore.GetDBInfo()
			if err != nil {
				return err
			}

			out, err := yaml.Marshal(info)
			if err != nil {
				return fmt.Errorf("failed to format info: %w", err)
			}
			fmt.Print(string(out))

			if viper.GetBool("metrics") {
				fmt.Println()
				return kvStore.WriteMetrics(os.Stdout)
			}
			return nil
		},
	}
)

func init() {
	key := "metrics"
	infoCmd.Flags().Bool(key, false, util.WrapString("Also print the metrics of the log in Prometheus text format"))
}
