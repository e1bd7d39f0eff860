package util

import (
	"fmt"
	"strings"

	"code.cloudfoundry.org/bytefmt"
	"github.com/ValentinKolb/dLog/lib/common"
	"github.com/ValentinKolb/dLog/lib/db"
	"github.com/ValentinKolb/dLog/lib/store"
	"github.com/ValentinKolb/dLog/lib/store/lstore"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupLogFlags adds the flags describing the log on disk to a command
func SetupLogFlags(cmd *cobra.Command) {
	key := "data-dir"
	cmd.PersistentFlags().String(key, "data", WrapString("Directory holding the segment files"))

	key = "max-segment-size"
	cmd.PersistentFlags().String(key, "4MB", WrapString("Maximum size of a segment file (e.g. 512KB, 4MB, 1G)"))

	key = "compaction-interval"
	cmd.PersistentFlags().Duration(key, 0, WrapString("Time between background compactions, 0 disables background compaction"))

	key = "sync-writes"
	cmd.PersistentFlags().Bool(key, false, WrapString("Whether to fsync the segment file after every write"))

	key = "recover"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to rebuild the log from the existing segment files. If false, existing segment files are removed"))

	key = "compress"
	cmd.PersistentFlags().Bool(key, false, WrapString("Whether to store values zstd compressed. A log must always be opened with the same setting"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("The log level (debug, info, warn, error)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dlog")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetConfig reads the log configuration from viper
func GetConfig() (*common.Config, error) {
	maxSegmentSize, err := bytefmt.ToBytes(viper.GetString("max-segment-size"))
	if err != nil {
		return nil, fmt.Errorf("invalid max segment size %q: %w", viper.GetString("max-segment-size"), err)
	}

	conf := &common.Config{
		DataDir:            viper.GetString("data-dir"),
		MaxSegmentSize:     maxSegmentSize,
		CompactionInterval: viper.GetDuration("compaction-interval"),
		SyncWrites:         viper.GetBool("sync-writes"),
		Recover:            viper.GetBool("recover"),
		Compress:           viper.GetBool("compress"),
		LogLevel:           viper.GetString("log-level"),
	}
	return conf, conf.Validate()
}

// OpenStore binds the flags of cmd, initializes the loggers and opens the store
// described by the configuration
func OpenStore(cmd *cobra.Command) (store.IStore, *common.Config, error) {
	if err := BindCommandFlags(cmd); err != nil {
		return nil, nil, err
	}

	config, err := GetConfig()
	if err != nil {
		return nil, nil, err
	}

	if err := common.InitLoggers(config); err != nil {
		return nil, nil, err
	}

	s, err := lstore.NewLocalStore(func() (db.KVLog[[]byte], error) {
		return config.OpenLog()
	})
	if err != nil {
		return nil, nil, err
	}
	return s, config, nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
