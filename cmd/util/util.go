package util

import (
	"strings"

	"github.com/ValentinKolb/smatrix/lib/common"
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

// SetupEngineFlags adds the flags that configure the matrix engine to a command
func SetupEngineFlags(cmd *cobra.Command) {
	key := "file"
	cmd.PersistentFlags().StringP(key, "f", "matrix.smx", WrapString("Path of the data file. An empty path opens a memory-only matrix"))

	key = "memory-limit"
	cmd.PersistentFlags().Int64(key, 0, WrapString("Memory budget for resident rows in MB (0 = unlimited)"))

	key = "hard-limit"
	cmd.PersistentFlags().Bool(key, false, WrapString("Fail writes instead of exceeding the memory limit"))

	key = "index-size"
	cmd.PersistentFlags().Uint32(key, 1<<16, WrapString("Initial number of slots in the row index"))

	key = "row-size"
	cmd.PersistentFlags().Uint32(key, 8, WrapString("Initial number of slots of a new row"))

	key = "block-capacity"
	cmd.PersistentFlags().Int64(key, 4096, WrapString("Number of entries per on-disk index block"))

	key = "write-back"
	cmd.PersistentFlags().String(key, "deferred", WrapString("When dirty rows are written to the data file (deferred, sync, manual)"))

	key = "checked"
	cmd.PersistentFlags().Bool(key, false, WrapString("Fail on counter overflow instead of saturating"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("The log level (debug, info, warn, error)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("smx")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetEngineConfig reads the engine configuration from viper
func GetEngineConfig() *common.EngineConfig {
	return &common.EngineConfig{
		Path:          viper.GetString("file"),
		MemoryLimitMB: viper.GetInt64("memory-limit"),
		HardLimit:     viper.GetBool("hard-limit"),
		IndexSize:     viper.GetUint32("index-size"),
		RowSize:       viper.GetUint32("row-size"),
		BlockCapacity: viper.GetInt64("block-capacity"),
		WriteBack:     viper.GetString("write-back"),
		Checked:       viper.GetBool("checked"),
		LogLevel:      viper.GetString("log-level"),
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
