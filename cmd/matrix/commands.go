package matrix

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ValentinKolb/smatrix/cmd/util"
	"github.com/ValentinKolb/smatrix/lib/common"
	"github.com/ValentinKolb/smatrix/lib/matrix"
	"github.com/ValentinKolb/smatrix/lib/matrix/engines/smx"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [row] [col]",
		Short: "Reads the counter at (row, col)",
		Args:  cobra.ExactArgs(2),
		RunE: withEngine(func(e *smx.Engine, _ *common.EngineConfig, args []string) error {
			v, err := e.Get(parseKey(args[0]), parseKey(args[1]))
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		}),
	}
	setCmd = &cobra.Command{
		Use:   "set [row] [col] [value]",
		Short: "Sets the counter at (row, col)",
		Args:  cobra.ExactArgs(3),
		RunE: withEngine(func(e *smx.Engine, _ *common.EngineConfig, args []string) error {
			value, err := parseValue("value", args[2])
			if err != nil {
				return err
			}
			v, err := e.Set(parseKey(args[0]), parseKey(args[1]), value)
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		}),
	}
	incrCmd = &cobra.Command{
		Use:   "incr [row] [col] [delta]",
		Short: "Increments the counter at (row, col) by delta (default 1)",
		Args:  cobra.RangeArgs(2, 3),
		RunE: withEngine(func(e *smx.Engine, _ *common.EngineConfig, args []string) error {
			delta, err := deltaArg(args)
			if err != nil {
				return err
			}
			v, err := e.Incr(parseKey(args[0]), parseKey(args[1]), delta)
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		}),
	}
	decrCmd = &cobra.Command{
		Use:   "decr [row] [col] [delta]",
		Short: "Decrements the counter at (row, col) by delta (default 1)",
		Args:  cobra.RangeArgs(2, 3),
		RunE: withEngine(func(e *smx.Engine, _ *common.EngineConfig, args []string) error {
			delta, err := deltaArg(args)
			if err != nil {
				return err
			}
			v, err := e.Decr(parseKey(args[0]), parseKey(args[1]), delta)
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		}),
	}
	lenCmd = &cobra.Command{
		Use:   "len [row]",
		Short: "Prints the number of columns of a row",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(func(e *smx.Engine, _ *common.EngineConfig, args []string) error {
			n, err := e.RowLength(parseKey(args[0]))
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		}),
	}
	rowCmd = &cobra.Command{
		Use:   "row [row]",
		Short: "Prints the columns of a row, highest counter first",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(func(e *smx.Engine, _ *common.EngineConfig, args []string) error {
			entries, err := e.GetRow(parseKey(args[0]), viper.GetInt("limit"))
			if err != nil {
				return err
			}
			sort.Slice(entries, func(i, j int) bool {
				if entries[i].Value != entries[j].Value {
					return entries[i].Value > entries[j].Value
				}
				return entries[i].Column < entries[j].Column
			})
			for _, entry := range entries {
				fmt.Printf("%d\t%d\n", entry.Column, entry.Value)
			}
			return nil
		}),
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints the configuration and statistics of a matrix",
		Args:  cobra.NoArgs,
		RunE: withEngine(func(e *smx.Engine, config *common.EngineConfig, _ []string) error {
			fmt.Println("Configuration:")
			fmt.Println(config.String())
			fmt.Println("Matrix:")
			fmt.Println(formatInfo(e.GetInfo()))

			if viper.GetBool("metrics") {
				fmt.Println("Metrics:")
				e.WriteMetrics(os.Stdout)
			}
			return nil
		}),
	}
)

func init() {
	key := "limit"
	rowCmd.Flags().Int(key, 100, util.WrapString("Maximum number of columns to print"))

	key = "metrics"
	infoCmd.Flags().Bool(key, false, util.WrapString("Also print the engine metrics in Prometheus format"))
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// deltaArg returns the optional third argument of incr and decr
func deltaArg(args []string) (uint32, error) {
	if len(args) < 3 {
		return 1, nil
	}
	return parseValue("delta", args[2])
}

// formatInfo renders MatrixInfo in the same layout as the configuration
func formatInfo(info matrix.MatrixInfo) string {
	var sb strings.Builder

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	features := make([]string, 0, len(info.SupportedFeatures))
	for _, f := range info.SupportedFeatures {
		features = append(features, f.String())
	}

	addField("Type", string(info.MatrixType))
	addField("Rows", strconv.Itoa(info.Rows))
	addField("Resident Rows", strconv.Itoa(info.ResidentRows))
	addField("Memory", fmt.Sprintf("%d bytes", info.MemoryBytes))
	addField("File Size", fmt.Sprintf("%d bytes", info.FileBytes))
	addField("Features", strings.Join(features, ", "))

	if stats, ok := info.Metadata.(smx.Stats); ok {
		addField("Index Size", strconv.Itoa(stats.IndexSize))
		addField("Row Length (max)", strconv.FormatInt(stats.ResidentRowLength, 10))
		addField("Row Length (avg)", fmt.Sprintf("%.2f", stats.AverageRowLength))
		addField("Row Length (p50)", strconv.FormatInt(stats.MedianRowLength, 10))
		addField("Row Length (p99)", strconv.FormatInt(stats.P99RowLength, 10))
		addField("Pending Write Backs", strconv.FormatUint(stats.PendingWriteBacks, 10))

		if len(stats.LengthBounds) > 0 {
			sb.WriteString("  Row Length Distribution:\n")
			for i, bound := range stats.LengthBounds {
				sb.WriteString(fmt.Sprintf("    <= %-10d %6.2f%%\n", bound, stats.LengthShares[i]))
			}
		}
	}

	return sb.String()
}
