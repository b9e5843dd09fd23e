package matrix

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/smatrix/cmd/util"
	"github.com/ValentinKolb/smatrix/lib/common"
	"github.com/ValentinKolb/smatrix/lib/matrix/engines/smx"
	"github.com/cockroachdb/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// countColumn is the column that counts how often an item was seen at all
const countColumn uint32 = 0

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Loads preference sets from a CSV file into the matrix",
	Long: util.WrapString(`Loads preference sets from a CSV file into the matrix.
Every line is one set of item ids (e.g. the items of one session or basket).
For every ordered pair (a, b) of distinct items in a set the counter (a, b)
is incremented, and (a, 0) counts how many sets contained a. Column 0 is
reserved for that count, so items with id 0 are skipped unless --count-items=false.`),
	Args: cobra.ExactArgs(1),
	RunE: withEngine(runImport),
}

func init() {
	key := "max-set-size"
	importCmd.Flags().Int(key, 49, util.WrapString("Items of a set beyond this many are ignored"))

	key = "threads"
	importCmd.Flags().Int(key, 4, util.WrapString("Number of goroutines that apply sets concurrently"))

	key = "count-items"
	importCmd.Flags().Bool(key, true, util.WrapString("Also count every item in column 0 of its row"))
}

// importStats counts the work done by all import workers
type importStats struct {
	sets  *xsync.Counter
	incrs *xsync.Counter
}

func runImport(e *smx.Engine, _ *common.EngineConfig, args []string) error {
	maxSetSize := viper.GetInt("max-set-size")
	threads := viper.GetInt("threads")
	countItems := viper.GetBool("count-items")
	if maxSetSize < 1 {
		return errors.Newf("max-set-size must be positive, got %d", maxSetSize)
	}
	if threads < 1 {
		threads = 1
	}

	f, err := os.Open(args[0])
	if err != nil {
		return errors.Wrapf(err, "open %s", args[0])
	}
	defer f.Close()

	stats := importStats{sets: xsync.NewCounter(), incrs: xsync.NewCounter()}
	sets := make(chan []uint32, threads*4)
	start := time.Now()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for set := range sets {
				if err := applySet(e, set, countItems, stats); err != nil {
					errOnce.Do(func() { firstErr = err })
				}
			}
		}()
	}

	read := 0
	skipped, readErr := readSets(f, maxSetSize, countItems, func(set []uint32) {
		sets <- set
		if read++; read%100000 == 0 {
			log.Infof("read %d sets, %d increments applied", read, stats.incrs.Value())
		}
	})
	close(sets)
	wg.Wait()

	if readErr != nil {
		return readErr
	}
	if skipped > 0 {
		log.Warningf("skipped %d items with id 0, column 0 holds the item counts", skipped)
	}
	if firstErr != nil {
		return firstErr
	}

	elapsed := time.Since(start)
	fmt.Printf("imported %d sets with %d increments in %s\n", stats.sets.Value(), stats.incrs.Value(), elapsed.Round(time.Millisecond))
	return nil
}

// readSets calls fn for every non-empty line of r, truncated to maxSetSize items.
// With skipZero items whose key is 0 are dropped and counted in skipped.
func readSets(r io.Reader, maxSetSize int, skipZero bool, fn func(set []uint32)) (skipped int, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			return skipped, nil
		}
		if err != nil {
			return skipped, errors.Wrapf(err, "line %d", line)
		}

		set := make([]uint32, 0, min(len(record), maxSetSize))
		for _, field := range record {
			if len(set) == maxSetSize {
				break
			}
			if field = strings.TrimSpace(field); field == "" {
				continue
			}
			key := parseKey(field)
			if skipZero && key == countColumn {
				skipped++
				continue
			}
			set = append(set, key)
		}
		if len(set) > 0 {
			fn(set)
		}
	}
}

// applySet increments every ordered pair of distinct positions of set
func applySet(e *smx.Engine, set []uint32, countItems bool, stats importStats) error {
	for n, a := range set {
		if countItems {
			if _, err := e.Incr(a, countColumn, 1); err != nil {
				return err
			}
			stats.incrs.Inc()
		}
		for i, b := range set {
			if i == n {
				continue
			}
			if _, err := e.Incr(a, b, 1); err != nil {
				return err
			}
			stats.incrs.Inc()
		}
	}
	stats.sets.Inc()
	return nil
}
