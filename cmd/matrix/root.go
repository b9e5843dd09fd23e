package matrix

import (
	"strconv"

	"github.com/ValentinKolb/smatrix/cmd/util"
	"github.com/ValentinKolb/smatrix/lib/common"
	"github.com/ValentinKolb/smatrix/lib/matrix/engines/smx"
	mutil "github.com/ValentinKolb/smatrix/lib/matrix/util"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
)

var log = logger.GetLogger("cli")

// Commands lists every command that works on a data file
var Commands = []*cobra.Command{
	getCmd,
	setCmd,
	incrCmd,
	decrCmd,
	lenCmd,
	rowCmd,
	infoCmd,
	importCmd,
	perfCmd,
}

// Setup registers the engine flags on the root command and initializes viper
func Setup(root *cobra.Command) {
	cobra.OnInitialize(util.InitConfig)
	util.SetupEngineFlags(root)
	root.AddCommand(Commands...)
}

// --------------------------------------------------------------------------
// Engine lifecycle
// --------------------------------------------------------------------------

// openEngine reads the configuration, initializes logging and opens the matrix
func openEngine(cmd *cobra.Command) (*smx.Engine, *common.EngineConfig, error) {
	if err := util.BindCommandFlags(cmd); err != nil {
		return nil, nil, err
	}

	config := util.GetEngineConfig()
	if err := common.InitLoggers(*config); err != nil {
		return nil, nil, err
	}

	opts, err := config.ToOptions()
	if err != nil {
		return nil, nil, err
	}

	e, err := smx.Open(config.Path, opts)
	if err != nil {
		return nil, nil, err
	}
	log.Debugf("opened matrix %q", config.Path)
	return e, config, nil
}

// withEngine wraps a command body so the matrix is opened before and closed after it.
// The close error is reported unless the body failed.
func withEngine(fn func(e *smx.Engine, config *common.EngineConfig, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		e, config, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := e.Close(); closeErr != nil {
				log.Errorf("closing matrix failed: %v", closeErr)
				if err == nil {
					err = closeErr
				}
			}
		}()
		return fn(e, config, args)
	}
}

// --------------------------------------------------------------------------
// Argument parsing
// --------------------------------------------------------------------------

// parseKey converts a row or column argument to a matrix key
func parseKey(s string) uint32 {
	return mutil.ParseKey(s)
}

// parseValue parses a counter argument
func parseValue(name, s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "%s must be a number between 0 and %d", name, uint32(1<<32-1))
	}
	return uint32(v), nil
}
