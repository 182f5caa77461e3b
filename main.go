package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/alecthomas/kingpin.v2"

	"moria.us/dos2flat/flat"
	"moria.us/dos2flat/module"
)

var cfg struct {
	verbose bool
	regions flat.Regions
	convert struct {
		input  string
		output string
		strict bool
	}
	mapInput  string
	dumpInput string
}

var (
	consoleOutput = os.Stderr
	logger        = log.NewLogfmtLogger(consoleOutput)
)

func hex(v uint32) string {
	return fmt.Sprintf("0x%X", v)
}

// outputName returns the name of the image written for an executable.
func outputName(input, output string) string {
	if output != "" {
		return output
	}
	return input + ".FLAT"
}

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]), "Convert DOS extender executables to flat memory images.").UsageWriter(os.Stdout)
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("false").BoolVar(&cfg.verbose)
	app.Flag("low-start", "First usable address in low memory.").Default(hex(flat.DefaultLowStart)).Uint32Var(&cfg.regions.LowStart)
	app.Flag("low-end", "End of usable low memory.").Default(hex(flat.DefaultLowEnd)).Uint32Var(&cfg.regions.LowEnd)
	app.Flag("high-start", "First usable address in high memory.").Default(hex(flat.DefaultHighStart)).Uint32Var(&cfg.regions.HighStart)

	convertCmd := app.Command("convert", "Write the flat memory image of an executable.").Default()
	convertCmd.Arg("exe", "Executable to convert.").Required().StringVar(&cfg.convert.input)
	convertCmd.Flag("output", "Output file, defaults to the input name with .FLAT appended.").Short('o').StringVar(&cfg.convert.output)
	convertCmd.Flag("strict", "Fail if any relocation cannot be applied.").Default("false").BoolVar(&cfg.convert.strict)

	mapCmd := app.Command("map", "Print where each object of an executable is placed.")
	mapCmd.Arg("exe", "Executable to lay out.").Required().StringVar(&cfg.mapInput)

	dumpCmd := app.Command("dump", "Print the structure of an executable.")
	dumpCmd.Arg("exe", "Executable to dump.").Required().StringVar(&cfg.dumpInput)

	// parse command line arguments
	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	// enable verbose logging if requested
	if !cfg.verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	c := &converter{
		fs:      afero.NewOsFs(),
		logger:  logger,
		regions: cfg.regions,
		strict:  cfg.convert.strict,
	}
	switch parsedCmd {
	case convertCmd.FullCommand():
		output := outputName(cfg.convert.input, cfg.convert.output)
		os.Exit(checkError(c.convert(cfg.convert.input, output, os.Stdout)))
	case mapCmd.FullCommand():
		os.Exit(checkError(c.printMap(cfg.mapInput, os.Stdout)))
	case dumpCmd.FullCommand():
		os.Exit(checkError(c.dump(cfg.dumpInput, os.Stdout)))
	default:
		level.Error(logger).Log("msg", "unknown command", "cmd", parsedCmd)
		os.Exit(1)
	}
}

// errorKind classifies a fatal error for reporting.
func errorKind(err error) string {
	var (
		fe *module.FormatError
		rw flat.Warning
	)
	switch {
	case errors.As(err, &fe), errors.Cause(err) == flat.ErrBadRef:
		return "format"
	case errors.As(err, &rw):
		return "relocation"
	default:
		return "resource"
	}
}

func checkError(err error) int {
	return reportError(consoleOutput, err)
}

func reportError(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	level.Debug(logger).Log("msg", "conversion failed", "kind", errorKind(err))
	fmt.Fprintf(w, "error: %v\n", err)
	return 1
}
