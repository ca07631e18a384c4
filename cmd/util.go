// elrecal: base quality score recalibration for SAM files.
// Copyright (c) 2017-2020 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/exascience/elrecal/blob/master/LICENSE.txt>.

package cmd

import (
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/exascience/elrecal/recal"
	"github.com/exascience/elrecal/utils"
)

// ProgramMessage is the first line printed when the elrecal binary is
// called.
var ProgramMessage string

func init() {
	ProgramMessage = fmt.Sprint(
		"\n", utils.ProgramName, " version ", utils.ProgramVersion,
		" compiled with ", runtime.Version(),
		" - see ", utils.ProgramURL, " for more information.\n",
	)
}

// HelpMessage is printed to show the --help flag.
const HelpMessage = "Print command details:\n" +
	"[--help]\n"

func getFilename(s, help string) string {
	switch s {
	case "-h", "--h", "-help", "--help":
		fmt.Fprint(os.Stderr, help)
		os.Exit(0)
	default:
		if strings.HasPrefix(s, "-") {
			log.Error("Filename(s) in command line missing.")
			fmt.Fprint(os.Stderr, help)
			os.Exit(1)
		}
	}
	return s
}

func parseFlags(flags *flag.FlagSet, requiredArgs int, help string) {
	if len(os.Args) < requiredArgs {
		fmt.Fprintln(os.Stderr, "Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
	flags.SetOutput(ioutil.Discard)
	if err := flags.Parse(os.Args[requiredArgs:]); err != nil {
		x := 0
		if err != flag.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			x = 1
		}
		fmt.Fprint(os.Stderr, help)
		os.Exit(x)
	}
	if flags.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Cannot parse remaining parameters:", flags.Args())
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
}

func logCheckFile(parameter, format string, v ...interface{}) {
	if parameter != "" {
		log.Errorf(format+" for command line parameter %v.", append(v, parameter)...)
	} else {
		log.Errorf(format+".", v...)
	}
}

func checkExist(parameter, filename string) bool {
	if len(filename) == 0 {
		logCheckFile(parameter, "Error: Missing filename")
		return false
	}
	if filename[0] == '-' {
		logCheckFile(parameter, "Error: Missing filename before %v", filename)
		return false
	}
	if _, err := os.Stat(filename); err == nil {
		return true
	} else if os.IsNotExist(err) {
		logCheckFile(parameter, "Error: File %v does not exist", filename)
		return false
	} else if os.IsPermission(err) {
		logCheckFile(parameter, "Error: No permission to read file %v", filename)
		return false
	} else {
		logCheckFile(parameter, "Error %v when trying to access file %v", err, filename)
		return false
	}
}

func checkCreate(parameter, filename string) bool {
	if len(filename) == 0 {
		logCheckFile(parameter, "Error: Missing filename")
		return false
	}
	if filename[0] == '-' {
		logCheckFile(parameter, "Error: Missing filename before %v", filename)
		return false
	}
	if _, err := os.Stat(filename); err == nil {
		// Assume that the file has been written by previous runs, and can be overwritten.
		return true
	}
	err := os.MkdirAll(filepath.Dir(filename), 0700)
	if err == nil {
		err = ioutil.WriteFile(filename, nil, 0666)
	}
	if err != nil {
		if os.IsPermission(err) {
			logCheckFile(parameter, "Error: No permission to create file %v", filename)
		} else {
			logCheckFile(parameter, "Error %v when trying to create file %v", err, filename)
		}
		return false
	}
	_ = os.Remove(filename)
	return true
}

func createLogFilename() string {
	t := time.Now()
	zone, _ := t.Zone()
	return fmt.Sprintf("logs/elrecal/elrecal-%d-%02d-%02d-%02d-%02d-%02d-%09d-%v.log", t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), zone)
}

// setLogOutput duplicates everything written to the log and to
// stderr into a fresh log file under path, or under $HOME if path is
// empty.
func setLogOutput(path string) error {
	logPath := createLogFilename()
	var fullPath string
	if path == "" {
		fullPath = filepath.Join(os.Getenv("HOME"), logPath)
	} else {
		fullPath = filepath.Join(path, logPath)
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0700); err != nil {
		return errors.Wrap(err, "while creating the log directory")
	}
	f, err := os.Create(fullPath)
	if err != nil {
		return errors.Wrap(err, "while creating the log file")
	}
	fmt.Fprintln(f, ProgramMessage)

	orgStderr, err := unix.Dup(2)
	if err != nil {
		return err
	}
	ferr := os.NewFile(uintptr(orgStderr), "/dev/stderr")
	if err := unix.Dup2(int(f.Fd()), 2); err != nil {
		return err
	}

	log.SetOutput(io.MultiWriter(f, ferr))
	log.Info("Created log file at ", fullPath)
	log.Info("Command line: ", os.Args)
	return nil
}

func setNrOfThreads(n int) {
	if n > 0 {
		runtime.GOMAXPROCS(n)
	}
}

func timedRun(timed bool, profile, msg string, phase int64, f func() error) (err error) {
	if profile != "" {
		filename := profile + strconv.FormatInt(phase, 10) + ".prof"
		file, cerr := os.Create(filename)
		if cerr != nil {
			return cerr
		}
		defer func() {
			if nerr := file.Close(); err == nil {
				err = nerr
			}
		}()
		if perr := pprof.StartCPUProfile(file); perr != nil {
			return perr
		}
		defer pprof.StopCPUProfile()
	}
	if timed {
		log.Info(msg)
		start := time.Now()
		defer func() {
			log.Info("Elapsed time: ", time.Since(start))
		}()
	}
	return f()
}

// recalFlags are the command line parameters that determine how
// covariates are computed. Both passes must agree on them.
type recalFlags struct {
	covariates          string
	smoothing           int
	maxQuality          int
	defaultPlatform     string
	forcePlatform       string
	defaultReadGroup    string
	forceReadGroup      string
	solidRecalMode      string
	homopolymerLookback int
	nqsWindow           int
	useOriginalQuals    bool
}

const recalFlagsHelp = "[--covariates ReadGroup,QualityScore,Cycle,Dinuc]\n" +
	"[--smoothing n]\n" +
	"[--max-quality n]\n" +
	"[--default-platform name]\n" +
	"[--force-platform name]\n" +
	"[--default-read-group id]\n" +
	"[--force-read-group id]\n" +
	"[--solid-recal-mode DO_NOTHING|SET_Q_ZERO|REMOVE_REF_BIAS]\n" +
	"[--homopolymer-lookback n]\n" +
	"[--nqs-window n]\n" +
	"[--use-original-quals]\n"

func (rf *recalFlags) register(flags *flag.FlagSet) {
	flags.StringVar(&rf.covariates, "covariates", strings.Join(recal.DefaultCovariates, ","), "comma-separated list of covariates, starting with ReadGroup,QualityScore")
	flags.IntVar(&rf.smoothing, "smoothing", recal.DefaultSmoothingConstant, "smoothing constant added to observations and errors")
	flags.IntVar(&rf.maxQuality, "max-quality", recal.DefaultMaxQuality, "cap for empirical qualities")
	flags.StringVar(&rf.defaultPlatform, "default-platform", "", "platform for reads whose read group has none")
	flags.StringVar(&rf.forcePlatform, "force-platform", "", "platform for all reads")
	flags.StringVar(&rf.defaultReadGroup, "default-read-group", "", "read group for reads without one")
	flags.StringVar(&rf.forceReadGroup, "force-read-group", "", "read group for all reads")
	flags.StringVar(&rf.solidRecalMode, "solid-recal-mode", recal.DoNothing.String(), "treatment of SOLiD color-space inconsistencies")
	flags.IntVar(&rf.homopolymerLookback, "homopolymer-lookback", recal.DefaultHomopolymerLookback, "number of bases the Homopolymer covariate looks back")
	flags.IntVar(&rf.nqsWindow, "nqs-window", recal.DefaultWindowHalfWidth, "half-width of the MinimumNQS window")
	flags.BoolVar(&rf.useOriginalQuals, "use-original-quals", false, "use OQ qualities where present")
}

func splitList(s string) []string {
	var result []string
	for _, entry := range strings.Split(s, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			result = append(result, entry)
		}
	}
	return result
}

func (rf *recalFlags) config() (*recal.Config, error) {
	cfg := recal.DefaultConfig()
	cfg.Covariates = splitList(rf.covariates)
	cfg.SmoothingConstant = rf.smoothing
	cfg.MaxQuality = rf.maxQuality
	cfg.DefaultPlatform = rf.defaultPlatform
	cfg.ForcePlatform = rf.forcePlatform
	cfg.DefaultReadGroup = rf.defaultReadGroup
	cfg.ForceReadGroup = rf.forceReadGroup
	mode, err := recal.ParseSolidRecalMode(rf.solidRecalMode)
	if err != nil {
		return nil, err
	}
	cfg.SolidRecalMode = mode
	cfg.HomopolymerLookback = rf.homopolymerLookback
	cfg.WindowHalfWidth = rf.nqsWindow
	cfg.UseOriginalQuals = rf.useOriginalQuals
	return cfg, nil
}
