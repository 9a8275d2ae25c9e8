// Command streamcache reads its input once and replays it to any number of
// outputs through a streamcache.Reader.
//
// Usage:
//
//	streamcache [-config file] [-out target]... [input]
//
// The input defaults to stdin. Each -out target receives a full copy; "-" is
// stdout. The digest and size of the input are reported on stderr.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"

	"github.com/gophersatwork/streamcache"
)

// cliOptions holds the parsed command line, so tests can build it directly.
type cliOptions struct {
	configPath  string
	input       string
	outputs     []string
	spillDir    string
	logLevel    string
	logFile     string
	dumpMetrics bool
}

var (
	stdIn  io.Reader = os.Stdin
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// stringList collects a repeatable flag.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// parseCLIFlags parses args; the config path falls back to STREAMCACHE_CONFIG.
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("streamcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		opts    cliOptions
		outputs stringList
	)

	fs.StringVar(&opts.configPath, "config", "", "config file (default: STREAMCACHE_CONFIG, then environment only)")
	fs.Var(&outputs, "out", "output target, repeatable; - is stdout")
	fs.StringVar(&opts.spillDir, "spill-dir", "", "directory for spill files (overrides cache_directory)")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level (overrides log_level)")
	fs.StringVar(&opts.logFile, "log-file", "", "write logs to this file with rotation instead of stderr")
	fs.BoolVar(&opts.dumpMetrics, "metrics", false, "print Prometheus metrics to stderr on exit")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("failed to parse flags: %w", err)
	}
	if fs.NArg() > 1 {
		return cliOptions{}, errors.New("at most one input may be given")
	}

	opts.input = fs.Arg(0)
	opts.outputs = outputs
	if opts.configPath == "" {
		opts.configPath = os.Getenv("STREAMCACHE_CONFIG")
	}
	return opts, nil
}

// run executes the command and returns the exit code.
func run(opts cliOptions) int {
	cfg, err := streamcache.LoadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "failed to load config: %v\n", err)
		return 1
	}
	if opts.spillDir != "" {
		cfg.CacheDirectory = opts.spillDir
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	logger, err := newLogger(cfg.LogLevel, opts.logFile)
	if err != nil {
		fmt.Fprintf(stdErr, "failed to init logger: %v\n", err)
		return 1
	}

	options := []streamcache.Option{
		streamcache.WithConfig(cfg),
		streamcache.WithLogger(logger),
		streamcache.WithName("cli"),
	}
	var registry *prometheus.Registry
	if opts.dumpMetrics {
		registry = prometheus.NewRegistry()
		options = append(options, streamcache.WithMetrics(registry))
	}

	cache, err := streamcache.Open(cfg.CacheDirectory, options...)
	if err != nil {
		fmt.Fprintf(stdErr, "failed to open cache: %v\n", err)
		return 1
	}

	err = cache.WithReader(source(opts.input), func(r *streamcache.Reader) error {
		return replay(r, opts.outputs, logger)
	})
	if err != nil {
		fmt.Fprintf(stdErr, "replay failed: %v\n", err)
		return 1
	}

	if registry != nil {
		if err := dumpMetrics(registry, stdErr); err != nil {
			fmt.Fprintf(stdErr, "failed to write metrics: %v\n", err)
			return 1
		}
	}
	return 0
}

func source(input string) streamcache.Source {
	if input == "" || input == "-" {
		return streamcache.FromStream(stdIn)
	}
	return streamcache.FromPath(input)
}

// replay sends the whole content of r to every output, rewinding in between.
// The first output drives the first pass over the source.
func replay(r *streamcache.Reader, outputs []string, logger logrus.FieldLogger) error {
	if len(outputs) == 0 {
		outputs = []string{""}
	}

	for i, out := range outputs {
		if i > 0 {
			if err := r.Rewind(); err != nil {
				return err
			}
		}
		n, err := copyTo(r, out)
		if err != nil {
			return fmt.Errorf("output %q: %w", out, err)
		}
		logger.WithFields(logrus.Fields{
			"output": out,
			"bytes":  n,
			"mode":   r.Mode().String(),
		}).Debug("replayed stream")
	}

	sum, err := r.Digest()
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"bytes":   r.Size(),
		"mode":    r.Mode().String(),
		"outputs": len(outputs),
	}).Info("stream cached")
	fmt.Fprintf(stdErr, "%s  %d bytes (%s)\n", sum, r.Size(), r.Mode())
	return nil
}

// copyTo writes r to target: "" discards, "-" is stdout, anything else a file.
func copyTo(r io.Reader, target string) (int64, error) {
	switch target {
	case "":
		return io.Copy(io.Discard, r)
	case "-":
		return io.Copy(stdOut, r)
	}

	f, err := os.Create(target)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cErr := f.Close(); err == nil {
		err = cErr
	}
	return n, err
}

func dumpMetrics(registry *prometheus.Registry, w io.Writer) error {
	families, err := registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
