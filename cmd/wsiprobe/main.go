// wsiprobe opens a whole-slide image and prints its level table,
// properties, and (optionally) associated image inventory: a thin CLI
// wrapper over the wsi package for sanity-checking a format or vendor
// decode without writing a test.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/cocosip/go-wsi/wsi"
)

// fileConfig is the optional --config YAML shape: a verbose switch
// that, like --verbose, sets the level of the logger passed in
// wsi.Options, for batch-probing many slides with shared settings
// instead of repeating flags per invocation.
type fileConfig struct {
	Verbose bool `yaml:"verbose"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath string
	var verbose bool
	var showAssociated bool

	flagSet := pflag.NewFlagSet("wsiprobe", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "YAML file providing shared slide-open tuning")
	flagSet.BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	flagSet.BoolVar(&showAssociated, "associated", false, "list associated images and their dimensions")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	if configPath != "" {
		cfg, err := loadFileConfig(configPath)
		if err != nil {
			return err
		}
		verbose = verbose || cfg.Verbose
	}

	paths := flagSet.Args()
	if len(paths) != 1 {
		printHelp(flagSet)
		return fmt.Errorf("exactly one slide path required, got %d", len(paths))
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	slide, err := wsi.Open(paths[0], wsi.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("opening %s: %w", paths[0], err)
	}
	defer slide.Close()

	printLevels(slide)
	printProperties(slide)
	if showAssociated {
		printAssociated(slide)
	}

	return slide.GetError()
}

func loadFileConfig(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func printLevels(slide *wsi.Slide) {
	fmt.Printf("levels: %d\n", slide.Levels())
	for i := 0; i < slide.Levels(); i++ {
		dims, err := slide.LevelDimensions(i)
		if err != nil {
			fmt.Printf("  [%d] error: %v\n", i, err)
			continue
		}
		downsample, _ := slide.LevelDownsample(i)
		fmt.Printf("  [%d] %dx%d downsample=%g\n", i, dims.Width, dims.Height, downsample)
	}
}

func printProperties(slide *wsi.Slide) {
	props := slide.Properties()
	fmt.Println("properties:")
	for _, key := range props.Keys() {
		value, _ := props.Get(key)
		fmt.Printf("  %s = %s\n", key, value)
	}
}

func printAssociated(slide *wsi.Slide) {
	assoc := slide.AssociatedImages()
	names := make([]string, 0, len(assoc))
	for name := range assoc {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("associated images:")
	for _, name := range names {
		dims := assoc[name]
		fmt.Printf("  %s: %dx%d\n", name, dims.Width, dims.Height)
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "usage: wsiprobe [flags] PATH\n\nflags:\n")
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
