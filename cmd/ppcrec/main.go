package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"ppcrec/pkg/guestmem"
	"ppcrec/pkg/jitcache"
	"ppcrec/pkg/recompiler"

	"github.com/google/uuid"
	"tlog.app/go/tlog"
)

// Config represents the configuration loaded from the JSON file
type Config struct {
	Image           string   `json:"image"`            // guest image file
	Base            string   `json:"base"`             // load address of the image
	Entries         []string `json:"entries"`          // function entry addresses
	DumpDir         string   `json:"dump_dir"`         // directory for IML dumps
	CachePath       string   `json:"cache_path"`       // verdict cache directory
	Workers         int      `json:"workers"`          // compile workers
	Registers       int      `json:"registers"`        // host registers, 0 for the host default
	InlineFunctions *bool    `json:"inline_functions"` // inline small leaf callees
}

func parseAddress(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid guest address %q: %w", s, err)
	}
	return uint32(v), nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		tlog.Printw("ppcrec failed", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("ppcrec", flag.ContinueOnError)
	configPath := flags.String("config-path", "", "Path to a JSON configuration file")
	imagePath := flags.String("image", "", "Guest image file")
	baseFlag := flags.String("base", "0x82000000", "Load address of the image")
	entryFlag := flags.String("entry", "", "Comma separated function entry addresses")
	dumpDir := flags.String("dump-dir", "", "Directory receiving IML dumps of compiled functions")
	cachePath := flags.String("cache-path", "", "Path to the verdict cache")
	workers := flags.Int("workers", 4, "Compile workers")
	registers := flags.Int("registers", 0, "Host registers available to the allocator, 0 for the host default")

	if err := flags.Parse(args); err != nil {
		return err
	}

	var config Config
	if *configPath != "" {
		configData, err := os.ReadFile(*configPath)
		if err != nil {
			return fmt.Errorf("read config file %s: %w", *configPath, err)
		}
		if err := json.Unmarshal(configData, &config); err != nil {
			return fmt.Errorf("parse config file %s: %w", *configPath, err)
		}
	}

	// explicit flags override the file
	set := make(map[string]bool)
	flags.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["image"] || config.Image == "" {
		config.Image = *imagePath
	}
	if set["base"] || config.Base == "" {
		config.Base = *baseFlag
	}
	if set["entry"] || len(config.Entries) == 0 {
		config.Entries = nil
		for _, e := range strings.Split(*entryFlag, ",") {
			if e = strings.TrimSpace(e); e != "" {
				config.Entries = append(config.Entries, e)
			}
		}
	}
	if set["dump-dir"] || config.DumpDir == "" {
		config.DumpDir = *dumpDir
	}
	if set["cache-path"] || config.CachePath == "" {
		config.CachePath = *cachePath
	}
	if set["workers"] || config.Workers == 0 {
		config.Workers = *workers
	}
	if set["registers"] || config.Registers == 0 {
		config.Registers = *registers
	}

	if config.Image == "" {
		return fmt.Errorf("an image is required (-image or \"image\" in the config file)")
	}
	if len(config.Entries) == 0 {
		return fmt.Errorf("at least one entry address is required (-entry or \"entries\" in the config file)")
	}
	base, err := parseAddress(config.Base)
	if err != nil {
		return fmt.Errorf("bad base address: %w", err)
	}

	img, err := guestmem.MapFile(config.Image, base)
	if err != nil {
		return fmt.Errorf("map image: %w", err)
	}
	defer img.Close()

	cfg := recompiler.DefaultConfig()
	cfg.Workers = config.Workers
	if config.Registers > 0 {
		cfg.Allocator.PhysicalRegisters = config.Registers
	}
	if config.InlineFunctions != nil {
		cfg.InlineFunctions = *config.InlineFunctions
	}
	if config.CachePath != "" {
		cache, err := jitcache.Open(config.CachePath)
		if err != nil {
			return err
		}
		defer cache.Close()
		cfg.Cache = cache
	}

	rt := recompiler.NewRuntime(img, base, uint32(len(img.Data)), cfg)
	if !rt.Enabled() {
		tlog.Printw("recompiler disabled", "env", recompiler.ModeEnv, "mode", recompiler.GetExecutionMode())
		return nil
	}

	var entries []uint32
	for _, s := range config.Entries {
		addr, err := parseAddress(s)
		if err != nil {
			return fmt.Errorf("bad entry address: %w", err)
		}
		if !rt.Visit(addr) {
			tlog.Printw("entry skipped", "entry", s)
			continue
		}
		entries = append(entries, addr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	tlog.Printw("compiling", "image", config.Image, "base", base, "functions", len(entries), "workers", cfg.Workers,
		"registers", cfg.Allocator.PhysicalRegisters)
	if err := rt.ProcessQueue(ctx); err != nil {
		return fmt.Errorf("compilation interrupted: %w", err)
	}

	for _, addr := range entries {
		fn := rt.Lookup(addr)
		if fn == nil {
			tlog.Printw("function left to the interpreter", "entry", addr, "state", rt.State(addr))
			continue
		}
		s := fn.Stats
		tlog.Printw("function compiled", "entry", addr, "segments", fn.IML.NumSegments(), "ranges", s.Ranges,
			"loads", s.Loads, "stores", s.Stores, "splits", s.Splits, "explodes", s.Explodes)

		if config.DumpDir == "" {
			continue
		}
		if err := dump(config.DumpDir, fn); err != nil {
			return fmt.Errorf("dump function 0x%08x: %w", addr, err)
		}
	}

	stats := rt.Stats()
	tlog.Printw("done", "compiled", stats.FunctionsCompiled, "failed", stats.FunctionsFailed)
	return nil
}

func dump(dir string, fn *recompiler.Function) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	filename := filepath.Join(dir, fmt.Sprintf("func_%08x_%s.iml", fn.Entry, uuid.New().String()))
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := fn.IML.Dump(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
