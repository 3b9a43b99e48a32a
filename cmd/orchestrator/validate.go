package main

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sobrief/orchestrator/pkg/config"
)

// ValidateCmd validates a configuration file, grounded on the teacher's
// cmd/hector validate command: load, apply defaults, print a result in one
// of three formats.
type ValidateCmd struct {
	Config string `arg:"" name:"config" help:"Configuration file path." type:"path"`
	Format string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`

	PrintConfig bool `short:"p" name:"print-config" help:"Print the expanded configuration (defaults applied)."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return c.printLoadError(err)
	}

	if c.PrintConfig {
		return c.printExpandedConfig(cfg)
	}

	c.printSuccess()
	return nil
}

func (c *ValidateCmd) printLoadError(err error) error {
	switch c.Format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"valid": false, "file": c.Config, "error": err.Error()})
	case "verbose":
		fmt.Fprintf(os.Stderr, "Configuration Load Error\n========================\n\nFile:  %s\nError: %s\n", c.Config, err)
	default:
		fmt.Fprintf(os.Stderr, "%s: load error: %s\n", c.Config, err)
	}
	return fmt.Errorf("config load failed")
}

func (c *ValidateCmd) printSuccess() {
	switch c.Format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"valid": true, "file": c.Config})
	case "verbose":
		fmt.Printf("Configuration Validation Successful\n====================================\n\nFile:   %s\nStatus: OK Valid\n", c.Config)
	default:
		fmt.Printf("%s: valid\n", c.Config)
	}
}

func (c *ValidateCmd) printExpandedConfig(cfg *config.Config) error {
	switch c.Format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	default:
		fmt.Printf("# Expanded configuration from: %s\n\n", c.Config)
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	}
}
