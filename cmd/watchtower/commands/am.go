package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/watchtower/am"
	"github.com/teranos/watchtower/errors"
	"github.com/teranos/watchtower/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Show and validate configuration",
	Long: sym.AM + ` am - Watchtower configuration ("I am")

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/watchtower/am.toml)
3. User config (~/.watchtower/am.toml)
4. Project config (./am.toml, searched up from the working directory)
5. Environment variables (WATCHTOWER_* prefix)

Examples:
  watchtower am show                  # TOML
  watchtower am show --format yaml
  watchtower am get pulse.workers
  watchtower am validate`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the merged configuration (secrets redacted)",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get one configuration value by dotted key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the merged configuration",
	RunE:  runAmValidate,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	AmCmd.AddCommand(amShowCmd, amGetCmd, amValidateCmd)
}

// redacted returns a copy of cfg that is safe to print
func redacted(cfg *am.Config) am.Config {
	out := *cfg
	if out.Pipeline.APIKey != "" {
		out.Pipeline.APIKey = "********"
	}
	if out.Database.DSN != "" {
		out.Database.DSN = "********"
	}
	return out
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	safe := redacted(cfg)

	var data []byte
	switch configFormat {
	case "json":
		data, err = json.MarshalIndent(safe, "", "  ")
		if err == nil {
			data = append(data, '\n')
		}
	case "yaml":
		data, err = yaml.Marshal(safe)
	case "toml":
		data, err = toml.Marshal(safe)
	default:
		return errors.Newf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to marshal config to %s", configFormat)
	}

	if configFormat != "json" {
		fmt.Println("# watchtower configuration")
	}
	fmt.Print(string(data))
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if !am.GetViper().IsSet(key) {
		return errors.Newf("configuration key %q not found", key)
	}
	fmt.Println(am.Get(key))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	fmt.Printf("%s Configuration is valid\n", sym.AM)
	fmt.Println(cfg.String())
	return nil
}
