package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/untoldecay/waggle/internal/config"
	"github.com/untoldecay/waggle/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Inspect and edit waggle configuration",
	Long: `Read and write config values.

Values resolve in precedence order: WAGGLE_* environment variables,
then the loaded config.yaml, then built-in defaults. Keys use dotted
paths, e.g. reservation.default_ttl_seconds.

Examples:
  wag config list
  wag config get memory.top_k
  wag config set reservation.default_ttl_seconds 7200
  wag config init`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show one value and where it came from",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := args[0]
		value, ok := lookupSetting(key)
		if !ok {
			FatalErrorRespectJSON("unknown config key %q", key)
		}
		source := config.GetValueSource(key)
		if jsonOutput {
			outputJSON(map[string]interface{}{
				"key":    key,
				"value":  value,
				"source": source,
			})
			return
		}
		fmt.Printf("%v %s\n", value, ui.RenderMuted("("+string(source)+")"))
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a value to the config file",
	Long: `Write a value into config.yaml, creating the file when none is loaded
yet. Values parse as bool, int or float when they look like one, and
stay strings otherwise.

Examples:
  wag config set memory.top_k 20
  wag config set inference.host http://gpu-box:11434`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, raw := args[0], args[1]
		path := config.ConfigFileUsed()
		if path == "" {
			cwd, err := os.Getwd()
			if err != nil {
				FatalErrorRespectJSON("resolving working directory: %v", err)
			}
			path = filepath.Join(cwd, ".waggle", "config.yaml")
		}

		settings := map[string]interface{}{}
		if data, err := os.ReadFile(path); err == nil { // #nosec G304 -- operator's own config
			if err := yaml.Unmarshal(data, &settings); err != nil {
				FatalErrorRespectJSON("parsing %s: %v", path, err)
			}
		} else if !os.IsNotExist(err) {
			FatalErrorRespectJSON("reading %s: %v", path, err)
		}

		value := parseConfigValue(raw)
		setNestedSetting(settings, key, value)

		out, err := yaml.Marshal(settings)
		if err != nil {
			FatalErrorRespectJSON("encoding config: %v", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			FatalErrorRespectJSON("creating config dir: %v", err)
		}
		if err := os.WriteFile(path, out, 0o644); err != nil { // #nosec G306 -- config is not a secret
			FatalErrorRespectJSON("writing %s: %v", path, err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"key": key, "value": value, "path": path})
			return
		}
		fmt.Printf("%s %s = %v %s\n", ui.RenderPass("✓"), key, value, ui.RenderMuted("("+path+")"))
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			outputJSON(config.AllSettings())
			return
		}
		dump, err := config.Dump()
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		fmt.Print(dump)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show which config file is loaded",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		path := config.ConfigFileUsed()
		if jsonOutput {
			outputJSON(map[string]string{"path": path})
			return
		}
		if path == "" {
			fmt.Println("No config file loaded; using defaults and WAGGLE_* environment variables.")
			return
		}
		fmt.Println(path)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented config.yaml scaffold",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		global, _ := cmd.Flags().GetBool("global")
		var dir string
		if global {
			configDir, err := os.UserConfigDir()
			if err != nil {
				FatalErrorRespectJSON("resolving user config dir: %v", err)
			}
			dir = filepath.Join(configDir, "waggle")
		} else {
			cwd, err := os.Getwd()
			if err != nil {
				FatalErrorRespectJSON("resolving working directory: %v", err)
			}
			dir = filepath.Join(cwd, ".waggle")
		}

		path, created, err := config.WriteScaffold(dir)
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"path": path, "created": created})
			return
		}
		if created {
			fmt.Printf("%s wrote %s\n", ui.RenderPass("✓"), path)
		} else {
			fmt.Printf("Config already exists at %s\n", path)
		}
	},
}

// lookupSetting resolves a dotted key against the effective settings.
func lookupSetting(key string) (interface{}, bool) {
	var cur interface{} = config.AllSettings()
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setNestedSetting(settings map[string]interface{}, key string, value interface{}) {
	parts := strings.Split(key, ".")
	for _, part := range parts[:len(parts)-1] {
		child, ok := settings[part].(map[string]interface{})
		if !ok {
			child = map[string]interface{}{}
			settings[part] = child
		}
		settings = child
	}
	settings[parts[len(parts)-1]] = value
}

// parseConfigValue keeps yaml types sensible: true/false become bools,
// digit strings become numbers, everything else stays a string.
func parseConfigValue(raw string) interface{} {
	if raw == "true" || raw == "false" {
		return raw == "true"
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func init() {
	configInitCmd.Flags().Bool("global", false, "Write to the user config dir instead of the project")

	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
