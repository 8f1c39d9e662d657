// Command cvautomationd runs the automation server, grounded on the
// cobra-root-command idiom of the teranos-QNTX pack entry.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cvautomation"
	"cvautomation/pkg/config"
	"cvautomation/pkg/plugin"
	"cvautomation/plugins"
)

var envPath string

var rootCmd = &cobra.Command{
	Use:   "cvautomationd",
	Short: "cvautomationd runs the automation server",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the automation server and block until shutdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cvautomation.Run(envPath)
	},
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Parse the environment file and report any configuration errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		envYAML, err := os.ReadFile(envPath)
		if err != nil {
			return fmt.Errorf("read env file: %w", err)
		}
		env, err := config.NewEnv(envPath, envYAML)
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		fmt.Printf("configuration OK\n  port: %s\n  pluginDir: %s\n  sourceConfigDir: %s\n  threadConfigDir: %s\n",
			env.Port, env.PluginDir, env.SourceConfigDir, env.ThreadConfigDir)
		return nil
	},
}

var listPluginsCmd = &cobra.Command{
	Use:   "list-plugins",
	Short: "List every builtin plug-in descriptor and its type",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := plugin.NewRegistry()
		if err := plugins.RegisterAll(reg); err != nil {
			return err
		}
		for _, mask := range []plugin.Type{
			plugin.TypeImageProcessingFilter, plugin.TypeImageProcessingFilter2,
			plugin.TypeImageProcessing, plugin.TypeVideoProcessing,
			plugin.TypeImageImporter, plugin.TypeImageExporter,
			plugin.TypeVideoSource, plugin.TypeScriptingEngine, plugin.TypeDetection,
		} {
			for _, d := range reg.PluginsOfType(mask) {
				fmt.Printf("%-24s %-10s %s\n", d.ShortName, mask.String(), d.GUID)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envPath, "env", "/etc/cvautomationd/env.yaml", "path to the environment YAML file")
	rootCmd.AddCommand(runCmd, validateConfigCmd, listPluginsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
