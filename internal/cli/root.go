// Package cli provides the command-line interface for topicpulse.
package cli

import (
	"github.com/spf13/cobra"

	"TopicPulse/internal/config"
)

// Version is set at build time.
var Version = "0.1.0"

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCommand assembles the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "topicpulse",
		Short: "News sentiment analysis across entities",
		Long: `TopicPulse turns an analyst request such as
"Analyze sentiment on energy policy across France and Germany" into a job
that searches news per entity, scores every source and aggregates the result.

Progress is streamed as sequenced envelopes over a websocket or, for the
analyze command, as JSON lines on stdout.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newAnalyzeCommand(opts))
	root.AddCommand(newVersionCommand())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.LoadFrom(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("topicpulse " + Version)
		},
	}
}
