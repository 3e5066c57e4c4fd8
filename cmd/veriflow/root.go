package main

import (
	"github.com/spf13/cobra"
	"github.com/sweetpotato0/veriflow/config"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath    string
	maxIterations int
	topK          int
	kbDir         string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "veriflow",
		Short: "Answer questions with retrieved evidence and a grounding check",
		Long: `VeriFlow retrieves evidence for a question, drafts an answer from it,
asks a critic whether every claim is supported, and rewrites the search
query until the answer is grounded or the iteration bound is reached.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flags.IntVar(&opts.maxIterations, "max-iterations", 0, "maximum retrieve/generate/critique passes per question")
	flags.IntVar(&opts.topK, "top-k", 0, "evidence items retrieved per pass")
	flags.StringVar(&opts.kbDir, "kb", "", "answer from a local knowledge directory instead of web search")

	cmd.AddCommand(
		newAskCmd(opts),
		newChatCmd(opts),
		newBatchCmd(opts),
		newServeCmd(opts),
		newMCPCmd(opts),
		newRunsCmd(opts),
	)
	return cmd
}

// load reads the config file and environment, applies command-line overrides,
// then validates the result.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := o.read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// read is load without validation, for commands that never call a model.
func (o *rootOptions) read() (*config.Config, error) {
	cfg, err := config.Read(o.configPath)
	if err != nil {
		return nil, err
	}
	o.apply(cfg)
	return cfg, nil
}

func (o *rootOptions) apply(cfg *config.Config) {
	if o.maxIterations > 0 {
		cfg.Loop.MaxIterations = o.maxIterations
	}
	if o.topK > 0 {
		cfg.Loop.TopK = o.topK
	}
	if o.kbDir != "" {
		cfg.Search.Backend = config.SearchKnowledge
		cfg.Search.KnowledgeDir = o.kbDir
	}
}
