package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"termagent/internal/infra/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "termagent: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "termagent",
		Usage: "A coding agent for your terminal, backed by Ollama or any OpenAI-compatible server",
		Description: "Without -p, opens the interactive chat. Configuration is read from " +
			config.DefaultPath() + " unless --config is given; TERMAGENT_* environment variables override it.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file path", Sources: cli.EnvVars("TERMAGENT_CONFIG")},
			&cli.StringFlag{Name: "provider", Usage: "provider name from llm.providers"},
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "model to use with the selected provider"},
			&cli.StringFlag{Name: "approval-mode", Usage: "default, auto_edit or yolo"},
			&cli.StringFlag{Name: "prompt", Aliases: []string{"p"}, Usage: "run one prompt non-interactively and print the answer"},
		},
		Commands: []*cli.Command{
			newModelsCommand(),
			newDoctorCommand(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if prompt := cmd.String("prompt"); prompt != "" {
				return runPrompt(ctx, cfg, prompt)
			}
			return runInteractive(ctx, cfg)
		},
	}
}

// flagOverrides are the command-line settings applied over the config file.
type flagOverrides struct {
	Provider     string
	Model        string
	ApprovalMode string
}

func overridesFrom(cmd *cli.Command) flagOverrides {
	return flagOverrides{
		Provider:     cmd.String("provider"),
		Model:        cmd.String("model"),
		ApprovalMode: cmd.String("approval-mode"),
	}
}

func configPath(cmd *cli.Command) string {
	if p := cmd.String("config"); p != "" {
		return p
	}
	return config.DefaultPath()
}

// loadConfig reads the config file, applies flag overrides and validates
// the result.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := applyOverrides(cfg, overridesFrom(cmd)); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, o flagOverrides) error {
	if o.Provider != "" {
		cfg.LLM.DefaultProvider = o.Provider
	}
	if o.Model != "" {
		for i := range cfg.LLM.Providers {
			if cfg.LLM.Providers[i].Name == cfg.LLM.DefaultProvider {
				cfg.LLM.Providers[i].Model = o.Model
			}
		}
	}
	if o.ApprovalMode != "" {
		cfg.Tools.ApprovalMode = o.ApprovalMode
	}
	return config.Validate(cfg)
}
