package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"termagent/internal/adapter/llm"
	"termagent/internal/adapter/toolcall"
)

func newModelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "models",
		Usage: "list the models the Ollama provider has pulled",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := slog.New(slog.DiscardHandler)
			registry, err := llm.BuildRegistry(cfg.LLM, toolcall.New(log), log)
			if err != nil {
				return fmt.Errorf("llm: %w", err)
			}
			backend, err := registry.Get(cfg.LLM.DefaultProvider)
			if err != nil {
				return fmt.Errorf("llm: %w", err)
			}
			ollama, ok := llm.AsOllama(backend)
			if !ok {
				return cli.Exit(fmt.Sprintf("provider %q is not an ollama provider", cfg.LLM.DefaultProvider), 1)
			}
			models, err := ollama.ListModels(ctx)
			if err != nil {
				return err
			}
			return printModels(os.Stdout, models, ollama.Model())
		},
	}
}

// printModels writes models as a table, newest first, marking current.
func printModels(out io.Writer, models []llm.OllamaModel, current string) error {
	if len(models) == 0 {
		_, err := fmt.Fprintln(out, "No models pulled. Try: ollama pull "+current)
		return err
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ModifiedAt.After(models[j].ModifiedAt) })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tNAME\tSIZE\tMODIFIED")
	for _, m := range models {
		mark := " "
		if m.Name == current {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, m.Name, humanize.Bytes(uint64(max(m.Size, 0))), humanize.Time(m.ModifiedAt))
	}
	return w.Flush()
}
