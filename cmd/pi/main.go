// Command pi is a small CLI over the streaming core: list the model
// catalog, inspect providers, and run one-shot chats against any
// registered model.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vamsi/pi/pkg/ai"
	"github.com/vamsi/pi/pkg/ai/providers"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ai.RegisterBuiltinModels()
	providers.RegisterBuiltinProviders()

	root := &cobra.Command{
		Use:           "pi",
		Short:         "Provider-agnostic LLM streaming and agent toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(modelsCmd(), providersCmd(), chatCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models [provider]",
		Short: "List registered models",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			providerNames := ai.GetProviders()
			if len(args) == 1 {
				providerNames = []string{args[0]}
			}
			for _, provider := range providerNames {
				models := ai.GetModels(provider)
				if len(models) == 0 {
					continue
				}
				fmt.Printf("%s:\n", provider)
				for _, m := range models {
					reasoning := ""
					if m.Reasoning {
						reasoning = " [reasoning]"
					}
					fmt.Printf("  %-50s %s%s\n", m.ID, m.Name, reasoning)
				}
			}
			return nil
		},
	}
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List registered API providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range ai.GetAPIProviders() {
				fmt.Println(p.API)
			}
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	var modelRef string
	var reasoning string
	var system string
	var catalog string

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Stream a one-shot completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if catalog != "" {
				if err := ai.LoadCatalog(catalog); err != nil {
					return err
				}
			}
			provider, id, ok := strings.Cut(modelRef, "/")
			if !ok {
				return fmt.Errorf("model must be provider/id, got %q", modelRef)
			}
			model := ai.GetModel(provider, id)
			if model == nil {
				return fmt.Errorf("unknown model %s/%s", provider, id)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			llmCtx := &ai.Context{
				SystemPrompt: system,
				Messages:     []ai.Message{ai.NewUserMessage(args[0], 0)},
			}
			opts := &ai.SimpleStreamOptions{Reasoning: ai.ThinkingLevel(reasoning)}

			stream, err := ai.StreamSimple(ctx, model, llmCtx, opts)
			if err != nil {
				return err
			}
			for event := range stream.Events() {
				switch ev := event.(type) {
				case *ai.TextDeltaEvent:
					fmt.Print(ev.Delta)
				case *ai.ThinkingStartEvent:
					fmt.Fprint(os.Stderr, "[thinking] ")
				}
			}
			message, err := stream.Result(ctx)
			if err != nil {
				return err
			}
			fmt.Println()
			fmt.Fprintf(os.Stderr, "\n[%s] tokens in=%d out=%d cost=$%.4f\n",
				message.StopReason, message.Usage.Input, message.Usage.Output, message.Usage.Cost.Total)
			return nil
		},
	}
	cmd.Flags().StringVarP(&modelRef, "model", "m", "anthropic/claude-sonnet-4-5", "model as provider/id")
	cmd.Flags().StringVarP(&reasoning, "reasoning", "r", "", "reasoning level (off|minimal|low|medium|high|xhigh)")
	cmd.Flags().StringVarP(&system, "system", "s", "", "system prompt")
	cmd.Flags().StringVar(&catalog, "catalog", "", "YAML model catalog overlay to load")
	return cmd
}
