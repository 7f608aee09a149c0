package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/challenwang408408/challenwang-braiwave/internal/enhance"
)

func init() {
	rootCmd.AddCommand(enhanceCmd)
}

var enhanceCmd = &cobra.Command{
	Use:       "enhance <readability|correctness|ask> [text]",
	Short:     "Send text to an enhancement endpoint",
	Long:      "Send text to an enhancement endpoint. Without a text argument the text is read from standard input.",
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"readability", "correctness", "ask"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		text := ""
		if len(args) == 2 {
			text = args[1]
		} else {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			text = string(data)
		}

		client := enhance.New(cfg.Server.HTTPURL, 0)
		return runEnhance(cmd, client, args[0], text)
	},
}

func runEnhance(cmd *cobra.Command, client *enhance.Client, kind, text string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	var err error
	switch strings.ToLower(kind) {
	case "readability":
		_, err = client.Readability(ctx, text, out)
	case "correctness":
		_, err = client.Correctness(ctx, text, out)
	case "ask":
		var answer string
		answer, err = client.AskAI(ctx, text)
		if err == nil {
			_, err = io.WriteString(out, answer)
		}
	default:
		return fmt.Errorf("unknown enhancement %q", kind)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	return nil
}
