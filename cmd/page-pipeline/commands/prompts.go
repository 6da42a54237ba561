package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spherical/page-pipeline/cmd/page-pipeline/ui"
	"github.com/spherical/page-pipeline/internal/domain"
	"github.com/spherical/page-pipeline/internal/prompt"
)

var (
	promptOCRFile       string
	promptTranslateFile string
	promptOperator      string
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Show or replace the OCR and translate prompts",
}

var promptsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active prompts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		ps, err := a.prompts.Prompts(ctx)
		if err != nil {
			return err
		}
		ui.Section("OCR prompt")
		fmt.Println(ps.OCRPrompt)
		ui.Section("Translate prompt")
		fmt.Println(ps.TranslatePrompt)
		if ps.Operator != "" {
			ui.KeyValue("Updated by", ps.Operator)
		}
		return nil
	},
}

var promptsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store a new prompt revision",
	Long:  "Store a new prompt revision. A prompt that is not given keeps its current text.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if promptOCRFile == "" && promptTranslateFile == "" {
			return fmt.Errorf("at least one of --ocr-file or --translate-file is required")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		current, err := a.prompts.Prompts(ctx)
		if err != nil {
			return err
		}
		next := domain.PromptSet{
			OCRPrompt:       current.OCRPrompt,
			TranslatePrompt: current.TranslatePrompt,
			Operator:        promptOperator,
		}
		if promptOCRFile != "" {
			if next.OCRPrompt, err = readPromptFile(promptOCRFile); err != nil {
				return err
			}
		}
		if promptTranslateFile != "" {
			if next.TranslatePrompt, err = readPromptFile(promptTranslateFile); err != nil {
				return err
			}
		}

		if _, err := a.prompts.Save(ctx, next); err != nil {
			return err
		}
		ui.Success("Prompts updated")
		return nil
	},
}

var promptsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Store the built-in prompts as a new revision",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		defaults := prompt.Defaults()
		defaults.Operator = promptOperator
		if _, err := a.prompts.Save(ctx, defaults); err != nil {
			return err
		}
		ui.Success("Prompts reset to defaults")
		return nil
	},
}

func readPromptFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	return string(data), nil
}

func init() {
	operator := os.Getenv("USER")
	promptsSetCmd.Flags().StringVar(&promptOCRFile, "ocr-file", "", "file holding the OCR system prompt")
	promptsSetCmd.Flags().StringVar(&promptTranslateFile, "translate-file", "", "file holding the translate system prompt")
	for _, c := range []*cobra.Command{promptsSetCmd, promptsResetCmd} {
		c.Flags().StringVar(&promptOperator, "operator", operator, "name recorded with the revision")
	}

	promptsCmd.AddCommand(promptsShowCmd, promptsSetCmd, promptsResetCmd)
	rootCmd.AddCommand(promptsCmd)
}
