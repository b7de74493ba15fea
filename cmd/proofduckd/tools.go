package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"proofduck/internal/pagetext"
	"proofduck/internal/prompt"
	"proofduck/pkg/types"
)

func newPromptCmd(a *app) *cobra.Command {
	var mode, kind, model, tone, detail, lang string
	cmd := &cobra.Command{
		Use:     "prompt [text]",
		Short:   "Print the system prompt and framed input a request would send",
		Example: "  proofduckd prompt --mode translate --lang English \"Bonjour\"",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.BackendConfig()
			if cmd.Flags().Changed("backend") {
				cfg.Kind = types.BackendKind(kind)
			}
			if cmd.Flags().Changed("model") {
				cfg.ModelID = model
			}
			if cmd.Flags().Changed("tone") {
				cfg.Tone = types.Tone(tone)
			}
			if cmd.Flags().Changed("detail") {
				cfg.Detail = types.Detail(detail)
			}
			if cmd.Flags().Changed("lang") {
				cfg.TargetLanguage = lang
			}
			p := prompt.Build(types.Mode(mode), cfg)
			fmt.Fprintf(a.stdout, "# system (tiny=%t)\n%s\n", p.Tiny, p.System)
			if len(args) == 1 {
				fmt.Fprintf(a.stdout, "\n# user\n%s\n", prompt.WrapUserInput(args[0]))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&mode, "mode", string(types.ModeProofread), "summarize|correct|proofread|translate|expand")
	f.StringVar(&kind, "backend", "", "Backend kind (default: from config)")
	f.StringVar(&model, "model", "", "Model id (default: from config)")
	f.StringVar(&tone, "tone", "", "professional|casual|academic|concise")
	f.StringVar(&detail, "detail", "", "standard|detailed|creative")
	f.StringVar(&lang, "lang", "", "Target language name or BCP 47 tag")
	return cmd
}

func newExtractCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "extract [file.html]",
		Short: "Print the readable text of an HTML page (stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			page, err := pagetext.Extract(r)
			if err != nil {
				return err
			}
			if t := strings.TrimSpace(page.Title); t != "" {
				fmt.Fprintf(a.stdout, "# %s\n\n", t)
			}
			fmt.Fprintln(a.stdout, page.Text)
			return nil
		},
	}
}
