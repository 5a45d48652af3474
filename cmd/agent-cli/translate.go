package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nbenliogludev/go-page-pilot/internal/backend"
	"github.com/nbenliogludev/go-page-pilot/internal/dom"
	"github.com/nbenliogludev/go-page-pilot/internal/translate"
)

type textTranslator interface {
	Translate(ctx context.Context, texts []string, target string) ([]string, error)
}

func newTranslateCmd(a *app) *cobra.Command {
	var (
		lang   string
		direct bool
	)
	cmd := &cobra.Command{
		Use:   "translate <url>",
		Short: "Translate a page's visible text and print it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := a.logger()
			if lang == "" {
				lang = a.cfg.Translation.DefaultLanguage
			}

			var tr textTranslator
			if direct {
				t, err := translate.NewFromConfig(a.cfg.Translation, logger)
				if err != nil {
					return err
				}
				tr = t
			} else {
				tr = backend.NewClient(a.cfg.Agent.BackendURL, a.cfg.Agent.BackendTimeout, logger)
			}

			doc, err := dom.Open(ctx, dom.NewHTTPLoader(a.cfg.Browser.NavTimeout), args[0], dom.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			text, err := translateDocument(ctx, doc, tr, lang)
			if err != nil {
				return err
			}
			logger.Info("page translated", zap.String("url", doc.URL()), zap.String("language", lang))
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "target language code (default translation.default_language)")
	cmd.Flags().BoolVar(&direct, "direct", false, "call the translation provider directly instead of the backend proxy")
	return cmd
}

// translateDocument runs one overlay session on doc and returns the
// resulting body text.
func translateDocument(ctx context.Context, doc *dom.Document, tr textTranslator, lang string) (string, error) {
	texts, err := doc.TextNodes(ctx)
	if err != nil {
		return "", err
	}
	if len(texts) == 0 {
		return doc.BodyText(), nil
	}
	translated, err := tr.Translate(ctx, texts, lang)
	if err != nil {
		return "", fmt.Errorf("translate %d texts: %w", len(texts), err)
	}
	if err := doc.InjectTranslations(ctx, translated); err != nil {
		return "", err
	}
	return doc.BodyText(), nil
}
