package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newSignaturesCmd creates the signatures command
func newSignaturesCmd() *cobra.Command {
	var (
		file  string
		label string
	)

	cmd := &cobra.Command{
		Use:   "signatures",
		Short: "List the stack classifier signatures",
		Long: `List every signature the classifier checks, in match order.

Built-in signatures come first, followed by any loaded from
classifier.signatures or --file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(nil)
			if err != nil {
				return err
			}
			cfg := loaded.Config
			if file != "" {
				cfg.Classifier.Signatures = file
			}
			c, err := newClassifier(cfg)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			sigs := c.Signatures()
			if jsonOut {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(sigs)
			}
			for _, s := range sigs {
				if label != "" && s.Label != label {
					continue
				}
				_, _ = fmt.Fprintf(w, "%-10s %-9s %s\n", labelFor(w).Render(s.Label), s.Kind, s.Pattern)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "YAML file with extra signatures")
	cmd.Flags().StringVar(&label, "label", "", "only show signatures for this label")

	return cmd
}
