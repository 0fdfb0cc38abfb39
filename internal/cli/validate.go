package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/timmy/safetrip/internal/catalog"
)

var validateCmd = &cobra.Command{
	Use:   "validate <country>",
	Short: "Check a country name against the supported list",
	Long: `Validate resolves a country name the same way the API does, including
aliases such as "USA", and suggests the closest match for a misspelling.

Examples:
  refresh validate france
  refresh validate "Frnace"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	name := strings.Join(args, " ")
	res := catalog.New().Validate(name)
	if res.IsValid {
		fmt.Fprintf(out(cmd), "%q is supported as %q\n", name, res.NormalizedName)
		return nil
	}
	if res.Suggestion != "" {
		return fmt.Errorf("%q is not a supported country, did you mean %q?", name, res.Suggestion)
	}
	return fmt.Errorf("%q is not a supported country", name)
}
