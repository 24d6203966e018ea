package cmd

import (
	"errors"
	"fmt"

	"github.com/nfrund/modhost/internal/dynlib"
	"github.com/nfrund/modhost/internal/modloader"
	"github.com/spf13/cobra"
)

var errInvalidNames = errors.New("some file names are not valid module names")

var checkNameCmd = &cobra.Command{
	Use:   "check-name <file>...",
	Short: "Check file names against the module naming convention",
	Long: `Reports, for each file, the module context its name carries or why the
loader would ignore it. The convention is <prefix>_<identifier>.<ext> with the
platform's library prefix and extension.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		naming := dynlib.NativeNaming()
		out := cmd.OutOrStdout()

		failed := false
		for _, path := range args {
			ctx, err := modloader.CheckName(naming, path)
			if err != nil {
				failed = true
				fmt.Fprintf(out, "%s: invalid: %v\n", path, err)
				continue
			}
			fmt.Fprintf(out, "%s: context %q\n", path, ctx)
		}
		if failed {
			return errInvalidNames
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkNameCmd)
}
