package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/nfrund/modhost/internal/dynlib"
	"github.com/nfrund/modhost/internal/modloader"
	"github.com/spf13/cobra"
)

var inspectJSON bool

// platform is swapped out by tests.
var platform = dynlib.Native

var inspectCmd = &cobra.Command{
	Use:   "inspect <path>...",
	Short: "Print the metadata exported by module binaries",
	Long: `Loads each module binary, reads its script module name, revision hash
and build directive, and unloads it again. AddScripts is never called.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var infos []modloader.Info
		for _, path := range args {
			info, err := modloader.Inspect(platform(), dynlib.NativeNaming(), path)
			if err != nil {
				return err
			}
			infos = append(infos, info)
		}

		out := cmd.OutOrStdout()
		if inspectJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(infos)
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PATH\tCONTEXT\tSCRIPT MODULE\tREVISION\tBUILD")
		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				info.Path, info.Context, info.ScriptModule, info.RevisionHash, info.BuildDirective)
		}
		return w.Flush()
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(inspectCmd)
}
