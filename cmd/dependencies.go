package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vanbrabantf/sitebuild/pkg"
	"github.com/vanbrabantf/sitebuild/pkg/deps"
)

var fetchDepsCmd = &cobra.Command{
	Use:   "fetch-deps",
	Short: "Downloads and unpacks dependencies",
	Long:  `Downloads and unpacks the tools listed in DEPS.yml (Dart Sass) into .tools/`,
	RunE: func(cmd *cobra.Command, args []string) error {
		update, err := cmd.Flags().GetBool("update")
		if err != nil {
			return err
		}

		pkg.PrintTask("Loading config")
		wd, err := os.Getwd()
		if err != nil {
			return err
		}

		root, err := pkg.FindProjectRoot(wd)
		if err != nil {
			return err
		}

		cfg, stamps, err := deps.LoadConfig(root)
		if err != nil {
			return err
		}

		pkg.PrintTask("Downloading dependencies")
		err = deps.Fetch(cmd.Context(), root, cfg, stamps, deps.Options{Update: update})

		// stamps are written even after a failure so the finished downloads don't have to be repeated
		if sErr := stamps.Save(root); sErr != nil {
			pkg.PrintError(sErr.Error())
		}

		if err != nil {
			return err
		}

		pkg.PrintTask("Done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchDepsCmd)
	fetchDepsCmd.Flags().BoolP("update", "u", false, "Update checksums")
}
