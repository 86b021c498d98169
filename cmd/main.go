package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vanbrabantf/sitebuild/pkg/buildsys/cmd"
)

var rootCmd = &cobra.Command{
	Use:   "sitebuild",
	Short: "Asset pipeline for the blog",
	Long: `This command compiles the style sheets, converts post images to WebP, links headings and watches
sources for changes. The steps are declared in tasks.star.`,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(cmd.RootCmd)
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		if !cmd.IsSilent(err) {
			rootCmd.PrintErrln("Error:", err)
		}
		os.Exit(1)
	}
}
