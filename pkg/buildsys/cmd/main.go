// Package cmd implements the task command for the buildsys package
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vanbrabantf/sitebuild/pkg"
	"github.com/vanbrabantf/sitebuild/pkg/buildsys"
	"github.com/vanbrabantf/sitebuild/pkg/config"
)

// DefaultTask runs when no task name is passed
const DefaultTask = "default"

var RootCmd = &cobra.Command{
	Use:   "task [name...] [option=value...]",
	Short: "Runs the tasks declared in tasks.star",
	Long: `This command parses the first tasks.star file it finds in the current directory or its parents and
executes the given tasks. Without a task name the default task runs. Pass --list to see all tasks.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		dryRun, err := flags.GetBool("dry")
		if err != nil {
			return err
		}

		force, err := flags.GetBool("force")
		if err != nil {
			return err
		}

		noCache, err := flags.GetBool("no-cache")
		if err != nil {
			return err
		}

		list, err := flags.GetBool("list")
		if err != nil {
			return err
		}

		taskArgs, options := splitArgs(args)

		wd, err := os.Getwd()
		if err != nil {
			return eris.Wrap(err, "Failed to retrieve the current working directory")
		}

		projectRoot, err := pkg.FindProjectRoot(wd)
		if err != nil {
			return err
		}

		cfg, err := config.Load(projectRoot)
		if err != nil {
			return err
		}

		logger := NewLogger(cfg)
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
		ctx = buildsys.WithLogger(ctx, &logger)

		taskList, err := loadTasks(ctx, cfg, projectRoot, options, noCache)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to parse tasks")
			return errSilent
		}

		if list {
			printTasks(taskList)
			return nil
		}

		if len(taskArgs) == 0 {
			taskArgs = []string{DefaultTask}
		}

		tools := &buildsys.Tools{
			SassBinary:    resolveBinary(projectRoot, cfg.Sass.Binary),
			SassTimeout:   cfg.Sass.Timeout,
			IncludePaths:  cfg.Sass.IncludePaths,
			WatchDebounce: cfg.Watch.Debounce,
			Progress:      os.Getenv("CI") != "true",
		}
		defer tools.Close()

		runOpts := buildsys.RunOptions{
			DryRun: dryRun,
			Force:  force,
			Tools:  tools,
		}

		for _, name := range taskArgs {
			if _, ok := taskList[name]; !ok {
				logger.Error().Msgf("Task %s not found", name)
				printTasks(taskList)
				return errSilent
			}

			err = buildsys.RunTask(ctx, projectRoot, name, taskList, runOpts)
			if err != nil {
				if ctx.Err() != nil {
					logger.Info().Msg("Interrupted")
					return nil
				}

				logger.Error().Err(err).Msgf("Failed task %s:", name)
				return errSilent
			}
		}

		return nil
	},
}

// errSilent signals a failure which has already been logged
var errSilent = eris.New("task failed")

// IsSilent reports whether err was already reported to the user
func IsSilent(err error) bool {
	return eris.Is(err, errSilent)
}

func splitArgs(args []string) ([]string, map[string]string) {
	taskArgs := make([]string, 0)
	options := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			options[part[:pos]] = part[pos+1:]
		} else {
			taskArgs = append(taskArgs, part)
		}
	}
	return taskArgs, options
}

// resolveBinary makes relative binary paths like .tools/dart-sass/sass relative to the project root. Plain names
// are looked up in PATH.
func resolveBinary(projectRoot, binary string) string {
	if binary == "" || filepath.IsAbs(binary) || !strings.ContainsAny(binary, `/\`) {
		return binary
	}
	return filepath.Join(projectRoot, binary)
}

func loadTasks(ctx context.Context, cfg *config.Config, projectRoot string, options map[string]string, noCache bool) (buildsys.TaskList, error) {
	scriptPath := filepath.Join(projectRoot, pkg.ScriptName)
	cachePath := cfg.CachePath(projectRoot)
	logger := zerolog.Ctx(ctx)

	if !noCache {
		taskList, err := buildsys.LoadCache(cachePath, scriptPath, options)
		if err != nil {
			logger.Debug().Err(err).Msg("Ignoring broken task cache")
		} else if taskList != nil {
			logger.Debug().Str("path", cachePath).Msg("Using cached tasks")
			return taskList, nil
		}
	}

	taskList, _, err := buildsys.RunScript(ctx, scriptPath, projectRoot, options, true)
	if err != nil {
		return nil, err
	}

	if !noCache {
		err = buildsys.WriteCache(cachePath, options, taskList)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to write task cache")
		}
	}

	return taskList, nil
}

func printTasks(taskList buildsys.TaskList) {
	fmt.Println("Available tasks:")
	maxNameLen := 0
	sortedNames := make([]string, 0)
	for _, name := range taskList.Names() {
		if taskList[name].Hidden {
			continue
		}

		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
		sortedNames = append(sortedNames, name)
	}

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, name := range sortedNames {
		fmt.Printf(lineFmt, name+":", taskList[name].Desc)
	}
}

func init() {
	RootCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	RootCmd.Flags().BoolP("force", "f", false, "force build; always execute the passed steps even if they don't have to run")
	RootCmd.Flags().Bool("no-cache", false, "always evaluate tasks.star instead of using the cached task list")
	RootCmd.Flags().BoolP("list", "l", false, "list the available tasks")
}
