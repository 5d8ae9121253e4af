package main

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ivlev/holocine/internal/config"
	"github.com/ivlev/holocine/internal/engine"
	"github.com/ivlev/holocine/internal/pipeline"
	"github.com/ivlev/holocine/internal/system"
	"github.com/ivlev/holocine/internal/video"
)

// posterWidth is the width of the preview image written next to each clip.
const posterWidth = 416

type app struct {
	cfg          *config.Config
	logger       *log.Logger
	newGenerator func(cfg *config.Config, logger *log.Logger) pipeline.Generator
	poster       video.PosterExtractor
	probe        engine.ProbeFunc
}

func newApp(cfg *config.Config, logger *log.Logger) *app {
	return &app{
		cfg:    cfg,
		logger: logger,
		newGenerator: func(cfg *config.Config, logger *log.Logger) pipeline.Generator {
			return pipeline.NewPythonGenerator(cfg, logger)
		},
		poster: &video.FFmpegPoster{MaxWidth: posterWidth},
		probe:  system.GetVideoInfo,
	}
}

func newRootCmd(a *app) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "holocine [config.json]",
		Short: "Generate a multi-shot video from a JSON job file",
		Long: `holocine reads a job file describing a global caption and a list of shot
captions, loads the HoloCine pipeline with CPU offloading and writes one
video to the output directory as <output_name>.mp4.

Without an argument the job is read from ` + config.DefaultJobPath + `.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				a.logger.SetLevel(log.DebugLevel)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := config.LoadJob(argOr(args, ""))
			if err != nil {
				return err
			}
			return a.run(cmd, job)
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log inference output at debug level")

	root.AddCommand(
		newDemoCmd(a),
		newLatestCmd(a),
		newCheckCmd(a),
	)
	return root
}

func newDemoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Generate the built-in three-shot hospital corridor clip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, config.DemoJob())
		},
	}
}

func newLatestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "latest [dir]",
		Short: "Run the most recently modified job file in a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := system.FindLatestJob(argOr(args, a.cfg.OutputDir))
			if err != nil {
				return err
			}
			a.logger.Info("selected job", "path", path)

			job, err := config.LoadJob(path)
			if err != nil {
				return err
			}
			return a.run(cmd, job)
		},
	}
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check [config.json]",
		Short: "Validate a job file and verify the checkpoints without generating",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := config.LoadJob(argOr(args, ""))
			if err != nil {
				return err
			}

			project := a.project(job)
			h, size, err := project.Check(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "job:         %s (%d shots, %d frames, %dx%d)\n", job.OutputName, len(job.ShotCaptions), job.NumFrames, job.Width, job.Height)
			fmt.Fprintf(out, "output:      %s\n", job.OutputPath(a.cfg.OutputDir))
			fmt.Fprintf(out, "checkpoints: %s\n", system.HumanBytes(uint64(size)))
			for _, ck := range h.Checkpoints {
				fmt.Fprintf(out, "  %s\n", ck.Path)
			}
			return nil
		},
	}
}

func (a *app) project(job *config.Job) *engine.GenerationProject {
	p := engine.NewGenerationProject(a.cfg, job, a.newGenerator(a.cfg, a.logger), a.poster, a.logger)
	p.Probe = a.probe
	return p
}

func (a *app) run(cmd *cobra.Command, job *config.Job) error {
	m, err := a.project(job).Run(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Video saved: %s\n", m.Output)
	return nil
}

func argOr(args []string, def string) string {
	if len(args) > 0 {
		return args[0]
	}
	return def
}
