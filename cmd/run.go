package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/pipeline"
)

var (
	runOwner   string
	runTarget  string
	runProfile string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one outreach pipeline synchronously",
	Long:  "Submits a search target for an owner, runs scrape, filter, enrich, and dispatch in-process, and prints the final status.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		profile := runProfile
		if profile != "" && profile[0] == '@' {
			b, err := os.ReadFile(profile[1:])
			if err != nil {
				return eris.Wrap(err, "read candidate profile")
			}
			profile = string(b)
		}
		if err := pipeline.ValidateSubmission(runOwner, runTarget, profile); err != nil {
			return err
		}

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		svc := pipeline.NewService(env.Store, nil)
		req, err := svc.Submit(ctx, runOwner, runTarget, profile)
		if err != nil {
			return err
		}
		if err := env.Orchestrator.Run(ctx, req.ID); err != nil {
			return eris.Wrap(err, "run pipeline")
		}

		final, err := env.Store.GetRequest(ctx, req.ID)
		if err != nil {
			return eris.Wrap(err, "load result")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(pipeline.Project(final))
	},
}

func init() {
	runCmd.Flags().StringVar(&runOwner, "owner", "", "owner id the request runs as (required)")
	runCmd.Flags().StringVar(&runTarget, "target", "", "job search URL to scrape (required)")
	runCmd.Flags().StringVar(&runProfile, "profile", "", "candidate profile text, or @file to read it")
	_ = runCmd.MarkFlagRequired("owner")
	_ = runCmd.MarkFlagRequired("target")
	rootCmd.AddCommand(runCmd)
}
