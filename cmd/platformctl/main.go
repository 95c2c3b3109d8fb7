// Command platformctl runs maintenance tasks against the platform database
// and classifies answer sets offline.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/psique-app/platform/internal/assessment"
	"github.com/psique-app/platform/internal/shared/config"
	"github.com/psique-app/platform/internal/shared/database"
	"github.com/psique-app/platform/internal/shared/logging"
	"github.com/psique-app/platform/internal/user"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "platformctl",
		Short:         "Maintenance tooling for the Psique platform",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newMigrateCmd(), newSeedAdminCmd(), newClassifyCmd())
	return root
}

// connect loads configuration and opens the database.
func connect(ctx context.Context) (*config.Config, *zap.Logger, *database.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, "platformctl")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create logger: %w", err)
	}
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return cfg, log, db, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, log, db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.Migrate(cmd.Context(), db.Pool, log); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newSeedAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-admin",
		Short: "Create the default administrator when no account exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			created, err := user.SeedDefaultAdmin(cmd.Context(), user.NewRepository(db.Pool), cfg.Auth, log)
			if err != nil {
				return fmt.Errorf("seed admin: %w", err)
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "default admin %s created\n", cfg.Auth.DefaultAdminEmail)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "accounts already exist, nothing to do")
			}
			return nil
		},
	}
}

func newClassifyCmd() *cobra.Command {
	var (
		file   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Validate and classify an answer set",
		Long: "Reads a questionnaire answer set as JSON (use -f - for stdin), " +
			"validates it and prints the ideation and behavior risk levels.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var in io.Reader = cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			result, err := classify(in)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			fmt.Fprintf(out, "ideation: %s\nbehavior: %s\n", result.IdeationRiskLevel, result.BehaviorRiskLevel)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "answer set JSON file, or - for stdin")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func classify(r io.Reader) (*assessment.Classification, error) {
	var answers assessment.Answers
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	if err := assessment.ValidateAnswers(answers); err != nil {
		return nil, err
	}
	c := assessment.Classify(answers)
	return &c, nil
}
