package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"NewsDigest/internal/app"
	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/logging"
)

const configPathEnv = "NEWS_DIGEST_CONFIG"

func newRootCommand() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "newsdigest",
		Short:         "Scheduled personalized news digests",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				return os.Setenv(configPathEnv, cfgFile)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (overrides "+configPathEnv+")")

	root.AddCommand(newServeCommand(), newRunCommand(), newRecipientsCommand())
	return root
}

// bootstrap loads configuration and builds the application. The caller owns Close.
func bootstrap(ctx context.Context) (*app.Application, *slog.Logger, error) {
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("application init failed", "error", err)
		return nil, nil, err
	}
	return application, logger, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the digest scheduler and the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			application, logger, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			if err := application.Serve(ctx); err != nil {
				logger.Error("application stopped", "error", err)
				return err
			}
			return nil
		},
	}
}

func newRunCommand() *cobra.Command {
	var cadence string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one digest run now and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			freq, err := domain.ParseFrequency(cadence)
			if err != nil {
				return err
			}
			if freq == domain.FrequencyNever {
				return fmt.Errorf("cadence %q never delivers", freq)
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			application, _, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			report, err := application.RunOnce(ctx, freq)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "run %s %s: sent=%d failed=%d skipped=%d total=%d\n",
				report.RunID, report.Status, report.Sent, report.Failed, report.Skipped, report.Total)
			if report.Status == domain.RunFailed {
				return fmt.Errorf("run failed: %s", report.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cadence, "cadence", string(domain.FrequencyDaily), "digest cadence: daily or weekly")
	return cmd
}

type recipientFile struct {
	Recipients []struct {
		ID                 string   `yaml:"id"`
		Username           string   `yaml:"username"`
		Email              string   `yaml:"email"`
		Categories         []string `yaml:"categories"`
		EmailNotifications *bool    `yaml:"emailNotifications"`
		EmailFrequency     string   `yaml:"emailFrequency"`
		Language           string   `yaml:"language"`
		NewsCount          int      `yaml:"newsCount"`
	} `yaml:"recipients"`
}

func newRecipientsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipients",
		Short: "Manage the local recipient directory",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Upsert recipients from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := readRecipients(args[0])
			if err != nil {
				return err
			}

			application, _, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()

			for _, p := range profiles {
				if err := application.Store().UpsertRecipient(cmd.Context(), p); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d recipients\n", len(profiles))
			return nil
		},
	})
	return cmd
}

func readRecipients(path string) ([]domain.RecipientProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var file recipientFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	profiles := make([]domain.RecipientProfile, 0, len(file.Recipients))
	for i, r := range file.Recipients {
		if r.ID == "" {
			return nil, fmt.Errorf("recipient %d: id is required", i)
		}
		frequency, err := domain.ParseFrequency(r.EmailFrequency)
		if err != nil {
			return nil, fmt.Errorf("recipient %s: %w", r.ID, err)
		}
		optedIn := true
		if r.EmailNotifications != nil {
			optedIn = *r.EmailNotifications
		}
		profiles = append(profiles, domain.RecipientProfile{
			ID:                 r.ID,
			Username:           r.Username,
			Email:              r.Email,
			Categories:         r.Categories,
			Frequency:          frequency,
			EmailNotifications: optedIn,
			Language:           r.Language,
			NewsCount:          r.NewsCount,
		})
	}
	return profiles, nil
}
