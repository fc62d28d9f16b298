package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarcoPoloResearchLab/linkdrop/internal/config"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/links"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

func main() {
	configViper := config.NewClientViper()
	rootCmd := newRootCommand(configViper)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(configViper *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "linkdrop",
		Short:        "Share text or links through short lived four digit codes",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(configViper)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("server-url", configViper.GetString("server.url"), "linkdrop API base URL")
	flags.String("identity", configViper.GetString("identity.path"), "Path to the identity file")
	flags.String("share-base-url", configViper.GetString("share.base_url"), "Base URL used for share links")
	flags.String("log-level", configViper.GetString("log.level"), "Log level (debug, info, warn, error)")
	bindFlag(configViper, rootCmd, "server.url", "server-url")
	bindFlag(configViper, rootCmd, "identity.path", "identity")
	bindFlag(configViper, rootCmd, "share.base_url", "share-base-url")
	bindFlag(configViper, rootCmd, "log.level", "log-level")

	run := func(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, configViper, func(a *app) error {
				return fn(cmd.Context(), a, args)
			})
		}
	}

	var follow bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show your active links",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app, _ []string) error {
			if follow {
				return a.follow(ctx)
			}
			return a.list(ctx)
		}),
	}
	listCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep listening for changes")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "drop <content>",
			Short: "Share content and print its code",
			Args:  cobra.MinimumNArgs(1),
			RunE: run(func(ctx context.Context, a *app, args []string) error {
				return a.drop(ctx, strings.Join(args, " "))
			}),
		},
		&cobra.Command{
			Use:   "get <code>",
			Short: "Retrieve content by code",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, a *app, args []string) error {
				_, err := a.get(ctx, args[0])
				return err
			}),
		},
		&cobra.Command{
			Use:   "update <code> <content>",
			Short: "Replace the content of one of your links",
			Args:  cobra.MinimumNArgs(2),
			RunE: run(func(ctx context.Context, a *app, args []string) error {
				return a.update(ctx, args[0], strings.Join(args[1:], " "))
			}),
		},
		&cobra.Command{
			Use:   "delete <code>",
			Short: "Delete one of your links",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, a *app, args []string) error {
				return a.remove(ctx, args[0])
			}),
		},
		listCmd,
		&cobra.Command{
			Use:   "watch <code>",
			Short: "Show the remaining lifetime of a link until it expires",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, a *app, args []string) error {
				err := a.watch(ctx, args[0], links.CountdownInterval)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}),
		},
		&cobra.Command{
			Use:   "open <url>",
			Short: "Retrieve the code carried by a share URL",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, a *app, args []string) error {
				return a.open(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "shell",
			Short: "Start an interactive session",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, a *app, _ []string) error {
				return a.runShell(ctx, os.Stdin)
			}),
		},
	)
	return rootCmd
}

func bindFlag(configViper *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := configViper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig(configViper *viper.Viper) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	if cfgFile == "" {
		return nil
	}
	configViper.SetConfigFile(cfgFile)
	return configViper.ReadInConfig()
}

func withApp(cmd *cobra.Command, configViper *viper.Viper, fn func(*app) error) error {
	clientConfig, err := config.LoadClient(configViper)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(clientConfig.LogLevel, "console")
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	a, err := newApp(cmd.Context(), clientConfig, cmd.OutOrStdout(), logger)
	if err != nil {
		return err
	}
	return fn(a)
}
