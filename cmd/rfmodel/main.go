package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"rforest/internal/cfg"
	"rforest/internal/client"
	"rforest/internal/forest"
	"rforest/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type rootCmdConfig struct {
	dataPath  string
	name      string
	serverURL string
	verbose   bool
}

func main() {
	if err := cliParser().Execute(); err != nil {
		os.Exit(1)
	}
}

func cliParser() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rfmodel",
		Short: "rfmodel manages saved random forest models",
		Long:  `List, activate, roll back and export the forest versions kept in the model store`,
	}
	config := &rootCmdConfig{}
	rootCmd.PersistentFlags().StringVar(&config.dataPath, "data-path", "", "model store directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&config.name, "name", "", "model name (overrides config)")
	rootCmd.PersistentFlags().StringVar(&config.serverURL, "server", "", "model server URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&config.verbose, "verbose", "v", false, "")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level := zerolog.InfoLevel
		if config.verbose {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return config.load()
	}
	rootCmd.AddCommand(listCmd(config), activateCmd(config), rollbackCmd(config), exportCmd(config), reloadCmd(config))
	return rootCmd
}

// load fills unset flags from the environment and config file.
func (c *rootCmdConfig) load() error {
	settings, err := cfg.Load()
	if err != nil {
		return err
	}
	if c.dataPath == "" {
		c.dataPath = settings.DataPath
	}
	if c.name == "" {
		c.name = settings.ModelName
	}
	if c.serverURL == "" {
		c.serverURL = settings.ServerURL
	}
	return nil
}

func (c *rootCmdConfig) withStore(fn func(*storage.Store) error) error {
	store, err := storage.New(c.dataPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func listCmd(config *rootCmdConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved versions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.withStore(func(store *storage.Store) error {
				versions, err := store.ListVersions(config.name)
				if err != nil {
					return err
				}
				return printVersions(cmd.OutOrStdout(), versions)
			})
		},
	}
}

func activateCmd(config *rootCmdConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "activate VERSION",
		Short: "Mark a saved version as active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.withStore(func(store *storage.Store) error {
				if err := store.ActivateVersion(config.name, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "activated %s@%s\n", config.name, args[0])
				return nil
			})
		},
	}
}

func rollbackCmd(config *rootCmdConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Activate the version saved before the active one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.withStore(func(store *storage.Store) error {
				version, err := store.Rollback(config.name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back to %s@%s\n", version.Name, version.Version)
				return nil
			})
		},
	}
}

func exportCmd(config *rootCmdConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "export VERSION FILE",
		Short: "Write a saved version as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.withStore(func(store *storage.Store) error {
				f := forest.New[string]()
				if _, err := store.LoadModel(config.name, args[0], f); err != nil {
					return err
				}
				data, err := f.MarshalJSON()
				if err != nil {
					return err
				}
				return os.WriteFile(args[1], data, 0o644)
			})
		},
	}
}

func reloadCmd(config *rootCmdConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the running server to load the active version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			info, err := client.New(config.serverURL, 30*time.Second).Reload(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "server now serving %s@%s\n", info.Name, info.Version)
			return nil
		},
	}
}

func printVersions(out io.Writer, versions []storage.ModelVersion) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tCREATED\tACCURACY\tTREES\tACTIVE")
	for _, v := range versions {
		active := ""
		if v.IsActive {
			active = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%.4f\t%d\t%s\n",
			v.Version, v.CreatedAt.Format(time.RFC3339), v.Metrics.Accuracy, v.Metrics.Trees, active)
	}
	return w.Flush()
}
