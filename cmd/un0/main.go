// un0 is the command line interface of the ledger service: database
// lifecycle, superuser creation and the service itself. Configuration
// comes from the environment, identical to the service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/notorm-tech/un0/core/logger"
	"github.com/notorm-tech/un0/oppi"
)

var version = "dev"

func main() {
	logger.InitLogger(logrus.InfoLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "un0",
		Short:         "small-business ledger service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCommand(),
		newCreateDBCommand(),
		newDropDBCommand(),
		newClearDBCommand(),
		newCreateSuperuserCommand(),
	)
	return root
}

func service() (*oppi.Service, error) {
	s, err := oppi.NewService()
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	return s, nil
}

func newServeCommand() *cobra.Command {
	var skipProvision bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "provision the schema and serve the REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := service()
			if err != nil {
				return err
			}
			if !skipProvision {
				if err := s.Provision(cmd.Context()); err != nil {
					return err
				}
			}
			return s.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&skipProvision, "skip-provision", false, "do not provision the schema on startup")
	return cmd
}

func newCreateDBCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "createdb",
		Short: "create the database with its role hierarchy",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := service()
			if err != nil {
				return err
			}
			if err := s.CreateDatabase(cmd.Context()); err != nil {
				return err
			}
			return s.Provision(cmd.Context())
		},
	}
}

func newDropDBCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "dropdb",
		Short: "drop the database and its roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("dropdb destroys all data, re-run with --force")
			}
			s, err := service()
			if err != nil {
				return err
			}
			return s.DropDatabase(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm dropping the database")
	return cmd
}

func newClearDBCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "cleardb",
		Short: "clear all business data from the application schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("cleardb destroys all business data, re-run with --force")
			}
			s, err := service()
			if err != nil {
				return err
			}
			return s.ClearData()
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm clearing the schema")
	return cmd
}

func newCreateSuperuserCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "createsuperuser <email> <handle>",
		Short: "create a superuser, bypassing row-level security",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := service()
			if err != nil {
				return err
			}
			id, err := s.CreateSuperuser(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}
