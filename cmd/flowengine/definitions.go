package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dukex/flowengine/pkg/cmd"
	"github.com/dukex/flowengine/pkg/definition"
	"github.com/dukex/flowengine/pkg/log"
	"github.com/dukex/flowengine/pkg/models"
	cli "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check workflow definition files without storing them",
		ArgsUsage: "FILE...",
		Flags:     []cli.Flag{logLevelFlag(), logFormatFlag()},
		Action: func(_ context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			validator, err := definition.NewValidator()
			if err != nil {
				return err
			}

			invalid := 0

			for _, path := range command.Args().Slice() {
				workflow, err := loadWorkflow(path)
				if err != nil {
					return err
				}

				result := validator.Validate(workflow)
				report(command.Root().Writer, path, result)

				if !result.Valid {
					invalid++
				}
			}

			if invalid > 0 {
				return cli.Exit(fmt.Sprintf("%d invalid definition(s)", invalid), 1)
			}

			return nil
		},
	}
}

func ImportCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Validate and store workflow definition files",
		ArgsUsage: "FILE...",
		Flags:     []cli.Flag{databaseURLFlag(), logLevelFlag(), logFormatFlag()},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("import")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			definitions, err := definition.NewStore(persistence.WorkflowRepository(), logger)
			if err != nil {
				return err
			}

			for _, path := range command.Args().Slice() {
				workflow, err := loadWorkflow(path)
				if err != nil {
					return err
				}

				err = definitions.Save(ctx, workflow)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}

				logger.InfoContext(ctx, "Imported workflow", "workflow_id", workflow.ID, "path", path)
			}

			return nil
		},
	}
}

// loadWorkflow reads a YAML or JSON definition. Values pass through JSON so numbers
// decode as float64, the same as definitions saved over HTTP.
func loadWorkflow(path string) (*models.Workflow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var document any

	err = yaml.Unmarshal(raw, &document)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	normalized, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s: %w", path, err)
	}

	var workflow models.Workflow

	err = json.Unmarshal(normalized, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return &workflow, nil
}

func report(w io.Writer, path string, result definition.ValidationResult) {
	if result.Valid {
		fmt.Fprintf(w, "%s: ok\n", path)

		return
	}

	fmt.Fprintf(w, "%s: %d violation(s)\n", path, len(result.Violations))

	for _, violation := range result.Violations {
		fmt.Fprintf(w, "  - %s\n", violation)
	}
}
