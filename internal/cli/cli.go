package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ignatij/dealflow/internal/config"
	internal_http "github.com/ignatij/dealflow/internal/http"
	"github.com/ignatij/dealflow/internal/log"
	"github.com/ignatij/dealflow/internal/metrics"
	"github.com/ignatij/dealflow/internal/seed"
	internal_storage "github.com/ignatij/dealflow/internal/storage"
	"github.com/ignatij/dealflow/pkg/models"
	"github.com/ignatij/dealflow/pkg/sequencer"
	"github.com/ignatij/dealflow/pkg/settings"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// SetupCLI registers the dealflow commands and their shared flags on rootCmd.
func SetupCLI(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("db", "", "Database connection string (optional if DB_* env vars are set)")
	rootCmd.PersistentFlags().String("server", "", "Base URL of a running dealflow server; commands go over HTTP instead of --db")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR); overrides LOG_LEVEL")
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(
		newServeCommand(),
		newPipelineCommand(),
		newStageCommand(),
		newSeedCommand(),
	)
}

// loadConfig reads the environment and applies the log level.
func loadConfig(cmd *cobra.Command) config.Config {
	cfg, found := config.Load()
	if !found {
		log.GetLogger().Debug("No .env file found, using the process environment")
	}
	level := cfg.LogLevel
	if flag, _ := cmd.Flags().GetString("log-level"); flag != "" {
		level = flag
	}
	if level != "" {
		log.SetLevel(level)
	}
	return cfg
}

// run opens the backend for cmd and hands it to fn, closing it afterwards.
func run(cmd *cobra.Command, fn func(b *backend, cfg config.Config) error) error {
	cfg := loadConfig(cmd)
	b, err := openBackend(cmd, cfg)
	if err != nil {
		return err
	}
	defer b.close()
	return fn(b, cfg)
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline and stage API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(cmd)
			dbConnStr, _ := cmd.Flags().GetString("db")
			connStr, err := cfg.ResolveDB(dbConnStr)
			if err != nil {
				return err
			}
			port, _ := cmd.Flags().GetString("port")
			if port == "" {
				port = cfg.HTTPPort
			}
			store, err := internal_storage.InitStore(connStr)
			if err != nil {
				return err
			}
			defer store.Close()
			return internal_http.StartServer(cmd.Context(), port, store, metrics.New())
		},
	}
	cmd.Flags().String("port", "", "Port to listen on (defaults to HTTP_PORT or "+config.DefaultHTTPPort+")")
	return cmd
}

func newPipelineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Manage pipelines",
	}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, _ := cmd.Flags().GetString("description")
			isDefault, _ := cmd.Flags().GetBool("default")
			return run(cmd, func(b *backend, _ config.Config) error {
				id, err := b.pipelines.CreatePipeline(cmd.Context(), args[0], description, isDefault)
				if err != nil {
					return errors.Wrap(err, "failed to create pipeline")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created pipeline '%s' with ID %d\n", args[0], id)
				return nil
			})
		},
	}
	createCmd.Flags().String("description", "", "Pipeline description")
	createCmd.Flags().Bool("default", false, "Make this the default pipeline")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(b *backend, _ config.Config) error {
				pipelines, err := b.pipelines.ListPipelines(cmd.Context())
				if err != nil {
					return errors.Wrap(err, "failed to list pipelines")
				}
				printPipelines(cmd.OutOrStdout(), pipelines)
				return nil
			})
		},
	}

	editCmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Rename, describe or make a pipeline the default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var patch models.PipelinePatch
			tracker := trackFlags(cmd, "name", "description", "default")
			if !tracker.IsDirty() {
				return errors.New("nothing to update: pass --name, --description or --default")
			}
			if cmd.Flags().Changed("name") {
				name, _ := cmd.Flags().GetString("name")
				patch.Name = &name
			}
			if cmd.Flags().Changed("description") {
				description, _ := cmd.Flags().GetString("description")
				patch.Description = &description
			}
			if cmd.Flags().Changed("default") {
				isDefault, _ := cmd.Flags().GetBool("default")
				patch.IsDefault = &isDefault
			}
			return run(cmd, func(b *backend, _ config.Config) error {
				p, err := b.pipelines.UpdatePipeline(cmd.Context(), id, patch)
				if err != nil {
					return errors.Wrap(err, "failed to update pipeline")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s of pipeline %d ('%s')\n",
					strings.Join(tracker.DirtySections(), ", "), p.ID, p.Name)
				return nil
			})
		},
	}
	editCmd.Flags().String("name", "", "New name")
	editCmd.Flags().String("description", "", "New description")
	editCmd.Flags().Bool("default", false, "Make this the default pipeline")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			force, _ := cmd.Flags().GetBool("force")
			return run(cmd, func(b *backend, _ config.Config) error {
				if err := b.pipelines.DeletePipeline(cmd.Context(), id, force); err != nil {
					return errors.Wrap(err, "failed to delete pipeline")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted pipeline with ID %d\n", id)
				return nil
			})
		},
	}
	deleteCmd.Flags().Bool("force", false, "Also delete the pipeline's stages")

	cmd.AddCommand(createCmd, listCmd, editCmd, deleteCmd)
	return cmd
}

func newStageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Manage the stages of a pipeline",
	}

	listCmd := &cobra.Command{
		Use:   "list <pipeline-id>",
		Short: "List a pipeline's stages in display order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipelineID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return run(cmd, func(b *backend, cfg config.Config) error {
				return withSequencer(cmd.Context(), b, cfg, pipelineID, func(seq *sequencer.Sequencer) error {
					printStages(cmd.OutOrStdout(), pipelineID, seq.Stages())
					return nil
				})
			})
		},
	}

	addCmd := &cobra.Command{
		Use:   "add <pipeline-id> <name>",
		Short: "Append a stage to a pipeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipelineID, err := parseID(args[0])
			if err != nil {
				return err
			}
			color, _ := cmd.Flags().GetString("color")
			probability, _ := cmd.Flags().GetInt("probability")
			return run(cmd, func(b *backend, cfg config.Config) error {
				return withSequencer(cmd.Context(), b, cfg, pipelineID, func(seq *sequencer.Sequencer) error {
					st, err := seq.Insert(cmd.Context(), pipelineID, args[1], color, probability)
					if err != nil {
						return errors.Wrap(err, "failed to add stage")
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Added stage '%s' with ID %d at position %d\n", st.Name, st.ID, st.Rank)
					return nil
				})
			})
		},
	}
	addCmd.Flags().String("color", "", "Stage color as hex or rgb(), e.g. #3b82f6")
	addCmd.Flags().Int("probability", 0, "Win probability in percent (0-100)")

	editCmd := &cobra.Command{
		Use:   "edit <stage-id>",
		Short: "Change a stage's name, color or probability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stageID, err := parseID(args[0])
			if err != nil {
				return err
			}
			tracker := trackFlags(cmd, "name", "color", "probability")
			if !tracker.IsDirty() {
				return errors.New("nothing to update: pass --name, --color or --probability")
			}
			var patch models.StagePatch
			if cmd.Flags().Changed("name") {
				name, _ := cmd.Flags().GetString("name")
				patch.Name = &name
			}
			if cmd.Flags().Changed("color") {
				color, _ := cmd.Flags().GetString("color")
				patch.Color = &color
			}
			if cmd.Flags().Changed("probability") {
				probability, _ := cmd.Flags().GetInt("probability")
				patch.Probability = &probability
			}
			return run(cmd, func(b *backend, cfg config.Config) error {
				st, err := b.stages.GetStage(cmd.Context(), stageID)
				if err != nil {
					return errors.Wrap(err, "failed to get stage")
				}
				return withSequencer(cmd.Context(), b, cfg, st.PipelineID, func(seq *sequencer.Sequencer) error {
					st, err := seq.Edit(cmd.Context(), stageID, patch)
					if err != nil {
						return errors.Wrap(err, "failed to update stage")
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Updated %s of stage %d ('%s', %s, %d%%)\n",
						strings.Join(tracker.DirtySections(), ", "), st.ID, st.Name, st.Color, st.Probability)
					return nil
				})
			})
		},
	}
	editCmd.Flags().String("name", "", "New name")
	editCmd.Flags().String("color", "", "New color")
	editCmd.Flags().Int("probability", 0, "New win probability in percent (0-100)")

	deleteCmd := &cobra.Command{
		Use:   "delete <stage-id>",
		Short: "Delete a stage; default stages are refused",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stageID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return run(cmd, func(b *backend, cfg config.Config) error {
				st, err := b.stages.GetStage(cmd.Context(), stageID)
				if err != nil {
					return errors.Wrap(err, "failed to get stage")
				}
				return withSequencer(cmd.Context(), b, cfg, st.PipelineID, func(seq *sequencer.Sequencer) error {
					if err := seq.Delete(cmd.Context(), stageID); err != nil {
						return errors.Wrap(err, "failed to delete stage")
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted stage with ID %d\n", stageID)
					return nil
				})
			})
		},
	}

	reorderCmd := &cobra.Command{
		Use:   "reorder <pipeline-id> <id,id,...>",
		Short: "Set the display order of every stage in a pipeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipelineID, err := parseID(args[0])
			if err != nil {
				return err
			}
			ids, err := parseIDList(args[1])
			if err != nil {
				return err
			}
			return run(cmd, func(b *backend, cfg config.Config) error {
				return withSequencer(cmd.Context(), b, cfg, pipelineID, func(seq *sequencer.Sequencer) error {
					if err := seq.Reorder(cmd.Context(), ids); err != nil {
						return errors.Wrap(err, "failed to reorder stages")
					}
					return reportOrder(cmd, seq, pipelineID)
				})
			})
		},
	}

	moveCmd := &cobra.Command{
		Use:   "move <pipeline-id> <from> <to>",
		Short: "Move the stage at position <from> to position <to> (0-based)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipelineID, err := parseID(args[0])
			if err != nil {
				return err
			}
			from, err := strconv.Atoi(args[1])
			if err != nil {
				return errors.Wrapf(err, "invalid position %q", args[1])
			}
			to, err := strconv.Atoi(args[2])
			if err != nil {
				return errors.Wrapf(err, "invalid position %q", args[2])
			}
			return run(cmd, func(b *backend, cfg config.Config) error {
				return withSequencer(cmd.Context(), b, cfg, pipelineID, func(seq *sequencer.Sequencer) error {
					if err := seq.Move(cmd.Context(), from, to); err != nil {
						return errors.Wrap(err, "failed to move stage")
					}
					return reportOrder(cmd, seq, pipelineID)
				})
			})
		},
	}

	cmd.AddCommand(listCmd, addCmd, editCmd, deleteCmd, reorderCmd, moveCmd)
	return cmd
}

func newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Create pipelines and stages from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := seed.Load(args[0])
			if err != nil {
				return err
			}
			return run(cmd, func(b *backend, _ config.Config) error {
				res, err := seed.Apply(cmd.Context(), b.seed, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d pipelines with %d stages\n", len(res.PipelineIDs), res.Stages)
				return nil
			})
		},
	}
}

// reportOrder waits for the new order to be saved and prints what the backend now holds.
func reportOrder(cmd *cobra.Command, seq *sequencer.Sequencer, pipelineID int64) error {
	stages, err := seq.List(cmd.Context(), pipelineID)
	if err != nil {
		return err
	}
	printStages(cmd.OutOrStdout(), pipelineID, stages)
	return nil
}

// trackFlags marks a section dirty for every named flag set on the command line.
func trackFlags(cmd *cobra.Command, names ...string) *settings.Tracker {
	tracker := settings.NewTracker()
	for _, name := range names {
		tracker.ReportDirty(name, cmd.Flags().Changed(name))
	}
	return tracker
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func parseIDList(raw string) ([]int64, error) {
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := parseID(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printPipelines(w io.Writer, pipelines []models.Pipeline) {
	if len(pipelines) == 0 {
		fmt.Fprintf(w, "No pipelines found.\n")
		return
	}
	fmt.Fprintf(w, "Pipelines:\n")
	for _, p := range pipelines {
		marker := ""
		if p.IsDefault {
			marker = " (default)"
		}
		fmt.Fprintf(w, "- ID: %d, Name: %s%s, Created: %s\n", p.ID, p.Name, marker, p.CreatedAt.Format(time.RFC3339))
	}
}

func printStages(w io.Writer, pipelineID int64, stages []models.Stage) {
	if len(stages) == 0 {
		fmt.Fprintf(w, "No stages found for pipeline %d.\n", pipelineID)
		return
	}
	fmt.Fprintf(w, "Stages of pipeline %d:\n", pipelineID)
	for i, st := range stages {
		marker := ""
		if st.IsDefault {
			marker = " (default)"
		}
		fmt.Fprintf(w, "%d. ID: %d, Name: %s%s, Color: %s, Probability: %d%%\n",
			i, st.ID, st.Name, marker, st.Color, st.Probability)
	}
}
