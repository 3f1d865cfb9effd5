package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"todokeep/internal/config"
	"todokeep/internal/utils"
	"todokeep/store"
	"todokeep/store/sqlite"
)

// Version is set at build time.
var Version = "dev"

// Options holds settings shared by all commands. Test code injects
// paths here instead of going through flags.
type Options struct {
	Verbose    bool
	ConfigPath string
	DBPath     string // overrides the configured database path
}

// Execute runs the CLI with the given arguments and IO writers.
func Execute(args []string, stdout, stderr io.Writer, opts *Options) int {
	rootCmd := NewTodoKeep(stdout, stderr, opts)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		var sugg *utils.ErrorWithSuggestion
		if errors.As(err, &sugg) {
			_, _ = fmt.Fprintln(stderr, "Suggestion:", sugg.GetSuggestion())
		}
		return 1
	}
	return 0
}

// NewTodoKeep creates the root command with injectable IO.
func NewTodoKeep(stdout, stderr io.Writer, opts *Options) *cobra.Command {
	if opts == nil {
		opts = &Options{}
	}

	cmd := &cobra.Command{
		Use:     "todokeep",
		Short:   "An offline-first todo manager",
		Long:    "todokeep manages todos in a local SQLite store and serves them through an offline-capable caching gateway.",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				opts.Verbose = true
			}
			utils.GetLogger().SetVerbose(opts.Verbose)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "V", false, "Enable verbose/debug output")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().String("config", "", "Path to config file")
	cmd.PersistentFlags().String("db", "", "Path to database file (overrides config)")

	cmd.AddCommand(newAddCmd(stdout, opts))
	cmd.AddCommand(newListCmd(stdout, opts))
	cmd.AddCommand(newTodayCmd(stdout, opts))
	cmd.AddCommand(newUpdateCmd(stdout, opts))
	cmd.AddCommand(newDoneCmd(stdout, opts))
	cmd.AddCommand(newRemoveCmd(stdout, opts))
	cmd.AddCommand(newBulkDoneCmd(stdout, opts))
	cmd.AddCommand(newBulkRemoveCmd(stdout, opts))
	cmd.AddCommand(newTagsCmd(stdout, opts))
	cmd.AddCommand(newStatsCmd(stdout, opts))
	cmd.AddCommand(newExportCmd(stdout, opts))
	cmd.AddCommand(newImportCmd(stdout, opts))
	cmd.AddCommand(newTokenCmd(stdout, stderr, opts))
	cmd.AddCommand(newServeCmd(stdout, stderr, opts))

	return cmd
}

// loadConfig reads the config file, honoring the --config flag and
// test overrides.
func loadConfig(cmd *cobra.Command, opts *Options) (*config.Config, error) {
	path := opts.ConfigPath
	if flagPath, _ := cmd.Flags().GetString("config"); flagPath != "" {
		path = flagPath
	}
	if path == "" {
		path = filepath.Join(config.GetConfigDir(), "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if opts.DBPath != "" {
		cfg.DatabasePath = opts.DBPath
	}
	if flagDB, _ := cmd.Flags().GetString("db"); flagDB != "" {
		cfg.DatabasePath = flagDB
	}
	return cfg, nil
}

// openRepository opens the SQLite store, creating parent directories
// on first use.
func openRepository(cmd *cobra.Command, opts *Options) (store.Repository, *config.Config, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return nil, nil, fmt.Errorf("could not create data directory: %w", err)
	}
	repo, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	return repo, cfg, nil
}

func newAddCmd(stdout io.Writer, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [title]",
		Short: "Add a todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := openRepository(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			notes, _ := cmd.Flags().GetString("notes")
			priorityStr, _ := cmd.Flags().GetString("priority")
			dueStr, _ := cmd.Flags().GetString("due")
			tags, _ := cmd.Flags().GetStringSlice("tag")

			req := store.CreateRequest{
				Title: args[0],
				Notes: notes,
				Tags:  tags,
			}
			if priorityStr != "" {
				p := store.Priority(strings.ToLower(priorityStr))
				if !p.Valid() {
					return utils.ErrInvalidPriority(priorityStr)
				}
				req.Priority = p
			}
			due, err := utils.ParseDateFlag(dueStr)
			if err != nil {
				return err
			}
			req.DueDate = due

			ctx := context.Background()
			id, err := repo.Create(ctx, req)
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				todo, err := repo.Get(ctx, id)
				if err != nil {
					return err
				}
				return writeJSON(stdout, todo)
			}
			_, _ = fmt.Fprintf(stdout, "Added: %s (%s)\n", req.Title, id)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().String("notes", "", "Free-form notes")
	cmd.Flags().StringP("priority", "p", "", "Priority (low, normal, high)")
	cmd.Flags().String("due", "", "Due date (YYYY-MM-DD, today, tomorrow, +3d, +2w, ...)")
	cmd.Flags().StringSlice("tag", nil, "Tag (repeatable or comma-separated)")
	return cmd
}

func newListCmd(stdout io.Writer, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List todos",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := openRepository(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			filter, err := filterFromFlags(cmd)
			if err != nil {
				return err
			}
			todos, err := repo.List(context.Background(), filter)
			if err != nil {
				return err
			}
			return printTodos(stdout, todos, jsonOutput(cmd))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().Bool("completed", false, "Show only completed todos")
	cmd.Flags().Bool("pending", false, "Show only pending todos")
	cmd.Flags().String("tag", "", "Filter by tag")
	cmd.Flags().StringP("priority", "p", "", "Filter by priority (low, normal, high)")
	cmd.Flags().StringP("search", "s", "", "Search in title, notes, and tags")
	cmd.Flags().String("due-from", "", "Only todos due on or after this date")
	cmd.Flags().String("due-to", "", "Only todos due on or before this date")
	return cmd
}

func filterFromFlags(cmd *cobra.Command) (store.Filter, error) {
	var filter store.Filter

	completed, _ := cmd.Flags().GetBool("completed")
	pending, _ := cmd.Flags().GetBool("pending")
	if completed && pending {
		return filter, fmt.Errorf("--completed and --pending are mutually exclusive")
	}
	if completed {
		v := true
		filter.Completed = &v
	}
	if pending {
		v := false
		filter.Completed = &v
	}

	filter.Tag, _ = cmd.Flags().GetString("tag")
	filter.Search, _ = cmd.Flags().GetString("search")

	if priorityStr, _ := cmd.Flags().GetString("priority"); priorityStr != "" {
		p := store.Priority(strings.ToLower(priorityStr))
		if !p.Valid() {
			return filter, utils.ErrInvalidPriority(priorityStr)
		}
		filter.Priority = &p
	}

	fromStr, _ := cmd.Flags().GetString("due-from")
	from, err := utils.ParseDateFlag(fromStr)
	if err != nil {
		return filter, fmt.Errorf("invalid due-from: %w", err)
	}
	filter.DueFrom = from

	toStr, _ := cmd.Flags().GetString("due-to")
	to, err := utils.ParseDateFlag(toStr)
	if err != nil {
		return filter, fmt.Errorf("invalid due-to: %w", err)
	}
	if to != nil {
		// Make the upper bound inclusive for the whole day.
		end := to.Add(24*time.Hour - time.Nanosecond)
		filter.DueTo = &end
	}

	return filter, nil
}

func newTodayCmd(stdout io.Writer, opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "List todos due today or overdue",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := openRepository(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			todos, err := repo.ListDueTodayOrOverdue(context.Background())
			if err != nil {
				return err
			}
			return printTodos(stdout, todos, jsonOutput(cmd))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newUpdateCmd(stdout io.Writer, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Update a todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := openRepository(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			var req store.UpdateRequest
			if cmd.Flags().Changed("title") {
				title, _ := cmd.Flags().GetString("title")
				req.Title = &title
			}
			if cmd.Flags().Changed("notes") {
				notes, _ := cmd.Flags().GetString("notes")
				req.Notes = &notes
			}
			if cmd.Flags().Changed("priority") {
				priorityStr, _ := cmd.Flags().GetString("priority")
				p := store.Priority(strings.ToLower(priorityStr))
				if !p.Valid() {
					return utils.ErrInvalidPriority(priorityStr)
				}
				req.Priority = &p
			}
			if cmd.Flags().Changed("due") {
				dueStr, _ := cmd.Flags().GetString("due")
				if dueStr == "" {
					req.ClearDue = true
				} else {
					due, err := utils.ParseDateFlag(dueStr)
					if err != nil {
						return err
					}
					req.DueDate = due
				}
			}
			if cmd.Flags().Changed("tag") {
				tags, _ := cmd.Flags().GetStringSlice("tag")
				req.Tags = tags
			}

			todo, err := repo.Update(context.Background(), args[0], req)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(stdout, todo)
			}
			_, _ = fmt.Fprintf(stdout, "Updated: %s (%s)\n", todo.Title, todo.ID)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().String("title", "", "New title")
	cmd.Flags().String("notes", "", "New notes")
	cmd.Flags().StringP("priority", "p", "", "New priority (low, normal, high)")
	cmd.Flags().String("due", "", "New due date, use \"\" to clear")
	cmd.Flags().StringSlice("tag", nil, "Replacement tag set (repeatable)")
	return cmd
}

func newDoneCmd(stdout io.Writer, opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "done [id]",
		Short: "Toggle a todo's completion state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := openRepository(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			todo, err := repo.Toggle(context.Background(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(stdout, todo)
			}
			state := "pending"
			if todo.Completed {
				state = "completed"
			}
			_, _ = fmt.Fprintf(stdout, "Marked %s: %s\n", state, todo.Title)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newRemoveCmd(stdout io.Writer, opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "rm [id]",
		Aliases: []string{"delete"},
		Short:   "Delete a todo",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := openRepository(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			if err := repo.Delete(context.Background(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Deleted: %s\n", args[0])
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newBulkDoneCmd(stdout io.Writer, opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "bulk-done [id...]",
		Short: "Mark several todos completed in one transaction",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := openRepository(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			if err := repo.BulkComplete(context.Background(), args); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Completed %d todos\n", len(args))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newBulkRemoveCmd(stdout io.Writer, opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "bulk-rm [id...]",
		Short: "Delete several todos in one transaction",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := openRepository(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			if err := repo.BulkDelete(context.Background(), args); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Deleted %d todos\n", len(args))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newTagsCmd(stdout io.Writer, opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List all tags in use",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := openRepository(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			tags, err := repo.AllTags(context.Background())
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(stdout, tags)
			}
			for _, tag := range tags {
				_, _ = fmt.Fprintln(stdout, tag)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newStatsCmd(stdout io.Writer, opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show todo statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := openRepository(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			stats, err := repo.Stats(context.Background())
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(stdout, stats)
			}
			_, _ = fmt.Fprintf(stdout, "Total:     %d\n", stats.Total)
			_, _ = fmt.Fprintf(stdout, "Completed: %d\n", stats.Completed)
			_, _ = fmt.Fprintf(stdout, "Pending:   %d\n", stats.Pending)
			_, _ = fmt.Fprintf(stdout, "Overdue:   %d\n", stats.Overdue)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newExportCmd(stdout io.Writer, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all todos as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := openRepository(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			todos, err := repo.ExportAll(context.Background())
			if err != nil {
				return err
			}

			out := stdout
			if path, _ := cmd.Flags().GetString("output"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("could not create export file: %w", err)
				}
				defer func() { _ = f.Close() }()
				out = f
			}
			return writeJSON(out, todos)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")
	return cmd
}

func newImportCmd(stdout io.Writer, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import todos from a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("could not read import file: %w", err)
			}
			var todos []store.Todo
			if err := json.Unmarshal(data, &todos); err != nil {
				return fmt.Errorf("invalid import file: %w", err)
			}

			repo, _, err := openRepository(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			overwrite, _ := cmd.Flags().GetBool("overwrite")
			if err := repo.ImportAll(context.Background(), todos, overwrite); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Imported %d todos\n", len(todos))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().Bool("overwrite", false, "Replace all existing todos")
	return cmd
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTodos renders todos one per line, or as a JSON array.
func printTodos(w io.Writer, todos []store.Todo, asJSON bool) error {
	if asJSON {
		if todos == nil {
			todos = []store.Todo{}
		}
		return writeJSON(w, todos)
	}
	if len(todos) == 0 {
		_, _ = fmt.Fprintln(w, "No todos found")
		return nil
	}
	for _, todo := range todos {
		mark := " "
		if todo.Completed {
			mark = "x"
		}
		line := fmt.Sprintf("[%s] %s  %s", mark, shortID(todo.ID), todo.Title)
		if todo.DueDate != nil {
			line += "  due:" + todo.DueDate.Format("2006-01-02")
		}
		if todo.Priority != store.PriorityNormal {
			line += "  !" + string(todo.Priority)
		}
		if len(todo.Tags) > 0 {
			line += "  #" + strings.Join(todo.Tags, " #")
		}
		_, _ = fmt.Fprintln(w, line)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
