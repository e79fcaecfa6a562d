package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bassista/go_courses/internal/cache"
)

// opener builds a repository over the configured store. The returned func releases it.
type opener func(ctx context.Context, configDir string, opts ...cache.Option) (*cache.CourseRepository, func(), error)

type cli struct {
	out       io.Writer
	open      opener
	configDir string
	format    string
	active    bool
}

func newRootCmd(out io.Writer, open opener) *cobra.Command {
	c := &cli{out: out, open: open, format: "json"}

	root := &cobra.Command{
		Use:           "coursectl",
		Short:         "Inspect and edit the course collection",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.format != "json" && c.format != "yaml" {
				return fmt.Errorf("--out must be json or yaml, got %q", c.format)
			}
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(out)
	root.PersistentFlags().StringVar(&c.configDir, "config", "", "directory holding config.yaml (default . and ./config)")
	root.PersistentFlags().StringVar(&c.format, "out", c.format, "output format: json|yaml")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List courses with a one-shot fetch",
		Args:  cobra.NoArgs,
		RunE: c.withRepo(func(ctx context.Context, repo *cache.CourseRepository, _ []string) error {
			if res := repo.FetchOnce(ctx); !res.Success {
				return c.fail(res)
			}
			if c.active {
				return c.print(repo.Active())
			}
			return c.print(repo.All())
		}),
	}
	listCmd.Flags().BoolVar(&c.active, "active", false, "only courses whose estado is truthy")

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch once and print the repository state",
		Args:  cobra.NoArgs,
		RunE: c.withRepo(func(ctx context.Context, repo *cache.CourseRepository, _ []string) error {
			res := repo.FetchOnce(ctx)
			if err := c.print(repo.State()); err != nil {
				return err
			}
			if !res.Success {
				return c.fail(res)
			}
			return nil
		}),
	}

	var addData string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create a course from a JSON object",
		Args:  cobra.NoArgs,
		RunE: c.withRepo(func(ctx context.Context, repo *cache.CourseRepository, _ []string) error {
			fields, err := parseFields(addData)
			if err != nil {
				return err
			}
			return c.result(repo.AddCourse(ctx, fields))
		}),
	}
	addCmd.Flags().StringVar(&addData, "data", "", `course fields as JSON, e.g. '{"codigo":"CS101","estado":true}'`)
	_ = addCmd.MarkFlagRequired("data")

	var updateData string
	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Apply a partial JSON update to a course",
		Args:  cobra.ExactArgs(1),
		RunE: c.withRepo(func(ctx context.Context, repo *cache.CourseRepository, args []string) error {
			patch, err := parseFields(updateData)
			if err != nil {
				return err
			}
			return c.result(repo.UpdateCourse(ctx, args[0], patch))
		}),
	}
	updateCmd.Flags().StringVar(&updateData, "data", "", "fields to merge, as a JSON object")
	_ = updateCmd.MarkFlagRequired("data")

	toggleCmd := &cobra.Command{
		Use:   "toggle <id> <estado>",
		Short: "Set the estado flag of a course",
		Args:  cobra.ExactArgs(2),
		RunE: c.withRepo(func(ctx context.Context, repo *cache.CourseRepository, args []string) error {
			estado, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("estado must be a boolean: %w", err)
			}
			return c.result(repo.ToggleCourse(ctx, args[0], estado))
		}),
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a course",
		Args:  cobra.ExactArgs(1),
		RunE: c.withRepo(func(ctx context.Context, repo *cache.CourseRepository, args []string) error {
			return c.result(repo.DeleteCourse(ctx, args[0]))
		}),
	}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Subscribe and print every snapshot until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			printErr := make(chan error, 1)
			hook := cache.WithSnapshotHook(func(courses []cache.Course) {
				if err := c.print(courses); err != nil {
					select {
					case printErr <- err:
					default:
					}
				}
			})

			repo, release, err := c.open(ctx, c.configDir, hook)
			if err != nil {
				return err
			}
			defer release()

			h, err := repo.InitSubscription(ctx)
			if err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-h.Done():
				return nil
			case err := <-printErr:
				return err
			}
		},
	}

	root.AddCommand(listCmd, fetchCmd, addCmd, updateCmd, toggleCmd, deleteCmd, watchCmd)
	return root
}

func (c *cli) withRepo(fn func(ctx context.Context, repo *cache.CourseRepository, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		repo, release, err := c.open(ctx, c.configDir)
		if err != nil {
			return err
		}
		defer release()
		return fn(ctx, repo, args)
	}
}

func (c *cli) result(res cache.Result) error {
	if err := c.print(res); err != nil {
		return err
	}
	if !res.Success {
		return c.fail(res)
	}
	return nil
}

func (c *cli) fail(res cache.Result) error {
	if res.Cause != nil {
		return res.Cause
	}
	return fmt.Errorf("%s", res.Error)
}

func (c *cli) print(v any) error {
	return writeValue(c.out, c.format, v)
}

// parseFields decodes a JSON object, keeping numbers as json.Number so large
// integers reach the store intact. A literal null is passed through as nil so
// the repository reports it.
func parseFields(raw string) (cache.Fields, error) {
	var fields cache.Fields
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("--data is not a JSON object: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("--data is not a JSON object: trailing data")
	}
	return fields, nil
}
