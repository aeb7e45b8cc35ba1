package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harperreed/tasksync/cmd/internal/appcli"
	"github.com/harperreed/tasksync/offline"
)

func newAddCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *appcli.App) error {
				rec, err := app.Add(ctx, strings.Join(args, " "), notes)
				if err := pendingOK(err); err != nil {
					return err
				}
				fmt.Printf("Added %s\n", appcli.ShortID(rec.ID))
				reportPending(err)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "task notes")
	return cmd
}

func newEditCmd() *cobra.Command {
	var title, notes string
	var clearNotes bool
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a task's title or notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p offline.Patch
			if cmd.Flags().Changed("title") {
				p = p.Set(appcli.FieldTitle, title)
			}
			if cmd.Flags().Changed("notes") {
				p = p.Set(appcli.FieldNotes, notes)
			}
			if clearNotes {
				p = p.Set(appcli.FieldNotes, nil)
			}
			if p.IsEmpty() {
				return errors.New("nothing to change: pass --title, --notes or --clear-notes")
			}
			return withApp(func(ctx context.Context, app *appcli.App) error {
				rec, err := app.Edit(ctx, args[0], p)
				if err := pendingOK(err); err != nil {
					return err
				}
				fmt.Printf("Updated %s\n", appcli.ShortID(rec.ID))
				reportPending(err)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&notes, "notes", "", "new notes")
	cmd.Flags().BoolVar(&clearNotes, "clear-notes", false, "remove notes")
	return cmd
}

func newDoneCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *appcli.App) error {
				rec, err := app.SetDone(ctx, args[0], !undo)
				if err := pendingOK(err); err != nil {
					return err
				}
				state := "done"
				if undo {
					state = "open"
				}
				fmt.Printf("%s is %s\n", appcli.ShortID(rec.ID), state)
				reportPending(err)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "mark the task open again")
	return cmd
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *appcli.App) error {
				err := app.Remove(ctx, args[0])
				if err := pendingOK(err); err != nil {
					return err
				}
				fmt.Println("Deleted")
				reportPending(err)
				return nil
			})
		},
	}
}

func newLsCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *appcli.App) error {
				recs := app.List()
				if !all {
					open := recs[:0]
					for _, r := range recs {
						if done, _ := r.Fields[appcli.FieldCompleted].(bool); !done {
							open = append(open, r)
						}
					}
					recs = open
				}
				appcli.RenderTasks(os.Stdout, recs)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include completed tasks")
	return cmd
}

// pendingOK passes through errors that mean the change was saved locally
// but could not be sent yet.
func pendingOK(err error) error {
	if err == nil || errors.Is(err, offline.ErrNetworkFailure) || errors.Is(err, offline.ErrServerError) {
		return nil
	}
	return err
}

func reportPending(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Saved locally; will sync later (%v)\n", err)
	}
}
