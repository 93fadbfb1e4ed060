package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ternarybob/vloop/internal/dashboard"
	"github.com/ternarybob/vloop/internal/project"
	"github.com/ternarybob/vloop/pkg/fault"
	"github.com/ternarybob/vloop/pkg/loop"
	"github.com/ternarybob/vloop/pkg/report"
	"github.com/ternarybob/vloop/pkg/section"
	"github.com/ternarybob/vloop/pkg/sdk"
)

func (c *cli) newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current run, criteria, dev server and recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := c.open(nil)
			if err != nil {
				return err
			}
			defer ws.Close()

			panels := dashboard.Compose(cmd.Context(), ws.Dashboard())
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, panels)
			}
			renderPanels(out, panels)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the sections as JSON")
	return cmd
}

func renderPanels(out io.Writer, panels []section.Panel) {
	for _, p := range panels {
		if p.OK {
			fmt.Fprintln(out, report.RenderPanel(p.Name, p.Body, true, 80))
			continue
		}
		f := p.Failure
		body := f.Message
		if f.Code != "" {
			body += fmt.Sprintf(" [%s]", f.Code)
		}
		if f.Action != "" {
			body += "\n" + f.Action
		}
		fmt.Fprintln(out, report.RenderPanel(f.Title, body, false, 80))
	}
}

func (c *cli) newReportCmd() *cobra.Command {
	var (
		asJSON bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Print the verification report of a run (default: the current run)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := c.open(nil)
			if err != nil {
				return err
			}
			defer ws.Close()

			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			run, err := loadRun(ws, id)
			if err != nil {
				return err
			}
			rep := run.Report()

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fault.Wrap(fault.EUsage, "create report file", err)
				}
				defer f.Close()
				out = f
			}
			if asJSON {
				return writeJSON(out, rep)
			}
			_, err = io.WriteString(out, report.Markdown(rep))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the report to a file")
	return cmd
}

func loadRun(ws *project.Workspace, id string) (*loop.Run, error) {
	if id == "" {
		return ws.Runs.Current()
	}
	return ws.Runs.Load(id)
}

func (c *cli) newCriteriaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "criteria",
		Aliases: []string{"criterion"},
		Short:   "Track the acceptance criteria of a feature",
		Long: `Criteria are concrete, observable statements of what a feature does.
A criterion can only be completed by a verified run of the same feature.`,
	}

	var feature string
	add := &cobra.Command{
		Use:   "add <description>",
		Short: "Add a criterion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withTracker(func(ws *project.Workspace) error {
				cr, err := ws.Tracker.Add(feature, strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", cr.ID)
				return nil
			})
		},
	}
	add.Flags().StringVarP(&feature, FlagFeature, "f", "", "Feature the criterion belongs to")

	var listFeature string
	var pending bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List criteria",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withTracker(func(ws *project.Workspace) error {
				var items []sdk.Criterion
				if pending {
					items = ws.Tracker.Pending(listFeature)
				} else {
					items = ws.Tracker.List(listFeature)
				}
				fmt.Fprintln(cmd.OutOrStdout(), report.Criteria(items))
				return nil
			})
		},
	}
	list.Flags().StringVarP(&listFeature, FlagFeature, "f", "", "Only this feature")
	list.Flags().BoolVar(&pending, "pending", false, "Only criteria not yet completed")

	start := &cobra.Command{
		Use:   "start <id>",
		Short: "Mark a criterion as in progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withTracker(func(ws *project.Workspace) error {
				cr, err := ws.Tracker.Start(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is in progress\n", cr.ID)
				return nil
			})
		},
	}

	var runID string
	complete := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a criterion with a verified run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withTracker(func(ws *project.Workspace) error {
				run, err := loadRun(ws, runID)
				if err != nil {
					return err
				}
				cr, err := ws.Tracker.Complete(args[0], run)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s completed by run %s\n", cr.ID, sdk.ShortID(run.ID))
				return nil
			})
		},
	}
	complete.Flags().StringVar(&runID, FlagRun, "", "Verified run (default: the current run)")

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a criterion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withTracker(func(ws *project.Workspace) error {
				return ws.Tracker.Remove(args[0])
			})
		},
	}

	cmd.AddCommand(add, list, start, complete, remove)
	return cmd
}

func (c *cli) withTracker(fn func(ws *project.Workspace) error) error {
	ws, err := c.open(nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ws)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
