package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"myxcli/internal/dataset"
	"myxcli/internal/errors"
	"myxcli/internal/flow"
	"myxcli/internal/timerange"
)

// windowFlags are the processing-range flags shared by every run command.
type windowFlags struct {
	from        string
	to          string
	incremental bool
	mode        string
}

func (w *windowFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&w.from, "from", "", "start of the processing range (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&w.to, "to", "", "end of the processing range, inclusive for plain dates (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().BoolVar(&w.incremental, "last", false, "process only data newer than the last produced output")
	cmd.Flags().StringVar(&w.mode, "output-mode", "append", "how computed rows merge into existing partitions (append, replace, full-replace)")
}

func (w *windowFlags) apply(req *flow.RunRequest) error {
	if w.incremental && (w.from != "" || w.to != "") {
		return errors.NewValidationError("--last is mutually exclusive with --from/--to", nil)
	}
	req.Incremental = w.incremental

	if w.from != "" {
		ts, err := parseTimeFlag(w.from, false)
		if err != nil {
			return errors.NewValidationError(fmt.Sprintf("bad --from: %v", err), nil)
		}
		req.From = &ts
	}
	if w.to != "" {
		ts, err := parseTimeFlag(w.to, true)
		if err != nil {
			return errors.NewValidationError(fmt.Sprintf("bad --to: %v", err), nil)
		}
		req.To = &ts
	}

	mode, err := timerange.ParseOutputMode(w.mode)
	if err != nil {
		return errors.NewValidationError(err.Error(), nil)
	}
	req.Mode = mode
	return nil
}

// parseTimeFlag accepts an RFC3339 instant or a plain date. A plain date as an
// upper bound means "through that whole day", so it resolves to the next
// midnight (bounds are half-open).
func parseTimeFlag(s string, endOfDay bool) (time.Time, error) {
	if day, err := time.ParseInLocation(dataset.DayFormat, s, time.UTC); err == nil {
		if endOfDay {
			day = day.Add(24 * time.Hour)
		}
		return day, nil
	}
	return dataset.ParseUTC(s)
}

func newFlowCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Run and inspect flow definitions",
	}
	cmd.AddCommand(newFlowRunCmd(state))
	cmd.AddCommand(newFlowListCmd(state))
	return cmd
}

func newFlowRunCmd(state *cliState) *cobra.Command {
	var (
		window   windowFlags
		fromStep string
		toStep   string
		onlyStep string
	)

	cmd := &cobra.Command{
		Use:   "run <flow>",
		Short: "Run a flow definition end to end",
		Long: "Run a flow definition. The argument is either a path to a flow JSON file\n" +
			"or a flow name resolved against the configured flows directory.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := flow.Load(resolveFlowPath(state, args[0]))
			if err != nil {
				return err
			}
			injectPipelineDefaults(state, def)

			req := flow.RunRequest{
				Definition:  def,
				DatasetsDir: state.cfg.Paths.DatasetsDir,
				FromStep:    fromStep,
				ToStep:      toStep,
				OnlyStep:    onlyStep,
			}
			if err := window.apply(&req); err != nil {
				return err
			}

			result, err := state.driver.Run(cmd.Context(), req)
			printRunResult(cmd, result)
			return err
		},
	}

	window.register(cmd)
	cmd.Flags().StringVar(&fromStep, "from-step", "", "start at this step of the flow")
	cmd.Flags().StringVar(&toStep, "to-step", "", "stop after this step of the flow")
	cmd.Flags().StringVar(&onlyStep, "step", "", "run only this step (mutually exclusive with --from-step/--to-step)")
	return cmd
}

func newFlowListCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List flow definitions in the flows directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			matches, err := filepath.Glob(filepath.Join(state.cfg.Paths.FlowsDir, "*.json"))
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				cmd.Printf("no flows found in %s\n", state.cfg.Paths.FlowsDir)
				return nil
			}
			for _, path := range matches {
				def, err := flow.Load(path)
				if err != nil {
					cmd.Printf("%-30s (invalid: %v)\n", filepath.Base(path), err)
					continue
				}
				steps := make([]string, len(def.Steps))
				for i, s := range def.Steps {
					steps[i] = s.Treatment
				}
				cmd.Printf("%-30s dataset=%s steps=%s\n", def.Name, def.Dataset, strings.Join(steps, ","))
			}
			return nil
		},
	}
}

// resolveFlowPath lets users name flows by file path or by bare name.
func resolveFlowPath(state *cliState, arg string) string {
	if _, err := os.Stat(arg); err == nil {
		return arg
	}
	name := arg
	if filepath.Ext(name) == "" {
		name += ".json"
	}
	return filepath.Join(state.cfg.Paths.FlowsDir, name)
}

// injectPipelineDefaults pushes config-level pipeline defaults into the flow's
// inherited params without overriding anything the flow declares itself.
func injectPipelineDefaults(state *cliState, def *flow.Definition) {
	if !state.cfg.Pipeline.OmitEmptyBuckets {
		return
	}
	if def.Params == nil {
		def.Params = map[string]any{}
	}
	if _, ok := def.Params["omit_empty_buckets"]; !ok {
		def.Params["omit_empty_buckets"] = true
	}
}

func printRunResult(cmd *cobra.Command, result *flow.RunResult) {
	if result == nil {
		return
	}
	if result.NoOp {
		cmd.Printf("nothing to do: %s\n", result.Window.Reason)
		return
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"step", "status", "duration", "rows in", "rows out", "filled", "dropped", "partitions"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	for _, step := range result.Steps {
		status := "ok"
		if step.Err != nil {
			status = "failed"
		}
		table.Append([]string{
			step.Treatment,
			status,
			step.Duration.Round(time.Millisecond).String(),
			strconv.Itoa(step.Stats.RowsIn),
			strconv.Itoa(step.Stats.RowsOut),
			strconv.Itoa(step.Stats.Filled),
			strconv.Itoa(step.Stats.Dropped),
			strconv.Itoa(step.Stats.PartitionsWritten),
		})
	}
	table.Render()
}
