package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"myxcli/internal/errors"
	"myxcli/internal/flow"
)

func newTreatmentCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "treatment",
		Short: "Run a single treatment outside a flow",
	}
	cmd.AddCommand(newTreatmentRunCmd(state))
	cmd.AddCommand(newTreatmentListCmd(state))
	return cmd
}

func newTreatmentRunCmd(state *cliState) *cobra.Command {
	var (
		window     windowFlags
		datasetArg string
		input      string
		output     string
		paramsArg  string
	)

	cmd := &cobra.Command{
		Use:   "run <treatment>",
		Short: "Run one treatment against a dataset",
		Long: "Run one treatment in isolation. Params come from --params as inline JSON\n" +
			"or a JSON file path. Input and output default to the treatment's\n" +
			"conventional stage directories.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := loadParams(paramsArg)
			if err != nil {
				return err
			}

			def := &flow.Definition{
				Name:    "adhoc-" + args[0],
				Dataset: datasetArg,
				Steps: []flow.StepDef{{
					Treatment: args[0],
					Input:     input,
					Output:    output,
					Params:    params,
				}},
			}
			injectPipelineDefaults(state, def)

			req := flow.RunRequest{
				Definition:  def,
				DatasetsDir: state.cfg.Paths.DatasetsDir,
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
	cmd.Flags().StringVar(&datasetArg, "dataset", "", "dataset to process")
	cmd.Flags().StringVar(&input, "input", "", "input stage directory (default: the treatment's conventional stage)")
	cmd.Flags().StringVar(&output, "output", "", "output stage directory (default: the treatment's conventional stage)")
	cmd.Flags().StringVar(&paramsArg, "params", "", "treatment params as inline JSON or a path to a JSON file")
	_ = cmd.MarkFlagRequired("dataset")
	return cmd
}

func newTreatmentListCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available treatments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(strings.Join(state.driver.Registry().Names(), "\n"))
			return nil
		},
	}
}

func loadParams(arg string) (map[string]any, error) {
	if arg == "" {
		return nil, nil
	}

	raw := []byte(arg)
	if !strings.HasPrefix(strings.TrimSpace(arg), "{") {
		data, err := os.ReadFile(arg)
		if err != nil {
			return nil, errors.NewNotFoundError(fmt.Sprintf("params file not found: %s", arg), err)
		}
		raw = data
	}

	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, errors.NewConfigError("failed to parse params JSON", err)
	}
	return params, nil
}
