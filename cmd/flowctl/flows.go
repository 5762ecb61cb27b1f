package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"crewflow/backend/pkg/models"
)

var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "Work with stored flow definitions",
}

var flowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored flows",
	Args:  cobra.NoArgs,
	RunE:  listFlows,
}

var runInputs []string
var runTasks []string

var runCmd = &cobra.Command{
	Use:   "run <flow-name>",
	Short: "Launch an execution of a flow by name",
	Args:  cobra.ExactArgs(1),
	RunE:  runFlow,
}

func init() {
	flowsCmd.AddCommand(flowsListCmd)
	rootCmd.AddCommand(flowsCmd)

	runCmd.Flags().StringArrayVar(&runInputs, "input", nil, "input as key=value, repeatable")
	runCmd.Flags().StringArrayVar(&runTasks, "task", nil, "restrict the run to tasks with this description, repeatable")
	rootCmd.AddCommand(runCmd)
}

func listFlows(cmd *cobra.Command, args []string) error {
	var flows []models.Flow
	if err := newClient().do("GET", "/api/v1/flows", nil, &flows); err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(flows)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVALID\tDESCRIPTION\tID")
	for _, f := range flows {
		description := "-"
		if f.Description != nil {
			description = *f.Description
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", f.Name, f.IsValid, description, f.ID)
	}
	return w.Flush()
}

func runFlow(cmd *cobra.Command, args []string) error {
	name := args[0]
	client := newClient()

	var flows []models.Flow
	if err := client.do("GET", "/api/v1/flows", nil, &flows); err != nil {
		return err
	}

	var flowID string
	for _, f := range flows {
		if f.Name == name {
			flowID = f.ID
			break
		}
	}
	if flowID == "" {
		return fmt.Errorf("no flow named %q", name)
	}

	inputs := map[string]interface{}{}
	for _, kv := range runInputs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid input %q, expected key=value", kv)
		}
		inputs[parts[0]] = parts[1]
	}

	body := map[string]interface{}{
		"flow_id": flowID,
	}
	if len(inputs) > 0 {
		body["inputs"] = inputs
	}
	if len(runTasks) > 0 {
		body["selected_tasks"] = runTasks
	}

	var execution models.Execution
	if err := client.do("POST", "/api/v1/executions", body, &execution); err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(execution)
	}

	fmt.Printf("Execution %s started (status: %s)\n", execution.ID, execution.Status)
	return nil
}
