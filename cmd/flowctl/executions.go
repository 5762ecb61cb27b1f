package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"crewflow/backend/pkg/models"
)

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Inspect flow executions",
}

var executionsFlowID string

var executionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List executions, newest first",
	Args:  cobra.NoArgs,
	RunE:  listExecutions,
}

var executionsGetCmd = &cobra.Command{
	Use:   "get <execution-id>",
	Short: "Show one execution with its logs and outputs",
	Args:  cobra.ExactArgs(1),
	RunE:  getExecution,
}

func init() {
	executionsListCmd.Flags().StringVar(&executionsFlowID, "flow-id", "", "only executions of this flow")
	executionsCmd.AddCommand(executionsListCmd)
	executionsCmd.AddCommand(executionsGetCmd)
	rootCmd.AddCommand(executionsCmd)
}

func listExecutions(cmd *cobra.Command, args []string) error {
	path := "/api/v1/executions"
	if executionsFlowID != "" {
		path += "?flow_id=" + executionsFlowID
	}

	var executions []models.Execution
	if err := newClient().do("GET", path, nil, &executions); err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(executions)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFLOW\tSTATUS\tCREATED")
	for _, e := range executions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.FlowID, e.Status, e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func getExecution(cmd *cobra.Command, args []string) error {
	var execution models.Execution
	if err := newClient().do("GET", "/api/v1/executions/"+args[0], nil, &execution); err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(execution)
	}

	fmt.Printf("Execution: %s\nFlow:      %s\nStatus:    %s\n", execution.ID, execution.FlowID, execution.Status)
	if execution.ErrorMessage != nil {
		fmt.Printf("Error:     %s\n", *execution.ErrorMessage)
	}
	if len(execution.Logs) > 0 {
		fmt.Println("\nLogs:")
		for _, line := range execution.Logs {
			fmt.Println("  " + line)
		}
	}
	if len(execution.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		return printJSON(execution.Outputs)
	}
	return nil
}
