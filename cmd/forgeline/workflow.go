package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Inspect the repository's configured workflow",
}

var workflowStatesCmd = &cobra.Command{
	Use:   "states",
	Short: "List the configured workflow states",
	Args:  cobra.NoArgs,
	RunE:  runWorkflowStates,
}

func init() {
	workflowCmd.AddCommand(workflowStatesCmd)
}

func runWorkflowStates(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, st := range a.svc.Config.Workflow.States {
		marker := " "
		if st.Value == a.svc.Config.Workflow.DefaultState {
			marker = "*"
		}
		fmt.Printf("%s %-12s %-16s %s\n", marker, st.Value, st.Kind, st.Label)
	}
	return nil
}
