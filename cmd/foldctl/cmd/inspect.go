package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/fold-orchestrator/pkg/api"
	"github.com/psantana5/fold-orchestrator/pkg/reward"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks <submitter>",
	Short: "List task ids submitted by an organic submitter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result api.SubmitterTasks
		if err := getJSON("/submitters/"+url.PathEscape(args[0])+"/tasks", &result); err != nil {
			return err
		}
		if done, err := printStructured(os.Stdout, result); done {
			return err
		}
		for _, id := range result.TaskIDs {
			fmt.Println(id)
		}
		fmt.Printf("\nTotal tasks: %d\n", len(result.TaskIDs))
		return nil
	},
}

type scoresResponse struct {
	Scores []reward.WorkerScore `json:"scores" yaml:"scores"`
}

var scoresCmd = &cobra.Command{
	Use:   "scores",
	Short: "Show the per-worker reward scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result scoresResponse
		if err := getJSON("/scores", &result); err != nil {
			return err
		}
		if done, err := printStructured(os.Stdout, result); done {
			return err
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Rank", "Worker", "Score")
		for i, s := range result.Scores {
			table.Append(strconv.Itoa(i+1), s.Worker, strconv.FormatFloat(s.Score, 'f', 6, 64))
		}
		table.Render()
		return nil
	},
}

type healthResponse struct {
	Status string `json:"status" yaml:"status"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check validator health",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result healthResponse
		if err := getJSON("/health", &result, http.StatusServiceUnavailable); err != nil {
			return err
		}
		if done, err := printStructured(os.Stdout, result); done {
			if err != nil {
				return err
			}
		} else {
			fmt.Printf("Validator at %s: %s\n", GetAPIURL(), result.Status)
			if result.Error != "" {
				fmt.Printf("Error: %s\n", result.Error)
			}
		}
		if result.Status != "healthy" {
			return fmt.Errorf("validator is %s", result.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd, scoresCmd, healthCmd)
}
