package cmd

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/fold-orchestrator/pkg/api"
	"github.com/psantana5/fold-orchestrator/pkg/models"
)

var (
	jobsStatus   string
	jobsQuery    string
	jobsPage     int
	jobsPageSize int
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect folding jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Long:  `List jobs, optionally filtered by status (active, inactive, failed or all) or a task id substring.`,
	RunE:  runJobsList,
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show a job with its latest cycle",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsGet,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsGetCmd)

	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status")
	jobsListCmd.Flags().StringVarP(&jobsQuery, "query", "q", "", "filter by task id substring")
	jobsListCmd.Flags().IntVar(&jobsPage, "page", 1, "page number")
	jobsListCmd.Flags().IntVar(&jobsPageSize, "page-size", 20, "jobs per page")
}

func runJobsList(cmd *cobra.Command, args []string) error {
	params := url.Values{}
	if jobsStatus != "" {
		params.Set("status", jobsStatus)
	}
	if jobsQuery != "" {
		params.Set("q", jobsQuery)
	}
	params.Set("page", strconv.Itoa(jobsPage))
	params.Set("page_size", strconv.Itoa(jobsPageSize))

	var result api.JobList
	if err := getJSON("/jobs?"+params.Encode(), &result); err != nil {
		return err
	}
	if done, err := printStructured(os.Stdout, result); done {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job", "Task", "Type", "Status", "Workers", "Best Loss", "Updates", "Origin", "Updated")
	for _, job := range result.Jobs {
		origin := "synthetic"
		if job.IsOrganic {
			origin = "organic"
			if job.Submitter != "" {
				origin += " (" + job.Submitter + ")"
			}
		}
		table.Append(
			shortID(job.JobID),
			job.TaskID,
			job.TaskType,
			string(job.Status),
			strconv.Itoa(job.Workers),
			formatLoss(job.BestLoss),
			strconv.Itoa(job.UpdatedCount),
			origin,
			job.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	table.Render()
	fmt.Printf("\nPage %d, %d of %d jobs\n", result.Page, len(result.Jobs), result.Total)
	return nil
}

func runJobsGet(cmd *cobra.Command, args []string) error {
	var job models.Job
	if err := getJSON("/jobs/"+url.PathEscape(args[0]), &job); err != nil {
		return err
	}
	if done, err := printStructured(os.Stdout, &job); done {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Job ID", job.JobID)
	table.Append("Task", job.TaskID)
	table.Append("Type", job.TaskType)
	table.Append("Status", string(job.Status()))
	table.Append("Priority", strconv.FormatFloat(job.Priority, 'f', -1, 64))
	table.Append("Update Interval", job.UpdateInterval.String())
	table.Append("Max Lifetime", job.MaxLifetime.String())
	table.Append("Best Loss", formatLoss(job.BestLoss))
	if job.BestWorker != "" {
		table.Append("Best Worker", job.BestWorker)
	}
	table.Append("Updates", strconv.Itoa(job.UpdatedCount))
	table.Append("Created", job.CreatedAt.Format("2006-01-02 15:04:05"))
	table.Append("Updated", job.UpdatedAt.Format("2006-01-02 15:04:05"))
	if job.FinalizedAt != nil {
		table.Append("Finalized", job.FinalizedAt.Format("2006-01-02 15:04:05"))
	}
	if job.IsOrganic {
		table.Append("Submitter", job.Submitter)
		table.Append("Source", job.Source)
	}
	if job.Event.FailureReason != "" {
		table.Append("Failure", job.Event.FailureReason)
	}
	table.Render()

	if len(job.Workers) > 0 {
		fmt.Println("\nRewards:")
		rewards := tablewriter.NewWriter(os.Stdout)
		rewards.Header("Worker", "Reward")
		for i, worker := range job.Workers {
			value := "-"
			if i < len(job.ComputedRewards) {
				value = strconv.FormatFloat(job.ComputedRewards[i], 'f', 4, 64)
			}
			rewards.Append(worker, value)
		}
		rewards.Render()
	}

	if len(job.Event.Queried) > 0 {
		fmt.Println("\nLast cycle:")
		cycle := tablewriter.NewWriter(os.Stdout)
		cycle.Header("Worker", "Response")
		for i, worker := range job.Event.Queried {
			status := "-"
			if i < len(job.Event.ResponseStatus) {
				status = job.Event.ResponseStatus[i]
			}
			cycle.Append(worker, status)
		}
		cycle.Render()
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatLoss(loss float64) string {
	// zero means no verified best yet
	if loss == 0 || math.IsInf(loss, 0) || math.IsNaN(loss) {
		return "-"
	}
	return strconv.FormatFloat(loss, 'f', 3, 64)
}
