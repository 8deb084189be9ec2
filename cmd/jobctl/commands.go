package main

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func enqueueCmd(api func() *client) *cobra.Command {
	var (
		queueName  string
		params     string
		maxRetries int
		timeout    string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <job-type>",
		Short: "Submit a job for asynchronous execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			body := map[string]any{"type": args[0], "queue": queueName}
			if params != "" {
				var p map[string]any
				if err := json.Unmarshal([]byte(params), &p); err != nil {
					return fmt.Errorf("invalid params JSON: %w", err)
				}
				body["params"] = p
			}
			if maxRetries >= 0 {
				body["max_retries"] = maxRetries
			}
			if timeout != "" {
				body["timeout"] = timeout
			}
			resp, err := api().post("/jobs", body)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&queueName, "queue", "", "target queue (default queue when empty)")
	cmd.Flags().StringVar(&params, "params", "", "job parameters as JSON")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "override max retries")
	cmd.Flags().StringVar(&timeout, "timeout", "", "per-attempt timeout, e.g. 30s")
	return cmd
}

func statusCmd(api func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a job's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			resp, err := api().get("/jobs/" + url.PathEscape(args[0]))
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func resultCmd(api func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "result <task-id>",
		Short: "Show a job's full record, including result or last error",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			resp, err := api().get("/jobs/" + url.PathEscape(args[0]) + "/result")
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func cancelCmd(api func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a pending job",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			resp, err := api().post("/jobs/"+url.PathEscape(args[0])+"/cancel", nil)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func scheduleCmd(api func() *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring job schedules",
	}
	cmd.AddCommand(scheduleAddCmd(api))
	cmd.AddCommand(scheduleListCmd(api))
	cmd.AddCommand(scheduleRemoveCmd(api))
	cmd.AddCommand(scheduleRunCmd(api))
	return cmd
}

func scheduleAddCmd(api func() *client) *cobra.Command {
	var (
		jobType   string
		trigger   string
		queueName string
		params    string
		disabled  bool
	)
	cmd := &cobra.Command{
		Use:   "add <schedule-id>",
		Short: "Register a schedule (cron, interval, or one-time trigger)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			body := map[string]any{
				"id":       args[0],
				"job_type": jobType,
				"trigger":  trigger,
				"queue":    queueName,
				"enabled":  !disabled,
			}
			if params != "" {
				var p map[string]any
				if err := json.Unmarshal([]byte(params), &p); err != nil {
					return fmt.Errorf("invalid params JSON: %w", err)
				}
				body["params"] = p
			}
			resp, err := api().post("/schedules", body)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&jobType, "type", "", "job type to run (required)")
	cmd.Flags().StringVar(&trigger, "trigger", "", `trigger spec: "0 9 * * 1-5", "@every 5m", or RFC3339 (required)`)
	cmd.Flags().StringVar(&queueName, "queue", "", "target queue")
	cmd.Flags().StringVar(&params, "params", "", "job parameters as JSON")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "register without enabling")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("trigger")
	return cmd
}

func scheduleListCmd(api func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered schedules",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			resp, err := api().get("/schedules")
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func scheduleRemoveCmd(api func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <schedule-id>",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := api().delete("/schedules/" + url.PathEscape(args[0])); err != nil {
				return err
			}
			fmt.Println("schedule removed")
			return nil
		},
	}
}

func scheduleRunCmd(api func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "run <schedule-id>",
		Short: "Fire a schedule immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			resp, err := api().post("/schedules/"+url.PathEscape(args[0])+"/run", nil)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func healthCmd(api func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show orchestrator health and circuit breaker states",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			resp, err := api().get("/monitor/health")
			if err != nil {
				return err
			}
			if err := printJSON(resp); err != nil {
				return err
			}
			resp, err = api().get("/breakers")
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func metricsCmd(api func() *client) *cobra.Command {
	var jobType string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show job execution metrics",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			path := "/monitor/metrics"
			if jobType != "" {
				path += "?type=" + url.QueryEscape(jobType)
			}
			resp, err := api().get(path)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&jobType, "type", "", "narrow to one job type")
	return cmd
}

func historyCmd(api func() *client) *cobra.Command {
	var (
		jobType string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show persisted job outcomes",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			q := url.Values{}
			if jobType != "" {
				q.Set("type", jobType)
			}
			if limit > 0 {
				q.Set("limit", fmt.Sprint(limit))
			}
			path := "/jobs/history"
			if encoded := q.Encode(); encoded != "" {
				path += "?" + encoded
			}
			resp, err := api().get(path)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&jobType, "type", "", "narrow to one job type")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records to return")
	return cmd
}
