package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jholhewres/clawbot/pkg/clawbot/app"
	"github.com/jholhewres/clawbot/pkg/clawbot/scheduler"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled jobs",
		Long: `Manage the jobs the scheduler fires. Jobs are addressed by id or name.

Examples:
  clawbot schedule list
  clawbot schedule add standup send_message "0 9 * * 1-5" --user telegram:42 -p message="Standup in 5"
  clawbot schedule add housekeeping cleanup "weekly on sunday at 3:00" -p days=30
  clawbot schedule disable standup
  clawbot schedule run standup`,
	}

	cmd.AddCommand(
		newScheduleListCmd(),
		newScheduleAddCmd(),
		newScheduleRemoveCmd(),
		newScheduleToggleCmd("enable", "Enable a job and schedule its next run", true),
		newScheduleToggleCmd("disable", "Disable a job", false),
		newScheduleRunCmd(),
	)
	return cmd
}

func newScheduleListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			user, _ := cmd.Flags().GetString("user")
			jobs, err := a.Jobs.ListJobs(cmd.Context(), user)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("No scheduled jobs.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tUSER\tSCHEDULE\tNEXT RUN\tLAST\tID")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					j.Name, j.Type, orDash(j.UserID), scheduleText(j), nextRun(j), lastRun(j), j.ID)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringP("user", "u", "", "only jobs owned by this user id")
	return cmd
}

func newScheduleAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name> <type> <schedule>",
		Short: "Create a job",
		Long: `Create a job. Types: send_message, check_email, custom_command,
cleanup, report. The schedule accepts a cron expression or phrases like
"every 30 minutes", "daily at 9am", "every friday at 6pm", "in 2 hours".`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			params, _ := cmd.Flags().GetStringArray("param")
			payload, err := parsePayload(params)
			if err != nil {
				return err
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			job, err := a.Jobs.CreateJob(cmd.Context(), scheduler.JobSpec{
				Name:     args[0],
				UserID:   user,
				Type:     scheduler.JobType(args[1]),
				Payload:  payload,
				Schedule: args[2],
			})
			if err != nil {
				return err
			}
			fmt.Println(scheduler.FormatCreated(job))
			return nil
		},
	}
	cmd.Flags().StringP("user", "u", "", "owner user id (channel:id) that receives the output")
	cmd.Flags().StringArrayP("param", "p", nil, "payload entry key=value (repeatable)")
	return cmd
}

func newScheduleRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id|name>",
		Short: "Delete a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			job, err := a.Jobs.DeleteJob(cmd.Context(), "", args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Job %q removed.\n", job.Name)
			return nil
		},
	}
}

func newScheduleToggleCmd(use, short string, enable bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id|name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			toggle := a.Jobs.DisableJob
			if enable {
				toggle = a.Jobs.EnableJob
			}
			job, err := toggle(cmd.Context(), "", args[0])
			if err != nil {
				return err
			}
			fmt.Println(scheduler.FormatJob(job))
			return nil
		},
	}
}

func newScheduleRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <id|name>",
		Short: "Run a job now, connecting channels to deliver its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := app.New(cfg, app.Options{}, quietLogger(cmd, cfg))
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.Channels.Start(ctx); err != nil {
				return err
			}
			defer a.Channels.Stop()

			res, err := a.Jobs.RunNow(ctx, "", args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Job %s: %s\n", res.Status, res.Detail)
			return nil
		},
	}
}

// parsePayload turns key=value flags into a payload map.
func parsePayload(params []string) (map[string]string, error) {
	payload := make(map[string]string, len(params))
	for _, p := range params {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q, want key=value", p)
		}
		payload[key] = value
	}
	return payload, nil
}

func scheduleText(j *scheduler.Job) string {
	if j.ScheduleText != "" {
		return j.ScheduleText
	}
	return j.Schedule.String()
}

func nextRun(j *scheduler.Job) string {
	if !j.Enabled {
		return "disabled"
	}
	if j.NextRunAt == nil {
		return "-"
	}
	return humanize.Time(*j.NextRunAt)
}

func lastRun(j *scheduler.Job) string {
	if j.LastRunAt == nil {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", humanize.Time(*j.LastRunAt), j.LastStatus)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
