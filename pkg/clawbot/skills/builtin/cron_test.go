package builtin

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/clawbot/pkg/clawbot/scheduler"
	"github.com/jholhewres/clawbot/pkg/clawbot/skills"
)

func TestSplitSchedule(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 14, 10, 0, 0, 0, time.Local)

	tests := []struct {
		text     string
		task     string
		schedule string
		ok       bool
	}{
		{"drink water every 2 hours", "drink water", "every 2 hours", true},
		{"stretch every hour", "stretch", "every hour", true},
		{"call mom at 18:30", "call mom", "at 18:30", true},
		{"take the pills daily at 9am", "take the pills", "daily at 9am", true},
		{"check the oven in 20 minutes!", "check the oven", "in 20 minutes", true},
		{"water the plants in the garden", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			task, schedule, ok := splitSchedule(tt.text, now)
			if ok != tt.ok || task != tt.task || schedule != tt.schedule {
				t.Errorf("splitSchedule = (%q, %q, %v), want (%q, %q, %v)", task, schedule, ok, tt.task, tt.schedule, tt.ok)
			}
		})
	}
}

func TestJobName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		prefix, text, want string
	}{
		{"reminder", "drink water", "reminder_drink_water"},
		{"reminder", "Call Mom, please!", "reminder_call_mom_please"},
		{"reminder", "one two three four five six", "reminder_one_two_three_four"},
		{"send_message", "", "send_message"},
	}
	for _, tt := range tests {
		if got := jobName(tt.prefix, tt.text); got != tt.want {
			t.Errorf("jobName(%q, %q) = %q, want %q", tt.prefix, tt.text, got, tt.want)
		}
	}
}

func TestCronCreateReminderWithoutAI(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	s := NewCronCreate(descriptor(t, "cron_create"), e.deps)

	reply := mustHandle(t, s, "remind me to drink water every 2 hours")
	if !strings.HasPrefix(reply, "✅ Cron Job Created") || !strings.Contains(reply, "Name: reminder_drink_water") {
		t.Fatalf("reply = %q", reply)
	}
	job, err := e.jobs.GetJob(context.Background(), testUser, "reminder_drink_water")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Type != scheduler.TypeSendMessage || job.ScheduleText != "every 2 hours" {
		t.Errorf("job = %s %q", job.Type, job.ScheduleText)
	}
	if job.Param("message") != "⏰ Reminder: drink water" || job.Param("user_id") != testUser {
		t.Errorf("payload = %v", job.Payload)
	}

	// The same request again gets a suffixed name instead of failing.
	reply = mustHandle(t, s, "remind me to drink water every 2 hours")
	if !strings.HasPrefix(reply, "✅ Cron Job Created") {
		t.Fatalf("second reply = %q", reply)
	}
	jobs, err := e.jobs.ListJobs(context.Background(), testUser)
	if err != nil || len(jobs) != 2 {
		t.Fatalf("jobs = %d, %v", len(jobs), err)
	}
}

func TestCronCreateDailyEmail(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	s := NewCronCreate(descriptor(t, "cron_create"), e.deps)

	reply := mustHandle(t, s, "check my email daily at 8am")
	if !strings.Contains(reply, "Name: daily_email_reminder_0800") {
		t.Fatalf("reply = %q", reply)
	}
	job, err := e.jobs.GetJob(context.Background(), testUser, "daily_email_reminder_0800")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Type != scheduler.TypeCheckEmail || job.ScheduleText != "daily at 08:00" {
		t.Errorf("job = %s %q", job.Type, job.ScheduleText)
	}
	if job.Param("user_id") != testUser {
		t.Errorf("payload = %v", job.Payload)
	}
}

func TestCronCreateWithAI(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	ai := &fakeAI{reply: "Sure!\n```json\n" +
		`{"is_cron_request": true, "name": "Standup msg", "type": "send_message", "schedule": "0 9 * * 1-5", "params": {"message": "Standup!"}}` +
		"\n```"}
	e.deps.AI = ai
	s := NewCronCreate(descriptor(t, "cron_create"), e.deps)

	reply := mustHandle(t, s, "schedule a standup message every weekday at 9")
	if !strings.Contains(reply, "Name: standup_msg") || !strings.Contains(reply, "Message: Standup!") {
		t.Fatalf("reply = %q", reply)
	}
	job, err := e.jobs.GetJob(context.Background(), testUser, "standup_msg")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.ScheduleText != "0 9 * * 1-5" || job.Param("user_id") != testUser {
		t.Errorf("job = %q %v", job.ScheduleText, job.Payload)
	}
	if len(ai.prompts) != 1 {
		t.Errorf("prompts = %d, want 1", len(ai.prompts))
	}
}

func TestCronCreateDeclinesNonSchedulingMessages(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.deps.AI = &fakeAI{reply: `{"is_cron_request": false}`}
	s := NewCronCreate(descriptor(t, "cron_create"), e.deps)

	_, _, err := handle(t, s, "what's on my schedule tomorrow")
	if !errors.Is(err, skills.ErrDeclined) {
		t.Fatalf("err = %v, want ErrDeclined", err)
	}
}

func TestCronCreateAIUnavailable(t *testing.T) {
	t.Parallel()
	for name, ai := range map[string]Completer{
		"nil":   nil,
		"error": &fakeAI{err: errors.New("connection refused")},
	} {
		t.Run(name, func(t *testing.T) {
			e := newTestEnv(t)
			e.deps.AI = ai
			s := NewCronCreate(descriptor(t, "cron_create"), e.deps)

			reply := mustHandle(t, s, "schedule something nice for me")
			if !strings.HasPrefix(reply, "❌ I couldn't work out the schedule.") {
				t.Errorf("reply = %q", reply)
			}
		})
	}
}

func seedJob(t *testing.T, e *testEnv, name, schedule string) {
	t.Helper()
	_, err := e.jobs.CreateJob(context.Background(), scheduler.JobSpec{
		Name:     name,
		UserID:   testUser,
		Type:     scheduler.TypeSendMessage,
		Payload:  map[string]string{"message": "hello", "user_id": testUser},
		Schedule: schedule,
	})
	if err != nil {
		t.Fatalf("seed job %s: %v", name, err)
	}
}

func TestCronManageActions(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	s := NewCronManage(descriptor(t, "cron_manage"), e.deps)
	ctx := context.Background()
	seedJob(t, e, "standup", "daily at 09:00")

	if reply := mustHandle(t, s, "show my jobs"); !strings.Contains(reply, "⏰ Scheduled jobs (1):") {
		t.Errorf("list reply = %q", reply)
	}
	if reply := mustHandle(t, s, "pause the standup job"); reply != "✅ Paused job 'standup'." {
		t.Errorf("pause reply = %q", reply)
	}
	if job, _ := e.jobs.GetJob(ctx, testUser, "standup"); job == nil || job.Enabled {
		t.Error("job still enabled after pause")
	}
	if reply := mustHandle(t, s, "resume the standup job"); reply != "✅ Enabled job 'standup'." {
		t.Errorf("resume reply = %q", reply)
	}

	reply := mustHandle(t, s, "change the standup job to daily at 10:00")
	if !strings.HasPrefix(reply, "✅ Updated job 'standup' successfully!") {
		t.Errorf("edit reply = %q", reply)
	}
	if job, _ := e.jobs.GetJob(ctx, testUser, "standup"); job == nil || job.ScheduleText != "daily at 10:00" {
		t.Errorf("job after edit = %+v", job)
	}

	if reply := mustHandle(t, s, "delete the standup job"); reply != "✅ Deleted job 'standup' successfully." {
		t.Errorf("delete reply = %q", reply)
	}
	if reply := mustHandle(t, s, "delete the standup job"); reply != "📭 You have no scheduled jobs to manage." {
		t.Errorf("empty reply = %q", reply)
	}
}

func TestCronManageMatchesSpacedNames(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	s := NewCronManage(descriptor(t, "cron_manage"), e.deps)
	seedJob(t, e, "reminder_drink_water", "every 2 hours")
	seedJob(t, e, "reminder", "every 3 hours")

	if reply := mustHandle(t, s, "disable the reminder drink water job"); reply != "✅ Paused job 'reminder_drink_water'." {
		t.Errorf("reply = %q", reply)
	}
}

func TestCronManageAsksWhichJob(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	s := NewCronManage(descriptor(t, "cron_manage"), e.deps)
	seedJob(t, e, "standup", "daily at 09:00")

	if reply := mustHandle(t, s, "delete that job"); reply != "❓ Which job? Use /listjobs to see job names." {
		t.Errorf("reply = %q", reply)
	}
}

func TestCronManageResolvesNameWithAI(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.deps.AI = &fakeAI{reply: `{"action": "delete", "job_name": "water_reminder"}`}
	s := NewCronManage(descriptor(t, "cron_manage"), e.deps)
	seedJob(t, e, "water_reminder", "every 2 hours")

	if reply := mustHandle(t, s, "remove the hydration job"); reply != "✅ Deleted job 'water_reminder' successfully." {
		t.Errorf("reply = %q", reply)
	}
	if _, err := e.jobs.GetJob(context.Background(), testUser, "water_reminder"); !errors.Is(err, scheduler.ErrJobNotFound) {
		t.Errorf("get after delete: %v", err)
	}
}
