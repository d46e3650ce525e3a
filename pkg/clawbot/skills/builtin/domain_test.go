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

func TestNotes(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	s := NewNotes(descriptor(t, "notes"), e.deps)

	if reply := mustHandle(t, s, "show my notes"); !strings.HasPrefix(reply, "📝 You don't have any notes yet.") {
		t.Errorf("empty list reply = %q", reply)
	}
	if reply := mustHandle(t, s, "take a note: call the dentist"); reply != "✅ Note #1 saved!\n\n📌 Quick Note\ncall the dentist" {
		t.Errorf("create reply = %q", reply)
	}

	e.deps.AI = &fakeAI{reply: `{"title": "Birthday", "content": "Buy a card for Ana"}`}
	if reply := mustHandle(t, s, "write this down buy a card for ana"); reply != "✅ Note #2 saved!\n\n📌 Birthday\nBuy a card for Ana" {
		t.Errorf("ai create reply = %q", reply)
	}

	reply := mustHandle(t, s, "show my notes")
	if !strings.HasPrefix(reply, "📝 Your recent notes:") || !strings.Contains(reply, "call the dentist") || !strings.Contains(reply, "Birthday") {
		t.Errorf("list reply = %q", reply)
	}
	if reply := mustHandle(t, s, "search notes for dentist"); !strings.HasPrefix(reply, "🔍 Notes matching 'dentist':") || strings.Contains(reply, "Birthday") {
		t.Errorf("search reply = %q", reply)
	}
	if reply := mustHandle(t, s, "search notes for pizza?"); reply != "🔍 No notes mention 'pizza'." {
		t.Errorf("empty search reply = %q", reply)
	}
}

func TestShoppingList(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	s := NewShopping(descriptor(t, "shopping"), e.deps)

	if reply := mustHandle(t, s, "add 2 milk and eggs to my shopping list"); reply != "🛒 Added to shopping list:\n\n• 2 milk\n• eggs" {
		t.Errorf("add reply = %q", reply)
	}
	if reply := mustHandle(t, s, "show my shopping list"); reply != "🛒 Shopping list (2):\n\n• 2 milk\n• eggs" {
		t.Errorf("list reply = %q", reply)
	}
	if reply := mustHandle(t, s, "I bought eggs"); reply != "✅ Checked off: eggs" {
		t.Errorf("bought reply = %q", reply)
	}
	if _, _, err := handle(t, s, "I bought a new car"); !errors.Is(err, skills.ErrDeclined) {
		t.Errorf("unknown item err = %v, want ErrDeclined", err)
	}
	if reply := mustHandle(t, s, "clear my shopping list"); reply != "🛒 Cleared 1 item from your shopping list." {
		t.Errorf("clear reply = %q", reply)
	}
	if reply := mustHandle(t, s, "clear my shopping list"); reply != "🛒 Your shopping list is already empty." {
		t.Errorf("second clear reply = %q", reply)
	}
}

func TestParseItems(t *testing.T) {
	t.Parallel()
	got := parseItems("2 milk, some bread and 3 cans of beans")
	want := []parsedItem{{"milk", "2"}, {"bread", ""}, {"beans", "3 cans"}}
	if len(got) != len(want) {
		t.Fatalf("parseItems = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseTimer(t *testing.T) {
	t.Parallel()
	tests := []struct {
		spec string
		d    time.Duration
		name string
		ok   bool
	}{
		{"10 minutes", 10 * time.Minute, "Timer", true},
		{"1h 30m for pasta", 90 * time.Minute, "pasta", true},
		{"2 hours 15 minutes", 2*time.Hour + 15*time.Minute, "Timer", true},
		{"5", 5 * time.Minute, "Timer", true},
		{"90 seconds to check the oven", 90 * time.Second, "check the oven", true},
		{"0 minutes", 0, "", false},
		{"a while", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			d, name, ok := parseTimer(tt.spec)
			if ok != tt.ok || d != tt.d || name != tt.name {
				t.Errorf("parseTimer = (%v, %q, %v), want (%v, %q, %v)", d, name, ok, tt.d, tt.name, tt.ok)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()
	tests := map[time.Duration]string{
		90 * time.Minute: "1h 30m",
		45 * time.Second: "45s",
		2 * time.Hour:    "2h",
		0:                "0s",
	}
	for d, want := range tests {
		if got := formatDuration(d); got != want {
			t.Errorf("formatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestTimerSchedulesAlert(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	s := NewTimer(descriptor(t, "timer"), e.deps)

	reply := mustHandle(t, s, "set a timer for 10 minutes for tea")
	if !strings.HasPrefix(reply, "⏱️ Timer #1 started!\n\n⏳ Duration: 10m\n🔔 Ends at: ") {
		t.Fatalf("reply = %q", reply)
	}
	job, err := e.jobs.GetJob(context.Background(), testUser, "timer_1")
	if err != nil {
		t.Fatalf("alert job: %v", err)
	}
	if job.Type != scheduler.TypeSendMessage || !job.Schedule.OneShot() {
		t.Errorf("job = %s oneshot=%v", job.Type, job.Schedule.OneShot())
	}
	if job.Param("message") != "⏰ Timer done: tea!" || job.Param("user_id") != testUser {
		t.Errorf("payload = %v", job.Payload)
	}

	if reply := mustHandle(t, s, "show my timers"); !strings.Contains(reply, "#1 tea (10m)") {
		t.Errorf("list reply = %q", reply)
	}
	if reply := mustHandle(t, s, "start a timer for 25 hours"); !strings.HasPrefix(reply, "⏱️ Timers can run for at most 24 hours.") {
		t.Errorf("too long reply = %q", reply)
	}
}

func TestTrackingLogAndReport(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	s := NewTracking(descriptor(t, "tracking"), e.deps)

	if reply := mustHandle(t, s, "I drank 2 glasses of water"); reply != "✅ Got it! Tracked 2 glasses of water." {
		t.Errorf("log reply = %q", reply)
	}
	if reply := mustHandle(t, s, "track 8000 steps"); reply != "✅ Got it! Tracked 8000 steps." {
		t.Errorf("unitless reply = %q", reply)
	}

	in, reply, err := handle(t, s, "show me my water report")
	if err != nil {
		t.Fatal(err)
	}
	if in.Label != "report" || !strings.HasPrefix(reply, "📊 Water Report - Last 7 Days") {
		t.Errorf("report = %s %q", in, reply)
	}
}

func TestTrackingWithAI(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.deps.AI = &fakeAI{reply: `{"should_track": true, "category": "Mood", "event_type": "feeling", "value": null,
		"schedule_report": {"enabled": true, "days": 7, "time": "21:00"}}`}
	s := NewTracking(descriptor(t, "tracking"), e.deps)

	reply := mustHandle(t, s, "log that my mood is great today")
	if !strings.HasPrefix(reply, "✅ Noted! Mood tracked.") || !strings.Contains(reply, "I'll send you a mood report every day at 21:00") {
		t.Errorf("reply = %q", reply)
	}
	job, err := e.jobs.GetJob(context.Background(), testUser, "tracking_report_mood")
	if err != nil {
		t.Fatalf("report job: %v", err)
	}
	if job.Type != scheduler.TypeReport || job.Param("category") != "mood" {
		t.Errorf("job = %s %v", job.Type, job.Payload)
	}
}

func TestTrackingDeclines(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	s := NewTracking(descriptor(t, "tracking"), e.deps)

	if _, _, err := handle(t, s, "I feel like logging off"); !errors.Is(err, skills.ErrDeclined) {
		t.Errorf("err = %v, want ErrDeclined", err)
	}

	e.deps.AI = &fakeAI{reply: `{"should_track": false}`}
	if _, _, err := handle(t, s, "record a podcast with me"); !errors.Is(err, skills.ErrDeclined) {
		t.Errorf("err = %v, want ErrDeclined", err)
	}
}

func TestTrackingSleep(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	s := NewTracking(descriptor(t, "tracking"), e.deps)

	if reply := mustHandle(t, s, "good night"); !strings.HasPrefix(reply, "🌙 Good night! The time is ") {
		t.Errorf("bedtime reply = %q", reply)
	}
	if reply := mustHandle(t, s, "good morning!"); !strings.HasPrefix(reply, "☀️ Good morning!") || !strings.Contains(reply, "You got about") {
		t.Errorf("wake reply = %q", reply)
	}
	if reply := mustHandle(t, s, "how did i sleep this week"); !strings.HasPrefix(reply, "📊 Sleep Report - Last 7 Days") {
		t.Errorf("sleep report reply = %q", reply)
	}

	// A second wake without a bedtime reports no duration.
	if reply := mustHandle(t, s, "i just woke up"); strings.Contains(reply, "You got about") {
		t.Errorf("unpaired wake reply = %q", reply)
	}
}

func TestTrackingIgnoresWeather(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	s := NewTracking(descriptor(t, "tracking"), e.deps)

	for _, text := range []string{"will it rain today", "log the weather", "create a new project"} {
		if in, ok := s.Detect(context.Background(), message(text)); ok {
			t.Errorf("%q detected as %s", text, in)
		}
	}
}
