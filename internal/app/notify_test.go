package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"bugtrail/api/internal/store"
)

func TestIssueFanOutTargetsMatchingRoles(t *testing.T) {
	fs := newFakeStore()
	admin := seedUser(fs, "usr-a", "Ada", "Admin", "ada@example.com", "Admin", "pw")
	manager := seedUser(fs, "usr-b", "Morgan", "Lee", "morgan@example.com", "Project Manager", "pw")
	dev := seedUser(fs, "usr-c", "Devon", "Reyes", "devon@example.com", "Developer", "pw")
	fs.projects["prj-1"] = store.Project{ID: "prj-1", Title: "Apollo", Manager: "Morgan Lee"}
	svc, _, _ := newTestService(fs)

	created, err := svc.CreateIssue(context.Background(), IssueInput{
		Title:       "Login broken",
		Description: "500 on submit",
		Project:     "Apollo",
		Developer:   "Someone Else",
		Submitter:   "Avery Quinn",
		Priority:    "High",
		Status:      "Open",
		Type:        "Bug",
		Created:     "2026-08-29",
	})
	if err != nil {
		t.Fatalf("create issue: %v", err)
	}

	for _, tc := range []struct {
		name  string
		id    string
		wants bool
	}{
		{"admin always notified", admin.ID, true},
		{"manager matching project manager notified", manager.ID, true},
		{"developer not matching issue developer skipped", dev.ID, false},
	} {
		user := fs.users[tc.id]
		if tc.wants {
			if len(user.Notifications) != 1 {
				t.Fatalf("%s: expected one notification, got %d", tc.name, len(user.Notifications))
			}
			head := user.Notifications[0]
			if head.Message != "New issue Login broken created" {
				t.Fatalf("%s: unexpected message %q", tc.name, head.Message)
			}
			if head.Link != "/issues/"+created.IssueID {
				t.Fatalf("%s: unexpected link %q", tc.name, head.Link)
			}
			if head.Title != "Login broken" {
				t.Fatalf("%s: unexpected title %q", tc.name, head.Title)
			}
			if !head.IsNew {
				t.Fatalf("%s: expected unread notification", tc.name)
			}
		} else if len(user.Notifications) != 0 {
			t.Fatalf("%s: expected no notifications, got %d", tc.name, len(user.Notifications))
		}
	}
}

func TestDeveloperMatchingIssueDeveloperIsNotified(t *testing.T) {
	fs := newFakeStore()
	dev := seedUser(fs, "usr-c", "Devon", "Reyes", "devon@example.com", "Developer", "pw")
	fs.projects["prj-1"] = store.Project{ID: "prj-1", Title: "Apollo", Manager: "Morgan Lee"}
	svc, _, _ := newTestService(fs)

	if _, err := svc.CreateIssue(context.Background(), IssueInput{
		Title:       "Login broken",
		Description: "500 on submit",
		Project:     "Apollo",
		Developer:   "Devon Reyes",
		Submitter:   "Avery Quinn",
		Priority:    "High",
		Status:      "Open",
		Type:        "Bug",
		Created:     "2026-08-29",
	}); err != nil {
		t.Fatalf("create issue: %v", err)
	}

	if len(fs.users[dev.ID].Notifications) != 1 {
		t.Fatalf("expected assigned developer to be notified")
	}
}

func TestReportFanOutIncludesSubmitters(t *testing.T) {
	fs := newFakeStore()
	submitter := seedUser(fs, "usr-s", "Sam", "Ortiz", "sam@example.com", "Submitter", "pw")
	outsider := seedUser(fs, "usr-t", "Toni", "Vale", "toni@example.com", "Submitter", "pw")
	fs.projects["prj-1"] = store.Project{ID: "prj-1", Title: "Apollo", Manager: "Morgan Lee"}
	fs.reports["rpt-0"] = store.Report{ID: "rpt-0", Subject: "Weekly status", Project: "Apollo", Submitter: "Sam Ortiz"}
	svc, _, _ := newTestService(fs)

	if _, err := svc.CreateReport(context.Background(), ReportInput{
		Subject:     "Crash report",
		Description: "Crashes on start",
		Project:     "Apollo",
		Submitter:   "Sam Ortiz",
		Type:        "Defect",
		Created:     "2026-08-29",
	}); err != nil {
		t.Fatalf("create report: %v", err)
	}

	if len(fs.users[submitter.ID].Notifications) != 1 {
		t.Fatalf("expected matching submitter to be notified")
	}
	if len(fs.users[outsider.ID].Notifications) != 0 {
		t.Fatalf("expected non-matching submitter to be skipped")
	}
}

func TestNameMatchingIsExactSingleSpaceSplit(t *testing.T) {
	for _, tc := range []struct {
		name  store.Name
		field string
		want  bool
	}{
		{store.Name{First: "Morgan", Last: "Lee"}, "Morgan Lee", true},
		{store.Name{First: "Morgan", Last: "Lee"}, "morgan lee", false},
		{store.Name{First: "Morgan", Last: "Lee"}, "Morgan", false},
		{store.Name{First: "Morgan", Last: "Lee"}, "Morgan Lee Jr", false},
		{store.Name{First: "Morgan", Last: "Lee"}, "", false},
	} {
		if got := nameMatches(tc.name, tc.field); got != tc.want {
			t.Errorf("nameMatches(%v, %q) = %v, want %v", tc.name, tc.field, got, tc.want)
		}
	}
}

func TestNotificationListIsBoundedAtOneHundred(t *testing.T) {
	var list []store.Notification
	for i := 0; i < 100; i++ {
		list = prependNotification(list, store.Notification{ID: "n" + strconv.Itoa(i)})
	}
	if len(list) != 100 {
		t.Fatalf("expected 100 entries, got %d", len(list))
	}
	oldest := list[99].ID

	list = prependNotification(list, store.Notification{ID: "n100"})
	if len(list) != 100 {
		t.Fatalf("expected list to stay at 100 entries, got %d", len(list))
	}
	if list[0].ID != "n100" {
		t.Fatalf("expected newest entry at index 0, got %s", list[0].ID)
	}
	for _, note := range list {
		if note.ID == oldest {
			t.Fatalf("expected oldest entry %s to be evicted", oldest)
		}
	}
}

func TestFanOutFailureIsIsolatedPerUser(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "usr-a", "Ada", "Admin", "ada@example.com", "Admin", "pw")
	seedUser(fs, "usr-b", "Bea", "Boss", "bea@example.com", "Admin", "pw")
	fs.projects["prj-1"] = store.Project{ID: "prj-1", Title: "Apollo", Manager: "Morgan Lee"}

	saved := make(map[string][]store.Notification)
	fs.updateUserNotificationsFn = func(_ context.Context, id string, notifications []store.Notification) error {
		if id == "usr-a" {
			return errors.New("connection reset")
		}
		saved[id] = notifications
		return nil
	}
	svc, _, _ := newTestService(fs)

	err := svc.Notify(context.Background(), Event{
		Kind:        EventProjectCreated,
		RecordID:    "prj-1",
		DisplayName: "Apollo",
		Project:     "Apollo",
	})
	if err == nil {
		t.Fatalf("expected joined error for the failed save")
	}
	if len(saved) != 1 || saved["usr-b"] == nil {
		t.Fatalf("expected the other user's save to proceed, got %v", saved)
	}
}

func TestCreateIssueSucceedsWhenFanOutFails(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "usr-a", "Ada", "Admin", "ada@example.com", "Admin", "pw")
	fs.projects["prj-1"] = store.Project{ID: "prj-1", Title: "Apollo", Manager: "Morgan Lee"}
	fs.updateUserNotificationsFn = func(context.Context, string, []store.Notification) error {
		return fmt.Errorf("redis down")
	}
	svc, _, _ := newTestService(fs)

	created, err := svc.CreateIssue(context.Background(), IssueInput{
		Title:       "Login broken",
		Description: "500 on submit",
		Project:     "Apollo",
		Developer:   "Devon Reyes",
		Submitter:   "Avery Quinn",
		Priority:    "High",
		Status:      "Open",
		Type:        "Bug",
		Created:     "2026-08-29",
	})
	if err != nil {
		t.Fatalf("create should survive fan-out failure, got %v", err)
	}
	if _, ok := fs.issues[created.IssueID]; !ok {
		t.Fatalf("expected issue to be persisted")
	}
}

func TestDeleteUserPrunesNotificationsByTitle(t *testing.T) {
	fs := newFakeStore()
	victim := seedUser(fs, "usr-v", "Avery", "Quinn", "avery@example.com", "Developer", "pw")
	other := seedUser(fs, "usr-o", "Ada", "Admin", "ada@example.com", "Admin", "pw")
	other.Notifications = []store.Notification{
		{ID: "n1", Title: "Avery Quinn", Message: "New user Avery Quinn created"},
		{ID: "n2", Title: "Apollo", Message: "New project Apollo created"},
		{ID: "n3", Title: "Avery Quinn", Message: "New user Avery Quinn created"},
	}
	fs.users[other.ID] = other
	svc, _, _ := newTestService(fs)

	if _, err := svc.DeleteUser(context.Background(), victim.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	remaining := fs.users[other.ID].Notifications
	if len(remaining) != 1 {
		t.Fatalf("expected one surviving notification, got %d", len(remaining))
	}
	if remaining[0].ID != "n2" {
		t.Fatalf("expected unrelated entry to survive, got %s", remaining[0].ID)
	}
}

// Notification appends are whole-document read-modify-write. Two
// writers that load the same snapshot overwrite each other: the last
// write wins and the other entry is lost. An accepted limitation, not
// something the store guards against.
func TestConcurrentNotificationAppendsCanLoseAnEntry(t *testing.T) {
	fs := newFakeStore()
	user := seedUser(fs, "usr-1", "Avery", "Quinn", "avery@example.com", "Admin", "pw")
	ctx := context.Background()

	snapshot, err := fs.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	first := prependNotification(snapshot.Notifications, store.Notification{ID: "ntf-a"})
	second := prependNotification(snapshot.Notifications, store.Notification{ID: "ntf-b"})

	if err := fs.UpdateUserNotifications(ctx, user.ID, first); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := fs.UpdateUserNotifications(ctx, user.ID, second); err != nil {
		t.Fatalf("second write: %v", err)
	}

	final := fs.users[user.ID].Notifications
	if len(final) != 1 || final[0].ID != "ntf-b" {
		t.Fatalf("expected the last write to win with one entry lost, got %v", final)
	}
}

func TestAppendNotificationReachesEveryUser(t *testing.T) {
	fs := newFakeStore()
	admin := seedUser(fs, "usr-a", "Ada", "Admin", "ada@example.com", "Admin", "pw")
	submitter := seedUser(fs, "usr-s", "Sam", "Ortiz", "sam@example.com", "Submitter", "pw")
	svc, _, _ := newTestService(fs)

	note, err := svc.AppendNotification(context.Background(), "Maintenance window tonight", "/projects", "Apollo")
	if err != nil {
		t.Fatalf("append notification: %v", err)
	}
	if note.ID == "" || !note.IsNew {
		t.Fatalf("expected a fresh unread notification, got %+v", note)
	}

	for _, id := range []string{admin.ID, submitter.ID} {
		notes := fs.users[id].Notifications
		if len(notes) != 1 || notes[0].Message != "Maintenance window tonight" {
			t.Fatalf("expected broadcast entry for %s, got %v", id, notes)
		}
	}
}

func TestUserCreatedNotifiesAllAdminsAndManagers(t *testing.T) {
	fs := newFakeStore()
	admin := seedUser(fs, "usr-a", "Ada", "Admin", "ada@example.com", "Admin", "pw")
	manager := seedUser(fs, "usr-b", "Morgan", "Lee", "morgan@example.com", "Project Manager", "pw")
	dev := seedUser(fs, "usr-c", "Devon", "Reyes", "devon@example.com", "Developer", "pw")
	svc, _, _ := newTestService(fs)

	created, err := svc.CreateUser(context.Background(), CreateUserInput{
		Name:  store.Name{First: "Nia", Last: "Park"},
		Email: "nia@example.com",
		Role:  "Submitter",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.TemporaryPassword == "" {
		t.Fatalf("expected temporary password in response when SMTP is unconfigured")
	}

	if len(fs.users[admin.ID].Notifications) != 1 {
		t.Fatalf("expected admin to be notified")
	}
	if len(fs.users[manager.ID].Notifications) != 1 {
		t.Fatalf("expected project manager to be notified")
	}
	if len(fs.users[dev.ID].Notifications) != 0 {
		t.Fatalf("expected developer to be skipped for user creation")
	}
	if got := fs.users[admin.ID].Notifications[0].Title; got != "Nia Park" {
		t.Fatalf("expected notification title Nia Park, got %q", got)
	}
}
