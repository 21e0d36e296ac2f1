package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bugtrail/api/internal/rbac"
	"bugtrail/api/internal/store"
	"bugtrail/api/internal/util"
)

// EventKind identifies the creation event that triggers a fan-out.
type EventKind string

const (
	EventUserCreated    EventKind = "user"
	EventProjectCreated EventKind = "project"
	EventIssueCreated   EventKind = "issue"
	EventReportCreated  EventKind = "report"
)

// Event carries the just-created record into the targeting engine.
// DisplayName is the record's human label (title, subject, or "first
// last" for users); Project is the owning project's title, empty for
// user and project events where the record itself scopes the lookup.
type Event struct {
	Kind        EventKind
	RecordID    string
	DisplayName string
	Project     string
}

func eligibleRoles(kind EventKind) []string {
	switch kind {
	case EventIssueCreated:
		return []string{string(rbac.RoleAdmin), string(rbac.RoleProjectManager), string(rbac.RoleDeveloper)}
	case EventReportCreated:
		return []string{string(rbac.RoleAdmin), string(rbac.RoleProjectManager), string(rbac.RoleDeveloper), string(rbac.RoleSubmitter)}
	case EventUserCreated, EventProjectCreated:
		return []string{string(rbac.RoleAdmin), string(rbac.RoleProjectManager)}
	default:
		return nil
	}
}

// Notify fans one notification out to every eligible user. The
// triggering record is already committed, so per-user save failures are
// collected and returned joined rather than aborting the remaining
// targets. Callers log the result; they do not fail the mutation on it.
func (s *Service) Notify(ctx context.Context, event Event) error {
	candidates, err := s.store.ListUsersByRoles(ctx, eligibleRoles(event.Kind))
	if err != nil {
		return fmt.Errorf("list notification candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	scope, err := s.resolveScope(ctx, event)
	if err != nil {
		return err
	}

	note := store.Notification{
		ID:      util.NewID("ntf"),
		Date:    time.Now().UTC().Format(time.RFC3339),
		IsNew:   true,
		Message: fmt.Sprintf("New %s %s created", event.Kind, event.DisplayName),
		Link:    fmt.Sprintf("/%ss/%s", event.Kind, event.RecordID),
		Title:   event.DisplayName,
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, candidate := range candidates {
		if !scope.eligible(candidate) {
			continue
		}
		wg.Add(1)
		go func(user store.User) {
			defer wg.Done()
			updated := prependNotification(user.Notifications, note)
			if err := s.store.UpdateUserNotifications(ctx, user.ID, updated); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("notify user %s: %w", user.ID, err))
				mu.Unlock()
			}
		}(candidate)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// prependNotification puts the new entry at the head and keeps only the
// newest entries up to the retention limit.
func prependNotification(list []store.Notification, note store.Notification) []store.Notification {
	updated := make([]store.Notification, 0, len(list)+1)
	updated = append(updated, note)
	updated = append(updated, list...)
	if len(updated) > store.NotificationLimit {
		updated = updated[:store.NotificationLimit]
	}
	return updated
}

// notifyScope holds the project context needed by the per-candidate
// eligibility predicate.
type notifyScope struct {
	kind    EventKind
	manager string
	issues  []store.Issue
	reports []store.Report
}

func (s *Service) resolveScope(ctx context.Context, event Event) (notifyScope, error) {
	scope := notifyScope{kind: event.Kind}

	if event.Kind == EventUserCreated {
		// No project context; every Admin and Project Manager qualifies.
		return scope, nil
	}

	project, err := s.store.GetProjectByTitle(ctx, event.Project)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return notifyScope{}, fmt.Errorf("resolve project %q: %w", event.Project, err)
	}
	scope.manager = project.Manager

	if event.Kind == EventProjectCreated {
		return scope, nil
	}

	scope.issues, err = s.store.ListIssuesByProject(ctx, event.Project)
	if err != nil {
		return notifyScope{}, fmt.Errorf("list project issues: %w", err)
	}
	scope.reports, err = s.store.ListReportsByProject(ctx, event.Project)
	if err != nil {
		return notifyScope{}, fmt.Errorf("list project reports: %w", err)
	}
	return scope, nil
}

func (sc notifyScope) eligible(user store.User) bool {
	switch rbac.Role(user.Role) {
	case rbac.RoleAdmin:
		return true
	case rbac.RoleProjectManager:
		if sc.kind == EventUserCreated {
			return true
		}
		return nameMatches(user.Name, sc.manager)
	case rbac.RoleDeveloper:
		for _, issue := range sc.issues {
			if nameMatches(user.Name, issue.Developer) {
				return true
			}
		}
	case rbac.RoleSubmitter:
		for _, report := range sc.reports {
			if nameMatches(user.Name, report.Submitter) {
				return true
			}
		}
	}
	return false
}

// nameMatches compares a stored name against a free-text "First Last"
// field. Matching is exact and case-sensitive on a single-space split;
// single-token or multi-token fields never match. Known limitation.
func nameMatches(name store.Name, field string) bool {
	first, last, found := strings.Cut(field, " ")
	if !found || strings.Contains(last, " ") {
		return false
	}
	return name.First == first && name.Last == last
}
