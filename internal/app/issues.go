package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"bugtrail/api/internal/blob"
	"bugtrail/api/internal/store"
	"bugtrail/api/internal/util"
)

type IssueInput struct {
	ID          string `json:"_id"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
	Project     string `json:"project" validate:"required"`
	Developer   string `json:"developer" validate:"required"`
	Submitter   string `json:"submitter" validate:"required"`
	Priority    string `json:"priority" validate:"required"`
	Status      string `json:"status" validate:"required"`
	Type        string `json:"type" validate:"required"`
	Created     string `json:"created" validate:"required"`
}

type CreatedIssue struct {
	IssueID string `json:"issueId"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// CommentInput is the single new comment an update may prepend.
type CommentInput struct {
	UserName string `json:"userName"`
	Comment  string `json:"comment"`
}

// ModificationInput is the single new history entry an update may prepend.
type ModificationInput struct {
	Type          string `json:"type"`
	PreviousState string `json:"previousState"`
	CurrentState  string `json:"currentState"`
	Modified      string `json:"modified"`
}

type UpdateIssueInput struct {
	IssueInput
	UserName      string             `json:"userName"`
	Modified      string             `json:"modified"`
	Comments      *CommentInput      `json:"comments"`
	Modifications *ModificationInput `json:"modifications"`
}

func (s *Service) ListIssues(ctx context.Context) ([]store.Issue, error) {
	return s.store.ListIssues(ctx)
}

func (s *Service) GetIssue(ctx context.Context, id string) (store.Issue, error) {
	issue, err := s.store.GetIssue(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Issue{}, notFoundError("Issue not found")
	}
	return issue, err
}

func (s *Service) CreateIssue(ctx context.Context, input IssueInput) (CreatedIssue, error) {
	if err := s.validate.Struct(input); err != nil {
		return CreatedIssue{}, validationError("All fields are required")
	}

	if _, err := s.store.GetIssueByTitle(ctx, input.Title); err == nil {
		return CreatedIssue{}, conflictError("Duplicate issue title")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return CreatedIssue{}, err
	}

	issue := store.Issue{
		ID:          util.NewID("iss"),
		Title:       input.Title,
		Description: input.Description,
		Project:     input.Project,
		Developer:   input.Developer,
		Submitter:   input.Submitter,
		Priority:    input.Priority,
		Status:      input.Status,
		Type:        input.Type,
		Created:     input.Created,
	}
	if err := s.store.InsertIssue(ctx, issue); err != nil {
		if store.IsUniqueViolation(err) {
			return CreatedIssue{}, conflictError("Duplicate issue title")
		}
		return CreatedIssue{}, err
	}

	if err := s.Notify(ctx, Event{
		Kind:        EventIssueCreated,
		RecordID:    issue.ID,
		DisplayName: issue.Title,
		Project:     issue.Project,
	}); err != nil {
		log.Printf("notification fan-out for issue %s: %v", issue.ID, err)
	}

	return CreatedIssue{
		IssueID: issue.ID,
		Title:   issue.Title,
		Message: fmt.Sprintf("New issue %s created", issue.Title),
	}, nil
}

// UpdateIssue applies full-replace semantics to scalars and prepend
// semantics to the embedded lists. An incomplete comment or history
// payload carries the existing list forward instead of failing the
// update; only top-level problems reject the request.
func (s *Service) UpdateIssue(ctx context.Context, input UpdateIssueInput, file *ImageUpload) (store.Issue, error) {
	if input.ID == "" {
		return store.Issue{}, validationError("Issue Id is required")
	}

	issue, err := s.store.GetIssue(ctx, input.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Issue{}, notFoundError("Issue not found")
	}
	if err != nil {
		return store.Issue{}, err
	}

	if duplicate, err := s.store.GetIssueByTitle(ctx, input.Title); err == nil {
		if duplicate.ID != input.ID {
			return store.Issue{}, conflictError("Duplicate issue title")
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.Issue{}, err
	}

	if file != nil {
		fileID, err := s.blobs.Store(ctx, file.Content, file.Size, file.ContentType)
		if err != nil {
			return store.Issue{}, fmt.Errorf("store attachment: %w", err)
		}
		issue.Attachments = append([]store.Attachment{{
			FileID:       fileID,
			FileName:     file.FileName,
			OriginalName: file.FileName,
			UserName:     input.UserName,
			ContentType:  file.ContentType,
			UploadDate:   time.Now().UTC().Format(time.RFC3339),
		}}, issue.Attachments...)
	}

	if input.Comments != nil {
		if input.Comments.UserName != "" && input.Comments.Comment != "" {
			issue.Comments = append([]store.Comment{{
				ID:        util.NewID("cmt"),
				UserName:  input.Comments.UserName,
				Comment:   input.Comments.Comment,
				TimeStamp: time.Now().UTC().Format(time.RFC3339),
			}}, issue.Comments...)
		}
	}

	if input.Modifications != nil {
		m := input.Modifications
		if m.Type != "" && m.PreviousState != "" && m.CurrentState != "" && m.Modified != "" {
			issue.Modifications = append([]store.Modification{{
				Type:          m.Type,
				PreviousState: m.PreviousState,
				CurrentState:  m.CurrentState,
				Modified:      m.Modified,
			}}, issue.Modifications...)
		}
	}

	issue.Title = input.Title
	issue.Description = input.Description
	issue.Project = input.Project
	issue.Developer = input.Developer
	issue.Submitter = input.Submitter
	issue.Priority = input.Priority
	issue.Status = input.Status
	issue.Type = input.Type
	issue.Created = input.Created
	issue.Modified = input.Modified

	if err := s.store.UpdateIssue(ctx, issue); err != nil {
		if store.IsUniqueViolation(err) {
			return store.Issue{}, conflictError("Duplicate issue title")
		}
		return store.Issue{}, err
	}
	return issue, nil
}

// DeleteIssueComment removes one comment by id.
func (s *Service) DeleteIssueComment(ctx context.Context, issueID, commentID string) (store.Issue, error) {
	issue, err := s.store.GetIssue(ctx, issueID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Issue{}, notFoundError("Issue not found")
	}
	if err != nil {
		return store.Issue{}, err
	}

	kept := make([]store.Comment, 0, len(issue.Comments))
	found := false
	for _, comment := range issue.Comments {
		if comment.ID == commentID {
			found = true
			continue
		}
		kept = append(kept, comment)
	}
	if !found {
		return store.Issue{}, notFoundError("Comment not found")
	}

	issue.Comments = kept
	if err := s.store.UpdateIssue(ctx, issue); err != nil {
		return store.Issue{}, err
	}
	return issue, nil
}

// OpenIssueAttachment streams the attachment blob with its recorded
// content type.
func (s *Service) OpenIssueAttachment(ctx context.Context, issueID, attachmentID string) (io.ReadCloser, string, error) {
	issue, err := s.store.GetIssue(ctx, issueID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", notFoundError("Issue not found")
	}
	if err != nil {
		return nil, "", err
	}

	for _, attachment := range issue.Attachments {
		if attachment.FileID == attachmentID {
			reader, err := s.blobs.Open(ctx, attachment.FileID)
			if errors.Is(err, blob.ErrNotFound) {
				return nil, "", notFoundError("Attachment not found")
			}
			if err != nil {
				return nil, "", err
			}
			return reader, attachment.ContentType, nil
		}
	}
	return nil, "", notFoundError("Attachment not found")
}

// DeleteIssueAttachment deletes the blob first, then drops the
// reference. A crash in between leaves a dangling reference, which
// degrades to a failed download rather than corruption.
func (s *Service) DeleteIssueAttachment(ctx context.Context, issueID, attachmentID string) (store.Issue, error) {
	issue, err := s.store.GetIssue(ctx, issueID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Issue{}, notFoundError("Issue not found")
	}
	if err != nil {
		return store.Issue{}, err
	}

	found := false
	for _, attachment := range issue.Attachments {
		if attachment.FileID == attachmentID {
			found = true
			break
		}
	}
	if !found {
		return store.Issue{}, notFoundError("Attachment not found")
	}

	if err := s.blobs.Delete(ctx, attachmentID); err != nil {
		log.Printf("delete attachment blob %s: %v", attachmentID, err)
	}

	kept := make([]store.Attachment, 0, len(issue.Attachments))
	for _, attachment := range issue.Attachments {
		if attachment.FileID == attachmentID {
			continue
		}
		kept = append(kept, attachment)
	}
	issue.Attachments = kept

	if err := s.store.UpdateIssue(ctx, issue); err != nil {
		return store.Issue{}, err
	}
	return issue, nil
}

func (s *Service) DeleteIssue(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", validationError("Issue ID Required")
	}

	issue, err := s.store.GetIssue(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFoundError("Issue not found")
	}
	if err != nil {
		return "", err
	}

	if err := s.store.DeleteIssue(ctx, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("Issue %s with ID %s deleted", issue.Title, id), nil
}
