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

type ReportInput struct {
	ID          string `json:"_id"`
	Subject     string `json:"subject" validate:"required"`
	Description string `json:"description" validate:"required"`
	Project     string `json:"project" validate:"required"`
	Submitter   string `json:"submitter" validate:"required"`
	Type        string `json:"type" validate:"required"`
	Created     string `json:"created" validate:"required"`
}

type CreatedReport struct {
	ReportID string `json:"reportId"`
	Subject  string `json:"subject"`
	Message  string `json:"message"`
}

type UpdateReportInput struct {
	ReportInput
	UserName string        `json:"userName"`
	Comments *CommentInput `json:"comments"`
}

func (s *Service) ListReports(ctx context.Context) ([]store.Report, error) {
	return s.store.ListReports(ctx)
}

func (s *Service) GetReport(ctx context.Context, id string) (store.Report, error) {
	report, err := s.store.GetReport(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Report{}, notFoundError("Report not found")
	}
	return report, err
}

func (s *Service) CreateReport(ctx context.Context, input ReportInput) (CreatedReport, error) {
	if err := s.validate.Struct(input); err != nil {
		return CreatedReport{}, validationError("All fields are required")
	}

	if _, err := s.store.GetReportBySubject(ctx, input.Subject); err == nil {
		return CreatedReport{}, conflictError("Duplicate report subject")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return CreatedReport{}, err
	}

	report := store.Report{
		ID:          util.NewID("rpt"),
		Subject:     input.Subject,
		Description: input.Description,
		Project:     input.Project,
		Submitter:   input.Submitter,
		Type:        input.Type,
		Created:     input.Created,
	}
	if err := s.store.InsertReport(ctx, report); err != nil {
		if store.IsUniqueViolation(err) {
			return CreatedReport{}, conflictError("Duplicate report subject")
		}
		return CreatedReport{}, err
	}

	if err := s.Notify(ctx, Event{
		Kind:        EventReportCreated,
		RecordID:    report.ID,
		DisplayName: report.Subject,
		Project:     report.Project,
	}); err != nil {
		log.Printf("notification fan-out for report %s: %v", report.ID, err)
	}

	return CreatedReport{
		ReportID: report.ID,
		Subject:  report.Subject,
		Message:  fmt.Sprintf("New report %s created", report.Subject),
	}, nil
}

// UpdateReport mirrors the issue update contract: scalars replace
// wholesale, an attached file or complete comment prepends, an
// incomplete comment payload is carried over silently.
func (s *Service) UpdateReport(ctx context.Context, input UpdateReportInput, file *ImageUpload) (store.Report, error) {
	if input.ID == "" {
		return store.Report{}, validationError("Report Id is required")
	}

	report, err := s.store.GetReport(ctx, input.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Report{}, notFoundError("Report not found")
	}
	if err != nil {
		return store.Report{}, err
	}

	if duplicate, err := s.store.GetReportBySubject(ctx, input.Subject); err == nil {
		if duplicate.ID != input.ID {
			return store.Report{}, conflictError("Duplicate report subject")
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.Report{}, err
	}

	if file != nil {
		fileID, err := s.blobs.Store(ctx, file.Content, file.Size, file.ContentType)
		if err != nil {
			return store.Report{}, fmt.Errorf("store attachment: %w", err)
		}
		report.Attachments = append([]store.Attachment{{
			FileID:       fileID,
			FileName:     file.FileName,
			OriginalName: file.FileName,
			UserName:     input.UserName,
			ContentType:  file.ContentType,
			UploadDate:   time.Now().UTC().Format(time.RFC3339),
		}}, report.Attachments...)
	}

	if input.Comments != nil {
		if input.Comments.UserName != "" && input.Comments.Comment != "" {
			report.Comments = append([]store.Comment{{
				ID:        util.NewID("cmt"),
				UserName:  input.Comments.UserName,
				Comment:   input.Comments.Comment,
				TimeStamp: time.Now().UTC().Format(time.RFC3339),
			}}, report.Comments...)
		}
	}

	report.Subject = input.Subject
	report.Description = input.Description
	report.Project = input.Project
	report.Submitter = input.Submitter
	report.Type = input.Type
	report.Created = input.Created

	if err := s.store.UpdateReport(ctx, report); err != nil {
		if store.IsUniqueViolation(err) {
			return store.Report{}, conflictError("Duplicate report subject")
		}
		return store.Report{}, err
	}
	return report, nil
}

func (s *Service) DeleteReportComment(ctx context.Context, reportID, commentID string) (store.Report, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Report{}, notFoundError("Report not found")
	}
	if err != nil {
		return store.Report{}, err
	}

	kept := make([]store.Comment, 0, len(report.Comments))
	found := false
	for _, comment := range report.Comments {
		if comment.ID == commentID {
			found = true
			continue
		}
		kept = append(kept, comment)
	}
	if !found {
		return store.Report{}, notFoundError("Comment not found")
	}

	report.Comments = kept
	if err := s.store.UpdateReport(ctx, report); err != nil {
		return store.Report{}, err
	}
	return report, nil
}

func (s *Service) OpenReportAttachment(ctx context.Context, reportID, attachmentID string) (io.ReadCloser, string, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", notFoundError("Report not found")
	}
	if err != nil {
		return nil, "", err
	}

	for _, attachment := range report.Attachments {
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

func (s *Service) DeleteReportAttachment(ctx context.Context, reportID, attachmentID string) (store.Report, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Report{}, notFoundError("Report not found")
	}
	if err != nil {
		return store.Report{}, err
	}

	found := false
	for _, attachment := range report.Attachments {
		if attachment.FileID == attachmentID {
			found = true
			break
		}
	}
	if !found {
		return store.Report{}, notFoundError("Attachment not found")
	}

	if err := s.blobs.Delete(ctx, attachmentID); err != nil {
		log.Printf("delete attachment blob %s: %v", attachmentID, err)
	}

	kept := make([]store.Attachment, 0, len(report.Attachments))
	for _, attachment := range report.Attachments {
		if attachment.FileID == attachmentID {
			continue
		}
		kept = append(kept, attachment)
	}
	report.Attachments = kept

	if err := s.store.UpdateReport(ctx, report); err != nil {
		return store.Report{}, err
	}
	return report, nil
}

func (s *Service) DeleteReport(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", validationError("Report ID Required")
	}

	report, err := s.store.GetReport(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFoundError("Report not found")
	}
	if err != nil {
		return "", err
	}

	if err := s.store.DeleteReport(ctx, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("Report %s with ID %s deleted", report.Subject, id), nil
}
