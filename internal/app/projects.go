package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"bugtrail/api/internal/store"
	"bugtrail/api/internal/util"
)

type ProjectInput struct {
	ID          string `json:"_id"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
	Manager     string `json:"manager" validate:"required"`
	Backend     string `json:"backend"`
	Frontend    string `json:"frontend"`
	ClientName  string `json:"clientName"`
	Type        string `json:"type"`
	Created     string `json:"created" validate:"required"`
}

type CreatedProject struct {
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
	Message   string `json:"message"`
}

func (s *Service) ListProjects(ctx context.Context) ([]store.Project, error) {
	return s.store.ListProjects(ctx)
}

func (s *Service) GetProject(ctx context.Context, id string) (store.Project, error) {
	project, err := s.store.GetProject(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Project{}, notFoundError("Project not found")
	}
	return project, err
}

func (s *Service) CreateProject(ctx context.Context, input ProjectInput) (CreatedProject, error) {
	if input.Created == "" || input.Description == "" || input.Manager == "" || input.Title == "" {
		return CreatedProject{}, validationError("Created, Description, Manager, and Title fields are required")
	}

	if _, err := s.store.GetProjectByTitle(ctx, input.Title); err == nil {
		return CreatedProject{}, conflictError("Duplicate project title")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return CreatedProject{}, err
	}

	project := store.Project{
		ID:          util.NewID("prj"),
		Title:       input.Title,
		Description: input.Description,
		Manager:     input.Manager,
		Backend:     input.Backend,
		Frontend:    input.Frontend,
		ClientName:  input.ClientName,
		Type:        input.Type,
		Created:     input.Created,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		if store.IsUniqueViolation(err) {
			return CreatedProject{}, conflictError("Duplicate project title")
		}
		return CreatedProject{}, err
	}

	if err := s.Notify(ctx, Event{
		Kind:        EventProjectCreated,
		RecordID:    project.ID,
		DisplayName: project.Title,
		Project:     project.Title,
	}); err != nil {
		log.Printf("notification fan-out for project %s: %v", project.ID, err)
	}

	return CreatedProject{
		ProjectID: project.ID,
		Title:     project.Title,
		Message:   fmt.Sprintf("New project %s created", project.Title),
	}, nil
}

// UpdateProject replaces every scalar field from the payload. Omitted
// fields overwrite with their zero value; callers send full documents.
func (s *Service) UpdateProject(ctx context.Context, input ProjectInput) (store.Project, error) {
	if input.ID == "" {
		return store.Project{}, validationError("Project Id is required")
	}

	project, err := s.store.GetProject(ctx, input.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Project{}, notFoundError("Project not found")
	}
	if err != nil {
		return store.Project{}, err
	}

	// Renaming to the caller's own title is allowed.
	if duplicate, err := s.store.GetProjectByTitle(ctx, input.Title); err == nil {
		if duplicate.ID != input.ID {
			return store.Project{}, conflictError("Duplicate project title")
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.Project{}, err
	}

	project.Title = input.Title
	project.Description = input.Description
	project.Manager = input.Manager
	project.Backend = input.Backend
	project.Frontend = input.Frontend
	project.ClientName = input.ClientName
	project.Type = input.Type
	project.Created = input.Created

	if err := s.store.UpdateProject(ctx, project); err != nil {
		if store.IsUniqueViolation(err) {
			return store.Project{}, conflictError("Duplicate project title")
		}
		return store.Project{}, err
	}
	return project, nil
}

func (s *Service) DeleteProject(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", validationError("Project ID Required")
	}

	project, err := s.store.GetProject(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFoundError("Project not found")
	}
	if err != nil {
		return "", err
	}

	if err := s.store.DeleteProject(ctx, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("Project %s with ID %s deleted", project.Title, id), nil
}
