package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"

	"bugtrail/api/internal/blob"
	"bugtrail/api/internal/store"
	"bugtrail/api/internal/util"
)

type CreateUserInput struct {
	Name    store.Name     `json:"name"`
	Email   string         `json:"email" validate:"required,email"`
	Role    string         `json:"role" validate:"required"`
	Address *store.Address `json:"address"`
}

type CreatedUser struct {
	UserID            string `json:"userId"`
	UserName          string `json:"userName"`
	Message           string `json:"message"`
	TemporaryPassword string `json:"temporaryPassword,omitempty"`
}

func (s *Service) ListUsers(ctx context.Context) ([]store.User, error) {
	return s.store.ListUsers(ctx)
}

func (s *Service) GetUser(ctx context.Context, id string) (store.User, error) {
	user, err := s.store.GetUser(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, notFoundError("User not found")
	}
	return user, err
}

// CreateUser provisions an account with a generated temporary password.
// The password is emailed when SMTP is configured; otherwise it is
// returned in the response so local setups stay usable.
func (s *Service) CreateUser(ctx context.Context, input CreateUserInput) (CreatedUser, error) {
	if input.Name.First == "" || input.Name.Last == "" || input.Email == "" || input.Role == "" {
		return CreatedUser{}, validationError("All fields are required")
	}
	if err := s.validate.Struct(input); err != nil {
		return CreatedUser{}, validationError(err.Error())
	}

	if _, err := s.store.GetUserByEmail(ctx, input.Email); err == nil {
		return CreatedUser{}, conflictError("User already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return CreatedUser{}, err
	}

	password, err := generateTempPassword(8)
	if err != nil {
		return CreatedUser{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return CreatedUser{}, err
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Name:         input.Name,
		Email:        input.Email,
		Role:         input.Role,
		PasswordHash: string(hash),
		Address:      input.Address,
		Created:      time.Now().UTC(),
	}
	if err := s.store.InsertUser(ctx, user); err != nil {
		if store.IsUniqueViolation(err) {
			return CreatedUser{}, conflictError("User already exists")
		}
		return CreatedUser{}, err
	}

	userName := user.DisplayName()

	if s.SMTPConfigured() {
		if err := s.mail.SendTemporaryPassword(user.Email, userName, password); err != nil {
			log.Printf("send temporary password to %s: %v", user.Email, err)
		}
	}

	if err := s.Notify(ctx, Event{
		Kind:        EventUserCreated,
		RecordID:    user.ID,
		DisplayName: userName,
	}); err != nil {
		log.Printf("notification fan-out for user %s: %v", user.ID, err)
	}

	created := CreatedUser{
		UserID:   user.ID,
		UserName: userName,
		Message:  fmt.Sprintf("New user %s created", userName),
	}
	if !s.SMTPConfigured() {
		created.TemporaryPassword = password
	}
	return created, nil
}

type PasswordChange struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type UpdateUserInput struct {
	ID             string          `json:"_id"`
	Email          string          `json:"email"`
	Role           string          `json:"role"`
	Address        *store.Address  `json:"address"`
	PasswordData   *PasswordChange `json:"passwordData"`
	NotificationID string          `json:"notificationId"`
}

// ImageUpload carries one uploaded file alongside a PATCH payload.
type ImageUpload struct {
	Content     io.Reader
	Size        int64
	FileName    string
	ContentType string
}

// UpdateUser applies a partial profile update. A supplied file replaces
// the single profile image, deleting the previous blob first. A
// notificationId marks that entry as read.
func (s *Service) UpdateUser(ctx context.Context, input UpdateUserInput, file *ImageUpload) (store.User, error) {
	if input.ID == "" {
		return store.User{}, validationError("User Id is required")
	}

	user, err := s.store.GetUser(ctx, input.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, notFoundError("User not found")
	}
	if err != nil {
		return store.User{}, err
	}

	userName := user.DisplayName()

	if file != nil {
		if len(user.Image) > 0 {
			old := user.Image[0]
			if err := s.blobs.Delete(ctx, old.ImageID); err != nil {
				log.Printf("delete replaced profile image %s: %v", old.ImageID, err)
			}
		}
		imageID, err := s.blobs.Store(ctx, file.Content, file.Size, file.ContentType)
		if err != nil {
			return store.User{}, fmt.Errorf("store profile image: %w", err)
		}
		user.Image = []store.ProfileImage{{
			ImageID:      imageID,
			ImageName:    file.FileName,
			OriginalName: file.FileName,
			UserName:     userName,
			ContentType:  file.ContentType,
			UploadDate:   time.Now().UTC().Format(time.RFC3339),
		}}
	}

	if input.Email != "" {
		user.Email = input.Email
	}
	if input.Role != "" {
		user.Role = input.Role
	}
	if input.Address != nil {
		user.Address = input.Address
	}

	if input.PasswordData != nil {
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.PasswordData.CurrentPassword)); err != nil {
			return store.User{}, validationError("Current password is invalid")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(input.PasswordData.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			return store.User{}, err
		}
		user.PasswordHash = string(hash)
	}

	if input.NotificationID != "" {
		for i := range user.Notifications {
			if user.Notifications[i].ID == input.NotificationID {
				user.Notifications[i].IsNew = false
			}
		}
	}

	if err := s.store.UpdateUser(ctx, user); err != nil {
		if store.IsUniqueViolation(err) {
			return store.User{}, conflictError("Email already in use")
		}
		return store.User{}, err
	}
	return user, nil
}

// DeleteUser removes the account and then scrubs every remaining user's
// notification list of entries referencing the deleted user by display
// name. The scrub is best effort; a partial failure leaves stale entries
// rather than resurrecting the account.
func (s *Service) DeleteUser(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", validationError("User ID Required")
	}

	user, err := s.store.GetUser(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFoundError("User not found")
	}
	if err != nil {
		return "", err
	}

	if err := s.store.DeleteUser(ctx, id); err != nil {
		return "", err
	}

	userName := user.DisplayName()

	remaining, err := s.store.ListUsers(ctx)
	if err != nil {
		log.Printf("notification cleanup after deleting user %s: %v", id, err)
		return fmt.Sprintf("User %s with ID %s deleted", userName, id), nil
	}
	for _, other := range remaining {
		pruned := pruneNotificationsByTitle(other.Notifications, userName)
		if len(pruned) == len(other.Notifications) {
			continue
		}
		if err := s.store.UpdateUserNotifications(ctx, other.ID, pruned); err != nil {
			log.Printf("prune notifications for user %s: %v", other.ID, err)
		}
	}

	return fmt.Sprintf("User %s with ID %s deleted", userName, id), nil
}

func pruneNotificationsByTitle(list []store.Notification, title string) []store.Notification {
	pruned := make([]store.Notification, 0, len(list))
	for _, note := range list {
		if note.Title == title {
			continue
		}
		pruned = append(pruned, note)
	}
	return pruned
}

// OpenUserImage streams the user's profile image blob.
func (s *Service) OpenUserImage(ctx context.Context, userID, imageID string) (io.ReadCloser, string, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", notFoundError("User not found")
	}
	if err != nil {
		return nil, "", err
	}

	for _, image := range user.Image {
		if image.ImageID == imageID {
			reader, err := s.blobs.Open(ctx, image.ImageID)
			if errors.Is(err, blob.ErrNotFound) {
				return nil, "", notFoundError("Image not found")
			}
			if err != nil {
				return nil, "", err
			}
			return reader, image.ContentType, nil
		}
	}
	return nil, "", notFoundError("Image not found")
}

// AppendNotification prepends one client-supplied entry to every
// user's list, subject to the same retention cap as engine fan-out.
// Per-user save failures are logged and do not block the rest.
func (s *Service) AppendNotification(ctx context.Context, message, link, title string) (store.Notification, error) {
	if message == "" {
		return store.Notification{}, validationError("Notification message is required")
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return store.Notification{}, err
	}

	note := store.Notification{
		ID:      util.NewID("ntf"),
		Date:    time.Now().UTC().Format(time.RFC3339),
		IsNew:   true,
		Message: message,
		Link:    link,
		Title:   title,
	}
	for _, user := range users {
		if err := s.store.UpdateUserNotifications(ctx, user.ID, prependNotification(user.Notifications, note)); err != nil {
			log.Printf("append notification for user %s: %v", user.ID, err)
		}
	}
	return note, nil
}

// Notifications returns the caller's own notification list.
func (s *Service) Notifications(ctx context.Context, userID string) ([]store.Notification, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("User not found")
	}
	if err != nil {
		return nil, err
	}
	if user.Notifications == nil {
		return []store.Notification{}, nil
	}
	return user.Notifications, nil
}
