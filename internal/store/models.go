package store

import "time"

type Name struct {
	First string `json:"first"`
	Last  string `json:"last"`
}

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

// Notification is an entry in a user's embedded notification list.
// Lists are newest-first and truncated to NotificationLimit on append.
type Notification struct {
	ID      string `json:"id"`
	Date    string `json:"date"`
	IsNew   bool   `json:"isNewNotification"`
	Message string `json:"message"`
	Link    string `json:"notificationLink"`
	Title   string `json:"title"`
}

// NotificationLimit caps each user's retained notification history.
const NotificationLimit = 100

type Comment struct {
	ID        string `json:"id"`
	UserName  string `json:"userName"`
	Comment   string `json:"comment"`
	TimeStamp string `json:"timeStamp"`
}

// Attachment references a blob by FileID. The blob lives in the object
// store; deleting the reference must delete the blob as well.
type Attachment struct {
	FileID       string `json:"fileId"`
	FileName     string `json:"fileName"`
	OriginalName string `json:"originalName"`
	UserName     string `json:"userName"`
	ContentType  string `json:"contentType"`
	UploadDate   string `json:"uploadDate"`
}

type Modification struct {
	Type          string `json:"type"`
	PreviousState string `json:"previousState"`
	CurrentState  string `json:"currentState"`
	Modified      string `json:"modified"`
}

// ProfileImage mirrors Attachment for a user's single profile image.
type ProfileImage struct {
	ImageID      string `json:"imageId"`
	ImageName    string `json:"imageName"`
	OriginalName string `json:"originalName"`
	UserName     string `json:"userName"`
	ContentType  string `json:"contentType"`
	UploadDate   string `json:"uploadDate"`
}

type User struct {
	ID            string         `json:"id"`
	Name          Name           `json:"name"`
	Email         string         `json:"email"`
	Role          string         `json:"role"`
	PasswordHash  string         `json:"-"`
	Address       *Address       `json:"address,omitempty"`
	Image         []ProfileImage `json:"userImage"`
	Notifications []Notification `json:"notifications"`
	Created       time.Time      `json:"created"`
}

// DisplayName is the "first last" string the rest of the system keys
// on when matching users to projects, issues, and reports.
func (u User) DisplayName() string {
	return u.Name.First + " " + u.Name.Last
}

type Project struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Manager     string `json:"manager"`
	Backend     string `json:"backend,omitempty"`
	Frontend    string `json:"frontend,omitempty"`
	ClientName  string `json:"clientName,omitempty"`
	Type        string `json:"type,omitempty"`
	Created     string `json:"created"`
}

type Issue struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Project       string         `json:"project"`
	Developer     string         `json:"developer"`
	Submitter     string         `json:"submitter"`
	Priority      string         `json:"priority"`
	Status        string         `json:"status"`
	Type          string         `json:"type"`
	Created       string         `json:"created"`
	Modified      string         `json:"modified"`
	Comments      []Comment      `json:"comments"`
	Attachments   []Attachment   `json:"attachments"`
	Modifications []Modification `json:"modifications"`
}

type Report struct {
	ID          string       `json:"id"`
	Subject     string       `json:"subject"`
	Description string       `json:"description"`
	Project     string       `json:"project"`
	Submitter   string       `json:"submitter"`
	Type        string       `json:"type"`
	Created     string       `json:"created"`
	Comments    []Comment    `json:"comments"`
	Attachments []Attachment `json:"attachments"`
}
