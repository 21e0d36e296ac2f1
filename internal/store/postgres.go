package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation. The unique indexes on lowercased titles back the duplicate
// checks done in the service layer, so a race between two writers still
// resolves to a conflict rather than a second row.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func jsonbValue(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode jsonb: %w", err)
	}
	return raw, nil
}

func scanJSONB(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode jsonb: %w", err)
	}
	return nil
}

// --- users ---

const userColumns = `id, first_name, last_name, email, role, password_hash, address, user_image, notifications, created`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var (
		user          User
		address       []byte
		image         []byte
		notifications []byte
	)
	err := row.Scan(&user.ID, &user.Name.First, &user.Name.Last, &user.Email, &user.Role,
		&user.PasswordHash, &address, &image, &notifications, &user.Created)
	if err != nil {
		return User{}, err
	}
	if err := scanJSONB(address, &user.Address); err != nil {
		return User{}, err
	}
	if err := scanJSONB(image, &user.Image); err != nil {
		return User{}, err
	}
	if err := scanJSONB(notifications, &user.Notifications); err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY last_name, first_name`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) ListUsersByRoles(ctx context.Context, roles []string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE role = ANY($1)`, roles)
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email))
}

func (s *PostgresStore) InsertUser(ctx context.Context, user User) error {
	address, err := jsonbValue(user.Address)
	if err != nil {
		return err
	}
	image, err := jsonbValue(user.Image)
	if err != nil {
		return err
	}
	notifications, err := jsonbValue(user.Notifications)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, first_name, last_name, email, role, password_hash, address, user_image, notifications, created)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, user.ID, user.Name.First, user.Name.Last, user.Email, user.Role, user.PasswordHash,
		address, image, notifications, user.Created)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, user User) error {
	address, err := jsonbValue(user.Address)
	if err != nil {
		return err
	}
	image, err := jsonbValue(user.Image)
	if err != nil {
		return err
	}
	notifications, err := jsonbValue(user.Notifications)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET first_name=$2, last_name=$3, email=$4, role=$5, password_hash=$6,
			address=$7, user_image=$8, notifications=$9
		WHERE id=$1
	`, user.ID, user.Name.First, user.Name.Last, user.Email, user.Role, user.PasswordHash,
		address, image, notifications)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return requireRow(res, "update user")
}

func (s *PostgresStore) UpdateUserNotifications(ctx context.Context, id string, notifications []Notification) error {
	raw, err := jsonbValue(notifications)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET notifications=$2 WHERE id=$1`, id, raw)
	if err != nil {
		return fmt.Errorf("update notifications: %w", err)
	}
	return requireRow(res, "update notifications")
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2 WHERE id=$1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireRow(res, "update password")
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireRow(res, "delete user")
}

// --- projects ---

const projectColumns = `id, title, description, manager, backend, frontend, client_name, type, created`

func scanProject(row interface{ Scan(...any) error }) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Manager, &p.Backend, &p.Frontend,
		&p.ClientName, &p.Type, &p.Created)
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, id))
}

func (s *PostgresStore) GetProjectByTitle(ctx context.Context, title string) (Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE LOWER(title)=LOWER($1)`, title))
}

func (s *PostgresStore) InsertProject(ctx context.Context, p Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, title, description, manager, backend, frontend, client_name, type, created)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.Title, p.Description, p.Manager, p.Backend, p.Frontend, p.ClientName, p.Type, p.Created)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, p Project) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET title=$2, description=$3, manager=$4, backend=$5, frontend=$6, client_name=$7, type=$8, created=$9
		WHERE id=$1
	`, p.ID, p.Title, p.Description, p.Manager, p.Backend, p.Frontend, p.ClientName, p.Type, p.Created)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return requireRow(res, "update project")
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireRow(res, "delete project")
}

// --- issues ---

const issueColumns = `id, title, description, project, developer, submitter, priority, status, type, created, modified, comments, attachments, modifications`

func scanIssue(row interface{ Scan(...any) error }) (Issue, error) {
	var (
		issue         Issue
		comments      []byte
		attachments   []byte
		modifications []byte
	)
	err := row.Scan(&issue.ID, &issue.Title, &issue.Description, &issue.Project, &issue.Developer,
		&issue.Submitter, &issue.Priority, &issue.Status, &issue.Type, &issue.Created, &issue.Modified,
		&comments, &attachments, &modifications)
	if err != nil {
		return Issue{}, err
	}
	if err := scanJSONB(comments, &issue.Comments); err != nil {
		return Issue{}, err
	}
	if err := scanJSONB(attachments, &issue.Attachments); err != nil {
		return Issue{}, err
	}
	if err := scanJSONB(modifications, &issue.Modifications); err != nil {
		return Issue{}, err
	}
	return issue, nil
}

func (s *PostgresStore) ListIssues(ctx context.Context) ([]Issue, error) {
	return s.queryIssues(ctx, `SELECT `+issueColumns+` FROM issues ORDER BY title`)
}

func (s *PostgresStore) ListIssuesByProject(ctx context.Context, project string) ([]Issue, error) {
	return s.queryIssues(ctx, `SELECT `+issueColumns+` FROM issues WHERE project=$1`, project)
}

func (s *PostgresStore) queryIssues(ctx context.Context, query string, args ...any) ([]Issue, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (s *PostgresStore) GetIssue(ctx context.Context, id string) (Issue, error) {
	return scanIssue(s.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=$1`, id))
}

func (s *PostgresStore) GetIssueByTitle(ctx context.Context, title string) (Issue, error) {
	return scanIssue(s.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE LOWER(title)=LOWER($1)`, title))
}

func (s *PostgresStore) InsertIssue(ctx context.Context, issue Issue) error {
	comments, attachments, modifications, err := issueJSONB(issue)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO issues (id, title, description, project, developer, submitter, priority, status, type,
			created, modified, comments, attachments, modifications)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, issue.ID, issue.Title, issue.Description, issue.Project, issue.Developer, issue.Submitter,
		issue.Priority, issue.Status, issue.Type, issue.Created, issue.Modified,
		comments, attachments, modifications)
	if err != nil {
		return fmt.Errorf("insert issue: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateIssue(ctx context.Context, issue Issue) error {
	comments, attachments, modifications, err := issueJSONB(issue)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE issues
		SET title=$2, description=$3, project=$4, developer=$5, submitter=$6, priority=$7, status=$8,
			type=$9, created=$10, modified=$11, comments=$12, attachments=$13, modifications=$14
		WHERE id=$1
	`, issue.ID, issue.Title, issue.Description, issue.Project, issue.Developer, issue.Submitter,
		issue.Priority, issue.Status, issue.Type, issue.Created, issue.Modified,
		comments, attachments, modifications)
	if err != nil {
		return fmt.Errorf("update issue: %w", err)
	}
	return requireRow(res, "update issue")
}

func issueJSONB(issue Issue) (comments, attachments, modifications []byte, err error) {
	if comments, err = jsonbValue(issue.Comments); err != nil {
		return nil, nil, nil, err
	}
	if attachments, err = jsonbValue(issue.Attachments); err != nil {
		return nil, nil, nil, err
	}
	if modifications, err = jsonbValue(issue.Modifications); err != nil {
		return nil, nil, nil, err
	}
	return comments, attachments, modifications, nil
}

func (s *PostgresStore) DeleteIssue(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM issues WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	return requireRow(res, "delete issue")
}

// --- reports ---

const reportColumns = `id, subject, description, project, submitter, type, created, comments, attachments`

func scanReport(row interface{ Scan(...any) error }) (Report, error) {
	var (
		report      Report
		comments    []byte
		attachments []byte
	)
	err := row.Scan(&report.ID, &report.Subject, &report.Description, &report.Project,
		&report.Submitter, &report.Type, &report.Created, &comments, &attachments)
	if err != nil {
		return Report{}, err
	}
	if err := scanJSONB(comments, &report.Comments); err != nil {
		return Report{}, err
	}
	if err := scanJSONB(attachments, &report.Attachments); err != nil {
		return Report{}, err
	}
	return report, nil
}

func (s *PostgresStore) ListReports(ctx context.Context) ([]Report, error) {
	return s.queryReports(ctx, `SELECT `+reportColumns+` FROM reports ORDER BY subject`)
}

func (s *PostgresStore) ListReportsByProject(ctx context.Context, project string) ([]Report, error) {
	return s.queryReports(ctx, `SELECT `+reportColumns+` FROM reports WHERE project=$1`, project)
}

func (s *PostgresStore) queryReports(ctx context.Context, query string, args ...any) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

func (s *PostgresStore) GetReport(ctx context.Context, id string) (Report, error) {
	return scanReport(s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=$1`, id))
}

func (s *PostgresStore) GetReportBySubject(ctx context.Context, subject string) (Report, error) {
	return scanReport(s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE LOWER(subject)=LOWER($1)`, subject))
}

func (s *PostgresStore) InsertReport(ctx context.Context, report Report) error {
	comments, err := jsonbValue(report.Comments)
	if err != nil {
		return err
	}
	attachments, err := jsonbValue(report.Attachments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (id, subject, description, project, submitter, type, created, comments, attachments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, report.ID, report.Subject, report.Description, report.Project, report.Submitter,
		report.Type, report.Created, comments, attachments)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateReport(ctx context.Context, report Report) error {
	comments, err := jsonbValue(report.Comments)
	if err != nil {
		return err
	}
	attachments, err := jsonbValue(report.Attachments)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE reports
		SET subject=$2, description=$3, project=$4, submitter=$5, type=$6, created=$7, comments=$8, attachments=$9
		WHERE id=$1
	`, report.ID, report.Subject, report.Description, report.Project, report.Submitter,
		report.Type, report.Created, comments, attachments)
	if err != nil {
		return fmt.Errorf("update report: %w", err)
	}
	return requireRow(res, "update report")
}

func (s *PostgresStore) DeleteReport(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	return requireRow(res, "delete report")
}

// --- refresh sessions ---

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.first_name, u.last_name, u.email, u.role, u.password_hash,
			u.address, u.user_image, u.notifications, u.created
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	return scanUser(s.db.QueryRowContext(ctx, query, tokenHash))
}

func requireRow(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
