package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL through database/sql.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Open connects to PostgreSQL with pool settings tuned for request serving.
func Open(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PGStore{db: db}, nil
}

func (s *PGStore) Close() error { return s.db.Close() }

// DB exposes the handle for readiness probes.
func (s *PGStore) DB() *sql.DB { return s.db }

func (s *PGStore) Tenants(context.Context) TenantStore   { return &tenantStore{db: s.db} }
func (s *PGStore) Users(context.Context) UserStore       { return &userStore{db: s.db} }
func (s *PGStore) Roles(context.Context) RoleStore       { return &roleStore{db: s.db} }
func (s *PGStore) Permissions(context.Context) PermissionStore {
	return &permissionStore{db: s.db}
}
func (s *PGStore) Sessions(context.Context) SessionStore { return &sessionStore{db: s.db} }
func (s *PGStore) ResetTokens(context.Context) ResetTokenStore {
	return &resetTokenStore{db: s.db}
}
func (s *PGStore) Verifications(context.Context) VerificationStore {
	return &verificationStore{db: s.db}
}
func (s *PGStore) Attempts(context.Context) AttemptStore { return &attemptStore{db: s.db} }

// uniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Composite transactional operations ---------------------------------------

func (s *PGStore) CreateTenantBundle(ctx context.Context, b *TenantBundle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into tenants(id, company_name, language, locale, status, max_users, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$7)
	`, b.Tenant.ID, b.Tenant.CompanyName, b.Tenant.Language, b.Tenant.Locale, b.Tenant.Status, b.Tenant.MaxUsers, b.Tenant.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into users(id, tenant_id, full_name, email, password_hash, status, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$7)
	`, b.Owner.ID, b.Owner.TenantID, b.Owner.FullName, b.Owner.Email, b.Owner.PasswordHash, b.Owner.Status, b.Owner.CreatedAt); err != nil {
		if uniqueViolation(err) {
			return ErrEmailExists
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into user_roles(user_id, role_id, tenant_id, is_active, assigned_by, created_at)
		values ($1,$2,$3,true,$4,$5)
	`, b.OwnerGrant.UserID, b.OwnerGrant.RoleID, b.OwnerGrant.TenantID, b.OwnerGrant.AssignedBy, b.OwnerGrant.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into email_verifications(id, user_id, token, status, expires_at, attempts, created_at)
		values ($1,$2,$3,$4,$5,0,$6)
	`, b.Verification.ID, b.Verification.UserID, b.Verification.Token, b.Verification.Status, b.Verification.ExpiresAt, b.Verification.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) RotateSession(ctx context.Context, sess *Session, resetCounters bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Row lock on the user serializes concurrent logins for the same
	// account so two sessions cannot end up active at once.
	var dummy int
	if err := tx.QueryRowContext(ctx, `select 1 from users where id=$1 for update`, sess.UserID).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update user_sessions set status=$2 where user_id=$1 and status=$3
	`, sess.UserID, SessionInvalidated, SessionActive); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into user_sessions(id, token_hash, user_id, tenant_id, status, ip, user_agent, login_method, restricted, expires_at, last_activity_at, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, sess.ID, sess.TokenHash, sess.UserID, sess.TenantID, sess.Status, sess.IP, sess.UserAgent, sess.LoginMethod, sess.Restricted, sess.ExpiresAt, sess.LastActivityAt, sess.CreatedAt); err != nil {
		return err
	}
	if resetCounters {
		if _, err := tx.ExecContext(ctx, `
			update users set login_attempts=0, locked_until=null, lock_reason='', updated_at=now() where id=$1
		`, sess.UserID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PGStore) RecordFailedLogin(ctx context.Context, userID string, threshold int, lockFor time.Duration, reason string) (int, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var attempts int
	if err := tx.QueryRowContext(ctx, `
		select login_attempts from users where id=$1 for update
	`, userID).Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, ErrNotFound
		}
		return 0, false, err
	}
	attempts++
	locked := attempts >= threshold
	if locked {
		until := time.Now().UTC().Add(lockFor)
		if _, err := tx.ExecContext(ctx, `
			update users set login_attempts=$2, locked_until=$3, lock_reason=$4, updated_at=now() where id=$1
		`, userID, attempts, until, reason); err != nil {
			return 0, false, err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			update users set login_attempts=$2, updated_at=now() where id=$1
		`, userID, attempts); err != nil {
			return 0, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return attempts, locked, nil
}

func (s *PGStore) CreateResetToken(ctx context.Context, t *ResetToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		update password_reset_tokens set status=$2 where user_id=$1 and status=$3
	`, t.UserID, ResetInvalidated, ResetPending); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into password_reset_tokens(id, user_id, token_hash, status, expires_at, reset_method, initiated_by, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, t.ID, t.UserID, t.TokenHash, t.Status, t.ExpiresAt, t.ResetMethod, t.InitiatedBy, t.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) ConsumeResetToken(ctx context.Context, tokenID, userID, passwordHash string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// Guard against a concurrent consume of the same token.
	res, err := tx.ExecContext(ctx, `
		update password_reset_tokens set status=$2, used_at=now() where id=$1 and status=$3
	`, tokenID, ResetUsed, ResetPending)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrInvalidToken
	}
	if _, err := tx.ExecContext(ctx, `
		update users set password_hash=$2, login_attempts=0, locked_until=null, lock_reason='',
			password_reset_required=false, updated_at=now() where id=$1
	`, userID, passwordHash); err != nil {
		return 0, err
	}
	res, err = tx.ExecContext(ctx, `
		update user_sessions set status=$2 where user_id=$1 and status=$3
	`, userID, SessionInvalidated, SessionActive)
	if err != nil {
		return 0, err
	}
	killed, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(killed), nil
}

func (s *PGStore) CompletePasswordChange(ctx context.Context, userID, sessionID, passwordHash string, expiresAt time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// Row lock on the user serializes against concurrent logins and resets.
	var dummy int
	if err := tx.QueryRowContext(ctx, `select 1 from users where id=$1 for update`, userID).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
		update users set password_hash=$2, login_attempts=0, locked_until=null, lock_reason='',
			password_reset_required=false, updated_at=now() where id=$1
	`, userID, passwordHash); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `
		update user_sessions set status=$2 where user_id=$1 and status=$3 and id <> $4
	`, userID, SessionInvalidated, SessionActive, sessionID)
	if err != nil {
		return 0, err
	}
	killed, _ := res.RowsAffected()
	res, err = tx.ExecContext(ctx, `
		update user_sessions set restricted=false, expires_at=$2 where id=$1 and status=$3
	`, sessionID, expiresAt, SessionActive)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrSessionExpired
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(killed), nil
}

func (s *PGStore) CreateVerification(ctx context.Context, v *Verification) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		update email_verifications set status=$2 where user_id=$1 and status=$3
	`, v.UserID, VerificationExpired, VerificationPending); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into email_verifications(id, user_id, token, status, expires_at, attempts, created_at)
		values ($1,$2,$3,$4,$5,0,$6)
	`, v.ID, v.UserID, v.Token, v.Status, v.ExpiresAt, v.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) ConsumeVerification(ctx context.Context, verificationID, userID string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update email_verifications set status=$2, verified_at=$3 where id=$1 and status=$4
	`, verificationID, VerificationVerified, at, VerificationPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidToken
	}
	if _, err := tx.ExecContext(ctx, `
		update users set status=$2, email_verified_at=$3, updated_at=now() where id=$1 and status=$4
	`, userID, UserActive, at, UserPendingVerification); err != nil {
		return err
	}
	return tx.Commit()
}

// Tenant store --------------------------------------------------------------

type tenantStore struct{ db *sql.DB }

func (s *tenantStore) Find(ctx context.Context, id string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, company_name, language, locale, status, max_users, created_at, updated_at
		from tenants where id=$1`, id)
	var t Tenant
	if err := row.Scan(&t.ID, &t.CompanyName, &t.Language, &t.Locale, &t.Status, &t.MaxUsers, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *tenantStore) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `update tenants set status=$2, updated_at=now() where id=$1`, id, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// User store ----------------------------------------------------------------

type userStore struct{ db *sql.DB }

const userColumns = `id, tenant_id, full_name, email, password_hash, status,
	login_attempts, locked_until, lock_reason, password_reset_required,
	email_verified_at, created_at, updated_at`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.TenantID, &u.FullName, &u.Email, &u.PasswordHash, &u.Status,
		&u.LoginAttempts, &u.LockedUntil, &u.LockReason, &u.PasswordResetRequired,
		&u.EmailVerifiedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email=$1`, email))
}

func (s *userStore) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `update users set status=$2, updated_at=now() where id=$1`, id, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *userStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set password_hash=$2, password_reset_required=false, updated_at=now() where id=$1
	`, id, passwordHash)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Role store ----------------------------------------------------------------

type roleStore struct{ db *sql.DB }

func (s *roleStore) Ensure(ctx context.Context, roles []Role) error {
	for _, r := range roles {
		_, err := s.db.ExecContext(ctx, `
			insert into roles(id, name, is_system_role) values ($1,$2,$3)
			on conflict (name) do nothing
		`, r.ID, r.Name, r.IsSystemRole)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, name, is_system_role, created_at from roles where name=$1`, name)
	var r Role
	if err := row.Scan(&r.ID, &r.Name, &r.IsSystemRole, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *roleStore) ActiveGrant(ctx context.Context, userID, tenantID string) (*UserRole, *Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select ur.user_id, ur.role_id, ur.tenant_id, ur.is_active, ur.assigned_by, ur.expires_at, ur.created_at,
		       r.id, r.name, r.is_system_role, r.created_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id=$1 and ur.tenant_id=$2 and ur.is_active
		  and (ur.expires_at is null or ur.expires_at > now())
	`, userID, tenantID)
	var (
		g UserRole
		r Role
	)
	err := row.Scan(&g.UserID, &g.RoleID, &g.TenantID, &g.IsActive, &g.AssignedBy, &g.ExpiresAt, &g.CreatedAt,
		&r.ID, &r.Name, &r.IsSystemRole, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	return &g, &r, nil
}

func (s *roleStore) ReplaceGrant(ctx context.Context, grant *UserRole) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		update user_roles set is_active=false where user_id=$1 and tenant_id=$2 and is_active
	`, grant.UserID, grant.TenantID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into user_roles(user_id, role_id, tenant_id, is_active, assigned_by, expires_at, created_at)
		values ($1,$2,$3,true,$4,$5,now())
		on conflict (user_id, role_id, tenant_id) do update set is_active=true, assigned_by=excluded.assigned_by
	`, grant.UserID, grant.RoleID, grant.TenantID, grant.AssignedBy, grant.ExpiresAt); err != nil {
		return err
	}
	return tx.Commit()
}

// Permission store -----------------------------------------------------------

type permissionStore struct{ db *sql.DB }

func (s *permissionStore) Ensure(ctx context.Context, perms []Permission) error {
	for _, p := range perms {
		_, err := s.db.ExecContext(ctx, `
			insert into permissions(id, name, resource, action) values ($1,$2,$3,$4)
			on conflict (name) do nothing
		`, p.ID, p.Name, p.Resource, p.Action)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *permissionStore) List(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `select id, name, resource, action from permissions order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s *permissionStore) GrantedForRole(ctx context.Context, roleID, tenantID string) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.name, p.resource, p.action
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id=$1 and rp.tenant_id=$2 and rp.is_granted
		order by p.name
	`, roleID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s *permissionStore) IsGranted(ctx context.Context, roleID, tenantID, permissionName string) (bool, error) {
	var granted bool
	err := s.db.QueryRowContext(ctx, `
		select rp.is_granted
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id=$1 and rp.tenant_id=$2 and p.name=$3
	`, roleID, tenantID, permissionName).Scan(&granted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return granted, nil
}

func (s *permissionStore) SeedTenantGrants(ctx context.Context, tenantID string, grants []RolePermission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, g := range grants {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions(role_id, permission_id, tenant_id, is_granted)
			values ($1,$2,$3,$4)
			on conflict (role_id, permission_id, tenant_id) do nothing
		`, g.RoleID, g.PermissionID, tenantID, g.IsGranted); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Session store --------------------------------------------------------------

type sessionStore struct{ db *sql.DB }

func (s *sessionStore) FindByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, token_hash, user_id, tenant_id, status, ip, user_agent, login_method, restricted,
		       expires_at, last_activity_at, created_at
		from user_sessions where token_hash=$1
	`, tokenHash)
	var sess Session
	err := row.Scan(&sess.ID, &sess.TokenHash, &sess.UserID, &sess.TenantID, &sess.Status, &sess.IP,
		&sess.UserAgent, &sess.LoginMethod, &sess.Restricted, &sess.ExpiresAt, &sess.LastActivityAt, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (s *sessionStore) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `update user_sessions set status=$2 where id=$1`, id, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `update user_sessions set last_activity_at=$2 where id=$1`, id, at)
	return err
}

func (s *sessionStore) InvalidateAll(ctx context.Context, userID, exceptID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update user_sessions set status=$2 where user_id=$1 and status=$3 and id <> coalesce(nullif($4,''), '')
	`, userID, SessionInvalidated, SessionActive, exceptID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sessionStore) CountActive(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from user_sessions where user_id=$1 and status=$2
	`, userID, SessionActive).Scan(&n)
	return n, err
}

// Reset token store -----------------------------------------------------------

type resetTokenStore struct{ db *sql.DB }

func (s *resetTokenStore) FindByTokenHash(ctx context.Context, tokenHash string) (*ResetToken, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, status, expires_at, reset_method, initiated_by, used_at, created_at
		from password_reset_tokens where token_hash=$1
	`, tokenHash)
	var t ResetToken
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.Status, &t.ExpiresAt, &t.ResetMethod, &t.InitiatedBy, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *resetTokenStore) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `update password_reset_tokens set status=$2 where id=$1`, id, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Verification store ----------------------------------------------------------

type verificationStore struct{ db *sql.DB }

func (s *verificationStore) FindByToken(ctx context.Context, token string) (*Verification, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, user_id, token, status, expires_at, attempts, verified_at, created_at
		from email_verifications where token=$1
	`, token)
	var v Verification
	err := row.Scan(&v.ID, &v.UserID, &v.Token, &v.Status, &v.ExpiresAt, &v.Attempts, &v.VerifiedAt, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (s *verificationStore) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `update email_verifications set status=$2 where id=$1`, id, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Attempt store ---------------------------------------------------------------

type attemptStore struct{ db *sql.DB }

func (s *attemptStore) Append(ctx context.Context, a *LoginAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		insert into login_attempts(id, email, ip, user_agent, attempt_type, status, failure_reason, tenant_id, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,nullif($8,''),$9)
	`, a.ID, a.Email, a.IP, a.UserAgent, a.AttemptType, a.Status, a.FailureReason, a.TenantID, a.CreatedAt)
	return err
}

func (s *attemptStore) AppendCheck(ctx context.Context, c *PermissionCheck) error {
	_, err := s.db.ExecContext(ctx, `
		insert into permission_checks(id, user_id, tenant_id, permission, resource_context, granted, reason, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, c.ID, c.UserID, c.TenantID, c.Permission, c.ResourceContext, c.Granted, c.Reason, c.CreatedAt)
	return err
}
