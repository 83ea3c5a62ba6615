package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users() UserStore             { return &pgUsers{db: s.db} }
func (s *PGStore) Credentials() CredentialStore { return &pgCreds{db: s.db} }
func (s *PGStore) Attempts() AttemptStore       { return &pgAttempts{db: s.db} }
func (s *PGStore) Sessions() SessionStore       { return &pgSessions{db: s.db} }
func (s *PGStore) Rules() RuleStore             { return &pgRules{db: s.db} }
func (s *PGStore) ResetCodes() ResetCodeStore   { return &pgResetCodes{db: s.db} }

// User store ----------------------------------------------------------------

type pgUsers struct{ db *sql.DB }

func (s *pgUsers) Create(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, name, role, status, first_login_required)
		 values($1,$2,$3,$4,$5,$6)`,
		u.ID, u.Email, u.Name, u.Role, u.Status, u.FirstLoginRequired,
	)
	return err
}

const userColumns = `id, email, name, role, status, first_login_required, created_at, updated_at`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.Status, &u.FirstLoginRequired, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *pgUsers) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *pgUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

func (s *pgUsers) ListWithCredential(ctx context.Context, provider string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select u.id, u.email, u.name, u.role, u.status, u.first_login_required, u.created_at, u.updated_at
		from users u
		join credentials c on c.user_id = u.id and c.provider = $1
		where u.status = $2
		order by u.name asc
	`, provider, UserStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.Status, &u.FirstLoginRequired, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, &u)
	}
	return res, rows.Err()
}

func (s *pgUsers) SetFirstLoginRequired(ctx context.Context, userID string, required bool) error {
	res, err := s.db.ExecContext(ctx,
		`update users set first_login_required=$2, updated_at=now() where id=$1`,
		userID, required)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Credential store ----------------------------------------------------------

type pgCreds struct{ db *sql.DB }

func (s *pgCreds) Upsert(ctx context.Context, c *Credential) error {
	// The unique (user_id, provider) constraint backs the at-most-one-row
	// invariant; conflict resolution updates in place.
	_, err := s.db.ExecContext(ctx, `
		insert into credentials(user_id, provider, algo, salt, hash, updated_at)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (user_id, provider) do update
		set algo = excluded.algo, salt = excluded.salt,
		    hash = excluded.hash, updated_at = excluded.updated_at
	`, c.UserID, c.Provider, c.Algo, c.Salt, c.Hash, c.UpdatedAt)
	return err
}

func (s *pgCreds) Find(ctx context.Context, userID, provider string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		select user_id, provider, algo, salt, hash, updated_at
		from credentials where user_id=$1 and provider=$2
	`, userID, provider)
	var c Credential
	if err := row.Scan(&c.UserID, &c.Provider, &c.Algo, &c.Salt, &c.Hash, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Attempt store -------------------------------------------------------------

type pgAttempts struct{ db *sql.DB }

func (s *pgAttempts) Append(ctx context.Context, a *LoginAttempt) error {
	_, err := s.db.ExecContext(ctx,
		`insert into login_attempts(id, user_id, ip, success, attempted_at) values($1,$2,$3,$4,$5)`,
		a.ID, a.UserID, a.IP, a.Success, a.AttemptedAt)
	return err
}

func (s *pgAttempts) CountFailedSince(ctx context.Context, userID string, cutoff time.Time) (int, time.Time, error) {
	row := s.db.QueryRowContext(ctx, `
		select count(*), coalesce(max(attempted_at), 'epoch'::timestamptz)
		from login_attempts
		where user_id=$1 and success=false and attempted_at > $2
	`, userID, cutoff)
	var count int
	var latest time.Time
	if err := row.Scan(&count, &latest); err != nil {
		return 0, time.Time{}, err
	}
	return count, latest, nil
}

func (s *pgAttempts) DeleteFailed(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from login_attempts where user_id=$1 and success=false`, userID)
	return err
}

func (s *pgAttempts) DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from login_attempts where success=false and attempted_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Session store -------------------------------------------------------------

type pgSessions struct{ db *sql.DB }

func (s *pgSessions) Create(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions(sid, user_id, role, created_at, expires_at, is_kiosk, impersonated_by, client_ip)
		values ($1,$2,$3,$4,$5,$6,nullif($7,''),nullif($8,''))
	`, sess.SID, sess.UserID, sess.Role, sess.CreatedAt, sess.ExpiresAt, sess.IsKiosk, sess.ImpersonatedBy, sess.ClientIP)
	return err
}

func (s *pgSessions) Find(ctx context.Context, sid string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		select sid, user_id, role, created_at, expires_at, is_kiosk,
		       coalesce(impersonated_by,''), coalesce(client_ip,'')
		from sessions where sid=$1
	`, sid)
	var sess Session
	err := row.Scan(&sess.SID, &sess.UserID, &sess.Role, &sess.CreatedAt, &sess.ExpiresAt,
		&sess.IsKiosk, &sess.ImpersonatedBy, &sess.ClientIP)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *pgSessions) Delete(ctx context.Context, sid string) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where sid=$1`, sid)
	return err
}

func (s *pgSessions) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where user_id=$1`, userID)
	return err
}

func (s *pgSessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Rule store ----------------------------------------------------------------

type pgRules struct{ db *sql.DB }

func (s *pgRules) ListAll(ctx context.Context) ([]PermissionRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		select role, action_pattern, effect, local_only
		from permission_rules
		order by role asc, position asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []PermissionRule
	for rows.Next() {
		var r PermissionRule
		if err := rows.Scan(&r.Role, &r.ActionPattern, &r.Effect, &r.LocalOnly); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// Reset code store ----------------------------------------------------------

type pgResetCodes struct{ db *sql.DB }

func (s *pgResetCodes) Upsert(ctx context.Context, rc *ResetCode) error {
	// One active code per user: a new request replaces the previous one and
	// resets the attempt counter.
	_, err := s.db.ExecContext(ctx, `
		insert into reset_codes(user_id, code_hash, expires_at, attempts)
		values ($1,$2,$3,0)
		on conflict (user_id) do update
		set code_hash = excluded.code_hash, expires_at = excluded.expires_at, attempts = 0
	`, rc.UserID, rc.CodeHash, rc.ExpiresAt)
	return err
}

func (s *pgResetCodes) Find(ctx context.Context, userID string) (*ResetCode, error) {
	row := s.db.QueryRowContext(ctx,
		`select user_id, code_hash, expires_at, attempts from reset_codes where user_id=$1`, userID)
	var rc ResetCode
	if err := row.Scan(&rc.UserID, &rc.CodeHash, &rc.ExpiresAt, &rc.Attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rc, nil
}

func (s *pgResetCodes) IncrementAttempts(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update reset_codes set attempts = attempts + 1 where user_id=$1`, userID)
	return err
}

func (s *pgResetCodes) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from reset_codes where user_id=$1`, userID)
	return err
}
