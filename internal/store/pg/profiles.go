package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"capitania.club/internal/backend"
	"capitania.club/internal/ids"
	"capitania.club/internal/member"
)

const profileColumns = `id, email, full_name, cpf, role, is_active, force_password_change, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (member.Profile, error) {
	var (
		p    member.Profile
		role string
	)
	if err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.CPF, &role, &p.IsActive, &p.ForcePasswordChange, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return member.Profile{}, err
	}
	p.Role = member.Role(role)
	return p, nil
}

func (s *Store) profileWhere(ctx context.Context, clause string, arg any) (member.Profile, error) {
	if s.db == nil {
		return member.Profile{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+profileColumns+` from profiles where `+clause, arg)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return member.Profile{}, member.ErrNotFound
	}
	if err != nil {
		return member.Profile{}, mapLookupError(err)
	}
	return p, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (member.Profile, error) {
	return s.profileWhere(ctx, `id = $1`, id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (member.Profile, error) {
	return s.profileWhere(ctx, `email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) FindByCPF(ctx context.Context, cpf string) (member.Profile, error) {
	return s.profileWhere(ctx, `cpf = $1`, member.NormalizeCPF(cpf))
}

func (s *Store) ListProfiles(ctx context.Context) ([]member.Profile, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+profileColumns+` from profiles order by full_name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []member.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateProfile(ctx context.Context, id string, upd member.Update) (member.Profile, error) {
	if s.db == nil {
		return member.Profile{}, errNoDB
	}
	if err := upd.Normalize(); err != nil {
		return member.Profile{}, err
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.FullName != nil {
		sets = append(sets, fmt.Sprintf("full_name = $%d", idx))
		args = append(args, *upd.FullName)
		idx++
	}
	if upd.Role != nil {
		sets = append(sets, fmt.Sprintf("role = $%d", idx))
		args = append(args, string(*upd.Role))
		idx++
	}
	if upd.IsActive != nil {
		sets = append(sets, fmt.Sprintf("is_active = $%d", idx))
		args = append(args, *upd.IsActive)
		idx++
	}
	if upd.ForcePasswordChange != nil {
		sets = append(sets, fmt.Sprintf("force_password_change = $%d", idx))
		args = append(args, *upd.ForcePasswordChange)
		idx++
	}
	if len(sets) == 0 {
		return s.GetProfile(ctx, id)
	}

	sets = append(sets, "updated_at = now()")
	query := fmt.Sprintf(`update profiles set %s where id = $%d returning %s`, strings.Join(sets, ", "), idx, profileColumns)
	args = append(args, id)
	p, err := scanProfile(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return member.Profile{}, member.ErrNotFound
	}
	if err != nil {
		return member.Profile{}, mapLookupError(err)
	}
	s.publish(backend.TableProfiles, backend.ChangeUpdate, id)
	return p, nil
}

func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from profiles where id = $1`, id)
	if err != nil {
		return mapLookupError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return member.ErrNotFound
	}
	s.publish(backend.TableProfiles, backend.ChangeDelete, id)
	return nil
}

// CreateMember inserts credentials and profile in one transaction.
func (s *Store) CreateMember(ctx context.Context, m member.NewMember) (member.Profile, error) {
	if s.db == nil {
		return member.Profile{}, errNoDB
	}
	if m.ID == "" {
		m.ID = ids.NewMemberID()
	}
	if m.Role == "" {
		m.Role = member.RoleSocio
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return member.Profile{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into credentials (user_id, email, password_hash)
		values ($1, $2, $3)
	`, m.ID, m.Email, m.PasswordHash); err != nil {
		return member.Profile{}, mapWriteError(err)
	}
	p, err := scanProfile(tx.QueryRowContext(ctx, `
		insert into profiles (id, email, full_name, cpf, role, is_active, force_password_change)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+profileColumns,
		m.ID, m.Email, m.FullName, m.CPF, string(m.Role), m.IsActive, m.ForcePasswordChange))
	if err != nil {
		return member.Profile{}, mapWriteError(err)
	}
	if err := tx.Commit(); err != nil {
		return member.Profile{}, err
	}
	s.publish(backend.TableProfiles, backend.ChangeInsert, p.ID)
	return p, nil
}

func (s *Store) PasswordHash(ctx context.Context, id string) (string, error) {
	if s.db == nil {
		return "", errNoDB
	}
	var hash string
	err := s.db.QueryRowContext(ctx, `select password_hash from credentials where user_id = $1`, id).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", member.ErrNotFound
	}
	if err != nil {
		return "", mapLookupError(err)
	}
	return hash, nil
}

func (s *Store) CompletePasswordChange(ctx context.Context, id, hash string) (member.Profile, error) {
	if s.db == nil {
		return member.Profile{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return member.Profile{}, err
	}
	defer func() { _ = tx.Rollback() }()

	p, err := scanProfile(tx.QueryRowContext(ctx, `
		update profiles set force_password_change = false, updated_at = now()
		where id = $1
		returning `+profileColumns, id))
	if errors.Is(err, sql.ErrNoRows) {
		return member.Profile{}, member.ErrNotFound
	}
	if err != nil {
		return member.Profile{}, mapLookupError(err)
	}
	res, err := tx.ExecContext(ctx, `update credentials set password_hash = $1, updated_at = now() where user_id = $2`, hash, id)
	if err != nil {
		return member.Profile{}, err
	}
	if aff, err := res.RowsAffected(); err != nil {
		return member.Profile{}, err
	} else if aff == 0 {
		return member.Profile{}, member.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return member.Profile{}, err
	}
	s.publish(backend.TableProfiles, backend.ChangeUpdate, id)
	return p, nil
}

func mapWriteError(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", member.ErrConflict, pgErr.ConstraintName)
		case pgErrForeignKeyViolation, pgErrInvalidTextRepresentation:
			return member.ErrNotFound
		}
	}
	return err
}

// mapLookupError reports a malformed id as a missing row, matching what
// the in-memory store does for unknown ids.
func mapLookupError(err error) error {
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrInvalidTextRepresentation {
		return member.ErrNotFound
	}
	return err
}
