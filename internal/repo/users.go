package repo

import (
	"context"
	"database/sql"

	"stitchline/internal/domain"
)

const userColumns = `id,name,team,role,is_active,created_at`

func scanUser(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	var team, role sql.NullString
	var active int
	err := scan(&u.ID, &u.Name, &team, &role, &active, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if team.Valid {
		u.Team = team.String
	}
	if role.Valid {
		u.Role = role.String
	}
	u.IsActive = active != 0
	return u, nil
}

func (r Repo) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(`+userColumns+`) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, team=excluded.team, role=excluded.role, is_active=excluded.is_active`,
		u.ID, u.Name, nullable(u.Team), nullable(u.Role), boolInt(u.IsActive), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	return scanUser(row.Scan)
}

func (r Repo) ListUsers(ctx context.Context, team string) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if team != "" {
		query += ` WHERE team=?`
		args = append(args, team)
	}
	query += ` ORDER BY id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// TeamMembersTx resolves current active membership inside the fan-out
// transaction so the expansion and the inserts see one consistent snapshot.
func (r Repo) TeamMembersTx(ctx context.Context, tx *sql.Tx, team string) ([]domain.User, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE team=? AND is_active=1 ORDER BY id ASC`, team)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
