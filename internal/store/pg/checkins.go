package pg

import (
	"context"

	"capitania.club/internal/backend"
	"capitania.club/internal/ids"
	"capitania.club/internal/member"
)

func (s *Store) CreateCheckin(ctx context.Context, profileID string) (member.Checkin, error) {
	if s.db == nil {
		return member.Checkin{}, errNoDB
	}
	c := member.Checkin{ID: ids.New(), ProfileID: profileID}
	err := s.db.QueryRowContext(ctx, `
		insert into checkins (id, profile_id)
		values ($1, $2)
		returning created_at
	`, c.ID, profileID).Scan(&c.At)
	if err != nil {
		return member.Checkin{}, mapWriteError(err)
	}
	s.publish(backend.TableCheckins, backend.ChangeInsert, c.ID)
	return c, nil
}

func (s *Store) ListCheckins(ctx context.Context, profileID string, limit int) ([]member.Checkin, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, profile_id, created_at
		from checkins
		where profile_id = $1
		order by created_at desc
		limit $2
	`, profileID, limit)
	if err != nil {
		return nil, mapLookupError(err)
	}
	defer rows.Close()

	var out []member.Checkin
	for rows.Next() {
		var c member.Checkin
		if err := rows.Scan(&c.ID, &c.ProfileID, &c.At); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
