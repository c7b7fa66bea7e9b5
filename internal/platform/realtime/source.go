package realtime

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Stream yields changes from one backend channel.
type Stream interface {
	Next(ctx context.Context) (Change, error)
	Close(ctx context.Context) error
}

// Source opens change streams on named channels.
type Source interface {
	Listen(ctx context.Context, channel string) (Stream, error)
}

// PGSource listens with LISTEN/NOTIFY. Every stream takes a connection out
// of the pool for its lifetime.
type PGSource struct {
	pool *pgxpool.Pool
}

func NewPGSource(pool *pgxpool.Pool) *PGSource {
	return &PGSource{pool: pool}
}

func (s *PGSource) Listen(ctx context.Context, channel string) (Stream, error) {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	// LISTEN is session state, so the connection must never go back to the pool.
	conn := pc.Hijack()

	ident := pgx.Identifier{channel}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+ident); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	return &pgStream{conn: conn, ident: ident}, nil
}

type pgStream struct {
	conn  *pgx.Conn
	ident string
}

func (st *pgStream) Next(ctx context.Context) (Change, error) {
	n, err := st.conn.WaitForNotification(ctx)
	if err != nil {
		return Change{}, err
	}
	return ParseChange(n.Payload)
}

func (st *pgStream) Close(ctx context.Context) error {
	if !st.conn.IsClosed() {
		_, _ = st.conn.Exec(ctx, "UNLISTEN "+st.ident)
	}
	return st.conn.Close(ctx)
}
