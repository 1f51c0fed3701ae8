package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/wastewise/relay/internal/config"
)

const notifyFunction = `
CREATE OR REPLACE FUNCTION relay_notify_change() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify(TG_TABLE_NAME || '_changes', json_build_object(
		'type', TG_OP,
		'schema', TG_TABLE_SCHEMA,
		'table', TG_TABLE_NAME,
		'record', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE row_to_json(NEW) END,
		'old_record', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE row_to_json(OLD) END,
		'commit_timestamp', now()
	)::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`

// PostgresSource turns NOTIFY messages on "<table>_changes" into change
// events. Each subscription holds one pooled connection for its lifetime.
// pg_notify payloads are capped at 8000 bytes, so very wide rows are not
// delivered.
type PostgresSource struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

// NewPostgresSource opens a connection pool and verifies it
func NewPostgresSource(cfg *config.PostgresConfig, maxSubscriptions int32, logger *logrus.Logger) (*PostgresSource, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if maxSubscriptions > 0 {
		poolConfig.MaxConns = maxSubscriptions
	}
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresSource{pool: pool, logger: logger}, nil
}

// ChannelName returns the NOTIFY channel carrying a table's changes
func ChannelName(table string) string {
	return table + "_changes"
}

// InstallTriggers creates the notify function and a row trigger on each table
func (p *PostgresSource) InstallTriggers(ctx context.Context, tables []string) error {
	if _, err := p.pool.Exec(ctx, notifyFunction); err != nil {
		return fmt.Errorf("failed to create notify function: %w", err)
	}

	for _, table := range tables {
		ident := pgx.Identifier{table}.Sanitize()

		if _, err := p.pool.Exec(ctx, fmt.Sprintf("DROP TRIGGER IF EXISTS relay_changes ON %s", ident)); err != nil {
			return fmt.Errorf("failed to drop trigger on %s: %w", table, err)
		}

		create := fmt.Sprintf(
			"CREATE TRIGGER relay_changes AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION relay_notify_change()",
			ident,
		)
		if _, err := p.pool.Exec(ctx, create); err != nil {
			return fmt.Errorf("failed to create trigger on %s: %w", table, err)
		}

		p.logger.WithField("table", table).Info("Realtime trigger installed")
	}

	return nil
}

// Subscribe LISTENs on the table's channel until ctx is done
func (p *PostgresSource) Subscribe(ctx context.Context, table string, filter Filter) (<-chan ChangeEvent, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	channel := pgx.Identifier{ChannelName(table)}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
	}

	out := make(chan ChangeEvent, 64)
	go func() {
		defer close(out)
		defer func() {
			if !conn.Conn().IsClosed() {
				unlistenCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				conn.Exec(unlistenCtx, "UNLISTEN "+channel)
				cancel()
			}
			conn.Release()
		}()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.WithError(err).WithField("table", table).Error("Realtime notification stream ended")
				}
				return
			}

			event, err := decodeEvent([]byte(n.Payload), table)
			if err != nil {
				p.logger.WithError(err).WithField("channel", n.Channel).Warn("Dropping malformed change event")
				continue
			}
			if !filter.Match(&event) {
				continue
			}

			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Publish issues a NOTIFY carrying the event, for server-side emitters
func (p *PostgresSource) Publish(ctx context.Context, event ChangeEvent) error {
	if event.CommitTimestamp.IsZero() {
		event.CommitTimestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	_, err = p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", ChannelName(event.Table), string(data))
	return err
}

// Close closes the connection pool
func (p *PostgresSource) Close() {
	p.pool.Close()
}
