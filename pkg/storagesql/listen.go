package storagesql

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/grafana/sentinel/pkg/changefeed"
)

// connNotifier adapts a dedicated, non-pooled pgx.Conn LISTENing on
// LogChannel to changefeed.Notifier.
type connNotifier struct {
	conn *pgx.Conn
}

func (n *connNotifier) WaitForNotification(ctx context.Context) (string, error) {
	notification, err := n.conn.WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return notification.Payload, nil
}

func (n *connNotifier) Close(ctx context.Context) error {
	return n.conn.Close(ctx)
}

// Dial returns a changefeed.Dialer that opens a fresh, dedicated connection
// and issues LISTEN on every (re)connect, matching spec.md section 4.2's
// "long-lived storage session dedicated to receiving notifications".
func Dial(dsn string) changefeed.Dialer {
	return func(ctx context.Context) (changefeed.Notifier, error) {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("dialing change-notification connection: %w", err)
		}
		if _, err := conn.Exec(ctx, "LISTEN "+LogChannel); err != nil {
			_ = conn.Close(ctx)
			return nil, fmt.Errorf("issuing LISTEN %s: %w", LogChannel, err)
		}
		return &connNotifier{conn: conn}, nil
	}
}
