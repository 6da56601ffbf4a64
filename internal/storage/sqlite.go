package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"news_dispatch/internal/model"
	"news_dispatch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases
	// shared between callers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return persistErr("ping", err)
	}
	return nil
}

// GetLastID returns the watermark of source. The boolean is false when the
// source has never been initialized.
func (s *SQLite) GetLastID(ctx context.Context, source string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM sent_news WHERE source = ?`, source).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, persistErr("get watermark", err)
	}
	return id, true, nil
}

// InitWatermark inserts defaultID as the watermark of source unless one
// already exists.
func (s *SQLite) InitWatermark(ctx context.Context, source, defaultID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sent_news (id, source, sent_at)
		 SELECT ?, ?, ?
		 WHERE NOT EXISTS (SELECT 1 FROM sent_news WHERE source = ?)`,
		defaultID, source, now(), source,
	)
	if err != nil {
		return persistErr("init watermark", err)
	}
	return nil
}

// AdvanceWatermark moves the watermark of source from expectedOldID to
// newID. It reports false when the stored id no longer equals
// expectedOldID, and returns ErrNotMonotonic when newID is not strictly
// greater than expectedOldID.
func (s *SQLite) AdvanceWatermark(ctx context.Context, source, newID, expectedOldID string) (bool, error) {
	c, err := model.CompareNewsIDs(newID, expectedOldID)
	if err != nil {
		return false, fmt.Errorf("compare watermark: %w", err)
	}
	if c <= 0 {
		return false, fmt.Errorf("advance %s from %s to %s: %w", source, expectedOldID, newID, ErrNotMonotonic)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sent_news SET id = ?, sent_at = ? WHERE source = ? AND id = ?`,
		newID, now(), source, expectedOldID,
	)
	if err != nil {
		return false, persistErr("advance watermark", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("rows affected", err)
	}
	return n == 1, nil
}

// UpsertSubscriber creates or overwrites a subscriber and marks it active.
func (s *SQLite) UpsertSubscriber(ctx context.Context, sub *model.Subscriber) error {
	var err error
	switch sub.Channel {
	case model.ChannelTelegram:
		var uid int64
		if uid, err = telegramID(sub.ExternalID); err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO users_tg (user_id, chat_id, user_name, is_active, created_at)
			 VALUES (?, ?, ?, 1, ?)
			 ON CONFLICT(user_id) DO UPDATE SET
			   chat_id = excluded.chat_id, user_name = excluded.user_name, is_active = 1`,
			uid, sub.ChatID, sub.DisplayName, now(),
		)
	case model.ChannelYandex:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO users_yx (login, is_active, created_at) VALUES (?, 1, ?)
			 ON CONFLICT(login) DO UPDATE SET is_active = 1`,
			sub.ExternalID, now(),
		)
	default:
		return unknownChannel(sub.Channel)
	}
	if err != nil {
		return persistErr("upsert subscriber", err)
	}
	sub.IsActive = true
	return nil
}

// EnsureSubscriber creates sub as an active subscriber if it does not exist
// yet. Existing rows are left untouched. It reports whether a row was created.
func (s *SQLite) EnsureSubscriber(ctx context.Context, sub *model.Subscriber) (bool, error) {
	var (
		res sql.Result
		err error
	)
	switch sub.Channel {
	case model.ChannelTelegram:
		var uid int64
		if uid, err = telegramID(sub.ExternalID); err != nil {
			return false, err
		}
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO users_tg (user_id, chat_id, user_name, is_active, created_at)
			 VALUES (?, ?, ?, 1, ?)
			 ON CONFLICT(user_id) DO NOTHING`,
			uid, sub.ChatID, sub.DisplayName, now(),
		)
	case model.ChannelYandex:
		res, err = s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO users_yx (login, is_active, created_at) VALUES (?, 1, ?)`,
			sub.ExternalID, now(),
		)
	default:
		return false, unknownChannel(sub.Channel)
	}
	if err != nil {
		return false, persistErr("ensure subscriber", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("rows affected", err)
	}
	return n == 1, nil
}

// GetSubscriber returns a single subscriber or ErrNotFound.
func (s *SQLite) GetSubscriber(ctx context.Context, ch model.Channel, externalID string) (*model.Subscriber, error) {
	sub := model.Subscriber{Channel: ch, ExternalID: externalID}
	var (
		isActive int
		created  string
		err      error
	)
	switch ch {
	case model.ChannelTelegram:
		var uid int64
		if uid, err = telegramID(externalID); err != nil {
			return nil, err
		}
		err = s.db.QueryRowContext(ctx,
			`SELECT chat_id, user_name, is_active, created_at FROM users_tg WHERE user_id = ?`, uid,
		).Scan(&sub.ChatID, &sub.DisplayName, &isActive, &created)
	case model.ChannelYandex:
		err = s.db.QueryRowContext(ctx,
			`SELECT is_active, created_at FROM users_yx WHERE login = ?`, externalID,
		).Scan(&isActive, &created)
		sub.DisplayName = externalID
	default:
		return nil, unknownChannel(ch)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscriber %s/%s: %w", ch, externalID, ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("get subscriber", err)
	}
	sub.IsActive = isActive == 1
	sub.CreatedAt, _ = time.Parse(timeLayout, created)
	return &sub, nil
}

// SetActive flips the subscription flag. It reports whether the subscriber
// exists; setting the current value again still reports true.
func (s *SQLite) SetActive(ctx context.Context, ch model.Channel, externalID string, active bool) (bool, error) {
	var (
		res sql.Result
		err error
	)
	switch ch {
	case model.ChannelTelegram:
		var uid int64
		if uid, err = telegramID(externalID); err != nil {
			return false, err
		}
		res, err = s.db.ExecContext(ctx,
			`UPDATE users_tg SET is_active = ? WHERE user_id = ?`, boolToInt(active), uid)
	case model.ChannelYandex:
		res, err = s.db.ExecContext(ctx,
			`UPDATE users_yx SET is_active = ? WHERE login = ?`, boolToInt(active), externalID)
	default:
		return false, unknownChannel(ch)
	}
	if err != nil {
		return false, persistErr("set active", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("rows affected", err)
	}
	return n == 1, nil
}

// IsActive reports whether the subscriber exists and is subscribed.
func (s *SQLite) IsActive(ctx context.Context, ch model.Channel, externalID string) (bool, error) {
	sub, err := s.GetSubscriber(ctx, ch, externalID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sub.IsActive, nil
}

// Exists reports whether the subscriber has been registered.
func (s *SQLite) Exists(ctx context.Context, ch model.Channel, externalID string) (bool, error) {
	_, err := s.GetSubscriber(ctx, ch, externalID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ActiveRecipients returns the delivery addresses of all active subscribers
// of a channel: chat ids for Telegram, logins for Yandex.
func (s *SQLite) ActiveRecipients(ctx context.Context, ch model.Channel) ([]string, error) {
	var query string
	switch ch {
	case model.ChannelTelegram:
		query = `SELECT CAST(chat_id AS TEXT) FROM users_tg WHERE is_active = 1 ORDER BY user_id`
	case model.ChannelYandex:
		query = `SELECT login FROM users_yx WHERE is_active = 1 ORDER BY login`
	default:
		return nil, unknownChannel(ch)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, persistErr("query recipients", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistErr("scan recipient", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate recipients", err)
	}
	return out, nil
}

// Link associates a Telegram user with a Yandex login. It returns false
// without writing anything when the login is not a registered Yandex
// subscriber. Linking an existing pair again is a no-op that returns true.
func (s *SQLite) Link(ctx context.Context, tgID, yandexLogin string) (bool, error) {
	uid, err := telegramID(tgID)
	if err != nil {
		return false, err
	}

	exists, err := s.Exists(ctx, model.ChannelYandex, yandexLogin)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_tg_yx (tg_id, yx_id, created_at) VALUES (?, ?, ?)`,
		uid, yandexLogin, now(),
	); err != nil {
		return false, persistErr("link accounts", err)
	}
	return true, nil
}

// LinkedCounterpart returns the Telegram user id linked to a Yandex login.
// When several are linked the earliest link wins.
func (s *SQLite) LinkedCounterpart(ctx context.Context, yandexLogin string) (string, bool, error) {
	var uid int64
	err := s.db.QueryRowContext(ctx,
		`SELECT tg_id FROM user_tg_yx WHERE yx_id = ? ORDER BY created_at, tg_id LIMIT 1`, yandexLogin,
	).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, persistErr("get linked account", err)
	}
	return strconv.FormatInt(uid, 10), true, nil
}

// ListLinks returns every Yandex login linked to a Telegram user.
func (s *SQLite) ListLinks(ctx context.Context, tgID string) ([]model.IdentityLink, error) {
	uid, err := telegramID(tgID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT yx_id FROM user_tg_yx WHERE tg_id = ? ORDER BY created_at, yx_id`, uid)
	if err != nil {
		return nil, persistErr("query links", err)
	}
	defer func() { _ = rows.Close() }()

	var links []model.IdentityLink
	for rows.Next() {
		l := model.IdentityLink{TelegramID: tgID}
		if err := rows.Scan(&l.YandexID); err != nil {
			return nil, persistErr("scan link", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate links", err)
	}
	return links, nil
}

func telegramID(externalID string) (int64, error) {
	uid, err := strconv.ParseInt(externalID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram user id %q: %w", externalID, err)
	}
	return uid, nil
}

func unknownChannel(ch model.Channel) error {
	return fmt.Errorf("unknown channel %q", ch)
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrPersistence, err)
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
