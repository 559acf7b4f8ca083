package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
)

const xReplySchema = `
CREATE TABLE IF NOT EXISTS x_reply_log (
	tweet_id       TEXT NOT NULL UNIQUE,
	persona_id     TEXT NOT NULL,
	reply_tweet_id TEXT NOT NULL DEFAULT '',
	replied_at     INTEGER NOT NULL
);
`

// XReplyStore records which tweets have already been replied to, in the
// city-wide SQLite database. The UNIQUE constraint on tweet_id is the
// single source of truth: concurrent posters race on the insert, and
// the loser sees errno.ErrAlreadyReplied.
type XReplyStore struct {
	db *sql.DB
}

func NewXReplyStore(db *sql.DB) (*XReplyStore, error) {
	if _, err := db.Exec(xReplySchema); err != nil {
		return nil, fmt.Errorf("failed to apply x_reply schema: %w", err)
	}
	return &XReplyStore{db: db}, nil
}

// Reserve claims a tweet id before posting. The claim is made inside a
// transaction that is only committed by Confirm, so a failed post
// releases the id.
func (s *XReplyStore) Reserve(ctx context.Context, tweetID, personaID string) (*Reservation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO x_reply_log (tweet_id, persona_id, replied_at) VALUES (?, ?, ?)`,
		tweetID, personaID, time.Now().UnixNano())
	if err != nil {
		tx.Rollback()
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", errno.ErrAlreadyReplied, tweetID)
		}
		return nil, err
	}
	return &Reservation{tx: tx, tweetID: tweetID}, nil
}

// HasReplied reports whether a reply to the tweet was already recorded.
func (s *XReplyStore) HasReplied(ctx context.Context, tweetID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM x_reply_log WHERE tweet_id = ?`, tweetID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Reservation holds the uncommitted claim on a tweet id.
type Reservation struct {
	tx      *sql.Tx
	tweetID string
}

// Confirm records the posted reply id and commits the claim.
func (r *Reservation) Confirm(ctx context.Context, replyTweetID string) error {
	_, err := r.tx.ExecContext(ctx,
		`UPDATE x_reply_log SET reply_tweet_id = ? WHERE tweet_id = ?`,
		replyTweetID, r.tweetID)
	if err != nil {
		r.tx.Rollback()
		return err
	}
	return r.tx.Commit()
}

// Release abandons the claim, for when the outbound post failed.
func (r *Reservation) Release() error {
	return r.tx.Rollback()
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return false
}
