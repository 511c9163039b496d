package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/impostorpay/impostor-bot/internal/domain"
)

// Postgres implements Store on database/sql + lib/pq. Uniqueness of
// users.phone, matches.code and participants(match_id, user_id) is
// enforced by the schema, not by lookup-then-create.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (s *Postgres) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	phone      TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	pix_key    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS matches (
	id          TEXT PRIMARY KEY,
	code        TEXT NOT NULL UNIQUE,
	status      TEXT NOT NULL,
	pot         BIGINT NOT NULL DEFAULT 0,
	secret_word TEXT NOT NULL DEFAULT '',
	impostor_id TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS participants (
	id          TEXT PRIMARY KEY,
	match_id    TEXT NOT NULL REFERENCES matches(id),
	user_id     TEXT NOT NULL REFERENCES users(id),
	status      TEXT NOT NULL,
	scratch_key TEXT NOT NULL DEFAULT '',
	role        TEXT NOT NULL DEFAULT 'NONE',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (match_id, user_id)
);
CREATE TABLE IF NOT EXISTS transactions (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL REFERENCES users(id),
	match_id    TEXT NOT NULL REFERENCES matches(id),
	amount      BIGINT NOT NULL,
	type        TEXT NOT NULL,
	status      TEXT NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',
	copia_cola  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transactions_external ON transactions (external_id) WHERE external_id <> '';
CREATE TABLE IF NOT EXISTS votes (
	id         TEXT PRIMARY KEY,
	match_id   TEXT NOT NULL REFERENCES matches(id),
	voter_id   TEXT NOT NULL REFERENCES users(id),
	target_id  TEXT NOT NULL REFERENCES users(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// EnsureSchema bootstraps the tables. Idempotent.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (s *Postgres) CreateUser(ctx context.Context, u *domain.User) error {
	const q = `INSERT INTO users (id, phone, name, pix_key, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.ExecContext(ctx, q, u.ID, u.Phone, u.Name, u.PixKey, u.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateUser
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Postgres) UserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	const q = `SELECT id, phone, name, pix_key, created_at FROM users WHERE phone = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, q, phone))
}

func (s *Postgres) UserByID(ctx context.Context, id string) (*domain.User, error) {
	const q = `SELECT id, phone, name, pix_key, created_at FROM users WHERE id = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, q, id))
}

func (s *Postgres) scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Phone, &u.Name, &u.PixKey, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (s *Postgres) CreateMatch(ctx context.Context, m *domain.Match, creator *domain.Participant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const qm = `INSERT INTO matches (id, code, status, pot, secret_word, impostor_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`
	if _, err := tx.ExecContext(ctx, qm, m.ID, m.Code, m.Status, m.Pot, m.SecretWord, m.ImpostorID, m.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrCodeTaken
		}
		return fmt.Errorf("insert match: %w", err)
	}
	const qp = `INSERT INTO participants (id, match_id, user_id, status, scratch_key, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.ExecContext(ctx, qp, creator.ID, creator.MatchID, creator.UserID, creator.Status, creator.ScratchKey, creator.Role, creator.CreatedAt); err != nil {
		return fmt.Errorf("insert creator participant: %w", err)
	}
	return tx.Commit()
}

const matchColumns = `id, code, status, pot, secret_word, impostor_id, created_at, updated_at`

func (s *Postgres) MatchByID(ctx context.Context, id string) (*domain.Match, error) {
	return s.scanMatch(s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
}

func (s *Postgres) MatchByCode(ctx context.Context, code string) (*domain.Match, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	return s.scanMatch(s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE code = $1`, code))
}

func (s *Postgres) FindOpenMatch(ctx context.Context) (*domain.Match, error) {
	const q = `SELECT ` + matchColumns + ` FROM matches WHERE status = $1 ORDER BY created_at LIMIT 1`
	return s.scanMatch(s.db.QueryRowContext(ctx, q, domain.MatchWaitingPayment))
}

func (s *Postgres) FinishMatch(ctx context.Context, id string) error {
	const q = `UPDATE matches SET status = $1, updated_at = now() WHERE id = $2`
	_, err := s.db.ExecContext(ctx, q, domain.MatchFinished, id)
	if err != nil {
		return fmt.Errorf("finish match: %w", err)
	}
	return nil
}

func (s *Postgres) scanMatch(row *sql.Row) (*domain.Match, error) {
	var m domain.Match
	err := row.Scan(&m.ID, &m.Code, &m.Status, &m.Pot, &m.SecretWord, &m.ImpostorID, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan match: %w", err)
	}
	return &m, nil
}

func (s *Postgres) CreateParticipant(ctx context.Context, p *domain.Participant) error {
	const q = `INSERT INTO participants (id, match_id, user_id, status, scratch_key, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.ExecContext(ctx, q, p.ID, p.MatchID, p.UserID, p.Status, p.ScratchKey, p.Role, p.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateParticipant
	}
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

const participantColumns = `id, match_id, user_id, status, scratch_key, role, created_at`

func (s *Postgres) scanParticipant(row *sql.Row) (*domain.Participant, error) {
	var p domain.Participant
	err := row.Scan(&p.ID, &p.MatchID, &p.UserID, &p.Status, &p.ScratchKey, &p.Role, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan participant: %w", err)
	}
	return &p, nil
}

func (s *Postgres) Participant(ctx context.Context, matchID, userID string) (*domain.Participant, error) {
	const q = `SELECT ` + participantColumns + ` FROM participants WHERE match_id = $1 AND user_id = $2`
	return s.scanParticipant(s.db.QueryRowContext(ctx, q, matchID, userID))
}

func (s *Postgres) ActiveParticipantByPhone(ctx context.Context, phone string) (*domain.Participant, *domain.Match, error) {
	const q = `SELECT p.id, p.match_id, p.user_id, p.status, p.scratch_key, p.role, p.created_at,
			m.id, m.code, m.status, m.pot, m.secret_word, m.impostor_id, m.created_at, m.updated_at
		FROM participants p
		JOIN users u ON u.id = p.user_id
		JOIN matches m ON m.id = p.match_id
		WHERE u.phone = $1 AND m.status IN ($2, $3, $4)
		ORDER BY p.created_at DESC
		LIMIT 1`
	var (
		p domain.Participant
		m domain.Match
	)
	err := s.db.QueryRowContext(ctx, q, phone,
		domain.MatchWaitingPayment, domain.MatchActive, domain.MatchVoting,
	).Scan(
		&p.ID, &p.MatchID, &p.UserID, &p.Status, &p.ScratchKey, &p.Role, &p.CreatedAt,
		&m.ID, &m.Code, &m.Status, &m.Pot, &m.SecretWord, &m.ImpostorID, &m.CreatedAt, &m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("active participant by phone: %w", err)
	}
	return &p, &m, nil
}

func (s *Postgres) SetParticipantScratch(ctx context.Context, participantID, scratch string, status domain.ParticipantStatus) error {
	const q = `UPDATE participants SET scratch_key = $1, status = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, q, scratch, status, participantID)
	if err != nil {
		return fmt.Errorf("set participant scratch: %w", err)
	}
	return nil
}

func (s *Postgres) Roster(ctx context.Context, matchID string) ([]Member, error) {
	const q = `SELECT p.id, p.match_id, p.user_id, p.status, p.scratch_key, p.role, p.created_at,
			u.id, u.phone, u.name, u.pix_key, u.created_at
		FROM participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.match_id = $1
		ORDER BY p.created_at`
	rows, err := s.db.QueryContext(ctx, q, matchID)
	if err != nil {
		return nil, fmt.Errorf("select roster: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(
			&m.Participant.ID, &m.Participant.MatchID, &m.Participant.UserID,
			&m.Participant.Status, &m.Participant.ScratchKey, &m.Participant.Role, &m.Participant.CreatedAt,
			&m.User.ID, &m.User.Phone, &m.User.Name, &m.User.PixKey, &m.User.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan roster: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Postgres) ConfirmParticipantKey(ctx context.Context, p *domain.Participant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE users SET pix_key = $1 WHERE id = $2`, p.ScratchKey, p.UserID); err != nil {
		return fmt.Errorf("persist pix key: %w", err)
	}
	const q = `UPDATE participants SET status = $1, scratch_key = '' WHERE id = $2`
	if _, err := tx.ExecContext(ctx, q, domain.ParticipantReady, p.ID); err != nil {
		return fmt.Errorf("mark participant ready: %w", err)
	}
	return tx.Commit()
}

func (s *Postgres) ActivateMatch(ctx context.Context, matchID, secretWord, impostorUserID, impostorParticipantID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const qp = `UPDATE participants SET role = $1 WHERE id = $2`
	if _, err := tx.ExecContext(ctx, qp, domain.RoleImpostor, impostorParticipantID); err != nil {
		return fmt.Errorf("assign impostor role: %w", err)
	}
	const qm = `UPDATE matches SET status = $1, secret_word = $2, impostor_id = $3, updated_at = now() WHERE id = $4`
	if _, err := tx.ExecContext(ctx, qm, domain.MatchActive, secretWord, impostorUserID, matchID); err != nil {
		return fmt.Errorf("activate match: %w", err)
	}
	return tx.Commit()
}

func (s *Postgres) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	const q = `INSERT INTO transactions (id, user_id, match_id, amount, type, status, external_id, copia_cola, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.ExecContext(ctx, q, t.ID, t.UserID, t.MatchID, t.Amount, t.Type, t.Status, t.ExternalID, t.CopiaCola, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *Postgres) AttachProviderData(ctx context.Context, id, externalID, copiaCola string) error {
	const q = `UPDATE transactions SET external_id = $1, copia_cola = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, q, externalID, copiaCola, id)
	if err != nil {
		return fmt.Errorf("attach provider data: %w", err)
	}
	return nil
}

const transactionColumns = `id, user_id, match_id, amount, type, status, external_id, copia_cola, created_at`

func (s *Postgres) PendingEntryFee(ctx context.Context, userID, matchID string) (*domain.Transaction, error) {
	const q = `SELECT ` + transactionColumns + ` FROM transactions
		WHERE user_id = $1 AND match_id = $2 AND type = $3 AND status = $4
		ORDER BY created_at DESC LIMIT 1`
	return s.scanTransaction(s.db.QueryRowContext(ctx, q, userID, matchID, domain.TransactionEntryFee, domain.TransactionPending))
}

func (s *Postgres) TransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	const q = `SELECT ` + transactionColumns + ` FROM transactions WHERE external_id = $1 LIMIT 1`
	return s.scanTransaction(s.db.QueryRowContext(ctx, q, externalID))
}

func (s *Postgres) scanTransaction(row *sql.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.MatchID, &t.Amount, &t.Type, &t.Status, &t.ExternalID, &t.CopiaCola, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return &t, nil
}

// CompleteSettlement is guarded by status = PENDING so a replayed webhook
// neither flips the row twice nor double-increments the pot.
func (s *Postgres) CompleteSettlement(ctx context.Context, externalID string) (*domain.Transaction, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	const q = `UPDATE transactions SET status = $1
		WHERE external_id = $2 AND status = $3
		RETURNING ` + transactionColumns
	var t domain.Transaction
	err = tx.QueryRowContext(ctx, q, domain.TransactionCompleted, externalID, domain.TransactionPending).
		Scan(&t.ID, &t.UserID, &t.MatchID, &t.Amount, &t.Type, &t.Status, &t.ExternalID, &t.CopiaCola, &t.CreatedAt)
	if err == sql.ErrNoRows {
		// Already completed, or unknown reference.
		known, lerr := s.TransactionByExternalID(ctx, externalID)
		if lerr != nil {
			return nil, false, lerr
		}
		return known, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("complete settlement: %w", err)
	}
	const qp = `UPDATE matches SET pot = pot + $1, updated_at = now() WHERE id = $2`
	if _, err := tx.ExecContext(ctx, qp, t.Amount, t.MatchID); err != nil {
		return nil, false, fmt.Errorf("increment pot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return &t, true, nil
}

func (s *Postgres) CountCompletedEntryFees(ctx context.Context, matchID string) (int, error) {
	const q = `SELECT COUNT(DISTINCT user_id) FROM transactions
		WHERE match_id = $1 AND type = $2 AND status = $3`
	var n int
	err := s.db.QueryRowContext(ctx, q, matchID, domain.TransactionEntryFee, domain.TransactionCompleted).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count completed entry fees: %w", err)
	}
	return n, nil
}

func (s *Postgres) CreateVote(ctx context.Context, v *domain.Vote) error {
	const q = `INSERT INTO votes (id, match_id, voter_id, target_id, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.ExecContext(ctx, q, v.ID, v.MatchID, v.VoterID, v.TargetID, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}
