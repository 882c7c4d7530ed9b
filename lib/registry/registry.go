package registry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/statq/statq/rpc/common"
)

var logger = common.GetLogger("registry")

var (
	// ErrDuplicateEmail is returned when registering an email that exists.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrInvalidCredentials is returned when authentication fails. The
	// caller cannot distinguish a wrong password from an unknown email.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// Client is one registered user.
type Client struct {
	ID       int64
	Name     string
	Nickname string
	Email    string
}

// Registry persists clients, sessions and the query log in SQLite.
// All methods are safe for concurrent use.
type Registry struct {
	db *sql.DB
}

// Open creates or opens the registry database at path. ":memory:" keeps it
// ephemeral, which the tests rely on.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	// A single connection sidesteps SQLite writer contention and keeps the
	// :memory: database alive across calls.
	db.SetMaxOpenConns(1)

	r := &Registry{db: db}
	if err := r.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info().Str("path", path).Msg("registry opened")
	return r, nil
}

// Close releases the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

func (r *Registry) createTables() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS clients (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		name          TEXT NOT NULL,
		nickname      TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at    TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		client_id  INTEGER NOT NULL REFERENCES clients(id),
		address    TEXT NOT NULL,
		started_at TEXT NOT NULL,
		ended_at   TEXT
	);
	CREATE TABLE IF NOT EXISTS query_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id  INTEGER NOT NULL REFERENCES clients(id),
		session_id TEXT NOT NULL REFERENCES sessions(id),
		query_type TEXT NOT NULL,
		parameters TEXT,
		created_at TEXT NOT NULL
	);`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Clients
// --------------------------------------------------------------------------

// RegisterClient stores a new client with a bcrypt password hash and returns
// its id.
func (r *Registry) RegisterClient(name, nickname, email, password string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	res, err := r.db.Exec(
		`INSERT INTO clients (name, nickname, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		name, nickname, email, string(hash), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		// modernc reports the UNIQUE violation as a generic error, probe by
		// email to keep the sentinel meaningful
		if existing, lookupErr := r.clientByEmail(email); lookupErr == nil && existing != nil {
			return 0, ErrDuplicateEmail
		}
		return 0, fmt.Errorf("register client: %w", err)
	}
	return res.LastInsertId()
}

// Authenticate checks an email/password pair and returns the client on
// success.
func (r *Registry) Authenticate(email, password string) (*Client, error) {
	row := r.db.QueryRow(
		`SELECT id, name, nickname, email, password_hash FROM clients WHERE email = ?`, email)

	var c Client
	var hash string
	if err := row.Scan(&c.ID, &c.Name, &c.Nickname, &c.Email, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &c, nil
}

func (r *Registry) clientByEmail(email string) (*Client, error) {
	row := r.db.QueryRow(`SELECT id, name, nickname, email FROM clients WHERE email = ?`, email)
	var c Client
	if err := row.Scan(&c.ID, &c.Name, &c.Nickname, &c.Email); err != nil {
		return nil, err
	}
	return &c, nil
}

// --------------------------------------------------------------------------
// Sessions
// --------------------------------------------------------------------------

// StartSession records a login and returns the new session id.
func (r *Registry) StartSession(clientID int64, address string) (string, error) {
	id := uuid.NewString()
	_, err := r.db.Exec(
		`INSERT INTO sessions (id, client_id, address, started_at) VALUES (?, ?, ?, ?)`,
		id, clientID, address, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	return id, nil
}

// EndSession marks a session as finished. Ending an unknown or already
// ended session is not an error.
func (r *Registry) EndSession(sessionID string) error {
	_, err := r.db.Exec(
		`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339), sessionID,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Query log
// --------------------------------------------------------------------------

// LogQuery appends one executed query to the log.
func (r *Registry) LogQuery(clientID int64, sessionID, queryType string, parameters map[string]any) error {
	params, err := json.Marshal(parameters)
	if err != nil {
		return fmt.Errorf("log query: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO query_log (client_id, session_id, query_type, parameters, created_at) VALUES (?, ?, ?, ?, ?)`,
		clientID, sessionID, queryType, string(params), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("log query: %w", err)
	}
	return nil
}

// QueryStats returns how often each query type has been executed.
func (r *Registry) QueryStats() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT query_type, COUNT(*) FROM query_log GROUP BY query_type`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{}
	for rows.Next() {
		var queryType string
		var count int
		if err := rows.Scan(&queryType, &count); err != nil {
			return nil, fmt.Errorf("query stats: %w", err)
		}
		stats[queryType] = count
	}
	return stats, rows.Err()
}
