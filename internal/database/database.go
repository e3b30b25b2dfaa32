package database

import (
	"database/sql"
	"fmt"
	"time"

	"harmonia/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Database wraps a *sql.DB providing higher-level helper methods for
// interacting with the application's persistent store. It is safe for
// concurrent use because the underlying *sql.DB is concurrency-safe.
type Database struct {
	conn   *sql.DB
	logger *logrus.Logger

	// Prepared statements for the hot song paths
	insertSongStmt    *sql.Stmt
	getSongByIDStmt   *sql.Stmt
	songExistsStmt    *sql.Stmt
	removeSongStmt    *sql.Stmt
	searchSongsStmt   *sql.Stmt
	likeSongStmt      *sql.Stmt
	unlikeSongStmt    *sql.Stmt
	isSongLikedStmt   *sql.Stmt
	getLikedSongsStmt *sql.Stmt
}

// NewDatabase opens (or creates) a SQLite database at the provided path and
// ensures all required tables and indices exist. It also applies lightweight
// performance-oriented pragmas (WAL, cache sizing). Caller should Close() it
// when finished.
func NewDatabase(dbPath string) (*Database, error) {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	conn, err := sql.Open("sqlite3", dbPath+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool - adjusted for SQLite
	conn.SetMaxOpenConns(5) // SQLite works better with fewer connections
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	// Enable WAL mode for better concurrency
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=2000;",
		"PRAGMA temp_store=memory;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA auto_vacuum=INCREMENTAL;",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	db := &Database{
		conn:   conn,
		logger: logger,
	}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := db.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Database initialized successfully")
	return db, nil
}

// createTables creates tables and indices if they do not already exist. This
// is idempotent and safe to call multiple times.
func (db *Database) createTables() error {
	songsTable := `
	CREATE TABLE IF NOT EXISTS songs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		song_path TEXT NOT NULL UNIQUE,
		image_path TEXT,
		duration INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	likedSongsTable := `
	CREATE TABLE IF NOT EXISTS liked_songs (
		user_id TEXT NOT NULL,
		song_id TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (song_id) REFERENCES songs(id) ON DELETE CASCADE,
		PRIMARY KEY (user_id, song_id)
	);`

	usersTable := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		full_name TEXT,
		avatar_url TEXT,
		billing_address TEXT,
		payment_method TEXT
	);`

	customersTable := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		stripe_customer_id TEXT NOT NULL UNIQUE
	);`

	productsTable := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		active BOOLEAN DEFAULT FALSE,
		name TEXT,
		description TEXT,
		image TEXT,
		metadata TEXT
	);`

	pricesTable := `
	CREATE TABLE IF NOT EXISTS prices (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		active BOOLEAN DEFAULT FALSE,
		currency TEXT,
		description TEXT,
		unit_amount INTEGER,
		type TEXT,
		interval TEXT,
		interval_count INTEGER,
		trial_period_days INTEGER,
		metadata TEXT,
		FOREIGN KEY (product_id) REFERENCES products(id)
	);`

	subscriptionsTable := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		metadata TEXT,
		price_id TEXT,
		quantity INTEGER,
		cancel_at_period_end BOOLEAN DEFAULT FALSE,
		cancel_at TEXT,
		canceled_at TEXT,
		current_period_start TEXT,
		current_period_end TEXT,
		created TEXT,
		ended_at TEXT,
		trial_start TEXT,
		trial_end TEXT
	);`

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_songs_user ON songs(user_id);",
		"CREATE INDEX IF NOT EXISTS idx_songs_title ON songs(title);",
		"CREATE INDEX IF NOT EXISTS idx_songs_created ON songs(created_at);",
		"CREATE INDEX IF NOT EXISTS idx_liked_songs_user ON liked_songs(user_id, created_at);",
		"CREATE INDEX IF NOT EXISTS idx_prices_product ON prices(product_id);",
		"CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id, status);",
		"CREATE INDEX IF NOT EXISTS idx_customers_stripe ON customers(stripe_customer_id);",
	}

	tables := []string{
		songsTable, likedSongsTable, usersTable,
		customersTable, productsTable, pricesTable, subscriptionsTable,
	}
	for _, table := range tables {
		if _, err := db.conn.Exec(table); err != nil {
			return err
		}
	}

	for _, index := range indices {
		if _, err := db.conn.Exec(index); err != nil {
			return err
		}
	}

	return nil
}

// prepareStatements prepares commonly used SQL statements for better performance
func (db *Database) prepareStatements() error {
	var err error

	db.insertSongStmt, err = db.conn.Prepare(`
		INSERT INTO songs (id, user_id, title, author, song_path, image_path, duration)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert song statement: %w", err)
	}

	db.getSongByIDStmt, err = db.conn.Prepare(`
		SELECT id, user_id, title, author, song_path, image_path, duration, created_at
		FROM songs WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get song by ID statement: %w", err)
	}

	db.songExistsStmt, err = db.conn.Prepare(`
		SELECT COUNT(*) FROM songs WHERE song_path = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare song exists statement: %w", err)
	}

	db.removeSongStmt, err = db.conn.Prepare(`
		DELETE FROM songs WHERE song_path = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare remove song statement: %w", err)
	}

	db.searchSongsStmt, err = db.conn.Prepare(`
		SELECT id, user_id, title, author, song_path, image_path, duration, created_at
		FROM songs WHERE title LIKE ? ORDER BY created_at DESC`)
	if err != nil {
		return fmt.Errorf("failed to prepare search songs statement: %w", err)
	}

	db.likeSongStmt, err = db.conn.Prepare(`
		INSERT OR IGNORE INTO liked_songs (user_id, song_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare like song statement: %w", err)
	}

	db.unlikeSongStmt, err = db.conn.Prepare(`
		DELETE FROM liked_songs WHERE user_id = ? AND song_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare unlike song statement: %w", err)
	}

	db.isSongLikedStmt, err = db.conn.Prepare(`
		SELECT COUNT(*) FROM liked_songs WHERE user_id = ? AND song_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare is song liked statement: %w", err)
	}

	db.getLikedSongsStmt, err = db.conn.Prepare(`
		SELECT s.id, s.user_id, s.title, s.author, s.song_path, s.image_path, s.duration, s.created_at
		FROM liked_songs l JOIN songs s ON s.id = l.song_id
		WHERE l.user_id = ? ORDER BY l.created_at DESC`)
	if err != nil {
		return fmt.Errorf("failed to prepare get liked songs statement: %w", err)
	}

	return nil
}

// InsertSong adds a new song row to the catalog.
func (db *Database) InsertSong(song models.Song) error {
	_, err := db.insertSongStmt.Exec(
		song.ID, song.UserID, song.Title, song.Author,
		song.SongPath, song.ImagePath, song.Duration,
	)
	if err != nil {
		return fmt.Errorf("failed to insert song: %w", err)
	}

	db.logger.WithFields(logrus.Fields{
		"song_id": song.ID,
		"title":   song.Title,
		"author":  song.Author,
	}).Debug("Inserted song")
	return nil
}

// GetSongByID retrieves a single song by its identifier.
func (db *Database) GetSongByID(id string) (models.Song, error) {
	var song models.Song
	var imagePath sql.NullString
	err := db.getSongByIDStmt.QueryRow(id).Scan(
		&song.ID, &song.UserID, &song.Title, &song.Author,
		&song.SongPath, &imagePath, &song.Duration, &song.CreatedAt,
	)
	if err != nil {
		return models.Song{}, fmt.Errorf("failed to get song %s: %w", id, err)
	}
	song.ImagePath = imagePath.String
	return song, nil
}

// GetAllSongs returns every song in the catalog, newest first.
func (db *Database) GetAllSongs() ([]models.Song, error) {
	rows, err := db.conn.Query(`
		SELECT id, user_id, title, author, song_path, image_path, duration, created_at
		FROM songs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query songs: %w", err)
	}
	defer rows.Close()

	return scanSongs(rows)
}

// SearchSongsByTitle returns songs whose title contains the query, newest
// first. An empty query behaves like GetAllSongs.
func (db *Database) SearchSongsByTitle(query string) ([]models.Song, error) {
	if query == "" {
		return db.GetAllSongs()
	}

	rows, err := db.searchSongsStmt.Query("%" + query + "%")
	if err != nil {
		return nil, fmt.Errorf("failed to search songs: %w", err)
	}
	defer rows.Close()

	return scanSongs(rows)
}

// GetSongsByUserID returns the songs uploaded by a user, newest first.
func (db *Database) GetSongsByUserID(userID string) ([]models.Song, error) {
	rows, err := db.conn.Query(`
		SELECT id, user_id, title, author, song_path, image_path, duration, created_at
		FROM songs WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query songs for user %s: %w", userID, err)
	}
	defer rows.Close()

	return scanSongs(rows)
}

// SongExistsByPath reports whether a song row references the given object key.
func (db *Database) SongExistsByPath(songPath string) (bool, error) {
	var count int
	if err := db.songExistsStmt.QueryRow(songPath).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check song existence: %w", err)
	}
	return count > 0, nil
}

// RemoveSongByPath deletes the song row referencing the given object key.
func (db *Database) RemoveSongByPath(songPath string) error {
	if _, err := db.removeSongStmt.Exec(songPath); err != nil {
		return fmt.Errorf("failed to remove song: %w", err)
	}
	return nil
}

// LikeSong marks a song as liked by a user. Liking twice is a no-op.
func (db *Database) LikeSong(userID, songID string) error {
	if _, err := db.likeSongStmt.Exec(userID, songID); err != nil {
		return fmt.Errorf("failed to like song: %w", err)
	}
	return nil
}

// UnlikeSong removes a like. Unliking a song that was never liked is a no-op.
func (db *Database) UnlikeSong(userID, songID string) error {
	if _, err := db.unlikeSongStmt.Exec(userID, songID); err != nil {
		return fmt.Errorf("failed to unlike song: %w", err)
	}
	return nil
}

// IsSongLiked reports whether a user has liked a song.
func (db *Database) IsSongLiked(userID, songID string) (bool, error) {
	var count int
	if err := db.isSongLikedStmt.QueryRow(userID, songID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check liked song: %w", err)
	}
	return count > 0, nil
}

// GetLikedSongs returns the songs a user has liked, most recently liked first.
func (db *Database) GetLikedSongs(userID string) ([]models.Song, error) {
	rows, err := db.getLikedSongsStmt.Query(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query liked songs: %w", err)
	}
	defer rows.Close()

	return scanSongs(rows)
}

// scanSongs collects song rows from a result set.
func scanSongs(rows *sql.Rows) ([]models.Song, error) {
	var songs []models.Song
	for rows.Next() {
		var song models.Song
		var imagePath sql.NullString
		if err := rows.Scan(
			&song.ID, &song.UserID, &song.Title, &song.Author,
			&song.SongPath, &imagePath, &song.Duration, &song.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan song row: %w", err)
		}
		song.ImagePath = imagePath.String
		songs = append(songs, song)
	}
	return songs, rows.Err()
}

// Close releases prepared statements and the underlying connection.
func (db *Database) Close() error {
	stmts := []*sql.Stmt{
		db.insertSongStmt, db.getSongByIDStmt, db.songExistsStmt,
		db.removeSongStmt, db.searchSongsStmt, db.likeSongStmt,
		db.unlikeSongStmt, db.isSongLikedStmt, db.getLikedSongsStmt,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return db.conn.Close()
}
