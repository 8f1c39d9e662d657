// Package log implements the ambient event logger shared by every core
// component: a chained *Event builder API backed by a channel fan-out and
// an sqlite3 persistence sink, grounded on the teacher's pkg/log.
package log

// API inspired by zerolog https://github.com/rs/zerolog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver.
)

// Level defines log level.
type Level uint8

// Logging constants.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

// UnixMillisecond is a timestamp in milliseconds since the Unix epoch.
type UnixMillisecond uint64

// Event is a log record under construction. Call Msg or Msgf to send it.
type Event struct {
	level  Level
	time   UnixMillisecond
	src    string // Component that emitted the event (e.g. "pipeline", "server").
	source string // Video-source or thread id the event concerns, if any.

	logger *Logger
}

// Log is a completed, immutable log entry.
type Log struct {
	Level  Level
	Time   UnixMillisecond
	Msg    string
	Src    string
	Source string
}

// Src sets the emitting component's name.
func (e *Event) Src(component string) *Event {
	e.src = component
	return e
}

// Source names the video-source or thread id the event concerns.
func (e *Event) Source(sourceID string) *Event {
	e.source = sourceID
	return e
}

// Time overrides the event's timestamp, mainly for tests.
func (e *Event) Time(t time.Time) *Event {
	e.time = UnixMillisecond(t.UnixNano() / int64(time.Millisecond))
	return e
}

// Msg sends the event with msg as its message field.
func (e *Event) Msg(msg string) {
	e.logger.feed <- Log{
		Time:   e.time,
		Level:  e.level,
		Msg:    msg,
		Src:    e.src,
		Source: e.source,
	}
}

// Msgf sends the event with a formatted message.
func (e *Event) Msgf(format string, v ...interface{}) {
	e.Msg(fmt.Sprintf(format, v...))
}

// Feed is a read-only view of the logger's fan-out channel.
type Feed <-chan Log
type logFeed chan Log

// Logger fans out log events to subscribers and, once started, to an
// sqlite3-backed sink.
type Logger struct {
	feed  logFeed
	sub   chan logFeed
	unsub chan logFeed

	wg     *sync.WaitGroup
	db     *sql.DB
	dbPath string
}

// NewLogger opens (or creates) the sqlite3 database at dbPath and returns a
// Logger ready to Start.
func NewLogger(dbPath string, wg *sync.WaitGroup) (*Logger, error) {
	if err := checkDB(dbPath); err != nil {
		return nil, err
	}
	return &Logger{
		feed:   make(logFeed),
		sub:    make(chan logFeed),
		unsub:  make(chan logFeed),
		wg:     wg,
		dbPath: dbPath,
	}, nil
}

// NewMockLogger returns a Logger with no database backing, for tests.
func NewMockLogger() *Logger {
	return &Logger{
		feed:  make(logFeed),
		sub:   make(chan logFeed),
		unsub: make(chan logFeed),
		wg:    &sync.WaitGroup{},
	}
}

const dbAPIversion = 1

func checkDB(dbPath string) error {
	if !fileExists(dbPath) {
		return createDB(dbPath)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("could not open database: %w", err)
	}
	defer db.Close()

	rows, err := db.Query("PRAGMA user_version;")
	if err != nil {
		return err
	}
	defer rows.Close()

	var version int
	rows.Next()
	if err := rows.Scan(&version); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if version != dbAPIversion {
		return fmt.Errorf("invalid database version %v: %v", version, dbPath)
	}
	return nil
}

func createDB(dbPath string) error {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("could not create database: %w", err)
	}
	defer db.Close()

	sqlStmt := "create table logs (" +
		"time INTEGER not null," +
		" level INTEGER not null," +
		" src TEXT not null," +
		" source TEXT," +
		" msg TEXT not null);"
	if _, err = db.Exec(sqlStmt); err != nil {
		return fmt.Errorf("could not create table in database: %w", err)
	}

	_, err = db.Exec("PRAGMA user_version = " + strconv.Itoa(dbAPIversion))
	if err != nil {
		return fmt.Errorf("could not set database api version: %w", err)
	}
	return nil
}

// Start opens the logger's sqlite3 connection and runs the fan-out loop
// until ctx is cancelled.
func (l *Logger) Start(ctx context.Context) error {
	if l.dbPath != "" {
		db, err := sql.Open("sqlite3", l.dbPath)
		if err != nil {
			return fmt.Errorf("could not open database: %w", err)
		}
		l.db = db
	}

	l.wg.Add(1)
	go func() {
		subs := map[logFeed]struct{}{}
		for {
			select {
			case <-ctx.Done():
				if l.db != nil {
					l.db.Close()
				}
				l.wg.Done()
				return

			case ch := <-l.sub:
				subs[ch] = struct{}{}

			case ch := <-l.unsub:
				close(ch)
				delete(subs, ch)

			case msg := <-l.feed:
				for ch := range subs {
					ch <- msg
				}
			}
		}
	}()
	return nil
}

// CancelFunc cancels a log feed subscription.
type CancelFunc func()

// Subscribe returns a new channel carrying every log event and a
// CancelFunc to unsubscribe.
func (l *Logger) Subscribe() (<-chan Log, CancelFunc) {
	feed := make(logFeed)
	l.sub <- feed
	return feed, func() { l.unSubscribe(feed) }
}

func (l *Logger) unSubscribe(feed logFeed) {
	for {
		select {
		case l.unsub <- feed:
			return
		case <-feed:
		}
	}
}

// LogToStdout prints every log event to stdout until ctx is cancelled.
func (l *Logger) LogToStdout(ctx context.Context) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case log := <-feed:
			printLog(log)
		case <-ctx.Done():
			return
		}
	}
}

func printLog(log Log) {
	var output string
	switch log.Level {
	case LevelError:
		output += "[ERROR] "
	case LevelWarning:
		output += "[WARNING] "
	case LevelInfo:
		output += "[INFO] "
	case LevelDebug:
		output += "[DEBUG] "
	}
	if log.Source != "" {
		output += log.Source + ": "
	}
	if log.Src != "" {
		output += strings.ToUpper(log.Src[:1]) + log.Src[1:] + ": "
	}
	output += log.Msg
	fmt.Println(output)
}

// LogToDB persists every log event to sqlite3 until ctx is cancelled.
func (l *Logger) LogToDB(ctx context.Context) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case log := <-feed:
			if err := saveLogToDB(log, l.db); err != nil {
				fmt.Fprintf(os.Stderr, "could not save log: %v %v\n", log.Msg, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

const maxRows = "100000"

func saveLogToDB(log Log, db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	insertStmt, err := tx.Prepare("insert into logs(time, level, src, source, msg) values(?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer insertStmt.Close()

	if _, err = insertStmt.Exec(log.Time, log.Level, log.Src, log.Source, log.Msg); err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	sqlStmt := "DELETE FROM logs WHERE NOT rowid IN " +
		"(SELECT rowid FROM `logs` ORDER BY `time` DESC LIMIT " + maxRows + ");"
	if _, err = tx.Exec(sqlStmt); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	return tx.Commit()
}

// Error starts a new error-level event.
func (l *Logger) Error() *Event { return l.newEvent(LevelError) }

// Warn starts a new warning-level event.
func (l *Logger) Warn() *Event { return l.newEvent(LevelWarning) }

// Info starts a new info-level event.
func (l *Logger) Info() *Event { return l.newEvent(LevelInfo) }

// Debug starts a new debug-level event.
func (l *Logger) Debug() *Event { return l.newEvent(LevelDebug) }

func (l *Logger) newEvent(level Level) *Event {
	return &Event{level: level, time: UnixMillisecond(time.Now().UnixNano() / int64(time.Millisecond)), logger: l}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
