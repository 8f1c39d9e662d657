package log

import (
	"database/sql"
	"fmt"
	"strconv"
)

// Query selects a filtered, time-bounded slice of persisted log entries.
type Query struct {
	Levels  []Level
	Time    UnixMillisecond
	Sources []string // Component names (Event.Src), e.g. "pipeline", "server".
	Ids     []string // Video-source or thread ids (Event.Source).
	Limit   int
}

// Query runs q against the logger's sqlite3 database, most recent first.
func (l *Logger) Query(q Query) (*[]Log, error) {
	sqlStmt := "SELECT time,level,src,source,msg FROM logs"
	sqlStmt += " WHERE level " + genIN(len(q.Levels))
	sqlStmt += " AND src " + genIN(len(q.Sources))

	if len(q.Ids) != 0 {
		sqlStmt += " AND source " + genIN(len(q.Ids))
	}
	if q.Time != 0 {
		sqlStmt += " AND time < (?)"
	}
	sqlStmt += " ORDER BY time DESC"
	if q.Limit != 0 {
		sqlStmt += " LIMIT " + strconv.Itoa(q.Limit)
	}

	stmt, err := l.db.Prepare(sqlStmt)
	if err != nil {
		return nil, fmt.Errorf("prepare query: %w", err)
	}
	defer stmt.Close()

	args := make([]interface{}, 0, len(q.Levels)+len(q.Sources)+len(q.Ids)+1)
	args = append(args, levelsToInterfaces(q.Levels)...)
	args = append(args, stringsToInterfaces(q.Sources)...)
	args = append(args, stringsToInterfaces(q.Ids)...)
	if q.Time != 0 {
		args = append(args, q.Time)
	}

	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	return parseRows(rows)
}

func parseRows(rows *sql.Rows) (*[]Log, error) {
	var logs []Log
	for rows.Next() {
		var t UnixMillisecond
		var level uint8
		var src, source, msg string

		if err := rows.Scan(&t, &level, &src, &source, &msg); err != nil {
			return nil, err
		}
		logs = append(logs, Log{Time: t, Level: Level(level), Src: src, Source: source, Msg: msg})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &logs, nil
}

func genIN(n int) string {
	output := "IN ("
	for i := 1; i <= n; i++ {
		if i != n {
			output += "?, "
		} else {
			output += "?"
		}
	}
	return output + ")"
}

func levelsToInterfaces(slice []Level) []interface{} {
	output := make([]interface{}, len(slice))
	for i, v := range slice {
		output[i] = v
	}
	return output
}

func stringsToInterfaces(slice []string) []interface{} {
	output := make([]interface{}, len(slice))
	for i, v := range slice {
		output[i] = v
	}
	return output
}
