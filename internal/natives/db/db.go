// Package db is the native "db" module from SPEC_FULL.md §3.2: a
// connection manager over database/sql plus the blank-imported driver
// set the teacher's internal/database package pulls in, exposed to
// scripts as a handful of native functions registered through the
// FFI's RegisterNative the same way the teacher's
// internal/stdlib.RegisterDatabaseFunctions wires database_funcs.go
// into its VM.
package db

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"noct/internal/errors"
	"noct/internal/value"
	"noct/internal/vm"
)

// Manager owns every open connection, keyed by the id a script passed
// to db.connect. One Manager is shared by every native call a single
// VM registers, mirroring the teacher's package-level dbManager.
type Manager struct {
	mu    sync.Mutex
	conns map[string]*sql.DB
}

func NewManager() *Manager {
	return &Manager{conns: map[string]*sql.DB{}}
}

// Register installs db.connect/db.close/db.query/db.exec against vm,
// all backed by m.
func Register(v *vm.VM, m *Manager) {
	v.RegisterNative("db.connect", m.connect)
	v.RegisterNative("db.close", m.close)
	v.RegisterNative("db.query", m.query)
	v.RegisterNative("db.exec", m.exec)
}

func argString(args []value.Value, i int) (string, bool) {
	if i >= len(args) || args[i].Kind != value.String {
		return "", false
	}
	return args[i].Obj.Str, true
}

// connect(id, driver, dsn) opens and caches a *sql.DB under id.
func (m *Manager) connect(vmi *vm.VM, args []value.Value) (value.Value, bool) {
	id, ok1 := argString(args, 0)
	driver, ok2 := argString(args, 1)
	dsn, ok3 := argString(args, 2)
	if !ok1 || !ok2 || !ok3 {
		return value.NullValue(), fail(vmi, "db.connect expects (id, driver, dsn) strings")
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return value.NullValue(), fail(vmi, "db.connect: %v", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return value.NullValue(), fail(vmi, "db.connect: %v", err)
	}
	m.mu.Lock()
	m.conns[id] = conn
	m.mu.Unlock()
	errors.Logf("db.connect %q via %s", id, driver)
	return value.IntValue(1), true
}

func (m *Manager) close(vmi *vm.VM, args []value.Value) (value.Value, bool) {
	id, ok := argString(args, 0)
	if !ok {
		return value.NullValue(), fail(vmi, "db.close expects (id)")
	}
	m.mu.Lock()
	conn, found := m.conns[id]
	delete(m.conns, id)
	m.mu.Unlock()
	if !found {
		return value.NullValue(), fail(vmi, "db.close: no connection %q", id)
	}
	conn.Close()
	return value.IntValue(1), true
}

// query(id, sql, args...) -> array of dicts, one per row, columns
// keyed by name.
func (m *Manager) query(vmi *vm.VM, args []value.Value) (value.Value, bool) {
	if len(args) < 2 {
		return value.NullValue(), fail(vmi, "db.query expects (id, sql, [args...])")
	}
	conn, ok := m.lookup(vmi, args[0])
	if !ok {
		return value.NullValue(), false
	}
	query, ok := argString(args, 1)
	if !ok {
		return value.NullValue(), fail(vmi, "db.query: sql must be a string")
	}
	rows, err := conn.Query(query, toDriverArgs(args[2:])...)
	if err != nil {
		return value.NullValue(), fail(vmi, "db.query: %v", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return value.NullValue(), fail(vmi, "db.query: %v", err)
	}

	result := value.ArrayValue(vmi.Heap.NewArray(nil))
	for rows.Next() {
		scanned := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range scanned {
			ptrs[i] = &scanned[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return value.NullValue(), fail(vmi, "db.query: %v", err)
		}
		row := value.DictValue(vmi.Heap.NewDict())
		for i, col := range cols {
			value.DictSet(row.Obj, col, fromDriverValue(vmi, scanned[i]))
		}
		result.Obj.Arr = append(result.Obj.Arr, row)
	}
	return result, true
}

// exec(id, sql, args...) -> rows affected.
func (m *Manager) exec(vmi *vm.VM, args []value.Value) (value.Value, bool) {
	if len(args) < 2 {
		return value.NullValue(), fail(vmi, "db.exec expects (id, sql, [args...])")
	}
	conn, ok := m.lookup(vmi, args[0])
	if !ok {
		return value.NullValue(), false
	}
	query, ok := argString(args, 1)
	if !ok {
		return value.NullValue(), fail(vmi, "db.exec: sql must be a string")
	}
	res, err := conn.Exec(query, toDriverArgs(args[2:])...)
	if err != nil {
		return value.NullValue(), fail(vmi, "db.exec: %v", err)
	}
	n, _ := res.RowsAffected()
	return value.IntValue(int32(n)), true
}

func (m *Manager) lookup(vmi *vm.VM, idv value.Value) (*sql.DB, bool) {
	id, ok := argString([]value.Value{idv}, 0)
	if !ok {
		fail(vmi, "db: connection id must be a string")
		return nil, false
	}
	m.mu.Lock()
	conn, found := m.conns[id]
	m.mu.Unlock()
	if !found {
		fail(vmi, "db: no connection %q", id)
		return nil, false
	}
	return conn, true
}

func toDriverArgs(args []value.Value) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		switch a.Kind {
		case value.Int:
			out[i] = a.I
		case value.Float:
			out[i] = a.F
		case value.String:
			out[i] = a.Obj.Str
		default:
			out[i] = value.Stringify(a)
		}
	}
	return out
}

func fromDriverValue(vmi *vm.VM, v interface{}) value.Value {
	switch t := v.(type) {
	case nil:
		return value.NullValue()
	case int64:
		return value.IntValue(int32(t))
	case float64:
		return value.FloatValue(float32(t))
	case []byte:
		return value.StringValue(vmi.Heap.Intern(string(t)))
	case string:
		return value.StringValue(vmi.Heap.Intern(t))
	default:
		return value.StringValue(vmi.Heap.Intern(fmt.Sprintf("%v", t)))
	}
}

func fail(vmi *vm.VM, format string, args ...interface{}) bool {
	vmi.Errs.Setf(errors.Runtime, vmi.File, 0, format, args...)
	return false
}
