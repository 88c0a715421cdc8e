package engine

// op names a request kind understood by the engine.
type op string

const (
	opOpen        op = "open"
	opClose       op = "close"
	opExec        op = "exec"
	opQuery       op = "query"
	opQueryArrays op = "query_arrays"
)

// Handle identifies an open database on the engine side. Zero is never a
// usable handle.
type Handle int64

// Row is one result row keyed by column name.
type Row map[string]any

// Result reports the effect of an Exec.
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

type request struct {
	ID      uint64
	Op      op
	Handle  Handle
	Locator string
	Stmt    string
	Params  []any
}

type response struct {
	ID      uint64
	Handle  Handle
	Result  Result
	Columns []string
	Rows    []envelope
	Err     *RemoteError
}

// envelope wraps every row on the wire. A nil Row terminates the stream; it
// is never a literal row.
type envelope struct {
	Row any
}

type eventKind int

const (
	eventReady eventKind = iota
	eventFatal
)

// event is an unsolicited lifecycle message from the engine.
type event struct {
	Kind          eventKind
	SQLiteVersion string
	SharedMemory  bool
	Err           error
}
