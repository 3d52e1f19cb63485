package sqlite

// Primary database: job lifecycle and worker registry.
// Written only from the coordinator process; workers mutate it
// exclusively through the HTTP API.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	payload TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	worker_id INTEGER,
	result TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_type ON jobs(status, type);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);

CREATE TABLE IF NOT EXISTS workers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'idle',
	is_active INTEGER NOT NULL DEFAULT 1,
	last_active INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workers_status_type ON workers(status, type);
`

// Mail database: per-module SMTP settings with a Global fallback row
// plus an append-only send log
const mailSchemaSQL = `
CREATE TABLE IF NOT EXISTS mail_settings (
	module TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (module, key)
);

CREATE TABLE IF NOT EXISTS mail_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	module TEXT NOT NULL,
	recipient TEXT NOT NULL,
	subject TEXT,
	status TEXT NOT NULL,
	error TEXT,
	used_backup INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mail_log_module ON mail_log(module, created_at DESC);
`

// Task-scheduler database maintained by the script runner
const taskSchemaSQL = `
CREATE TABLE IF NOT EXISTS scheduled_tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	is_running INTEGER NOT NULL DEFAULT 0,
	start_running INTEGER,
	pid INTEGER
);

CREATE TABLE IF NOT EXISTS task_logs (
	id TEXT PRIMARY KEY,
	task_id INTEGER NOT NULL,
	start_time INTEGER NOT NULL,
	end_time INTEGER,
	status TEXT NOT NULL,
	output TEXT,
	FOREIGN KEY (task_id) REFERENCES scheduled_tasks(id)
);

CREATE INDEX IF NOT EXISTS idx_task_logs_task ON task_logs(task_id, start_time DESC);
`
