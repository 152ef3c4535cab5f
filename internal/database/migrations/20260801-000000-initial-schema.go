package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260801-000000",
		Description: "Initial schema",
		Up: []string{
			// Users - identity lives upstream; this table carries the LLM
			// provider settings the generation core reads. api_key is opaque:
			// a bearer token or an endpoint URL depending on the provider.
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				email TEXT UNIQUE NOT NULL,
				api_provider TEXT NOT NULL DEFAULT '',
				api_model_name TEXT NOT NULL DEFAULT '',
				api_key TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,

			// Personas - configurable AI characters
			`CREATE TABLE IF NOT EXISTS personas (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				system_instruction TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`,

			// Chat sessions
			`CREATE TABLE IF NOT EXISTS chat_sessions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES users(id),
				persona_id TEXT REFERENCES personas(id),
				title TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_chat_sessions_user_id ON chat_sessions(user_id)`,

			// Messages - ordered conversation history
			`CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				chat_session_id TEXT NOT NULL REFERENCES chat_sessions(id),
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(chat_session_id, created_at)`,

			// API usage logs - append-only, one row per LLM call attempt.
			// Backs analytics and the trailing-window rate limiter.
			`CREATE TABLE IF NOT EXISTS api_usage_logs (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				provider TEXT NOT NULL,
				model TEXT NOT NULL,
				status TEXT NOT NULL,
				request_tokens INTEGER,
				response_tokens INTEGER,
				total_tokens INTEGER,
				error_message TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_usage_logs_user_created ON api_usage_logs(user_id, created_at)`,

			// Jobs - background generation queue
			`CREATE TABLE IF NOT EXISTS jobs (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				chat_session_id TEXT NOT NULL,
				type TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				attempts INTEGER NOT NULL DEFAULT 0,
				error_message TEXT,
				started_at TEXT,
				completed_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at)`,
		},
	})
}
