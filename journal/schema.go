package journal

const Schema = `
CREATE TABLE IF NOT EXISTS actions (
	id TEXT PRIMARY KEY,
	time DATETIME NOT NULL,
	trade_id TEXT NOT NULL,
	ticket TEXT NOT NULL,
	user_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	kind TEXT NOT NULL,
	stop_loss REAL NOT NULL,
	volume REAL NOT NULL,
	partial_closed REAL NOT NULL,
	message TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_actions_trade ON actions(trade_id, time);

CREATE TABLE IF NOT EXISTS decisions (
	time DATETIME NOT NULL,
	user_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	allowed INTEGER NOT NULL,
	state TEXT NOT NULL,
	reason TEXT NOT NULL,
	restrictions TEXT NOT NULL,
	daily_loss_pct REAL NOT NULL,
	lot_size REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_user_time ON decisions(user_id, time);

CREATE TABLE IF NOT EXISTS results (
	trade_id TEXT PRIMARY KEY,
	ticket TEXT NOT NULL,
	user_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	volume REAL NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL,
	pnl REAL NOT NULL,
	won INTEGER NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_close_time ON results(close_time);
`
