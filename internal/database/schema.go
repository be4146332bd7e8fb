package database

// schema is the single source of truth for the database layout.
// Every statement is idempotent so Migrate can run at each startup.
const schema = `
CREATE TABLE IF NOT EXISTS klines (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol     TEXT    NOT NULL,
    interval   TEXT    NOT NULL,
    open_time  INTEGER NOT NULL,
    close_time INTEGER NOT NULL,
    open       REAL    NOT NULL,
    high       REAL    NOT NULL,
    low        REAL    NOT NULL,
    close      REAL    NOT NULL,
    volume     REAL    NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s','now')),
    UNIQUE (symbol, interval, open_time)
);
CREATE INDEX IF NOT EXISTS ix_klines_symbol_interval ON klines (symbol, interval);

CREATE TABLE IF NOT EXISTS market_cache (
    symbol         TEXT PRIMARY KEY,
    price          REAL NOT NULL,
    change_pct_24h REAL NOT NULL DEFAULT 0,
    high_24h       REAL,
    low_24h        REAL,
    volume_24h     REAL,
    updated_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS market_watch (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol        TEXT    NOT NULL UNIQUE,
    display_order INTEGER NOT NULL DEFAULT 0,
    starred       INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);

INSERT OR IGNORE INTO market_watch (symbol, display_order, starred) VALUES ('BTC', 0, 1);
INSERT OR IGNORE INTO market_watch (symbol, display_order, starred) VALUES ('ETH', 1, 1);

CREATE TABLE IF NOT EXISTS agent_signals (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id        TEXT,
    strategy_name   TEXT,
    symbol          TEXT NOT NULL,
    action          TEXT NOT NULL,
    conviction      REAL,
    price_at_signal REAL,
    reason          TEXT,
    raw_analysis    TEXT,
    stop_loss       REAL,
    take_profit     REAL,
    created_at      INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);
CREATE INDEX IF NOT EXISTS ix_agent_signals_symbol ON agent_signals (symbol);

CREATE TABLE IF NOT EXISTS crawl_sources (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    name             TEXT NOT NULL UNIQUE,
    url              TEXT NOT NULL,
    spider_type      TEXT NOT NULL,
    interval_minutes INTEGER NOT NULL DEFAULT 60,
    last_run_at      INTEGER,
    active           INTEGER NOT NULL DEFAULT 1
);

INSERT OR IGNORE INTO crawl_sources (name, url, spider_type, interval_minutes) VALUES
    ('Farside BTC', 'https://farside.co.uk/bitcoin-etf-flow-all-data/', 'farside', 60),
    ('Farside ETH', 'https://farside.co.uk/ethereum-etf-flow-all-data/', 'farside', 60),
    ('Farside SOL', 'https://farside.co.uk/solana-etf-flow-all-data/', 'farside', 60),
    ('Arkham BlackRock', 'https://intel.arkm.com/explorer/entity/blackrock', 'arkham', 60),
    ('Arkham Fidelity', 'https://intel.arkm.com/explorer/entity/fidelity', 'arkham', 60);

CREATE TABLE IF NOT EXISTS crawl_tasks (
    id          TEXT PRIMARY KEY,
    source_id   INTEGER NOT NULL REFERENCES crawl_sources(id),
    status      TEXT    NOT NULL DEFAULT 'pending',
    started_at  INTEGER NOT NULL,
    ended_at    INTEGER,
    error_log   TEXT,
    items_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS crawled_data (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id   INTEGER REFERENCES crawl_sources(id),
    task_id     TEXT REFERENCES crawl_tasks(id),
    data_type   TEXT NOT NULL,
    date        INTEGER NOT NULL,
    value       REAL NOT NULL,
    raw_content TEXT,
    created_at  INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);
CREATE INDEX IF NOT EXISTS ix_crawled_data_type ON crawled_data (data_type);
CREATE INDEX IF NOT EXISTS ix_crawled_data_date ON crawled_data (date);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    taken_at        INTEGER NOT NULL,
    total_value_usd REAL NOT NULL,
    detail_json     TEXT
);
`
