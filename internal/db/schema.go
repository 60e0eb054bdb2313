package db

const schemaSQL = `
-- ===========================================================================
-- AUDIT LOGS (one row per successful media operation or pairing)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS audit_logs (
  log_id TEXT PRIMARY KEY,
  timestamp TEXT NOT NULL,
  origin TEXT NOT NULL,
  message TEXT NOT NULL,
  request_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_logs_origin ON audit_logs(origin);
`
