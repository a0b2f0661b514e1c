package db

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  display_name TEXT NOT NULL DEFAULT '',
  id_number TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
  id TEXT PRIMARY KEY,
  cert_type TEXT NOT NULL,
  module_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  prompt TEXT NOT NULL DEFAULT '',
  points REAL NOT NULL,
  time_limit_sec INTEGER NOT NULL DEFAULT 0,
  correct_option TEXT NOT NULL DEFAULT '',
  published INTEGER NOT NULL DEFAULT 0,
  published_at INTEGER,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_questions_module ON questions (cert_type, module_id, published);

CREATE TABLE IF NOT EXISTS submissions (
  id TEXT PRIMARY KEY,
  exam_id TEXT NOT NULL,
  cert_type TEXT NOT NULL,
  module_id TEXT NOT NULL,
  candidate_id TEXT NOT NULL,
  status TEXT NOT NULL,
  answers_json TEXT NOT NULL DEFAULT '{}',
  grades_json TEXT NOT NULL DEFAULT '{}',
  examiner_id TEXT NOT NULL DEFAULT '',
  examiner_notes TEXT NOT NULL DEFAULT '',
  provisional_score REAL NOT NULL DEFAULT 0,
  final_score REAL,
  total_score REAL NOT NULL DEFAULT 0,
  started_at INTEGER NOT NULL,
  submitted_at INTEGER,
  graded_at INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_submissions_exam_candidate ON submissions (exam_id, candidate_id);
CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions (status, cert_type);

CREATE TABLE IF NOT EXISTS module_progress (
  candidate_id TEXT NOT NULL,
  cert_type TEXT NOT NULL,
  module_id TEXT NOT NULL,
  status TEXT NOT NULL,
  unlocked_at INTEGER,
  started_at INTEGER,
  completed_at INTEGER,
  score REAL NOT NULL DEFAULT 0,
  max_score REAL NOT NULL DEFAULT 0,
  submission_id TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (candidate_id, cert_type, module_id)
);

CREATE TABLE IF NOT EXISTS certificate_artifacts (
  candidate_id TEXT NOT NULL,
  cert_type TEXT NOT NULL,
  name TEXT NOT NULL,
  blob_key TEXT NOT NULL,
  average20 REAL NOT NULL,
  issued_at INTEGER NOT NULL,
  PRIMARY KEY (candidate_id, cert_type)
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  display_name TEXT NOT NULL DEFAULT '',
  id_number TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
  id TEXT PRIMARY KEY,
  cert_type TEXT NOT NULL,
  module_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  prompt TEXT NOT NULL DEFAULT '',
  points DOUBLE PRECISION NOT NULL,
  time_limit_sec INTEGER NOT NULL DEFAULT 0,
  correct_option TEXT NOT NULL DEFAULT '',
  published BOOLEAN NOT NULL DEFAULT FALSE,
  published_at BIGINT,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_questions_module ON questions (cert_type, module_id, published);

CREATE TABLE IF NOT EXISTS submissions (
  id TEXT PRIMARY KEY,
  exam_id TEXT NOT NULL,
  cert_type TEXT NOT NULL,
  module_id TEXT NOT NULL,
  candidate_id TEXT NOT NULL,
  status TEXT NOT NULL,
  answers_json TEXT NOT NULL DEFAULT '{}',
  grades_json TEXT NOT NULL DEFAULT '{}',
  examiner_id TEXT NOT NULL DEFAULT '',
  examiner_notes TEXT NOT NULL DEFAULT '',
  provisional_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  final_score DOUBLE PRECISION,
  total_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  started_at BIGINT NOT NULL,
  submitted_at BIGINT,
  graded_at BIGINT
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_submissions_exam_candidate ON submissions (exam_id, candidate_id);
CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions (status, cert_type);

CREATE TABLE IF NOT EXISTS module_progress (
  candidate_id TEXT NOT NULL,
  cert_type TEXT NOT NULL,
  module_id TEXT NOT NULL,
  status TEXT NOT NULL,
  unlocked_at BIGINT,
  started_at BIGINT,
  completed_at BIGINT,
  score DOUBLE PRECISION NOT NULL DEFAULT 0,
  max_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  submission_id TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (candidate_id, cert_type, module_id)
);

CREATE TABLE IF NOT EXISTS certificate_artifacts (
  candidate_id TEXT NOT NULL,
  cert_type TEXT NOT NULL,
  name TEXT NOT NULL,
  blob_key TEXT NOT NULL,
  average20 DOUBLE PRECISION NOT NULL,
  issued_at BIGINT NOT NULL,
  PRIMARY KEY (candidate_id, cert_type)
);
`
