package storage

import "github.com/cfc-ptrace/cfc-ptrace/internal/storedb"

const storeModule = "storage"

func migrations() []storedb.Migration {
	return []storedb.Migration{
		{
			Version: 1,
			Name:    "create_files_and_chunks",
			SQL: `
CREATE TABLE IF NOT EXISTS files (
  file_id     INTEGER PRIMARY KEY AUTOINCREMENT,
  filename    TEXT NOT NULL UNIQUE,
  file_size   INTEGER NOT NULL DEFAULT 0,
  created_at  TEXT NOT NULL,
  modified_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS file_chunks (
  file_id     INTEGER NOT NULL REFERENCES files(file_id) ON DELETE CASCADE,
  chunk_index INTEGER NOT NULL,
  chunk_data  BLOB NOT NULL,
  chunk_size  INTEGER NOT NULL,
  PRIMARY KEY (file_id, chunk_index)
);
`,
		},
	}
}
