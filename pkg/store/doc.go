/*
Package store provides durable key-value persistence for task state.

Each task has two records: a current-state JSON document overwritten on
every mutation, and an append-only history list of pre-mutation snapshots.
Two backends implement the Store interface:

  - RedisStore: remote key-value service. Current state lives at
    task:current:{task_id}; history at task:history:{task_id} as a list
    with push-right semantics.
  - FileStore: local filesystem. Current state at
    {data_dir}/task_states/{task_id}_current.json; history as a JSON array
    at {task_id}_history.json. Per-task locks serialize the
    read-modify-write of the history file; replaces are atomic via rename.

Open resolves the configured backend and falls back from redis to local
files when the connection fails; the fallback is logged and reflected in
component health. Writes are best-effort durable: a failed write is the
caller's to log, and the in-memory copy stays authoritative for the
process lifetime.
*/
package store
