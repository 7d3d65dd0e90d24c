/*
Package statemachine mediates every mutation of a task record.

A Machine owns one task. Initialize writes the PENDING record and seeds
history with the initial snapshot; Update serializes each mutation under
the machine lock, appends the pre-mutation snapshot to history, merges the
partial update (shallow, progress field-wise), stamps a monotonic
updated_at, and persists the result. After N successful updates the history
holds N+1 entries and its last entry is the state captured immediately
before the last mutation.

Status transitions are constrained to
PENDING -> RUNNING -> {PAUSED <-> RUNNING}* -> {COMPLETED|FAILED|STOPPED}.
Mutations against a terminal task are rejected and logged as invariant
violations; the terminal record stays untouched.

Store failures never fail a mutation: they are logged and the in-memory
record remains authoritative for the process lifetime.
*/
package statemachine
