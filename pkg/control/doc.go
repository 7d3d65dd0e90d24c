/*
Package control implements the pause/resume/stop protocol for running tasks.

Each task gets a Handle. Stop is a one-shot latch backed by a closed
channel: once fired it cannot be cleared, and it overrides a pause in
progress. Pause closes a gate that WaitIfPaused blocks on; Resume reopens
it by closing the replaced resume channel. Workers call CheckStop between
steps and WaitIfPaused at their safe points, so a paused task produces no
progress updates until resumed.

CheckpointStore persists resume checkpoints as JSON files under the data
directory and garbage-collects them by age.
*/
package control
