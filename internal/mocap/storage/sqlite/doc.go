// Package sqlite persists calibration results so a session's offsets and
// functional axes can be reloaded instead of recaptured.
package sqlite
