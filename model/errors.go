package model

import (
	"fmt"
	"time"
)

// FetchError is returned when the remote voyage API failed and no memoized
// voyage was available to serve instead.
type FetchError struct {
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch voyage: %v", e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// PersistenceError wraps a durable store failure.
type PersistenceError struct {
	Op  string // put, get, clear, encode, metadata
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s cache entry %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// StaleDataWarning signals a degraded success: previously known data was
// served because the remote call failed.
type StaleDataWarning struct {
	Source string // memo or durable
	Age    time.Duration
	Cause  error
}

func (w *StaleDataWarning) Error() string {
	return fmt.Sprintf("serving %s voyage data %s old: %v", w.Source, w.Age.Round(time.Second), w.Cause)
}

func (w *StaleDataWarning) Unwrap() error {
	return w.Cause
}
