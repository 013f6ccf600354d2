// Package task defines the closed set of background task kinds, their
// payloads and results, and the task lifecycle.
//
// Every payload and result implements Clone so values can cross the
// boundary between the pool coordinator and a worker without sharing
// memory.
package task
