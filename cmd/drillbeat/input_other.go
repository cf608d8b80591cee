//go:build !linux

package main

import "os"

func startInputReaders(files []*os.File, events chan<- inputEvent, readErr chan<- error, done <-chan struct{}) {
	for _, f := range files {
		go readInputEvents(f, events, readErr, done)
	}
}
