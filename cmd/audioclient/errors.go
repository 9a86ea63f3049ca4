package main

import "errors"

var (
	errNotWAV   = errors.New("not a RIFF/WAVE file")
	errNotPCM16 = errors.New("only 16-bit PCM is supported")
)
