// Package bzip2x pipes a .bz2 dataset file through an external bzip2
// process rather than linking a compression library.
package bzip2x

import (
	"io"
	"log"
	"os"
	"os/exec"

	"github.com/m-lab/go/rtx"
)

// Variables to allow whitebox mocking for testing error conditions.
var (
	osPipe       = os.Pipe
	bzip2Command = "bzip2"
)

// NewReader opens filename and returns a reader streaming its decompressed
// contents through an external "bzip2 -dc" process.
//
// Callers must read the returned pipe to completion and Close it; failing
// to drain it will block the bzip2 subprocess forever.
func NewReader(filename string) (io.ReadCloser, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	pipeR, pipeW, err := osPipe()
	if err != nil {
		f.Close()
		return nil, err
	}

	cmd := exec.Command(bzip2Command, "-d", "-c")
	cmd.Stdin = f
	cmd.Stdout = pipeW

	if err := cmd.Start(); err != nil {
		f.Close()
		pipeR.Close()
		pipeW.Close()
		return nil, err
	}

	go func() {
		err := cmd.Wait()
		if err != nil {
			log.Println("bzip2 error decompressing", filename, err)
		}
		f.Close()
		pipeW.Close()
	}()

	return pipeR, nil
}

// MustNewReader is a convenience wrapper for command-line entry points,
// matching the rtx.Must fail-fast convention used throughout this codebase.
func MustNewReader(filename string) io.ReadCloser {
	r, err := NewReader(filename)
	rtx.Must(err, "could not open bzip2 stream for %q", filename)
	return r
}
