package frame

import "github.com/gamevidea/binary/buffer"

// Shutdown initiates graceful teardown of the channel carrying it. No new
// streams may open afterwards; once in-flight messages are flushed the
// channel closes. It carries no body, only the kind byte.
type Shutdown struct{}

func (f *Shutdown) ID() ID { return IDShutdown }

// Reads a shutdown frame, which has no body.
func (f *Shutdown) Read(buf *buffer.Buffer) (err error) {
	return
}

// Writes a shutdown frame, which has no body.
func (f *Shutdown) Write(buf *buffer.Buffer) (err error) {
	return
}
