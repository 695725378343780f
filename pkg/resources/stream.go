package resources

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/sttts/kconsole/internal/lifecycle"
)

// maxFrameSize bounds a single watch message.
const maxFrameSize = 16 << 20

// ErrStreamEnded is reported when the server closes a watch stream.
var ErrStreamEnded = errors.New("watch stream ended")

// streamWatcher turns a newline-delimited JSON body into a Watcher. Each line
// is forwarded as one raw message; decoding happens in the consumer so that a
// malformed frame does not break the stream.
type streamWatcher struct {
	body   io.ReadCloser
	result chan Message
	log    logr.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newStreamWatcher(body io.ReadCloser, log logr.Logger) *streamWatcher {
	sw := &streamWatcher{
		body: body,
		// Unbuffered: the consumer controls the pace and nothing is read
		// ahead of it.
		result: make(chan Message),
		log:    log,
		stopCh: make(chan struct{}),
	}
	go sw.receive()
	return sw
}

func (sw *streamWatcher) ResultChan() <-chan Message { return sw.result }

// Stop closes the body exactly once, which unblocks the reader.
func (sw *streamWatcher) Stop() {
	sw.stopOnce.Do(func() {
		close(sw.stopCh)
		sw.body.Close()
	})
}

func (sw *streamWatcher) stopping() bool {
	select {
	case <-sw.stopCh:
		return true
	default:
		return false
	}
}

func (sw *streamWatcher) receive() {
	defer lifecycle.HandleCrash(sw.log)
	defer close(sw.result)
	defer sw.Stop()

	scanner := bufio.NewScanner(sw.body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxFrameSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		if !sw.forward(Message{Data: frame}) {
			return
		}
	}
	if sw.stopping() {
		return
	}
	err := scanner.Err()
	switch {
	case err == nil:
		err = ErrStreamEnded
	case isProbableEOF(err):
		sw.log.V(2).Info("Watch connection closed", "error", err.Error())
		err = fmt.Errorf("%w: %v", ErrStreamEnded, err)
	default:
		sw.log.Info("Unable to read from the watch stream", "error", err.Error())
		err = fmt.Errorf("read watch stream: %w", err)
	}
	sw.forward(Message{Err: err})
}

func (sw *streamWatcher) forward(m Message) bool {
	select {
	case <-sw.stopCh:
		return false
	case sw.result <- m:
		return true
	}
}

// isProbableEOF reports errors that indicate the connection went away rather
// than a protocol problem.
func isProbableEOF(err error) bool {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case strings.Contains(msg, "connection reset by peer"):
		return true
	case strings.Contains(msg, "use of closed network connection"):
		return true
	case strings.Contains(msg, "broken connection"):
		return true
	}
	return false
}
