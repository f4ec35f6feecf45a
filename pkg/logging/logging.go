package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	instanceID     string
	instanceIDOnce sync.Once

	debugEnabled atomic.Bool

	// Async logging channel and worker
	logChan   chan string
	logWorker sync.Once
	logWg     sync.WaitGroup
	logMu     sync.Mutex
)

// initLogWorker starts the async log worker goroutine
func initLogWorker() {
	logMu.Lock()
	defer logMu.Unlock()

	logWorker.Do(func() {
		// Buffer size: 1000 messages
		logChan = make(chan string, 1000)

		logWg.Add(1)
		go func(ch chan string) {
			defer logWg.Done()
			for msg := range ch {
				log.Print(msg)
			}
		}(logChan)
	})
}

// GetInstanceID returns the identifier printed in front of every line
func GetInstanceID() string {
	instanceIDOnce.Do(func() {
		// INSTANCE_ID allows a fixed id, then HOSTNAME, then a short hostname suffix
		instanceID = os.Getenv("INSTANCE_ID")
		if instanceID == "" {
			instanceID = os.Getenv("HOSTNAME")
		}
		if instanceID == "" {
			hostname, _ := os.Hostname()
			if hostname != "" {
				if len(hostname) > 8 {
					instanceID = hostname[len(hostname)-8:]
				} else {
					instanceID = hostname
				}
			} else {
				instanceID = "unknown"
			}
		}
	})
	return instanceID
}

// SetLevel sets the minimum level. Only "debug" changes behavior: it enables Debugf.
func SetLevel(level string) {
	debugEnabled.Store(strings.EqualFold(strings.TrimSpace(level), "debug"))
}

// DebugEnabled reports whether Debugf output is emitted
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// SetOutput redirects log output, e.g. into the terminal UI log pane.
// Pending messages are written to the previous output first.
func SetOutput(w io.Writer) {
	Flush()
	log.SetOutput(w)
}

func emit(msg string) {
	initLogWorker()
	logMsg := fmt.Sprintf("[instance=%s] %s", GetInstanceID(), msg)

	logMu.Lock()
	defer logMu.Unlock()
	// Non-blocking send: if channel is full, fall back to sync logging
	select {
	case logChan <- logMsg:
	default:
		log.Print(logMsg)
	}
}

// Logf logs a formatted message with instance prefix (async, non-blocking)
func Logf(format string, v ...interface{}) {
	emit(fmt.Sprintf(format, v...))
}

// Log logs a message with instance prefix (async, non-blocking)
func Log(v ...interface{}) {
	emit(fmt.Sprint(v...))
}

// Debugf logs only when the level is debug
func Debugf(format string, v ...interface{}) {
	if !debugEnabled.Load() {
		return
	}
	emit("[debug] " + fmt.Sprintf(format, v...))
}

// Fatalf logs a fatal error with instance prefix and exits (synchronous for fatal errors)
func Fatalf(format string, v ...interface{}) {
	Flush()
	msg := fmt.Sprintf(format, v...)
	log.Fatalf("[instance=%s] %s", GetInstanceID(), msg)
}

// Flush waits for all pending log messages to be written
func Flush() {
	logMu.Lock()
	defer logMu.Unlock()

	if logChan != nil {
		close(logChan)
		logWg.Wait()
		logChan = nil
		logWorker = sync.Once{}
	}
}
