package sandbox

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

const logRule = "================================================="

// FailureEntry describes one failed execution attempt.
type FailureEntry struct {
	CodeFile    string
	TestFile    string
	Attempt     int
	Output      string
	Suggestions string
}

// FailureLog appends execution failures to a plain-text file.
// A nil FailureLog or one with an empty path discards everything.
type FailureLog struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFailureLog creates a log appending to path.
func NewFailureLog(path string) *FailureLog {
	return &FailureLog{path: path, now: time.Now}
}

// Path returns the log file path.
func (l *FailureLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Record appends a failure entry. Only report lines mentioning a failure or
// an error are kept.
func (l *FailureLog) Record(e FailureEntry) error {
	if !l.enabled() {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\nTIMESTAMP: %s\nCODE FILE: %s\nTEST FILE: %s\nATTEMPT: %d\nFAILURES:\n%s\n",
		logRule, l.timestamp(), e.CodeFile, e.TestFile, e.Attempt, FailureLines(e.Output))
	if e.Suggestions != "" {
		fmt.Fprintf(&b, "\nSUGGESTIONS:\n%s\n", e.Suggestions)
	}
	b.WriteString(logRule + "\n")
	return l.append(b.String())
}

// RecordSuccess notes a pass that followed earlier failures.
func (l *FailureLog) RecordSuccess(codeFile, testFile string, attempts int) error {
	if !l.enabled() {
		return nil
	}
	return l.append(fmt.Sprintf("\nTIMESTAMP: %s\nSUCCESS after %d attempts for %s with %s\n\n",
		l.timestamp(), attempts, codeFile, testFile))
}

func (l *FailureLog) enabled() bool {
	return l != nil && l.path != ""
}

func (l *FailureLog) timestamp() string {
	now := l.now
	if now == nil {
		now = time.Now
	}
	return now().Format("2006-01-02 15:04:05")
}

func (l *FailureLog) append(s string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open failure log: %w", err)
	}
	if _, err := f.WriteString(s); err != nil {
		f.Close()
		return fmt.Errorf("write failure log: %w", err)
	}
	return f.Close()
}

// FailureLines returns the lines of output that mention a failure or error.
func FailureLines(output string) string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(line, "FAIL") || strings.Contains(lower, "failed") || strings.Contains(lower, "error") {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return "Tests failed but no specific failure message found"
	}
	return strings.Join(lines, "\n")
}
