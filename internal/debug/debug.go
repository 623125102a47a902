package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	enabled     = os.Getenv("PMX_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	logMutex    sync.Mutex
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

func Printf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Printf(format, args...)
	}
}

// PrintNormal prints output unless quiet mode is enabled.
// Use this for normal informational output that should be suppressed in quiet mode
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Printf(format, args...)
	}
}

// PrintlnNormal prints a line unless quiet mode is enabled
func PrintlnNormal(args ...interface{}) {
	if !quietMode {
		fmt.Println(args...)
	}
}

// LogEvent writes a coordination event to .planmux/events.log
// Format: TIMESTAMP|EVENT_CODE|TASK_REF|AGENT_ID|DETAILS
// Event codes: CLAIM_WON, CLAIM_LOST, CLAIM_RELEASED, GATE_FAIL,
// TASK_DONE, PLAN_DONE, ORPHAN_RECOVERED.
func LogEvent(eventCode, taskRef, details string) {
	LogEventWithAgent(eventCode, taskRef, "", details)
}

// LogEventWithAgent writes an event with an explicit agent identity.
func LogEventWithAgent(eventCode, taskRef, agentID, details string) {
	projectRoot, err := findProjectRoot()
	if err != nil {
		// Silent fail if not in a project
		return
	}

	logPath := filepath.Join(projectRoot, ".planmux", "events.log")

	if taskRef == "" {
		taskRef = "none"
	}
	if agentID == "" {
		agentID = os.Getenv("PMX_AGENT_ID")
		if agentID == "" {
			agentID = os.Getenv("USER")
			if agentID == "" {
				agentID = "unknown"
			}
		}
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	entry := fmt.Sprintf("%s|%s|%s|%s|%s\n",
		timestamp, eventCode, taskRef, agentID, details)

	// Thread-safe write
	logMutex.Lock()
	defer logMutex.Unlock()

	os.MkdirAll(filepath.Dir(logPath), 0755)

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		// Silent fail - don't interrupt operations if logging fails
		return
	}
	defer file.Close()

	file.WriteString(entry)
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		markerDir := filepath.Join(dir, ".planmux")
		if info, err := os.Stat(markerDir); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a planmux workspace")
		}
		dir = parent
	}
}
