package lock

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// LockInfo is written inside the lock directory so other operators can see
// who holds it.
type LockInfo struct {
	User        string    `json:"user"`
	Hostname    string    `json:"hostname"`
	Started     time.Time `json:"started"`
	PID         int       `json:"pid"`
	Command     string    `json:"command,omitempty"`
	OperationID string    `json:"operation_id,omitempty"`
}

// NewLockInfo describes the current process running command as operation id.
func NewLockInfo(command, operationID string) *LockInfo {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}

	return &LockInfo{
		User:        user,
		Hostname:    hostname,
		Started:     time.Now().UTC(),
		PID:         os.Getpid(),
		Command:     command,
		OperationID: operationID,
	}
}

// Age returns how long ago the lock was acquired.
func (i *LockInfo) Age() time.Duration {
	return time.Since(i.Started)
}

func (i *LockInfo) Marshal() ([]byte, error) {
	return json.Marshal(i)
}

// ParseLockInfo deserializes the info file of a lock directory.
func ParseLockInfo(data []byte) (*LockInfo, error) {
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// String returns a human-readable description of who holds the lock.
func (i *LockInfo) String() string {
	s := i.User + "@" + i.Hostname + " (pid " + strconv.Itoa(i.PID)
	if i.Command != "" {
		s += ", " + i.Command
	}
	return s + ", since " + i.Started.Format(time.RFC3339) + ")"
}
