package utils

import (
	"sync"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
)

var (
	hwidOnce sync.Once
	hwid     string
)

// HWID returns an app specific machine id. Falls back to a random id per process.
func HWID() string {
	hwidOnce.Do(func() {
		id, err := machineid.ProtectedID("tunesync")
		if err != nil || id == "" {
			id = uuid.NewString()
		}
		hwid = id
	})
	return hwid
}
