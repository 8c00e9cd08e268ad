package auth

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const kimiDeviceIDFile = "~/.kimi/device_id"

var (
	deviceIDOnce sync.Once
	deviceID     string
)

// requestHeaders returns the transport headers a provider expects on token
// endpoint calls. Kimi's endpoint additionally identifies the device the
// same way its CLI does.
func (p *Provider) requestHeaders() map[string]string {
	h := make(map[string]string)
	if p.UserAgent != "" {
		h["User-Agent"] = p.UserAgent
	}
	if p.DeviceHeaders {
		h["X-Msh-Device-Id"] = loadDeviceID()
		h["X-Msh-Device-Name"] = asciiClean(hostname())
		h["X-Msh-Platform"] = runtime.GOOS + "-" + runtime.GOARCH
	}
	return h
}

// loadDeviceID reads the device id the Kimi CLI provisioned, minting and
// persisting one when the file does not exist yet. The result is cached for
// the process lifetime.
func loadDeviceID() string {
	deviceIDOnce.Do(func() {
		path := expandHome(kimiDeviceIDFile)
		if data, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				deviceID = id
				return
			}
		}
		deviceID = uuid.NewString()
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err == nil {
			if err := os.WriteFile(path, []byte(deviceID), 0o600); err != nil {
				log.Debugf("could not persist device id: %v", err)
			}
		}
	})
	return deviceID
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown"
	}
	return name
}

// asciiClean drops characters that are not printable ASCII so the value is
// always safe in an HTTP header.
func asciiClean(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 0x20 && r < 0x7f {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
