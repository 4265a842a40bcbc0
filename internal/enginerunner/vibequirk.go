package enginerunner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// VibeSessionQuirk recovers the session id for the Mistral Vibe engine,
// which does not emit session_id inline on its streaming JSON.
// On process exit it scans <VibeHome>/logs/session/session_*.json for
// files with mtime >= the invocation's start time, sorts them newest
// first, and reads metadata.session_id from the most recent one.
type VibeSessionQuirk struct {
	VibeHome string
}

type vibeSessionFile struct {
	Metadata struct {
		SessionID string `json:"session_id"`
	} `json:"metadata"`
}

// RecoverSessionID implements Quirk.
func (q *VibeSessionQuirk) RecoverSessionID(startTime time.Time) (string, error) {
	dir := filepath.Join(q.VibeHome, "logs", "session")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "session_") || filepath.Ext(name) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(startTime) {
			continue
		}
		candidates = append(candidates, candidate{path: filepath.Join(dir, name), modTime: info.ModTime()})
	}
	if len(candidates) == 0 {
		return "", nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.After(candidates[j].modTime)
	})

	data, err := os.ReadFile(candidates[0].path)
	if err != nil {
		return "", err
	}
	var file vibeSessionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return "", err
	}
	return file.Metadata.SessionID, nil
}
