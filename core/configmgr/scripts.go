package configmgr

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cordum/edgeconf/core/configmgr/schema"
	"github.com/cordum/edgeconf/core/infra/logging"
)

const scriptExt = ".py"

// Script items are stored hex encoded. Uploaded files live in the scripts
// directory as <category>_<item>_<stamp>.py, lower cased.

func encodeScript(src string) string {
	return hex.EncodeToString([]byte(src))
}

func decodeScript(stored string) string {
	raw, err := hex.DecodeString(stored)
	if err != nil {
		return stored
	}
	return string(raw)
}

// encodeScripts hex encodes the value of every script item in place.
func encodeScripts(items schema.Items) {
	for name, item := range items {
		if item.Type == schema.TypeScript {
			item.Value = encodeScript(item.Value)
			items[name] = item
		}
	}
}

func scriptPrefix(category, item string) string {
	return strings.ToLower(category) + "_" + strings.ToLower(item) + "_"
}

func (m *Manager) scriptView(category, itemName string, item schema.Item) schema.Item {
	item.Value = decodeScript(item.Value)
	if file := m.latestScript(category, itemName); file != "" {
		item.File = file
	}
	return item
}

// latestScript returns the most recently modified script file of the item.
// The scripts directory is created when missing.
func (m *Manager) latestScript(category, item string) string {
	if m.scriptsDir == "" {
		return ""
	}
	if err := os.MkdirAll(m.scriptsDir, 0o755); err != nil {
		logging.Warn(component, "scripts dir unavailable", "dir", m.scriptsDir, "error", err)
		return ""
	}
	entries, err := os.ReadDir(m.scriptsDir)
	if err != nil {
		return ""
	}
	prefix := scriptPrefix(category, item)
	var newest string
	var newestAt time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), scriptExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestAt) {
			newest, newestAt = filepath.Join(m.scriptsDir, e.Name()), info.ModTime()
		}
	}
	return newest
}

// storeScript copies src into the scripts directory unless it already
// lives there, and returns the stored path.
func (m *Manager) storeScript(category, item, src string) (string, error) {
	if m.scriptsDir == "" {
		return "", fmt.Errorf("no scripts directory configured")
	}
	if err := os.MkdirAll(m.scriptsDir, 0o755); err != nil {
		return "", fmt.Errorf("create scripts dir: %w", err)
	}
	if filepath.Dir(filepath.Clean(src)) == filepath.Clean(m.scriptsDir) {
		return src, nil
	}
	dst := filepath.Join(m.scriptsDir, fmt.Sprintf("%s%d%s", scriptPrefix(category, item), time.Now().UnixNano(), scriptExt))
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open script: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create script: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("copy script: %w", err)
	}
	return dst, out.Close()
}

// removeScripts deletes every stored file of the given script items.
func (m *Manager) removeScripts(category string, items []string) {
	if m.scriptsDir == "" || len(items) == 0 {
		return
	}
	entries, err := os.ReadDir(m.scriptsDir)
	if err != nil {
		return
	}
	for _, item := range items {
		prefix := scriptPrefix(category, item)
		for _, e := range entries {
			if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), scriptExt) {
				continue
			}
			path := filepath.Join(m.scriptsDir, e.Name())
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logging.Warn(component, "remove script failed", "path", path, "error", err)
			}
		}
	}
}
